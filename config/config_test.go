package config

import (
	"errors"
	"testing"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"KV_STORE_URL", "FETCH_INTERVAL_SECONDS", "HEARTBEAT_INTERVAL_SECONDS", "LOCK_TTL_SECONDS", "REPLICA_ID"} {
		t.Setenv(k, "")
	}
}

func TestLoad_MissingKVStoreURL(t *testing.T) {
	clearEnv(t)

	_, err := Load()
	if !errors.Is(err, ErrMissingKVStoreURL) {
		t.Fatalf("want ErrMissingKVStoreURL, got %v", err)
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("KV_STORE_URL", "redis://localhost:6379")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.FetchInterval.Seconds() != 5 {
		t.Fatalf("want default FetchInterval 5s, got %v", cfg.FetchInterval)
	}
	if cfg.HeartbeatInterval.Seconds() != 5 {
		t.Fatalf("want default HeartbeatInterval 5s, got %v", cfg.HeartbeatInterval)
	}
	if cfg.LockTTL.Seconds() != 10 {
		t.Fatalf("want default LockTTL 10s, got %v", cfg.LockTTL)
	}
	if cfg.NodeID == "" {
		t.Fatal("want a generated NodeID when REPLICA_ID is unset")
	}
}

func TestLoad_SeedsNodeIDFromReplicaID(t *testing.T) {
	clearEnv(t)
	t.Setenv("KV_STORE_URL", "redis://localhost:6379")
	t.Setenv("REPLICA_ID", "replica-7")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.NodeID != "replica-7" {
		t.Fatalf("want NodeID seeded from REPLICA_ID, got %q", cfg.NodeID)
	}
}

func TestLoad_InvalidInterval(t *testing.T) {
	clearEnv(t)
	t.Setenv("KV_STORE_URL", "redis://localhost:6379")
	t.Setenv("FETCH_INTERVAL_SECONDS", "not-a-number")

	if _, err := Load(); err == nil {
		t.Fatal("want an error for a malformed FETCH_INTERVAL_SECONDS")
	}
}
