// Package config loads the environment-variable configuration surface
// described in spec.md §6. No third-party config/env library (viper,
// envconfig, caarlos0/env) appears anywhere in the retrieval pack, so this
// one ambient concern is implemented directly on the standard library; see
// DESIGN.md.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Config is the fully-resolved configuration surface for one replica
// process.
type Config struct {
	// KVStoreURL is the shared key-value store's connection string
	// (required, no default).
	KVStoreURL string

	// FetchInterval is the dispatcher's tick period.
	FetchInterval time.Duration
	// HeartbeatInterval is the election renew period.
	HeartbeatInterval time.Duration
	// LockTTL is the leader lock's expiry.
	LockTTL time.Duration

	// NodeID seeds the election service's identity: REPLICA_ID if set,
	// otherwise a fresh random UUID.
	NodeID string
}

// ErrMissingKVStoreURL reports that the required KV_STORE_URL environment
// variable was not set.
var ErrMissingKVStoreURL = fmt.Errorf("config: KV_STORE_URL is required")

// Load reads the configuration surface from the process environment,
// applying the documented defaults from spec.md §6.
func Load() (Config, error) {
	kvURL := os.Getenv("KV_STORE_URL")
	if kvURL == "" {
		return Config{}, ErrMissingKVStoreURL
	}

	fetchInterval, err := durationSecondsEnv("FETCH_INTERVAL_SECONDS", 5)
	if err != nil {
		return Config{}, err
	}
	heartbeat, err := durationSecondsEnv("HEARTBEAT_INTERVAL_SECONDS", 5)
	if err != nil {
		return Config{}, err
	}
	lockTTL, err := durationSecondsEnv("LOCK_TTL_SECONDS", 10)
	if err != nil {
		return Config{}, err
	}

	nodeID := os.Getenv("REPLICA_ID")
	if nodeID == "" {
		nodeID = uuid.NewString()
	}

	return Config{
		KVStoreURL:        kvURL,
		FetchInterval:     fetchInterval,
		HeartbeatInterval: heartbeat,
		LockTTL:           lockTTL,
		NodeID:            nodeID,
	}, nil
}

func durationSecondsEnv(name string, defaultSeconds int) (time.Duration, error) {
	raw := os.Getenv(name)
	if raw == "" {
		return time.Duration(defaultSeconds) * time.Second, nil
	}
	secs, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("config: %s=%q is not a valid integer: %w", name, raw, err)
	}
	if secs <= 0 {
		return 0, fmt.Errorf("config: %s must be positive, got %d", name, secs)
	}
	return time.Duration(secs) * time.Second, nil
}
