package kvstore

import (
	"context"
	"testing"
	"time"
)

// TestFakeGateway_CompareAndSwap exercises the compare-and-swap contract that
// election relies on: renew/delete only succeed when the caller still holds
// the value it last wrote, and a lost race is reported as ok=false, not an
// error.
func TestFakeGateway_CompareAndSwap(t *testing.T) {
	ctx := context.Background()
	g := NewFakeGateway()

	acquired, err := g.SetIfAbsent(ctx, "lock", "node-a", time.Minute)
	if err != nil || !acquired {
		t.Fatalf("first SetIfAbsent must succeed, got acquired=%v err=%v", acquired, err)
	}

	acquired, err = g.SetIfAbsent(ctx, "lock", "node-b", time.Minute)
	if err != nil || acquired {
		t.Fatalf("second SetIfAbsent must lose the race, got acquired=%v err=%v", acquired, err)
	}

	renewed, err := g.CompareAndRenew(ctx, "lock", "node-b", time.Minute)
	if err != nil || renewed {
		t.Fatalf("renew with wrong value must fail, got renewed=%v err=%v", renewed, err)
	}

	renewed, err = g.CompareAndRenew(ctx, "lock", "node-a", time.Minute)
	if err != nil || !renewed {
		t.Fatalf("renew with correct value must succeed, got renewed=%v err=%v", renewed, err)
	}

	deleted, err := g.CompareAndDelete(ctx, "lock", "node-b")
	if err != nil || deleted {
		t.Fatalf("delete with wrong value must fail, got deleted=%v err=%v", deleted, err)
	}

	deleted, err = g.CompareAndDelete(ctx, "lock", "node-a")
	if err != nil || !deleted {
		t.Fatalf("delete with correct value must succeed, got deleted=%v err=%v", deleted, err)
	}

	if _, ok, err := g.Get(ctx, "lock"); err != nil || ok {
		t.Fatalf("lock must be absent after delete, got ok=%v err=%v", ok, err)
	}
}

// TestFakeGateway_TTLExpiry confirms an absolute-TTL entry stops being
// visible to Get and is treated as absent by the compare-and-swap ops once
// its deadline passes.
func TestFakeGateway_TTLExpiry(t *testing.T) {
	ctx := context.Background()
	g := NewFakeGateway()

	now := time.Unix(0, 0)
	g.SetClock(func() time.Time { return now })

	if _, err := g.SetIfAbsent(ctx, "lock", "node-a", 10*time.Second); err != nil {
		t.Fatal(err)
	}

	now = now.Add(5 * time.Second)
	if _, ok, err := g.Get(ctx, "lock"); err != nil || !ok {
		t.Fatalf("entry must still be present before TTL, ok=%v err=%v", ok, err)
	}

	now = now.Add(10 * time.Second)
	if _, ok, err := g.Get(ctx, "lock"); err != nil || ok {
		t.Fatalf("entry must be absent after TTL, ok=%v err=%v", ok, err)
	}

	// Expired entries don't block a fresh acquisition.
	acquired, err := g.SetIfAbsent(ctx, "lock", "node-b", time.Minute)
	if err != nil || !acquired {
		t.Fatalf("expired lock must be re-acquirable, acquired=%v err=%v", acquired, err)
	}
}

// TestFakeGateway_Unreachable confirms the outage toggle surfaces
// ErrStoreUnavailable from every operation, matching how RedisGateway
// reports a transport failure.
func TestFakeGateway_Unreachable(t *testing.T) {
	ctx := context.Background()
	g := NewFakeGateway()
	g.Unreachable = true

	if _, err := g.SetIfAbsent(ctx, "k", "v", time.Minute); err != ErrStoreUnavailable {
		t.Fatalf("want ErrStoreUnavailable, got %v", err)
	}
	if _, _, err := g.Get(ctx, "k"); err != ErrStoreUnavailable {
		t.Fatalf("want ErrStoreUnavailable, got %v", err)
	}
	if _, err := g.StreamAppend(ctx, "stream", map[string]string{"a": "b"}, 10); err != ErrStoreUnavailable {
		t.Fatalf("want ErrStoreUnavailable, got %v", err)
	}
}

// TestFakeGateway_StreamAppendCaps confirms the stream is trimmed to maxLen
// and keeps the most recent entries (the replay stream must never grow
// unbounded).
func TestFakeGateway_StreamAppendCaps(t *testing.T) {
	ctx := context.Background()
	g := NewFakeGateway()

	for i := 0; i < 5; i++ {
		if _, err := g.StreamAppend(ctx, "ticks", map[string]string{"n": string(rune('a' + i))}, 3); err != nil {
			t.Fatal(err)
		}
	}

	entries := g.StreamEntries("ticks")
	if len(entries) != 3 {
		t.Fatalf("want 3 capped entries, got %d", len(entries))
	}
	if entries[len(entries)-1].Fields["n"] != "e" {
		t.Fatalf("want newest entry last, got %+v", entries)
	}
}
