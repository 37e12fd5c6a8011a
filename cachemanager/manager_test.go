package cachemanager

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/quantfeed/nexus/kvstore"
	"github.com/quantfeed/nexus/localcache"
	"github.com/quantfeed/nexus/snapshot"
)

func newTestManager() *manager {
	l1 := localcache.New[string, snapshot.Snapshot](localcache.Options[string, snapshot.Snapshot]{
		Capacity: 64,
	})
	l2 := kvstore.NewFakeGateway()
	return New(l1, l2).(*manager)
}

// P3/S5: 100 concurrent GetOrCompute calls for the same key must invoke
// compute exactly once; every caller observes the same value.
func TestGetOrCompute_SingleFlightUnderContention(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()

	var calls int64
	compute := func(ctx context.Context) (snapshot.Snapshot, error) {
		atomic.AddInt64(&calls, 1)
		time.Sleep(200 * time.Millisecond)
		return snapshot.Snapshot{"v": 1}, nil
	}

	const N = 100
	var g errgroup.Group
	for i := 0; i < N; i++ {
		g.Go(func() error {
			v, err := m.GetOrCompute(ctx, "k", RealTime, compute)
			if err != nil {
				return err
			}
			fv, ok := v["v"].(int)
			if !ok || fv != 1 {
				return fmt.Errorf("unexpected value: %+v", v)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
	if got := atomic.LoadInt64(&calls); got != 1 {
		t.Fatalf("compute must run exactly once, got %d", got)
	}
}

// P4: a failed compute must not populate L1 or L2 for that key.
func TestGetOrCompute_NoNegativeCaching(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()

	wantErr := errors.New("upstream down")
	_, err := m.GetOrCompute(ctx, "k", RealTime, func(ctx context.Context) (snapshot.Snapshot, error) {
		return nil, wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("want wrapped upstream error, got %v", err)
	}

	if _, ok, _ := m.Get(ctx, "k"); ok {
		t.Fatal("failed compute must not be cached")
	}

	// A second attempt with a succeeding compute must still run (not
	// poisoned by the previous failure).
	v, err := m.GetOrCompute(ctx, "k", RealTime, func(ctx context.Context) (snapshot.Snapshot, error) {
		return snapshot.Snapshot{"v": 2}, nil
	})
	if err != nil {
		t.Fatalf("second compute must succeed: %v", err)
	}
	if v["v"] != 2 {
		t.Fatalf("unexpected value after recovery: %+v", v)
	}
}

// P5: after an L2 hit promotes into L1, a subsequent Get within the L1 TTL
// must not touch the store again.
func TestGet_PromotionFromL2(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()

	if err := m.SetWithStrategy(ctx, "latest_market_data", snapshot.Snapshot{"btc_price_usd": 1.0}, ShortTerm, 0); err != nil {
		t.Fatal(err)
	}

	// Simulate an L1 eviction so the next Get must come from L2.
	m.l1.Remove("latest_market_data")

	v, ok, err := m.Get(ctx, "latest_market_data")
	if err != nil || !ok {
		t.Fatalf("expected L2 hit, ok=%v err=%v", ok, err)
	}
	if v["btc_price_usd"] != 1.0 {
		t.Fatalf("unexpected value: %+v", v)
	}

	// Now make the store unreachable; if promotion worked, L1 still serves.
	fg := m.l2.(*kvstore.FakeGateway)
	fg.Unreachable = true

	v2, ok2, err2 := m.Get(ctx, "latest_market_data")
	if err2 != nil || !ok2 {
		t.Fatalf("expected L1 hit after promotion despite store outage, ok=%v err=%v", ok2, err2)
	}
	if v2["btc_price_usd"] != 1.0 {
		t.Fatalf("unexpected promoted value: %+v", v2)
	}
}

// P6: after a direct SetWithStrategy write (modeling FetchNormalized's
// forceRefresh path), a subsequent Get within the TTL returns that value.
func TestSetWithStrategy_ThenGet_ReturnsWrittenValue(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()

	want := snapshot.Snapshot{"btc_price_usd": 2.0}
	if err := m.SetWithStrategy(ctx, "latest_market_data", want, RealTime, 0); err != nil {
		t.Fatal(err)
	}

	got, ok, err := m.Get(ctx, "latest_market_data")
	if err != nil || !ok {
		t.Fatalf("expected hit, ok=%v err=%v", ok, err)
	}
	if got["btc_price_usd"] != 2.0 {
		t.Fatalf("unexpected value: %+v", got)
	}
}

// Invalidate removes the key from both tiers.
func TestInvalidate_RemovesFromBothTiers(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()

	if err := m.SetWithStrategy(ctx, "k", snapshot.Snapshot{"a": 1}, ShortTerm, 0); err != nil {
		t.Fatal(err)
	}
	if err := m.Invalidate(ctx, "k"); err != nil {
		t.Fatal(err)
	}

	if _, ok := m.l1.Get("k"); ok {
		t.Fatal("L1 must not have the entry after Invalidate")
	}
	if _, ok, _ := m.l2.Get(ctx, "k"); ok {
		t.Fatal("L2 must not have the entry after Invalidate")
	}
}
