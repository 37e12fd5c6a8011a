package adapter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/quantfeed/nexus/cachemanager"
	"github.com/quantfeed/nexus/kvstore"
	"github.com/quantfeed/nexus/localcache"
	"github.com/quantfeed/nexus/snapshot"
	"github.com/quantfeed/nexus/upstream"
	"github.com/quantfeed/nexus/upstream/fake"
)

func newTestAdapter(fetcher upstream.Fetcher) (*Adapter, *kvstore.FakeGateway) {
	l1 := localcache.New[string, snapshot.Snapshot](localcache.Options[string, snapshot.Snapshot]{Capacity: 64})
	store := kvstore.NewFakeGateway()
	cache := cachemanager.New(l1, store)
	return New(cache, fetcher, store, "nexus-replica", nil, 5*time.Second), store
}

// S1: on a cold cache, FetchNormalized(false) fetches upstream, writes
// through, and appends exactly one stream entry.
func TestFetchNormalized_ColdStart(t *testing.T) {
	ctx := context.Background()
	fetcher := fake.NewFixed(snapshot.Snapshot{"btc_price_usd": 50000.0, "fng_value": 60})
	a, store := newTestAdapter(fetcher)

	snap, err := a.FetchNormalized(ctx, false)
	if err != nil {
		t.Fatal(err)
	}
	if snap["btc_price_usd"] != 50000.0 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	if snap["fng_value"] != 60 {
		t.Fatalf("explicit fng_value must be preserved: %+v", snap)
	}

	entries := store.StreamEntries(StreamKey)
	if len(entries) != 1 {
		t.Fatalf("want exactly 1 stream entry, got %d", len(entries))
	}

	raw, ok, err := store.Get(ctx, MarketDataKey)
	if err != nil || !ok {
		t.Fatalf("expected latest_market_data to be populated, ok=%v err=%v", ok, err)
	}
	if raw == "" {
		t.Fatal("expected non-empty stored snapshot")
	}
}

// A second FetchNormalized(false) call is a cache hit and must not fetch
// upstream again or append another stream entry.
func TestFetchNormalized_SecondCallIsCacheHit(t *testing.T) {
	ctx := context.Background()
	fetcher := fake.NewFixed(snapshot.Snapshot{"btc_price_usd": 1.0})
	a, store := newTestAdapter(fetcher)

	if _, err := a.FetchNormalized(ctx, false); err != nil {
		t.Fatal(err)
	}
	if _, err := a.FetchNormalized(ctx, false); err != nil {
		t.Fatal(err)
	}

	if got := fetcher.Calls(); got != 1 {
		t.Fatalf("want exactly 1 upstream call, got %d", got)
	}
	if len(store.StreamEntries(StreamKey)) != 1 {
		t.Fatalf("want exactly 1 stream entry after cache-hit call, got %d", len(store.StreamEntries(StreamKey)))
	}
}

// P6: forceRefresh writes through unconditionally and bypasses the cache
// read; a subsequent plain Get must observe the fresh value.
func TestFetchNormalized_ForceRefresh(t *testing.T) {
	ctx := context.Background()
	fetcher := fake.NewFixed(snapshot.Snapshot{"btc_price_usd": 1.0})
	a, _ := newTestAdapter(fetcher)

	if _, err := a.FetchNormalized(ctx, false); err != nil {
		t.Fatal(err)
	}

	fetcher.SetResult(snapshot.Snapshot{"btc_price_usd": 2.0}, nil)
	fresh, err := a.FetchNormalized(ctx, true)
	if err != nil {
		t.Fatal(err)
	}
	if fresh["btc_price_usd"] != 2.0 {
		t.Fatalf("forceRefresh must return the fresh value: %+v", fresh)
	}

	got, ok, err := a.cache.Get(ctx, MarketDataKey)
	if err != nil || !ok {
		t.Fatalf("expected subsequent Get to hit, ok=%v err=%v", ok, err)
	}
	if got["btc_price_usd"] != 2.0 {
		t.Fatalf("subsequent Get must observe the force-refreshed value: %+v", got)
	}
}

// S6: an upstream outage surfaces the error; no cache write, no stream
// append happens.
func TestFetchNormalized_UpstreamOutage(t *testing.T) {
	ctx := context.Background()
	fetcher := fake.NewFailing(upstream.ErrUnavailable)
	a, store := newTestAdapter(fetcher)

	_, err := a.FetchNormalized(ctx, false)
	if !errors.Is(err, upstream.ErrUnavailable) {
		t.Fatalf("want ErrUnavailable, got %v", err)
	}

	if _, ok, _ := store.Get(ctx, MarketDataKey); ok {
		t.Fatal("no value must be cached on upstream failure")
	}
	if len(store.StreamEntries(StreamKey)) != 0 {
		t.Fatal("no stream entry must be appended on upstream failure")
	}
}

func TestFetchNormalized_NotConfigured(t *testing.T) {
	ctx := context.Background()
	a, _ := newTestAdapter(nil)

	_, err := a.FetchNormalized(ctx, false)
	if !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("want ErrNotConfigured, got %v", err)
	}
}
