// Package adapter implements the Market-Data Adapter (C6): the thin
// orchestrator the dispatcher and request-driven callers use to obtain a
// normalized snapshot, backed by the cache manager and an UpstreamFetcher.
package adapter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/quantfeed/nexus/cachemanager"
	"github.com/quantfeed/nexus/kvstore"
	"github.com/quantfeed/nexus/snapshot"
	"github.com/quantfeed/nexus/upstream"
	"go.uber.org/zap"
)

// MarketDataKey is the shared-store key protocol requirement (spec.md §6).
const MarketDataKey = "latest_market_data"

// StreamKey is the capped replay stream's shared-store key.
const StreamKey = "market_data_stream"

// StreamMaxLen bounds the capped stream length (spec.md §3).
const StreamMaxLen = 1000

// ErrNotConfigured reports that no Fetcher was wired in. Fatal for the
// affected operation; a follower process may still broadcast from cache
// (spec.md §7).
var ErrNotConfigured = errors.New("adapter: no upstream fetcher configured")

// ErrCacheUnavailable wraps a cache-manager failure encountered while still
// producing a fresh value. Non-fatal: the adapter returns fresh data
// despite it.
var ErrCacheUnavailable = errors.New("adapter: cache unavailable")

// defaultTimeout bounds every KV/upstream call when the caller passes a
// non-positive timeout to New.
const defaultTimeout = 5 * time.Second

// Adapter exposes FetchNormalized to the dispatcher and to request-driven
// callers (e.g. an HTTP handler that wants an on-demand refresh).
type Adapter struct {
	cache   cachemanager.Manager
	fetcher upstream.Fetcher
	store   kvstore.Gateway
	source  string
	log     *zap.Logger
	nowFunc func() time.Time
	timeout time.Duration
}

// New constructs an Adapter. fetcher may be nil: FetchNormalized then
// always returns ErrNotConfigured (the cache-only, follower-style path
// still works via CacheManager.Get directly, which callers can use
// without going through Adapter at all). timeout bounds every individual
// KV/upstream call issued from this Adapter (spec.md §5: "every KV call
// and upstream fetch must run under a deadline ≤ HeartbeatInterval");
// pass HeartbeatInterval, or 0 for a sensible default.
func New(cache cachemanager.Manager, fetcher upstream.Fetcher, store kvstore.Gateway, source string, log *zap.Logger, timeout time.Duration) *Adapter {
	if log == nil {
		log = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Adapter{cache: cache, fetcher: fetcher, store: store, source: source, log: log, nowFunc: time.Now, timeout: timeout}
}

// FetchNormalized implements spec.md §4.6. forceRefresh=false goes through
// CacheManager.GetOrCompute (single-flight coalesced); forceRefresh=true
// bypasses L1/L2 reads and single-flight entirely, fetching directly and
// writing the result back (spec.md's accepted Open Question resolution:
// this does not cancel a concurrent in-flight GetOrCompute for the same
// key — the later write simply wins).
func (a *Adapter) FetchNormalized(ctx context.Context, forceRefresh bool) (snapshot.Snapshot, error) {
	if a.fetcher == nil {
		return nil, ErrNotConfigured
	}

	if forceRefresh {
		return a.fetchFresh(ctx)
	}

	cctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	snap, err := a.cache.GetOrCompute(cctx, MarketDataKey, cachemanager.RealTime, a.compute)
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// compute is the GetOrCompute leader-path closure: fetch upstream, and on
// success append to the capped stream (best-effort, never propagated).
func (a *Adapter) compute(ctx context.Context) (snapshot.Snapshot, error) {
	fctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	raw, err := a.fetcher.Fetch(fctx)
	if err != nil {
		return nil, err
	}
	snap := snapshot.Normalize(raw, a.source, a.nowFunc())
	a.appendToStream(ctx, snap)
	return snap, nil
}

// fetchFresh implements the forceRefresh=true path.
func (a *Adapter) fetchFresh(ctx context.Context) (snapshot.Snapshot, error) {
	fctx, cancel := context.WithTimeout(ctx, a.timeout)
	raw, err := a.fetcher.Fetch(fctx)
	cancel()
	if err != nil {
		return nil, err
	}
	snap := snapshot.Normalize(raw, a.source, a.nowFunc())

	sctx, cancel := context.WithTimeout(ctx, a.timeout)
	err = a.cache.SetWithStrategy(sctx, MarketDataKey, snap, cachemanager.RealTime, 0)
	cancel()
	if err != nil {
		a.log.Warn("adapter: cache write failed on force refresh", zap.Error(errors.Join(ErrCacheUnavailable, err)))
	}
	a.appendToStream(ctx, snap)
	return snap, nil
}

// appendToStream flattens every field of snap into the capped stream.
// Stream-append failures are logged, never returned (spec.md §4.6, §7).
func (a *Adapter) appendToStream(ctx context.Context, snap snapshot.Snapshot) {
	if a.store == nil {
		return
	}
	fields := flatten(snap)
	fields["stream_timestamp"] = a.nowFunc().UTC().Format(time.RFC3339)

	cctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	if _, err := a.store.StreamAppend(cctx, StreamKey, fields, StreamMaxLen); err != nil {
		a.log.Warn("adapter: stream append failed", zap.Error(err))
	}
}

// flatten renders a Snapshot's values as strings for the capped stream's
// flattened field-map representation (spec.md §6: "each entry a flattened
// key/value list").
func flatten(snap snapshot.Snapshot) map[string]string {
	out := make(map[string]string, len(snap))
	for k, v := range snap {
		out[k] = stringifyField(v)
	}
	return out
}

func stringifyField(v any) string {
	if v == nil {
		return ""
	}
	return fmt.Sprintf("%v", v)
}
