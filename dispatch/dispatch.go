// Package dispatch implements the Periodic Dispatcher (C5): a tick-driven
// loop that branches on leadership to either compute-and-publish (leader)
// or read-and-relay (follower) the shared market-data snapshot, broadcasting
// it to locally attached clients either way.
package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/quantfeed/nexus/adapter"
	"github.com/quantfeed/nexus/cachemanager"
	"github.com/quantfeed/nexus/hub"
	"go.uber.org/zap"
)

// LeaderFlag is the minimal read surface the dispatcher needs from the
// election service: a single authoritative boolean (spec.md §9).
type LeaderFlag interface {
	IsLeader() bool
}

// Metrics exposes dispatch-tick observability hooks. Optional: a Dispatcher
// with no Metrics wired behaves identically, just unobserved.
type Metrics interface {
	ObserveDispatchTick(role, outcome string)
}

type noopMetrics struct{}

func (noopMetrics) ObserveDispatchTick(string, string) {}

// CacheHitNotifier receives a timestamp each time a follower tick serves a
// snapshot from the shared cache, for healthz's "recent follower hit" grace
// window (spec.md §6).
type CacheHitNotifier interface {
	NoteFollowerCacheHit(at time.Time)
}

// defaultTimeout bounds every KV/upstream call when the caller passes a
// non-positive timeout to New.
const defaultTimeout = 5 * time.Second

// Dispatcher runs the tick loop described in spec.md §4.5.
type Dispatcher struct {
	flag    LeaderFlag
	adapter *adapter.Adapter
	cache   cachemanager.Manager
	hub     hub.Hub
	period  time.Duration
	log     *zap.Logger
	metrics Metrics
	health  CacheHitNotifier
	now     func() time.Time
	timeout time.Duration
}

// New constructs a Dispatcher. period is FetchInterval (spec.md §6 default
// 5s). timeout bounds every KV call and upstream fetch issued from a tick
// (spec.md §5: "every KV call and upstream fetch must run under a deadline
// ≤ HeartbeatInterval"); pass HeartbeatInterval, or 0 for a sensible
// default.
func New(flag LeaderFlag, ad *adapter.Adapter, cache cachemanager.Manager, h hub.Hub, period, timeout time.Duration, log *zap.Logger) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Dispatcher{flag: flag, adapter: ad, cache: cache, hub: h, period: period, log: log, metrics: noopMetrics{}, now: time.Now, timeout: timeout}
}

// SetMetrics wires an observability sink. Call before Run.
func (d *Dispatcher) SetMetrics(m Metrics) {
	if m == nil {
		m = noopMetrics{}
	}
	d.metrics = m
}

// SetHealthNotifier wires a CacheHitNotifier so follower cache hits keep
// healthz green during a shared-store outage. Optional; nil disables it.
func (d *Dispatcher) SetHealthNotifier(h CacheHitNotifier) {
	d.health = h
}

// Run drives the tick loop until ctx is cancelled. Ticks are aligned to
// the period via time.Ticker, whose own catch-up-without-pile-up semantics
// give us "a single pending tick is delivered, extra ticks are dropped"
// when one tick's work runs long (spec.md §4.5).
func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.Tick(ctx)
		}
	}
}

// Tick runs exactly one leader-or-follower iteration, independent of Run's
// ticker. Exported so tests can drive single ticks deterministically
// instead of waiting on a timer.
func (d *Dispatcher) Tick(ctx context.Context) {
	if d.flag.IsLeader() {
		d.leaderTick(ctx)
		return
	}
	d.followerTick(ctx)
}

func (d *Dispatcher) leaderTick(ctx context.Context) {
	cctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	snap, err := d.adapter.FetchNormalized(cctx, true)
	if err != nil {
		// Do not broadcast stale data as leader (spec.md §4.5 step 2); log
		// and skip this tick's broadcast.
		if errors.Is(err, adapter.ErrNotConfigured) {
			d.log.Error("dispatch: leader tick has no upstream fetcher configured", zap.Error(err))
		} else {
			d.log.Warn("dispatch: leader tick failed", zap.Error(err))
		}
		d.metrics.ObserveDispatchTick("leader", "error")
		return
	}
	d.hub.Broadcast(snap)
	d.metrics.ObserveDispatchTick("leader", "broadcast")
}

func (d *Dispatcher) followerTick(ctx context.Context) {
	cctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	snap, ok, err := d.cache.Get(cctx, adapter.MarketDataKey)
	if err != nil {
		d.log.Warn("dispatch: follower cache read failed", zap.Error(err))
		d.metrics.ObserveDispatchTick("follower", "error")
		return
	}
	if !ok {
		// No leader has published yet; wait for the next tick (spec.md
		// §4.5 step 3).
		d.metrics.ObserveDispatchTick("follower", "skipped")
		return
	}
	if d.health != nil {
		d.health.NoteFollowerCacheHit(d.now())
	}
	d.hub.Broadcast(snap)
	d.metrics.ObserveDispatchTick("follower", "broadcast")
}
