// Package election implements the leader-election state machine: a
// long-lived loop that acquires, renews, and releases a named lock record
// in a shared kvstore.Gateway, and exposes a process-wide "am I leader"
// flag to the dispatcher.
package election

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/quantfeed/nexus/kvstore"
	"go.uber.org/zap"
)

// State names the node's position in the Initializing → Follower → Leader
// → Released state machine (spec.md §4.4).
type State int

const (
	Initializing State = iota
	Follower
	Leader
	Released
)

func (s State) String() string {
	switch s {
	case Initializing:
		return "initializing"
	case Follower:
		return "follower"
	case Leader:
		return "leader"
	case Released:
		return "released"
	default:
		return "unknown"
	}
}

// ErrRenewRejected reports that CompareAndRenew observed a lock value
// different from this node's, or the lock had already expired out from
// under it.
var ErrRenewRejected = errors.New("election: renew rejected, ownership lost")

// ErrOwnershipMismatch reports that a read of the lock record returned a
// value other than this node's NodeID while this node believed itself
// leader.
var ErrOwnershipMismatch = errors.New("election: observed owner mismatch")

// maxConsecutiveRenewFailures bounds how many consecutive StoreUnavailable
// renew attempts are tolerated before demoting to Follower. Demotion happens
// on the third failed renew tick, i.e. 3×HeartbeatInterval after the last
// successful renew; with the defaults (5s heartbeat, 10s LockTTL) that is
// 15s, so the lock record can expire before this node demotes itself.
const maxConsecutiveRenewFailures = 3

// LockKey is the shared KV store key protocol requirement (spec.md §6).
const LockKey = "websocket:leader"

// Metrics exposes election-state observability hooks. Optional: an Elector
// with no Metrics wired behaves identically, just unobserved.
type Metrics interface {
	SetLeaderState(isLeader bool)
	ObserveRenewal(outcome string)
}

type noopMetrics struct{}

func (noopMetrics) SetLeaderState(bool)   {}
func (noopMetrics) ObserveRenewal(string) {}

// Params configures the election loop's timing. Callers must ensure
// LockTTL >= 2*HeartbeatInterval (spec.md §4.4 invariant).
type Params struct {
	HeartbeatInterval time.Duration
	LockTTL           time.Duration
	AcquireRetry      time.Duration
}

// DefaultParams matches spec.md §6's configuration defaults.
func DefaultParams() Params {
	return Params{
		HeartbeatInterval: 5 * time.Second,
		LockTTL:           10 * time.Second,
		AcquireRetry:      5 * time.Second,
	}
}

// Elector runs the election loop for one node and exposes its current
// leadership status. The zero value is not usable; construct with New.
type Elector struct {
	gw     kvstore.Gateway
	nodeID string
	params Params
	log    *zap.Logger

	leader atomic.Bool

	mu    sync.Mutex
	state State

	onElected func()
	onLost    func()
	metrics   Metrics

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// New constructs an Elector for nodeID over gw. onElected/onLost are
// optional callbacks invoked synchronously on the election goroutine during
// the corresponding transition; pass nil to ignore either.
func New(gw kvstore.Gateway, nodeID string, params Params, log *zap.Logger, onElected, onLost func()) *Elector {
	if log == nil {
		log = zap.NewNop()
	}
	return &Elector{
		gw:        gw,
		nodeID:    nodeID,
		params:    params,
		log:       log,
		state:     Initializing,
		onElected: onElected,
		onLost:    onLost,
		metrics:   noopMetrics{},
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// SetMetrics wires an observability sink. Call before Run.
func (e *Elector) SetMetrics(m Metrics) {
	if m == nil {
		m = noopMetrics{}
	}
	e.metrics = m
}

// IsLeader reports the current value of the process-wide leader flag. Safe
// for concurrent use; this is the sole read path the dispatcher needs.
func (e *Elector) IsLeader() bool { return e.leader.Load() }

// State returns the current state-machine state.
func (e *Elector) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// NodeID returns this elector's NodeID.
func (e *Elector) NodeID() string { return e.nodeID }

// Run drives the state machine until ctx is cancelled or Stop is called.
// It transitions Initializing -> Follower immediately, then attempts
// acquisition every AcquireRetry while Follower and renews every
// HeartbeatInterval while Leader. On exit it attempts CompareAndDelete exactly
// once if it currently holds the lock (spec.md §9's "release attempted
// exactly once on every exit path").
func (e *Elector) Run(ctx context.Context) {
	defer close(e.doneCh)

	e.setState(Follower)

	ticker := time.NewTicker(e.params.AcquireRetry)
	defer ticker.Stop()

	renewFailures := 0

	// Attempt acquisition immediately rather than waiting a full tick
	// (spec.md §4.4: "acquisition is attempted immediately").
	e.tryAcquire(ctx)
	if e.IsLeader() {
		ticker.Reset(e.params.HeartbeatInterval)
	}

	for {
		select {
		case <-ctx.Done():
			e.releaseOnExit()
			return
		case <-e.stopCh:
			e.releaseOnExit()
			return
		case <-ticker.C:
			if e.IsLeader() {
				ok, err := e.renew(ctx)
				switch {
				case err != nil:
					e.metrics.ObserveRenewal("error")
					renewFailures++
					e.log.Warn("election: renew error",
						zap.String("node_id", e.nodeID),
						zap.Int("consecutive_failures", renewFailures),
						zap.Error(err))
					if renewFailures >= maxConsecutiveRenewFailures {
						e.demote("renew failure streak")
						renewFailures = 0
						ticker.Reset(e.params.AcquireRetry)
					}
				case !ok:
					e.metrics.ObserveRenewal("rejected")
					renewFailures = 0
					e.demote("renew rejected")
					ticker.Reset(e.params.AcquireRetry)
				default:
					e.metrics.ObserveRenewal("ok")
					renewFailures = 0
				}
			} else {
				e.tryAcquire(ctx)
				if e.IsLeader() {
					ticker.Reset(e.params.HeartbeatInterval)
				}
			}
		}
	}
}

// Stop requests the election loop to exit and blocks until it has released
// the lock (if held) and returned from Run. Safe to call multiple times.
func (e *Elector) Stop() {
	e.stopOnce.Do(func() { close(e.stopCh) })
	<-e.doneCh
}

func (e *Elector) tryAcquire(ctx context.Context) {
	cctx, cancel := context.WithTimeout(ctx, e.params.HeartbeatInterval)
	defer cancel()

	acquired, err := e.gw.SetIfAbsent(cctx, LockKey, e.nodeID, e.params.LockTTL)
	if err != nil {
		// StoreUnavailable during acquisition keeps the node as Follower,
		// the safe default (spec.md §4.4).
		e.log.Debug("election: acquire failed", zap.String("node_id", e.nodeID), zap.Error(err))
		return
	}
	if acquired {
		e.promote()
	}
}

func (e *Elector) renew(ctx context.Context) (bool, error) {
	cctx, cancel := context.WithTimeout(ctx, e.params.HeartbeatInterval)
	defer cancel()
	return e.gw.CompareAndRenew(cctx, LockKey, e.nodeID, e.params.LockTTL)
}

func (e *Elector) promote() {
	e.leader.Store(true)
	e.setState(Leader)
	e.metrics.SetLeaderState(true)
	e.log.Info("election: acquired leadership", zap.String("node_id", e.nodeID))
	if e.onElected != nil {
		e.onElected()
	}
}

func (e *Elector) demote(reason string) {
	wasLeader := e.leader.Swap(false)
	e.setState(Follower)
	if wasLeader {
		e.metrics.SetLeaderState(false)
		e.log.Warn("election: lost leadership", zap.String("node_id", e.nodeID), zap.String("reason", reason))
		if e.onLost != nil {
			e.onLost()
		}
	}
}

// releaseOnExit attempts CompareAndDelete exactly once if this node
// currently believes itself leader. It always runs under a fresh, short
// timeout detached from the caller's (possibly already-cancelled) ctx, so a
// cancelled shutdown context doesn't prevent the release attempt itself
// (spec.md §5: "Graceful shutdown signals the Election Task first").
func (e *Elector) releaseOnExit() {
	wasLeader := e.leader.Swap(false)
	e.setState(Released)
	if !wasLeader {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), e.params.HeartbeatInterval)
	defer cancel()

	e.metrics.SetLeaderState(false)

	deleted, err := e.gw.CompareAndDelete(ctx, LockKey, e.nodeID)
	if err != nil {
		e.log.Warn("election: release failed, relying on TTL expiry", zap.String("node_id", e.nodeID), zap.Error(err))
		return
	}
	if !deleted {
		e.log.Warn("election: release found no matching lock record", zap.String("node_id", e.nodeID))
	}
}

func (e *Elector) setState(s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}
