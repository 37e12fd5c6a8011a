// Package cachemanager implements the two-tier read-through/write-through
// cache: a bounded in-process L1 (localcache) backed by a shared L2
// (kvstore.Gateway), with a single-flight table coalescing concurrent
// GetOrCompute calls for the same key into one computation.
package cachemanager

import (
	"context"
	"errors"
	"time"

	"github.com/quantfeed/nexus/internal/singleflight"
	"github.com/quantfeed/nexus/kvstore"
	"github.com/quantfeed/nexus/localcache"
	"github.com/quantfeed/nexus/snapshot"
)

// expirySuffix names the companion L2 key that carries the absolute
// expiry (UnixNano) of the value stored under the bare key. Gateway only
// exposes presence/absence, not a server-side "time remaining" query, so
// the manager tracks expiry itself to implement the
// min(remaining L2 TTL, L1MaxTTL) promotion rule.
const expirySuffix = "\x00exp"

// Manager is the public contract for C3, matching spec.md §4.3 exactly:
// Get, SetWithStrategy, GetOrCompute, Invalidate.
type Manager interface {
	Get(ctx context.Context, key string) (snapshot.Snapshot, bool, error)
	SetWithStrategy(ctx context.Context, key string, value snapshot.Snapshot, strategy Strategy, customTTL time.Duration) error
	GetOrCompute(ctx context.Context, key string, strategy Strategy, compute func(ctx context.Context) (snapshot.Snapshot, error)) (snapshot.Snapshot, error)
	Invalidate(ctx context.Context, key string) error
}

// manager is the default Manager implementation.
type manager struct {
	l1 localcache.Cache[string, snapshot.Snapshot]
	l2 kvstore.Gateway

	sf singleflight.Group[string, snapshot.Snapshot]

	now func() time.Time
}

// New constructs a Manager with the given L1 cache and L2 gateway. l1 is
// expected to already be configured with Capacity/IdleTTL by the caller
// (cmd/replica wires them); this package only drives it, it does not
// configure it.
func New(l1 localcache.Cache[string, snapshot.Snapshot], l2 kvstore.Gateway) Manager {
	return &manager{l1: l1, l2: l2, now: time.Now}
}

// Get checks L1, then L2. On an L2 hit it promotes the value into L1 with a
// TTL of min(remaining L2 TTL, L1MaxTTL) (spec.md §4.3, P5).
func (m *manager) Get(ctx context.Context, key string) (snapshot.Snapshot, bool, error) {
	if v, ok := m.l1.Get(key); ok {
		return v, true, nil
	}

	raw, ok, err := m.l2.Get(ctx, key)
	if err != nil {
		// A store failure during read is not fatal here: the caller sees a
		// miss and may fall through to compute(), matching spec.md §4.3's
		// "if both stores fail on read path, compute() is invoked".
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}

	snap, err := snapshot.Unmarshal([]byte(raw))
	if err != nil {
		// Corrupt L2 entry: treated as a miss, not an error (spec.md §7).
		return nil, false, nil
	}

	m.l1.SetWithTTL(key, snap, m.promotionTTL(ctx, key))
	return snap, true, nil
}

// SetWithStrategy writes L1 (capped at L1MaxTTL) and L2 (strategy TTL).
// L1 is best-effort: a successful L2 write is still reported as success even
// if the localcache put is a no-op (e.g. cache closed).
func (m *manager) SetWithStrategy(ctx context.Context, key string, value snapshot.Snapshot, strategy Strategy, customTTL time.Duration) error {
	l2ttl := strategy.TTL(customTTL)

	m.l1.SetWithTTL(key, value, l1TTL(l2ttl))

	raw, err := snapshot.Marshal(value)
	if err != nil {
		return err
	}
	if err := m.l2.SetWithTTL(ctx, key, string(raw), l2ttl); err != nil {
		return err
	}
	return m.writeExpiryMarker(ctx, key, l2ttl)
}

// GetOrCompute implements the spec.md §4.3 single-flight algorithm: a cache
// hit short-circuits; otherwise at most one compute() call runs per key
// across all concurrent callers on this process, and a failed compute is
// never cached (P3, P4).
func (m *manager) GetOrCompute(ctx context.Context, key string, strategy Strategy, compute func(ctx context.Context) (snapshot.Snapshot, error)) (snapshot.Snapshot, error) {
	if compute == nil {
		return nil, errComputeNil
	}

	if v, ok, err := m.Get(ctx, key); err == nil && ok {
		return v, nil
	}

	return m.sf.Do(ctx, key, func() (snapshot.Snapshot, error) {
		// Double-checked: another leader for this key may have completed
		// and written through between our first Get and winning the
		// single-flight race.
		if v, ok, err := m.Get(ctx, key); err == nil && ok {
			return v, nil
		}

		v, err := compute(ctx)
		if err != nil {
			return nil, err
		}

		// Best-effort write-through: spec.md §4.3 says the computed value
		// is still returned to callers even if this write fails.
		_ = m.SetWithStrategy(ctx, key, v, strategy, 0)
		return v, nil
	})
}

// Invalidate removes key from both tiers. L1 removal and L2 removal are
// both best-effort; the first error encountered is returned but does not
// prevent the other tier's removal from being attempted.
func (m *manager) Invalidate(ctx context.Context, key string) error {
	m.l1.Remove(key)

	current, ok, err := m.l2.Get(ctx, key)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	if _, err := m.l2.CompareAndDelete(ctx, key, current); err != nil {
		return err
	}
	_, _ = m.l2.CompareAndDelete(ctx, key+expirySuffix, current)
	return nil
}

// promotionTTL returns the L1 TTL to use when promoting an L2 hit: the
// remaining time until the value's tracked expiry, capped at L1MaxTTL.
// If no expiry marker is found (e.g. written by an older process, or the
// marker itself expired independently due to clock skew), it falls back to
// L1MaxTTL so promotion never grants an unbounded lifetime.
func (m *manager) promotionTTL(ctx context.Context, key string) time.Duration {
	raw, ok, err := m.l2.Get(ctx, key+expirySuffix)
	if err != nil || !ok {
		return L1MaxTTL
	}
	expiresAt, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return L1MaxTTL
	}
	remaining := expiresAt.Sub(m.now())
	return l1TTL(remaining)
}

func (m *manager) writeExpiryMarker(ctx context.Context, key string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	expiresAt := m.now().Add(ttl).UTC().Format(time.RFC3339Nano)
	return m.l2.SetWithTTL(ctx, key+expirySuffix, expiresAt, ttl)
}

// errComputeNil guards against a nil compute func being passed to
// GetOrCompute, which would otherwise panic deep inside the single-flight
// leader path where the caller can no longer see the stack that called it.
var errComputeNil = errors.New("cachemanager: compute must not be nil")
