package kvstore

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"
)

// FakeGateway is an in-memory Gateway used by election, cachemanager, and
// adapter unit tests. It implements the same compare-and-swap semantics as
// RedisGateway (single critical section per operation, not read-then-write),
// so a test written against FakeGateway exercises the same races a real
// Redis-backed Gateway would reject.
type FakeGateway struct {
	mu sync.Mutex

	entries map[string]fakeEntry
	streams map[string][]StreamEntry
	seq     int64

	// Unreachable, when true, makes every call return ErrStoreUnavailable.
	// Flip it mid-test to simulate a store outage.
	Unreachable bool

	clock func() time.Time
}

type fakeEntry struct {
	value   string
	expires time.Time // zero means no expiry
}

// NewFakeGateway constructs an empty FakeGateway using time.Now for TTL
// bookkeeping. Tests that need deterministic expiry should call SetClock.
func NewFakeGateway() *FakeGateway {
	return &FakeGateway{
		entries: make(map[string]fakeEntry),
		streams: make(map[string][]StreamEntry),
		clock:   time.Now,
	}
}

// SetClock overrides the time source used for TTL expiry checks.
func (g *FakeGateway) SetClock(clock func() time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.clock = clock
}

func (g *FakeGateway) now() time.Time {
	if g.clock != nil {
		return g.clock()
	}
	return time.Now()
}

func (g *FakeGateway) expiredLocked(e fakeEntry) bool {
	return !e.expires.IsZero() && g.now().After(e.expires)
}

func (g *FakeGateway) SetIfAbsent(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.Unreachable {
		return false, ErrStoreUnavailable
	}
	if e, ok := g.entries[key]; ok && !g.expiredLocked(e) {
		return false, nil
	}
	g.entries[key] = fakeEntry{value: value, expires: g.expiresAt(ttl)}
	return true, nil
}

func (g *FakeGateway) CompareAndRenew(_ context.Context, key, expectedValue string, ttl time.Duration) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.Unreachable {
		return false, ErrStoreUnavailable
	}
	e, ok := g.entries[key]
	if !ok || g.expiredLocked(e) || e.value != expectedValue {
		return false, nil
	}
	e.expires = g.expiresAt(ttl)
	g.entries[key] = e
	return true, nil
}

func (g *FakeGateway) CompareAndDelete(_ context.Context, key, expectedValue string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.Unreachable {
		return false, ErrStoreUnavailable
	}
	e, ok := g.entries[key]
	if !ok || g.expiredLocked(e) || e.value != expectedValue {
		return false, nil
	}
	delete(g.entries, key)
	return true, nil
}

func (g *FakeGateway) Get(_ context.Context, key string) (string, bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.Unreachable {
		return "", false, ErrStoreUnavailable
	}
	e, ok := g.entries[key]
	if !ok || g.expiredLocked(e) {
		return "", false, nil
	}
	return e.value, true, nil
}

func (g *FakeGateway) SetWithTTL(_ context.Context, key, value string, ttl time.Duration) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.Unreachable {
		return ErrStoreUnavailable
	}
	g.entries[key] = fakeEntry{value: value, expires: g.expiresAt(ttl)}
	return nil
}

func (g *FakeGateway) StreamAppend(_ context.Context, streamKey string, fields map[string]string, maxLen int64) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.Unreachable {
		return "", ErrStoreUnavailable
	}
	g.seq++
	id := strconv.FormatInt(g.seq, 10) + "-0"
	cp := make(map[string]string, len(fields))
	for k, v := range fields {
		cp[k] = v
	}
	entries := append(g.streams[streamKey], StreamEntry{ID: id, Fields: cp})
	if maxLen > 0 && int64(len(entries)) > maxLen {
		entries = entries[int64(len(entries))-maxLen:]
	}
	g.streams[streamKey] = entries
	return id, nil
}

// StreamEntries returns a snapshot of streamKey's current entries, oldest
// first. Test helper only; not part of Gateway.
func (g *FakeGateway) StreamEntries(streamKey string) []StreamEntry {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]StreamEntry, len(g.streams[streamKey]))
	copy(out, g.streams[streamKey])
	return out
}

// Keys returns a sorted snapshot of all non-expired keys. Test helper only.
func (g *FakeGateway) Keys() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]string, 0, len(g.entries))
	for k, e := range g.entries {
		if !g.expiredLocked(e) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

func (g *FakeGateway) expiresAt(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return g.now().Add(ttl)
}

var _ Gateway = (*FakeGateway)(nil)
