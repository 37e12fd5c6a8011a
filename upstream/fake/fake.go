// Package fake provides a deterministic upstream.Fetcher double for tests
// of adapter and dispatch, avoiding a real network dependency.
package fake

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/quantfeed/nexus/snapshot"
	"github.com/quantfeed/nexus/upstream"
)

// Fetcher returns a fixed snapshot (or a fixed error) on every call, and
// counts how many times Fetch was invoked so tests can assert on upstream
// call counts (e.g. verifying single-flight coalescing).
type Fetcher struct {
	mu    sync.Mutex
	snap  snapshot.Snapshot
	err   error
	calls int64
}

// NewFixed constructs a Fetcher that always returns snap, nil.
func NewFixed(snap snapshot.Snapshot) *Fetcher {
	return &Fetcher{snap: snap}
}

// NewFailing constructs a Fetcher that always returns err.
func NewFailing(err error) *Fetcher {
	return &Fetcher{err: err}
}

func (f *Fetcher) Fetch(ctx context.Context) (snapshot.Snapshot, error) {
	atomic.AddInt64(&f.calls, 1)

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return snapshot.Clone(f.snap), nil
}

// SetResult atomically swaps what the next Fetch calls return.
func (f *Fetcher) SetResult(snap snapshot.Snapshot, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snap, f.err = snap, err
}

// Calls returns the number of times Fetch has been invoked.
func (f *Fetcher) Calls() int64 { return atomic.LoadInt64(&f.calls) }

var _ upstream.Fetcher = (*Fetcher)(nil)
