// Package kvstore provides typed, atomic operations against the shared
// key-value store backing leader election, the L2 cache tier, and the
// capped replay stream. Gateway is the only thing election, cachemanager,
// and adapter know about the store; the concrete transport (Redis) is an
// implementation detail behind it.
package kvstore

import (
	"context"
	"errors"
	"time"
)

// ErrStoreUnavailable reports a transport-level failure (timeout, connection
// refused, context deadline). Treated as a non-fatal degradation signal by
// callers: the next tick or heartbeat retries.
var ErrStoreUnavailable = errors.New("kvstore: store unavailable")

// ErrStoreProtocol reports a malformed or unexpected reply from the store
// (wrong type, corrupt script result). Callers treat this as a cache miss.
var ErrStoreProtocol = errors.New("kvstore: protocol error")

// StreamEntry is one flattened field-map appended to a capped stream, plus
// the entry ID the store assigned it.
type StreamEntry struct {
	ID     string
	Fields map[string]string
}

// Gateway is the typed contract over the shared KV store. All operations
// that mutate the leader lock record are atomic: SetIfAbsent is a single
// SET-NX-EX, CompareAndRenew/CompareAndDelete are single round-trip
// compare-and-swap operations (a read-then-write sequence is not a
// conforming implementation).
type Gateway interface {
	// SetIfAbsent acquires key with value for ttl iff key is currently
	// absent. Returns acquired=false (no error) on a lost race.
	SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (acquired bool, err error)

	// CompareAndRenew extends key's ttl iff its current value equals
	// expectedValue. Returns renewed=false (no error) if the value differs
	// or the key is absent.
	CompareAndRenew(ctx context.Context, key, expectedValue string, ttl time.Duration) (renewed bool, err error)

	// CompareAndDelete removes key iff its current value equals
	// expectedValue. Returns deleted=false (no error) if the value differs
	// or the key is already absent.
	CompareAndDelete(ctx context.Context, key, expectedValue string) (deleted bool, err error)

	// Get returns the current value of key, or ok=false if absent.
	Get(ctx context.Context, key string) (value string, ok bool, err error)

	// SetWithTTL unconditionally writes key=value with the given ttl.
	SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error

	// StreamAppend appends fields to the capped log at streamKey, trimming
	// the log so its length never exceeds maxLen, and returns the new
	// entry's ID.
	StreamAppend(ctx context.Context, streamKey string, fields map[string]string, maxLen int64) (entryID string, err error)
}
