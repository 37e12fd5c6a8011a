package cachemanager

import "time"

// Strategy is a closed enum of TTL policies applied to L2 (and, capped by
// L1MaxTTL, L1) writes.
type Strategy int

const (
	// Default applies when a caller does not pick a strategy explicitly.
	Default Strategy = iota
	// RealTime is for fast-moving data (e.g. the per-tick market snapshot).
	RealTime
	// ShortTerm is for data that is safe to serve a few minutes stale.
	ShortTerm
	// MediumTerm is for data that changes over the scale of an hour.
	MediumTerm
	// LongTerm is for slow-moving reference data.
	LongTerm
	// Custom defers entirely to the customTTL argument of SetWithStrategy.
	// GetOrCompute takes no duration and writes Custom entries with a zero
	// duration, which the L2 tier stores without expiry.
	Custom
)

// ttlTable mirrors the pack's provider TTL-category table
// (cryptorun/internal/datasources.DefaultCacheConfig): a closed strategy
// maps to a fixed duration, looked up once per write rather than threaded
// through every call site.
var ttlTable = map[Strategy]time.Duration{
	Default:    5 * time.Minute,
	RealTime:   30 * time.Second,
	ShortTerm:  5 * time.Minute,
	MediumTerm: time.Hour,
	LongTerm:   3 * time.Hour,
}

// L1MaxTTL bounds every L1 write regardless of strategy: L1 is a small,
// in-process, best-effort tier and should never hold data far longer than
// the shared store's own refresh cadence.
const L1MaxTTL = 5 * time.Minute

// TTL resolves a strategy to its L2 duration. For Custom, custom must be the
// caller-supplied duration; it is returned unchanged. Any other strategy
// ignores custom.
func (s Strategy) TTL(custom time.Duration) time.Duration {
	if s == Custom {
		return custom
	}
	if d, ok := ttlTable[s]; ok {
		return d
	}
	return ttlTable[Default]
}

// l1TTL caps an L2-bound duration at L1MaxTTL for the local tier.
func l1TTL(l2TTL time.Duration) time.Duration {
	if l2TTL <= 0 || l2TTL > L1MaxTTL {
		return L1MaxTTL
	}
	return l2TTL
}
