// Package upstream defines the UpstreamFetcher contract the adapter uses to
// retrieve a fresh market-data payload from whatever external provider is
// configured, plus a thin HTTP-based implementation and a deterministic
// fake for tests. Vendor-specific schemas and rate-limit handling are out
// of scope (spec.md §1); Fetcher returns an already-normalized-enough
// Snapshot.
package upstream

import (
	"context"
	"errors"

	"github.com/quantfeed/nexus/snapshot"
)

// ErrUnavailable reports a transient upstream failure (timeout, connection
// refused, 5xx). The caller should retry on the next tick; this error is
// never cached.
var ErrUnavailable = errors.New("upstream: unavailable")

// ErrRateLimited reports the upstream provider rejected the request for
// rate-limiting (429 or provider-specific equivalent). Treated the same as
// ErrUnavailable by callers that don't need to distinguish the two, but
// kept distinct for logging/metrics.
var ErrRateLimited = errors.New("upstream: rate limited")

// Fetcher is the external collaborator spec.md calls UpstreamFetcher.
type Fetcher interface {
	// Fetch retrieves one fresh snapshot from the configured provider.
	Fetch(ctx context.Context) (snapshot.Snapshot, error)
}
