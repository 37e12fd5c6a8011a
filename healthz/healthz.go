// Package healthz implements the process health endpoint (C8): a plain
// net/http handler, matching the teacher's own stdlib-only HTTP usage
// (examples/http_metrics), with no framework.
package healthz

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/quantfeed/nexus/kvstore"
)

// StateProvider is the minimal read surface the handler needs from the
// election service.
type StateProvider interface {
	IsLeader() bool
}

// Handler reports healthy when the KV gateway answers a Get within budget,
// or the node is a follower with a recent successful cache read. It must
// never report unhealthy purely for not being the leader (spec.md §6).
type Handler struct {
	gw      kvstore.Gateway
	state   StateProvider
	timeout time.Duration

	// lastFollowerHit is UnixNano, 0 meaning unset. Written by
	// NoteFollowerCacheHit from the dispatch goroutine, read by check from
	// concurrent ServeHTTP calls — atomic.Int64 avoids a data race the way
	// election.Elector.leader guards its own cross-goroutine flag.
	lastFollowerHit atomic.Int64
}

// New constructs a Handler. timeout bounds the probe Get call; pass 0 for a
// sensible default (1s).
func New(gw kvstore.Gateway, state StateProvider, timeout time.Duration) *Handler {
	if timeout <= 0 {
		timeout = time.Second
	}
	return &Handler{gw: gw, state: state, timeout: timeout}
}

// NoteFollowerCacheHit records that this replica, as a follower, just
// served a snapshot from its local cache — sufficient to report healthy
// even if the shared store is momentarily unreachable.
func (h *Handler) NoteFollowerCacheHit(at time.Time) {
	h.lastFollowerHit.Store(at.UnixNano())
}

type healthResponse struct {
	Healthy  bool   `json:"healthy"`
	IsLeader bool   `json:"is_leader"`
	Reason   string `json:"reason"`
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	resp := h.check(r.Context())

	w.Header().Set("Content-Type", "application/json")
	if !resp.Healthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(resp)
}

func (h *Handler) check(ctx context.Context) healthResponse {
	isLeader := h.state != nil && h.state.IsLeader()

	cctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	if _, _, err := h.gw.Get(cctx, "healthz:probe"); err == nil {
		return healthResponse{Healthy: true, IsLeader: isLeader, Reason: "store reachable"}
	}

	if lastHit := h.lastFollowerHit.Load(); !isLeader && lastHit != 0 && time.Since(time.Unix(0, lastHit)) < 2*h.timeout {
		return healthResponse{Healthy: true, IsLeader: isLeader, Reason: "follower serving recent cache hit"}
	}

	return healthResponse{Healthy: false, IsLeader: isLeader, Reason: "store unreachable"}
}
