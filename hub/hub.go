// Package hub defines the ClientHub contract used by the dispatcher to fan
// out snapshots to attached streaming clients, plus an in-process
// implementation. The streaming transport itself (WebSocket framing,
// ping/pong) is out of scope (spec.md §1); a Hub only needs to accept a
// Snapshot and get it to whichever Subscribers are currently registered
// without blocking the caller.
package hub

import (
	"sync"

	"github.com/quantfeed/nexus/snapshot"
	"go.uber.org/zap"
)

// Hub is the external collaborator spec.md calls ClientHub.
type Hub interface {
	// Broadcast delivers snap to every currently-registered subscriber.
	// Fire-and-forget: a slow or gone subscriber never blocks the caller
	// or other subscribers (spec.md §4.4 backpressure).
	Broadcast(snap snapshot.Snapshot)

	// Subscribe registers a new client and returns a channel of snapshots
	// plus an unsubscribe func. The returned channel is closed when the
	// client is dropped (buffer overrun) or Unsubscribe is called.
	Subscribe() (ch <-chan snapshot.Snapshot, unsubscribe func())
}

// maxConsecutiveBlocked is how many back-to-back broadcasts a subscriber
// may fail to drain before it is dropped as a slow client (same shape as
// the pack's WebSocket client buffering: a bounded strike count rather
// than disconnecting on the first missed send).
const maxConsecutiveBlocked = 3

// subscriberBuffer is the per-client channel capacity. Sized for a handful
// of ticks of slack; the dispatcher's cadence (FETCH_INTERVAL_SECONDS,
// default 5s) means this buffers well over a minute of backlog before a
// client is considered slow.
const subscriberBuffer = 16

// InProcessHub is a single-process fan-out Hub: every subscriber gets its
// own buffered channel; Broadcast sends non-blockingly to each and drops
// any subscriber that has failed to drain maxConsecutiveBlocked times in a
// row.
type InProcessHub struct {
	log *zap.Logger

	mu   sync.Mutex
	subs map[int64]*subscriber
	next int64
}

type subscriber struct {
	ch       chan snapshot.Snapshot
	blocked  int
	unsubbed bool
}

// New constructs an empty InProcessHub. log may be nil.
func New(log *zap.Logger) *InProcessHub {
	if log == nil {
		log = zap.NewNop()
	}
	return &InProcessHub{log: log, subs: make(map[int64]*subscriber)}
}

func (h *InProcessHub) Subscribe() (<-chan snapshot.Snapshot, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.next
	h.next++
	s := &subscriber{ch: make(chan snapshot.Snapshot, subscriberBuffer)}
	h.subs[id] = s

	return s.ch, func() { h.unsubscribe(id) }
}

func (h *InProcessHub) unsubscribe(id int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.subs[id]
	if !ok || s.unsubbed {
		return
	}
	s.unsubbed = true
	delete(h.subs, id)
	close(s.ch)
}

// Broadcast delivers a defensive copy of snap to every subscriber so two
// concurrent clients reading the same tick's snapshot never alias mutable
// state (snapshot.Clone is cheap, a shallow copy of a small field map).
func (h *InProcessHub) Broadcast(snap snapshot.Snapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var dropped []int64
	for id, s := range h.subs {
		select {
		case s.ch <- snapshot.Clone(snap):
			s.blocked = 0
		default:
			s.blocked++
			if s.blocked >= maxConsecutiveBlocked {
				dropped = append(dropped, id)
			}
		}
	}

	for _, id := range dropped {
		s := h.subs[id]
		s.unsubbed = true
		delete(h.subs, id)
		close(s.ch)
		h.log.Warn("hub: dropped slow subscriber", zap.Int64("subscriber_id", id))
	}
}

// Len returns the current subscriber count. Test/observability helper.
func (h *InProcessHub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

var _ Hub = (*InProcessHub)(nil)
