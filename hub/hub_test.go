package hub

import (
	"testing"
	"time"

	"github.com/quantfeed/nexus/snapshot"
)

func TestInProcessHub_BroadcastDeliversToSubscribers(t *testing.T) {
	t.Parallel()

	h := New(nil)
	ch, unsubscribe := h.Subscribe()
	defer unsubscribe()

	h.Broadcast(snapshot.Snapshot{"btc_price_usd": 1.0})

	select {
	case got := <-ch:
		if got["btc_price_usd"] != 1.0 {
			t.Fatalf("unexpected payload: %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber never received broadcast")
	}
}

func TestInProcessHub_UnsubscribeClosesChannel(t *testing.T) {
	t.Parallel()

	h := New(nil)
	ch, unsubscribe := h.Subscribe()
	unsubscribe()

	if _, ok := <-ch; ok {
		t.Fatal("channel must be closed after unsubscribe")
	}
}

func TestInProcessHub_DropsSlowSubscriberAfterStrikes(t *testing.T) {
	t.Parallel()

	h := New(nil)
	ch, _ := h.Subscribe()

	// Never drain ch: after maxConsecutiveBlocked broadcasts beyond the
	// buffer capacity, the subscriber must be dropped (channel closed).
	for i := 0; i < subscriberBuffer+maxConsecutiveBlocked+1; i++ {
		h.Broadcast(snapshot.Snapshot{"n": i})
	}

	deadline := time.After(time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return // dropped, channel closed: success
			}
		case <-deadline:
			t.Fatal("slow subscriber was never dropped")
		}
	}
}

func TestInProcessHub_BroadcastIsNonBlockingWithNoSubscribers(t *testing.T) {
	t.Parallel()

	h := New(nil)
	done := make(chan struct{})
	go func() {
		h.Broadcast(snapshot.Snapshot{"a": 1})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("broadcast with no subscribers must return immediately")
	}
}
