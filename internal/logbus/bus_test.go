package logbus

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestPublishFillsRingBuffer(t *testing.T) {
	b := New(nil, 2)
	b.Publish(Event{RequestID: "1", TS: time.Now()})
	b.Publish(Event{RequestID: "2", TS: time.Now()})
	b.Publish(Event{RequestID: "3", TS: time.Now()})

	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.ring) != 2 {
		t.Fatalf("ring size = %d, want 2", len(b.ring))
	}
	if b.ring[0].RequestID != "2" || b.ring[1].RequestID != "3" {
		t.Fatalf("ring = %+v, want oldest evicted", b.ring)
	}
}

func TestServeSSEReplaysBacklogThenClosesOnDisconnect(t *testing.T) {
	b := New(nil, 10)
	b.Publish(Event{RequestID: "past", TS: time.Now()})

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/admin/events", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		b.ServeSSE(rec, req)
		close(done)
	}()

	// ServeSSE blocks on the request context; give it a moment to flush
	// the backlog and register its subscription before canceling.
	select {
	case <-done:
		t.Fatal("ServeSSE returned before the context was canceled")
	case <-time.After(20 * time.Millisecond):
	}

	b.mu.RLock()
	subs := len(b.subs)
	b.mu.RUnlock()
	if subs != 1 {
		t.Fatalf("subs = %d, want 1", subs)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("ServeSSE did not return after context cancellation")
	}
}
