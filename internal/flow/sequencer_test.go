package flow

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

type recordingHandler struct {
	mu    sync.Mutex
	texts []string
	wg    sync.WaitGroup

	// block, when set, stalls every event until it is closed.
	block chan struct{}
	// entered, when set, receives a signal each time an event reaches
	// the handler (before any stall on block).
	entered chan struct{}
}

func (h *recordingHandler) OnCommand(_ context.Context, _, command string, _ EmitFunc) {
	h.record(command)
}

func (h *recordingHandler) OnText(_ context.Context, _, text string, _ EmitFunc) {
	h.record(text)
}

func (h *recordingHandler) OnImage(_ context.Context, _ string, image []byte, _ EmitFunc) {
	h.record(string(image))
}

func (h *recordingHandler) OnProviderChoice(_ context.Context, _, choice string, _ EmitFunc) {
	h.record(choice)
}

func (h *recordingHandler) record(s string) {
	if h.entered != nil {
		select {
		case h.entered <- struct{}{}:
		default:
		}
	}
	if h.block != nil {
		<-h.block
	}
	h.mu.Lock()
	h.texts = append(h.texts, s)
	h.mu.Unlock()
	h.wg.Done()
}

func (h *recordingHandler) recorded() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.texts...)
}

func discardEffect(Effect) {}

func TestSequencerPreservesArrivalOrder(t *testing.T) {
	handler := &recordingHandler{}
	seq := NewSequencer(handler)
	ctx := context.Background()

	const n = 200
	want := make([]string, n)
	for i := 0; i < n; i++ {
		msg := fmt.Sprintf("%03d", i)
		want[i] = msg
		handler.wg.Add(1)
		seq.OnText(ctx, "u1", msg, discardEffect)
		if i%maxQueuedEvents == maxQueuedEvents-1 {
			// stay under the queue cap
			handler.waitDrained(t)
		}
	}
	handler.waitDrained(t)

	got := handler.recorded()
	if len(got) != n {
		t.Fatalf("recorded %d events, want %d", len(got), n)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event %d = %q, want %q (order broken: %v...)", i, got[i], want[i], got[:i+1])
		}
	}
}

// waitDrained blocks until every event added so far was handled.
func (h *recordingHandler) waitDrained(t *testing.T) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("sequencer did not drain in time")
	}
}

func TestSequencerUsersDrainIndependently(t *testing.T) {
	blocked := &recordingHandler{block: make(chan struct{})}
	seq := NewSequencer(blocked)
	ctx := context.Background()

	blocked.wg.Add(1)
	seq.OnText(ctx, "slow-user", "stalled", discardEffect)

	free := make(chan struct{})
	go func() {
		blocked.wg.Add(1)
		// this user must not wait behind slow-user's stalled event;
		// its event reaches the handler and blocks on the same gate
		seq.OnText(ctx, "fast-user", "independent", discardEffect)
		close(free)
	}()

	select {
	case <-free:
	case <-time.After(2 * time.Second):
		t.Fatal("dispatch for another user blocked behind a stalled one")
	}

	close(blocked.block)
	blocked.waitDrained(t)
	if got := len(blocked.recorded()); got != 2 {
		t.Errorf("recorded %d events, want 2", got)
	}
}

func TestSequencerRejectsOverflow(t *testing.T) {
	handler := &recordingHandler{block: make(chan struct{}), entered: make(chan struct{}, 1)}
	seq := NewSequencer(handler)
	ctx := context.Background()

	var mu sync.Mutex
	var rejections []string
	emit := func(e Effect) {
		mu.Lock()
		rejections = append(rejections, e.Text)
		mu.Unlock()
	}

	// first event starts draining and stalls; the next maxQueuedEvents
	// fill the queue; one more must be rejected, not queued
	total := 1 + maxQueuedEvents
	handler.wg.Add(total)
	seq.OnText(ctx, "u1", "0", emit)
	// wait until the drain worker has dequeued the first event and is
	// stalled inside the handler, so the queue has full capacity
	select {
	case <-handler.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("drain worker never reached the handler")
	}
	for i := 1; i < total; i++ {
		seq.OnText(ctx, "u1", fmt.Sprintf("%d", i), emit)
	}
	seq.OnText(ctx, "u1", "overflow", emit)

	mu.Lock()
	got := len(rejections)
	mu.Unlock()
	if got != 1 {
		t.Fatalf("rejections = %d, want 1", got)
	}

	close(handler.block)
	handler.waitDrained(t)
	if got := len(handler.recorded()); got != total {
		t.Errorf("handled %d events, want %d (overflow event must be dropped)", got, total)
	}
}
