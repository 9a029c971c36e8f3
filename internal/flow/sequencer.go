package flow

import (
	"context"
	"sync"
)

// Handler is the conversation surface a transport drives.
type Handler interface {
	OnCommand(ctx context.Context, userID, command string, emit EmitFunc)
	OnText(ctx context.Context, userID, text string, emit EmitFunc)
	OnImage(ctx context.Context, userID string, image []byte, emit EmitFunc)
	OnProviderChoice(ctx context.Context, userID, choice string, emit EmitFunc)
}

const maxQueuedEvents = 32

// Sequencer delivers events to the wrapped handler one at a time per
// user, in arrival order. Callers enqueue without blocking; a worker
// goroutine per active user drains its queue, so one user's slow
// provider call never delays another user. Transports must call the
// On* methods in the order events arrived.
type Sequencer struct {
	next Handler

	mu     sync.Mutex
	queues map[string]*userQueue
}

type userQueue struct {
	pending []func()
	running bool
}

func NewSequencer(next Handler) *Sequencer {
	return &Sequencer{
		next:   next,
		queues: make(map[string]*userQueue),
	}
}

func (s *Sequencer) OnCommand(ctx context.Context, userID, command string, emit EmitFunc) {
	s.dispatch(userID, emit, func() { s.next.OnCommand(ctx, userID, command, emit) })
}

func (s *Sequencer) OnText(ctx context.Context, userID, text string, emit EmitFunc) {
	s.dispatch(userID, emit, func() { s.next.OnText(ctx, userID, text, emit) })
}

func (s *Sequencer) OnImage(ctx context.Context, userID string, image []byte, emit EmitFunc) {
	s.dispatch(userID, emit, func() { s.next.OnImage(ctx, userID, image, emit) })
}

func (s *Sequencer) OnProviderChoice(ctx context.Context, userID, choice string, emit EmitFunc) {
	s.dispatch(userID, emit, func() { s.next.OnProviderChoice(ctx, userID, choice, emit) })
}

// dispatch appends the event to the user's FIFO queue and starts a
// drain worker when none is running. A full queue rejects the event
// with the busy message instead of blocking the transport.
func (s *Sequencer) dispatch(userID string, emit EmitFunc, fn func()) {
	s.mu.Lock()
	q := s.queues[userID]
	if q == nil {
		q = &userQueue{}
		s.queues[userID] = q
	}
	if len(q.pending) >= maxQueuedEvents {
		s.mu.Unlock()
		emit(textEffect(msgBusy))
		return
	}
	q.pending = append(q.pending, fn)
	if q.running {
		s.mu.Unlock()
		return
	}
	q.running = true
	s.mu.Unlock()
	go s.drain(userID, q)
}

func (s *Sequencer) drain(userID string, q *userQueue) {
	for {
		s.mu.Lock()
		if len(q.pending) == 0 {
			q.running = false
			delete(s.queues, userID)
			s.mu.Unlock()
			return
		}
		fn := q.pending[0]
		q.pending = q.pending[1:]
		s.mu.Unlock()
		fn()
	}
}
