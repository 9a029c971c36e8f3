package session

import (
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"
)

// Store keeps one State per user behind a single mutex. The map is
// small (one entry per active user) so a global lock is fine.
type Store struct {
	mu     sync.Mutex
	states map[string]*State
}

func NewStore() *Store {
	return &Store{states: make(map[string]*State)}
}

func (s *Store) getOrCreateLocked(userID string) *State {
	st, ok := s.states[userID]
	if !ok {
		st = &State{
			UserID:    userID,
			Step:      StepIdle,
			SessionID: newSessionID(),
			UpdatedAt: time.Now(),
		}
		s.states[userID] = st
	}
	return st
}

// TryLock claims the user's state for one event. It returns the state,
// a release func, and false when another event is already in flight for
// this user. Callers must invoke release exactly once.
func (s *Store) TryLock(userID string) (*State, func(), bool) {
	s.mu.Lock()
	st := s.getOrCreateLocked(userID)
	if st.Busy {
		s.mu.Unlock()
		return nil, nil, false
	}
	st.Busy = true
	s.mu.Unlock()

	release := func() {
		s.mu.Lock()
		st.Busy = false
		st.UpdatedAt = time.Now()
		s.mu.Unlock()
	}
	return st, release, true
}

// Peek returns the current state without claiming it. The returned
// pointer must be treated as read-only.
func (s *Store) Peek(userID string) (*State, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[userID]
	return st, ok
}

// Rotate assigns a fresh session ID, detaching the state from any
// artifacts stored under the old one.
func (s *Store) Rotate(st *State) {
	st.SessionID = newSessionID()
	st.UpdatedAt = time.Now()
}

func newSessionID() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		// rand.Read does not fail on supported platforms
		panic(err)
	}
	return hex.EncodeToString(b[:])
}
