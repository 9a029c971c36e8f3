package auth

import (
	"crypto/subtle"
	"log"
	"strings"
)

// Gate checks one fixed shared secret and records users who pass it.
// There is no lockout or rotation; a recorded user stays authorized.
type Gate struct {
	secret string
	store  RecordStore
}

func NewGate(secret string, store RecordStore) *Gate {
	return &Gate{secret: strings.TrimSpace(secret), store: store}
}

// Enabled reports whether gating is configured at all. With no secret,
// every flow is open.
func (g *Gate) Enabled() bool {
	return g.secret != ""
}

// Check is a pure lookup against the durable record.
func (g *Gate) Check(userID string) bool {
	if !g.Enabled() {
		return true
	}
	ok, err := g.store.Contains(userID)
	if err != nil {
		log.Printf("auth record lookup failed for %s: %v", userID, err)
		return false
	}
	return ok
}

// Submit compares the supplied secret and records the user on a
// match. Resubmission by an already-authorized user is a no-op
// success; a wrong secret never mutates the record.
func (g *Gate) Submit(userID, secret string) bool {
	if !g.Enabled() {
		return true
	}
	if subtle.ConstantTimeCompare([]byte(strings.TrimSpace(secret)), []byte(g.secret)) != 1 {
		return false
	}
	if err := g.store.Add(userID); err != nil {
		log.Printf("auth record append failed for %s: %v", userID, err)
	}
	return true
}
