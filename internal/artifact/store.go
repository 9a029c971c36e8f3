// Package artifact stores the images a conversation collects, keyed by
// session and slot. A slot is overwritten when the user re-supplies it;
// clearing a session releases everything it stored.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned when a slot was never populated for a session.
var ErrNotFound = errors.New("artifact not found")

type Store interface {
	// Put persists content under a slot, replacing any prior value.
	Put(ctx context.Context, sessionID, slot string, content []byte) error
	// Get returns the stored content, or ErrNotFound.
	Get(ctx context.Context, sessionID, slot string) ([]byte, error)
	// Clear releases every slot of a session. Clearing an empty or
	// unknown session is not an error.
	Clear(ctx context.Context, sessionID string) error
}

func validateKey(sessionID, slot string) error {
	if strings.TrimSpace(sessionID) == "" {
		return fmt.Errorf("session id is required")
	}
	if strings.TrimSpace(slot) == "" {
		return fmt.Errorf("slot is required")
	}
	if strings.ContainsAny(sessionID, "/\\") || strings.ContainsAny(slot, "/\\") {
		return fmt.Errorf("session id and slot must not contain path separators")
	}
	return nil
}
