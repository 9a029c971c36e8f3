package artifact

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DiskStore keeps artifacts as files under base/<sessionID>/<slot>.
// Each session gets its own directory, so concurrent users never
// collide on a shared filename.
type DiskStore struct {
	base string
}

func NewDiskStore(base string) (*DiskStore, error) {
	base = strings.TrimSpace(base)
	if base == "" {
		return nil, fmt.Errorf("base directory is required")
	}
	if err := os.MkdirAll(base, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact dir: %w", err)
	}
	return &DiskStore{base: base}, nil
}

func (s *DiskStore) Put(_ context.Context, sessionID, slot string, content []byte) error {
	if err := validateKey(sessionID, slot); err != nil {
		return err
	}
	dir := filepath.Join(s.base, sessionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}
	// Write through a temp file so a crashed write never leaves a
	// truncated artifact behind.
	tmp, err := os.CreateTemp(dir, "."+slot+".*")
	if err != nil {
		return fmt.Errorf("create temp artifact: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close artifact: %w", err)
	}
	if err := os.Rename(tmpName, filepath.Join(dir, slot)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("store artifact: %w", err)
	}
	return nil
}

func (s *DiskStore) Get(_ context.Context, sessionID, slot string) ([]byte, error) {
	if err := validateKey(sessionID, slot); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(s.base, sessionID, slot))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read artifact: %w", err)
	}
	return data, nil
}

func (s *DiskStore) Clear(_ context.Context, sessionID string) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return fmt.Errorf("session id is required")
	}
	if strings.ContainsAny(sessionID, "/\\") {
		return fmt.Errorf("session id must not contain path separators")
	}
	if err := os.RemoveAll(filepath.Join(s.base, sessionID)); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}
