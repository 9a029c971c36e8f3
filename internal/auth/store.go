// Package auth gates entry into protected flows behind a shared
// secret and remembers which users have passed it.
package auth

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// RecordStore is the durable, append-only set of user IDs that have
// supplied the shared secret at least once. There is no removal path.
type RecordStore interface {
	Contains(userID string) (bool, error)
	Add(userID string) error
	Count() (int, error)
}

// NewRecordStoreFromEnv picks Postgres when a DSN is configured and
// falls back to the JSON file store otherwise.
func NewRecordStoreFromEnv(path, dsn string) RecordStore {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return NewFileStore(path)
	}
	s, err := NewPostgresStore(dsn)
	if err != nil {
		log.Printf("auth: postgres record store unavailable, falling back to file store %s: %v", path, err)
		return NewFileStore(path)
	}
	return s
}

// FileStore keeps the record as a JSON array of user IDs, rewritten
// atomically on every append.
type FileStore struct {
	path string

	loadOnce sync.Once
	mu       sync.RWMutex
	users    map[string]struct{}
}

func NewFileStore(path string) *FileStore {
	return &FileStore{
		path:  path,
		users: make(map[string]struct{}),
	}
}

func (s *FileStore) ensureLoaded() {
	s.loadOnce.Do(func() {
		data, err := os.ReadFile(s.path)
		if err != nil {
			return
		}
		var ids []string
		if err := json.Unmarshal(data, &ids); err != nil {
			return
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		for _, id := range ids {
			if id = strings.TrimSpace(id); id != "" {
				s.users[id] = struct{}{}
			}
		}
	})
}

func (s *FileStore) Contains(userID string) (bool, error) {
	s.ensureLoaded()
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.users[userID]
	return ok, nil
}

func (s *FileStore) Add(userID string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return fmt.Errorf("user id is required")
	}
	s.ensureLoaded()
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[userID]; ok {
		return nil
	}
	s.users[userID] = struct{}{}
	return s.persistLocked()
}

func (s *FileStore) Count() (int, error) {
	s.ensureLoaded()
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users), nil
}

func (s *FileStore) persistLocked() error {
	ids := make([]string, 0, len(s.users))
	for id := range s.users {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	data, err := json.MarshalIndent(ids, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create auth store dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".auth.*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, s.path)
}

// PostgresStore keeps the record in a single-column table, created on
// first use.
type PostgresStore struct {
	db *sql.DB

	schemaOnce sync.Once
	schemaErr  error
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("pgx", strings.TrimSpace(dsn))
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) ensureSchema() error {
	s.schemaOnce.Do(func() {
		_, s.schemaErr = s.db.Exec(`CREATE TABLE IF NOT EXISTS authorized_users (
			user_id TEXT PRIMARY KEY,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`)
	})
	return s.schemaErr
}

func (s *PostgresStore) Contains(userID string) (bool, error) {
	if err := s.ensureSchema(); err != nil {
		return false, err
	}
	var one int
	err := s.db.QueryRow(`SELECT 1 FROM authorized_users WHERE user_id = $1`, userID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *PostgresStore) Add(userID string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return fmt.Errorf("user id is required")
	}
	if err := s.ensureSchema(); err != nil {
		return err
	}
	_, err := s.db.Exec(`INSERT INTO authorized_users (user_id) VALUES ($1) ON CONFLICT DO NOTHING`, userID)
	return err
}

func (s *PostgresStore) Count() (int, error) {
	if err := s.ensureSchema(); err != nil {
		return 0, err
	}
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM authorized_users`).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}
