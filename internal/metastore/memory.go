package metastore

import (
	"context"
	"sync"

	"github.com/fyrsmithlabs/memsync/internal/backup"
	"github.com/fyrsmithlabs/memsync/internal/memory"
)

// MemoryStore is an in-process Store. It is safe for concurrent use.
type MemoryStore struct {
	mu        sync.Mutex
	records   []memory.Record
	loadErr   error
	saveErr   error
	backupErr error
	saves     int
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithLoadError makes Load fail with err.
func WithLoadError(err error) MemoryOption {
	return func(s *MemoryStore) { s.loadErr = err }
}

// WithSaveError makes Save fail with err.
func WithSaveError(err error) MemoryOption {
	return func(s *MemoryStore) { s.saveErr = err }
}

// WithBackupError makes Backup fail with err.
func WithBackupError(err error) MemoryOption {
	return func(s *MemoryStore) { s.backupErr = err }
}

// NewMemoryStore returns a store holding records.
func NewMemoryStore(records []memory.Record, opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{records: append([]memory.Record(nil), records...)}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load returns a copy of the held records.
func (s *MemoryStore) Load(_ context.Context) ([]memory.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	return append([]memory.Record{}, s.records...), nil
}

// Save replaces the held records.
func (s *MemoryStore) Save(_ context.Context, records []memory.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.records = append([]memory.Record(nil), records...)
	s.saves++
	return nil
}

// Backup is a no-op unless configured to fail.
func (s *MemoryStore) Backup(_ context.Context, _ *backup.Manager) (string, error) {
	if s.backupErr != nil {
		return "", s.backupErr
	}
	return "", nil
}

// Location implements Store.
func (s *MemoryStore) Location() string { return "memory" }

// Close implements Store.
func (s *MemoryStore) Close() error { return nil }

// Records returns the held records.
func (s *MemoryStore) Records() []memory.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]memory.Record(nil), s.records...)
}

// Saves returns how many times Save succeeded.
func (s *MemoryStore) Saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}
