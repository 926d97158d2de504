package vectorstore

import (
	"context"
	"sync"

	"github.com/fyrsmithlabs/memsync/internal/backup"
)

// MemoryIndex is an in-process IDIndex. It is safe for concurrent use.
type MemoryIndex struct {
	mu          sync.Mutex
	ids         IDSet
	unsupported bool
	removeErr   error
	backupErr   error
	removeCalls [][]int64
}

// MemoryOption configures a MemoryIndex.
type MemoryOption func(*MemoryIndex)

// WithListingUnsupported makes ListIDs return ErrListingUnsupported, the way
// an index without id enumeration behaves.
func WithListingUnsupported() MemoryOption {
	return func(m *MemoryIndex) { m.unsupported = true }
}

// WithRemoveError makes RemoveIDs fail with err.
func WithRemoveError(err error) MemoryOption {
	return func(m *MemoryIndex) { m.removeErr = err }
}

// WithBackupError makes Backup fail with err.
func WithBackupError(err error) MemoryOption {
	return func(m *MemoryIndex) { m.backupErr = err }
}

// NewMemoryIndex returns an index holding ids.
func NewMemoryIndex(ids []int64, opts ...MemoryOption) *MemoryIndex {
	m := &MemoryIndex{ids: NewIDSet(ids...)}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ListIDs returns a copy of the held ids.
func (m *MemoryIndex) ListIDs(_ context.Context) (IDSet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.unsupported {
		return nil, ErrListingUnsupported
	}
	return m.ids.Union(nil), nil
}

// RemoveIDs deletes ids and counts those that were present.
func (m *MemoryIndex) RemoveIDs(_ context.Context, ids []int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeCalls = append(m.removeCalls, append([]int64(nil), ids...))
	if m.removeErr != nil {
		return 0, m.removeErr
	}
	removed := 0
	for _, id := range ids {
		if m.ids.Has(id) {
			delete(m.ids, id)
			removed++
		}
	}
	return removed, nil
}

// Backup is a no-op unless configured to fail.
func (m *MemoryIndex) Backup(_ context.Context, _ *backup.Manager) (string, error) {
	if m.backupErr != nil {
		return "", m.backupErr
	}
	return "", nil
}

// Location implements IDIndex.
func (m *MemoryIndex) Location() string { return "memory" }

// Close implements IDIndex.
func (m *MemoryIndex) Close() error { return nil }

// IDs returns the ids currently held, ascending. It ignores the
// listing-unsupported option.
func (m *MemoryIndex) IDs() []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ids.Sorted()
}

// RemoveCalls returns the id batches passed to RemoveIDs.
func (m *MemoryIndex) RemoveCalls() [][]int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]int64(nil), m.removeCalls...)
}
