package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/fyrsmithlabs/memsync/internal/backup"
)

// Common errors
var (
	// ErrIndexNotFound is returned when the index location does not exist.
	ErrIndexNotFound = errors.New("vector index not found")

	// ErrCollectionNotFound is returned when a collection doesn't exist.
	ErrCollectionNotFound = errors.New("collection not found")

	// ErrCorruptCollection is returned when a collection has documents but
	// no metadata file.
	ErrCorruptCollection = errors.New("collection is corrupt")

	// ErrInvalidConfig is returned when configuration is invalid.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrConnectionFailed is returned when connection to the index fails.
	ErrConnectionFailed = errors.New("failed to connect to vector index")

	// ErrInvalidCollectionName is returned when a collection name fails validation.
	ErrInvalidCollectionName = errors.New("invalid collection name")

	// ErrListingUnsupported is returned by ListIDs when the index cannot
	// enumerate its identifiers. Callers disable existence checks for the
	// run instead of failing.
	ErrListingUnsupported = errors.New("index cannot enumerate identifiers")
)

// IDIndex is the view of an ANN index the reconciler needs: the set of ids
// it holds and a way to delete some of them.
//
// Implementations:
//   - ChromemIndex: chromem-go persistent database on local disk
//   - QdrantIndex: Qdrant collection over native gRPC
//   - MemoryIndex: in-process set, for tests and dry runs
type IDIndex interface {
	// ListIDs returns a snapshot of every identifier in the index.
	// It returns ErrListingUnsupported when enumeration is impossible.
	ListIDs(ctx context.Context) (IDSet, error)

	// RemoveIDs deletes the given identifiers and returns how many were
	// actually present. Absent identifiers are ignored.
	RemoveIDs(ctx context.Context, ids []int64) (int, error)

	// Backup snapshots the index before destructive writes and returns
	// where the snapshot went.
	Backup(ctx context.Context, m *backup.Manager) (string, error)

	// Location describes the index for logs and reports.
	Location() string

	// Close releases the index's resources.
	Close() error
}

// collectionNamePattern validates collection names.
var collectionNamePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)

// ValidateCollectionName validates a collection name against security rules.
// Pattern: ^[a-zA-Z0-9_-]{1,64}$
// Rejects: special chars, path traversal, spaces.
func ValidateCollectionName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: collection name cannot be empty", ErrInvalidCollectionName)
	}
	if !collectionNamePattern.MatchString(name) {
		return fmt.Errorf("%w: collection name must match pattern ^[a-zA-Z0-9_-]{1,64}$, got %q", ErrInvalidCollectionName, name)
	}
	return nil
}
