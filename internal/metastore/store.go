// Package metastore reads and writes the ordered metadata record collection
// of the hybrid memory.
//
// Two formats are supported: a JSON array file and a SQLite database. Both
// preserve record order and every record's fields byte-for-byte.
package metastore

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/fyrsmithlabs/memsync/internal/backup"
	"github.com/fyrsmithlabs/memsync/internal/memory"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("memsync.metastore")

var (
	// ErrNotFound indicates the metadata source does not exist.
	ErrNotFound = errors.New("metadata store not found")

	// ErrMalformed indicates the metadata source exists but cannot be read
	// as an ordered collection of records.
	ErrMalformed = errors.New("metadata store malformed")

	// ErrUnsupportedFormat indicates an unknown store format.
	ErrUnsupportedFormat = errors.New("unsupported metadata format")
)

// Supported formats.
const (
	FormatJSON   = "json"
	FormatSQLite = "sqlite"
)

// Store is an ordered collection of metadata records.
//
// Load returns the records in stored order. Save replaces the whole
// collection; the stored order becomes the order of records.
type Store interface {
	Load(ctx context.Context) ([]memory.Record, error)
	Save(ctx context.Context, records []memory.Record) error

	// Backup copies the store with m and returns the backup location.
	Backup(ctx context.Context, m *backup.Manager) (string, error)

	// Location describes the store for logs and reports.
	Location() string

	Close() error
}

// Open opens the store at path. An empty format is inferred from the file
// extension: .db, .sqlite and .sqlite3 are SQLite, anything else is JSON.
func Open(ctx context.Context, format, path string, logger *zap.Logger) (Store, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: empty path", ErrNotFound)
	}
	if format == "" {
		format = InferFormat(path)
	}

	switch format {
	case FormatJSON:
		return NewJSONFileStore(path, logger)
	case FormatSQLite:
		return OpenSQLiteStore(ctx, path, logger)
	default:
		return nil, fmt.Errorf("%w: %q (supported: json, sqlite)", ErrUnsupportedFormat, format)
	}
}

// InferFormat maps a file extension to a store format.
func InferFormat(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".db", ".sqlite", ".sqlite3":
		return FormatSQLite
	default:
		return FormatJSON
	}
}
