package vectorstore

import (
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/gob"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fyrsmithlabs/memsync/internal/backup"
	"github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

var chromemTracer = otel.Tracer("memsync.vectorstore.chromem")

const (
	// metadataFileName is the collection metadata file chromem-go writes
	// next to the documents, before the .gob[.gz] extension.
	metadataFileName = "00000000"

	chromemProvider = "chromem"
)

// ChromemConfig holds configuration for a chromem-go persistent database.
type ChromemConfig struct {
	// Path is the database directory. "~" expands to the home directory.
	Path string

	// CollectionName is the collection holding the memory vectors.
	CollectionName string

	// Compress must match how the database was written (.gob.gz files).
	Compress bool
}

// Validate validates the configuration.
func (c ChromemConfig) Validate() error {
	if c.Path == "" {
		return fmt.Errorf("%w: path required", ErrInvalidConfig)
	}
	return ValidateCollectionName(c.CollectionName)
}

// persistedDocument mirrors the fields of chromem.Document that gob stores.
// Only ID is needed; gob skips the rest.
type persistedDocument struct {
	ID string
}

// ChromemIndex is an IDIndex over one collection of a chromem-go
// persistent database.
//
// Identifiers are read by decoding the collection's document files
// directly, since chromem-go only looks documents up by id. Deletes go
// through chromem-go so its in-memory state and files stay consistent.
type ChromemIndex struct {
	db         *chromem.DB
	collection *chromem.Collection
	config     ChromemConfig
	dir        string
	logger     *zap.Logger

	mu sync.Mutex
	// docIDs maps a parsed id to the stored document ids it was read from.
	// "7", "007" and "+7" all parse to 7 and must be deleted by their own text.
	docIDs map[int64][]string
}

// NewChromemIndex opens the database at config.Path and its collection.
//
// Returns an error if:
//   - Configuration is invalid
//   - The database directory does not exist (ErrIndexNotFound)
//   - The collection directory or metadata is missing (ErrCollectionNotFound)
//   - Documents exist without collection metadata (ErrCorruptCollection)
func NewChromemIndex(config ChromemConfig, logger *zap.Logger) (*ChromemIndex, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	path, err := expandPath(config.Path)
	if err != nil {
		return nil, fmt.Errorf("expanding path: %w", err)
	}
	config.Path = path

	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrIndexNotFound, path)
	}
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrIndexNotFound, path)
	}

	dir := filepath.Join(path, CollectionDir(config.CollectionName))
	if err := checkCollectionDir(dir, config.Compress); err != nil {
		return nil, fmt.Errorf("collection %q: %w", config.CollectionName, err)
	}

	db, err := chromem.NewPersistentDB(path, config.Compress)
	if err != nil {
		return nil, fmt.Errorf("opening chromem DB: %w", err)
	}
	collection := db.GetCollection(config.CollectionName, nil)
	if collection == nil {
		return nil, fmt.Errorf("%w: %q", ErrCollectionNotFound, config.CollectionName)
	}

	logger.Debug("chromem index opened",
		zap.String("path", path),
		zap.String("collection", config.CollectionName),
		zap.String("dir", dir),
		zap.Int("documents", collection.Count()),
	)

	return &ChromemIndex{
		db:         db,
		collection: collection,
		config:     config,
		dir:        dir,
		logger:     logger,
	}, nil
}

// CollectionDir returns the directory name chromem-go uses for a
// collection: the first 8 hex chars of the SHA-256 of its name.
func CollectionDir(name string) string {
	sum := sha256.Sum256([]byte(name))
	return hex.EncodeToString(sum[:])[:8]
}

func fileExt(compress bool) string {
	if compress {
		return ".gob.gz"
	}
	return ".gob"
}

// checkCollectionDir classifies a collection directory the way the
// metadata health check does: metadata present is healthy, documents
// without metadata is corrupt, nothing at all is missing.
func checkCollectionDir(dir string, compress bool) error {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return ErrCollectionNotFound
	}
	if err != nil {
		return fmt.Errorf("reading collection directory: %w", err)
	}

	ext := fileExt(compress)
	hasMetadata, documents := false, 0
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ext) {
			continue
		}
		if e.Name() == metadataFileName+ext {
			hasMetadata = true
		} else {
			documents++
		}
	}

	switch {
	case hasMetadata:
		return nil
	case documents > 0:
		return fmt.Errorf("%w: %d documents, no metadata", ErrCorruptCollection, documents)
	default:
		return ErrCollectionNotFound
	}
}

// ListIDs decodes every document file of the collection. Documents whose
// id is not a base-10 int64 are skipped and counted.
func (c *ChromemIndex) ListIDs(ctx context.Context) (_ IDSet, err error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemIndex.ListIDs")
	defer span.End()
	defer func(start time.Time) { observe(chromemProvider, "list", start, err) }(time.Now())

	entries, err := os.ReadDir(c.dir)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("reading collection directory: %w", err)
	}

	ext := fileExt(c.config.Compress)
	ids := make(IDSet, len(entries))
	docIDs := make(map[int64][]string, len(entries))
	skipped := 0
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ext) || name == metadataFileName+ext {
			continue
		}

		docID, err := readDocumentID(filepath.Join(c.dir, name), c.config.Compress)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("decoding %s: %w", name, err)
		}

		id, err := strconv.ParseInt(strings.TrimSpace(docID), 10, 64)
		if err != nil {
			skipped++
			c.logger.Debug("skipping non-numeric document id",
				zap.String("file", name),
				zap.String("id", docID),
			)
			continue
		}
		ids.Add(id)
		docIDs[id] = append(docIDs[id], docID)
	}

	c.mu.Lock()
	c.docIDs = docIDs
	c.mu.Unlock()

	if skipped > 0 {
		SkippedIDsTotal.WithLabelValues(chromemProvider, "non_numeric").Add(float64(skipped))
		c.logger.Warn("index holds documents with non-numeric ids",
			zap.String("collection", c.config.CollectionName),
			zap.Int("skipped", skipped),
		)
	}

	span.SetAttributes(
		attribute.Int("ids", ids.Len()),
		attribute.Int("skipped", skipped),
	)
	span.SetStatus(codes.Ok, "success")
	return ids, nil
}

func readDocumentID(path string, compressed bool) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	var r io.Reader = f
	if compressed {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return "", fmt.Errorf("opening gzip stream: %w", err)
		}
		defer gz.Close()
		r = gz
	}

	var doc persistedDocument
	if err := gob.NewDecoder(r).Decode(&doc); err != nil {
		return "", err
	}
	return doc.ID, nil
}

// RemoveIDs deletes the documents with the given ids. Each id is deleted by
// its canonical text and by every stored spelling ListIDs saw for it. The
// returned count is the drop in the collection's document count.
func (c *ChromemIndex) RemoveIDs(ctx context.Context, ids []int64) (removed int, err error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemIndex.RemoveIDs")
	defer span.End()
	span.SetAttributes(
		attribute.Int("id_count", len(ids)),
		attribute.String("collection", c.config.CollectionName),
	)

	if len(ids) == 0 {
		return 0, nil
	}
	defer func(start time.Time) { observe(chromemProvider, "remove", start, err) }(time.Now())

	docIDs := c.documentIDs(ids)

	before := c.collection.Count()
	if err := c.collection.Delete(ctx, nil, nil, docIDs...); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return before - c.collection.Count(), fmt.Errorf("deleting documents: %w", err)
	}
	removed = before - c.collection.Count()

	c.logger.Debug("deleted documents from chromem",
		zap.String("collection", c.config.CollectionName),
		zap.Int("requested", len(ids)),
		zap.Int("removed", removed),
	)
	span.SetAttributes(attribute.Int("removed", removed))
	span.SetStatus(codes.Ok, "success")
	return removed, nil
}

func (c *ChromemIndex) documentIDs(ids []int64) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	add := func(docID string) {
		if _, ok := seen[docID]; ok {
			return
		}
		seen[docID] = struct{}{}
		out = append(out, docID)
	}
	for _, id := range ids {
		add(strconv.FormatInt(id, 10))
		for _, docID := range c.docIDs[id] {
			add(docID)
		}
	}
	return out
}

// Backup archives the collection directory.
func (c *ChromemIndex) Backup(ctx context.Context, m *backup.Manager) (dest string, err error) {
	defer func(start time.Time) { observe(chromemProvider, "backup", start, err) }(time.Now())
	return m.Dir(ctx, c.dir)
}

// Location implements IDIndex.
func (c *ChromemIndex) Location() string {
	return fmt.Sprintf("chromem:%s#%s", c.config.Path, c.config.CollectionName)
}

// Close implements IDIndex. chromem-go writes through on every change, so
// there is nothing to flush.
func (c *ChromemIndex) Close() error { return nil }

// expandPath expands ~ to home directory.
func expandPath(path string) (string, error) {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, path[1:]), nil
	}
	return path, nil
}
