package metastore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/fyrsmithlabs/memsync/internal/backup"
	"github.com/fyrsmithlabs/memsync/internal/memory"
	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// JSONFileStore keeps records as a JSON array of objects in one file.
type JSONFileStore struct {
	path   string
	logger *zap.Logger
}

// NewJSONFileStore returns a store for the file at path. The file is not
// read until Load.
func NewJSONFileStore(path string, logger *zap.Logger) (*JSONFileStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", path, err)
	}
	return &JSONFileStore{path: abs, logger: logger}, nil
}

// Load reads the array. A missing file is ErrNotFound; invalid JSON, a
// non-array root or a non-object element is ErrMalformed.
func (s *JSONFileStore) Load(ctx context.Context) ([]memory.Record, error) {
	_, span := tracer.Start(ctx, "JSONFileStore.Load")
	defer span.End()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		span.SetStatus(codes.Error, "not found")
		return nil, fmt.Errorf("%w: %s", ErrNotFound, s.path)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("reading %s: %w", s.path, err)
	}

	records, err := decodeArray(data)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("%s: %w", s.path, err)
	}

	span.SetAttributes(attribute.Int("records", len(records)))
	span.SetStatus(codes.Ok, "success")
	s.logger.Debug("loaded metadata records",
		zap.String("path", s.path),
		zap.Int("records", len(records)),
	)
	return records, nil
}

func decodeArray(data []byte) ([]memory.Record, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("%w: invalid JSON", ErrMalformed)
	}
	root := gjson.ParseBytes(data)
	if !root.IsArray() {
		return nil, fmt.Errorf("%w: expected a JSON array of records", ErrMalformed)
	}

	var (
		records []memory.Record
		decErr  error
		i       int
	)
	root.ForEach(func(_, value gjson.Result) bool {
		rec, err := memory.FromResult(value)
		if err != nil {
			decErr = fmt.Errorf("%w: element %d: %w", ErrMalformed, i, err)
			return false
		}
		records = append(records, rec)
		i++
		return true
	})
	if decErr != nil {
		return nil, decErr
	}
	if records == nil {
		records = []memory.Record{}
	}
	return records, nil
}

// Save replaces the file atomically. The array is indented with two spaces
// and non-ASCII text is written unescaped. The file keeps its permissions.
func (s *JSONFileStore) Save(ctx context.Context, records []memory.Record) error {
	_, span := tracer.Start(ctx, "JSONFileStore.Save")
	defer span.End()
	span.SetAttributes(attribute.Int("records", len(records)))

	data, err := encodeArray(records)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("encoding records: %w", err)
	}

	if err := writeFileAtomic(s.path, data); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	span.SetStatus(codes.Ok, "success")
	s.logger.Debug("wrote metadata records",
		zap.String("path", s.path),
		zap.Int("records", len(records)),
		zap.Int("bytes", len(data)),
	)
	return nil
}

func encodeArray(records []memory.Record) ([]byte, error) {
	var compact bytes.Buffer
	compact.WriteByte('[')
	for i, r := range records {
		if i > 0 {
			compact.WriteByte(',')
		}
		b, err := r.MarshalJSON()
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		compact.Write(b)
	}
	compact.WriteByte(']')

	var out bytes.Buffer
	if err := json.Indent(&out, compact.Bytes(), "", "  "); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

func writeFileAtomic(path string, data []byte) error {
	perm := fs.FileMode(0o600)
	if info, err := os.Stat(path); err == nil {
		perm = info.Mode().Perm()
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpPath) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("writing %s: %w", tmpPath, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("syncing %s: %w", tmpPath, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("closing %s: %w", tmpPath, err)
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		cleanup()
		return fmt.Errorf("chmod %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		cleanup()
		return fmt.Errorf("replacing %s: %w", path, err)
	}
	return nil
}

// Backup copies the file.
func (s *JSONFileStore) Backup(ctx context.Context, m *backup.Manager) (string, error) {
	return m.File(ctx, s.path)
}

// Location implements Store.
func (s *JSONFileStore) Location() string { return "json:" + s.path }

// Close implements Store.
func (s *JSONFileStore) Close() error { return nil }
