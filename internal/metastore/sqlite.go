package metastore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	"github.com/fyrsmithlabs/memsync/internal/backup"
	"github.com/fyrsmithlabs/memsync/internal/memory"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	_ "modernc.org/sqlite"
)

// SQLiteSchema creates the table SQLiteStore reads. body holds the record
// as a JSON object; vector_id mirrors its identifier for ad hoc queries and
// is NULL when the identifier is invalid.
const SQLiteSchema = `CREATE TABLE IF NOT EXISTS memories (
	position  INTEGER PRIMARY KEY,
	vector_id TEXT,
	body      TEXT NOT NULL
)`

// SQLiteStore keeps records in the memories table of a SQLite database,
// ordered by position.
type SQLiteStore struct {
	db     *sql.DB
	path   string
	logger *zap.Logger
}

// OpenSQLiteStore opens an existing database. A missing file is ErrNotFound
// and a database without the memories table is ErrMalformed; neither is
// created.
func OpenSQLiteStore(ctx context.Context, path string, logger *zap.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", path, err)
	}

	info, err := os.Stat(abs)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, abs)
	}
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", abs, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", ErrMalformed, abs)
	}

	db, err := sql.Open("sqlite", abs)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}
	// One connection keeps the rollback journal the only writer.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, path: abs, logger: logger}
	if err := s.configure(ctx); err != nil {
		db.Close()
		return nil, err
	}
	if err := s.checkSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) configure(ctx context.Context) error {
	pragmas := []string{
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=FULL",
	}
	for _, pragma := range pragmas {
		if _, err := s.db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("%w: applying %q: %v", ErrMalformed, pragma, err)
		}
	}
	return nil
}

func (s *SQLiteStore) checkSchema(ctx context.Context) error {
	var name string
	err := s.db.QueryRowContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name = 'memories'`,
	).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s has no memories table", ErrMalformed, s.path)
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformed, s.path, err)
	}
	return nil
}

// Load reads every row in position order. A body that is not a JSON
// object is ErrMalformed.
func (s *SQLiteStore) Load(ctx context.Context) ([]memory.Record, error) {
	ctx, span := tracer.Start(ctx, "SQLiteStore.Load")
	defer span.End()

	rows, err := s.db.QueryContext(ctx, `SELECT position, body FROM memories ORDER BY position`)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("querying memories: %w", err)
	}
	defer rows.Close()

	records := []memory.Record{}
	for rows.Next() {
		var (
			pos  int64
			body string
		)
		if err := rows.Scan(&pos, &body); err != nil {
			return nil, fmt.Errorf("scanning memories: %w", err)
		}
		rec, err := memory.ParseRecord([]byte(body))
		if err != nil {
			err = fmt.Errorf("%w: row %d: %w", ErrMalformed, pos, err)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading memories: %w", err)
	}

	span.SetAttributes(attribute.Int("records", len(records)))
	span.SetStatus(codes.Ok, "success")
	s.logger.Debug("loaded metadata records",
		zap.String("path", s.path),
		zap.Int("records", len(records)),
	)
	return records, nil
}

// Save replaces all rows in one transaction. Positions are renumbered from
// zero in slice order.
func (s *SQLiteStore) Save(ctx context.Context, records []memory.Record) (err error) {
	ctx, span := tracer.Start(ctx, "SQLiteStore.Save")
	defer span.End()
	span.SetAttributes(attribute.Int("records", len(records)))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err := tx.ExecContext(ctx, `DELETE FROM memories`); err != nil {
		return fmt.Errorf("clearing memories: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO memories (position, vector_id, body) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	for i, r := range records {
		body, err := r.MarshalJSON()
		if err != nil {
			return fmt.Errorf("encoding record %d: %w", i, err)
		}
		var vid sql.NullString
		if r.HasValidVectorID() {
			vid = sql.NullString{String: strconv.FormatInt(r.VectorID(), 10), Valid: true}
		}
		if _, err := stmt.ExecContext(ctx, i, vid, string(body)); err != nil {
			return fmt.Errorf("inserting record %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing: %w", err)
	}

	span.SetStatus(codes.Ok, "success")
	s.logger.Debug("wrote metadata records",
		zap.String("path", s.path),
		zap.Int("records", len(records)),
	)
	return nil
}

// Backup copies the database file. No transaction is open between calls,
// so the file is consistent.
func (s *SQLiteStore) Backup(ctx context.Context, m *backup.Manager) (string, error) {
	return m.File(ctx, s.path)
}

// Location implements Store.
func (s *SQLiteStore) Location() string { return "sqlite:" + s.path }

// Close closes the database.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
