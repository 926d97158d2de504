// Package backup takes point-in-time copies of the stores before memsync
// rewrites them.
package backup

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"
)

// ErrBackupFailed wraps every failure to produce a backup. Callers treat it
// as a reason to abort before any destructive write.
var ErrBackupFailed = errors.New("backup failed")

// timestampLayout matches the .bak-YYYYmmdd-HHMMSS suffix.
const timestampLayout = "20060102-150405"

// Options controls where and how backups are written.
type Options struct {
	// Dir is the directory backups are written to. Empty means next to the
	// source.
	Dir string `koanf:"dir"`

	// Compress writes zstd-compressed backups with a .zst suffix.
	Compress bool `koanf:"compress"`
}

// Manager writes backups. It is not safe for concurrent use.
type Manager struct {
	opts   Options
	logger *zap.Logger
	now    func() time.Time
}

// New creates a Manager.
func New(opts Options, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{opts: opts, logger: logger, now: time.Now}
}

// Target returns a fresh backup path for src with the given extension.
// The directory is created if needed and the name never collides with an
// existing file.
func (m *Manager) Target(src, ext string) (string, error) {
	dir := m.opts.Dir
	if dir == "" {
		dir = filepath.Dir(src)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("%w: creating backup dir %s: %w", ErrBackupFailed, dir, err)
	}

	base := fmt.Sprintf("%s.bak-%s", filepath.Base(src), m.now().Format(timestampLayout))
	candidate := filepath.Join(dir, base+ext)
	for i := 1; ; i++ {
		if _, err := os.Lstat(candidate); errors.Is(err, fs.ErrNotExist) {
			return candidate, nil
		}
		candidate = filepath.Join(dir, fmt.Sprintf("%s-%d%s", base, i, ext))
	}
}

// File copies a single file. A missing source is not an error: there is
// nothing to protect, and "" is returned.
func (m *Manager) File(ctx context.Context, src string) (string, error) {
	info, err := os.Stat(src)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("%w: stat %s: %w", ErrBackupFailed, src, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("%w: %s is a directory", ErrBackupFailed, src)
	}

	ext := ""
	if m.opts.Compress {
		ext = ".zst"
	}
	dest, err := m.Target(src, ext)
	if err != nil {
		return "", err
	}

	if err := m.copyFile(ctx, src, dest, info); err != nil {
		_ = os.Remove(dest)
		return "", fmt.Errorf("%w: copying %s: %w", ErrBackupFailed, src, err)
	}

	m.logger.Info("backed up file",
		zap.String("source", src),
		zap.String("backup", dest),
		zap.Bool("compressed", m.opts.Compress),
	)
	return dest, nil
}

func (m *Manager) copyFile(ctx context.Context, src, dest string, info fs.FileInfo) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_EXCL, info.Mode().Perm())
	if err != nil {
		return err
	}

	w, finish, err := m.wrapWriter(out)
	if err != nil {
		out.Close()
		return err
	}
	if _, err := io.Copy(w, &ctxReader{ctx: ctx, r: in}); err != nil {
		out.Close()
		return err
	}
	if err := finish(); err != nil {
		out.Close()
		return err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}

	// Keep the source mtime on plain copies, like cp -p.
	if !m.opts.Compress {
		_ = os.Chtimes(dest, info.ModTime(), info.ModTime())
	}
	return nil
}

// Dir archives a directory tree into a tar (or tar.zst) file. A missing
// source yields "".
func (m *Manager) Dir(ctx context.Context, src string) (string, error) {
	info, err := os.Stat(src)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("%w: stat %s: %w", ErrBackupFailed, src, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%w: %s is not a directory", ErrBackupFailed, src)
	}

	ext := ".tar"
	if m.opts.Compress {
		ext = ".tar.zst"
	}
	dest, err := m.Target(src, ext)
	if err != nil {
		return "", err
	}

	if err := m.archiveDir(ctx, src, dest); err != nil {
		_ = os.Remove(dest)
		return "", fmt.Errorf("%w: archiving %s: %w", ErrBackupFailed, src, err)
	}

	m.logger.Info("backed up directory",
		zap.String("source", src),
		zap.String("backup", dest),
		zap.Bool("compressed", m.opts.Compress),
	)
	return dest, nil
}

func (m *Manager) archiveDir(ctx context.Context, src, dest string) error {
	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return err
	}
	defer out.Close()

	w, finish, err := m.wrapWriter(out)
	if err != nil {
		return err
	}

	tw := tar.NewWriter(w)
	root := filepath.Base(src)
	walkErr := filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}

		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(filepath.Join(root, rel))
		if d.IsDir() {
			hdr.Name += "/"
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return nil
		}

		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
	if walkErr != nil {
		return walkErr
	}

	if err := tw.Close(); err != nil {
		return err
	}
	if err := finish(); err != nil {
		return err
	}
	return out.Sync()
}

// wrapWriter returns the writer to copy into and a function that flushes
// any compression state.
func (m *Manager) wrapWriter(out io.Writer) (io.Writer, func() error, error) {
	if !m.opts.Compress {
		return out, func() error { return nil }, nil
	}
	enc, err := zstd.NewWriter(out)
	if err != nil {
		return nil, nil, err
	}
	return enc, enc.Close, nil
}

// ctxReader stops a copy when the context is canceled.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
