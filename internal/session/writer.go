package session

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
)

// Writer persists a saved binary under a file id. Implementations return an
// error wrapping ErrPermissionDenied when overwriting is refused.
type Writer interface {
	Write(ctx context.Context, fileID string, data []byte) error
}

// WriterFunc adapts a function to Writer.
type WriterFunc func(ctx context.Context, fileID string, data []byte) error

// Write implements Writer.
func (f WriterFunc) Write(ctx context.Context, fileID string, data []byte) error {
	return f(ctx, fileID, data)
}

var safeFileID = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// DirWriter writes binaries as <Dir>/<fileID>.pdf. Files are replaced
// atomically through a temporary file in the same directory.
type DirWriter struct {
	Dir string
}

// Path returns the file a file id is written to.
func (w DirWriter) Path(fileID string) (string, error) {
	if !safeFileID.MatchString(fileID) || fileID == "." || fileID == ".." {
		return "", fmt.Errorf("invalid file id %q", fileID)
	}
	return filepath.Join(w.Dir, fileID+".pdf"), nil
}

// Write implements Writer.
func (w DirWriter) Write(ctx context.Context, fileID string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := w.Path(fileID)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(w.Dir, ".lectorium-*")
	if err != nil {
		return permission(fmt.Errorf("failed to create temporary file: %w", err))
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if info, err := os.Stat(path); err == nil && info.Mode().Perm()&0o200 == 0 {
		return fmt.Errorf("%s is read-only: %w", path, ErrPermissionDenied)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return permission(fmt.Errorf("failed to replace %s: %w", path, err))
	}
	return nil
}

// Read returns the binary stored under fileID.
func (w DirWriter) Read(fileID string) ([]byte, error) {
	path, err := w.Path(fileID)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(path) //nolint:gosec // G304: path is built from a validated id
}

func permission(err error) error {
	if errors.Is(err, fs.ErrPermission) {
		return fmt.Errorf("%w: %w", ErrPermissionDenied, err)
	}
	return err
}
