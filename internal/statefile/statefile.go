// Package statefile persists small JSON state blobs on local disk with
// cross-process file locking. Reads are best-effort: a missing or corrupt file
// yields the caller's zero value instead of an error, so a damaged state file
// never prevents startup.
package statefile

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// File is one persisted JSON document. Safe for use from multiple processes:
// writes hold an exclusive flock and land via temp-file rename.
type File struct {
	path string
	lock *flock.Flock
}

// New creates a handle for the document at path. The sibling lock file is
// path + ".lock".
func New(path string) *File {
	return &File{
		path: path,
		lock: flock.New(path + ".lock"),
	}
}

// Path returns the document's location on disk.
func (f *File) Path() string {
	return f.path
}

// Load reads the document into v. A missing file leaves v untouched and
// returns false; a corrupt file is logged, left in place for inspection, and
// also returns false. The error return is reserved for lock failures.
func (f *File) Load(v any) (bool, error) {
	if err := f.lock.Lock(); err != nil {
		return false, fmt.Errorf("lock %s: %w", f.path, err)
	}
	defer func() { _ = f.lock.Unlock() }()

	data, err := os.ReadFile(f.path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			slog.Warn("state file unreadable, using defaults", "path", f.path, "error", err)
		}
		return false, nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		slog.Warn("state file corrupt, using defaults", "path", f.path, "error", err)
		return false, nil
	}
	return true, nil
}

// Save writes v as indented JSON. The write is atomic: readers see either the
// previous document or the new one, never a partial file.
func (f *File) Save(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state for %s: %w", f.path, err)
	}

	if err := f.lock.Lock(); err != nil {
		return fmt.Errorf("lock %s: %w", f.path, err)
	}
	defer func() { _ = f.lock.Unlock() }()

	return atomicWrite(f.path, data)
}

// Remove deletes the document. Missing files are not an error.
func (f *File) Remove() error {
	if err := f.lock.Lock(); err != nil {
		return fmt.Errorf("lock %s: %w", f.path, err)
	}
	defer func() { _ = f.lock.Unlock() }()

	if err := os.Remove(f.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", f.path, err)
	}
	return nil
}

// atomicWrite lands data at path via a same-directory temp file and rename.
func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create dir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		if tmp != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename into %s: %w", path, err)
	}
	tmp = nil
	return nil
}
