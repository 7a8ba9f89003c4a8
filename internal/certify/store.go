package certify

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrArtifactConflict means a different artifact is already persisted at the
// path. For completion artifacts the only other writer is a concurrent
// completion of the same request, so callers treat it as losing that race.
var ErrArtifactConflict = errors.New("conflicting artifact already exists")

// FileStore persists artifacts. Files are written once and immutable after.
type FileStore interface {
	Write(path string, data []byte) error
	Read(path string) ([]byte, error)
	Exists(path string) (bool, error)
}

// DiskStore is a FileStore rooted at a base directory.
type DiskStore struct {
	root string
}

// NewDiskStore creates a DiskStore rooted at dir.
func NewDiskStore(dir string) *DiskStore {
	return &DiskStore{root: dir}
}

func (s *DiskStore) fullPath(path string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(path))
	if strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return "", fmt.Errorf("invalid artifact path %q", path)
	}
	return filepath.Join(s.root, clean), nil
}

// Write persists data at path. Overwriting an existing file is rejected unless
// the content is byte-identical, which keeps retried certifications idempotent.
func (s *DiskStore) Write(path string, data []byte) error {
	full, err := s.fullPath(path)
	if err != nil {
		return err
	}
	if existing, err := os.ReadFile(full); err == nil {
		if bytes.Equal(existing, data) {
			return nil
		}
		return fmt.Errorf("artifact %q: %w", path, ErrArtifactConflict)
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("create artifact dir: %w", err)
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return fmt.Errorf("write artifact: %w", err)
	}
	return nil
}

// Read returns the exact persisted bytes at path.
func (s *DiskStore) Read(path string) ([]byte, error) {
	full, err := s.fullPath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return nil, fmt.Errorf("read artifact: %w", err)
	}
	return data, nil
}

// Exists reports whether an artifact is present at path.
func (s *DiskStore) Exists(path string) (bool, error) {
	full, err := s.fullPath(path)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(full); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
