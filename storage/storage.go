// Package storage abstracts the byte store used for raw uploads and
// persisted JSON state. The core never cares whether the backend is a
// local directory or an object store.
package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

type Backend interface {
	ReadBytes(path string) ([]byte, error)
	// WriteBytes must be atomic: a crash mid-write never leaves a
	// partially written object visible under path.
	WriteBytes(path string, data []byte) error
	ListPaths(prefix string) ([]string, error)
	Remove(path string) error
}

// LocalBackend stores objects as files under a root directory. Writes go
// to a temp file in the same directory followed by a rename.
type LocalBackend struct {
	root string
}

func NewLocalBackend(root string) (*LocalBackend, error) {
	if root == "" {
		return nil, fmt.Errorf("storage root must not be empty")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	return &LocalBackend{root: root}, nil
}

func (b *LocalBackend) ReadBytes(path string) ([]byte, error) {
	data, err := os.ReadFile(b.resolve(path))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}

func (b *LocalBackend) WriteBytes(path string, data []byte) error {
	full := b.resolve(path)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("create parent dir for %s: %w", path, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(full), "."+filepath.Base(full)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file for %s: %w", path, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp file for %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync temp file for %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file for %s: %w", path, err)
	}

	if err := os.Rename(tmpName, full); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}

func (b *LocalBackend) ListPaths(prefix string) ([]string, error) {
	var paths []string
	err := filepath.Walk(b.root, func(full string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			if os.IsNotExist(walkErr) {
				return nil
			}
			return walkErr
		}
		if info.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(b.root, full)
		if relErr != nil {
			return relErr
		}
		rel = filepath.ToSlash(rel)
		if strings.HasPrefix(rel, prefix) {
			paths = append(paths, rel)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", prefix, err)
	}
	sort.Strings(paths)
	return paths, nil
}

func (b *LocalBackend) Remove(path string) error {
	if err := os.Remove(b.resolve(path)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove %s: %w", path, err)
	}
	return nil
}

func (b *LocalBackend) resolve(path string) string {
	return filepath.Join(b.root, filepath.FromSlash(path))
}

var _ Backend = (*LocalBackend)(nil)
