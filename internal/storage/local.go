package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// LocalArchive writes exports under a directory on disk.
// Used when no storage account is configured and by the demo command.
type LocalArchive struct {
	dir string
}

var _ ArchiveInterface = (*LocalArchive)(nil)

// NewLocalArchive creates dir if needed
func NewLocalArchive(dir string) (*LocalArchive, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create archive directory %s: %w", dir, err)
	}
	return &LocalArchive{dir: dir}, nil
}

func (l *LocalArchive) path(name string) string {
	return filepath.Join(l.dir, filepath.FromSlash(name))
}

func (l *LocalArchive) Store(_ context.Context, name string, data []byte) error {
	target := l.path(name)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	return os.WriteFile(target, data, 0o644)
}

func (l *LocalArchive) Retrieve(_ context.Context, name string) ([]byte, error) {
	return os.ReadFile(l.path(name))
}

func (l *LocalArchive) List(_ context.Context, prefix string) ([]string, error) {
	var names []string
	err := filepath.WalkDir(l.dir, func(p string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(l.dir, p)
		if err != nil {
			return err
		}
		name := filepath.ToSlash(rel)
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
		return nil
	})
	sort.Strings(names)
	return names, err
}

func (l *LocalArchive) Delete(_ context.Context, name string) error {
	return os.Remove(l.path(name))
}
