// Package staging manages the local directory where downloaded content is
// materialized for callers.
//
// The directory is shared by all retrievals. Two retrievals of the same leaf
// name write the same staged file, and Clear races with in-flight readers.
package staging

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/fruitsalade/pathstore/internal/metrics"
)

// ErrInvalidName is returned for names that would escape the directory.
var ErrInvalidName = errors.New("staging: invalid file name")

// Dir is a staging directory.
type Dir struct {
	root string
}

// New creates a staging directory rooted at root, creating it if needed.
func New(root string) (*Dir, error) {
	if root == "" {
		return nil, fmt.Errorf("staging root is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve staging root %s: %w", root, err)
	}

	info, err := os.Stat(abs)
	switch {
	case os.IsNotExist(err):
		if err := os.MkdirAll(abs, 0755); err != nil {
			return nil, fmt.Errorf("create staging root %s: %w", abs, err)
		}
	case err != nil:
		return nil, fmt.Errorf("stat staging root %s: %w", abs, err)
	case !info.IsDir():
		return nil, fmt.Errorf("staging root %s is not a directory", abs)
	}

	return &Dir{root: abs}, nil
}

// Root returns the absolute directory path.
func (d *Dir) Root() string { return d.root }

// Path returns where name is staged.
func (d *Dir) Path(name string) (string, error) {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return filepath.Join(d.root, name), nil
}

// WriteStream copies r into the staged file for name, replacing any previous
// copy. The write goes through a temp file and a rename so readers never see
// a partial file.
func (d *Dir) WriteStream(name string, r io.Reader) (string, int64, error) {
	path, err := d.Path(name)
	if err != nil {
		return "", 0, err
	}

	tmp, err := os.CreateTemp(d.root, ".pathstore-*.tmp")
	if err != nil {
		return "", 0, fmt.Errorf("create temp for %s: %w", name, err)
	}
	tmpName := tmp.Name()

	n, err := io.Copy(tmp, r)
	if err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", n, fmt.Errorf("write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", n, fmt.Errorf("close temp for %s: %w", name, err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return "", n, fmt.Errorf("rename temp to %s: %w", name, err)
	}

	metrics.RecordStaged(n)
	return path, n, nil
}

// OpenForRead opens the staged file for name.
func (d *Dir) OpenForRead(name string) (*os.File, error) {
	path, err := d.Path(name)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open staged %s: %w", name, err)
	}
	return f, nil
}

// Clear deletes everything inside the directory but keeps the directory.
func (d *Dir) Clear() error {
	entries, err := os.ReadDir(d.root)
	if err != nil {
		return fmt.Errorf("read staging dir: %w", err)
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(d.root, e.Name())); err != nil {
			return fmt.Errorf("remove %s: %w", e.Name(), err)
		}
	}
	return nil
}
