// Package fsys enumerates directories for listing pages.
package fsys

import (
	"fmt"
	"io/fs"
	"os"
	"sort"
)

// Entry is one directory member.
type Entry struct {
	Name      string
	IsDir     bool
	IsSymlink bool
}

// Lister enumerates the entries of a directory.
type Lister interface {
	List(dir string) ([]Entry, error)
}

// OSLister lists directories of the local filesystem.
type OSLister struct{}

// List returns the entries of dir sorted by name. A symlink pointing at a
// directory is reported as a symlink, not a directory.
func (OSLister) List(dir string) ([]Entry, error) {
	dirEntries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read directory %s: %w", dir, err)
	}

	entries := make([]Entry, 0, len(dirEntries))
	for _, de := range dirEntries {
		mode := de.Type()
		entries = append(entries, Entry{
			Name:      de.Name(),
			IsDir:     mode.IsDir(),
			IsSymlink: mode&fs.ModeSymlink != 0,
		})
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name < entries[j].Name
	})
	return entries, nil
}
