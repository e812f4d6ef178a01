// Package pidfile records running server processes.
//
// Each process writes its own file named after its PID into a shared
// directory, so several servers can run side by side and an operator can
// signal all of them with `kill -HUP $(ls <dir>)`.
package pidfile

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
)

// File is a PID file owned by the current process.
type File struct {
	path string
}

// Create writes <dir>/<pid> containing the PID, creating dir if needed.
func Create(dir string) (*File, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create pid directory %s: %w", dir, err)
	}

	pid := strconv.Itoa(os.Getpid())
	path := filepath.Join(dir, pid)

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create pid file %s: %w", path, err)
	}
	defer f.Close()

	if _, err := f.WriteString(pid + "\n"); err != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("failed to write pid file %s: %w", path, err)
	}

	return &File{path: path}, nil
}

// Path returns the location of the file.
func (f *File) Path() string {
	return f.path
}

// Remove deletes the file. Removing an already removed file is not an error.
func (f *File) Remove() error {
	if err := os.Remove(f.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove pid file %s: %w", f.path, err)
	}
	return nil
}
