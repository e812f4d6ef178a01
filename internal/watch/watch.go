// Package watch notifies when a configuration file changes on disk.
package watch

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/marmos91/zest/internal/logger"
)

// DefaultDebounce collapses the bursts of events editors produce on save.
const DefaultDebounce = 200 * time.Millisecond

// Watcher calls OnChange after the watched file was written, created or
// replaced.
//
// The parent directory is watched rather than the file itself: editors and
// config management tools usually replace the file with a rename, which
// would silently end a watch on the old inode.
type Watcher struct {
	fs       *fsnotify.Watcher
	file     string
	onChange func()
	debounce time.Duration
}

// New starts watching path. onChange runs on the Watcher's goroutine.
func New(path string, onChange func()) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", path, err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(abs)); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}

	return &Watcher{
		fs:       fsw,
		file:     abs,
		onChange: onChange,
		debounce: DefaultDebounce,
	}, nil
}

// Run delivers change notifications until ctx is cancelled, then closes
// the underlying watcher.
func (w *Watcher) Run(ctx context.Context) {
	defer w.fs.Close()

	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.file {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			logger.Debug("Configuration file event: %s", ev)
			pending = time.After(w.debounce)

		case <-pending:
			pending = nil
			logger.Info("Configuration file %s changed", w.file)
			w.onChange()

		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			logger.Warn("Configuration watcher error: %v", err)
		}
	}
}
