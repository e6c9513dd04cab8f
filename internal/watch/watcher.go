package watch

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce collapses bursts of writes from a single save or copy.
const DefaultDebounce = 500 * time.Millisecond

// Watcher watches a single file for changes.
type Watcher struct {
	path     string
	onChange func(ctx context.Context)
	debounce time.Duration
	fs       *fsnotify.Watcher
	triggers atomic.Uint32
	running  sync.Mutex
}

// NewWatcher creates a watcher for path. The parent directory is watched so
// that files replaced by rename are still seen.
func NewWatcher(path string, debounce time.Duration, onChange func(ctx context.Context)) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", path, err)
	}

	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	if err := fs.Add(filepath.Dir(abs)); err != nil {
		fs.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}

	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	return &Watcher{
		path:     abs,
		onChange: onChange,
		debounce: debounce,
		fs:       fs,
	}, nil
}

// Run dispatches change events until ctx is done. Callbacks never overlap.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fs.Close()

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-w.fs.Events:
			if !ok {
				return nil
			}

			if filepath.Clean(event.Name) != w.path {
				continue
			}

			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}

			if timer != nil {
				timer.Stop()
			}

			timer = time.AfterFunc(w.debounce, func() {
				w.fire(ctx)
			})

		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}

			slog.Error("Watcher error", "error", err)
		}
	}
}

func (w *Watcher) fire(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	w.running.Lock()
	defer w.running.Unlock()

	count := w.triggers.Add(1)
	slog.Info("Checkpoint changed", "path", w.path, "count", count)
	w.onChange(ctx)
}
