package taskmaster

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultDebounce = 500 * time.Millisecond

// ReloadFunc is called after the master file changed.
type ReloadFunc func(ctx context.Context) error

// Watcher invalidates the loader cache and runs callbacks when the master file
// is rewritten. The directory is watched because spreadsheet applications
// save through a temporary file and rename.
type Watcher struct {
	loader   *Loader
	watcher  *fsnotify.Watcher
	logger   *slog.Logger
	debounce time.Duration

	mu        sync.Mutex
	timer     *time.Timer
	callbacks []ReloadFunc
}

// NewWatcher starts watching the directory of the loader's file.
func NewWatcher(loader *Loader, logger *slog.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	dir := filepath.Dir(loader.Path())
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{loader: loader, watcher: fw, logger: logger, debounce: defaultDebounce}, nil
}

// OnReload registers a callback.
func (w *Watcher) OnReload(fn ReloadFunc) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, fn)
}

// Run processes events until ctx is done or the watcher is closed.
func (w *Watcher) Run(ctx context.Context) {
	target := filepath.Base(w.loader.Path())
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.logger.Debug("task master changed", "file", event.Name, "op", event.Op.String())
			w.schedule(ctx)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("task master watcher", "err", err)
		}
	}
}

// Close stops the underlying watcher.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()
	return w.watcher.Close()
}

func (w *Watcher) schedule(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() { w.reload(ctx) })
}

func (w *Watcher) reload(ctx context.Context) {
	w.loader.Invalidate()
	if _, err := w.loader.Records(ctx); err != nil {
		w.logger.Error("reload task master", "err", err)
		return
	}
	w.mu.Lock()
	callbacks := append([]ReloadFunc(nil), w.callbacks...)
	w.mu.Unlock()
	for _, fn := range callbacks {
		if err := fn(ctx); err != nil {
			w.logger.Warn("task master reload callback", "err", err)
		}
	}
}
