package registry

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/doeshing/merchat/internal/ports"
)

const reloadDebounce = 250 * time.Millisecond

// Watcher hot-reloads the actions document on change. A reload that fails
// validation is logged and discarded; the running snapshot stays live, so
// in-flight turns always see a consistent catalog.
type Watcher struct {
	path     string
	loader   *Loader
	registry *Registry
	logger   ports.Logger
	fs       *fsnotify.Watcher
}

// NewWatcher starts watching the directory containing path. Watching the
// directory rather than the file survives editors that replace the file on
// save.
func NewWatcher(path string, loader *Loader, registry *Registry, logger ports.Logger) (*Watcher, error) {
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fs.Add(filepath.Dir(path)); err != nil {
		fs.Close()
		return nil, err
	}
	return &Watcher{path: path, loader: loader, registry: registry, logger: logger, fs: fs}, nil
}

// Run blocks processing file events until ctx is done.
func (w *Watcher) Run(ctx context.Context) {
	defer w.fs.Close()

	var timer *time.Timer
	var timerC <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			// Debounce: editors fire bursts of events per save.
			if timer == nil {
				timer = time.NewTimer(reloadDebounce)
				timerC = timer.C
			} else {
				timer.Reset(reloadDebounce)
			}
		case <-timerC:
			w.reload()
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.logger.Warn("action watcher error", map[string]interface{}{"error": err.Error()})
		}
	}
}

func (w *Watcher) reload() {
	defs, err := w.loader.Load(w.path)
	if err != nil {
		w.logger.Error("action reload rejected, keeping current catalog", err, map[string]interface{}{"path": w.path})
		return
	}
	// Every entry skipped as invalid: a hot reload never empties a serving
	// catalog.
	if len(defs) == 0 {
		w.logger.Warn("action reload produced an empty catalog, keeping current", map[string]interface{}{"path": w.path})
		return
	}
	if err := w.registry.Replace(defs); err != nil {
		w.logger.Error("action reload rejected, keeping current catalog", err, map[string]interface{}{"path": w.path})
		return
	}
	w.logger.Info("action catalog reloaded", map[string]interface{}{
		"path": w.path, "actions": len(defs), "version": w.registry.Version(),
	})
}
