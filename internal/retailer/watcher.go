package retailer

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const reloadDebounce = 300 * time.Millisecond

// Watcher reloads a profile file into a Registry whenever it changes on
// disk. A file that fails to parse is logged and ignored; the registry keeps
// the last good profiles.
type Watcher struct {
	path     string
	registry *Registry
	logger   *zap.Logger
}

func NewWatcher(path string, registry *Registry, logger *zap.Logger) *Watcher {
	return &Watcher{path: path, registry: registry, logger: logger}
}

// Reload applies the file once.
func (w *Watcher) Reload() error {
	profiles, err := LoadFile(w.path)
	if err != nil {
		return err
	}
	w.registry.Replace(profiles)
	w.logger.Info("retailer profiles reloaded",
		zap.String("path", w.path),
		zap.Int("profiles", len(profiles)),
	)
	return nil
}

// Watch blocks until ctx is cancelled. The parent directory is watched so
// editors that replace the file atomically are handled.
func (w *Watcher) Watch(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watch %s: %w", w.path, err)
	}
	target := filepath.Clean(w.path)

	var (
		timerMu sync.Mutex
		timer   *time.Timer
	)
	schedule := func() {
		timerMu.Lock()
		defer timerMu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(reloadDebounce, func() {
			if err := w.Reload(); err != nil {
				w.logger.Warn("profile reload failed; keeping previous profiles", zap.Error(err))
			}
		})
	}
	defer func() {
		timerMu.Lock()
		if timer != nil {
			timer.Stop()
		}
		timerMu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) {
				schedule()
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("profile watcher error", zap.Error(err))
		}
	}
}
