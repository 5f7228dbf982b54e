package config

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher reloads the configuration file when it changes on disk.
// Invalid revisions are logged and skipped; callbacks only ever see
// configurations that passed validation.
type Watcher struct {
	watcher    *fsnotify.Watcher
	loader     *Loader
	logger     *zap.Logger
	configPath string
	callbacks  []func(*Config)
	mu         sync.Mutex
	debounce   time.Duration
	timer      *time.Timer
}

// NewWatcher creates a watcher for configPath that reloads through loader.
// A nil logger discards the watcher's log output.
func NewWatcher(configPath string, loader *Loader, logger *zap.Logger) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if loader == nil {
		loader = NewLoader()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{
		watcher:    fsWatcher,
		loader:     loader,
		logger:     logger,
		configPath: configPath,
		debounce:   500 * time.Millisecond,
	}, nil
}

// OnChange registers a callback for reloaded configurations.
func (w *Watcher) OnChange(callback func(*Config)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, callback)
}

// SetDebounce sets how long to wait for a burst of writes to settle.
func (w *Watcher) SetDebounce(d time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.debounce = d
}

// Run watches until ctx is cancelled. The directory is watched rather than
// the file so that editors replacing the file by rename are noticed.
func (w *Watcher) Run(ctx context.Context) error {
	if err := w.watcher.Add(filepath.Dir(w.configPath)); err != nil {
		w.watcher.Close()
		return err
	}
	defer w.watcher.Close()

	for {
		select {
		case <-ctx.Done():
			w.mu.Lock()
			if w.timer != nil {
				w.timer.Stop()
			}
			w.mu.Unlock()
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != filepath.Base(w.configPath) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.schedule()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("Config watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.reload)
}

func (w *Watcher) reload() {
	cfg, err := w.loader.Load(w.configPath)
	if err != nil {
		w.logger.Error("Config reload rejected", zap.String("path", w.configPath), zap.Error(err))
		return
	}

	w.mu.Lock()
	callbacks := append([]func(*Config){}, w.callbacks...)
	w.mu.Unlock()

	w.logger.Info("Configuration reloaded", zap.String("path", w.configPath))
	for _, cb := range callbacks {
		cb(cfg)
	}
}
