package config

import (
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	appErrors "github.com/dreamsoft-pro/RAE-agentic-memory-sub001/pkg/errors"
)

const debounceDelay = 500 * time.Millisecond

// Watcher hot-reloads the configuration file on change. Reloading is only
// enabled in development; in other environments the watcher is inert and
// Current always returns the initial configuration.
type Watcher struct {
	mu        sync.RWMutex
	current   *Config
	path      string
	callbacks []func(*Config)
	fs        *fsnotify.Watcher
	stop      chan struct{}
	logger    *zap.Logger
}

// NewWatcher wraps an already-loaded configuration. path is the file Load
// used; an empty path disables watching.
func NewWatcher(initial *Config, path string, logger *zap.Logger) (*Watcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	w := &Watcher{
		current: initial,
		path:    path,
		stop:    make(chan struct{}),
		logger:  logger,
	}
	if initial.Environment != Development || path == "" {
		logger.Info("config hot reload disabled",
			zap.String("environment", string(initial.Environment)))
		return w, nil
	}

	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, appErrors.Wrap(err, "config: create watcher")
	}
	if err := fs.Add(path); err != nil {
		fs.Close()
		return nil, appErrors.Wrap(err, "config: watch file")
	}
	w.fs = fs
	go w.loop()
	logger.Info("config hot reload enabled", zap.String("path", path))
	return w, nil
}

// Current returns the active configuration.
func (w *Watcher) Current() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// OnReload registers a callback invoked with every successfully reloaded
// configuration.
func (w *Watcher) OnReload(fn func(*Config)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, fn)
}

// Close stops the watch loop. Safe to call on an inert watcher.
func (w *Watcher) Close() {
	close(w.stop)
}

func (w *Watcher) loop() {
	defer w.fs.Close()
	var debounce *time.Timer
	for {
		select {
		case <-w.stop:
			return
		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(debounceDelay, w.reload)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", zap.Error(err))
		}
	}
}

// reload re-runs Load; a broken file keeps the previous configuration.
func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		w.logger.Error("config reload failed, keeping previous configuration",
			zap.String("path", w.path), zap.Error(err))
		return
	}

	w.mu.Lock()
	w.current = cfg
	callbacks := append([]func(*Config){}, w.callbacks...)
	w.mu.Unlock()

	w.logger.Info("configuration reloaded", zap.String("path", w.path))
	for _, fn := range callbacks {
		fn(cfg)
	}
}
