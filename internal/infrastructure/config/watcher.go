package config

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// WatcherConfig holds tuning for the config file watcher.
type WatcherConfig struct {
	// DebounceDuration is how long a file must be quiet before a reload is
	// attempted. Editors write config files in several bursts.
	DebounceDuration time.Duration
	BufferSize       int
}

// DefaultWatcherConfig returns sensible default configuration.
func DefaultWatcherConfig() WatcherConfig {
	return WatcherConfig{
		DebounceDuration: 100 * time.Millisecond,
		BufferSize:       8,
	}
}

// Watcher reloads the configuration file when it changes on disk. Successful
// reloads of a valid config are published on Reloads; parse and validation
// failures go to Errors and the previous config stays in effect.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	loader    *Loader
	path      string
	cfg       WatcherConfig
	reloads   chan *Config
	errors    chan error

	// Debouncing state
	pendingAt time.Time
	pending   bool
	pendingMu sync.Mutex

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed bool
	mu     sync.Mutex
}

// NewWatcher creates a watcher for the given config file path.
func NewWatcher(loader *Loader, configPath string, cfg WatcherConfig) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	if configPath == "" {
		configPath = loader.DefaultConfigPath()
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 8
	}
	if cfg.DebounceDuration <= 0 {
		cfg.DebounceDuration = 100 * time.Millisecond
	}

	ctx, cancel := context.WithCancel(context.Background())

	w := &Watcher{
		fsWatcher: fsWatcher,
		loader:    loader,
		path:      configPath,
		cfg:       cfg,
		reloads:   make(chan *Config, cfg.BufferSize),
		errors:    make(chan error, cfg.BufferSize),
		ctx:       ctx,
		cancel:    cancel,
	}

	return w, nil
}

// Watch starts watching the config file for changes. The containing directory
// is watched rather than the file itself so atomic rename-into-place saves
// are seen.
func (w *Watcher) Watch() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.mu.Unlock()

	if err := w.fsWatcher.Add(filepath.Dir(w.path)); err != nil {
		return err
	}

	w.wg.Add(1)
	go w.processEvents()

	w.wg.Add(1)
	go w.debounceProcessor()

	return nil
}

// Reloads returns the channel that receives freshly loaded configurations.
func (w *Watcher) Reloads() <-chan *Config {
	return w.reloads
}

// Errors returns the channel for receiving watcher and reload errors.
func (w *Watcher) Errors() <-chan error {
	return w.errors
}

// Close stops the watcher and releases resources.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.mu.Unlock()

	w.cancel()
	err := w.fsWatcher.Close()
	w.wg.Wait()

	close(w.reloads)
	close(w.errors)

	return err
}

// processEvents reads from fsnotify and marks the config file dirty.
func (w *Watcher) processEvents() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}

			// Only the config file itself is interesting
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}

			w.pendingMu.Lock()
			w.pending = true
			w.pendingAt = time.Now()
			w.pendingMu.Unlock()

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			select {
			case w.errors <- err:
			default:
				// Drop error if channel is full
			}
		}
	}
}

// debounceProcessor periodically checks whether the dirty file has settled
// and reloads it.
func (w *Watcher) debounceProcessor() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.cfg.DebounceDuration / 2)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return

		case <-ticker.C:
			w.reloadIfStable()
		}
	}
}

// reloadIfStable reloads the config once the file has been quiet for the
// debounce duration.
func (w *Watcher) reloadIfStable() {
	w.pendingMu.Lock()
	if !w.pending || time.Since(w.pendingAt) < w.cfg.DebounceDuration {
		w.pendingMu.Unlock()
		return
	}
	w.pending = false
	w.pendingMu.Unlock()

	cfg, err := w.loader.LoadFromFile(w.path)
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		select {
		case w.errors <- err:
		default:
		}
		return
	}

	select {
	case w.reloads <- cfg:
	default:
		// Drop reload if channel is full
	}
}
