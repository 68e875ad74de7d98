package config

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// ReloadFunc receives the previous config, the freshly loaded one and what
// changed between them.
type ReloadFunc func(old, new *Config, d ConfigDiff)

// DefaultWatchInterval is the polling interval of a [Watcher].
const DefaultWatchInterval = 5 * time.Second

// stamp identifies a file version cheaply. Content hashes decide whether a
// new stamp carries a real change.
type stamp struct {
	mtime time.Time
	size  int64
}

// Watcher polls a config file and calls a [ReloadFunc] when its content
// turns into another valid configuration. An invalid edit is logged once and
// the previous config stays current until the file changes again.
type Watcher struct {
	path     string
	interval time.Duration
	onReload ReloadFunc
	log      *slog.Logger

	// reloadMu serialises polling with [Watcher.Reload].
	reloadMu sync.Mutex
	last     stamp
	applied  [sha256.Size]byte
	rejected [sha256.Size]byte

	mu      sync.Mutex
	current *Config

	stop     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. Non-positive values keep
// [DefaultWatchInterval].
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithWatcherLogger sets the logger. Default: [slog.Default].
func WithWatcherLogger(l *slog.Logger) WatcherOption {
	return func(w *Watcher) { w.log = l }
}

// NewWatcher loads the config at path and starts polling it. onReload may
// be nil. Call [Watcher.Stop] to end polling.
func NewWatcher(path string, onReload ReloadFunc, opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: DefaultWatchInterval,
		onReload: onReload,
		log:      slog.Default(),
		stop:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	for _, o := range opts {
		o(w)
	}

	cfg, hash, st, err := w.read()
	if err != nil {
		return nil, err
	}
	w.current, w.applied, w.last = cfg, hash, st

	go w.poll()
	return w, nil
}

// Current returns the most recently applied config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Reload re-reads the file now, regardless of its modification time, and
// applies it when the content changed. Invalid content is returned as an
// error and leaves the current config in place.
func (w *Watcher) Reload() error {
	w.reloadMu.Lock()
	defer w.reloadMu.Unlock()
	return w.apply(true)
}

// Stop ends polling and waits for an in-flight reload callback to return.
// It is safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
	<-w.stopped
}

func (w *Watcher) poll() {
	defer close(w.stopped)
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-w.stop:
			return
		case <-t.C:
			w.reloadMu.Lock()
			_ = w.apply(false)
			w.reloadMu.Unlock()
		}
	}
}

// apply loads the file and swaps it in. Unless forced, an unchanged stamp
// skips the read. w.reloadMu must be held.
func (w *Watcher) apply(force bool) error {
	info, err := os.Stat(w.path)
	if err != nil {
		w.log.Warn("config watcher: cannot stat file", "path", w.path, "err", err)
		return err
	}
	if !force && (stamp{mtime: info.ModTime(), size: info.Size()}) == w.last {
		return nil
	}

	cfg, hash, st, err := w.read()
	w.last = st
	switch {
	case err != nil && hash != [sha256.Size]byte{} && hash == w.rejected:
		return err
	case err != nil:
		w.rejected = hash
		w.log.Warn("config watcher: keeping previous config", "path", w.path, "err", err)
		return err
	case hash == w.applied:
		return nil
	}
	w.applied = hash
	w.rejected = [sha256.Size]byte{}

	w.mu.Lock()
	old := w.current
	w.current = cfg
	w.mu.Unlock()

	d := Diff(old, cfg)
	if len(d.RestartRequired) > 0 {
		w.log.Warn("config watcher: changes need a restart", "sections", d.RestartRequired)
	}
	w.log.Info("config watcher: configuration reloaded",
		"path", w.path,
		"log_level_changed", d.LogLevelChanged,
		"assessment_changed", d.AssessmentChanged,
		"proctor_changed", d.ProctorChanged,
	)
	if w.onReload != nil {
		w.onReload(old, cfg, d)
	}
	return nil
}

// read parses and validates the file. The hash and stamp are filled in even
// when parsing fails so that the same broken content is reported once.
func (w *Watcher) read() (*Config, [sha256.Size]byte, stamp, error) {
	var hash [sha256.Size]byte
	info, err := os.Stat(w.path)
	if err != nil {
		return nil, hash, stamp{}, err
	}
	st := stamp{mtime: info.ModTime(), size: info.Size()}
	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, hash, st, err
	}
	hash = sha256.Sum256(data)
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, hash, st, fmt.Errorf("config: reload %s: %w", w.path, err)
	}
	return cfg, hash, st, nil
}
