// Package reload provides configuration hot-reload: a filesystem watcher
// detects edits to the config file, and a handler re-reads, validates, and
// fans the new configuration out to loaded modules. SIGHUP and the
// gateway's reload endpoint drive the same handler.
package reload

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultDebounce = 250 * time.Millisecond

// WatcherConfig configures the file watcher.
type WatcherConfig struct {
	// ConfigPath is the path to the configuration file to watch.
	ConfigPath string

	// Debounce is how long to wait after the last filesystem event before
	// emitting a change. Editors save with bursts of writes and renames;
	// the delay absorbs them so a reload never reads a half-written file.
	// Defaults to 250ms.
	Debounce time.Duration

	// Logger receives watch errors. Defaults to slog.Default.
	Logger *slog.Logger
}

func (c WatcherConfig) debounceOrDefault() time.Duration {
	if c.Debounce > 0 {
		return c.Debounce
	}
	return defaultDebounce
}

// Event represents a config file change notification.
type Event struct {
	ConfigPath string
}

// Watcher watches a configuration file for modifications. The parent
// directory is watched rather than the file itself: editors commonly
// replace the file by rename, which would silently detach a file-level
// watch.
type Watcher struct {
	cfg    WatcherConfig
	logger *slog.Logger
	fw     *fsnotify.Watcher

	events  chan Event
	stop    chan struct{}
	stopped chan struct{}

	started   atomic.Bool
	startOnce sync.Once
	stopOnce  sync.Once
}

// NewWatcher creates a watcher for the given config file. The underlying
// filesystem watch is established immediately so setup errors surface here
// rather than silently inside the watch goroutine.
func NewWatcher(cfg WatcherConfig) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("reload: create watcher: %w", err)
	}

	dir := filepath.Dir(cfg.ConfigPath)
	if err := fw.Add(dir); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("reload: watch %s: %w", dir, err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Watcher{
		cfg:     cfg,
		logger:  logger,
		fw:      fw,
		events:  make(chan Event, 1),
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
	}, nil
}

// Start begins watching for changes. Safe to call multiple times; only the
// first call starts the goroutine.
func (w *Watcher) Start(ctx context.Context) {
	w.startOnce.Do(func() {
		w.started.Store(true)
		go w.run(ctx)
	})
}

// Events returns the channel of file change events.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// Stop stops the watcher. Safe to call multiple times and before Start.
//
// Note: if Stop races with Start (called after startOnce.Do sets started=true
// but before the goroutine begins executing), Stop blocks on <-w.stopped until
// the goroutine starts, sees the closed stop channel, and exits. This is safe
// because the goroutine is guaranteed to be scheduled eventually.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stop)
	})
	if w.started.Load() {
		<-w.stopped
	} else {
		_ = w.fw.Close()
	}
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.stopped)
	defer func() { _ = w.fw.Close() }()

	base := filepath.Base(w.cfg.ConfigPath)

	var timer *time.Timer
	var timerC <-chan time.Time // nil until the debounce is armed

	arm := func() {
		if timer == nil {
			timer = time.NewTimer(w.cfg.debounceOrDefault())
			timerC = timer.C
			return
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(w.cfg.debounceOrDefault())
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		case ev, ok := <-w.fw.Events:
			if !ok {
				return
			}
			// Compare by basename: event paths may be absolute or relative
			// depending on how the directory watch was registered.
			if !strings.EqualFold(filepath.Base(ev.Name), base) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				arm()
			}
		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watch error", "path", w.cfg.ConfigPath, "error", err)
		case <-timerC:
			select {
			case w.events <- Event{ConfigPath: w.cfg.ConfigPath}:
			default:
				// Drop when the consumer is still processing the last one.
			}
		}
	}
}
