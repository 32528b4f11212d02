package environment

import (
	"context"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/GoCodeAlone/appcontext/internal/logging"
)

// ErrWatcherRunning is returned when Start is called twice
var ErrWatcherRunning = errors.New("environment watcher already running")

// Change describes keys of one property source that changed on reload
type Change struct {
	Source string
	Path   string
	Keys   []string
}

// ChangeHandler is notified after a file-backed source was reloaded
type ChangeHandler func(ctx context.Context, change Change)

// Logger is the structured key/value logger used by the watcher
type Logger = logging.Logger

// Watcher reloads file-backed property sources when their files change. It
// satisfies the lifecycle component contract so a context starts it after
// refresh and stops it on close.
type Watcher struct {
	env      *Environment
	handler  ChangeHandler
	logger   Logger
	debounce time.Duration

	mu      sync.Mutex
	fsw     *fsnotify.Watcher
	done    chan struct{}
	cancel  context.CancelFunc
	running bool
}

// WatcherOption configures a Watcher
type WatcherOption func(*Watcher)

// WithDebounce coalesces bursts of file events into one reload
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) { w.debounce = d }
}

// WithWatcherLogger sets the watcher logger
func WithWatcherLogger(logger Logger) WatcherOption {
	return func(w *Watcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// NewWatcher creates a watcher over every file-backed source of env
func NewWatcher(env *Environment, handler ChangeHandler, opts ...WatcherOption) *Watcher {
	w := &Watcher{
		env:      env,
		handler:  handler,
		logger:   logging.Nop{},
		debounce: 100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Phase starts the watcher before other components and stops it after them
func (w *Watcher) Phase() int { return math.MinInt32 / 2 }

// Start begins watching the directories of all file-backed sources
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return ErrWatcherRunning
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}

	// watch directories so editors replacing files atomically are seen
	byPath := make(map[string]string)
	dirs := make(map[string]bool)
	for name, path := range w.env.FileSources() {
		abs, err := filepath.Abs(path)
		if err != nil {
			abs = path
		}
		byPath[abs] = name
		dirs[filepath.Dir(abs)] = true
	}
	for dir := range dirs {
		if err := fsw.Add(dir); err != nil {
			_ = fsw.Close()
			return fmt.Errorf("failed to watch %s: %w", dir, err)
		}
	}

	// the watch loop outlives the start call
	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	w.fsw = fsw
	w.cancel = cancel
	w.done = make(chan struct{})
	w.running = true

	go w.loop(loopCtx, fsw, byPath, w.done)
	w.logger.Info("Environment watcher started", "files", len(byPath))
	return nil
}

// Stop ends watching and waits for the loop to exit or ctx to expire
func (w *Watcher) Stop(ctx context.Context) error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	fsw, done, cancel := w.fsw, w.done, w.cancel
	w.mu.Unlock()

	cancel()
	err := fsw.Close()
	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("environment watcher did not stop: %w", ctx.Err())
	}
	w.logger.Info("Environment watcher stopped")
	if err != nil {
		return fmt.Errorf("failed to close file watcher: %w", err)
	}
	return nil
}

// IsRunning reports whether the watcher is active
func (w *Watcher) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

func (w *Watcher) loop(ctx context.Context, fsw *fsnotify.Watcher, byPath map[string]string, done chan struct{}) {
	defer close(done)

	pending := make(map[string]bool)
	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		case event, ok := <-fsw.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			abs, err := filepath.Abs(event.Name)
			if err != nil {
				abs = event.Name
			}
			name, watched := byPath[abs]
			if !watched {
				continue
			}
			pending[name] = true
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C
		case <-fire:
			fire = nil
			for name := range pending {
				w.reload(ctx, name)
			}
			clear(pending)
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("Environment watcher error", "error", err)
		}
	}
}

func (w *Watcher) reload(ctx context.Context, name string) {
	keys, err := w.env.Reload(name)
	if err != nil {
		w.logger.Error("Failed to reload property source", "source", name, "error", err)
		return
	}
	if len(keys) == 0 {
		return
	}
	w.logger.Info("Property source reloaded", "source", name, "changedKeys", keys)
	if w.handler != nil {
		w.handler(ctx, Change{Source: name, Path: w.env.FileSources()[name], Keys: keys})
	}
}
