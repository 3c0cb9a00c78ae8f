package settings

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Default watcher timings
const (
	DefaultDebounce     = 200 * time.Millisecond
	DefaultPollInterval = 60 * time.Second
)

// Watcher calls a function when any settings file changes on disk. It
// watches the parent directories so atomic replacement is observed, and
// polls modification times as a fallback.
type Watcher struct {
	paths        []string
	onChange     func()
	logger       *slog.Logger
	debounce     time.Duration
	pollInterval time.Duration

	mu      sync.Mutex
	timer   *time.Timer
	mtimes  map[string]time.Time
	stopped bool
}

// NewWatcher creates a watcher for paths
func NewWatcher(paths []string, onChange func(), logger *slog.Logger) *Watcher {
	if onChange == nil {
		panic("settings: watcher requires a change callback")
	}
	if logger == nil {
		logger = slog.Default()
	}
	w := &Watcher{
		paths:        paths,
		onChange:     onChange,
		logger:       logger.With("component", "settings.watcher"),
		debounce:     DefaultDebounce,
		pollInterval: DefaultPollInterval,
		mtimes:       make(map[string]time.Time),
	}
	for _, p := range paths {
		w.mtimes[p] = modTime(p)
	}
	return w
}

// SetTimings overrides the debounce and poll intervals
func (w *Watcher) SetTimings(debounce, poll time.Duration) {
	w.debounce = debounce
	w.pollInterval = poll
}

// Run blocks until ctx is done
func (w *Watcher) Run(ctx context.Context) error {
	defer w.stop()

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		w.logger.Warn("fsnotify unavailable, falling back to polling", slog.String("error", err.Error()))
		w.poll(ctx)
		return nil
	}
	defer fsw.Close()

	watched := make(map[string]bool)
	names := make(map[string]bool)
	for _, p := range w.paths {
		names[filepath.Clean(p)] = true
		dir := filepath.Dir(p)
		if watched[dir] {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			w.logger.Debug("cannot create settings directory for watching",
				slog.String("dir", dir), slog.String("error", err.Error()))
		}
		if err := fsw.Add(dir); err != nil {
			w.logger.Warn("failed to watch settings directory, relying on polling",
				slog.String("dir", dir), slog.String("error", err.Error()))
			continue
		}
		watched[dir] = true
	}

	go w.poll(ctx)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if !names[filepath.Clean(event.Name)] {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) != 0 {
				w.logger.Debug("settings file event",
					slog.String("path", event.Name),
					slog.String("op", event.Op.String()))
				w.trigger()
			}
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("settings watcher error", slog.String("error", err.Error()))
		}
	}
}

func (w *Watcher) poll(ctx context.Context) {
	if w.pollInterval <= 0 {
		<-ctx.Done()
		return
	}
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if w.changedSinceLastCheck() {
				w.trigger()
			}
		}
	}
}

func (w *Watcher) changedSinceLastCheck() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	changed := false
	for _, p := range w.paths {
		mt := modTime(p)
		if !mt.Equal(w.mtimes[p]) {
			w.mtimes[p] = mt
			changed = true
		}
	}
	return changed
}

// trigger coalesces bursts of events into one callback
func (w *Watcher) trigger() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		return
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		if w.stopped {
			w.mu.Unlock()
			return
		}
		for _, p := range w.paths {
			w.mtimes[p] = modTime(p)
		}
		w.mu.Unlock()

		w.logger.Info("settings changed on disk, reloading")
		w.onChange()
	})
}

func (w *Watcher) stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopped = true
	if w.timer != nil {
		w.timer.Stop()
	}
}

func modTime(path string) time.Time {
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}
	}
	return info.ModTime()
}
