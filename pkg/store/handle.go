package store

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/chazu/matelearn/pkg/logging"
	"github.com/chazu/matelearn/pkg/rules"
)

// Handle publishes the current library snapshot. Readers call Load and
// never block; writers replace the whole snapshot with Store. A stored
// library must not be modified afterwards.
type Handle struct {
	p atomic.Pointer[rules.Library]
}

// NewHandle returns a handle publishing lib, which may be nil.
func NewHandle(lib *rules.Library) *Handle {
	h := &Handle{}
	if lib != nil {
		h.p.Store(lib)
	}
	return h
}

// Load returns the current snapshot, or nil if none was published.
func (h *Handle) Load() *rules.Library { return h.p.Load() }

// Store publishes lib and returns the previous snapshot.
func (h *Handle) Store(lib *rules.Library) *rules.Library { return h.p.Swap(lib) }

// DefaultDebounce collapses the burst of events an editor or SaveFile
// produces for one logical write.
const DefaultDebounce = 200 * time.Millisecond

type watchConfig struct {
	log      *slog.Logger
	debounce time.Duration
	onReload func(*rules.Library)
}

// WatchOption configures Watch.
type WatchOption func(*watchConfig)

func WithWatchLogger(log *slog.Logger) WatchOption {
	return func(c *watchConfig) { c.log = log }
}

func WithDebounce(d time.Duration) WatchOption {
	return func(c *watchConfig) { c.debounce = d }
}

// WithReloadHook is called with the initial library once the watch is in
// place, then after every successful reload.
func WithReloadHook(fn func(*rules.Library)) WatchOption {
	return func(c *watchConfig) { c.onReload = fn }
}

// Watch loads the library at path into h, then reloads it whenever the
// file changes until ctx is done. A file that fails to decode is logged
// and the previous snapshot stays published. Watch returns ctx.Err() on
// cancellation, or an error if the initial load or watcher setup fails.
func Watch(ctx context.Context, path string, h *Handle, opts ...WatchOption) error {
	cfg := watchConfig{debounce: DefaultDebounce}
	for _, opt := range opts {
		opt(&cfg)
	}
	log := logging.OrDiscard(cfg.log).With("component", "library_watcher")

	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("store: watch: %w", err)
	}
	lib, err := LoadFile(abs)
	if err != nil {
		return err
	}
	h.Store(lib)

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("store: watch: %w", err)
	}
	defer w.Close()
	// Watch the directory: atomic saves replace the file by rename, which
	// drops a watch held on the file itself.
	if err := w.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("store: watch %s: %w", filepath.Dir(abs), err)
	}
	log.Info("watching rule library", "path", abs)
	if cfg.onReload != nil {
		cfg.onReload(lib)
	}

	reload := func() {
		lib, err := LoadFile(abs)
		if err != nil {
			log.Error("library reload failed; keeping previous snapshot", "path", abs, "error", err)
			return
		}
		h.Store(lib)
		log.Info("library reloaded", "path", abs, "rules", lib.Len(), "run_id", lib.RunID)
		if cfg.onReload != nil {
			cfg.onReload(lib)
		}
	}

	// Reloads run on this loop, so none outlives Watch.
	var (
		timer *time.Timer
		fire  <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-fire:
			fire = nil
			reload()
		case event, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs || event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			log.Debug("library file changed", "op", event.Op.String())
			if timer == nil {
				timer = time.NewTimer(cfg.debounce)
			} else {
				timer.Reset(cfg.debounce)
			}
			fire = timer.C
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Error("file watcher error", "error", err)
		}
	}
}
