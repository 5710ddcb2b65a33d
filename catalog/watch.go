package catalog

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/ezachrisen/arbiter"
	"github.com/fsnotify/fsnotify"
)

// WatcherConfig configures a catalog watcher
type WatcherConfig struct {
	// Path of the catalog file
	Path string

	// Base is the engine every reload starts from: the registry of
	// functions and the engine options. It is cloned, never changed.
	Base *arbiter.Engine

	// Vault receives the engines built from the catalog
	Vault *arbiter.Vault

	// DebounceDelay is how long to wait for more changes before reloading
	DebounceDelay time.Duration

	// Logger for logging reloads
	Logger *slog.Logger
}

// Reload is the outcome of rebuilding the engine after a change of the
// catalog file. When Err is set, the vault still holds the previous
// engine.
type Reload struct {
	Engine      *arbiter.Engine
	Diagnostics arbiter.Diagnostics
	Err         error
}

// Watcher rebuilds the engine of a vault when the catalog file changes
type Watcher struct {
	config  WatcherConfig
	watcher *fsnotify.Watcher
	logger  *slog.Logger

	pendingMu sync.Mutex
	pending   bool

	reloads chan Reload
	started bool
	done    chan struct{}
}

// NewWatcher creates a catalog watcher. Call Start to begin watching.
func NewWatcher(config WatcherConfig) (*Watcher, error) {
	if config.Path == "" || config.Vault == nil {
		return nil, errors.New("catalog watcher needs a path and a vault")
	}
	if config.Base == nil {
		config.Base = arbiter.NewEngine(nil)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if config.DebounceDelay == 0 {
		config.DebounceDelay = 100 * time.Millisecond
	}

	return &Watcher{
		config:  config,
		watcher: fsw,
		logger:  logger,
		reloads: make(chan Reload, 16),
		done:    make(chan struct{}),
	}, nil
}

// Reloads returns the outcomes of the reloads. Outcomes are dropped
// when nobody reads them.
func (w *Watcher) Reloads() <-chan Reload {
	return w.reloads
}

// Load builds the engine from the catalog file and publishes it into the
// vault. It is called by the watcher after every change, and can be
// called directly for the initial load.
func (w *Watcher) Load(ctx context.Context) Reload {
	out := Reload{}
	cat, err := Load(w.config.Path)
	if err != nil {
		out.Err = err
		return out
	}
	out.Engine, out.Diagnostics, out.Err = Build(ctx, w.config.Base, cat)
	if out.Err != nil {
		return out
	}
	w.config.Vault.Publish(out.Engine)
	return out
}

// Start watches the directory of the catalog file, so that editors
// replacing the file are seen too.
func (w *Watcher) Start(ctx context.Context) error {
	dir := filepath.Dir(w.config.Path)
	if err := w.watcher.Add(dir); err != nil {
		return err
	}

	w.started = true
	go w.processEvents(ctx)

	w.logger.Info("Catalog watcher started",
		"path", w.config.Path,
		"debounce", w.config.DebounceDelay)
	return nil
}

// Stop stops the watcher
func (w *Watcher) Stop() error {
	err := w.watcher.Close()
	if w.started {
		<-w.done
	}
	return err
}

func (w *Watcher) processEvents(ctx context.Context) {
	defer close(w.done)
	defer close(w.reloads)

	ticker := time.NewTicker(w.config.DebounceDelay)
	defer ticker.Stop()

	target := filepath.Clean(w.config.Path)
	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target || !event.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
				continue
			}
			w.pendingMu.Lock()
			w.pending = true
			w.pendingMu.Unlock()
			w.logger.Debug("Catalog change detected", "op", event.Op.String())

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("Watcher error", "error", err)

		case <-ticker.C:
			w.flushPending(ctx)
		}
	}
}

// flushPending reloads the catalog once for all changes seen since the
// previous tick
func (w *Watcher) flushPending(ctx context.Context) {
	w.pendingMu.Lock()
	pending := w.pending
	w.pending = false
	w.pendingMu.Unlock()
	if !pending {
		return
	}

	r := w.Load(ctx)
	if r.Err != nil {
		w.logger.Error("Catalog reload failed, keeping the current engine",
			"path", w.config.Path,
			"error", r.Err,
			"diagnostics", r.Diagnostics.Summary())
	} else {
		w.logger.Info("Catalog reloaded",
			"path", w.config.Path,
			"rules", r.Engine.RuleCount())
	}

	select {
	case w.reloads <- r:
	default:
	}
}
