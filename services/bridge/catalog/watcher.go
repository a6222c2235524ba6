// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// =============================================================================
// Catalog Hot Reload
// =============================================================================

// Watcher reloads an external catalog file when it changes on disk.
//
// Description:
//
//	Holds the active catalog behind an atomic pointer. On a write/create
//	event for the watched file the watcher waits out a debounce window,
//	re-runs LoadFile, and swaps the pointer only if the new catalog
//	validates. A broken edit keeps the previous catalog active and logs a
//	warning. Queries pick up a swapped catalog on their next Resolve call;
//	in-flight searches keep the catalog they started with.
//
// Thread Safety: Safe for concurrent use.
type Watcher struct {
	path     string
	debounce time.Duration
	logger   *slog.Logger

	active  atomic.Pointer[Catalog]
	watcher *fsnotify.Watcher

	done     chan struct{}
	stopOnce sync.Once

	mu       sync.Mutex
	watching bool
}

// WatcherOptions configures a catalog Watcher.
type WatcherOptions struct {
	// DebounceWindow is how long to wait after the last event before
	// reloading. Editors often produce several writes per save.
	// Default: 200ms
	DebounceWindow time.Duration

	// Logger receives reload diagnostics. Default: slog.Default().
	Logger *slog.Logger
}

// DefaultWatcherOptions returns sensible defaults.
func DefaultWatcherOptions() WatcherOptions {
	return WatcherOptions{
		DebounceWindow: 200 * time.Millisecond,
	}
}

// NewWatcher creates a watcher for the given catalog file.
//
// Description:
//
//	Performs an initial LoadFile so Current() is valid immediately. The
//	initial load is strict: a catalog that fails validation at startup is
//	a configuration error, not something to degrade around.
//
// Inputs:
//
//	ctx - Context for the initial load.
//	path - Path to the external catalog YAML file.
//	opts - Optional configuration (nil uses defaults).
//
// Outputs:
//
//	*Watcher - Ready watcher (call Start to begin watching).
//	error - Non-nil if the initial load or fsnotify setup fails.
func NewWatcher(ctx context.Context, path string, opts *WatcherOptions) (*Watcher, error) {
	if opts == nil {
		defaults := DefaultWatcherOptions()
		opts = &defaults
	}
	if opts.DebounceWindow <= 0 {
		opts.DebounceWindow = DefaultWatcherOptions().DebounceWindow
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	initial, err := LoadFile(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("initial catalog load: %w", err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating fsnotify watcher: %w", err)
	}

	w := &Watcher{
		path:     path,
		debounce: opts.DebounceWindow,
		logger:   opts.Logger,
		watcher:  fsw,
		done:     make(chan struct{}),
	}
	w.active.Store(initial)

	return w, nil
}

// Current returns the active catalog. Never nil after NewWatcher succeeds.
//
// Thread Safety: Safe for concurrent use.
func (w *Watcher) Current() *Catalog {
	return w.active.Load()
}

// Start begins watching the catalog file for changes.
//
// Description:
//
//	Watches the file's parent directory rather than the file itself:
//	editors that write-rename (vim, sed -i) replace the inode, and a watch
//	on the old inode would go silent after the first save.
//
// Inputs:
//
//	ctx - Context for cancellation. When canceled, watching stops.
//
// Outputs:
//
//	error - Non-nil if the watch could not be established.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.watching {
		w.mu.Unlock()
		return nil
	}
	w.watching = true
	w.mu.Unlock()

	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watching %s: %w", filepath.Dir(w.path), err)
	}

	go w.loop(ctx)

	w.logger.Info("catalog watcher started",
		slog.String("path", w.path),
		slog.Duration("debounce", w.debounce),
	)
	return nil
}

// Stop stops the watcher. Safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		_ = w.watcher.Close()

		w.mu.Lock()
		w.watching = false
		w.mu.Unlock()
	})
}

// loop consumes fsnotify events for the watched file and debounces reloads.
func (w *Watcher) loop(ctx context.Context) {
	var timer *time.Timer
	var timerC <-chan time.Time

	base := filepath.Base(w.path)

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != base {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}
			timerC = timer.C

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("catalog watcher error",
				slog.String("path", w.path),
				slog.String("error", err.Error()),
			)

		case <-timerC:
			timerC = nil
			w.reload(ctx)
		}
	}
}

// reload re-runs LoadFile and swaps the active catalog on success.
func (w *Watcher) reload(ctx context.Context) {
	cat, err := LoadFile(ctx, w.path)
	if err != nil {
		w.logger.Warn("catalog reload failed, keeping previous catalog",
			slog.String("path", w.path),
			slog.String("error", err.Error()),
		)
		return
	}

	w.active.Store(cat)
	w.logger.Info("catalog reloaded",
		slog.String("path", w.path),
		slog.String("schema_version", cat.SchemaVersion),
		slog.Int("entity_types", len(cat.Entities)),
	)
}
