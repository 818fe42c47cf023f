// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package registry

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultReloadDebounce is how long the watcher waits after the last change
// before reloading.
const DefaultReloadDebounce = 200 * time.Millisecond

// Watcher reloads a Registry when its config document is replaced on disk.
//
// # Description
//
// The store writes by renaming a temp file over the document, which would
// orphan a watch on the file itself, so the parent directory is watched and
// events are filtered to the document's name. Bursts of events are
// debounced into one reload.
//
// # Thread Safety
//
// Run must be called once. The registry is reloaded from a single goroutine.
type Watcher struct {
	reg      *Registry
	path     string
	debounce time.Duration
	logger   *slog.Logger
	onReload func(error)
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithDebounce overrides DefaultReloadDebounce.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithWatcherLogger sets the logger.
func WithWatcherLogger(logger *slog.Logger) WatcherOption {
	return func(w *Watcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithReloadHook registers fn to be called after every reload attempt.
func WithReloadHook(fn func(error)) WatcherOption {
	return func(w *Watcher) {
		w.onReload = fn
	}
}

// NewWatcher creates a Watcher for the document at path.
func NewWatcher(reg *Registry, path string, opts ...WatcherOption) *Watcher {
	w := &Watcher{
		reg:      reg,
		path:     filepath.Clean(path),
		debounce: DefaultReloadDebounce,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run watches until ctx is cancelled.
//
// # Outputs
//
//   - error: Non-nil only if the watch could not be established. A failed
//     reload is logged and the previous registry state is kept.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create config watcher: %w", err)
	}
	defer fsw.Close()

	dir := filepath.Dir(w.path)
	if err := fsw.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	w.logger.Info("watching experiment config", slog.String("path", w.path))

	var timer *time.Timer
	var timerC <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				timer.Reset(w.debounce)
			}

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("config watcher error", slog.String("error", err.Error()))

		case <-timerC:
			timer = nil
			timerC = nil
			w.reload()
		}
	}
}

func (w *Watcher) reload() {
	err := w.reg.Reload()
	if err != nil {
		w.logger.Error("config reload failed, keeping previous experiments",
			slog.String("path", w.path),
			slog.String("error", err.Error()))
	} else {
		w.logger.Info("experiment config reloaded", slog.Int("experiments", len(w.reg.Names())))
	}
	if w.onReload != nil {
		w.onReload(err)
	}
}
