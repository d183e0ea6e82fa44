// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// =============================================================================
// Deployment Overrides
// =============================================================================

const (
	catalogFileName = "catalog.yaml"
	searchFileName  = "search.yaml"

	// reloadDebounce coalesces the burst of write events editors and
	// config-map updates produce for a single save.
	reloadDebounce = 200 * time.Millisecond
)

// ApplyOverrides loads catalog.yaml and/or search.yaml from dir and installs
// them over the embedded defaults. Missing files are skipped; a present but
// invalid file is an error so a bad deployment is caught at startup rather
// than silently running on embedded tables.
func ApplyOverrides(ctx context.Context, dir string) error {
	for _, name := range []string{catalogFileName, searchFileName} {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return fmt.Errorf("config override %s: %w", name, err)
		}
		if err := installOverride(ctx, name, data); err != nil {
			return fmt.Errorf("config override %s: %w", name, err)
		}
		slog.Info("config override applied", slog.String("file", path))
	}
	return nil
}

// installOverride validates and swaps in one override file by name.
func installOverride(ctx context.Context, name string, data []byte) error {
	switch name {
	case catalogFileName:
		c, err := LoadCatalog(ctx, data)
		if err != nil {
			return err
		}
		swapCatalog(c)
	case searchFileName:
		s, err := LoadSearchConfig(ctx, data)
		if err != nil {
			return err
		}
		swapSearchConfig(s)
	default:
		return fmt.Errorf("unknown config file %q", name)
	}
	return nil
}

// =============================================================================
// Hot Reload Watcher
// =============================================================================

// Watcher hot-reloads config overrides when the files under a directory
// change. Malformed updates are logged and skipped; the previously loaded
// tables stay in effect.
//
// Thread Safety: Safe for concurrent use; Close is idempotent.
type Watcher struct {
	fsw    *fsnotify.Watcher
	dir    string
	logger *slog.Logger

	mu     sync.Mutex
	timers map[string]*time.Timer
	closed bool
}

// StartWatcher begins watching dir for catalog.yaml/search.yaml changes.
//
// Description:
//
//	Reload runs debounced per file. The watcher goroutine exits when ctx
//	is cancelled or Close is called.
//
// Inputs:
//
//	ctx - Governs the watcher goroutine's lifetime.
//	dir - Directory holding override files. Must exist.
//	logger - Destination for reload outcomes. Must not be nil.
//
// Outputs:
//
//	*Watcher - The running watcher.
//	error - Non-nil if the directory cannot be watched.
func StartWatcher(ctx context.Context, dir string, logger *slog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config watcher: %w", err)
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("config watcher: watching %s: %w", dir, err)
	}

	w := &Watcher{
		fsw:    fsw,
		dir:    dir,
		logger: logger,
		timers: make(map[string]*time.Timer),
	}
	go w.run(ctx)

	logger.Info("config hot reload enabled", slog.String("dir", dir))
	return w, nil
}

// Close stops the watcher and releases its resources.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	for _, t := range w.timers {
		t.Stop()
	}
	w.mu.Unlock()
	return w.fsw.Close()
}

// run consumes fsnotify events until the watcher closes or ctx ends.
func (w *Watcher) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			_ = w.Close()
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			name := filepath.Base(ev.Name)
			if name != catalogFileName && name != searchFileName {
				continue
			}
			w.scheduleReload(ctx, name)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", slog.String("error", err.Error()))
		}
	}
}

// scheduleReload debounces reloads per file name.
func (w *Watcher) scheduleReload(ctx context.Context, name string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	if t, ok := w.timers[name]; ok {
		t.Stop()
	}
	w.timers[name] = time.AfterFunc(reloadDebounce, func() {
		w.reload(ctx, name)
	})
}

// reload re-reads one override file and swaps it in if valid.
func (w *Watcher) reload(ctx context.Context, name string) {
	path := filepath.Join(w.dir, name)
	data, err := os.ReadFile(path)
	if err != nil {
		w.logger.Warn("config reload skipped",
			slog.String("file", path),
			slog.String("error", err.Error()),
		)
		return
	}
	if err := installOverride(ctx, name, data); err != nil {
		w.logger.Warn("config reload rejected, keeping previous tables",
			slog.String("file", path),
			slog.String("error", err.Error()),
		)
		return
	}
	w.logger.Info("config reloaded", slog.String("file", path))
}
