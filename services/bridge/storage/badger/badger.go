// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package badger wraps dgraph-io/badger/v4 with the small surface the rest of
// the service needs: open-with-config, context-aware transaction helpers, and
// an slog bridge for BadgerDB's internal logger.
//
// The wrapper exists so callers never touch badger.Options directly and so
// every transaction respects context cancellation before it starts. It does
// not hide the *badger.Txn type — stores build their own keys and entries.
package badger

import (
	"context"
	"fmt"
	"log/slog"

	dgbadger "github.com/dgraph-io/badger/v4"
)

// =============================================================================
// Config
// =============================================================================

// Config controls how the underlying BadgerDB instance is opened.
type Config struct {
	// Path is the on-disk directory for the database. Ignored when InMemory
	// is true. Created if it does not exist.
	Path string

	// InMemory opens a database that lives only as long as the process.
	// Used by tests and by degraded mode when the cache directory is
	// unavailable.
	InMemory bool

	// SyncWrites forces an fsync after every write. Off by default: the
	// stores kept here are advisory caches that can be rebuilt, so losing
	// the last few writes on a crash is acceptable.
	SyncWrites bool

	// Logger receives BadgerDB's internal log output. Nil means
	// slog.Default().
	Logger *slog.Logger
}

// DefaultConfig returns the configuration used by production deployments:
// on-disk, async writes. The caller sets Path before opening.
func DefaultConfig() Config {
	return Config{}
}

// InMemoryConfig returns a configuration for an ephemeral in-process
// database. No files are created.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

// =============================================================================
// DB
// =============================================================================

// DB is an opened BadgerDB instance plus the transaction helpers the stores
// in this repository use.
//
// # Thread Safety
//
// Safe for concurrent use. BadgerDB transactions are per-goroutine; the
// helpers create a fresh transaction per call.
type DB struct {
	db *dgbadger.DB
}

// OpenDB opens a BadgerDB instance according to cfg.
//
// # Description
//
// On-disk databases are opened at cfg.Path with value-log GC left to the
// caller (the cache workloads here are small enough that Badger's defaults
// are fine). BadgerDB's internal chatter is routed through slog at debug
// level so it never drowns service logs.
//
// # Inputs
//
//   - cfg: Open configuration. Path must be non-empty unless InMemory is set.
//
// # Outputs
//
//   - *DB: Opened database. The caller owns it and must call Close.
//   - error: Non-nil if the directory cannot be created or the DB cannot
//     be opened (e.g. lock held by another process).
func OpenDB(cfg Config) (*DB, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, fmt.Errorf("badger open: path required for on-disk database")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	opts := dgbadger.DefaultOptions(cfg.Path).
		WithInMemory(cfg.InMemory).
		WithSyncWrites(cfg.SyncWrites).
		WithLogger(&slogBridge{logger: logger})
	if cfg.InMemory {
		// Badger rejects a non-empty dir in in-memory mode.
		opts = opts.WithDir("").WithValueDir("")
	}

	db, err := dgbadger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badger open: %w", err)
	}
	return &DB{db: db}, nil
}

// WithTxn runs fn inside a read-write transaction and commits it if fn
// returns nil. The context is checked before the transaction starts; a
// cancelled context returns ctx.Err() without touching the database.
func (d *DB) WithTxn(ctx context.Context, fn func(txn *dgbadger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return d.db.Update(fn)
}

// WithReadTxn runs fn inside a read-only transaction. Same context contract
// as WithTxn.
func (d *DB) WithReadTxn(ctx context.Context, fn func(txn *dgbadger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return d.db.View(fn)
}

// Close flushes and closes the underlying database. Safe to call once;
// callers treat errors as warnings since the stores are advisory.
func (d *DB) Close() error {
	return d.db.Close()
}

// =============================================================================
// slog bridge
// =============================================================================

// slogBridge adapts BadgerDB's printf-style Logger interface to slog.
// Badger's INFO output is operational noise (compaction, value log GC), so
// everything below error level is logged at debug.
type slogBridge struct {
	logger *slog.Logger
}

func (b *slogBridge) Errorf(format string, args ...interface{}) {
	b.logger.Error("badger: " + trimNewline(fmt.Sprintf(format, args...)))
}

func (b *slogBridge) Warningf(format string, args ...interface{}) {
	b.logger.Warn("badger: " + trimNewline(fmt.Sprintf(format, args...)))
}

func (b *slogBridge) Infof(format string, args ...interface{}) {
	b.logger.Debug("badger: " + trimNewline(fmt.Sprintf(format, args...)))
}

func (b *slogBridge) Debugf(format string, args ...interface{}) {
	b.logger.Debug("badger: " + trimNewline(fmt.Sprintf(format, args...)))
}

// trimNewline drops the trailing newline badger appends to log lines.
func trimNewline(s string) string {
	if n := len(s); n > 0 && s[n-1] == '\n' {
		return s[:n-1]
	}
	return s
}
