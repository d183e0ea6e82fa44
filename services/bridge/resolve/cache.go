// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package resolve

// =============================================================================
// Resolution Cache
// =============================================================================
//
// Successful resolutions are cached so that repeated conversational turns
// about the same artifact skip the remote retry loop entirely. The cache is
// advisory, never authoritative: entries are substring-matched, may be stale,
// and strict resolves bypass them. Writes replace entries wholesale per key;
// nothing is ever mutated in place.
//
// Two layers:
//
//	1. In-memory map — the hot path. Exact key hit first, then a substring
//	   scan over cached names/summaries of the same kind.
//	2. BadgerDB mirror — one durable record per artifact id, restored into
//	   the memory layer at startup for cross-session reuse.
//
// Storage layout:
//
//	resolve/art/v1/{sysID}  →  gob-encoded ResolvedArtifact
//	                            TTL: 14 days

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	dgbadger "github.com/dgraph-io/badger/v4"

	badgerstore "github.com/AleutianAI/bering/services/bridge/storage/badger"
)

// resolveCacheDefaultTTL is the default lifetime of a durable cache entry.
// Long enough to survive weekends between sessions; short enough that
// renamed or deleted remote records age out without explicit cleanup.
const resolveCacheDefaultTTL = 14 * 24 * time.Hour

// resolveCacheKeyPrefix is prepended to the record id to form the BadgerDB
// key. Versioned (v1) to allow future format changes without collision.
const resolveCacheKeyPrefix = "resolve/art/v1/"

// =============================================================================
// Cache Types
// =============================================================================

// ResolvedArtifact is the durable outcome of a successful resolution: the
// single record a query mapped to, with enough context to answer the same
// question again without remote calls.
type ResolvedArtifact struct {
	Key        string
	SysID      string
	Collection string
	Kind       string
	Name       string
	Summary    string
	Score      float64
	ResolvedAt time.Time
}

// CacheKey builds the canonical cache key for an identifier within a kind.
// Whitespace is collapsed and the identifier lower-cased so equivalent
// phrasings share an entry.
func CacheKey(kind, identifier string) string {
	if kind == "" {
		kind = KindAny
	}
	return kind + "/" + strings.Join(strings.Fields(strings.ToLower(identifier)), " ")
}

// ResolutionCache is the injected cache behind the resolver.
//
// # Description
//
// Lookup returns (nil, nil) on miss. Implementations may match fuzzily —
// a hit is advisory and strict callers re-verify remotely. Store replaces
// the entry for key wholesale; Invalidate drops it. InvalidateID drops every
// entry that resolved to a record id, since one record can sit under several
// phrasings. All methods must be safe for concurrent use.
type ResolutionCache interface {
	Lookup(ctx context.Context, key string) (*ResolvedArtifact, error)
	Store(ctx context.Context, key string, artifact ResolvedArtifact) error
	Invalidate(ctx context.Context, key string) error
	InvalidateID(ctx context.Context, sysID string) error
	Close() error
}

// =============================================================================
// MemoryCache
// =============================================================================

// MemoryCache is the in-process hot path: a map guarded by an RWMutex.
// Entries are stored and returned by value, so callers can never mutate a
// cached artifact in place.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]ResolvedArtifact
}

// NewMemoryCache creates an empty in-memory cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]ResolvedArtifact)}
}

// Lookup finds an entry by exact key, falling back to a substring scan over
// cached names and summaries within the same kind. The scan walks keys in
// sorted order so fuzzy hits are deterministic.
func (m *MemoryCache) Lookup(_ context.Context, key string) (*ResolvedArtifact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if art, ok := m.entries[key]; ok {
		return &art, nil
	}

	kind, ident, ok := strings.Cut(key, "/")
	if !ok || ident == "" {
		return nil, nil
	}

	keys := make([]string, 0, len(m.entries))
	for k := range m.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		art := m.entries[k]
		if kind != KindAny && art.Kind != kind {
			continue
		}
		name := strings.ToLower(art.Name)
		if name != "" && (strings.Contains(name, ident) || strings.Contains(ident, name)) {
			return &art, nil
		}
		if summary := strings.ToLower(art.Summary); summary != "" && strings.Contains(summary, ident) {
			return &art, nil
		}
	}
	return nil, nil
}

// Store replaces the entry for key.
func (m *MemoryCache) Store(_ context.Context, key string, artifact ResolvedArtifact) error {
	artifact.Key = key
	m.mu.Lock()
	m.entries[key] = artifact
	m.mu.Unlock()
	return nil
}

// Invalidate drops the entry for key. Unknown keys are a no-op.
func (m *MemoryCache) Invalidate(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
	return nil
}

// InvalidateID drops every entry that resolved to the given record id.
func (m *MemoryCache) InvalidateID(_ context.Context, sysID string) error {
	if sysID == "" {
		return nil
	}
	m.mu.Lock()
	for k, art := range m.entries {
		if art.SysID == sysID {
			delete(m.entries, k)
		}
	}
	m.mu.Unlock()
	return nil
}

// Close is a no-op for the memory layer.
func (m *MemoryCache) Close() error { return nil }

// Len reports the number of cached entries.
func (m *MemoryCache) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Snapshot returns a copy of every entry, for diagnostics.
func (m *MemoryCache) Snapshot() map[string]ResolvedArtifact {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]ResolvedArtifact, len(m.entries))
	for k, v := range m.entries {
		out[k] = v
	}
	return out
}

// =============================================================================
// BadgerArtifactStore
// =============================================================================

// BadgerArtifactStore mirrors resolved artifacts to BadgerDB, one record per
// artifact id, for cross-session reuse.
//
// # Description
//
// Each artifact is gob-encoded under resolve/art/v1/{sysID} with a 14-day
// TTL enforced by BadgerDB's native GC. The store does not serve lookups on
// the hot path — Restore streams every live entry back into the memory
// layer at startup.
//
// The store does not own the DB; the caller opens it at startup and closes
// it on shutdown.
//
// # Thread Safety
//
// Safe for concurrent use. BadgerDB transactions are per-goroutine.
type BadgerArtifactStore struct {
	db     *badgerstore.DB
	ttl    time.Duration
	logger *slog.Logger
}

// NewBadgerArtifactStore creates a BadgerArtifactStore backed by the given
// DB instance.
//
// # Inputs
//
//   - db: Opened BadgerDB wrapper. Must not be nil.
//   - ttl: Lifetime for each entry. Pass 0 to use the default (14 days).
//   - logger: Logger for save/restore diagnostics. May be nil.
//
// # Outputs
//
//   - *BadgerArtifactStore: Ready-to-use store. Never nil.
func NewBadgerArtifactStore(db *badgerstore.DB, ttl time.Duration, logger *slog.Logger) *BadgerArtifactStore {
	if db == nil {
		panic("NewBadgerArtifactStore: db must not be nil")
	}
	if ttl <= 0 {
		ttl = resolveCacheDefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &BadgerArtifactStore{db: db, ttl: ttl, logger: logger}
}

// SaveArtifact persists one resolved artifact under its record id.
//
// Returns non-nil error only on encode or storage failure. Callers log the
// error and continue — the memory layer already holds the entry.
func (s *BadgerArtifactStore) SaveArtifact(ctx context.Context, artifact ResolvedArtifact) error {
	if artifact.SysID == "" {
		return nil
	}

	raw, err := gobEncodeArtifact(artifact)
	if err != nil {
		return fmt.Errorf("resolve cache encode: %w", err)
	}

	key := resolveCacheKey(artifact.SysID)
	err = s.db.WithTxn(ctx, func(txn *dgbadger.Txn) error {
		entry := dgbadger.NewEntry(key, raw).WithTTL(s.ttl)
		return txn.SetEntry(entry)
	})
	if err != nil {
		return fmt.Errorf("resolve cache save: %w", err)
	}

	s.logger.Debug("resolve cache: saved",
		slog.String("sys_id", artifact.SysID),
		slog.String("collection", artifact.Collection),
		slog.Duration("ttl", s.ttl),
	)
	return nil
}

// DeleteArtifact drops the durable record for an artifact id. Missing keys
// are a no-op.
func (s *BadgerArtifactStore) DeleteArtifact(ctx context.Context, sysID string) error {
	if sysID == "" {
		return nil
	}
	err := s.db.WithTxn(ctx, func(txn *dgbadger.Txn) error {
		return txn.Delete(resolveCacheKey(sysID))
	})
	if err != nil {
		return fmt.Errorf("resolve cache delete: %w", err)
	}
	return nil
}

// Restore streams every live (non-expired) artifact back to the caller,
// typically to warm the memory layer at startup.
//
// # Outputs
//
//   - []ResolvedArtifact: Every decodable entry. Corrupt entries are
//     skipped with a warning rather than failing the whole restore.
//   - error: Non-nil only on iteration failure.
func (s *BadgerArtifactStore) Restore(ctx context.Context) ([]ResolvedArtifact, error) {
	var out []ResolvedArtifact
	prefix := []byte(resolveCacheKeyPrefix)

	err := s.db.WithReadTxn(ctx, func(txn *dgbadger.Txn) error {
		opts := dgbadger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			raw, err := it.Item().ValueCopy(nil)
			if err != nil {
				return fmt.Errorf("copy value: %w", err)
			}
			art, err := gobDecodeArtifact(raw)
			if err != nil {
				s.logger.Warn("resolve cache: skipping corrupt entry",
					slog.String("key", string(it.Item().Key())),
					slog.String("error", err.Error()),
				)
				continue
			}
			out = append(out, art)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("resolve cache restore: %w", err)
	}

	s.logger.Debug("resolve cache: restored", slog.Int("entries", len(out)))
	return out, nil
}

// =============================================================================
// LayeredCache
// =============================================================================

// LayeredCache composes the memory hot path with the durable mirror.
//
// # Description
//
// Lookups are served from memory only. Stores go to memory first, then to
// the mirror; a mirror failure is logged and swallowed, since the memory
// layer already answered. A nil durable store degrades to memory-only
// operation, which is the correct mode for tests and cache-less deployments.
type LayeredCache struct {
	mem     *MemoryCache
	durable *BadgerArtifactStore
	logger  *slog.Logger
}

// NewLayeredCache composes the two layers. durable may be nil.
func NewLayeredCache(mem *MemoryCache, durable *BadgerArtifactStore, logger *slog.Logger) *LayeredCache {
	if mem == nil {
		mem = NewMemoryCache()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &LayeredCache{mem: mem, durable: durable, logger: logger}
}

// Lookup serves from the memory layer.
func (c *LayeredCache) Lookup(ctx context.Context, key string) (*ResolvedArtifact, error) {
	return c.mem.Lookup(ctx, key)
}

// Store writes to memory and mirrors to the durable layer.
func (c *LayeredCache) Store(ctx context.Context, key string, artifact ResolvedArtifact) error {
	artifact.Key = key
	if err := c.mem.Store(ctx, key, artifact); err != nil {
		return err
	}
	if c.durable != nil {
		if err := c.durable.SaveArtifact(ctx, artifact); err != nil {
			c.logger.Warn("resolve cache: durable mirror write failed",
				slog.String("key", key),
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}

// Invalidate drops the entry from both layers.
func (c *LayeredCache) Invalidate(ctx context.Context, key string) error {
	art, err := c.mem.Lookup(ctx, key)
	if err != nil {
		return err
	}
	if err := c.mem.Invalidate(ctx, key); err != nil {
		return err
	}
	if c.durable != nil && art != nil {
		if err := c.durable.DeleteArtifact(ctx, art.SysID); err != nil {
			c.logger.Warn("resolve cache: durable mirror delete failed",
				slog.String("key", key),
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}

// InvalidateID drops every entry for a record id from both layers.
func (c *LayeredCache) InvalidateID(ctx context.Context, sysID string) error {
	if err := c.mem.InvalidateID(ctx, sysID); err != nil {
		return err
	}
	if c.durable != nil {
		if err := c.durable.DeleteArtifact(ctx, sysID); err != nil {
			c.logger.Warn("resolve cache: durable mirror delete failed",
				slog.String("sys_id", sysID),
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}

// Warmup restores durable entries into the memory layer. Call once at
// startup, before serving.
func (c *LayeredCache) Warmup(ctx context.Context) (int, error) {
	if c.durable == nil {
		return 0, nil
	}
	arts, err := c.durable.Restore(ctx)
	if err != nil {
		return 0, err
	}
	for _, art := range arts {
		key := art.Key
		if key == "" {
			key = CacheKey(art.Kind, art.Name)
		}
		if err := c.mem.Store(ctx, key, art); err != nil {
			return 0, err
		}
	}
	return len(arts), nil
}

// Close is a no-op: the underlying DB is owned by the caller.
func (c *LayeredCache) Close() error { return nil }

// Memory exposes the hot-path layer for diagnostics.
func (c *LayeredCache) Memory() *MemoryCache { return c.mem }

// =============================================================================
// Helpers
// =============================================================================

func resolveCacheKey(sysID string) []byte {
	return []byte(resolveCacheKeyPrefix + sysID)
}

func gobEncodeArtifact(artifact ResolvedArtifact) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(artifact); err != nil {
		return nil, fmt.Errorf("gob encode: %w", err)
	}
	return buf.Bytes(), nil
}

func gobDecodeArtifact(data []byte) (ResolvedArtifact, error) {
	var artifact ResolvedArtifact
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&artifact); err != nil {
		return ResolvedArtifact{}, fmt.Errorf("gob decode: %w", err)
	}
	return artifact, nil
}
