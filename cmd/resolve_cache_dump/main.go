// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// resolve_cache_dump inspects the Bering server's durable resolution cache.
//
// The durable layer persists resolved artifacts in BadgerDB between server
// restarts so a restart does not forget which sys_id "the payroll widget"
// landed on. This tool opens the cache read-only and prints a human-readable
// summary: sys_ids, the phrase keys they resolved from, scores, age, TTL
// remaining, and raw sizes.
//
// Usage:
//
//	resolve_cache_dump [--path /path/to/bering/cache]
//
// If --path is not given, reads BERING_CACHE_DIR from the environment,
// falling back to ~/.aleutian/cache/bering/.
//
// Exit codes:
//
//	0 — success (including "empty cache" which prints a message and exits 0)
//	1 — error opening or reading the database
package main

import (
	"bytes"
	"encoding/gob"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	dgbadger "github.com/dgraph-io/badger/v4"
)

// resolveCacheKeyPrefix must match resolve/cache.go exactly.
const resolveCacheKeyPrefix = "resolve/art/v1/"

// resolvedArtifact mirrors resolve.ResolvedArtifact field for field. Gob
// matches by field name, so decoding stays in lockstep without pulling the
// whole resolve package (and its analytics and LLM deps) into this binary.
type resolvedArtifact struct {
	Key        string
	SysID      string
	Collection string
	Kind       string
	Name       string
	Summary    string
	Score      float64
	ResolvedAt time.Time
}

func main() {
	pathFlag := flag.String("path", "", "Path to the resolution cache BadgerDB directory (overrides BERING_CACHE_DIR env var)")
	flag.Parse()

	dbPath := *pathFlag
	if dbPath == "" {
		dbPath = os.Getenv("BERING_CACHE_DIR")
	}
	if dbPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			fatalf("cannot resolve home directory: %v", err)
		}
		dbPath = filepath.Join(home, ".aleutian", "cache", "bering")
	}

	fmt.Printf("Resolution cache path: %s\n", dbPath)

	// Check existence before trying to open — gives a cleaner error message
	// than BadgerDB's "no such file or directory" buried in a long error.
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		fmt.Println("Cache directory does not exist. The server has not yet cached any resolutions durably.")
		fmt.Println("Start the Bering server and resolve something first.")
		os.Exit(0)
	}

	opts := dgbadger.DefaultOptions(dbPath).
		WithLogger(nil). // suppress BadgerDB internal logs
		WithReadOnly(true)

	db, err := dgbadger.Open(opts)
	if err != nil {
		fatalf("open BadgerDB at %s: %v", dbPath, err)
	}
	defer func() { _ = db.Close() }()

	// Collect all entries under the resolution key prefix.
	type entry struct {
		key       string
		sysID     string
		expiresAt time.Time
		hasExpiry bool
		artifact  resolvedArtifact
		rawSize   int
		decodeErr error
	}

	var entries []entry

	err = db.View(func(txn *dgbadger.Txn) error {
		opts := dgbadger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(resolveCacheKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			key := string(item.Key())

			var e entry
			e.key = key
			e.sysID = strings.TrimPrefix(key, resolveCacheKeyPrefix)

			// TTL: item.ExpiresAt() returns Unix seconds, 0 = no expiry.
			if expiresAt := item.ExpiresAt(); expiresAt > 0 {
				e.hasExpiry = true
				e.expiresAt = time.Unix(int64(expiresAt), 0)
			}

			raw, err := item.ValueCopy(nil)
			if err != nil {
				e.decodeErr = fmt.Errorf("copy value: %w", err)
				entries = append(entries, e)
				continue
			}
			e.rawSize = len(raw)

			artifact, err := gobDecodeArtifact(raw)
			if err != nil {
				e.decodeErr = fmt.Errorf("gob decode: %w", err)
			} else {
				e.artifact = artifact
			}

			entries = append(entries, e)
		}
		return nil
	})
	if err != nil {
		fatalf("read BadgerDB: %v", err)
	}

	if len(entries) == 0 {
		fmt.Println("\nNo resolution cache entries found.")
		fmt.Println("The server has run but nothing has resolved yet, or every entry has")
		fmt.Println("expired and been compacted away.")
		os.Exit(0)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].key < entries[j].key })

	fmt.Printf("\nFound %d resolution cache entr%s:\n", len(entries), plural(len(entries), "y", "ies"))
	fmt.Println(strings.Repeat("─", 80))

	for i, e := range entries {
		fmt.Printf("\n[%d] sys_id:      %s\n", i+1, e.sysID)

		if e.decodeErr != nil {
			fmt.Printf("    Raw size:    %s\n", formatBytes(e.rawSize))
			fmt.Printf("    DECODE ERROR: %v\n", e.decodeErr)
			continue
		}

		art := e.artifact
		fmt.Printf("    Cache key:   %s\n", art.Key)
		fmt.Printf("    Name:        %s (%s in %s)\n", art.Name, art.Kind, art.Collection)
		if art.Summary != "" {
			fmt.Printf("    Summary:     %s\n", art.Summary)
		}
		fmt.Printf("    Score:       %.2f\n", art.Score)

		if !art.ResolvedAt.IsZero() {
			age := time.Since(art.ResolvedAt)
			fmt.Printf("    Resolved:    %s (%s ago)\n",
				art.ResolvedAt.Format("2006-01-02 15:04:05 MST"),
				age.Round(time.Second),
			)
		}

		if e.hasExpiry {
			remaining := time.Until(e.expiresAt)
			if remaining < 0 {
				fmt.Printf("    TTL:         EXPIRED (%s ago)\n", (-remaining).Round(time.Second))
			} else {
				fmt.Printf("    TTL:         %s remaining (expires %s)\n",
					remaining.Round(time.Second),
					e.expiresAt.Format("2006-01-02 15:04:05 MST"),
				)
			}
		} else {
			fmt.Printf("    TTL:         no expiry set\n")
		}

		fmt.Printf("    Raw size:    %s\n", formatBytes(e.rawSize))
	}

	fmt.Printf("\n%s\n", strings.Repeat("─", 80))
	fmt.Printf("Summary: %d entr%s, cache path: %s\n",
		len(entries), plural(len(entries), "y", "ies"), dbPath)
}

// gobDecodeArtifact deserializes one cached artifact. The field set in
// resolvedArtifact must stay aligned with resolve/cache.go.
func gobDecodeArtifact(data []byte) (resolvedArtifact, error) {
	var artifact resolvedArtifact
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&artifact); err != nil {
		return resolvedArtifact{}, err
	}
	return artifact, nil
}

// formatBytes formats a byte count as a human-readable string.
func formatBytes(n int) string {
	switch {
	case n >= 1024*1024:
		return fmt.Sprintf("%.1f MB (%d bytes)", float64(n)/1024/1024, n)
	case n >= 1024:
		return fmt.Sprintf("%.1f KB (%d bytes)", float64(n)/1024, n)
	default:
		return fmt.Sprintf("%d bytes", n)
	}
}

// plural returns singular or plural suffix based on count.
func plural(n int, singular, pluralSuffix string) string {
	if n == 1 {
		return singular
	}
	return pluralSuffix
}

// fatalf prints to stderr and exits 1.
func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "resolve_cache_dump: "+format+"\n", args...)
	os.Exit(1)
}
