// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package bridge

import (
	"context"
	"net/http"
	"strings"
	"testing"

	"github.com/AleutianAI/bering/services/platform"
)

// =============================================================================
// Debug Endpoint Tests
// =============================================================================

func TestHandleCacheKeys_ListsSortedEntries(t *testing.T) {
	fake := &fakeClient{
		searchFn: func(_ context.Context, coll, filter string, _ int) ([]platform.Record, error) {
			if strings.Contains(filter, "holiday") {
				return []platform.Record{testRecord(coll, "w2", "Holiday Calendar")}, nil
			}
			return []platform.Record{testRecord(coll, "w1", "Incident Dashboard")}, nil
		},
	}
	r := newTestRouter(t, fake)

	for _, query := range []string{"incident dashboard widget", "holiday calendar widget"} {
		if w := doJSON(t, r, "POST", "/v1/resolve", ResolveRequest{Query: query}); w.Code != http.StatusOK {
			t.Fatalf("seed resolve %q: status %d\nbody: %s", query, w.Code, w.Body.String())
		}
	}

	w := doJSON(t, r, "GET", "/v1/debug/cache/keys", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d, want %d", w.Code, http.StatusOK)
	}
	var resp CacheKeysResponse
	decodeJSON(t, w, &resp)
	if resp.Count != 2 || len(resp.Entries) != 2 {
		t.Fatalf("expected 2 entries, got count=%d len=%d", resp.Count, len(resp.Entries))
	}
	if resp.Entries[0].Key > resp.Entries[1].Key {
		t.Errorf("entries not sorted: %q > %q", resp.Entries[0].Key, resp.Entries[1].Key)
	}
	names := map[string]bool{}
	for _, e := range resp.Entries {
		if e.Key == "" || e.SysID == "" {
			t.Errorf("incomplete entry: %+v", e)
		}
		if e.Kind != "widget" {
			t.Errorf("Kind = %q, want widget", e.Kind)
		}
		names[e.Name] = true
	}
	if !names["Incident Dashboard"] || !names["Holiday Calendar"] {
		t.Errorf("unexpected entry names: %v", names)
	}
}

func TestHandleCacheKeys_EmptyCache(t *testing.T) {
	r := newTestRouter(t, &fakeClient{})

	w := doJSON(t, r, "GET", "/v1/debug/cache/keys", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d, want %d", w.Code, http.StatusOK)
	}
	var resp CacheKeysResponse
	decodeJSON(t, w, &resp)
	if resp.Count != 0 {
		t.Errorf("Count = %d, want 0", resp.Count)
	}
}

func TestHandleCatalogDump_ShowsLoadedTables(t *testing.T) {
	r := newTestRouter(t, &fakeClient{})

	w := doJSON(t, r, "GET", "/v1/debug/catalog", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d, want %d", w.Code, http.StatusOK)
	}
	var resp CatalogResponse
	decodeJSON(t, w, &resp)
	if resp.KindCount != len(resp.Kinds) || resp.KindCount == 0 {
		t.Fatalf("inconsistent kind count: %d vs %d kinds", resp.KindCount, len(resp.Kinds))
	}

	var widget *KindView
	for i := range resp.Kinds {
		if resp.Kinds[i].Kind == "widget" {
			widget = &resp.Kinds[i]
			break
		}
	}
	if widget == nil {
		t.Fatal("expected the widget kind in the catalog dump")
	}
	found := false
	for _, coll := range widget.Collections {
		if coll == "sp_widget" {
			found = true
		}
	}
	if !found {
		t.Errorf("widget collections = %v, want sp_widget included", widget.Collections)
	}
	meta, ok := resp.Collections["sp_widget"]
	if !ok {
		t.Fatal("expected sp_widget collection metadata")
	}
	if meta.NameField == "" {
		t.Errorf("sp_widget metadata missing name_field: %+v", meta)
	}
}

func TestHandleBreadth_ShowsTiers(t *testing.T) {
	r := newTestRouter(t, &fakeClient{})

	w := doJSON(t, r, "GET", "/v1/debug/breadth", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d, want %d", w.Code, http.StatusOK)
	}
	var resp BreadthResponse
	decodeJSON(t, w, &resp)
	if len(resp.Common) == 0 {
		t.Error("expected common tier collections")
	}
	if len(resp.Extended) == 0 {
		t.Error("expected extended tier collections")
	}
}
