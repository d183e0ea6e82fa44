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
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/bering/services/bridge/config"
)

// =============================================================================
// Wire Types
// =============================================================================

// CacheEntryView is one memory-layer cache entry as shown by the debug
// endpoint.
type CacheEntryView struct {
	Key        string  `json:"key"`
	SysID      string  `json:"sys_id"`
	Collection string  `json:"collection"`
	Kind       string  `json:"kind"`
	Name       string  `json:"name"`
	Score      float64 `json:"score"`
	ResolvedAt string  `json:"resolved_at,omitempty"`
}

// CacheKeysResponse is the body of GET /v1/debug/cache/keys.
type CacheKeysResponse struct {
	Count   int              `json:"count"`
	Entries []CacheEntryView `json:"entries"`
}

// KindView is one classification rule as shown by the catalog dump.
type KindView struct {
	Kind        string   `json:"kind"`
	Collections []string `json:"collections"`
	Keywords    []string `json:"keywords"`
	Aliases     []string `json:"aliases,omitempty"`
}

// CollectionView is one collection's field metadata as shown by the
// catalog dump.
type CollectionView struct {
	Label         string   `json:"label,omitempty"`
	NameField     string   `json:"name_field"`
	AltNameFields []string `json:"alt_name_fields,omitempty"`
	HasActiveFlag bool     `json:"has_active_flag"`
}

// CatalogResponse is the body of GET /v1/debug/catalog.
type CatalogResponse struct {
	Version     int                       `json:"version"`
	KindCount   int                       `json:"kind_count"`
	Kinds       []KindView                `json:"kinds"`
	Collections map[string]CollectionView `json:"collections"`
}

// BreadthResponse is the body of GET /v1/debug/breadth.
type BreadthResponse struct {
	Common   []string `json:"common"`
	Extended []string `json:"extended"`
}

// =============================================================================
// Debug Handlers
// =============================================================================

// HandleCacheKeys handles GET /v1/debug/cache/keys.
//
// Description:
//
//	Dumps the memory layer of the resolution cache, sorted by key. The
//	durable layer is not walked; after a restart this shows only what has
//	been re-warmed or re-resolved.
//
// Response:
//
//	200 OK: CacheKeysResponse
//
// Thread Safety: This method is safe for concurrent use.
func (h *Handlers) HandleCacheKeys(c *gin.Context) {
	snapshot := h.svc.cacheSnapshot()
	entries := make([]CacheEntryView, 0, len(snapshot))
	for key, art := range snapshot {
		view := CacheEntryView{
			Key:        key,
			SysID:      art.SysID,
			Collection: art.Collection,
			Kind:       art.Kind,
			Name:       art.Name,
			Score:      art.Score,
		}
		if !art.ResolvedAt.IsZero() {
			view.ResolvedAt = art.ResolvedAt.UTC().Format(time.RFC3339)
		}
		entries = append(entries, view)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
	c.JSON(http.StatusOK, CacheKeysResponse{Count: len(entries), Entries: entries})
}

// HandleCatalogDump handles GET /v1/debug/catalog.
//
// Description:
//
//	Dumps the loaded kind-to-collection catalog: every classification rule
//	in declaration order plus the per-collection field metadata. Useful for
//	checking which revision a deployment actually loaded.
//
// Response:
//
//	200 OK: CatalogResponse
//	500 Internal Server Error: Catalog failed to load
//
// Thread Safety: This method is safe for concurrent use.
func (h *Handlers) HandleCatalogDump(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleCatalogDump")

	catalog, err := config.GetCatalog(c.Request.Context())
	if err != nil {
		logger.Error("catalog load failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: err.Error(),
			Code:  "CATALOG_LOAD_FAILED",
		})
		return
	}

	kinds := make([]KindView, 0, len(catalog.Kinds))
	for _, rule := range catalog.Kinds {
		kinds = append(kinds, KindView{
			Kind:        rule.Kind,
			Collections: rule.Collections,
			Keywords:    rule.Keywords,
			Aliases:     rule.Aliases,
		})
	}
	collections := make(map[string]CollectionView, len(catalog.Collections))
	for name, meta := range catalog.Collections {
		collections[name] = CollectionView{
			Label:         meta.Label,
			NameField:     meta.NameField,
			AltNameFields: meta.AltNameFields,
			HasActiveFlag: meta.HasActiveFlag,
		}
	}
	c.JSON(http.StatusOK, CatalogResponse{
		Version:     catalog.Version,
		KindCount:   len(kinds),
		Kinds:       kinds,
		Collections: collections,
	})
}

// HandleBreadth handles GET /v1/debug/breadth.
//
// Description:
//
//	Shows the fallback sweep tiers from the loaded search config: the
//	common collections swept first when classification fails, then the
//	extended tier.
//
// Response:
//
//	200 OK: BreadthResponse
//	500 Internal Server Error: Search config failed to load
//
// Thread Safety: This method is safe for concurrent use.
func (h *Handlers) HandleBreadth(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleBreadth")

	search, err := config.GetSearchConfig(c.Request.Context())
	if err != nil {
		logger.Error("search config load failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: err.Error(),
			Code:  "SEARCH_CONFIG_LOAD_FAILED",
		})
		return
	}
	c.JSON(http.StatusOK, BreadthResponse{
		Common:   search.Breadth.Common,
		Extended: search.Breadth.Extended,
	})
}
