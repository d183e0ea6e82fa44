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
	"github.com/gin-gonic/gin"
)

// RegisterRoutes registers all bridge service routes on the given router
// group. Health and metrics are registered at the router root by main, not
// here, so probes and scrapers stay outside the versioned API.
//
// Endpoints:
//   - POST /v1/resolve: Resolve a loose query to a specific record
//   - GET /v1/resolve/stream: Websocket resolve with live progress frames
//   - POST /v1/verify: Confirm a just-created record with patient retries
//   - POST /v1/invalidate: Evict one cached resolution by query
//   - GET /v1/records/:collection/:id: Direct id read, no resolution
//   - GET /v1/tools: Tool definitions in function-calling shape
//   - POST /v1/tools/call: Dispatch one tool by name
//   - GET /v1/debug/cache/keys: Memory-layer cache contents
//   - GET /v1/debug/catalog: Loaded kind-to-collection catalog
//   - GET /v1/debug/breadth: Fallback sweep collection tiers
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers) {
	// ===== Resolution =====
	// The stream route shares the /resolve prefix; gin routes it by the
	// exact path, so it never shadows the POST.
	rg.POST("/resolve", handlers.HandleResolve)
	rg.GET("/resolve/stream", handlers.HandleResolveStream)
	rg.POST("/verify", handlers.HandleVerify)
	rg.POST("/invalidate", handlers.HandleInvalidate)

	// ===== Record Passthrough =====
	records := rg.Group("/records")
	{
		records.GET("/:collection/:id", handlers.HandleGetRecord)
	}

	// ===== Tool Surface =====
	toolGroup := rg.Group("/tools")
	{
		toolGroup.GET("", handlers.HandleListTools)
		toolGroup.POST("/call", handlers.HandleToolCall)
	}

	// ===== Debug & Inspection =====
	debug := rg.Group("/debug")
	{
		debug.GET("/cache/keys", handlers.HandleCacheKeys)
		debug.GET("/catalog", handlers.HandleCatalogDump)
		debug.GET("/breadth", handlers.HandleBreadth)
	}
}
