// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package bridge is the HTTP face of the artifact resolution engine: gin
// handlers for resolve/verify/invalidate, a record passthrough, the
// conversational tool registry, a websocket progress stream for slow
// resolves, and a debug group exposing the cache and the loaded tables.
package bridge

import (
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/AleutianAI/bering/services/bridge/resolve"
	"github.com/AleutianAI/bering/services/bridge/tools"
	"github.com/AleutianAI/bering/services/platform"
)

// Version is reported by the health endpoint and the startup banner.
const Version = "0.9.0"

// =============================================================================
// Service
// =============================================================================

// Service bundles the engine, the tool registry, and the platform client
// behind the HTTP handlers.
//
// # Thread Safety
//
// Immutable after construction; safe for concurrent use.
type Service struct {
	engine   *resolve.Engine
	registry *tools.Registry
	client   platform.Client
	started  time.Time
}

// ServiceDeps collects the service's collaborators. All three are required.
type ServiceDeps struct {
	// Engine is the artifact resolution engine.
	Engine *resolve.Engine

	// Registry is the conversational tool set served over /tools.
	Registry *tools.Registry

	// Client talks to the remote record platform for direct record reads.
	Client platform.Client
}

// NewService validates the dependencies and stamps the start time the
// health endpoint reports uptime against.
func NewService(deps ServiceDeps) (*Service, error) {
	if deps.Engine == nil {
		return nil, errors.New("bridge: resolve engine is required")
	}
	if deps.Registry == nil {
		return nil, errors.New("bridge: tool registry is required")
	}
	if deps.Client == nil {
		return nil, errors.New("bridge: platform client is required")
	}
	return &Service{
		engine:   deps.Engine,
		registry: deps.Registry,
		client:   deps.Client,
		started:  time.Now(),
	}, nil
}

// cacheSnapshot copies the memory layer of the engine's resolution cache
// for the debug endpoints. Cache implementations without a memory layer
// yield nil.
func (s *Service) cacheSnapshot() map[string]resolve.ResolvedArtifact {
	switch c := s.engine.Cache().(type) {
	case *resolve.LayeredCache:
		return c.Memory().Snapshot()
	case *resolve.MemoryCache:
		return c.Snapshot()
	default:
		return nil
	}
}

// =============================================================================
// Shared Handler Plumbing
// =============================================================================

// ErrorResponse is the JSON body every handler returns on failure. Code is
// a stable machine-readable discriminator; Explanation, when present, is
// prose a caller can relay to a human unchanged.
type ErrorResponse struct {
	Error       string `json:"error"`
	Code        string `json:"code"`
	Explanation string `json:"explanation,omitempty"`
}

// getOrCreateRequestID returns the caller's X-Request-ID header, minting a
// fresh id when none was sent, so every log line of one request correlates.
func getOrCreateRequestID(c *gin.Context) string {
	if id := c.GetHeader("X-Request-ID"); id != "" {
		return id
	}
	return uuid.NewString()
}
