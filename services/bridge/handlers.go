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
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/bering/services/bridge/resolve"
	"github.com/AleutianAI/bering/services/bridge/tools"
	"github.com/AleutianAI/bering/services/platform"
)

// =============================================================================
// Handlers
// =============================================================================

// Handlers holds the HTTP handler methods for the bridge service.
type Handlers struct {
	svc *Service
}

// NewHandlers creates the handler set for a service.
func NewHandlers(svc *Service) *Handlers {
	return &Handlers{svc: svc}
}

// =============================================================================
// Wire Types
// =============================================================================

// ResolveRequest is the body of POST /v1/resolve and, flattened into query
// parameters, of GET /v1/resolve/stream.
type ResolveRequest struct {
	// Query is the free-text phrase to resolve.
	Query string `json:"query"`

	// Kind pins the artifact kind, skipping keyword classification.
	Kind string `json:"kind,omitempty"`

	// Strict rejects weak intents, bypasses the cache, and surfaces
	// ambiguity as a 409 instead of silently picking a winner.
	Strict bool `json:"strict,omitempty"`

	// MaxWaitSeconds caps wall time across the retry schedule. Fractions
	// are honored. 0 means the policy default.
	MaxWaitSeconds float64 `json:"max_wait_seconds,omitempty"`

	// ExpectedID short-circuits via direct id lookup when set.
	ExpectedID string `json:"expected_id,omitempty"`

	// Limit caps per-strategy results. 0 means the configured default.
	Limit int `json:"limit,omitempty"`
}

func (r ResolveRequest) options() resolve.Options {
	return resolve.Options{
		KindHint:   r.Kind,
		Strict:     r.Strict,
		MaxWait:    time.Duration(r.MaxWaitSeconds * float64(time.Second)),
		ExpectedID: r.ExpectedID,
		Limit:      r.Limit,
	}
}

// ArtifactView is the JSON rendering of one resolved artifact.
type ArtifactView struct {
	SysID      string  `json:"sys_id"`
	Collection string  `json:"collection"`
	Kind       string  `json:"kind"`
	Name       string  `json:"name"`
	Summary    string  `json:"summary,omitempty"`
	Score      float64 `json:"score"`
	ResolvedAt string  `json:"resolved_at,omitempty"`
}

// CandidateView is the JSON rendering of one ranked candidate.
type CandidateView struct {
	SysID      string  `json:"sys_id"`
	Collection string  `json:"collection"`
	Name       string  `json:"name"`
	Strategy   string  `json:"strategy"`
	Attempt    int     `json:"attempt"`
	Score      float64 `json:"score"`
}

// ResolveResponse is the 200 body of POST /v1/resolve and the terminal
// frame payload of the websocket stream.
type ResolveResponse struct {
	Query         string          `json:"query"`
	Kind          string          `json:"kind"`
	KindSource    string          `json:"kind_source"`
	Outcome       string          `json:"outcome"`
	Match         *ArtifactView   `json:"match,omitempty"`
	Candidates    []CandidateView `json:"candidates,omitempty"`
	Ambiguous     bool            `json:"ambiguous,omitempty"`
	FromCache     bool            `json:"from_cache,omitempty"`
	Attempts      int             `json:"attempts"`
	DurationMS    int64           `json:"duration_ms"`
	CorrelationID string          `json:"correlation_id"`
}

// AmbiguousResponse is the 409 body of a strict resolve whose top
// candidates scored within epsilon of each other.
type AmbiguousResponse struct {
	ErrorResponse
	Candidates []CandidateView `json:"candidates"`
}

// VerifyRequest is the body of POST /v1/verify.
type VerifyRequest struct {
	Kind           string  `json:"kind"`
	Name           string  `json:"name"`
	ExpectedID     string  `json:"expected_id,omitempty"`
	MaxWaitSeconds float64 `json:"max_wait_seconds,omitempty"`
}

// VerifyResponse is the 200 body of POST /v1/verify.
type VerifyResponse struct {
	Verified   bool            `json:"verified"`
	Outcome    string          `json:"outcome"`
	Match      *ArtifactView   `json:"match,omitempty"`
	Candidates []CandidateView `json:"candidates,omitempty"`
	Attempts   int             `json:"attempts"`
	DurationMS int64           `json:"duration_ms"`
}

// InvalidateRequest is the body of POST /v1/invalidate.
type InvalidateRequest struct {
	Query string `json:"query"`
	Kind  string `json:"kind,omitempty"`
}

// InvalidateResponse is the 200 body of POST /v1/invalidate.
type InvalidateResponse struct {
	Key        string `json:"key"`
	Kind       string `json:"kind"`
	Identifier string `json:"identifier"`
}

// RecordResponse is the 200 body of GET /v1/records/:collection/:id.
type RecordResponse struct {
	SysID      string            `json:"sys_id"`
	Collection string            `json:"collection"`
	Name       string            `json:"name"`
	UpdatedAt  string            `json:"updated_at,omitempty"`
	Active     bool              `json:"active"`
	Fields     map[string]string `json:"fields"`
}

// ToolsResponse is the 200 body of GET /v1/tools.
type ToolsResponse struct {
	Count int                `json:"count"`
	Tools []tools.Definition `json:"tools"`
}

// ToolCallRequest is the body of POST /v1/tools/call.
type ToolCallRequest struct {
	// Name is the wire name of the tool to dispatch.
	Name string `json:"name"`

	// Arguments is the tool's parameter object, passed through verbatim.
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// HealthResponse is the body of GET /healthz.
type HealthResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	CacheEntries  int    `json:"cache_entries"`
	Kinds         int    `json:"kinds"`
}

// =============================================================================
// View Builders
// =============================================================================

func newArtifactView(a *resolve.ResolvedArtifact) *ArtifactView {
	if a == nil {
		return nil
	}
	view := &ArtifactView{
		SysID:      a.SysID,
		Collection: a.Collection,
		Kind:       a.Kind,
		Name:       a.Name,
		Summary:    a.Summary,
		Score:      a.Score,
	}
	if !a.ResolvedAt.IsZero() {
		view.ResolvedAt = a.ResolvedAt.UTC().Format(time.RFC3339)
	}
	return view
}

func newCandidateViews(candidates []resolve.Candidate) []CandidateView {
	if len(candidates) == 0 {
		return nil
	}
	out := make([]CandidateView, 0, len(candidates))
	for _, c := range candidates {
		env := c.Record.Envelope()
		out = append(out, CandidateView{
			SysID:      env.SysID,
			Collection: c.Collection,
			Name:       env.Name,
			Strategy:   c.Strategy,
			Attempt:    c.RetryAttempt,
			Score:      c.Score,
		})
	}
	return out
}

func newResolveResponse(res *resolve.Resolution) ResolveResponse {
	return ResolveResponse{
		Query:         res.Query,
		Kind:          res.Intent.Kind,
		KindSource:    string(res.Intent.Source),
		Outcome:       string(res.Outcome),
		Match:         newArtifactView(res.Match),
		Candidates:    newCandidateViews(res.Candidates),
		Ambiguous:     res.Ambiguous,
		FromCache:     res.FromCache,
		Attempts:      res.Attempts,
		DurationMS:    res.Duration.Milliseconds(),
		CorrelationID: res.CorrelationID,
	}
}

func newRecordResponse(rec platform.Record) RecordResponse {
	env := rec.Envelope()
	out := RecordResponse{
		SysID:      env.SysID,
		Collection: env.Collection,
		Name:       env.Name,
		Active:     env.Active,
		Fields:     rec.FieldMap(),
	}
	if !env.UpdatedAt.IsZero() {
		out.UpdatedAt = env.UpdatedAt.UTC().Format(time.RFC3339)
	}
	return out
}

// resolveErrorBody translates the engine's error taxonomy to an HTTP status
// and JSON body. Used by the resolve, verify, and stream handlers.
func resolveErrorBody(err error) (int, ErrorResponse) {
	switch {
	case errors.Is(err, resolve.ErrInvalidIntent):
		return http.StatusBadRequest, ErrorResponse{
			Error: err.Error(),
			Code:  "INVALID_INTENT",
			Explanation: "The request was rejected before any remote call. " +
				"Name the artifact more specifically, use a known kind, or drop strict mode.",
		}
	case platform.IsTransport(err):
		return http.StatusBadGateway, ErrorResponse{
			Error: err.Error(),
			Code:  "PLATFORM_UNREACHABLE",
			Explanation: "The record platform could not be reached, so absence was not " +
				"established. Retry once connectivity recovers.",
		}
	default:
		return http.StatusInternalServerError, ErrorResponse{
			Error: err.Error(),
			Code:  "RESOLVE_FAILED",
		}
	}
}

// =============================================================================
// Resolution Handlers
// =============================================================================

// HandleResolve handles POST /v1/resolve.
//
// Description:
//
//	Maps a loosely-specified query to the best-matching platform record,
//	riding out search-index propagation lag with the engine's retry
//	schedule. A not_found outcome is a normal 200 — the engine established
//	absence; only transport-level failure is an error status.
//
// Request Body:
//
//	ResolveRequest (query required unless expected_id is set)
//
// Response:
//
//	200 OK: ResolveResponse (outcomes matched, listed, not_found, cached)
//	400 Bad Request: Missing query or strict-mode rejection
//	409 Conflict: AmbiguousResponse — strict resolve with candidates within epsilon
//	502 Bad Gateway: Platform unreachable for the entire retry schedule
//
// Thread Safety: This method is safe for concurrent use.
func (h *Handlers) HandleResolve(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleResolve")

	var req ResolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "invalid request body: " + err.Error(),
			Code:  "INVALID_REQUEST",
		})
		return
	}
	if strings.TrimSpace(req.Query) == "" && req.ExpectedID == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:       "query is required",
			Code:        "MISSING_PARAMETER",
			Explanation: "Send the phrase to resolve in query, or an expected_id for a direct lookup.",
		})
		return
	}
	if req.MaxWaitSeconds < 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "max_wait_seconds must not be negative",
			Code:  "INVALID_PARAMETER",
		})
		return
	}

	res, err := h.svc.engine.Resolve(c.Request.Context(), req.Query, req.options())
	if err != nil {
		status, body := resolveErrorBody(err)
		if status >= http.StatusInternalServerError {
			logger.Error("resolve failed", slog.String("error", err.Error()))
		}
		c.JSON(status, body)
		return
	}

	if res.Outcome == resolve.OutcomeAmbiguous {
		amb := &resolve.AmbiguousError{Candidates: res.Candidates}
		c.JSON(http.StatusConflict, AmbiguousResponse{
			ErrorResponse: ErrorResponse{
				Error: amb.Error(),
				Code:  "AMBIGUOUS_RESOLUTION",
				Explanation: "Several records scored within epsilon of each other. " +
					"Pick one by sys_id and retry with expected_id.",
			},
			Candidates: newCandidateViews(res.Candidates),
		})
		return
	}

	logger.Info("resolve complete",
		slog.String("outcome", string(res.Outcome)),
		slog.String("kind", res.Intent.Kind),
		slog.Int("attempts", res.Attempts),
	)
	c.JSON(http.StatusOK, newResolveResponse(res))
}

// HandleVerify handles POST /v1/verify.
//
// Description:
//
//	The higher-patience variant for confirming a record created moments
//	ago: more attempts, longer backoff, and — when expected_id is set — a
//	direct id lookup that short-circuits the text strategies. Verification
//	is always strict; an unverifiable record is a normal 200 with
//	verified=false, since "not yet visible" is the expected answer during
//	propagation lag.
//
// Request Body:
//
//	VerifyRequest (kind and name required)
//
// Response:
//
//	200 OK: VerifyResponse
//	400 Bad Request: Missing parameters or unknown kind
//	502 Bad Gateway: Platform unreachable for the entire retry schedule
//
// Thread Safety: This method is safe for concurrent use.
func (h *Handlers) HandleVerify(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleVerify")

	var req VerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "invalid request body: " + err.Error(),
			Code:  "INVALID_REQUEST",
		})
		return
	}
	if strings.TrimSpace(req.Kind) == "" || strings.TrimSpace(req.Name) == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:       "kind and name are required",
			Code:        "MISSING_PARAMETER",
			Explanation: "Send the artifact kind and the exact name the record was created with.",
		})
		return
	}
	if req.MaxWaitSeconds < 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "max_wait_seconds must not be negative",
			Code:  "INVALID_PARAMETER",
		})
		return
	}

	opts := resolve.Options{
		KindHint:   req.Kind,
		Strict:     true,
		MaxWait:    time.Duration(req.MaxWaitSeconds * float64(time.Second)),
		ExpectedID: req.ExpectedID,
	}
	res, err := h.svc.engine.Verify(c.Request.Context(), req.Name, opts)
	if err != nil {
		status, body := resolveErrorBody(err)
		if status >= http.StatusInternalServerError {
			logger.Error("verify failed", slog.String("error", err.Error()))
		}
		c.JSON(status, body)
		return
	}

	verified := res.Match != nil && (req.ExpectedID == "" || res.Match.SysID == req.ExpectedID)
	logger.Info("verify complete",
		slog.Bool("verified", verified),
		slog.String("outcome", string(res.Outcome)),
		slog.Int("attempts", res.Attempts),
	)
	c.JSON(http.StatusOK, VerifyResponse{
		Verified:   verified,
		Outcome:    string(res.Outcome),
		Match:      newArtifactView(res.Match),
		Candidates: newCandidateViews(res.Candidates),
		Attempts:   res.Attempts,
		DurationMS: res.Duration.Milliseconds(),
	})
}

// HandleInvalidate handles POST /v1/invalidate.
//
// Description:
//
//	Drops the cached resolution a query maps to, forcing the next resolve
//	for that phrasing back to the platform. Used after an external change
//	the cache cannot see. Evicting an absent key succeeds.
//
// Request Body:
//
//	InvalidateRequest (query required)
//
// Response:
//
//	200 OK: InvalidateResponse with the evicted cache key
//	400 Bad Request: Missing query or unknown kind
//
// Thread Safety: This method is safe for concurrent use.
func (h *Handlers) HandleInvalidate(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleInvalidate")

	var req InvalidateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "invalid request body: " + err.Error(),
			Code:  "INVALID_REQUEST",
		})
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "query is required",
			Code:  "MISSING_PARAMETER",
		})
		return
	}
	if req.Kind != "" && !slices.Contains(h.svc.engine.KnownKinds(), req.Kind) {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:       fmt.Sprintf("unknown kind %q", req.Kind),
			Code:        "UNKNOWN_KIND",
			Explanation: "Omit kind to classify from the query text, or use a catalog kind.",
		})
		return
	}

	intent := h.svc.engine.Classify(req.Query, req.Kind)
	key := resolve.CacheKey(intent.Kind, intent.Identifier)
	if err := h.svc.engine.Invalidate(c.Request.Context(), req.Query, req.Kind); err != nil {
		logger.Error("invalidate failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: err.Error(),
			Code:  "INVALIDATE_FAILED",
		})
		return
	}

	logger.Info("cache entry invalidated", slog.String("key", key))
	c.JSON(http.StatusOK, InvalidateResponse{
		Key:        key,
		Kind:       intent.Kind,
		Identifier: intent.Identifier,
	})
}

// =============================================================================
// Record Passthrough
// =============================================================================

// HandleGetRecord handles GET /v1/records/:collection/:id.
//
// Description:
//
//	Direct id read against the platform, bypassing resolution entirely.
//	The id index is immediately consistent, so this never needs retries.
//
// Path Parameters:
//
//	collection: Platform collection name (required)
//	id: 32-character record sys_id (required)
//
// Response:
//
//	200 OK: RecordResponse
//	400 Bad Request: Missing path parameter
//	404 Not Found: No record with that id in that collection
//	502 Bad Gateway: Platform unreachable
//
// Thread Safety: This method is safe for concurrent use.
func (h *Handlers) HandleGetRecord(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleGetRecord")

	collection := c.Param("collection")
	id := c.Param("id")
	if collection == "" || id == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "collection and id are required",
			Code:  "MISSING_PARAMETER",
		})
		return
	}

	rec, err := h.svc.client.GetByID(c.Request.Context(), collection, id)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, newRecordResponse(rec))
	case platform.IsNotFound(err):
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error: "record not found",
			Code:  "RECORD_NOT_FOUND",
			Explanation: "No record " + id + " in " + collection + "; it may have been " +
				"deleted, or the sys_id belongs to another collection.",
		})
	case platform.IsTransport(err):
		logger.Error("platform read failed", slog.String("error", err.Error()))
		c.JSON(http.StatusBadGateway, ErrorResponse{
			Error: err.Error(),
			Code:  "PLATFORM_UNREACHABLE",
		})
	default:
		logger.Error("record read failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: err.Error(),
			Code:  "RECORD_READ_FAILED",
		})
	}
}

// =============================================================================
// Tool Surface
// =============================================================================

// HandleListTools handles GET /v1/tools.
//
// Description:
//
//	Returns every tool definition in presentation order, in the OpenAI
//	function-calling shape, ready to hand to a model provider verbatim.
//
// Response:
//
//	200 OK: ToolsResponse
//
// Thread Safety: This method is safe for concurrent use.
func (h *Handlers) HandleListTools(c *gin.Context) {
	defs := h.svc.registry.Definitions()
	c.JSON(http.StatusOK, ToolsResponse{Count: len(defs), Tools: defs})
}

// HandleToolCall handles POST /v1/tools/call.
//
// Description:
//
//	Dispatches one tool call by name. The tool result comes back as-is:
//	success=false with a corrective error string is a normal 200, because
//	that text is meant to be fed back into the calling conversation. Only
//	an infrastructure failure inside the dispatcher is an error status.
//
// Request Body:
//
//	ToolCallRequest (name required; arguments is the tool's JSON object)
//
// Response:
//
//	200 OK: tools.Result
//	400 Bad Request: Missing tool name
//	500 Internal Server Error: Dispatcher failure
//
// Thread Safety: This method is safe for concurrent use.
func (h *Handlers) HandleToolCall(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleToolCall")

	var req ToolCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "invalid request body: " + err.Error(),
			Code:  "INVALID_REQUEST",
		})
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "name is required",
			Code:  "MISSING_PARAMETER",
		})
		return
	}

	result, err := h.svc.registry.Dispatch(c.Request.Context(), req.Name, req.Arguments)
	if err != nil {
		logger.Error("tool dispatch failed",
			slog.String("tool", req.Name),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: err.Error(),
			Code:  "TOOL_DISPATCH_FAILED",
		})
		return
	}

	logger.Info("tool call served",
		slog.String("tool", req.Name),
		slog.Bool("success", result.Success),
		slog.String("correlation_id", result.CorrelationID),
	)
	c.JSON(http.StatusOK, result)
}

// =============================================================================
// Health
// =============================================================================

// HandleHealth handles GET /healthz.
//
// Description:
//
//	Local liveness only: no remote platform call, so a platform outage
//	never flaps the service's own health. The platform version gate runs
//	once at startup instead.
//
// Response:
//
//	200 OK: HealthResponse
//
// Thread Safety: This method is safe for concurrent use.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:        "ok",
		Version:       Version,
		UptimeSeconds: int64(time.Since(h.svc.started).Seconds()),
		CacheEntries:  len(h.svc.cacheSnapshot()),
		Kinds:         len(h.svc.engine.KnownKinds()),
	})
}
