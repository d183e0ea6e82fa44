// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// =============================================================================
// Wire Types
// =============================================================================
//
// These mirror the server's JSON. Defined here rather than imported because
// the wire format is the contract; the client must keep working against
// servers a release ahead or behind.

type resolveRequest struct {
	Query          string  `json:"query"`
	Kind           string  `json:"kind,omitempty"`
	Strict         bool    `json:"strict,omitempty"`
	MaxWaitSeconds float64 `json:"max_wait_seconds,omitempty"`
	ExpectedID     string  `json:"expected_id,omitempty"`
	Limit          int     `json:"limit,omitempty"`
}

type artifactView struct {
	SysID      string  `json:"sys_id"`
	Collection string  `json:"collection"`
	Kind       string  `json:"kind"`
	Name       string  `json:"name"`
	Summary    string  `json:"summary,omitempty"`
	Score      float64 `json:"score"`
	ResolvedAt string  `json:"resolved_at,omitempty"`
}

type candidateView struct {
	SysID      string  `json:"sys_id"`
	Collection string  `json:"collection"`
	Name       string  `json:"name"`
	Strategy   string  `json:"strategy"`
	Attempt    int     `json:"attempt"`
	Score      float64 `json:"score"`
}

type resolveResponse struct {
	Query         string          `json:"query"`
	Kind          string          `json:"kind"`
	KindSource    string          `json:"kind_source"`
	Outcome       string          `json:"outcome"`
	Match         *artifactView   `json:"match,omitempty"`
	Candidates    []candidateView `json:"candidates,omitempty"`
	Ambiguous     bool            `json:"ambiguous,omitempty"`
	FromCache     bool            `json:"from_cache,omitempty"`
	Attempts      int             `json:"attempts"`
	DurationMS    int64           `json:"duration_ms"`
	CorrelationID string          `json:"correlation_id"`
}

// Outcome values the server reports.
const (
	outcomeMatched   = "matched"
	outcomeListed    = "listed"
	outcomeAmbiguous = "ambiguous"
	outcomeNotFound  = "not_found"
	outcomeCached    = "cached"
)

type errorResponse struct {
	Error       string          `json:"error"`
	Code        string          `json:"code"`
	Explanation string          `json:"explanation,omitempty"`
	Candidates  []candidateView `json:"candidates,omitempty"`
}

type verifyRequest struct {
	Kind           string  `json:"kind"`
	Name           string  `json:"name"`
	ExpectedID     string  `json:"expected_id,omitempty"`
	MaxWaitSeconds float64 `json:"max_wait_seconds,omitempty"`
}

type verifyResponse struct {
	Verified   bool            `json:"verified"`
	Outcome    string          `json:"outcome"`
	Match      *artifactView   `json:"match,omitempty"`
	Candidates []candidateView `json:"candidates,omitempty"`
	Attempts   int             `json:"attempts"`
	DurationMS int64           `json:"duration_ms"`
}

type invalidateRequest struct {
	Query string `json:"query"`
	Kind  string `json:"kind,omitempty"`
}

type invalidateResponse struct {
	Key        string `json:"key"`
	Kind       string `json:"kind"`
	Identifier string `json:"identifier"`
}

type recordResponse struct {
	SysID      string            `json:"sys_id"`
	Collection string            `json:"collection"`
	Name       string            `json:"name"`
	UpdatedAt  string            `json:"updated_at,omitempty"`
	Active     bool              `json:"active"`
	Fields     map[string]string `json:"fields"`
}

type toolParamDef struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

type toolParameters struct {
	Type       string                  `json:"type"`
	Properties map[string]toolParamDef `json:"properties,omitempty"`
	Required   []string                `json:"required,omitempty"`
}

type toolFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  toolParameters `json:"parameters"`
}

type toolDefinition struct {
	Type     string       `json:"type"`
	Function toolFunction `json:"function"`
}

type toolsResponse struct {
	Count int              `json:"count"`
	Tools []toolDefinition `json:"tools"`
}

type healthResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	CacheEntries  int    `json:"cache_entries"`
	Kinds         int    `json:"kinds"`
}

// streamFrame is one websocket message from /v1/resolve/stream.
type streamFrame struct {
	Type       string           `json:"type"`
	Stage      string           `json:"stage,omitempty"`
	Collection string           `json:"collection,omitempty"`
	Attempt    int              `json:"attempt,omitempty"`
	Strategy   string           `json:"strategy,omitempty"`
	Found      int              `json:"found,omitempty"`
	WaitMS     int64            `json:"wait_ms,omitempty"`
	Resolution *resolveResponse `json:"resolution,omitempty"`
	Error      *errorResponse   `json:"error,omitempty"`
}

// =============================================================================
// API Client
// =============================================================================

// apiError is a non-2xx answer from the server.
type apiError struct {
	Status      int
	Code        string
	Message     string
	Explanation string
}

func (e *apiError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s (%s)", e.Message, e.Code)
	}
	if e.Status != 0 {
		return fmt.Sprintf("%s (HTTP %d)", e.Message, e.Status)
	}
	return e.Message
}

// errStreamUnavailable reports that the websocket endpoint could not be
// reached at all. Callers fall back to the plain HTTP resolve.
var errStreamUnavailable = errors.New("resolve stream unavailable")

// apiClient talks to one Bering server.
type apiClient struct {
	baseURL string
	http    *http.Client
}

// newAPIClient builds a client for the given base URL. The HTTP timeout is
// generous because a resolve may deliberately ride out minutes of index lag;
// the websocket path carries no such cap.
func newAPIClient(baseURL string) *apiClient {
	return &apiClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 5 * time.Minute},
	}
}

// resolve runs one blocking resolve over plain HTTP. A 409 (several records
// tied under strict mode) is not an error here: it comes back as a response
// with outcome "ambiguous" so every outcome is handled the same way.
func (c *apiClient) resolve(ctx context.Context, req resolveRequest) (*resolveResponse, error) {
	body, status, err := c.do(ctx, http.MethodPost, "/v1/resolve", req)
	if err != nil {
		return nil, err
	}

	switch status {
	case http.StatusOK:
		var res resolveResponse
		if err := json.Unmarshal(body, &res); err != nil {
			return nil, fmt.Errorf("decode resolve response: %w", err)
		}
		return &res, nil
	case http.StatusConflict:
		var conflict errorResponse
		if err := json.Unmarshal(body, &conflict); err != nil {
			return nil, fmt.Errorf("decode conflict response: %w", err)
		}
		return &resolveResponse{
			Query:      req.Query,
			Kind:       req.Kind,
			Outcome:    outcomeAmbiguous,
			Ambiguous:  true,
			Candidates: conflict.Candidates,
		}, nil
	default:
		return nil, decodeAPIError(status, body)
	}
}

// resolveStream runs one resolve over the websocket endpoint, invoking
// onProgress for every attempt the server narrates. Returns
// errStreamUnavailable (wrapped) when the endpoint cannot be dialed, so the
// caller can retry over plain HTTP.
func (c *apiClient) resolveStream(ctx context.Context, req resolveRequest, onProgress func(streamFrame)) (*resolveResponse, error) {
	wsURL, err := c.streamURL(req)
	if err != nil {
		return nil, err
	}

	conn, httpResp, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		if httpResp != nil {
			// The server answered but refused the upgrade: a parameter
			// problem, not a connectivity one.
			body, _ := io.ReadAll(httpResp.Body)
			httpResp.Body.Close()
			return nil, decodeAPIError(httpResp.StatusCode, body)
		}
		return nil, fmt.Errorf("%w: %v", errStreamUnavailable, err)
	}
	defer conn.Close()

	// Closing the socket is the only way to interrupt a blocked read.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for {
		var frame streamFrame
		if err := conn.ReadJSON(&frame); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("resolve stream: %w", err)
		}
		switch frame.Type {
		case "progress":
			if onProgress != nil {
				onProgress(frame)
			}
		case "resolution":
			if frame.Resolution == nil {
				return nil, errors.New("resolve stream: resolution frame without a body")
			}
			return frame.Resolution, nil
		case "error":
			if frame.Error == nil {
				return nil, errors.New("resolve stream: error frame without a body")
			}
			return nil, &apiError{
				Code:        frame.Error.Code,
				Message:     frame.Error.Error,
				Explanation: frame.Error.Explanation,
			}
		default:
			return nil, fmt.Errorf("resolve stream: unexpected frame type %q", frame.Type)
		}
	}
}

// streamURL builds the websocket URL for a resolve request.
func (c *apiClient) streamURL(req resolveRequest) (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("server URL: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("server URL: unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/v1/resolve/stream"

	params := url.Values{}
	params.Set("query", req.Query)
	if req.Kind != "" {
		params.Set("kind", req.Kind)
	}
	if req.Strict {
		params.Set("strict", "true")
	}
	if req.MaxWaitSeconds > 0 {
		params.Set("max_wait_seconds", strconv.FormatFloat(req.MaxWaitSeconds, 'f', -1, 64))
	}
	if req.ExpectedID != "" {
		params.Set("expected_id", req.ExpectedID)
	}
	u.RawQuery = params.Encode()

	return u.String(), nil
}

// verify asks the server whether a record with the given kind and name is
// findable right now.
func (c *apiClient) verify(ctx context.Context, req verifyRequest) (*verifyResponse, error) {
	var res verifyResponse
	if err := c.postJSON(ctx, "/v1/verify", req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// invalidate evicts the cached resolution for a query.
func (c *apiClient) invalidate(ctx context.Context, req invalidateRequest) (*invalidateResponse, error) {
	var res invalidateResponse
	if err := c.postJSON(ctx, "/v1/invalidate", req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// getRecord fetches one record by collection and sys_id.
func (c *apiClient) getRecord(ctx context.Context, collection, sysID string) (*recordResponse, error) {
	path := "/v1/records/" + url.PathEscape(collection) + "/" + url.PathEscape(sysID)
	var res recordResponse
	if err := c.getJSON(ctx, path, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// listTools fetches the tool definitions the server exposes.
func (c *apiClient) listTools(ctx context.Context) (*toolsResponse, error) {
	var res toolsResponse
	if err := c.getJSON(ctx, "/v1/tools", &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// health fetches the server's liveness report.
func (c *apiClient) health(ctx context.Context) (*healthResponse, error) {
	var res healthResponse
	if err := c.getJSON(ctx, "/healthz", &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *apiClient) postJSON(ctx context.Context, path string, in, out any) error {
	body, status, err := c.do(ctx, http.MethodPost, path, in)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return decodeAPIError(status, body)
	}
	return json.Unmarshal(body, out)
}

func (c *apiClient) getJSON(ctx context.Context, path string, out any) error {
	body, status, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return decodeAPIError(status, body)
	}
	return json.Unmarshal(body, out)
}

// do sends one request and returns the raw body and status. Connectivity
// failures come back wrapped with the server address so "is it running?" is
// answerable from the message alone.
func (c *apiClient) do(ctx context.Context, method, path string, in any) ([]byte, int, error) {
	var reqBody io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return nil, 0, fmt.Errorf("encode request: %w", err)
		}
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, 0, err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("bering server unreachable at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("read response: %w", err)
	}
	return body, resp.StatusCode, nil
}

// decodeAPIError turns a non-2xx body into an *apiError, falling back to
// the raw body when it is not the server's error shape.
func decodeAPIError(status int, body []byte) error {
	var er errorResponse
	if err := json.Unmarshal(body, &er); err != nil || er.Error == "" {
		msg := strings.TrimSpace(string(body))
		if msg == "" {
			msg = http.StatusText(status)
		}
		return &apiError{Status: status, Message: msg}
	}
	return &apiError{Status: status, Code: er.Code, Message: er.Error, Explanation: er.Explanation}
}
