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
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/AleutianAI/bering/services/bridge/resolve"
)

// Frame types sent over the resolve stream. Zero or more progress frames,
// then exactly one resolution or error frame, then a normal close.
const (
	frameProgress   = "progress"
	frameResolution = "resolution"
	frameError      = "error"
)

// streamWriteTimeout bounds each frame write so a stalled client cannot
// pin the handler goroutine.
const streamWriteTimeout = 10 * time.Second

// StreamFrame is one JSON message on the resolve stream. Type selects
// which of the remaining fields are populated.
type StreamFrame struct {
	Type string `json:"type"`

	// Progress fields, mirroring the engine's retry narration.
	Stage      string `json:"stage,omitempty"`
	Collection string `json:"collection,omitempty"`
	Attempt    int    `json:"attempt,omitempty"`
	Strategy   string `json:"strategy,omitempty"`
	Found      int    `json:"found,omitempty"`
	WaitMS     int64  `json:"wait_ms,omitempty"`

	// Terminal payloads.
	Resolution *ResolveResponse `json:"resolution,omitempty"`
	Error      *ErrorResponse   `json:"error,omitempty"`
}

// streamUpgrader is shared by all stream sessions. Origin enforcement
// belongs to the deployment's ingress, the same as the REST routes.
var streamUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// HandleResolveStream handles GET /v1/resolve/stream.
//
// Description:
//
//	The websocket variant of POST /v1/resolve for resolves that may ride
//	out minutes of propagation lag: each retry attempt, backoff wait,
//	breadth escalation, and fallback sweep is narrated as a progress frame
//	while the caller's conversation stays responsive. The session ends
//	with exactly one resolution or error frame followed by a normal close.
//	A strict resolve that ends ambiguous is a resolution frame with
//	outcome "ambiguous" and the candidate slate, mirroring the 409 body of
//	the POST route. Closing the socket cancels the resolve.
//
// Query Parameters:
//
//	query: Free-text phrase to resolve (required unless expected_id is set)
//	kind: Pin the artifact kind (optional)
//	strict: "true" to reject weak intents and surface ambiguity (optional)
//	max_wait_seconds: Wall-time cap across the retry schedule (optional)
//	expected_id: Short-circuit via direct id lookup (optional)
//
// Response:
//
//	101 Switching Protocols: StreamFrame messages as described above
//	400 Bad Request: Parameter errors, reported before the upgrade
//
// Thread Safety: This method is safe for concurrent use. Within one
// session all frame writes happen on the handler goroutine: the engine
// runs observer callbacks inline with the resolve.
func (h *Handlers) HandleResolveStream(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleResolveStream")

	query := c.Query("query")
	expectedID := c.Query("expected_id")
	if strings.TrimSpace(query) == "" && expectedID == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "query is required",
			Code:  "MISSING_PARAMETER",
		})
		return
	}
	strict := false
	if raw := c.Query("strict"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error: "strict must be a boolean",
				Code:  "INVALID_PARAMETER",
			})
			return
		}
		strict = v
	}
	maxWaitSeconds := 0.0
	if raw := c.Query("max_wait_seconds"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || v < 0 {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error: "max_wait_seconds must be a non-negative number",
				Code:  "INVALID_PARAMETER",
			})
			return
		}
		maxWaitSeconds = v
	}

	conn, err := streamUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// The upgrader has already written the HTTP error response.
		logger.Error("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()

	RecordWSSessionStart()
	defer RecordWSSessionEnd()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	// Read pump: the client sends nothing meaningful, but reading is how
	// close frames and dead peers are noticed. A dead socket cancels the
	// resolve instead of letting it run to completion unobserved.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}()

	writeFrame := func(frame StreamFrame) error {
		conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
		if err := conn.WriteJSON(frame); err != nil {
			cancel()
			return err
		}
		return nil
	}

	opts := resolve.Options{
		KindHint:   c.Query("kind"),
		Strict:     strict,
		MaxWait:    time.Duration(maxWaitSeconds * float64(time.Second)),
		ExpectedID: expectedID,
		Observer: func(p resolve.Progress) {
			_ = writeFrame(StreamFrame{
				Type:       frameProgress,
				Stage:      string(p.Stage),
				Collection: p.Collection,
				Attempt:    p.Attempt,
				Strategy:   p.Strategy,
				Found:      p.Found,
				WaitMS:     p.Wait.Milliseconds(),
			})
		},
	}

	res, err := h.svc.engine.Resolve(ctx, query, opts)
	if err != nil {
		status, body := resolveErrorBody(err)
		if status >= http.StatusInternalServerError {
			logger.Error("stream resolve failed", slog.String("error", err.Error()))
		}
		if writeFrame(StreamFrame{Type: frameError, Error: &body}) == nil {
			closeStream(conn)
		}
		return
	}

	resp := newResolveResponse(res)
	if writeFrame(StreamFrame{Type: frameResolution, Resolution: &resp}) != nil {
		return
	}
	logger.Info("stream complete",
		slog.String("outcome", string(res.Outcome)),
		slog.Int("attempts", res.Attempts),
	)
	closeStream(conn)
}

// closeStream sends a normal close frame; the deferred conn.Close tears
// down the transport either way.
func closeStream(conn *websocket.Conn) {
	deadline := time.Now().Add(streamWriteTimeout)
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = conn.WriteControl(websocket.CloseMessage, msg, deadline)
}
