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
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/AleutianAI/bering/services/bridge/resolve"
	"github.com/AleutianAI/bering/services/platform"
)

// dialStream opens a websocket session against a live test server.
func dialStream(t *testing.T, srv *httptest.Server, params url.Values) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/resolve/stream?" + params.Encode()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", wsURL, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readStream collects progress frames until the terminal frame arrives.
func readStream(t *testing.T, conn *websocket.Conn) (progress []StreamFrame, terminal StreamFrame) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for i := 0; i < 100; i++ {
		var frame StreamFrame
		if err := conn.ReadJSON(&frame); err != nil {
			t.Fatalf("read frame %d: %v", i, err)
		}
		switch frame.Type {
		case frameProgress:
			progress = append(progress, frame)
		case frameResolution, frameError:
			return progress, frame
		default:
			t.Fatalf("unexpected frame type %q", frame.Type)
		}
	}
	t.Fatal("no terminal frame after 100 messages")
	return nil, StreamFrame{}
}

// =============================================================================
// Stream Tests
// =============================================================================

func TestHandleResolveStream_ProgressThenResolution(t *testing.T) {
	fake := &fakeClient{
		searchFn: func(_ context.Context, coll, _ string, _ int) ([]platform.Record, error) {
			return []platform.Record{testRecord(coll, "w1", "Incident Dashboard")}, nil
		},
	}
	srv := httptest.NewServer(newTestRouter(t, fake))
	defer srv.Close()

	conn := dialStream(t, srv, url.Values{"query": {"incident dashboard widget"}})
	progress, terminal := readStream(t, conn)

	if len(progress) == 0 {
		t.Fatal("expected at least one progress frame before the resolution")
	}
	sawHit := false
	for _, p := range progress {
		if p.Stage == "" {
			t.Errorf("progress frame missing stage: %+v", p)
		}
		if p.Found > 0 {
			sawHit = true
		}
	}
	if !sawHit {
		t.Error("expected a progress frame narrating the hit")
	}

	if terminal.Type != frameResolution || terminal.Resolution == nil {
		t.Fatalf("unexpected terminal frame: %+v", terminal)
	}
	if terminal.Resolution.Outcome != string(resolve.OutcomeMatched) {
		t.Errorf("Outcome = %q, want matched", terminal.Resolution.Outcome)
	}
	if terminal.Resolution.Match == nil || terminal.Resolution.Match.SysID != "w1" {
		t.Errorf("unexpected match: %+v", terminal.Resolution.Match)
	}
}

func TestHandleResolveStream_CachedSkipsProgress(t *testing.T) {
	fake := &fakeClient{
		searchFn: func(_ context.Context, coll, _ string, _ int) ([]platform.Record, error) {
			return []platform.Record{testRecord(coll, "w1", "Incident Dashboard")}, nil
		},
	}
	srv := httptest.NewServer(newTestRouter(t, fake))
	defer srv.Close()

	params := url.Values{"query": {"incident dashboard widget"}}
	conn := dialStream(t, srv, params)
	if _, terminal := readStream(t, conn); terminal.Type != frameResolution {
		t.Fatalf("seed resolve ended with %+v", terminal)
	}

	conn = dialStream(t, srv, params)
	progress, terminal := readStream(t, conn)
	if len(progress) != 0 {
		t.Errorf("expected no progress frames on a cache hit, got %d", len(progress))
	}
	if terminal.Resolution == nil || !terminal.Resolution.FromCache {
		t.Errorf("expected a cached resolution, got %+v", terminal.Resolution)
	}
}

func TestHandleResolveStream_ErrorFrame(t *testing.T) {
	srv := httptest.NewServer(newTestRouter(t, &fakeClient{}))
	defer srv.Close()

	conn := dialStream(t, srv, url.Values{
		"query":  {"the payroll gizmo"},
		"kind":   {"gizmo"},
		"strict": {"true"},
	})
	progress, terminal := readStream(t, conn)

	if len(progress) != 0 {
		t.Errorf("a strict rejection happens before any remote call, got %d progress frames", len(progress))
	}
	if terminal.Type != frameError || terminal.Error == nil {
		t.Fatalf("unexpected terminal frame: %+v", terminal)
	}
	if terminal.Error.Code != "INVALID_INTENT" {
		t.Errorf("Code = %q, want INVALID_INTENT", terminal.Error.Code)
	}
}

func TestHandleResolveStream_MissingQuery(t *testing.T) {
	r := newTestRouter(t, &fakeClient{})

	req := httptest.NewRequest("GET", "/v1/resolve/stream", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("Status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	var resp ErrorResponse
	decodeJSON(t, w, &resp)
	if resp.Code != "MISSING_PARAMETER" {
		t.Errorf("Code = %q, want MISSING_PARAMETER", resp.Code)
	}
}

func TestHandleResolveStream_BadParams(t *testing.T) {
	r := newTestRouter(t, &fakeClient{})

	for _, query := range []string{
		"query=incident+dashboard+widget&strict=maybe",
		"query=incident+dashboard+widget&max_wait_seconds=soon",
		"query=incident+dashboard+widget&max_wait_seconds=-2",
	} {
		req := httptest.NewRequest("GET", "/v1/resolve/stream?"+query, nil)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: Status = %d, want %d", query, w.Code, http.StatusBadRequest)
			continue
		}
		var resp ErrorResponse
		decodeJSON(t, w, &resp)
		if resp.Code != "INVALID_PARAMETER" {
			t.Errorf("%s: Code = %q, want INVALID_PARAMETER", query, resp.Code)
		}
	}
}
