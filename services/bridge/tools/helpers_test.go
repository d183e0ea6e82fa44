// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tools

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/AleutianAI/bering/services/bridge/config"
	"github.com/AleutianAI/bering/services/bridge/resolve"
	"github.com/AleutianAI/bering/services/platform"
)

// =============================================================================
// Helpers
// =============================================================================

func loadTables(t *testing.T) {
	t.Helper()
	config.ResetCatalog()
	config.ResetSearchConfig()
	ctx := context.Background()
	if _, err := config.GetCatalog(ctx); err != nil {
		t.Fatalf("load catalog: %v", err)
	}
	if _, err := config.GetSearchConfig(ctx); err != nil {
		t.Fatalf("load search config: %v", err)
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEngine(t *testing.T, client platform.Client) *resolve.Engine {
	t.Helper()
	loadTables(t)
	eng, err := resolve.NewEngine(context.Background(), resolve.EngineDeps{Client: client, Logger: discardLogger()})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return eng
}

// toolRecord builds a generic record with a name field plus any extras.
func toolRecord(collection, sysID, name string, fields map[string]string) platform.Record {
	all := map[string]string{"name": name}
	for k, v := range fields {
		all[k] = v
	}
	return &platform.GenericRecord{
		Env: platform.RecordEnvelope{
			SysID:      sysID,
			Collection: collection,
			Name:       name,
			Active:     true,
		},
		Fields: all,
	}
}

// fakePlatform is a scriptable platform.Client. Function fields override
// individual calls; every call appends its op name to a shared log so tests
// can assert ordering across the client and the archive writer.
type fakePlatform struct {
	mu  sync.Mutex
	log []string

	searchFn func(ctx context.Context, collection, filter string, limit int) ([]platform.Record, error)
	getFn    func(ctx context.Context, collection, id string) (platform.Record, error)
	createFn func(ctx context.Context, collection string, fields map[string]any) (platform.Record, error)
	updateFn func(ctx context.Context, collection, id string, fields map[string]any) (platform.Record, error)
	deleteFn func(ctx context.Context, collection, id string) error

	lastCreateFields map[string]any
	lastUpdateFields map[string]any
}

func (f *fakePlatform) note(op string) {
	f.mu.Lock()
	f.log = append(f.log, op)
	f.mu.Unlock()
}

// mutationOps returns the logged operations with searches and nudges removed,
// since resolves sprinkle those freely.
func (f *fakePlatform) mutationOps() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, op := range f.log {
		if op == "search" || op == "nudge" {
			continue
		}
		out = append(out, op)
	}
	return out
}

func (f *fakePlatform) Search(ctx context.Context, collection, filter string, limit int) ([]platform.Record, error) {
	f.note("search")
	if f.searchFn == nil {
		return nil, nil
	}
	return f.searchFn(ctx, collection, filter, limit)
}

func (f *fakePlatform) GetByID(ctx context.Context, collection, id string) (platform.Record, error) {
	f.note("get")
	if f.getFn == nil {
		return nil, fmt.Errorf("get %s/%s: %w", collection, id, platform.ErrRecordNotFound)
	}
	return f.getFn(ctx, collection, id)
}

func (f *fakePlatform) Create(ctx context.Context, collection string, fields map[string]any) (platform.Record, error) {
	f.note("create")
	f.mu.Lock()
	f.lastCreateFields = fields
	f.mu.Unlock()
	if f.createFn == nil {
		return nil, errors.New("create not wired")
	}
	return f.createFn(ctx, collection, fields)
}

func (f *fakePlatform) Update(ctx context.Context, collection, id string, fields map[string]any) (platform.Record, error) {
	f.note("update")
	f.mu.Lock()
	f.lastUpdateFields = fields
	f.mu.Unlock()
	if f.updateFn == nil {
		return nil, errors.New("update not wired")
	}
	return f.updateFn(ctx, collection, id, fields)
}

func (f *fakePlatform) Delete(ctx context.Context, collection, id string) error {
	f.note("delete")
	if f.deleteFn == nil {
		return errors.New("delete not wired")
	}
	return f.deleteFn(ctx, collection, id)
}

func (f *fakePlatform) Nudge(ctx context.Context, collection string) error {
	f.note("nudge")
	return nil
}

func (f *fakePlatform) Version(ctx context.Context) (string, error) {
	return "12.4.1", nil
}

// recordingWriter captures archive objects in memory. When linked to a
// fakePlatform it logs each Put as "archive" in the shared op log.
type recordingWriter struct {
	mu      sync.Mutex
	fake    *fakePlatform
	objects map[string][]byte
	err     error
}

func (w *recordingWriter) Put(_ context.Context, name string, data []byte) error {
	if w.fake != nil {
		w.fake.note("archive")
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	if w.objects == nil {
		w.objects = make(map[string][]byte)
	}
	w.objects[name] = append([]byte(nil), data...)
	return nil
}

func newTestArchiver(fake *fakePlatform) (*Archiver, *recordingWriter) {
	w := &recordingWriter{fake: fake}
	return &Archiver{bucket: "test-archive", writer: w, logger: discardLogger()}, w
}

// =============================================================================
// Param Helper Tests
// =============================================================================

func TestRequiredString(t *testing.T) {
	if _, err := requiredString(map[string]any{}, "query"); err == nil {
		t.Error("expected an error for a missing parameter")
	}
	if _, err := requiredString(map[string]any{"query": 7}, "query"); err == nil {
		t.Error("expected an error for a non-string parameter")
	}
	if _, err := requiredString(map[string]any{"query": "   "}, "query"); err == nil {
		t.Error("expected an error for a blank parameter")
	}
	got, err := requiredString(map[string]any{"query": "payroll widget"}, "query")
	if err != nil || got != "payroll widget" {
		t.Errorf("expected the value back, got %q err %v", got, err)
	}
}

func TestOptionalSeconds(t *testing.T) {
	d, err := optionalSeconds(map[string]any{}, "max_wait_seconds")
	if err != nil || d != 0 {
		t.Errorf("expected zero for a missing parameter, got %v err %v", d, err)
	}
	d, err = optionalSeconds(map[string]any{"max_wait_seconds": 1.5}, "max_wait_seconds")
	if err != nil || d != 1500*time.Millisecond {
		t.Errorf("expected 1.5s, got %v err %v", d, err)
	}
	if _, err := optionalSeconds(map[string]any{"max_wait_seconds": -1.0}, "max_wait_seconds"); err == nil {
		t.Error("expected an error for a negative duration")
	}
	if _, err := optionalSeconds(map[string]any{"max_wait_seconds": "soon"}, "max_wait_seconds"); err == nil {
		t.Error("expected an error for a non-numeric duration")
	}
}

func TestOptionalInt_AcceptsJSONNumbers(t *testing.T) {
	// JSON decoding hands integers over as float64.
	n, err := optionalInt(map[string]any{"limit": float64(25)}, "limit", 0)
	if err != nil || n != 25 {
		t.Errorf("expected 25, got %d err %v", n, err)
	}
	n, err = optionalInt(map[string]any{}, "limit", 10)
	if err != nil || n != 10 {
		t.Errorf("expected the default 10, got %d err %v", n, err)
	}
	if _, err := optionalInt(map[string]any{"limit": "many"}, "limit", 0); err == nil {
		t.Error("expected an error for a non-integer limit")
	}
}

func TestClampInt(t *testing.T) {
	if got := clampInt(-5, 0, 100); got != 0 {
		t.Errorf("expected 0, got %d", got)
	}
	if got := clampInt(50, 0, 100); got != 50 {
		t.Errorf("expected 50, got %d", got)
	}
	if got := clampInt(500, 0, 100); got != 100 {
		t.Errorf("expected 100, got %d", got)
	}
}

func TestKindLabel(t *testing.T) {
	if got := kindLabel(""); got != "artifact" {
		t.Errorf("expected artifact for empty kind, got %q", got)
	}
	if got := kindLabel(resolve.KindAny); got != "artifact" {
		t.Errorf("expected artifact for the any kind, got %q", got)
	}
	if got := kindLabel("widget"); got != "widget" {
		t.Errorf("expected widget, got %q", got)
	}
}

// =============================================================================
// View Tests
// =============================================================================

func TestNewRecordView(t *testing.T) {
	updated := time.Date(2025, 11, 3, 9, 30, 0, 0, time.UTC)
	rec := &platform.GenericRecord{
		Env: platform.RecordEnvelope{
			SysID:      "w1",
			Collection: "sp_widget",
			Name:       "Incident Dashboard",
			UpdatedAt:  updated,
			Active:     true,
		},
		Fields: map[string]string{"name": "Incident Dashboard", "script": "var x = 1;"},
	}

	v := newRecordView(rec, true)
	if v.SysID != "w1" || v.Collection != "sp_widget" || v.Name != "Incident Dashboard" {
		t.Errorf("unexpected envelope in view: %+v", v)
	}
	if v.UpdatedAt != updated.Format(time.RFC3339) {
		t.Errorf("expected RFC3339 updated_at, got %q", v.UpdatedAt)
	}
	if v.Fields["script"] != "var x = 1;" {
		t.Errorf("expected fields included, got %+v", v.Fields)
	}

	v = newRecordView(rec, false)
	if v.Fields != nil {
		t.Errorf("expected fields excluded, got %+v", v.Fields)
	}
}

func TestFormatIssues_CapsTheList(t *testing.T) {
	issues := make([]ScriptIssue, 8)
	for i := range issues {
		issues[i] = ScriptIssue{Line: i + 1, Column: 1, Message: "syntax error"}
	}
	msg := formatIssues("script", issues)
	if !containsAll(msg, `field "script" has 8 syntax problem(s)`, "line 1, column 1", "... and 3 more") {
		t.Errorf("unexpected message:\n%s", msg)
	}
}

func TestFieldNames_Sorted(t *testing.T) {
	names := fieldNames(map[string]string{"template": "", "script": "", "name": ""})
	want := []string{"name", "script", "template"}
	if len(names) != len(want) {
		t.Fatalf("expected %d names, got %v", len(want), names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("position %d: expected %q, got %q", i, want[i], names[i])
		}
	}
}

func containsAll(s string, subs ...string) bool {
	for _, sub := range subs {
		if !strings.Contains(s, sub) {
			return false
		}
	}
	return true
}
