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
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
)

func TestDescribeProgress(t *testing.T) {
	tests := []struct {
		name  string
		frame streamFrame
		want  []string
	}{
		{
			name:  "attempt with hits",
			frame: streamFrame{Stage: "attempt", Attempt: 3, Found: 2, Collection: "sp_widget"},
			want:  []string{"attempt 3", "found 2", "sp_widget"},
		},
		{
			name:  "empty attempt",
			frame: streamFrame{Stage: "attempt", Attempt: 1, Collection: "sp_widget", Strategy: "exact name"},
			want:  []string{"attempt 1", "exact name", "nothing yet"},
		},
		{
			name:  "backoff shows the wait",
			frame: streamFrame{Stage: "backoff", WaitMS: 800},
			want:  []string{"index lag", "800ms"},
		},
		{
			name:  "nudge",
			frame: streamFrame{Stage: "nudge"},
			want:  []string{"nudging"},
		},
		{
			name:  "id lookup",
			frame: streamFrame{Stage: "id_lookup"},
			want:  []string{"sys_id"},
		},
		{
			name:  "fallback names the collection",
			frame: streamFrame{Stage: "fallback", Collection: "sys_script"},
			want:  []string{"sweeping", "sys_script"},
		},
		{
			name:  "unknown stage passes through",
			frame: streamFrame{Stage: "warble"},
			want:  []string{"warble"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := describeProgress(tt.frame)
			for _, want := range tt.want {
				if !strings.Contains(got, want) {
					t.Errorf("describeProgress(%+v) = %q, missing %q", tt.frame, got, want)
				}
			}
		})
	}
}

func TestResolveModel_ProgressUpdatesStats(t *testing.T) {
	m := newResolveModel("payroll widget", func() {})

	updated, _ := m.Update(progressMsg{Stage: "attempt", Attempt: 2, Collection: "sp_widget", Strategy: "name contains"})
	m = updated.(resolveModel)

	if !strings.Contains(m.stats, "attempt 2") {
		t.Errorf("stats = %q", m.stats)
	}
	view := m.View()
	if !strings.Contains(view, "payroll widget") || !strings.Contains(view, "attempt 2") {
		t.Errorf("view = %q", view)
	}
}

func TestResolveModel_FinishQuits(t *testing.T) {
	m := newResolveModel("payroll widget", func() {})
	res := &resolveResponse{Outcome: outcomeMatched}

	updated, cmd := m.Update(resolveFinishedMsg{res: res})
	m = updated.(resolveModel)

	if m.result != res {
		t.Fatal("result not captured")
	}
	if m.View() != "" {
		t.Error("view should clear once quitting")
	}
	if cmd == nil {
		t.Fatal("expected a quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Fatalf("cmd() = %T, want tea.QuitMsg", cmd())
	}
}

func TestResolveModel_EscCancels(t *testing.T) {
	cancelled := false
	m := newResolveModel("payroll widget", func() { cancelled = true })

	updated, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEsc})
	m = updated.(resolveModel)

	if !cancelled {
		t.Fatal("cancel func not called")
	}
	if !errors.Is(m.err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", m.err)
	}
	if cmd == nil {
		t.Fatal("expected a quit command")
	}
}

func TestCandidateLabel(t *testing.T) {
	got := candidateLabel(candidateView{SysID: "w1", Collection: "sp_widget", Name: "Payroll Summary"})
	for _, want := range []string{"Payroll Summary", "sp_widget", "w1"} {
		if !strings.Contains(got, want) {
			t.Errorf("label = %q, missing %q", got, want)
		}
	}
}

// =============================================================================
// Rendering
// =============================================================================

func TestPrintResolution_Matched(t *testing.T) {
	var buf bytes.Buffer
	res := &resolveResponse{
		Query:         "payroll widget",
		Outcome:       outcomeMatched,
		Match:         &artifactView{SysID: "w1", Collection: "sp_widget", Kind: "widget", Name: "Payroll Summary", Score: 0.93},
		Attempts:      2,
		DurationMS:    1450,
		CorrelationID: "corr-1",
	}

	if err := printResolution(&buf, res, false); err != nil {
		t.Fatalf("printResolution: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"Payroll Summary", "w1", "sp_widget", "2 attempts", "corr-1"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestPrintResolution_NotFound(t *testing.T) {
	var buf bytes.Buffer
	res := &resolveResponse{Query: "ghost widget", Outcome: outcomeNotFound, Attempts: 5, DurationMS: 30000}

	if err := printResolution(&buf, res, false); err != nil {
		t.Fatalf("printResolution: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "no record") || !strings.Contains(out, "ghost widget") {
		t.Errorf("output = %s", out)
	}
	if !strings.Contains(out, "--max-wait") {
		t.Error("not-found output should point at --max-wait")
	}
}

func TestPrintResolution_AmbiguousListsCandidates(t *testing.T) {
	var buf bytes.Buffer
	res := &resolveResponse{
		Query:   "approval flow",
		Outcome: outcomeAmbiguous,
		Candidates: []candidateView{
			{SysID: "f1", Collection: "wf_workflow", Name: "Approval Flow"},
			{SysID: "f2", Collection: "wf_workflow", Name: "Approval Flow"},
		},
	}

	if err := printResolution(&buf, res, false); err != nil {
		t.Fatalf("printResolution: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"f1", "f2", "--expected-id"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestPrintResolution_JSONRoundTrips(t *testing.T) {
	var buf bytes.Buffer
	res := &resolveResponse{
		Query:   "payroll widget",
		Outcome: outcomeMatched,
		Match:   &artifactView{SysID: "w1", Name: "Payroll Summary"},
	}

	if err := printResolution(&buf, res, true); err != nil {
		t.Fatalf("printResolution: %v", err)
	}
	var decoded resolveResponse
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("--json output is not JSON: %v\n%s", err, buf.String())
	}
	if decoded.Match == nil || decoded.Match.SysID != "w1" {
		t.Fatalf("decoded = %+v", decoded)
	}
}

func TestFootline_MarksCacheHits(t *testing.T) {
	got := footline(&resolveResponse{Outcome: outcomeCached, FromCache: true, Attempts: 0, DurationMS: 1})
	if !strings.Contains(got, "cached") {
		t.Errorf("footline = %q, missing the cache marker", got)
	}
}
