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
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestArchiver_NilIsDisabledAndSafe(t *testing.T) {
	var a *Archiver
	if a.Enabled() {
		t.Error("nil archiver must report disabled")
	}
	// Must be a no-op, not a panic.
	a.Archive(context.Background(), toolRecord("sp_widget", "w1", "Incident Dashboard", nil))
}

func TestArchiver_WritesSnapshot(t *testing.T) {
	arch, w := newTestArchiver(nil)
	rec := toolRecord("sp_widget", "w1", "Payroll Export", map[string]string{"script": "var x = 1;"})

	arch.Archive(context.Background(), rec)

	if len(w.objects) != 1 {
		t.Fatalf("expected 1 archived object, got %d", len(w.objects))
	}
	for name, payload := range w.objects {
		if !strings.HasPrefix(name, "archive/sp_widget/w1/") {
			t.Errorf("unexpected object name %q", name)
		}
		if !strings.HasSuffix(name, ".json") {
			t.Errorf("expected a .json object name, got %q", name)
		}
		var env archiveEnvelope
		if err := json.Unmarshal(payload, &env); err != nil {
			t.Fatalf("unmarshal snapshot: %v", err)
		}
		if env.SysID != "w1" || env.Collection != "sp_widget" || env.Name != "Payroll Export" {
			t.Errorf("unexpected envelope: %+v", env)
		}
		if env.Fields["script"] != "var x = 1;" {
			t.Errorf("expected the script field in the snapshot, got %+v", env.Fields)
		}
		if env.ArchivedAt.IsZero() {
			t.Error("expected a non-zero archive timestamp")
		}
	}
}

func TestArchiver_SwallowsWriteFailures(t *testing.T) {
	arch, w := newTestArchiver(nil)
	w.err = errors.New("bucket offline")

	// The archive is best effort; a failed Put must not panic or surface.
	arch.Archive(context.Background(), toolRecord("sp_widget", "w1", "Payroll Export", nil))

	if !arch.Enabled() {
		t.Error("a configured archiver stays enabled after a failed write")
	}
}
