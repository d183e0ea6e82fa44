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
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Prometheus Metrics for Tool Dispatch
// =============================================================================

var (
	// toolCallsTotal counts dispatches by tool and disposition.
	// Labels: tool, status (ok, rejected, error, unknown, bad_args)
	toolCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bering",
		Subsystem: "tools",
		Name:      "calls_total",
		Help:      "Tool dispatches by tool name and disposition",
	}, []string{"tool", "status"})

	// toolCallSeconds measures tool execution wall time. Resolve-backed
	// tools inherit the engine's retry backoff, hence the long tail.
	// Labels: tool
	toolCallSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "bering",
		Subsystem: "tools",
		Name:      "call_duration_seconds",
		Help:      "Tool execution wall time",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30},
	}, []string{"tool"})
)

// RecordToolCall records one tool dispatch.
//
// Inputs:
//   - tool: Wire name of the tool.
//   - status: One of "ok", "rejected", "error", "unknown", "bad_args".
//   - duration: Execution wall time.
func RecordToolCall(tool, status string, duration time.Duration) {
	toolCallsTotal.WithLabelValues(tool, status).Inc()
	toolCallSeconds.WithLabelValues(tool).Observe(duration.Seconds())
}
