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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Prometheus Metrics for the HTTP Layer
// =============================================================================

var (
	// wsSessionsActive tracks open resolve stream sessions. Each session
	// pins one handler goroutine for the life of its resolve.
	wsSessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "bering",
		Subsystem: "bridge",
		Name:      "ws_sessions_active",
		Help:      "Open resolve stream websocket sessions",
	})
)

// RecordWSSessionStart marks a resolve stream session as open.
func RecordWSSessionStart() {
	wsSessionsActive.Inc()
}

// RecordWSSessionEnd marks a resolve stream session as closed.
func RecordWSSessionEnd() {
	wsSessionsActive.Dec()
}
