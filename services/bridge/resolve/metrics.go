// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package resolve

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Prometheus Metrics for Artifact Resolution
// =============================================================================

var (
	// resolutionsTotal counts resolve calls by final outcome.
	// Labels: outcome (matched, listed, ambiguous, not_found, cached, transport_error, invalid)
	resolutionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bering",
		Subsystem: "resolve",
		Name:      "resolutions_total",
		Help:      "Total resolve calls by final outcome",
	}, []string{"outcome"})

	// resolutionSeconds measures end-to-end resolve latency, dominated by
	// retry backoff when the remote index lags.
	// Labels: outcome
	resolutionSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "bering",
		Subsystem: "resolve",
		Name:      "duration_seconds",
		Help:      "End-to-end resolve latency including retry backoff",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30},
	}, []string{"outcome"})

	// resolutionAttempts observes the retry attempt that produced the match.
	resolutionAttempts = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "bering",
		Subsystem: "resolve",
		Name:      "attempts",
		Help:      "Retry attempt on which the winning candidates surfaced",
		Buckets:   []float64{1, 2, 3, 4, 5, 6, 8},
	})

	// cacheEventsTotal counts resolution cache activity.
	// Labels: event (hit, miss, store, invalidate, restore)
	cacheEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bering",
		Subsystem: "resolve",
		Name:      "cache_events_total",
		Help:      "Resolution cache activity by event type",
	}, []string{"event"})

	// searchCallsTotal counts individual remote search calls by result.
	// Labels: result (hit, empty, transport_error)
	searchCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bering",
		Subsystem: "resolve",
		Name:      "search_calls_total",
		Help:      "Remote search calls issued by the executor, by result",
	}, []string{"result"})

	// nudgesTotal counts index-refresh touch queries issued mid-retry.
	nudgesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "bering",
		Subsystem: "resolve",
		Name:      "nudges_total",
		Help:      "Index-refresh touch queries issued during retry sequences",
	})

	// fallbackSweepsTotal counts broadened fallback sweeps by outcome.
	// Labels: outcome (hit, miss)
	fallbackSweepsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bering",
		Subsystem: "resolve",
		Name:      "fallback_sweeps_total",
		Help:      "Broadened fallback sweeps after exhausted retries, by outcome",
	}, []string{"outcome"})

	// ambiguousTotal counts rankings whose top two candidates tied within epsilon.
	ambiguousTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "bering",
		Subsystem: "resolve",
		Name:      "ambiguous_total",
		Help:      "Rankings with top candidates scoring within epsilon of each other",
	})

	// escalationsTotal counts low-confidence classification escalations.
	// Labels: outcome (reclassified, invalid, error, skipped)
	escalationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bering",
		Subsystem: "resolve",
		Name:      "escalations_total",
		Help:      "Low-confidence intent escalations to the classification model, by outcome",
	}, []string{"outcome"})
)

// RecordResolution records the final outcome of one resolve call.
//
// Inputs:
//   - outcome: Final outcome label (matched, listed, ambiguous, not_found,
//     cached, transport_error, invalid).
//   - attempts: Retry attempt that produced the result; 0 when no remote
//     search ran (cache hits, invalid intents).
//   - duration: End-to-end wall time of the resolve call.
func RecordResolution(outcome string, attempts int, duration time.Duration) {
	resolutionsTotal.WithLabelValues(outcome).Inc()
	resolutionSeconds.WithLabelValues(outcome).Observe(duration.Seconds())
	if attempts > 0 {
		resolutionAttempts.Observe(float64(attempts))
	}
}

// RecordCacheEvent records resolution cache activity.
//
// Inputs:
//   - event: One of "hit", "miss", "store", "invalidate", "restore".
func RecordCacheEvent(event string) {
	cacheEventsTotal.WithLabelValues(event).Inc()
}

// RecordSearchCall records one remote search call issued by the executor.
//
// Inputs:
//   - result: One of "hit", "empty", "transport_error".
func RecordSearchCall(result string) {
	searchCallsTotal.WithLabelValues(result).Inc()
}

// RecordNudge records an index-refresh touch query.
func RecordNudge() {
	nudgesTotal.Inc()
}

// RecordFallbackSweep records a broadened fallback sweep.
//
// Inputs:
//   - hit: Whether the sweep surfaced at least one candidate.
func RecordFallbackSweep(hit bool) {
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	fallbackSweepsTotal.WithLabelValues(outcome).Inc()
}

// RecordAmbiguous records a ranking whose top candidates tied within epsilon.
func RecordAmbiguous() {
	ambiguousTotal.Inc()
}

// RecordEscalation records one classification escalation.
//
// Inputs:
//   - outcome: One of "reclassified", "invalid", "error", "skipped".
func RecordEscalation(outcome string) {
	escalationsTotal.WithLabelValues(outcome).Inc()
}
