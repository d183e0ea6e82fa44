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
	"log/slog"
	"os"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
)

// =============================================================================
// Resolution Analytics
// =============================================================================
//
// Long-horizon resolution telemetry (which kinds get queried, how many
// attempts the index lag costs, cache effectiveness over weeks) goes to
// InfluxDB. Prometheus keeps the operational counters; Influx keeps the
// history dashboards. Entirely optional: a nil *Analytics is a no-op, and
// the non-blocking write API means a down Influx never slows a resolve.

// Environment variables configuring the analytics sink.
const (
	EnvInfluxURL    = "BERING_INFLUX_URL"
	EnvInfluxToken  = "BERING_INFLUX_TOKEN"
	EnvInfluxOrg    = "BERING_INFLUX_ORG"
	EnvInfluxBucket = "BERING_INFLUX_BUCKET"
)

// Analytics streams resolution events to InfluxDB using the non-blocking
// write API. All methods are nil-safe.
type Analytics struct {
	client influxdb2.Client
	write  api.WriteAPI
	logger *slog.Logger
}

// NewAnalytics builds an Analytics sink. Returns nil (disabled) when url or
// bucket is empty; token and org may be empty for unauthenticated setups.
func NewAnalytics(url, token, org, bucket string, logger *slog.Logger) *Analytics {
	if url == "" || bucket == "" {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	client := influxdb2.NewClient(url, token)
	a := &Analytics{
		client: client,
		write:  client.WriteAPI(org, bucket),
		logger: logger,
	}
	go a.drainErrors()

	logger.Info("resolution analytics enabled",
		slog.String("url", url),
		slog.String("bucket", bucket),
	)
	return a
}

// NewAnalyticsFromEnv builds the sink from BERING_INFLUX_* variables.
// Returns nil when the sink is not configured.
func NewAnalyticsFromEnv(logger *slog.Logger) *Analytics {
	return NewAnalytics(
		os.Getenv(EnvInfluxURL),
		os.Getenv(EnvInfluxToken),
		os.Getenv(EnvInfluxOrg),
		os.Getenv(EnvInfluxBucket),
		logger,
	)
}

// RecordResolution emits one resolution event. Non-blocking; drops are
// logged by the error drain, never surfaced.
func (a *Analytics) RecordResolution(res *Resolution) {
	if a == nil || res == nil {
		return
	}

	fields := map[string]any{
		"duration_ms": res.Duration.Milliseconds(),
		"attempts":    res.Attempts,
		"candidates":  len(res.Candidates),
		"confidence":  res.Intent.Confidence,
	}
	if res.Match != nil {
		fields["score"] = res.Match.Score
	}

	a.write.WritePoint(influxdb2.NewPoint("resolution",
		map[string]string{
			"outcome": string(res.Outcome),
			"kind":    res.Intent.Kind,
			"source":  string(res.Intent.Source),
		},
		fields,
		time.Now(),
	))
}

// Close flushes buffered points and shuts the client down.
func (a *Analytics) Close() {
	if a == nil {
		return
	}
	a.write.Flush()
	a.client.Close()
}

// drainErrors logs asynchronous write failures. The channel closes with the
// client.
func (a *Analytics) drainErrors() {
	for err := range a.write.Errors() {
		a.logger.Warn("analytics write failed", slog.String("error", err.Error()))
	}
}
