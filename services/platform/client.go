// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/awnumar/memguard"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	oteltrace "go.opentelemetry.io/otel/trace"
	"golang.org/x/mod/semver"
	"golang.org/x/time/rate"
)

const (
	// tablePathPrefix is the REST table API mount point.
	tablePathPrefix = "/api/now/table/"

	// versionProperty is the system property holding the platform release.
	versionProperty = "glide.product.version"

	// minSupportedVersion is the oldest platform release whose search index
	// exposes the refresh behavior the resolution engine leans on. Older
	// instances still work; the nudge query is just a no-op there.
	minSupportedVersion = "v10.0.0"

	// defaultSearchLimit applies when the caller passes limit <= 0.
	defaultSearchLimit = 20

	// maxSearchLimit caps any single search; larger result sets indicate a
	// filter that should have been narrower.
	maxSearchLimit = 100
)

var tracer = otel.Tracer("github.com/AleutianAI/bering/services/platform")

// =============================================================================
// Wire Types
// =============================================================================

// listEnvelope is the response body for collection queries.
type listEnvelope struct {
	Result []map[string]any `json:"result"`
}

// recordEnvelope is the response body for single-record operations.
type recordEnvelope struct {
	Result map[string]any `json:"result"`
}

// errorEnvelope is the response body the platform sends with 4xx/5xx.
type errorEnvelope struct {
	Error struct {
		Message string `json:"message"`
		Detail  string `json:"detail"`
	} `json:"error"`
	Status string `json:"status"`
}

// =============================================================================
// Client Interface
// =============================================================================

// Client is the abstract remote record platform the resolution engine talks
// to. The engine never interprets filter strings — it substitutes tokens into
// configured templates and passes the result through verbatim.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use; independent resolve calls
// share one client.
type Client interface {
	// Search runs an encoded filter against one collection. Zero matches is
	// a normal outcome: ([], nil). A non-nil error is always a transport
	// problem, never "no results".
	Search(ctx context.Context, collection, filter string, limit int) ([]Record, error)

	// GetByID fetches one record by sys_id. Returns ErrRecordNotFound
	// (wrapped) when the id does not exist.
	GetByID(ctx context.Context, collection, id string) (Record, error)

	// Create inserts a record and returns the platform's copy of it.
	Create(ctx context.Context, collection string, fields map[string]any) (Record, error)

	// Update patches fields on an existing record.
	Update(ctx context.Context, collection, id string, fields map[string]any) (Record, error)

	// Delete removes a record. Returns ErrRecordNotFound (wrapped) when the
	// id does not exist.
	Delete(ctx context.Context, collection, id string) error

	// Nudge issues a cheap throwaway query whose only purpose is prompting
	// the platform's search index to refresh the collection. The result is
	// discarded; callers are expected to ignore the error too.
	Nudge(ctx context.Context, collection string) error

	// Version reports the platform's release string (e.g. "12.4.1").
	Version(ctx context.Context) (string, error)
}

// =============================================================================
// HTTP Client
// =============================================================================

// ClientConfig collects everything HTTPClient needs. Zero values get
// sensible defaults in NewHTTPClientWithConfig.
type ClientConfig struct {
	// BaseURL is the instance root, e.g. "https://dev.example-platform.com".
	// Required.
	BaseURL string

	// Token is the bearer token. Optional — anonymous works against local
	// development instances. The token is moved into a memguard enclave and
	// the source string should not be retained by the caller.
	Token string

	// RequestTimeout bounds each HTTP round trip. Default 30s.
	RequestTimeout time.Duration

	// RequestsPerSecond is the shared token-bucket refill rate across all
	// callers of this client. Default 10.
	RequestsPerSecond float64

	// Burst is the token-bucket size. Default 20.
	Burst int

	// Logger for request diagnostics. Nil means slog.Default().
	Logger *slog.Logger
}

// HTTPClient implements Client against the platform's REST table API.
//
// # Description
//
// One instance is shared by every resolve call in the process; the embedded
// rate limiter is the single place concurrent resolves queue up, which keeps
// retry storms from multiplying load on an index that is already lagging.
//
// The bearer token lives in a memguard enclave: encrypted at rest in process
// memory, decrypted into a locked buffer for the microseconds each request
// needs the Authorization header, then destroyed.
//
// # Thread Safety
//
// Safe for concurrent use.
type HTTPClient struct {
	httpClient *http.Client
	baseURL    string
	token      *memguard.Enclave
	limiter    *rate.Limiter
	logger     *slog.Logger

	requests metric.Int64Counter
	duration metric.Float64Histogram
}

// NewHTTPClientWithConfig creates an HTTPClient with explicit configuration.
//
// Description:
//
//	Creates a client without reading environment variables. Useful for
//	testing with httptest servers or when configuration comes from a source
//	other than the environment.
//
// Inputs:
//   - cfg: Client configuration. BaseURL must be non-empty.
//
// Outputs:
//   - *HTTPClient: The configured client.
//   - error: Non-nil when BaseURL is missing or unparseable.
func NewHTTPClientWithConfig(cfg ClientConfig) (*HTTPClient, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("platform: base URL is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("platform: parsing base URL: %w", err)
	}

	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 10
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 20
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	var enclave *memguard.Enclave
	if cfg.Token != "" {
		enclave = memguard.NewEnclave([]byte(cfg.Token))
	}

	meter := otel.Meter("github.com/AleutianAI/bering/services/platform")
	requests, err := meter.Int64Counter("platform.client.requests",
		metric.WithDescription("Platform API requests by operation, collection, and status"))
	if err != nil {
		otel.Handle(err)
	}
	duration, err := meter.Float64Histogram("platform.client.duration",
		metric.WithDescription("Platform API round-trip duration"),
		metric.WithUnit("s"))
	if err != nil {
		otel.Handle(err)
	}

	return &HTTPClient{
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		token:      enclave,
		limiter:    rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		logger:     cfg.Logger.With(slog.String("component", "platform_client")),
		requests:   requests,
		duration:   duration,
	}, nil
}

// NewHTTPClient creates an HTTPClient from the environment.
//
// Description:
//
//	Reads BERING_PLATFORM_URL (required) and the bearer token from
//	BERING_PLATFORM_TOKEN, falling back to the secrets file at
//	BERING_PLATFORM_TOKEN_FILE (default /run/secrets/bering_platform_token).
//	Rate limiting is tunable with BERING_PLATFORM_RPS.
//
// Outputs:
//   - *HTTPClient: The configured client.
//   - error: Non-nil when the base URL is missing.
func NewHTTPClient() (*HTTPClient, error) {
	baseURL := os.Getenv("BERING_PLATFORM_URL")
	if baseURL == "" {
		return nil, fmt.Errorf("platform: BERING_PLATFORM_URL is not set")
	}

	token := os.Getenv("BERING_PLATFORM_TOKEN")
	if token == "" {
		secretPath := os.Getenv("BERING_PLATFORM_TOKEN_FILE")
		if secretPath == "" {
			secretPath = "/run/secrets/bering_platform_token"
		}
		if content, err := os.ReadFile(secretPath); err == nil {
			token = strings.TrimSpace(string(content))
			slog.Info("Read platform token from secrets file")
		}
	}
	if token == "" {
		slog.Warn("Platform token is missing; requests will be anonymous")
	}

	rps := 10.0
	if v := os.Getenv("BERING_PLATFORM_RPS"); v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil && parsed > 0 {
			rps = parsed
		}
	}

	return NewHTTPClientWithConfig(ClientConfig{
		BaseURL:           baseURL,
		Token:             token,
		RequestsPerSecond: rps,
	})
}

// =============================================================================
// Client Operations
// =============================================================================

// Search implements Client.
func (c *HTTPClient) Search(ctx context.Context, collection, filter string, limit int) ([]Record, error) {
	if collection == "" {
		return nil, fmt.Errorf("platform search: collection is required")
	}
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	if limit > maxSearchLimit {
		limit = maxSearchLimit
	}

	params := url.Values{}
	params.Set("sysparm_query", filter)
	params.Set("sysparm_limit", strconv.Itoa(limit))
	params.Set("sysparm_exclude_reference_link", "true")

	endpoint := c.baseURL + tablePathPrefix + url.PathEscape(collection) + "?" + params.Encode()

	status, body, err := c.do(ctx, "search", collection, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, c.transportError("search", collection, status, body)
	}

	var envelope listEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, &TransportError{Op: "search", Collection: collection, StatusCode: status,
			Err: fmt.Errorf("parsing response: %w", err)}
	}

	records := DecodeRecords(collection, envelope.Result)
	c.logger.Debug("platform search",
		slog.String("collection", collection),
		slog.String("filter", SafeLogString(filter)),
		slog.Int("results", len(records)),
	)
	return records, nil
}

// GetByID implements Client.
func (c *HTTPClient) GetByID(ctx context.Context, collection, id string) (Record, error) {
	if collection == "" || id == "" {
		return nil, fmt.Errorf("platform get: collection and id are required")
	}

	endpoint := c.baseURL + tablePathPrefix + url.PathEscape(collection) + "/" + url.PathEscape(id)

	status, body, err := c.do(ctx, "get", collection, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	switch {
	case status == http.StatusNotFound:
		return nil, fmt.Errorf("platform get %s/%s: %w", collection, id, ErrRecordNotFound)
	case status != http.StatusOK:
		return nil, c.transportError("get", collection, status, body)
	}

	var envelope recordEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, &TransportError{Op: "get", Collection: collection, StatusCode: status,
			Err: fmt.Errorf("parsing response: %w", err)}
	}
	if len(envelope.Result) == 0 {
		return nil, fmt.Errorf("platform get %s/%s: %w", collection, id, ErrRecordNotFound)
	}
	return DecodeRecord(collection, envelope.Result), nil
}

// Create implements Client.
func (c *HTTPClient) Create(ctx context.Context, collection string, fields map[string]any) (Record, error) {
	if collection == "" {
		return nil, fmt.Errorf("platform create: collection is required")
	}

	payload, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("platform create: marshaling fields: %w", err)
	}

	endpoint := c.baseURL + tablePathPrefix + url.PathEscape(collection)
	status, body, err := c.do(ctx, "create", collection, http.MethodPost, endpoint, payload)
	if err != nil {
		return nil, err
	}
	if status != http.StatusCreated && status != http.StatusOK {
		return nil, c.transportError("create", collection, status, body)
	}

	var envelope recordEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, &TransportError{Op: "create", Collection: collection, StatusCode: status,
			Err: fmt.Errorf("parsing response: %w", err)}
	}
	return DecodeRecord(collection, envelope.Result), nil
}

// Update implements Client.
func (c *HTTPClient) Update(ctx context.Context, collection, id string, fields map[string]any) (Record, error) {
	if collection == "" || id == "" {
		return nil, fmt.Errorf("platform update: collection and id are required")
	}

	payload, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("platform update: marshaling fields: %w", err)
	}

	endpoint := c.baseURL + tablePathPrefix + url.PathEscape(collection) + "/" + url.PathEscape(id)
	status, body, err := c.do(ctx, "update", collection, http.MethodPatch, endpoint, payload)
	if err != nil {
		return nil, err
	}
	switch {
	case status == http.StatusNotFound:
		return nil, fmt.Errorf("platform update %s/%s: %w", collection, id, ErrRecordNotFound)
	case status != http.StatusOK:
		return nil, c.transportError("update", collection, status, body)
	}

	var envelope recordEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, &TransportError{Op: "update", Collection: collection, StatusCode: status,
			Err: fmt.Errorf("parsing response: %w", err)}
	}
	return DecodeRecord(collection, envelope.Result), nil
}

// Delete implements Client.
func (c *HTTPClient) Delete(ctx context.Context, collection, id string) error {
	if collection == "" || id == "" {
		return fmt.Errorf("platform delete: collection and id are required")
	}

	endpoint := c.baseURL + tablePathPrefix + url.PathEscape(collection) + "/" + url.PathEscape(id)
	status, body, err := c.do(ctx, "delete", collection, http.MethodDelete, endpoint, nil)
	if err != nil {
		return err
	}
	switch status {
	case http.StatusNoContent, http.StatusOK:
		return nil
	case http.StatusNotFound:
		return fmt.Errorf("platform delete %s/%s: %w", collection, id, ErrRecordNotFound)
	default:
		return c.transportError("delete", collection, status, body)
	}
}

// Nudge implements Client.
//
// The filter asks for the single most recently updated record. On the
// platforms this client targets, any read against a collection schedules an
// index refresh for that collection; which record comes back is irrelevant.
func (c *HTTPClient) Nudge(ctx context.Context, collection string) error {
	if collection == "" {
		return fmt.Errorf("platform nudge: collection is required")
	}

	params := url.Values{}
	params.Set("sysparm_query", "ORDERBYDESCsys_updated_on")
	params.Set("sysparm_limit", "1")
	params.Set("sysparm_fields", "sys_id")

	endpoint := c.baseURL + tablePathPrefix + url.PathEscape(collection) + "?" + params.Encode()
	status, body, err := c.do(ctx, "nudge", collection, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return c.transportError("nudge", collection, status, body)
	}
	return nil
}

// Version implements Client.
func (c *HTTPClient) Version(ctx context.Context) (string, error) {
	params := url.Values{}
	params.Set("sysparm_query", "name="+versionProperty)
	params.Set("sysparm_limit", "1")
	params.Set("sysparm_fields", "value")

	endpoint := c.baseURL + tablePathPrefix + "sys_properties?" + params.Encode()
	status, body, err := c.do(ctx, "version", "sys_properties", http.MethodGet, endpoint, nil)
	if err != nil {
		return "", err
	}
	if status != http.StatusOK {
		return "", c.transportError("version", "sys_properties", status, body)
	}

	var envelope listEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return "", &TransportError{Op: "version", StatusCode: status,
			Err: fmt.Errorf("parsing response: %w", err)}
	}
	if len(envelope.Result) == 0 {
		return "", fmt.Errorf("platform version: property %q not found", versionProperty)
	}
	value, _ := envelope.Result[0]["value"].(string)
	return strings.TrimSpace(value), nil
}

// CheckVersion fetches the platform release and logs a warning when it is
// older than the oldest release this engine was validated against. Never
// fatal — resolution still works on older instances, just without the index
// nudge taking effect.
func (c *HTTPClient) CheckVersion(ctx context.Context) {
	version, err := c.Version(ctx)
	if err != nil {
		c.logger.Warn("Platform version check failed", slog.String("error", err.Error()))
		return
	}

	canonical := "v" + strings.TrimPrefix(version, "v")
	if !semver.IsValid(canonical) {
		c.logger.Warn("Platform reports a non-semver release",
			slog.String("version", version))
		return
	}
	if semver.Compare(canonical, minSupportedVersion) < 0 {
		c.logger.Warn("Platform release is older than the validated minimum",
			slog.String("version", version),
			slog.String("min_supported", minSupportedVersion),
		)
		return
	}
	c.logger.Info("Platform version check passed", slog.String("version", version))
}

// =============================================================================
// Request Plumbing
// =============================================================================

// do runs one rate-limited, traced HTTP round trip and returns the status
// code and body. Transport-level failures (dial, timeout, rate-limiter
// context expiry) come back as *TransportError with StatusCode 0.
func (c *HTTPClient) do(ctx context.Context, op, collection, method, endpoint string, body []byte) (int, []byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, nil, &TransportError{Op: op, Collection: collection, Err: fmt.Errorf("rate limiter: %w", err)}
	}

	ctx, span := tracer.Start(ctx, "platform."+op, oteltrace.WithAttributes(
		attribute.String("platform.collection", collection),
		attribute.String("http.method", method),
	))
	defer span.End()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		span.SetStatus(codes.Error, "build request")
		return 0, nil, &TransportError{Op: op, Collection: collection, Err: fmt.Errorf("creating request: %w", err)}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if err := c.authorize(req); err != nil {
		span.SetStatus(codes.Error, "authorize")
		return 0, nil, &TransportError{Op: op, Collection: collection, Err: err}
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	elapsed := time.Since(start)

	statusAttr := attribute.Int("http.status_code", 0)
	if resp != nil {
		statusAttr = attribute.Int("http.status_code", resp.StatusCode)
	}
	c.requests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", op),
		attribute.String("collection", collection),
		statusAttr,
	))
	c.duration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(
		attribute.String("operation", op),
	))

	if err != nil {
		span.SetStatus(codes.Error, "round trip")
		return 0, nil, &TransportError{Op: op, Collection: collection, Err: err}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		span.SetStatus(codes.Error, "read body")
		return resp.StatusCode, nil, &TransportError{Op: op, Collection: collection,
			StatusCode: resp.StatusCode, Err: fmt.Errorf("reading response body: %w", err)}
	}

	span.SetAttributes(attribute.Int("http.response_size", len(payload)))
	return resp.StatusCode, payload, nil
}

// authorize attaches the bearer token from the enclave, if one is held.
func (c *HTTPClient) authorize(req *http.Request) error {
	if c.token == nil {
		return nil
	}
	buf, err := c.token.Open()
	if err != nil {
		return fmt.Errorf("opening token enclave: %w", err)
	}
	defer buf.Destroy()
	req.Header.Set("Authorization", "Bearer "+buf.String())
	return nil
}

// transportError builds a *TransportError from a non-2xx response, pulling
// the platform's error message out of the body when it parses.
func (c *HTTPClient) transportError(op, collection string, status int, body []byte) error {
	var envelope errorEnvelope
	message := ""
	if err := json.Unmarshal(body, &envelope); err == nil {
		message = envelope.Error.Message
		if envelope.Error.Detail != "" {
			message += ": " + envelope.Error.Detail
		}
	}
	if message == "" {
		message = SafeLogString(truncate(string(body), 200))
	}

	c.logger.Warn("Platform call failed",
		slog.String("operation", op),
		slog.String("collection", collection),
		slog.Int("status", status),
		slog.String("message", SafeLogString(message)),
	)
	return &TransportError{Op: op, Collection: collection, StatusCode: status,
		Err: fmt.Errorf("%s", message)}
}

// truncate shortens s for log output.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
