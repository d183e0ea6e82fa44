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
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tmc/langchaingo/llms"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"

	"github.com/AleutianAI/bering/services/bridge/config"
	"github.com/AleutianAI/bering/services/platform"
)

var resolveTracer = otel.Tracer("bering.bridge.resolve")

// =============================================================================
// Engine Types
// =============================================================================

// ErrInvalidIntent marks a strict-mode request rejected locally, before any
// remote call: an unknown kind hint, or an empty query with nothing else to
// go on.
var ErrInvalidIntent = errors.New("invalid intent")

// AmbiguousError reports a strict resolve whose top candidates scored within
// epsilon of each other. It carries the full ranked list so boundaries can
// offer a disambiguation choice instead of a bare failure.
type AmbiguousError struct {
	Candidates []Candidate
}

func (e *AmbiguousError) Error() string {
	names := make([]string, 0, 3)
	for _, c := range e.Candidates {
		if len(names) == 3 {
			break
		}
		names = append(names, c.Record.Envelope().Name)
	}
	return fmt.Sprintf("ambiguous resolution: %d candidates scored within epsilon of each other (%s)",
		len(e.Candidates), strings.Join(names, ", "))
}

// Outcome is the final disposition of one resolve call.
type Outcome string

const (
	OutcomeMatched   Outcome = "matched"
	OutcomeListed    Outcome = "listed"
	OutcomeAmbiguous Outcome = "ambiguous"
	OutcomeNotFound  Outcome = "not_found"
	OutcomeCached    Outcome = "cached"
)

// Options tune one resolve call.
type Options struct {
	// KindHint pins the artifact kind, skipping keyword classification.
	KindHint string

	// Strict rejects weak intents locally, bypasses the cache, and surfaces
	// ambiguity as a candidate list instead of silently picking a winner.
	Strict bool

	// MaxWait caps wall time across the whole retry loop. 0 means the
	// policy's default (unbounded).
	MaxWait time.Duration

	// ExpectedID short-circuits via direct id lookup when set.
	ExpectedID string

	// Limit caps per-strategy results. 0 means the configured default.
	Limit int

	// Observer receives executor progress events for this call.
	Observer ProgressFunc
}

// Resolution is the caller-facing result of one resolve call.
type Resolution struct {
	Query         string
	Intent        Intent
	Outcome       Outcome
	Match         *ResolvedArtifact
	Candidates    []Candidate
	Ambiguous     bool
	FromCache     bool
	Attempts      int
	Duration      time.Duration
	CorrelationID string
}

// =============================================================================
// Engine
// =============================================================================

// Engine is the artifact resolution facade: classifier, cache, strategy
// builder, retrying executor, and ranker wired together.
//
// # Description
//
// One Engine serves all callers. Concurrent identical non-strict resolves
// are collapsed into a single remote run; everything else proceeds
// independently. The cache is advisory and shared; strict calls never read
// it but do refresh it on success.
//
// # Thread Safety
//
// Safe for concurrent use.
type Engine struct {
	catalog    *config.Catalog
	search     *config.SearchConfig
	classifier *Classifier
	builder    *Builder
	executor   *Executor
	ranker     *Ranker
	cache      ResolutionCache
	escalator  *Escalator
	analytics  *Analytics
	logger     *slog.Logger
	normal     RetryPolicy
	verify     RetryPolicy
	flights    singleflight.Group
}

// EngineDeps collects the engine's collaborators. Client is required;
// everything else has a working zero value.
type EngineDeps struct {
	// Client talks to the remote record platform. Required.
	Client platform.Client

	// Cache backs resolution reuse. Nil gets an in-memory cache.
	Cache ResolutionCache

	// Model enables low-confidence classification escalation. Nil disables.
	Model llms.Model

	// Analytics records resolution telemetry. Nil disables.
	Analytics *Analytics

	// Logger for engine diagnostics. Nil gets slog.Default.
	Logger *slog.Logger
}

// NewEngine wires the resolution engine from loaded configuration.
//
// # Description
//
// The collection catalog and search grammar come from the package config
// singletons; breadth tiers are cross-checked against the catalog here so a
// bad deployment fails at startup, not mid-resolve.
//
// # Inputs
//
//   - ctx: Context for configuration loading.
//   - deps: Collaborators. Client must not be nil.
//
// # Outputs
//
//   - *Engine: Ready to serve. Never nil on success.
//   - error: Configuration load or validation failure.
func NewEngine(ctx context.Context, deps EngineDeps) (*Engine, error) {
	if deps.Client == nil {
		return nil, errors.New("resolve engine: platform client is required")
	}

	catalog, err := config.GetCatalog(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve engine: %w", err)
	}
	search, err := config.GetSearchConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve engine: %w", err)
	}
	if err := config.ValidateBreadth(search, catalog); err != nil {
		return nil, fmt.Errorf("resolve engine: %w", err)
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cache := deps.Cache
	if cache == nil {
		cache = NewMemoryCache()
	}

	classifier := NewClassifier(catalog, search)
	builder := NewBuilder(catalog, search)

	return &Engine{
		catalog:    catalog,
		search:     search,
		classifier: classifier,
		builder:    builder,
		executor:   NewExecutor(deps.Client, builder, logger),
		ranker:     NewRanker(catalog, search.Epsilon),
		cache:      cache,
		escalator:  NewEscalator(deps.Model, classifier, catalog.KnownKinds(), 0, 0, logger),
		analytics:  deps.Analytics,
		logger:     logger,
		normal:     NormalPolicy(search),
		verify:     VerifyPolicy(search),
	}, nil
}

// Resolve maps a loosely-specified query to the best-matching record.
//
// # Description
//
// NotFound is a normal result, never an error: Outcome is OutcomeNotFound
// and Match is nil. A non-nil error means the request was invalid under
// strict mode, the caller's context ended, or the platform was structurally
// unreachable for the entire run.
func (eng *Engine) Resolve(ctx context.Context, query string, opts Options) (*Resolution, error) {
	return eng.resolve(ctx, query, opts, eng.normal, false)
}

// Verify is the higher-patience variant for confirming a record created
// moments ago: more attempts, longer backoff, and — when opts.ExpectedID is
// set — a direct id lookup that short-circuits the text strategies.
func (eng *Engine) Verify(ctx context.Context, query string, opts Options) (*Resolution, error) {
	return eng.resolve(ctx, query, opts, eng.verify, true)
}

// Invalidate evicts the cache entry a query maps to. Used after an external
// delete, when the platform reports the record no longer exists.
func (eng *Engine) Invalidate(ctx context.Context, query, kindHint string) error {
	intent := eng.classifier.ClassifyWithHint(query, kindHint)
	key := CacheKey(intent.Kind, intent.Identifier)
	if err := eng.cache.Invalidate(ctx, key); err != nil {
		return fmt.Errorf("invalidate %q: %w", key, err)
	}
	RecordCacheEvent("invalidate")
	eng.logger.Info("resolution cache invalidated", slog.String("key", platform.SafeLogString(key)))
	return nil
}

// InvalidateRecord evicts every cache entry that resolved to the given
// record id. Used after a delete: any number of query phrasings may map to
// the now-gone record, and all of them must stop answering from cache.
func (eng *Engine) InvalidateRecord(ctx context.Context, sysID string) error {
	if err := eng.cache.InvalidateID(ctx, sysID); err != nil {
		return fmt.Errorf("invalidate record %s: %w", sysID, err)
	}
	RecordCacheEvent("invalidate")
	eng.logger.Info("resolution cache invalidated by record id", slog.String("sys_id", sysID))
	return nil
}

// Classify exposes the intent classifier, for previews and diagnostics.
func (eng *Engine) Classify(query, kindHint string) Intent {
	return eng.classifier.ClassifyWithHint(query, kindHint)
}

// KnownKinds returns the catalog's kind vocabulary in declaration order.
func (eng *Engine) KnownKinds() []string {
	return eng.catalog.KnownKinds()
}

// Cache exposes the resolution cache, for diagnostics.
func (eng *Engine) Cache() ResolutionCache {
	return eng.cache
}

// =============================================================================
// Resolution Flow
// =============================================================================

func (eng *Engine) resolve(ctx context.Context, query string, opts Options, policy RetryPolicy, verifying bool) (*Resolution, error) {
	ctx, span := resolveTracer.Start(ctx, "resolve.request")
	defer span.End()

	start := time.Now()
	correlationID := uuid.NewString()
	logger := eng.logger.With(slog.String("correlation_id", correlationID))

	if opts.Strict {
		if err := eng.rejectInvalid(query, opts); err != nil {
			RecordResolution("invalid", 0, time.Since(start))
			return nil, err
		}
	}

	intent := eng.classifier.ClassifyWithHint(query, opts.KindHint)
	intent, _ = eng.escalator.Reclassify(ctx, intent)

	span.SetAttributes(
		attribute.String("kind", intent.Kind),
		attribute.String("kind_source", string(intent.Source)),
		attribute.Float64("confidence", intent.Confidence),
		attribute.Bool("list_all", intent.ListAll),
		attribute.Bool("strict", opts.Strict),
	)

	key := CacheKey(intent.Kind, intent.Identifier)
	if !opts.Strict && !intent.ListAll && intent.Identifier != "" {
		if art, err := eng.cache.Lookup(ctx, key); err == nil && art != nil {
			RecordCacheEvent("hit")
			res := &Resolution{
				Query:         intent.RawText,
				Intent:        intent,
				Outcome:       OutcomeCached,
				Match:         art,
				FromCache:     true,
				Duration:      time.Since(start),
				CorrelationID: correlationID,
			}
			RecordResolution(string(OutcomeCached), 0, res.Duration)
			eng.analytics.RecordResolution(res)
			logger.Info("resolved from cache",
				slog.String("kind", intent.Kind),
				slog.String("sys_id", art.SysID),
			)
			return res, nil
		}
		RecordCacheEvent("miss")
	}

	candidates, err := eng.runSearch(ctx, intent, opts, policy, verifying)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		RecordResolution("transport_error", 0, time.Since(start))
		logger.Error("resolve failed at transport layer", slog.String("error", err.Error()))
		return nil, err
	}

	res := eng.assemble(ctx, intent, opts, candidates, key)
	res.CorrelationID = correlationID
	res.Duration = time.Since(start)

	span.SetAttributes(
		attribute.String("outcome", string(res.Outcome)),
		attribute.Int("candidates", len(res.Candidates)),
		attribute.Int("attempts", res.Attempts),
	)
	RecordResolution(string(res.Outcome), res.Attempts, res.Duration)
	eng.analytics.RecordResolution(res)
	logger.Info("resolve complete",
		slog.String("outcome", string(res.Outcome)),
		slog.String("kind", intent.Kind),
		slog.String("identifier", platform.SafeLogString(intent.Identifier)),
		slog.Int("candidates", len(res.Candidates)),
		slog.Int("attempts", res.Attempts),
		slog.Duration("duration", res.Duration),
	)
	return res, nil
}

// rejectInvalid is the strict-mode fast local rejection: no remote calls.
func (eng *Engine) rejectInvalid(query string, opts Options) error {
	if opts.KindHint != "" && opts.KindHint != KindAny && !eng.catalog.HasKind(opts.KindHint) {
		return fmt.Errorf("%w: unknown kind hint %q", ErrInvalidIntent, opts.KindHint)
	}
	if strings.TrimSpace(query) == "" && opts.ExpectedID == "" {
		return fmt.Errorf("%w: empty query", ErrInvalidIntent)
	}
	return nil
}

// runSearch executes the plan, collapsing concurrent identical non-strict
// resolves into one remote run.
func (eng *Engine) runSearch(ctx context.Context, intent Intent, opts Options, policy RetryPolicy, verifying bool) ([]Candidate, error) {
	if opts.MaxWait > 0 {
		policy = policy.WithBudget(opts.MaxWait)
	}

	execute := func() ([]Candidate, error) {
		plan := eng.builder.Build(intent, opts.Limit)
		return eng.executor.Execute(ctx, Request{
			Plan:       plan,
			Policy:     policy,
			ExpectedID: opts.ExpectedID,
			Observer:   opts.Observer,
		})
	}

	// Observers and expected ids are caller-specific; only plain lookups
	// share a flight.
	if opts.Strict || verifying || opts.ExpectedID != "" || opts.Observer != nil {
		return execute()
	}

	flightKey := fmt.Sprintf("%s|%d", CacheKey(intent.Kind, intent.Identifier), opts.Limit)
	v, err, _ := eng.flights.Do(flightKey, func() (any, error) {
		return execute()
	})
	if err != nil {
		return nil, err
	}
	return v.([]Candidate), nil
}

// assemble turns raw candidates into the caller-facing resolution.
func (eng *Engine) assemble(ctx context.Context, intent Intent, opts Options, candidates []Candidate, key string) *Resolution {
	res := &Resolution{
		Query:  intent.RawText,
		Intent: intent,
	}

	if len(candidates) == 0 {
		res.Outcome = OutcomeNotFound
		return res
	}

	if intent.ListAll {
		res.Outcome = OutcomeListed
		res.Candidates = candidates
		res.Attempts = candidates[0].RetryAttempt
		return res
	}

	ranking := eng.ranker.Rank(candidates, intent)
	res.Candidates = ranking.Candidates
	res.Ambiguous = ranking.Ambiguous
	if ranking.Ambiguous {
		RecordAmbiguous()
	}

	if ranking.Ambiguous && opts.Strict {
		res.Outcome = OutcomeAmbiguous
		return res
	}

	best := ranking.Best
	res.Outcome = OutcomeMatched
	res.Attempts = best.RetryAttempt
	art := eng.artifactFromCandidate(key, *best)
	res.Match = &art

	if intent.Identifier != "" {
		if err := eng.cache.Store(ctx, key, art); err != nil {
			eng.logger.Warn("resolution cache store failed",
				slog.String("key", platform.SafeLogString(key)),
				slog.String("error", err.Error()),
			)
		} else {
			RecordCacheEvent("store")
		}
	}
	return res
}

func (eng *Engine) artifactFromCandidate(key string, c Candidate) ResolvedArtifact {
	env := c.Record.Envelope()
	return ResolvedArtifact{
		Key:        key,
		SysID:      env.SysID,
		Collection: c.Collection,
		Kind:       c.Kind,
		Name:       env.Name,
		Summary:    eng.summaryFor(c),
		Score:      c.Score,
		ResolvedAt: time.Now(),
	}
}

// summaryFor picks a short human-readable line for the cache entry: the
// first populated alternate name field, then the common description fields.
func (eng *Engine) summaryFor(c Candidate) string {
	fields := c.Record.FieldMap()
	if meta, ok := eng.catalog.Meta(c.Collection); ok {
		for _, f := range meta.AltNameFields {
			if v := strings.TrimSpace(fields[f]); v != "" {
				return v
			}
		}
	}
	for _, f := range []string{"short_description", "description"} {
		if v := strings.TrimSpace(fields[f]); v != "" {
			return v
		}
	}
	return ""
}
