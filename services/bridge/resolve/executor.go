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

// =============================================================================
// Retrying Search Executor
// =============================================================================
//
// A record created moments ago may not yet be visible to the remote search
// index. The executor's job is to distinguish "genuinely does not exist"
// from "not yet indexed" without blocking indefinitely:
//
//	1. Per collection, attempt 1..maxAttempts each run one strategy from the
//	   ordered ladder, wrapping back to the most specific rung when the
//	   ladder is shorter than the attempt budget. The first strategy to
//	   yield results ends the collection's loop.
//	2. Empty attempts sleep a linear backoff (baseDelay × attempt) — remote
//	   propagation is observed in whole seconds, so exponential growth just
//	   wastes the budget.
//	3. One mid-sequence attempt issues a throwaway "touch" query to coax the
//	   index into refreshing the collection. Its failures are swallowed.
//	4. If every collection exhausts with zero results, a one-shot broadened
//	   sweep runs simplified first-term wildcards over collections beyond
//	   those originally targeted. Best-effort widening, never retried.
//	5. A caller-supplied expected id short-circuits everything via direct
//	   id lookup before any text strategy runs.
//
// Retries are sequential, one outstanding remote call at a time: parallel
// fan-out would multiply load on an index that is already lagging.

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/bering/services/bridge/config"
	"github.com/AleutianAI/bering/services/platform"
)

var executorTracer = otel.Tracer("bering.bridge.resolve.executor")

// =============================================================================
// Retry Policy
// =============================================================================

// RetryPolicy bounds one executor run. The normal and verify flavors are two
// instances of this value object driving the same algorithm.
type RetryPolicy struct {
	// MaxAttempts is the per-collection attempt budget. Values below 1 are
	// treated as 1.
	MaxAttempts int

	// BaseDelay scales the linear backoff: sleep BaseDelay × attempt after
	// an empty attempt.
	BaseDelay time.Duration

	// NudgeAttempt selects the single attempt after which the index touch
	// query fires. 0 disables nudging.
	NudgeAttempt int

	// Budget caps wall time across the whole retry loop, all collections
	// included. Exceeding it stops retrying and falls through to the
	// broadened sweep; it is not an error. 0 means unbounded.
	Budget time.Duration
}

// Backoff returns the linear delay for an attempt number.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return p.BaseDelay * time.Duration(attempt)
}

// WithBudget returns a copy of the policy with the wall-time budget set.
func (p RetryPolicy) WithBudget(budget time.Duration) RetryPolicy {
	p.Budget = budget
	return p
}

// NormalPolicy builds the standard resolve policy from configuration.
func NormalPolicy(s *config.SearchConfig) RetryPolicy {
	return policyFromProfile(s.Retry.Normal)
}

// VerifyPolicy builds the higher-patience policy for confirming records
// created moments ago: more attempts, longer base delay.
func VerifyPolicy(s *config.SearchConfig) RetryPolicy {
	return policyFromProfile(s.Retry.Verify)
}

func policyFromProfile(p config.RetryProfile) RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  p.MaxAttempts,
		BaseDelay:    p.BaseDelay(),
		NudgeAttempt: p.NudgeAttempt,
	}
}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	return p
}

// =============================================================================
// Candidates
// =============================================================================

// Candidate is one raw record returned by the remote platform, tagged for
// traceability with where and how it was found. RetryAttempt is 1-based; 0
// marks a fallback-sweep find. Score is filled by the ranker.
type Candidate struct {
	Record       platform.Record
	Kind         string
	Collection   string
	Strategy     string
	RetryAttempt int
	Score        float64
}

// =============================================================================
// Progress Observation
// =============================================================================

// ProgressStage identifies what the executor is doing.
type ProgressStage string

const (
	StageAttempt  ProgressStage = "attempt"
	StageBackoff  ProgressStage = "backoff"
	StageNudge    ProgressStage = "nudge"
	StageIDLookup ProgressStage = "id_lookup"
	StageFallback ProgressStage = "fallback"
)

// Progress is one executor event, suitable for streaming to an interactive
// caller while a slow resolve is retrying.
type Progress struct {
	Stage      ProgressStage
	Collection string
	Attempt    int
	Strategy   string
	Found      int
	Wait       time.Duration
}

// ProgressFunc receives executor events. Called synchronously; implementations
// must be fast and must not block.
type ProgressFunc func(Progress)

// =============================================================================
// Executor
// =============================================================================

// Request is one executor run.
type Request struct {
	Plan   *Plan
	Policy RetryPolicy

	// ExpectedID, when set, is tried as a direct id lookup before any text
	// strategy. A hit short-circuits the entire retry loop.
	ExpectedID string

	// Observer, when set, receives progress events for this run only.
	Observer ProgressFunc
}

// Executor runs strategy plans against the remote platform with retry,
// backoff, index nudging, and a broadened fallback sweep.
//
// # Thread Safety
//
// Safe for concurrent use; each Execute call keeps its own run state.
type Executor struct {
	client  platform.Client
	builder *Builder
	logger  *slog.Logger
}

// NewExecutor builds an Executor.
//
// # Inputs
//
//   - client: Remote platform client. Must not be nil.
//   - builder: Strategy builder, used for the fallback sweep plan.
//   - logger: Logger for per-attempt diagnostics. May be nil.
func NewExecutor(client platform.Client, builder *Builder, logger *slog.Logger) *Executor {
	if client == nil {
		panic("NewExecutor: client must not be nil")
	}
	if builder == nil {
		panic("NewExecutor: builder must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{client: client, builder: builder, logger: logger}
}

// Execute runs the plan to completion and returns deduplicated candidates.
//
// # Description
//
// "Not found" is never an error: retries and the fallback sweep exhausting
// with zero candidates returns an empty list. A non-nil error means the
// remote platform was structurally unreachable — every call across the
// whole run failed at the transport layer — so the caller can distinguish
// "doesn't exist" from "couldn't check". Individual transport failures
// mid-run are logged, counted, and retried like empty results.
//
// # Outputs
//
//   - []Candidate: Deduplicated by record id, first occurrence kept, in
//     collection-mapping order then strategy order.
//   - error: Context cancellation, or total transport failure.
func (e *Executor) Execute(ctx context.Context, req Request) ([]Candidate, error) {
	ctx, span := executorTracer.Start(ctx, "resolve.execute")
	defer span.End()

	r := &searchRun{
		client:   e.client,
		builder:  e.builder,
		logger:   e.logger,
		observer: req.Observer,
		plan:     req.Plan,
		policy:   req.Policy.normalized(),
		start:    time.Now(),
	}

	span.SetAttributes(
		attribute.String("kind", r.plan.Intent.Kind),
		attribute.Int("collections", len(r.plan.Collections)),
		attribute.Int("strategies", r.plan.Total()),
		attribute.Int("max_attempts", r.policy.MaxAttempts),
		attribute.Bool("expected_id", req.ExpectedID != ""),
	)

	out, err := r.run(ctx, req.ExpectedID)

	span.SetAttributes(
		attribute.Int("candidates", len(out)),
		attribute.Int("transport_failures", r.transport),
	)
	return out, err
}

// =============================================================================
// Per-Run State
// =============================================================================

// searchRun carries the state of one Execute call so concurrent resolves
// never share counters or observers.
type searchRun struct {
	client   platform.Client
	builder  *Builder
	logger   *slog.Logger
	observer ProgressFunc
	plan     *Plan
	policy   RetryPolicy
	start    time.Time

	succeeded int
	transport int
	lastErr   error
}

func (r *searchRun) run(ctx context.Context, expectedID string) ([]Candidate, error) {
	if expectedID != "" {
		if c, ok := r.lookupByID(ctx, expectedID); ok {
			return []Candidate{c}, nil
		}
	}
	if id := r.plan.Intent.ExplicitID; id != "" && id != expectedID {
		if c, ok := r.lookupByID(ctx, id); ok {
			return []Candidate{c}, nil
		}
	}

	var out []Candidate
	for _, coll := range r.plan.Collections {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if r.overBudget() {
			r.logger.Info("retry budget exhausted, stopping early",
				slog.String("collection", coll),
				slog.Duration("budget", r.policy.Budget),
			)
			break
		}
		out = append(out, r.searchCollection(ctx, coll, r.plan.For(coll))...)
	}
	out = dedupeByID(out)

	if len(out) == 0 && ctx.Err() == nil {
		fallback := r.builder.FallbackPlan(r.plan.Intent, r.plan.Collections)
		if !fallback.IsEmpty() {
			found := r.sweep(ctx, fallback)
			RecordFallbackSweep(len(found) > 0)
			out = dedupeByID(found)
		}
	}

	if len(out) == 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if r.transport > 0 && r.succeeded == 0 {
			return nil, fmt.Errorf("search exhausted: %d calls failed at the transport layer, last: %w",
				r.transport, r.lastErr)
		}
	}
	return out, nil
}

// searchCollection runs the retry loop for one collection. Attempt n runs
// the ladder rung (n-1) mod len, so short ladders keep re-polling their most
// specific strategies while the index catches up.
func (r *searchRun) searchCollection(ctx context.Context, coll string, ladder []QueryStrategy) []Candidate {
	if len(ladder) == 0 {
		return nil
	}

	for attempt := 1; attempt <= r.policy.MaxAttempts; attempt++ {
		if ctx.Err() != nil {
			return nil
		}
		strat := ladder[(attempt-1)%len(ladder)]

		records, err := r.client.Search(ctx, coll, strat.Filter, strat.Limit)
		if err != nil {
			r.fail(err)
			RecordSearchCall("transport_error")
			r.logger.Warn("search attempt failed",
				slog.String("collection", coll),
				slog.String("strategy", strat.Description),
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()),
			)
		} else {
			r.succeeded++
			if len(records) > 0 {
				RecordSearchCall("hit")
				r.observe(Progress{Stage: StageAttempt, Collection: coll, Attempt: attempt, Strategy: strat.Description, Found: len(records)})
				return tagCandidates(records, r.kindOf(coll), coll, strat.Description, attempt)
			}
			RecordSearchCall("empty")
		}
		r.observe(Progress{Stage: StageAttempt, Collection: coll, Attempt: attempt, Strategy: strat.Description})

		if attempt == r.policy.NudgeAttempt {
			r.nudge(ctx, coll)
		}
		if attempt < r.policy.MaxAttempts {
			if r.overBudget() {
				return nil
			}
			wait := r.policy.Backoff(attempt)
			r.observe(Progress{Stage: StageBackoff, Collection: coll, Attempt: attempt, Wait: wait})
			if !sleepCtx(ctx, wait) {
				return nil
			}
		}
	}
	return nil
}

// lookupByID tries a direct id fetch against each target collection. A hit
// returns immediately; not-found answers are normal and move on to the next
// collection.
func (r *searchRun) lookupByID(ctx context.Context, id string) (Candidate, bool) {
	for _, coll := range r.plan.Collections {
		if ctx.Err() != nil {
			return Candidate{}, false
		}
		r.observe(Progress{Stage: StageIDLookup, Collection: coll})

		rec, err := r.client.GetByID(ctx, coll, id)
		switch {
		case err == nil:
			r.succeeded++
			RecordSearchCall("hit")
			return Candidate{
				Record:       rec,
				Kind:         r.kindOf(coll),
				Collection:   coll,
				Strategy:     "direct id lookup",
				RetryAttempt: 1,
			}, true
		case platform.IsNotFound(err):
			r.succeeded++
			RecordSearchCall("empty")
		default:
			r.fail(err)
			RecordSearchCall("transport_error")
			r.logger.Warn("id lookup failed",
				slog.String("collection", coll),
				slog.String("error", err.Error()),
			)
		}
	}
	return Candidate{}, false
}

// sweep runs the broadened fallback plan: every strategy once, no retries,
// failures swallowed.
func (r *searchRun) sweep(ctx context.Context, plan *Plan) []Candidate {
	var out []Candidate
	for _, coll := range plan.Collections {
		if ctx.Err() != nil {
			break
		}
		for _, strat := range plan.For(coll) {
			r.observe(Progress{Stage: StageFallback, Collection: coll, Strategy: strat.Description})

			records, err := r.client.Search(ctx, coll, strat.Filter, strat.Limit)
			if err != nil {
				r.fail(err)
				RecordSearchCall("transport_error")
				r.logger.Debug("fallback sweep call failed",
					slog.String("collection", coll),
					slog.String("error", err.Error()),
				)
				continue
			}
			r.succeeded++
			if len(records) == 0 {
				RecordSearchCall("empty")
				continue
			}
			RecordSearchCall("hit")
			out = append(out, tagCandidates(records, r.kindOf(coll), coll, strat.Description, 0)...)
		}
	}
	return out
}

// nudge issues the throwaway index-refresh query. Failures never surface.
func (r *searchRun) nudge(ctx context.Context, coll string) {
	r.observe(Progress{Stage: StageNudge, Collection: coll})
	RecordNudge()
	if err := r.client.Nudge(ctx, coll); err != nil {
		r.logger.Debug("index nudge failed",
			slog.String("collection", coll),
			slog.String("error", err.Error()),
		)
	}
}

func (r *searchRun) overBudget() bool {
	return r.policy.Budget > 0 && time.Since(r.start) >= r.policy.Budget
}

func (r *searchRun) kindOf(coll string) string {
	kind, ok := r.builder.catalog.KindForCollection(coll)
	if !ok {
		return KindAny
	}
	return kind
}

func (r *searchRun) fail(err error) {
	r.transport++
	r.lastErr = err
}

func (r *searchRun) observe(p Progress) {
	if r.observer != nil {
		r.observer(p)
	}
}

// =============================================================================
// Helpers
// =============================================================================

func tagCandidates(records []platform.Record, kind, coll, strategy string, attempt int) []Candidate {
	out := make([]Candidate, 0, len(records))
	for _, rec := range records {
		out = append(out, Candidate{
			Record:       rec,
			Kind:         kind,
			Collection:   coll,
			Strategy:     strategy,
			RetryAttempt: attempt,
		})
	}
	return out
}

// dedupeByID drops candidates whose record id was already seen, keeping the
// first occurrence. Records without an id are kept as-is.
func dedupeByID(cands []Candidate) []Candidate {
	if len(cands) <= 1 {
		return cands
	}
	seen := make(map[string]struct{}, len(cands))
	out := make([]Candidate, 0, len(cands))
	for _, c := range cands {
		id := c.Record.Envelope().SysID
		if id != "" {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
		}
		out = append(out, c)
	}
	return out
}

// sleepCtx sleeps for d unless the context ends first. Returns false on
// cancellation.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
