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
	"log/slog"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
)

// =============================================================================
// Classification Escalation
// =============================================================================

// DefaultEscalationThreshold is the confidence below which an intent is
// escalated to the classification model. Keyword matches score 0.9, so only
// unclassified queries (0.3) escalate by default.
const DefaultEscalationThreshold = 0.5

// defaultEscalationTimeout bounds the model call. The keyword result is
// already in hand, so a slow model should lose to it quickly.
const defaultEscalationTimeout = 4 * time.Second

// escalationMaxTokens caps the completion; the expected answer is a single
// kind name.
const escalationMaxTokens = 16

// Escalator re-classifies low-confidence intents with a language model,
// constrained to the catalog's kind vocabulary.
//
// # Description
//
// The keyword table handles the common phrasings; the escalator exists for
// queries like "the thing that shows open tickets on the portal" where no
// keyword appears. The model is asked for exactly one catalog kind; any
// answer outside the vocabulary is rejected. Escalation is strictly
// best-effort: failures, timeouts, and invalid answers all degrade to the
// keyword result, never to an error.
//
// A nil *Escalator is valid and disables escalation.
//
// # Thread Safety
//
// Safe for concurrent use; all state is immutable after construction.
type Escalator struct {
	model      llms.Model
	classifier *Classifier
	kinds      []string
	kindSet    map[string]struct{}
	threshold  float64
	timeout    time.Duration
	logger     *slog.Logger
}

// NewEscalator builds an Escalator.
//
// # Inputs
//
//   - model: Classification model. Nil disables escalation (returns nil).
//   - classifier: Used to re-extract the identifier once a kind is known.
//   - kinds: The catalog's kind vocabulary, in declaration order.
//   - threshold: Confidence below which intents escalate. <= 0 uses the default.
//   - timeout: Model call budget. <= 0 uses the default.
//   - logger: May be nil.
//
// # Outputs
//
//   - *Escalator: Nil when model is nil; otherwise ready for use.
func NewEscalator(model llms.Model, classifier *Classifier, kinds []string, threshold float64, timeout time.Duration, logger *slog.Logger) *Escalator {
	if model == nil {
		return nil
	}
	if classifier == nil {
		panic("NewEscalator: classifier must not be nil")
	}
	if threshold <= 0 {
		threshold = DefaultEscalationThreshold
	}
	if timeout <= 0 {
		timeout = defaultEscalationTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	set := make(map[string]struct{}, len(kinds))
	for _, k := range kinds {
		set[k] = struct{}{}
	}
	return &Escalator{
		model:      model,
		classifier: classifier,
		kinds:      kinds,
		kindSet:    set,
		threshold:  threshold,
		timeout:    timeout,
		logger:     logger,
	}
}

// Reclassify asks the model for a kind when keyword classification came up
// short. Returns the refined intent and true on success; the original
// intent and false otherwise.
//
// # Description
//
// Intents with confidence at or above the threshold, list-all requests, and
// explicit-id queries are skipped — there is nothing for the model to add.
// On success the identifier is re-extracted against the new kind's keyword
// vocabulary so kind words the keyword table missed still get stripped.
func (e *Escalator) Reclassify(ctx context.Context, intent Intent) (Intent, bool) {
	if e == nil {
		return intent, false
	}
	if intent.Confidence >= e.threshold || intent.ListAll || intent.ExplicitID != "" {
		RecordEscalation("skipped")
		return intent, false
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	resp, err := llms.GenerateFromSinglePrompt(ctx, e.model, e.prompt(intent.RawText),
		llms.WithTemperature(0),
		llms.WithMaxTokens(escalationMaxTokens),
	)
	if err != nil {
		RecordEscalation("error")
		e.logger.Warn("classification escalation failed, keeping keyword result",
			slog.String("error", err.Error()),
		)
		return intent, false
	}

	kind := normalizeEscalationKind(resp)
	if _, ok := e.kindSet[kind]; !ok {
		RecordEscalation("invalid")
		e.logger.Debug("escalation answer outside kind vocabulary",
			slog.String("answer", kind),
		)
		return intent, false
	}

	refined := e.classifier.ClassifyWithHint(intent.RawText, kind)
	refined.Source = KindSourceEscalation
	refined.Confidence = confidenceEscalation

	RecordEscalation("reclassified")
	e.logger.Info("intent reclassified by escalation model",
		slog.String("kind", kind),
		slog.String("identifier", refined.Identifier),
	)
	return refined, true
}

func (e *Escalator) prompt(raw string) string {
	var b strings.Builder
	b.WriteString("You classify requests about configuration artifacts in a record platform.\n")
	b.WriteString("Answer with exactly one kind from this list, or the word none if nothing fits:\n")
	b.WriteString(strings.Join(e.kinds, ", "))
	b.WriteString("\n\nRequest: ")
	b.WriteString(raw)
	b.WriteString("\nKind:")
	return b.String()
}

// normalizeEscalationKind reduces a model completion to a bare kind token:
// first line, first whitespace-separated word, trimmed of quotes and
// punctuation, lower-cased.
func normalizeEscalationKind(resp string) string {
	resp = strings.TrimSpace(resp)
	if i := strings.IndexAny(resp, "\r\n"); i >= 0 {
		resp = resp[:i]
	}
	fields := strings.Fields(resp)
	if len(fields) == 0 {
		return ""
	}
	return strings.ToLower(strings.Trim(fields[0], "\"'`.,:"))
}
