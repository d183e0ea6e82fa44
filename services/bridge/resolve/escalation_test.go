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
	"strings"
	"testing"
	"time"

	"github.com/tmc/langchaingo/llms"
)

// =============================================================================
// Fake Model
// =============================================================================

type fakeModel struct {
	generateFn func(ctx context.Context, messages []llms.MessageContent, opts ...llms.CallOption) (*llms.ContentResponse, error)
	calls      int
}

func (m *fakeModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, opts ...llms.CallOption) (*llms.ContentResponse, error) {
	m.calls++
	if m.generateFn == nil {
		return textResponse("none"), nil
	}
	return m.generateFn(ctx, messages, opts...)
}

func (m *fakeModel) Call(context.Context, string, ...llms.CallOption) (string, error) {
	return "", errors.New("fakeModel: Call is unused")
}

func textResponse(s string) *llms.ContentResponse {
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: s}}}
}

func newTestEscalator(t *testing.T, model llms.Model) (*Escalator, *Classifier) {
	t.Helper()
	catalog, search := loadTables(t)
	classifier := NewClassifier(catalog, search)
	return NewEscalator(model, classifier, catalog.KnownKinds(), 0, 0, discardLogger()), classifier
}

// =============================================================================
// Construction Tests
// =============================================================================

func TestNewEscalator_NilModelDisables(t *testing.T) {
	e, c := newTestEscalator(t, nil)
	if e != nil {
		t.Fatal("expected nil escalator for nil model")
	}

	intent := c.Classify("frobnicator")
	got, ok := e.Reclassify(context.Background(), intent)
	if ok {
		t.Error("nil escalator must never reclassify")
	}
	if got.Kind != intent.Kind || got.Confidence != intent.Confidence {
		t.Errorf("nil escalator must return the intent unchanged, got %+v", got)
	}
}

func TestNewEscalator_Defaults(t *testing.T) {
	e, _ := newTestEscalator(t, &fakeModel{})
	if e.threshold != DefaultEscalationThreshold {
		t.Errorf("expected threshold %f, got %f", DefaultEscalationThreshold, e.threshold)
	}
	if e.timeout != defaultEscalationTimeout {
		t.Errorf("expected timeout %v, got %v", defaultEscalationTimeout, e.timeout)
	}
}

// =============================================================================
// Reclassification Tests
// =============================================================================

func TestEscalator_SkipsConfidentIntents(t *testing.T) {
	model := &fakeModel{}
	e, c := newTestEscalator(t, model)
	ctx := context.Background()

	intents := []Intent{
		c.Classify("the approval flow"),                         // keyword, 0.9
		c.Classify("open 46d44a5dc0a8010e0120cdf67c14ec2b"),     // explicit id
		c.Classify("list all"),                                  // enumeration
		c.ClassifyWithHint("anything at all here", "widget"),    // hint, 1.0
	}
	for _, intent := range intents {
		if _, ok := e.Reclassify(ctx, intent); ok {
			t.Errorf("intent %+v must not escalate", intent)
		}
	}
	if model.calls != 0 {
		t.Errorf("expected zero model calls, got %d", model.calls)
	}
}

func TestEscalator_ReclassifiesLowConfidence(t *testing.T) {
	var prompt string
	model := &fakeModel{generateFn: func(_ context.Context, messages []llms.MessageContent, _ ...llms.CallOption) (*llms.ContentResponse, error) {
		if len(messages) == 1 && len(messages[0].Parts) == 1 {
			if text, ok := messages[0].Parts[0].(llms.TextContent); ok {
				prompt = text.Text
			}
		}
		return textResponse("widget"), nil
	}}
	e, c := newTestEscalator(t, model)

	intent := c.Classify("the thing for displaying open tickets")
	if intent.Confidence != 0.3 {
		t.Fatalf("precondition: expected unclassified intent, got %+v", intent)
	}

	refined, ok := e.Reclassify(context.Background(), intent)
	if !ok {
		t.Fatal("expected reclassification")
	}
	if refined.Kind != "widget" {
		t.Errorf("expected widget, got %q", refined.Kind)
	}
	if refined.Source != KindSourceEscalation {
		t.Errorf("expected escalation source, got %q", refined.Source)
	}
	if refined.Confidence != 0.8 {
		t.Errorf("expected confidence 0.8, got %f", refined.Confidence)
	}
	// The identifier is re-extracted under the new kind's vocabulary.
	if refined.Identifier != "thing displaying tickets" {
		t.Errorf("unexpected identifier %q", refined.Identifier)
	}
	// The model is constrained to the catalog vocabulary.
	if !strings.Contains(prompt, "widget") || !strings.Contains(prompt, "Kind:") {
		t.Errorf("prompt missing vocabulary or answer cue:\n%s", prompt)
	}
	if model.calls != 1 {
		t.Errorf("expected 1 model call, got %d", model.calls)
	}
}

func TestEscalator_RejectsAnswersOutsideVocabulary(t *testing.T) {
	model := &fakeModel{generateFn: func(context.Context, []llms.MessageContent, ...llms.CallOption) (*llms.ContentResponse, error) {
		return textResponse("sandwich"), nil
	}}
	e, c := newTestEscalator(t, model)

	intent := c.Classify("frobnicator cleanup")
	got, ok := e.Reclassify(context.Background(), intent)
	if ok {
		t.Fatal("an unknown kind answer must be rejected")
	}
	if got.Kind != KindAny {
		t.Errorf("expected the original intent kept, got %q", got.Kind)
	}
}

func TestEscalator_NormalizesAnswer(t *testing.T) {
	model := &fakeModel{generateFn: func(context.Context, []llms.MessageContent, ...llms.CallOption) (*llms.ContentResponse, error) {
		return textResponse("\"Widget\".\nBecause it sounds like a portal component."), nil
	}}
	e, c := newTestEscalator(t, model)

	refined, ok := e.Reclassify(context.Background(), c.Classify("frobnicator"))
	if !ok {
		t.Fatal("expected a normalized answer to be accepted")
	}
	if refined.Kind != "widget" {
		t.Errorf("expected widget, got %q", refined.Kind)
	}
}

func TestEscalator_ModelFailureKeepsKeywordResult(t *testing.T) {
	model := &fakeModel{generateFn: func(context.Context, []llms.MessageContent, ...llms.CallOption) (*llms.ContentResponse, error) {
		return nil, errors.New("model offline")
	}}
	e, c := newTestEscalator(t, model)

	intent := c.Classify("frobnicator")
	got, ok := e.Reclassify(context.Background(), intent)
	if ok {
		t.Fatal("a model failure must not reclassify")
	}
	if got.Kind != intent.Kind {
		t.Errorf("expected the original intent kept, got %+v", got)
	}
}

func TestEscalator_Timeout(t *testing.T) {
	catalog, search := loadTables(t)
	classifier := NewClassifier(catalog, search)
	model := &fakeModel{generateFn: func(ctx context.Context, _ []llms.MessageContent, _ ...llms.CallOption) (*llms.ContentResponse, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	e := NewEscalator(model, classifier, catalog.KnownKinds(), 0, 50*time.Millisecond, discardLogger())

	start := time.Now()
	_, ok := e.Reclassify(context.Background(), classifier.Classify("frobnicator"))
	if ok {
		t.Fatal("a timed-out escalation must not reclassify")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("escalation did not respect its timeout: %v", elapsed)
	}
}

func TestEscalator_EmptyAnswer(t *testing.T) {
	model := &fakeModel{generateFn: func(context.Context, []llms.MessageContent, ...llms.CallOption) (*llms.ContentResponse, error) {
		return textResponse(""), nil
	}}
	e, c := newTestEscalator(t, model)

	if _, ok := e.Reclassify(context.Background(), c.Classify("frobnicator")); ok {
		t.Error("an empty answer must be rejected")
	}
}
