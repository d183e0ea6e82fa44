// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package resolve implements the artifact resolution engine: classifying a
// loosely-specified request into an intent, building ordered remote search
// strategies for it, executing them with retry against an eventually
// consistent search index, and ranking the candidates that come back.
package resolve

import (
	"strings"
	"unicode"

	"github.com/AleutianAI/bering/services/bridge/config"
)

// =============================================================================
// Intent Types
// =============================================================================

// KindAny is the artifact kind used when no classification rule matched and
// the caller supplied no hint.
const KindAny = "any"

// KindSource records how an intent's kind was determined.
type KindSource string

const (
	// KindSourceHint means the caller supplied the kind.
	KindSourceHint KindSource = "hint"

	// KindSourceKeyword means a catalog keyword rule matched.
	KindSourceKeyword KindSource = "keyword"

	// KindSourceEscalation means the low-confidence escalation model
	// re-classified the intent.
	KindSourceEscalation KindSource = "escalation"

	// KindSourceNone means nothing matched; the kind is KindAny.
	KindSourceNone KindSource = "none"
)

// Classification confidence per kind source.
const (
	confidenceHint       = 1.0
	confidenceExplicit   = 1.0
	confidenceKeyword    = 0.9
	confidenceEscalation = 0.8
	confidenceNone       = 0.3
)

// Intent is the classified form of a raw query.
//
// # Description
//
// Kind is a canonical catalog kind or KindAny. Identifier is the residual
// search text after keyword and stop-word stripping, preserving the original
// casing (remote query fields are case-sensitive). ExplicitID is set when
// the query embeds a 32-character hex record id; an explicit id always
// outranks keyword stripping. ListAll marks enumeration requests and the
// degenerate empty query.
type Intent struct {
	RawText    string
	Kind       string
	Identifier string
	ExplicitID string
	ListAll    bool
	Confidence float64
	Source     KindSource
}

// Tokens splits the identifier on whitespace.
func (i Intent) Tokens() []string {
	return strings.Fields(i.Identifier)
}

// =============================================================================
// Classifier
// =============================================================================

// Classifier maps free-form query text to an Intent using the catalog's
// ordered keyword table.
//
// # Description
//
// Classification is a pure function of the input text and the loaded
// tables: no I/O, deterministic, and never returns an error. Unmatchable
// input degrades to kind "any"; an empty query degrades to list-all
// semantics.
//
// # Thread Safety
//
// Immutable after construction; safe for concurrent use.
type Classifier struct {
	catalog *config.Catalog
	search  *config.SearchConfig
}

// NewClassifier builds a Classifier over the loaded tables.
func NewClassifier(catalog *config.Catalog, search *config.SearchConfig) *Classifier {
	return &Classifier{catalog: catalog, search: search}
}

// Classify determines the intent for free-form query text.
func (c *Classifier) Classify(text string) Intent {
	return c.classify(text, "")
}

// ClassifyWithHint determines the intent with a caller-supplied kind.
//
// # Description
//
// A known hint pins the kind with full confidence and skips the keyword
// table. An unknown or empty hint falls back to keyword classification;
// strict-mode rejection of unknown hints is the resolver's concern, not
// the classifier's.
func (c *Classifier) ClassifyWithHint(text, kindHint string) Intent {
	return c.classify(text, kindHint)
}

func (c *Classifier) classify(text, hint string) Intent {
	raw := strings.TrimSpace(text)
	lowered := strings.ToLower(raw)

	intent := Intent{
		RawText:    raw,
		Kind:       KindAny,
		Confidence: confidenceNone,
		Source:     KindSourceNone,
	}

	var rule *config.KindRule
	if hint != "" && hint != KindAny {
		if r, ok := c.catalog.Rule(hint); ok {
			rule = r
			intent.Kind = hint
			intent.Source = KindSourceHint
			intent.Confidence = confidenceHint
		}
	}
	if rule == nil {
		if r, ok := c.catalog.MatchKind(lowered); ok {
			rule = r
			intent.Kind = r.Kind
			intent.Source = KindSourceKeyword
			intent.Confidence = confidenceKeyword
		}
	}

	// An embedded record id wins over any text interpretation.
	if id := c.search.IDRegexp().FindString(lowered); id != "" {
		intent.ExplicitID = id
		intent.Identifier = id
		intent.Confidence = confidenceExplicit
		return intent
	}

	if c.search.IsListAllPhrase(lowered) {
		intent.ListAll = true
		return intent
	}

	intent.Identifier = c.extractIdentifier(raw, rule)
	if intent.Identifier == "" {
		intent.ListAll = true
	}
	return intent
}

// extractIdentifier strips the matched rule's keyword vocabulary and the
// configured stop words from the query, keeping original token casing.
// A residual shorter than the configured minimum falls back to the raw text.
func (c *Classifier) extractIdentifier(raw string, rule *config.KindRule) string {
	if raw == "" {
		return ""
	}

	fields := strings.Fields(raw)
	kept := make([]string, 0, len(fields))
	for _, tok := range fields {
		cleaned := strings.TrimFunc(tok, isTokenPadding)
		if cleaned == "" {
			continue
		}
		lowTok := strings.ToLower(cleaned)
		if c.search.IsStopWord(lowTok) {
			continue
		}
		if rule != nil && rule.StripToken(lowTok) {
			continue
		}
		kept = append(kept, cleaned)
	}

	residual := strings.Join(kept, " ")
	if len(residual) < c.search.MinIdentifierChars {
		return raw
	}
	return residual
}

// isTokenPadding reports whether a rune is surrounding punctuation rather
// than part of an identifier token. Underscores, hyphens, and dots stay:
// artifact names like incident_dashboard and INC0010042 depend on them.
func isTokenPadding(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsDigit(r) {
		return false
	}
	switch r {
	case '_', '-', '.':
		return false
	}
	return true
}
