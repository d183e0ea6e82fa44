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
	"strings"

	"github.com/AleutianAI/bering/services/bridge/config"
)

// =============================================================================
// Strategy Types
// =============================================================================

// QueryStrategy is one candidate filter against a remote collection.
// Strategies are ordered by specificity: for the same field an exact match
// always precedes a contains match, which always precedes a wildcard.
type QueryStrategy struct {
	Description string
	Collection  string
	Filter      string
	Limit       int
}

// Plan is the full set of strategies for one intent, grouped per collection.
// Collections preserves the catalog mapping order, which the executor and
// ranker both rely on for tie-breaking.
type Plan struct {
	Intent      Intent
	Collections []string

	strategies map[string][]QueryStrategy
}

// For returns the ordered strategy ladder for one collection.
func (p *Plan) For(collection string) []QueryStrategy {
	return p.strategies[collection]
}

// Total counts strategies across all collections.
func (p *Plan) Total() int {
	n := 0
	for _, ladder := range p.strategies {
		n += len(ladder)
	}
	return n
}

// IsEmpty reports whether the plan has nothing to run.
func (p *Plan) IsEmpty() bool {
	return p.Total() == 0
}

// =============================================================================
// Builder
// =============================================================================

// Builder turns an Intent into an ordered Plan using the collection catalog
// and the configured query grammar.
//
// # Thread Safety
//
// Immutable after construction; safe for concurrent use.
type Builder struct {
	catalog *config.Catalog
	search  *config.SearchConfig
}

// NewBuilder builds a Builder over the loaded tables.
func NewBuilder(catalog *config.Catalog, search *config.SearchConfig) *Builder {
	return &Builder{catalog: catalog, search: search}
}

// Build produces the ordered strategy plan for an intent.
//
// # Description
//
// Target collections come from the catalog mapping for the intent's kind;
// kind "any" expands only to the configured common tier, never to every
// known collection (the full sweep is the executor's fallback, not an eager
// plan). limit <= 0 selects the configured default; list-all requests use
// the list limit instead.
func (b *Builder) Build(intent Intent, limit int) *Plan {
	plan := &Plan{
		Intent:     intent,
		strategies: make(map[string][]QueryStrategy),
	}

	plan.Collections = b.targetCollections(intent)
	for _, coll := range plan.Collections {
		plan.strategies[coll] = b.ladder(intent, coll, limit)
	}
	return plan
}

// FallbackPlan produces the one-shot broadened sweep: simplified wildcard
// strategies (first search term only) against the expanded breadth tiers,
// skipping collections the primary plan already covered.
func (b *Builder) FallbackPlan(intent Intent, searched []string) *Plan {
	plan := &Plan{
		Intent:     intent,
		strategies: make(map[string][]QueryStrategy),
	}

	term := firstTerm(intent)
	if term == "" {
		return plan
	}

	seen := make(map[string]struct{}, len(searched))
	for _, coll := range searched {
		seen[coll] = struct{}{}
	}

	limit := b.search.Limits.FallbackLimit
	for _, coll := range append(append([]string{}, b.search.Breadth.Common...), b.search.Breadth.Extended...) {
		if _, ok := seen[coll]; ok {
			continue
		}
		seen[coll] = struct{}{}
		meta, ok := b.catalog.Meta(coll)
		if !ok {
			continue
		}
		plan.Collections = append(plan.Collections, coll)
		plan.strategies[coll] = []QueryStrategy{{
			Description: "fallback wildcard " + meta.NameField + " first term",
			Collection:  coll,
			Filter:      b.search.Grammar.WildcardExpr(meta.NameField, term),
			Limit:       limit,
		}}
	}
	return plan
}

func (b *Builder) targetCollections(intent Intent) []string {
	if intent.Kind != KindAny {
		if colls := b.catalog.CollectionsForKind(intent.Kind); len(colls) > 0 {
			return colls
		}
	}
	return append([]string{}, b.search.Breadth.Common...)
}

// ladder builds the ordered strategy list for one collection.
func (b *Builder) ladder(intent Intent, collection string, limit int) []QueryStrategy {
	meta, ok := b.catalog.Meta(collection)
	if !ok {
		return nil
	}

	if intent.ListAll {
		return []QueryStrategy{b.listAll(collection, meta, limit)}
	}

	if limit <= 0 {
		limit = b.search.Limits.DefaultLimit
	}
	limit = b.search.ClampLimit(limit)

	tokens := intent.Tokens()
	if len(tokens) <= 1 {
		return b.singleTokenLadder(intent.Identifier, collection, meta, limit)
	}
	return b.multiTokenLadder(intent.Identifier, tokens, collection, meta, limit)
}

func (b *Builder) listAll(collection string, meta config.CollectionMeta, limit int) QueryStrategy {
	if limit <= 0 {
		limit = b.search.Limits.ListAllLimit
	}
	limit = b.search.ClampLimit(limit)

	parts := make([]string, 0, 2)
	if meta.HasActiveFlag {
		parts = append(parts, b.search.Grammar.ActiveExpr())
	}
	parts = append(parts, b.search.Grammar.OrderByExpr(meta.NameField))
	return QueryStrategy{
		Description: "list active ordered by " + meta.NameField,
		Collection:  collection,
		Filter:      b.search.Grammar.And(parts...),
		Limit:       limit,
	}
}

// singleTokenLadder: exact and contains on the primary name field first,
// then wildcards across every name-ish field, each in original case and
// lower case.
func (b *Builder) singleTokenLadder(ident, collection string, meta config.CollectionMeta, limit int) []QueryStrategy {
	g := b.search.Grammar
	out := make([]QueryStrategy, 0, 8)

	for _, v := range caseVariants(ident) {
		out = append(out, QueryStrategy{
			Description: "exact " + meta.NameField,
			Collection:  collection,
			Filter:      g.ExactExpr(meta.NameField, v),
			Limit:       limit,
		})
	}
	for _, v := range caseVariants(ident) {
		out = append(out, QueryStrategy{
			Description: "contains " + meta.NameField,
			Collection:  collection,
			Filter:      g.ContainsExpr(meta.NameField, v),
			Limit:       limit,
		})
	}
	for _, field := range meta.NameFields() {
		for _, v := range caseVariants(ident) {
			out = append(out, QueryStrategy{
				Description: "wildcard " + field,
				Collection:  collection,
				Filter:      g.WildcardExpr(field, v),
				Limit:       limit,
			})
		}
	}
	return out
}

// multiTokenLadder: full-phrase exact and contains first, then a woven
// all-token wildcard, then first- and last-token wildcards to survive
// filler words in the middle of natural phrasing, then alternate fields.
func (b *Builder) multiTokenLadder(ident string, tokens []string, collection string, meta config.CollectionMeta, limit int) []QueryStrategy {
	g := b.search.Grammar
	out := make([]QueryStrategy, 0, 10)

	for _, v := range caseVariants(ident) {
		out = append(out, QueryStrategy{
			Description: "exact " + meta.NameField + " phrase",
			Collection:  collection,
			Filter:      g.ExactExpr(meta.NameField, v),
			Limit:       limit,
		})
	}
	for _, v := range caseVariants(ident) {
		out = append(out, QueryStrategy{
			Description: "contains " + meta.NameField + " phrase",
			Collection:  collection,
			Filter:      g.ContainsExpr(meta.NameField, v),
			Limit:       limit,
		})
	}

	lowered := lowerTokens(tokens)
	out = append(out, QueryStrategy{
		Description: "wildcard " + meta.NameField + " all tokens",
		Collection:  collection,
		Filter:      g.WildcardExpr(meta.NameField, lowered...),
		Limit:       limit,
	})

	first, last := lowered[0], lowered[len(lowered)-1]
	out = append(out, QueryStrategy{
		Description: "wildcard " + meta.NameField + " first token",
		Collection:  collection,
		Filter:      g.WildcardExpr(meta.NameField, first),
		Limit:       limit,
	})
	if last != first {
		out = append(out, QueryStrategy{
			Description: "wildcard " + meta.NameField + " last token",
			Collection:  collection,
			Filter:      g.WildcardExpr(meta.NameField, last),
			Limit:       limit,
		})
	}

	for _, field := range meta.AltNameFields {
		out = append(out, QueryStrategy{
			Description: "wildcard " + field + " all tokens",
			Collection:  collection,
			Filter:      g.WildcardExpr(field, lowered...),
			Limit:       limit,
		})
	}
	return out
}

// caseVariants returns the original string plus its lower-cased form when
// they differ. Remote query fields are case-sensitive.
func caseVariants(s string) []string {
	lower := strings.ToLower(s)
	if lower == s {
		return []string{s}
	}
	return []string{s, lower}
}

func lowerTokens(tokens []string) []string {
	out := make([]string, len(tokens))
	for i, t := range tokens {
		out[i] = strings.ToLower(t)
	}
	return out
}

func firstTerm(intent Intent) string {
	tokens := intent.Tokens()
	if len(tokens) == 0 {
		return ""
	}
	return strings.ToLower(tokens[0])
}
