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
	"sort"
	"strings"
	"time"

	"github.com/AleutianAI/bering/services/bridge/config"
)

// =============================================================================
// Scoring Weights
// =============================================================================

const (
	scoreExactName  = 100.0
	scoreSubstring  = 50.0
	scoreKindMatch  = 30.0
	scoreRecencyCap = 10.0
	scoreProduction = 10.0
)

// Ranking is the ranker's output: the full scored ordering plus the selected
// best match. Ambiguous means the top two candidates scored within epsilon
// of each other; strict callers surface the list instead of the pick.
type Ranking struct {
	Best       *Candidate
	Candidates []Candidate
	Ambiguous  bool
}

// =============================================================================
// Ranker
// =============================================================================

// Ranker scores and orders candidate records against an intent.
//
// # Description
//
// Scoring is additive: exact name/title equality +100, substring containment
// in either direction +50, kind agreement +30, a recency bonus decaying from
// +10 to 0 over ten days, and +10 for production-looking records (active,
// name free of "test"/"mock"). Sorting is stable, so ties keep the
// executor's order: collection-mapping priority first, then strategy
// specificity. Deterministic for a fixed candidate set and intent.
type Ranker struct {
	catalog *config.Catalog
	epsilon float64
}

// NewRanker builds a Ranker over the loaded catalog. epsilon <= 0 falls back
// to the configured default.
func NewRanker(catalog *config.Catalog, epsilon float64) *Ranker {
	if epsilon <= 0 {
		epsilon = config.DefaultEpsilon
	}
	return &Ranker{catalog: catalog, epsilon: epsilon}
}

// Rank scores the candidates and selects the best match.
//
// A single candidate skips ranking entirely and is returned directly,
// scored only for display.
func (r *Ranker) Rank(candidates []Candidate, intent Intent) Ranking {
	if len(candidates) == 0 {
		return Ranking{}
	}

	scored := make([]Candidate, len(candidates))
	copy(scored, candidates)
	for i := range scored {
		scored[i].Score = r.score(scored[i], intent)
	}

	if len(scored) == 1 {
		return Ranking{Best: &scored[0], Candidates: scored}
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})

	return Ranking{
		Best:       &scored[0],
		Candidates: scored,
		Ambiguous:  scored[0].Score-scored[1].Score <= r.epsilon,
	}
}

func (r *Ranker) score(c Candidate, intent Intent) float64 {
	var score float64

	ident := strings.ToLower(strings.TrimSpace(intent.Identifier))
	if ident != "" {
		exact, substr := false, false
		for _, n := range r.candidateNames(c) {
			name := strings.ToLower(strings.TrimSpace(n))
			if name == "" {
				continue
			}
			if name == ident {
				exact = true
			}
			if strings.Contains(name, ident) || strings.Contains(ident, name) {
				substr = true
			}
		}
		if exact {
			score += scoreExactName
		}
		if substr {
			score += scoreSubstring
		}
	}

	if intent.Kind != KindAny && r.catalog.KindHasCollection(intent.Kind, c.Collection) {
		score += scoreKindMatch
	}

	env := c.Record.Envelope()
	if !env.UpdatedAt.IsZero() {
		days := time.Since(env.UpdatedAt).Hours() / 24
		if days < 0 {
			days = 0
		}
		if bonus := scoreRecencyCap - days; bonus > 0 {
			score += bonus
		}
	}

	name := strings.ToLower(env.Name)
	if env.Active && !strings.Contains(name, "test") && !strings.Contains(name, "mock") {
		score += scoreProduction
	}

	return score
}

// candidateNames gathers the record's primary name plus any alternate
// name/title fields the catalog declares for its collection.
func (r *Ranker) candidateNames(c Candidate) []string {
	env := c.Record.Envelope()
	names := []string{env.Name}
	meta, ok := r.catalog.Meta(c.Collection)
	if !ok {
		return names
	}
	fields := c.Record.FieldMap()
	for _, f := range meta.AltNameFields {
		if v := fields[f]; v != "" {
			names = append(names, v)
		}
	}
	return names
}
