// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// Embedded Default Artifact Catalog
// =============================================================================

//go:embed catalog.yaml
var defaultCatalogYAML []byte

// =============================================================================
// Catalog Types
// =============================================================================

// Catalog maps colloquial artifact kinds to platform collections.
//
// Description:
//
//	Kinds is an ordered rule table: classification walks it top to bottom
//	and the first rule whose keywords match wins, so more specific keyword
//	phrases must be declared before the generic phrases they contain
//	("ui policy action" before "ui policy"). Collections carries the
//	per-collection field metadata the strategy builder and ranker need.
//
// Thread Safety: Immutable after loading; safe for concurrent use.
type Catalog struct {
	// Version identifies the catalog revision for logging.
	Version int `yaml:"version"`

	// Kinds is the ordered classification rule table.
	Kinds []KindRule `yaml:"kinds" validate:"required,min=1,dive"`

	// Collections holds metadata for every collection referenced by Kinds.
	Collections map[string]CollectionMeta `yaml:"collections" validate:"required,min=1,dive"`

	byKind map[string]*KindRule
}

// KindRule binds one artifact kind to its collections and trigger keywords.
type KindRule struct {
	// Kind is the canonical artifact kind name (snake_case).
	Kind string `yaml:"kind" validate:"required"`

	// Collections are the platform collections searched for this kind,
	// in priority order.
	Collections []string `yaml:"collections" validate:"required,min=1,dive,required"`

	// Keywords trigger this kind when they appear in a query, most
	// specific phrase first.
	Keywords []string `yaml:"keywords" validate:"required,min=1,dive,required"`

	// Aliases are additional trigger phrases (colloquial or legacy names).
	Aliases []string `yaml:"aliases" validate:"omitempty,dive,required"`

	// patterns are the compiled word-boundary matchers for Keywords then
	// Aliases, in declaration order.
	patterns []*regexp.Regexp

	// strip holds every lowered keyword/alias token for identifier
	// extraction.
	strip map[string]struct{}
}

// CollectionMeta describes how a collection names and flags its records.
type CollectionMeta struct {
	// NameField is the primary name column for exact and wildcard filters.
	NameField string `yaml:"name_field" validate:"required"`

	// AltNameFields are secondary name-like columns (title, label,
	// short_description) searched after NameField.
	AltNameFields []string `yaml:"alt_name_fields"`

	// HasActiveFlag reports whether the collection carries an active column
	// usable in list-all filters.
	HasActiveFlag bool `yaml:"has_active_flag"`

	// Label is the human-readable collection name for logs and CLI output.
	Label string `yaml:"label"`
}

// NameFields returns NameField followed by AltNameFields.
func (m CollectionMeta) NameFields() []string {
	fields := make([]string, 0, 1+len(m.AltNameFields))
	fields = append(fields, m.NameField)
	fields = append(fields, m.AltNameFields...)
	return fields
}

// =============================================================================
// Kind Rule Matching
// =============================================================================

// Matches reports whether any keyword or alias of this rule appears in the
// lowered query text as a whole-word phrase. Plural forms with a trailing
// "s"/"es" on the final word also match.
func (r *KindRule) Matches(lowered string) bool {
	for _, p := range r.patterns {
		if p.MatchString(lowered) {
			return true
		}
	}
	return false
}

// StripToken reports whether a lowered query token belongs to this rule's
// keyword/alias vocabulary and should be removed during identifier
// extraction.
func (r *KindRule) StripToken(tok string) bool {
	if _, ok := r.strip[tok]; ok {
		return true
	}
	// Plural token against a singular vocabulary entry.
	if trimmed := strings.TrimSuffix(tok, "s"); trimmed != tok {
		if _, ok := r.strip[trimmed]; ok {
			return true
		}
	}
	return false
}

// keywordPattern compiles one keyword phrase into a word-boundary matcher.
// Tokens are matched in sequence across whitespace; the final token accepts
// a plural suffix.
func keywordPattern(phrase string) (*regexp.Regexp, error) {
	tokens := strings.Fields(strings.ToLower(phrase))
	if len(tokens) == 0 {
		return nil, fmt.Errorf("empty keyword phrase")
	}
	parts := make([]string, len(tokens))
	for i, tok := range tokens {
		parts[i] = regexp.QuoteMeta(tok)
	}
	parts[len(parts)-1] += `(?:e?s)?`
	return regexp.Compile(`\b` + strings.Join(parts, `\s+`) + `\b`)
}

// =============================================================================
// Catalog Lookups
// =============================================================================

// MatchKind walks the ordered rule table and returns the first rule whose
// keywords match the lowered text. Returns false when no rule matches.
func (c *Catalog) MatchKind(lowered string) (*KindRule, bool) {
	for i := range c.Kinds {
		if c.Kinds[i].Matches(lowered) {
			return &c.Kinds[i], true
		}
	}
	return nil, false
}

// Rule returns the rule for a canonical kind name.
func (c *Catalog) Rule(kind string) (*KindRule, bool) {
	r, ok := c.byKind[kind]
	return r, ok
}

// HasKind reports whether kind is declared in the catalog.
func (c *Catalog) HasKind(kind string) bool {
	_, ok := c.byKind[kind]
	return ok
}

// CollectionsForKind returns a copy of the collection list for kind, or nil
// for unknown kinds.
func (c *Catalog) CollectionsForKind(kind string) []string {
	r, ok := c.byKind[kind]
	if !ok {
		return nil
	}
	out := make([]string, len(r.Collections))
	copy(out, r.Collections)
	return out
}

// KindHasCollection reports whether the kind's collection list includes the
// given collection. False for unknown kinds.
func (c *Catalog) KindHasCollection(kind, collection string) bool {
	r, ok := c.byKind[kind]
	if !ok {
		return false
	}
	for _, coll := range r.Collections {
		if coll == collection {
			return true
		}
	}
	return false
}

// KindForCollection returns the first declared kind whose collection list
// includes the given collection. Declaration order makes the most specific
// owner win for collections shared across kinds.
func (c *Catalog) KindForCollection(collection string) (string, bool) {
	for i := range c.Kinds {
		for _, coll := range c.Kinds[i].Collections {
			if coll == collection {
				return c.Kinds[i].Kind, true
			}
		}
	}
	return "", false
}

// Meta returns the collection metadata for a collection name.
func (c *Catalog) Meta(collection string) (CollectionMeta, bool) {
	m, ok := c.Collections[collection]
	return m, ok
}

// KnownKinds returns every kind name in declaration order.
func (c *Catalog) KnownKinds() []string {
	kinds := make([]string, len(c.Kinds))
	for i := range c.Kinds {
		kinds[i] = c.Kinds[i].Kind
	}
	return kinds
}

// =============================================================================
// Singleton Catalog
// =============================================================================

var (
	catalogMu      sync.RWMutex
	catalogOnce    sync.Once
	cachedCatalog  *Catalog
	catalogLoadErr error
)

// GetCatalog returns the cached artifact catalog.
//
// Description:
//
//	Loads the embedded catalog on first call and caches for subsequent
//	calls. Deployment overrides installed by ApplyOverrides or the
//	fsnotify watcher replace the cached value atomically.
//
// Inputs:
//
//	ctx - Context for tracing. Must not be nil.
//
// Outputs:
//
//	*Catalog - The loaded catalog. Never nil on success.
//	error - Non-nil if loading or validation failed.
//
// Thread Safety: Safe for concurrent use.
func GetCatalog(ctx context.Context) (*Catalog, error) {
	if ctx == nil {
		return nil, fmt.Errorf("GetCatalog: ctx must not be nil")
	}

	catalogMu.RLock()
	if cachedCatalog != nil || catalogLoadErr != nil {
		c, err := cachedCatalog, catalogLoadErr
		catalogMu.RUnlock()
		return c, err
	}
	catalogMu.RUnlock()

	catalogMu.Lock()
	defer catalogMu.Unlock()

	if cachedCatalog != nil || catalogLoadErr != nil {
		return cachedCatalog, catalogLoadErr
	}

	catalogOnce.Do(func() {
		cachedCatalog, catalogLoadErr = LoadCatalog(ctx, defaultCatalogYAML)
	})

	return cachedCatalog, catalogLoadErr
}

// ResetCatalog resets the cached catalog for testing.
//
// Thread Safety: Safe for concurrent use.
func ResetCatalog() {
	catalogMu.Lock()
	defer catalogMu.Unlock()
	cachedCatalog = nil
	catalogLoadErr = nil
	catalogOnce = sync.Once{}
}

// swapCatalog atomically replaces the cached catalog (override installs).
func swapCatalog(c *Catalog) {
	catalogMu.Lock()
	defer catalogMu.Unlock()
	cachedCatalog = c
	catalogLoadErr = nil
}

// =============================================================================
// Loading and Validation
// =============================================================================

// LoadCatalog parses, validates, and compiles a Catalog from YAML bytes.
//
// Description:
//
//	Decodes strictly (unknown fields are an error), validates the rule
//	table for consistency, and compiles keyword matchers. Validation
//	rejects duplicate kinds, references to undeclared collections, and
//	unreachable keywords: a keyword that contains an earlier rule's
//	keyword as a substring can never win first-match classification.
//
// Inputs:
//
//	ctx - Context for tracing.
//	data - Raw YAML bytes to parse.
//
// Outputs:
//
//	*Catalog - The validated catalog.
//	error - Non-nil if parsing, validation, or compilation fails.
func LoadCatalog(ctx context.Context, data []byte) (*Catalog, error) {
	_, span := configTracer.Start(ctx, "config.LoadCatalog")
	defer span.End()

	if len(data) == 0 {
		return nil, fmt.Errorf("LoadCatalog: empty YAML data")
	}
	if len(data) > MaxYAMLFileSize {
		return nil, fmt.Errorf("LoadCatalog: YAML data exceeds maximum size (%d > %d)", len(data), MaxYAMLFileSize)
	}

	var c Catalog
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil {
		return nil, fmt.Errorf("LoadCatalog: parsing YAML: %w", err)
	}

	if err := validate.Struct(&c); err != nil {
		return nil, fmt.Errorf("LoadCatalog: validation: %w", err)
	}
	if err := validateCatalog(&c); err != nil {
		return nil, fmt.Errorf("LoadCatalog: validation: %w", err)
	}
	if err := compileCatalog(&c); err != nil {
		return nil, fmt.Errorf("LoadCatalog: compiling keywords: %w", err)
	}
	if err := validateReachability(&c); err != nil {
		return nil, fmt.Errorf("LoadCatalog: validation: %w", err)
	}

	span.SetAttributes(
		attribute.Int("version", c.Version),
		attribute.Int("kinds", len(c.Kinds)),
		attribute.Int("collections", len(c.Collections)),
	)

	slog.Info("artifact catalog loaded",
		slog.Int("version", c.Version),
		slog.Int("kinds", len(c.Kinds)),
		slog.Int("collections", len(c.Collections)),
	)

	return &c, nil
}

// validateCatalog checks rule-table consistency beyond struct tags.
func validateCatalog(c *Catalog) error {
	seenKinds := make(map[string]struct{}, len(c.Kinds))
	for i, r := range c.Kinds {
		if _, dup := seenKinds[r.Kind]; dup {
			return fmt.Errorf("kinds[%d]: duplicate kind %q", i, r.Kind)
		}
		seenKinds[r.Kind] = struct{}{}

		for _, coll := range r.Collections {
			if _, ok := c.Collections[coll]; !ok {
				return fmt.Errorf("kinds[%d] (%s): collection %q not declared in collections", i, r.Kind, coll)
			}
		}
	}

	return nil
}

// validateReachability rejects keywords that can never win first-match
// classification: if a query consisting of a later rule's keyword already
// matches an earlier rule, the later keyword is dead config. Runs after
// compilation because it needs the word-boundary matchers (plain substring
// containment would falsely flag "transform map" against "form").
func validateReachability(c *Catalog) error {
	for i := range c.Kinds {
		r := &c.Kinds[i]
		phrases := append(append([]string{}, r.Keywords...), r.Aliases...)
		for _, kw := range phrases {
			lowered := strings.ToLower(kw)
			for j := 0; j < i; j++ {
				if c.Kinds[j].Matches(lowered) {
					return fmt.Errorf("kind %q: keyword %q is unreachable, shadowed by earlier kind %q",
						r.Kind, kw, c.Kinds[j].Kind)
				}
			}
		}
	}
	return nil
}

// compileCatalog builds keyword matchers, strip vocabularies, and the
// kind index.
func compileCatalog(c *Catalog) error {
	c.byKind = make(map[string]*KindRule, len(c.Kinds))
	for i := range c.Kinds {
		r := &c.Kinds[i]
		phrases := append(append([]string{}, r.Keywords...), r.Aliases...)
		r.patterns = make([]*regexp.Regexp, 0, len(phrases))
		r.strip = make(map[string]struct{})
		for _, kw := range phrases {
			p, err := keywordPattern(kw)
			if err != nil {
				return fmt.Errorf("kind %q keyword %q: %w", r.Kind, kw, err)
			}
			r.patterns = append(r.patterns, p)
			for _, tok := range strings.Fields(strings.ToLower(kw)) {
				r.strip[tok] = struct{}{}
			}
		}
		c.byKind[r.Kind] = r
	}
	return nil
}
