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
	"time"

	"go.opentelemetry.io/otel/attribute"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// Embedded Default Search Configuration
// =============================================================================

//go:embed search.yaml
var defaultSearchYAML []byte

// =============================================================================
// Search Configuration Types
// =============================================================================

// SearchConfig holds the query-side tables: filter grammar templates, stop
// words, list-all phrases, the record id pattern, result limits, retry
// profiles, and the collection breadth ladder.
//
// Thread Safety: Immutable after loading; safe for concurrent use.
type SearchConfig struct {
	// Version identifies the config revision for logging.
	Version int `yaml:"version"`

	// Grammar holds the filter expression templates.
	Grammar Grammar `yaml:"grammar"`

	// StopWords are tokens removed during identifier extraction.
	StopWords []string `yaml:"stop_words"`

	// ListAllPhrases mark a query as an enumeration request.
	ListAllPhrases []string `yaml:"list_all_phrases" validate:"required,min=1,dive,required"`

	// IDPattern matches an explicit record id embedded in query text.
	IDPattern string `yaml:"id_pattern" validate:"required"`

	// MinIdentifierChars is the shortest residual identifier kept after
	// stripping; anything shorter falls back to the raw query text.
	MinIdentifierChars int `yaml:"min_identifier_chars"`

	// Epsilon is the score distance below which the top two ranked
	// candidates count as ambiguous.
	Epsilon float64 `yaml:"epsilon"`

	// Limits bound result counts per search class.
	Limits Limits `yaml:"limits"`

	// Retry holds the normal and verify retry profiles.
	Retry RetryDefaults `yaml:"retry"`

	// Breadth is the collection breadth ladder for kind "any" and the
	// executor's broadened fallback sweep.
	Breadth Breadth `yaml:"breadth"`

	idRe *regexp.Regexp
	stop map[string]struct{}
}

// Grammar holds the remote filter expression templates. Templates use
// {field} and {value} placeholders; the strategy builder never hard-codes
// platform query syntax.
type Grammar struct {
	Exact        string `yaml:"exact"`
	StartsWith   string `yaml:"starts_with"`
	Contains     string `yaml:"contains"`
	Wildcard     string `yaml:"wildcard"`
	Conjunction  string `yaml:"conjunction"`
	OrderBy      string `yaml:"order_by"`
	ActiveFilter string `yaml:"active_filter"`
	WildcardChar string `yaml:"wildcard_char"`
}

// Limits bound how many records each search class requests.
type Limits struct {
	// DefaultLimit applies to ordinary resolution searches.
	DefaultLimit int `yaml:"default_limit"`

	// ListAllLimit applies to enumeration requests.
	ListAllLimit int `yaml:"list_all_limit"`

	// FallbackLimit applies to the broadened sweep, per collection.
	FallbackLimit int `yaml:"fallback_limit"`

	// MaxLimit caps any caller-supplied limit.
	MaxLimit int `yaml:"max_limit"`
}

// RetryDefaults holds the two retry profiles: Normal for ordinary resolves
// and Verify for confirming a record the caller just created.
type RetryDefaults struct {
	Normal RetryProfile `yaml:"normal"`
	Verify RetryProfile `yaml:"verify"`
}

// RetryProfile parameterizes the executor's retry loop for one usage class.
type RetryProfile struct {
	// MaxAttempts is the number of passes over the strategy list per
	// collection before the executor gives up.
	MaxAttempts int `yaml:"max_attempts" validate:"min=1"`

	// BaseDelayMS is the linear backoff unit: attempt n sleeps n times
	// this long.
	BaseDelayMS int `yaml:"base_delay_ms" validate:"min=0"`

	// NudgeAttempt is the attempt after which the index-refresh touch
	// query fires, or 0 to disable the nudge.
	NudgeAttempt int `yaml:"nudge_attempt" validate:"min=0"`
}

// BaseDelay returns the backoff unit as a duration.
func (p RetryProfile) BaseDelay() time.Duration {
	return time.Duration(p.BaseDelayMS) * time.Millisecond
}

// Breadth is the two-tier collection ladder. Common is searched eagerly when
// no kind is known; Extended joins Common for the broadened fallback sweep.
type Breadth struct {
	Common   []string `yaml:"common" validate:"required,min=1,dive,required"`
	Extended []string `yaml:"extended" validate:"omitempty,dive,required"`
}

// =============================================================================
// Defaults
// =============================================================================

const (
	// DefaultMaxAttempts is the normal-profile attempt budget.
	DefaultMaxAttempts = 3

	// DefaultBaseDelayMS is the normal-profile backoff unit, sized to
	// observed remote index propagation of a few seconds.
	DefaultBaseDelayMS = 2000

	// DefaultVerifyMaxAttempts is the verify-profile attempt budget.
	DefaultVerifyMaxAttempts = 5

	// DefaultVerifyBaseDelayMS is the verify-profile backoff unit.
	DefaultVerifyBaseDelayMS = 3000

	// DefaultNudgeAttempt fires the index-refresh touch after the second
	// empty attempt.
	DefaultNudgeAttempt = 2

	// DefaultEpsilon treats effectively equal scores as ambiguous.
	DefaultEpsilon = 1e-9

	// DefaultMinIdentifierChars is the shortest residual identifier kept.
	DefaultMinIdentifierChars = 2

	// DefaultLimit / DefaultListAllLimit / DefaultFallbackLimit /
	// DefaultMaxLimit bound result counts when the YAML omits limits.
	DefaultLimit         = 20
	DefaultListAllLimit  = 20
	DefaultFallbackLimit = 10
	DefaultMaxLimit      = 100

	// DefaultIDPattern matches 32-character lowercase hex record ids.
	DefaultIDPattern = `\b[0-9a-f]{32}\b`

	// DefaultWildcardChar is the remote query language's wildcard.
	DefaultWildcardChar = "*"
)

// Default grammar templates for the remote table query language.
const (
	DefaultExactTemplate      = "{field}={value}"
	DefaultStartsWithTemplate = "{field}STARTSWITH{value}"
	DefaultContainsTemplate   = "{field}LIKE{value}"
	DefaultWildcardTemplate   = "{field}LIKE{value}"
	DefaultConjunction        = "^"
	DefaultOrderByTemplate    = "ORDERBY{field}"
	DefaultActiveFilter       = "active=true"
)

// =============================================================================
// Grammar Rendering
// =============================================================================

func renderTemplate(tmpl, field, value string) string {
	out := strings.ReplaceAll(tmpl, "{field}", field)
	return strings.ReplaceAll(out, "{value}", value)
}

// ExactExpr renders an exact-equality filter.
func (g Grammar) ExactExpr(field, value string) string {
	return renderTemplate(g.Exact, field, value)
}

// StartsWithExpr renders a prefix filter.
func (g Grammar) StartsWithExpr(field, value string) string {
	return renderTemplate(g.StartsWith, field, value)
}

// ContainsExpr renders a substring filter.
func (g Grammar) ContainsExpr(field, value string) string {
	return renderTemplate(g.Contains, field, value)
}

// WildcardExpr renders a wildcard filter with the terms woven between
// wildcard characters: WildcardExpr("name", "incident", "dashboard")
// produces nameLIKE*incident*dashboard* under the default grammar.
func (g Grammar) WildcardExpr(field string, terms ...string) string {
	value := g.WildcardChar + strings.Join(terms, g.WildcardChar) + g.WildcardChar
	return renderTemplate(g.Wildcard, field, value)
}

// And joins non-empty filter parts with the conjunction operator.
func (g Grammar) And(parts ...string) string {
	kept := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, g.Conjunction)
}

// OrderByExpr renders an ascending order clause.
func (g Grammar) OrderByExpr(field string) string {
	return strings.ReplaceAll(g.OrderBy, "{field}", field)
}

// ActiveExpr returns the active-records filter.
func (g Grammar) ActiveExpr() string {
	return g.ActiveFilter
}

// =============================================================================
// Search Config Lookups
// =============================================================================

// IDRegexp returns the compiled record id matcher.
func (s *SearchConfig) IDRegexp() *regexp.Regexp {
	return s.idRe
}

// IsStopWord reports whether a lowered token is a stop word.
func (s *SearchConfig) IsStopWord(tok string) bool {
	_, ok := s.stop[tok]
	return ok
}

// IsListAllPhrase reports whether the lowered query text contains an
// enumeration phrase.
func (s *SearchConfig) IsListAllPhrase(lowered string) bool {
	for _, p := range s.ListAllPhrases {
		if strings.Contains(lowered, p) {
			return true
		}
	}
	return false
}

// ClampLimit bounds a caller-supplied limit to [1, MaxLimit], substituting
// DefaultLimit for zero or negative values.
func (s *SearchConfig) ClampLimit(n int) int {
	if n <= 0 {
		return s.Limits.DefaultLimit
	}
	if n > s.Limits.MaxLimit {
		return s.Limits.MaxLimit
	}
	return n
}

// =============================================================================
// Singleton Search Config
// =============================================================================

var (
	searchMu      sync.RWMutex
	searchOnce    sync.Once
	cachedSearch  *SearchConfig
	searchLoadErr error
)

// GetSearchConfig returns the cached search configuration.
//
// Description:
//
//	Loads the embedded search config on first call and caches for
//	subsequent calls. Deployment overrides installed by ApplyOverrides or
//	the fsnotify watcher replace the cached value atomically.
//
// Inputs:
//
//	ctx - Context for tracing. Must not be nil.
//
// Outputs:
//
//	*SearchConfig - The loaded configuration. Never nil on success.
//	error - Non-nil if loading or validation failed.
//
// Thread Safety: Safe for concurrent use.
func GetSearchConfig(ctx context.Context) (*SearchConfig, error) {
	if ctx == nil {
		return nil, fmt.Errorf("GetSearchConfig: ctx must not be nil")
	}

	searchMu.RLock()
	if cachedSearch != nil || searchLoadErr != nil {
		s, err := cachedSearch, searchLoadErr
		searchMu.RUnlock()
		return s, err
	}
	searchMu.RUnlock()

	searchMu.Lock()
	defer searchMu.Unlock()

	if cachedSearch != nil || searchLoadErr != nil {
		return cachedSearch, searchLoadErr
	}

	searchOnce.Do(func() {
		cachedSearch, searchLoadErr = LoadSearchConfig(ctx, defaultSearchYAML)
	})

	return cachedSearch, searchLoadErr
}

// ResetSearchConfig resets the cached config for testing.
//
// Thread Safety: Safe for concurrent use.
func ResetSearchConfig() {
	searchMu.Lock()
	defer searchMu.Unlock()
	cachedSearch = nil
	searchLoadErr = nil
	searchOnce = sync.Once{}
}

// swapSearchConfig atomically replaces the cached config (override installs).
func swapSearchConfig(s *SearchConfig) {
	searchMu.Lock()
	defer searchMu.Unlock()
	cachedSearch = s
	searchLoadErr = nil
}

// =============================================================================
// Loading and Validation
// =============================================================================

// LoadSearchConfig parses, validates, and compiles a SearchConfig from YAML
// bytes.
//
// Description:
//
//	Decodes strictly (unknown fields are an error), applies defaults for
//	omitted fields, validates templates and profiles, and compiles the id
//	pattern and stop-word set.
//
// Inputs:
//
//	ctx - Context for tracing.
//	data - Raw YAML bytes to parse.
//
// Outputs:
//
//	*SearchConfig - The validated configuration.
//	error - Non-nil if parsing or validation fails.
func LoadSearchConfig(ctx context.Context, data []byte) (*SearchConfig, error) {
	_, span := configTracer.Start(ctx, "config.LoadSearchConfig")
	defer span.End()

	if len(data) == 0 {
		return nil, fmt.Errorf("LoadSearchConfig: empty YAML data")
	}
	if len(data) > MaxYAMLFileSize {
		return nil, fmt.Errorf("LoadSearchConfig: YAML data exceeds maximum size (%d > %d)", len(data), MaxYAMLFileSize)
	}

	var s SearchConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("LoadSearchConfig: parsing YAML: %w", err)
	}

	applySearchDefaults(&s)

	if err := validate.Struct(&s); err != nil {
		return nil, fmt.Errorf("LoadSearchConfig: validation: %w", err)
	}
	if err := validateSearchConfig(&s); err != nil {
		return nil, fmt.Errorf("LoadSearchConfig: validation: %w", err)
	}

	idRe, err := regexp.Compile(s.IDPattern)
	if err != nil {
		return nil, fmt.Errorf("LoadSearchConfig: compiling id_pattern: %w", err)
	}
	s.idRe = idRe

	s.stop = make(map[string]struct{}, len(s.StopWords))
	for _, w := range s.StopWords {
		s.stop[strings.ToLower(w)] = struct{}{}
	}
	for i, p := range s.ListAllPhrases {
		s.ListAllPhrases[i] = strings.ToLower(p)
	}

	span.SetAttributes(
		attribute.Int("version", s.Version),
		attribute.Int("stop_words", len(s.StopWords)),
		attribute.Int("breadth.common", len(s.Breadth.Common)),
		attribute.Int("breadth.extended", len(s.Breadth.Extended)),
	)

	slog.Info("search config loaded",
		slog.Int("version", s.Version),
		slog.Int("stop_words", len(s.StopWords)),
		slog.Int("normal_attempts", s.Retry.Normal.MaxAttempts),
		slog.Int("verify_attempts", s.Retry.Verify.MaxAttempts),
	)

	return &s, nil
}

// applySearchDefaults fills omitted fields with the package defaults.
func applySearchDefaults(s *SearchConfig) {
	if s.Grammar.Exact == "" {
		s.Grammar.Exact = DefaultExactTemplate
	}
	if s.Grammar.StartsWith == "" {
		s.Grammar.StartsWith = DefaultStartsWithTemplate
	}
	if s.Grammar.Contains == "" {
		s.Grammar.Contains = DefaultContainsTemplate
	}
	if s.Grammar.Wildcard == "" {
		s.Grammar.Wildcard = DefaultWildcardTemplate
	}
	if s.Grammar.Conjunction == "" {
		s.Grammar.Conjunction = DefaultConjunction
	}
	if s.Grammar.OrderBy == "" {
		s.Grammar.OrderBy = DefaultOrderByTemplate
	}
	if s.Grammar.ActiveFilter == "" {
		s.Grammar.ActiveFilter = DefaultActiveFilter
	}
	if s.Grammar.WildcardChar == "" {
		s.Grammar.WildcardChar = DefaultWildcardChar
	}
	if s.IDPattern == "" {
		s.IDPattern = DefaultIDPattern
	}
	if s.MinIdentifierChars <= 0 {
		s.MinIdentifierChars = DefaultMinIdentifierChars
	}
	if s.Epsilon <= 0 {
		s.Epsilon = DefaultEpsilon
	}
	if s.Limits.DefaultLimit <= 0 {
		s.Limits.DefaultLimit = DefaultLimit
	}
	if s.Limits.ListAllLimit <= 0 {
		s.Limits.ListAllLimit = DefaultListAllLimit
	}
	if s.Limits.FallbackLimit <= 0 {
		s.Limits.FallbackLimit = DefaultFallbackLimit
	}
	if s.Limits.MaxLimit <= 0 {
		s.Limits.MaxLimit = DefaultMaxLimit
	}
	if s.Retry.Normal.MaxAttempts <= 0 {
		s.Retry.Normal.MaxAttempts = DefaultMaxAttempts
	}
	if s.Retry.Normal.BaseDelayMS <= 0 {
		s.Retry.Normal.BaseDelayMS = DefaultBaseDelayMS
	}
	if s.Retry.Normal.NudgeAttempt < 0 {
		s.Retry.Normal.NudgeAttempt = DefaultNudgeAttempt
	}
	if s.Retry.Verify.MaxAttempts <= 0 {
		s.Retry.Verify.MaxAttempts = DefaultVerifyMaxAttempts
	}
	if s.Retry.Verify.BaseDelayMS <= 0 {
		s.Retry.Verify.BaseDelayMS = DefaultVerifyBaseDelayMS
	}
	if s.Retry.Verify.NudgeAttempt < 0 {
		s.Retry.Verify.NudgeAttempt = DefaultNudgeAttempt
	}
}

// validateSearchConfig checks template and profile consistency beyond
// struct tags.
func validateSearchConfig(s *SearchConfig) error {
	for name, tmpl := range map[string]string{
		"exact":       s.Grammar.Exact,
		"starts_with": s.Grammar.StartsWith,
		"contains":    s.Grammar.Contains,
		"wildcard":    s.Grammar.Wildcard,
	} {
		if !strings.Contains(tmpl, "{field}") || !strings.Contains(tmpl, "{value}") {
			return fmt.Errorf("grammar.%s: template must contain {field} and {value}", name)
		}
	}
	if !strings.Contains(s.Grammar.OrderBy, "{field}") {
		return fmt.Errorf("grammar.order_by: template must contain {field}")
	}
	if len([]rune(s.Grammar.WildcardChar)) != 1 {
		return fmt.Errorf("grammar.wildcard_char: must be a single character, got %q", s.Grammar.WildcardChar)
	}
	if s.Limits.DefaultLimit > s.Limits.MaxLimit {
		return fmt.Errorf("limits: default_limit (%d) exceeds max_limit (%d)", s.Limits.DefaultLimit, s.Limits.MaxLimit)
	}
	for name, p := range map[string]RetryProfile{
		"normal": s.Retry.Normal,
		"verify": s.Retry.Verify,
	} {
		if p.NudgeAttempt > p.MaxAttempts {
			return fmt.Errorf("retry.%s: nudge_attempt (%d) exceeds max_attempts (%d)", name, p.NudgeAttempt, p.MaxAttempts)
		}
	}
	return nil
}

// ValidateBreadth checks that every breadth-ladder entry names a collection
// declared in the catalog and that no collection appears twice across tiers.
// Called at service start, after both configs load.
func ValidateBreadth(s *SearchConfig, c *Catalog) error {
	seen := make(map[string]string, len(s.Breadth.Common)+len(s.Breadth.Extended))
	for tier, entries := range map[string][]string{
		"common":   s.Breadth.Common,
		"extended": s.Breadth.Extended,
	} {
		for _, coll := range entries {
			if _, ok := c.Collections[coll]; !ok {
				return fmt.Errorf("breadth.%s: collection %q not declared in catalog", tier, coll)
			}
			if prev, dup := seen[coll]; dup {
				return fmt.Errorf("breadth.%s: collection %q already listed in tier %s", tier, coll, prev)
			}
			seen[coll] = tier
		}
	}
	return nil
}
