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
	"context"
	"strings"
	"testing"
	"time"
)

func TestLoadSearchConfig_Embedded(t *testing.T) {
	ctx := context.Background()
	s, err := LoadSearchConfig(ctx, defaultSearchYAML)
	if err != nil {
		t.Fatalf("LoadSearchConfig failed on embedded YAML: %v", err)
	}

	if s.Retry.Normal.MaxAttempts != 3 {
		t.Errorf("expected normal max_attempts = 3, got %d", s.Retry.Normal.MaxAttempts)
	}
	if s.Retry.Verify.MaxAttempts != 5 {
		t.Errorf("expected verify max_attempts = 5, got %d", s.Retry.Verify.MaxAttempts)
	}
	if s.Retry.Normal.NudgeAttempt != 2 {
		t.Errorf("expected nudge_attempt = 2, got %d", s.Retry.Normal.NudgeAttempt)
	}
	if !s.IsStopWord("the") {
		t.Error("expected 'the' to be a stop word")
	}
	if s.IsStopWord("incident") {
		t.Error("did not expect 'incident' to be a stop word")
	}
	if !s.IsListAllPhrase("list all widgets please") {
		t.Error("expected 'list all' phrase detection")
	}
	if s.IsListAllPhrase("the incident dashboard widget") {
		t.Error("did not expect list-all phrase in ordinary query")
	}
	if len(s.Breadth.Common) == 0 || len(s.Breadth.Extended) == 0 {
		t.Error("expected both breadth tiers populated")
	}
	if s.Epsilon <= 0 {
		t.Errorf("expected positive epsilon, got %g", s.Epsilon)
	}
}

func TestLoadSearchConfig_IDPattern(t *testing.T) {
	ctx := context.Background()
	s, err := LoadSearchConfig(ctx, defaultSearchYAML)
	if err != nil {
		t.Fatalf("LoadSearchConfig failed: %v", err)
	}

	re := s.IDRegexp()
	if got := re.FindString("look up 46d44a5dc0a8010e0120cdf67c14ec2b please"); got != "46d44a5dc0a8010e0120cdf67c14ec2b" {
		t.Errorf("expected id extraction, got %q", got)
	}
	if re.MatchString("46d44a5dc0a8010e0120cdf67c14ec2") {
		t.Error("31 hex chars must not match")
	}
	if re.MatchString("46D44A5DC0A8010E0120CDF67C14EC2B") {
		t.Error("uppercase hex must not match the lowercase id pattern")
	}
}

func TestLoadSearchConfig_Defaults(t *testing.T) {
	yaml := []byte(`
list_all_phrases: ["list all"]
breadth:
  common: [sp_widget]
`)
	ctx := context.Background()
	s, err := LoadSearchConfig(ctx, yaml)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if s.Grammar.Exact != DefaultExactTemplate {
		t.Errorf("expected default exact template, got %q", s.Grammar.Exact)
	}
	if s.Grammar.WildcardChar != DefaultWildcardChar {
		t.Errorf("expected default wildcard char, got %q", s.Grammar.WildcardChar)
	}
	if s.IDPattern != DefaultIDPattern {
		t.Errorf("expected default id pattern, got %q", s.IDPattern)
	}
	if s.MinIdentifierChars != DefaultMinIdentifierChars {
		t.Errorf("expected default min_identifier_chars, got %d", s.MinIdentifierChars)
	}
	if s.Epsilon != DefaultEpsilon {
		t.Errorf("expected default epsilon, got %g", s.Epsilon)
	}
	if s.Limits.DefaultLimit != DefaultLimit || s.Limits.MaxLimit != DefaultMaxLimit {
		t.Errorf("expected default limits, got %+v", s.Limits)
	}
	if s.Retry.Normal.MaxAttempts != DefaultMaxAttempts {
		t.Errorf("expected default normal attempts, got %d", s.Retry.Normal.MaxAttempts)
	}
	if s.Retry.Verify.MaxAttempts != DefaultVerifyMaxAttempts {
		t.Errorf("expected default verify attempts, got %d", s.Retry.Verify.MaxAttempts)
	}
	if s.Retry.Verify.BaseDelay() != time.Duration(DefaultVerifyBaseDelayMS)*time.Millisecond {
		t.Errorf("expected default verify delay, got %v", s.Retry.Verify.BaseDelay())
	}
}

func TestGrammar_Rendering(t *testing.T) {
	ctx := context.Background()
	s, err := LoadSearchConfig(ctx, defaultSearchYAML)
	if err != nil {
		t.Fatalf("LoadSearchConfig failed: %v", err)
	}
	g := s.Grammar

	if got := g.ExactExpr("name", "Incident Dashboard"); got != "name=Incident Dashboard" {
		t.Errorf("ExactExpr = %q", got)
	}
	if got := g.StartsWithExpr("name", "Incident"); got != "nameSTARTSWITHIncident" {
		t.Errorf("StartsWithExpr = %q", got)
	}
	if got := g.ContainsExpr("title", "dashboard"); got != "titleLIKEdashboard" {
		t.Errorf("ContainsExpr = %q", got)
	}
	if got := g.WildcardExpr("name", "incident", "dashboard"); got != "nameLIKE*incident*dashboard*" {
		t.Errorf("WildcardExpr = %q", got)
	}
	if got := g.And("active=true", "", "ORDERBYname"); got != "active=true^ORDERBYname" {
		t.Errorf("And = %q", got)
	}
	if got := g.OrderByExpr("name"); got != "ORDERBYname" {
		t.Errorf("OrderByExpr = %q", got)
	}
	if got := g.ActiveExpr(); got != "active=true" {
		t.Errorf("ActiveExpr = %q", got)
	}
}

func TestLoadSearchConfig_TemplateValidation(t *testing.T) {
	yaml := []byte(`
grammar:
  exact: "{field}=broken"
list_all_phrases: ["list all"]
breadth:
  common: [sp_widget]
`)
	_, err := LoadSearchConfig(context.Background(), yaml)
	if err == nil {
		t.Fatal("expected error for template missing {value}")
	}
	if !strings.Contains(err.Error(), "{value}") {
		t.Errorf("expected placeholder error, got: %v", err)
	}
}

func TestLoadSearchConfig_WildcardCharValidation(t *testing.T) {
	yaml := []byte(`
grammar:
  wildcard_char: "**"
list_all_phrases: ["list all"]
breadth:
  common: [sp_widget]
`)
	if _, err := LoadSearchConfig(context.Background(), yaml); err == nil {
		t.Fatal("expected error for multi-character wildcard char")
	}
}

func TestLoadSearchConfig_NudgeBeyondAttempts(t *testing.T) {
	yaml := []byte(`
retry:
  normal:
    max_attempts: 3
    nudge_attempt: 9
list_all_phrases: ["list all"]
breadth:
  common: [sp_widget]
`)
	if _, err := LoadSearchConfig(context.Background(), yaml); err == nil {
		t.Fatal("expected error for nudge_attempt beyond max_attempts")
	}
}

func TestLoadSearchConfig_BadIDPattern(t *testing.T) {
	yaml := []byte(`
id_pattern: "(["
list_all_phrases: ["list all"]
breadth:
  common: [sp_widget]
`)
	if _, err := LoadSearchConfig(context.Background(), yaml); err == nil {
		t.Fatal("expected error for invalid id pattern")
	}
}

func TestSearchConfig_ClampLimit(t *testing.T) {
	ctx := context.Background()
	s, err := LoadSearchConfig(ctx, defaultSearchYAML)
	if err != nil {
		t.Fatalf("LoadSearchConfig failed: %v", err)
	}

	if got := s.ClampLimit(0); got != s.Limits.DefaultLimit {
		t.Errorf("ClampLimit(0) = %d, want default %d", got, s.Limits.DefaultLimit)
	}
	if got := s.ClampLimit(-5); got != s.Limits.DefaultLimit {
		t.Errorf("ClampLimit(-5) = %d, want default %d", got, s.Limits.DefaultLimit)
	}
	if got := s.ClampLimit(7); got != 7 {
		t.Errorf("ClampLimit(7) = %d", got)
	}
	if got := s.ClampLimit(10_000); got != s.Limits.MaxLimit {
		t.Errorf("ClampLimit(10000) = %d, want max %d", got, s.Limits.MaxLimit)
	}
}

func TestValidateBreadth(t *testing.T) {
	ctx := context.Background()
	c, err := LoadCatalog(ctx, defaultCatalogYAML)
	if err != nil {
		t.Fatalf("LoadCatalog failed: %v", err)
	}
	s, err := LoadSearchConfig(ctx, defaultSearchYAML)
	if err != nil {
		t.Fatalf("LoadSearchConfig failed: %v", err)
	}

	if err := ValidateBreadth(s, c); err != nil {
		t.Errorf("embedded breadth ladder should validate, got: %v", err)
	}

	bad := *s
	bad.Breadth = Breadth{Common: []string{"sp_widget", "no_such_collection"}}
	if err := ValidateBreadth(&bad, c); err == nil {
		t.Error("expected error for unknown collection in ladder")
	}

	dup := *s
	dup.Breadth = Breadth{Common: []string{"sp_widget"}, Extended: []string{"sp_widget"}}
	if err := ValidateBreadth(&dup, c); err == nil {
		t.Error("expected error for collection listed in both tiers")
	}
}

func TestGetSearchConfig_NilContext(t *testing.T) {
	_, err := GetSearchConfig(nil) //nolint:staticcheck // testing nil ctx
	if err == nil {
		t.Fatal("expected error for nil context")
	}
}

func TestGetSearchConfig_Singleton(t *testing.T) {
	ResetSearchConfig()
	defer ResetSearchConfig()

	ctx := context.Background()
	s1, err := GetSearchConfig(ctx)
	if err != nil {
		t.Fatalf("first call failed: %v", err)
	}
	s2, err := GetSearchConfig(ctx)
	if err != nil {
		t.Fatalf("second call failed: %v", err)
	}
	if s1 != s2 {
		t.Error("expected same pointer from singleton")
	}
}
