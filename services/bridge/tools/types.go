// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tools

import (
	"context"
	"time"
)

// =============================================================================
// Tool Contract
// =============================================================================
//
// Tools are the conversational surface over the resolution engine and the
// platform client. Each tool owns a name, an OpenAI-schema definition a model
// provider can consume verbatim, and an Execute method that turns loosely
// typed parameters into one Result.
//
// The error split matters: a *Result with Success=false is a caller problem
// (bad parameters, record absent, script rejected) phrased so a model can
// repair its next call. A non-nil error is an infrastructure problem — the
// caller's context ended or something internal broke — and the dispatcher
// propagates it instead of feeding it back into the conversation.

// Tool is one callable operation.
type Tool interface {
	// Name returns the wire name models call (e.g. "resolve_artifact").
	Name() string

	// Definition returns the function-calling schema for this tool.
	Definition() Definition

	// Execute runs the tool. Parameter validation failures come back inside
	// the Result, not as an error.
	Execute(ctx context.Context, params map[string]any) (*Result, error)
}

// =============================================================================
// Definition Schema
// =============================================================================

// Definition is a tool definition in the OpenAI function-calling shape.
// Providers that want a different wire format convert from this one.
type Definition struct {
	// Type is always "function".
	Type string `json:"type"`

	// Function carries the name, description, and parameter schema.
	Function Function `json:"function"`
}

// Function is the function block of a Definition.
type Function struct {
	// Name is the function name the model will call.
	Name string `json:"name"`

	// Description explains what the function does and when to use it.
	Description string `json:"description"`

	// Parameters is the JSON Schema for the function's parameters.
	Parameters Parameters `json:"parameters"`
}

// Parameters is a JSON Schema object describing tool parameters.
type Parameters struct {
	// Type is always "object".
	Type string `json:"type"`

	// Properties maps parameter names to their definitions.
	Properties map[string]ParamDef `json:"properties,omitempty"`

	// Required lists parameter names that must be provided.
	Required []string `json:"required,omitempty"`
}

// ParamDef describes one parameter in JSON Schema format.
type ParamDef struct {
	// Type is the JSON Schema type (string, integer, boolean, number, object).
	Type string `json:"type"`

	// Description explains what the parameter is for.
	Description string `json:"description,omitempty"`

	// Enum restricts values to a fixed set.
	Enum []any `json:"enum,omitempty"`

	// Default is the value used when the parameter is omitted.
	Default any `json:"default,omitempty"`
}

// defineFunction assembles a Definition, filling the fixed schema fields.
func defineFunction(name, description string, props map[string]ParamDef, required []string) Definition {
	return Definition{
		Type: "function",
		Function: Function{
			Name:        name,
			Description: description,
			Parameters: Parameters{
				Type:       "object",
				Properties: props,
				Required:   required,
			},
		},
	}
}

// =============================================================================
// Result
// =============================================================================

// Result is the outcome of one tool execution.
type Result struct {
	// Success is false when the call was understood but could not be
	// honored: invalid parameters, a missing record, a rejected script.
	// Error explains why in terms the caller can act on.
	Success bool `json:"success"`

	// Output is the structured payload, shaped per tool.
	Output any `json:"output,omitempty"`

	// OutputText is a human-readable rendering of Output, suitable for
	// feeding back into a conversation untouched.
	OutputText string `json:"output_text,omitempty"`

	// Error describes the failure when Success is false.
	Error string `json:"error,omitempty"`

	// CorrelationID ties this result to dispatch logs and traces. Filled by
	// the registry.
	CorrelationID string `json:"correlation_id,omitempty"`

	// Duration is the execution wall time.
	Duration time.Duration `json:"duration_ns,omitempty"`
}
