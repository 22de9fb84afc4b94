// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package tools exposes the mutation engine to the agent tool-dispatch
// layer.
//
// Each entry point (reindex, migrate_labels, cleanup_orphans) is a Tool with
// a JSON-Schema-shaped definition for LLM tool calling. Tools default to dry
// run: destructive execution requires both dry_run=false and confirm=true in
// the parameters, mirroring the engine's preview-before-commit contract.
//
// Thread Safety:
//
//	All types in this package are designed for concurrent use.
package tools

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/AleutianAI/graphops/services/mutation/authz"
)

// ErrUnknownTool is returned by the registry for unregistered tool names.
var ErrUnknownTool = errors.New("unknown tool")

// ParamType represents the type of a tool parameter.
type ParamType string

const (
	// ParamTypeString is a string parameter.
	ParamTypeString ParamType = "string"

	// ParamTypeInt is an integer parameter.
	ParamTypeInt ParamType = "integer"

	// ParamTypeBool is a boolean parameter.
	ParamTypeBool ParamType = "boolean"
)

// ParamDef defines a single parameter for a tool.
type ParamDef struct {
	// Type is the parameter type.
	Type ParamType `json:"type"`

	// Description explains what the parameter is for.
	Description string `json:"description"`

	// Required indicates if the parameter must be provided.
	Required bool `json:"required"`

	// Default is the default value if not provided.
	Default any `json:"default,omitempty"`
}

// ToolDefinition describes a tool's interface for the LLM.
type ToolDefinition struct {
	// Name is the unique identifier for the tool.
	Name string `json:"name"`

	// Description explains what the tool does.
	Description string `json:"description"`

	// Parameters defines the input parameters.
	Parameters map[string]ParamDef `json:"parameters"`

	// SideEffects indicates if the tool modifies state.
	SideEffects bool `json:"side_effects"`

	// RequiresConfirmation indicates the tool needs confirm=true to mutate.
	RequiresConfirmation bool `json:"requires_confirmation"`
}

// Tool defines the interface for executable mutation tools.
//
// Implementations must be safe for concurrent use.
type Tool interface {
	// Name returns the unique tool name.
	Name() string

	// Definition returns the tool's parameter schema.
	Definition() ToolDefinition

	// Execute runs the tool. The caller identity is read from the context
	// (see WithCaller); absent identity is rejected by the engine's gate.
	Execute(ctx context.Context, params map[string]any) (*Result, error)
}

// Result contains the outcome of a tool execution, JSON-serializable for
// the chat transport.
type Result struct {
	// Success indicates if the tool succeeded. Timed-out executions are
	// successful-partial: Success is true and the output reports how much
	// work committed.
	Success bool `json:"success"`

	// Output is the tool's structured output data.
	Output any `json:"output,omitempty"`

	// OutputText is a human-readable summary of the output.
	OutputText string `json:"output_text,omitempty"`

	// Error contains the failure message when Success is false.
	Error string `json:"error,omitempty"`

	// Duration is how long execution took.
	Duration time.Duration `json:"duration"`
}

// Preview describes what a dry run would do.
type Preview struct {
	// Action is a human-readable summary of the pending mutation.
	Action string `json:"action"`

	// SampleEntities is a bounded sample of affected entities.
	SampleEntities any `json:"sample_entities,omitempty"`

	// EstimatedDurationMs is the projected execution time.
	EstimatedDurationMs int64 `json:"estimated_duration_ms"`

	// EstimatedBatchCount is the projected chunk count (zero for reindex).
	EstimatedBatchCount int `json:"estimated_batch_count,omitempty"`

	// Warnings carries planning observations worth surfacing before commit.
	Warnings []string `json:"warnings,omitempty"`
}

// callerKey stores the authenticated caller in context.Context.
type callerKey struct{}

// WithCaller attaches the caller identity for tool execution.
func WithCaller(ctx context.Context, caller authz.Context) context.Context {
	return context.WithValue(ctx, callerKey{}, caller)
}

// CallerFrom extracts the caller identity. The zero Context is returned
// when none is attached; the engine's gate rejects it as unauthenticated.
func CallerFrom(ctx context.Context) authz.Context {
	caller, _ := ctx.Value(callerKey{}).(authz.Context)
	return caller
}

// Registry holds the mutation tools for dispatch.
//
// Thread Safety: safe for concurrent use after registration.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool, replacing any previous tool of the same name.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
}

// Get returns the named tool.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Definitions returns all tool definitions, sorted by name.
func (r *Registry) Definitions() []ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]ToolDefinition, 0, len(r.tools))
	for _, t := range r.tools {
		defs = append(defs, t.Definition())
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Dispatch executes the named tool.
func (r *Registry) Dispatch(ctx context.Context, name string, params map[string]any) (*Result, error) {
	t, ok := r.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTool, name)
	}
	return t.Execute(ctx, params)
}

// parseStringParam extracts a string from a raw parameter value.
func parseStringParam(raw any) (string, bool) {
	s, ok := raw.(string)
	return s, ok
}

// parseBoolParam extracts a bool from a raw parameter value.
func parseBoolParam(raw any) (bool, bool) {
	b, ok := raw.(bool)
	return b, ok
}

// parseIntParam extracts an int from a raw parameter value, accepting the
// float64 that JSON decoding produces.
func parseIntParam(raw any) (int, bool) {
	switch v := raw.(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	}
	return 0, false
}
