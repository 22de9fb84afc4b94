// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package tools

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/graphops/services/mutation/engine"
)

var reindexTracer = otel.Tracer("tools.reindex")

// ReindexParams contains the validated input parameters.
type ReindexParams struct {
	// Label is the node label to index.
	Label string

	// Property is the property to index under the label.
	Property string

	// DryRun previews without mutating. Default: true.
	DryRun bool

	// Confirm is the explicit consent for execution. Default: false.
	Confirm bool
}

// ReindexOutput contains the structured result.
type ReindexOutput struct {
	// Label is the indexed label.
	Label string `json:"label"`

	// Property is the indexed property.
	Property string `json:"property"`

	// AlreadyExists is true when the index was already present.
	AlreadyExists bool `json:"already_exists"`

	// AffectedCount is the number of nodes covered by the index.
	AffectedCount int64 `json:"affected_count"`

	// DryRun reports whether this was a preview.
	DryRun bool `json:"dry_run"`

	// ExecutionTimeMs is the wall-clock invocation time.
	ExecutionTimeMs int64 `json:"execution_time_ms"`

	// Preview is present for dry runs only.
	Preview *Preview `json:"preview,omitempty"`
}

// reindexTool wraps the engine's REINDEX operation.
//
// Thread Safety: safe for concurrent use.
type reindexTool struct {
	engine *engine.Engine
	logger *slog.Logger
}

// NewReindexTool creates the reindex tool.
func NewReindexTool(eng *engine.Engine, logger *slog.Logger) Tool {
	if logger == nil {
		logger = slog.Default()
	}
	return &reindexTool{engine: eng, logger: logger}
}

func (t *reindexTool) Name() string {
	return "reindex"
}

func (t *reindexTool) Definition() ToolDefinition {
	return ToolDefinition{
		Name: "reindex",
		Description: "Rebuild the property index for a node label. Idempotent: if the " +
			"index already exists the preview reports already_exists and execution is a no-op. " +
			"Requires ADMIN role with the REINDEX permission. Defaults to a dry-run preview; " +
			"pass dry_run=false and confirm=true to execute.",
		Parameters: map[string]ParamDef{
			"label": {
				Type:        ParamTypeString,
				Description: "Node label to index (e.g., 'Person')",
				Required:    true,
			},
			"property": {
				Type:        ParamTypeString,
				Description: "Property to index (e.g., 'email')",
				Required:    true,
			},
			"dry_run": {
				Type:        ParamTypeBool,
				Description: "Preview the operation without mutating",
				Required:    false,
				Default:     true,
			},
			"confirm": {
				Type:        ParamTypeBool,
				Description: "Explicit consent required for execution",
				Required:    false,
				Default:     false,
			},
		},
		SideEffects:          true,
		RequiresConfirmation: true,
	}
}

// Execute runs the reindex tool.
func (t *reindexTool) Execute(ctx context.Context, params map[string]any) (*Result, error) {
	start := time.Now()

	p, err := t.parseParams(params)
	if err != nil {
		return &Result{Success: false, Error: err.Error(), Duration: time.Since(start)}, nil
	}

	ctx, span := reindexTracer.Start(ctx, "reindexTool.Execute",
		trace.WithAttributes(
			attribute.String("label", p.Label),
			attribute.String("property", p.Property),
			attribute.Bool("dry_run", p.DryRun),
		),
	)
	defer span.End()

	req := engine.NewRequest(engine.KindReindex, engine.Selector{
		Label:    p.Label,
		Property: p.Property,
	}, CallerFrom(ctx))
	req.DryRun = p.DryRun
	req.Confirm = p.Confirm

	res, err := t.engine.Run(ctx, req)
	if err != nil {
		span.RecordError(err)
		return &Result{Success: false, Error: err.Error(), Duration: time.Since(start)}, nil
	}

	output := ReindexOutput{
		Label:           p.Label,
		Property:        p.Property,
		AlreadyExists:   res.Plan.AlreadySatisfied,
		AffectedCount:   res.Plan.AffectedCount,
		DryRun:          res.DryRun,
		ExecutionTimeMs: res.Duration.Milliseconds(),
	}

	var text string
	if res.DryRun {
		output.Preview = &Preview{
			Action: fmt.Sprintf("Create index on :%s(%s) covering %d nodes",
				p.Label, p.Property, res.Plan.AffectedCount),
			SampleEntities:      res.Plan.SampleEntities,
			EstimatedDurationMs: res.Plan.EstimatedDuration.Milliseconds(),
			Warnings:            res.Plan.Warnings,
		}
		if res.Plan.AlreadySatisfied {
			text = fmt.Sprintf("Index on :%s(%s) already exists; execution would be a no-op.",
				p.Label, p.Property)
		} else {
			text = fmt.Sprintf("Dry run: would create index on :%s(%s) covering %d nodes. "+
				"Re-run with dry_run=false and confirm=true to execute.",
				p.Label, p.Property, res.Plan.AffectedCount)
		}
	} else if res.Plan.AlreadySatisfied {
		text = fmt.Sprintf("Index on :%s(%s) already exists; nothing to do.", p.Label, p.Property)
	} else {
		text = fmt.Sprintf("Created index on :%s(%s) covering %d nodes.",
			p.Label, p.Property, res.Plan.AffectedCount)
	}

	return &Result{
		Success:    true,
		Output:     output,
		OutputText: text,
		Duration:   time.Since(start),
	}, nil
}

// parseParams validates and extracts typed parameters from the raw map.
func (t *reindexTool) parseParams(params map[string]any) (ReindexParams, error) {
	p := ReindexParams{DryRun: true}

	if raw, ok := params["label"]; ok {
		if s, ok := parseStringParam(raw); ok {
			p.Label = s
		}
	}
	if p.Label == "" {
		return p, fmt.Errorf("label is required")
	}

	if raw, ok := params["property"]; ok {
		if s, ok := parseStringParam(raw); ok {
			p.Property = s
		}
	}
	if p.Property == "" {
		return p, fmt.Errorf("property is required")
	}

	if raw, ok := params["dry_run"]; ok {
		if b, ok := parseBoolParam(raw); ok {
			p.DryRun = b
		}
	}
	if raw, ok := params["confirm"]; ok {
		if b, ok := parseBoolParam(raw); ok {
			p.Confirm = b
		}
	}

	return p, nil
}
