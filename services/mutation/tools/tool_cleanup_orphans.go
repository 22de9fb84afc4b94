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

var cleanupTracer = otel.Tracer("tools.cleanup_orphans")

// CleanupOrphansParams contains the validated input parameters.
type CleanupOrphansParams struct {
	// MaxDelete caps the number of nodes deleted in this run.
	// Must not exceed the hard budget of 1000. Default: 1000.
	MaxDelete int64

	// DryRun previews without mutating. Default: true.
	DryRun bool

	// Confirm is the explicit consent for execution. Default: false.
	Confirm bool
}

// CleanupOrphansOutput contains the structured result.
type CleanupOrphansOutput struct {
	// NodesDeleted is the number of orphaned nodes durably removed.
	NodesDeleted int64 `json:"nodes_deleted"`

	// OrphanedNodesRemaining is the number of orphaned nodes left in
	// the graph after this run.
	OrphanedNodesRemaining int64 `json:"orphaned_nodes_remaining"`

	// BatchesCompleted is the number of committed chunk transactions.
	BatchesCompleted int `json:"batches_completed"`

	// MaxDelete is the deletion budget this run was bounded by.
	MaxDelete int64 `json:"max_delete"`

	// Outcome is the execution status (completed, partial_timeout, failed).
	Outcome string `json:"outcome,omitempty"`

	// DryRun reports whether this was a preview.
	DryRun bool `json:"dry_run"`

	// ExecutionTimeMs is the wall-clock invocation time.
	ExecutionTimeMs int64 `json:"execution_time_ms"`

	// Preview is present for dry runs only.
	Preview *Preview `json:"preview,omitempty"`
}

// cleanupOrphansTool wraps the engine's ORPHAN_CLEANUP operation.
//
// Thread Safety: safe for concurrent use.
type cleanupOrphansTool struct {
	engine *engine.Engine
	logger *slog.Logger
}

// NewCleanupOrphansTool creates the cleanup_orphans tool.
func NewCleanupOrphansTool(eng *engine.Engine, logger *slog.Logger) Tool {
	if logger == nil {
		logger = slog.Default()
	}
	return &cleanupOrphansTool{engine: eng, logger: logger}
}

func (t *cleanupOrphansTool) Name() string {
	return "cleanup_orphans"
}

func (t *cleanupOrphansTool) Definition() ToolDefinition {
	return ToolDefinition{
		Name: "cleanup_orphans",
		Description: "Delete nodes with no relationships, in batched atomic transactions " +
			"bounded by a per-run budget (at most 1000 deletions). Deletion is irreversible; " +
			"nodes over budget are left in place and reported. Requires ADMIN role with the " +
			"ADMIN_OPERATIONS permission. Defaults to a dry-run preview; pass dry_run=false " +
			"and confirm=true to execute.",
		Parameters: map[string]ParamDef{
			"max_delete": {
				Type:        ParamTypeInt,
				Description: "Deletion budget for this run (1-1000)",
				Required:    false,
				Default:     engine.MaxDeleteOrphans,
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

// Execute runs the cleanup_orphans tool.
func (t *cleanupOrphansTool) Execute(ctx context.Context, params map[string]any) (*Result, error) {
	start := time.Now()

	p, err := t.parseParams(params)
	if err != nil {
		return &Result{Success: false, Error: err.Error(), Duration: time.Since(start)}, nil
	}

	ctx, span := cleanupTracer.Start(ctx, "cleanupOrphansTool.Execute",
		trace.WithAttributes(
			attribute.Int64("max_delete", p.MaxDelete),
			attribute.Bool("dry_run", p.DryRun),
		),
	)
	defer span.End()

	req := engine.NewRequest(engine.KindOrphanCleanup, engine.Selector{}, CallerFrom(ctx))
	req.DryRun = p.DryRun
	req.Confirm = p.Confirm
	req.MaxAffected = p.MaxDelete

	res, runErr := t.engine.Run(ctx, req)
	if res == nil {
		span.RecordError(runErr)
		return &Result{Success: false, Error: runErr.Error(), Duration: time.Since(start)}, nil
	}

	output := CleanupOrphansOutput{
		OrphanedNodesRemaining: res.Plan.AffectedCount,
		MaxDelete:              p.MaxDelete,
		DryRun:                 res.DryRun,
		ExecutionTimeMs:        res.Duration.Milliseconds(),
	}

	if res.DryRun {
		output.Preview = &Preview{
			Action: fmt.Sprintf("Delete %d of %d orphaned nodes in %d batches of %d",
				res.Plan.TargetCount, res.Plan.AffectedCount,
				res.Plan.EstimatedBatchCount, engine.DefaultBatchSize),
			SampleEntities:      res.Plan.SampleEntities,
			EstimatedDurationMs: res.Plan.EstimatedDuration.Milliseconds(),
			EstimatedBatchCount: res.Plan.EstimatedBatchCount,
			Warnings:            res.Plan.Warnings,
		}
		return &Result{
			Success: true,
			Output:  output,
			OutputText: fmt.Sprintf("Dry run: would delete %d of %d orphaned nodes "+
				"(budget %d). Re-run with dry_run=false and confirm=true to execute.",
				res.Plan.TargetCount, res.Plan.AffectedCount, p.MaxDelete),
			Duration: time.Since(start),
		}, nil
	}

	exec := res.Execution
	output.NodesDeleted = exec.EntitiesAffected
	output.OrphanedNodesRemaining = exec.Remaining
	output.BatchesCompleted = exec.BatchesCompleted
	output.Outcome = exec.Status.String()

	switch exec.Status {
	case engine.StatusCompleted:
		text := fmt.Sprintf("Deleted %d orphaned nodes in %d batches.",
			exec.EntitiesAffected, exec.BatchesCompleted)
		if exec.Remaining > 0 {
			text = fmt.Sprintf("Deleted %d orphaned nodes in %d batches; %d remain over "+
				"the budget of %d. Re-run to continue.",
				exec.EntitiesAffected, exec.BatchesCompleted, exec.Remaining, p.MaxDelete)
		}
		return &Result{
			Success:    true,
			Output:     output,
			OutputText: text,
			Duration:   time.Since(start),
		}, nil
	case engine.StatusPartialTimeout:
		return &Result{
			Success: true,
			Output:  output,
			OutputText: fmt.Sprintf("Timed out after deleting %d orphaned nodes (%d batches); "+
				"completed work is durable. Re-run to continue.",
				exec.EntitiesAffected, exec.BatchesCompleted),
			Duration: time.Since(start),
		}, nil
	default:
		span.RecordError(runErr)
		return &Result{
			Success: false,
			Output:  output,
			Error: fmt.Sprintf("cleanup halted after %d deletions (%d batches): %v",
				exec.EntitiesAffected, exec.BatchesCompleted, runErr),
			Duration: time.Since(start),
		}, nil
	}
}

// parseParams validates and extracts typed parameters from the raw map.
func (t *cleanupOrphansTool) parseParams(params map[string]any) (CleanupOrphansParams, error) {
	p := CleanupOrphansParams{
		MaxDelete: engine.MaxDeleteOrphans,
		DryRun:    true,
	}

	if raw, ok := params["max_delete"]; ok {
		n, ok := parseIntParam(raw)
		if !ok {
			return p, fmt.Errorf("max_delete must be an integer")
		}
		if n < 1 {
			return p, fmt.Errorf("max_delete must be at least 1, got %d", n)
		}
		p.MaxDelete = int64(n)
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
