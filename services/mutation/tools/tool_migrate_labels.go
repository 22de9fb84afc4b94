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

var migrateTracer = otel.Tracer("tools.migrate_labels")

// MigrateLabelsParams contains the validated input parameters.
type MigrateLabelsParams struct {
	// OldLabel is the label to migrate nodes away from.
	OldLabel string

	// NewLabel is the label nodes receive.
	NewLabel string

	// DryRun previews without mutating. Default: true.
	DryRun bool

	// Confirm is the explicit consent for execution. Default: false.
	Confirm bool
}

// MigrateLabelsOutput contains the structured result.
type MigrateLabelsOutput struct {
	// OldLabel is the source label.
	OldLabel string `json:"old_label"`

	// NewLabel is the destination label.
	NewLabel string `json:"new_label"`

	// NodesMigrated is the number of nodes durably relabeled.
	NodesMigrated int64 `json:"nodes_migrated"`

	// NodesRemaining is the number of matching nodes left untouched.
	NodesRemaining int64 `json:"nodes_remaining"`

	// BatchesCompleted is the number of committed chunk transactions.
	BatchesCompleted int `json:"batches_completed"`

	// Outcome is the execution status (completed, partial_timeout, failed).
	Outcome string `json:"outcome,omitempty"`

	// DryRun reports whether this was a preview.
	DryRun bool `json:"dry_run"`

	// ExecutionTimeMs is the wall-clock invocation time.
	ExecutionTimeMs int64 `json:"execution_time_ms"`

	// Preview is present for dry runs only.
	Preview *Preview `json:"preview,omitempty"`
}

// migrateLabelsTool wraps the engine's LABEL_MIGRATE operation.
//
// Thread Safety: safe for concurrent use.
type migrateLabelsTool struct {
	engine *engine.Engine
	logger *slog.Logger
}

// NewMigrateLabelsTool creates the migrate_labels tool.
func NewMigrateLabelsTool(eng *engine.Engine, logger *slog.Logger) Tool {
	if logger == nil {
		logger = slog.Default()
	}
	return &migrateLabelsTool{engine: eng, logger: logger}
}

func (t *migrateLabelsTool) Name() string {
	return "migrate_labels"
}

func (t *migrateLabelsTool) Definition() ToolDefinition {
	return ToolDefinition{
		Name: "migrate_labels",
		Description: "Move every node from one label to another in batched, atomic " +
			"transactions (at most 10,000 nodes per run, 300s deadline). Partial progress " +
			"on timeout or failure is durable and reported exactly. Requires ADMIN role with " +
			"the MANAGE_SCHEMA permission. Defaults to a dry-run preview; pass dry_run=false " +
			"and confirm=true to execute.",
		Parameters: map[string]ParamDef{
			"old_label": {
				Type:        ParamTypeString,
				Description: "Label nodes currently carry (e.g., 'Employee')",
				Required:    true,
			},
			"new_label": {
				Type:        ParamTypeString,
				Description: "Label nodes should carry instead (e.g., 'Person')",
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

// Execute runs the migrate_labels tool.
func (t *migrateLabelsTool) Execute(ctx context.Context, params map[string]any) (*Result, error) {
	start := time.Now()

	p, err := t.parseParams(params)
	if err != nil {
		return &Result{Success: false, Error: err.Error(), Duration: time.Since(start)}, nil
	}

	ctx, span := migrateTracer.Start(ctx, "migrateLabelsTool.Execute",
		trace.WithAttributes(
			attribute.String("old_label", p.OldLabel),
			attribute.String("new_label", p.NewLabel),
			attribute.Bool("dry_run", p.DryRun),
		),
	)
	defer span.End()

	req := engine.NewRequest(engine.KindLabelMigrate, engine.Selector{
		OldLabel: p.OldLabel,
		NewLabel: p.NewLabel,
	}, CallerFrom(ctx))
	req.DryRun = p.DryRun
	req.Confirm = p.Confirm

	res, runErr := t.engine.Run(ctx, req)
	if res == nil {
		span.RecordError(runErr)
		return &Result{Success: false, Error: runErr.Error(), Duration: time.Since(start)}, nil
	}

	output := MigrateLabelsOutput{
		OldLabel:        p.OldLabel,
		NewLabel:        p.NewLabel,
		NodesRemaining:  res.Plan.AffectedCount,
		DryRun:          res.DryRun,
		ExecutionTimeMs: res.Duration.Milliseconds(),
	}

	if res.DryRun {
		output.Preview = &Preview{
			Action: fmt.Sprintf("Relabel %d nodes from :%s to :%s in %d batches of %d",
				res.Plan.TargetCount, p.OldLabel, p.NewLabel,
				res.Plan.EstimatedBatchCount, engine.DefaultBatchSize),
			SampleEntities:      res.Plan.SampleEntities,
			EstimatedDurationMs: res.Plan.EstimatedDuration.Milliseconds(),
			EstimatedBatchCount: res.Plan.EstimatedBatchCount,
			Warnings:            res.Plan.Warnings,
		}
		return &Result{
			Success: true,
			Output:  output,
			OutputText: fmt.Sprintf("Dry run: would relabel %d nodes from :%s to :%s. "+
				"Re-run with dry_run=false and confirm=true to execute.",
				res.Plan.AffectedCount, p.OldLabel, p.NewLabel),
			Duration: time.Since(start),
		}, nil
	}

	exec := res.Execution
	output.NodesMigrated = exec.EntitiesAffected
	output.NodesRemaining = exec.Remaining
	output.BatchesCompleted = exec.BatchesCompleted
	output.Outcome = exec.Status.String()

	switch exec.Status {
	case engine.StatusCompleted:
		return &Result{
			Success: true,
			Output:  output,
			OutputText: fmt.Sprintf("Migrated %d nodes from :%s to :%s in %d batches.",
				exec.EntitiesAffected, p.OldLabel, p.NewLabel, exec.BatchesCompleted),
			Duration: time.Since(start),
		}, nil
	case engine.StatusPartialTimeout:
		// Partial-but-durable: the caller gets an exact count, not a failure.
		return &Result{
			Success: true,
			Output:  output,
			OutputText: fmt.Sprintf("Timed out after migrating %d of %d nodes (%d batches); "+
				"completed work is durable. Re-run to continue.",
				exec.EntitiesAffected, res.Plan.AffectedCount, exec.BatchesCompleted),
			Duration: time.Since(start),
		}, nil
	default:
		span.RecordError(runErr)
		return &Result{
			Success: false,
			Output:  output,
			Error: fmt.Sprintf("migration halted after %d nodes (%d batches): %v",
				exec.EntitiesAffected, exec.BatchesCompleted, runErr),
			Duration: time.Since(start),
		}, nil
	}
}

// parseParams validates and extracts typed parameters from the raw map.
func (t *migrateLabelsTool) parseParams(params map[string]any) (MigrateLabelsParams, error) {
	p := MigrateLabelsParams{DryRun: true}

	if raw, ok := params["old_label"]; ok {
		if s, ok := parseStringParam(raw); ok {
			p.OldLabel = s
		}
	}
	if p.OldLabel == "" {
		return p, fmt.Errorf("old_label is required")
	}

	if raw, ok := params["new_label"]; ok {
		if s, ok := parseStringParam(raw); ok {
			p.NewLabel = s
		}
	}
	if p.NewLabel == "" {
		return p, fmt.Errorf("new_label is required")
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
