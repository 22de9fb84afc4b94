// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/graphops/services/mutation/store"
)

var plannerTracer = otel.Tracer("mutation.planner")

// defaultSampleLimit bounds the preview regardless of total match size.
const defaultSampleLimit = 5

// Planner computes the scope and cost of a requested mutation without
// touching state. Counting and sampling are separate bounded queries; the
// planner never scans the full affected set into memory.
//
// Thread Safety: safe for concurrent use.
type Planner struct {
	graph       store.Graph
	logger      *slog.Logger
	sampleLimit int
}

// NewPlanner creates a planner over the given graph.
func NewPlanner(graph store.Graph, logger *slog.Logger) *Planner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Planner{
		graph:       graph,
		logger:      logger.With(slog.String("component", "planner")),
		sampleLimit: defaultSampleLimit,
	}
}

// validateTarget checks the selector is complete for the request's kind.
func validateTarget(req Request) error {
	switch req.Kind {
	case KindReindex:
		if req.Target.Label == "" || req.Target.Property == "" {
			return fmt.Errorf("%w: REINDEX requires label and property", ErrInvalidTarget)
		}
	case KindLabelMigrate:
		if req.Target.OldLabel == "" || req.Target.NewLabel == "" {
			return fmt.Errorf("%w: LABEL_MIGRATE requires old and new labels", ErrInvalidTarget)
		}
		if req.Target.OldLabel == req.Target.NewLabel {
			return fmt.Errorf("%w: old and new labels are identical", ErrInvalidTarget)
		}
	case KindOrphanCleanup:
		// No selector; the orphan scan defines the target set.
	default:
		return fmt.Errorf("%w: %q", ErrUnknownKind, req.Kind)
	}
	return nil
}

// ceiling resolves the effective maxAffected for the request.
//
// For REINDEX and LABEL_MIGRATE the caller may lower the kind default but
// not raise it. For ORPHAN_CLEANUP the value is a delete budget, hard-capped
// at MaxDeleteOrphans; requests above the cap are refused.
func ceiling(req Request) (int64, error) {
	def := req.Kind.maxAffected()
	if req.MaxAffected <= 0 {
		return def, nil
	}
	if req.MaxAffected > def {
		return 0, &LimitError{Kind: req.Kind, Affected: req.MaxAffected, Limit: def}
	}
	return req.MaxAffected, nil
}

// Plan computes the operation plan. It always runs, including for confirmed
// executions, because its output feeds the execution-size check.
//
// Returns a *LimitError when the affected count exceeds the operation
// ceiling; this is a hard stop enforced before any mutation is attempted.
func (p *Planner) Plan(ctx context.Context, req Request) (*Plan, error) {
	ctx, span := plannerTracer.Start(ctx, "Planner.Plan",
		trace.WithAttributes(
			attribute.String("kind", req.Kind.String()),
			attribute.Bool("dry_run", req.DryRun),
		),
	)
	defer span.End()

	if err := validateTarget(req); err != nil {
		span.SetStatus(codes.Error, "invalid target")
		return nil, err
	}

	limit, err := ceiling(req)
	if err != nil {
		span.SetStatus(codes.Error, "budget above cap")
		return nil, err
	}

	crit := req.criteria()

	count, err := p.graph.CountNodes(ctx, crit)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "count failed")
		return nil, fmt.Errorf("count affected entities: %w", err)
	}

	plan := &Plan{
		AffectedCount: count,
		TargetCount:   count,
	}

	switch req.Kind {
	case KindReindex, KindLabelMigrate:
		if count > limit {
			span.SetStatus(codes.Error, "limit exceeded")
			return nil, &LimitError{Kind: req.Kind, Affected: count, Limit: limit}
		}
	case KindOrphanCleanup:
		// The delete budget truncates rather than refuses; the remainder is
		// reported back to the caller.
		if count > limit {
			plan.TargetCount = limit
			plan.Warnings = append(plan.Warnings,
				fmt.Sprintf("%d orphaned nodes found, only %d will be deleted this run", count, limit))
		}
	}

	sample, err := p.graph.SampleNodes(ctx, crit, p.sampleLimit)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "sample failed")
		return nil, fmt.Errorf("sample affected entities: %w", err)
	}
	plan.SampleEntities = sample

	if req.Kind == KindReindex {
		exists, err := p.graph.IndexExists(ctx, req.Target.Label, req.Target.Property)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "index check failed")
			return nil, fmt.Errorf("check index existence: %w", err)
		}
		plan.AlreadySatisfied = exists
	}

	p.addWarnings(ctx, req, plan)

	plan.EstimatedDuration = time.Duration(plan.TargetCount) * req.Kind.costPerEntity()
	if req.Kind != KindReindex {
		plan.EstimatedBatchCount = int((plan.TargetCount + DefaultBatchSize - 1) / DefaultBatchSize)
	}

	span.SetAttributes(
		attribute.Int64("affected_count", plan.AffectedCount),
		attribute.Int64("target_count", plan.TargetCount),
		attribute.Bool("already_satisfied", plan.AlreadySatisfied),
		attribute.Int("estimated_batches", plan.EstimatedBatchCount),
	)
	span.SetStatus(codes.Ok, "planned")

	p.logger.Info("operation planned",
		slog.String("kind", req.Kind.String()),
		slog.Int64("affected_count", plan.AffectedCount),
		slog.Int64("target_count", plan.TargetCount),
		slog.Duration("estimated_duration", plan.EstimatedDuration),
		slog.Bool("already_satisfied", plan.AlreadySatisfied))

	return plan, nil
}

// addWarnings attaches kind-specific planning observations. Warning queries
// are bounded and best-effort; failures here never fail the plan.
func (p *Planner) addWarnings(ctx context.Context, req Request, plan *Plan) {
	switch req.Kind {
	case KindLabelMigrate:
		existing, err := p.graph.CountNodes(ctx, store.Criteria{Label: req.Target.NewLabel})
		if err == nil && existing > 0 {
			plan.Warnings = append(plan.Warnings,
				fmt.Sprintf("%d nodes already carry label %q, migration will merge the populations",
					existing, req.Target.NewLabel))
		}
	case KindReindex:
		labeled, err := p.graph.CountNodes(ctx, store.Criteria{Label: req.Target.Label})
		if err == nil && labeled > plan.AffectedCount {
			plan.Warnings = append(plan.Warnings,
				fmt.Sprintf("%d of %d %q nodes lack property %q and will not be indexed",
					labeled-plan.AffectedCount, labeled, req.Target.Label, req.Target.Property))
		}
	case KindOrphanCleanup:
		for _, n := range plan.SampleEntities {
			if len(n.Labels) == 0 {
				plan.Warnings = append(plan.Warnings,
					"label-less entities detected among orphans, verify the scan scope before confirming")
				break
			}
		}
	}
}
