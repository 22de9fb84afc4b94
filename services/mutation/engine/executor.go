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
	"github.com/AleutianAI/graphops/services/mutation/telemetry"
)

var executorTracer = otel.Tracer("mutation.executor")

// Executor applies a confirmed mutation. Chunked kinds are partitioned into
// fixed-size chunks, each committed in its own atomic transaction; REINDEX
// is a single store-level index build with no chunk loop.
//
// Chunks run sequentially. The engine never parallelizes chunks, keeping
// peak store load bounded and the audit trail ordered.
//
// Thread Safety: safe for concurrent use; per-run state lives on the stack.
type Executor struct {
	graph     store.Graph
	logger    *slog.Logger
	metrics   *telemetry.Metrics
	batchSize int
	deadline  time.Duration
}

// NewExecutor creates an executor with the production batch size and
// deadline. metrics may be nil.
func NewExecutor(graph store.Graph, logger *slog.Logger, metrics *telemetry.Metrics) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		graph:     graph,
		logger:    logger.With(slog.String("component", "executor")),
		metrics:   metrics,
		batchSize: DefaultBatchSize,
		deadline:  DefaultDeadline,
	}
}

// Execute applies the planned mutation. Callers must have validated
// confirmation and size limits; Execute assumes the plan is current.
//
// Timeout is not an error: the result's status distinguishes Completed,
// PartialTimeout, and Failed, and partial work is always durable and
// reported exactly.
func (e *Executor) Execute(ctx context.Context, req Request, plan *Plan) *ExecutionResult {
	ctx, span := executorTracer.Start(ctx, "Executor.Execute",
		trace.WithAttributes(
			attribute.String("kind", req.Kind.String()),
			attribute.Int64("target_count", plan.TargetCount),
		),
	)
	defer span.End()

	var res *ExecutionResult
	if req.Kind == KindReindex {
		res = e.executeReindex(ctx, req, plan)
	} else {
		res = e.executeChunked(ctx, req, plan)
	}

	span.SetAttributes(
		attribute.String("status", res.Status.String()),
		attribute.Int("batches_completed", res.BatchesCompleted),
		attribute.Int64("entities_affected", res.EntitiesAffected),
	)
	if res.Status == StatusFailed {
		span.RecordError(res.Err)
		span.SetStatus(codes.Error, "execution failed")
	} else {
		span.SetStatus(codes.Ok, res.Status.String())
	}
	return res
}

// executeReindex issues the single index-creation call. The store enforces
// its own bound on the build; the engine adds none.
func (e *Executor) executeReindex(ctx context.Context, req Request, plan *Plan) *ExecutionResult {
	if plan.AlreadySatisfied {
		return &ExecutionResult{Status: StatusCompleted}
	}

	if err := e.graph.CreateIndex(ctx, req.Target.Label, req.Target.Property); err != nil {
		return &ExecutionResult{
			Status:    StatusFailed,
			Remaining: plan.AffectedCount,
			Err:       fmt.Errorf("create index %s.%s: %w", req.Target.Label, req.Target.Property, err),
		}
	}

	e.logger.Info("index created",
		slog.String("label", req.Target.Label),
		slog.String("property", req.Target.Property),
		slog.Int64("covered_nodes", plan.AffectedCount))

	return &ExecutionResult{
		Status:           StatusCompleted,
		EntitiesAffected: plan.AffectedCount,
	}
}

// executeChunked runs the chunk loop for LABEL_MIGRATE and ORPHAN_CLEANUP.
//
// Each iteration re-queries the store for the next chunk of still-matching
// IDs: committed chunks no longer match (the old label is gone, the orphan
// is deleted), so no offset bookkeeping is needed and chunk ordering across
// retries is unconstrained.
func (e *Executor) executeChunked(ctx context.Context, req Request, plan *Plan) *ExecutionResult {
	sup := newSupervisor(e.deadline)
	crit := req.criteria()

	res := &ExecutionResult{Status: StatusCompleted}

	for res.EntitiesAffected < plan.TargetCount {
		// Cooperative boundaries: deadline and cancellation are honored
		// between chunks only, never mid-transaction.
		if sup.expired() {
			res.Status = StatusPartialTimeout
			break
		}
		if err := ctx.Err(); err != nil {
			res.Status = StatusFailed
			res.Err = err
			break
		}

		want := e.batchSize
		if left := plan.TargetCount - res.EntitiesAffected; left < int64(want) {
			want = int(left)
		}

		ids, err := e.graph.NodeIDs(ctx, crit, want)
		if err != nil {
			res.Status = StatusFailed
			res.Err = fmt.Errorf("select chunk %d: %w", res.BatchesCompleted+1, err)
			break
		}
		if len(ids) == 0 {
			// Matched set drained early: another invocation may have
			// consumed entities, or the plan count was an overestimate.
			break
		}

		if err := e.applyChunk(ctx, req, ids); err != nil {
			res.Status = StatusFailed
			res.Err = fmt.Errorf("chunk %d rolled back: %w", res.BatchesCompleted+1, err)
			break
		}

		res.BatchesCompleted++
		res.EntitiesAffected += int64(len(ids))

		// Per-chunk progress line; full audit records stay per-invocation.
		e.logger.Info("batch committed",
			slog.String("kind", req.Kind.String()),
			slog.Int("batch", res.BatchesCompleted),
			slog.Int64("entities_affected", res.EntitiesAffected),
			slog.Int64("target", plan.TargetCount),
			slog.Duration("deadline_remaining", sup.remaining()))

		if e.metrics != nil {
			e.metrics.RecordBatch(ctx, req.Kind.String(), int64(len(ids)))
		}
	}

	res.Remaining = plan.AffectedCount - res.EntitiesAffected
	return res
}

// applyChunk commits one chunk inside a single atomic transaction. Either
// the whole chunk commits or none of it does; partial-chunk writes are never
// observable.
func (e *Executor) applyChunk(ctx context.Context, req Request, ids []string) error {
	start := time.Now()
	err := e.graph.WithBatch(ctx, func(tx store.BatchTx) error {
		switch req.Kind {
		case KindLabelMigrate:
			if err := tx.AddLabel(ctx, ids, req.Target.NewLabel); err != nil {
				return err
			}
			return tx.RemoveLabel(ctx, ids, req.Target.OldLabel)
		case KindOrphanCleanup:
			return tx.DeleteNodes(ctx, ids)
		default:
			return fmt.Errorf("%w: %q has no chunk handler", ErrUnknownKind, req.Kind)
		}
	})
	if e.metrics != nil {
		e.metrics.RecordBatchDuration(ctx, req.Kind.String(), time.Since(start), err == nil)
	}
	return err
}
