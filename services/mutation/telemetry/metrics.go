// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package telemetry provides OpenTelemetry metrics for the mutation engine.
//
// All metrics use the "mutation_" prefix for consistent naming in
// aggregation systems. Exposure (Prometheus endpoint, OTLP push) is wired by
// the process entry point, not here.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics contains pre-defined metrics for the mutation engine.
//
// Thread Safety: safe for concurrent use after creation.
type Metrics struct {
	// InvocationsTotal counts engine invocations by kind and outcome.
	InvocationsTotal metric.Int64Counter

	// InvocationDuration records full invocation duration in seconds.
	InvocationDuration metric.Float64Histogram

	// BatchesTotal counts committed chunk transactions by kind.
	BatchesTotal metric.Int64Counter

	// BatchDuration records single chunk transaction duration in seconds,
	// by kind and commit status.
	BatchDuration metric.Float64Histogram

	// EntitiesAffectedTotal counts durably mutated entities by kind.
	EntitiesAffectedTotal metric.Int64Counter

	// AuditFallbacksTotal counts audit records diverted to the fallback
	// buffer because the primary sink failed.
	AuditFallbacksTotal metric.Int64Counter
}

// NewMetrics registers all mutation engine metrics with the meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.InvocationsTotal, err = meter.Int64Counter(
		"mutation_invocations_total",
		metric.WithDescription("Total mutation engine invocations"),
		metric.WithUnit("{invocation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create invocations_total: %w", err)
	}

	m.InvocationDuration, err = meter.Float64Histogram(
		"mutation_invocation_duration_seconds",
		metric.WithDescription("Mutation invocation duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 300),
	)
	if err != nil {
		return nil, fmt.Errorf("create invocation_duration: %w", err)
	}

	m.BatchesTotal, err = meter.Int64Counter(
		"mutation_batches_total",
		metric.WithDescription("Total committed chunk transactions"),
		metric.WithUnit("{batch}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create batches_total: %w", err)
	}

	m.BatchDuration, err = meter.Float64Histogram(
		"mutation_batch_duration_seconds",
		metric.WithDescription("Chunk transaction duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5),
	)
	if err != nil {
		return nil, fmt.Errorf("create batch_duration: %w", err)
	}

	m.EntitiesAffectedTotal, err = meter.Int64Counter(
		"mutation_entities_affected_total",
		metric.WithDescription("Total entities durably mutated"),
		metric.WithUnit("{entity}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create entities_affected_total: %w", err)
	}

	m.AuditFallbacksTotal, err = meter.Int64Counter(
		"mutation_audit_fallbacks_total",
		metric.WithDescription("Audit records diverted to the local fallback buffer"),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create audit_fallbacks_total: %w", err)
	}

	return m, nil
}

// RecordInvocation records one finished invocation.
func (m *Metrics) RecordInvocation(ctx context.Context, kind, outcome string, d time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("outcome", outcome),
	)
	m.InvocationsTotal.Add(ctx, 1, attrs)
	m.InvocationDuration.Record(ctx, d.Seconds(), attrs)
}

// RecordBatch records one committed chunk and the entities it mutated.
func (m *Metrics) RecordBatch(ctx context.Context, kind string, entities int64) {
	kindAttr := metric.WithAttributes(attribute.String("kind", kind))
	m.BatchesTotal.Add(ctx, 1, kindAttr)
	m.EntitiesAffectedTotal.Add(ctx, entities, kindAttr)
}

// RecordBatchDuration records one chunk transaction attempt.
func (m *Metrics) RecordBatchDuration(ctx context.Context, kind string, d time.Duration, committed bool) {
	m.BatchDuration.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.Bool("committed", committed),
	))
}

// RecordAuditFallback records one diverted audit record.
func (m *Metrics) RecordAuditFallback(ctx context.Context) {
	m.AuditFallbacksTotal.Add(ctx, 1)
}
