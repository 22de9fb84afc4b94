// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package audit

import (
	"context"
	"log/slog"
	"sync"
)

// SlogSink writes records as structured log lines on a dedicated logger.
// Aggregation systems ingest these lines; the engine itself never reads
// them back.
//
// Thread Safety: safe for concurrent use.
type SlogSink struct {
	logger *slog.Logger
}

// NewSlogSink creates a sink over the given logger. Uses slog.Default()
// when logger is nil.
func NewSlogSink(logger *slog.Logger) *SlogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogSink{logger: logger.With(slog.String("component", "audit"))}
}

// Write implements Sink.
func (s *SlogSink) Write(ctx context.Context, rec Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "audit record",
		slog.String("audit_id", rec.ID),
		slog.Time("at", rec.Timestamp),
		slog.String("operation", rec.OperationKind),
		slog.String("requested_by", rec.RequestedBy),
		slog.String("role", rec.Role),
		slog.Bool("dry_run", rec.DryRun),
		slog.String("outcome", string(rec.Outcome)),
		slog.Int64("affected_count", rec.AffectedCount),
		slog.Int64("duration_ms", rec.DurationMs),
		slog.String("error_detail", rec.ErrorDetail),
		slog.Any("parameters", rec.Parameters))
	return nil
}

// Close implements Sink.
func (s *SlogSink) Close() error {
	return nil
}

// MemorySink collects records in memory. Test use only.
//
// Thread Safety: safe for concurrent use.
type MemorySink struct {
	mu      sync.Mutex
	records []Record
	failing bool
}

// NewMemorySink creates an empty memory sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// SetFailing toggles write failures.
func (s *MemorySink) SetFailing(failing bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failing = failing
}

// Write implements Sink.
func (s *MemorySink) Write(ctx context.Context, rec Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return errSinkUnavailable
	}
	s.records = append(s.records, rec)
	return nil
}

// Close implements Sink.
func (s *MemorySink) Close() error {
	return nil
}

// Records returns a snapshot of collected records.
func (s *MemorySink) Records() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Record, len(s.records))
	copy(out, s.records)
	return out
}
