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

	"github.com/AleutianAI/graphops/services/mutation/authz"
)

// Logger writes audit records without ever surfacing a failure to the
// mutation path. Primary sink errors degrade to the fallback sink; fallback
// errors degrade to a log line. Audit completeness matters, but it must not
// become a new failure mode for the operation being audited.
//
// Thread Safety: safe for concurrent use.
type Logger struct {
	primary  Sink
	fallback Sink
	logger   *slog.Logger

	// onFallback, when set, is called each time a record lands in the
	// fallback sink. Used for metrics.
	onFallback func()
}

// NewLogger creates an audit logger. fallback may be nil, in which case
// primary failures degrade straight to log lines.
func NewLogger(primary Sink, fallback Sink, logger *slog.Logger) *Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Logger{
		primary:  primary,
		fallback: fallback,
		logger:   logger.With(slog.String("component", "audit_logger")),
	}
}

// OnFallback registers a callback fired when a record is diverted to the
// fallback sink. Must be called before the logger is shared.
func (l *Logger) OnFallback(fn func()) {
	l.onFallback = fn
}

// Record persists one record, best effort. Never returns an error and never
// panics.
func (l *Logger) Record(ctx context.Context, rec Record) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("audit sink panicked",
				slog.String("audit_id", rec.ID),
				slog.Any("panic", r))
		}
	}()

	// Audit writes must survive caller cancellation: a timed-out invocation
	// still gets its record.
	ctx = context.WithoutCancel(ctx)

	if l.primary != nil {
		err := l.primary.Write(ctx, rec)
		if err == nil {
			return
		}
		l.logger.Warn("primary audit sink failed, using fallback",
			slog.String("audit_id", rec.ID),
			slog.String("error", err.Error()))
	}

	if l.fallback != nil {
		err := l.fallback.Write(ctx, rec)
		if err == nil {
			if l.onFallback != nil {
				l.onFallback()
			}
			return
		}
		l.logger.Error("fallback audit sink failed, record degraded to log",
			slog.String("audit_id", rec.ID),
			slog.String("error", err.Error()))
	}

	l.logger.Error("audit record lost to sinks, logging inline",
		slog.String("audit_id", rec.ID),
		slog.String("operation", rec.OperationKind),
		slog.String("outcome", string(rec.Outcome)),
		slog.String("requested_by", rec.RequestedBy),
		slog.Int64("affected_count", rec.AffectedCount),
		slog.String("error_detail", rec.ErrorDetail))
}

// RecordDenied implements authz.DeniedAuditor.
func (l *Logger) RecordDenied(ctx context.Context, caller authz.Context, operation string, reason error) {
	rec := NewRecord(operation, OutcomeDenied)
	rec.RequestedBy = caller.UserID
	rec.Role = string(caller.Role)
	if reason != nil {
		rec.ErrorDetail = reason.Error()
	}
	l.Record(ctx, rec)
}

// Close closes both sinks, primary first.
func (l *Logger) Close() error {
	var firstErr error
	if l.primary != nil {
		if err := l.primary.Close(); err != nil {
			firstErr = err
		}
	}
	if l.fallback != nil {
		if err := l.fallback.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
