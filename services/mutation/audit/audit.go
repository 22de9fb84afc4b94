// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package audit records one structured, append-only record per mutation
// invocation, independent of outcome.
//
// The Logger never fails the caller's operation: sink errors degrade to a
// durable local Badger buffer, and buffer errors degrade to a log line.
// Buffered records can be replayed into the primary sink once it recovers.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Outcome classifies how an invocation ended.
type Outcome string

const (
	// OutcomePreviewed means a dry run returned a plan without mutating.
	OutcomePreviewed Outcome = "PREVIEWED"

	// OutcomeCommitted means all planned work committed.
	OutcomeCommitted Outcome = "COMMITTED"

	// OutcomeRolledBack means execution failed before any chunk committed;
	// the store is unchanged.
	OutcomeRolledBack Outcome = "ROLLED_BACK"

	// OutcomeTimedOut means the deadline expired with some whole chunks
	// durable; partial work remains committed.
	OutcomeTimedOut Outcome = "TIMED_OUT"

	// OutcomeDenied means the authorization gate rejected the caller.
	OutcomeDenied Outcome = "DENIED"

	// OutcomeFailed means validation or a mid-run store error halted the
	// invocation; any chunks committed before the failure remain durable.
	OutcomeFailed Outcome = "FAILED"
)

// Record is one append-only audit entry. Records are written exactly once
// per invocation attempt and never updated or deleted by this engine.
type Record struct {
	// ID uniquely identifies this record.
	ID string `json:"id"`

	// Timestamp is when the record was created.
	Timestamp time.Time `json:"timestamp"`

	// OperationKind names the requested mutation (REINDEX, LABEL_MIGRATE,
	// ORPHAN_CLEANUP).
	OperationKind string `json:"operation_kind"`

	// RequestedBy is the caller's user ID.
	RequestedBy string `json:"requested_by"`

	// Role is the caller's role at invocation time.
	Role string `json:"role"`

	// Parameters captures the request parameters verbatim.
	Parameters map[string]any `json:"parameters,omitempty"`

	// DryRun records whether this was a preview.
	DryRun bool `json:"dry_run"`

	// Outcome classifies the result.
	Outcome Outcome `json:"outcome"`

	// AffectedCount is the number of entities durably mutated (zero for
	// previews and denials; the planned count for previews is in Parameters).
	AffectedCount int64 `json:"affected_count"`

	// DurationMs is the wall-clock invocation duration.
	DurationMs int64 `json:"duration_ms"`

	// ErrorDetail holds the error text for DENIED/FAILED/ROLLED_BACK records.
	ErrorDetail string `json:"error_detail,omitempty"`
}

// NewRecord creates a record with a fresh ID and timestamp.
func NewRecord(kind string, outcome Outcome) Record {
	return Record{
		ID:            uuid.NewString(),
		Timestamp:     time.Now().UTC(),
		OperationKind: kind,
		Outcome:       outcome,
	}
}

// Sink receives audit records for durable storage. The sink is constructed
// once at process start and injected wherever records are produced; there is
// no package-level singleton.
//
// Thread Safety: implementations must be safe for concurrent use.
type Sink interface {
	// Write persists one record. Write must not block indefinitely; the
	// Logger treats any error as a signal to fall back.
	Write(ctx context.Context, rec Record) error

	// Close flushes and releases sink resources.
	Close() error
}
