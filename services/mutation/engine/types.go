// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package engine implements safe, irreversible structural mutations of a
// property graph: index rebuilds, label migrations, and orphan cleanup.
//
// Every invocation flows through the same pipeline: authorization gate,
// read-only planning, and (only when explicitly confirmed) chunked
// transactional execution under a wall-clock deadline. One audit record is
// written per invocation regardless of outcome.
//
// The engine applies chunks sequentially and imposes no cross-invocation
// locking; callers are responsible for not racing two mutations over the
// same entity set.
package engine

import (
	"time"

	"github.com/AleutianAI/graphops/services/mutation/authz"
	"github.com/AleutianAI/graphops/services/mutation/store"
)

// Kind identifies the mutation operation.
type Kind string

const (
	// KindReindex rebuilds a property index (single store-level call).
	KindReindex Kind = "REINDEX"

	// KindLabelMigrate moves nodes from one label to another in chunks.
	KindLabelMigrate Kind = "LABEL_MIGRATE"

	// KindOrphanCleanup deletes relationship-less nodes in chunks.
	KindOrphanCleanup Kind = "ORPHAN_CLEANUP"
)

// String returns the wire name of the kind.
func (k Kind) String() string {
	return string(k)
}

// Valid reports whether k is a known operation kind.
func (k Kind) Valid() bool {
	switch k {
	case KindReindex, KindLabelMigrate, KindOrphanCleanup:
		return true
	}
	return false
}

// RequiredPermission returns the permission gating this kind.
func (k Kind) RequiredPermission() authz.Permission {
	switch k {
	case KindReindex:
		return authz.PermReindex
	case KindLabelMigrate:
		return authz.PermManageSchema
	default:
		return authz.PermAdminOperations
	}
}

// Operation-kind ceilings and tunables. The batch size and deadline apply to
// the chunked kinds only; REINDEX is one store call bounded by the store.
const (
	// DefaultBatchSize is the fixed chunk size for chunked operations.
	DefaultBatchSize = 100

	// DefaultDeadline bounds one chunked execution.
	DefaultDeadline = 300 * time.Second

	// MaxAffectedReindex is the node ceiling for index rebuilds.
	MaxAffectedReindex = 100_000

	// MaxAffectedLabelMigrate is the node ceiling for label migrations.
	MaxAffectedLabelMigrate = 10_000

	// MaxDeleteOrphans is the hard cap on nodes deleted per cleanup run.
	// Callers may request less, never more.
	MaxDeleteOrphans = 1_000
)

// Per-entity planning cost constants, calibrated per operation kind.
const (
	costPerEntityReindex = 50 * time.Microsecond
	costPerEntityMigrate = 2 * time.Millisecond
	costPerEntityCleanup = 3 * time.Millisecond
)

// maxAffected returns the default ceiling for the kind.
func (k Kind) maxAffected() int64 {
	switch k {
	case KindReindex:
		return MaxAffectedReindex
	case KindLabelMigrate:
		return MaxAffectedLabelMigrate
	default:
		return MaxDeleteOrphans
	}
}

// costPerEntity returns the estimated per-entity duration for the kind.
func (k Kind) costPerEntity() time.Duration {
	switch k {
	case KindReindex:
		return costPerEntityReindex
	case KindLabelMigrate:
		return costPerEntityMigrate
	default:
		return costPerEntityCleanup
	}
}

// Selector names the target entity set of a request.
type Selector struct {
	// Label and Property target REINDEX.
	Label    string `json:"label,omitempty"`
	Property string `json:"property,omitempty"`

	// OldLabel and NewLabel target LABEL_MIGRATE.
	OldLabel string `json:"old_label,omitempty"`
	NewLabel string `json:"new_label,omitempty"`
}

// Request is an immutable description of a requested mutation. Construct it
// with NewRequest so defaults match the preview-before-commit contract.
type Request struct {
	// Kind is the operation to perform.
	Kind Kind

	// Target selects the affected entity set. Unused for ORPHAN_CLEANUP.
	Target Selector

	// DryRun previews the operation without mutating. Default true.
	DryRun bool

	// Confirm is the explicit consent required for execution. Execution with
	// Confirm=false is a validation error, checked before any store access.
	Confirm bool

	// MaxAffected overrides the kind's default ceiling when positive. For
	// ORPHAN_CLEANUP it is the delete budget and is capped at
	// MaxDeleteOrphans; for the other kinds values above the default are
	// rejected.
	MaxAffected int64

	// RequestedBy identifies the caller. Passed by value and never retained
	// past the invocation.
	RequestedBy authz.Context
}

// NewRequest creates a request with the safe defaults: dry run on, no
// confirmation, kind-default ceiling.
func NewRequest(kind Kind, target Selector, caller authz.Context) Request {
	return Request{
		Kind:        kind,
		Target:      target,
		DryRun:      true,
		RequestedBy: caller,
	}
}

// criteria maps the request's target onto a store selection.
func (r Request) criteria() store.Criteria {
	switch r.Kind {
	case KindReindex:
		return store.Criteria{Label: r.Target.Label, HasProperty: r.Target.Property}
	case KindLabelMigrate:
		return store.Criteria{Label: r.Target.OldLabel}
	default:
		return store.Criteria{Orphaned: true}
	}
}

// auditParameters flattens the request for the audit record.
func (r Request) auditParameters() map[string]any {
	params := map[string]any{
		"dry_run":      r.DryRun,
		"confirm":      r.Confirm,
		"max_affected": r.MaxAffected,
	}
	if r.Target.Label != "" {
		params["label"] = r.Target.Label
	}
	if r.Target.Property != "" {
		params["property"] = r.Target.Property
	}
	if r.Target.OldLabel != "" {
		params["old_label"] = r.Target.OldLabel
	}
	if r.Target.NewLabel != "" {
		params["new_label"] = r.Target.NewLabel
	}
	return params
}

// Plan is the read-only output of planning. Created fresh per request and
// never mutated after construction.
type Plan struct {
	// AffectedCount is the total number of matching entities.
	AffectedCount int64 `json:"affected_count"`

	// TargetCount is the number of entities execution would touch. Equal to
	// AffectedCount except for ORPHAN_CLEANUP, where it is capped by the
	// delete budget.
	TargetCount int64 `json:"target_count"`

	// SampleEntities is a bounded preview of affected entities.
	SampleEntities []store.Node `json:"sample_entities,omitempty"`

	// EstimatedDuration is the projected execution time.
	EstimatedDuration time.Duration `json:"estimated_duration"`

	// EstimatedBatchCount is the projected number of chunk transactions.
	// Zero for REINDEX.
	EstimatedBatchCount int `json:"estimated_batch_count"`

	// AlreadySatisfied is true when the operation would be a no-op (for
	// REINDEX: the index already exists).
	AlreadySatisfied bool `json:"already_satisfied"`

	// Warnings carries human-readable planning observations.
	Warnings []string `json:"warnings,omitempty"`
}

// ExecStatus is the tagged outcome of an execution. Timeout is an expected,
// handleable variant, not an error.
type ExecStatus int

const (
	// StatusCompleted means all planned work committed.
	StatusCompleted ExecStatus = iota

	// StatusPartialTimeout means the deadline expired between chunks; all
	// completed chunks are durable.
	StatusPartialTimeout

	// StatusFailed means a chunk transaction failed; the failing chunk
	// rolled back, prior chunks remain durable.
	StatusFailed
)

// String returns the string representation of the status.
func (s ExecStatus) String() string {
	switch s {
	case StatusCompleted:
		return "completed"
	case StatusPartialTimeout:
		return "partial_timeout"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ExecutionResult reports what an execution durably changed.
type ExecutionResult struct {
	// Status is the tagged outcome.
	Status ExecStatus

	// BatchesCompleted is the number of committed chunk transactions.
	BatchesCompleted int

	// EntitiesAffected is the number of durably mutated entities. Always a
	// whole multiple of the batch size for chunked kinds unless the final
	// partial chunk committed.
	EntitiesAffected int64

	// Remaining is the number of matching entities left untouched (timeout,
	// failure, or a cleanup budget smaller than the orphan population).
	Remaining int64

	// Err is the chunk failure for StatusFailed; nil otherwise.
	Err error
}

// Result is the full outcome of Engine.Run, JSON-serializable for the
// calling tool layer.
type Result struct {
	// Kind echoes the operation.
	Kind Kind `json:"kind"`

	// DryRun reports whether this was a preview.
	DryRun bool `json:"dry_run"`

	// Plan is always present; execution details only when DryRun is false.
	Plan *Plan `json:"plan"`

	// Execution is nil for previews.
	Execution *ExecutionResult `json:"execution,omitempty"`

	// Duration is the wall-clock invocation time.
	Duration time.Duration `json:"duration"`
}
