// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package store defines the property-graph contract consumed by the mutation
// engine.
//
// The engine never talks to a concrete database directly. It depends on the
// Graph interface, which exposes exactly the operations the engine needs:
// bounded counting and sampling, index existence/creation, and batch-scoped
// atomic transactions. Production deployments use the Neo4j adapter in the
// neo4j subpackage; tests use the transactional in-memory store in the memory
// subpackage.
package store

import (
	"context"
	"errors"
)

var (
	// ErrStoreUnavailable is returned when the backing store cannot be reached.
	ErrStoreUnavailable = errors.New("graph store is not available")

	// ErrTransactionFailed is returned when a batch transaction could not commit.
	// The batch's writes are rolled back by the store before this is surfaced.
	ErrTransactionFailed = errors.New("batch transaction failed")
)

// Node is a bounded snapshot of a graph node, used for plan previews.
type Node struct {
	// ID is the store-assigned node identifier.
	ID string `json:"id"`

	// Labels are the type tags carried by the node.
	Labels []string `json:"labels"`

	// Properties holds the node's key/value properties.
	Properties map[string]any `json:"properties,omitempty"`
}

// Criteria selects a set of nodes. Exactly one selection mode is active:
// orphan selection when Orphaned is true, label/property selection otherwise.
type Criteria struct {
	// Label restricts matches to nodes carrying this label.
	// Empty means any label.
	Label string

	// HasProperty restricts matches to nodes where this property is present.
	// Empty means no property restriction.
	HasProperty string

	// Orphaned restricts matches to nodes with zero incident relationships.
	// When true, Label and HasProperty are ignored.
	Orphaned bool
}

// BatchTx is the write surface available inside one batch transaction.
//
// All operations within a single BatchTx commit or roll back together.
// Implementations must not make any write visible before commit.
type BatchTx interface {
	// AddLabel adds a label to every node in ids.
	AddLabel(ctx context.Context, ids []string, label string) error

	// RemoveLabel removes a label from every node in ids.
	RemoveLabel(ctx context.Context, ids []string, label string) error

	// DeleteNodes deletes the nodes in ids along with their relationships.
	DeleteNodes(ctx context.Context, ids []string) error
}

// Graph is the synchronous query/transaction interface the engine consumes.
//
// Thread Safety: implementations must be safe for concurrent use; the engine
// permits concurrent invocations over the same store.
type Graph interface {
	// CountNodes returns the number of nodes matching the criteria without
	// materializing them.
	CountNodes(ctx context.Context, c Criteria) (int64, error)

	// SampleNodes returns up to limit matching nodes for preview purposes.
	// The result size is bounded by limit regardless of the total match count.
	SampleNodes(ctx context.Context, c Criteria, limit int) ([]Node, error)

	// NodeIDs returns up to limit IDs of matching nodes. Callers re-query
	// after mutating, so no stable ordering across calls is guaranteed.
	NodeIDs(ctx context.Context, c Criteria, limit int) ([]string, error)

	// IndexExists reports whether a property index exists for label/property.
	IndexExists(ctx context.Context, label, property string) (bool, error)

	// CreateIndex creates a property index for label/property. Creating an
	// index that already exists is not an error.
	CreateIndex(ctx context.Context, label, property string) error

	// WithBatch runs fn inside one atomic transaction. If fn returns nil the
	// transaction commits; otherwise it rolls back and the error is returned
	// wrapped in ErrTransactionFailed semantics.
	WithBatch(ctx context.Context, fn func(tx BatchTx) error) error
}
