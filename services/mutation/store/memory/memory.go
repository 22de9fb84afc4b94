// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package memory provides an in-memory transactional property graph.
//
// It implements store.Graph with real transaction semantics: writes inside a
// batch are staged and applied atomically under a single lock, so a failing
// batch leaves the graph untouched. Failure injection hooks make it suitable
// for exercising the engine's partial-failure and timeout paths in tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/AleutianAI/graphops/services/mutation/store"
)

// node is the internal mutable representation.
type node struct {
	id     string
	labels map[string]struct{}
	props  map[string]any
	degree int
}

// Store is an in-memory store.Graph implementation.
//
// Thread Safety: safe for concurrent use.
type Store struct {
	mu      sync.Mutex
	nodes   map[string]*node
	indexes map[string]struct{} // "label/property"
	nextID  int

	// batchDelay is slept inside every batch transaction. Used by tests to
	// force the deadline supervisor to fire between chunks.
	batchDelay time.Duration

	// failAfterBatches, when >= 0, fails every batch after that many have
	// committed. -1 disables injection.
	failAfterBatches int

	batchesCommitted int
	batchesOpened    int
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		nodes:            make(map[string]*node),
		indexes:          make(map[string]struct{}),
		failAfterBatches: -1,
	}
}

// AddNode inserts a node with the given labels and properties and returns its ID.
func (s *Store) AddNode(labels []string, props map[string]any) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	id := fmt.Sprintf("n%d", s.nextID)
	n := &node{
		id:     id,
		labels: make(map[string]struct{}, len(labels)),
		props:  make(map[string]any, len(props)),
	}
	for _, l := range labels {
		n.labels[l] = struct{}{}
	}
	for k, v := range props {
		n.props[k] = v
	}
	s.nodes[id] = n
	return id
}

// Relate records a relationship between two nodes. Only the incident degree
// is tracked; the engine never traverses relationships.
func (s *Store) Relate(fromID, toID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n, ok := s.nodes[fromID]; ok {
		n.degree++
	}
	if n, ok := s.nodes[toID]; ok {
		n.degree++
	}
}

// SetBatchDelay makes every batch transaction take at least d.
func (s *Store) SetBatchDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batchDelay = d
}

// FailAfterBatches makes every batch after the first n fail and roll back.
func (s *Store) FailAfterBatches(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failAfterBatches = n
}

// BatchesOpened reports how many batch transactions have been started.
func (s *Store) BatchesOpened() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.batchesOpened
}

// NodeCount returns the total number of nodes in the store.
func (s *Store) NodeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.nodes)
}

// HasLabel reports whether the node exists and carries the label.
func (s *Store) HasLabel(id, label string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes[id]
	if !ok {
		return false
	}
	_, ok = n.labels[label]
	return ok
}

// matches reports whether n satisfies the criteria. Caller holds s.mu.
func matches(n *node, c store.Criteria) bool {
	if c.Orphaned {
		return n.degree == 0
	}
	if c.Label != "" {
		if _, ok := n.labels[c.Label]; !ok {
			return false
		}
	}
	if c.HasProperty != "" {
		if _, ok := n.props[c.HasProperty]; !ok {
			return false
		}
	}
	return true
}

// matchingIDs returns sorted IDs of matching nodes. Caller holds s.mu.
func (s *Store) matchingIDs(c store.Criteria) []string {
	var ids []string
	for id, n := range s.nodes {
		if matches(n, c) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// CountNodes implements store.Graph.
func (s *Store) CountNodes(ctx context.Context, c store.Criteria) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.matchingIDs(c))), nil
}

// SampleNodes implements store.Graph.
func (s *Store) SampleNodes(ctx context.Context, c store.Criteria, limit int) ([]store.Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := s.matchingIDs(c)
	if len(ids) > limit {
		ids = ids[:limit]
	}

	out := make([]store.Node, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.snapshot(s.nodes[id]))
	}
	return out, nil
}

// NodeIDs implements store.Graph.
func (s *Store) NodeIDs(ctx context.Context, c store.Criteria, limit int) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := s.matchingIDs(c)
	if len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

// IndexExists implements store.Graph.
func (s *Store) IndexExists(ctx context.Context, label, property string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.indexes[label+"/"+property]
	return ok, nil
}

// CreateIndex implements store.Graph.
func (s *Store) CreateIndex(ctx context.Context, label, property string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.indexes[label+"/"+property] = struct{}{}
	return nil
}

// IndexCount returns how many indexes exist.
func (s *Store) IndexCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.indexes)
}

// stagedOp is a single write staged inside a batch transaction.
type stagedOp struct {
	addLabel    string
	removeLabel string
	deleteNodes bool
	ids         []string
}

// batchTx stages writes until commit.
type batchTx struct {
	s   *Store
	ops []stagedOp
}

func (t *batchTx) AddLabel(ctx context.Context, ids []string, label string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.ops = append(t.ops, stagedOp{addLabel: label, ids: ids})
	return nil
}

func (t *batchTx) RemoveLabel(ctx context.Context, ids []string, label string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.ops = append(t.ops, stagedOp{removeLabel: label, ids: ids})
	return nil
}

func (t *batchTx) DeleteNodes(ctx context.Context, ids []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.ops = append(t.ops, stagedOp{deleteNodes: true, ids: ids})
	return nil
}

// WithBatch implements store.Graph. Staged writes apply atomically under the
// store lock only after fn returns nil; any error discards the staging.
func (s *Store) WithBatch(ctx context.Context, fn func(tx store.BatchTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	s.batchesOpened++
	delay := s.batchDelay
	failAfter := s.failAfterBatches
	committed := s.batchesCommitted
	s.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	if failAfter >= 0 && committed >= failAfter {
		return fmt.Errorf("%w: injected failure after %d batches", store.ErrTransactionFailed, failAfter)
	}

	tx := &batchTx{s: s}
	if err := fn(tx); err != nil {
		return fmt.Errorf("%w: %w", store.ErrTransactionFailed, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, op := range tx.ops {
		for _, id := range op.ids {
			n, ok := s.nodes[id]
			if !ok {
				continue
			}
			switch {
			case op.deleteNodes:
				delete(s.nodes, id)
			case op.addLabel != "":
				n.labels[op.addLabel] = struct{}{}
			case op.removeLabel != "":
				delete(n.labels, op.removeLabel)
			}
		}
	}
	s.batchesCommitted++
	return nil
}

// snapshot copies a node into the exported representation. Caller holds s.mu.
func (s *Store) snapshot(n *node) store.Node {
	labels := make([]string, 0, len(n.labels))
	for l := range n.labels {
		labels = append(labels, l)
	}
	sort.Strings(labels)

	props := make(map[string]any, len(n.props))
	for k, v := range n.props {
		props[k] = v
	}

	return store.Node{ID: n.id, Labels: labels, Properties: props}
}
