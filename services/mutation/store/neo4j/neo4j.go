// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package neo4j adapts a Neo4j database to the store.Graph contract.
//
// Each engine batch maps onto one managed write transaction, so the
// commit-or-rollback guarantee comes directly from the database. Node
// identity uses elementId(), which is stable for the lifetime of a node.
package neo4j

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/AleutianAI/graphops/services/mutation/store"
)

// Config holds Neo4j connection settings.
type Config struct {
	// URI is the bolt/neo4j connection URI (e.g., "neo4j://localhost:7687").
	URI string

	// Username for basic auth. Empty disables auth.
	Username string

	// Password for basic auth.
	Password string

	// Database is the target database name. Empty uses the server default.
	Database string

	// Logger for store-level diagnostics. Defaults to slog.Default().
	Logger *slog.Logger
}

// Validate checks the configuration for required fields.
func (c *Config) Validate() error {
	if c.URI == "" {
		return fmt.Errorf("neo4j: URI is required")
	}
	return nil
}

// Store implements store.Graph over a Neo4j driver.
//
// Thread Safety: safe for concurrent use. The underlying driver manages
// its own connection pool.
type Store struct {
	driver   neo4j.DriverWithContext
	database string
	logger   *slog.Logger
}

// Verify interface compliance at compile time.
var _ store.Graph = (*Store)(nil)

// NewStore connects to Neo4j and verifies connectivity.
func NewStore(ctx context.Context, cfg Config) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	auth := neo4j.NoAuth()
	if cfg.Username != "" {
		auth = neo4j.BasicAuth(cfg.Username, cfg.Password, "")
	}

	driver, err := neo4j.NewDriverWithContext(cfg.URI, auth)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrStoreUnavailable, err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("%w: %v", store.ErrStoreUnavailable, err)
	}

	logger.Info("Connected to Neo4j",
		slog.String("component", "neo4j_store"),
		slog.String("uri", cfg.URI),
		slog.String("database", cfg.Database))

	return &Store{driver: driver, database: cfg.Database, logger: logger}, nil
}

// Close releases the driver's connection pool.
func (s *Store) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}

// matchClause builds the MATCH/WHERE fragment for the criteria. Labels and
// property names are sanitized and inlined because Cypher does not
// parameterize them.
func matchClause(c store.Criteria) (string, error) {
	if c.Orphaned {
		return "MATCH (n) WHERE NOT (n)--()", nil
	}
	var b strings.Builder
	b.WriteString("MATCH (n")
	if c.Label != "" {
		ident, err := escapeIdent(c.Label)
		if err != nil {
			return "", err
		}
		b.WriteString(":" + ident)
	}
	b.WriteString(")")
	if c.HasProperty != "" {
		ident, err := escapeIdent(c.HasProperty)
		if err != nil {
			return "", err
		}
		b.WriteString(" WHERE n." + ident + " IS NOT NULL")
	}
	return b.String(), nil
}

// escapeIdent backtick-quotes a Cypher identifier, rejecting names that
// could break out of the quoting.
func escapeIdent(name string) (string, error) {
	if strings.ContainsAny(name, "`\x00") {
		return "", fmt.Errorf("invalid identifier %q", name)
	}
	return "`" + name + "`", nil
}

// CountNodes counts matching nodes without materializing them.
func (s *Store) CountNodes(ctx context.Context, c store.Criteria) (int64, error) {
	match, err := matchClause(c)
	if err != nil {
		return 0, err
	}
	query := match + " RETURN count(n) AS c"

	result, err := s.read(ctx, query, nil)
	if err != nil {
		return 0, err
	}
	if len(result.Records) == 0 {
		return 0, nil
	}
	count, _, err := neo4j.GetRecordValue[int64](result.Records[0], "c")
	if err != nil {
		return 0, fmt.Errorf("neo4j: count result: %w", err)
	}
	return count, nil
}

// SampleNodes returns up to limit matching nodes with labels and properties.
func (s *Store) SampleNodes(ctx context.Context, c store.Criteria, limit int) ([]store.Node, error) {
	match, err := matchClause(c)
	if err != nil {
		return nil, err
	}
	query := match + " RETURN elementId(n) AS id, labels(n) AS labels, properties(n) AS props LIMIT $limit"

	result, err := s.read(ctx, query, map[string]any{"limit": limit})
	if err != nil {
		return nil, err
	}

	nodes := make([]store.Node, 0, len(result.Records))
	for _, rec := range result.Records {
		id, _, err := neo4j.GetRecordValue[string](rec, "id")
		if err != nil {
			return nil, fmt.Errorf("neo4j: sample result: %w", err)
		}
		node := store.Node{ID: id}
		if raw, ok := rec.Get("labels"); ok {
			if labels, ok := raw.([]any); ok {
				for _, l := range labels {
					if s, ok := l.(string); ok {
						node.Labels = append(node.Labels, s)
					}
				}
			}
		}
		if raw, ok := rec.Get("props"); ok {
			if props, ok := raw.(map[string]any); ok {
				node.Properties = props
			}
		}
		nodes = append(nodes, node)
	}
	return nodes, nil
}

// NodeIDs returns up to limit element IDs of matching nodes.
func (s *Store) NodeIDs(ctx context.Context, c store.Criteria, limit int) ([]string, error) {
	match, err := matchClause(c)
	if err != nil {
		return nil, err
	}
	query := match + " RETURN elementId(n) AS id LIMIT $limit"

	result, err := s.read(ctx, query, map[string]any{"limit": limit})
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(result.Records))
	for _, rec := range result.Records {
		id, _, err := neo4j.GetRecordValue[string](rec, "id")
		if err != nil {
			return nil, fmt.Errorf("neo4j: id result: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// IndexExists reports whether a single-property range index covers
// label/property.
func (s *Store) IndexExists(ctx context.Context, label, property string) (bool, error) {
	query := "SHOW INDEXES YIELD labelsOrTypes, properties " +
		"WHERE $label IN labelsOrTypes AND $property IN properties " +
		"RETURN count(*) AS c"

	result, err := s.read(ctx, query, map[string]any{"label": label, "property": property})
	if err != nil {
		return false, err
	}
	if len(result.Records) == 0 {
		return false, nil
	}
	count, _, err := neo4j.GetRecordValue[int64](result.Records[0], "c")
	if err != nil {
		return false, fmt.Errorf("neo4j: index query: %w", err)
	}
	return count > 0, nil
}

// CreateIndex creates a single-property range index. IF NOT EXISTS makes
// re-creation a no-op at the database level.
func (s *Store) CreateIndex(ctx context.Context, label, property string) error {
	labelIdent, err := escapeIdent(label)
	if err != nil {
		return err
	}
	propIdent, err := escapeIdent(property)
	if err != nil {
		return err
	}
	// Index names are constrained to [A-Za-z0-9_]; derive a stable one.
	name := "idx_" + sanitizeName(label) + "_" + sanitizeName(property)
	query := fmt.Sprintf("CREATE INDEX %s IF NOT EXISTS FOR (n:%s) ON (n.%s)",
		name, labelIdent, propIdent)

	_, err = neo4j.ExecuteQuery(ctx, s.driver, query, nil,
		neo4j.EagerResultTransformer, neo4j.ExecuteQueryWithDatabase(s.database))
	if err != nil {
		return fmt.Errorf("%w: create index: %v", store.ErrStoreUnavailable, err)
	}

	s.logger.Info("Created index",
		slog.String("component", "neo4j_store"),
		slog.String("label", label),
		slog.String("property", property))
	return nil
}

func sanitizeName(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

// WithBatch runs fn inside one managed write transaction. The driver commits
// when fn returns nil and rolls back otherwise; retries of transient errors
// re-run fn, so fn must be idempotent within the batch.
func (s *Store) WithBatch(ctx context.Context, fn func(tx store.BatchTx) error) error {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{
		DatabaseName: s.database,
		AccessMode:   neo4j.AccessModeWrite,
	})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return nil, fn(&batchTx{tx: tx})
	})
	if err != nil {
		return fmt.Errorf("%w: %v", store.ErrTransactionFailed, err)
	}
	return nil
}

// batchTx implements store.BatchTx over a managed transaction.
type batchTx struct {
	tx neo4j.ManagedTransaction
}

func (b *batchTx) AddLabel(ctx context.Context, ids []string, label string) error {
	ident, err := escapeIdent(label)
	if err != nil {
		return err
	}
	query := "MATCH (n) WHERE elementId(n) IN $ids SET n:" + ident
	_, err = b.tx.Run(ctx, query, map[string]any{"ids": ids})
	return err
}

func (b *batchTx) RemoveLabel(ctx context.Context, ids []string, label string) error {
	ident, err := escapeIdent(label)
	if err != nil {
		return err
	}
	query := "MATCH (n) WHERE elementId(n) IN $ids REMOVE n:" + ident
	_, err = b.tx.Run(ctx, query, map[string]any{"ids": ids})
	return err
}

func (b *batchTx) DeleteNodes(ctx context.Context, ids []string) error {
	query := "MATCH (n) WHERE elementId(n) IN $ids DETACH DELETE n"
	_, err := b.tx.Run(ctx, query, map[string]any{"ids": ids})
	return err
}

// read runs a read-mode query through the driver's ExecuteQuery path.
func (s *Store) read(ctx context.Context, query string, params map[string]any) (*neo4j.EagerResult, error) {
	result, err := neo4j.ExecuteQuery(ctx, s.driver, query, params,
		neo4j.EagerResultTransformer,
		neo4j.ExecuteQueryWithDatabase(s.database),
		neo4j.ExecuteQueryWithReadersRouting())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrStoreUnavailable, err)
	}
	return result, nil
}
