// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package authz implements the authorization gate for destructive graph
// mutations.
//
// Every mutation requires the ADMIN role plus an operation-specific
// permission. The check itself is a pure function over the caller's
// AuthContext; the Gate wrapper adds the mandatory DENIED audit record so
// authorization failures are never silent.
package authz

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

var (
	// ErrUnauthenticated is returned when no valid caller identity is present.
	ErrUnauthenticated = errors.New("caller is not authenticated")

	// ErrUnauthorized is returned when the caller's role or permission set
	// does not allow the requested operation.
	ErrUnauthorized = errors.New("caller is not authorized")
)

// Role is the closed set of caller roles.
type Role string

const (
	// RoleUser is a read-only chat user.
	RoleUser Role = "USER"

	// RoleExtractor is the data-extraction service identity.
	RoleExtractor Role = "EXTRACTOR"

	// RoleAdmin is the only role permitted to run mutations.
	RoleAdmin Role = "ADMIN"
)

// Valid reports whether the role is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleExtractor, RoleAdmin:
		return true
	}
	return false
}

// Permission is an operation-specific capability.
type Permission string

const (
	// PermReindex allows rebuilding property indexes.
	PermReindex Permission = "REINDEX"

	// PermManageSchema allows label migrations.
	PermManageSchema Permission = "MANAGE_SCHEMA"

	// PermAdminOperations allows orphan cleanup and other admin-only sweeps.
	PermAdminOperations Permission = "ADMIN_OPERATIONS"
)

// Context is the caller identity passed by value into the engine.
//
// The engine never persists a Context beyond one invocation.
type Context struct {
	// UserID identifies the caller. Empty means unauthenticated.
	UserID string `json:"user_id"`

	// Role is the caller's role.
	Role Role `json:"role"`

	// Permissions is the caller's granted permission set.
	Permissions []Permission `json:"permissions,omitempty"`
}

// Has reports whether the context carries the permission.
func (c Context) Has(p Permission) bool {
	for _, granted := range c.Permissions {
		if granted == p {
			return true
		}
	}
	return false
}

// Check is the pure authorization decision: ADMIN role plus the required
// permission. It performs no I/O and never audits; use Gate.Authorize for
// the audited path.
func Check(caller Context, required Permission) error {
	if caller.UserID == "" || !caller.Role.Valid() {
		return ErrUnauthenticated
	}
	if caller.Role != RoleAdmin {
		return fmt.Errorf("%w: role %s cannot run mutations", ErrUnauthorized, caller.Role)
	}
	if !caller.Has(required) {
		return fmt.Errorf("%w: missing permission %s", ErrUnauthorized, required)
	}
	return nil
}

// DeniedAuditor receives the mandatory DENIED record for rejected callers.
//
// Implementations must not fail the authorization path; see the audit package.
type DeniedAuditor interface {
	RecordDenied(ctx context.Context, caller Context, operation string, reason error)
}

// Gate validates callers before any store access and audits every denial.
//
// Thread Safety: safe for concurrent use.
type Gate struct {
	auditor DeniedAuditor
	logger  *slog.Logger
}

// NewGate creates a gate. auditor may be nil, in which case denials are only
// logged (used by tests of the pure check path).
func NewGate(auditor DeniedAuditor, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{
		auditor: auditor,
		logger:  logger.With(slog.String("component", "authz_gate")),
	}
}

// Authorize validates the caller for the named operation. On failure it
// synchronously writes a DENIED audit record before returning the error, so
// rejected attempts are always traceable.
//
// No retries: the decision is deterministic for a given caller.
func (g *Gate) Authorize(ctx context.Context, caller Context, operation string, required Permission) error {
	err := Check(caller, required)
	if err == nil {
		return nil
	}

	g.logger.Warn("mutation denied",
		slog.String("operation", operation),
		slog.String("user_id", caller.UserID),
		slog.String("role", string(caller.Role)),
		slog.String("reason", err.Error()))

	if g.auditor != nil {
		g.auditor.RecordDenied(ctx, caller, operation, err)
	}
	return err
}
