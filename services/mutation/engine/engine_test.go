// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/graphops/services/mutation/audit"
	"github.com/AleutianAI/graphops/services/mutation/authz"
	"github.com/AleutianAI/graphops/services/mutation/store/memory"
)

// testHarness bundles an engine over an in-memory store with an
// inspectable audit trail.
type testHarness struct {
	engine *Engine
	store  *memory.Store
	sink   *audit.MemorySink
}

type harnessOption func(*Config)

func withDeadline(d time.Duration) harnessOption {
	return func(c *Config) { c.Deadline = d }
}

func newHarness(t *testing.T, opts ...harnessOption) *testHarness {
	t.Helper()

	st := memory.New()
	sink := audit.NewMemorySink()
	auditor := audit.NewLogger(sink, nil, nil)

	cfg := Config{Graph: st, Auditor: auditor}
	for _, opt := range opts {
		opt(&cfg)
	}

	eng, err := New(cfg)
	require.NoError(t, err)
	return &testHarness{engine: eng, store: st, sink: sink}
}

func (h *testHarness) lastAudit(t *testing.T) audit.Record {
	t.Helper()
	records := h.sink.Records()
	require.NotEmpty(t, records)
	return records[len(records)-1]
}

func adminCaller() authz.Context {
	return authz.Context{
		UserID: "admin@test",
		Role:   authz.RoleAdmin,
		Permissions: []authz.Permission{
			authz.PermReindex, authz.PermManageSchema, authz.PermAdminOperations,
		},
	}
}

// addMigratable seeds n nodes carrying the Employee label.
func addMigratable(s *memory.Store, n int) []string {
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		ids = append(ids, s.AddNode([]string{"Employee"}, nil))
	}
	return ids
}

// addOrphans seeds n relationship-less nodes.
func addOrphans(s *memory.Store, n int) {
	for i := 0; i < n; i++ {
		s.AddNode([]string{"Stale"}, nil)
	}
}

func migrateRequest() Request {
	return NewRequest(KindLabelMigrate, Selector{OldLabel: "Employee", NewLabel: "Person"}, adminCaller())
}

func confirmed(req Request) Request {
	req.DryRun = false
	req.Confirm = true
	return req
}

// =============================================================================
// Defaults and preview
// =============================================================================

func TestRun_DryRunIsTheDefaultAndMutatesNothing(t *testing.T) {
	h := newHarness(t)
	addMigratable(h.store, 250)

	res, err := h.engine.Run(context.Background(), migrateRequest())

	require.NoError(t, err)
	assert.True(t, res.DryRun)
	require.NotNil(t, res.Plan)
	assert.Equal(t, int64(250), res.Plan.AffectedCount)
	assert.Equal(t, 3, res.Plan.EstimatedBatchCount)
	assert.Len(t, res.Plan.SampleEntities, 5)
	assert.Nil(t, res.Execution)

	// No transaction was ever opened and the store is untouched.
	assert.Zero(t, h.store.BatchesOpened())
	count, _ := h.store.CountNodes(context.Background(), migrateRequest().criteria())
	assert.Equal(t, int64(250), count)

	rec := h.lastAudit(t)
	assert.Equal(t, audit.OutcomePreviewed, rec.Outcome)
	assert.True(t, rec.DryRun)
	assert.Equal(t, int64(250), rec.Parameters["planned_affected_count"])
}

func TestRun_PlanCostEstimate(t *testing.T) {
	h := newHarness(t)
	addMigratable(h.store, 200)

	res, err := h.engine.Run(context.Background(), migrateRequest())

	require.NoError(t, err)
	assert.Equal(t, 400*time.Millisecond, res.Plan.EstimatedDuration)
}

// =============================================================================
// Confirmation contract
// =============================================================================

func TestRun_ExecutionWithoutConfirmIsRefusedBeforeAnyStoreAccess(t *testing.T) {
	h := newHarness(t)
	addMigratable(h.store, 50)

	req := migrateRequest()
	req.DryRun = false

	res, err := h.engine.Run(context.Background(), req)

	require.ErrorIs(t, err, ErrConfirmationRequired)
	assert.True(t, IsValidation(err))
	assert.Nil(t, res)
	assert.Zero(t, h.store.BatchesOpened())

	rec := h.lastAudit(t)
	assert.Equal(t, audit.OutcomeFailed, rec.Outcome)
	assert.Zero(t, rec.AffectedCount)
}

// =============================================================================
// Authorization
// =============================================================================

func TestRun_DeniedCallers(t *testing.T) {
	tests := []struct {
		name    string
		caller  authz.Context
		wantErr error
	}{
		{
			name:    "user role",
			caller:  authz.Context{UserID: "u@test", Role: authz.RoleUser},
			wantErr: authz.ErrUnauthorized,
		},
		{
			name: "admin missing the specific permission",
			caller: authz.Context{
				UserID: "a@test", Role: authz.RoleAdmin,
				Permissions: []authz.Permission{authz.PermReindex},
			},
			wantErr: authz.ErrUnauthorized,
		},
		{
			name:    "unauthenticated",
			caller:  authz.Context{},
			wantErr: authz.ErrUnauthenticated,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			addMigratable(h.store, 10)

			req := confirmed(migrateRequest())
			req.RequestedBy = tt.caller

			res, err := h.engine.Run(context.Background(), req)

			require.ErrorIs(t, err, tt.wantErr)
			assert.Nil(t, res)
			assert.Zero(t, h.store.BatchesOpened())

			// The gate wrote the DENIED record before the error surfaced.
			rec := h.lastAudit(t)
			assert.Equal(t, audit.OutcomeDenied, rec.Outcome)
			assert.Equal(t, "LABEL_MIGRATE", rec.OperationKind)
		})
	}
}

// =============================================================================
// Label migration execution
// =============================================================================

func TestRun_LabelMigrateCommitsInBatches(t *testing.T) {
	h := newHarness(t)
	ids := addMigratable(h.store, 250)

	res, err := h.engine.Run(context.Background(), confirmed(migrateRequest()))

	require.NoError(t, err)
	require.NotNil(t, res.Execution)
	assert.Equal(t, StatusCompleted, res.Execution.Status)
	assert.Equal(t, 3, res.Execution.BatchesCompleted)
	assert.Equal(t, int64(250), res.Execution.EntitiesAffected)
	assert.Zero(t, res.Execution.Remaining)

	for _, id := range ids {
		assert.True(t, h.store.HasLabel(id, "Person"))
		assert.False(t, h.store.HasLabel(id, "Employee"))
	}

	rec := h.lastAudit(t)
	assert.Equal(t, audit.OutcomeCommitted, rec.Outcome)
	assert.Equal(t, int64(250), rec.AffectedCount)
}

func TestRun_PartialFailureLeavesCommittedBatchesDurable(t *testing.T) {
	h := newHarness(t)
	addMigratable(h.store, 250)
	h.store.FailAfterBatches(2)

	res, err := h.engine.Run(context.Background(), confirmed(migrateRequest()))

	require.Error(t, err)
	require.NotNil(t, res)
	require.NotNil(t, res.Execution)
	assert.Equal(t, StatusFailed, res.Execution.Status)
	assert.Equal(t, 2, res.Execution.BatchesCompleted)
	assert.Equal(t, int64(200), res.Execution.EntitiesAffected)
	assert.Equal(t, int64(50), res.Execution.Remaining)

	// Exactly the first two chunks migrated; the failing chunk's nodes are
	// untouched.
	ctx := context.Background()
	migrated, _ := h.store.CountNodes(ctx, Request{Kind: KindLabelMigrate, Target: Selector{OldLabel: "Person"}}.criteria())
	left, _ := h.store.CountNodes(ctx, migrateRequest().criteria())
	assert.Equal(t, int64(200), migrated)
	assert.Equal(t, int64(50), left)

	rec := h.lastAudit(t)
	assert.Equal(t, audit.OutcomeFailed, rec.Outcome)
	assert.Equal(t, int64(200), rec.AffectedCount)
	assert.NotEmpty(t, rec.ErrorDetail)
}

func TestRun_FirstBatchFailureIsRolledBack(t *testing.T) {
	h := newHarness(t)
	addMigratable(h.store, 50)
	h.store.FailAfterBatches(0)

	res, err := h.engine.Run(context.Background(), confirmed(migrateRequest()))

	require.Error(t, err)
	require.NotNil(t, res)
	assert.Equal(t, StatusFailed, res.Execution.Status)
	assert.Zero(t, res.Execution.BatchesCompleted)
	assert.Zero(t, res.Execution.EntitiesAffected)

	// Zero durable work is audited as ROLLED_BACK, not FAILED.
	rec := h.lastAudit(t)
	assert.Equal(t, audit.OutcomeRolledBack, rec.Outcome)
}

func TestRun_TimeoutBetweenChunksIsPartialSuccess(t *testing.T) {
	h := newHarness(t, withDeadline(time.Millisecond))
	addMigratable(h.store, 300)
	h.store.SetBatchDelay(5 * time.Millisecond)

	res, err := h.engine.Run(context.Background(), confirmed(migrateRequest()))

	// Timeout is a handleable outcome, never an error.
	require.NoError(t, err)
	require.NotNil(t, res.Execution)
	assert.Equal(t, StatusPartialTimeout, res.Execution.Status)

	// The deadline is honored only between chunks, so completed work is a
	// whole multiple of the batch size.
	assert.Equal(t, int64(0), res.Execution.EntitiesAffected%int64(DefaultBatchSize))
	assert.Less(t, res.Execution.EntitiesAffected, int64(300))
	assert.Equal(t, int64(res.Execution.BatchesCompleted)*int64(DefaultBatchSize), res.Execution.EntitiesAffected)
	assert.Equal(t, int64(300)-res.Execution.EntitiesAffected, res.Execution.Remaining)

	rec := h.lastAudit(t)
	assert.Equal(t, audit.OutcomeTimedOut, rec.Outcome)
	assert.Equal(t, res.Execution.EntitiesAffected, rec.AffectedCount)
}

func TestRun_LimitOverflowStopsBeforeAnyTransaction(t *testing.T) {
	h := newHarness(t)
	addMigratable(h.store, 120)

	req := confirmed(migrateRequest())
	req.MaxAffected = 100

	res, err := h.engine.Run(context.Background(), req)

	require.Error(t, err)
	var limitErr *LimitError
	require.ErrorAs(t, err, &limitErr)
	assert.Equal(t, int64(120), limitErr.Affected)
	assert.Equal(t, int64(100), limitErr.Limit)
	assert.True(t, IsValidation(err))
	assert.Nil(t, res)
	assert.Zero(t, h.store.BatchesOpened())

	rec := h.lastAudit(t)
	assert.Equal(t, audit.OutcomeFailed, rec.Outcome)
}

// =============================================================================
// Reindex
// =============================================================================

func TestRun_ReindexCreatesIndex(t *testing.T) {
	h := newHarness(t)
	for i := 0; i < 40; i++ {
		h.store.AddNode([]string{"Person"}, map[string]any{"name": "x"})
	}

	req := confirmed(NewRequest(KindReindex, Selector{Label: "Person", Property: "name"}, adminCaller()))
	res, err := h.engine.Run(context.Background(), req)

	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Execution.Status)
	assert.Equal(t, int64(40), res.Execution.EntitiesAffected)
	assert.Equal(t, 1, h.store.IndexCount())
	assert.Equal(t, audit.OutcomeCommitted, h.lastAudit(t).Outcome)
}

func TestRun_ReindexIsIdempotent(t *testing.T) {
	h := newHarness(t)
	h.store.AddNode([]string{"Person"}, map[string]any{"name": "x"})

	req := confirmed(NewRequest(KindReindex, Selector{Label: "Person", Property: "name"}, adminCaller()))

	_, err := h.engine.Run(context.Background(), req)
	require.NoError(t, err)

	// Second run observes the index and is a no-op success.
	res, err := h.engine.Run(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, res.Plan.AlreadySatisfied)
	assert.Equal(t, StatusCompleted, res.Execution.Status)
	assert.Zero(t, res.Execution.EntitiesAffected)
	assert.Equal(t, 1, h.store.IndexCount())
}

func TestRun_ReindexDryRunReportsAlreadySatisfied(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.store.CreateIndex(context.Background(), "Person", "name"))

	req := NewRequest(KindReindex, Selector{Label: "Person", Property: "name"}, adminCaller())
	res, err := h.engine.Run(context.Background(), req)

	require.NoError(t, err)
	assert.True(t, res.DryRun)
	assert.True(t, res.Plan.AlreadySatisfied)
	assert.Equal(t, true, h.lastAudit(t).Parameters["already_satisfied"])
}

// =============================================================================
// Orphan cleanup
// =============================================================================

func TestRun_OrphanCleanupRespectsBudgetAndReportsRemainder(t *testing.T) {
	h := newHarness(t)
	addOrphans(h.store, 1250)

	// Two connected nodes that must survive the sweep.
	a := h.store.AddNode([]string{"Person"}, nil)
	b := h.store.AddNode([]string{"Person"}, nil)
	h.store.Relate(a, b)

	req := confirmed(NewRequest(KindOrphanCleanup, Selector{}, adminCaller()))
	res, err := h.engine.Run(context.Background(), req)

	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Execution.Status)
	assert.Equal(t, int64(1000), res.Execution.EntitiesAffected)
	assert.Equal(t, 10, res.Execution.BatchesCompleted)
	assert.Equal(t, int64(250), res.Execution.Remaining)
	assert.Equal(t, int64(1250), res.Plan.AffectedCount)
	assert.Equal(t, int64(1000), res.Plan.TargetCount)
	assert.NotEmpty(t, res.Plan.Warnings)

	// 250 orphans plus the connected pair survive.
	assert.Equal(t, 252, h.store.NodeCount())

	rec := h.lastAudit(t)
	assert.Equal(t, audit.OutcomeCommitted, rec.Outcome)
	assert.Equal(t, int64(1000), rec.AffectedCount)
}

func TestRun_OrphanCleanupCustomBudget(t *testing.T) {
	h := newHarness(t)
	addOrphans(h.store, 120)

	req := confirmed(NewRequest(KindOrphanCleanup, Selector{}, adminCaller()))
	req.MaxAffected = 30

	res, err := h.engine.Run(context.Background(), req)

	require.NoError(t, err)
	assert.Equal(t, int64(30), res.Execution.EntitiesAffected)
	assert.Equal(t, int64(90), res.Execution.Remaining)
	assert.Equal(t, 90, h.store.NodeCount())
}

func TestRun_OrphanCleanupBudgetAboveCapIsRefused(t *testing.T) {
	h := newHarness(t)
	addOrphans(h.store, 10)

	req := confirmed(NewRequest(KindOrphanCleanup, Selector{}, adminCaller()))
	req.MaxAffected = MaxDeleteOrphans + 1

	res, err := h.engine.Run(context.Background(), req)

	var limitErr *LimitError
	require.ErrorAs(t, err, &limitErr)
	assert.Equal(t, int64(MaxDeleteOrphans), limitErr.Limit)
	assert.Nil(t, res)
	assert.Equal(t, 10, h.store.NodeCount())
}

// =============================================================================
// Input validation
// =============================================================================

func TestRun_InvalidRequests(t *testing.T) {
	tests := []struct {
		name    string
		req     Request
		wantErr error
	}{
		{
			name:    "unknown kind",
			req:     NewRequest(Kind("DROP_EVERYTHING"), Selector{}, adminCaller()),
			wantErr: ErrUnknownKind,
		},
		{
			name:    "reindex without property",
			req:     NewRequest(KindReindex, Selector{Label: "Person"}, adminCaller()),
			wantErr: ErrInvalidTarget,
		},
		{
			name:    "migrate without new label",
			req:     NewRequest(KindLabelMigrate, Selector{OldLabel: "Employee"}, adminCaller()),
			wantErr: ErrInvalidTarget,
		},
		{
			name:    "migrate to identical label",
			req:     NewRequest(KindLabelMigrate, Selector{OldLabel: "Person", NewLabel: "Person"}, adminCaller()),
			wantErr: ErrInvalidTarget,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)

			res, err := h.engine.Run(context.Background(), tt.req)

			require.ErrorIs(t, err, tt.wantErr)
			assert.True(t, IsValidation(err))
			assert.Nil(t, res)
			assert.Zero(t, h.store.BatchesOpened())
		})
	}
}

func TestRun_NilContext(t *testing.T) {
	h := newHarness(t)

	//nolint:staticcheck // deliberately exercising the nil-context guard
	res, err := h.engine.Run(nil, migrateRequest())

	require.ErrorIs(t, err, ErrNilContext)
	assert.Nil(t, res)
	assert.Empty(t, h.sink.Records())
}

func TestRun_OneAuditRecordPerInvocation(t *testing.T) {
	h := newHarness(t)
	addMigratable(h.store, 10)

	ctx := context.Background()
	_, _ = h.engine.Run(ctx, migrateRequest())
	_, _ = h.engine.Run(ctx, confirmed(migrateRequest()))
	req := confirmed(migrateRequest())
	req.RequestedBy = authz.Context{UserID: "u@test", Role: authz.RoleUser}
	_, _ = h.engine.Run(ctx, req)

	records := h.sink.Records()
	require.Len(t, records, 3)
	assert.Equal(t, audit.OutcomePreviewed, records[0].Outcome)
	assert.Equal(t, audit.OutcomeCommitted, records[1].Outcome)
	assert.Equal(t, audit.OutcomeDenied, records[2].Outcome)
}

func TestNew_ConfigValidation(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)

	_, err = New(Config{Graph: memory.New()})
	require.Error(t, err)

	eng, err := New(Config{Graph: memory.New(), Auditor: audit.NewLogger(audit.NewMemorySink(), nil, nil)})
	require.NoError(t, err)
	assert.NotNil(t, eng)
}
