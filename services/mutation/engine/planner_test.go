// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package engine

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/graphops/services/mutation/store/memory"
)

func TestPlanner_Plan_CountsAndSamples(t *testing.T) {
	st := memory.New()
	for i := 0; i < 12; i++ {
		st.AddNode([]string{"Person"}, map[string]any{"name": "x"})
	}
	p := NewPlanner(st, nil)

	plan, err := p.Plan(context.Background(),
		NewRequest(KindReindex, Selector{Label: "Person", Property: "name"}, adminCaller()))

	require.NoError(t, err)
	assert.Equal(t, int64(12), plan.AffectedCount)
	assert.Equal(t, int64(12), plan.TargetCount)
	assert.Len(t, plan.SampleEntities, 5)
	assert.False(t, plan.AlreadySatisfied)
	assert.Zero(t, plan.EstimatedBatchCount)
	assert.Equal(t, 12*costPerEntityReindex, plan.EstimatedDuration)
}

func TestPlanner_Plan_SampleSmallerThanLimit(t *testing.T) {
	st := memory.New()
	st.AddNode([]string{"Person"}, map[string]any{"name": "x"})
	p := NewPlanner(st, nil)

	plan, err := p.Plan(context.Background(),
		NewRequest(KindReindex, Selector{Label: "Person", Property: "name"}, adminCaller()))

	require.NoError(t, err)
	assert.Len(t, plan.SampleEntities, 1)
}

func TestPlanner_Plan_BatchCountRoundsUp(t *testing.T) {
	st := memory.New()
	for i := 0; i < 101; i++ {
		st.AddNode([]string{"Employee"}, nil)
	}
	p := NewPlanner(st, nil)

	plan, err := p.Plan(context.Background(),
		NewRequest(KindLabelMigrate, Selector{OldLabel: "Employee", NewLabel: "Person"}, adminCaller()))

	require.NoError(t, err)
	assert.Equal(t, 2, plan.EstimatedBatchCount)
	assert.Equal(t, 101*2*time.Millisecond, plan.EstimatedDuration)
}

func TestPlanner_Plan_MigrateOverLimit(t *testing.T) {
	st := memory.New()
	for i := 0; i < 15; i++ {
		st.AddNode([]string{"Employee"}, nil)
	}
	p := NewPlanner(st, nil)

	req := NewRequest(KindLabelMigrate, Selector{OldLabel: "Employee", NewLabel: "Person"}, adminCaller())
	req.MaxAffected = 10

	_, err := p.Plan(context.Background(), req)

	var limitErr *LimitError
	require.ErrorAs(t, err, &limitErr)
	assert.Equal(t, KindLabelMigrate, limitErr.Kind)
	assert.Equal(t, int64(15), limitErr.Affected)
	assert.Equal(t, int64(10), limitErr.Limit)
}

func TestPlanner_Plan_CallerMayLowerButNotRaiseCeiling(t *testing.T) {
	req := NewRequest(KindLabelMigrate, Selector{OldLabel: "A", NewLabel: "B"}, adminCaller())

	req.MaxAffected = 500
	limit, err := ceiling(req)
	require.NoError(t, err)
	assert.Equal(t, int64(500), limit)

	req.MaxAffected = MaxAffectedLabelMigrate + 1
	_, err = ceiling(req)
	var limitErr *LimitError
	assert.ErrorAs(t, err, &limitErr)

	req.MaxAffected = 0
	limit, err = ceiling(req)
	require.NoError(t, err)
	assert.Equal(t, int64(MaxAffectedLabelMigrate), limit)
}

func TestPlanner_Plan_OrphanBudgetTruncatesInsteadOfRefusing(t *testing.T) {
	st := memory.New()
	for i := 0; i < 40; i++ {
		st.AddNode(nil, nil)
	}
	p := NewPlanner(st, nil)

	req := NewRequest(KindOrphanCleanup, Selector{}, adminCaller())
	req.MaxAffected = 25

	plan, err := p.Plan(context.Background(), req)

	require.NoError(t, err)
	assert.Equal(t, int64(40), plan.AffectedCount)
	assert.Equal(t, int64(25), plan.TargetCount)
	require.NotEmpty(t, plan.Warnings)
	assert.Contains(t, plan.Warnings[0], "only 25 will be deleted")
}

func TestPlanner_Plan_MigrateMergeWarning(t *testing.T) {
	st := memory.New()
	st.AddNode([]string{"Employee"}, nil)
	st.AddNode([]string{"Person"}, nil)
	st.AddNode([]string{"Person"}, nil)
	p := NewPlanner(st, nil)

	plan, err := p.Plan(context.Background(),
		NewRequest(KindLabelMigrate, Selector{OldLabel: "Employee", NewLabel: "Person"}, adminCaller()))

	require.NoError(t, err)
	require.Len(t, plan.Warnings, 1)
	assert.Contains(t, plan.Warnings[0], "merge the populations")
}

func TestPlanner_Plan_ReindexSparsityWarning(t *testing.T) {
	st := memory.New()
	st.AddNode([]string{"Person"}, map[string]any{"name": "x"})
	st.AddNode([]string{"Person"}, nil)
	st.AddNode([]string{"Person"}, nil)
	p := NewPlanner(st, nil)

	plan, err := p.Plan(context.Background(),
		NewRequest(KindReindex, Selector{Label: "Person", Property: "name"}, adminCaller()))

	require.NoError(t, err)
	require.Len(t, plan.Warnings, 1)
	assert.True(t, strings.Contains(plan.Warnings[0], "lack property"))
}

func TestPlanner_Plan_OrphanLabelLessWarning(t *testing.T) {
	st := memory.New()
	st.AddNode(nil, nil)
	p := NewPlanner(st, nil)

	plan, err := p.Plan(context.Background(),
		NewRequest(KindOrphanCleanup, Selector{}, adminCaller()))

	require.NoError(t, err)
	require.NotEmpty(t, plan.Warnings)
	assert.Contains(t, plan.Warnings[0], "label-less")
}

func TestValidateTarget(t *testing.T) {
	tests := []struct {
		name    string
		req     Request
		wantErr bool
	}{
		{
			name: "valid reindex",
			req:  NewRequest(KindReindex, Selector{Label: "A", Property: "p"}, adminCaller()),
		},
		{
			name:    "reindex missing label",
			req:     NewRequest(KindReindex, Selector{Property: "p"}, adminCaller()),
			wantErr: true,
		},
		{
			name: "valid migrate",
			req:  NewRequest(KindLabelMigrate, Selector{OldLabel: "A", NewLabel: "B"}, adminCaller()),
		},
		{
			name:    "migrate same labels",
			req:     NewRequest(KindLabelMigrate, Selector{OldLabel: "A", NewLabel: "A"}, adminCaller()),
			wantErr: true,
		},
		{
			name: "cleanup needs no selector",
			req:  NewRequest(KindOrphanCleanup, Selector{}, adminCaller()),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateTarget(tt.req)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidTarget)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
