// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/platform-validator/utils/version"
)

func TestPlanMigrationNoneForEqualVersions(t *testing.T) {
	v := version.Version{Major: 1, Minor: 2, Patch: 3}
	plan := PlanMigration("chal-1", "echo", v, v, time.Now())
	require.True(t, plan.IsEmpty())
	require.Equal(t, 100.0, plan.ProgressPercent())
}

func TestPlanMigrationPatchIsSingleReversibleStep(t *testing.T) {
	from := version.Version{Major: 1, Minor: 0, Patch: 0}
	to := version.Version{Major: 1, Minor: 0, Patch: 1}
	plan := PlanMigration("chal-1", "echo", from, to, time.Now())
	require.Len(t, plan.Steps, 1)
	require.True(t, plan.Steps[0].Reversible)
}

func TestPlanMigrationMinorAddsDataMigrationStep(t *testing.T) {
	from := version.Version{Major: 1, Minor: 0, Patch: 0}
	to := version.Version{Major: 1, Minor: 1, Patch: 0}
	plan := PlanMigration("chal-1", "echo", from, to, time.Now())
	require.Len(t, plan.Steps, 2)
	for _, s := range plan.Steps {
		require.True(t, s.Reversible)
	}
}

func TestPlanMigrationMajorFirstStepIrreversible(t *testing.T) {
	from := version.Version{Major: 1}
	to := version.Version{Major: 2}
	plan := PlanMigration("chal-1", "echo", from, to, time.Now())
	require.Len(t, plan.Steps, 2)
	require.False(t, plan.Steps[0].Reversible)
	require.True(t, plan.Steps[1].Reversible)
}

func TestCanRollbackRequiresAllExecutedStepsReversible(t *testing.T) {
	from := version.Version{Major: 1}
	to := version.Version{Major: 2}
	plan := PlanMigration("chal-1", "echo", from, to, time.Now())

	plan.CurrentStep = 1 // executed the irreversible schema step
	require.False(t, plan.CanRollback())

	plan.CurrentStep = 0
	require.True(t, plan.CanRollback())
}

func TestProgressPercent(t *testing.T) {
	from := version.Version{Major: 1, Minor: 0}
	to := version.Version{Major: 1, Minor: 1}
	plan := PlanMigration("chal-1", "echo", from, to, time.Now())
	plan.CurrentStep = 1
	require.Equal(t, 50.0, plan.ProgressPercent())
}

func TestEstimatedDurationSecsSumsSteps(t *testing.T) {
	from := version.Version{Major: 1, Minor: 0}
	to := version.Version{Major: 1, Minor: 1}
	plan := PlanMigration("chal-1", "echo", from, to, time.Now())
	require.Equal(t, uint64(120), plan.EstimatedDurationSecs())
}
