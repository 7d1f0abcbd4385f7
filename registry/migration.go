// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package registry

import (
	"time"

	"github.com/luxfi/platform-validator/utils/version"
)

// MigrationStatus is the state of a MigrationPlan.
type MigrationStatus uint8

const (
	MigrationPending MigrationStatus = iota
	MigrationInProgress
	MigrationCompleted
	MigrationFailed
	MigrationRolledBack
)

// MigrationStep is one step of a MigrationPlan.
type MigrationStep struct {
	ID                    string
	Description           string
	FromVersion           version.Version
	ToVersion             version.Version
	Reversible            bool
	EstimatedDurationSecs uint64
	StartedAt             *time.Time
	CompletedAt           *time.Time
}

// NewMigrationStep constructs a reversible MigrationStep with a
// 60-second default duration estimate.
func NewMigrationStep(id, description string, from, to version.Version) MigrationStep {
	return MigrationStep{
		ID:                    id,
		Description:           description,
		FromVersion:           from,
		ToVersion:             to,
		Reversible:            true,
		EstimatedDurationSecs: 60,
	}
}

// MigrationPlan is an ordered sequence of steps migrating a challenge
// between two versions.
type MigrationPlan struct {
	ChallengeID   string
	ChallengeName string
	FromVersion   version.Version
	ToVersion     version.Version
	Steps         []MigrationStep
	Status        MigrationStatus
	CurrentStep   int
	CreatedAt     time.Time
	StartedAt     *time.Time
	CompletedAt   *time.Time
}

// NewMigrationPlan constructs an empty, pending MigrationPlan.
func NewMigrationPlan(challengeID, challengeName string, from, to version.Version, now time.Time) *MigrationPlan {
	return &MigrationPlan{
		ChallengeID:   challengeID,
		ChallengeName: challengeName,
		FromVersion:   from,
		ToVersion:     to,
		Status:        MigrationPending,
		CreatedAt:     now,
	}
}

// AddStep appends a step to the plan.
func (p *MigrationPlan) AddStep(step MigrationStep) {
	p.Steps = append(p.Steps, step)
}

// IsEmpty reports whether the plan has no steps.
func (p *MigrationPlan) IsEmpty() bool { return len(p.Steps) == 0 }

// TotalSteps returns the number of steps in the plan.
func (p *MigrationPlan) TotalSteps() int { return len(p.Steps) }

// EstimatedDurationSecs sums every step's estimated duration.
func (p *MigrationPlan) EstimatedDurationSecs() uint64 {
	var total uint64
	for _, s := range p.Steps {
		total += s.EstimatedDurationSecs
	}
	return total
}

// IsComplete reports whether the plan reached a terminal status.
func (p *MigrationPlan) IsComplete() bool {
	return p.Status == MigrationCompleted || p.Status == MigrationRolledBack
}

// CanRollback reports whether rollback is permitted: every step
// executed so far (indices [0, CurrentStep)) must be reversible.
func (p *MigrationPlan) CanRollback() bool {
	for _, s := range p.Steps[:p.CurrentStep] {
		if !s.Reversible {
			return false
		}
	}
	return true
}

// ProgressPercent returns completion progress as a percentage.
func (p *MigrationPlan) ProgressPercent() float64 {
	if len(p.Steps) == 0 {
		return 100.0
	}
	return float64(p.CurrentStep) / float64(len(p.Steps)) * 100.0
}

// PlanMigration builds a MigrationPlan from one version to another,
// classifying the severity via version.Delta and sizing the plan
// accordingly: a patch bump is a single reversible step, a minor bump
// adds a reversible data-migration step, and a major bump adds an
// irreversible schema-migration step.
func PlanMigration(challengeID, challengeName string, from, to version.Version, now time.Time) *MigrationPlan {
	plan := NewMigrationPlan(challengeID, challengeName, from, to, now)

	switch version.Delta(from, to) {
	case version.DeltaNone:
		return plan
	case version.DeltaPatch:
		plan.AddStep(NewMigrationStep("patch-upgrade", "apply patch-level changes", from, to))
	case version.DeltaMinor:
		plan.AddStep(NewMigrationStep("minor-upgrade", "apply minor-level changes", from, to))
		plan.AddStep(NewMigrationStep("data-migration", "migrate per-challenge state", from, to))
	case version.DeltaMajor:
		schemaStep := NewMigrationStep("schema-migration", "migrate registry schema", from, to)
		schemaStep.Reversible = false
		plan.AddStep(schemaStep)
		plan.AddStep(NewMigrationStep("data-migration", "migrate per-challenge state", from, to))
	}

	return plan
}
