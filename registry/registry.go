// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package registry

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/luxfi/platform-validator/utils/constants"
	"github.com/luxfi/platform-validator/utils/version"
)

var (
	ErrAlreadyRegistered  = errors.New("registry: name+version already registered")
	ErrNotRegistered      = errors.New("registry: challenge not registered")
	ErrInvalidTransition  = errors.New("registry: invalid lifecycle transition")
)

// Registration is a single registered challenge.
type Registration struct {
	ChallengeID      string
	Name             string
	Version          version.Version
	LifecycleState   LifecycleState
	RestartID        *string
	ConfigVersion    uint64
	RestartAttempts  uint32
	RegisteredAt     time.Time
}

// Registry owns challenge records and delegates health/migration
// tracking to a HealthMonitor and per-challenge migration history, the
// way the teacher's Challenge Registry (per the platform spec) owns
// its own records and state stores.
type Registry struct {
	mu sync.RWMutex

	lifecycle *Lifecycle
	health    *HealthMonitor

	byID         map[string]*Registration
	byNameVer    map[string]string // "name@version" -> challengeID
	migrationLog map[string][]*MigrationPlan
}

// NewRegistry constructs an empty Registry with default lifecycle
// rules.
func NewRegistry() *Registry {
	return &Registry{
		lifecycle:    NewLifecycle(),
		health:       NewHealthMonitor(),
		byID:         make(map[string]*Registration),
		byNameVer:    make(map[string]string),
		migrationLog: make(map[string][]*MigrationPlan),
	}
}

// Health returns the registry's HealthMonitor.
func (r *Registry) Health() *HealthMonitor { return r.health }

func nameVerKey(name string, v version.Version) string {
	return name + "@" + v.String()
}

// Register adds a new challenge. Two challenges may not share
// (name, version) simultaneously.
func (r *Registry) Register(challengeID, name string, v version.Version, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := nameVerKey(name, v)
	if _, exists := r.byNameVer[key]; exists {
		return ErrAlreadyRegistered
	}
	if _, exists := r.byID[challengeID]; exists {
		return ErrAlreadyRegistered
	}

	r.byID[challengeID] = &Registration{
		ChallengeID:    challengeID,
		Name:           name,
		Version:        v,
		LifecycleState: Registered,
		RegisteredAt:   now,
	}
	r.byNameVer[key] = challengeID
	r.health.Register(challengeID)
	return nil
}

// Unregister removes a challenge from the registry.
func (r *Registry) Unregister(challengeID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	reg, ok := r.byID[challengeID]
	if !ok {
		return ErrNotRegistered
	}
	delete(r.byID, challengeID)
	delete(r.byNameVer, nameVerKey(reg.Name, reg.Version))
	delete(r.migrationLog, challengeID)
	r.health.Unregister(challengeID)
	return nil
}

// Get returns a copy of a challenge's registration.
func (r *Registry) Get(challengeID string) (Registration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.byID[challengeID]
	if !ok {
		return Registration{}, false
	}
	return *reg, true
}

// Transition moves challengeID to newState, rejecting the change if
// it is not permitted by the lifecycle FSM.
func (r *Registry) Transition(challengeID string, newState LifecycleState) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	reg, ok := r.byID[challengeID]
	if !ok {
		return ErrNotRegistered
	}
	if !r.lifecycle.IsValidTransition(reg.LifecycleState, newState) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, reg.LifecycleState, newState)
	}
	reg.LifecycleState = newState
	return nil
}

// PlanMigrationFor computes a MigrationPlan for challengeID's move
// from its current version to toVersion, and appends it to the
// challenge's migration history (capped at
// constants.MaxMigrationHistory, oldest dropped first).
func (r *Registry) PlanMigrationFor(challengeID string, toVersion version.Version, now time.Time) (*MigrationPlan, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	reg, ok := r.byID[challengeID]
	if !ok {
		return nil, ErrNotRegistered
	}

	plan := PlanMigration(challengeID, reg.Name, reg.Version, toVersion, now)

	history := append(r.migrationLog[challengeID], plan)
	if len(history) > constants.MaxMigrationHistory {
		history = history[len(history)-constants.MaxMigrationHistory:]
	}
	r.migrationLog[challengeID] = history

	return plan, nil
}

// MigrationHistory returns the retained migration plans for
// challengeID, oldest first.
func (r *Registry) MigrationHistory(challengeID string) []*MigrationPlan {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*MigrationPlan(nil), r.migrationLog[challengeID]...)
}
