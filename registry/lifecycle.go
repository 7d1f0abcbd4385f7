// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package registry tracks challenge registrations, their lifecycle
// state, migration plans, and health (spec §4.10).
package registry

// LifecycleState is a challenge's position in its restart/migration
// FSM.
type LifecycleState uint8

const (
	Registered LifecycleState = iota
	Starting
	Running
	Stopping
	Stopped
	Failed
	Migrating
)

func (s LifecycleState) String() string {
	switch s {
	case Registered:
		return "Registered"
	case Starting:
		return "Starting"
	case Running:
		return "Running"
	case Stopping:
		return "Stopping"
	case Stopped:
		return "Stopped"
	case Failed:
		return "Failed"
	case Migrating:
		return "Migrating"
	default:
		return "Unknown"
	}
}

var validTransitions = map[LifecycleState]map[LifecycleState]bool{
	Registered: {Starting: true, Stopped: true},
	Starting:   {Running: true, Failed: true},
	Running:    {Stopping: true, Failed: true, Migrating: true},
	Stopping:   {Stopped: true},
	Stopped:    {Starting: true, Registered: true},
	Failed:     {Starting: true, Stopped: true},
	Migrating:  {Running: true, Failed: true},
}

// Lifecycle decides which state transitions are legal and whether a
// restart-config change requires restarting the challenge container.
type Lifecycle struct {
	autoRestart       bool
	maxRestartAttempts uint32
}

// NewLifecycle constructs a Lifecycle with auto-restart enabled and a
// default of 3 max restart attempts.
func NewLifecycle() *Lifecycle {
	return &Lifecycle{autoRestart: true, maxRestartAttempts: 3}
}

// WithAutoRestart configures restart behavior, returning the receiver
// for chaining.
func (l *Lifecycle) WithAutoRestart(enabled bool, maxAttempts uint32) *Lifecycle {
	l.autoRestart = enabled
	l.maxRestartAttempts = maxAttempts
	return l
}

// IsValidTransition reports whether the registry may move a challenge
// from "from" to "to".
func (l *Lifecycle) IsValidTransition(from, to LifecycleState) bool {
	return validTransitions[from][to]
}

// AutoRestartEnabled reports whether automatic restart on failure is
// enabled.
func (l *Lifecycle) AutoRestartEnabled() bool {
	return l.autoRestart
}

// MaxRestartAttempts returns the configured restart attempt ceiling.
func (l *Lifecycle) MaxRestartAttempts() uint32 {
	return l.maxRestartAttempts
}

// RestartRequired reports whether a change in restart_id or
// config_version means the challenge container must be restarted.
func (l *Lifecycle) RestartRequired(previousRestartID, newRestartID *string, previousConfigVersion, newConfigVersion uint64) bool {
	if previousConfigVersion != newConfigVersion {
		return true
	}
	switch {
	case previousRestartID == nil && newRestartID == nil:
		return false
	case previousRestartID == nil || newRestartID == nil:
		return true
	default:
		return *previousRestartID != *newRestartID
	}
}
