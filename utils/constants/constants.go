// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package constants holds process-wide defaults named directly by the
// specification so they are defined once instead of scattered as
// magic numbers across components.
package constants

import "time"

// Commit-reveal quorum (§4.6).
const (
	// QuorumFraction is the fraction of total network stake that must
	// ack a submission before it moves to WaitingForKey.
	QuorumFraction = 0.5
)

// Epoch phase boundaries (§3), expressed as fractions of tempo.
const (
	EvaluationPhaseEnd = 0.75
	CommitPhaseEnd     = 0.875
)

// Platform auth (§4.7).
const (
	AuthTimestampDrift = 300 * time.Second
	AuthNonceRetention = 2 * AuthTimestampDrift
	AuthSessionTTL     = time.Hour
)

// Package validator limits (§4.4), the defaults for any zero field of
// a pkgvalidator.Limits passed by the caller.
const (
	MaxArchiveCompressedBytes = 10 << 20 // 10 MiB
	MaxArchiveFileCount       = 100
	MaxArchiveFileBytes       = 1 << 20 // 1 MiB
	MaxArchiveExpansionRatio  = 2
)

// Block sync (§4.2).
const (
	BlockSyncFailureDisconnectThreshold = 3
	BlockSyncMaxBackoffShift            = 5 // backoff capped at 2^5 * poll interval
)

// Compile worker / evaluation queue (§4.12, §4.13).
const (
	ValidatorsPerAgent      = 2
	MaxQueueSize            = 100
	MaxGlobalConcurrentTask = 16
	MinTasksPerAgent        = 4
	MaxTasksPerAgent        = 8
)

// LLMCallDeadline bounds a host-function LLM call (§5).
const LLMCallDeadline = 60 * time.Second

// DefaultMaxSnapshots bounds per-challenge state-store retention (§4.11).
const DefaultMaxSnapshots = 5

// MaxMigrationHistory bounds the archived migration-plan history (§4.10).
const MaxMigrationHistory = 100

// Health monitor (§4.10).
const (
	HealthEMAAlpha             = 0.2 // new = old*0.8 + sample*0.2
	HealthConsecutiveUnhealthy = 3
)
