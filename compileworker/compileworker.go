// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package compileworker polls for agents awaiting compilation, builds
// them through an isolated external executor, and on success assigns
// validators and the canonical task set atomically before notifying
// the assigned validators over the platform WebSocket (spec §4.12).
package compileworker

import (
	"context"
	"encoding/binary"
	"errors"
	"sort"
	"time"

	"github.com/luxfi/log"
	"github.com/luxfi/platform-validator/utils/constants"
)

// DefaultPollInterval and DefaultBatchSize are the worker's defaults;
// both are overridable per spec §4.12's "every poll_interval ...
// batch_size agents" wording.
const (
	DefaultPollInterval = 5 * time.Second
	DefaultBatchSize    = 10
)

var (
	// ErrNoValidators is returned by SelectValidators when the active
	// validator set is empty.
	ErrNoValidators = errors.New("compileworker: no active validators")
)

// BuildResult is the output of a successful isolated build.
type BuildResult struct {
	Binary      []byte
	DurationMS  int64
}

// Builder invokes the external, isolated content-addressed build for
// one agent's source. It is the external collaborator (spec §1); this
// package only depends on this narrow interface.
type Builder interface {
	Build(ctx context.Context, agentID string) (BuildResult, error)
}

// BinaryStore persists a compiled agent binary and reports its stored
// size.
type BinaryStore interface {
	Store(ctx context.Context, agentID string, binary []byte) (path string, sizeBytes int64, err error)
}

// AgentStore is the external agent registry / database this worker
// drives through the compile_status state machine.
type AgentStore interface {
	FetchPending(ctx context.Context, limit int) ([]string, error)
	MarkCompiling(ctx context.Context, agentID string) error
	MarkReady(ctx context.Context, agentID, binaryPath string, sizeBytes, durationMS int64) error
	MarkFailed(ctx context.Context, agentID, reason string) error
	// AgentHash returns the content hash used for deterministic
	// validator selection.
	AgentHash(ctx context.Context, agentID string) ([32]byte, error)
}

// TaskAssigner clears and rewrites an agent's validator/task
// assignments atomically once a build succeeds.
type TaskAssigner interface {
	ClearAssignments(ctx context.Context, agentID string) error
	LoadCanonicalTasks(ctx context.Context, n int) ([]string, error)
	AssignTasks(ctx context.Context, agentID string, validators, tasks []string) error
}

// ValidatorLister reports the currently active validator set.
type ValidatorLister interface {
	ActiveValidators(ctx context.Context) ([]string, error)
}

// Notifier delivers a binary_ready notification to an assigned
// validator over the platform WebSocket.
type Notifier interface {
	NotifyBinaryReady(ctx context.Context, validatorID, agentID string) error
}

// SelectValidators deterministically picks count validators for
// agentHash out of validators, per spec §4.12: sort lexicographically,
// start at u64_le(first 8 bytes of agentHash) mod n, take the next
// count wrapping around.
func SelectValidators(agentHash [32]byte, validators []string, count int) ([]string, error) {
	if len(validators) == 0 {
		return nil, ErrNoValidators
	}
	sorted := make([]string, len(validators))
	copy(sorted, validators)
	sort.Strings(sorted)

	n := len(sorted)
	if count > n {
		count = n
	}
	start := int(binary.LittleEndian.Uint64(agentHash[:8]) % uint64(n))

	out := make([]string, 0, count)
	for i := 0; i < count; i++ {
		out = append(out, sorted[(start+i)%n])
	}
	return out, nil
}

// TaskSetSize is the number of canonical tasks loaded per agent on a
// successful build (first N by lexical sort from the configured
// dataset, per spec §4.12).
const TaskSetSize = constants.MaxTasksPerAgent

// Worker polls AgentStore on an interval and drives one agent's
// compile/assign/notify pipeline per pending entry.
type Worker struct {
	agents     AgentStore
	builder    Builder
	binaries   BinaryStore
	assigner   TaskAssigner
	validators ValidatorLister
	notifier   Notifier
	log        log.Logger

	pollInterval time.Duration
	batchSize    int
}

// Config bundles Worker's external collaborators and tunables.
type Config struct {
	Agents       AgentStore
	Builder      Builder
	Binaries     BinaryStore
	Assigner     TaskAssigner
	Validators   ValidatorLister
	Notifier     Notifier
	Log          log.Logger
	PollInterval time.Duration
	BatchSize    int
}

// NewWorker builds a Worker from cfg, filling in DefaultPollInterval /
// DefaultBatchSize when unset.
func NewWorker(cfg Config) *Worker {
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = DefaultBatchSize
	}
	return &Worker{
		agents:       cfg.Agents,
		builder:      cfg.Builder,
		binaries:     cfg.Binaries,
		assigner:     cfg.Assigner,
		validators:   cfg.Validators,
		notifier:     cfg.Notifier,
		log:          cfg.Log,
		pollInterval: interval,
		batchSize:    batch,
	}
}

// Run polls and processes pending agents until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.pollOnce(ctx)
		}
	}
}

func (w *Worker) pollOnce(ctx context.Context) {
	agentIDs, err := w.agents.FetchPending(ctx, w.batchSize)
	if err != nil {
		w.log.Warn("compile worker: fetch pending failed", "error", err)
		return
	}
	for _, agentID := range agentIDs {
		w.processAgent(ctx, agentID)
	}
}

// processAgent drives a single agent through mark-compiling, build,
// store, assign, notify. Every failure path records the error and
// leaves the agent non-evaluable rather than retrying inline; the
// next poll will pick it up again only if the caller resets its
// compile_status, matching spec §4.12's "leaves the agent
// non-evaluable" wording.
func (w *Worker) processAgent(ctx context.Context, agentID string) {
	if err := w.agents.MarkCompiling(ctx, agentID); err != nil {
		w.log.Warn("compile worker: mark compiling failed", "agent", agentID, "error", err)
		return
	}

	result, err := w.builder.Build(ctx, agentID)
	if err != nil {
		w.fail(ctx, agentID, err.Error())
		return
	}

	path, size, err := w.binaries.Store(ctx, agentID, result.Binary)
	if err != nil {
		w.fail(ctx, agentID, err.Error())
		return
	}

	if err := w.agents.MarkReady(ctx, agentID, path, size, result.DurationMS); err != nil {
		w.log.Warn("compile worker: mark ready failed", "agent", agentID, "error", err)
		return
	}

	if err := w.assignAndNotify(ctx, agentID); err != nil {
		w.log.Warn("compile worker: assignment failed", "agent", agentID, "error", err)
	}
}

func (w *Worker) fail(ctx context.Context, agentID, reason string) {
	if err := w.agents.MarkFailed(ctx, agentID, reason); err != nil {
		w.log.Warn("compile worker: mark failed failed", "agent", agentID, "error", err)
	}
}

func (w *Worker) assignAndNotify(ctx context.Context, agentID string) error {
	hash, err := w.agents.AgentHash(ctx, agentID)
	if err != nil {
		return err
	}

	validators, err := w.validators.ActiveValidators(ctx)
	if err != nil {
		return err
	}
	selected, err := SelectValidators(hash, validators, constants.ValidatorsPerAgent)
	if err != nil {
		return err
	}

	tasks, err := w.assigner.LoadCanonicalTasks(ctx, TaskSetSize)
	if err != nil {
		return err
	}

	if err := w.assigner.ClearAssignments(ctx, agentID); err != nil {
		return err
	}
	if err := w.assigner.AssignTasks(ctx, agentID, selected, tasks); err != nil {
		return err
	}

	for _, v := range selected {
		if err := w.notifier.NotifyBinaryReady(ctx, v, agentID); err != nil {
			w.log.Warn("compile worker: notify failed", "validator", v, "agent", agentID, "error", err)
		}
	}
	return nil
}
