// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package hostabi implements the policy-gated host function surface a
// challenge WASM guest links against (spec §4.9): platform_network,
// platform_storage, platform_data, platform_llm, platform_consensus,
// platform_terminal, and platform_sandbox. Every namespace shares the
// same i32 return convention (0 success, 1 disabled, negative error)
// and the same bounds-checked memory access helpers in memory.go.
package hostabi

import (
	"context"

	"github.com/tetratelabs/wazero"

	"github.com/luxfi/log"
)

// Policies bundles the per-namespace policy a validator applies to a
// single challenge. Namespaces default closed except storage,
// terminal, consensus (read-only) and sandbox, matching the posture a
// terminal-using-agent evaluation harness needs out of the box.
type Policies struct {
	Network   NetworkPolicy
	Storage   StoragePolicy
	Data      DataPolicy
	LLM       LLMPolicy
	Consensus ConsensusPolicy
	Terminal  TerminalPolicy
	Sandbox   SandboxPolicy
}

// DefaultPolicies returns the default policy set described on Policies.
func DefaultPolicies() Policies {
	return Policies{
		Network:   DefaultNetworkPolicy(),
		Storage:   DefaultStoragePolicy(),
		Data:      DefaultDataPolicy(),
		LLM:       DefaultLLMPolicy(),
		Consensus: DefaultConsensusPolicy(),
		Terminal:  DefaultTerminalPolicy(),
		Sandbox:   DefaultSandboxPolicy(),
	}
}

// Backends bundles the external collaborators each namespace calls
// into. A nil backend is only safe for a namespace whose policy is
// disabled.
type Backends struct {
	Network   NetworkBackend
	Storage   StorageBackend
	Data      DataBackend
	LLM       LLMBackend
	Terminal  TerminalBackend
	Sandbox   SandboxBackend
}

// Surface is the full host function surface for one challenge
// evaluation context: its policies, backends, and the mutable
// per-evaluate-call state (proposal counts, read counts) every
// namespace tracks.
type Surface struct {
	challengeID string
	policies    Policies
	backends    Backends
	log         log.Logger

	network   *networkState
	storage   *storageState
	data      *dataState
	llm       *llmState
	consensus *consensusState
	terminal  *terminalState
	sandbox   *sandboxState
}

// NewSurface builds a Surface for challengeID with the given policies
// and backends.
func NewSurface(challengeID string, policies Policies, backends Backends, logger log.Logger) *Surface {
	return &Surface{
		challengeID: challengeID,
		policies:    policies,
		backends:    backends,
		log:         logger,
		network:     &networkState{policy: policies.Network, backend: backends.Network},
		storage:     &storageState{policy: policies.Storage, backend: backends.Storage, challengeID: challengeID},
		data:        &dataState{policy: policies.Data, backend: backends.Data, challengeID: challengeID},
		llm:         &llmState{policy: policies.LLM, backend: backends.LLM},
		consensus:   &consensusState{policy: policies.Consensus},
		terminal:    &terminalState{policy: policies.Terminal, backend: backends.Terminal},
		sandbox:     &sandboxState{policy: policies.Sandbox, backend: backends.Sandbox, log: logger},
	}
}

// SetConsensusSnapshot refreshes the read-only consensus view exposed
// to the guest; the validator calls this before each evaluate.
func (s *Surface) SetConsensusSnapshot(snap ConsensusSnapshot) {
	s.consensus.snapshot = snap
}

// ProposedWeights returns the weight proposals the guest made during
// its most recent evaluate call.
func (s *Surface) ProposedWeights() []WeightProposal {
	return s.consensus.proposedWeights
}

// ResetCounters clears every namespace's per-call counters. The
// runtime calls this before each evaluate invocation so that
// rate limits (max requests, max reads, max weight proposals) apply
// per call rather than per guest instance lifetime.
func (s *Surface) ResetCounters() {
	s.network.resetCounters()
	s.storage.resetCounters()
	s.data.resetCounters()
	s.llm.resetCounters()
	s.consensus.resetCounters()
	s.terminal.resetCounters()
	s.sandbox.resetCounters()
}

// Instantiate registers every namespace's host functions against rt.
func Instantiate(ctx context.Context, rt wazero.Runtime, s *Surface) error {
	if err := registerNetwork(ctx, rt, s.network); err != nil {
		return err
	}
	if err := registerStorage(ctx, rt, s.storage); err != nil {
		return err
	}
	if err := registerData(ctx, rt, s.data); err != nil {
		return err
	}
	if err := registerLLM(ctx, rt, s.llm); err != nil {
		return err
	}
	if err := registerConsensus(ctx, rt, s.consensus); err != nil {
		return err
	}
	if err := registerTerminal(ctx, rt, s.terminal); err != nil {
		return err
	}
	if err := registerSandbox(ctx, rt, s.sandbox); err != nil {
		return err
	}
	return nil
}
