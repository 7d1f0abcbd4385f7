// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package hostabi

import (
	"context"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
)

const (
	ConsensusNamespace                 = "platform_consensus"
	exportConsensusGetEpoch            = "consensus_get_epoch"
	exportConsensusGetValidators       = "consensus_get_validators"
	exportConsensusProposeWeight       = "consensus_propose_weight"
	exportConsensusGetVotes            = "consensus_get_votes"
	exportConsensusGetStateHash        = "consensus_get_state_hash"
	exportConsensusGetSubmissionCount  = "consensus_get_submission_count"
	exportConsensusGetBlockHeight      = "consensus_get_block_height"
	exportConsensusGetSubnetChallenges = "consensus_get_subnet_challenges"
)

// ConsensusHostStatus enumerates the i32 codes returned by the
// buffer-filling platform_consensus exports.
type ConsensusHostStatus int32

const (
	ConsensusStatusSuccess               ConsensusHostStatus = 0
	ConsensusStatusDisabled              ConsensusHostStatus = 1
	ConsensusStatusBufferTooSmall        ConsensusHostStatus = -1
	ConsensusStatusProposalLimitExceeded ConsensusHostStatus = -2
	ConsensusStatusInvalidArgument       ConsensusHostStatus = -3
	ConsensusStatusInternalError         ConsensusHostStatus = -100
)

// ConsensusPolicy gates WASM access to the validator's view of P2P
// consensus state. Weight proposals are off by default: a challenge
// reads consensus state freely but cannot influence on-chain weights
// unless explicitly allowed.
type ConsensusPolicy struct {
	Enabled             bool
	AllowWeightProposals bool
	MaxWeightProposals  uint32
}

func DefaultConsensusPolicy() ConsensusPolicy {
	return ConsensusPolicy{Enabled: true, MaxWeightProposals: 0}
}

// ConsensusSnapshot is a read-only view of chain state populated by
// the validator before each evaluate call.
type ConsensusSnapshot struct {
	Epoch             uint64
	BlockHeight       uint64
	StateHash         [32]byte
	ValidatorsJSON    []byte
	VotesJSON         []byte
	SubmissionCount   uint32
	SubnetChallenges  []byte
}

// WeightProposal records a (uid, weight) pair the guest proposed
// during one evaluate call.
type WeightProposal struct {
	UID    int32
	Weight int32
}

type consensusState struct {
	policy              ConsensusPolicy
	snapshot            ConsensusSnapshot
	proposalsMade       uint32
	proposedWeights     []WeightProposal
}

func (s *consensusState) resetCounters() {
	s.proposalsMade = 0
	s.proposedWeights = nil
}

func (s *consensusState) hostGetEpoch(stack []uint64) {
	stack[0] = s.snapshot.Epoch
}

func (s *consensusState) hostGetBlockHeight(stack []uint64) {
	stack[0] = s.snapshot.BlockHeight
}

func (s *consensusState) hostGetSubmissionCount(stack []uint64) {
	if !s.policy.Enabled {
		stack[0] = encodeStatus(ConsensusStatusDisabled)
		return
	}
	stack[0] = uint64(s.snapshot.SubmissionCount)
}

func (s *consensusState) hostGetValidators(mod api.Module, stack []uint64) {
	s.fillBuffer(mod, stack, s.snapshot.ValidatorsJSON)
}

func (s *consensusState) hostGetVotes(mod api.Module, stack []uint64) {
	s.fillBuffer(mod, stack, s.snapshot.VotesJSON)
}

func (s *consensusState) hostGetSubnetChallenges(mod api.Module, stack []uint64) {
	s.fillBuffer(mod, stack, s.snapshot.SubnetChallenges)
}

func (s *consensusState) fillBuffer(mod api.Module, stack []uint64, data []byte) {
	bufPtr, bufLen := uint32(stack[0]), uint32(stack[1])
	if !s.policy.Enabled {
		stack[0] = encodeStatus(ConsensusStatusDisabled)
		return
	}
	n, ok := writeGuestBytes(mod, bufPtr, bufLen, data)
	if !ok {
		stack[0] = encodeStatus(ConsensusStatusBufferTooSmall)
		return
	}
	stack[0] = uint64(uint32(n))
}

func (s *consensusState) hostGetStateHash(mod api.Module, stack []uint64) {
	bufPtr := uint32(stack[0])
	if !s.policy.Enabled {
		stack[0] = encodeStatus(ConsensusStatusDisabled)
		return
	}
	n, ok := writeGuestBytes(mod, bufPtr, 32, s.snapshot.StateHash[:])
	if !ok {
		stack[0] = encodeStatus(ConsensusStatusBufferTooSmall)
		return
	}
	stack[0] = uint64(uint32(n))
}

func (s *consensusState) hostProposeWeight(stack []uint64) {
	uid, weight := int32(stack[0]), int32(stack[1])

	if !s.policy.Enabled {
		stack[0] = encodeStatus(ConsensusStatusDisabled)
		return
	}
	if !s.policy.AllowWeightProposals {
		stack[0] = encodeStatus(ConsensusStatusDisabled)
		return
	}
	if s.proposalsMade >= s.policy.MaxWeightProposals {
		stack[0] = encodeStatus(ConsensusStatusProposalLimitExceeded)
		return
	}
	s.proposalsMade++
	s.proposedWeights = append(s.proposedWeights, WeightProposal{UID: uid, Weight: weight})
	stack[0] = encodeStatus(ConsensusStatusSuccess)
}

func registerConsensus(ctx context.Context, rt wazero.Runtime, state *consensusState) error {
	i32 := api.ValueTypeI32
	i64 := api.ValueTypeI64
	b := rt.NewHostModuleBuilder(ConsensusNamespace)

	b = b.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(func(_ context.Context, _ api.Module, stack []uint64) {
			state.hostGetEpoch(stack)
		}), []api.ValueType{}, []api.ValueType{i64}).
		Export(exportConsensusGetEpoch)

	b = b.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(func(_ context.Context, mod api.Module, stack []uint64) {
			state.hostGetValidators(mod, stack)
		}), []api.ValueType{i32, i32}, []api.ValueType{i32}).
		Export(exportConsensusGetValidators)

	b = b.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(func(_ context.Context, _ api.Module, stack []uint64) {
			state.hostProposeWeight(stack)
		}), []api.ValueType{i32, i32}, []api.ValueType{i32}).
		Export(exportConsensusProposeWeight)

	b = b.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(func(_ context.Context, mod api.Module, stack []uint64) {
			state.hostGetVotes(mod, stack)
		}), []api.ValueType{i32, i32}, []api.ValueType{i32}).
		Export(exportConsensusGetVotes)

	b = b.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(func(_ context.Context, mod api.Module, stack []uint64) {
			state.hostGetStateHash(mod, stack)
		}), []api.ValueType{i32}, []api.ValueType{i32}).
		Export(exportConsensusGetStateHash)

	b = b.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(func(_ context.Context, _ api.Module, stack []uint64) {
			state.hostGetSubmissionCount(stack)
		}), []api.ValueType{}, []api.ValueType{i32}).
		Export(exportConsensusGetSubmissionCount)

	b = b.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(func(_ context.Context, _ api.Module, stack []uint64) {
			state.hostGetBlockHeight(stack)
		}), []api.ValueType{}, []api.ValueType{i64}).
		Export(exportConsensusGetBlockHeight)

	b = b.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(func(_ context.Context, mod api.Module, stack []uint64) {
			state.hostGetSubnetChallenges(mod, stack)
		}), []api.ValueType{i32, i32}, []api.ValueType{i32}).
		Export(exportConsensusGetSubnetChallenges)

	_, err := b.Instantiate(ctx)
	return err
}
