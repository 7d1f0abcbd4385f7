// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package epoch maps chain block numbers onto evaluation epochs and
// their Evaluation/Commit/Reveal phases (spec §3, §4.1).
package epoch

import (
	"sync"

	"github.com/luxfi/platform-validator/utils/constants"
)

// Phase is the sub-epoch phase a block falls into.
type Phase uint8

const (
	// Evaluation is the first 75% of a tempo.
	Evaluation Phase = iota
	// Commit is [75%, 87.5%) of a tempo.
	Commit
	// Reveal is [87.5%, 100%) of a tempo.
	Reveal
)

// String implements fmt.Stringer.
func (p Phase) String() string {
	switch p {
	case Evaluation:
		return "Evaluation"
	case Commit:
		return "Commit"
	case Reveal:
		return "Reveal"
	default:
		return "Unknown"
	}
}

// Transition is emitted by OnNewBlock when a block both advances and
// strictly increases the epoch number.
type Transition struct {
	OldEpoch uint64
	NewEpoch uint64
	Block    uint64
}

// Calculator computes epoch/phase from a block number and tracks the
// last-seen block so it can detect epoch transitions.
//
// Calculator is safe for concurrent use; set_tempo and on_new_block may
// be called from the block-sync goroutine while epoch_from_block /
// phase_for_block are read concurrently by HTTP handlers.
type Calculator struct {
	mu sync.RWMutex

	epochZeroStartBlock uint64
	tempo               uint64

	haveSeenBlock bool
	lastBlock     uint64
	lastEpoch     uint64
}

// NewCalculator constructs a Calculator anchored at epochZeroStartBlock
// with the given initial tempo. A tempo of 0 is invalid and is
// replaced with 1 to avoid a division by zero; callers should always
// supply the chain's real tempo.
func NewCalculator(epochZeroStartBlock, tempo uint64) *Calculator {
	if tempo == 0 {
		tempo = 1
	}
	return &Calculator{
		epochZeroStartBlock: epochZeroStartBlock,
		tempo:               tempo,
	}
}

// EpochFromBlock returns the epoch number containing block.
//
// Invariant E1: epoch*tempo + epochZeroStartBlock <= block for block >=
// epochZeroStartBlock, which holds directly from integer division.
func (c *Calculator) EpochFromBlock(block uint64) uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.epochFromBlockLocked(block)
}

func (c *Calculator) epochFromBlockLocked(block uint64) uint64 {
	if block < c.epochZeroStartBlock {
		return 0
	}
	return (block - c.epochZeroStartBlock) / c.tempo
}

// StartBlockForEpoch returns the first block number belonging to epoch.
func (c *Calculator) StartBlockForEpoch(epoch uint64) uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.epochZeroStartBlock + epoch*c.tempo
}

// PhaseForBlock returns the phase of block within its epoch.
//
// Invariant E2: phase is Evaluation iff (block-epochZeroStartBlock) mod
// tempo < floor(tempo*3/4).
func (c *Calculator) PhaseForBlock(block uint64) Phase {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.phaseForBlockLocked(block)
}

func (c *Calculator) phaseForBlockLocked(block uint64) Phase {
	offset := c.offsetInEpochLocked(block)
	evalEnd := uint64(float64(c.tempo) * constants.EvaluationPhaseEnd)
	commitEnd := uint64(float64(c.tempo) * constants.CommitPhaseEnd)
	switch {
	case offset < evalEnd:
		return Evaluation
	case offset < commitEnd:
		return Commit
	default:
		return Reveal
	}
}

func (c *Calculator) offsetInEpochLocked(block uint64) uint64 {
	if block < c.epochZeroStartBlock {
		return 0
	}
	return (block - c.epochZeroStartBlock) % c.tempo
}

// BlocksRemaining returns the number of blocks left until the next
// epoch boundary, counting block itself as not yet elapsed.
func (c *Calculator) BlocksRemaining(block uint64) uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	offset := c.offsetInEpochLocked(block)
	return c.tempo - offset
}

// SetTempo updates the tempo used for future epoch/phase calculations.
// A tempo of 0 is ignored (spec §4.1): the chain never reports a
// degenerate tempo, and silently ignoring it is safer than panicking
// or dividing by zero on the next call.
func (c *Calculator) SetTempo(tempo uint64) {
	if tempo == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tempo = tempo
}

// Tempo returns the currently configured tempo.
func (c *Calculator) Tempo() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tempo
}

// OnNewBlock records the observation of block and returns a Transition
// if, and only if, the block strictly advances past the last observed
// block and the epoch strictly increases. The very first call never
// returns a transition (cold start must not synthesize a spurious
// 0->0 transition), and epochs are never reported as decreasing: a
// block number at or below the last observed block is ignored.
func (c *Calculator) OnNewBlock(block uint64) *Transition {
	c.mu.Lock()
	defer c.mu.Unlock()

	newEpoch := c.epochFromBlockLocked(block)

	if !c.haveSeenBlock {
		c.haveSeenBlock = true
		c.lastBlock = block
		c.lastEpoch = newEpoch
		return nil
	}

	if block <= c.lastBlock {
		return nil
	}

	oldEpoch := c.lastEpoch
	c.lastBlock = block
	if newEpoch <= oldEpoch {
		// Never regress; epoch transitions are strictly increasing (§5).
		c.lastEpoch = oldEpoch
		return nil
	}
	c.lastEpoch = newEpoch

	return &Transition{
		OldEpoch: oldEpoch,
		NewEpoch: newEpoch,
		Block:    block,
	}
}
