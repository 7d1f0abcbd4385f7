// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package aggregator combines per-validator evaluation scores for an
// agent into a consensus result once enough validators have reported
// (spec §4.16). It is named for what it does rather than "consensus"
// to avoid colliding with the unrelated Avalanche/Snowman sampling
// package of the same name elsewhere in this module's ancestry.
package aggregator

import (
	"math"
	"sync"

	"github.com/luxfi/platform-validator/scoring"
)

// Stats is the mean/min/max/std summary of a set of validator scores.
type Stats struct {
	Mean   float64
	Min    float64
	Max    float64
	StdDev float64
	Count  int
}

func computeStats(scores []float64) Stats {
	n := len(scores)
	if n == 0 {
		return Stats{}
	}

	min, max := scores[0], scores[0]
	var sum float64
	for _, s := range scores {
		sum += s
		if s < min {
			min = s
		}
		if s > max {
			max = s
		}
	}
	mean := sum / float64(n)

	var variance float64
	for _, s := range scores {
		d := s - mean
		variance += d * d
	}
	variance /= float64(n)

	return Stats{
		Mean:   mean,
		Min:    min,
		Max:    max,
		StdDev: math.Sqrt(variance),
		Count:  n,
	}
}

// ConsensusResult is the finalized, cross-validator outcome for one agent.
type ConsensusResult struct {
	AgentHash string
	Stats     Stats
	Reached   bool
}

// agentVotes accumulates votes for a single agent, keyed by validator
// so a revote from the same validator replaces rather than duplicates.
type agentVotes struct {
	byValidator map[string]float64
}

// Aggregator tallies per-agent validator votes and reports consensus
// once a vote count threshold is reached. It is safe for concurrent use.
type Aggregator struct {
	mu        sync.Mutex
	threshold int
	votes     map[string]*agentVotes
}

// DefaultThreshold is the out-of-the-box evaluation_count required
// before consensus is considered reached.
const DefaultThreshold = 3

// New builds an Aggregator requiring at least threshold validator
// votes per agent before Result reports Reached. threshold <= 0 uses
// DefaultThreshold.
func New(threshold int) *Aggregator {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Aggregator{
		threshold: threshold,
		votes:     make(map[string]*agentVotes),
	}
}

// RecordVote adds or replaces validatorHotkey's normalized score for
// agentHash.
func (a *Aggregator) RecordVote(agentHash, validatorHotkey string, normalizedScore float64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	av, ok := a.votes[agentHash]
	if !ok {
		av = &agentVotes{byValidator: make(map[string]float64)}
		a.votes[agentHash] = av
	}
	av.byValidator[validatorHotkey] = normalizedScore
}

// Result computes the current ConsensusResult for agentHash from
// whatever votes have been recorded so far.
func (a *Aggregator) Result(agentHash string) ConsensusResult {
	a.mu.Lock()
	defer a.mu.Unlock()

	av, ok := a.votes[agentHash]
	if !ok {
		return ConsensusResult{AgentHash: agentHash}
	}

	scores := make([]float64, 0, len(av.byValidator))
	for _, s := range av.byValidator {
		scores = append(scores, s)
	}
	stats := computeStats(scores)

	return ConsensusResult{
		AgentHash: agentHash,
		Stats:     stats,
		Reached:   stats.Count >= a.threshold,
	}
}

// EvaluationCount reports how many distinct validators have voted on
// agentHash so far.
func (a *Aggregator) EvaluationCount(agentHash string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	if av, ok := a.votes[agentHash]; ok {
		return len(av.byValidator)
	}
	return 0
}

// Reset clears all recorded votes for agentHash, e.g. at epoch
// rollover.
func (a *Aggregator) Reset(agentHash string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.votes, agentHash)
}

// WeightWriter is the external, chain-bound collaborator that
// finalizes on-chain weights from a reached consensus result (spec
// §1); this package only depends on this narrow interface.
type WeightWriter interface {
	WriteWeight(agentHash string, weight float64) error
}

// Finalize publishes agentHash's weight to writer if and only if
// consensus has been reached, using the scoring calculator to convert
// the mean normalized score into a chain weight, and records the
// updated leaderboard row.
func Finalize(a *Aggregator, board *scoring.Leaderboard, calc scoring.Calculator, agentHash string, writer WeightWriter) (ConsensusResult, error) {
	result := a.Result(agentHash)
	if !result.Reached {
		return result, nil
	}

	agg := scoring.AggregateScore{NormalizedScore: result.Stats.Mean}
	board.Update(agentHash, agg)

	weight := calc.ToWeight(agg)
	if err := writer.WriteWeight(agentHash, weight); err != nil {
		return result, err
	}
	return result, nil
}
