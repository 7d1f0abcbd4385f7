// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package aggregator

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/platform-validator/scoring"
)

func TestResultNotReachedBelowThreshold(t *testing.T) {
	a := New(3)
	a.RecordVote("agent1", "v1", 0.8)
	a.RecordVote("agent1", "v2", 0.9)

	result := a.Result("agent1")
	require.False(t, result.Reached)
	require.Equal(t, 2, result.Stats.Count)
}

func TestResultReachedAtThreshold(t *testing.T) {
	a := New(3)
	a.RecordVote("agent1", "v1", 0.8)
	a.RecordVote("agent1", "v2", 0.9)
	a.RecordVote("agent1", "v3", 1.0)

	result := a.Result("agent1")
	require.True(t, result.Reached)
	require.InDelta(t, 0.9, result.Stats.Mean, 1e-9)
	require.Equal(t, 0.8, result.Stats.Min)
	require.Equal(t, 1.0, result.Stats.Max)
	require.Greater(t, result.Stats.StdDev, 0.0)
}

func TestRecordVoteReplacesSameValidator(t *testing.T) {
	a := New(1)
	a.RecordVote("agent1", "v1", 0.1)
	a.RecordVote("agent1", "v1", 0.9)

	require.Equal(t, 1, a.EvaluationCount("agent1"))
	result := a.Result("agent1")
	require.Equal(t, 0.9, result.Stats.Mean)
}

func TestResultUnknownAgentIsEmpty(t *testing.T) {
	a := New(3)
	result := a.Result("ghost")
	require.False(t, result.Reached)
	require.Equal(t, 0, result.Stats.Count)
}

func TestResetClearsVotes(t *testing.T) {
	a := New(1)
	a.RecordVote("agent1", "v1", 0.5)
	a.Reset("agent1")
	require.Equal(t, 0, a.EvaluationCount("agent1"))
}

type fakeWriter struct {
	written map[string]float64
	fail    bool
}

func newFakeWriter() *fakeWriter { return &fakeWriter{written: map[string]float64{}} }

func (w *fakeWriter) WriteWeight(agentHash string, weight float64) error {
	if w.fail {
		return errors.New("write failed")
	}
	w.written[agentHash] = weight
	return nil
}

func TestFinalizeSkipsWhenConsensusNotReached(t *testing.T) {
	a := New(3)
	a.RecordVote("agent1", "v1", 0.9)
	board := scoring.NewLeaderboard(10)
	writer := newFakeWriter()

	result, err := Finalize(a, board, scoring.DefaultCalculator(), "agent1", writer)
	require.NoError(t, err)
	require.False(t, result.Reached)
	require.Empty(t, writer.written)
	require.Empty(t, board.All())
}

func TestFinalizeWritesWeightAndUpdatesLeaderboard(t *testing.T) {
	a := New(2)
	a.RecordVote("agent1", "v1", 0.8)
	a.RecordVote("agent1", "v2", 1.0)
	board := scoring.NewLeaderboard(10)
	writer := newFakeWriter()

	result, err := Finalize(a, board, scoring.DefaultCalculator(), "agent1", writer)
	require.NoError(t, err)
	require.True(t, result.Reached)
	require.InDelta(t, 0.9, writer.written["agent1"], 1e-9)

	entry, ok := board.Get("agent1")
	require.True(t, ok)
	require.InDelta(t, 0.9, entry.Score.NormalizedScore, 1e-9)
}

func TestFinalizePropagatesWriterError(t *testing.T) {
	a := New(1)
	a.RecordVote("agent1", "v1", 0.5)
	board := scoring.NewLeaderboard(10)
	writer := &fakeWriter{written: map[string]float64{}, fail: true}

	_, err := Finalize(a, board, scoring.DefaultCalculator(), "agent1", writer)
	require.Error(t, err)
}
