// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package progress

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newStoreAt(t0 time.Time) *Store {
	s := New(time.Minute)
	s.now = func() time.Time { return t0 }
	return s
}

func TestAppendBuildsHistoryAndIndexes(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := newStoreAt(base)

	s.Append(Update{EvaluationID: "e1", AgentHash: "a1", ValidatorHotkey: "v1", Status: StatusRunning, TasksCompleted: 1, TasksTotal: 4})
	s.now = func() time.Time { return base.Add(time.Second) }
	s.Append(Update{EvaluationID: "e1", AgentHash: "a1", ValidatorHotkey: "v1", Status: StatusCompleted, TasksCompleted: 4, TasksTotal: 4})

	hist, ok := s.ByID("e1")
	require.True(t, ok)
	require.Len(t, hist, 2)
	require.Equal(t, StatusRunning, hist[0].Status)
	require.Equal(t, StatusCompleted, hist[1].Status)
	require.False(t, hist[1].CompletedAt.IsZero())
}

func TestLatestForAgentPicksMostRecentAcrossEvaluations(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := newStoreAt(base)

	s.Append(Update{EvaluationID: "e1", AgentHash: "a1", Status: StatusRunning})
	s.now = func() time.Time { return base.Add(time.Minute) }
	s.Append(Update{EvaluationID: "e2", AgentHash: "a1", Status: StatusRunning})

	latest, ok := s.LatestForAgent("a1")
	require.True(t, ok)
	require.Equal(t, "e2", latest.EvaluationID)
}

func TestListByAgentAndValidator(t *testing.T) {
	s := New(time.Minute)
	s.Append(Update{EvaluationID: "e1", AgentHash: "a1", ValidatorHotkey: "v1", Status: StatusRunning})
	s.Append(Update{EvaluationID: "e2", AgentHash: "a1", ValidatorHotkey: "v2", Status: StatusRunning})
	s.Append(Update{EvaluationID: "e3", AgentHash: "a2", ValidatorHotkey: "v1", Status: StatusRunning})

	require.Len(t, s.ListByAgent("a1"), 2)
	require.Len(t, s.ListByAgent("a2"), 1)
	require.Len(t, s.ListByValidator("v1"), 2)
	require.Len(t, s.ListByValidator("v2"), 1)
	require.Empty(t, s.ListByAgent("does-not-exist"))
}

func TestListRunningExcludesTerminal(t *testing.T) {
	s := New(time.Minute)
	s.Append(Update{EvaluationID: "running", AgentHash: "a1", Status: StatusRunning})
	s.Append(Update{EvaluationID: "done", AgentHash: "a1", Status: StatusCompleted})
	s.Append(Update{EvaluationID: "failed", AgentHash: "a1", Status: StatusFailed})

	running := s.ListRunning()
	require.Len(t, running, 1)
	require.Equal(t, "running", running[0].EvaluationID)
}

func TestSweepEvictsOnlyExpiredTerminalEntries(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := newStoreAt(base)
	s.ttl = time.Minute

	s.Append(Update{EvaluationID: "old-done", AgentHash: "a1", ValidatorHotkey: "v1", Status: StatusCompleted})
	s.Append(Update{EvaluationID: "still-running", AgentHash: "a1", ValidatorHotkey: "v1", Status: StatusRunning})

	s.now = func() time.Time { return base.Add(2 * time.Minute) }
	s.Append(Update{EvaluationID: "recent-done", AgentHash: "a2", ValidatorHotkey: "v2", Status: StatusCompleted})

	s.Sweep()

	_, ok := s.ByID("old-done")
	require.False(t, ok, "terminal entry past TTL must be evicted")
	_, ok = s.ByID("still-running")
	require.True(t, ok, "non-terminal entries are never evicted")
	_, ok = s.ByID("recent-done")
	require.True(t, ok, "terminal entry within TTL must survive")

	require.NotContains(t, s.byAgent["a1"], "old-done")
	require.Contains(t, s.byAgent["a1"], "still-running")
}

func TestTerminalStatus(t *testing.T) {
	require.True(t, StatusCompleted.Terminal())
	require.True(t, StatusFailed.Terminal())
	require.False(t, StatusRunning.Terminal())
	require.False(t, StatusQueued.Terminal())
}
