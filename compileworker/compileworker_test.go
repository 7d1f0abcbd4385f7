// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package compileworker

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/platform-validator/internal/platformlog"
	"github.com/luxfi/platform-validator/utils/constants"
)

func TestSelectValidatorsDeterministicAndWrapping(t *testing.T) {
	validators := []string{"v3", "v1", "v2"}
	var hash [32]byte
	hash[0] = 2 // low byte of little-endian u64 -> start index 2 % 3 == 2

	got, err := SelectValidators(hash, validators, 2)
	require.NoError(t, err)
	require.Equal(t, []string{"v3", "v1"}, got) // sorted: v1,v2,v3; start=2 -> v3, wrap -> v1
}

func TestSelectValidatorsEmptySet(t *testing.T) {
	_, err := SelectValidators([32]byte{}, nil, 2)
	require.ErrorIs(t, err, ErrNoValidators)
}

func TestSelectValidatorsCountClampedToSetSize(t *testing.T) {
	got, err := SelectValidators([32]byte{}, []string{"a"}, 5)
	require.NoError(t, err)
	require.Equal(t, []string{"a"}, got)
}

type fakeAgentStore struct {
	pending     []string
	compiling   map[string]bool
	ready       map[string]bool
	failed      map[string]string
	hashes      map[string][32]byte
	failFetch   bool
}

func newFakeAgentStore() *fakeAgentStore {
	return &fakeAgentStore{
		compiling: map[string]bool{},
		ready:     map[string]bool{},
		failed:    map[string]string{},
		hashes:    map[string][32]byte{},
	}
}

func (s *fakeAgentStore) FetchPending(ctx context.Context, limit int) ([]string, error) {
	if s.failFetch {
		return nil, errors.New("fetch failed")
	}
	if limit < len(s.pending) {
		return s.pending[:limit], nil
	}
	return s.pending, nil
}
func (s *fakeAgentStore) MarkCompiling(ctx context.Context, agentID string) error {
	s.compiling[agentID] = true
	return nil
}
func (s *fakeAgentStore) MarkReady(ctx context.Context, agentID, path string, size, durationMS int64) error {
	s.ready[agentID] = true
	return nil
}
func (s *fakeAgentStore) MarkFailed(ctx context.Context, agentID, reason string) error {
	s.failed[agentID] = reason
	return nil
}
func (s *fakeAgentStore) AgentHash(ctx context.Context, agentID string) ([32]byte, error) {
	return s.hashes[agentID], nil
}

type fakeBuilder struct {
	fail bool
}

func (b *fakeBuilder) Build(ctx context.Context, agentID string) (BuildResult, error) {
	if b.fail {
		return BuildResult{}, errors.New("build failed")
	}
	return BuildResult{Binary: []byte("binary"), DurationMS: 42}, nil
}

type fakeBinaryStore struct{}

func (fakeBinaryStore) Store(ctx context.Context, agentID string, binary []byte) (string, int64, error) {
	return "/bin/" + agentID, int64(len(binary)), nil
}

type fakeAssigner struct {
	cleared  []string
	assigned map[string][]string
}

func newFakeAssigner() *fakeAssigner {
	return &fakeAssigner{assigned: map[string][]string{}}
}
func (a *fakeAssigner) ClearAssignments(ctx context.Context, agentID string) error {
	a.cleared = append(a.cleared, agentID)
	return nil
}
func (a *fakeAssigner) LoadCanonicalTasks(ctx context.Context, n int) ([]string, error) {
	tasks := []string{"t1", "t2", "t3"}
	if n < len(tasks) {
		tasks = tasks[:n]
	}
	return tasks, nil
}
func (a *fakeAssigner) AssignTasks(ctx context.Context, agentID string, validators, tasks []string) error {
	a.assigned[agentID] = validators
	return nil
}

type fakeValidatorLister struct{ validators []string }

func (f fakeValidatorLister) ActiveValidators(ctx context.Context) ([]string, error) {
	return f.validators, nil
}

type fakeNotifier struct{ notified []string }

func (f *fakeNotifier) NotifyBinaryReady(ctx context.Context, validatorID, agentID string) error {
	f.notified = append(f.notified, validatorID+":"+agentID)
	return nil
}

func TestWorkerProcessAgentSuccessPath(t *testing.T) {
	agents := newFakeAgentStore()
	agents.pending = []string{"agent-1"}
	agents.hashes["agent-1"] = [32]byte{}

	assigner := newFakeAssigner()
	notifier := &fakeNotifier{}

	w := NewWorker(Config{
		Agents:     agents,
		Builder:    &fakeBuilder{},
		Binaries:   fakeBinaryStore{},
		Assigner:   assigner,
		Validators: fakeValidatorLister{validators: []string{"v1", "v2", "v3"}},
		Notifier:   notifier,
		Log:        platformlog.NewNoOpLogger(),
	})

	w.processAgent(context.Background(), "agent-1")

	require.True(t, agents.compiling["agent-1"])
	require.True(t, agents.ready["agent-1"])
	require.Contains(t, assigner.cleared, "agent-1")
	require.Len(t, assigner.assigned["agent-1"], constants.ValidatorsPerAgent)
	require.Len(t, notifier.notified, constants.ValidatorsPerAgent)
}

func TestWorkerProcessAgentBuildFailure(t *testing.T) {
	agents := newFakeAgentStore()
	agents.pending = []string{"agent-1"}

	w := NewWorker(Config{
		Agents:     agents,
		Builder:    &fakeBuilder{fail: true},
		Binaries:   fakeBinaryStore{},
		Assigner:   newFakeAssigner(),
		Validators: fakeValidatorLister{validators: []string{"v1"}},
		Notifier:   &fakeNotifier{},
		Log:        platformlog.NewNoOpLogger(),
	})

	w.processAgent(context.Background(), "agent-1")

	require.Equal(t, "build failed", agents.failed["agent-1"])
	require.False(t, agents.ready["agent-1"])
}

func TestWorkerPollOnceProcessesBatch(t *testing.T) {
	agents := newFakeAgentStore()
	agents.pending = []string{"a1", "a2"}

	w := NewWorker(Config{
		Agents:     agents,
		Builder:    &fakeBuilder{},
		Binaries:   fakeBinaryStore{},
		Assigner:   newFakeAssigner(),
		Validators: fakeValidatorLister{validators: []string{"v1", "v2"}},
		Notifier:   &fakeNotifier{},
		Log:        platformlog.NewNoOpLogger(),
		BatchSize:  5,
	})

	w.pollOnce(context.Background())

	require.True(t, agents.ready["a1"])
	require.True(t, agents.ready["a2"])
}

func TestWorkerPollOnceFetchFailureIsNonFatal(t *testing.T) {
	agents := newFakeAgentStore()
	agents.failFetch = true

	w := NewWorker(Config{
		Agents:     agents,
		Builder:    &fakeBuilder{},
		Binaries:   fakeBinaryStore{},
		Assigner:   newFakeAssigner(),
		Validators: fakeValidatorLister{},
		Notifier:   &fakeNotifier{},
		Log:        platformlog.NewNoOpLogger(),
	})

	w.pollOnce(context.Background()) // must not panic
}
