// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package blocksync

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/platform-validator/epoch"
)

type fakeFetcher struct {
	mu        sync.Mutex
	responses []NetworkState
	errs      []error
	idx       int
}

func (f *fakeFetcher) GetNetworkState(ctx context.Context) (NetworkState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.idx
	f.idx++
	if i < len(f.errs) && f.errs[i] != nil {
		return NetworkState{}, f.errs[i]
	}
	if i < len(f.responses) {
		return f.responses[i], nil
	}
	return NetworkState{}, errors.New("no more responses")
}

func drain(t *testing.T, ch <-chan Event, timeout time.Duration) []Event {
	t.Helper()
	var events []Event
	deadline := time.After(timeout)
	for {
		select {
		case ev := <-ch:
			events = append(events, ev)
		case <-deadline:
			return events
		}
	}
}

func TestPollSuccessEmitsNewBlockAndTempoUpdateOnce(t *testing.T) {
	fetcher := &fakeFetcher{
		errs: []error{nil},
		responses: []NetworkState{
			{BlockNumber: 10, Tempo: 5},
		},
	}
	calc := epoch.NewCalculator(0, 1)
	s := NewSyncer(fetcher, calc, time.Hour, nil)
	sub := s.Subscribe()

	wait := s.poll(context.Background())
	require.Equal(t, time.Hour, wait)

	events := collectImmediate(sub)
	require.Len(t, events, 2)
	require.Equal(t, TempoUpdated, events[0].Kind)
	require.Equal(t, uint64(5), events[0].Tempo)
	require.Equal(t, NewBlock, events[1].Kind)
}

func TestPollEpochTransitionEmitted(t *testing.T) {
	fetcher := &fakeFetcher{
		errs: []error{nil, nil},
		responses: []NetworkState{
			{BlockNumber: 5, Tempo: 10},
			{BlockNumber: 10, Tempo: 10},
		},
	}
	calc := epoch.NewCalculator(0, 10)
	s := NewSyncer(fetcher, calc, time.Hour, nil)
	sub := s.Subscribe()

	s.poll(context.Background()) // cold start at epoch 0, no transition
	collectImmediate(sub)

	s.poll(context.Background()) // crosses into epoch 1
	events := collectImmediate(sub)

	var sawTransition bool
	for _, ev := range events {
		if ev.Kind == EpochTransitionEvent {
			sawTransition = true
			require.Equal(t, uint64(0), ev.Transition.OldEpoch)
			require.Equal(t, uint64(1), ev.Transition.NewEpoch)
		}
	}
	require.True(t, sawTransition)
}

func TestPollTempoUnchangedSuppressesEvent(t *testing.T) {
	fetcher := &fakeFetcher{
		errs: []error{nil},
		responses: []NetworkState{
			{BlockNumber: 1, Tempo: 100},
		},
	}
	calc := epoch.NewCalculator(0, 100)
	s := NewSyncer(fetcher, calc, time.Hour, nil)
	sub := s.Subscribe()

	s.poll(context.Background())
	events := collectImmediate(sub)

	for _, ev := range events {
		require.NotEqual(t, TempoUpdated, ev.Kind)
	}
}

func TestFailureBackoffAndDisconnectThreshold(t *testing.T) {
	fetcher := &fakeFetcher{
		errs: []error{errors.New("boom"), errors.New("boom"), errors.New("boom")},
	}
	calc := epoch.NewCalculator(0, 10)
	s := NewSyncer(fetcher, calc, time.Second, nil)
	sub := s.Subscribe()

	w1 := s.poll(context.Background())
	require.Equal(t, 2*time.Second, w1) // shift 1
	w2 := s.poll(context.Background())
	require.Equal(t, 4*time.Second, w2) // shift 2

	events := collectImmediate(sub)
	for _, ev := range events {
		require.NotEqual(t, Disconnected, ev.Kind)
	}

	w3 := s.poll(context.Background())
	require.Equal(t, 8*time.Second, w3) // shift 3, crosses threshold of 3

	events = collectImmediate(sub)
	require.Len(t, events, 1)
	require.Equal(t, Disconnected, events[0].Kind)
	require.False(t, s.Connected())
}

func TestConnectedDefaultsTrueAndRecoversAfterReconnect(t *testing.T) {
	fetcher := &fakeFetcher{
		errs: []error{errors.New("a"), errors.New("b"), errors.New("c")},
		responses: []NetworkState{{}, {}, {}, {BlockNumber: 100, Tempo: 10}},
	}
	calc := epoch.NewCalculator(0, 10)
	s := NewSyncer(fetcher, calc, time.Second, nil)
	require.True(t, s.Connected())

	for i := 0; i < 3; i++ {
		s.poll(context.Background())
	}
	require.False(t, s.Connected())

	s.poll(context.Background())
	require.True(t, s.Connected())
}

func TestBackoffCappedAtMaxShift(t *testing.T) {
	errs := make([]error, 10)
	for i := range errs {
		errs[i] = errors.New("boom")
	}
	fetcher := &fakeFetcher{errs: errs}
	calc := epoch.NewCalculator(0, 10)
	s := NewSyncer(fetcher, calc, time.Second, nil)

	var last time.Duration
	for i := 0; i < 10; i++ {
		last = s.poll(context.Background())
	}
	require.Equal(t, time.Second<<5, last)
}

func TestReconnectedEmittedAfterDisconnect(t *testing.T) {
	fetcher := &fakeFetcher{
		errs: []error{errors.New("a"), errors.New("b"), errors.New("c"), nil},
		responses: []NetworkState{
			{}, {}, {},
			{BlockNumber: 1, Tempo: 10},
		},
	}
	calc := epoch.NewCalculator(0, 10)
	s := NewSyncer(fetcher, calc, time.Second, nil)
	sub := s.Subscribe()

	for i := 0; i < 3; i++ {
		s.poll(context.Background())
	}
	collectImmediate(sub)

	s.poll(context.Background())
	events := collectImmediate(sub)

	var sawReconnect bool
	for _, ev := range events {
		if ev.Kind == Reconnected {
			sawReconnect = true
		}
	}
	require.True(t, sawReconnect)
}

func TestRunStopsOnContextCancel(t *testing.T) {
	fetcher := &fakeFetcher{
		errs: []error{errors.New("always fails")},
	}
	calc := epoch.NewCalculator(0, 10)
	s := NewSyncer(fetcher, calc, time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	time.Sleep(5 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after context cancellation")
	}
}

func TestEnableMetricsRecordsPollOutcomes(t *testing.T) {
	fetcher := &fakeFetcher{
		errs:      []error{errors.New("boom"), nil},
		responses: []NetworkState{{}, {BlockNumber: 1, Tempo: 10}},
	}
	calc := epoch.NewCalculator(0, 10)
	s := NewSyncer(fetcher, calc, time.Second, nil)

	reg := prometheus.NewRegistry()
	require.NoError(t, s.EnableMetrics(reg))

	s.poll(context.Background())
	require.Equal(t, float64(1), testutil.ToFloat64(s.metrics.pollFailure))
	require.Equal(t, float64(0), testutil.ToFloat64(s.metrics.pollSuccess))

	s.poll(context.Background())
	require.Equal(t, float64(1), testutil.ToFloat64(s.metrics.pollFailure))
	require.Equal(t, float64(1), testutil.ToFloat64(s.metrics.pollSuccess))
	require.GreaterOrEqual(t, s.metrics.pollDuration.Read(), float64(0))
}

// collectImmediate drains whatever is already buffered on ch without
// blocking, for use right after a synchronous poll() call.
func collectImmediate(ch <-chan Event) []Event {
	var events []Event
	for {
		select {
		case ev := <-ch:
			events = append(events, ev)
		default:
			return events
		}
	}
}
