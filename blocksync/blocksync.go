// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package blocksync polls the chain's network-state endpoint and
// drives the epoch calculator from it (spec §4.2). The chain RPC
// client itself is an external collaborator (spec §1); this package
// only depends on the narrow NetworkStateFetcher interface.
package blocksync

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/luxfi/log"
	"github.com/luxfi/platform-validator/epoch"
	"github.com/luxfi/platform-validator/utils/constants"
)

// NetworkState is the chain's reported block height and tempo.
type NetworkState struct {
	BlockNumber uint64
	Tempo       uint64
}

// NetworkStateFetcher is implemented by the chain RPC client.
type NetworkStateFetcher interface {
	GetNetworkState(ctx context.Context) (NetworkState, error)
}

// EventKind identifies the kind of a broadcast Event.
type EventKind uint8

const (
	// NewBlock is emitted unconditionally on every successful poll.
	NewBlock EventKind = iota
	// EpochTransitionEvent is emitted when on_new_block returns a transition.
	EpochTransitionEvent
	// TempoUpdated is emitted when the observed tempo changes.
	TempoUpdated
	// Disconnected is emitted after the failure threshold is crossed.
	Disconnected
	// Reconnected is emitted on the first success after a Disconnected state.
	Reconnected
)

// Event is broadcast to subscribers on every state change worth
// reporting. Consumers are best-effort: a slow subscriber may miss
// events (spec §9, "generators/iterators").
type Event struct {
	Kind       EventKind
	Block      uint64
	Tempo      uint64
	Transition *epoch.Transition // set only for EpochTransitionEvent
}

// Syncer polls a NetworkStateFetcher on an interval and feeds an
// epoch.Calculator, broadcasting Events to any number of subscribers.
type Syncer struct {
	fetcher  NetworkStateFetcher
	calc     *epoch.Calculator
	interval time.Duration
	log      log.Logger

	mu          sync.Mutex
	subscribers []chan Event

	consecutiveFailures int
	disconnected        bool

	// connected mirrors !disconnected for lock-free reads from outside
	// the poll goroutine (e.g. an operational health check).
	connected atomic.Bool

	// metrics is nil unless EnableMetrics was called.
	metrics *syncerMetrics
}

// NewSyncer constructs a Syncer. interval is the base poll interval;
// backoff on failure is interval*2^min(failures, BlockSyncMaxBackoffShift).
func NewSyncer(fetcher NetworkStateFetcher, calc *epoch.Calculator, interval time.Duration, logger log.Logger) *Syncer {
	s := &Syncer{
		fetcher:  fetcher,
		calc:     calc,
		interval: interval,
		log:      logger,
	}
	s.connected.Store(true)
	return s
}

// EnableMetrics registers poll-duration and poll-outcome metrics with
// reg. Must be called before Run; it is not safe to call concurrently
// with a running poll loop.
func (s *Syncer) EnableMetrics(reg prometheus.Registerer) error {
	m, err := newSyncerMetrics(reg)
	if err != nil {
		return err
	}
	s.metrics = m
	return nil
}

// Connected reports whether the most recent poll succeeded (or no
// poll has failed enough times yet to trip Disconnected). Safe to
// call from any goroutine, unlike the poll-loop-only fields it mirrors.
func (s *Syncer) Connected() bool {
	return s.connected.Load()
}

// Subscribe returns a channel that receives every broadcast Event.
// The channel is buffered; if the buffer fills, further events are
// dropped for that subscriber rather than blocking the poll loop.
func (s *Syncer) Subscribe() <-chan Event {
	ch := make(chan Event, 32)
	s.mu.Lock()
	s.subscribers = append(s.subscribers, ch)
	s.mu.Unlock()
	return ch
}

func (s *Syncer) broadcast(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.subscribers {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Run polls until ctx is cancelled. It is intended to be started as a
// goroutine; shutdown is cooperative via ctx (spec §5).
func (s *Syncer) Run(ctx context.Context) {
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		wait := s.poll(ctx)
		timer.Reset(wait)
	}
}

// poll performs a single fetch and returns the delay before the next
// attempt: the configured interval on success, or an exponentially
// backed-off delay on failure.
func (s *Syncer) poll(ctx context.Context) time.Duration {
	start := time.Now()
	state, err := s.fetcher.GetNetworkState(ctx)
	if s.metrics != nil {
		s.metrics.pollDuration.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		s.consecutiveFailures++
		if s.metrics != nil {
			s.metrics.pollFailure.Inc()
		}
		if s.log != nil {
			s.log.Warn("block sync poll failed", "error", err, "consecutive_failures", s.consecutiveFailures)
		}
		if s.consecutiveFailures >= constants.BlockSyncFailureDisconnectThreshold && !s.disconnected {
			s.disconnected = true
			s.connected.Store(false)
			s.broadcast(Event{Kind: Disconnected})
		}
		return s.backoff()
	}
	if s.metrics != nil {
		s.metrics.pollSuccess.Inc()
	}

	wasDisconnected := s.disconnected
	s.consecutiveFailures = 0
	s.disconnected = false
	s.connected.Store(true)
	if wasDisconnected {
		s.broadcast(Event{Kind: Reconnected, Block: state.BlockNumber, Tempo: state.Tempo})
	}

	oldTempo := s.calc.Tempo()
	s.calc.SetTempo(state.Tempo)
	if s.calc.Tempo() != oldTempo {
		s.broadcast(Event{Kind: TempoUpdated, Block: state.BlockNumber, Tempo: s.calc.Tempo()})
	}

	transition := s.calc.OnNewBlock(state.BlockNumber)
	s.broadcast(Event{Kind: NewBlock, Block: state.BlockNumber, Tempo: s.calc.Tempo()})
	if transition != nil {
		s.broadcast(Event{Kind: EpochTransitionEvent, Block: state.BlockNumber, Tempo: s.calc.Tempo(), Transition: transition})
	}

	return s.interval
}

func (s *Syncer) backoff() time.Duration {
	shift := s.consecutiveFailures
	if shift > constants.BlockSyncMaxBackoffShift {
		shift = constants.BlockSyncMaxBackoffShift
	}
	return s.interval << uint(shift)
}
