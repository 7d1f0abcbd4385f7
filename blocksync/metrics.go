// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package blocksync

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/luxfi/platform-validator/metrics"
)

// syncerMetrics tracks poll outcomes and latency. Construction follows
// the teacher's per-component newMetrics(registerer) convention.
type syncerMetrics struct {
	pollDuration metrics.Averager
	pollSuccess  prometheus.Counter
	pollFailure  prometheus.Counter
}

func newSyncerMetrics(reg prometheus.Registerer) (*syncerMetrics, error) {
	avg, err := metrics.NewAverager("blocksync_poll_duration_seconds", "block sync poll duration in seconds", reg)
	if err != nil {
		return nil, err
	}

	success := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "blocksync_poll_success_total",
		Help: "Number of successful block sync polls",
	})
	if err := reg.Register(success); err != nil {
		return nil, err
	}

	failure := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "blocksync_poll_failure_total",
		Help: "Number of failed block sync polls",
	})
	if err := reg.Register(failure); err != nil {
		return nil, err
	}

	return &syncerMetrics{pollDuration: avg, pollSuccess: success, pollFailure: failure}, nil
}
