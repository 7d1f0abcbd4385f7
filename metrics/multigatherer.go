// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package metrics

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// MultiGatherer combines the prometheus registries of independently
// instrumented components (blocksync, httpapi, ...) into a single
// collection point for GET /metrics, the way the teacher's
// api/metrics.MultiGatherer combines per-chain gatherers.
type MultiGatherer interface {
	prometheus.Gatherer

	// Register adds name's gatherer to the combined set. name must be
	// unique; registering the same name twice is an error.
	Register(name string, g prometheus.Gatherer) error
}

type multiGatherer struct {
	mu        sync.RWMutex
	gatherers map[string]prometheus.Gatherer
}

// NewMultiGatherer returns an empty MultiGatherer.
func NewMultiGatherer() MultiGatherer {
	return &multiGatherer{gatherers: make(map[string]prometheus.Gatherer)}
}

func (mg *multiGatherer) Register(name string, g prometheus.Gatherer) error {
	mg.mu.Lock()
	defer mg.mu.Unlock()

	if _, exists := mg.gatherers[name]; exists {
		return fmt.Errorf("metrics: gatherer %q already registered", name)
	}
	mg.gatherers[name] = g
	return nil
}

// Gather implements prometheus.Gatherer, concatenating every
// registered component's metric families. Families are not
// deduplicated across components; callers are expected to namespace
// metric names so that never collides.
func (mg *multiGatherer) Gather() ([]*dto.MetricFamily, error) {
	mg.mu.RLock()
	defer mg.mu.RUnlock()

	var out []*dto.MetricFamily
	for name, g := range mg.gatherers {
		families, err := g.Gather()
		if err != nil {
			return nil, fmt.Errorf("metrics: gathering %q: %w", name, err)
		}
		out = append(out, families...)
	}
	return out, nil
}
