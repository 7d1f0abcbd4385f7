// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestHealthMonitorLifecycle(t *testing.T) {
	m := NewHealthMonitor()
	m.Register("chal-1")

	h, ok := m.Get("chal-1")
	require.True(t, ok)
	require.Equal(t, Unknown, h.Status)

	m.RecordSuccess("chal-1", 100.0, time.Now())
	h, _ = m.Get("chal-1")
	require.True(t, h.IsHealthy())

	m.Unregister("chal-1")
	_, ok = m.Get("chal-1")
	require.False(t, ok)
}

func TestHealthResponseTimeEMA(t *testing.T) {
	m := NewHealthMonitor()
	m.Register("chal-1")

	m.RecordSuccess("chal-1", 100.0, time.Now())
	h, _ := m.Get("chal-1")
	require.Equal(t, 100.0, h.AvgResponseTimeMS)

	m.RecordSuccess("chal-1", 200.0, time.Now())
	h, _ = m.Get("chal-1")
	require.InDelta(t, 120.0, h.AvgResponseTimeMS, 0.01) // 100*0.8 + 200*0.2
}

func TestHealthConsecutiveFailuresTransitionsToUnhealthy(t *testing.T) {
	m := NewHealthMonitor()
	m.Register("chal-1")
	now := time.Now()

	m.RecordFailure("chal-1", "timeout", now)
	h, _ := m.Get("chal-1")
	require.Equal(t, Degraded, h.Status)
	require.True(t, h.IsOperational())

	m.RecordFailure("chal-1", "timeout", now)
	m.RecordFailure("chal-1", "timeout", now)
	h, _ = m.Get("chal-1")
	require.Equal(t, Unhealthy, h.Status)
	require.False(t, h.IsOperational())
}

func TestHealthSuccessResetsFailureCount(t *testing.T) {
	m := NewHealthMonitor()
	m.Register("chal-1")
	now := time.Now()

	m.RecordFailure("chal-1", "e1", now)
	m.RecordFailure("chal-1", "e2", now)
	m.RecordSuccess("chal-1", 50.0, now)

	h, _ := m.Get("chal-1")
	require.Equal(t, uint32(0), h.ConsecutiveFailures)
	require.Equal(t, Healthy, h.Status)
}

func TestHealthAllReturnsEveryRecord(t *testing.T) {
	m := NewHealthMonitor()
	m.Register("a")
	m.Register("b")
	m.Register("c")
	require.Len(t, m.All(), 3)
}
