// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package registry

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLifecycleValidTransitions(t *testing.T) {
	l := NewLifecycle()
	require.True(t, l.IsValidTransition(Registered, Starting))
	require.True(t, l.IsValidTransition(Starting, Running))
	require.True(t, l.IsValidTransition(Running, Stopping))
	require.True(t, l.IsValidTransition(Stopping, Stopped))
	require.True(t, l.IsValidTransition(Running, Migrating))
	require.True(t, l.IsValidTransition(Migrating, Running))
}

func TestLifecycleInvalidTransitions(t *testing.T) {
	l := NewLifecycle()
	require.False(t, l.IsValidTransition(Registered, Running))
	require.False(t, l.IsValidTransition(Stopped, Running))
	require.False(t, l.IsValidTransition(Migrating, Stopped))
	require.False(t, l.IsValidTransition(Registered, Migrating))
}

func TestLifecycleDefaults(t *testing.T) {
	l := NewLifecycle()
	require.True(t, l.AutoRestartEnabled())
	require.Equal(t, uint32(3), l.MaxRestartAttempts())
}

func TestLifecycleWithAutoRestart(t *testing.T) {
	l := NewLifecycle().WithAutoRestart(false, 5)
	require.False(t, l.AutoRestartEnabled())
	require.Equal(t, uint32(5), l.MaxRestartAttempts())
}

func strPtr(s string) *string { return &s }

func TestRestartRequired(t *testing.T) {
	l := NewLifecycle()

	require.True(t, l.RestartRequired(strPtr("a"), strPtr("b"), 0, 0))
	require.True(t, l.RestartRequired(nil, strPtr("b"), 0, 0))
	require.True(t, l.RestartRequired(strPtr("a"), nil, 0, 0))
	require.False(t, l.RestartRequired(nil, nil, 0, 0))
	require.True(t, l.RestartRequired(strPtr("a"), strPtr("a"), 1, 2))
	require.False(t, l.RestartRequired(strPtr("a"), strPtr("a"), 2, 2))
}
