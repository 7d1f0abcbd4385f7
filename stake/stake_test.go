// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package stake

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetAndGet(t *testing.T) {
	r := NewRegistry()
	r.Set("validator-a", 100)
	w, ok := r.Get("validator-a")
	require.True(t, ok)
	require.Equal(t, uint64(100), w)
}

func TestTotalTracksUpdatesAndRemovals(t *testing.T) {
	r := NewRegistry()
	r.Set("a", 100)
	r.Set("b", 50)
	require.Equal(t, uint64(150), r.Total())

	r.Set("a", 200) // replace, not add
	require.Equal(t, uint64(250), r.Total())

	r.Remove("b")
	require.Equal(t, uint64(200), r.Total())
}

func TestGetUnknownValidator(t *testing.T) {
	r := NewRegistry()
	_, ok := r.Get("nobody")
	require.False(t, ok)
}
