// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package platformerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestErrorMessageIncludesKindAndItems(t *testing.T) {
	err := WithItems(Validation, "whitelist check failed", []string{"forbidden module: os", "use of eval is forbidden"})
	require.Contains(t, err.Error(), "validation")
	require.Contains(t, err.Error(), "forbidden module: os")
}

func TestWrapPreservesCauseForUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := Wrap(Transient, "chain RPC call failed", cause)
	require.ErrorIs(t, err, cause)
	require.Contains(t, err.Error(), "boom")
}

func TestAsExtractsKindThroughWrapping(t *testing.T) {
	base := New(Crypto, "content hash mismatch")
	wrapped := fmt.Errorf("verifying submission: %w", base)

	e, ok := As(wrapped)
	require.True(t, ok)
	require.Equal(t, Crypto, e.Kind)
}

func TestKindOfDefaultsToInternalForUnclassifiedErrors(t *testing.T) {
	require.Equal(t, Internal, KindOf(errors.New("unexpected")))
}

func TestRetriableKinds(t *testing.T) {
	require.True(t, Retriable(New(Policy, "quota exceeded")))
	require.True(t, Retriable(New(Transient, "websocket dropped")))
	require.False(t, Retriable(New(Validation, "bad archive")))
	require.False(t, Retriable(New(Internal, "invariant breach")))
}

func TestTerminalKinds(t *testing.T) {
	require.True(t, Terminal(New(Crypto, "bad signature")))
	require.True(t, Terminal(New(Corruption, "checksum mismatch")))
	require.False(t, Terminal(New(Resource, "fuel exhausted")))
}

func TestKindStringer(t *testing.T) {
	require.Equal(t, "validation", Validation.String())
	require.Equal(t, "internal", Internal.String())
	require.Equal(t, "unknown", Kind(99).String())
}
