// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package hostabi

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLLMPolicyDefaultDisabled(t *testing.T) {
	p := DefaultLLMPolicy()
	require.False(t, p.available())
}

func TestLLMPolicyAvailableRequiresKeyAndEnabled(t *testing.T) {
	require.False(t, (LLMPolicy{Enabled: true}).available())
	require.False(t, (LLMPolicy{APIKey: "k"}).available())
	require.True(t, (LLMPolicy{Enabled: true, APIKey: "k"}).available())
}

func TestLLMPolicyStringRedactsKey(t *testing.T) {
	p := LLMPolicy{Enabled: true, APIKey: "super-secret-key-12345", Model: "gpt"}
	s := p.String()
	require.NotContains(t, s, "super-secret-key-12345")
	require.Contains(t, s, "[REDACTED]")
	require.True(t, strings.Contains(s, "gpt"))
}

func TestLLMPolicyMarshalJSONOmitsKey(t *testing.T) {
	p := LLMPolicy{Enabled: true, APIKey: "super-secret-key-12345", Model: "gpt"}
	buf, err := p.MarshalJSON()
	require.NoError(t, err)
	require.NotContains(t, string(buf), "super-secret-key-12345")
	require.Contains(t, string(buf), `"has_key":true`)
}

func TestLLMPolicyStringNoKey(t *testing.T) {
	p := DefaultLLMPolicy()
	require.Contains(t, p.String(), "<none>")
}
