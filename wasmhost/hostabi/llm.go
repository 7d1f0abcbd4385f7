// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package hostabi

import (
	"context"
	"encoding/json"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
)

const (
	LLMNamespace              = "platform_llm"
	exportLLMChatCompletion   = "llm_chat_completion"
	exportLLMIsAvailable      = "llm_is_available"
)

// LLMHostStatus enumerates the i32 codes returned by platform_llm
// exports. llm_is_available is boolean (0/1) rather than a status.
type LLMHostStatus int32

const (
	LLMStatusSuccess        LLMHostStatus = 0
	LLMStatusDisabled       LLMHostStatus = 1
	LLMStatusBufferTooSmall LLMHostStatus = -1
	LLMStatusProviderError  LLMHostStatus = -2
	LLMStatusTimeout        LLMHostStatus = -3
	LLMStatusInternalError  LLMHostStatus = -100
)

// LLMPolicy gates WASM access to the LLM chat-completion proxy. The
// API key is never exposed to the guest; it travels only from policy
// to backend. String and GoString are overridden so the key never
// surfaces in logs.
type LLMPolicy struct {
	Enabled bool
	APIKey  string
	Model   string
}

func (p LLMPolicy) String() string {
	key := "<none>"
	if p.APIKey != "" {
		key = "[REDACTED]"
	}
	return "LLMPolicy{Enabled:" + boolStr(p.Enabled) + " Model:" + p.Model + " APIKey:" + key + "}"
}

func (p LLMPolicy) GoString() string { return p.String() }

// MarshalJSON redacts APIKey the same way String does, so the policy
// can be logged or persisted without leaking the key.
func (p LLMPolicy) MarshalJSON() ([]byte, error) {
	hasKey := p.APIKey != ""
	return json.Marshal(struct {
		Enabled bool `json:"enabled"`
		Model   string `json:"model"`
		HasKey  bool `json:"has_key"`
	}{Enabled: p.Enabled, Model: p.Model, HasKey: hasKey})
}

func boolStr(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

// DefaultLLMPolicy disables the LLM proxy; a validator opts a
// challenge in by supplying an APIKey.
func DefaultLLMPolicy() LLMPolicy {
	return LLMPolicy{}
}

func (p LLMPolicy) available() bool {
	return p.Enabled && p.APIKey != ""
}

// LLMBackend performs the actual chat-completion call. The request
// and response are opaque, challenge-SDK-encoded byte buffers (the
// challenge SDK defines LlmRequest/LlmResponse); the backend forwards
// them to the configured provider.
type LLMBackend interface {
	ChatCompletion(ctx context.Context, policy LLMPolicy, request []byte) ([]byte, error)
}

type llmState struct {
	policy  LLMPolicy
	backend LLMBackend
}

func (s *llmState) resetCounters() {}

func (s *llmState) hostChatCompletion(ctx context.Context, mod api.Module, stack []uint64) {
	reqPtr, reqLen := uint32(stack[0]), uint32(stack[1])
	respPtr, respLen := uint32(stack[2]), uint32(stack[3])

	if !s.policy.available() {
		stack[0] = encodeStatus(LLMStatusDisabled)
		return
	}
	req, ok := readGuestBytes(mod, reqPtr, reqLen)
	if !ok {
		stack[0] = encodeStatus(LLMStatusInternalError)
		return
	}
	resp, err := s.backend.ChatCompletion(ctx, s.policy, req)
	if err != nil {
		stack[0] = encodeStatus(LLMStatusProviderError)
		return
	}
	n, ok := writeGuestBytes(mod, respPtr, respLen, resp)
	if !ok {
		stack[0] = encodeStatus(LLMStatusBufferTooSmall)
		return
	}
	stack[0] = uint64(uint32(n))
}

func (s *llmState) hostIsAvailable(stack []uint64) {
	if s.policy.available() {
		stack[0] = 1
	} else {
		stack[0] = 0
	}
}

func registerLLM(ctx context.Context, rt wazero.Runtime, state *llmState) error {
	_, err := rt.NewHostModuleBuilder(LLMNamespace).
		NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(func(ctx context.Context, mod api.Module, stack []uint64) {
			state.hostChatCompletion(ctx, mod, stack)
		}), []api.ValueType{api.ValueTypeI32, api.ValueTypeI32, api.ValueTypeI32, api.ValueTypeI32}, []api.ValueType{api.ValueTypeI32}).
		Export(exportLLMChatCompletion).
		NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(func(_ context.Context, _ api.Module, stack []uint64) {
			state.hostIsAvailable(stack)
		}), []api.ValueType{}, []api.ValueType{api.ValueTypeI32}).
		Export(exportLLMIsAvailable).
		Instantiate(ctx)
	return err
}
