// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package hostabi

import (
	"context"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/luxfi/log"
)

const (
	SandboxNamespace    = "platform_sandbox"
	exportSandboxExec   = "sandbox_exec"
	exportGetTimestamp  = "get_timestamp"
	exportLogMessage    = "log_message"
)

// SandboxHostStatus enumerates the i32 codes returned by
// platform_sandbox exports.
type SandboxHostStatus int32

const (
	SandboxStatusSuccess        SandboxHostStatus = 0
	SandboxStatusDisabled       SandboxHostStatus = 1
	SandboxStatusBufferTooSmall SandboxHostStatus = -1
	SandboxStatusIoError        SandboxHostStatus = -2
	SandboxStatusInternalError  SandboxHostStatus = -100
)

// SandboxPolicy gates the generic container-runner escape hatch used
// by challenges that need an arbitrary sandboxed subprocess, plus the
// always-on timestamp/log functions every namespace's counters reset
// hook shares.
type SandboxPolicy struct {
	Enabled       bool
	MaxExecOutput uint32
}

func DefaultSandboxPolicy() SandboxPolicy {
	return SandboxPolicy{Enabled: true, MaxExecOutput: 256 * 1024}
}

// SandboxBackend runs an opaque, challenge-defined sandbox execution
// request (bincode-encoded SandboxExecRequest/SandboxExecResponse).
type SandboxBackend interface {
	Exec(ctx context.Context, request []byte) ([]byte, error)
}

type sandboxState struct {
	policy  SandboxPolicy
	backend SandboxBackend
	log     log.Logger
}

func (s *sandboxState) resetCounters() {}

func (s *sandboxState) hostExec(ctx context.Context, mod api.Module, stack []uint64) {
	reqPtr, reqLen := uint32(stack[0]), uint32(stack[1])
	respPtr, respLen := uint32(stack[2]), uint32(stack[3])

	if !s.policy.Enabled {
		stack[0] = encodeStatus(SandboxStatusDisabled)
		return
	}
	req, ok := readGuestBytes(mod, reqPtr, reqLen)
	if !ok {
		stack[0] = encodeStatus(SandboxStatusInternalError)
		return
	}
	resp, err := s.backend.Exec(ctx, req)
	if err != nil {
		stack[0] = encodeStatus(SandboxStatusIoError)
		return
	}
	n, ok := writeGuestBytes(mod, respPtr, respLen, resp)
	if !ok {
		stack[0] = encodeStatus(SandboxStatusBufferTooSmall)
		return
	}
	stack[0] = uint64(uint32(n))
}

func (s *sandboxState) hostGetTimestamp(stack []uint64) {
	stack[0] = uint64(time.Now().Unix())
}

// hostLogMessage maps the small severity enum the guest SDK passes to
// log_message (0=debug, 1=info, 2=warn, 3=error); anything else is
// treated as info.
func (s *sandboxState) hostLogMessage(mod api.Module, stack []uint64) {
	level := int32(stack[0])
	msgPtr, msgLen := uint32(stack[1]), uint32(stack[2])

	msg, ok := readGuestString(mod, msgPtr, msgLen)
	if !ok || s.log == nil {
		return
	}
	switch level {
	case 0:
		s.log.Debug("wasm guest log", "msg", msg)
	case 2:
		s.log.Warn("wasm guest log", "msg", msg)
	case 3:
		s.log.Error("wasm guest log", "msg", msg)
	default:
		s.log.Info("wasm guest log", "msg", msg)
	}
}

func registerSandbox(ctx context.Context, rt wazero.Runtime, state *sandboxState) error {
	i32 := api.ValueTypeI32
	i64 := api.ValueTypeI64
	b := rt.NewHostModuleBuilder(SandboxNamespace)

	b = b.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(func(ctx context.Context, mod api.Module, stack []uint64) {
			state.hostExec(ctx, mod, stack)
		}), []api.ValueType{i32, i32, i32, i32}, []api.ValueType{i32}).
		Export(exportSandboxExec)

	b = b.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(func(_ context.Context, _ api.Module, stack []uint64) {
			state.hostGetTimestamp(stack)
		}), []api.ValueType{}, []api.ValueType{i64}).
		Export(exportGetTimestamp)

	b = b.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(func(_ context.Context, mod api.Module, stack []uint64) {
			state.hostLogMessage(mod, stack)
		}), []api.ValueType{i32, i32, i32}, []api.ValueType{}).
		Export(exportLogMessage)

	_, err := b.Instantiate(ctx)
	return err
}
