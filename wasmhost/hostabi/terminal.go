// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package hostabi

import (
	"context"
	"crypto/rand"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
)

const (
	TerminalNamespace        = "platform_terminal"
	exportTerminalExec       = "terminal_exec"
	exportTerminalReadFile   = "terminal_read_file"
	exportTerminalWriteFile  = "terminal_write_file"
	exportTerminalListDir    = "terminal_list_dir"
	exportTerminalGetTime    = "terminal_get_time"
	exportTerminalRandomSeed = "terminal_random_seed"
)

// TerminalHostStatus enumerates the i32 codes returned by
// buffer-filling platform_terminal exports.
type TerminalHostStatus int32

const (
	TerminalStatusSuccess        TerminalHostStatus = 0
	TerminalStatusDisabled       TerminalHostStatus = 1
	TerminalStatusBufferTooSmall TerminalHostStatus = -1
	TerminalStatusPathNotAllowed TerminalHostStatus = -2
	TerminalStatusIoError        TerminalHostStatus = -3
	TerminalStatusInternalError  TerminalHostStatus = -100
)

// TerminalPolicy gates the challenge's access to the agent's sandbox
// filesystem and shell. This is the namespace a terminal-using-agent
// evaluation harness exercises most heavily.
type TerminalPolicy struct {
	Enabled       bool
	AllowExec     bool
	AllowWrite    bool
	MaxExecOutput uint32
	MaxFileSize   uint32
}

func DefaultTerminalPolicy() TerminalPolicy {
	return TerminalPolicy{
		Enabled:       true,
		AllowExec:     true,
		AllowWrite:    true,
		MaxExecOutput: 256 * 1024,
		MaxFileSize:   16 * 1024 * 1024,
	}
}

// TerminalBackend is the sandboxed agent container's filesystem and
// shell surface.
type TerminalBackend interface {
	Exec(ctx context.Context, command []byte) ([]byte, error)
	ReadFile(ctx context.Context, path string) ([]byte, error)
	WriteFile(ctx context.Context, path string, data []byte) error
	ListDir(ctx context.Context, path string) ([]byte, error)
	Now() int64
}

type terminalState struct {
	policy  TerminalPolicy
	backend TerminalBackend
}

func (s *terminalState) resetCounters() {}

func (s *terminalState) hostExec(ctx context.Context, mod api.Module, stack []uint64) {
	cmdPtr, cmdLen := uint32(stack[0]), uint32(stack[1])
	resPtr, resLen := uint32(stack[2]), uint32(stack[3])

	if !s.policy.Enabled || !s.policy.AllowExec {
		stack[0] = encodeStatus(TerminalStatusDisabled)
		return
	}
	cmd, ok := readGuestBytes(mod, cmdPtr, cmdLen)
	if !ok {
		stack[0] = encodeStatus(TerminalStatusInternalError)
		return
	}
	out, err := s.backend.Exec(ctx, cmd)
	if err != nil {
		stack[0] = encodeStatus(TerminalStatusIoError)
		return
	}
	n, ok := writeGuestBytes(mod, resPtr, resLen, out)
	if !ok {
		stack[0] = encodeStatus(TerminalStatusBufferTooSmall)
		return
	}
	stack[0] = uint64(uint32(n))
}

func (s *terminalState) hostReadFile(ctx context.Context, mod api.Module, stack []uint64) {
	pathPtr, pathLen := uint32(stack[0]), uint32(stack[1])
	bufPtr, bufLen := uint32(stack[2]), uint32(stack[3])

	if !s.policy.Enabled {
		stack[0] = encodeStatus(TerminalStatusDisabled)
		return
	}
	path, ok := readGuestString(mod, pathPtr, pathLen)
	if !ok {
		stack[0] = encodeStatus(TerminalStatusInternalError)
		return
	}
	data, err := s.backend.ReadFile(ctx, path)
	if err != nil {
		stack[0] = encodeStatus(TerminalStatusIoError)
		return
	}
	n, ok := writeGuestBytes(mod, bufPtr, bufLen, data)
	if !ok {
		stack[0] = encodeStatus(TerminalStatusBufferTooSmall)
		return
	}
	stack[0] = uint64(uint32(n))
}

func (s *terminalState) hostWriteFile(ctx context.Context, mod api.Module, stack []uint64) {
	pathPtr, pathLen := uint32(stack[0]), uint32(stack[1])
	dataPtr, dataLen := uint32(stack[2]), uint32(stack[3])

	if !s.policy.Enabled || !s.policy.AllowWrite {
		stack[0] = encodeStatus(TerminalStatusDisabled)
		return
	}
	if dataLen > s.policy.MaxFileSize {
		stack[0] = encodeStatus(TerminalStatusBufferTooSmall)
		return
	}
	path, ok := readGuestString(mod, pathPtr, pathLen)
	if !ok {
		stack[0] = encodeStatus(TerminalStatusInternalError)
		return
	}
	data, ok := readGuestBytes(mod, dataPtr, dataLen)
	if !ok {
		stack[0] = encodeStatus(TerminalStatusInternalError)
		return
	}
	if err := s.backend.WriteFile(ctx, path, data); err != nil {
		stack[0] = encodeStatus(TerminalStatusIoError)
		return
	}
	stack[0] = encodeStatus(TerminalStatusSuccess)
}

func (s *terminalState) hostListDir(ctx context.Context, mod api.Module, stack []uint64) {
	pathPtr, pathLen := uint32(stack[0]), uint32(stack[1])
	bufPtr, bufLen := uint32(stack[2]), uint32(stack[3])

	if !s.policy.Enabled {
		stack[0] = encodeStatus(TerminalStatusDisabled)
		return
	}
	path, ok := readGuestString(mod, pathPtr, pathLen)
	if !ok {
		stack[0] = encodeStatus(TerminalStatusInternalError)
		return
	}
	listing, err := s.backend.ListDir(ctx, path)
	if err != nil {
		stack[0] = encodeStatus(TerminalStatusIoError)
		return
	}
	n, ok := writeGuestBytes(mod, bufPtr, bufLen, listing)
	if !ok {
		stack[0] = encodeStatus(TerminalStatusBufferTooSmall)
		return
	}
	stack[0] = uint64(uint32(n))
}

func (s *terminalState) hostGetTime(stack []uint64) {
	stack[0] = uint64(s.backend.Now())
}

func (s *terminalState) hostRandomSeed(mod api.Module, stack []uint64) {
	bufPtr, bufLen := uint32(stack[0]), uint32(stack[1])
	buf := make([]byte, bufLen)
	if _, err := rand.Read(buf); err != nil {
		stack[0] = encodeStatus(TerminalStatusInternalError)
		return
	}
	n, ok := writeGuestBytes(mod, bufPtr, bufLen, buf)
	if !ok {
		stack[0] = encodeStatus(TerminalStatusBufferTooSmall)
		return
	}
	stack[0] = uint64(uint32(n))
}

func registerTerminal(ctx context.Context, rt wazero.Runtime, state *terminalState) error {
	i32 := api.ValueTypeI32
	i64 := api.ValueTypeI64
	b := rt.NewHostModuleBuilder(TerminalNamespace)

	b = b.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(func(ctx context.Context, mod api.Module, stack []uint64) {
			state.hostExec(ctx, mod, stack)
		}), []api.ValueType{i32, i32, i32, i32}, []api.ValueType{i32}).
		Export(exportTerminalExec)

	b = b.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(func(ctx context.Context, mod api.Module, stack []uint64) {
			state.hostReadFile(ctx, mod, stack)
		}), []api.ValueType{i32, i32, i32, i32}, []api.ValueType{i32}).
		Export(exportTerminalReadFile)

	b = b.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(func(ctx context.Context, mod api.Module, stack []uint64) {
			state.hostWriteFile(ctx, mod, stack)
		}), []api.ValueType{i32, i32, i32, i32}, []api.ValueType{i32}).
		Export(exportTerminalWriteFile)

	b = b.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(func(ctx context.Context, mod api.Module, stack []uint64) {
			state.hostListDir(ctx, mod, stack)
		}), []api.ValueType{i32, i32, i32, i32}, []api.ValueType{i32}).
		Export(exportTerminalListDir)

	b = b.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(func(_ context.Context, _ api.Module, stack []uint64) {
			state.hostGetTime(stack)
		}), []api.ValueType{}, []api.ValueType{i64}).
		Export(exportTerminalGetTime)

	b = b.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(func(_ context.Context, mod api.Module, stack []uint64) {
			state.hostRandomSeed(mod, stack)
		}), []api.ValueType{i32, i32}, []api.ValueType{i32}).
		Export(exportTerminalRandomSeed)

	_, err := b.Instantiate(ctx)
	return err
}
