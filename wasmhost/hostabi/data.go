// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package hostabi

import (
	"context"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
)

const (
	DataNamespace = "platform_data"
	exportDataGet = "data_get"
	exportDataList = "data_list"
)

// DataHostStatus enumerates the i32 codes returned by every
// platform_data export.
type DataHostStatus int32

const (
	DataStatusSuccess        DataHostStatus = 0
	DataStatusDisabled       DataHostStatus = 1
	DataStatusNotFound       DataHostStatus = -1
	DataStatusKeyTooLarge    DataHostStatus = -2
	DataStatusBufferTooSmall DataHostStatus = -3
	DataStatusPathNotAllowed DataHostStatus = -4
	DataStatusIoError        DataHostStatus = -5
	DataStatusInternalError  DataHostStatus = -100
)

// DataPolicy gates WASM read access to challenge-specific reference
// data shipped alongside the challenge package.
type DataPolicy struct {
	Enabled              bool
	MaxKeySize           uint32
	MaxValueSize         uint32
	MaxReadsPerExecution uint32
}

// DefaultDataPolicy is closed by default; evaluation harnesses that
// ship reference data opt a challenge in explicitly.
func DefaultDataPolicy() DataPolicy {
	return DataPolicy{
		Enabled:              false,
		MaxKeySize:           1024,
		MaxValueSize:         10 * 1024 * 1024,
		MaxReadsPerExecution: 64,
	}
}

// DataBackend serves read-only challenge data by key or prefix.
type DataBackend interface {
	Get(challengeID, key string) ([]byte, bool, error)
	List(challengeID, prefix string) ([]string, error)
}

type dataState struct {
	policy      DataPolicy
	backend     DataBackend
	challengeID string
	reads       uint32
}

func (s *dataState) resetCounters() {
	s.reads = 0
}

func (s *dataState) hostGet(mod api.Module, stack []uint64) {
	keyPtr, keyLen := uint32(stack[0]), uint32(stack[1])
	bufPtr, bufLen := uint32(stack[2]), uint32(stack[3])

	if !s.policy.Enabled {
		stack[0] = encodeStatus(DataStatusDisabled)
		return
	}
	if keyLen > s.policy.MaxKeySize {
		stack[0] = encodeStatus(DataStatusKeyTooLarge)
		return
	}
	if s.reads >= s.policy.MaxReadsPerExecution {
		stack[0] = encodeStatus(DataStatusInternalError)
		return
	}
	key, ok := readGuestString(mod, keyPtr, keyLen)
	if !ok {
		stack[0] = encodeStatus(DataStatusInternalError)
		return
	}
	value, found, err := s.backend.Get(s.challengeID, key)
	if err != nil {
		stack[0] = encodeStatus(DataStatusIoError)
		return
	}
	if !found {
		stack[0] = encodeStatus(DataStatusNotFound)
		return
	}
	s.reads++
	n, ok := writeGuestBytes(mod, bufPtr, bufLen, value)
	if !ok {
		stack[0] = encodeStatus(DataStatusBufferTooSmall)
		return
	}
	stack[0] = uint64(uint32(n))
}

func (s *dataState) hostList(mod api.Module, stack []uint64) {
	prefixPtr, prefixLen := uint32(stack[0]), uint32(stack[1])
	bufPtr, bufLen := uint32(stack[2]), uint32(stack[3])

	if !s.policy.Enabled {
		stack[0] = encodeStatus(DataStatusDisabled)
		return
	}
	prefix, ok := readGuestString(mod, prefixPtr, prefixLen)
	if !ok {
		stack[0] = encodeStatus(DataStatusInternalError)
		return
	}
	keys, err := s.backend.List(s.challengeID, prefix)
	if err != nil {
		stack[0] = encodeStatus(DataStatusIoError)
		return
	}
	joined := []byte(joinNewline(keys))
	n, ok := writeGuestBytes(mod, bufPtr, bufLen, joined)
	if !ok {
		stack[0] = encodeStatus(DataStatusBufferTooSmall)
		return
	}
	stack[0] = uint64(uint32(n))
}

func joinNewline(keys []string) string {
	out := ""
	for i, k := range keys {
		if i > 0 {
			out += "\n"
		}
		out += k
	}
	return out
}

func registerData(ctx context.Context, rt wazero.Runtime, state *dataState) error {
	_, err := rt.NewHostModuleBuilder(DataNamespace).
		NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(func(_ context.Context, mod api.Module, stack []uint64) {
			state.hostGet(mod, stack)
		}), []api.ValueType{api.ValueTypeI32, api.ValueTypeI32, api.ValueTypeI32, api.ValueTypeI32}, []api.ValueType{api.ValueTypeI32}).
		Export(exportDataGet).
		NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(func(_ context.Context, mod api.Module, stack []uint64) {
			state.hostList(mod, stack)
		}), []api.ValueType{api.ValueTypeI32, api.ValueTypeI32, api.ValueTypeI32, api.ValueTypeI32}, []api.ValueType{api.ValueTypeI32}).
		Export(exportDataList).
		Instantiate(ctx)
	return err
}
