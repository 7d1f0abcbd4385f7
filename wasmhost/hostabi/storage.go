// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package hostabi

import (
	"context"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
)

const (
	StorageNamespace      = "platform_storage"
	exportStorageGet      = "storage_get"
	exportStorageSet      = "storage_set"
	exportStorageGetCross = "storage_get_cross"
)

// StorageHostStatus enumerates the i32 codes returned by every
// platform_storage export.
type StorageHostStatus int32

const (
	StorageStatusSuccess        StorageHostStatus = 0
	StorageStatusDisabled       StorageHostStatus = 1
	StorageStatusNotFound       StorageHostStatus = -1
	StorageStatusKeyTooLarge    StorageHostStatus = -2
	StorageStatusValueTooLarge  StorageHostStatus = -3
	StorageStatusBufferTooSmall StorageHostStatus = -4
	StorageStatusCrossDenied    StorageHostStatus = -5
	StorageStatusInternalError  StorageHostStatus = -100
)

// StoragePolicy gates WASM access to the challenge's key/value store.
type StoragePolicy struct {
	Enabled              bool
	MaxKeySize           uint32
	MaxValueSize         uint32
	AllowCrossChallenge  bool
}

// DefaultStoragePolicy allows a challenge read/write access to its own
// namespace but denies reads of other challenges' state.
func DefaultStoragePolicy() StoragePolicy {
	return StoragePolicy{
		Enabled:      true,
		MaxKeySize:   1024,
		MaxValueSize: 10 * 1024 * 1024,
	}
}

// StorageBackend is the challenge-scoped key/value store the host
// functions read and write through.
type StorageBackend interface {
	Get(challengeID, key string) ([]byte, bool, error)
	Set(challengeID, key string, value []byte) error
}

type storageState struct {
	policy      StoragePolicy
	backend     StorageBackend
	challengeID string
}

func (s *storageState) resetCounters() {}

func (s *storageState) hostGet(mod api.Module, stack []uint64) {
	keyPtr, keyLen := uint32(stack[0]), uint32(stack[1])
	valuePtr := uint32(stack[2])

	if !s.policy.Enabled {
		stack[0] = encodeStatus(StorageStatusDisabled)
		return
	}
	if keyLen > s.policy.MaxKeySize {
		stack[0] = encodeStatus(StorageStatusKeyTooLarge)
		return
	}
	key, ok := readGuestString(mod, keyPtr, keyLen)
	if !ok {
		stack[0] = encodeStatus(StorageStatusInternalError)
		return
	}
	value, found, err := s.backend.Get(s.challengeID, key)
	if err != nil {
		stack[0] = encodeStatus(StorageStatusInternalError)
		return
	}
	if !found {
		stack[0] = encodeStatus(StorageStatusNotFound)
		return
	}
	n, ok := writeGuestBytes(mod, valuePtr, s.policy.MaxValueSize, value)
	if !ok {
		stack[0] = encodeStatus(StorageStatusBufferTooSmall)
		return
	}
	stack[0] = uint64(uint32(n))
}

func (s *storageState) hostSet(mod api.Module, stack []uint64) {
	keyPtr, keyLen := uint32(stack[0]), uint32(stack[1])
	valuePtr, valueLen := uint32(stack[2]), uint32(stack[3])

	if !s.policy.Enabled {
		stack[0] = encodeStatus(StorageStatusDisabled)
		return
	}
	if keyLen > s.policy.MaxKeySize {
		stack[0] = encodeStatus(StorageStatusKeyTooLarge)
		return
	}
	if valueLen > s.policy.MaxValueSize {
		stack[0] = encodeStatus(StorageStatusValueTooLarge)
		return
	}
	key, ok := readGuestString(mod, keyPtr, keyLen)
	if !ok {
		stack[0] = encodeStatus(StorageStatusInternalError)
		return
	}
	value, ok := readGuestBytes(mod, valuePtr, valueLen)
	if !ok {
		stack[0] = encodeStatus(StorageStatusInternalError)
		return
	}
	if err := s.backend.Set(s.challengeID, key, value); err != nil {
		stack[0] = encodeStatus(StorageStatusInternalError)
		return
	}
	stack[0] = encodeStatus(StorageStatusSuccess)
}

func (s *storageState) hostGetCross(mod api.Module, stack []uint64) {
	cidPtr, cidLen := uint32(stack[0]), uint32(stack[1])
	keyPtr, keyLen := uint32(stack[2]), uint32(stack[3])
	valuePtr := uint32(stack[4])

	if !s.policy.Enabled {
		stack[0] = encodeStatus(StorageStatusDisabled)
		return
	}
	if !s.policy.AllowCrossChallenge {
		stack[0] = encodeStatus(StorageStatusCrossDenied)
		return
	}
	if keyLen > s.policy.MaxKeySize {
		stack[0] = encodeStatus(StorageStatusKeyTooLarge)
		return
	}
	cid, ok := readGuestString(mod, cidPtr, cidLen)
	if !ok {
		stack[0] = encodeStatus(StorageStatusInternalError)
		return
	}
	key, ok := readGuestString(mod, keyPtr, keyLen)
	if !ok {
		stack[0] = encodeStatus(StorageStatusInternalError)
		return
	}
	value, found, err := s.backend.Get(cid, key)
	if err != nil {
		stack[0] = encodeStatus(StorageStatusInternalError)
		return
	}
	if !found {
		stack[0] = encodeStatus(StorageStatusNotFound)
		return
	}
	n, ok := writeGuestBytes(mod, valuePtr, s.policy.MaxValueSize, value)
	if !ok {
		stack[0] = encodeStatus(StorageStatusBufferTooSmall)
		return
	}
	stack[0] = uint64(uint32(n))
}

func registerStorage(ctx context.Context, rt wazero.Runtime, state *storageState) error {
	_, err := rt.NewHostModuleBuilder(StorageNamespace).
		NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(func(_ context.Context, mod api.Module, stack []uint64) {
			state.hostGet(mod, stack)
		}), []api.ValueType{api.ValueTypeI32, api.ValueTypeI32, api.ValueTypeI32}, []api.ValueType{api.ValueTypeI32}).
		Export(exportStorageGet).
		NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(func(_ context.Context, mod api.Module, stack []uint64) {
			state.hostSet(mod, stack)
		}), []api.ValueType{api.ValueTypeI32, api.ValueTypeI32, api.ValueTypeI32, api.ValueTypeI32}, []api.ValueType{api.ValueTypeI32}).
		Export(exportStorageSet).
		NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(func(_ context.Context, mod api.Module, stack []uint64) {
			state.hostGetCross(mod, stack)
		}), []api.ValueType{api.ValueTypeI32, api.ValueTypeI32, api.ValueTypeI32, api.ValueTypeI32, api.ValueTypeI32}, []api.ValueType{api.ValueTypeI32}).
		Export(exportStorageGetCross).
		Instantiate(ctx)
	return err
}
