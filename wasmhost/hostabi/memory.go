// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package hostabi

import (
	"github.com/tetratelabs/wazero/api"

	xmath "github.com/luxfi/platform-validator/utils/math"
)

// StatusCode is the common i32 return convention shared by every
// namespaced host function: zero is success, one means the namespace
// is disabled by policy, and any other negative value is a
// namespace-specific error (spec §4.9).
type StatusCode int32

const (
	StatusSuccess  StatusCode = 0
	StatusDisabled StatusCode = 1
)

func (s StatusCode) Int32() int32 { return int32(s) }

// readGuestBytes performs a bounds-checked read of length bytes at
// ptr against the guest's current linear memory size. It never trusts
// a cached size and rejects ptr/len pairs that would overflow during
// addition, per the memory-access contract every host function in
// this package follows.
func readGuestBytes(mod api.Module, ptr, length uint32) ([]byte, bool) {
	end, err := xmath.Add64(uint64(ptr), uint64(length))
	if err != nil {
		return nil, false
	}
	mem := mod.Memory()
	if mem == nil || end > uint64(mem.Size()) {
		return nil, false
	}
	buf, ok := mem.Read(ptr, length)
	if !ok {
		return nil, false
	}
	out := make([]byte, len(buf))
	copy(out, buf)
	return out, true
}

// writeGuestBytes copies data into the guest's memory at ptr, bounded
// by capacity. It returns the number of bytes written and false when
// the destination range is out of bounds or too small.
func writeGuestBytes(mod api.Module, ptr, capacity uint32, data []byte) (int32, bool) {
	if uint32(len(data)) > capacity {
		return 0, false
	}
	end, err := xmath.Add64(uint64(ptr), uint64(len(data)))
	if err != nil {
		return 0, false
	}
	mem := mod.Memory()
	if mem == nil || end > uint64(mem.Size()) {
		return 0, false
	}
	if !mem.Write(ptr, data) {
		return 0, false
	}
	return int32(len(data)), true
}

// readGuestString is a convenience wrapper over readGuestBytes for
// UTF-8 request buffers.
func readGuestString(mod api.Module, ptr, length uint32) (string, bool) {
	buf, ok := readGuestBytes(mod, ptr, length)
	if !ok {
		return "", false
	}
	return string(buf), true
}
