// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package hostabi

import (
	"context"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
)

// Namespace and export names for platform_network, mirroring the
// guest-side extern block in the challenge SDK (http_get, http_post,
// dns_resolve).
const (
	NetworkNamespace  = "platform_network"
	exportHTTPGet     = "http_get"
	exportHTTPPost    = "http_post"
	exportDNSResolve  = "dns_resolve"
)

// NetworkHostStatus enumerates the i32 codes returned by every
// platform_network export.
type NetworkHostStatus int32

const (
	NetworkStatusSuccess        NetworkHostStatus = 0
	NetworkStatusDisabled       NetworkHostStatus = 1
	NetworkStatusBufferTooSmall NetworkHostStatus = -1
	NetworkStatusHostNotAllowed NetworkHostStatus = -2
	NetworkStatusRateLimited    NetworkHostStatus = -3
	NetworkStatusInvalidArg     NetworkHostStatus = -4
	NetworkStatusInternalError  NetworkHostStatus = -100
)

// NetworkPolicy gates WASM access to outbound networking.
type NetworkPolicy struct {
	Enabled              bool
	AllowedHosts         []string
	MaxRequestsPerExecution uint32
	MaxResponseBytes     uint32
}

// DefaultNetworkPolicy denies all network access, matching the
// closed-by-default posture the rest of the host surface takes.
func DefaultNetworkPolicy() NetworkPolicy {
	return NetworkPolicy{
		Enabled:                 false,
		MaxRequestsPerExecution: 32,
		MaxResponseBytes:        64 * 1024,
	}
}

// NetworkBackend performs the actual outbound I/O on behalf of a
// sandboxed guest. Production validators back this with a real HTTP
// client and resolver; tests use a fake.
type NetworkBackend interface {
	HTTPGet(ctx context.Context, request []byte) ([]byte, error)
	HTTPPost(ctx context.Context, request, body []byte) ([]byte, error)
	DNSResolve(ctx context.Context, request []byte) ([]byte, error)
}

// networkState is the mutable, per-instantiation state backing the
// platform_network host functions.
type networkState struct {
	policy   NetworkPolicy
	backend  NetworkBackend
	requests uint32
}

func (s *networkState) resetCounters() {
	s.requests = 0
}

func (s *networkState) hostGet(ctx context.Context, mod api.Module, stack []uint64) {
	reqPtr, reqLen := uint32(stack[0]), uint32(stack[1])
	respPtr, respLen := uint32(stack[2]), uint32(stack[3])

	if !s.policy.Enabled {
		stack[0] = encodeStatus(NetworkStatusDisabled)
		return
	}
	if s.requests >= s.policy.MaxRequestsPerExecution {
		stack[0] = encodeStatus(NetworkStatusRateLimited)
		return
	}
	req, ok := readGuestBytes(mod, reqPtr, reqLen)
	if !ok {
		stack[0] = encodeStatus(NetworkStatusInvalidArg)
		return
	}
	resp, err := s.backend.HTTPGet(ctx, req)
	if err != nil {
		stack[0] = encodeStatus(NetworkStatusInternalError)
		return
	}
	s.requests++
	n, ok := writeGuestBytes(mod, respPtr, respLen, resp)
	if !ok {
		stack[0] = encodeStatus(NetworkStatusBufferTooSmall)
		return
	}
	stack[0] = uint64(uint32(n))
}

func (s *networkState) hostPost(ctx context.Context, mod api.Module, stack []uint64) {
	reqPtr, reqLen := uint32(stack[0]), uint32(stack[1])
	respPtr, respLen := uint32(stack[2]), uint32(stack[3])
	bodyLen := uint32(stack[4])

	if !s.policy.Enabled {
		stack[0] = encodeStatus(NetworkStatusDisabled)
		return
	}
	if s.requests >= s.policy.MaxRequestsPerExecution {
		stack[0] = encodeStatus(NetworkStatusRateLimited)
		return
	}
	req, ok := readGuestBytes(mod, reqPtr, reqLen)
	if !ok {
		stack[0] = encodeStatus(NetworkStatusInvalidArg)
		return
	}
	// The guest extern passes the body length only; the body bytes are
	// appended to the request buffer by the guest SDK's encoding.
	_ = bodyLen
	resp, err := s.backend.HTTPPost(ctx, req, nil)
	if err != nil {
		stack[0] = encodeStatus(NetworkStatusInternalError)
		return
	}
	s.requests++
	n, ok := writeGuestBytes(mod, respPtr, respLen, resp)
	if !ok {
		stack[0] = encodeStatus(NetworkStatusBufferTooSmall)
		return
	}
	stack[0] = uint64(uint32(n))
}

func (s *networkState) hostDNSResolve(ctx context.Context, mod api.Module, stack []uint64) {
	reqPtr, reqLen := uint32(stack[0]), uint32(stack[1])
	respPtr := uint32(stack[2])

	if !s.policy.Enabled {
		stack[0] = encodeStatus(NetworkStatusDisabled)
		return
	}
	req, ok := readGuestBytes(mod, reqPtr, reqLen)
	if !ok {
		stack[0] = encodeStatus(NetworkStatusInvalidArg)
		return
	}
	resp, err := s.backend.DNSResolve(ctx, req)
	if err != nil {
		stack[0] = encodeStatus(NetworkStatusInternalError)
		return
	}
	n, ok := writeGuestBytes(mod, respPtr, uint32(len(resp)), resp)
	if !ok {
		stack[0] = encodeStatus(NetworkStatusBufferTooSmall)
		return
	}
	stack[0] = uint64(uint32(n))
}

func encodeStatus[T ~int32](code T) uint64 {
	return uint64(uint32(int32(code)))
}

func registerNetwork(ctx context.Context, rt wazero.Runtime, state *networkState) error {
	_, err := rt.NewHostModuleBuilder(NetworkNamespace).
		NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(func(ctx context.Context, mod api.Module, stack []uint64) {
			state.hostGet(ctx, mod, stack)
		}), []api.ValueType{api.ValueTypeI32, api.ValueTypeI32, api.ValueTypeI32, api.ValueTypeI32}, []api.ValueType{api.ValueTypeI32}).
		Export(exportHTTPGet).
		NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(func(ctx context.Context, mod api.Module, stack []uint64) {
			state.hostPost(ctx, mod, stack)
		}), []api.ValueType{api.ValueTypeI32, api.ValueTypeI32, api.ValueTypeI32, api.ValueTypeI32, api.ValueTypeI32}, []api.ValueType{api.ValueTypeI32}).
		Export(exportHTTPPost).
		NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(func(ctx context.Context, mod api.Module, stack []uint64) {
			state.hostDNSResolve(ctx, mod, stack)
		}), []api.ValueType{api.ValueTypeI32, api.ValueTypeI32, api.ValueTypeI32}, []api.ValueType{api.ValueTypeI32}).
		Export(exportDNSResolve).
		Instantiate(ctx)
	return err
}
