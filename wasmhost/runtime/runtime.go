// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package runtime instantiates the challenge WASM guest module and
// dispatches the fixed export ABI (spec §4.8): evaluate, validate,
// get_name, get_version, generate_task, setup_environment, get_tasks,
// configure, get_routes, handle_route, get_weights,
// validate_storage_write, alloc. Guest functions that return a
// variable-length buffer pack a pointer and length into a single i64
// (high 32 bits length, low 32 bits pointer); see PackPtrLen.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	xmath "github.com/luxfi/platform-validator/utils/math"
	"github.com/luxfi/platform-validator/wasmhost/hostabi"
)

var (
	// ErrNoExport is returned when the guest module does not export a
	// function required by the ABI.
	ErrNoExport = errors.New("runtime: guest module missing required export")
	// ErrOutOfBounds is returned when a guest pointer/length pair falls
	// outside the guest's current linear memory.
	ErrOutOfBounds = errors.New("runtime: guest memory access out of bounds")
	// ErrTimeout is returned when a guest call exceeds its deadline.
	ErrTimeout = errors.New("runtime: guest call exceeded deadline")
)

// Export names that make up the fixed guest ABI. Only evaluate,
// validate, get_name, get_version and alloc are mandatory; the rest
// are optional and fall back to a zero-value result when absent, a
// module may decline to export them (spec §4.8, default trait methods).
const (
	exportEvaluate             = "evaluate"
	exportValidate             = "validate"
	exportGetName              = "get_name"
	exportGetVersion           = "get_version"
	exportGenerateTask         = "generate_task"
	exportSetupEnvironment     = "setup_environment"
	exportGetTasks             = "get_tasks"
	exportConfigure            = "configure"
	exportGetRoutes            = "get_routes"
	exportHandleRoute          = "handle_route"
	exportGetWeights           = "get_weights"
	exportValidateStorageWrite = "validate_storage_write"
	exportAlloc                = "alloc"

	defaultMemoryExport = "memory"
)

// PackPtrLen packs a pointer and length into the i64 convention the
// guest ABI uses for variable-length return values.
func PackPtrLen(ptr, length uint32) uint64 {
	return (uint64(length) << 32) | uint64(ptr)
}

// UnpackPtrLen reverses PackPtrLen.
func UnpackPtrLen(packed uint64) (ptr, length uint32) {
	return uint32(packed), uint32(packed >> 32)
}

// Limits bounds a single guest instantiation.
type Limits struct {
	// CallTimeout bounds every individual exported call.
	CallTimeout time.Duration
	// MaxMemoryPages caps the guest's linear memory growth (64KiB pages).
	MaxMemoryPages uint32
}

// DefaultLimits returns conservative limits suitable for untrusted
// challenge modules.
func DefaultLimits() Limits {
	return Limits{
		CallTimeout:    10 * time.Second,
		MaxMemoryPages: 256, // 16MiB
	}
}

// Host owns the wazero runtime and the host function surface exposed
// to every guest instance it creates.
type Host struct {
	runtime     wazero.Runtime
	hostModules *hostabi.Surface
	limits      Limits
}

// NewHost builds a wazero runtime, compiles and instantiates the host
// function namespaces described by surface, and returns a Host capable
// of instantiating challenge guest modules against it.
func NewHost(ctx context.Context, surface *hostabi.Surface, limits Limits) (*Host, error) {
	cfg := wazero.NewRuntimeConfig().WithCloseOnContextDone(true)
	if limits.MaxMemoryPages > 0 {
		cfg = cfg.WithMemoryLimitPages(limits.MaxMemoryPages)
	}
	rt := wazero.NewRuntimeWithConfig(ctx, cfg)

	if err := hostabi.Instantiate(ctx, rt, surface); err != nil {
		_ = rt.Close(ctx)
		return nil, fmt.Errorf("runtime: instantiate host modules: %w", err)
	}

	return &Host{runtime: rt, hostModules: surface, limits: limits}, nil
}

// Close releases the underlying wazero runtime and every module
// instantiated from it.
func (h *Host) Close(ctx context.Context) error {
	return h.runtime.Close(ctx)
}

// Instance wraps a single compiled and instantiated challenge guest
// module along with the resolved memory export used for every host
// call into its linear memory.
type Instance struct {
	mod    api.Module
	mem    api.Memory
	limits Limits

	fnEvaluate             api.Function
	fnValidate             api.Function
	fnGetName              api.Function
	fnGetVersion           api.Function
	fnGenerateTask         api.Function
	fnSetupEnvironment     api.Function
	fnGetTasks             api.Function
	fnConfigure            api.Function
	fnGetRoutes            api.Function
	fnHandleRoute          api.Function
	fnGetWeights           api.Function
	fnValidateStorageWrite api.Function
	fnAlloc                api.Function
}

// Load compiles wasmBytes and instantiates it against the host's
// shared runtime, binding the guest's memory export (defaulting to
// "memory" when memoryExport is empty) and resolving every ABI export
// that the module provides. Missing optional exports are left nil;
// the Instance methods for them then return a default result (nil, or
// true for SetupEnvironment and ValidateStorageWrite) without calling
// the guest.
func (h *Host) Load(ctx context.Context, wasmBytes []byte, memoryExport string) (*Instance, error) {
	if memoryExport == "" {
		memoryExport = defaultMemoryExport
	}

	compiled, err := h.runtime.CompileModule(ctx, wasmBytes)
	if err != nil {
		return nil, fmt.Errorf("runtime: compile guest module: %w", err)
	}

	modCfg := wazero.NewModuleConfig().WithStartFunctions("_initialize")
	mod, err := h.runtime.InstantiateModule(ctx, compiled, modCfg)
	if err != nil {
		return nil, fmt.Errorf("runtime: instantiate guest module: %w", err)
	}

	mem := mod.ExportedMemory(memoryExport)
	if mem == nil {
		_ = mod.Close(ctx)
		return nil, fmt.Errorf("runtime: guest module exports no %q: %w", memoryExport, ErrNoExport)
	}

	alloc := mod.ExportedFunction(exportAlloc)
	if alloc == nil {
		_ = mod.Close(ctx)
		return nil, fmt.Errorf("runtime: guest module missing %q: %w", exportAlloc, ErrNoExport)
	}
	eval := mod.ExportedFunction(exportEvaluate)
	if eval == nil {
		_ = mod.Close(ctx)
		return nil, fmt.Errorf("runtime: guest module missing %q: %w", exportEvaluate, ErrNoExport)
	}
	validate := mod.ExportedFunction(exportValidate)
	if validate == nil {
		_ = mod.Close(ctx)
		return nil, fmt.Errorf("runtime: guest module missing %q: %w", exportValidate, ErrNoExport)
	}
	getName := mod.ExportedFunction(exportGetName)
	if getName == nil {
		_ = mod.Close(ctx)
		return nil, fmt.Errorf("runtime: guest module missing %q: %w", exportGetName, ErrNoExport)
	}
	getVersion := mod.ExportedFunction(exportGetVersion)
	if getVersion == nil {
		_ = mod.Close(ctx)
		return nil, fmt.Errorf("runtime: guest module missing %q: %w", exportGetVersion, ErrNoExport)
	}

	return &Instance{
		mod:                    mod,
		mem:                    mem,
		limits:                 h.limits,
		fnEvaluate:             eval,
		fnValidate:             validate,
		fnGetName:              getName,
		fnGetVersion:           getVersion,
		fnGenerateTask:         mod.ExportedFunction(exportGenerateTask),
		fnSetupEnvironment:     mod.ExportedFunction(exportSetupEnvironment),
		fnGetTasks:             mod.ExportedFunction(exportGetTasks),
		fnConfigure:            mod.ExportedFunction(exportConfigure),
		fnGetRoutes:            mod.ExportedFunction(exportGetRoutes),
		fnHandleRoute:          mod.ExportedFunction(exportHandleRoute),
		fnGetWeights:           mod.ExportedFunction(exportGetWeights),
		fnValidateStorageWrite: mod.ExportedFunction(exportValidateStorageWrite),
		fnAlloc:                alloc,
	}, nil
}

// Close releases the guest instance.
func (i *Instance) Close(ctx context.Context) error {
	return i.mod.Close(ctx)
}

// callWithTimeout invokes fn under the instance's call timeout,
// translating a context deadline exceeded into ErrTimeout.
func (i *Instance) callWithTimeout(ctx context.Context, fn api.Function, args ...uint64) ([]uint64, error) {
	callCtx, cancel := context.WithTimeout(ctx, i.limits.CallTimeout)
	defer cancel()

	res, err := fn.Call(callCtx, args...)
	if err != nil {
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return nil, ErrTimeout
		}
		return nil, err
	}
	return res, nil
}

// writeBuffer allocates len(data) bytes in the guest via the exported
// alloc function and copies data into it, returning the guest pointer.
func (i *Instance) writeBuffer(ctx context.Context, data []byte) (uint32, error) {
	if len(data) == 0 {
		return 0, nil
	}
	res, err := i.callWithTimeout(ctx, i.fnAlloc, uint64(len(data)))
	if err != nil {
		return 0, fmt.Errorf("runtime: alloc: %w", err)
	}
	ptr := uint32(res[0])
	if !i.mem.Write(ptr, data) {
		return 0, ErrOutOfBounds
	}
	return ptr, nil
}

// readBuffer performs a bounds-checked read of length bytes at ptr
// against the guest's *current* linear memory size, never a cached
// value, and rejects negative (i.e. implausibly large uint32) inputs
// that would wrap around during the ptr+len addition.
func (i *Instance) readBuffer(ptr, length uint32) ([]byte, error) {
	end, err := xmath.Add64(uint64(ptr), uint64(length))
	if err != nil {
		return nil, ErrOutOfBounds
	}
	if end > uint64(i.mem.Size()) {
		return nil, ErrOutOfBounds
	}
	buf, ok := i.mem.Read(ptr, length)
	if !ok {
		return nil, ErrOutOfBounds
	}
	out := make([]byte, len(buf))
	copy(out, buf)
	return out, nil
}

// readPacked reads the buffer described by a packed ptr/len i64
// return value.
func (i *Instance) readPacked(packed uint64) ([]byte, error) {
	ptr, length := UnpackPtrLen(packed)
	if length == 0 {
		return nil, nil
	}
	return i.readBuffer(ptr, length)
}

// Evaluate invokes the guest's evaluate export with the serialized
// agent transcript and returns the serialized evaluation output.
func (i *Instance) Evaluate(ctx context.Context, input []byte) ([]byte, error) {
	ptr, err := i.writeBuffer(ctx, input)
	if err != nil {
		return nil, err
	}
	res, err := i.callWithTimeout(ctx, i.fnEvaluate, uint64(ptr), uint64(len(input)))
	if err != nil {
		return nil, err
	}
	return i.readPacked(res[0])
}

// Validate invokes the guest's validate export and reports whether
// the input is well-formed.
func (i *Instance) Validate(ctx context.Context, input []byte) (bool, error) {
	ptr, err := i.writeBuffer(ctx, input)
	if err != nil {
		return false, err
	}
	res, err := i.callWithTimeout(ctx, i.fnValidate, uint64(ptr), uint64(len(input)))
	if err != nil {
		return false, err
	}
	return int32(res[0]) != 0, nil
}

// Name returns the guest's declared challenge name.
func (i *Instance) Name(ctx context.Context) (string, error) {
	res, err := i.callWithTimeout(ctx, i.fnGetName)
	if err != nil {
		return "", err
	}
	buf, err := i.readPacked(res[0])
	if err != nil {
		return "", err
	}
	return string(buf), nil
}

// Version returns the guest's declared semver string.
func (i *Instance) Version(ctx context.Context) (string, error) {
	res, err := i.callWithTimeout(ctx, i.fnGetVersion)
	if err != nil {
		return "", err
	}
	buf, err := i.readPacked(res[0])
	if err != nil {
		return "", err
	}
	return string(buf), nil
}

// GenerateTask invokes the optional generate_task export, returning
// nil when the guest does not implement it.
func (i *Instance) GenerateTask(ctx context.Context, params []byte) ([]byte, error) {
	if i.fnGenerateTask == nil {
		return nil, nil
	}
	ptr, err := i.writeBuffer(ctx, params)
	if err != nil {
		return nil, err
	}
	res, err := i.callWithTimeout(ctx, i.fnGenerateTask, uint64(ptr), uint64(len(params)))
	if err != nil {
		return nil, err
	}
	return i.readPacked(res[0])
}

// SetupEnvironment invokes the optional setup_environment export,
// returning true when the guest does not implement it (no-op success).
func (i *Instance) SetupEnvironment(ctx context.Context, config []byte) (bool, error) {
	if i.fnSetupEnvironment == nil {
		return true, nil
	}
	ptr, err := i.writeBuffer(ctx, config)
	if err != nil {
		return false, err
	}
	res, err := i.callWithTimeout(ctx, i.fnSetupEnvironment, uint64(ptr), uint64(len(config)))
	if err != nil {
		return false, err
	}
	return int32(res[0]) != 0, nil
}

// Tasks invokes the optional get_tasks export.
func (i *Instance) Tasks(ctx context.Context) ([]byte, error) {
	if i.fnGetTasks == nil {
		return nil, nil
	}
	res, err := i.callWithTimeout(ctx, i.fnGetTasks)
	if err != nil {
		return nil, err
	}
	return i.readPacked(res[0])
}

// Configure invokes the optional configure export. It has no return
// value on the guest side.
func (i *Instance) Configure(ctx context.Context, config []byte) error {
	if i.fnConfigure == nil {
		return nil
	}
	ptr, err := i.writeBuffer(ctx, config)
	if err != nil {
		return err
	}
	_, err = i.callWithTimeout(ctx, i.fnConfigure, uint64(ptr), uint64(len(config)))
	return err
}

// Routes invokes the optional get_routes export.
func (i *Instance) Routes(ctx context.Context) ([]byte, error) {
	if i.fnGetRoutes == nil {
		return nil, nil
	}
	res, err := i.callWithTimeout(ctx, i.fnGetRoutes)
	if err != nil {
		return nil, err
	}
	return i.readPacked(res[0])
}

// HandleRoute invokes the optional handle_route export.
func (i *Instance) HandleRoute(ctx context.Context, request []byte) ([]byte, error) {
	if i.fnHandleRoute == nil {
		return nil, nil
	}
	ptr, err := i.writeBuffer(ctx, request)
	if err != nil {
		return nil, err
	}
	res, err := i.callWithTimeout(ctx, i.fnHandleRoute, uint64(ptr), uint64(len(request)))
	if err != nil {
		return nil, err
	}
	return i.readPacked(res[0])
}

// Weights invokes the optional get_weights export.
func (i *Instance) Weights(ctx context.Context) ([]byte, error) {
	if i.fnGetWeights == nil {
		return nil, nil
	}
	res, err := i.callWithTimeout(ctx, i.fnGetWeights)
	if err != nil {
		return nil, err
	}
	return i.readPacked(res[0])
}

// ValidateStorageWrite invokes the optional validate_storage_write
// export, defaulting to allow when the guest does not implement it.
func (i *Instance) ValidateStorageWrite(ctx context.Context, key, value []byte) (bool, error) {
	if i.fnValidateStorageWrite == nil {
		return true, nil
	}
	keyPtr, err := i.writeBuffer(ctx, key)
	if err != nil {
		return false, err
	}
	valPtr, err := i.writeBuffer(ctx, value)
	if err != nil {
		return false, err
	}
	res, err := i.callWithTimeout(ctx, i.fnValidateStorageWrite,
		uint64(keyPtr), uint64(len(key)), uint64(valPtr), uint64(len(value)))
	if err != nil {
		return false, err
	}
	return int32(res[0]) != 0, nil
}
