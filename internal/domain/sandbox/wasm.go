package sandbox

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/tetratelabs/wazero"
	wazeroapi "github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"

	"github.com/felixgeelhaar/pluginhost/internal/domain/plugin"
	"github.com/felixgeelhaar/pluginhost/internal/ports"
)

// WASMRuntime wraps a shared wazero runtime for WASM-backed plugins.
type WASMRuntime struct {
	runtime     wazero.Runtime
	hostModules bool
	logger      ports.Logger
	mu          sync.Mutex
	closed      bool
}

// NewWASMRuntime creates a wazero runtime with WASI support. Execution
// deadlines propagate into running modules via the runtime's
// close-on-context-done behavior.
func NewWASMRuntime(ctx context.Context, logger ports.Logger) (*WASMRuntime, error) {
	if logger == nil {
		logger = ports.NopLogger{}
	}

	cfg := wazero.NewRuntimeConfig().
		WithCloseOnContextDone(true)
	r := wazero.NewRuntimeWithConfig(ctx, cfg)

	if _, err := wasi_snapshot_preview1.Instantiate(ctx, r); err != nil {
		_ = r.Close(ctx)
		return nil, fmt.Errorf("failed to instantiate WASI: %w", err)
	}

	return &WASMRuntime{runtime: r, logger: logger}, nil
}

// Close releases the runtime and every module instantiated from it.
func (r *WASMRuntime) Close(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	return r.runtime.Close(ctx)
}

// registerHostModule exposes host logging functions to guest modules.
// Registered once per runtime.
func (r *WASMRuntime) registerHostModule(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.hostModules {
		return nil
	}

	builder := r.runtime.NewHostModuleBuilder("pluginhost")

	builder.NewFunctionBuilder().
		WithFunc(func(fnCtx context.Context, mod wazeroapi.Module, ptr, length uint32) {
			r.logger.Info(fnCtx, readGuestString(mod, ptr, length))
		}).
		Export("log_info")
	builder.NewFunctionBuilder().
		WithFunc(func(fnCtx context.Context, mod wazeroapi.Module, ptr, length uint32) {
			r.logger.Warn(fnCtx, readGuestString(mod, ptr, length))
		}).
		Export("log_warn")
	builder.NewFunctionBuilder().
		WithFunc(func(fnCtx context.Context, mod wazeroapi.Module, ptr, length uint32) {
			r.logger.Error(fnCtx, readGuestString(mod, ptr, length))
		}).
		Export("log_error")

	if _, err := builder.Instantiate(ctx); err != nil {
		return err
	}
	r.hostModules = true
	return nil
}

// WASMInstance is a plugin instance backed by a WASM module. The
// module is compiled once at Initialize; each Execute instantiates a
// fresh module so guest state cannot leak between executions.
type WASMInstance struct {
	meta     plugin.Metadata
	runtime  *WASMRuntime
	compiled wazero.CompiledModule

	mu      sync.Mutex
	state   plugin.InstanceState
	metrics plugin.InstanceMetrics
	health  plugin.HealthStatus
}

var _ plugin.Instance = (*WASMInstance)(nil)

// NewWASMInstance creates an uninitialized WASM-backed instance.
func NewWASMInstance(meta plugin.Metadata, runtime *WASMRuntime) *WASMInstance {
	return &WASMInstance{
		meta:    meta,
		runtime: runtime,
		state:   plugin.NewInstanceState(),
		health:  plugin.HealthStatus{State: plugin.HealthUnknown},
	}
}

// Initialize reads and compiles the plugin's WASM module.
func (w *WASMInstance) Initialize(ctx context.Context) error {
	if w.meta.WASMModule == "" {
		return ErrModuleUnavailable
	}
	module, err := os.ReadFile(w.meta.WASMModule)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrModuleUnavailable, err)
	}

	if err := w.runtime.registerHostModule(ctx); err != nil {
		return fmt.Errorf("failed to register host module: %w", err)
	}

	compiled, err := w.runtime.runtime.CompileModule(ctx, module)
	if err != nil {
		return fmt.Errorf("failed to compile module %s: %w", w.meta.WASMModule, err)
	}

	w.mu.Lock()
	w.compiled = compiled
	w.health = plugin.HealthStatus{State: plugin.HealthHealthy, LastCheck: time.Now()}
	w.mu.Unlock()
	return nil
}

// Execute instantiates the compiled module and invokes its entrypoint
// (main, falling back to run). Input is ignored by the guest for now;
// host functions are its interaction surface.
func (w *WASMInstance) Execute(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
	w.mu.Lock()
	compiled := w.compiled
	w.mu.Unlock()
	if compiled == nil {
		return nil, fmt.Errorf("plugin %q executed before initialization", w.meta.ID)
	}

	start := time.Now()
	modConfig := wazero.NewModuleConfig().
		WithName(w.meta.ID).
		WithStartFunctions("_start", "_initialize")

	instance, err := w.runtime.runtime.InstantiateModule(ctx, compiled, modConfig)
	if err != nil {
		w.recordExecution(start, err)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, context.DeadlineExceeded
		}
		return nil, fmt.Errorf("failed to instantiate module: %w", err)
	}
	defer func() { _ = instance.Close(ctx) }()

	entrypoint := instance.ExportedFunction("main")
	if entrypoint == nil {
		entrypoint = instance.ExportedFunction("run")
	}

	var callErr error
	if entrypoint != nil {
		_, callErr = entrypoint.Call(ctx)
		if callErr != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			callErr = context.DeadlineExceeded
		}
	}
	w.recordExecution(start, callErr)
	if callErr != nil {
		return nil, fmt.Errorf("module execution failed: %w", callErr)
	}

	return map[string]interface{}{
		"status":   "ok",
		"module":   w.meta.WASMModule,
		"duration": time.Since(start).String(),
	}, nil
}

// Cleanup releases the compiled module.
func (w *WASMInstance) Cleanup(ctx context.Context) error {
	w.mu.Lock()
	compiled := w.compiled
	w.compiled = nil
	w.health = plugin.HealthStatus{State: plugin.HealthUnknown, LastCheck: time.Now()}
	w.mu.Unlock()

	if compiled == nil {
		return nil
	}
	return compiled.Close(ctx)
}

// State returns the instance's state blobs.
func (w *WASMInstance) State() plugin.InstanceState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// SetState replaces the instance's state blobs.
func (w *WASMInstance) SetState(state plugin.InstanceState) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.state = state
}

// Health returns the instance's health status.
func (w *WASMInstance) Health() plugin.HealthStatus {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.health
}

// Metrics returns accumulated execution metrics.
func (w *WASMInstance) Metrics() plugin.InstanceMetrics {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.metrics
}

func (w *WASMInstance) recordExecution(start time.Time, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	now := time.Now()
	w.metrics.ExecutionCount++
	w.metrics.TotalDuration += now.Sub(start)
	w.metrics.LastExecutedAt = now
	if err != nil {
		w.metrics.ErrorCount++
		w.health = plugin.HealthStatus{
			State:     plugin.HealthDegraded,
			Message:   err.Error(),
			LastCheck: now,
		}
	} else {
		w.health = plugin.HealthStatus{State: plugin.HealthHealthy, LastCheck: now}
	}
}

// WASMFactory builds WASM-backed instances for plugins that declare a
// module path, delegating the rest to a fallback factory (mock
// instances by default).
type WASMFactory struct {
	Runtime  *WASMRuntime
	Fallback plugin.InstanceFactory
}

var _ plugin.InstanceFactory = (*WASMFactory)(nil)

// New returns a WASMInstance when metadata declares a wasmModule,
// otherwise defers to the fallback factory.
func (f *WASMFactory) New(meta plugin.Metadata) (any, error) {
	if meta.WASMModule == "" {
		fallback := f.Fallback
		if fallback == nil {
			fallback = plugin.MockFactory{}
		}
		return fallback.New(meta)
	}
	if f.Runtime == nil {
		return nil, ErrModuleUnavailable
	}
	return NewWASMInstance(meta, f.Runtime), nil
}

func readGuestString(mod wazeroapi.Module, ptr, length uint32) string {
	if mod == nil {
		return ""
	}
	mem := mod.Memory()
	if mem == nil {
		return ""
	}
	data, ok := mem.Read(ptr, length)
	if !ok {
		return ""
	}
	return string(data)
}
