package sandbox

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/felixgeelhaar/statekit"

	"github.com/felixgeelhaar/pluginhost/internal/ports"
)

// MonitorState represents the monitor's current state.
type MonitorState string

const (
	// MonitorStopped indicates the monitor is not running.
	MonitorStopped MonitorState = "stopped"
	// MonitorStarting indicates the monitor is initializing.
	MonitorStarting MonitorState = "starting"
	// MonitorRunning indicates the monitor is waiting for the next tick.
	MonitorRunning MonitorState = "running"
	// MonitorChecking indicates a usage sweep is in progress.
	MonitorChecking MonitorState = "checking"
	// MonitorStopping indicates the monitor is shutting down.
	MonitorStopping MonitorState = "stopping"
)

// Event types for the monitor state machine.
const (
	monitorEventStart         = "START"
	monitorEventStarted       = "STARTED"
	monitorEventTick          = "TICK"
	monitorEventCheckComplete = "CHECK_COMPLETE"
	monitorEventStop          = "STOP"
)

// DefaultMonitorInterval is the sweep interval used when none is
// configured.
const DefaultMonitorInterval = 5 * time.Second

// MonitorContext holds the runtime context for the monitor state machine.
type MonitorContext struct {
	StartedAt   time.Time
	LastSweepAt time.Time
	SweepCount  int
	// RaisedTotal counts throttle violations raised across all sweeps.
	RaisedTotal int
}

// monitorRuntime wraps MonitorContext with thread-safe access.
type monitorRuntime struct {
	mu  sync.RWMutex
	ctx MonitorContext
}

func (r *monitorRuntime) recordStart() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ctx.StartedAt = time.Now()
}

func (r *monitorRuntime) recordSweep(raised int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ctx.LastSweepAt = time.Now()
	r.ctx.SweepCount++
	r.ctx.RaisedTotal += raised
}

func (r *monitorRuntime) snapshot() MonitorContext {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.ctx
}

// Monitor periodically re-checks every live execution context's
// memory/cpu counters against its limits, raising throttle violations
// for sustained overage.
type Monitor struct {
	manager  *Manager
	interval time.Duration
	runtime  *monitorRuntime

	interp *statekit.Interpreter[MonitorContext]

	pub    ports.Publisher
	logger ports.Logger

	stopCh    chan struct{}
	stoppedCh chan struct{}
	mu        sync.RWMutex
}

// MonitorOption configures a Monitor.
type MonitorOption func(*Monitor)

// WithInterval sets the sweep interval.
func WithInterval(interval time.Duration) MonitorOption {
	return func(m *Monitor) {
		if interval > 0 {
			m.interval = interval
		}
	}
}

// WithMonitorPublisher sets the tick event publisher.
func WithMonitorPublisher(pub ports.Publisher) MonitorOption {
	return func(m *Monitor) {
		if pub != nil {
			m.pub = pub
		}
	}
}

// WithMonitorLogger sets the monitor logger.
func WithMonitorLogger(logger ports.Logger) MonitorOption {
	return func(m *Monitor) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// NewMonitor creates a monitor bound to a sandbox manager.
func NewMonitor(manager *Manager, opts ...MonitorOption) (*Monitor, error) {
	if manager == nil {
		return nil, fmt.Errorf("sandbox manager is required")
	}
	m := &Monitor{
		manager:   manager,
		interval:  DefaultMonitorInterval,
		runtime:   &monitorRuntime{},
		pub:       ports.NopPublisher{},
		logger:    ports.NopLogger{},
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// buildMonitorMachine constructs the monitor state machine. The runtime
// pointer is captured by closures so actions modify the original context.
func buildMonitorMachine(runtime *monitorRuntime) (*statekit.Interpreter[MonitorContext], error) {
	machine, err := statekit.NewMachine[MonitorContext]("sandbox-monitor").
		WithInitial("stopped").
		WithContext(runtime.snapshot()).
		WithAction("recordStart", func(_ *MonitorContext, _ statekit.Event) {
			runtime.recordStart()
		}).
		State("stopped").
		On(monitorEventStart).Target("starting").Done().
		State("starting").
		OnEntry("recordStart").
		On(monitorEventStarted).Target("running").Done().
		State("running").
		On(monitorEventTick).Target("checking").
		On(monitorEventStop).Target("stopping").Done().
		State("checking").
		On(monitorEventCheckComplete).Target("running").
		On(monitorEventStop).Target("stopping").Done().
		State("stopping").
		After(100 * time.Millisecond).Target("stopped").Done().
		Build()
	if err != nil {
		return nil, err
	}
	return statekit.NewInterpreter(machine), nil
}

// Start begins the periodic sweep loop.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.interp != nil {
		return nil
	}

	interp, err := buildMonitorMachine(m.runtime)
	if err != nil {
		return fmt.Errorf("failed to build state machine: %w", err)
	}
	m.interp = interp
	m.stopCh = make(chan struct{})
	m.stoppedCh = make(chan struct{})

	m.interp.Start()
	m.interp.Send(statekit.Event{Type: monitorEventStart})

	time.AfterFunc(50*time.Millisecond, func() {
		m.mu.RLock()
		interp := m.interp
		m.mu.RUnlock()
		if interp != nil {
			interp.Send(statekit.Event{Type: monitorEventStarted})
		}
	})

	go m.runSweeper(ctx)
	return nil
}

// Stop shuts the monitor down gracefully.
func (m *Monitor) Stop(ctx context.Context) error {
	m.mu.Lock()
	interp := m.interp
	stopCh := m.stopCh
	stoppedCh := m.stoppedCh

	if interp == nil {
		m.mu.Unlock()
		return nil
	}

	select {
	case <-stopCh:
	default:
		close(stopCh)
	}
	m.mu.Unlock()

	interp.Send(statekit.Event{Type: monitorEventStop})

	select {
	case <-stoppedCh:
	case <-ctx.Done():
		return ctx.Err()
	}

	m.mu.Lock()
	interp.Stop()
	m.interp = nil
	m.mu.Unlock()
	return nil
}

// State returns the monitor's current state.
func (m *Monitor) State() MonitorState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.interp == nil {
		return MonitorStopped
	}
	return MonitorState(m.interp.State().Value)
}

// Status returns a snapshot of the monitor's runtime context.
func (m *Monitor) Status() MonitorContext {
	return m.runtime.snapshot()
}

// runSweeper runs the periodic sweep loop.
func (m *Monitor) runSweeper(ctx context.Context) {
	defer close(m.stoppedCh)

	select {
	case <-time.After(200 * time.Millisecond):
	case <-ctx.Done():
		return
	case <-m.stopCh:
		return
	}

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.sweep(ctx)
		}
	}
}

// sweep re-checks every live context once. Contexts destroyed mid-sweep
// are skipped.
func (m *Monitor) sweep(ctx context.Context) {
	if m.State() != MonitorRunning {
		return
	}

	m.mu.RLock()
	interp := m.interp
	m.mu.RUnlock()
	if interp == nil {
		return
	}
	interp.Send(statekit.Event{Type: monitorEventTick})

	raised := 0
	checked := 0
	for _, execCtx := range m.manager.Contexts() {
		if execCtx.Destroyed() {
			continue
		}
		raised += m.manager.checkUsage(ctx, execCtx)
		checked++
	}
	m.runtime.recordSweep(raised)

	m.logger.Debug(ctx, "monitor sweep complete",
		ports.F("contexts", checked),
		ports.F("violations", raised))
	m.pub.Publish(ports.Event{
		Type: ports.EventMonitorTick,
		Data: map[string]interface{}{
			"contexts":   checked,
			"violations": raised,
		},
	})

	interp.Send(statekit.Event{Type: monitorEventCheckComplete})
}

// Sweep runs one usage sweep immediately, outside the tick schedule.
// Intended for callers that need deterministic checks.
func (m *Monitor) Sweep(ctx context.Context) int {
	raised := 0
	for _, execCtx := range m.manager.Contexts() {
		if execCtx.Destroyed() {
			continue
		}
		raised += m.manager.checkUsage(ctx, execCtx)
	}
	m.runtime.recordSweep(raised)
	return raised
}
