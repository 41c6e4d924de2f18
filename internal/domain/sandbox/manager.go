package sandbox

import (
	"context"
	"errors"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/felixgeelhaar/pluginhost/internal/domain/plugin"
	"github.com/felixgeelhaar/pluginhost/internal/ports"
)

// Body is the unit of work Execute wraps. It runs under the context's
// deadline and its result is discarded when the deadline wins.
type Body func(ctx context.Context) (map[string]interface{}, error)

// Manager owns the per-plugin execution contexts and enforces the
// resource and capability policy around them.
type Manager struct {
	mu       sync.Mutex
	contexts map[string]*ExecContext
	enforce  bool
	closed   bool
	defaults plugin.ResourceLimits

	pub    ports.Publisher
	logger ports.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithEnforcement toggles sandbox enforcement. When disabled, gates
// always permit and executions run without limits.
func WithEnforcement(enabled bool) Option {
	return func(m *Manager) {
		m.enforce = enabled
	}
}

// WithDefaultLimits sets the resource limits applied to contexts whose
// metadata declares none.
func WithDefaultLimits(limits plugin.ResourceLimits) Option {
	return func(m *Manager) {
		if limits != (plugin.ResourceLimits{}) {
			m.defaults = limits
		}
	}
}

// WithPublisher sets the violation event publisher.
func WithPublisher(pub ports.Publisher) Option {
	return func(m *Manager) {
		if pub != nil {
			m.pub = pub
		}
	}
}

// WithLogger sets the manager logger.
func WithLogger(logger ports.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// New creates a sandbox manager. Enforcement defaults to on.
func New(opts ...Option) *Manager {
	m := &Manager{
		contexts: make(map[string]*ExecContext),
		enforce:  true,
		defaults: plugin.DefaultLimits(),
		pub:      ports.NopPublisher{},
		logger:   ports.NopLogger{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CreateContext creates the execution context for a plugin, copying its
// security profile at this moment. One context per plugin.
func (m *Manager) CreateContext(meta plugin.Metadata) (*ExecContext, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrManagerClosed
	}
	if _, ok := m.contexts[meta.ID]; ok {
		return nil, ErrContextExists
	}
	execCtx := newExecContext(meta, m.defaults)
	m.contexts[meta.ID] = execCtx
	return execCtx, nil
}

// DestroyContext tears down a plugin's execution context. Returns false
// when no context existed.
func (m *Manager) DestroyContext(id string) bool {
	m.mu.Lock()
	execCtx, ok := m.contexts[id]
	if ok {
		delete(m.contexts, id)
	}
	m.mu.Unlock()

	if !ok {
		return false
	}
	execCtx.markDestroyed()
	return true
}

// Context returns the live execution context for a plugin, if any.
func (m *Manager) Context(id string) (*ExecContext, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.contexts[id]
	return c, ok
}

// Contexts returns a snapshot of all live execution contexts.
func (m *Manager) Contexts() []*ExecContext {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*ExecContext, 0, len(m.contexts))
	for _, c := range m.contexts {
		out = append(out, c)
	}
	return out
}

// ViolationsFor returns the recorded violations for a plugin, oldest
// first. Nil when the plugin has no live context.
func (m *Manager) ViolationsFor(id string) []Violation {
	execCtx, ok := m.Context(id)
	if !ok {
		return nil
	}
	return execCtx.Violations()
}

// Execute races body against the plugin's configured timeout. On
// timeout the body's result is discarded, a timeout violation with
// action terminate is recorded, and a TimeoutError is returned. On
// completion the elapsed time and heap delta are folded into the
// context's live counters.
func (m *Manager) Execute(ctx context.Context, id string, body Body) (map[string]interface{}, error) {
	execCtx, ok := m.Context(id)
	if !ok {
		return nil, ErrNoContext
	}

	if !m.enforce {
		return body(ctx)
	}

	limits := execCtx.Security().Limits
	runCtx := ctx
	if timeout := limits.Timeout(); timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var before runtime.MemStats
	runtime.ReadMemStats(&before)
	start := time.Now()

	type outcome struct {
		result map[string]interface{}
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := body(runCtx)
		done <- outcome{result: result, err: err}
	}()

	select {
	case out := <-done:
		var after runtime.MemStats
		runtime.ReadMemStats(&after)
		heapDeltaMB := (float64(after.HeapAlloc) - float64(before.HeapAlloc)) / (1024 * 1024)
		execCtx.recordExecution(time.Since(start), heapDeltaMB)
		return out.result, out.err

	case <-runCtx.Done():
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			elapsedMs := float64(time.Since(start).Milliseconds())
			v := execCtx.record(ViolationTimeout, float64(limits.TimeoutMs), elapsedMs, ActionTerminate)
			m.publishViolation(ctx, v)
			return nil, &TimeoutError{PluginID: id, Limit: limits.Timeout()}
		}
		return nil, runCtx.Err()
	}
}

// CheckFileAccess gates one file operation. It increments the file-op
// counter and returns false when the path is denylisted or the
// operation count exceeds the configured maximum; the caller must
// refuse the operation on false.
func (m *Manager) CheckFileAccess(ctx context.Context, id, path string) bool {
	if !m.enforce {
		return true
	}
	execCtx, ok := m.Context(id)
	if !ok {
		return false
	}

	count := execCtx.addFileOp()
	sec := execCtx.Security()

	for _, blocked := range sec.BlockedPaths {
		if blocked != "" && strings.HasPrefix(path, blocked) {
			v := execCtx.record(ViolationFile, 0, float64(count), ActionWarn)
			m.publishViolation(ctx, v)
			return false
		}
	}
	if max := sec.Limits.MaxFileOps; max > 0 && count > max {
		v := execCtx.record(ViolationFile, float64(max), float64(count), ActionThrottle)
		m.publishViolation(ctx, v)
		return false
	}
	return true
}

// CheckNetworkAccess gates one network request. It increments the
// request counter and returns false when the origin is not trusted or
// the request count exceeds the configured maximum. An untrusted
// origin is a hard boundary and records a terminate violation; count
// overage records a throttle.
func (m *Manager) CheckNetworkAccess(ctx context.Context, id, origin string) bool {
	if !m.enforce {
		return true
	}
	execCtx, ok := m.Context(id)
	if !ok {
		return false
	}

	count := execCtx.addNetworkRequest()
	sec := execCtx.Security()

	if origin != "" && len(sec.TrustedOrigins) > 0 && !containsString(sec.TrustedOrigins, origin) {
		v := execCtx.record(ViolationNetwork, 0, float64(count), ActionTerminate)
		m.publishViolation(ctx, v)
		return false
	}
	if max := sec.Limits.MaxNetworkRequests; max > 0 && count > max {
		v := execCtx.record(ViolationNetwork, float64(max), float64(count), ActionThrottle)
		m.publishViolation(ctx, v)
		return false
	}
	return true
}

// CheckAPIAccess gates one host API call against the plugin's
// capability level and API allow-list. Elevated plugins may call any
// API; minimal plugins none; standard plugins only those declared.
// Denied calls are hard boundary violations and record terminate.
func (m *Manager) CheckAPIAccess(ctx context.Context, id, api string) bool {
	if !m.enforce {
		return true
	}
	execCtx, ok := m.Context(id)
	if !ok {
		return false
	}

	count := execCtx.addAPICall()
	sec := execCtx.Security()

	switch sec.Level {
	case plugin.LevelElevated:
		return true
	case plugin.LevelMinimal:
		v := execCtx.record(ViolationAPI, 0, float64(count), ActionTerminate)
		m.publishViolation(ctx, v)
		return false
	default:
		if containsString(sec.AllowedAPIs, api) {
			return true
		}
		v := execCtx.record(ViolationAPI, 0, float64(count), ActionTerminate)
		m.publishViolation(ctx, v)
		return false
	}
}

// checkUsage re-checks one context's memory/cpu counters against its
// limits, recording a throttle violation per breached limit. Called by
// the periodic monitor to catch slow resource creep between executions.
func (m *Manager) checkUsage(ctx context.Context, execCtx *ExecContext) int {
	if execCtx.Destroyed() {
		return 0
	}
	counters := execCtx.Counters()
	limits := execCtx.Security().Limits

	raised := 0
	if max := limits.MaxMemoryMB; max > 0 && counters.MemoryMB > float64(max) {
		v := execCtx.record(ViolationMemory, float64(max), counters.MemoryMB, ActionThrottle)
		m.publishViolation(ctx, v)
		raised++
	}
	if max := limits.MaxCPUPercent; max > 0 && counters.CPUPercent > float64(max) {
		v := execCtx.record(ViolationCPU, float64(max), counters.CPUPercent, ActionThrottle)
		m.publishViolation(ctx, v)
		raised++
	}
	return raised
}

// Close destroys every live context and rejects further creation.
func (m *Manager) Close() {
	m.mu.Lock()
	contexts := m.contexts
	m.contexts = make(map[string]*ExecContext)
	m.closed = true
	m.mu.Unlock()

	for _, execCtx := range contexts {
		execCtx.markDestroyed()
	}
}

func (m *Manager) publishViolation(ctx context.Context, v Violation) {
	m.logger.Warn(ctx, "sandbox violation",
		ports.F("plugin", v.PluginID),
		ports.F("kind", string(v.Kind)),
		ports.F("action", string(v.Action)),
		ports.F("limit", v.Limit),
		ports.F("observed", v.Observed))

	m.pub.Publish(ports.Event{
		Type:     eventForAction(v.Action),
		PluginID: v.PluginID,
		Data: map[string]interface{}{
			"kind":     string(v.Kind),
			"action":   string(v.Action),
			"limit":    v.Limit,
			"observed": v.Observed,
		},
	})
}

func eventForAction(action Action) ports.EventType {
	switch action {
	case ActionThrottle:
		return ports.EventViolationThrottle
	case ActionTerminate:
		return ports.EventViolationTerminate
	default:
		return ports.EventViolationWarn
	}
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
