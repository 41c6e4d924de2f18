package plugin

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MockInstance is the default execution stand-in for plugin business
// logic: it answers with a canned response keyed by the plugin's
// category. Real isolation backends (see the sandbox package) replace it
// behind the same Instance interface.
type MockInstance struct {
	mu          sync.Mutex
	meta        Metadata
	state       InstanceState
	metrics     InstanceMetrics
	initialized bool

	// ExecuteFunc, when set, overrides the canned response. Tests use
	// this to simulate slow or failing plugin bodies.
	ExecuteFunc func(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error)

	// BundleEnableErr, when set, is returned from the bundle-enable hook.
	BundleEnableErr error

	bundleEnables []string
}

// NewMockInstance creates a mock instance for the given metadata.
func NewMockInstance(meta Metadata) *MockInstance {
	return &MockInstance{
		meta:  meta.Clone(),
		state: NewInstanceState(),
	}
}

// Initialize marks the instance ready.
func (m *MockInstance) Initialize(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.initialized = true
	m.state.Internal["initializedAt"] = time.Now()
	return nil
}

// Execute returns a canned response for the plugin's category, or runs
// the configured override.
func (m *MockInstance) Execute(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
	m.mu.Lock()
	if !m.initialized {
		m.mu.Unlock()
		return nil, fmt.Errorf("plugin %q executed before initialization", m.meta.ID)
	}
	override := m.ExecuteFunc
	m.mu.Unlock()

	start := time.Now()
	var (
		output map[string]interface{}
		err    error
	)
	if override != nil {
		output, err = override(ctx, input)
	} else {
		output = m.cannedResponse(input)
	}

	m.mu.Lock()
	m.metrics.ExecutionCount++
	m.metrics.TotalDuration += time.Since(start)
	m.metrics.LastExecutedAt = time.Now()
	if err != nil {
		m.metrics.ErrorCount++
	}
	m.mu.Unlock()

	return output, err
}

// cannedResponse fabricates a plausible result for the plugin category.
func (m *MockInstance) cannedResponse(input map[string]interface{}) map[string]interface{} {
	resp := map[string]interface{}{
		"plugin":   m.meta.ID,
		"category": m.meta.Category,
	}
	switch m.meta.Category {
	case "memory":
		resp["stored"] = len(input)
	case "analysis":
		resp["findings"] = []string{}
	case "communication":
		resp["delivered"] = true
	default:
		resp["ok"] = true
	}
	return resp
}

// Cleanup discards temporary state and marks the instance stopped.
func (m *MockInstance) Cleanup(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.initialized = false
	m.state.Temporary = make(map[string]interface{})
	return nil
}

// State returns a copy of the instance state.
func (m *MockInstance) State() InstanceState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return copyState(m.state)
}

// SetState replaces the instance state.
func (m *MockInstance) SetState(state InstanceState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = copyState(state)
}

// Health reports healthy once initialized, unknown before.
func (m *MockInstance) Health() HealthStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	state := HealthUnknown
	if m.initialized {
		state = HealthHealthy
	}
	if m.metrics.ErrorCount > 0 && m.metrics.ErrorCount >= m.metrics.ExecutionCount/2 {
		state = HealthDegraded
	}
	return HealthStatus{State: state, LastCheck: time.Now()}
}

// Metrics returns the accumulated execution counters.
func (m *MockInstance) Metrics() InstanceMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.metrics
}

// OnBundleEnable records the bundle-enable callback.
func (m *MockInstance) OnBundleEnable(_ context.Context, bundleID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.BundleEnableErr != nil {
		return m.BundleEnableErr
	}
	m.bundleEnables = append(m.bundleEnables, bundleID)
	return nil
}

// BundleEnables returns the bundle ids the hook was invoked with.
func (m *MockInstance) BundleEnables() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.bundleEnables))
	copy(out, m.bundleEnables)
	return out
}

func copyState(s InstanceState) InstanceState {
	out := NewInstanceState()
	for k, v := range s.Internal {
		out.Internal[k] = v
	}
	for k, v := range s.Persistent {
		out.Persistent[k] = v
	}
	for k, v := range s.Temporary {
		out.Temporary[k] = v
	}
	return out
}

// Ensure MockInstance implements the full runtime surface.
var (
	_ Instance   = (*MockInstance)(nil)
	_ BundleHook = (*MockInstance)(nil)
)

// MockFactory builds MockInstance objects.
type MockFactory struct{}

// New returns a mock instance for the metadata.
func (MockFactory) New(meta Metadata) (any, error) {
	return NewMockInstance(meta), nil
}

// Ensure MockFactory implements InstanceFactory.
var _ InstanceFactory = MockFactory{}
