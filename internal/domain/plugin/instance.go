package plugin

import (
	"context"
	"time"
)

// Instance is the full operation surface a loaded plugin must expose.
// An object missing any of these operations fails validation at load
// time, never at call time.
type Instance interface {
	// Initialize prepares the instance for execution.
	Initialize(ctx context.Context) error

	// Execute runs the plugin body with the given input.
	Execute(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error)

	// Cleanup releases instance resources. Called on uninstall.
	Cleanup(ctx context.Context) error

	// State returns a snapshot of the instance's state blobs.
	State() InstanceState

	// SetState replaces the instance's state blobs.
	SetState(state InstanceState)

	// Health reports the instance's current health.
	Health() HealthStatus

	// Metrics reports the instance's execution counters.
	Metrics() InstanceMetrics
}

// BundleHook is implemented by instances that want a callback when their
// bundle is enabled.
type BundleHook interface {
	OnBundleEnable(ctx context.Context, bundleID string) error
}

// InstanceState holds a plugin's state blobs. Internal state is scoped
// to the process, persistent state survives unload/reload, temporary
// state is discarded on cleanup.
type InstanceState struct {
	Internal   map[string]interface{}
	Persistent map[string]interface{}
	Temporary  map[string]interface{}
}

// NewInstanceState returns an empty state with all blobs allocated.
func NewInstanceState() InstanceState {
	return InstanceState{
		Internal:   make(map[string]interface{}),
		Persistent: make(map[string]interface{}),
		Temporary:  make(map[string]interface{}),
	}
}

// HealthState is the coarse health classification of an instance.
type HealthState string

const (
	// HealthHealthy means the instance is operating normally.
	HealthHealthy HealthState = "healthy"
	// HealthDegraded means the instance works but has reported problems.
	HealthDegraded HealthState = "degraded"
	// HealthUnhealthy means the instance should not receive work.
	HealthUnhealthy HealthState = "unhealthy"
	// HealthUnknown means no health information is available yet.
	HealthUnknown HealthState = "unknown"
)

// HealthStatus is a point-in-time health report.
type HealthStatus struct {
	State     HealthState
	Message   string
	LastCheck time.Time
}

// InstanceMetrics accumulates execution counters for one instance.
type InstanceMetrics struct {
	ExecutionCount int
	ErrorCount     int
	TotalDuration  time.Duration
	LastExecutedAt time.Time
}

// AverageDuration returns the mean execution time, or zero when the
// instance has never executed.
func (m InstanceMetrics) AverageDuration() time.Duration {
	if m.ExecutionCount == 0 {
		return 0
	}
	return m.TotalDuration / time.Duration(m.ExecutionCount)
}

// InstanceFactory builds runnable objects for plugin metadata. The
// returned value is checked against the Instance surface by the loader;
// returning any other type is a load-time validation failure.
type InstanceFactory interface {
	New(meta Metadata) (any, error)
}

// FactoryFunc adapts a function to the InstanceFactory interface.
type FactoryFunc func(meta Metadata) (any, error)

// New calls the wrapped function.
func (f FactoryFunc) New(meta Metadata) (any, error) {
	return f(meta)
}
