// Package sandbox enforces resource and capability limits around plugin
// execution. It tracks one execution context per running plugin, records
// limit violations in a bounded ring, and runs a periodic monitor that
// catches slow resource creep between discrete executions.
package sandbox

import (
	"sync"
	"time"

	"github.com/felixgeelhaar/pluginhost/internal/domain/plugin"
)

// ViolationKind identifies which limit was breached.
type ViolationKind string

const (
	ViolationMemory  ViolationKind = "memory"
	ViolationCPU     ViolationKind = "cpu"
	ViolationTimeout ViolationKind = "timeout"
	ViolationNetwork ViolationKind = "network"
	ViolationFile    ViolationKind = "file"
	ViolationAPI     ViolationKind = "api"
)

// Action is the enforcement response recorded with a violation.
type Action string

const (
	ActionWarn      Action = "warn"
	ActionThrottle  Action = "throttle"
	ActionTerminate Action = "terminate"
)

// maxViolations bounds the per-plugin violation ring. Oldest entries are
// discarded, not persisted.
const maxViolations = 100

// Violation is an immutable record of a limit breach.
type Violation struct {
	PluginID string
	Kind     ViolationKind
	// Limit is the configured bound, Observed the value that breached it.
	Limit    float64
	Observed float64
	Time     time.Time
	Action   Action
}

// Counters is a snapshot of a context's live resource counters.
type Counters struct {
	MemoryMB        float64
	CPUPercent      float64
	NetworkRequests int
	FileOps         int
	APICalls        int
	Executions      int
}

// ExecContext tracks one currently-executing plugin: its start time,
// live resource counters, and the security profile copied from its
// metadata at creation time. A later metadata change does not affect a
// running context.
type ExecContext struct {
	mu         sync.Mutex
	pluginID   string
	startedAt  time.Time
	security   plugin.Security
	counters   Counters
	cpuTime    time.Duration
	violations []Violation
	destroyed  bool
}

func newExecContext(meta plugin.Metadata, defaults plugin.ResourceLimits) *ExecContext {
	sec := meta.Security.Clone()
	if sec.Limits == (plugin.ResourceLimits{}) {
		sec.Limits = defaults
	}
	return &ExecContext{
		pluginID:  meta.ID,
		startedAt: time.Now(),
		security:  sec,
	}
}

// PluginID returns the owning plugin's id.
func (c *ExecContext) PluginID() string { return c.pluginID }

// StartedAt returns the context creation time.
func (c *ExecContext) StartedAt() time.Time { return c.startedAt }

// Security returns the security profile frozen at creation time.
func (c *ExecContext) Security() plugin.Security {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.security.Clone()
}

// Counters returns a snapshot of the live resource counters.
func (c *ExecContext) Counters() Counters {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counters
}

// Violations returns the recorded violations, oldest first. At most the
// 100 most recent are retained.
func (c *ExecContext) Violations() []Violation {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Violation, len(c.violations))
	copy(out, c.violations)
	return out
}

// Destroyed reports whether the context has been torn down.
func (c *ExecContext) Destroyed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.destroyed
}

func (c *ExecContext) markDestroyed() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.destroyed = true
}

// record appends a violation, dropping the oldest when the ring is full,
// and returns the stored record.
func (c *ExecContext) record(kind ViolationKind, limit, observed float64, action Action) Violation {
	v := Violation{
		PluginID: c.pluginID,
		Kind:     kind,
		Limit:    limit,
		Observed: observed,
		Time:     time.Now(),
		Action:   action,
	}
	c.mu.Lock()
	if len(c.violations) >= maxViolations {
		c.violations = c.violations[1:]
	}
	c.violations = append(c.violations, v)
	c.mu.Unlock()
	return v
}

// recordExecution folds one finished execution into the live counters.
// CPU usage is approximated as accumulated execution time over the
// context's wall-clock lifetime.
func (c *ExecContext) recordExecution(elapsed time.Duration, heapDeltaMB float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counters.Executions++
	if heapDeltaMB > 0 {
		c.counters.MemoryMB += heapDeltaMB
	}
	c.cpuTime += elapsed
	if wall := time.Since(c.startedAt); wall > 0 {
		c.counters.CPUPercent = float64(c.cpuTime) / float64(wall) * 100
	}
}

func (c *ExecContext) addNetworkRequest() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counters.NetworkRequests++
	return c.counters.NetworkRequests
}

func (c *ExecContext) addFileOp() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counters.FileOps++
	return c.counters.FileOps
}

func (c *ExecContext) addAPICall() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counters.APICalls++
	return c.counters.APICalls
}
