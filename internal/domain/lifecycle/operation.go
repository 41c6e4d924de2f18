// Package lifecycle orchestrates install, uninstall, enable, and disable
// operations for plugins and bundles, cascading through the dependency
// graph and tracking every operation for inspection.
package lifecycle

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Kind is the operation verb.
type Kind string

const (
	KindInstall   Kind = "install"
	KindUninstall Kind = "uninstall"
	KindEnable    Kind = "enable"
	KindDisable   Kind = "disable"
)

// TargetKind distinguishes plugin from bundle operations.
type TargetKind string

const (
	TargetPlugin TargetKind = "plugin"
	TargetBundle TargetKind = "bundle"
)

// OpStatus is the operation's progress state.
type OpStatus string

const (
	OpPending   OpStatus = "pending"
	OpRunning   OpStatus = "running"
	OpCompleted OpStatus = "completed"
	OpFailed    OpStatus = "failed"
)

// Progress milestones. Long-running installs are observable mid-flight:
// target validated, dependencies resolved, children installed, finalized.
const (
	progressValidated = 10
	progressResolved  = 40
	progressChildren  = 80
	progressDone      = 100
)

// Operation is a snapshot of one tracked unit of lifecycle work.
// Operations are retained after completion; a caller may prune.
type Operation struct {
	ID          string
	Kind        Kind
	TargetKind  TargetKind
	TargetID    string
	Status      OpStatus
	Progress    int
	Error       string
	StartedAt   time.Time
	CompletedAt time.Time
}

// tracker owns the operation records. All mutation goes through it so
// snapshots handed to callers never race with updates.
type tracker struct {
	mu  sync.RWMutex
	ops map[string]*Operation
}

func newTracker() *tracker {
	return &tracker{ops: make(map[string]*Operation)}
}

func (t *tracker) create(kind Kind, targetKind TargetKind, targetID string) string {
	op := &Operation{
		ID:         uuid.NewString(),
		Kind:       kind,
		TargetKind: targetKind,
		TargetID:   targetID,
		Status:     OpPending,
		StartedAt:  time.Now(),
	}
	t.mu.Lock()
	t.ops[op.ID] = op
	t.mu.Unlock()
	return op.ID
}

func (t *tracker) start(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if op, ok := t.ops[id]; ok {
		op.Status = OpRunning
	}
}

func (t *tracker) progress(id string, progress int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if op, ok := t.ops[id]; ok && progress > op.Progress {
		op.Progress = progress
	}
}

func (t *tracker) complete(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if op, ok := t.ops[id]; ok {
		op.Status = OpCompleted
		op.Progress = progressDone
		op.CompletedAt = time.Now()
	}
}

func (t *tracker) fail(id string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if op, ok := t.ops[id]; ok {
		op.Status = OpFailed
		op.CompletedAt = time.Now()
		if err != nil {
			op.Error = err.Error()
		}
	}
}

func (t *tracker) snapshot(id string) (Operation, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	op, ok := t.ops[id]
	if !ok {
		return Operation{}, false
	}
	return *op, true
}

func (t *tracker) list() []Operation {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Operation, 0, len(t.ops))
	for _, op := range t.ops {
		out = append(out, *op)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

// prune removes finished operations, returning how many were dropped.
func (t *tracker) prune() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	dropped := 0
	for id, op := range t.ops {
		if op.Status == OpCompleted || op.Status == OpFailed {
			delete(t.ops, id)
			dropped++
		}
	}
	return dropped
}
