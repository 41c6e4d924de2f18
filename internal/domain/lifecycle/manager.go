package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/felixgeelhaar/pluginhost/internal/domain/loader"
	"github.com/felixgeelhaar/pluginhost/internal/domain/plugin"
	"github.com/felixgeelhaar/pluginhost/internal/domain/registry"
	"github.com/felixgeelhaar/pluginhost/internal/domain/sandbox"
	"github.com/felixgeelhaar/pluginhost/internal/ports"
)

// Manager drives plugin and bundle lifecycle transitions. Failures abort
// the running operation and set the target's status to error; sub-steps
// that already completed (dependency installs, enabled members) are
// deliberately not reversed. Retry is explicit.
type Manager struct {
	registry *registry.Registry
	loader   *loader.Loader
	sandbox  *sandbox.Manager
	ops      *tracker

	pub    ports.Publisher
	logger ports.Logger

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// Option configures a Manager.
type Option func(*Manager)

// WithSandbox attaches a sandbox manager. Enabled plugins get an
// execution context; executions run inside it.
func WithSandbox(sb *sandbox.Manager) Option {
	return func(m *Manager) {
		m.sandbox = sb
	}
}

// WithPublisher sets the operation event publisher.
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

// New creates a lifecycle manager over a registry and loader.
func New(reg *registry.Registry, ldr *loader.Loader, opts ...Option) *Manager {
	m := &Manager{
		registry: reg,
		loader:   ldr,
		ops:      newTracker(),
		pub:      ports.NopPublisher{},
		logger:   ports.NopLogger{},
		locks:    make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// lockFor returns the mutex serializing operations on one plugin id.
func (m *Manager) lockFor(id string) *sync.Mutex {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()
	mu, ok := m.locks[id]
	if !ok {
		mu = &sync.Mutex{}
		m.locks[id] = mu
	}
	return mu
}

// Install installs a plugin after installing its dependency closure in
// topological order. Already-installed plugins are left untouched.
func (m *Manager) Install(ctx context.Context, id string) (Operation, error) {
	opID := m.ops.create(KindInstall, TargetPlugin, id)
	err := m.runInstall(ctx, opID, id)
	return m.finish(ctx, opID, id, err)
}

func (m *Manager) runInstall(ctx context.Context, opID, id string) error {
	m.begin(ctx, opID)

	status, ok := m.registry.StatusOf(id)
	if !ok {
		return fmt.Errorf("plugin %q: %w", id, registry.ErrNotFound)
	}
	m.ops.progress(opID, progressValidated)

	if status == plugin.StatusInstalled || status == plugin.StatusEnabled {
		return nil
	}

	resolution, err := m.registry.ResolveDependencies(id)
	if err != nil {
		return err
	}
	if resolution.HasMissing() {
		return &plugin.MissingDependencyError{PluginID: id, Missing: resolution.Missing}
	}

	// Cycle detection happens here: a cyclic dependency closure has no
	// installation order.
	order, err := m.registry.InstallationOrder([]string{id})
	if err != nil {
		return err
	}
	m.ops.progress(opID, progressResolved)

	for i, pid := range order {
		if err := m.installOne(ctx, pid); err != nil {
			if pid != id {
				_ = m.registry.UpdateStatus(pid, plugin.StatusError, err.Error())
				err = fmt.Errorf("installing dependency %q: %w", pid, err)
			}
			return err
		}
		m.ops.progress(opID, progressResolved+(i+1)*(progressChildren-progressResolved)/len(order))
	}
	m.ops.progress(opID, progressChildren)
	return nil
}

// installOne loads, initializes, and marks one plugin installed.
// Serialized per plugin id.
func (m *Manager) installOne(ctx context.Context, id string) error {
	mu := m.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	status, ok := m.registry.StatusOf(id)
	if !ok {
		return fmt.Errorf("plugin %q: %w", id, registry.ErrNotFound)
	}
	if status == plugin.StatusInstalled || status == plugin.StatusEnabled || status == plugin.StatusDisabled {
		return nil
	}

	result, err := m.loader.LoadPlugin(ctx, id)
	if err != nil {
		return err
	}
	if err := result.Plugin.Instance.Initialize(ctx); err != nil {
		return fmt.Errorf("initializing plugin %q: %w", id, err)
	}

	return m.registry.TransitionStatus(id,
		[]plugin.Status{plugin.StatusUninstalled, plugin.StatusError},
		plugin.StatusInstalled, "")
}

// Uninstall removes a plugin. It fails when other non-uninstalled
// plugins depend on it unless force is set in which case dependents are
// disabled (not uninstalled) first.
func (m *Manager) Uninstall(ctx context.Context, id string, force bool) (Operation, error) {
	opID := m.ops.create(KindUninstall, TargetPlugin, id)
	err := m.runUninstall(ctx, opID, id, force)
	return m.finish(ctx, opID, id, err)
}

func (m *Manager) runUninstall(ctx context.Context, opID, id string, force bool) error {
	m.begin(ctx, opID)

	status, ok := m.registry.StatusOf(id)
	if !ok {
		return fmt.Errorf("plugin %q: %w", id, registry.ErrNotFound)
	}
	m.ops.progress(opID, progressValidated)
	if status == plugin.StatusUninstalled {
		return nil
	}

	var active []string
	for _, dep := range m.registry.Dependents(id) {
		if depStatus, ok := m.registry.StatusOf(dep); ok && depStatus != plugin.StatusUninstalled {
			active = append(active, dep)
		}
	}
	if len(active) > 0 && !force {
		return &registry.DependentsError{ID: id, Dependents: active}
	}
	m.ops.progress(opID, progressResolved)

	if status == plugin.StatusEnabled {
		if err := m.disableCascade(ctx, id); err != nil {
			return err
		}
	}
	m.ops.progress(opID, progressChildren)

	m.loader.UnloadPlugin(ctx, id)
	if m.sandbox != nil {
		m.sandbox.DestroyContext(id)
	}

	mu := m.lockFor(id)
	mu.Lock()
	defer mu.Unlock()
	return m.registry.UpdateStatus(id, plugin.StatusUninstalled, "")
}

// Enable activates a plugin, enabling (and installing where needed) its
// dependency closure first so an enabled plugin never sits on a
// disabled dependency.
func (m *Manager) Enable(ctx context.Context, id string) (Operation, error) {
	opID := m.ops.create(KindEnable, TargetPlugin, id)
	err := m.runEnable(ctx, opID, id)
	return m.finish(ctx, opID, id, err)
}

func (m *Manager) runEnable(ctx context.Context, opID, id string) error {
	m.begin(ctx, opID)

	status, ok := m.registry.StatusOf(id)
	if !ok {
		return fmt.Errorf("plugin %q: %w", id, registry.ErrNotFound)
	}
	m.ops.progress(opID, progressValidated)

	switch status {
	case plugin.StatusEnabled:
		return nil
	case plugin.StatusInstalled, plugin.StatusDisabled:
	default:
		return &StateError{PluginID: id, Status: status, Verb: KindEnable}
	}

	order, err := m.registry.InstallationOrder([]string{id})
	if err != nil {
		return err
	}
	m.ops.progress(opID, progressResolved)

	for i, pid := range order {
		if err := m.enableOne(ctx, pid); err != nil {
			if pid != id {
				err = fmt.Errorf("enabling dependency %q: %w", pid, err)
			}
			return err
		}
		m.ops.progress(opID, progressResolved+(i+1)*(progressChildren-progressResolved)/len(order))
	}
	return nil
}

// enableOne installs the plugin if it has never been, creates its
// sandbox context, and marks it enabled. Serialized per plugin id.
func (m *Manager) enableOne(ctx context.Context, id string) error {
	status, ok := m.registry.StatusOf(id)
	if !ok {
		return fmt.Errorf("plugin %q: %w", id, registry.ErrNotFound)
	}
	if status == plugin.StatusEnabled {
		return nil
	}
	if status == plugin.StatusUninstalled || status == plugin.StatusError {
		if err := m.installOne(ctx, id); err != nil {
			return err
		}
	}

	mu := m.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	if m.sandbox != nil {
		entry, ok := m.registry.Get(id)
		if !ok {
			return fmt.Errorf("plugin %q: %w", id, registry.ErrNotFound)
		}
		if _, err := m.sandbox.CreateContext(*entry.Plugin); err != nil && !errors.Is(err, sandbox.ErrContextExists) {
			return fmt.Errorf("creating sandbox context for %q: %w", id, err)
		}
	}

	return m.registry.TransitionStatus(id,
		[]plugin.Status{plugin.StatusInstalled, plugin.StatusDisabled},
		plugin.StatusEnabled, "")
}

// Disable deactivates a plugin, first disabling every transitively
// enabled dependent so no enabled plugin is left with a disabled
// dependency.
func (m *Manager) Disable(ctx context.Context, id string) (Operation, error) {
	opID := m.ops.create(KindDisable, TargetPlugin, id)
	err := m.runDisable(ctx, opID, id)
	return m.finish(ctx, opID, id, err)
}

func (m *Manager) runDisable(ctx context.Context, opID, id string) error {
	m.begin(ctx, opID)

	status, ok := m.registry.StatusOf(id)
	if !ok {
		return fmt.Errorf("plugin %q: %w", id, registry.ErrNotFound)
	}
	m.ops.progress(opID, progressValidated)

	switch status {
	case plugin.StatusDisabled:
		return nil
	case plugin.StatusEnabled:
	default:
		return &StateError{PluginID: id, Status: status, Verb: KindDisable}
	}
	m.ops.progress(opID, progressResolved)

	return m.disableCascade(ctx, id)
}

// disableCascade disables id and its enabled dependents, dependents
// first in reverse installation order.
func (m *Manager) disableCascade(ctx context.Context, id string) error {
	targets := map[string]bool{id: true}
	for _, dep := range m.registry.EnabledDependents(id) {
		targets[dep] = true
	}

	ids := make([]string, 0, len(targets))
	for pid := range targets {
		ids = append(ids, pid)
	}
	order, err := m.registry.InstallationOrder(ids)
	if err != nil {
		return err
	}

	for i := len(order) - 1; i >= 0; i-- {
		pid := order[i]
		if !targets[pid] {
			continue
		}
		if err := m.disableOne(ctx, pid); err != nil {
			return err
		}
	}
	return nil
}

// disableOne tears down one plugin's sandbox context and marks it
// disabled. Serialized per plugin id.
func (m *Manager) disableOne(_ context.Context, id string) error {
	mu := m.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	status, ok := m.registry.StatusOf(id)
	if !ok {
		return fmt.Errorf("plugin %q: %w", id, registry.ErrNotFound)
	}
	if status != plugin.StatusEnabled {
		return nil
	}

	if m.sandbox != nil {
		m.sandbox.DestroyContext(id)
	}
	return m.registry.TransitionStatus(id,
		[]plugin.Status{plugin.StatusEnabled},
		plugin.StatusDisabled, "")
}

// Execute runs an enabled plugin's loaded instance, wrapped in the
// sandbox when one is attached.
func (m *Manager) Execute(ctx context.Context, id string, input map[string]interface{}) (map[string]interface{}, error) {
	status, ok := m.registry.StatusOf(id)
	if !ok {
		return nil, fmt.Errorf("plugin %q: %w", id, registry.ErrNotFound)
	}
	if status != plugin.StatusEnabled {
		return nil, fmt.Errorf("plugin %q in status %q: %w", id, status, ErrNotEnabled)
	}

	loaded, ok := m.loader.Loaded(id)
	if !ok {
		return nil, fmt.Errorf("plugin %q: %w", id, ErrNotLoaded)
	}

	if m.sandbox == nil {
		return loaded.Instance.Execute(ctx, input)
	}
	return m.sandbox.Execute(ctx, id, func(execCtx context.Context) (map[string]interface{}, error) {
		return loaded.Instance.Execute(execCtx, input)
	})
}

// Operation returns a snapshot of one tracked operation.
func (m *Manager) Operation(id string) (Operation, bool) {
	return m.ops.snapshot(id)
}

// Operations returns snapshots of all tracked operations, oldest first.
func (m *Manager) Operations() []Operation {
	return m.ops.list()
}

// PruneOperations drops completed and failed operation records.
func (m *Manager) PruneOperations() int {
	return m.ops.prune()
}

// begin marks an operation running and announces it.
func (m *Manager) begin(ctx context.Context, opID string) {
	m.ops.start(opID)
	if op, ok := m.ops.snapshot(opID); ok {
		m.logger.Info(ctx, "lifecycle operation started",
			ports.F("operation", op.ID),
			ports.F("kind", string(op.Kind)),
			ports.F("target", op.TargetID))
		m.publishOp(ports.EventOperationStarted, op)
	}
}

// finish commits the operation outcome: failures mark the target's
// registry status as error with the causing message.
func (m *Manager) finish(ctx context.Context, opID, targetID string, err error) (Operation, error) {
	if err != nil {
		m.ops.fail(opID, err)
		// Wrong-state verbs and unknown targets leave status untouched;
		// real failures (missing dep, cycle, load, initialize) mark the
		// target errored with the causing message.
		if !errors.Is(err, registry.ErrNotFound) && !IsStateError(err) {
			_ = m.registry.UpdateStatus(targetID, plugin.StatusError, err.Error())
		}
		if op, ok := m.ops.snapshot(opID); ok {
			m.logger.Error(ctx, "lifecycle operation failed",
				ports.F("operation", op.ID),
				ports.F("kind", string(op.Kind)),
				ports.F("target", op.TargetID),
				ports.Err(err))
			m.publishOp(ports.EventOperationFailed, op)
		}
	} else {
		m.ops.complete(opID)
		if op, ok := m.ops.snapshot(opID); ok {
			m.publishOp(ports.EventOperationCompleted, op)
		}
	}
	op, _ := m.ops.snapshot(opID)
	return op, err
}

func (m *Manager) publishOp(eventType ports.EventType, op Operation) {
	m.pub.Publish(ports.Event{
		Type:     eventType,
		PluginID: op.TargetID,
		Data: map[string]interface{}{
			"operation":  op.ID,
			"kind":       string(op.Kind),
			"targetKind": string(op.TargetKind),
			"progress":   op.Progress,
			"error":      op.Error,
		},
	})
}
