// Package app wires the plugin runtime together: registry, loader,
// sandbox, and lifecycle manager behind one facade, with a shared event
// bus fanning lifecycle and security events out to subscribers.
package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/felixgeelhaar/pluginhost/internal/adapters/eventbus"
	"github.com/felixgeelhaar/pluginhost/internal/domain/config"
	"github.com/felixgeelhaar/pluginhost/internal/domain/lifecycle"
	"github.com/felixgeelhaar/pluginhost/internal/domain/loader"
	"github.com/felixgeelhaar/pluginhost/internal/domain/plugin"
	"github.com/felixgeelhaar/pluginhost/internal/domain/registry"
	"github.com/felixgeelhaar/pluginhost/internal/domain/sandbox"
	"github.com/felixgeelhaar/pluginhost/internal/ports"
)

// Default auto-disable policy: this many terminate violations inside the
// window force a disable.
const (
	defaultTerminateThreshold = 3
	defaultTerminateWindow    = time.Minute
)

// Orchestrator is the runtime facade. Construct with New, call Start to
// discover plugins and begin monitoring, Stop to shut down.
type Orchestrator struct {
	cfg       *config.Config
	bus       *eventbus.Bus
	registry  *registry.Registry
	loader    *loader.Loader
	sandbox   *sandbox.Manager
	monitor   *sandbox.Monitor
	lifecycle *lifecycle.Manager
	logger    ports.Logger

	terminateThreshold int
	terminateWindow    time.Duration

	mu            sync.Mutex
	started       bool
	startedAt     time.Time
	supervisorSub ports.Subscription
	supervisorWG  sync.WaitGroup
	terminates    map[string][]time.Time
}

// Option configures an Orchestrator.
type Option func(*options)

type options struct {
	logger             ports.Logger
	builtins           []plugin.Metadata
	builtinBundles     []plugin.BundleMetadata
	factory            plugin.InstanceFactory
	terminateThreshold int
	terminateWindow    time.Duration
}

// WithLogger sets the logger shared by every component.
func WithLogger(logger ports.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithBuiltins sets the built-in manifest set registered at Start.
func WithBuiltins(plugins []plugin.Metadata, bundles []plugin.BundleMetadata) Option {
	return func(o *options) {
		o.builtins = plugins
		o.builtinBundles = bundles
	}
}

// WithFactory sets the plugin instance factory.
func WithFactory(factory plugin.InstanceFactory) Option {
	return func(o *options) {
		o.factory = factory
	}
}

// WithAutoDisable tunes the terminate-violation supervisor.
func WithAutoDisable(threshold int, window time.Duration) Option {
	return func(o *options) {
		if threshold > 0 {
			o.terminateThreshold = threshold
		}
		if window > 0 {
			o.terminateWindow = window
		}
	}
}

// New builds the runtime from configuration. Nothing is discovered or
// monitored until Start.
func New(cfg *config.Config, opts ...Option) (*Orchestrator, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	o := &options{
		logger:             ports.NopLogger{},
		terminateThreshold: defaultTerminateThreshold,
		terminateWindow:    defaultTerminateWindow,
	}
	for _, opt := range opts {
		opt(o)
	}

	bus := eventbus.NewBus(
		eventbus.WithBufferSize(cfg.EventBufferSize),
		eventbus.WithLogger(o.logger))

	reg := registry.New(
		registry.WithPublisher(bus),
		registry.WithLogger(o.logger))

	loaderOpts := []loader.Option{
		loader.WithBuiltins(o.builtins, o.builtinBundles),
		loader.WithSearchPaths(cfg.SearchPaths...),
		loader.WithPublisher(bus),
		loader.WithLogger(o.logger),
	}
	if o.factory != nil {
		loaderOpts = append(loaderOpts, loader.WithFactory(o.factory))
	}
	ldr := loader.New(reg, loaderOpts...)

	sb := sandbox.New(
		sandbox.WithEnforcement(cfg.Sandbox),
		sandbox.WithDefaultLimits(cfg.DefaultLimits),
		sandbox.WithPublisher(bus),
		sandbox.WithLogger(o.logger))

	monitor, err := sandbox.NewMonitor(sb,
		sandbox.WithInterval(cfg.MonitorInterval()),
		sandbox.WithMonitorPublisher(bus),
		sandbox.WithMonitorLogger(o.logger))
	if err != nil {
		return nil, err
	}

	lm := lifecycle.New(reg, ldr,
		lifecycle.WithSandbox(sb),
		lifecycle.WithPublisher(bus),
		lifecycle.WithLogger(o.logger))

	return &Orchestrator{
		cfg:                cfg,
		bus:                bus,
		registry:           reg,
		loader:             ldr,
		sandbox:            sb,
		monitor:            monitor,
		lifecycle:          lm,
		logger:             o.logger,
		terminateThreshold: o.terminateThreshold,
		terminateWindow:    o.terminateWindow,
		terminates:         make(map[string][]time.Time),
	}, nil
}

// Start discovers plugins, starts the resource monitor, and begins
// supervising terminate violations.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.started {
		return nil
	}

	result, err := o.loader.Discover(ctx)
	if err != nil {
		return fmt.Errorf("plugin discovery failed: %w", err)
	}
	o.logger.Info(ctx, "runtime started",
		ports.F("plugins", len(result.Plugins)),
		ports.F("bundles", len(result.Bundles)),
		ports.F("invalid", result.Invalid),
		ports.F("sandbox", o.cfg.Sandbox))

	if o.cfg.Sandbox {
		if err := o.monitor.Start(ctx); err != nil {
			return err
		}
	}

	o.supervisorSub = o.bus.Subscribe()
	o.supervisorWG.Add(1)
	go o.superviseViolations(o.supervisorSub)

	o.started = true
	o.startedAt = time.Now()
	return nil
}

// Stop shuts the runtime down: monitor first, then the supervisor, then
// the bus and sandbox contexts.
func (o *Orchestrator) Stop(ctx context.Context) error {
	o.mu.Lock()
	if !o.started {
		o.mu.Unlock()
		return nil
	}
	o.started = false
	sub := o.supervisorSub
	o.supervisorSub = nil
	o.mu.Unlock()

	if o.cfg.Sandbox {
		if err := o.monitor.Stop(ctx); err != nil {
			return err
		}
	}
	if sub != nil {
		sub.Cancel()
	}
	o.supervisorWG.Wait()

	o.bus.Close()
	o.sandbox.Close()
	return nil
}

// Install installs a plugin and its dependency closure.
func (o *Orchestrator) Install(ctx context.Context, id string) (lifecycle.Operation, error) {
	return o.lifecycle.Install(ctx, id)
}

// Uninstall removes a plugin. Set force to disable dependents instead of
// failing on them.
func (o *Orchestrator) Uninstall(ctx context.Context, id string, force bool) (lifecycle.Operation, error) {
	return o.lifecycle.Uninstall(ctx, id, force)
}

// Enable activates a plugin and its dependency closure.
func (o *Orchestrator) Enable(ctx context.Context, id string) (lifecycle.Operation, error) {
	return o.lifecycle.Enable(ctx, id)
}

// Disable deactivates a plugin, cascading through enabled dependents.
func (o *Orchestrator) Disable(ctx context.Context, id string) (lifecycle.Operation, error) {
	return o.lifecycle.Disable(ctx, id)
}

// InstallBundle installs a bundle's members in dependency order.
func (o *Orchestrator) InstallBundle(ctx context.Context, id string) (lifecycle.Operation, error) {
	return o.lifecycle.InstallBundle(ctx, id)
}

// EnableBundle enables a bundle's members in dependency order.
func (o *Orchestrator) EnableBundle(ctx context.Context, id string) (lifecycle.Operation, error) {
	return o.lifecycle.EnableBundle(ctx, id)
}

// DisableBundle disables a bundle's members in reverse order.
func (o *Orchestrator) DisableBundle(ctx context.Context, id string) (lifecycle.Operation, error) {
	return o.lifecycle.DisableBundle(ctx, id)
}

// UninstallBundle removes a bundle's members in reverse order.
func (o *Orchestrator) UninstallBundle(ctx context.Context, id string) (lifecycle.Operation, error) {
	return o.lifecycle.UninstallBundle(ctx, id)
}

// Execute runs an enabled plugin inside the sandbox and publishes an
// execution event with the outcome.
func (o *Orchestrator) Execute(ctx context.Context, id string, input map[string]interface{}) (map[string]interface{}, error) {
	start := time.Now()
	result, err := o.lifecycle.Execute(ctx, id, input)

	event := ports.Event{
		Type:     ports.EventExecutionCompleted,
		PluginID: id,
		Data: map[string]interface{}{
			"durationMs": time.Since(start).Milliseconds(),
		},
	}
	if err != nil {
		event.Type = ports.EventExecutionFailed
		event.Data["error"] = err.Error()
	}
	o.bus.Publish(event)
	return result, err
}

// List returns every registered plugin entry, sorted by id.
func (o *Orchestrator) List() []*registry.Entry {
	return o.registry.List()
}

// Search filters the catalog.
func (o *Orchestrator) Search(filters registry.Filters) registry.Page {
	return o.registry.Search(filters)
}

// Operations returns all tracked lifecycle operations, oldest first.
func (o *Orchestrator) Operations() []lifecycle.Operation {
	return o.lifecycle.Operations()
}

// Events returns a new subscription to the runtime event stream. Cancel
// it when done.
func (o *Orchestrator) Events() ports.Subscription {
	return o.bus.Subscribe()
}

// superviseViolations force-disables plugins that accumulate terminate
// violations faster than the configured threshold allows.
func (o *Orchestrator) superviseViolations(sub ports.Subscription) {
	defer o.supervisorWG.Done()
	for event := range sub.Events() {
		if event.Type != ports.EventViolationTerminate || event.PluginID == "" {
			continue
		}
		if o.noteTerminate(event.PluginID) {
			o.autoDisable(event.PluginID)
		}
	}
}

// noteTerminate records one terminate violation and reports whether the
// threshold was crossed.
func (o *Orchestrator) noteTerminate(id string) bool {
	now := time.Now()
	cutoff := now.Add(-o.terminateWindow)

	o.mu.Lock()
	defer o.mu.Unlock()
	recent := o.terminates[id][:0]
	for _, ts := range o.terminates[id] {
		if ts.After(cutoff) {
			recent = append(recent, ts)
		}
	}
	recent = append(recent, now)
	o.terminates[id] = recent
	if len(recent) >= o.terminateThreshold {
		o.terminates[id] = nil
		return true
	}
	return false
}

func (o *Orchestrator) autoDisable(id string) {
	ctx := context.Background()
	o.logger.Warn(ctx, "auto-disabling plugin after repeated terminate violations",
		ports.F("plugin", id),
		ports.F("threshold", o.terminateThreshold))

	if _, err := o.lifecycle.Disable(ctx, id); err != nil {
		o.logger.Error(ctx, "auto-disable failed", ports.F("plugin", id), ports.Err(err))
		return
	}
	o.bus.Publish(ports.Event{
		Type:     ports.EventPluginAutoDisabled,
		PluginID: id,
		Data: map[string]interface{}{
			"threshold": o.terminateThreshold,
			"windowMs":  o.terminateWindow.Milliseconds(),
		},
	})
}
