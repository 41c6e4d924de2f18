package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/pluginhost/internal/domain/config"
	"github.com/felixgeelhaar/pluginhost/internal/domain/plugin"
	"github.com/felixgeelhaar/pluginhost/internal/domain/registry"
	"github.com/felixgeelhaar/pluginhost/internal/domain/sandbox"
	"github.com/felixgeelhaar/pluginhost/internal/ports"
)

func builtin(id string, deps ...string) plugin.Metadata {
	return plugin.Metadata{
		ID:           id,
		Name:         id,
		Version:      "1.0.0",
		Category:     "memory",
		Dependencies: deps,
	}
}

func newRuntime(t *testing.T, opts ...Option) *Orchestrator {
	t.Helper()
	cfg := config.Default()
	cfg.MonitorIntervalMs = 60_000 // keep sweeps out of test timing

	o, err := New(cfg, opts...)
	require.NoError(t, err)
	require.NoError(t, o.Start(context.Background()))
	t.Cleanup(func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = o.Stop(stopCtx)
	})
	return o
}

func TestOrchestrator_StartStop(t *testing.T) {
	cfg := config.Default()
	o, err := New(cfg, WithBuiltins([]plugin.Metadata{builtin("p1")}, nil))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, o.Start(ctx))
	require.NoError(t, o.Start(ctx)) // idempotent

	assert.Len(t, o.List(), 1)

	require.NoError(t, o.Stop(ctx))
	require.NoError(t, o.Stop(ctx)) // idempotent
}

func TestOrchestrator_RejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Logging.Level = "verbose"
	_, err := New(cfg)
	assert.Error(t, err)
}

func TestOrchestrator_ExecuteAndStats(t *testing.T) {
	o := newRuntime(t, WithBuiltins([]plugin.Metadata{builtin("p1")}, nil))
	ctx := context.Background()

	_, err := o.Install(ctx, "p1")
	require.NoError(t, err)
	_, err = o.Enable(ctx, "p1")
	require.NoError(t, err)

	sub := o.Events()
	defer sub.Cancel()

	result, err := o.Execute(ctx, "p1", map[string]interface{}{"key": "k"})
	require.NoError(t, err)
	assert.NotNil(t, result)

	select {
	case event := <-sub.Events():
		assert.Equal(t, ports.EventExecutionCompleted, event.Type)
		assert.Equal(t, "p1", event.PluginID)
	case <-time.After(2 * time.Second):
		t.Fatal("expected an execution event")
	}

	stats := o.Stats()
	assert.Equal(t, 1, stats.TotalPlugins)
	assert.Equal(t, 1, stats.EnabledCount)
	assert.Equal(t, 1, stats.ExecutionCount)
	assert.Zero(t, stats.ErrorCount)
	assert.Positive(t, stats.Uptime)

	info, err := o.Info("p1")
	require.NoError(t, err)
	assert.True(t, info.Loaded)
	assert.Equal(t, 1, info.Metrics.ExecutionCount)
}

func TestOrchestrator_ExecuteNotEnabled(t *testing.T) {
	o := newRuntime(t, WithBuiltins([]plugin.Metadata{builtin("p1")}, nil))
	_, err := o.Execute(context.Background(), "p1", nil)
	assert.Error(t, err)
}

func TestOrchestrator_BundleSystemStatus(t *testing.T) {
	bundle := plugin.BundleMetadata{
		ID: "B", Name: "B", Version: "1.0.0",
		Plugins: []string{"p1", "p2"},
	}
	p2 := builtin("p2", "p1")
	o := newRuntime(t, WithBuiltins([]plugin.Metadata{builtin("p1"), p2}, []plugin.BundleMetadata{bundle}))
	ctx := context.Background()

	_, err := o.InstallBundle(ctx, "B")
	require.NoError(t, err)
	_, err = o.EnableBundle(ctx, "B")
	require.NoError(t, err)

	status := o.GetSystemStatus()
	assert.Equal(t, 1, status.InstalledBundles)
	assert.Equal(t, 1, status.EnabledBundles)
	assert.Equal(t, 2, status.InstalledPlugins)
	assert.Equal(t, 2, status.EnabledPlugins)
}

func TestOrchestrator_Search(t *testing.T) {
	o := newRuntime(t, WithBuiltins([]plugin.Metadata{builtin("alpha"), builtin("beta")}, nil))
	page := o.Search(registry.Filters{Query: "alp"})
	assert.Equal(t, 1, page.Total)
}

func TestOrchestrator_ConfiguredDefaultLimits(t *testing.T) {
	cfg := config.Default()
	cfg.MonitorIntervalMs = 60_000
	cfg.DefaultLimits = plugin.ResourceLimits{
		MaxMemoryMB:        64,
		MaxCPUPercent:      50,
		TimeoutMs:          20,
		MaxNetworkRequests: 100,
		MaxFileOps:         500,
	}

	factory := plugin.FactoryFunc(func(m plugin.Metadata) (any, error) {
		instance := plugin.NewMockInstance(m)
		instance.ExecuteFunc = func(execCtx context.Context, _ map[string]interface{}) (map[string]interface{}, error) {
			select {
			case <-time.After(5 * time.Second):
			case <-execCtx.Done():
			}
			return nil, execCtx.Err()
		}
		return instance, nil
	})

	// The plugin declares no limits of its own; the configured defaults
	// must govern its execution.
	o, err := New(cfg, WithBuiltins([]plugin.Metadata{builtin("p1")}, nil), WithFactory(factory))
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, o.Start(ctx))
	t.Cleanup(func() { _ = o.Stop(context.Background()) })

	_, err = o.Install(ctx, "p1")
	require.NoError(t, err)
	_, err = o.Enable(ctx, "p1")
	require.NoError(t, err)

	_, err = o.Execute(ctx, "p1", nil)
	require.Error(t, err)
	assert.True(t, sandbox.IsTimeout(err))
}

func TestOrchestrator_AutoDisable(t *testing.T) {
	slow := builtin("slow")
	slow.Security.Limits = plugin.ResourceLimits{TimeoutMs: 20}

	factory := plugin.FactoryFunc(func(m plugin.Metadata) (any, error) {
		instance := plugin.NewMockInstance(m)
		if m.ID == "slow" {
			instance.ExecuteFunc = func(execCtx context.Context, _ map[string]interface{}) (map[string]interface{}, error) {
				select {
				case <-time.After(5 * time.Second):
				case <-execCtx.Done():
				}
				return nil, execCtx.Err()
			}
		}
		return instance, nil
	})

	o := newRuntime(t,
		WithBuiltins([]plugin.Metadata{slow}, nil),
		WithFactory(factory),
		WithAutoDisable(2, time.Minute))
	ctx := context.Background()

	_, err := o.Install(ctx, "slow")
	require.NoError(t, err)
	_, err = o.Enable(ctx, "slow")
	require.NoError(t, err)

	sub := o.Events()
	defer sub.Cancel()

	for i := 0; i < 2; i++ {
		_, err := o.Execute(ctx, "slow", nil)
		require.Error(t, err)
		assert.True(t, sandbox.IsTimeout(err))
	}

	// The supervisor reacts asynchronously to the second terminate.
	assert.Eventually(t, func() bool {
		status, ok := o.registry.StatusOf("slow")
		return ok && status == plugin.StatusDisabled
	}, 5*time.Second, 20*time.Millisecond)

	deadline := time.After(5 * time.Second)
	for {
		select {
		case event := <-sub.Events():
			if event.Type == ports.EventPluginAutoDisabled {
				assert.Equal(t, "slow", event.PluginID)
				return
			}
		case <-deadline:
			t.Fatal("expected a plugin-auto-disabled event")
		}
	}
}
