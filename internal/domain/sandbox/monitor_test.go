package sandbox

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/pluginhost/internal/domain/plugin"
)

func TestMonitor_Sweep(t *testing.T) {
	ctx := context.Background()

	t.Run("raises throttle violations for sustained overage", func(t *testing.T) {
		pub := &capturingPublisher{}
		m := New(WithPublisher(pub))
		execCtx, err := m.CreateContext(secureMeta("hog", plugin.Security{
			Limits: plugin.ResourceLimits{MaxMemoryMB: 10, MaxCPUPercent: 100},
		}))
		require.NoError(t, err)

		// Simulate executions that accumulated memory past the limit.
		execCtx.recordExecution(time.Millisecond, 15)

		monitor, err := NewMonitor(m)
		require.NoError(t, err)

		raised := monitor.Sweep(ctx)
		assert.Equal(t, 1, raised)

		violations := execCtx.Violations()
		require.Len(t, violations, 1)
		assert.Equal(t, ViolationMemory, violations[0].Kind)
		assert.Equal(t, ActionThrottle, violations[0].Action)
	})

	t.Run("within limits raises nothing", func(t *testing.T) {
		m := New()
		execCtx, err := m.CreateContext(secureMeta("ok", plugin.Security{
			Limits: plugin.ResourceLimits{MaxMemoryMB: 100},
		}))
		require.NoError(t, err)
		execCtx.recordExecution(time.Millisecond, 1)

		monitor, err := NewMonitor(m)
		require.NoError(t, err)
		assert.Zero(t, monitor.Sweep(ctx))
	})

	t.Run("skips destroyed contexts", func(t *testing.T) {
		m := New()
		execCtx, err := m.CreateContext(secureMeta("gone", plugin.Security{
			Limits: plugin.ResourceLimits{MaxMemoryMB: 1},
		}))
		require.NoError(t, err)
		execCtx.recordExecution(time.Millisecond, 50)

		monitor, err := NewMonitor(m)
		require.NoError(t, err)

		m.DestroyContext("gone")
		assert.Zero(t, monitor.Sweep(ctx))
	})

	t.Run("sweep count accumulates", func(t *testing.T) {
		m := New()
		monitor, err := NewMonitor(m)
		require.NoError(t, err)

		monitor.Sweep(ctx)
		monitor.Sweep(ctx)
		assert.Equal(t, 2, monitor.Status().SweepCount)
	})
}

func TestMonitor_Lifecycle(t *testing.T) {
	ctx := context.Background()

	m := New()
	monitor, err := NewMonitor(m, WithInterval(20*time.Millisecond))
	require.NoError(t, err)

	assert.Equal(t, MonitorStopped, monitor.State())

	require.NoError(t, monitor.Start(ctx))
	assert.Eventually(t, func() bool {
		return monitor.State() == MonitorRunning
	}, 2*time.Second, 10*time.Millisecond)

	// Starting again while running is a no-op.
	require.NoError(t, monitor.Start(ctx))

	// Ticks should eventually sweep.
	assert.Eventually(t, func() bool {
		return monitor.Status().SweepCount > 0
	}, 2*time.Second, 10*time.Millisecond)

	stopCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	require.NoError(t, monitor.Stop(stopCtx))
	assert.Equal(t, MonitorStopped, monitor.State())

	// Stopping a stopped monitor is a no-op.
	require.NoError(t, monitor.Stop(ctx))
}

func TestMonitor_RequiresManager(t *testing.T) {
	_, err := NewMonitor(nil)
	assert.Error(t, err)
}
