package app

import (
	"fmt"
	"time"

	"github.com/felixgeelhaar/pluginhost/internal/domain/plugin"
	"github.com/felixgeelhaar/pluginhost/internal/domain/registry"
	"github.com/felixgeelhaar/pluginhost/internal/domain/sandbox"
)

// PluginInfo is the full inspection view of one plugin.
type PluginInfo struct {
	Entry      *registry.Entry
	Loaded     bool
	LoadedAt   time.Time
	Health     plugin.HealthStatus
	Metrics    plugin.InstanceMetrics
	Violations []sandbox.Violation
}

// Info returns the inspection view for one plugin.
func (o *Orchestrator) Info(id string) (*PluginInfo, error) {
	entry, ok := o.registry.Get(id)
	if !ok {
		return nil, fmt.Errorf("plugin %q: %w", id, registry.ErrNotFound)
	}

	info := &PluginInfo{
		Entry:      entry,
		Health:     plugin.HealthStatus{State: plugin.HealthUnknown},
		Violations: o.sandbox.ViolationsFor(id),
	}
	if loaded, ok := o.loader.Loaded(id); ok {
		info.Loaded = true
		info.LoadedAt = loaded.LoadedAt
		info.Health = loaded.Instance.Health()
		info.Metrics = loaded.Instance.Metrics()
	}
	return info, nil
}

// RuntimeStats aggregates catalog and execution counters across the
// whole runtime.
type RuntimeStats struct {
	TotalPlugins    int
	InstalledCount  int
	EnabledCount    int
	DisabledCount   int
	ErroredCount    int
	TotalBundles    int
	LoadedInstances int

	ExecutionCount int
	ErrorCount     int
	// ErrorRate is ErrorCount over ExecutionCount, 0 when idle.
	ErrorRate            float64
	AverageExecutionTime time.Duration

	Uptime time.Duration
}

// Stats aggregates counters from the registry and every loaded instance.
func (o *Orchestrator) Stats() RuntimeStats {
	stats := RuntimeStats{}

	var totalDuration time.Duration
	for _, entry := range o.registry.List() {
		stats.TotalPlugins++
		switch entry.Status {
		case plugin.StatusInstalled, plugin.StatusEnabled, plugin.StatusDisabled:
			stats.InstalledCount++
		case plugin.StatusError:
			stats.ErroredCount++
		}
		if entry.Status == plugin.StatusEnabled {
			stats.EnabledCount++
		}
		if entry.Status == plugin.StatusDisabled {
			stats.DisabledCount++
		}

		loaded, ok := o.loader.Loaded(entry.ID())
		if !ok {
			continue
		}
		stats.LoadedInstances++
		metrics := loaded.Instance.Metrics()
		stats.ExecutionCount += metrics.ExecutionCount
		stats.ErrorCount += metrics.ErrorCount
		totalDuration += metrics.TotalDuration
	}
	stats.TotalBundles = len(o.registry.ListBundles())

	if stats.ExecutionCount > 0 {
		stats.ErrorRate = float64(stats.ErrorCount) / float64(stats.ExecutionCount)
		stats.AverageExecutionTime = totalDuration / time.Duration(stats.ExecutionCount)
	}

	o.mu.Lock()
	if o.started {
		stats.Uptime = time.Since(o.startedAt)
	}
	o.mu.Unlock()
	return stats
}

// SystemStatus is the coarse catalog summary. A plugin or bundle counts
// as installed in any post-install state, including enabled or disabled.
type SystemStatus struct {
	TotalPlugins     int
	InstalledPlugins int
	EnabledPlugins   int
	TotalBundles     int
	InstalledBundles int
	EnabledBundles   int
}

// GetSystemStatus summarizes the catalog.
func (o *Orchestrator) GetSystemStatus() SystemStatus {
	status := SystemStatus{}
	for _, entry := range o.registry.List() {
		status.TotalPlugins++
		if installedOrBeyond(entry.Status) {
			status.InstalledPlugins++
		}
		if entry.Status == plugin.StatusEnabled {
			status.EnabledPlugins++
		}
	}
	for _, entry := range o.registry.ListBundles() {
		status.TotalBundles++
		if installedOrBeyond(entry.Status) {
			status.InstalledBundles++
		}
		if entry.Status == plugin.StatusEnabled {
			status.EnabledBundles++
		}
	}
	return status
}

func installedOrBeyond(status plugin.Status) bool {
	switch status {
	case plugin.StatusInstalled, plugin.StatusEnabled, plugin.StatusDisabled:
		return true
	default:
		return false
	}
}
