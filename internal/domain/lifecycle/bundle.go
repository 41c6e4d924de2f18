package lifecycle

import (
	"context"
	"fmt"

	"github.com/felixgeelhaar/pluginhost/internal/domain/plugin"
	"github.com/felixgeelhaar/pluginhost/internal/domain/registry"
	"github.com/felixgeelhaar/pluginhost/internal/ports"
)

// InstallBundle installs every member of a bundle in dependency order.
// Atomic bundles abort on the first member failure; incremental bundles
// continue and report all failures. Members installed before a failure
// stay installed either way.
func (m *Manager) InstallBundle(ctx context.Context, bundleID string) (Operation, error) {
	opID := m.ops.create(KindInstall, TargetBundle, bundleID)
	err := m.runBundle(ctx, opID, bundleID, KindInstall)
	return m.finish(ctx, opID, bundleID, err)
}

// EnableBundle enables every member in dependency order, invoking each
// member's bundle hook after it comes up. Partial failure leaves
// already-enabled members enabled.
func (m *Manager) EnableBundle(ctx context.Context, bundleID string) (Operation, error) {
	opID := m.ops.create(KindEnable, TargetBundle, bundleID)
	err := m.runBundle(ctx, opID, bundleID, KindEnable)
	return m.finish(ctx, opID, bundleID, err)
}

// DisableBundle disables every member in reverse dependency order.
func (m *Manager) DisableBundle(ctx context.Context, bundleID string) (Operation, error) {
	opID := m.ops.create(KindDisable, TargetBundle, bundleID)
	err := m.runBundle(ctx, opID, bundleID, KindDisable)
	return m.finish(ctx, opID, bundleID, err)
}

// UninstallBundle uninstalls every member in reverse dependency order.
// Members with dependents outside the bundle block their own removal.
func (m *Manager) UninstallBundle(ctx context.Context, bundleID string) (Operation, error) {
	opID := m.ops.create(KindUninstall, TargetBundle, bundleID)
	err := m.runBundle(ctx, opID, bundleID, KindUninstall)
	return m.finish(ctx, opID, bundleID, err)
}

func (m *Manager) runBundle(ctx context.Context, opID, bundleID string, verb Kind) error {
	m.begin(ctx, opID)

	entry, ok := m.registry.GetBundle(bundleID)
	if !ok {
		return fmt.Errorf("bundle %q: %w", bundleID, registry.ErrNotFound)
	}
	bundle := entry.Bundle
	m.ops.progress(opID, progressValidated)

	members := make(map[string]bool, len(bundle.Plugins))
	for _, id := range bundle.Plugins {
		members[id] = true
	}

	// Member order respects inter-member dependencies; non-member
	// dependencies ride along for install/enable and are skipped for the
	// teardown verbs.
	order, err := m.registry.InstallationOrder(bundle.Plugins)
	if err != nil {
		return err
	}
	if verb == KindDisable || verb == KindUninstall {
		order = reversed(order)
	}
	m.ops.progress(opID, progressResolved)

	atomic := bundle.InstallMode != plugin.InstallIncremental
	failed := make(map[string]error)

	for i, id := range order {
		if (verb == KindDisable || verb == KindUninstall) && !members[id] {
			continue
		}

		var stepErr error
		switch verb {
		case KindInstall:
			stepErr = m.installOne(ctx, id)
		case KindEnable:
			stepErr = m.enableBundleMember(ctx, id, bundleID, members[id])
		case KindDisable:
			stepErr = m.disableCascade(ctx, id)
		case KindUninstall:
			stepErr = m.uninstallBundleMember(ctx, id)
		}

		if stepErr != nil {
			failed[id] = stepErr
			_ = m.registry.UpdateStatus(id, plugin.StatusError, stepErr.Error())
			m.logger.Error(ctx, "bundle member operation failed",
				ports.F("bundle", bundleID),
				ports.F("member", id),
				ports.F("kind", string(verb)),
				ports.Err(stepErr))
			if atomic {
				break
			}
			continue
		}
		m.ops.progress(opID, progressResolved+(i+1)*(progressChildren-progressResolved)/len(order))
	}

	if len(failed) > 0 {
		return &BundleError{BundleID: bundleID, Verb: verb, Failed: failed}
	}

	m.ops.progress(opID, progressChildren)
	return m.registry.UpdateStatus(bundleID, bundleStatusFor(verb), "")
}

// enableBundleMember enables one member and fires its bundle hook.
func (m *Manager) enableBundleMember(ctx context.Context, id, bundleID string, isMember bool) error {
	if err := m.enableOne(ctx, id); err != nil {
		return err
	}
	if !isMember {
		return nil
	}
	loaded, ok := m.loader.Loaded(id)
	if !ok {
		return nil
	}
	if hook, ok := loaded.Instance.(plugin.BundleHook); ok {
		if err := hook.OnBundleEnable(ctx, bundleID); err != nil {
			return fmt.Errorf("bundle hook for %q: %w", id, err)
		}
	}
	return nil
}

// uninstallBundleMember uninstalls one member without force; dependents
// outside the bundle keep it in place and fail the member step.
func (m *Manager) uninstallBundleMember(ctx context.Context, id string) error {
	status, ok := m.registry.StatusOf(id)
	if !ok {
		return fmt.Errorf("plugin %q: %w", id, registry.ErrNotFound)
	}
	if status == plugin.StatusUninstalled {
		return nil
	}

	var active []string
	for _, dep := range m.registry.Dependents(id) {
		if depStatus, ok := m.registry.StatusOf(dep); ok && depStatus != plugin.StatusUninstalled {
			active = append(active, dep)
		}
	}
	if len(active) > 0 {
		return &registry.DependentsError{ID: id, Dependents: active}
	}

	if status == plugin.StatusEnabled {
		if err := m.disableOne(ctx, id); err != nil {
			return err
		}
	}

	m.loader.UnloadPlugin(ctx, id)
	if m.sandbox != nil {
		m.sandbox.DestroyContext(id)
	}

	mu := m.lockFor(id)
	mu.Lock()
	defer mu.Unlock()
	return m.registry.UpdateStatus(id, plugin.StatusUninstalled, "")
}

func bundleStatusFor(verb Kind) plugin.Status {
	switch verb {
	case KindInstall:
		return plugin.StatusInstalled
	case KindEnable:
		return plugin.StatusEnabled
	case KindDisable:
		return plugin.StatusDisabled
	default:
		return plugin.StatusUninstalled
	}
}

func reversed(in []string) []string {
	out := make([]string, len(in))
	for i, v := range in {
		out[len(in)-1-i] = v
	}
	return out
}
