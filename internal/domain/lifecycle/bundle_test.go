package lifecycle

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/pluginhost/internal/domain/plugin"
	"github.com/felixgeelhaar/pluginhost/internal/domain/registry"
)

func bundleMeta(id string, mode plugin.InstallMode, members ...string) plugin.BundleMetadata {
	return plugin.BundleMetadata{
		ID:          id,
		Name:        id,
		Version:     "1.0.0",
		InstallMode: mode,
		Plugins:     members,
	}
}

func TestManager_InstallBundle(t *testing.T) {
	ctx := context.Background()

	t.Run("members install in dependency order", func(t *testing.T) {
		f := setup(t,
			[]plugin.Metadata{meta("p1"), meta("p2", "p1")},
			[]plugin.BundleMetadata{bundleMeta("B", plugin.InstallAtomic, "p1", "p2")})

		op, err := f.manager.InstallBundle(ctx, "B")
		require.NoError(t, err)
		assert.Equal(t, OpCompleted, op.Status)
		assert.Equal(t, TargetBundle, op.TargetKind)

		assert.Equal(t, []string{"p1", "p2"}, f.factory.loadOrder())
		assert.Equal(t, plugin.StatusInstalled, f.status(t, "p1"))
		assert.Equal(t, plugin.StatusInstalled, f.status(t, "p2"))
		assert.Equal(t, plugin.StatusInstalled, f.status(t, "B"))
	})

	t.Run("unknown bundle", func(t *testing.T) {
		f := setup(t, nil, nil)
		_, err := f.manager.InstallBundle(ctx, "ghost")
		assert.ErrorIs(t, err, registry.ErrNotFound)
	})

	t.Run("atomic aborts on first failure without rollback", func(t *testing.T) {
		f := setup(t,
			[]plugin.Metadata{meta("p1"), meta("p2", "p1"), meta("p3")},
			[]plugin.BundleMetadata{bundleMeta("B", plugin.InstallAtomic, "p1", "p2", "p3")})
		f.factory.failFor["p2"] = errors.New("boom")

		_, err := f.manager.InstallBundle(ctx, "B")
		require.Error(t, err)
		assert.True(t, IsBundleError(err))

		var be *BundleError
		require.ErrorAs(t, err, &be)
		assert.Contains(t, be.Failed, "p2")

		// p1 completed before the failure and stays installed.
		assert.Equal(t, plugin.StatusInstalled, f.status(t, "p1"))
		assert.Equal(t, plugin.StatusError, f.status(t, "p2"))
		assert.Equal(t, plugin.StatusUninstalled, f.status(t, "p3"))
		assert.Equal(t, plugin.StatusError, f.status(t, "B"))
	})

	t.Run("incremental continues past failures", func(t *testing.T) {
		f := setup(t,
			[]plugin.Metadata{meta("p1"), meta("p2"), meta("p3")},
			[]plugin.BundleMetadata{bundleMeta("B", plugin.InstallIncremental, "p1", "p2", "p3")})
		f.factory.failFor["p2"] = errors.New("boom")

		_, err := f.manager.InstallBundle(ctx, "B")
		require.Error(t, err)

		var be *BundleError
		require.ErrorAs(t, err, &be)
		assert.Len(t, be.Failed, 1)
		assert.Equal(t, plugin.StatusInstalled, f.status(t, "p1"))
		assert.Equal(t, plugin.StatusInstalled, f.status(t, "p3"))
	})
}

func TestManager_EnableBundle(t *testing.T) {
	ctx := context.Background()

	t.Run("enables members in order and reports status", func(t *testing.T) {
		f := setup(t,
			[]plugin.Metadata{meta("p1"), meta("p2", "p1")},
			[]plugin.BundleMetadata{bundleMeta("B", plugin.InstallAtomic, "p1", "p2")})

		_, err := f.manager.InstallBundle(ctx, "B")
		require.NoError(t, err)
		op, err := f.manager.EnableBundle(ctx, "B")
		require.NoError(t, err)
		assert.Equal(t, OpCompleted, op.Status)

		assert.Equal(t, plugin.StatusEnabled, f.status(t, "p1"))
		assert.Equal(t, plugin.StatusEnabled, f.status(t, "p2"))
		assert.Equal(t, plugin.StatusEnabled, f.status(t, "B"))
	})

	t.Run("members receive the bundle hook", func(t *testing.T) {
		f := setup(t,
			[]plugin.Metadata{meta("p1")},
			[]plugin.BundleMetadata{bundleMeta("B", plugin.InstallAtomic, "p1")})

		_, err := f.manager.InstallBundle(ctx, "B")
		require.NoError(t, err)
		_, err = f.manager.EnableBundle(ctx, "B")
		require.NoError(t, err)

		assert.Equal(t, []string{"B"}, f.factory.instances["p1"].BundleEnables())
	})

	t.Run("hook failure leaves earlier members enabled", func(t *testing.T) {
		f := setup(t,
			[]plugin.Metadata{meta("p1"), meta("p2", "p1")},
			[]plugin.BundleMetadata{bundleMeta("B", plugin.InstallAtomic, "p1", "p2")})

		_, err := f.manager.InstallBundle(ctx, "B")
		require.NoError(t, err)
		f.factory.instances["p2"].BundleEnableErr = errors.New("hook rejected")

		_, err = f.manager.EnableBundle(ctx, "B")
		require.Error(t, err)
		assert.True(t, IsBundleError(err))

		// No rollback: p1 stays enabled after p2's hook failed.
		assert.Equal(t, plugin.StatusEnabled, f.status(t, "p1"))
		assert.Equal(t, plugin.StatusError, f.status(t, "p2"))
	})
}

func TestManager_DisableAndUninstallBundle(t *testing.T) {
	ctx := context.Background()

	newEnabled := func(t *testing.T) *fixture {
		t.Helper()
		f := setup(t,
			[]plugin.Metadata{meta("p1"), meta("p2", "p1")},
			[]plugin.BundleMetadata{bundleMeta("B", plugin.InstallAtomic, "p1", "p2")})
		_, err := f.manager.InstallBundle(ctx, "B")
		require.NoError(t, err)
		_, err = f.manager.EnableBundle(ctx, "B")
		require.NoError(t, err)
		return f
	}

	t.Run("disable walks members in reverse order", func(t *testing.T) {
		f := newEnabled(t)
		_, err := f.manager.DisableBundle(ctx, "B")
		require.NoError(t, err)

		assert.Equal(t, plugin.StatusDisabled, f.status(t, "p1"))
		assert.Equal(t, plugin.StatusDisabled, f.status(t, "p2"))
		assert.Equal(t, plugin.StatusDisabled, f.status(t, "B"))
	})

	t.Run("uninstall removes members and instances", func(t *testing.T) {
		f := newEnabled(t)
		_, err := f.manager.UninstallBundle(ctx, "B")
		require.NoError(t, err)

		assert.Equal(t, plugin.StatusUninstalled, f.status(t, "p1"))
		assert.Equal(t, plugin.StatusUninstalled, f.status(t, "p2"))
		assert.Equal(t, plugin.StatusUninstalled, f.status(t, "B"))
		assert.Zero(t, f.loader.LoadedCount())
	})

	t.Run("outside dependent blocks a member uninstall", func(t *testing.T) {
		f := setup(t,
			[]plugin.Metadata{meta("p1"), meta("outsider", "p1")},
			[]plugin.BundleMetadata{bundleMeta("B", plugin.InstallAtomic, "p1")})
		_, err := f.manager.InstallBundle(ctx, "B")
		require.NoError(t, err)
		_, err = f.manager.Install(ctx, "outsider")
		require.NoError(t, err)

		_, err = f.manager.UninstallBundle(ctx, "B")
		require.Error(t, err)
		assert.Equal(t, plugin.StatusInstalled, f.status(t, "outsider"))
	})
}
