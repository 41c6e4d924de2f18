package loader

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/pluginhost/internal/domain/plugin"
	"github.com/felixgeelhaar/pluginhost/internal/domain/registry"
	"github.com/felixgeelhaar/pluginhost/internal/ports"
)

func builtin(id string, deps ...string) plugin.Metadata {
	return plugin.Metadata{
		ID:           id,
		Name:         id,
		Version:      "1.0.0",
		Category:     "memory",
		Type:         plugin.TypeIndividual,
		Dependencies: deps,
	}
}

func writeManifest(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestLoader_Discover(t *testing.T) {
	t.Run("builtins register", func(t *testing.T) {
		reg := registry.New()
		l := New(reg, WithBuiltins([]plugin.Metadata{builtin("p1"), builtin("p2")}, nil))

		result, err := l.Discover(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 2, result.Discovered)
		assert.Zero(t, result.Invalid)
		assert.Equal(t, 2, reg.Count())
	})

	t.Run("filesystem manifests", func(t *testing.T) {
		root := t.TempDir()
		writeManifest(t, filepath.Join(root, "relay"), "plugin.yaml", `
id: chat-relay
name: Chat Relay
version: 1.2.0
category: communication
`)
		writeManifest(t, filepath.Join(root, "suite"), "bundle.yaml", `
id: relay-suite
name: Relay Suite
version: 1.0.0
plugins:
  - chat-relay
`)

		reg := registry.New()
		l := New(reg, WithSearchPaths(root))

		result, err := l.Discover(context.Background())
		require.NoError(t, err)
		assert.Len(t, result.Plugins, 1)
		assert.Len(t, result.Bundles, 1)

		_, ok := reg.Get("chat-relay")
		assert.True(t, ok)
		_, ok = reg.GetBundle("relay-suite")
		assert.True(t, ok)
	})

	t.Run("invalid candidates counted not registered", func(t *testing.T) {
		root := t.TempDir()
		writeManifest(t, filepath.Join(root, "broken"), "plugin.yaml", `
id: broken
name: Broken
version: not-semver
`)
		writeManifest(t, filepath.Join(root, "empty-bundle"), "bundle.yaml", `
id: empty
name: Empty
version: 1.0.0
plugins: []
`)

		reg := registry.New()
		l := New(reg, WithSearchPaths(root))

		result, err := l.Discover(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 2, result.Invalid)
		assert.Zero(t, reg.Count())
		assert.NotEmpty(t, result.Errors)
	})

	t.Run("missing search path is not an error", func(t *testing.T) {
		reg := registry.New()
		l := New(reg, WithSearchPaths("/nonexistent/plugins"))
		result, err := l.Discover(context.Background())
		require.NoError(t, err)
		assert.Empty(t, result.Errors)
	})

	t.Run("bundle may reference cached but unregistered members", func(t *testing.T) {
		reg := registry.New()
		l := New(reg, WithBuiltins(
			[]plugin.Metadata{builtin("p1")},
			[]plugin.BundleMetadata{{
				ID: "b1", Name: "B1", Version: "1.0.0", Plugins: []string{"p1"},
			}},
		))
		result, err := l.Discover(context.Background())
		require.NoError(t, err)
		assert.Empty(t, result.Errors)
		_, ok := reg.GetBundle("b1")
		assert.True(t, ok)
	})
}

func TestLoader_LoadPlugin(t *testing.T) {
	ctx := context.Background()

	newLoader := func(t *testing.T, pub ports.Publisher, metas ...plugin.Metadata) (*Loader, *registry.Registry) {
		t.Helper()
		opts := []registry.Option{}
		if pub != nil {
			opts = append(opts, registry.WithPublisher(pub))
		}
		reg := registry.New(opts...)
		lopts := []Option{WithBuiltins(metas, nil)}
		if pub != nil {
			lopts = append(lopts, WithPublisher(pub))
		}
		l := New(reg, lopts...)
		_, err := l.Discover(ctx)
		require.NoError(t, err)
		return l, reg
	}

	t.Run("loads a registered plugin", func(t *testing.T) {
		l, _ := newLoader(t, nil, builtin("p1"))
		result, err := l.LoadPlugin(ctx, "p1")
		require.NoError(t, err)
		assert.False(t, result.AlreadyLoaded)
		assert.NotNil(t, result.Plugin.Instance)
		assert.Equal(t, 1, l.LoadedCount())
	})

	t.Run("idempotent with single loaded event", func(t *testing.T) {
		pub := &capturingPublisher{}
		l, reg := newLoader(t, pub, builtin("p1"))

		first, err := l.LoadPlugin(ctx, "p1")
		require.NoError(t, err)
		second, err := l.LoadPlugin(ctx, "p1")
		require.NoError(t, err)

		assert.True(t, second.AlreadyLoaded)
		assert.Same(t, first.Plugin, second.Plugin)
		assert.NotEmpty(t, second.Warnings)
		assert.Len(t, pub.byType(ports.EventPluginLoaded), 1)

		entry, _ := reg.Get("p1")
		assert.NotEmpty(t, entry.Warnings)
	})

	t.Run("unknown plugin", func(t *testing.T) {
		l, _ := newLoader(t, nil)
		_, err := l.LoadPlugin(ctx, "ghost")
		assert.ErrorIs(t, err, registry.ErrNotFound)
	})

	t.Run("missing dependency fails with ids", func(t *testing.T) {
		reg := registry.New()
		l := New(reg)
		// Register directly, bypassing discovery, so the dependency is
		// neither cached nor registered.
		require.NoError(t, reg.RegisterPlugin(builtin("needy", "absent")))

		_, err := l.LoadPlugin(ctx, "needy")
		require.Error(t, err)
		assert.True(t, plugin.IsMissingDependency(err))
		assert.Contains(t, err.Error(), "absent")
	})

	t.Run("factory failure", func(t *testing.T) {
		reg := registry.New()
		boom := errors.New("no instance for you")
		l := New(reg, WithFactory(plugin.FactoryFunc(func(plugin.Metadata) (any, error) {
			return nil, boom
		})))
		require.NoError(t, reg.RegisterPlugin(builtin("p1")))

		_, err := l.LoadPlugin(ctx, "p1")
		assert.ErrorIs(t, err, boom)
	})

	t.Run("incomplete surface fails load", func(t *testing.T) {
		reg := registry.New()
		l := New(reg, WithFactory(plugin.FactoryFunc(func(plugin.Metadata) (any, error) {
			return struct{}{}, nil // not a plugin.Instance
		})))
		require.NoError(t, reg.RegisterPlugin(builtin("p1")))

		_, err := l.LoadPlugin(ctx, "p1")
		require.Error(t, err)
		assert.True(t, plugin.IsSurfaceError(err))
	})
}

func TestLoader_ConcurrentLoadAndBundleRegistration(t *testing.T) {
	ctx := context.Background()
	reg := registry.New()
	l := New(reg)

	// Dependencies registered directly, bypassing discovery, so the
	// dependency check must consult the registry for each one while
	// bundle registrations are pushing through the loader-backed member
	// resolver from the other side.
	const depCount = 2000
	deps := make([]string, depCount)
	for i := range deps {
		deps[i] = fmt.Sprintf("dep-%04d", i)
		require.NoError(t, reg.RegisterPlugin(builtin(deps[i])))
	}
	require.NoError(t, reg.RegisterPlugin(builtin("top", deps...)))

	done := make(chan struct{})
	go func() {
		defer close(done)
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := l.LoadPlugin(ctx, "top")
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				// The member misses the registry, so every registration
				// falls through to the member resolver.
				_ = reg.RegisterBundle(plugin.BundleMetadata{
					ID:      fmt.Sprintf("b-%d", i),
					Name:    "B",
					Version: "1.0.0",
					Plugins: []string{"uncached-member"},
				})
			}
		}()
		wg.Wait()
	}()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("concurrent load and bundle registration never completed")
	}
	assert.Equal(t, 1, l.LoadedCount())
}

func TestLoader_UnloadPlugin(t *testing.T) {
	ctx := context.Background()
	reg := registry.New()
	l := New(reg, WithBuiltins([]plugin.Metadata{builtin("p1")}, nil))
	_, err := l.Discover(ctx)
	require.NoError(t, err)

	_, err = l.LoadPlugin(ctx, "p1")
	require.NoError(t, err)

	assert.True(t, l.UnloadPlugin(ctx, "p1"))
	assert.False(t, l.UnloadPlugin(ctx, "p1"))
	assert.Zero(t, l.LoadedCount())
}

// capturingPublisher records events for assertions.
type capturingPublisher struct {
	events []ports.Event
}

func (p *capturingPublisher) Publish(ev ports.Event) {
	p.events = append(p.events, ev)
}

func (p *capturingPublisher) byType(t ports.EventType) []ports.Event {
	var out []ports.Event
	for _, ev := range p.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}
