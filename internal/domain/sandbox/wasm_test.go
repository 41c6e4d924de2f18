package sandbox

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/pluginhost/internal/domain/plugin"
)

func TestWASMFactory(t *testing.T) {
	t.Run("falls back for plugins without a module", func(t *testing.T) {
		factory := &WASMFactory{}
		obj, err := factory.New(secureMeta("p1", plugin.Security{}))
		require.NoError(t, err)
		_, ok := obj.(*plugin.MockInstance)
		assert.True(t, ok)
	})

	t.Run("module without runtime fails", func(t *testing.T) {
		meta := secureMeta("p1", plugin.Security{})
		meta.WASMModule = "plugin.wasm"
		factory := &WASMFactory{}
		_, err := factory.New(meta)
		assert.ErrorIs(t, err, ErrModuleUnavailable)
	})

	t.Run("module with runtime yields a wasm instance", func(t *testing.T) {
		meta := secureMeta("p1", plugin.Security{})
		meta.WASMModule = "plugin.wasm"
		factory := &WASMFactory{Runtime: &WASMRuntime{}}
		obj, err := factory.New(meta)
		require.NoError(t, err)
		instance, ok := obj.(*WASMInstance)
		require.True(t, ok)

		// Not initialized: no compiled module yet.
		_, err = instance.Execute(context.Background(), nil)
		assert.Error(t, err)
		assert.Equal(t, plugin.HealthUnknown, instance.Health().State)
	})
}
