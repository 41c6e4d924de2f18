package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/pluginhost/internal/domain/plugin"
)

func TestLoad(t *testing.T) {
	t.Run("missing file yields defaults", func(t *testing.T) {
		cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
		require.NoError(t, err)
		assert.True(t, cfg.Sandbox)
		assert.Equal(t, plugin.DefaultLimits(), cfg.DefaultLimits)
		assert.Equal(t, 5*time.Second, cfg.MonitorInterval())
	})

	t.Run("empty path yields defaults", func(t *testing.T) {
		cfg, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, 64, cfg.EventBufferSize)
	})

	t.Run("file overrides defaults", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
searchPaths:
  - /opt/plugins
sandbox: false
monitorIntervalMs: 250
logging:
  level: debug
  json: true
`), 0o644))

		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, []string{"/opt/plugins"}, cfg.SearchPaths)
		assert.False(t, cfg.Sandbox)
		assert.Equal(t, 250*time.Millisecond, cfg.MonitorInterval())
		assert.Equal(t, "debug", cfg.Logging.Level)
		assert.True(t, cfg.Logging.JSON)
		// Unset sections keep their defaults.
		assert.Equal(t, plugin.DefaultLimits(), cfg.DefaultLimits)
	})

	t.Run("invalid yaml", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte("searchPaths: ["), 0o644))
		_, err := Load(path)
		assert.Error(t, err)
	})
}

func TestConfig_Validate(t *testing.T) {
	cfg := Default()
	assert.NoError(t, cfg.Validate())

	cfg.Logging.Level = "verbose"
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.SearchPaths = []string{""}
	assert.Error(t, cfg.Validate())
}
