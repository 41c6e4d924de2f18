package plugin

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validMetadata() Metadata {
	return Metadata{
		ID:       "memory-core",
		Name:     "Memory Core",
		Version:  "1.0.0",
		Category: "memory",
		Type:     TypeCore,
	}
}

func TestValidateMetadata(t *testing.T) {
	t.Run("nil metadata", func(t *testing.T) {
		assert.ErrorIs(t, ValidateMetadata(nil), ErrNilMetadata)
	})

	t.Run("valid metadata", func(t *testing.T) {
		m := validMetadata()
		assert.NoError(t, ValidateMetadata(&m))
	})

	t.Run("missing required fields", func(t *testing.T) {
		m := Metadata{}
		err := ValidateMetadata(&m)
		require.Error(t, err)
		assert.True(t, IsValidationError(err))
		assert.Contains(t, err.Error(), "id is required")
		assert.Contains(t, err.Error(), "name is required")
		assert.Contains(t, err.Error(), "version is required")
	})

	t.Run("bad semver", func(t *testing.T) {
		m := validMetadata()
		m.Version = "not-a-version"
		err := ValidateMetadata(&m)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "semantic versioning")
	})

	t.Run("unknown type", func(t *testing.T) {
		m := validMetadata()
		m.Type = "mystery"
		assert.Error(t, ValidateMetadata(&m))
	})

	t.Run("self dependency", func(t *testing.T) {
		m := validMetadata()
		m.Dependencies = []string{"memory-core"}
		err := ValidateMetadata(&m)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "cannot depend on itself")
	})

	t.Run("unknown capability level", func(t *testing.T) {
		m := validMetadata()
		m.Security.Level = "root"
		assert.Error(t, ValidateMetadata(&m))
	})
}

func TestValidateBundle(t *testing.T) {
	t.Run("valid bundle", func(t *testing.T) {
		b := BundleMetadata{
			ID:      "memory-suite",
			Name:    "Memory Suite",
			Version: "1.0.0",
			Plugins: []string{"memory-core", "memory-short-term"},
		}
		assert.NoError(t, ValidateBundle(&b))
	})

	t.Run("empty member list", func(t *testing.T) {
		b := BundleMetadata{ID: "b", Name: "b", Version: "1.0.0"}
		err := ValidateBundle(&b)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "at least one member")
	})

	t.Run("unknown install mode", func(t *testing.T) {
		b := BundleMetadata{
			ID: "b", Name: "b", Version: "1.0.0",
			Plugins:     []string{"p1"},
			InstallMode: "eventually",
		}
		assert.Error(t, ValidateBundle(&b))
	})
}

func TestValidateSemver(t *testing.T) {
	assert.NoError(t, ValidateSemver("1.0.0"))
	assert.NoError(t, ValidateSemver("v2.3.4"))
	assert.NoError(t, ValidateSemver("1.0.0-beta.1"))
	assert.ErrorIs(t, ValidateSemver(""), ErrEmptyVersion)
	assert.Error(t, ValidateSemver("1.0"))
	assert.Error(t, ValidateSemver("abc"))
}

func TestMetadataClone(t *testing.T) {
	m := validMetadata()
	m.Dependencies = []string{"a"}
	m.Security.AllowedAPIs = []string{"storage.get"}

	clone := m.Clone()
	clone.Dependencies[0] = "b"
	clone.Security.AllowedAPIs[0] = "other"

	assert.Equal(t, "a", m.Dependencies[0])
	assert.Equal(t, "storage.get", m.Security.AllowedAPIs[0])
}

func TestResourceLimits_Timeout(t *testing.T) {
	limits := ResourceLimits{TimeoutMs: 1500}
	assert.Equal(t, "1.5s", limits.Timeout().String())
	assert.Zero(t, ResourceLimits{}.Timeout())
}
