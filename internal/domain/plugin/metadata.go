// Package plugin defines the metadata model for plugins and bundles and
// the runtime surface a loaded plugin instance must expose.
package plugin

import (
	"time"

	"golang.org/x/mod/semver"
)

// Type classifies how a plugin participates in the runtime.
type Type string

const (
	// TypeCore is a plugin the system itself depends on.
	TypeCore Type = "core"
	// TypeIndividual is a standalone plugin.
	TypeIndividual Type = "individual"
	// TypeBundled is a plugin that ships as part of a bundle.
	TypeBundled Type = "bundled"
)

// Status is the lifecycle status of a registry entry.
type Status string

const (
	// StatusUninstalled means the plugin is known but not installed.
	StatusUninstalled Status = "uninstalled"
	// StatusInstalled means the plugin is installed but not enabled.
	StatusInstalled Status = "installed"
	// StatusEnabled means the plugin is installed and active.
	StatusEnabled Status = "enabled"
	// StatusDisabled means the plugin was enabled and has been switched off.
	StatusDisabled Status = "disabled"
	// StatusError means the last lifecycle operation on the plugin failed.
	StatusError Status = "error"
)

// CapabilityLevel is the coarse trust tier granted to a plugin.
type CapabilityLevel string

const (
	// LevelMinimal grants no capabilities beyond execution.
	LevelMinimal CapabilityLevel = "minimal"
	// LevelStandard grants the declared API and origin allow-lists.
	LevelStandard CapabilityLevel = "standard"
	// LevelElevated grants relaxed resource limits in addition.
	LevelElevated CapabilityLevel = "elevated"
)

// ResourceLimits bounds a plugin's resource consumption. A zero value
// for any limit means that limit is not enforced.
type ResourceLimits struct {
	MaxMemoryMB        int `yaml:"maxMemoryMB,omitempty"`
	MaxCPUPercent      int `yaml:"maxCPUPercent,omitempty"`
	TimeoutMs          int `yaml:"timeoutMs,omitempty"`
	MaxNetworkRequests int `yaml:"maxNetworkRequests,omitempty"`
	MaxFileOps         int `yaml:"maxFileOps,omitempty"`
}

// Timeout returns the execution timeout as a duration, or zero when
// unbounded.
func (r ResourceLimits) Timeout() time.Duration {
	return time.Duration(r.TimeoutMs) * time.Millisecond
}

// DefaultLimits returns the limits applied when a manifest declares none.
func DefaultLimits() ResourceLimits {
	return ResourceLimits{
		MaxMemoryMB:        64,
		MaxCPUPercent:      50,
		TimeoutMs:          30_000,
		MaxNetworkRequests: 100,
		MaxFileOps:         500,
	}
}

// Security describes the capability and resource profile of a plugin.
// It is copied into the sandbox context at context creation; later
// metadata changes do not affect a running context.
type Security struct {
	Level CapabilityLevel `yaml:"level,omitempty"`
	// AllowedAPIs is the allow-list of host API names the plugin may call.
	AllowedAPIs []string `yaml:"allowedAPIs,omitempty"`
	// TrustedOrigins is the allow-list of network origins.
	TrustedOrigins []string `yaml:"trustedOrigins,omitempty"`
	// BlockedPaths is the file-path denylist.
	BlockedPaths []string `yaml:"blockedPaths,omitempty"`
	Limits       ResourceLimits `yaml:"limits,omitempty"`
}

// Clone creates a deep copy of the Security descriptor.
func (s Security) Clone() Security {
	clone := Security{Level: s.Level, Limits: s.Limits}
	if s.AllowedAPIs != nil {
		clone.AllowedAPIs = make([]string, len(s.AllowedAPIs))
		copy(clone.AllowedAPIs, s.AllowedAPIs)
	}
	if s.TrustedOrigins != nil {
		clone.TrustedOrigins = make([]string, len(s.TrustedOrigins))
		copy(clone.TrustedOrigins, s.TrustedOrigins)
	}
	if s.BlockedPaths != nil {
		clone.BlockedPaths = make([]string, len(s.BlockedPaths))
		copy(clone.BlockedPaths, s.BlockedPaths)
	}
	return clone
}

// Metadata describes a plugin. Immutable once registered; a new version
// requires re-registration.
type Metadata struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Description string `yaml:"description,omitempty"`
	Category    string `yaml:"category,omitempty"`
	Type        Type   `yaml:"type,omitempty"`
	// Dependencies is the set of plugin ids this plugin requires.
	Dependencies []string `yaml:"dependencies,omitempty"`
	Security     Security `yaml:"security,omitempty"`
	// BundleID links a bundled plugin back to its bundle.
	BundleID string `yaml:"bundleId,omitempty"`
	// WASMModule is the path to a WASM module for sandbox-native plugins.
	WASMModule string `yaml:"wasmModule,omitempty"`
}

// Clone creates a deep copy of the Metadata.
func (m Metadata) Clone() Metadata {
	clone := m
	if m.Dependencies != nil {
		clone.Dependencies = make([]string, len(m.Dependencies))
		copy(clone.Dependencies, m.Dependencies)
	}
	clone.Security = m.Security.Clone()
	return clone
}

// InstallMode determines how a bundle's members are installed.
type InstallMode string

const (
	// InstallAtomic aborts the bundle install on the first member failure.
	InstallAtomic InstallMode = "atomic"
	// InstallIncremental continues past member failures, reporting them.
	InstallIncremental InstallMode = "incremental"
)

// BundleMetadata describes a named group of plugins installed and
// enabled together.
type BundleMetadata struct {
	ID          string      `yaml:"id"`
	Name        string      `yaml:"name"`
	Version     string      `yaml:"version"`
	Description string      `yaml:"description,omitempty"`
	InstallMode InstallMode `yaml:"installMode,omitempty"`
	// Plugins lists member plugin ids. Must be non-empty and every id
	// must resolve in the registry or the discovery cache.
	Plugins []string `yaml:"plugins"`
	// Dependencies lists other bundles this bundle requires.
	Dependencies []string `yaml:"dependencies,omitempty"`
}

// Clone creates a deep copy of the BundleMetadata.
func (b BundleMetadata) Clone() BundleMetadata {
	clone := b
	if b.Plugins != nil {
		clone.Plugins = make([]string, len(b.Plugins))
		copy(clone.Plugins, b.Plugins)
	}
	if b.Dependencies != nil {
		clone.Dependencies = make([]string, len(b.Dependencies))
		copy(clone.Dependencies, b.Dependencies)
	}
	return clone
}

// ValidateMetadata checks that plugin metadata is well formed.
func ValidateMetadata(m *Metadata) error {
	if m == nil {
		return ErrNilMetadata
	}
	ve := &ValidationError{}

	if m.ID == "" {
		ve.Add("id is required")
	}
	if m.Name == "" {
		ve.Add("name is required")
	}
	if m.Version == "" {
		ve.Add("version is required")
	} else if err := ValidateSemver(m.Version); err != nil {
		ve.Addf("version %q is not valid semantic versioning", m.Version)
	}

	switch m.Type {
	case TypeCore, TypeIndividual, TypeBundled, "":
	default:
		ve.Addf("unknown plugin type %q (use core, individual, or bundled)", m.Type)
	}

	for _, dep := range m.Dependencies {
		if dep == m.ID && m.ID != "" {
			ve.Addf("plugin %q cannot depend on itself", m.ID)
		}
		if dep == "" {
			ve.Add("dependencies must not contain empty ids")
		}
	}

	switch m.Security.Level {
	case LevelMinimal, LevelStandard, LevelElevated, "":
	default:
		ve.Addf("unknown capability level %q", m.Security.Level)
	}

	if ve.HasErrors() {
		return ve
	}
	return nil
}

// ValidateBundle checks that bundle metadata is well formed. Member
// resolution against the registry happens at registration time, not here.
func ValidateBundle(b *BundleMetadata) error {
	if b == nil {
		return ErrNilMetadata
	}
	ve := &ValidationError{}

	if b.ID == "" {
		ve.Add("id is required")
	}
	if b.Name == "" {
		ve.Add("name is required")
	}
	if b.Version == "" {
		ve.Add("version is required")
	} else if err := ValidateSemver(b.Version); err != nil {
		ve.Addf("version %q is not valid semantic versioning", b.Version)
	}
	if len(b.Plugins) == 0 {
		ve.Add("bundle must list at least one member plugin")
	}
	for _, id := range b.Plugins {
		if id == "" {
			ve.Add("member plugin ids must not be empty")
		}
	}

	switch b.InstallMode {
	case InstallAtomic, InstallIncremental, "":
	default:
		ve.Addf("unknown install mode %q (use atomic or incremental)", b.InstallMode)
	}

	if ve.HasErrors() {
		return ve
	}
	return nil
}

// ValidateSemver checks if a version string is valid semantic versioning.
// A leading 'v' is accepted and stripped.
func ValidateSemver(version string) error {
	if version == "" {
		return ErrEmptyVersion
	}
	v := version
	if v[0] != 'v' {
		v = "v" + v
	}
	if !semver.IsValid(v) {
		return &InvalidVersionError{Version: version}
	}
	return nil
}
