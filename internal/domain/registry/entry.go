// Package registry is the authoritative catalog of plugin and bundle
// metadata, their lifecycle status, and the dependency graph derived
// from them.
package registry

import (
	"time"

	"github.com/felixgeelhaar/pluginhost/internal/domain/plugin"
)

// Kind distinguishes plugin entries from bundle entries.
type Kind string

const (
	// KindPlugin marks an entry describing a single plugin.
	KindPlugin Kind = "plugin"
	// KindBundle marks an entry describing a bundle.
	KindBundle Kind = "bundle"
)

// Diagnostic is an error or warning accumulated on an entry.
type Diagnostic struct {
	Message string
	Time    time.Time
}

// Entry wraps registered metadata with its mutable runtime bookkeeping.
// Entries are owned by the Registry; readers always receive a deep copy
// and every status change flows through Registry methods.
type Entry struct {
	Kind   Kind
	Plugin *plugin.Metadata
	Bundle *plugin.BundleMetadata

	Status       plugin.Status
	RegisteredAt time.Time
	UpdatedAt    time.Time

	Errors   []Diagnostic
	Warnings []Diagnostic

	// Usage counters, informational only.
	Downloads   int
	RatingSum   int
	RatingCount int
}

// ID returns the entry's identifier.
func (e *Entry) ID() string {
	if e.Kind == KindBundle && e.Bundle != nil {
		return e.Bundle.ID
	}
	if e.Plugin != nil {
		return e.Plugin.ID
	}
	return ""
}

// Name returns the entry's display name.
func (e *Entry) Name() string {
	if e.Kind == KindBundle && e.Bundle != nil {
		return e.Bundle.Name
	}
	if e.Plugin != nil {
		return e.Plugin.Name
	}
	return ""
}

// Rating returns the mean star rating, or zero with no ratings.
func (e *Entry) Rating() float64 {
	if e.RatingCount == 0 {
		return 0
	}
	return float64(e.RatingSum) / float64(e.RatingCount)
}

// Clone creates a deep copy of the entry.
func (e *Entry) Clone() *Entry {
	if e == nil {
		return nil
	}
	clone := &Entry{
		Kind:         e.Kind,
		Status:       e.Status,
		RegisteredAt: e.RegisteredAt,
		UpdatedAt:    e.UpdatedAt,
		Downloads:    e.Downloads,
		RatingSum:    e.RatingSum,
		RatingCount:  e.RatingCount,
	}
	if e.Plugin != nil {
		meta := e.Plugin.Clone()
		clone.Plugin = &meta
	}
	if e.Bundle != nil {
		bundle := e.Bundle.Clone()
		clone.Bundle = &bundle
	}
	if e.Errors != nil {
		clone.Errors = make([]Diagnostic, len(e.Errors))
		copy(clone.Errors, e.Errors)
	}
	if e.Warnings != nil {
		clone.Warnings = make([]Diagnostic, len(e.Warnings))
		copy(clone.Warnings, e.Warnings)
	}
	return clone
}
