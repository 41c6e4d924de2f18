package plugin

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for programmatic error handling.
var (
	// ErrNilMetadata indicates nil metadata was provided.
	ErrNilMetadata = errors.New("metadata cannot be nil")
	// ErrEmptyVersion indicates an empty version string.
	ErrEmptyVersion = errors.New("version cannot be empty")
	// ErrNotFound indicates the requested plugin or bundle is unknown.
	ErrNotFound = errors.New("plugin not found")
)

// ValidationError collects multiple validation failures.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	if len(e.Errors) == 1 {
		return e.Errors[0]
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(e.Errors, "; "))
}

// Add adds an error message to the collection.
func (e *ValidationError) Add(msg string) {
	e.Errors = append(e.Errors, msg)
}

// Addf adds a formatted error message to the collection.
func (e *ValidationError) Addf(format string, args ...any) {
	e.Errors = append(e.Errors, fmt.Sprintf(format, args...))
}

// HasErrors returns true if there are validation errors.
func (e *ValidationError) HasErrors() bool {
	return len(e.Errors) > 0
}

// IsValidationError returns true if the error is a validation error.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// InvalidVersionError indicates a version string is not valid semver.
type InvalidVersionError struct {
	Version string
}

func (e *InvalidVersionError) Error() string {
	return fmt.Sprintf("invalid semantic version: %s", e.Version)
}

// MissingDependencyError indicates one or more declared dependencies
// could not be resolved.
type MissingDependencyError struct {
	PluginID string
	Missing  []string
}

func (e *MissingDependencyError) Error() string {
	return fmt.Sprintf("plugin %q has missing dependencies: %s",
		e.PluginID, strings.Join(e.Missing, ", "))
}

// IsMissingDependency returns true if the error reports unresolved
// dependencies.
func IsMissingDependency(err error) bool {
	var depErr *MissingDependencyError
	return errors.As(err, &depErr)
}

// CircularDependencyError indicates a dependency cycle was detected.
type CircularDependencyError struct {
	Cycle []string
}

func (e *CircularDependencyError) Error() string {
	return fmt.Sprintf("circular dependency detected: %s", strings.Join(e.Cycle, " -> "))
}

// IsCircularDependency returns true if the error is a dependency cycle.
func IsCircularDependency(err error) bool {
	var cycErr *CircularDependencyError
	return errors.As(err, &cycErr)
}

// SurfaceError indicates a loaded instance does not expose the required
// operation set.
type SurfaceError struct {
	PluginID string
	Reason   string
}

func (e *SurfaceError) Error() string {
	return fmt.Sprintf("plugin %q instance is incomplete: %s", e.PluginID, e.Reason)
}

// IsSurfaceError returns true if the error is an instance surface failure.
func IsSurfaceError(err error) bool {
	var se *SurfaceError
	return errors.As(err, &se)
}
