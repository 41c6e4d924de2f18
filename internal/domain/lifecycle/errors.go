package lifecycle

import (
	"errors"
	"fmt"

	"github.com/felixgeelhaar/pluginhost/internal/domain/plugin"
)

var (
	// ErrNotEnabled is returned when execution is requested for a plugin
	// that is not in the enabled state.
	ErrNotEnabled = errors.New("plugin is not enabled")

	// ErrNotLoaded is returned when a plugin has no loaded instance.
	ErrNotLoaded = errors.New("plugin instance is not loaded")
)

// StateError reports a lifecycle verb applied to a plugin in an
// incompatible state.
type StateError struct {
	PluginID string
	Status   plugin.Status
	Verb     Kind
}

func (e *StateError) Error() string {
	return fmt.Sprintf("cannot %s plugin %q in status %q", e.Verb, e.PluginID, e.Status)
}

// IsStateError reports whether err is a StateError.
func IsStateError(err error) bool {
	var se *StateError
	return errors.As(err, &se)
}

// BundleError aggregates per-member failures from a bundle operation.
// Members that succeeded before a failure stay in their new state; there
// is no automatic rollback.
type BundleError struct {
	BundleID string
	Verb     Kind
	// Failed maps member plugin id to its failure.
	Failed map[string]error
}

func (e *BundleError) Error() string {
	return fmt.Sprintf("bundle %q %s failed for %d member(s)", e.BundleID, e.Verb, len(e.Failed))
}

// IsBundleError reports whether err is a BundleError.
func IsBundleError(err error) bool {
	var be *BundleError
	return errors.As(err, &be)
}
