package sandbox

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNoContext is returned when an operation references a plugin
	// without a live execution context.
	ErrNoContext = errors.New("no execution context for plugin")

	// ErrContextExists is returned when creating a context for a plugin
	// that already has one.
	ErrContextExists = errors.New("execution context already exists")

	// ErrManagerClosed is returned after the manager has been shut down.
	ErrManagerClosed = errors.New("sandbox manager is closed")

	// ErrModuleUnavailable is returned when a WASM-backed plugin has no
	// loadable module.
	ErrModuleUnavailable = errors.New("wasm module unavailable")
)

// TimeoutError is returned when an execution exceeds its configured
// timeout. The body's result is discarded.
type TimeoutError struct {
	PluginID string
	Limit    time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("plugin %q execution exceeded timeout of %s", e.PluginID, e.Limit)
}

// IsTimeout reports whether err is a TimeoutError.
func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}
