package registry

import (
	"errors"
	"fmt"
	"strings"

	"github.com/felixgeelhaar/pluginhost/internal/domain/plugin"
)

// Sentinel errors for programmatic error handling.
var (
	// ErrNotFound indicates the requested entry is not registered.
	ErrNotFound = errors.New("entry not found")
	// ErrEmptyID indicates an entry id was empty.
	ErrEmptyID = errors.New("entry id cannot be empty")
)

// ExistsError indicates an entry with the same id is already registered.
type ExistsError struct {
	ID string
}

func (e *ExistsError) Error() string {
	return fmt.Sprintf("entry %q already registered", e.ID)
}

// IsExists returns true if the error indicates a duplicate registration.
func IsExists(err error) bool {
	var existsErr *ExistsError
	return errors.As(err, &existsErr)
}

// DependentsError indicates an entry cannot be removed because other
// plugins still depend on it.
type DependentsError struct {
	ID         string
	Dependents []string
}

func (e *DependentsError) Error() string {
	return fmt.Sprintf("plugin %q has dependents: %s",
		e.ID, strings.Join(e.Dependents, ", "))
}

// IsDependents returns true if the error indicates live dependents.
func IsDependents(err error) bool {
	var depErr *DependentsError
	return errors.As(err, &depErr)
}

// UnknownMemberError indicates a bundle lists a member plugin that
// neither the registry nor the discovery cache can resolve.
type UnknownMemberError struct {
	BundleID string
	Members  []string
}

func (e *UnknownMemberError) Error() string {
	return fmt.Sprintf("bundle %q references unknown plugins: %s",
		e.BundleID, strings.Join(e.Members, ", "))
}

// IsUnknownMember returns true if the error reports unresolvable bundle
// members.
func IsUnknownMember(err error) bool {
	var memberErr *UnknownMemberError
	return errors.As(err, &memberErr)
}

// InvalidTransitionError indicates a status change was attempted from a
// state the transition does not allow.
type InvalidTransitionError struct {
	ID   string
	From plugin.Status
	To   plugin.Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("plugin %q cannot transition from %q to %q", e.ID, e.From, e.To)
}

// IsInvalidTransition returns true if the error is a refused status
// transition.
func IsInvalidTransition(err error) bool {
	var trErr *InvalidTransitionError
	return errors.As(err, &trErr)
}
