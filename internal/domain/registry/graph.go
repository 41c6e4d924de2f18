package registry

import (
	"sort"

	"github.com/felixgeelhaar/pluginhost/internal/domain/plugin"
)

// newCycleError builds the dependency-cycle error shared with the
// plugin package's error predicates.
func newCycleError(cycle []string) error {
	return &plugin.CircularDependencyError{Cycle: cycle}
}

// Resolution is the result of resolving a plugin's transitive
// dependencies. A non-empty Missing list blocks installation.
type Resolution struct {
	// Resolved holds every reachable dependency registered in the
	// catalog, each id once even across diamond edges.
	Resolved []string
	// Missing holds reachable ids absent from the catalog.
	Missing []string
}

// HasMissing returns true when resolution found unregistered ids.
func (r *Resolution) HasMissing() bool {
	return len(r.Missing) > 0
}

// ResolveDependencies walks the dependency graph depth-first from id and
// partitions every reachable dependency into resolved and missing.
func (r *Registry) ResolveDependencies(id string) (*Resolution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, ok := r.plugins[id]; !ok {
		return nil, ErrNotFound
	}

	res := &Resolution{
		Resolved: make([]string, 0),
		Missing:  make([]string, 0),
	}
	visited := map[string]bool{id: true}

	var visit func(node string)
	visit = func(node string) {
		for _, dep := range r.forward[node] {
			if visited[dep] {
				continue
			}
			visited[dep] = true
			if _, ok := r.plugins[dep]; !ok {
				res.Missing = append(res.Missing, dep)
				continue
			}
			res.Resolved = append(res.Resolved, dep)
			visit(dep)
		}
	}
	visit(id)

	sort.Strings(res.Resolved)
	sort.Strings(res.Missing)
	return res, nil
}

// HasCircularDependency reports whether a dependency cycle is reachable
// from id. Cycles are detected with an explicit recursion stack and are
// never auto-resolved.
func (r *Registry) HasCircularDependency(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	visited := make(map[string]bool)
	onStack := make(map[string]bool)

	var visit func(node string) bool
	visit = func(node string) bool {
		if onStack[node] {
			return true
		}
		if visited[node] {
			return false
		}
		visited[node] = true
		onStack[node] = true
		for _, dep := range r.forward[node] {
			if visit(dep) {
				return true
			}
		}
		onStack[node] = false
		return false
	}
	return visit(id)
}

// Dependents returns the direct dependents of a plugin, sorted.
func (r *Registry) Dependents(id string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.dependentsLocked(id)
}

// dependentsLocked returns direct dependents. Caller holds the lock.
func (r *Registry) dependentsLocked(id string) []string {
	deps := r.reverse[id]
	if len(deps) == 0 {
		return nil
	}
	out := make([]string, len(deps))
	copy(out, deps)
	sort.Strings(out)
	return out
}

// EnabledDependents returns the dependents of id whose current status is
// enabled, transitively through enabled chains. Used by disable cascades.
func (r *Registry) EnabledDependents(id string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]bool)
	var out []string
	var visit func(node string)
	visit = func(node string) {
		for _, dependent := range r.reverse[node] {
			if seen[dependent] {
				continue
			}
			seen[dependent] = true
			if entry, ok := r.plugins[dependent]; ok && entry.Status == plugin.StatusEnabled {
				out = append(out, dependent)
				visit(dependent)
			}
		}
	}
	visit(id)
	sort.Strings(out)
	return out
}

// InstallationOrder emits the requested ids and every dependency
// reachable from them in post-order, so a node's prerequisites always
// precede it. A reachable cycle is a hard error.
func (r *Registry) InstallationOrder(ids []string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	// State: 0 = unvisited, 1 = visiting, 2 = done.
	state := make(map[string]int)
	order := make([]string, 0, len(ids))
	var path []string

	var visit func(node string) error
	visit = func(node string) error {
		switch state[node] {
		case 1:
			cycleStart := 0
			for i, n := range path {
				if n == node {
					cycleStart = i
					break
				}
			}
			cycle := make([]string, len(path[cycleStart:])+1)
			copy(cycle, path[cycleStart:])
			cycle[len(cycle)-1] = node
			return newCycleError(cycle)
		case 2:
			return nil
		}

		state[node] = 1
		path = append(path, node)
		for _, dep := range r.forward[node] {
			if _, ok := r.plugins[dep]; !ok {
				// Missing ids are reported by ResolveDependencies; the
				// ordering pass just skips them.
				continue
			}
			if err := visit(dep); err != nil {
				return err
			}
		}
		state[node] = 2
		path = path[:len(path)-1]
		order = append(order, node)
		return nil
	}

	for _, id := range ids {
		if _, ok := r.plugins[id]; !ok {
			return nil, ErrNotFound
		}
		if err := visit(id); err != nil {
			return nil, err
		}
	}
	return order, nil
}
