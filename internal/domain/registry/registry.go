package registry

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/felixgeelhaar/pluginhost/internal/domain/plugin"
	"github.com/felixgeelhaar/pluginhost/internal/ports"
)

// Registry is the thread-safe catalog of plugins and bundles. It owns
// every entry's status and the dependency graph; mutation methods emit a
// structured event after the in-memory change so subscribers always
// observe committed state.
type Registry struct {
	mu      sync.RWMutex
	plugins map[string]*Entry
	bundles map[string]*Entry

	// forward maps a plugin id to its declared dependencies, reverse to
	// its dependents. Both derived from metadata at registration time.
	forward map[string][]string
	reverse map[string][]string

	// memberResolver answers whether a bundle member outside the catalog
	// can still be resolved (e.g. sitting in the loader's discovery
	// cache). Optional.
	memberResolver func(id string) bool

	pub    ports.Publisher
	logger ports.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithPublisher sets the event publisher.
func WithPublisher(pub ports.Publisher) Option {
	return func(r *Registry) {
		if pub != nil {
			r.pub = pub
		}
	}
}

// WithLogger sets the registry logger.
func WithLogger(logger ports.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// New creates an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		plugins: make(map[string]*Entry),
		bundles: make(map[string]*Entry),
		forward: make(map[string][]string),
		reverse: make(map[string][]string),
		pub:     ports.NopPublisher{},
		logger:  ports.NopLogger{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SetMemberResolver installs the fallback used to resolve bundle members
// that are not (yet) registered. The loader wires its discovery cache
// here.
func (r *Registry) SetMemberResolver(fn func(id string) bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.memberResolver = fn
}

// RegisterPlugin adds plugin metadata to the catalog with status
// uninstalled.
func (r *Registry) RegisterPlugin(meta plugin.Metadata) error {
	if err := plugin.ValidateMetadata(&meta); err != nil {
		return err
	}

	r.mu.Lock()
	if _, exists := r.plugins[meta.ID]; exists {
		r.mu.Unlock()
		return &ExistsError{ID: meta.ID}
	}

	now := time.Now()
	stored := meta.Clone()
	r.plugins[meta.ID] = &Entry{
		Kind:         KindPlugin,
		Plugin:       &stored,
		Status:       plugin.StatusUninstalled,
		RegisteredAt: now,
		UpdatedAt:    now,
	}

	deps := make([]string, len(meta.Dependencies))
	copy(deps, meta.Dependencies)
	r.forward[meta.ID] = deps
	for _, dep := range deps {
		r.reverse[dep] = append(r.reverse[dep], meta.ID)
	}
	r.mu.Unlock()

	r.logger.Debug(context.Background(), "plugin registered", ports.F("plugin", meta.ID))
	r.pub.Publish(ports.Event{
		Type:     ports.EventPluginRegistered,
		PluginID: meta.ID,
		Data:     map[string]interface{}{"version": meta.Version},
	})
	return nil
}

// RegisterBundle adds bundle metadata to the catalog. Every member id
// must be registered or resolvable through the member resolver.
func (r *Registry) RegisterBundle(bundle plugin.BundleMetadata) error {
	if err := plugin.ValidateBundle(&bundle); err != nil {
		return err
	}

	r.mu.Lock()
	if _, exists := r.bundles[bundle.ID]; exists {
		r.mu.Unlock()
		return &ExistsError{ID: bundle.ID}
	}

	var unknown []string
	for _, member := range bundle.Plugins {
		if _, ok := r.plugins[member]; ok {
			continue
		}
		if r.memberResolver != nil && r.memberResolver(member) {
			continue
		}
		unknown = append(unknown, member)
	}
	if len(unknown) > 0 {
		r.mu.Unlock()
		return &UnknownMemberError{BundleID: bundle.ID, Members: unknown}
	}

	now := time.Now()
	stored := bundle.Clone()
	r.bundles[bundle.ID] = &Entry{
		Kind:         KindBundle,
		Bundle:       &stored,
		Status:       plugin.StatusUninstalled,
		RegisteredAt: now,
		UpdatedAt:    now,
	}
	r.mu.Unlock()

	r.pub.Publish(ports.Event{
		Type:     ports.EventBundleRegistered,
		PluginID: bundle.ID,
		Data:     map[string]interface{}{"members": len(bundle.Plugins)},
	})
	return nil
}

// UnregisterPlugin removes a plugin from the catalog. It fails while the
// plugin still has registered dependents, preventing dangling references.
func (r *Registry) UnregisterPlugin(id string) error {
	r.mu.Lock()
	if _, ok := r.plugins[id]; !ok {
		r.mu.Unlock()
		return ErrNotFound
	}

	if dependents := r.dependentsLocked(id); len(dependents) > 0 {
		r.mu.Unlock()
		return &DependentsError{ID: id, Dependents: dependents}
	}

	for _, dep := range r.forward[id] {
		r.reverse[dep] = removeString(r.reverse[dep], id)
		if len(r.reverse[dep]) == 0 {
			delete(r.reverse, dep)
		}
	}
	delete(r.forward, id)
	delete(r.plugins, id)
	r.mu.Unlock()

	r.pub.Publish(ports.Event{Type: ports.EventPluginUnregistered, PluginID: id})
	return nil
}

// UnregisterBundle removes a bundle from the catalog. Member plugins are
// left registered.
func (r *Registry) UnregisterBundle(id string) error {
	r.mu.Lock()
	if _, ok := r.bundles[id]; !ok {
		r.mu.Unlock()
		return ErrNotFound
	}
	delete(r.bundles, id)
	r.mu.Unlock()

	r.pub.Publish(ports.Event{Type: ports.EventBundleUnregistered, PluginID: id})
	return nil
}

// UpdateStatus sets an entry's status unconditionally. A non-empty
// errMsg is appended to the entry's accumulated errors.
func (r *Registry) UpdateStatus(id string, status plugin.Status, errMsg string) error {
	return r.transition(id, nil, status, errMsg)
}

// TransitionStatus sets an entry's status only when the current status
// is one of allowedFrom, atomically. Lifecycle operations use this to
// refuse racing transitions on a shared entry.
func (r *Registry) TransitionStatus(id string, allowedFrom []plugin.Status, to plugin.Status, errMsg string) error {
	return r.transition(id, allowedFrom, to, errMsg)
}

func (r *Registry) transition(id string, allowedFrom []plugin.Status, to plugin.Status, errMsg string) error {
	r.mu.Lock()
	entry := r.entryLocked(id)
	if entry == nil {
		r.mu.Unlock()
		return ErrNotFound
	}

	from := entry.Status
	if allowedFrom != nil {
		permitted := false
		for _, s := range allowedFrom {
			if from == s {
				permitted = true
				break
			}
		}
		if !permitted {
			r.mu.Unlock()
			return &InvalidTransitionError{ID: id, From: from, To: to}
		}
	}

	entry.Status = to
	entry.UpdatedAt = time.Now()
	if errMsg != "" {
		entry.Errors = append(entry.Errors, Diagnostic{Message: errMsg, Time: entry.UpdatedAt})
	}
	r.mu.Unlock()

	r.pub.Publish(ports.Event{
		Type:     ports.EventStatusUpdated,
		PluginID: id,
		Data: map[string]interface{}{
			"from":  string(from),
			"to":    string(to),
			"error": errMsg,
		},
	})
	return nil
}

// Get returns a deep copy of a plugin entry.
func (r *Registry) Get(id string) (*Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.plugins[id]
	if !ok {
		return nil, false
	}
	return entry.Clone(), true
}

// GetBundle returns a deep copy of a bundle entry.
func (r *Registry) GetBundle(id string) (*Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.bundles[id]
	if !ok {
		return nil, false
	}
	return entry.Clone(), true
}

// StatusOf returns the current status of a plugin or bundle.
func (r *Registry) StatusOf(id string) (plugin.Status, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if entry := r.entryLocked(id); entry != nil {
		return entry.Status, true
	}
	return "", false
}

// List returns deep copies of all plugin entries sorted by id.
func (r *Registry) List() []*Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Entry, 0, len(r.plugins))
	for _, entry := range r.plugins {
		out = append(out, entry.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// ListBundles returns deep copies of all bundle entries sorted by id.
func (r *Registry) ListBundles() []*Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Entry, 0, len(r.bundles))
	for _, entry := range r.bundles {
		out = append(out, entry.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Count returns the number of registered plugins.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.plugins)
}

// RecordError appends an error diagnostic to an entry.
func (r *Registry) RecordError(id, msg string) error {
	return r.record(id, msg, true)
}

// RecordWarning appends a warning diagnostic to an entry.
func (r *Registry) RecordWarning(id, msg string) error {
	return r.record(id, msg, false)
}

func (r *Registry) record(id, msg string, isError bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry := r.entryLocked(id)
	if entry == nil {
		return ErrNotFound
	}
	diag := Diagnostic{Message: msg, Time: time.Now()}
	if isError {
		entry.Errors = append(entry.Errors, diag)
	} else {
		entry.Warnings = append(entry.Warnings, diag)
	}
	return nil
}

// IncrementDownloads bumps an entry's download counter.
func (r *Registry) IncrementDownloads(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry := r.entryLocked(id)
	if entry == nil {
		return ErrNotFound
	}
	entry.Downloads++
	return nil
}

// Rate records a star rating between 1 and 5.
func (r *Registry) Rate(id string, stars int) error {
	if stars < 1 || stars > 5 {
		return &plugin.ValidationError{Errors: []string{"rating must be between 1 and 5"}}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	entry := r.entryLocked(id)
	if entry == nil {
		return ErrNotFound
	}
	entry.RatingSum += stars
	entry.RatingCount++
	return nil
}

// entryLocked finds a plugin or bundle entry. Caller holds the lock.
func (r *Registry) entryLocked(id string) *Entry {
	if entry, ok := r.plugins[id]; ok {
		return entry
	}
	if entry, ok := r.bundles[id]; ok {
		return entry
	}
	return nil
}

func removeString(s []string, v string) []string {
	out := s[:0]
	for _, item := range s {
		if item != v {
			out = append(out, item)
		}
	}
	return out
}
