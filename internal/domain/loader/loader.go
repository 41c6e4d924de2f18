// Package loader discovers plugin and bundle manifests, validates them,
// and instantiates runnable plugin objects on demand.
package loader

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/felixgeelhaar/pluginhost/internal/domain/plugin"
	"github.com/felixgeelhaar/pluginhost/internal/domain/registry"
	"github.com/felixgeelhaar/pluginhost/internal/ports"
)

const (
	pluginManifestName = "plugin.yaml"
	bundleManifestName = "bundle.yaml"

	// maxManifestSize limits manifest file size to prevent memory
	// exhaustion (256KB).
	maxManifestSize int64 = 256 * 1024
)

// DiscoveryError records a manifest that failed to load.
type DiscoveryError struct {
	Path string
	Err  error
}

func (e *DiscoveryError) Error() string {
	return fmt.Sprintf("loading manifest at %s: %v", e.Path, e.Err)
}

func (e *DiscoveryError) Unwrap() error {
	return e.Err
}

// DiscoveryResult summarizes one discovery pass.
type DiscoveryResult struct {
	Plugins []plugin.Metadata
	Bundles []plugin.BundleMetadata
	// Discovered counts valid candidates, Invalid counts rejected ones.
	Discovered int
	Invalid    int
	Errors     []DiscoveryError
}

// LoadedPlugin is a runnable plugin instance bound to its metadata.
type LoadedPlugin struct {
	Metadata plugin.Metadata
	Instance plugin.Instance
	LoadedAt time.Time
}

// LoadResult is the outcome of LoadPlugin.
type LoadResult struct {
	Plugin *LoadedPlugin
	// AlreadyLoaded is true when an existing instance was returned.
	AlreadyLoaded bool
	Warnings      []string
}

// Loader discovers manifests and manages loaded instances.
type Loader struct {
	mu          sync.Mutex
	registry    *registry.Registry
	factory     plugin.InstanceFactory
	builtins    []plugin.Metadata
	bundles     []plugin.BundleMetadata
	searchPaths []string

	cache       map[string]plugin.Metadata
	bundleCache map[string]plugin.BundleMetadata
	loaded      map[string]*LoadedPlugin

	pub    ports.Publisher
	logger ports.Logger
}

// Option configures a Loader.
type Option func(*Loader)

// WithBuiltins sets the built-in manifest set merged into every
// discovery pass.
func WithBuiltins(plugins []plugin.Metadata, bundles []plugin.BundleMetadata) Option {
	return func(l *Loader) {
		l.builtins = plugins
		l.bundles = bundles
	}
}

// WithSearchPaths sets the discovery directories.
func WithSearchPaths(paths ...string) Option {
	return func(l *Loader) {
		l.searchPaths = paths
	}
}

// WithFactory sets the instance factory (default: mock instances).
func WithFactory(factory plugin.InstanceFactory) Option {
	return func(l *Loader) {
		if factory != nil {
			l.factory = factory
		}
	}
}

// WithPublisher sets the event publisher.
func WithPublisher(pub ports.Publisher) Option {
	return func(l *Loader) {
		if pub != nil {
			l.pub = pub
		}
	}
}

// WithLogger sets the loader logger.
func WithLogger(logger ports.Logger) Option {
	return func(l *Loader) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// New creates a loader bound to a registry. The loader installs itself
// as the registry's bundle-member resolver so bundles may reference
// discovered-but-unregistered plugins.
func New(reg *registry.Registry, opts ...Option) *Loader {
	l := &Loader{
		registry:    reg,
		factory:     plugin.MockFactory{},
		cache:       make(map[string]plugin.Metadata),
		bundleCache: make(map[string]plugin.BundleMetadata),
		loaded:      make(map[string]*LoadedPlugin),
		pub:         ports.NopPublisher{},
		logger:      ports.NopLogger{},
	}
	for _, opt := range opts {
		opt(l)
	}
	if reg != nil {
		reg.SetMemberResolver(l.InCache)
	}
	return l
}

// InCache reports whether a plugin id is in the discovery cache.
func (l *Loader) InCache(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.cache[id]
	return ok
}

// Discover merges the built-in manifest set with manifests found under
// the configured search paths, validates each candidate, registers the
// valid ones, and counts the rest.
func (l *Loader) Discover(ctx context.Context) (*DiscoveryResult, error) {
	result := &DiscoveryResult{}

	for _, meta := range l.builtins {
		l.acceptPlugin(meta, "builtin:"+meta.ID, result)
	}
	for _, bundle := range l.bundles {
		l.acceptBundle(bundle, "builtin:"+bundle.ID, result)
	}

	for _, searchPath := range l.searchPaths {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		l.discoverInPath(searchPath, result)
	}

	// Bundles register last so their members are already in the catalog
	// or at least in the cache.
	for _, bundle := range result.Bundles {
		if l.registry == nil {
			continue
		}
		if err := l.registry.RegisterBundle(bundle); err != nil && !registry.IsExists(err) {
			result.Errors = append(result.Errors, DiscoveryError{Path: bundle.ID, Err: err})
		}
	}

	l.logger.Info(ctx, "discovery complete",
		ports.F("plugins", len(result.Plugins)),
		ports.F("bundles", len(result.Bundles)),
		ports.F("invalid", result.Invalid))
	return result, nil
}

func (l *Loader) discoverInPath(searchPath string, result *DiscoveryResult) {
	entries, err := os.ReadDir(searchPath)
	if err != nil {
		if !os.IsNotExist(err) {
			result.Errors = append(result.Errors, DiscoveryError{Path: searchPath, Err: err})
		}
		return
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(searchPath, entry.Name())

		if meta, err := readManifest[plugin.Metadata](filepath.Join(dir, pluginManifestName)); err == nil {
			l.acceptPlugin(*meta, dir, result)
			continue
		} else if !os.IsNotExist(err) {
			result.Invalid++
			result.Errors = append(result.Errors, DiscoveryError{Path: dir, Err: err})
			continue
		}

		if bundle, err := readManifest[plugin.BundleMetadata](filepath.Join(dir, bundleManifestName)); err == nil {
			l.acceptBundle(*bundle, dir, result)
		} else if !os.IsNotExist(err) {
			result.Invalid++
			result.Errors = append(result.Errors, DiscoveryError{Path: dir, Err: err})
		}
	}
}

func (l *Loader) acceptPlugin(meta plugin.Metadata, origin string, result *DiscoveryResult) {
	if err := plugin.ValidateMetadata(&meta); err != nil {
		result.Invalid++
		result.Errors = append(result.Errors, DiscoveryError{Path: origin, Err: err})
		return
	}

	l.mu.Lock()
	l.cache[meta.ID] = meta.Clone()
	l.mu.Unlock()

	result.Plugins = append(result.Plugins, meta)
	result.Discovered++

	if l.registry != nil {
		if err := l.registry.RegisterPlugin(meta); err != nil && !registry.IsExists(err) {
			result.Errors = append(result.Errors, DiscoveryError{Path: origin, Err: err})
		}
	}
}

func (l *Loader) acceptBundle(bundle plugin.BundleMetadata, origin string, result *DiscoveryResult) {
	if err := plugin.ValidateBundle(&bundle); err != nil {
		result.Invalid++
		result.Errors = append(result.Errors, DiscoveryError{Path: origin, Err: err})
		return
	}

	l.mu.Lock()
	l.bundleCache[bundle.ID] = bundle.Clone()
	l.mu.Unlock()

	result.Bundles = append(result.Bundles, bundle)
	result.Discovered++
}

// LoadPlugin instantiates a registered plugin. Loading is idempotent: a
// second call returns the existing instance with a warning instead of a
// new instance, and plugin-loaded is emitted exactly once.
func (l *Loader) LoadPlugin(ctx context.Context, id string) (*LoadResult, error) {
	l.mu.Lock()
	if existing, ok := l.loaded[id]; ok {
		l.mu.Unlock()
		l.warnAlreadyLoaded(ctx, id)
		return &LoadResult{
			Plugin:        existing,
			AlreadyLoaded: true,
			Warnings:      []string{fmt.Sprintf("plugin %q is already loaded", id)},
		}, nil
	}
	l.mu.Unlock()

	entry, ok := l.registry.Get(id)
	if !ok {
		return nil, registry.ErrNotFound
	}
	meta := *entry.Plugin

	// Every declared dependency must be loaded already or at least
	// discoverable; a gap fails the load with the offending ids.
	// Loader-local membership is snapshotted first and the registry
	// consulted with no loader lock held: the registry's bundle-member
	// resolver takes l.mu under registry.mu, so calling into the
	// registry while holding l.mu would invert the lock order.
	l.mu.Lock()
	known := make(map[string]bool, len(meta.Dependencies))
	for _, dep := range meta.Dependencies {
		_, loaded := l.loaded[dep]
		_, cached := l.cache[dep]
		known[dep] = loaded || cached
	}
	l.mu.Unlock()

	var missing []string
	for _, dep := range meta.Dependencies {
		if known[dep] {
			continue
		}
		if _, registered := l.registry.Get(dep); registered {
			continue
		}
		missing = append(missing, dep)
	}
	if len(missing) > 0 {
		return nil, &plugin.MissingDependencyError{PluginID: id, Missing: missing}
	}

	obj, err := l.factory.New(meta)
	if err != nil {
		return nil, fmt.Errorf("instantiating plugin %q: %w", id, err)
	}
	instance, ok := obj.(plugin.Instance)
	if !ok {
		return nil, &plugin.SurfaceError{
			PluginID: id,
			Reason:   "missing one or more required operations (initialize, execute, cleanup, state, health, metrics)",
		}
	}

	loadedPlugin := &LoadedPlugin{
		Metadata: meta,
		Instance: instance,
		LoadedAt: time.Now(),
	}

	l.mu.Lock()
	if raced, ok := l.loaded[id]; ok {
		// Another caller finished first; keep theirs.
		l.mu.Unlock()
		return &LoadResult{
			Plugin:        raced,
			AlreadyLoaded: true,
			Warnings:      []string{fmt.Sprintf("plugin %q is already loaded", id)},
		}, nil
	}
	l.loaded[id] = loadedPlugin
	l.mu.Unlock()

	l.logger.Debug(ctx, "plugin loaded", ports.F("plugin", id))
	l.pub.Publish(ports.Event{Type: ports.EventPluginLoaded, PluginID: id})
	return &LoadResult{Plugin: loadedPlugin}, nil
}

func (l *Loader) warnAlreadyLoaded(ctx context.Context, id string) {
	l.logger.Warn(ctx, "plugin already loaded", ports.F("plugin", id))
	if l.registry != nil {
		_ = l.registry.RecordWarning(id, "loadPlugin called on an already-loaded plugin")
	}
}

// UnloadPlugin removes a loaded instance, invoking its cleanup. Returns
// false when the plugin was not loaded.
func (l *Loader) UnloadPlugin(ctx context.Context, id string) bool {
	l.mu.Lock()
	loadedPlugin, ok := l.loaded[id]
	if ok {
		delete(l.loaded, id)
	}
	l.mu.Unlock()

	if !ok {
		return false
	}
	if err := loadedPlugin.Instance.Cleanup(ctx); err != nil {
		l.logger.Warn(ctx, "plugin cleanup failed", ports.F("plugin", id), ports.Err(err))
		if l.registry != nil {
			_ = l.registry.RecordWarning(id, fmt.Sprintf("cleanup failed: %v", err))
		}
	}
	l.pub.Publish(ports.Event{Type: ports.EventPluginUnloaded, PluginID: id})
	return true
}

// Loaded returns the loaded instance for id, if any.
func (l *Loader) Loaded(id string) (*LoadedPlugin, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.loaded[id]
	return p, ok
}

// LoadedCount returns the number of loaded instances.
func (l *Loader) LoadedCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.loaded)
}

// CachedBundle returns a discovered bundle manifest by id.
func (l *Loader) CachedBundle(id string) (plugin.BundleMetadata, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.bundleCache[id]
	return b, ok
}

// readManifest reads and parses one yaml manifest with a size limit.
func readManifest[T any](path string) (*T, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.Size() > maxManifestSize {
		return nil, fmt.Errorf("manifest size %d exceeds limit of %d bytes", info.Size(), maxManifestSize)
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = file.Close() }()

	data, err := io.ReadAll(io.LimitReader(file, maxManifestSize))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	var out T
	if err := yaml.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return &out, nil
}
