// Package plugins provides a registry of named store and mirror backends.
package plugins

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"sort"

	"github.com/ArionMiles/masrouf/pkg/api"
)

// Store is an api.Store that owns resources.
type Store interface {
	api.Store
	Close() error
}

// StorePlugin opens a persistence backend for the ledger.
type StorePlugin interface {
	// Name returns the plugin name (e.g., "file", "postgres").
	Name() string
	// Description returns a human-readable description.
	Description() string
	// ConfigSchema returns a JSON schema describing the plugin's configuration.
	ConfigSchema() map[string]any
	// NewStore opens a store with the given config.
	NewStore(ctx context.Context, config json.RawMessage, logger *slog.Logger) (Store, error)
}

// MirrorPlugin creates a writer that receives every newly recorded expense.
type MirrorPlugin interface {
	// Name returns the plugin name (e.g., "sheets", "csv").
	Name() string
	// Description returns a human-readable description.
	Description() string
	// RequiredScopes returns the OAuth scopes needed by this plugin.
	RequiredScopes() []string
	// ConfigSchema returns a JSON schema describing the plugin's configuration.
	ConfigSchema() map[string]any
	// NewWriter creates a writer. httpClient is nil when no scopes are required.
	NewWriter(ctx context.Context, httpClient *http.Client, config json.RawMessage, logger *slog.Logger) (api.Writer, error)
}

// Registry manages available store and mirror plugins.
type Registry struct {
	stores  map[string]StorePlugin
	mirrors map[string]MirrorPlugin
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		stores:  make(map[string]StorePlugin),
		mirrors: make(map[string]MirrorPlugin),
	}
}

// Default returns a registry with every built-in plugin registered.
func Default() *Registry {
	r := NewRegistry()
	for _, p := range []StorePlugin{&FileStore{}, &SQLiteStore{}, &PostgresStore{}, &MemoryStore{}} {
		_ = r.RegisterStore(p)
	}
	for _, p := range []MirrorPlugin{&CSVMirror{}, &JSONLMirror{}, &SheetsMirror{}} {
		_ = r.RegisterMirror(p)
	}
	return r
}

// RegisterStore registers a store plugin.
func (r *Registry) RegisterStore(plugin StorePlugin) error {
	name := plugin.Name()
	if _, exists := r.stores[name]; exists {
		return fmt.Errorf("store plugin %q already registered", name)
	}
	r.stores[name] = plugin
	return nil
}

// RegisterMirror registers a mirror plugin.
func (r *Registry) RegisterMirror(plugin MirrorPlugin) error {
	name := plugin.Name()
	if _, exists := r.mirrors[name]; exists {
		return fmt.Errorf("mirror plugin %q already registered", name)
	}
	r.mirrors[name] = plugin
	return nil
}

// GetStore returns a store plugin by name.
func (r *Registry) GetStore(name string) (StorePlugin, error) {
	plugin, exists := r.stores[name]
	if !exists {
		return nil, fmt.Errorf("store plugin %q not found", name)
	}
	return plugin, nil
}

// GetMirror returns a mirror plugin by name.
func (r *Registry) GetMirror(name string) (MirrorPlugin, error) {
	plugin, exists := r.mirrors[name]
	if !exists {
		return nil, fmt.Errorf("mirror plugin %q not found", name)
	}
	return plugin, nil
}

// ListStores returns all store plugins sorted by name.
func (r *Registry) ListStores() []StorePlugin {
	plugins := make([]StorePlugin, 0, len(r.stores))
	for _, p := range r.stores {
		plugins = append(plugins, p)
	}
	sort.Slice(plugins, func(i, j int) bool { return plugins[i].Name() < plugins[j].Name() })
	return plugins
}

// ListMirrors returns all mirror plugins sorted by name.
func (r *Registry) ListMirrors() []MirrorPlugin {
	plugins := make([]MirrorPlugin, 0, len(r.mirrors))
	for _, p := range r.mirrors {
		plugins = append(plugins, p)
	}
	sort.Slice(plugins, func(i, j int) bool { return plugins[i].Name() < plugins[j].Name() })
	return plugins
}

// Scopes returns the deduplicated, sorted OAuth scopes of the named mirrors.
func (r *Registry) Scopes(mirrorNames ...string) ([]string, error) {
	var scopes []string
	for _, name := range mirrorNames {
		if name == "" {
			continue
		}
		m, err := r.GetMirror(name)
		if err != nil {
			return nil, err
		}
		scopes = append(scopes, m.RequiredScopes()...)
	}
	slices.Sort(scopes)
	return slices.Compact(scopes), nil
}

// OpenStore opens the named store.
func (r *Registry) OpenStore(ctx context.Context, name string, config json.RawMessage, logger *slog.Logger) (Store, error) {
	plugin, err := r.GetStore(name)
	if err != nil {
		return nil, err
	}
	return plugin.NewStore(ctx, config, logger)
}

// CreateMirror creates a writer from the named mirror plugin.
func (r *Registry) CreateMirror(ctx context.Context, name string, httpClient *http.Client, config json.RawMessage, logger *slog.Logger) (api.Writer, error) {
	plugin, err := r.GetMirror(name)
	if err != nil {
		return nil, err
	}
	return plugin.NewWriter(ctx, httpClient, config, logger)
}

// decode unmarshals raw into v; empty input leaves v untouched.
func decode(name string, raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("unmarshaling %s config: %w", name, err)
	}
	return nil
}
