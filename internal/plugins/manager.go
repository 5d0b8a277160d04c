package plugins

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/forumkit/pluginhost/internal/hooks"
)

// Library is a plugin's handler table: manifest handler names mapped to
// capability-typed handler values (hooks.FilterFunc, hooks.ActionFunc or
// hooks.StaticFunc). The embedding application links each plugin package
// and provides its library before activation.
type Library map[string]any

// Status describes one known plugin for the host's listing API.
type Status struct {
	ID      string `json:"id"`
	Name    string `json:"name,omitempty"`
	Version string `json:"version,omitempty"`
	Active  bool   `json:"active"`
	Hooks   int    `json:"hooks"`
}

// Resources aggregates an active plugin's static declarations. The host
// only carries these; it does not parse or bundle them.
type Resources struct {
	Assets    []string `json:"assets,omitempty"`
	Templates string   `json:"templates,omitempty"`
	Languages string   `json:"languages,omitempty"`
}

// Manager owns plugin activation lifecycle. Activation loads the plugin's
// manifest from <dir>/<id>/plugin.yaml, resolves every hook binding
// against the plugin's library, and registers the handlers; any failure
// rolls the plugin's registrations back so activation is all-or-nothing.
type Manager struct {
	mu        sync.Mutex
	registry  *hooks.Registry
	state     *StateStore // optional; nil disables persistence
	dir       string
	libraries map[string]Library
	active    map[string]*Manifest
}

// NewManager creates a manager over registry, loading manifests from dir.
func NewManager(registry *hooks.Registry, state *StateStore, dir string) *Manager {
	return &Manager{
		registry:  registry,
		state:     state,
		dir:       dir,
		libraries: make(map[string]Library),
		active:    make(map[string]*Manifest),
	}
}

// Provide registers a plugin's handler library under its id. Must happen
// before the plugin can be activated.
func (m *Manager) Provide(id string, lib Library) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.libraries[id] = lib
}

// Activate loads the plugin's manifest and registers its handlers.
// Idempotent for an already-active plugin.
func (m *Manager) Activate(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activateLocked(ctx, id)
}

func (m *Manager) activateLocked(ctx context.Context, id string) error {
	if _, ok := m.active[id]; ok {
		return nil
	}

	manifest, err := LoadManifest(filepath.Join(m.dir, id, ManifestFile))
	if err != nil {
		return err
	}
	if manifest.ID != id {
		return fmt.Errorf("manifest id %q does not match plugin directory %q", manifest.ID, id)
	}

	lib, ok := m.libraries[id]
	if !ok {
		return fmt.Errorf("no handler library provided for plugin %s", id)
	}

	m.registry.SetActive(id, true)
	for _, binding := range manifest.Hooks {
		handler, ok := lib[binding.Handler]
		if !ok {
			m.registry.UnregisterPlugin(id)
			return fmt.Errorf("plugin %s: handler %q not found in library", id, binding.Handler)
		}
		priority := hooks.DefaultPriority
		if binding.Priority != nil {
			priority = *binding.Priority
		}
		if err := m.registry.Register(binding.Hook, id, handler, priority); err != nil {
			m.registry.UnregisterPlugin(id)
			return fmt.Errorf("plugin %s: hook %s: %w", id, binding.Hook, err)
		}
	}

	m.active[id] = manifest
	m.persist(ctx, id, true)

	log.Info().Str("plugin", id).Str("version", manifest.Version).
		Int("hooks", len(manifest.Hooks)).Msg("plugin activated")
	return nil
}

// Deactivate removes every registration the plugin contributed. The
// inactive mark lands before the removal so a firing already holding a
// snapshot skips the plugin's handlers.
func (m *Manager) Deactivate(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deactivateLocked(ctx, id)
}

func (m *Manager) deactivateLocked(ctx context.Context, id string) error {
	if _, ok := m.active[id]; !ok {
		return nil
	}

	m.registry.SetActive(id, false)
	m.registry.UnregisterPlugin(id)
	delete(m.active, id)
	m.persist(ctx, id, false)

	log.Info().Str("plugin", id).Msg("plugin deactivated")
	return nil
}

// Reload re-activates an active plugin from its current manifest. Used by
// the manifest watcher; a no-op for inactive plugins.
func (m *Manager) Reload(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.active[id]; !ok {
		return nil
	}
	if err := m.deactivateLocked(ctx, id); err != nil {
		return err
	}
	return m.activateLocked(ctx, id)
}

// Restore activates every plugin the state store recorded as active.
// Plugins whose library is missing are skipped with a warning.
func (m *Manager) Restore(ctx context.Context) error {
	if m.state == nil {
		return nil
	}
	ids, err := m.state.ActivePlugins(ctx)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		if _, ok := m.libraries[id]; !ok {
			log.Warn().Str("plugin", id).Msg("cannot restore plugin: no handler library linked")
			continue
		}
		if err := m.activateLocked(ctx, id); err != nil {
			log.Error().Err(err).Str("plugin", id).Msg("failed to restore plugin")
		}
	}
	return nil
}

// Active reports whether the plugin is currently active.
func (m *Manager) Active(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.active[id]
	return ok
}

// Plugins lists every provided plugin, sorted by id.
func (m *Manager) Plugins() []Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Status, 0, len(m.libraries))
	for id := range m.libraries {
		st := Status{ID: id}
		if manifest, ok := m.active[id]; ok {
			st.Active = true
			st.Name = manifest.Name
			st.Version = manifest.Version
			st.Hooks = len(manifest.Hooks)
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// StaticResources aggregates the static declarations of active plugins.
func (m *Manager) StaticResources() map[string]Resources {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]Resources, len(m.active))
	for id, manifest := range m.active {
		out[id] = Resources{
			Assets:    manifest.Assets,
			Templates: manifest.Templates,
			Languages: manifest.Languages,
		}
	}
	return out
}

// persist records activation state, logging rather than failing the
// lifecycle operation when persistence is unavailable.
func (m *Manager) persist(ctx context.Context, id string, active bool) {
	if m.state == nil {
		return
	}
	if err := m.state.SetActive(ctx, id, active); err != nil {
		log.Error().Err(err).Str("plugin", id).Msg("failed to persist plugin state")
	}
}
