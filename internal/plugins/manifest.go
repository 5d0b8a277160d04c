// Package plugins loads plugin manifests and drives the hook registry:
// activation resolves a manifest's handler references against the
// plugin's handler library and registers them; deactivation atomically
// removes every registration the plugin contributed.
//
// Packaging, installation and asset bundling happen elsewhere; this
// package consumes the manifest a packaged plugin ships as opaque
// configuration.
package plugins

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/forumkit/pluginhost/internal/config"
)

// ManifestFile is the manifest filename inside each plugin directory.
const ManifestFile = "plugin.yaml"

// HookBinding binds one named handler from the plugin's library to a hook.
type HookBinding struct {
	Hook     string `yaml:"hook"`     // Hook name, e.g. "filter:post.save"
	Handler  string `yaml:"handler"`  // Handler name inside the plugin's library
	Priority *int   `yaml:"priority"` // Optional; lower runs earlier
}

// Manifest describes one plugin. Asset, template and language paths are
// carried as opaque strings for the host's static layers.
type Manifest struct {
	ID        string        `yaml:"id"`
	Name      string        `yaml:"name"`
	Version   string        `yaml:"version"`
	Hooks     []HookBinding `yaml:"hooks"`
	Assets    []string      `yaml:"assets"`
	Templates string        `yaml:"templates"`
	Languages string        `yaml:"languages"`
}

// LoadManifest reads and validates a manifest file. The YAML supports the
// same ${VAR:-default} environment expansion as the host configuration.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest '%s': %w", path, err)
	}

	expanded := config.ExpandEnv(string(data))

	var m Manifest
	if err := yaml.Unmarshal([]byte(expanded), &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest '%s': %w", path, err)
	}

	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("invalid manifest '%s': %w", path, err)
	}
	return &m, nil
}

// Validate checks the manifest's required fields.
func (m *Manifest) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("plugin id is required")
	}
	for i, b := range m.Hooks {
		if b.Hook == "" {
			return fmt.Errorf("hooks[%d]: hook name is required", i)
		}
		if b.Handler == "" {
			return fmt.Errorf("hooks[%d]: handler name is required", i)
		}
	}
	return nil
}
