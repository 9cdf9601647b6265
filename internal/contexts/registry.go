package contexts

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultContextName is the context that always exists and receives
// operations when auto-detection is off and nothing is selected.
const DefaultContextName = "default"

// registryFileName is the durable registration file under the root
// path. Its format is a contract other tooling may read.
const registryFileName = "contexts.yaml"

// ContextConfig is one context's persisted configuration.
type ContextConfig struct {
	// Path is the context's data directory, relative to the root path.
	Path        string   `yaml:"path" json:"path"`
	Patterns    []string `yaml:"patterns,omitempty" json:"patterns,omitempty"`
	EntityTypes []string `yaml:"entityTypes,omitempty" json:"entityTypes,omitempty"`
	Description string   `yaml:"description,omitempty" json:"description,omitempty"`
}

// Registry is the durable source of truth for context registration
// across restarts.
type Registry struct {
	DefaultContext string                    `yaml:"defaultContext"`
	AutoDetect     bool                      `yaml:"autoDetect"`
	Contexts       map[string]*ContextConfig `yaml:"contexts"`
}

// NewRegistry returns a registry holding only the default context.
func NewRegistry() *Registry {
	return &Registry{
		DefaultContext: DefaultContextName,
		AutoDetect:     true,
		Contexts: map[string]*ContextConfig{
			DefaultContextName: {
				Path:        DefaultContextName,
				Description: "Default context (auto-created)",
			},
		},
	}
}

// LoadRegistry reads the registry from rootPath. A missing file is not
// an error: a fresh registry with the default context is returned so
// first startup needs no provisioning step.
func LoadRegistry(rootPath string) (*Registry, error) {
	path := filepath.Join(rootPath, registryFileName)

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return NewRegistry(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read context registry: %w", err)
	}

	var reg Registry
	if err := yaml.Unmarshal(data, &reg); err != nil {
		return nil, fmt.Errorf("parse context registry: %w", err)
	}

	if reg.Contexts == nil {
		reg.Contexts = make(map[string]*ContextConfig)
	}
	if reg.DefaultContext == "" {
		reg.DefaultContext = DefaultContextName
	}
	if _, ok := reg.Contexts[reg.DefaultContext]; !ok {
		reg.Contexts[reg.DefaultContext] = &ContextConfig{
			Path:        reg.DefaultContext,
			Description: "Default context (auto-created)",
		}
	}

	return &reg, nil
}

// Save writes the registry to rootPath.
func (r *Registry) Save(rootPath string) error {
	data, err := yaml.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal context registry: %w", err)
	}

	path := filepath.Join(rootPath, registryFileName)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write context registry: %w", err)
	}
	return nil
}
