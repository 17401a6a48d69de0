// Package catalog loads the static provider/model capability catalog and
// resolves per-stage model selection against it.
package catalog

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Capability flags a model may declare in the catalog.
const (
	CapabilityStructuredOutput = "structured_output"
	CapabilityWebSearch        = "web_search"
)

// ModelDescriptor describes a single model offered by a provider.
type ModelDescriptor struct {
	Name         string   `yaml:"name" json:"name"`
	DisplayName  string   `yaml:"display_name" json:"display_name"`
	Capabilities []string `yaml:"capabilities" json:"capabilities"`
	Provider     string   `yaml:"-" json:"provider"`
}

// HasCapability reports whether the descriptor declares the given flag.
func (m ModelDescriptor) HasCapability(cap string) bool {
	for _, c := range m.Capabilities {
		if c == cap {
			return true
		}
	}
	return false
}

// ProviderProfile is one provider's entry in the catalog: an ordered list
// of model descriptors. Order matters; the first capable model is used when
// a stage default names only a provider.
type ProviderProfile struct {
	Name   string            `yaml:"name" json:"name"`
	Models []ModelDescriptor `yaml:"models" json:"models"`
}

// Catalog is the immutable provider/model capability catalog. It is loaded
// once at startup and never mutated afterwards.
type Catalog struct {
	providers []ProviderProfile
	byName    map[string]*ProviderProfile
}

type catalogFile struct {
	Providers []ProviderProfile `yaml:"providers"`
}

// default locations inside containers / local dev
var defaultPaths = []string{
	os.Getenv("MODELS_CONFIG_PATH"),
	"/app/config/models.yaml",
	"./config/models.yaml",
	"../../config/models.yaml",
}

// Load reads the catalog from path. If path is empty, the default search
// paths are tried, then parent directories are walked for config/models.yaml.
func Load(path string) (*Catalog, error) {
	paths := defaultPaths
	if path != "" {
		paths = []string{path}
	}
	for _, p := range paths {
		if p == "" {
			continue
		}
		data, err := os.ReadFile(p)
		if err != nil {
			continue
		}
		return Parse(data)
	}
	if p, ok := findUpConfig(); ok {
		data, err := os.ReadFile(p)
		if err == nil {
			return Parse(data)
		}
	}
	return nil, fmt.Errorf("model catalog not found (set MODELS_CONFIG_PATH or provide config/models.yaml)")
}

// Parse builds a Catalog from raw YAML.
func Parse(data []byte) (*Catalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("unmarshal model catalog: %w", err)
	}
	if len(f.Providers) == 0 {
		return nil, fmt.Errorf("model catalog declares no providers")
	}
	return New(f.Providers)
}

// New builds a Catalog from provider profiles, stamping each descriptor
// with its provider name.
func New(providers []ProviderProfile) (*Catalog, error) {
	c := &Catalog{byName: make(map[string]*ProviderProfile, len(providers))}
	for _, p := range providers {
		name := strings.ToLower(strings.TrimSpace(p.Name))
		if name == "" {
			return nil, fmt.Errorf("model catalog contains a provider with no name")
		}
		if _, dup := c.byName[name]; dup {
			return nil, fmt.Errorf("model catalog declares provider %q twice", name)
		}
		p.Name = name
		for i := range p.Models {
			p.Models[i].Provider = name
		}
		c.providers = append(c.providers, p)
		c.byName[name] = &c.providers[len(c.providers)-1]
	}
	return c, nil
}

// Providers returns the provider profiles in catalog order.
func (c *Catalog) Providers() []ProviderProfile {
	out := make([]ProviderProfile, len(c.providers))
	copy(out, c.providers)
	return out
}

// Provider returns the profile for the named provider.
func (c *Catalog) Provider(name string) (ProviderProfile, bool) {
	p, ok := c.byName[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return ProviderProfile{}, false
	}
	return *p, true
}

// Model returns the descriptor for provider/model.
func (c *Catalog) Model(provider, model string) (ModelDescriptor, bool) {
	p, ok := c.byName[strings.ToLower(strings.TrimSpace(provider))]
	if !ok {
		return ModelDescriptor{}, false
	}
	for _, m := range p.Models {
		if strings.EqualFold(m.Name, model) {
			return m, true
		}
	}
	return ModelDescriptor{}, false
}

// findUpConfig searches parent directories for config/models.yaml starting at CWD.
func findUpConfig() (string, bool) {
	wd, err := os.Getwd()
	if err != nil {
		return "", false
	}
	for i := 0; i < 6; i++ {
		cand := filepath.Join(wd, "config", "models.yaml")
		if _, err := os.Stat(cand); err == nil {
			return cand, true
		}
		wd = filepath.Dir(wd)
	}
	return "", false
}
