package catalog

import (
	"errors"
	"fmt"
	"strings"
)

// Pipeline stages that resolve models through the registry.
const (
	StageQueryGeneration = "query_generation"
	StageWebResearch     = "web_research"
	StageReflection      = "reflection"
	StageSynthesis       = "synthesis"
)

// ErrProviderUnavailable means the requested or default provider/model pair
// is missing from the catalog or lacks the stage's required capability. It
// is fatal: a run must fail before any model call is made.
var ErrProviderUnavailable = errors.New("provider unavailable")

// requiredCapabilities maps each stage to the capability its model must
// declare. Query generation and reflection parse structured JSON out of the
// model; web research needs a search-grounded model.
var requiredCapabilities = map[string]string{
	StageQueryGeneration: CapabilityStructuredOutput,
	StageWebResearch:     CapabilityWebSearch,
	StageReflection:      CapabilityStructuredOutput,
}

// StageDefault names the fallback provider/model for a stage.
type StageDefault struct {
	Provider string
	Model    string
}

// Registry resolves (stage, requested provider, requested model) to a
// concrete ModelDescriptor. It is read-only after construction.
type Registry struct {
	catalog  *Catalog
	defaults map[string]StageDefault
}

// NewRegistry builds a registry over the catalog with per-stage defaults.
// Every stage default is validated eagerly so misconfiguration surfaces at
// startup, not mid-run.
func NewRegistry(c *Catalog, defaults map[string]StageDefault) (*Registry, error) {
	if c == nil {
		return nil, fmt.Errorf("registry requires a catalog")
	}
	r := &Registry{catalog: c, defaults: make(map[string]StageDefault, len(defaults))}
	for stage, d := range defaults {
		r.defaults[stage] = d
		if _, err := r.resolveDefault(stage); err != nil {
			return nil, fmt.Errorf("invalid default for stage %s: %w", stage, err)
		}
	}
	return r, nil
}

// Resolve returns the model to use for a stage. A requested provider/model
// pair wins if it exists and satisfies the stage's required capability;
// otherwise the configured stage default is used. If the default itself is
// missing or incapable, ErrProviderUnavailable is returned.
func (r *Registry) Resolve(stage, provider, model string) (ModelDescriptor, error) {
	if provider != "" || model != "" {
		if d, ok := r.lookup(stage, provider, model); ok {
			return d, nil
		}
		// Requested pair unusable: fall back to the stage default.
	}
	return r.resolveDefault(stage)
}

func (r *Registry) resolveDefault(stage string) (ModelDescriptor, error) {
	d, ok := r.defaults[stage]
	if !ok {
		return ModelDescriptor{}, fmt.Errorf("%w: no default configured for stage %s", ErrProviderUnavailable, stage)
	}
	if desc, ok := r.lookup(stage, d.Provider, d.Model); ok {
		return desc, nil
	}
	return ModelDescriptor{}, fmt.Errorf("%w: default %s/%s for stage %s missing or lacks %q",
		ErrProviderUnavailable, d.Provider, d.Model, stage, requiredCapabilities[stage])
}

// lookup finds a capable descriptor for the pair. When model is empty the
// provider's first capable model is chosen.
func (r *Registry) lookup(stage, provider, model string) (ModelDescriptor, bool) {
	required := requiredCapabilities[stage]
	if model != "" {
		if provider != "" {
			desc, ok := r.catalog.Model(provider, model)
			if ok && capable(desc, required) {
				return desc, true
			}
			return ModelDescriptor{}, false
		}
		// Model named without a provider: search all providers.
		for _, p := range r.catalog.Providers() {
			for _, m := range p.Models {
				if strings.EqualFold(m.Name, model) && capable(m, required) {
					return m, true
				}
			}
		}
		return ModelDescriptor{}, false
	}
	p, ok := r.catalog.Provider(provider)
	if !ok {
		return ModelDescriptor{}, false
	}
	for _, m := range p.Models {
		if capable(m, required) {
			return m, true
		}
	}
	return ModelDescriptor{}, false
}

func capable(m ModelDescriptor, required string) bool {
	return required == "" || m.HasCapability(required)
}
