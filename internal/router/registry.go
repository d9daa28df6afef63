package router

import (
	"os"
	"sort"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/modelmesh/internal/model"
)

// Registry owns the model descriptors. Mutation goes only through explicit
// register/enable/disable operations; names are unique.
type Registry struct {
	mu     sync.RWMutex
	models map[string]model.Model
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{models: make(map[string]model.Model)}
}

// Register adds or replaces a descriptor after validation.
func (r *Registry) Register(m model.Model) error {
	if err := m.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.models[m.Name] = m
	return nil
}

// SetEnabled flips a model's enabled flag.
func (r *Registry) SetEnabled(name string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.models[name]
	if !ok {
		return eris.Errorf("router: unknown model %q", name)
	}
	m.Enabled = enabled
	r.models[name] = m
	return nil
}

// Get looks up a descriptor by name.
func (r *Registry) Get(name string) (model.Model, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.models[name]
	return m, ok
}

// All returns every descriptor, sorted by name for stable output.
func (r *Registry) All() []model.Model {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.Model, 0, len(r.models))
	for _, m := range r.models {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Enabled returns the enabled descriptors, sorted by name.
func (r *Registry) Enabled() []model.Model {
	all := r.All()
	out := all[:0:0]
	for _, m := range all {
		if m.Enabled {
			out = append(out, m)
		}
	}
	return out
}

// registryDocument is the on-disk registry format.
type registryDocument struct {
	Models []model.Model `yaml:"models"`
}

// LoadFile replaces the registry contents from a YAML document. A missing
// file leaves the registry untouched.
func (r *Registry) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return eris.Wrapf(err, "router: read registry %s", path)
	}
	var doc registryDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return eris.Wrapf(err, "router: parse registry %s", path)
	}

	loaded := make(map[string]model.Model, len(doc.Models))
	for _, m := range doc.Models {
		if err := m.Validate(); err != nil {
			zap.L().Warn("router: skipping invalid registry entry", zap.Error(err))
			continue
		}
		loaded[m.Name] = m
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.models = loaded
	return nil
}

// SaveFile writes the registry to a YAML document.
func (r *Registry) SaveFile(path string) error {
	doc := registryDocument{Models: r.All()}
	data, err := yaml.Marshal(doc)
	if err != nil {
		return eris.Wrap(err, "router: marshal registry")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return eris.Wrapf(err, "router: write registry %s", path)
	}
	return nil
}
