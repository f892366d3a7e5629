package source

import (
	"github.com/rotisserie/eris"

	"github.com/sells-group/city-explorer/internal/catalog"
)

// Registry maps county source names to their catalog entries.
type Registry struct {
	sources map[string]catalog.CountySource
	order   []string // catalog order for deterministic iteration
}

// NewRegistry indexes the county sources of cat.
func NewRegistry(cat *catalog.Catalog) *Registry {
	r := &Registry{sources: make(map[string]catalog.CountySource)}
	for _, s := range cat.Counties {
		r.Register(s)
	}
	return r
}

// Register adds a source, replacing any earlier one of the same name.
func (r *Registry) Register(s catalog.CountySource) {
	if _, exists := r.sources[s.Name]; !exists {
		r.order = append(r.order, s.Name)
	}
	r.sources[s.Name] = s
}

// Get returns a source by name.
func (r *Registry) Get(name string) (catalog.CountySource, error) {
	s, ok := r.sources[name]
	if !ok {
		return catalog.CountySource{}, eris.Errorf("source: unknown county source %q", name)
	}
	return s, nil
}

// All returns every source in catalog order.
func (r *Registry) All() []catalog.CountySource {
	out := make([]catalog.CountySource, len(r.order))
	for i, name := range r.order {
		out[i] = r.sources[name]
	}
	return out
}

// Select returns the named sources in catalog order, or all of them when
// names is empty.
func (r *Registry) Select(names []string) ([]catalog.CountySource, error) {
	if len(names) == 0 {
		return r.All(), nil
	}
	want := make(map[string]bool, len(names))
	for _, n := range names {
		if _, ok := r.sources[n]; !ok {
			return nil, eris.Errorf("source: unknown county source %q", n)
		}
		want[n] = true
	}
	var out []catalog.CountySource
	for _, name := range r.order {
		if want[name] {
			out = append(out, r.sources[name])
		}
	}
	return out, nil
}

// Names returns the source names in catalog order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}
