package store

import "sort"

// Registry holds the schemas of all known document types, keyed by kind tag.
type Registry struct {
	schemas []Schema
	byKind  map[string]Schema
}

// NewRegistry creates a new empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		schemas: []Schema{},
		byKind:  make(map[string]Schema),
	}
}

// Register adds a schema to the registry. A later registration for the same
// kind replaces the earlier one.
func (r *Registry) Register(s Schema) error {
	if err := s.Validate(); err != nil {
		return err
	}
	if _, ok := r.byKind[s.Kind()]; !ok {
		r.schemas = append(r.schemas, s)
	} else {
		for i := range r.schemas {
			if r.schemas[i].Kind() == s.Kind() {
				r.schemas[i] = s
			}
		}
	}
	r.byKind[s.Kind()] = s
	return nil
}

// Lookup returns the schema registered for kind.
func (r *Registry) Lookup(kind string) (Schema, bool) {
	s, ok := r.byKind[kind]
	return s, ok
}

// Kinds returns the registered kind tags in sorted order.
func (r *Registry) Kinds() []string {
	kinds := make([]string, 0, len(r.byKind))
	for k := range r.byKind {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// AllSchemas returns all registered schemas in registration order.
func (r *Registry) AllSchemas() []Schema {
	return r.schemas
}
