package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
)

// HandlerFunc serves one method. The returned value is marshalled as the
// reply's result; a nil value becomes JSON null.
type HandlerFunc func(ctx context.Context, params json.RawMessage) (any, error)

// Method binds a name to its handler.
type Method struct {
	Name    string
	Handler HandlerFunc
}

// Registry is an immutable method table.
type Registry struct {
	methods map[string]HandlerFunc
}

// NewRegistry builds a registry. Empty or duplicate names are rejected.
func NewRegistry(methods ...Method) (*Registry, error) {
	r := &Registry{methods: make(map[string]HandlerFunc, len(methods))}
	for _, m := range methods {
		if m.Name == "" {
			return nil, fmt.Errorf("method name must not be empty")
		}
		if m.Handler == nil {
			return nil, fmt.Errorf("method %q has no handler", m.Name)
		}
		if _, exists := r.methods[m.Name]; exists {
			return nil, fmt.Errorf("method %q registered twice", m.Name)
		}
		r.methods[m.Name] = m.Handler
	}
	return r, nil
}

// Lookup returns the handler for name.
func (r *Registry) Lookup(name string) (HandlerFunc, bool) {
	h, ok := r.methods[name]
	return h, ok
}

// Names returns the registered method names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.methods))
	for name := range r.methods {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
