// Package capability provides the registry of named, schema-described
// operations the reasoning service may request.
package capability

import (
	"context"
	"fmt"
	"sync"
)

// Schema captures the subset of JSON Schema used for parameter declarations.
type Schema struct {
	Type       string         `json:"type"`
	Properties map[string]any `json:"properties,omitempty"`
	Required   []string       `json:"required,omitempty"`
}

// Definition describes one capability to the reasoning service.
type Definition struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Parameters  Schema `json:"parameters"`
}

// Handler executes a capability invocation. The returned text is wrapped
// into a tool message verbatim.
type Handler func(ctx context.Context, args map[string]any) (string, error)

// Capability pairs a definition with its handler.
type Capability struct {
	Definition Definition
	Handler    Handler
}

// Registry keeps the mapping between capability names and implementations.
type Registry struct {
	mu           sync.RWMutex
	capabilities map[string]Capability
	order        []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{capabilities: make(map[string]Capability)}
}

// Register inserts a capability when its name is not in use.
func (r *Registry) Register(c Capability) error {
	name := c.Definition.Name
	if name == "" {
		return fmt.Errorf("capability name is empty")
	}
	if c.Handler == nil {
		return fmt.Errorf("capability %s has no handler", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.capabilities[name]; exists {
		return fmt.Errorf("capability %s already registered", name)
	}
	r.capabilities[name] = c
	r.order = append(r.order, name)
	return nil
}

// Definitions returns all capability definitions in registration order.
func (r *Registry) Definitions() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]Definition, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, r.capabilities[name].Definition)
	}
	return defs
}

// Invoke runs the named capability against its handler.
func (r *Registry) Invoke(ctx context.Context, name string, args map[string]any) (string, error) {
	r.mu.RLock()
	c, exists := r.capabilities[name]
	r.mu.RUnlock()

	if !exists {
		return "", fmt.Errorf("capability %s not found", name)
	}
	return c.Handler(ctx, args)
}
