// Package schema provides a registry for managing resource schemas
package schema

import (
	"fmt"
	"sort"
	"sync"
)

// Registry manages all resource schemas in the application
type Registry struct {
	schemas map[string]*ResourceSchema
	mu      sync.RWMutex
}

// NewRegistry creates a new schema registry
func NewRegistry() *Registry {
	return &Registry{
		schemas: make(map[string]*ResourceSchema),
	}
}

// Register registers a new resource schema
func (r *Registry) Register(schema *ResourceSchema) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.schemas[schema.Name]; exists {
		return fmt.Errorf("resource %s is already registered", schema.Name)
	}

	// Relationship targets are checked in ValidateAll so that resources may
	// reference each other in any registration order
	if err := validateStructural(schema); err != nil {
		return fmt.Errorf("schema validation failed for %s: %w", schema.Name, err)
	}

	r.schemas[schema.Name] = schema
	return nil
}

// Get retrieves a resource schema by name
func (r *Registry) Get(name string) (*ResourceSchema, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	schema, exists := r.schemas[name]
	return schema, exists
}

// All returns a copy of all registered schemas
func (r *Registry) All() map[string]*ResourceSchema {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[string]*ResourceSchema, len(r.schemas))
	for k, v := range r.schemas {
		result[k] = v
	}
	return result
}

// List returns the sorted list of all resource names
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.schemas))
	for name := range r.schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ValidateAll checks cross-resource references and belongs_to cycles
func (r *Registry) ValidateAll() error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	graph := NewRelationshipGraph(r.schemas)
	return graph.ValidateGraph()
}

// GetDependencyOrder returns resources in dependency order (safe for table creation)
func (r *Registry) GetDependencyOrder() ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	graph := NewRelationshipGraph(r.schemas)
	return graph.TopologicalSort()
}

// Count returns the number of registered schemas
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.schemas)
}

// Exists checks if a resource schema exists
func (r *Registry) Exists(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.schemas[name]
	return exists
}

func validateStructural(schema *ResourceSchema) error {
	if schema.Name == "" {
		return fmt.Errorf("resource name is required")
	}
	if len(schema.Fields) == 0 {
		return fmt.Errorf("resource must declare at least one field")
	}
	for name, field := range schema.Fields {
		if field == nil || field.Type == nil {
			return fmt.Errorf("field %s has no type", name)
		}
	}
	for name, rel := range schema.Relationships {
		if rel.TargetResource == "" {
			return fmt.Errorf("relationship %s has no target resource", name)
		}
		if schema.HasField(name) {
			return fmt.Errorf("relationship %s shadows a field of the same name", name)
		}
	}
	return nil
}
