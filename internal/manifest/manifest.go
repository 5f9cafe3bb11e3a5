// Package manifest reads resources and their computed properties from YAML
// and builds the schema and property registries they describe.
package manifest

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Manifest is the decoded form of a manifest file
type Manifest struct {
	Resources []Resource `yaml:"resources"`
}

// Resource declares one queryable resource
type Resource struct {
	Name          string                  `yaml:"name"`
	Table         string                  `yaml:"table"`
	Documentation string                  `yaml:"doc"`
	Fields        map[string]string       `yaml:"fields"`
	Relationships map[string]Relationship `yaml:"relationships"`
	Properties    []Property              `yaml:"properties"`
}

// Relationship declares a relation from a resource to its target
type Relationship struct {
	Type           string `yaml:"type"`
	Target         string `yaml:"target"`
	Nullable       bool   `yaml:"nullable"`
	ForeignKey     string `yaml:"foreign_key"`
	OrderBy        string `yaml:"order_by"`
	JoinTable      string `yaml:"join_table"`
	AssociationKey string `yaml:"association_key"`
}

// Property declares a computed property. Exactly one of Annotate and
// Prefetch is set. Annotate holds the raw expression node; Kind 0 means
// the key was absent.
type Property struct {
	Name      string        `yaml:"name"`
	Annotate  yaml.Node     `yaml:"annotate"`
	Prefetch  *PrefetchSpec `yaml:"prefetch"`
	DependsOn []string      `yaml:"depends_on"`
}

// PrefetchSpec names the relation a prefetched property loads and the
// conditions its records must meet
type PrefetchSpec struct {
	Relation string      `yaml:"relation"`
	Where    []Condition `yaml:"where"`
}

// Condition is a single "field op value" restriction
type Condition struct {
	Field string      `yaml:"field"`
	Op    string      `yaml:"op"`
	Value interface{} `yaml:"value"`
}

// Load reads and parses the manifest at path
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("manifest: %w", err)
	}
	return Parse(data)
}

// Parse decodes a manifest. Unknown keys are rejected.
func Parse(data []byte) (*Manifest, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var m Manifest
	if err := dec.Decode(&m); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("manifest: empty document")
		}
		return nil, fmt.Errorf("manifest: %w", err)
	}

	if err := m.validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// validate checks what can be checked without building anything
func (m *Manifest) validate() error {
	if len(m.Resources) == 0 {
		return fmt.Errorf("manifest: no resources declared")
	}

	seen := make(map[string]bool, len(m.Resources))
	for i, res := range m.Resources {
		if res.Name == "" {
			return fmt.Errorf("manifest: resource #%d has no name", i+1)
		}
		if seen[res.Name] {
			return fmt.Errorf("manifest: resource %s is declared twice", res.Name)
		}
		seen[res.Name] = true

		for j, prop := range res.Properties {
			if prop.Name == "" {
				return fmt.Errorf("manifest: %s: property #%d has no name", res.Name, j+1)
			}
			switch {
			case prop.Annotate.Kind == 0 && prop.Prefetch == nil:
				return fmt.Errorf("manifest: %s.%s: one of annotate or prefetch is required", res.Name, prop.Name)
			case prop.Annotate.Kind != 0 && prop.Prefetch != nil:
				return fmt.Errorf("manifest: %s.%s: annotate and prefetch are exclusive", res.Name, prop.Name)
			}
		}
	}
	return nil
}
