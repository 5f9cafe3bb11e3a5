// Package schema provides relationship graph analysis for circular dependency detection
package schema

import (
	"fmt"
	"sort"
	"strings"
)

// RelationshipGraph represents the dependency graph between resources
type RelationshipGraph struct {
	nodes map[string]*ResourceSchema
	edges map[string][]string // resource -> dependencies
}

// NewRelationshipGraph creates a new relationship graph
func NewRelationshipGraph(schemas map[string]*ResourceSchema) *RelationshipGraph {
	graph := &RelationshipGraph{
		nodes: schemas,
		edges: make(map[string][]string),
	}

	// A belongs_to relationship makes the resource depend on its target
	for _, name := range sortedNames(schemas) {
		schema := schemas[name]
		relNames := make([]string, 0, len(schema.Relationships))
		for relName := range schema.Relationships {
			relNames = append(relNames, relName)
		}
		sort.Strings(relNames)
		for _, relName := range relNames {
			rel := schema.Relationships[relName]
			if rel.Type == RelationshipBelongsTo && rel.TargetResource != name {
				graph.edges[name] = append(graph.edges[name], rel.TargetResource)
			}
		}
	}

	return graph
}

// DetectCycles detects circular dependencies in the relationship graph
func (g *RelationshipGraph) DetectCycles() [][]string {
	var cycles [][]string
	visited := make(map[string]bool)
	recursionStack := make(map[string]bool)

	var dfs func(node string, path []string)
	dfs = func(node string, path []string) {
		visited[node] = true
		recursionStack[node] = true
		path = append(path, node)

		for _, neighbor := range g.edges[node] {
			if !visited[neighbor] {
				dfs(neighbor, path)
			} else if recursionStack[neighbor] {
				for i, n := range path {
					if n == neighbor {
						cycle := make([]string, len(path)-i)
						copy(cycle, path[i:])
						cycles = append(cycles, cycle)
						break
					}
				}
			}
		}

		recursionStack[node] = false
	}

	for _, node := range sortedNames(g.nodes) {
		if !visited[node] {
			dfs(node, nil)
		}
	}

	return cycles
}

// TopologicalSort returns resources in dependency order (dependencies first)
func (g *RelationshipGraph) TopologicalSort() ([]string, error) {
	outDegree := make(map[string]int)
	for node := range g.nodes {
		outDegree[node] = len(g.edges[node])
	}

	reverseEdges := make(map[string][]string)
	for _, source := range sortedNames(g.nodes) {
		for _, target := range g.edges[source] {
			reverseEdges[target] = append(reverseEdges[target], source)
		}
	}

	queue := []string{}
	for _, node := range sortedNames(g.nodes) {
		if outDegree[node] == 0 {
			queue = append(queue, node)
		}
	}

	result := []string{}
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		result = append(result, node)

		for _, dependent := range reverseEdges[node] {
			outDegree[dependent]--
			if outDegree[dependent] == 0 {
				queue = append(queue, dependent)
			}
		}
	}

	if len(result) != len(g.nodes) {
		if cycles := g.DetectCycles(); len(cycles) > 0 {
			return nil, fmt.Errorf("circular dependency detected:\n%s", formatCycles(cycles))
		}
		return nil, fmt.Errorf("circular dependency detected")
	}

	return result, nil
}

// ValidateGraph checks relationship targets and belongs_to cycles
func (g *RelationshipGraph) ValidateGraph() error {
	for _, name := range sortedNames(g.nodes) {
		schema := g.nodes[name]
		for relName, rel := range schema.Relationships {
			if _, exists := g.nodes[rel.TargetResource]; !exists {
				return fmt.Errorf("resource %s references unknown resource %s in relationship %s",
					schema.Name, rel.TargetResource, relName)
			}
		}
	}

	if cycles := g.DetectCycles(); len(cycles) > 0 {
		return fmt.Errorf("circular dependencies detected:\n%s", formatCycles(cycles))
	}

	return nil
}

// formatCycles formats cycle information for error messages
func formatCycles(cycles [][]string) string {
	var b strings.Builder
	for i, cycle := range cycles {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(fmt.Sprintf("  Cycle %d: %s -> %s",
			i+1,
			strings.Join(cycle, " -> "),
			cycle[0]))
	}
	return b.String()
}

func sortedNames(schemas map[string]*ResourceSchema) []string {
	names := make([]string, 0, len(schemas))
	for name := range schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
