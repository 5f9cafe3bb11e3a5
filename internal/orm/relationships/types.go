// Package relationships loads the related records of a result set in one
// batched query per relationship, for eager loading and prefetching.
package relationships

import (
	"context"
	"database/sql"
	"sync"

	"github.com/conduit-lang/prepared/internal/orm/schema"
	"go.uber.org/zap"
)

// Querier is an interface for executing SQL queries, allowing for testing and instrumentation
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

// Loader handles efficient relationship loading with N+1 prevention
type Loader struct {
	db      Querier
	schemas map[string]*schema.ResourceSchema
	logger  *zap.Logger
	mu      sync.RWMutex
}

// NewLoader creates a new relationship loader
func NewLoader(db Querier, schemas map[string]*schema.ResourceSchema) *Loader {
	return &Loader{
		db:      db,
		schemas: schemas,
		logger:  zap.NewNop(),
	}
}

// WithLogger sets the logger used to trace relation queries
func (l *Loader) WithLogger(logger *zap.Logger) *Loader {
	if logger != nil {
		l.logger = logger
	}
	return l
}

// getSchema safely retrieves a schema from the map (thread-safe)
func (l *Loader) getSchema(name string) (*schema.ResourceSchema, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	schema, ok := l.schemas[name]
	return schema, ok
}

// LoadContext tracks loading state to prevent circular references
type LoadContext struct {
	visited  map[string]bool
	depth    int
	maxDepth int
	mu       sync.RWMutex
}

// NewLoadContext creates a new load context with the given max depth
func NewLoadContext(maxDepth int) *LoadContext {
	return &LoadContext{
		visited:  make(map[string]bool),
		maxDepth: maxDepth,
	}
}

// MarkVisited marks a resource as visited. It returns false if it already was.
func (lc *LoadContext) MarkVisited(resourceKey string) bool {
	lc.mu.Lock()
	defer lc.mu.Unlock()

	if lc.visited[resourceKey] {
		return false
	}
	lc.visited[resourceKey] = true
	return true
}

// Unmark forgets a visited resource so sibling branches may load it again
func (lc *LoadContext) Unmark(resourceKey string) {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	delete(lc.visited, resourceKey)
}

// IncrementDepth increments the depth counter
func (lc *LoadContext) IncrementDepth() error {
	lc.mu.Lock()
	defer lc.mu.Unlock()

	lc.depth++
	if lc.depth > lc.maxDepth {
		return ErrMaxDepthExceeded
	}
	return nil
}

// DecrementDepth decrements the depth counter
func (lc *LoadContext) DecrementDepth() {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	lc.depth--
}
