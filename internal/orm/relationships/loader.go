package relationships

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/conduit-lang/prepared/internal/orm/query"
	"github.com/conduit-lang/prepared/internal/orm/schema"
)

// DefaultMaxDepth bounds nested includes such as "author.posts.comments"
const DefaultMaxDepth = 10

// EagerLoad loads relationships for a set of records in batched queries.
// Each relationship is stored on the records under its own name.
func (l *Loader) EagerLoad(
	ctx context.Context,
	records []map[string]interface{},
	resource *schema.ResourceSchema,
	includes []string,
) error {
	if len(records) == 0 {
		return nil
	}

	return l.EagerLoadWithContext(ctx, records, resource, includes, NewLoadContext(DefaultMaxDepth))
}

// EagerLoadWithContext loads relationships with circular reference prevention
func (l *Loader) EagerLoadWithContext(
	ctx context.Context,
	records []map[string]interface{},
	resource *schema.ResourceSchema,
	includes []string,
	loadCtx *LoadContext,
) error {
	if len(records) == 0 {
		return nil
	}

	if err := loadCtx.IncrementDepth(); err != nil {
		return err
	}
	defer loadCtx.DecrementDepth()

	// A resource already being loaded on the current path is skipped, so
	// Post -> Author -> Post stops instead of recursing forever
	resourceKey := resource.Name
	if !loadCtx.MarkVisited(resourceKey) {
		return nil
	}
	defer loadCtx.Unmark(resourceKey)

	for _, include := range includes {
		relation, nestedIncludes := parseInclude(include)

		rel, ok := resource.Relationships[relation]
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownRelationship, relation)
		}

		if err := l.loadRelation(ctx, records, resource, rel, relation, nil); err != nil {
			return fmt.Errorf("failed to load relationship %s: %w", relation, err)
		}

		if len(nestedIncludes) > 0 {
			targetSchema, ok := l.getSchema(rel.TargetResource)
			if !ok {
				return fmt.Errorf("%w: %s", ErrUnknownResource, rel.TargetResource)
			}

			nestedRecords := extractNestedRecords(records, rel, relation)
			if len(nestedRecords) > 0 {
				if err := l.EagerLoadWithContext(ctx, nestedRecords, targetSchema, nestedIncludes, loadCtx); err != nil {
					return err
				}
			}
		}
	}

	return nil
}

// Prefetch loads the relation named by p into attr on every record.
// The records of the relation are restricted by p.Query when it is set.
// To-many relations always yield a slice, possibly empty; a missing to-one
// record yields nil.
func (l *Loader) Prefetch(
	ctx context.Context,
	records []map[string]interface{},
	resource *schema.ResourceSchema,
	attr string,
	p *query.Prefetch,
) error {
	if len(records) == 0 {
		return nil
	}

	rel, ok := resource.Relationships[p.Relation]
	if !ok {
		return fmt.Errorf("%w: %s on %s", ErrUnknownRelationship, p.Relation, resource.Name)
	}
	if p.Query != nil && p.Query.Resource() != rel.TargetResource {
		return fmt.Errorf("restricting query selects %s, relation %s targets %s",
			p.Query.Resource(), p.Relation, rel.TargetResource)
	}

	return l.loadRelation(ctx, records, resource, rel, attr, p.Query)
}

// parseInclude splits a nested include: "author.posts" -> ("author", ["posts"])
func parseInclude(include string) (string, []string) {
	if i := strings.IndexByte(include, '.'); i >= 0 {
		return include[:i], []string{include[i+1:]}
	}
	return include, nil
}

// extractNestedRecords collects the distinct related records stored under attr
func extractNestedRecords(records []map[string]interface{}, rel *schema.Relationship, attr string) []map[string]interface{} {
	var nested []map[string]interface{}
	seen := make(map[interface{}]bool)

	add := func(relMap map[string]interface{}) {
		if id := relMap["id"]; id != nil && !seen[id] {
			nested = append(nested, relMap)
			seen[id] = true
		}
	}

	for _, record := range records {
		relData, ok := record[attr]
		if !ok || relData == nil {
			continue
		}

		if rel.Type.IsToMany() {
			if relSlice, ok := relData.([]map[string]interface{}); ok {
				for _, relMap := range relSlice {
					add(relMap)
				}
			}
		} else if relMap, ok := relData.(map[string]interface{}); ok {
			add(relMap)
		}
	}

	return nested
}

// scanRows scans multiple SQL rows into a slice of maps
func scanRows(rows *sql.Rows) ([]map[string]interface{}, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var results []map[string]interface{}
	for rows.Next() {
		values := make([]interface{}, len(columns))
		valuePtrs := make([]interface{}, len(columns))
		for i := range values {
			valuePtrs[i] = &values[i]
		}

		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, err
		}

		record := make(map[string]interface{}, len(columns))
		for i, col := range columns {
			// Text columns arrive as []byte from some drivers
			if b, ok := values[i].([]byte); ok {
				record[col] = string(b)
			} else {
				record[col] = values[i]
			}
		}

		results = append(results, record)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return results, nil
}
