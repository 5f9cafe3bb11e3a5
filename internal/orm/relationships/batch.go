package relationships

import (
	"context"
	"fmt"
	"strings"

	"github.com/conduit-lang/prepared/internal/orm/query"
	"github.com/conduit-lang/prepared/internal/orm/schema"
	"github.com/lib/pq"
	"go.uber.org/zap"
)

const (
	// targetAlias names the related table in every relation query
	targetAlias = "t"

	// joinAlias names the join table of a has_many_through relation
	joinAlias = "j"

	// parentKeyColumn carries the key of the owning record on every related row
	parentKeyColumn = "__parent_id"
)

// relationQuery selects the related records of one relationship for a set
// of parent keys. Every row carries the parent key under parentKeyColumn.
//
// Example: Post has_many Comment
//
//	SELECT "t".*, "t"."post_id" AS "__parent_id" FROM "comments" AS "t"
//	WHERE "t"."post_id" IN ($1, $2) ORDER BY "t"."id"
type relationQuery struct {
	sql  string
	args []interface{}
}

// buildRelationQuery renders the batched query for rel. The keys are bound
// first; restrict, when set, contributes its WHERE conditions after them.
func buildRelationQuery(
	resource *schema.ResourceSchema,
	target *schema.ResourceSchema,
	rel *schema.Relationship,
	keys []interface{},
	restrict *query.QueryBuilder,
) (*relationQuery, error) {
	targetTable := target.TableName
	if targetTable == "" {
		targetTable = schema.TableName(target.Name)
	}

	var parentKey, from, keyColumn string
	switch rel.Type {
	case schema.RelationshipBelongsTo:
		parentKey = qualify(targetAlias, "id")
		from = aliased(targetTable, targetAlias)
		keyColumn = parentKey
	case schema.RelationshipHasMany, schema.RelationshipHasOne:
		parentKey = qualify(targetAlias, resource.ForeignKeyFor(rel))
		from = aliased(targetTable, targetAlias)
		keyColumn = parentKey
	case schema.RelationshipHasManyThrough:
		parentKey = qualify(joinAlias, resource.ForeignKeyFor(rel))
		from = fmt.Sprintf("%s INNER JOIN %s ON %s = %s",
			aliased(targetTable, targetAlias),
			aliased(resource.JoinTableFor(rel), joinAlias),
			qualify(targetAlias, "id"),
			qualify(joinAlias, resource.AssociationKeyFor(rel)))
		keyColumn = parentKey
	default:
		return nil, fmt.Errorf("%w: %s", ErrInvalidRelationType, rel.Type)
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf("SELECT %s.*, %s AS %s FROM %s WHERE %s IN (%s)",
		pq.QuoteIdentifier(targetAlias), parentKey, pq.QuoteIdentifier(parentKeyColumn),
		from, keyColumn, placeholders(1, len(keys))))

	args := make([]interface{}, 0, len(keys))
	args = append(args, keys...)

	if restrict != nil {
		where, restrictArgs, err := restrict.WhereSQL(targetAlias, len(keys)+1)
		if err != nil {
			return nil, fmt.Errorf("failed to build restriction: %w", err)
		}
		if where != "" {
			b.WriteString(" AND (" + where + ")")
			args = append(args, restrictArgs...)
		}
	}

	// Without an explicit order, related records keep their insertion order
	// and has_one keeps the first of them
	if rel.OrderBy != "" {
		b.WriteString(" ORDER BY " + quoteSortClause(targetAlias, rel.OrderBy))
	} else {
		b.WriteString(" ORDER BY " + qualify(targetAlias, "id"))
	}

	return &relationQuery{sql: b.String(), args: args}, nil
}

// loadRelation runs one batched query for rel and stores the related records
// on every record under attr
func (l *Loader) loadRelation(
	ctx context.Context,
	records []map[string]interface{},
	resource *schema.ResourceSchema,
	rel *schema.Relationship,
	attr string,
	restrict *query.QueryBuilder,
) error {
	keys, err := collectKeys(records, resource, rel)
	if err != nil {
		return err
	}

	if len(keys) == 0 {
		attach(records, resource, rel, attr, nil)
		return nil
	}

	target, ok := l.getSchema(rel.TargetResource)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownResource, rel.TargetResource)
	}

	rq, err := buildRelationQuery(resource, target, rel, keys, restrict)
	if err != nil {
		return err
	}

	l.logger.Debug("loading relation",
		zap.String("resource", resource.Name),
		zap.String("relation", rel.TargetResource),
		zap.String("type", rel.Type.String()),
		zap.String("attr", attr),
		zap.Int("parents", len(keys)),
	)

	rows, err := l.db.QueryContext(ctx, rq.sql, rq.args...)
	if err != nil {
		return fmt.Errorf("failed to query %s relationship: %w", rel.Type, err)
	}
	defer rows.Close()

	results, err := scanRows(rows)
	if err != nil {
		return fmt.Errorf("failed to scan %s records: %w", rel.Type, err)
	}

	grouped := make(map[string][]map[string]interface{})
	for _, record := range results {
		parentID, err := idToString(record[parentKeyColumn])
		if err != nil {
			return fmt.Errorf("invalid parent ID in results: %w", err)
		}
		delete(record, parentKeyColumn)
		grouped[parentID] = append(grouped[parentID], record)
	}

	attach(records, resource, rel, attr, grouped)
	return nil
}

// recordKey returns the value a record is matched on: its foreign key for
// belongs_to, its own id otherwise
func recordKey(record map[string]interface{}, resource *schema.ResourceSchema, rel *schema.Relationship) interface{} {
	if rel.Type == schema.RelationshipBelongsTo {
		return record[resource.ForeignKeyFor(rel)]
	}
	return record["id"]
}

// collectKeys returns the distinct non-nil keys of records
func collectKeys(records []map[string]interface{}, resource *schema.ResourceSchema, rel *schema.Relationship) ([]interface{}, error) {
	var keys []interface{}
	seen := make(map[string]bool)

	for _, record := range records {
		key := recordKey(record, resource, rel)
		if key == nil {
			continue
		}
		keyStr, err := idToString(key)
		if err != nil {
			return nil, fmt.Errorf("invalid key type for %s: %w", resource.Name, err)
		}
		if !seen[keyStr] {
			seen[keyStr] = true
			keys = append(keys, key)
		}
	}

	return keys, nil
}

// attach stores grouped related records on records under attr.
// To-many relations get an empty slice rather than nil.
func attach(
	records []map[string]interface{},
	resource *schema.ResourceSchema,
	rel *schema.Relationship,
	attr string,
	grouped map[string][]map[string]interface{},
) {
	for _, record := range records {
		var related []map[string]interface{}
		if key := recordKey(record, resource, rel); key != nil {
			if keyStr, err := idToString(key); err == nil {
				related = grouped[keyStr]
			}
		}

		if rel.Type.IsToMany() {
			if related == nil {
				related = []map[string]interface{}{}
			}
			record[attr] = related
			continue
		}

		if len(related) > 0 {
			record[attr] = related[0]
		} else {
			record[attr] = nil
		}
	}
}

func qualify(alias, column string) string {
	return pq.QuoteIdentifier(alias) + "." + pq.QuoteIdentifier(column)
}

func aliased(table, alias string) string {
	return pq.QuoteIdentifier(table) + " AS " + pq.QuoteIdentifier(alias)
}

// placeholders renders n numbered parameters starting at start: "$1, $2, $3"
func placeholders(start, n int) string {
	params := make([]string, n)
	for i := range params {
		params[i] = fmt.Sprintf("$%d", start+i)
	}
	return strings.Join(params, ", ")
}

// quoteSortClause safely quotes column identifiers in an ORDER BY clause,
// qualifying each with alias. Handles formats like "created_at DESC" or
// "name ASC, id DESC".
func quoteSortClause(alias, orderBy string) string {
	parts := strings.Split(orderBy, ",")
	quoted := make([]string, 0, len(parts))

	for _, part := range parts {
		tokens := strings.Fields(part)
		if len(tokens) == 0 {
			continue
		}

		column := qualify(alias, tokens[0])
		if len(tokens) > 1 {
			direction := strings.ToUpper(tokens[1])
			if direction == "ASC" || direction == "DESC" {
				column += " " + direction
			}
		}
		quoted = append(quoted, column)
	}

	return strings.Join(quoted, ", ")
}

// idToString converts an ID to a string with type validation
// Supports common ID types: string, int, int64, []byte (UUID)
func idToString(id interface{}) (string, error) {
	if id == nil {
		return "", fmt.Errorf("ID cannot be nil")
	}

	switch v := id.(type) {
	case string:
		return v, nil
	case int:
		return fmt.Sprintf("%d", v), nil
	case int64:
		return fmt.Sprintf("%d", v), nil
	case int32:
		return fmt.Sprintf("%d", v), nil
	case uint:
		return fmt.Sprintf("%d", v), nil
	case uint64:
		return fmt.Sprintf("%d", v), nil
	case []byte:
		return string(v), nil
	default:
		return fmt.Sprintf("%v", v), nil
	}
}
