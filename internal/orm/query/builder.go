// Package query provides query building functionality for the ORM
package query

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/conduit-lang/prepared/internal/orm/schema"
	"github.com/lib/pq"
)

// RelationshipLoader is an interface for loading relationships
// This avoids circular dependencies between query and relationships packages
type RelationshipLoader interface {
	EagerLoad(ctx context.Context, records []map[string]interface{}, resource *schema.ResourceSchema, includes []string) error
	Prefetch(ctx context.Context, records []map[string]interface{}, resource *schema.ResourceSchema, attr string, p *Prefetch) error
}

// Annotation is a named expression evaluated for every returned row
type Annotation struct {
	Name string
	Expr Expression
}

// BoundPrefetch is a prefetch stored on a query under its target attribute
type BoundPrefetch struct {
	Attr string
	*Prefetch
}

// Executor runs statements. *sql.DB, *sql.Conn and *sql.Tx satisfy it.
type Executor interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// QueryBuilder provides a fluent API for building SQL queries
type QueryBuilder struct {
	resource *schema.ResourceSchema
	db       Executor
	schemas  map[string]*schema.ResourceSchema
	loader   RelationshipLoader // Optional relationship loader

	conditions  []*Condition
	orderBy     []string
	groupBy     []string
	having      []*Condition
	limit       *int
	offset      *int
	includes    []string // For eager loading
	annotations []*Annotation
	prefetches  []*BoundPrefetch
	prepared    map[string]struct{}

	// For building SQL
	paramCounter int
	args         []interface{}
}

// NewQueryBuilder creates a new query builder for the given resource
func NewQueryBuilder(resource *schema.ResourceSchema, db Executor, schemas map[string]*schema.ResourceSchema) *QueryBuilder {
	return &QueryBuilder{
		resource:     resource,
		db:           db,
		schemas:      schemas,
		conditions:   make([]*Condition, 0),
		orderBy:      make([]string, 0),
		groupBy:      make([]string, 0),
		having:       make([]*Condition, 0),
		includes:     make([]string, 0),
		annotations:  make([]*Annotation, 0),
		prefetches:   make([]*BoundPrefetch, 0),
		prepared:     make(map[string]struct{}),
		paramCounter: 1,
		args:         make([]interface{}, 0),
	}
}

// WithLoader sets the relationship loader for eager loading
func (qb *QueryBuilder) WithLoader(loader RelationshipLoader) *QueryBuilder {
	qb.loader = loader
	return qb
}

// Resource returns the name of the resource the query selects
func (qb *QueryBuilder) Resource() string {
	if qb.resource == nil {
		return ""
	}
	return qb.resource.Name
}

func (qb *QueryBuilder) tableName() string {
	if qb.resource.TableName != "" {
		return qb.resource.TableName
	}
	return schema.TableName(qb.resource.Name)
}

// Schema returns the resource schema the query selects
func (qb *QueryBuilder) Schema() *schema.ResourceSchema {
	return qb.resource
}

// Where adds a WHERE condition to the query
func (qb *QueryBuilder) Where(field string, op Operator, value interface{}) *QueryBuilder {
	qb.mustHaveField(field)
	qb.conditions = append(qb.conditions, &Condition{
		Field:    field,
		Operator: op,
		Value:    value,
		Or:       false,
	})
	return qb
}

// OrWhere adds an OR WHERE condition to the query
func (qb *QueryBuilder) OrWhere(field string, op Operator, value interface{}) *QueryBuilder {
	qb.mustHaveField(field)
	qb.conditions = append(qb.conditions, &Condition{
		Field:    field,
		Operator: op,
		Value:    value,
		Or:       true,
	})
	return qb
}

func (qb *QueryBuilder) mustHaveField(field string) {
	if qb.resource != nil {
		if _, exists := qb.resource.Fields[field]; !exists {
			panic(fmt.Sprintf("field %s does not exist on resource %s", field, qb.resource.Name))
		}
	}
}

// WhereIn adds a WHERE IN condition
func (qb *QueryBuilder) WhereIn(field string, values []interface{}) *QueryBuilder {
	return qb.Where(field, OpIn, values)
}

// WhereNull adds a WHERE IS NULL condition
func (qb *QueryBuilder) WhereNull(field string) *QueryBuilder {
	return qb.Where(field, OpIsNull, nil)
}

// WhereNotNull adds a WHERE IS NOT NULL condition
func (qb *QueryBuilder) WhereNotNull(field string) *QueryBuilder {
	return qb.Where(field, OpIsNotNull, nil)
}

// WhereBetween adds a WHERE BETWEEN condition
func (qb *QueryBuilder) WhereBetween(field string, min, max interface{}) *QueryBuilder {
	return qb.Where(field, OpBetween, []interface{}{min, max})
}

// OrderBy adds an ORDER BY clause. Annotation names may be used as well as fields.
func (qb *QueryBuilder) OrderBy(field string, direction string) *QueryBuilder {
	validateIdentifier(field)
	dir := strings.ToUpper(direction)
	if dir != "ASC" && dir != "DESC" {
		dir = "ASC"
	}
	qb.orderBy = append(qb.orderBy, fmt.Sprintf("%s %s", field, dir))
	return qb
}

// OrderByAsc adds an ascending ORDER BY clause
func (qb *QueryBuilder) OrderByAsc(field string) *QueryBuilder {
	return qb.OrderBy(field, "ASC")
}

// OrderByDesc adds a descending ORDER BY clause
func (qb *QueryBuilder) OrderByDesc(field string) *QueryBuilder {
	return qb.OrderBy(field, "DESC")
}

// GroupBy adds a GROUP BY clause
func (qb *QueryBuilder) GroupBy(fields ...string) *QueryBuilder {
	qb.groupBy = append(qb.groupBy, fields...)
	return qb
}

// Having adds a HAVING condition
func (qb *QueryBuilder) Having(field string, op Operator, value interface{}) *QueryBuilder {
	// HAVING clauses can reference aggregates like COUNT(*), so only plain
	// field names are validated
	if !strings.Contains(field, "(") {
		qb.mustHaveField(field)
	}
	qb.having = append(qb.having, &Condition{
		Field:    field,
		Operator: op,
		Value:    value,
	})
	return qb
}

// Limit sets the LIMIT clause
func (qb *QueryBuilder) Limit(n int) *QueryBuilder {
	qb.limit = &n
	return qb
}

// Offset sets the OFFSET clause
func (qb *QueryBuilder) Offset(n int) *QueryBuilder {
	qb.offset = &n
	return qb
}

// Includes adds relationships to eager load
func (qb *QueryBuilder) Includes(relationships ...string) *QueryBuilder {
	qb.includes = append(qb.includes, relationships...)
	return qb
}

// Annotate binds expr to name so every returned record carries it.
// The expression may only reference fields and annotations added before it.
func (qb *QueryBuilder) Annotate(name string, expr Expression) error {
	if qb.resource == nil {
		return fmt.Errorf("cannot annotate a query without a resource")
	}
	if expr == nil {
		return fmt.Errorf("annotation %s has no expression", name)
	}
	if err := qb.checkName(name); err != nil {
		return err
	}

	for _, ref := range expr.References() {
		if !qb.resource.HasField(ref) && qb.annotation(ref) == nil {
			return fmt.Errorf("annotation %s: %w: %s on %s", name, ErrUnknownReference, ref, qb.resource.Name)
		}
	}

	qb.annotations = append(qb.annotations, &Annotation{Name: name, Expr: expr})
	return nil
}

// Prefetch loads the relation described by p into attr on every returned record
func (qb *QueryBuilder) Prefetch(attr string, p *Prefetch) error {
	if qb.resource == nil {
		return fmt.Errorf("cannot prefetch on a query without a resource")
	}
	if p == nil {
		return fmt.Errorf("prefetch %s has no relation", attr)
	}
	if err := qb.checkName(attr); err != nil {
		return err
	}

	rel, ok := qb.resource.Relationships[p.Relation]
	if !ok {
		return fmt.Errorf("prefetch %s: %w: %s on %s", attr, ErrUnknownRelation, p.Relation, qb.resource.Name)
	}
	if p.Query != nil && p.Query.Resource() != rel.TargetResource {
		return fmt.Errorf("prefetch %s: restricting query selects %s, relation %s targets %s",
			attr, p.Query.Resource(), p.Relation, rel.TargetResource)
	}

	qb.prefetches = append(qb.prefetches, &BoundPrefetch{Attr: attr, Prefetch: p})
	return nil
}

func (qb *QueryBuilder) checkName(name string) error {
	if !isValidIdentifier(name) {
		return fmt.Errorf("invalid name: %q", name)
	}
	if qb.resource.HasField(name) || qb.resource.HasRelationship(name) {
		return fmt.Errorf("%w: %s is declared on %s", ErrDuplicateName, name, qb.resource.Name)
	}
	if qb.annotation(name) != nil {
		return fmt.Errorf("%w: annotation %s", ErrDuplicateName, name)
	}
	for _, p := range qb.prefetches {
		if p.Attr == name {
			return fmt.Errorf("%w: prefetch %s", ErrDuplicateName, name)
		}
	}
	return nil
}

func (qb *QueryBuilder) annotation(name string) *Annotation {
	for _, a := range qb.annotations {
		if a.Name == name {
			return a
		}
	}
	return nil
}

// Annotations returns the annotations in the order they were added
func (qb *QueryBuilder) Annotations() []*Annotation {
	out := make([]*Annotation, len(qb.annotations))
	copy(out, qb.annotations)
	return out
}

// Prefetches returns the prefetches in the order they were added
func (qb *QueryBuilder) Prefetches() []*BoundPrefetch {
	out := make([]*BoundPrefetch, len(qb.prefetches))
	copy(out, qb.prefetches)
	return out
}

// IsPrepared reports whether a computed property called name was applied to this query
func (qb *QueryBuilder) IsPrepared(name string) bool {
	_, ok := qb.prepared[name]
	return ok
}

// MarkPrepared records that the computed property called name was applied
func (qb *QueryBuilder) MarkPrepared(name string) {
	qb.prepared[name] = struct{}{}
}

// ToSQL generates the SQL query and parameter bindings
func (qb *QueryBuilder) ToSQL() (string, []interface{}, error) {
	qb.args = make([]interface{}, 0)
	qb.paramCounter = 1

	selectList, err := qb.selectList()
	if err != nil {
		return "", nil, err
	}
	return qb.buildSQL(selectList)
}

// selectList renders the row columns followed by every annotation
func (qb *QueryBuilder) selectList() (string, error) {
	if len(qb.annotations) == 0 {
		return "*", nil
	}

	tableName := qb.tableName()
	c := &compiler{
		resource:     qb.resource,
		schemas:      qb.schemas,
		table:        tableName,
		annotations:  make(map[string]Expression, len(qb.annotations)),
		paramCounter: &qb.paramCounter,
		args:         &qb.args,
	}

	columns := []string{tableName + ".*"}
	for _, a := range qb.annotations {
		exprSQL, err := a.Expr.compile(c)
		if err != nil {
			return "", fmt.Errorf("failed to build annotation %s: %w", a.Name, err)
		}
		columns = append(columns, fmt.Sprintf("%s AS %s", exprSQL, pq.QuoteIdentifier(a.Name)))
		c.annotations[a.Name] = a.Expr
	}
	return strings.Join(columns, ", "), nil
}

// buildSQL assembles the statement around the given select list.
// Parameters already bound by the select list keep their numbers.
func (qb *QueryBuilder) buildSQL(selectList string) (string, []interface{}, error) {
	var sql strings.Builder

	sql.WriteString(fmt.Sprintf("SELECT %s FROM %s", selectList, qb.tableName()))

	// WHERE clauses
	if len(qb.conditions) > 0 {
		where, err := qb.joinConditions(qb.conditions, "")
		if err != nil {
			return "", nil, fmt.Errorf("failed to build condition: %w", err)
		}
		sql.WriteString(" WHERE ")
		sql.WriteString(where)
	}

	// GROUP BY
	if len(qb.groupBy) > 0 {
		sql.WriteString(" GROUP BY ")
		sql.WriteString(strings.Join(qb.groupBy, ", "))
	}

	// HAVING
	if len(qb.having) > 0 {
		having, err := qb.joinConditions(qb.having, "")
		if err != nil {
			return "", nil, fmt.Errorf("failed to build having condition: %w", err)
		}
		sql.WriteString(" HAVING ")
		sql.WriteString(having)
	}

	// ORDER BY
	if len(qb.orderBy) > 0 {
		sql.WriteString(" ORDER BY ")
		sql.WriteString(strings.Join(qb.orderBy, ", "))
	}

	// LIMIT
	if qb.limit != nil {
		sql.WriteString(fmt.Sprintf(" LIMIT $%d", qb.paramCounter))
		qb.args = append(qb.args, *qb.limit)
		qb.paramCounter++
	}

	// OFFSET
	if qb.offset != nil {
		sql.WriteString(fmt.Sprintf(" OFFSET $%d", qb.paramCounter))
		qb.args = append(qb.args, *qb.offset)
		qb.paramCounter++
	}

	return sql.String(), qb.args, nil
}

// joinConditions renders conditions with their AND/OR connectors.
// A non-empty alias qualifies every field with it.
func (qb *QueryBuilder) joinConditions(conds []*Condition, alias string) (string, error) {
	var b strings.Builder
	for i, cond := range conds {
		if i > 0 {
			if cond.Or {
				b.WriteString(" OR ")
			} else {
				b.WriteString(" AND ")
			}
		}
		if alias != "" {
			qualified := *cond
			qualified.Field = qualify(alias, cond.Field)
			cond = &qualified
		}
		condSQL, err := conditionToSQL(cond, &qb.paramCounter, &qb.args)
		if err != nil {
			return "", err
		}
		b.WriteString(condSQL)
	}
	return b.String(), nil
}

// WhereSQL renders the query's WHERE conditions with every field qualified by
// alias and parameters numbered from firstParam. It is used when the query
// restricts the records of a prefetched relation.
func (qb *QueryBuilder) WhereSQL(alias string, firstParam int) (string, []interface{}, error) {
	restrict := &QueryBuilder{
		resource:     qb.resource,
		paramCounter: firstParam,
		args:         make([]interface{}, 0),
	}
	where, err := restrict.joinConditions(qb.conditions, alias)
	if err != nil {
		return "", nil, err
	}
	return where, restrict.args, nil
}

// All executes the query and returns all matching rows
func (qb *QueryBuilder) All(ctx context.Context) ([]map[string]interface{}, error) {
	sql, args, err := qb.ToSQL()
	if err != nil {
		return nil, fmt.Errorf("failed to generate SQL: %w", err)
	}

	rows, err := qb.db.QueryContext(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()

	results, err := scanRows(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to scan rows: %w", err)
	}

	if len(results) == 0 {
		return results, nil
	}

	// Eager load relationships if any were specified
	if len(qb.includes) > 0 {
		if err := qb.loadRelationships(ctx, results); err != nil {
			return nil, fmt.Errorf("failed to load relationships: %w", err)
		}
	}

	if len(qb.prefetches) > 0 {
		if err := qb.loadPrefetches(ctx, results); err != nil {
			return nil, fmt.Errorf("failed to load prefetches: %w", err)
		}
	}

	return results, nil
}

// loadRelationships loads the specified relationships for the given records
func (qb *QueryBuilder) loadRelationships(ctx context.Context, records []map[string]interface{}) error {
	// If no loader is configured, skip relationship loading
	// This happens in tests or when the QueryBuilder is used standalone
	if qb.loader == nil {
		return nil
	}

	return qb.loader.EagerLoad(ctx, records, qb.resource, qb.includes)
}

// loadPrefetches stores every prefetched relation on the records.
// Unlike includes, a prefetch without a loader is an error: the caller asked
// for the attribute to be present.
func (qb *QueryBuilder) loadPrefetches(ctx context.Context, records []map[string]interface{}) error {
	if qb.loader == nil {
		return fmt.Errorf("prefetch %s requires a relationship loader", qb.prefetches[0].Attr)
	}

	for _, p := range qb.prefetches {
		if err := qb.loader.Prefetch(ctx, records, qb.resource, p.Attr, p.Prefetch); err != nil {
			return fmt.Errorf("prefetch %s: %w", p.Attr, err)
		}
	}
	return nil
}

// First executes the query and returns the first matching row
func (qb *QueryBuilder) First(ctx context.Context) (map[string]interface{}, error) {
	qb.Limit(1)
	results, err := qb.All(ctx)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, sql.ErrNoRows
	}
	return results[0], nil
}

// Count returns the number of rows the query matches. Annotations,
// ordering, limit and offset take no part.
func (qb *QueryBuilder) Count(ctx context.Context) (int, error) {
	counting := qb.Clone()
	counting.orderBy = nil
	counting.limit = nil
	counting.offset = nil

	sqlStr, args, err := counting.buildSQL("COUNT(*)")
	if err != nil {
		return 0, fmt.Errorf("failed to generate SQL: %w", err)
	}

	var count int
	if err := qb.db.QueryRowContext(ctx, sqlStr, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to execute count query: %w", err)
	}
	return count, nil
}

// Clone creates a copy of the query builder.
// The copy starts with the annotations, prefetches and prepared properties
// of the original; later changes to either do not affect the other.
func (qb *QueryBuilder) Clone() *QueryBuilder {
	clone := &QueryBuilder{
		resource:     qb.resource,
		db:           qb.db,
		schemas:      qb.schemas,
		loader:       qb.loader, // Share the same loader
		conditions:   make([]*Condition, len(qb.conditions)),
		orderBy:      make([]string, len(qb.orderBy)),
		groupBy:      make([]string, len(qb.groupBy)),
		having:       make([]*Condition, len(qb.having)),
		includes:     make([]string, len(qb.includes)),
		annotations:  make([]*Annotation, len(qb.annotations)),
		prefetches:   make([]*BoundPrefetch, len(qb.prefetches)),
		prepared:     make(map[string]struct{}, len(qb.prepared)),
		paramCounter: 1,
		args:         make([]interface{}, 0),
	}

	copy(clone.conditions, qb.conditions)
	copy(clone.orderBy, qb.orderBy)
	copy(clone.groupBy, qb.groupBy)
	copy(clone.having, qb.having)
	copy(clone.includes, qb.includes)
	copy(clone.annotations, qb.annotations)
	copy(clone.prefetches, qb.prefetches)
	for name := range qb.prepared {
		clone.prepared[name] = struct{}{}
	}

	if qb.limit != nil {
		limit := *qb.limit
		clone.limit = &limit
	}

	if qb.offset != nil {
		offset := *qb.offset
		clone.offset = &offset
	}

	return clone
}

// scanRows scans SQL rows into a slice of maps
func scanRows(rows *sql.Rows) ([]map[string]interface{}, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	results := make([]map[string]interface{}, 0)
	for rows.Next() {
		values := make([]interface{}, len(columns))
		valuePtrs := make([]interface{}, len(columns))
		for i := range values {
			valuePtrs[i] = &values[i]
		}

		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, err
		}

		record := make(map[string]interface{})
		for i, col := range columns {
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

// validateIdentifier validates that an identifier only contains safe characters
// (letters, digits, underscore, and dot for qualified names).
// Panics if invalid characters are found.
func validateIdentifier(identifier string) {
	for _, char := range identifier {
		if !((char >= 'a' && char <= 'z') ||
			(char >= 'A' && char <= 'Z') ||
			(char >= '0' && char <= '9') ||
			char == '_' || char == '.') {
			panic(fmt.Sprintf("invalid identifier: %s (contains invalid character: %c)", identifier, char))
		}
	}
}

// isValidIdentifier checks if a string is a valid SQL identifier
func isValidIdentifier(s string) bool {
	if s == "" {
		return false
	}

	for _, char := range s {
		if !((char >= 'a' && char <= 'z') ||
			(char >= 'A' && char <= 'Z') ||
			(char >= '0' && char <= '9') ||
			char == '_') {
			return false
		}
	}
	return true
}
