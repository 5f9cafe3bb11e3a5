package query

import (
	"errors"
	"fmt"
	"strings"

	"github.com/conduit-lang/prepared/internal/orm/schema"
	"github.com/lib/pq"
)

var (
	// ErrUnknownReference is returned when an expression names something that is
	// neither a field nor an earlier annotation of the query's resource
	ErrUnknownReference = errors.New("unknown reference")

	// ErrUnknownRelation is returned when a relation is not declared on the resource
	ErrUnknownRelation = errors.New("unknown relation")

	// ErrDuplicateName is returned when an annotation or prefetch name is already taken
	ErrDuplicateName = errors.New("name already in use")
)

// Expression is a value the database computes for every row of a query.
// Expressions are bound to a name with QueryBuilder.Annotate.
type Expression interface {
	// References returns the field and annotation names the expression reads
	// from the row it is evaluated against.
	References() []string

	compile(c *compiler) (string, error)
}

// compiler renders expressions against one resource, numbering parameters
// in the order they are written.
type compiler struct {
	resource     *schema.ResourceSchema
	schemas      map[string]*schema.ResourceSchema
	table        string
	annotations  map[string]Expression
	paramCounter *int
	args         *[]interface{}
}

func (c *compiler) bind(value interface{}) string {
	*c.args = append(*c.args, value)
	placeholder := fmt.Sprintf("$%d", *c.paramCounter)
	*c.paramCounter++
	return placeholder
}

func (c *compiler) targetSchema(name string) (*schema.ResourceSchema, bool) {
	if c.schemas == nil {
		return nil, false
	}
	s, ok := c.schemas[name]
	return s, ok
}

func qualify(table, column string) string {
	return pq.QuoteIdentifier(table) + "." + pq.QuoteIdentifier(column)
}

// F references a field of the resource, or an annotation added earlier
func F(name string) Expression {
	return &fieldRef{name: name}
}

type fieldRef struct {
	name string
}

func (f *fieldRef) References() []string {
	return []string{f.name}
}

func (f *fieldRef) compile(c *compiler) (string, error) {
	if c.resource.HasField(f.name) {
		return qualify(c.table, f.name), nil
	}
	// Annotations cannot be referenced by alias inside the same SELECT list,
	// so the earlier expression is inlined
	if expr, ok := c.annotations[f.name]; ok {
		sql, err := expr.compile(c)
		if err != nil {
			return "", err
		}
		return "(" + sql + ")", nil
	}
	return "", fmt.Errorf("%w: %s on %s", ErrUnknownReference, f.name, c.resource.Name)
}

// Value is a literal bound as a query parameter
func Value(v interface{}) Expression {
	return &literal{value: v}
}

type literal struct {
	value interface{}
}

func (l *literal) References() []string { return nil }

func (l *literal) compile(c *compiler) (string, error) {
	return c.bind(l.value), nil
}

type arithmetic struct {
	op          string
	left, right Expression
}

// Add returns left + right
func Add(left, right Expression) Expression { return &arithmetic{op: "+", left: left, right: right} }

// Sub returns left - right
func Sub(left, right Expression) Expression { return &arithmetic{op: "-", left: left, right: right} }

// Mul returns left * right
func Mul(left, right Expression) Expression { return &arithmetic{op: "*", left: left, right: right} }

// Div returns left / right
func Div(left, right Expression) Expression { return &arithmetic{op: "/", left: left, right: right} }

func (a *arithmetic) References() []string {
	return append(a.left.References(), a.right.References()...)
}

func (a *arithmetic) compile(c *compiler) (string, error) {
	left, err := a.left.compile(c)
	if err != nil {
		return "", err
	}
	right, err := a.right.compile(c)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("(%s %s %s)", left, a.op, right), nil
}

// Compare returns a boolean expression comparing two expressions.
// Only the scalar comparison operators are accepted.
func Compare(left Expression, op Operator, right Expression) Expression {
	return &comparison{op: op, left: left, right: right}
}

type comparison struct {
	op          Operator
	left, right Expression
}

func (cmp *comparison) References() []string {
	return append(cmp.left.References(), cmp.right.References()...)
}

func (cmp *comparison) compile(c *compiler) (string, error) {
	switch cmp.op {
	case OpEqual, OpNotEqual, OpGreaterThan, OpGreaterThanOrEqual, OpLessThan, OpLessThanOrEqual:
	default:
		return "", fmt.Errorf("operator %s cannot compare expressions", cmp.op)
	}
	left, err := cmp.left.compile(c)
	if err != nil {
		return "", err
	}
	right, err := cmp.right.compile(c)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("(%s %s %s)", left, cmp.op, right), nil
}

// WhenClause is one branch of a CASE expression
type WhenClause struct {
	Condition Expression
	Then      Expression
}

// When builds a CASE branch
func When(condition, then Expression) WhenClause {
	return WhenClause{Condition: condition, Then: then}
}

// CaseExpression is a SQL CASE expression
type CaseExpression struct {
	whens     []WhenClause
	otherwise Expression
}

// Case builds a CASE expression from its branches
func Case(whens ...WhenClause) *CaseExpression {
	return &CaseExpression{whens: whens}
}

// Else sets the value used when no branch matches
func (ce *CaseExpression) Else(expr Expression) *CaseExpression {
	ce.otherwise = expr
	return ce
}

func (ce *CaseExpression) References() []string {
	var refs []string
	for _, w := range ce.whens {
		refs = append(refs, w.Condition.References()...)
		refs = append(refs, w.Then.References()...)
	}
	if ce.otherwise != nil {
		refs = append(refs, ce.otherwise.References()...)
	}
	return refs
}

func (ce *CaseExpression) compile(c *compiler) (string, error) {
	if len(ce.whens) == 0 {
		return "", fmt.Errorf("CASE requires at least one WHEN branch")
	}

	var b strings.Builder
	b.WriteString("CASE")
	for _, w := range ce.whens {
		cond, err := w.Condition.compile(c)
		if err != nil {
			return "", err
		}
		then, err := w.Then.compile(c)
		if err != nil {
			return "", err
		}
		b.WriteString(fmt.Sprintf(" WHEN %s THEN %s", cond, then))
	}
	if ce.otherwise != nil {
		otherwise, err := ce.otherwise.compile(c)
		if err != nil {
			return "", err
		}
		b.WriteString(" ELSE " + otherwise)
	}
	b.WriteString(" END")
	return b.String(), nil
}

// AggregateExpression aggregates the records of a relation into one value
// per row, rendered as a correlated subquery.
type AggregateExpression struct {
	fn       string
	relation string
	field    string
	filters  []*Condition
}

// Count counts the related records of relation
func Count(relation string) *AggregateExpression {
	return &AggregateExpression{fn: "COUNT", relation: relation}
}

// Sum adds up field over the related records
func Sum(relation, field string) *AggregateExpression {
	return &AggregateExpression{fn: "SUM", relation: relation, field: field}
}

// Avg averages field over the related records
func Avg(relation, field string) *AggregateExpression {
	return &AggregateExpression{fn: "AVG", relation: relation, field: field}
}

// Min returns the smallest field value among the related records
func Min(relation, field string) *AggregateExpression {
	return &AggregateExpression{fn: "MIN", relation: relation, field: field}
}

// Max returns the largest field value among the related records
func Max(relation, field string) *AggregateExpression {
	return &AggregateExpression{fn: "MAX", relation: relation, field: field}
}

// Filter restricts the aggregated records. It returns a new expression.
func (a *AggregateExpression) Filter(field string, op Operator, value interface{}) *AggregateExpression {
	filtered := *a
	filtered.filters = make([]*Condition, len(a.filters), len(a.filters)+1)
	copy(filtered.filters, a.filters)
	filtered.filters = append(filtered.filters, &Condition{Field: field, Operator: op, Value: value})
	return &filtered
}

// References is empty: aggregates read the relation's key columns, not row values
func (a *AggregateExpression) References() []string { return nil }

func (a *AggregateExpression) compile(c *compiler) (string, error) {
	rel, ok := c.resource.Relationships[a.relation]
	if !ok {
		return "", fmt.Errorf("%w: %s on %s", ErrUnknownRelation, a.relation, c.resource.Name)
	}

	if a.fn != "COUNT" && a.field == "" {
		return "", fmt.Errorf("%s over %s requires a field", a.fn, a.relation)
	}

	targetTable := schema.TableName(rel.TargetResource)
	if target, ok := c.targetSchema(rel.TargetResource); ok {
		targetTable = target.TableName
		if a.field != "" {
			f, ok := target.Fields[a.field]
			if !ok {
				return "", fmt.Errorf("%w: %s on %s", ErrUnknownReference, a.field, target.Name)
			}
			if (a.fn == "SUM" || a.fn == "AVG") && f.Type != nil && !f.Type.IsNumeric() {
				return "", fmt.Errorf("%s over %s.%s: %s is not numeric", a.fn, target.Name, a.field, f.Type)
			}
		}
		for _, f := range a.filters {
			if !target.HasField(f.Field) {
				return "", fmt.Errorf("%w: %s on %s", ErrUnknownReference, f.Field, target.Name)
			}
		}
	}

	alias := "__" + a.relation
	selected := a.fn + "(*)"
	if a.field != "" {
		selected = fmt.Sprintf("%s(%s)", a.fn, qualify(alias, a.field))
	}

	var from, correlation string
	switch rel.Type {
	case schema.RelationshipBelongsTo:
		from = fmt.Sprintf("%s AS %s", pq.QuoteIdentifier(targetTable), pq.QuoteIdentifier(alias))
		correlation = fmt.Sprintf("%s = %s", qualify(alias, "id"), qualify(c.table, c.resource.ForeignKeyFor(rel)))
	case schema.RelationshipHasMany, schema.RelationshipHasOne:
		from = fmt.Sprintf("%s AS %s", pq.QuoteIdentifier(targetTable), pq.QuoteIdentifier(alias))
		correlation = fmt.Sprintf("%s = %s", qualify(alias, c.resource.ForeignKeyFor(rel)), qualify(c.table, "id"))
	case schema.RelationshipHasManyThrough:
		joinAlias := alias + "_through"
		from = fmt.Sprintf("%s AS %s INNER JOIN %s AS %s ON %s = %s",
			pq.QuoteIdentifier(targetTable), pq.QuoteIdentifier(alias),
			pq.QuoteIdentifier(c.resource.JoinTableFor(rel)), pq.QuoteIdentifier(joinAlias),
			qualify(alias, "id"), qualify(joinAlias, c.resource.AssociationKeyFor(rel)))
		correlation = fmt.Sprintf("%s = %s", qualify(joinAlias, c.resource.ForeignKeyFor(rel)), qualify(c.table, "id"))
	default:
		return "", fmt.Errorf("unsupported relationship type: %s", rel.Type)
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf("(SELECT %s FROM %s WHERE %s", selected, from, correlation))
	for _, f := range a.filters {
		qualified := *f
		qualified.Field = qualify(alias, f.Field)
		sql, err := conditionToSQL(&qualified, c.paramCounter, c.args)
		if err != nil {
			return "", err
		}
		b.WriteString(" AND " + sql)
	}
	b.WriteString(")")
	return b.String(), nil
}
