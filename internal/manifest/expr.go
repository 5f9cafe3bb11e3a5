package manifest

import (
	"fmt"

	"github.com/conduit-lang/prepared/internal/orm/query"
	"gopkg.in/yaml.v3"
)

var aggregates = map[string]func(relation, field string) *query.AggregateExpression{
	"sum": query.Sum,
	"avg": query.Avg,
	"min": query.Min,
	"max": query.Max,
}

var arithmetic = map[string]func(left, right query.Expression) query.Expression{
	"add": query.Add,
	"sub": query.Sub,
	"mul": query.Mul,
	"div": query.Div,
}

var comparisons = map[string]query.Operator{
	"eq": query.OpEqual,
	"ne": query.OpNotEqual,
	"lt": query.OpLessThan,
	"le": query.OpLessThanOrEqual,
	"gt": query.OpGreaterThan,
	"ge": query.OpGreaterThanOrEqual,
}

// aggregateSpec is the mapping form of an aggregate node
type aggregateSpec struct {
	Relation string      `yaml:"relation"`
	Field    string      `yaml:"field"`
	Where    []Condition `yaml:"where"`
}

// caseSpec is a single-branch CASE. Further branches nest in Else.
type caseSpec struct {
	When yaml.Node `yaml:"when"`
	Then yaml.Node `yaml:"then"`
	Else yaml.Node `yaml:"else"`
}

// decodeExpr turns an annotate node into an expression.
//
// A plain string names a field or another property, any other scalar is a
// literal, and a single-key mapping is an operator applied to its value.
func decodeExpr(node *yaml.Node) (query.Expression, error) {
	if node == nil || node.Kind == 0 {
		return nil, fmt.Errorf("missing expression")
	}
	if node.Kind == yaml.AliasNode {
		return decodeExpr(node.Alias)
	}

	switch node.Kind {
	case yaml.ScalarNode:
		if node.ShortTag() == "!!str" {
			return query.F(node.Value), nil
		}
		v, err := decodeScalar(node)
		if err != nil {
			return nil, err
		}
		return query.Value(v), nil
	case yaml.MappingNode:
		if len(node.Content) != 2 {
			return nil, fmt.Errorf("line %d: an expression mapping has exactly one key", node.Line)
		}
		return decodeOperator(node.Content[0].Value, node.Content[1])
	default:
		return nil, fmt.Errorf("line %d: unexpected %s in expression", node.Line, kindName(node.Kind))
	}
}

func decodeOperator(op string, arg *yaml.Node) (query.Expression, error) {
	switch op {
	case "field":
		var name string
		if err := arg.Decode(&name); err != nil {
			return nil, fmt.Errorf("line %d: field: %w", arg.Line, err)
		}
		return query.F(name), nil

	case "value":
		v, err := decodeScalar(arg)
		if err != nil {
			return nil, err
		}
		return query.Value(v), nil

	case "count":
		var spec aggregateSpec
		if arg.Kind == yaml.ScalarNode {
			spec.Relation = arg.Value
		} else if err := arg.Decode(&spec); err != nil {
			return nil, fmt.Errorf("line %d: count: %w", arg.Line, err)
		}
		if spec.Relation == "" {
			return nil, fmt.Errorf("line %d: count requires a relation", arg.Line)
		}
		return filtered(query.Count(spec.Relation), spec.Where)

	case "case":
		var spec caseSpec
		if err := arg.Decode(&spec); err != nil {
			return nil, fmt.Errorf("line %d: case: %w", arg.Line, err)
		}
		cond, err := decodeExpr(&spec.When)
		if err != nil {
			return nil, fmt.Errorf("case when: %w", err)
		}
		then, err := decodeExpr(&spec.Then)
		if err != nil {
			return nil, fmt.Errorf("case then: %w", err)
		}
		ce := query.Case(query.When(cond, then))
		if spec.Else.Kind != 0 {
			otherwise, err := decodeExpr(&spec.Else)
			if err != nil {
				return nil, fmt.Errorf("case else: %w", err)
			}
			ce = ce.Else(otherwise)
		}
		return ce, nil
	}

	if fn, ok := aggregates[op]; ok {
		var spec aggregateSpec
		if err := arg.Decode(&spec); err != nil {
			return nil, fmt.Errorf("line %d: %s: %w", arg.Line, op, err)
		}
		if spec.Relation == "" || spec.Field == "" {
			return nil, fmt.Errorf("line %d: %s requires a relation and a field", arg.Line, op)
		}
		return filtered(fn(spec.Relation, spec.Field), spec.Where)
	}

	if fn, ok := arithmetic[op]; ok {
		left, right, err := decodePair(op, arg)
		if err != nil {
			return nil, err
		}
		return fn(left, right), nil
	}

	if cmp, ok := comparisons[op]; ok {
		left, right, err := decodePair(op, arg)
		if err != nil {
			return nil, err
		}
		return query.Compare(left, cmp, right), nil
	}

	return nil, fmt.Errorf("unknown expression operator %q", op)
}

func decodePair(op string, arg *yaml.Node) (query.Expression, query.Expression, error) {
	if arg.Kind != yaml.SequenceNode || len(arg.Content) != 2 {
		return nil, nil, fmt.Errorf("line %d: %s takes a list of two operands", arg.Line, op)
	}
	left, err := decodeExpr(arg.Content[0])
	if err != nil {
		return nil, nil, err
	}
	right, err := decodeExpr(arg.Content[1])
	if err != nil {
		return nil, nil, err
	}
	return left, right, nil
}

func filtered(agg *query.AggregateExpression, where []Condition) (query.Expression, error) {
	for _, cond := range where {
		op, err := query.ParseOperator(cond.Op)
		if err != nil {
			return nil, fmt.Errorf("filter on %s: %w", cond.Field, err)
		}
		agg = agg.Filter(cond.Field, op, cond.Value)
	}
	return agg, nil
}

func decodeScalar(node *yaml.Node) (interface{}, error) {
	if node.Kind != yaml.ScalarNode {
		return nil, fmt.Errorf("line %d: expected a scalar, got %s", node.Line, kindName(node.Kind))
	}
	var v interface{}
	if err := node.Decode(&v); err != nil {
		return nil, fmt.Errorf("line %d: %w", node.Line, err)
	}
	return v, nil
}

func kindName(k yaml.Kind) string {
	switch k {
	case yaml.DocumentNode:
		return "document"
	case yaml.SequenceNode:
		return "list"
	case yaml.MappingNode:
		return "mapping"
	case yaml.ScalarNode:
		return "scalar"
	case yaml.AliasNode:
		return "alias"
	default:
		return "node"
	}
}
