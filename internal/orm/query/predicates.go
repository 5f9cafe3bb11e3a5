package query

import (
	"fmt"
	"strings"
)

// Operator is a comparison used in WHERE clauses and aggregate filters
type Operator int

const (
	OpEqual Operator = iota
	OpNotEqual
	OpGreaterThan
	OpGreaterThanOrEqual
	OpLessThan
	OpLessThanOrEqual
	OpIn
	OpNotIn
	OpLike
	OpILike
	OpIsNull
	OpIsNotNull
	OpBetween
)

var operatorSQL = map[Operator]string{
	OpEqual:              "=",
	OpNotEqual:           "!=",
	OpGreaterThan:        ">",
	OpGreaterThanOrEqual: ">=",
	OpLessThan:           "<",
	OpLessThanOrEqual:    "<=",
	OpIn:                 "IN",
	OpNotIn:              "NOT IN",
	OpLike:               "LIKE",
	OpILike:              "ILIKE",
	OpIsNull:             "IS NULL",
	OpIsNotNull:          "IS NOT NULL",
	OpBetween:            "BETWEEN",
}

// operatorAliases maps the accepted spellings, upper-cased, to operators
var operatorAliases = map[string]Operator{
	"=": OpEqual, "==": OpEqual, "EQ": OpEqual,
	"!=": OpNotEqual, "<>": OpNotEqual, "NE": OpNotEqual,
	"<": OpLessThan, "LT": OpLessThan,
	"<=": OpLessThanOrEqual, "LE": OpLessThanOrEqual,
	">": OpGreaterThan, "GT": OpGreaterThan,
	">=": OpGreaterThanOrEqual, "GE": OpGreaterThanOrEqual,
	"IN":          OpIn,
	"NOT IN":      OpNotIn,
	"LIKE":        OpLike,
	"ILIKE":       OpILike,
	"IS NULL":     OpIsNull,
	"IS NOT NULL": OpIsNotNull,
	"BETWEEN":     OpBetween,
}

// String returns the SQL spelling of the operator
func (o Operator) String() string {
	if s, ok := operatorSQL[o]; ok {
		return s
	}
	return "UNKNOWN"
}

// ParseOperator converts an operator string such as "<=" or "in" to an Operator
func ParseOperator(opStr string) (Operator, error) {
	if op, ok := operatorAliases[strings.ToUpper(strings.TrimSpace(opStr))]; ok {
		return op, nil
	}
	return OpEqual, fmt.Errorf("unknown operator: %s", opStr)
}

// Condition is a single WHERE predicate. Field is rendered as given, so
// callers quote and qualify it first.
type Condition struct {
	Field    string
	Operator Operator
	Value    interface{}
	Or       bool
}

// bind appends v to args and returns its positional placeholder
func bind(v interface{}, paramCounter *int, args *[]interface{}) string {
	*args = append(*args, v)
	p := fmt.Sprintf("$%d", *paramCounter)
	*paramCounter++
	return p
}

// conditionToSQL renders cond with positional parameters numbered from
// *paramCounter, appending the bound values to args
func conditionToSQL(cond *Condition, paramCounter *int, args *[]interface{}) (string, error) {
	switch cond.Operator {
	case OpEqual, OpNotEqual, OpGreaterThan, OpGreaterThanOrEqual,
		OpLessThan, OpLessThanOrEqual, OpLike, OpILike:
		return fmt.Sprintf("%s %s %s", cond.Field, cond.Operator, bind(cond.Value, paramCounter, args)), nil

	case OpIn, OpNotIn:
		values, ok := cond.Value.([]interface{})
		if !ok {
			return "", fmt.Errorf("%s operator requires []interface{} value", cond.Operator)
		}
		if len(values) == 0 {
			// x IN () is never true and x NOT IN () always is
			if cond.Operator == OpIn {
				return "FALSE", nil
			}
			return "TRUE", nil
		}
		placeholders := make([]string, len(values))
		for i, v := range values {
			placeholders[i] = bind(v, paramCounter, args)
		}
		return fmt.Sprintf("%s %s (%s)", cond.Field, cond.Operator, strings.Join(placeholders, ", ")), nil

	case OpIsNull, OpIsNotNull:
		return fmt.Sprintf("%s %s", cond.Field, cond.Operator), nil

	case OpBetween:
		values, ok := cond.Value.([]interface{})
		if !ok || len(values) != 2 {
			return "", fmt.Errorf("BETWEEN operator requires [min, max] values")
		}
		low := bind(values[0], paramCounter, args)
		high := bind(values[1], paramCounter, args)
		return fmt.Sprintf("%s BETWEEN %s AND %s", cond.Field, low, high), nil

	default:
		return "", fmt.Errorf("unsupported operator: %v", cond.Operator)
	}
}
