// Package schema provides type definitions for the resources a query can target.
// It describes fields with explicit nullability and the relationships that
// relation-loading properties and relation aggregates are resolved against.
package schema

import (
	"fmt"
	"strings"
)

// PrimitiveType represents the built-in primitive field types
type PrimitiveType int

const (
	// Text types
	TypeString PrimitiveType = iota
	TypeText

	// Numeric types
	TypeInt
	TypeBigInt
	TypeFloat
	TypeDecimal

	// Boolean
	TypeBool

	// Time types
	TypeTimestamp
	TypeDate

	// Unique identifiers
	TypeUUID

	// JSON types
	TypeJSON
)

// String returns the string representation of the primitive type
func (p PrimitiveType) String() string {
	switch p {
	case TypeString:
		return "string"
	case TypeText:
		return "text"
	case TypeInt:
		return "int"
	case TypeBigInt:
		return "bigint"
	case TypeFloat:
		return "float"
	case TypeDecimal:
		return "decimal"
	case TypeBool:
		return "bool"
	case TypeTimestamp:
		return "timestamp"
	case TypeDate:
		return "date"
	case TypeUUID:
		return "uuid"
	case TypeJSON:
		return "json"
	default:
		return "unknown"
	}
}

// ParsePrimitiveType converts a string to a PrimitiveType
func ParsePrimitiveType(s string) (PrimitiveType, error) {
	switch s {
	case "string":
		return TypeString, nil
	case "text":
		return TypeText, nil
	case "int":
		return TypeInt, nil
	case "bigint":
		return TypeBigInt, nil
	case "float":
		return TypeFloat, nil
	case "decimal":
		return TypeDecimal, nil
	case "bool":
		return TypeBool, nil
	case "timestamp":
		return TypeTimestamp, nil
	case "date":
		return TypeDate, nil
	case "uuid":
		return TypeUUID, nil
	case "json":
		return TypeJSON, nil
	default:
		return 0, fmt.Errorf("unknown primitive type: %s", s)
	}
}

// TypeSpec represents a field type with nullability
type TypeSpec struct {
	BaseType PrimitiveType
	Nullable bool // ! = false, ? = true
}

// ParseTypeSpec parses the compact "int!" / "string?" notation.
// A missing suffix means required.
func ParseTypeSpec(s string) (*TypeSpec, error) {
	s = strings.TrimSpace(s)
	nullable := false
	switch {
	case strings.HasSuffix(s, "?"):
		nullable = true
		s = strings.TrimSuffix(s, "?")
	case strings.HasSuffix(s, "!"):
		s = strings.TrimSuffix(s, "!")
	}

	base, err := ParsePrimitiveType(s)
	if err != nil {
		return nil, err
	}
	return &TypeSpec{BaseType: base, Nullable: nullable}, nil
}

// String returns a string representation of the TypeSpec
func (t *TypeSpec) String() string {
	if t.Nullable {
		return t.BaseType.String() + "?"
	}
	return t.BaseType.String() + "!"
}

// IsNumeric returns true if the type is a numeric type
func (t *TypeSpec) IsNumeric() bool {
	return t.BaseType == TypeInt ||
		t.BaseType == TypeBigInt ||
		t.BaseType == TypeFloat ||
		t.BaseType == TypeDecimal
}

// Field represents a stored column of a resource
type Field struct {
	Name string
	Type *TypeSpec
}

// RelationType represents the type of relationship
type RelationType int

const (
	RelationshipBelongsTo RelationType = iota
	RelationshipHasMany
	RelationshipHasManyThrough
	RelationshipHasOne
)

// String returns the string representation of the relationship type
func (r RelationType) String() string {
	switch r {
	case RelationshipBelongsTo:
		return "belongs_to"
	case RelationshipHasMany:
		return "has_many"
	case RelationshipHasManyThrough:
		return "has_many_through"
	case RelationshipHasOne:
		return "has_one"
	default:
		return "unknown"
	}
}

// IsToMany reports whether the relationship yields a list of records
func (r RelationType) IsToMany() bool {
	return r == RelationshipHasMany || r == RelationshipHasManyThrough
}

// ParseRelationType converts a string to a RelationType
func ParseRelationType(s string) (RelationType, error) {
	switch s {
	case "belongs_to":
		return RelationshipBelongsTo, nil
	case "has_many":
		return RelationshipHasMany, nil
	case "has_many_through":
		return RelationshipHasManyThrough, nil
	case "has_one":
		return RelationshipHasOne, nil
	default:
		return 0, fmt.Errorf("unknown relationship type: %s", s)
	}
}

// Relationship represents a relationship between resources
type Relationship struct {
	Type           RelationType
	TargetResource string
	FieldName      string
	Nullable       bool

	// Foreign key configuration
	ForeignKey string

	// For has_many
	OrderBy string

	// For has_many_through
	JoinTable      string
	AssociationKey string
}

// ResourceSchema represents the schema of a queryable resource
type ResourceSchema struct {
	Name          string
	Documentation string

	Fields        map[string]*Field
	Relationships map[string]*Relationship

	// Metadata
	TableName string
}

// NewResourceSchema creates a new ResourceSchema
func NewResourceSchema(name string) *ResourceSchema {
	return &ResourceSchema{
		Name:          name,
		Fields:        make(map[string]*Field),
		Relationships: make(map[string]*Relationship),
		TableName:     TableName(name),
	}
}

// HasField returns true if the resource has a field with the given name
func (r *ResourceSchema) HasField(name string) bool {
	_, exists := r.Fields[name]
	return exists
}

// HasRelationship returns true if the resource has a relationship with the given name
func (r *ResourceSchema) HasRelationship(name string) bool {
	_, exists := r.Relationships[name]
	return exists
}

// ForeignKeyFor returns the column holding the key that links rel to this resource.
// For belongs_to it lives on this resource, otherwise on the target or join table.
func (r *ResourceSchema) ForeignKeyFor(rel *Relationship) string {
	if rel.ForeignKey != "" {
		return rel.ForeignKey
	}
	if rel.Type == RelationshipBelongsTo {
		return ToSnakeCase(rel.TargetResource) + "_id"
	}
	return ToSnakeCase(r.Name) + "_id"
}

// AssociationKeyFor returns the join table column pointing at the target resource
func (r *ResourceSchema) AssociationKeyFor(rel *Relationship) string {
	if rel.AssociationKey != "" {
		return rel.AssociationKey
	}
	return ToSnakeCase(rel.TargetResource) + "_id"
}

// JoinTableFor returns the join table of a has_many_through relationship
func (r *ResourceSchema) JoinTableFor(rel *Relationship) string {
	if rel.JoinTable != "" {
		return rel.JoinTable
	}
	return ToSnakeCase(r.Name) + "_" + ToSnakeCase(rel.TargetResource) + "s"
}

// TableName converts a resource name to a table name (snake_case plural)
func TableName(resourceName string) string {
	return pluralize(ToSnakeCase(resourceName))
}

// ToSnakeCase converts a string to snake_case
func ToSnakeCase(s string) string {
	var result []rune
	runes := []rune(s)

	for i, r := range runes {
		if i > 0 && r >= 'A' && r <= 'Z' {
			prev := runes[i-1]
			// Add underscore on a camelCase boundary or at the end of an
			// acronym ("HTTPServer" -> "http_server")
			if prev >= 'a' && prev <= 'z' {
				result = append(result, '_')
			} else if i+1 < len(runes) && runes[i+1] >= 'a' && runes[i+1] <= 'z' {
				result = append(result, '_')
			}
		}
		if r >= 'A' && r <= 'Z' {
			result = append(result, r+('a'-'A'))
		} else {
			result = append(result, r)
		}
	}
	return string(result)
}

// pluralize adds simple pluralization
func pluralize(s string) string {
	if strings.HasSuffix(s, "s") ||
		strings.HasSuffix(s, "x") ||
		strings.HasSuffix(s, "z") {
		return s + "es"
	}
	if strings.HasSuffix(s, "y") {
		return s[:len(s)-1] + "ies"
	}
	return s + "s"
}
