package properties

import (
	"fmt"
	"testing"

	"github.com/conduit-lang/prepared/internal/orm/query"
	"github.com/conduit-lang/prepared/internal/orm/schema"
	"github.com/stretchr/testify/require"
)

// fakeQuery records the directives applied to it
type fakeQuery struct {
	resource string
	applied  []string
	prepared map[string]bool
	reject   string
}

func newFakeQuery(resource string) *fakeQuery {
	return &fakeQuery{resource: resource, prepared: make(map[string]bool)}
}

func (q *fakeQuery) Resource() string { return q.resource }

func (q *fakeQuery) Annotate(name string, expr query.Expression) error {
	if name == q.reject {
		return fmt.Errorf("annotation %s rejected", name)
	}
	q.applied = append(q.applied, "annotate:"+name)
	return nil
}

func (q *fakeQuery) Prefetch(attr string, p *query.Prefetch) error {
	if attr == q.reject {
		return fmt.Errorf("prefetch %s rejected", attr)
	}
	q.applied = append(q.applied, "prefetch:"+attr)
	return nil
}

func (q *fakeQuery) IsPrepared(name string) bool { return q.prepared[name] }

func (q *fakeQuery) MarkPrepared(name string) { q.prepared[name] = true }

func expr(e query.Expression) Lazy[query.Expression] {
	return Eager(e)
}

// value declares an annotated property with a constant expression
func value(owner, name string, deps ...string) *Descriptor {
	return Annotated(owner, name, expr(query.Value(1)), DependsOn(deps...))
}

func keys(ds []*Descriptor) []string {
	out := make([]string, len(ds))
	for i, d := range ds {
		out[i] = d.Key()
	}
	return out
}

func registryOf(t *testing.T, ds ...*Descriptor) *Registry {
	t.Helper()
	r := NewRegistry()
	for _, d := range ds {
		require.NoError(t, r.Register(d))
	}
	return r
}

func intField(name string) *schema.Field {
	return &schema.Field{Name: name, Type: &schema.TypeSpec{BaseType: schema.TypeInt}}
}

// groupSchemas describes groups of people joined through memberships
func groupSchemas() map[string]*schema.ResourceSchema {
	group := schema.NewResourceSchema("Group")
	group.TableName = "user_groups"
	group.Fields["id"] = intField("id")
	group.Relationships["people"] = &schema.Relationship{
		Type:           schema.RelationshipHasManyThrough,
		TargetResource: "Person",
		FieldName:      "people",
		JoinTable:      "group_memberships",
		ForeignKey:     "group_id",
		AssociationKey: "person_id",
	}

	person := schema.NewResourceSchema("Person")
	person.TableName = "people"
	person.Fields["id"] = intField("id")
	person.Fields["age"] = intField("age")

	return map[string]*schema.ResourceSchema{
		"Group":  group,
		"Person": person,
	}
}

// groupProperties declares the computed properties of Group
func groupProperties(schemas map[string]*schema.ResourceSchema) []*Descriptor {
	peopleCount := Annotated("Group", "people_count", expr(query.Count("people")),
		WithFallback(func(record map[string]interface{}) (interface{}, error) {
			people, ok := record["people"].([]map[string]interface{})
			if !ok {
				return nil, fmt.Errorf("people are not loaded")
			}
			return int64(len(people)), nil
		}))

	countTimesTwo := Annotated("Group", "count_times_two",
		expr(query.Mul(query.F("people_count"), query.Value(2))),
		DependsOn("people_count"))

	isEmpty := Annotated("Group", "is_empty",
		expr(query.Case(
			query.When(query.Compare(query.F("people_count"), query.OpEqual, query.Value(0)), query.Value(true)),
		).Else(query.Value(false))),
		DependsOn("people_count"))

	countTimesThree := Annotated("Group", "count_times_three",
		expr(query.Add(query.F("people_count"), query.F("count_times_two"))),
		DependsOn("people_count", "count_times_two"))

	children := Prefetched("Group", "children", Deferred(func() (*query.Prefetch, error) {
		restrict := query.NewQueryBuilder(schemas["Person"], nil, schemas).
			Where("age", query.OpLessThanOrEqual, 18)
		return query.NewPrefetch("people", restrict), nil
	}))

	return []*Descriptor{peopleCount, countTimesTwo, isEmpty, countTimesThree, children}
}

func groupRegistry(t *testing.T, schemas map[string]*schema.ResourceSchema) *Registry {
	t.Helper()
	r := NewRegistry()
	require.NoError(t, r.RegisterResource("Group", groupProperties(schemas)...))
	r.Seal()
	return r
}

func lookup(t *testing.T, r *Registry, owner, name string) *Descriptor {
	t.Helper()
	d, ok := r.Lookup(owner, name)
	require.True(t, ok, "%s.%s is not registered", owner, name)
	return d
}
