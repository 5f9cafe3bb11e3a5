package manifest

import (
	"fmt"
	"sort"

	"github.com/conduit-lang/prepared/internal/orm/properties"
	"github.com/conduit-lang/prepared/internal/orm/query"
	"github.com/conduit-lang/prepared/internal/orm/schema"
)

// Catalog holds the registries built from a manifest. The property
// registry is sealed.
type Catalog struct {
	Schemas    *schema.Registry
	Properties *properties.Registry
}

// Resources returns the schemas keyed by resource name
func (c *Catalog) Resources() map[string]*schema.ResourceSchema {
	return c.Schemas.All()
}

// Build registers every resource and its properties
func (m *Manifest) Build() (*Catalog, error) {
	schemas := schema.NewRegistry()
	for _, res := range m.Resources {
		rs, err := res.toSchema()
		if err != nil {
			return nil, fmt.Errorf("manifest: %s: %w", res.Name, err)
		}
		if err := schemas.Register(rs); err != nil {
			return nil, fmt.Errorf("manifest: %w", err)
		}
	}
	if err := schemas.ValidateAll(); err != nil {
		return nil, fmt.Errorf("manifest: %w", err)
	}

	all := schemas.All()
	props := properties.NewRegistry()
	for _, res := range m.Resources {
		descriptors := make([]*properties.Descriptor, 0, len(res.Properties))
		for _, prop := range res.Properties {
			d, err := prop.toDescriptor(all[res.Name], all, res.Properties)
			if err != nil {
				return nil, fmt.Errorf("manifest: %s.%s: %w", res.Name, prop.Name, err)
			}
			descriptors = append(descriptors, d)
		}
		if err := props.RegisterResource(res.Name, descriptors...); err != nil {
			return nil, fmt.Errorf("manifest: %w", err)
		}
	}
	props.Seal()

	return &Catalog{Schemas: schemas, Properties: props}, nil
}

func (res Resource) toSchema() (*schema.ResourceSchema, error) {
	rs := schema.NewResourceSchema(res.Name)
	rs.Documentation = res.Documentation
	if res.Table != "" {
		rs.TableName = res.Table
	}

	for name, spec := range res.Fields {
		ts, err := schema.ParseTypeSpec(spec)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", name, err)
		}
		rs.Fields[name] = &schema.Field{Name: name, Type: ts}
	}

	for name, rel := range res.Relationships {
		kind, err := schema.ParseRelationType(rel.Type)
		if err != nil {
			return nil, fmt.Errorf("relationship %s: %w", name, err)
		}
		rs.Relationships[name] = &schema.Relationship{
			Type:           kind,
			TargetResource: rel.Target,
			FieldName:      name,
			Nullable:       rel.Nullable,
			ForeignKey:     rel.ForeignKey,
			OrderBy:        rel.OrderBy,
			JoinTable:      rel.JoinTable,
			AssociationKey: rel.AssociationKey,
		}
	}

	return rs, nil
}

// toDescriptor builds the descriptor of prop. Sibling properties named by
// an annotate expression become dependencies even when depends_on omits
// them.
func (prop Property) toDescriptor(owner *schema.ResourceSchema, all map[string]*schema.ResourceSchema, siblings []Property) (*properties.Descriptor, error) {
	declared := make(map[string]bool, len(siblings))
	prefetched := make(map[string]bool)
	for _, s := range siblings {
		declared[s.Name] = true
		if s.Prefetch != nil {
			prefetched[s.Name] = true
		}
	}

	deps := append([]string(nil), prop.DependsOn...)
	for _, dep := range deps {
		if !declared[dep] {
			return nil, fmt.Errorf("depends on undeclared property %s", dep)
		}
	}

	if prop.Prefetch != nil {
		p, err := prefetchPayload(owner, all, prop.Prefetch)
		if err != nil {
			return nil, err
		}
		return properties.Prefetched(owner.Name, prop.Name, p, properties.DependsOn(deps...)), nil
	}

	expr, err := decodeExpr(&prop.Annotate)
	if err != nil {
		return nil, err
	}
	refs := expr.References()
	sort.Strings(refs)
	for _, ref := range refs {
		switch {
		case prefetched[ref]:
			return nil, fmt.Errorf("%w: %s is a prefetched property and has no column to compute with", query.ErrUnknownReference, ref)
		case declared[ref]:
			deps = append(deps, ref)
		case owner.HasField(ref):
		default:
			return nil, fmt.Errorf("%w: %s is neither a field nor a property of %s", query.ErrUnknownReference, ref, owner.Name)
		}
	}

	return properties.Annotated(owner.Name, prop.Name, properties.Eager(expr), properties.DependsOn(deps...)), nil
}

// prefetchPayload checks the prefetch against the schemas and returns a
// payload that builds a fresh restricting query each time it is resolved
func prefetchPayload(owner *schema.ResourceSchema, all map[string]*schema.ResourceSchema, spec *PrefetchSpec) (properties.Lazy[*query.Prefetch], error) {
	var none properties.Lazy[*query.Prefetch]

	rel, ok := owner.Relationships[spec.Relation]
	if !ok {
		return none, fmt.Errorf("%w: %s on %s", query.ErrUnknownRelation, spec.Relation, owner.Name)
	}
	target := all[rel.TargetResource]

	type restriction struct {
		field string
		op    query.Operator
		value interface{}
	}
	restrictions := make([]restriction, 0, len(spec.Where))
	for _, cond := range spec.Where {
		if !target.HasField(cond.Field) {
			return none, fmt.Errorf("%w: %s on %s", query.ErrUnknownReference, cond.Field, target.Name)
		}
		op, err := query.ParseOperator(cond.Op)
		if err != nil {
			return none, fmt.Errorf("where %s: %w", cond.Field, err)
		}
		restrictions = append(restrictions, restriction{field: cond.Field, op: op, value: cond.Value})
	}

	relation := spec.Relation
	return properties.Deferred(func() (*query.Prefetch, error) {
		if len(restrictions) == 0 {
			return query.NewPrefetch(relation, nil), nil
		}
		restrict := query.NewQueryBuilder(target, nil, all)
		for _, r := range restrictions {
			restrict.Where(r.field, r.op, r.value)
		}
		return query.NewPrefetch(relation, restrict), nil
	}), nil
}
