// Package properties declares computed properties of resources and prepares
// queries so that every requested property, and everything it depends on, is
// present on the returned records.
//
// An annotated property binds an expression evaluated by the database. A
// prefetched property loads a restricted relation alongside the query.
// Annotated properties may depend on other properties of the same resource;
// Prepare applies the dependencies first.
package properties

import (
	"fmt"

	"github.com/conduit-lang/prepared/internal/orm/query"
)

// Kind identifies how a property is produced
type Kind int

const (
	// KindAnnotated properties bind an expression to the query
	KindAnnotated Kind = iota
	// KindPrefetched properties load a relation into an attribute
	KindPrefetched
)

// String returns the string representation of the kind
func (k Kind) String() string {
	switch k {
	case KindAnnotated:
		return "annotated"
	case KindPrefetched:
		return "prefetched"
	default:
		return "unknown"
	}
}

// Getter computes an annotated property for a single record that was
// loaded without preparing it
type Getter func(record map[string]interface{}) (interface{}, error)

// Option configures a Descriptor
type Option func(*Descriptor)

// DependsOn declares the properties of the same resource that must be
// applied before this one. Repeated names are kept once.
func DependsOn(names ...string) Option {
	return func(d *Descriptor) {
		for _, name := range names {
			if !contains(d.dependsOn, name) {
				d.dependsOn = append(d.dependsOn, name)
			}
		}
	}
}

// WithFallback sets the getter used when the property is read from a record
// of a query it was not prepared on
func WithFallback(getter Getter) Option {
	return func(d *Descriptor) {
		d.fallback = getter
	}
}

// Descriptor declares one computed property of a resource.
// It is immutable once built.
type Descriptor struct {
	owner     string
	name      string
	kind      Kind
	expr      Lazy[query.Expression]
	prefetch  Lazy[*query.Prefetch]
	dependsOn []string
	fallback  Getter
}

// Annotated declares a property computed by expr
func Annotated(owner, name string, expr Lazy[query.Expression], opts ...Option) *Descriptor {
	d := &Descriptor{owner: owner, name: name, kind: KindAnnotated, expr: expr}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Prefetched declares a property holding the relation loaded by p
func Prefetched(owner, name string, p Lazy[*query.Prefetch], opts ...Option) *Descriptor {
	d := &Descriptor{owner: owner, name: name, kind: KindPrefetched, prefetch: p}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Name returns the property name, which is also the name of the value on records
func (d *Descriptor) Name() string { return d.name }

// Owner returns the resource the property is declared on
func (d *Descriptor) Owner() string { return d.owner }

// Kind returns how the property is produced
func (d *Descriptor) Kind() Kind { return d.kind }

// Fallback returns the fallback getter, or nil
func (d *Descriptor) Fallback() Getter { return d.fallback }

// DependsOn returns the declared dependency names in declaration order
func (d *Descriptor) DependsOn() []string {
	deps := make([]string, len(d.dependsOn))
	copy(deps, d.dependsOn)
	return deps
}

// Key identifies the property across resources: "Owner.name"
func (d *Descriptor) Key() string {
	return d.owner + "." + d.name
}

func (d *Descriptor) String() string {
	return fmt.Sprintf("<%s %s>", d.kind, d.Key())
}

// Validate checks the declaration. Prefetched properties can neither
// depend on other properties nor carry a fallback.
func (d *Descriptor) Validate() error {
	if d.owner == "" {
		return fmt.Errorf("%w: property %q has no owner", ErrInvalidDescriptor, d.name)
	}
	if d.name == "" {
		return fmt.Errorf("%w: property on %s has no name", ErrInvalidDescriptor, d.owner)
	}

	switch d.kind {
	case KindAnnotated:
		if !d.expr.IsDeferred() && d.expr.value == nil {
			return fmt.Errorf("%w: %s has no expression", ErrInvalidDescriptor, d.Key())
		}
		if d.expr.IsDeferred() && d.expr.factory == nil {
			return fmt.Errorf("%w: %s has no expression factory", ErrInvalidDescriptor, d.Key())
		}
		for _, dep := range d.dependsOn {
			if dep == "" {
				return fmt.Errorf("%w: %s declares an empty dependency", ErrInvalidDescriptor, d.Key())
			}
		}
	case KindPrefetched:
		if !d.prefetch.IsDeferred() && d.prefetch.value == nil {
			return fmt.Errorf("%w: %s has no prefetch", ErrInvalidDescriptor, d.Key())
		}
		if d.prefetch.IsDeferred() && d.prefetch.factory == nil {
			return fmt.Errorf("%w: %s has no prefetch factory", ErrInvalidDescriptor, d.Key())
		}
		if len(d.dependsOn) > 0 {
			return fmt.Errorf("%w: prefetched property %s cannot declare dependencies", ErrInvalidDescriptor, d.Key())
		}
		if d.fallback != nil {
			return fmt.Errorf("%w: prefetched property %s cannot declare a fallback", ErrInvalidDescriptor, d.Key())
		}
	default:
		return fmt.Errorf("%w: %s has unknown kind %d", ErrInvalidDescriptor, d.Key(), d.kind)
	}

	return nil
}

func contains(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}
