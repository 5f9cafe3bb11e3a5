package properties

import (
	"fmt"

	"go.uber.org/zap"
)

// Preparer applies computed properties to queries
type Preparer struct {
	registry  *Registry
	resolver  *Resolver
	augmentor *Augmentor
	logger    *zap.Logger
}

// NewPreparer creates a preparer over registry. A nil logger discards output.
func NewPreparer(registry *Registry, logger *zap.Logger) *Preparer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Preparer{
		registry:  registry,
		resolver:  NewResolver(registry),
		augmentor: NewAugmentor(logger),
		logger:    logger,
	}
}

// Registry returns the registry the preparer resolves dependencies in
func (p *Preparer) Registry() *Registry {
	return p.registry
}

// Prepare applies handles, and every property they depend on, to q.
//
// All handles must belong to the resource q selects. Nothing is applied
// unless every handle resolves. Properties already prepared on q are
// skipped, so Prepare may be called again on q or on queries cloned from it.
func (p *Preparer) Prepare(q Query, handles ...*Descriptor) (Query, error) {
	if len(handles) == 0 {
		return q, nil
	}

	resource := q.Resource()
	for _, d := range handles {
		if d == nil {
			return q, fmt.Errorf("%w: nil property handle", ErrInvalidDescriptor)
		}
		if d.Owner() != resource {
			return q, &OwnerMismatchError{Property: d.Name(), Owner: d.Owner(), Resource: resource}
		}
	}

	ordered, err := p.resolver.Resolve(handles)
	if err != nil {
		return q, err
	}

	if ce := p.logger.Check(zap.DebugLevel, "resolved properties"); ce != nil {
		keys := make([]string, len(ordered))
		for i, d := range ordered {
			keys[i] = d.Key()
		}
		ce.Write(zap.String("resource", resource), zap.Strings("order", keys))
	}

	return p.augmentor.Augment(q, ordered)
}

// PrepareNames looks up properties of q's resource by name and prepares them
func (p *Preparer) PrepareNames(q Query, names ...string) (Query, error) {
	handles, err := p.registry.Handles(q.Resource(), names...)
	if err != nil {
		return q, err
	}
	return p.Prepare(q, handles...)
}

// PrepareQuery is Prepare for a concrete query type
func PrepareQuery[Q Query](p *Preparer, q Q, handles ...*Descriptor) (Q, error) {
	if _, err := p.Prepare(q, handles...); err != nil {
		return q, err
	}
	return q, nil
}

// Value reads property d from a record loaded by q. A property that was not
// prepared on q is computed by its fallback getter and logged as a warning.
func (p *Preparer) Value(q Query, record map[string]interface{}, d *Descriptor) (interface{}, error) {
	if q.IsPrepared(d.Name()) {
		return record[d.Name()], nil
	}

	getter := d.Fallback()
	if getter == nil {
		return nil, fmt.Errorf("%w: %s; prepare it on the query first", ErrNotPrepared, d.Key())
	}

	p.logger.Warn("computing property without prepare",
		zap.String("property", d.Key()),
		zap.String("hint", "prepare the property on the query to compute it in the database"),
	)
	return getter(record)
}
