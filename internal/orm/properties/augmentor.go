package properties

import (
	"fmt"

	"github.com/conduit-lang/prepared/internal/orm/query"
	"go.uber.org/zap"
)

// Query is the part of a query builder that computed properties are applied to
type Query interface {
	// Resource returns the name of the resource the query selects
	Resource() string

	// Annotate binds expr to name on every returned record
	Annotate(name string, expr query.Expression) error

	// Prefetch loads a relation into attr on every returned record
	Prefetch(attr string, p *query.Prefetch) error

	// IsPrepared reports whether the property called name was applied
	IsPrepared(name string) bool

	// MarkPrepared records that the property called name was applied
	MarkPrepared(name string)
}

// Augmentor applies ordered properties to a query
type Augmentor struct {
	logger *zap.Logger
}

// NewAugmentor creates an augmentor. A nil logger discards output.
func NewAugmentor(logger *zap.Logger) *Augmentor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Augmentor{logger: logger}
}

// Augment applies every property in order, skipping those the query already
// carries. The first property the query rejects stops the pass; properties
// applied before it stay applied.
func (a *Augmentor) Augment(q Query, ordered []*Descriptor) (Query, error) {
	for _, d := range ordered {
		if q.IsPrepared(d.Name()) {
			a.logger.Debug("property already prepared", zap.String("property", d.Key()))
			continue
		}

		if err := a.apply(q, d); err != nil {
			return q, fmt.Errorf("failed to prepare %s: %w", d.Key(), err)
		}

		q.MarkPrepared(d.Name())
		a.logger.Debug("property prepared",
			zap.String("property", d.Key()),
			zap.Stringer("kind", d.Kind()),
		)
	}

	return q, nil
}

func (a *Augmentor) apply(q Query, d *Descriptor) error {
	switch d.Kind() {
	case KindAnnotated:
		expr, err := d.expr.Resolve()
		if err != nil {
			return fmt.Errorf("failed to build expression: %w", err)
		}
		return q.Annotate(d.Name(), expr)
	case KindPrefetched:
		p, err := d.prefetch.Resolve()
		if err != nil {
			return fmt.Errorf("failed to build prefetch: %w", err)
		}
		return q.Prefetch(d.Name(), p)
	default:
		return fmt.Errorf("%w: unknown kind %d", ErrInvalidDescriptor, d.Kind())
	}
}
