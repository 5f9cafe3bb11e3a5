package properties

// Lazy holds a payload that is either known up front (Eager) or built on
// demand by a factory (Deferred). A deferred factory runs on every Resolve;
// nothing is cached, so each prepared query gets its own payload instance.
type Lazy[T any] struct {
	value    T
	factory  func() (T, error)
	deferred bool
}

// Eager wraps a payload that is already built
func Eager[T any](value T) Lazy[T] {
	return Lazy[T]{value: value}
}

// Deferred wraps a factory that builds the payload when it is needed.
// It lets a property refer to resources that are declared after it.
func Deferred[T any](factory func() (T, error)) Lazy[T] {
	return Lazy[T]{factory: factory, deferred: true}
}

// IsDeferred reports whether the payload is built by a factory
func (l Lazy[T]) IsDeferred() bool {
	return l.deferred
}

// Resolve returns the payload, running the factory of a deferred payload
func (l Lazy[T]) Resolve() (T, error) {
	if l.deferred {
		return l.factory()
	}
	return l.value, nil
}
