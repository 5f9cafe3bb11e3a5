package properties

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrCyclicDependency is returned when properties depend on each other in a loop
	ErrCyclicDependency = errors.New("cyclic property dependency")

	// ErrUnknownDependency is returned when a declared dependency does not exist on the owner
	ErrUnknownDependency = errors.New("unknown property dependency")

	// ErrOwnerMismatch is returned when a property is prepared on a query of another resource
	ErrOwnerMismatch = errors.New("property owner mismatch")

	// ErrInvalidDescriptor is returned when a property declaration is malformed
	ErrInvalidDescriptor = errors.New("invalid property descriptor")

	// ErrDuplicateProperty is returned when a property name is registered twice on one owner
	ErrDuplicateProperty = errors.New("duplicate property")

	// ErrUnknownProperty is returned when a property name is not registered on the owner
	ErrUnknownProperty = errors.New("unknown property")

	// ErrRegistrySealed is returned when registering after the registry was sealed
	ErrRegistrySealed = errors.New("property registry is sealed")

	// ErrNotPrepared is returned when reading a property that was neither
	// prepared on the query nor declared with a fallback
	ErrNotPrepared = errors.New("property not prepared")
)

// CycleError names the chain of properties that loops back on itself,
// e.g. Group.a -> Group.b -> Group.a
type CycleError struct {
	Chain []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("%s: %s", ErrCyclicDependency, strings.Join(e.Chain, " -> "))
}

func (e *CycleError) Unwrap() error {
	return ErrCyclicDependency
}

// UnknownDependencyError names a dependency that is not declared on the owner
type UnknownDependencyError struct {
	Owner      string
	Property   string
	Dependency string
}

func (e *UnknownDependencyError) Error() string {
	return fmt.Sprintf("%s: %s.%s depends on %s, which %s does not declare",
		ErrUnknownDependency, e.Owner, e.Property, e.Dependency, e.Owner)
}

func (e *UnknownDependencyError) Unwrap() error {
	return ErrUnknownDependency
}

// OwnerMismatchError reports a property handle used on a query of another resource
type OwnerMismatchError struct {
	Property string
	Owner    string
	Resource string
}

func (e *OwnerMismatchError) Error() string {
	return fmt.Sprintf("%s: %s.%s cannot be prepared on a %s query",
		ErrOwnerMismatch, e.Owner, e.Property, e.Resource)
}

func (e *OwnerMismatchError) Unwrap() error {
	return ErrOwnerMismatch
}
