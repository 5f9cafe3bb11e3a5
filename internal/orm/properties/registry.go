package properties

import (
	"fmt"
	"sort"
	"sync"
)

// Registry holds the computed properties of every resource. It is filled once
// while resources are declared and then sealed; lookups are safe for
// concurrent use.
type Registry struct {
	owners map[string]*ownerProperties
	sealed bool
	mu     sync.RWMutex
}

type ownerProperties struct {
	order  []*Descriptor
	byName map[string]*Descriptor
}

// NewRegistry creates an empty property registry
func NewRegistry() *Registry {
	return &Registry{
		owners: make(map[string]*ownerProperties),
	}
}

// Register adds a single property declaration
func (r *Registry) Register(d *Descriptor) error {
	if d == nil {
		return fmt.Errorf("%w: nil descriptor", ErrInvalidDescriptor)
	}
	return r.RegisterResource(d.Owner(), d)
}

// RegisterResource declares the properties of one resource. Either all of
// them are registered or, on error, none are.
func (r *Registry) RegisterResource(owner string, descriptors ...*Descriptor) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return fmt.Errorf("%w: cannot register properties of %s", ErrRegistrySealed, owner)
	}

	existing := r.owners[owner]
	batch := make(map[string]bool, len(descriptors))
	for _, d := range descriptors {
		if d == nil {
			return fmt.Errorf("%w: nil descriptor for %s", ErrInvalidDescriptor, owner)
		}
		if d.Owner() != owner {
			return &OwnerMismatchError{Property: d.Name(), Owner: d.Owner(), Resource: owner}
		}
		if err := d.Validate(); err != nil {
			return err
		}
		if batch[d.Name()] {
			return fmt.Errorf("%w: %s", ErrDuplicateProperty, d.Key())
		}
		if existing != nil {
			if _, ok := existing.byName[d.Name()]; ok {
				return fmt.Errorf("%w: %s", ErrDuplicateProperty, d.Key())
			}
		}
		batch[d.Name()] = true
	}

	if existing == nil {
		existing = &ownerProperties{byName: make(map[string]*Descriptor)}
		r.owners[owner] = existing
	}
	for _, d := range descriptors {
		existing.order = append(existing.order, d)
		existing.byName[d.Name()] = d
	}
	return nil
}

// Lookup returns the property called name on owner
func (r *Registry) Lookup(owner, name string) (*Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	props, ok := r.owners[owner]
	if !ok {
		return nil, false
	}
	d, ok := props.byName[name]
	return d, ok
}

// Handles looks up several properties of owner, failing on the first unknown name
func (r *Registry) Handles(owner string, names ...string) ([]*Descriptor, error) {
	handles := make([]*Descriptor, 0, len(names))
	for _, name := range names {
		d, ok := r.Lookup(owner, name)
		if !ok {
			return nil, fmt.Errorf("%w: %s.%s", ErrUnknownProperty, owner, name)
		}
		handles = append(handles, d)
	}
	return handles, nil
}

// Properties returns the properties of owner in declaration order
func (r *Registry) Properties(owner string) []*Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	props, ok := r.owners[owner]
	if !ok {
		return nil
	}
	out := make([]*Descriptor, len(props.order))
	copy(out, props.order)
	return out
}

// Owners returns the sorted names of resources with at least one property
func (r *Registry) Owners() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	owners := make([]string, 0, len(r.owners))
	for owner := range r.owners {
		owners = append(owners, owner)
	}
	sort.Strings(owners)
	return owners
}

// Count returns the number of registered properties
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := 0
	for _, props := range r.owners {
		count += len(props.order)
	}
	return count
}

// Seal rejects any later registration
func (r *Registry) Seal() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sealed = true
}

// Sealed reports whether the registry was sealed
func (r *Registry) Sealed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sealed
}
