package properties

import "fmt"

// Resolver orders requested properties so that each one comes after the
// properties it depends on. Dependencies are looked up in the registry on
// the owner of the property that declares them.
type Resolver struct {
	registry *Registry
}

// NewResolver creates a resolver over registry
func NewResolver(registry *Registry) *Resolver {
	return &Resolver{registry: registry}
}

// resolution is the state of one Resolve call
type resolution struct {
	registry   *Registry
	emitted    map[string]bool
	inProgress map[string]bool
	path       []string
	ordered    []*Descriptor
}

// Resolve returns the requested properties and their transitive dependencies,
// each exactly once, dependencies first. Siblings keep declaration order.
//
// A requested property that is also a dependency of another requested
// property is placed where the dependent needs it, so requesting it
// separately does not change the order.
func (r *Resolver) Resolve(requested []*Descriptor) ([]*Descriptor, error) {
	for _, d := range requested {
		if d == nil {
			return nil, fmt.Errorf("%w: nil property handle", ErrInvalidDescriptor)
		}
	}

	res := &resolution{
		registry:   r.registry,
		emitted:    make(map[string]bool),
		inProgress: make(map[string]bool),
		ordered:    make([]*Descriptor, 0, len(requested)),
	}

	reachable := r.dependencyClosure(requested)
	for _, d := range requested {
		if reachable[d.Key()] {
			continue
		}
		if err := res.visit(d); err != nil {
			return nil, err
		}
	}

	// Properties skipped above are emitted by now unless they only reach
	// each other through a cycle; visiting them reports it
	for _, d := range requested {
		if err := res.visit(d); err != nil {
			return nil, err
		}
	}

	return res.ordered, nil
}

// dependencyClosure returns the keys reachable from requested through at
// least one dependency edge. Unknown names are left for visit to report.
func (r *Resolver) dependencyClosure(requested []*Descriptor) map[string]bool {
	reachable := make(map[string]bool)
	var walk func(d *Descriptor)
	walk = func(d *Descriptor) {
		for _, name := range d.dependsOn {
			dep, ok := r.registry.Lookup(d.Owner(), name)
			if !ok || reachable[dep.Key()] {
				continue
			}
			reachable[dep.Key()] = true
			walk(dep)
		}
	}

	for _, d := range requested {
		walk(d)
	}
	return reachable
}

func (res *resolution) visit(d *Descriptor) error {
	key := d.Key()
	if res.emitted[key] {
		return nil
	}

	if d.Kind() == KindPrefetched {
		res.emit(d)
		return nil
	}

	if res.inProgress[key] {
		return &CycleError{Chain: res.cycleFrom(key)}
	}

	res.inProgress[key] = true
	res.path = append(res.path, key)

	for _, name := range d.dependsOn {
		dep, ok := res.registry.Lookup(d.Owner(), name)
		if !ok {
			return &UnknownDependencyError{Owner: d.Owner(), Property: d.Name(), Dependency: name}
		}
		if err := res.visit(dep); err != nil {
			return err
		}
	}

	res.path = res.path[:len(res.path)-1]
	delete(res.inProgress, key)
	res.emit(d)
	return nil
}

func (res *resolution) emit(d *Descriptor) {
	res.emitted[d.Key()] = true
	res.ordered = append(res.ordered, d)
}

// cycleFrom returns the in-progress path starting at key, closed by key
func (res *resolution) cycleFrom(key string) []string {
	for i, k := range res.path {
		if k == key {
			chain := make([]string, 0, len(res.path)-i+1)
			chain = append(chain, res.path[i:]...)
			return append(chain, key)
		}
	}
	return []string{key, key}
}
