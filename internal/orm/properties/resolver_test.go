package properties

import (
	"errors"
	"fmt"
	"math/rand"
	"testing"

	"github.com/conduit-lang/prepared/internal/orm/query"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveEmpty(t *testing.T) {
	ordered, err := NewResolver(NewRegistry()).Resolve(nil)
	require.NoError(t, err)
	assert.Empty(t, ordered)
}

func TestResolveDependencyFirst(t *testing.T) {
	total := value("Group", "total")
	double := value("Group", "double", "total")
	resolver := NewResolver(registryOf(t, total, double))

	ordered, err := resolver.Resolve([]*Descriptor{double})
	require.NoError(t, err)
	assert.Equal(t, []string{"Group.total", "Group.double"}, keys(ordered))

	ordered, err = resolver.Resolve([]*Descriptor{double, total})
	require.NoError(t, err)
	assert.Equal(t, []string{"Group.total", "Group.double"}, keys(ordered))

	ordered, err = resolver.Resolve([]*Descriptor{double, double})
	require.NoError(t, err)
	assert.Equal(t, []string{"Group.total", "Group.double"}, keys(ordered))
}

func TestResolveRequestingADependencyDoesNotReorder(t *testing.T) {
	a := value("Group", "a")
	b := value("Group", "b")
	x := value("Group", "x", "b", "a")
	resolver := NewResolver(registryOf(t, a, b, x))

	alone, err := resolver.Resolve([]*Descriptor{x})
	require.NoError(t, err)
	assert.Equal(t, []string{"Group.b", "Group.a", "Group.x"}, keys(alone))

	withDep, err := resolver.Resolve([]*Descriptor{a, x})
	require.NoError(t, err)
	assert.Equal(t, keys(alone), keys(withDep))
}

func TestResolveSharedDescendant(t *testing.T) {
	schemas := groupSchemas()
	r := groupRegistry(t, schemas)
	resolver := NewResolver(r)

	ordered, err := resolver.Resolve([]*Descriptor{
		lookup(t, r, "Group", "count_times_three"),
		lookup(t, r, "Group", "is_empty"),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"Group.people_count",
		"Group.count_times_two",
		"Group.count_times_three",
		"Group.is_empty",
	}, keys(ordered))
}

func TestResolvePrefetchedIsEmittedInPlace(t *testing.T) {
	schemas := groupSchemas()
	r := groupRegistry(t, schemas)

	ordered, err := NewResolver(r).Resolve([]*Descriptor{
		lookup(t, r, "Group", "children"),
		lookup(t, r, "Group", "count_times_two"),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"Group.children", "Group.people_count", "Group.count_times_two"}, keys(ordered))
}

func TestResolveCycle(t *testing.T) {
	a := value("Group", "a", "b")
	b := value("Group", "b", "a")
	resolver := NewResolver(registryOf(t, a, b))

	tests := []struct {
		name      string
		requested []*Descriptor
		chain     []string
	}{
		{"from a", []*Descriptor{a}, []string{"Group.a", "Group.b", "Group.a"}},
		{"from b", []*Descriptor{b}, []string{"Group.b", "Group.a", "Group.b"}},
		{"both", []*Descriptor{a, b}, []string{"Group.a", "Group.b", "Group.a"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ordered, err := resolver.Resolve(tt.requested)
			assert.Nil(t, ordered)
			require.ErrorIs(t, err, ErrCyclicDependency)

			var cycle *CycleError
			require.True(t, errors.As(err, &cycle))
			assert.Equal(t, tt.chain, cycle.Chain)
			assert.Contains(t, err.Error(), "Group.a -> Group.b")
		})
	}
}

func TestResolveCycleBelowRequested(t *testing.T) {
	top := value("Group", "top", "a")
	a := value("Group", "a", "b")
	b := value("Group", "b", "c")
	c := value("Group", "c", "a")
	resolver := NewResolver(registryOf(t, top, a, b, c))

	_, err := resolver.Resolve([]*Descriptor{top})
	var cycle *CycleError
	require.True(t, errors.As(err, &cycle))
	assert.Equal(t, []string{"Group.a", "Group.b", "Group.c", "Group.a"}, cycle.Chain)
}

func TestResolveSelfDependency(t *testing.T) {
	self := value("Group", "self", "self")
	_, err := NewResolver(registryOf(t, self)).Resolve([]*Descriptor{self})

	var cycle *CycleError
	require.True(t, errors.As(err, &cycle))
	assert.Equal(t, []string{"Group.self", "Group.self"}, cycle.Chain)
}

func TestResolveUnknownDependency(t *testing.T) {
	double := value("Group", "double", "total")
	// total exists, but on another owner
	resolver := NewResolver(registryOf(t, double, value("Person", "total")))

	_, err := resolver.Resolve([]*Descriptor{double})
	require.ErrorIs(t, err, ErrUnknownDependency)

	var unknown *UnknownDependencyError
	require.True(t, errors.As(err, &unknown))
	assert.Equal(t, "Group", unknown.Owner)
	assert.Equal(t, "double", unknown.Property)
	assert.Equal(t, "total", unknown.Dependency)
}

func TestResolveNilHandle(t *testing.T) {
	_, err := NewResolver(NewRegistry()).Resolve([]*Descriptor{nil})
	assert.ErrorIs(t, err, ErrInvalidDescriptor)
}

func TestResolveProducesTopologicalOrder(t *testing.T) {
	rng := rand.New(rand.NewSource(7))

	for round := 0; round < 50; round++ {
		// Each property may only depend on properties with a lower index,
		// which keeps the graph acyclic
		n := 2 + rng.Intn(12)
		all := make([]*Descriptor, n)
		for i := 0; i < n; i++ {
			var deps []string
			for j := 0; j < i; j++ {
				if rng.Intn(3) == 0 {
					deps = append(deps, fmt.Sprintf("p%d", j))
				}
			}
			if rng.Intn(5) == 0 {
				all[i] = Prefetched("Group", fmt.Sprintf("p%d", i), Eager(query.NewPrefetch("people", nil)))
			} else {
				all[i] = value("Group", fmt.Sprintf("p%d", i), deps...)
			}
		}
		resolver := NewResolver(registryOf(t, all...))

		var requested []*Descriptor
		for _, d := range all {
			if rng.Intn(2) == 0 {
				requested = append(requested, d, d)
			}
		}

		ordered, err := resolver.Resolve(requested)
		require.NoError(t, err)

		position := make(map[string]int, len(ordered))
		for i, d := range ordered {
			_, seen := position[d.Key()]
			require.False(t, seen, "round %d: %s emitted twice", round, d.Key())
			position[d.Key()] = i
		}
		for _, d := range requested {
			assert.Contains(t, position, d.Key())
		}
		for _, d := range ordered {
			for _, dep := range d.DependsOn() {
				depPos, ok := position["Group."+dep]
				require.True(t, ok, "round %d: dependency %s of %s missing", round, dep, d.Key())
				assert.Less(t, depPos, position[d.Key()], "round %d", round)
			}
		}

		// Adding a dependency of a requested property to the request
		// never changes the order
		if len(requested) > 0 {
			last := requested[len(requested)-1]
			deps := last.DependsOn()
			if len(deps) > 0 {
				dep := lookup(t, resolver.registry, "Group", deps[0])
				again, err := resolver.Resolve(append([]*Descriptor{dep}, requested...))
				require.NoError(t, err)
				assert.Equal(t, keys(ordered), keys(again), "round %d", round)
			}
		}
	}
}
