package properties

import (
	"errors"
	"testing"

	"github.com/conduit-lang/prepared/internal/orm/query"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindString(t *testing.T) {
	assert.Equal(t, "annotated", KindAnnotated.String())
	assert.Equal(t, "prefetched", KindPrefetched.String())
	assert.Equal(t, "unknown", Kind(9).String())
}

func TestDescriptorAccessors(t *testing.T) {
	d := value("Group", "double", "total", "base", "total")

	assert.Equal(t, "Group", d.Owner())
	assert.Equal(t, "double", d.Name())
	assert.Equal(t, KindAnnotated, d.Kind())
	assert.Equal(t, "Group.double", d.Key())
	assert.Equal(t, "<annotated Group.double>", d.String())
	assert.Equal(t, []string{"total", "base"}, d.DependsOn())
	assert.Nil(t, d.Fallback())

	deps := d.DependsOn()
	deps[0] = "changed"
	assert.Equal(t, []string{"total", "base"}, d.DependsOn(), "DependsOn must return a copy")
}

func TestDescriptorValidate(t *testing.T) {
	prefetch := Eager(query.NewPrefetch("people", nil))
	fallback := WithFallback(func(map[string]interface{}) (interface{}, error) { return nil, nil })

	tests := []struct {
		name    string
		d       *Descriptor
		wantErr bool
	}{
		{"annotated", value("Group", "total"), false},
		{"deferred annotated", Annotated("Group", "total", Deferred(func() (query.Expression, error) {
			return query.Value(1), nil
		})), false},
		{"prefetched", Prefetched("Group", "children", prefetch), false},
		{"missing owner", value("", "total"), true},
		{"missing name", value("Group", ""), true},
		{"nil expression", Annotated("Group", "total", Eager[query.Expression](nil)), true},
		{"nil factory", Annotated("Group", "total", Deferred[query.Expression](nil)), true},
		{"empty dependency", value("Group", "total", ""), true},
		{"nil prefetch", Prefetched("Group", "children", Eager[*query.Prefetch](nil)), true},
		{"prefetched with dependencies", Prefetched("Group", "children", prefetch, DependsOn("total")), true},
		{"prefetched with fallback", Prefetched("Group", "children", prefetch, fallback), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.d.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidDescriptor)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLazy(t *testing.T) {
	t.Run("eager", func(t *testing.T) {
		l := Eager(42)
		assert.False(t, l.IsDeferred())
		v, err := l.Resolve()
		require.NoError(t, err)
		assert.Equal(t, 42, v)
	})

	t.Run("deferred runs the factory on every resolve", func(t *testing.T) {
		calls := 0
		l := Deferred(func() (*query.Prefetch, error) {
			calls++
			return query.NewPrefetch("people", nil), nil
		})
		assert.True(t, l.IsDeferred())

		first, err := l.Resolve()
		require.NoError(t, err)
		second, err := l.Resolve()
		require.NoError(t, err)

		assert.Equal(t, 2, calls)
		assert.NotSame(t, first, second)
	})

	t.Run("deferred error", func(t *testing.T) {
		boom := errors.New("boom")
		l := Deferred(func() (int, error) { return 0, boom })
		_, err := l.Resolve()
		assert.ErrorIs(t, err, boom)
	})
}
