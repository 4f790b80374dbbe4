// Package registrytest holds the registry contract tests shared by every
// implementation family.
package registrytest

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/sercha-local/internal/core/domain"
	"github.com/custodia-labs/sercha-local/internal/registry"
)

// RunConformance exercises the registry contract for one component kind.
// newComponent must return a distinct component for each (name, priority).
// Every implementation family calls it from its own tests.
func RunConformance[T registry.Component](t *testing.T, kind string, newComponent func(name string, priority int) T) {
	t.Helper()

	t.Run("priority order", func(t *testing.T) {
		r := registry.New[T](kind)
		require.NoError(t, r.Register(newComponent("low", 10)))
		require.NoError(t, r.Register(newComponent("high", 100)))
		require.NoError(t, r.Register(newComponent("mid", 50)))

		assert.Equal(t, []string{"high", "mid", "low"}, r.Names())

		def, err := r.Default()
		require.NoError(t, err)
		assert.Equal(t, "high", def.Name())
	})

	t.Run("equal priority keeps registration order", func(t *testing.T) {
		r := registry.New[T](kind)
		require.NoError(t, r.Register(newComponent("first", 5)))
		require.NoError(t, r.Register(newComponent("second", 5)))

		assert.Equal(t, []string{"first", "second"}, r.Names())
	})

	t.Run("duplicate name", func(t *testing.T) {
		r := registry.New[T](kind)
		require.NoError(t, r.Register(newComponent("dup", 1)))

		err := r.Register(newComponent("dup", 2))
		assert.ErrorIs(t, err, domain.ErrDuplicateName)
		assert.Equal(t, 1, r.Len())
	})

	t.Run("get unknown suggests", func(t *testing.T) {
		r := registry.New[T](kind)
		require.NoError(t, r.Register(newComponent("recursive", 1)))
		require.NoError(t, r.Register(newComponent("fixed", 1)))

		_, err := r.Get("recursv")
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrNotFound)

		var nf *registry.NotFoundError
		require.True(t, errors.As(err, &nf))
		assert.Equal(t, kind, nf.Kind)
		assert.Contains(t, nf.Suggestions, "recursive")
	})

	t.Run("unregister", func(t *testing.T) {
		r := registry.New[T](kind)
		require.NoError(t, r.Register(newComponent("a", 1)))
		require.NoError(t, r.Unregister("a"))

		assert.False(t, r.Has("a"))
		assert.ErrorIs(t, r.Unregister("a"), domain.ErrNotFound)

		_, err := r.Default()
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("get all is a copy", func(t *testing.T) {
		r := registry.New[T](kind)
		require.NoError(t, r.Register(newComponent("a", 1)))

		all := r.GetAll()
		all[0] = newComponent("mutated", 9)
		assert.Equal(t, []string{"a"}, r.Names())
	})

	t.Run("concurrent access", func(t *testing.T) {
		r := registry.New[T](kind)
		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_ = r.Register(newComponent(fmt.Sprintf("c%d", i), i))
				_ = r.GetAll()
				_, _ = r.Get("c0")
			}(i)
		}
		wg.Wait()
		assert.Equal(t, 20, r.Len())

		def, err := r.Default()
		require.NoError(t, err)
		assert.Equal(t, "c19", def.Name())
	})
}
