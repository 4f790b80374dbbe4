// Package registry provides a priority-ordered, name-keyed registry shared by
// every pluggable implementation family: chunkers, parsers, OCR providers and
// embedding providers.
package registry

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/sahilm/fuzzy"

	"github.com/custodia-labs/sercha-local/internal/core/domain"
)

// Component is anything a registry can hold.
type Component interface {
	// Name is the unique key of the component.
	Name() string

	// Priority orders components. Higher wins.
	Priority() int
}

// NotFoundError is returned by Get for unknown names.
// It wraps domain.ErrNotFound.
type NotFoundError struct {
	// Kind describes what the registry holds, e.g. "chunker".
	Kind string

	// Name is the requested name.
	Name string

	// Suggestions are registered names close to Name.
	Suggestions []string
}

// Error implements error.
func (e *NotFoundError) Error() string {
	msg := fmt.Sprintf("%s %q not found", e.Kind, e.Name)
	if len(e.Suggestions) > 0 {
		msg += fmt.Sprintf(" (did you mean %s?)", strings.Join(e.Suggestions, ", "))
	}
	return msg
}

// Unwrap returns domain.ErrNotFound.
func (e *NotFoundError) Unwrap() error {
	return domain.ErrNotFound
}

// Registry holds components of one kind, sorted by descending priority.
// Components registered with equal priority keep registration order.
// It is safe for concurrent use.
type Registry[T Component] struct {
	kind string

	mu    sync.RWMutex
	items []T
}

// New creates an empty registry. Kind is used in error messages.
func New[T Component](kind string) *Registry[T] {
	return &Registry[T]{kind: kind}
}

// Kind returns the registry's component kind.
func (r *Registry[T]) Kind() string {
	return r.kind
}

// Register adds a component. It fails with domain.ErrDuplicateName if
// the name is taken.
func (r *Registry[T]) Register(c T) error {
	name := c.Name()
	if name == "" {
		return fmt.Errorf("%s: %w: empty name", r.kind, domain.ErrInvalidInput)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.items {
		if existing.Name() == name {
			return fmt.Errorf("%s %q: %w", r.kind, name, domain.ErrDuplicateName)
		}
	}
	r.items = append(r.items, c)
	sort.SliceStable(r.items, func(i, j int) bool {
		return r.items[i].Priority() > r.items[j].Priority()
	})
	return nil
}

// MustRegister is Register for static wiring. It panics on error.
func (r *Registry[T]) MustRegister(c T) {
	if err := r.Register(c); err != nil {
		panic(err)
	}
}

// Unregister removes a component by name.
func (r *Registry[T]) Unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, c := range r.items {
		if c.Name() == name {
			r.items = append(r.items[:i], r.items[i+1:]...)
			return nil
		}
	}
	return r.notFound(name)
}

// Get returns the component with the given name.
func (r *Registry[T]) Get(name string) (T, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, c := range r.items {
		if c.Name() == name {
			return c, nil
		}
	}
	var zero T
	return zero, r.notFound(name)
}

// Has reports whether a component with the name is registered.
func (r *Registry[T]) Has(name string) bool {
	_, err := r.Get(name)
	return err == nil
}

// GetAll returns every component, highest priority first.
func (r *Registry[T]) GetAll() []T {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]T, len(r.items))
	copy(out, r.items)
	return out
}

// Names returns registered names in priority order.
func (r *Registry[T]) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, len(r.items))
	for i, c := range r.items {
		names[i] = c.Name()
	}
	return names
}

// Default returns the highest priority component.
func (r *Registry[T]) Default() (T, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.items) == 0 {
		var zero T
		return zero, fmt.Errorf("%s registry is empty: %w", r.kind, domain.ErrNotFound)
	}
	return r.items[0], nil
}

// Select returns the highest priority component accepted by match.
func (r *Registry[T]) Select(match func(T) bool) (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, c := range r.items {
		if match(c) {
			return c, true
		}
	}
	var zero T
	return zero, false
}

// Len returns the number of registered components.
func (r *Registry[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}

// notFound builds a NotFoundError. Callers hold mu.
func (r *Registry[T]) notFound(name string) error {
	names := make([]string, len(r.items))
	for i, c := range r.items {
		names[i] = c.Name()
	}

	var suggestions []string
	for _, m := range fuzzy.Find(name, names) {
		suggestions = append(suggestions, m.Str)
		if len(suggestions) == 3 {
			break
		}
	}
	if len(suggestions) == 0 {
		// fuzzy matches pattern characters in order; also try the reverse
		// so that longer inputs like "recursiv-chunker" still suggest.
		for _, n := range names {
			if strings.HasPrefix(name, n) || strings.HasPrefix(n, name) {
				suggestions = append(suggestions, n)
			}
		}
	}
	return &NotFoundError{Kind: r.kind, Name: name, Suggestions: suggestions}
}
