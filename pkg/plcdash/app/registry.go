package app

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	ErrNotFound      = errors.New("not found in registry")
	ErrDuplicateName = errors.New("name already provided")
)

// Registry holds the values plugins provide, by name, for the lifetime of
// one App. Each name is written once.
type Registry struct {
	mu     sync.RWMutex
	values map[string]any
	order  []string
}

func NewRegistry() *Registry {
	return &Registry{
		values: make(map[string]any),
	}
}

// Provide publishes a value under name.
func (r *Registry) Provide(name string, value any) error {
	if name == "" {
		return errors.New("registry name is required")
	}
	if value == nil {
		return fmt.Errorf("registry value for %q is nil", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.values[name]; exists {
		return fmt.Errorf("%q: %w", name, ErrDuplicateName)
	}

	r.values[name] = value
	r.order = append(r.order, name)
	return nil
}

func (r *Registry) Lookup(name string) (any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	value, ok := r.values[name]
	return value, ok
}

// Names returns the provided names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.values))
	for name := range r.values {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.values)
}

// provisionOrder returns names in the order they were provided.
func (r *Registry) provisionOrder() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Get looks up name and asserts its type.
func Get[T any](r *Registry, name string) (T, error) {
	var zero T

	value, ok := r.Lookup(name)
	if !ok {
		return zero, fmt.Errorf("%q: %w", name, ErrNotFound)
	}

	typed, ok := value.(T)
	if !ok {
		return zero, fmt.Errorf("%q has type %T, not %T", name, value, zero)
	}
	return typed, nil
}
