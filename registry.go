package llmrelay

import (
	"fmt"
	"sort"
	"sync"
)

// Registry is a name-keyed set of values owned by a single Router (or any
// other caller). Registration hands back a disposer that removes exactly the
// value it registered.
type Registry[T any] struct {
	kind    string
	entries map[string]*entry[T]
	mu      sync.RWMutex
}

type entry[T any] struct {
	value T
}

// NewRegistry creates an empty registry. kind is only used in error messages.
func NewRegistry[T any](kind string) *Registry[T] {
	return &Registry[T]{
		kind:    kind,
		entries: make(map[string]*entry[T]),
	}
}

// Register adds v under name. Registering a taken name fails with
// ErrAlreadyRegistered; call the previous disposer (or Unregister) first.
func (r *Registry[T]) Register(name string, v T) (func(), error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[name]; ok {
		return nil, fmt.Errorf("%w: %s %q", ErrAlreadyRegistered, r.kind, name)
	}
	e := &entry[T]{value: v}
	r.entries[name] = e

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			// a later registration under the same name is left alone
			if cur, ok := r.entries[name]; ok && cur == e {
				delete(r.entries, name)
			}
		})
	}, nil
}

// Set registers v under name, replacing any previous value.
func (r *Registry[T]) Set(name string, v T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[name] = &entry[T]{value: v}
}

// Unregister removes name. It reports whether something was removed.
func (r *Registry[T]) Unregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[name]; !ok {
		return false
	}
	delete(r.entries, name)
	return true
}

func (r *Registry[T]) Get(name string) (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		var zero T
		return zero, false
	}
	return e.value, true
}

// Names returns the registered names in sorted order.
func (r *Registry[T]) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
