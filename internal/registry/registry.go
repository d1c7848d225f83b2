// Package registry maps symbolic component names, as they appear in
// configuration, to factories that build pipeline stages.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"impactloop/internal/contract"
)

var (
	// ErrUnknownComponent is wrapped by UnknownComponentError.
	ErrUnknownComponent = errors.New("registry: unknown component")

	// ErrDuplicateComponent is returned when a name is registered twice.
	ErrDuplicateComponent = errors.New("registry: component already registered")

	// ErrWrongRole is returned when a built component does not implement the
	// stage role it was requested for.
	ErrWrongRole = errors.New("registry: component does not implement stage role")
)

// UnknownComponentError names the missing component and every valid choice.
type UnknownComponentError struct {
	Name      string
	Available []string
}

func (e *UnknownComponentError) Error() string {
	return fmt.Sprintf("unknown component %q (available: %s)", e.Name, strings.Join(e.Available, ", "))
}

func (e *UnknownComponentError) Unwrap() error { return ErrUnknownComponent }

// Factory constructs a component from its keyword parameters.
type Factory func(p Params) (any, error)

// Registry is safe for concurrent use, but is meant to be filled once at
// process start and only read afterwards.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register associates name with f. Registering a name twice is rejected.
func (r *Registry) Register(name string, f Factory) error {
	if name == "" {
		return fmt.Errorf("registry: component name is required")
	}
	if f == nil {
		return fmt.Errorf("registry: nil factory for %q", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.factories[name]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateComponent, name)
	}
	r.factories[name] = f
	return nil
}

// MustRegister is Register for static setup code; it panics on error.
func (r *Registry) MustRegister(name string, f Factory) {
	if err := r.Register(name, f); err != nil {
		panic(err)
	}
}

// Names returns the registered component names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for n := range r.factories {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Build looks up name and invokes its factory with p.
func (r *Registry) Build(name string, p Params) (any, error) {
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, &UnknownComponentError{Name: name, Available: r.Names()}
	}
	c, err := f(p)
	if err != nil {
		return nil, fmt.Errorf("build component %q: %w", name, err)
	}
	return c, nil
}

// BuildMeasure builds name and checks that it implements the measure role.
func (r *Registry) BuildMeasure(name string, p Params) (contract.Measure, error) {
	return buildAs[contract.Measure](r, name, p, "measure")
}

// BuildEvaluate builds name and checks that it implements the evaluate role.
func (r *Registry) BuildEvaluate(name string, p Params) (contract.Evaluate, error) {
	return buildAs[contract.Evaluate](r, name, p, "evaluate")
}

// BuildAllocate builds name and checks that it implements the allocate role.
func (r *Registry) BuildAllocate(name string, p Params) (contract.Allocate, error) {
	return buildAs[contract.Allocate](r, name, p, "allocate")
}

func buildAs[T any](r *Registry, name string, p Params, role string) (T, error) {
	var zero T
	c, err := r.Build(name, p)
	if err != nil {
		return zero, err
	}
	stage, ok := c.(T)
	if !ok {
		return zero, fmt.Errorf("%w: %q is not a %s stage", ErrWrongRole, name, role)
	}
	return stage, nil
}
