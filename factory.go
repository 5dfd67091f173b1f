package rescache

import (
	"context"
	"fmt"
	"reflect"
)

// Factory turns compiled artifact bytes into live resources of type T.
//
// T is usually a pointer: Load fills the value returned by Create, and a
// reload updates that same value in place.
type Factory[T any] interface {
	// Create returns the empty resource for name. It runs under the registry
	// lock and must not block.
	Create(name string) T
	// Load fills res from data. data is shared with the artifact cache and
	// must not be modified or retained.
	Load(ctx context.Context, res T, name string, data []byte) error
	// Destroy releases res.
	Destroy(res T)
}

// FactoryFuncs adapts plain functions to a Factory. A nil DestroyFunc does nothing.
type FactoryFuncs[T any] struct {
	CreateFunc  func(name string) T
	LoadFunc    func(ctx context.Context, res T, name string, data []byte) error
	DestroyFunc func(res T)
}

func (f FactoryFuncs[T]) Create(name string) T { return f.CreateFunc(name) }

func (f FactoryFuncs[T]) Load(ctx context.Context, res T, name string, data []byte) error {
	return f.LoadFunc(ctx, res, name, data)
}

func (f FactoryFuncs[T]) Destroy(res T) {
	if f.DestroyFunc != nil {
		f.DestroyFunc(res)
	}
}

// factory is the type-erased view of a Factory[T] held by the registry.
type factory interface {
	create(name string) any
	load(ctx context.Context, res any, name string, data []byte) error
	destroy(res any)
	resourceType() reflect.Type
}

type typedFactory[T any] struct {
	f Factory[T]
}

func (t typedFactory[T]) create(name string) any { return t.f.Create(name) }

func (t typedFactory[T]) load(ctx context.Context, res any, name string, data []byte) error {
	return t.f.Load(ctx, res.(T), name, data)
}

func (t typedFactory[T]) destroy(res any) { t.f.Destroy(res.(T)) }

func (t typedFactory[T]) resourceType() reflect.Type { return reflect.TypeFor[T]() }

// RegisterFactory registers f for typ.
func RegisterFactory[T any](m *Manager, typ Type, f Factory[T]) error {
	if f == nil {
		panic("rescache: nil factory")
	}

	m.factoryMu.Lock()
	defer m.factoryMu.Unlock()

	if _, ok := m.factories[typ]; ok {
		return fmt.Errorf("%w: %s", ErrFactoryExists, typ)
	}
	m.factories[typ] = typedFactory[T]{f: f}
	return nil
}

// UnregisterFactory removes the factory of typ. It fails with ErrFactoryInUse
// while live or not yet destroyed entries of typ exist.
func (m *Manager) UnregisterFactory(typ Type) error {
	m.factoryMu.Lock()
	defer m.factoryMu.Unlock()

	if _, ok := m.factories[typ]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownType, typ)
	}
	if m.registry.countType(typ) > 0 {
		return fmt.Errorf("%w: %s", ErrFactoryInUse, typ)
	}
	delete(m.factories, typ)
	return nil
}

// lookupFactory returns the factory of typ and panics if it produces
// resources of another Go type than want. m.factoryMu must be held.
func (m *Manager) lookupFactory(typ Type, want reflect.Type) (factory, error) {
	f, ok := m.factories[typ]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, typ)
	}
	if got := f.resourceType(); got != want {
		panic(fmt.Sprintf("rescache: factory for %s creates %v, requested as %v", typ, got, want))
	}
	return f, nil
}
