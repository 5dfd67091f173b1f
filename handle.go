package rescache

import (
	"context"
	"sync/atomic"

	"github.com/google/uuid"
)

// Ref is the untyped view of a Handle.
type Ref interface {
	Name() string
	ID() uuid.UUID
	Type() Type
	IsReady() bool
	Wait(ctx context.Context) error
	Release()

	base() *handleBase
}

type handleBase struct {
	m        *Manager
	e        *entry
	released atomic.Bool
}

// Name returns the cleaned logical name of the resource.
func (h *handleBase) Name() string { return h.e.name }

// ID returns NameID(Name()).
func (h *handleBase) ID() uuid.UUID { return h.e.key.id }

// Type returns the resource type.
func (h *handleBase) Type() Type { return h.e.key.typ }

// IsReady reports whether the resource has been loaded at least once.
func (h *handleBase) IsReady() bool { return h.e.isReady() }

// Wait blocks until the resource is ready. It returns a *LoadError if the
// chains in flight settled without a successful load, or ctx's error.
func (h *handleBase) Wait(ctx context.Context) error {
	return h.m.wait(ctx, h.e)
}

// Release drops this reference. Releasing a handle twice panics.
func (h *handleBase) Release() {
	if !h.released.CompareAndSwap(false, true) {
		panic("rescache: handle of " + h.e.name + " released twice")
	}
	h.m.release(h.e)
}

func (h *handleBase) base() *handleBase { return h }

// Handle is a counted reference to a resource of Go type T.
type Handle[T any] struct {
	handleBase
	res T
}

// Get returns the resource. Before IsReady it is the empty value returned by
// Factory.Create.
func (h *Handle[T]) Get() T { return h.res }
