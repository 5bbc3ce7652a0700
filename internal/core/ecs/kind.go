package ecs

import (
	"iter"

	"github.com/l1jgo/worldcore/internal/core/block"
	"github.com/l1jgo/worldcore/internal/core/handle"
)

// Kind is the typed entry point for one component kind. Values are cheap to
// copy; keep them in package level vars.
type Kind[T any] struct {
	info *kindInfo
}

func (k Kind[T]) ID() handle.Kind { return k.info.id }
func (k Kind[T]) Name() string    { return k.info.name }
func (k Kind[T]) Info() KindInfo  { return k.info }

// OnUpdate sets the per-component update run by the kind's schedule.
// Updates run under a shared read scope, possibly concurrently with other
// kinds; structural changes must go through ctx.Commands.
func (k Kind[T]) OnUpdate(fn func(ctx *UpdateContext, comp handle.Handle, v *T)) {
	k.info.mu.Lock()
	defer k.info.mu.Unlock()
	k.info.update = fn
}

// SetAllocator sets the chunk allocator used by managers created after the
// call. One allocator may back the kind in every World.
func (k Kind[T]) SetAllocator(a block.Allocator[T]) {
	k.info.mu.Lock()
	defer k.info.mu.Unlock()
	k.info.allocator = a
}

// Add attaches a new component holding v to obj.
func (k Kind[T]) Add(ws *WriteScope, obj handle.Handle, v T) (handle.Handle, error) {
	return ws.addComponent(k.info, obj, v)
}

// AddLater queues an Add on buf. The component is created when the buffer
// is applied, provided obj is still alive then.
func (k Kind[T]) AddLater(buf *CommandBuffer, obj handle.Handle, v T) {
	buf.push(command{op: opAdd, obj: obj, kind: k.info, value: v})
}

// Remove detaches and destroys comp. Reports false if comp was already gone.
func (k Kind[T]) Remove(ws *WriteScope, comp handle.Handle) bool {
	if comp.Kind() != k.info.id {
		return false
	}
	return ws.RemoveComponent(comp)
}

// Get resolves comp to its payload. The pointer may be written through under
// any scope but is only valid until the scope is released.
func (k Kind[T]) Get(s Scope, comp handle.Handle) (*T, bool) {
	m := k.manager(s)
	if m == nil {
		return nil, false
	}
	return m.get(comp)
}

// Of returns the first component of this kind attached to obj.
func (k Kind[T]) Of(s Scope, obj handle.Handle) (handle.Handle, *T, bool) {
	m := k.manager(s)
	if m == nil {
		return handle.Nil, nil, false
	}
	n, ok := s.scope().node(obj)
	if !ok {
		return handle.Nil, nil, false
	}
	for _, c := range n.comps {
		if c.Kind() != k.info.id {
			continue
		}
		if v, ok := m.get(c); ok {
			return c, v, true
		}
	}
	return handle.Nil, nil, false
}

// Object returns the object comp is attached to.
func (k Kind[T]) Object(s Scope, comp handle.Handle) (handle.Handle, bool) {
	m := k.manager(s)
	if m == nil {
		return handle.Nil, false
	}
	return m.object(comp)
}

// Each yields every live component of the kind in storage order. Each call
// starts a fresh pass.
func (k Kind[T]) Each(s Scope) iter.Seq2[handle.Handle, *T] {
	return func(yield func(handle.Handle, *T) bool) {
		m := k.manager(s)
		if m == nil {
			return
		}
		m.each(yield)
	}
}

// Len counts live components of the kind.
func (k Kind[T]) Len(s Scope) int {
	m := k.manager(s)
	if m == nil {
		return 0
	}
	return m.len()
}

func (k Kind[T]) manager(s Scope) *componentManager[T] {
	r := s.scope()
	if !r.usable("read " + k.info.name) {
		return nil
	}
	m := r.w.managerFor(k.info.id)
	if m == nil {
		return nil
	}
	return m.(*componentManager[T])
}
