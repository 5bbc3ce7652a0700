package ecs

import (
	"fmt"

	"github.com/l1jgo/worldcore/internal/core/block"
	"github.com/l1jgo/worldcore/internal/core/handle"
)

// manager is the per-World, per-kind owner of component storage. One exists
// for each (World, kind) pair once the kind is first used in that World.
type manager interface {
	kind() *kindInfo
	add(obj handle.Handle, v any) (handle.Handle, error)
	remove(comp handle.Handle) (obj handle.Handle, ok bool)
	alive(comp handle.Handle) bool
	object(comp handle.Handle) (handle.Handle, bool)
	payload(comp handle.Handle) (any, bool)
	len() int
	runUpdate(ctx *UpdateContext) error
	clear()
}

// componentManager stores T payloads in block storage. The slot table hands
// out component handles; each block entry records its handle's index so
// compacting moves can be written back into the table.
type componentManager[T any] struct {
	w      *World
	info   *kindInfo
	slots  *handle.SlotTable
	store  *block.Store[T]
	owners []handle.Handle // object handle per component slot index
}

func newComponentManager[T any](w *World, info *kindInfo) *componentManager[T] {
	var alloc block.Allocator[T]
	info.mu.RLock()
	if a, ok := info.allocator.(block.Allocator[T]); ok {
		alloc = a
	}
	info.mu.RUnlock()
	if alloc == nil {
		alloc = block.NewPoolAllocator[T](w.cfg.MaxChunksPerKind)
	}

	m := &componentManager[T]{
		w:     w,
		info:  info,
		slots: handle.NewSlotTable(info.id, 64),
		store: block.New[T](info.discipline, w.cfg.ChunkSize, alloc),
	}
	m.store.OnRelocate(func(owner uint32, _, to block.Ref) {
		m.slots.Relocate(owner, handle.Location(to))
	})
	return m
}

func (m *componentManager[T]) kind() *kindInfo { return m.info }
func (m *componentManager[T]) len() int        { return m.store.Len() }

func (m *componentManager[T]) add(obj handle.Handle, v any) (handle.Handle, error) {
	var val T
	switch p := v.(type) {
	case T:
		val = p
	case *T:
		if p != nil {
			val = *p
		}
	case nil:
	default:
		return handle.Nil, fmt.Errorf("%w: %s wants %v, got %T", ErrKindMismatch, m.info.name, m.info.typ, v)
	}
	return m.insert(obj, val)
}

func (m *componentManager[T]) insert(obj handle.Handle, v T) (handle.Handle, error) {
	h, err := m.slots.Allocate()
	if err != nil {
		return handle.Nil, fmt.Errorf("allocate %s handle: %w", m.info.name, err)
	}
	ref, err := m.store.Insert(h.Index(), v)
	if err != nil {
		m.slots.Release(h)
		return handle.Nil, fmt.Errorf("store %s: %w", m.info.name, err)
	}
	m.slots.Bind(h, handle.Location(ref))
	for int(h.Index()) >= len(m.owners) {
		m.owners = append(m.owners, handle.Nil)
	}
	m.owners[h.Index()] = obj
	return h, nil
}

func (m *componentManager[T]) remove(comp handle.Handle) (handle.Handle, bool) {
	loc, ok := m.slots.Resolve(comp)
	if !ok {
		return handle.Nil, false
	}
	obj := m.owners[comp.Index()]
	// Remove first: a compacting move relocates another live handle, this
	// one is still bound and gets released right after.
	m.store.Remove(block.Ref(loc))
	m.slots.Release(comp)
	m.owners[comp.Index()] = handle.Nil
	return obj, true
}

func (m *componentManager[T]) alive(comp handle.Handle) bool {
	return m.slots.Alive(comp)
}

func (m *componentManager[T]) get(comp handle.Handle) (*T, bool) {
	loc, ok := m.slots.Resolve(comp)
	if !ok {
		return nil, false
	}
	return m.store.Get(block.Ref(loc))
}

func (m *componentManager[T]) payload(comp handle.Handle) (any, bool) {
	p, ok := m.get(comp)
	if !ok {
		return nil, false
	}
	return p, true
}

func (m *componentManager[T]) object(comp handle.Handle) (handle.Handle, bool) {
	if !m.slots.Alive(comp) {
		return handle.Nil, false
	}
	return m.owners[comp.Index()], true
}

// each yields live components in storage order.
func (m *componentManager[T]) each(yield func(handle.Handle, *T) bool) {
	for ref, v := range m.store.All() {
		owner, _ := m.store.Owner(ref)
		h, ok := m.slots.HandleAt(owner)
		if !ok {
			continue
		}
		if !yield(h, v) {
			return
		}
	}
}

func (m *componentManager[T]) runUpdate(ctx *UpdateContext) error {
	fn, ok := m.info.updateFn().(func(*UpdateContext, handle.Handle, *T))
	if !ok || fn == nil {
		return nil
	}
	n := 0
	var err error
	m.each(func(h handle.Handle, v *T) bool {
		// Cheap cancellation check every chunk-worth of entries.
		if n++; n%block.DefaultChunkSize == 0 {
			if err = ctx.Context.Err(); err != nil {
				return false
			}
		}
		if !m.w.activeInHierarchy(m.owners[h.Index()]) {
			return true
		}
		fn(ctx, h, v)
		return true
	})
	return err
}

func (m *componentManager[T]) clear() {
	for i := 0; i < m.slots.Cap(); i++ {
		if h, ok := m.slots.HandleAt(uint32(i)); ok {
			m.slots.Release(h)
		}
	}
	m.store.Clear()
	clear(m.owners)
}
