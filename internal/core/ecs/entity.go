package ecs

import (
	"fmt"
	"slices"

	"github.com/google/uuid"
	"github.com/l1jgo/worldcore/internal/core/block"
	"github.com/l1jgo/worldcore/internal/core/event"
	"github.com/l1jgo/worldcore/internal/core/handle"
	"github.com/l1jgo/worldcore/internal/mathx"
)

// node is the object graph record of one game object.
type node struct {
	self     handle.Handle
	stable   uuid.UUID
	name     string
	parent   handle.Handle
	children []handle.Handle
	local    mathx.Transform
	global   mathx.Transform // valid only while !dirty
	dirty    bool
	active   bool
	comps    []handle.Handle // attachment order
}

func (w *World) node(h handle.Handle) (*node, bool) {
	loc, ok := w.objects.Resolve(h)
	if !ok {
		return nil, false
	}
	return w.nodes.Get(block.Ref(loc))
}

func (w *World) createObject(parent handle.Handle, id uuid.UUID) (handle.Handle, error) {
	var pn *node
	if !parent.IsZero() {
		var ok bool
		if pn, ok = w.node(parent); !ok {
			return handle.Nil, fmt.Errorf("parent %v: %w", parent, ErrStaleHandle)
		}
	}
	if id == uuid.Nil {
		id = uuid.New()
	} else if _, taken := w.byStable[id]; taken {
		return handle.Nil, fmt.Errorf("%w: %s", ErrDuplicateID, id)
	}

	h, err := w.objects.Allocate()
	if err != nil {
		return handle.Nil, fmt.Errorf("allocate object: %w", err)
	}
	ref, err := w.nodes.Insert(h.Index(), node{
		self:   h,
		stable: id,
		parent: parent,
		local:  mathx.Identity(),
		dirty:  true,
		active: true,
	})
	if err != nil {
		w.objects.Release(h)
		return handle.Nil, fmt.Errorf("store object: %w", err)
	}
	w.objects.Bind(h, handle.Location(ref))
	w.byStable[id] = h
	w.dirty = append(w.dirty, h)
	ev := event.ObjectCreated{Object: h, StableID: id, Parent: parent}
	if pn != nil {
		pn.children = append(pn.children, h)
		ev.ParentID = pn.stable
	}
	event.Emit(w.events, ev)
	return h, nil
}

// destroyObject removes h, its subtree and every attached component,
// children before parents. Stale handles are a no-op.
func (w *World) destroyObject(h handle.Handle) bool {
	root, ok := w.node(h)
	if !ok {
		return false
	}
	if p, ok := w.node(root.parent); ok {
		p.children = slices.DeleteFunc(p.children, func(c handle.Handle) bool { return c == h })
	}

	for _, cur := range w.postOrder(h) {
		n, ok := w.node(cur)
		if !ok {
			continue
		}
		for i := len(n.comps) - 1; i >= 0; i-- {
			w.detachComponent(n.comps[i], false)
		}
		event.Emit(w.events, event.ObjectDestroyed{Object: cur, StableID: n.stable})
		delete(w.byStable, n.stable)
		loc, _ := w.objects.Resolve(cur)
		w.objects.Release(cur)
		w.nodes.Remove(block.Ref(loc))
	}
	return true
}

// postOrder lists the subtree of h with every child ahead of its parent.
func (w *World) postOrder(h handle.Handle) []handle.Handle {
	var out []handle.Handle
	type frame struct {
		h    handle.Handle
		next int
	}
	stack := []frame{{h: h}}
	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		n, ok := w.node(top.h)
		if ok && top.next < len(n.children) {
			child := n.children[top.next]
			top.next++
			stack = append(stack, frame{h: child})
			continue
		}
		out = append(out, top.h)
		stack = stack[:len(stack)-1]
	}
	return out
}

func (w *World) setParent(child, parent handle.Handle) error {
	cn, ok := w.node(child)
	if !ok {
		return fmt.Errorf("child %v: %w", child, ErrStaleHandle)
	}
	var pn *node
	if !parent.IsZero() {
		if pn, ok = w.node(parent); !ok {
			return fmt.Errorf("parent %v: %w", parent, ErrStaleHandle)
		}
		// Walk up from the new parent; meeting child means a cycle.
		for cur := parent; !cur.IsZero(); {
			if cur == child {
				return CycleError{Child: child, Parent: parent}
			}
			n, ok := w.node(cur)
			if !ok {
				break
			}
			cur = n.parent
		}
	}
	old := cn.parent
	if old == parent {
		return nil
	}
	if on, ok := w.node(old); ok {
		on.children = slices.DeleteFunc(on.children, func(c handle.Handle) bool { return c == child })
	}
	cn.parent = parent
	if pn != nil {
		pn.children = append(pn.children, child)
	}
	if cn.dirty {
		// Already stale, but its old dirty top may no longer be above it.
		w.dirty = append(w.dirty, child)
	} else {
		w.markDirty(child)
	}
	ev := event.ParentChanged{Object: child, StableID: cn.stable, OldParent: old, NewParent: parent}
	if pn != nil {
		ev.NewParentID = pn.stable
	}
	event.Emit(w.events, ev)
	return nil
}

// markDirty invalidates the cached global transform of h and everything
// below it. A dirty node's descendants are always dirty, so the walk stops
// at nodes that already are.
func (w *World) markDirty(h handle.Handle) {
	n, ok := w.node(h)
	if !ok || n.dirty {
		return
	}
	w.dirty = append(w.dirty, h)
	stack := []handle.Handle{h}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		cn, ok := w.node(cur)
		if !ok || (cn.dirty && cur != h) {
			continue
		}
		cn.dirty = true
		stack = append(stack, cn.children...)
	}
}

// globalTransform walks up to the nearest clean ancestor and composes down.
// With store set, the results are cached on the way down; only the write
// scope may do that.
func (w *World) globalTransform(h handle.Handle, store bool) (mathx.Transform, bool) {
	n, ok := w.node(h)
	if !ok {
		return mathx.Transform{}, false
	}
	if !n.dirty {
		return n.global, true
	}

	chain := []*node{n}
	base := mathx.Identity()
	for cur := n.parent; !cur.IsZero(); {
		pn, ok := w.node(cur)
		if !ok {
			break
		}
		if !pn.dirty {
			base = pn.global
			break
		}
		chain = append(chain, pn)
		cur = pn.parent
	}

	t := base
	for i := len(chain) - 1; i >= 0; i-- {
		t = mathx.Compose(t, chain[i].local)
		if store {
			chain[i].global = t
			chain[i].dirty = false
		}
	}
	return t, true
}

// refreshTransforms recomputes every dirty cached transform.
func (w *World) refreshTransforms() int {
	count := 0
	for _, top := range w.dirty {
		for _, h := range w.preOrder(top) {
			if n, ok := w.node(h); ok && n.dirty {
				w.globalTransform(h, true)
				count++
			}
		}
	}
	w.dirty = w.dirty[:0]
	return count
}

func (w *World) preOrder(h handle.Handle) []handle.Handle {
	var out []handle.Handle
	stack := []handle.Handle{h}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		n, ok := w.node(cur)
		if !ok {
			continue
		}
		out = append(out, cur)
		for i := len(n.children) - 1; i >= 0; i-- {
			stack = append(stack, n.children[i])
		}
	}
	return out
}

// activeInHierarchy reports whether obj and all its ancestors are active.
func (w *World) activeInHierarchy(obj handle.Handle) bool {
	for cur := obj; !cur.IsZero(); {
		n, ok := w.node(cur)
		if !ok || !n.active {
			return false
		}
		cur = n.parent
	}
	return true
}

func (w *World) attachComponent(info *kindInfo, obj handle.Handle, v any) (handle.Handle, error) {
	n, ok := w.node(obj)
	if !ok {
		return handle.Nil, fmt.Errorf("object %v: %w", obj, ErrStaleHandle)
	}
	c, err := w.ensureManager(info).add(obj, v)
	if err != nil {
		return handle.Nil, err
	}
	n.comps = append(n.comps, c)
	event.Emit(w.events, event.ComponentAdded{Object: obj, Component: c, Kind: info.name})
	return c, nil
}

// detachComponent destroys comp. unlink is false when the owner is being
// destroyed and its component list is about to go anyway.
func (w *World) detachComponent(comp handle.Handle, unlink bool) bool {
	m := w.managerFor(comp.Kind())
	if m == nil {
		return false
	}
	obj, ok := m.remove(comp)
	if !ok {
		return false
	}
	if unlink {
		if n, ok := w.node(obj); ok {
			n.comps = slices.DeleteFunc(n.comps, func(c handle.Handle) bool { return c == comp })
		}
	}
	event.Emit(w.events, event.ComponentRemoved{Object: obj, Component: comp, Kind: m.kind().name})
	return true
}
