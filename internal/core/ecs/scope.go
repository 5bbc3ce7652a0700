package ecs

import (
	"errors"
	"fmt"
	"iter"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/l1jgo/worldcore/internal/core/handle"
	"github.com/l1jgo/worldcore/internal/mathx"
)

// Scope is either a *ReadScope or a *WriteScope. Everything that only reads
// structure accepts a Scope.
type Scope interface {
	World() *World
	Alive(h handle.Handle) bool
	Parent(h handle.Handle) (handle.Handle, bool)
	Children(h handle.Handle) []handle.Handle
	Components(h handle.Handle) []handle.Handle
	Name(h handle.Handle) (string, bool)
	StableID(h handle.Handle) (uuid.UUID, bool)
	LookupStable(id uuid.UUID) (handle.Handle, bool)
	Active(h handle.Handle) (bool, bool)
	ActiveInHierarchy(h handle.Handle) bool
	LocalTransform(h handle.Handle) (mathx.Transform, bool)
	ComputeGlobalTransform(h handle.Handle) (mathx.Transform, bool)
	ComponentKind(comp handle.Handle) (KindInfo, bool)
	ComponentValue(comp handle.Handle) (any, bool)
	ComponentObject(comp handle.Handle) (handle.Handle, bool)
	Objects() iter.Seq[handle.Handle]
	Roots() iter.Seq[handle.Handle]
	ObjectCount() int

	scope() *reader
}

// reader carries the read API shared by both scope kinds.
type reader struct {
	w        *World
	released atomic.Bool
}

func (r *reader) scope() *reader { return r }

// World returns the World the scope belongs to.
func (r *reader) World() *World { return r.w }

func (r *reader) usable(op string) bool {
	if !r.released.Load() {
		return true
	}
	r.w.misuse(op, ErrScopeReleased)
	return false
}

func (r *reader) node(h handle.Handle) (*node, bool) {
	if !r.usable("lookup") {
		return nil, false
	}
	return r.w.node(h)
}

// ReadScope is shared access: any number may be held at once, never together
// with a WriteScope. Payloads may be written in place; structure may not.
type ReadScope struct {
	reader
}

// WriteScope is exclusive access; all structural changes go through it.
type WriteScope struct {
	reader
}

// Read blocks until no write scope is held or pending, then returns a shared
// scope. Always pair with Release, typically via defer. Do not nest scopes of
// the same World on one goroutine: a waiting writer would deadlock it.
func (w *World) Read() *ReadScope {
	w.mu.RLock()
	return &ReadScope{reader{w: w}}
}

// Release ends the scope. Releasing twice is harmless.
func (s *ReadScope) Release() {
	if s.released.Swap(true) {
		return
	}
	s.w.mu.RUnlock()
}

// Write blocks until every other scope is released. Commands queued through
// Defer are applied before Write returns.
func (w *World) Write() *WriteScope {
	w.mu.Lock()
	ws := &WriteScope{reader{w: w}}
	// A deferred command may panic under Config.Debug; the caller never
	// sees the scope then, so release it here.
	defer func() {
		if r := recover(); r != nil {
			ws.Release()
			panic(r)
		}
	}()
	w.applyDeferred(ws)
	return ws
}

func (s *WriteScope) Release() {
	if s.released.Swap(true) {
		return
	}
	s.w.mu.Unlock()
}

// View runs fn under a read scope that is released on every exit path,
// panics included.
func (w *World) View(fn func(*ReadScope) error) error {
	if w.closed.Load() {
		return ErrClosed
	}
	rs := w.Read()
	defer rs.Release()
	return fn(rs)
}

// Update runs fn under a write scope that is released on every exit path.
func (w *World) Update(fn func(*WriteScope) error) error {
	if w.closed.Load() {
		return ErrClosed
	}
	ws := w.Write()
	defer ws.Release()
	return fn(ws)
}

// Alive reports whether h is a live object.
func (r *reader) Alive(h handle.Handle) bool {
	_, ok := r.node(h)
	return ok
}

func (r *reader) Parent(h handle.Handle) (handle.Handle, bool) {
	n, ok := r.node(h)
	if !ok {
		return handle.Nil, false
	}
	return n.parent, true
}

// Children returns a copy of h's children in insertion order.
func (r *reader) Children(h handle.Handle) []handle.Handle {
	n, ok := r.node(h)
	if !ok {
		return nil
	}
	return append([]handle.Handle(nil), n.children...)
}

// Components returns a copy of h's components in attachment order.
func (r *reader) Components(h handle.Handle) []handle.Handle {
	n, ok := r.node(h)
	if !ok {
		return nil
	}
	return append([]handle.Handle(nil), n.comps...)
}

func (r *reader) Name(h handle.Handle) (string, bool) {
	n, ok := r.node(h)
	if !ok {
		return "", false
	}
	return n.name, true
}

// StableID returns the handle-independent identifier of h.
func (r *reader) StableID(h handle.Handle) (uuid.UUID, bool) {
	n, ok := r.node(h)
	if !ok {
		return uuid.Nil, false
	}
	return n.stable, true
}

// LookupStable resolves a stable identifier to the live handle carrying it.
func (r *reader) LookupStable(id uuid.UUID) (handle.Handle, bool) {
	if !r.usable("lookup stable id") {
		return handle.Nil, false
	}
	h, ok := r.w.byStable[id]
	return h, ok
}

// Active reports h's own flag; ActiveInHierarchy also checks ancestors.
func (r *reader) Active(h handle.Handle) (bool, bool) {
	n, ok := r.node(h)
	if !ok {
		return false, false
	}
	return n.active, true
}

func (r *reader) ActiveInHierarchy(h handle.Handle) bool {
	if !r.usable("active in hierarchy") {
		return false
	}
	return r.w.activeInHierarchy(h)
}

func (r *reader) LocalTransform(h handle.Handle) (mathx.Transform, bool) {
	n, ok := r.node(h)
	if !ok {
		return mathx.Transform{}, false
	}
	return n.local, true
}

// ComputeGlobalTransform composes local transforms from the nearest clean
// ancestor down to h. Under a read scope the result is not cached.
func (r *reader) ComputeGlobalTransform(h handle.Handle) (mathx.Transform, bool) {
	if !r.usable("compute global transform") {
		return mathx.Transform{}, false
	}
	return r.w.globalTransform(h, false)
}

// ComponentKind returns the kind of a live component.
func (r *reader) ComponentKind(comp handle.Handle) (KindInfo, bool) {
	if !r.usable("component kind") {
		return nil, false
	}
	m := r.w.managerFor(comp.Kind())
	if m == nil || !m.alive(comp) {
		return nil, false
	}
	return m.kind(), true
}

// ComponentValue returns a pointer to comp's payload as any.
func (r *reader) ComponentValue(comp handle.Handle) (any, bool) {
	if !r.usable("component value") {
		return nil, false
	}
	m := r.w.managerFor(comp.Kind())
	if m == nil {
		return nil, false
	}
	return m.payload(comp)
}

// ComponentObject returns the object comp is attached to.
func (r *reader) ComponentObject(comp handle.Handle) (handle.Handle, bool) {
	if !r.usable("component object") {
		return handle.Nil, false
	}
	m := r.w.managerFor(comp.Kind())
	if m == nil {
		return handle.Nil, false
	}
	return m.object(comp)
}

// Objects yields every live object in storage order.
func (r *reader) Objects() iter.Seq[handle.Handle] {
	return func(yield func(handle.Handle) bool) {
		if !r.usable("objects") {
			return
		}
		for _, n := range r.w.nodes.All() {
			if !yield(n.self) {
				return
			}
		}
	}
}

// Roots yields live objects without a parent.
func (r *reader) Roots() iter.Seq[handle.Handle] {
	return func(yield func(handle.Handle) bool) {
		if !r.usable("roots") {
			return
		}
		for _, n := range r.w.nodes.All() {
			if !n.parent.IsZero() {
				continue
			}
			if !yield(n.self) {
				return
			}
		}
	}
}

func (r *reader) ObjectCount() int {
	if !r.usable("object count") {
		return 0
	}
	return r.w.objects.Len()
}

func (s *WriteScope) check(op string) error {
	if s.released.Load() {
		return s.w.misuse(op, ErrScopeReleased)
	}
	return nil
}

// CreateObject creates an object under parent (handle.Nil for a root) with a
// fresh stable ID.
func (s *WriteScope) CreateObject(parent handle.Handle) (handle.Handle, error) {
	return s.CreateObjectWithID(parent, uuid.Nil)
}

// CreateObjectWithID creates an object carrying a known stable ID, as loaders
// do when rebuilding a saved hierarchy.
func (s *WriteScope) CreateObjectWithID(parent handle.Handle, id uuid.UUID) (handle.Handle, error) {
	if err := s.check("create object"); err != nil {
		return handle.Nil, err
	}
	h, err := s.w.createObject(parent, id)
	if err != nil {
		return handle.Nil, fmt.Errorf("create object: %w", err)
	}
	return h, nil
}

// DestroyObject destroys h, its descendants and all their components.
// Destroying a stale handle reports false and changes nothing.
func (s *WriteScope) DestroyObject(h handle.Handle) bool {
	if s.check("destroy object") != nil {
		return false
	}
	return s.w.destroyObject(h)
}

// SetParent moves child under parent, or to the root when parent is
// handle.Nil. A move under child's own subtree is rejected with CycleError
// and leaves the graph untouched.
func (s *WriteScope) SetParent(child, parent handle.Handle) error {
	if err := s.check("set parent"); err != nil {
		return err
	}
	if err := s.w.setParent(child, parent); err != nil {
		var ce CycleError
		if errors.As(err, &ce) {
			return s.w.misuse("set parent", err)
		}
		return err
	}
	return nil
}

// SetLocalTransform replaces h's local transform and dirties its subtree.
func (s *WriteScope) SetLocalTransform(h handle.Handle, t mathx.Transform) bool {
	if s.check("set local transform") != nil {
		return false
	}
	n, ok := s.w.node(h)
	if !ok {
		return false
	}
	n.local = t
	s.w.markDirty(h)
	return true
}

// ComputeGlobalTransform on a write scope also caches the results.
func (s *WriteScope) ComputeGlobalTransform(h handle.Handle) (mathx.Transform, bool) {
	if s.check("compute global transform") != nil {
		return mathx.Transform{}, false
	}
	return s.w.globalTransform(h, true)
}

// RefreshTransforms recomputes every stale cached global transform and
// returns how many were updated.
func (s *WriteScope) RefreshTransforms() int {
	if s.check("refresh transforms") != nil {
		return 0
	}
	return s.w.refreshTransforms()
}

func (s *WriteScope) SetActive(h handle.Handle, active bool) bool {
	if s.check("set active") != nil {
		return false
	}
	n, ok := s.w.node(h)
	if !ok {
		return false
	}
	n.active = active
	return true
}

func (s *WriteScope) SetName(h handle.Handle, name string) bool {
	if s.check("set name") != nil {
		return false
	}
	n, ok := s.w.node(h)
	if !ok {
		return false
	}
	n.name = name
	return true
}

// AddComponentValue attaches a component of kind k holding v, which must be
// a value or pointer of the kind's payload type.
func (s *WriteScope) AddComponentValue(k KindInfo, obj handle.Handle, v any) (handle.Handle, error) {
	info, ok := k.(*kindInfo)
	if !ok {
		return handle.Nil, fmt.Errorf("%w: unregistered kind %T", ErrKindMismatch, k)
	}
	return s.addComponent(info, obj, v)
}

func (s *WriteScope) addComponent(info *kindInfo, obj handle.Handle, v any) (handle.Handle, error) {
	if err := s.check("add " + info.name); err != nil {
		return handle.Nil, err
	}
	c, err := s.w.attachComponent(info, obj, v)
	if err != nil {
		return handle.Nil, fmt.Errorf("add %s: %w", info.name, err)
	}
	return c, nil
}

// RemoveComponent destroys comp. Stale handles report false.
func (s *WriteScope) RemoveComponent(comp handle.Handle) bool {
	if s.check("remove component") != nil {
		return false
	}
	return s.w.detachComponent(comp, true)
}
