package ecs

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/l1jgo/worldcore/internal/core/block"
	"github.com/l1jgo/worldcore/internal/core/event"
	"github.com/l1jgo/worldcore/internal/core/handle"
	"github.com/l1jgo/worldcore/internal/core/system"
	"github.com/l1jgo/worldcore/internal/mathx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type health struct {
	HP, Max int
}

type velocity struct {
	X, Y, Z float64
}

type tag struct {
	Label string
}

var (
	healthKind   = RegisterKind[health]("test.health")
	velocityKind = RegisterKind[velocity]("test.velocity", WithDiscipline(block.Compacting))
	tagKind      = RegisterKind[tag]("test.tag")
)

func newTestWorld(t *testing.T) *World {
	t.Helper()
	w := New(Config{Log: zaptest.NewLogger(t), ChunkSize: 4, Scheduler: system.Serial{}})
	t.Cleanup(func() { _ = w.Close() })
	return w
}

func mustCreate(t *testing.T, ws *WriteScope, parent handle.Handle) handle.Handle {
	t.Helper()
	h, err := ws.CreateObject(parent)
	require.NoError(t, err)
	return h
}

func TestChildSeesParentTranslation(t *testing.T) {
	w := newTestWorld(t)
	ws := w.Write()
	defer ws.Release()

	o1 := mustCreate(t, ws, handle.Nil)
	o2 := mustCreate(t, ws, o1)
	require.True(t, ws.SetLocalTransform(o1, mathx.Translation(1, 0, 0)))

	g, ok := ws.ComputeGlobalTransform(o2)
	require.True(t, ok)
	assert.True(t, g.Position.ApproxEqual(mathx.Vec3{X: 1}, 1e-9), "got %+v", g.Position)

	// Moving the parent again dirties the cached child.
	ws.SetLocalTransform(o1, mathx.Translation(0, 2, 0))
	g, _ = ws.ComputeGlobalTransform(o2)
	assert.True(t, g.Position.ApproxEqual(mathx.Vec3{Y: 2}, 1e-9), "got %+v", g.Position)
}

func TestReadScopeTransformDoesNotCache(t *testing.T) {
	w := newTestWorld(t)
	var parent, child handle.Handle
	require.NoError(t, w.Update(func(ws *WriteScope) error {
		parent = mustCreate(t, ws, handle.Nil)
		child = mustCreate(t, ws, parent)
		ws.SetLocalTransform(parent, mathx.Translation(0, 0, 3))
		ws.SetLocalTransform(child, mathx.Translation(1, 0, 0))
		return nil
	}))

	require.NoError(t, w.View(func(rs *ReadScope) error {
		g, ok := rs.ComputeGlobalTransform(child)
		require.True(t, ok)
		assert.True(t, g.Position.ApproxEqual(mathx.Vec3{X: 1, Z: 3}, 1e-9))
		return nil
	}))

	n, _ := w.node(child)
	assert.True(t, n.dirty, "read scope must leave the cache alone")

	ws := w.Write()
	assert.Equal(t, 2, ws.RefreshTransforms())
	assert.Equal(t, 0, ws.RefreshTransforms())
	ws.Release()
	assert.False(t, n.dirty)
}

func TestDestroyObjectTwiceIsNoop(t *testing.T) {
	w := newTestWorld(t)
	ws := w.Write()
	defer ws.Release()

	h := mustCreate(t, ws, handle.Nil)
	assert.True(t, ws.DestroyObject(h))
	before := ws.ObjectCount()
	assert.False(t, ws.DestroyObject(h))
	assert.Equal(t, before, ws.ObjectCount())
	assert.False(t, ws.Alive(h))
	_, ok := ws.Parent(h)
	assert.False(t, ok)
}

func TestDestroyCascadesChildrenFirst(t *testing.T) {
	w := newTestWorld(t)
	ws := w.Write()

	root := mustCreate(t, ws, handle.Nil)
	a := mustCreate(t, ws, root)
	b := mustCreate(t, ws, root)
	a1 := mustCreate(t, ws, a)
	hc, err := healthKind.Add(ws, a1, health{HP: 5})
	require.NoError(t, err)
	vc, err := velocityKind.Add(ws, b, velocity{X: 1})
	require.NoError(t, err)

	var destroyed []handle.Handle
	event.Subscribe(w.Events(), func(e event.ObjectDestroyed) {
		destroyed = append(destroyed, e.Object)
	})

	require.True(t, ws.DestroyObject(root))
	for _, h := range []handle.Handle{root, a, b, a1} {
		assert.False(t, ws.Alive(h), "%v", h)
	}
	_, ok := healthKind.Get(ws, hc)
	assert.False(t, ok)
	_, ok = velocityKind.Get(ws, vc)
	assert.False(t, ok)
	assert.Equal(t, 0, healthKind.Len(ws))
	assert.Equal(t, 0, ws.ObjectCount())
	ws.Release()

	w.events.SwapBuffers()
	w.events.DispatchAll()
	assert.Equal(t, []handle.Handle{a1, a, b, root}, destroyed)
}

func TestSetParentRejectsCycles(t *testing.T) {
	w := newTestWorld(t)
	ws := w.Write()
	defer ws.Release()

	a := mustCreate(t, ws, handle.Nil)
	b := mustCreate(t, ws, a)
	c := mustCreate(t, ws, b)

	tests := []struct {
		name          string
		child, parent handle.Handle
	}{
		{"self", a, a},
		{"direct child", a, b},
		{"grandchild", a, c},
		{"middle under leaf", b, c},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ws.SetParent(tt.child, tt.parent)
			var ce CycleError
			require.True(t, errors.As(err, &ce), "got %v", err)
			assert.Equal(t, tt.child, ce.Child)

			p, _ := ws.Parent(b)
			assert.Equal(t, a, p, "graph must be untouched")
			p, _ = ws.Parent(c)
			assert.Equal(t, b, p)
		})
	}

	// Every live object still reaches a root.
	for h := range ws.Objects() {
		steps := 0
		for cur := h; !cur.IsZero(); cur, _ = ws.Parent(cur) {
			steps++
			require.LessOrEqual(t, steps, 3)
		}
	}
}

func TestSetParentMovesSubtree(t *testing.T) {
	w := newTestWorld(t)
	ws := w.Write()
	defer ws.Release()

	a := mustCreate(t, ws, handle.Nil)
	b := mustCreate(t, ws, handle.Nil)
	c := mustCreate(t, ws, a)
	ws.SetLocalTransform(b, mathx.Translation(5, 0, 0))
	ws.RefreshTransforms()

	require.NoError(t, ws.SetParent(c, b))
	assert.Empty(t, ws.Children(a))
	assert.Equal(t, []handle.Handle{c}, ws.Children(b))
	g, _ := ws.ComputeGlobalTransform(c)
	assert.True(t, g.Position.ApproxEqual(mathx.Vec3{X: 5}, 1e-9))

	require.NoError(t, ws.SetParent(c, handle.Nil))
	var roots []handle.Handle
	for r := range ws.Roots() {
		roots = append(roots, r)
	}
	assert.ElementsMatch(t, []handle.Handle{a, b, c}, roots)

	err := ws.SetParent(c, handle.New(99, 1, handle.KindObject))
	assert.ErrorIs(t, err, ErrStaleHandle)
}

func TestDebugPanicsOnMisuse(t *testing.T) {
	w := New(Config{Log: zaptest.NewLogger(t), Debug: true})
	defer w.Close()

	ws := w.Write()
	a, err := ws.CreateObject(handle.Nil)
	require.NoError(t, err)
	b, err := ws.CreateObject(a)
	require.NoError(t, err)
	assert.Panics(t, func() { _ = ws.SetParent(a, b) })
	ws.Release()

	assert.Panics(t, func() { ws.CreateObject(handle.Nil) })
}

func TestReleasedScopeIsRejected(t *testing.T) {
	w := newTestWorld(t)
	ws := w.Write()
	h := mustCreate(t, ws, handle.Nil)
	ws.Release()
	ws.Release()

	_, err := ws.CreateObject(handle.Nil)
	assert.ErrorIs(t, err, ErrScopeReleased)
	assert.False(t, ws.DestroyObject(h))
	assert.False(t, ws.Alive(h), "lookups through a released scope report absent")

	rs := w.Read()
	assert.True(t, rs.Alive(h))
	rs.Release()
}

func TestStableIDs(t *testing.T) {
	w := newTestWorld(t)
	ws := w.Write()
	defer ws.Release()

	id := uuid.New()
	h, err := ws.CreateObjectWithID(handle.Nil, id)
	require.NoError(t, err)
	got, ok := ws.LookupStable(id)
	require.True(t, ok)
	assert.Equal(t, h, got)
	sid, _ := ws.StableID(h)
	assert.Equal(t, id, sid)

	_, err = ws.CreateObjectWithID(handle.Nil, id)
	assert.ErrorIs(t, err, ErrDuplicateID)

	ws.DestroyObject(h)
	_, ok = ws.LookupStable(id)
	assert.False(t, ok)

	// The ID is free again and maps to a fresh handle.
	h2, err := ws.CreateObjectWithID(handle.Nil, id)
	require.NoError(t, err)
	assert.NotEqual(t, h, h2)
}

func TestNamesAndActive(t *testing.T) {
	w := newTestWorld(t)
	ws := w.Write()
	defer ws.Release()

	p := mustCreate(t, ws, handle.Nil)
	c := mustCreate(t, ws, p)
	ws.SetName(c, "lamp")
	name, ok := ws.Name(c)
	require.True(t, ok)
	assert.Equal(t, "lamp", name)

	assert.True(t, ws.ActiveInHierarchy(c))
	ws.SetActive(p, false)
	own, _ := ws.Active(c)
	assert.True(t, own)
	assert.False(t, ws.ActiveInHierarchy(c))
}

type closer struct{ closed *int }

func (c closer) Close() error { *c.closed++; return nil }

func TestCloseReleasesEverything(t *testing.T) {
	w := New(Config{Log: zaptest.NewLogger(t)})
	n := 0
	require.NoError(t, ProvideModule[closer](w, closer{closed: &n}))

	var h handle.Handle
	require.NoError(t, w.Update(func(ws *WriteScope) error {
		h = mustCreate(t, ws, handle.Nil)
		_, err := tagKind.Add(ws, h, tag{Label: "x"})
		return err
	}))

	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
	assert.Equal(t, 1, n)
	assert.ErrorIs(t, w.View(func(*ReadScope) error { return nil }), ErrClosed)
	_, err := GetOrCreateModule[closer](w)
	assert.ErrorIs(t, err, ErrClosed)
}
