package ecs

import (
	"testing"

	"github.com/l1jgo/worldcore/internal/core/block"
	"github.com/l1jgo/worldcore/internal/core/handle"
	"github.com/l1jgo/worldcore/internal/core/system"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestFreeListReuseStartsZeroed(t *testing.T) {
	w := newTestWorld(t)
	ws := w.Write()
	defer ws.Release()

	o := mustCreate(t, ws, handle.Nil)
	c1, err := healthKind.Add(ws, o, health{HP: 90, Max: 100})
	require.NoError(t, err)
	require.True(t, healthKind.Remove(ws, c1))

	c2, err := ws.AddComponentValue(healthKind.Info(), o, nil)
	require.NoError(t, err)
	assert.Equal(t, c1.Index(), c2.Index(), "free list hands the slot back")
	assert.NotEqual(t, c1, c2)

	v, ok := healthKind.Get(ws, c2)
	require.True(t, ok)
	assert.Equal(t, health{}, *v)
	_, ok = healthKind.Get(ws, c1)
	assert.False(t, ok, "old handle stays stale")
}

func TestCompactingRelocationKeepsHandles(t *testing.T) {
	w := newTestWorld(t)
	ws := w.Write()
	defer ws.Release()

	o := mustCreate(t, ws, handle.Nil)
	var comps []handle.Handle
	for i := range 3 {
		c, err := velocityKind.Add(ws, o, velocity{X: float64(i)})
		require.NoError(t, err)
		comps = append(comps, c)
	}
	require.True(t, ws.RemoveComponent(comps[0]))

	m := velocityKind.manager(ws)
	loc, ok := m.slots.Resolve(comps[2])
	require.True(t, ok)
	assert.Equal(t, handle.Location(0), loc, "last entry moved into the hole")

	v, ok := velocityKind.Get(ws, comps[2])
	require.True(t, ok)
	assert.Equal(t, 2.0, v.X)
	v, ok = velocityKind.Get(ws, comps[1])
	require.True(t, ok)
	assert.Equal(t, 1.0, v.X)
	assert.Equal(t, []handle.Handle{comps[1], comps[2]}, ws.Components(o))
	assert.Equal(t, block.Compacting, velocityKind.Info().Discipline())
}

func TestEachAndOf(t *testing.T) {
	w := newTestWorld(t)
	ws := w.Write()
	defer ws.Release()

	a := mustCreate(t, ws, handle.Nil)
	b := mustCreate(t, ws, handle.Nil)
	ca, err := healthKind.Add(ws, a, health{HP: 1})
	require.NoError(t, err)
	_, err = healthKind.Add(ws, b, health{HP: 2})
	require.NoError(t, err)
	_, err = healthKind.Add(ws, a, health{HP: 3})
	require.NoError(t, err)

	sum := 0
	for _, v := range healthKind.Each(ws) {
		sum += v.HP
	}
	assert.Equal(t, 6, sum)
	assert.Equal(t, 3, healthKind.Len(ws))

	c, v, ok := healthKind.Of(ws, a)
	require.True(t, ok)
	assert.Equal(t, ca, c, "first in attachment order")
	assert.Equal(t, 1, v.HP)

	_, _, ok = velocityKind.Of(ws, a)
	assert.False(t, ok)

	obj, ok := healthKind.Object(ws, ca)
	require.True(t, ok)
	assert.Equal(t, a, obj)

	// Early exit from Each.
	n := 0
	for range healthKind.Each(ws) {
		n++
		break
	}
	assert.Equal(t, 1, n)
}

func TestPayloadWritesUnderReadScope(t *testing.T) {
	w := newTestWorld(t)
	var c handle.Handle
	require.NoError(t, w.Update(func(ws *WriteScope) error {
		o := mustCreate(t, ws, handle.Nil)
		var err error
		c, err = healthKind.Add(ws, o, health{HP: 10})
		return err
	}))

	require.NoError(t, w.View(func(rs *ReadScope) error {
		v, ok := healthKind.Get(rs, c)
		require.True(t, ok)
		v.HP = 42
		return nil
	}))

	rs := w.Read()
	defer rs.Release()
	v, _ := healthKind.Get(rs, c)
	assert.Equal(t, 42, v.HP)
}

func TestTypeErasedAdd(t *testing.T) {
	w := newTestWorld(t)
	ws := w.Write()
	defer ws.Release()
	o := mustCreate(t, ws, handle.Nil)

	info, ok := KindByName("test.tag")
	require.True(t, ok)
	p := info.New().(*tag)
	p.Label = "door"

	c, err := ws.AddComponentValue(info, o, p)
	require.NoError(t, err)
	k, ok := ws.ComponentKind(c)
	require.True(t, ok)
	assert.Equal(t, "test.tag", k.Name())
	v, ok := ws.ComponentValue(c)
	require.True(t, ok)
	assert.Equal(t, &tag{Label: "door"}, v)

	_, err = ws.AddComponentValue(info, o, health{})
	assert.ErrorIs(t, err, ErrKindMismatch)

	_, err = ws.AddComponentValue(info, handle.New(500, 1, handle.KindObject), tag{})
	assert.ErrorIs(t, err, ErrStaleHandle)
}

func TestKindRegistry(t *testing.T) {
	again := RegisterKind[health]("ignored")
	assert.Equal(t, healthKind.ID(), again.ID())
	assert.Equal(t, "test.health", again.Name())

	assert.Panics(t, func() { RegisterKind[struct{ N int }]("test.health") })

	k, ok := KindOf[velocity]()
	require.True(t, ok)
	assert.Equal(t, velocityKind.ID(), k.ID())

	names := map[string]bool{}
	for _, info := range Kinds() {
		names[info.Name()] = true
	}
	assert.True(t, names["test.tag"])
	_, ok = KindByName("test.nope")
	assert.False(t, ok)
}

func TestComponentHandlesAreKindChecked(t *testing.T) {
	w := newTestWorld(t)
	ws := w.Write()
	defer ws.Release()
	o := mustCreate(t, ws, handle.Nil)
	c, err := healthKind.Add(ws, o, health{})
	require.NoError(t, err)

	assert.False(t, tagKind.Remove(ws, c))
	_, ok := tagKind.Get(ws, c)
	assert.False(t, ok)
	_, ok = healthKind.Get(ws, o)
	assert.False(t, ok, "object handle is not a component")
}

func TestAddFailsCleanlyWhenChunkBudgetIsSpent(t *testing.T) {
	w := New(Config{Log: zaptest.NewLogger(t), ChunkSize: 2, MaxChunksPerKind: 1, Scheduler: system.Serial{}})
	t.Cleanup(func() { _ = w.Close() })
	ws := w.Write()
	defer ws.Release()

	o := mustCreate(t, ws, handle.Nil)
	for i := range 2 {
		_, err := healthKind.Add(ws, o, health{HP: i})
		require.NoError(t, err)
	}
	_, err := healthKind.Add(ws, o, health{HP: 2})
	require.Error(t, err)
	assert.ErrorIs(t, err, block.ErrChunkBudget)

	assert.Equal(t, 2, healthKind.Len(ws))
	assert.Len(t, ws.Components(o), 2, "failed add leaves the object untouched")

	// Freed capacity is usable again.
	require.True(t, healthKind.Remove(ws, ws.Components(o)[0]))
	_, err = healthKind.Add(ws, o, health{HP: 3})
	require.NoError(t, err)
	assert.Equal(t, 2, healthKind.Len(ws))
}
