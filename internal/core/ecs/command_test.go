package ecs

import (
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/l1jgo/worldcore/internal/core/handle"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandsApplyInOrder(t *testing.T) {
	w := newTestWorld(t)
	ws := w.Write()
	defer ws.Release()
	root := mustCreate(t, ws, handle.Nil)

	buf := NewCommandBuffer()
	var created handle.Handle
	id := uuid.New()
	buf.CreateWithID(root, id, func(ws *WriteScope, obj handle.Handle) error {
		created = obj
		ws.SetName(obj, "spawned")
		return nil
	})
	buf.Do(func(ws *WriteScope) error {
		h, ok := ws.LookupStable(id)
		require.True(t, ok, "earlier create is visible to later commands")
		_, err := healthKind.Add(ws, h, health{HP: 7})
		return err
	})
	assert.Equal(t, 2, buf.Len())

	require.NoError(t, ws.Apply(buf))
	assert.Equal(t, 0, buf.Len())
	require.True(t, ws.Alive(created))
	name, _ := ws.Name(created)
	assert.Equal(t, "spawned", name)
	assert.Equal(t, 1, healthKind.Len(ws))
	assert.Equal(t, []handle.Handle{created}, ws.Children(root))
}

func TestCommandsSkipStaleTargets(t *testing.T) {
	w := newTestWorld(t)
	ws := w.Write()
	defer ws.Release()

	a := mustCreate(t, ws, handle.Nil)
	b := mustCreate(t, ws, handle.Nil)
	c, err := healthKind.Add(ws, b, health{})
	require.NoError(t, err)

	buf := NewCommandBuffer()
	buf.Destroy(a)
	buf.Destroy(a) // second request for the same object
	buf.SetParent(b, a)
	tagKind.AddLater(buf, a, tag{Label: "late"})
	buf.Create(a, func(*WriteScope, handle.Handle) error {
		t.Error("create under a destroyed parent must be skipped")
		return nil
	})
	buf.Remove(c)
	buf.Remove(c)

	require.NoError(t, ws.Apply(buf))
	assert.False(t, ws.Alive(a))
	p, ok := ws.Parent(b)
	require.True(t, ok)
	assert.True(t, p.IsZero())
	assert.Equal(t, 0, tagKind.Len(ws))
	assert.Equal(t, 0, healthKind.Len(ws))
	assert.Equal(t, 1, ws.ObjectCount())
}

func TestCommandErrorsAreCombined(t *testing.T) {
	w := newTestWorld(t)
	ws := w.Write()
	defer ws.Release()
	a := mustCreate(t, ws, handle.Nil)
	b := mustCreate(t, ws, a)

	errBoom := errors.New("boom")
	buf := NewCommandBuffer()
	buf.SetParent(a, b) // cycle
	buf.Do(func(*WriteScope) error { return errBoom })
	buf.Create(handle.Nil, nil)

	err := ws.Apply(buf)
	require.Error(t, err)
	assert.ErrorIs(t, err, errBoom)
	var ce CycleError
	assert.ErrorAs(t, err, &ce)
	assert.Equal(t, 3, ws.ObjectCount(), "later commands still ran")
}

func TestDeferredAppliedAtNextWrite(t *testing.T) {
	w := newTestWorld(t)
	var target handle.Handle
	require.NoError(t, w.Update(func(ws *WriteScope) error {
		target = mustCreate(t, ws, handle.Nil)
		return nil
	}))

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rs := w.Read()
			defer rs.Release()
			if rs.Alive(target) {
				w.Defer().Destroy(target)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 8, w.Defer().Len())

	ws := w.Write()
	defer ws.Release()
	assert.False(t, ws.Alive(target))
	assert.Equal(t, 0, w.Defer().Len())
	assert.Equal(t, 0, ws.ObjectCount())
}
