package ecs

import (
	"testing"

	"github.com/l1jgo/worldcore/internal/core/handle"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type triggered struct{ By string }

type recomputeBounds struct{}

type trigger struct {
	Hits []string
}

type bounds struct {
	Recomputed int
}

var (
	triggerKind = RegisterKind[trigger]("test.trigger")
	boundsKind  = RegisterKind[bounds]("test.bounds")
)

func init() {
	OnMessage(triggerKind, func(_ *MessageContext, _ handle.Handle, v *trigger, msg triggered) {
		v.Hits = append(v.Hits, msg.By)
	})
	OnMessage(boundsKind, func(_ *MessageContext, _ handle.Handle, v *bounds, _ recomputeBounds) {
		v.Recomputed++
	})
	OnMessage(boundsKind, func(ctx *MessageContext, _ handle.Handle, _ *bounds, msg triggered) {
		if msg.By == "destroy" {
			ctx.Commands.Destroy(ctx.Object)
		}
	})
}

func TestSendOnlyReachesHandlers(t *testing.T) {
	w := newTestWorld(t)
	ws := w.Write()
	defer ws.Release()

	o := mustCreate(t, ws, handle.Nil)
	tc, err := triggerKind.Add(ws, o, trigger{})
	require.NoError(t, err)
	_, err = healthKind.Add(ws, o, health{HP: 3})
	require.NoError(t, err)

	n := Send(ws, o, triggered{By: "player"})
	assert.Equal(t, 1, n)
	v, _ := triggerKind.Get(ws, tc)
	assert.Equal(t, []string{"player"}, v.Hits)

	assert.Equal(t, 0, Send(ws, o, recomputeBounds{}), "no component handles it")
	assert.Equal(t, 0, Send(ws, handle.New(77, 3, handle.KindObject), triggered{}))
}

func TestSendInAttachmentOrder(t *testing.T) {
	w := newTestWorld(t)
	ws := w.Write()
	defer ws.Release()

	o := mustCreate(t, ws, handle.Nil)
	_, err := boundsKind.Add(ws, o, bounds{})
	require.NoError(t, err)
	_, err = triggerKind.Add(ws, o, trigger{})
	require.NoError(t, err)
	_, err = triggerKind.Add(ws, o, trigger{})
	require.NoError(t, err)

	assert.Equal(t, 3, Send(ws, o, triggered{By: "x"}))
	assert.Equal(t, 1, Send(ws, o, recomputeBounds{}))

	// Commands from a handler apply when Send returns under a write scope.
	Send(ws, o, triggered{By: "destroy"})
	assert.False(t, ws.Alive(o))
}

func TestSendUnderReadScopeDefers(t *testing.T) {
	w := newTestWorld(t)
	var o handle.Handle
	require.NoError(t, w.Update(func(ws *WriteScope) error {
		o = mustCreate(t, ws, handle.Nil)
		_, err := boundsKind.Add(ws, o, bounds{})
		return err
	}))

	require.NoError(t, w.View(func(rs *ReadScope) error {
		assert.Equal(t, 1, Send(rs, o, triggered{By: "destroy"}))
		assert.True(t, rs.Alive(o))
		return nil
	}))
	assert.Equal(t, 1, w.Defer().Len())

	ws := w.Write()
	defer ws.Release()
	assert.False(t, ws.Alive(o))
}
