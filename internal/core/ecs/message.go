package ecs

import (
	"reflect"

	"github.com/l1jgo/worldcore/internal/core/handle"
	"go.uber.org/zap"
)

// MessageContext is passed to message handlers. Structural changes requested
// through Commands are applied when Send returns if the message was sent
// under a write scope, otherwise at the start of the next write scope.
type MessageContext struct {
	Scope    Scope
	Object   handle.Handle
	Commands *CommandBuffer
}

// Send delivers msg synchronously to every component of obj whose kind has a
// handler for M, in attachment order, and returns how many handlers ran.
// Components without a handler are skipped; a stale obj delivers nothing.
func Send[M any](s Scope, obj handle.Handle, msg M) int {
	r := s.scope()
	n, ok := r.node(obj)
	if !ok {
		return 0
	}
	comps := append([]handle.Handle(nil), n.comps...)
	t := reflect.TypeFor[M]()
	ctx := &MessageContext{Scope: s, Object: obj, Commands: NewCommandBuffer()}

	delivered := 0
	for _, c := range comps {
		info := kinds().byKind(c.Kind())
		if info == nil {
			continue
		}
		fn, ok := info.handler(t)
		if !ok {
			continue
		}
		m := r.w.managerFor(c.Kind())
		if m == nil {
			continue
		}
		p, ok := m.payload(c)
		if !ok {
			continue
		}
		fn(ctx, c, p, msg)
		delivered++
	}

	if ctx.Commands.Len() > 0 {
		if ws, ok := s.(*WriteScope); ok {
			if err := ws.Apply(ctx.Commands); err != nil {
				r.w.log.Warn("message commands failed", zap.Stringer("type", t), zap.Error(err))
			}
		} else {
			for _, c := range ctx.Commands.drain() {
				r.w.deferred.push(c)
			}
		}
	}
	return delivered
}
