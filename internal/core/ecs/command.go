package ecs

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/l1jgo/worldcore/internal/core/handle"
	"go.uber.org/multierr"
)

type opCode uint8

const (
	opCreate opCode = iota
	opDestroy
	opSetParent
	opAdd
	opRemove
	opDo
)

func (o opCode) String() string {
	switch o {
	case opCreate:
		return "create"
	case opDestroy:
		return "destroy"
	case opSetParent:
		return "set parent"
	case opAdd:
		return "add"
	case opRemove:
		return "remove"
	case opDo:
		return "do"
	}
	return fmt.Sprintf("op(%d)", uint8(o))
}

type command struct {
	op     opCode
	obj    handle.Handle
	target handle.Handle
	kind   *kindInfo
	value  any
	stable uuid.UUID
	init   func(ws *WriteScope, obj handle.Handle) error
	fn     func(ws *WriteScope) error
}

// CommandBuffer queues structural changes requested while only a read scope
// is held, typically from component updates. Buffers are safe for concurrent
// use; commands keep submission order when applied.
type CommandBuffer struct {
	mu   sync.Mutex
	cmds []command
}

func NewCommandBuffer() *CommandBuffer {
	return &CommandBuffer{}
}

func (b *CommandBuffer) push(c command) {
	b.mu.Lock()
	b.cmds = append(b.cmds, c)
	b.mu.Unlock()
}

// Len is the number of queued commands.
func (b *CommandBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.cmds)
}

// Create queues an object creation under parent. init, if not nil, runs
// right after creation with the new handle, still inside the applying scope.
func (b *CommandBuffer) Create(parent handle.Handle, init func(ws *WriteScope, obj handle.Handle) error) {
	b.push(command{op: opCreate, obj: parent, init: init})
}

// CreateWithID is Create with a known stable ID.
func (b *CommandBuffer) CreateWithID(parent handle.Handle, id uuid.UUID, init func(ws *WriteScope, obj handle.Handle) error) {
	b.push(command{op: opCreate, obj: parent, stable: id, init: init})
}

// Destroy queues destruction of obj. Destroying the same object twice, or
// one that is gone by the time the buffer is applied, is a no-op.
func (b *CommandBuffer) Destroy(obj handle.Handle) {
	b.push(command{op: opDestroy, obj: obj})
}

func (b *CommandBuffer) SetParent(child, parent handle.Handle) {
	b.push(command{op: opSetParent, obj: child, target: parent})
}

// Remove queues removal of a component.
func (b *CommandBuffer) Remove(comp handle.Handle) {
	b.push(command{op: opRemove, obj: comp})
}

// Do queues an arbitrary function to run under the applying write scope.
func (b *CommandBuffer) Do(fn func(ws *WriteScope) error) {
	b.push(command{op: opDo, fn: fn})
}

func (b *CommandBuffer) drain() []command {
	b.mu.Lock()
	defer b.mu.Unlock()
	cmds := b.cmds
	b.cmds = nil
	return cmds
}

// Apply runs every command queued on buf in submission order and empties it.
// Commands whose target went stale are skipped. Failures do not stop the
// remaining commands; they are combined into the returned error.
func (s *WriteScope) Apply(buf *CommandBuffer) error {
	if err := s.check("apply commands"); err != nil {
		return err
	}
	var errs error
	for i, c := range buf.drain() {
		if err := s.apply(c); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("command %d (%v): %w", i, c.op, err))
		}
	}
	return errs
}

func (s *WriteScope) apply(c command) error {
	switch c.op {
	case opCreate:
		if !c.obj.IsZero() && !s.Alive(c.obj) {
			return nil
		}
		h, err := s.CreateObjectWithID(c.obj, c.stable)
		if err != nil {
			return err
		}
		if c.init != nil {
			return c.init(s, h)
		}
	case opDestroy:
		s.DestroyObject(c.obj)
	case opSetParent:
		if !s.Alive(c.obj) || (!c.target.IsZero() && !s.Alive(c.target)) {
			return nil
		}
		return s.SetParent(c.obj, c.target)
	case opAdd:
		if !s.Alive(c.obj) {
			return nil
		}
		_, err := s.addComponent(c.kind, c.obj, c.value)
		return err
	case opRemove:
		s.RemoveComponent(c.obj)
	case opDo:
		if c.fn != nil {
			return c.fn(s)
		}
	}
	return nil
}
