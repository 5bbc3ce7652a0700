package ecs

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/l1jgo/worldcore/internal/core/block"
	"github.com/l1jgo/worldcore/internal/core/handle"
	"github.com/l1jgo/worldcore/internal/core/system"
)

// KindInfo describes a registered component kind without its payload type.
// Loaders and tooling use it to create and read payloads generically.
type KindInfo interface {
	ID() handle.Kind
	Name() string
	Type() reflect.Type
	Discipline() block.Discipline
	Schedule() system.Schedule
	// New returns a pointer to a zero payload, ready to be decoded into.
	New() any
}

// messageHandler is one entry of a kind's dispatch table. payload is *T and
// msg is the message value; the typed wrapper built by OnMessage asserts both.
type messageHandler func(ctx *MessageContext, comp handle.Handle, payload any, msg any)

// kindInfo is the process-wide record for one component kind. Worlds build
// their managers from it.
type kindInfo struct {
	id         handle.Kind
	name       string
	typ        reflect.Type
	discipline block.Discipline
	schedule   system.Schedule

	newManager func(w *World) manager
	newValue   func() any

	mu        sync.RWMutex
	update    any // func(*UpdateContext, handle.Handle, *T)
	allocator any // block.Allocator[T]
	handlers  map[reflect.Type]messageHandler
}

func (k *kindInfo) ID() handle.Kind              { return k.id }
func (k *kindInfo) Name() string                 { return k.name }
func (k *kindInfo) Type() reflect.Type           { return k.typ }
func (k *kindInfo) Discipline() block.Discipline { return k.discipline }
func (k *kindInfo) Schedule() system.Schedule    { return k.schedule }
func (k *kindInfo) New() any                     { return k.newValue() }

func (k *kindInfo) updateFn() any {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.update
}

func (k *kindInfo) handler(t reflect.Type) (messageHandler, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	h, ok := k.handlers[t]
	return h, ok
}

// kindRegistry maps payload types to kinds. It is created on first use and
// lives for the whole process; registration normally happens from package
// level vars or init functions before any World is built.
type kindRegistry struct {
	mu     sync.RWMutex
	byType map[reflect.Type]*kindInfo
	byName map[string]*kindInfo
	byID   []*kindInfo // index is the kind id; slot 0 is objects
}

var (
	registryOnce sync.Once
	registry     *kindRegistry
)

func kinds() *kindRegistry {
	registryOnce.Do(func() {
		registry = &kindRegistry{
			byType: make(map[reflect.Type]*kindInfo),
			byName: make(map[string]*kindInfo),
			byID:   []*kindInfo{nil},
		}
	})
	return registry
}

func (r *kindRegistry) byKind(id handle.Kind) *kindInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if int(id) >= len(r.byID) {
		return nil
	}
	return r.byID[id]
}

// KindOption customises a kind at registration.
type KindOption func(*kindInfo)

// WithDiscipline picks the block storage discipline. Default is FreeList.
func WithDiscipline(d block.Discipline) KindOption {
	return func(k *kindInfo) { k.discipline = d }
}

// WithSchedule sets when the kind's update runs. Default is every tick in
// PhaseUpdate, regardless of simulation state.
func WithSchedule(s system.Schedule) KindOption {
	return func(k *kindInfo) { k.schedule = s }
}

// WithUpdate sets the per-component update at registration. It is the same
// as calling OnUpdate on the returned kind; fn must take the kind's payload
// type or it is never called.
func WithUpdate[T any](fn func(ctx *UpdateContext, comp handle.Handle, v *T)) KindOption {
	return func(k *kindInfo) { k.update = fn }
}

// RegisterKind registers T as a component kind. Registering the same type
// again returns the existing kind and ignores opts. Registering a second type
// under a taken name panics.
func RegisterKind[T any](name string, opts ...KindOption) Kind[T] {
	t := reflect.TypeFor[T]()
	r := kinds()
	r.mu.Lock()
	defer r.mu.Unlock()

	if k, ok := r.byType[t]; ok {
		return Kind[T]{info: k}
	}
	if other, ok := r.byName[name]; ok {
		panic(fmt.Sprintf("ecs: kind name %q already registered for %v", name, other.typ))
	}
	if len(r.byID) > int(^handle.Kind(0)) {
		panic("ecs: too many component kinds")
	}

	k := &kindInfo{
		id:       handle.Kind(len(r.byID)),
		name:     name,
		typ:      t,
		schedule: system.Schedule{Phase: system.PhaseUpdate, Mode: system.Always},
		handlers: make(map[reflect.Type]messageHandler),
		newValue: func() any { return new(T) },
	}
	for _, opt := range opts {
		opt(k)
	}
	k.newManager = func(w *World) manager { return newComponentManager[T](w, k) }

	r.byType[t] = k
	r.byName[name] = k
	r.byID = append(r.byID, k)
	return Kind[T]{info: k}
}

// KindByName looks up a registered kind.
func KindByName(name string) (KindInfo, bool) {
	r := kinds()
	r.mu.RLock()
	defer r.mu.RUnlock()
	k, ok := r.byName[name]
	if !ok {
		return nil, false
	}
	return k, true
}

// KindOf returns the kind registered for T.
func KindOf[T any]() (Kind[T], bool) {
	r := kinds()
	r.mu.RLock()
	defer r.mu.RUnlock()
	k, ok := r.byType[reflect.TypeFor[T]()]
	if !ok {
		return Kind[T]{}, false
	}
	return Kind[T]{info: k}, true
}

// Kinds lists every registered kind by id.
func Kinds() []KindInfo {
	r := kinds()
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]KindInfo, 0, len(r.byID)-1)
	for _, k := range r.byID[1:] {
		out = append(out, k)
	}
	return out
}

// OnMessage binds a handler for message type M on kind. Send invokes it for
// every component of the kind attached to the target object. A later binding
// for the same (kind, M) replaces the earlier one.
func OnMessage[T, M any](kind Kind[T], fn func(ctx *MessageContext, comp handle.Handle, v *T, msg M)) {
	k := kind.info
	k.mu.Lock()
	defer k.mu.Unlock()
	k.handlers[reflect.TypeFor[M]()] = func(ctx *MessageContext, comp handle.Handle, payload any, msg any) {
		fn(ctx, comp, payload.(*T), msg.(M))
	}
}
