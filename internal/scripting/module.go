package scripting

import (
	"github.com/l1jgo/worldcore/internal/core/ecs"
	"github.com/l1jgo/worldcore/internal/core/handle"
	"github.com/l1jgo/worldcore/internal/core/system"
	"go.uber.org/zap"
)

// Runtime is the scripting World Module.
type Runtime interface {
	Call(ws *ecs.WriteScope, fn string, obj handle.Handle) error
	Invoke(fn string, obj handle.Handle) error
	Has(fn string) bool
	Loaded() []string
	Close() error
}

// Register installs the factory that gives every World its own Engine
// loaded from dir.
func Register(dir string) {
	ecs.RegisterModule[Runtime](func(w *ecs.World) (Runtime, error) {
		return NewEngine(w, dir, w.Log().Named("lua"))
	})
}

// Script binds a Lua function to an object. OnTick runs once per simulated
// tick with the object as its argument.
type Script struct {
	OnTick string `yaml:"on_tick"`
	// Disabled scripts stay attached but are not called.
	Disabled bool `yaml:"disabled,omitempty"`
}

// ScriptKind runs after the regular update phase, only while simulating.
// Lua calls need the write scope, so the update only queues them.
var ScriptKind = ecs.RegisterKind[Script]("script", ecs.WithSchedule(system.Schedule{
	Phase: system.PhasePostUpdate,
	Mode:  system.WhileSimulating,
}))

func init() {
	ScriptKind.OnUpdate(func(ctx *ecs.UpdateContext, comp handle.Handle, s *Script) {
		if s.Disabled || s.OnTick == "" {
			return
		}
		rt, ok := ecs.TryGetModule[Runtime](ctx.Scope.World())
		if !ok {
			return
		}
		obj, ok := ScriptKind.Object(ctx.Scope, comp)
		if !ok {
			return
		}
		fn := s.OnTick
		ctx.Commands.Do(func(ws *ecs.WriteScope) error {
			if !ws.Alive(obj) {
				return nil
			}
			return rt.Call(ws, fn, obj)
		})
	})
}

// Attach loads the scripting module for w so Script components start
// running. It is a no-op when the module already exists.
func Attach(w *ecs.World) (Runtime, error) {
	rt, err := ecs.GetOrCreateModule[Runtime](w)
	if err != nil {
		return nil, err
	}
	w.Log().Info("scripting attached", zap.Strings("scripts", rt.Loaded()))
	return rt, nil
}
