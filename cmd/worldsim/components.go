package main

import (
	"math"

	"github.com/l1jgo/worldcore/internal/core/block"
	"github.com/l1jgo/worldcore/internal/core/ecs"
	"github.com/l1jgo/worldcore/internal/core/handle"
	"github.com/l1jgo/worldcore/internal/core/system"
	"github.com/l1jgo/worldcore/internal/mathx"
	"go.uber.org/zap"
)

// Demo component kinds used by the bundled scenes.

// Spinner rotates its object around Axis at Speed radians per second.
type Spinner struct {
	Axis  [3]float64 `yaml:"axis,flow"`
	Speed float64    `yaml:"speed"`
	Angle float64    `yaml:"angle"`
}

// Lifetime destroys its object after TTL seconds of simulation.
type Lifetime struct {
	TTL float64 `yaml:"ttl"`
}

// Emitter spawns a short-lived child every Every ticks.
type Emitter struct {
	ChildTTL float64 `yaml:"child_ttl"`
	Spawned  int     `yaml:"spawned"`
}

// Ping is sent to every root once a second; Beacon answers it.
type Ping struct{ Tick uint64 }

type Beacon struct {
	Label string `yaml:"label"`
	Pings int    `yaml:"pings"`
}

var (
	spinnerKind  = ecs.RegisterKind[Spinner]("demo.spinner", ecs.WithDiscipline(block.Compacting))
	lifetimeKind = ecs.RegisterKind[Lifetime]("demo.lifetime", ecs.WithSchedule(system.Schedule{
		Phase: system.PhaseUpdate,
		Mode:  system.WhileSimulating,
	}))
	emitterKind = ecs.RegisterKind[Emitter]("demo.emitter", ecs.WithSchedule(system.Schedule{
		Phase: system.PhasePreUpdate,
		Mode:  system.WhileSimulating,
		Every: 10,
	}))
	beaconKind = ecs.RegisterKind[Beacon]("demo.beacon")
)

func init() {
	spinnerKind.OnUpdate(updateSpinner)
	lifetimeKind.OnUpdate(updateLifetime)
	emitterKind.OnUpdate(updateEmitter)
	ecs.OnMessage(beaconKind, func(_ *ecs.MessageContext, _ handle.Handle, b *Beacon, _ Ping) {
		b.Pings++
	})
}

func updateSpinner(ctx *ecs.UpdateContext, comp handle.Handle, s *Spinner) {
	s.Angle = math.Mod(s.Angle+s.Speed*ctx.DT.Seconds(), 2*math.Pi)
	obj, ok := spinnerKind.Object(ctx.Scope, comp)
	if !ok {
		return
	}
	axis := mathx.Vec3{X: s.Axis[0], Y: s.Axis[1], Z: s.Axis[2]}
	angle := s.Angle
	ctx.Commands.Do(func(ws *ecs.WriteScope) error {
		t, ok := ws.LocalTransform(obj)
		if !ok {
			return nil
		}
		t.Rotation = mathx.AxisAngle(axis, angle)
		ws.SetLocalTransform(obj, t)
		return nil
	})
}

func updateLifetime(ctx *ecs.UpdateContext, comp handle.Handle, l *Lifetime) {
	l.TTL -= ctx.DT.Seconds()
	if l.TTL > 0 {
		return
	}
	if obj, ok := lifetimeKind.Object(ctx.Scope, comp); ok {
		ctx.Commands.Destroy(obj)
	}
}

func updateEmitter(ctx *ecs.UpdateContext, comp handle.Handle, e *Emitter) {
	obj, ok := emitterKind.Object(ctx.Scope, comp)
	if !ok {
		return
	}
	e.Spawned++
	n, ttl := e.Spawned, e.ChildTTL
	ctx.Commands.Create(obj, func(ws *ecs.WriteScope, child handle.Handle) error {
		ws.SetLocalTransform(child, mathx.Translation(float64(n%5), 0, 0))
		_, err := lifetimeKind.Add(ws, child, Lifetime{TTL: ttl})
		return err
	})
	ctx.Log.Debug("emitted", zap.Stringer("emitter", obj), zap.Int("count", n))
}
