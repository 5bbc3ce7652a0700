package ecs

import (
	"context"
	"fmt"
	"time"

	"github.com/l1jgo/worldcore/internal/core/system"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// UpdateContext is handed to every component update of one kind in one
// phase. Scope is shared with the other kinds running in parallel; Commands
// is private to the kind and applied once the phase's parallel pass is done.
type UpdateContext struct {
	Context  context.Context
	Phase    system.Phase
	DT       time.Duration
	Tick     uint64
	Scope    *ReadScope
	Commands *CommandBuffer
	Log      *zap.Logger
}

// Tick advances the World by one tick: last tick's events are delivered,
// then every phase runs in order.
func (w *World) Tick(ctx context.Context, dt time.Duration) error {
	if err := w.beginTick(); err != nil {
		return err
	}
	for _, p := range system.Phases() {
		if err := w.UpdatePhase(ctx, p, dt); err != nil {
			return fmt.Errorf("tick %d: %w", w.TickCount(), err)
		}
	}
	return nil
}

func (w *World) beginTick() error {
	if w.closed.Load() {
		return ErrClosed
	}
	w.events.SwapBuffers()
	w.events.DispatchAll()
	w.tick.Add(1)
	return nil
}

// UpdatePhase runs the updates of every kind scheduled in phase. Kinds run in
// parallel on the World's scheduler under one shared read scope, so they must
// not touch structure directly. Their queued commands are applied afterwards
// in a single write scope, in kind registration order, and stale cached
// transforms are refreshed.
func (w *World) UpdatePhase(ctx context.Context, phase system.Phase, dt time.Duration) error {
	if w.closed.Load() {
		return ErrClosed
	}
	tick := w.tick.Load()
	simulating := w.simulating.Load()

	rs := w.Read()
	var (
		jobs []system.Job
		bufs []*CommandBuffer
	)
	for _, m := range w.managers {
		if m == nil {
			continue
		}
		info := m.kind()
		if info.schedule.Phase != phase || !info.schedule.Due(tick, simulating) || info.updateFn() == nil {
			continue
		}
		buf := NewCommandBuffer()
		bufs = append(bufs, buf)
		jobs = append(jobs, func(ctx context.Context) error {
			uc := &UpdateContext{
				Context:  ctx,
				Phase:    phase,
				DT:       dt,
				Tick:     tick,
				Scope:    rs,
				Commands: buf,
				Log:      w.log.With(zap.String("kind", info.name)),
			}
			if err := m.runUpdate(uc); err != nil {
				return fmt.Errorf("update %s: %w", info.name, err)
			}
			return nil
		})
	}
	runErr := w.sched.Run(ctx, jobs)
	rs.Release()

	ws := w.Write()
	defer ws.Release()
	var applyErr error
	for _, buf := range bufs {
		applyErr = multierr.Append(applyErr, ws.Apply(buf))
	}
	if n := ws.RefreshTransforms(); n > 0 {
		w.log.Debug("transforms refreshed", zap.Stringer("phase", phase), zap.Int("count", n))
	}
	if applyErr != nil {
		w.log.Warn("deferred commands failed",
			zap.Stringer("phase", phase),
			zap.Errors("errors", multierr.Errors(applyErr)),
		)
	}
	if runErr != nil {
		return fmt.Errorf("%s: %w", phase, runErr)
	}
	return nil
}

// Systems adapts the World to a system.Runner: one system that starts the
// tick, then one per phase. Register them in the returned order.
func (w *World) Systems() []system.System {
	out := []system.System{beginTickSystem{w: w}}
	for _, p := range system.Phases() {
		out = append(out, phaseSystem{w: w, phase: p})
	}
	return out
}

type beginTickSystem struct{ w *World }

func (s beginTickSystem) Phase() system.Phase { return system.PhasePreUpdate }

func (s beginTickSystem) Update(context.Context, time.Duration) error {
	return s.w.beginTick()
}

type phaseSystem struct {
	w     *World
	phase system.Phase
}

func (s phaseSystem) Phase() system.Phase { return s.phase }

func (s phaseSystem) Update(ctx context.Context, dt time.Duration) error {
	return s.w.UpdatePhase(ctx, s.phase, dt)
}
