package system

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// Runner executes systems in phase order each tick.
type Runner struct {
	systems []System
	sorted  bool
	stats   Stats
}

// Stats is the Runner's wall-clock accounting over completed Ticks.
type Stats struct {
	Ticks uint64
	Last  time.Duration
	Max   time.Duration
	Total time.Duration
}

// Mean is the average tick duration, or zero before the first tick.
func (s Stats) Mean() time.Duration {
	if s.Ticks == 0 {
		return 0
	}
	return s.Total / time.Duration(s.Ticks)
}

func NewRunner() *Runner {
	return &Runner{
		systems: make([]System, 0, 16),
	}
}

func (r *Runner) Register(s System) {
	r.systems = append(r.systems, s)
	r.sorted = false
}

// Tick runs every system once, stopping at the first error. Failed ticks are
// not counted in Stats.
func (r *Runner) Tick(ctx context.Context, dt time.Duration) error {
	r.ensureSorted()
	start := time.Now()
	for _, s := range r.systems {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.Update(ctx, dt); err != nil {
			return fmt.Errorf("%s system %T: %w", s.Phase(), s, err)
		}
	}
	elapsed := time.Since(start)
	r.stats.Ticks++
	r.stats.Last = elapsed
	r.stats.Total += elapsed
	r.stats.Max = max(r.stats.Max, elapsed)
	return nil
}

// TickPhase runs only the systems registered for phase.
func (r *Runner) TickPhase(ctx context.Context, phase Phase, dt time.Duration) error {
	r.ensureSorted()
	for _, s := range r.systems {
		if s.Phase() != phase {
			continue
		}
		if err := s.Update(ctx, dt); err != nil {
			return fmt.Errorf("%s system %T: %w", phase, s, err)
		}
	}
	return nil
}

func (r *Runner) Stats() Stats { return r.stats }

func (r *Runner) ensureSorted() {
	if r.sorted {
		return
	}
	// Stable so systems within a phase keep registration order.
	sort.SliceStable(r.systems, func(i, j int) bool {
		return r.systems[i].Phase() < r.systems[j].Phase()
	})
	r.sorted = true
}
