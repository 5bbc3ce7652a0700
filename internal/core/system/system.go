package system

import (
	"context"
	"fmt"
	"time"
)

// Phase defines execution ordering within a single tick.
type Phase int

const (
	PhasePreUpdate  Phase = iota // 0: input, queued events
	PhaseUpdate                  // 1: simulation logic
	PhasePostUpdate              // 2: transforms, bounds, derived state
	PhaseLate                    // 3: extraction for rendering / tooling

	phaseCount
)

// Phases lists every phase in tick order.
func Phases() []Phase {
	return []Phase{PhasePreUpdate, PhaseUpdate, PhasePostUpdate, PhaseLate}
}

func (p Phase) String() string {
	switch p {
	case PhasePreUpdate:
		return "pre-update"
	case PhaseUpdate:
		return "update"
	case PhasePostUpdate:
		return "post-update"
	case PhaseLate:
		return "late"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// ParsePhase accepts the names produced by String.
func ParsePhase(s string) (Phase, error) {
	for _, p := range Phases() {
		if p.String() == s {
			return p, nil
		}
	}
	return 0, fmt.Errorf("unknown phase %q", s)
}

// Mode says whether a schedule runs regardless of simulation state.
type Mode int

const (
	Always Mode = iota
	WhileSimulating
)

// Schedule is when a component kind's update runs.
type Schedule struct {
	Phase Phase
	Mode  Mode
	Every int // run every N ticks; 0 and 1 both mean every tick
}

// Due reports whether the schedule runs on the given tick.
func (s Schedule) Due(tick uint64, simulating bool) bool {
	if s.Mode == WhileSimulating && !simulating {
		return false
	}
	if s.Every > 1 && tick%uint64(s.Every) != 0 {
		return false
	}
	return true
}

// System is anything the Runner ticks.
type System interface {
	Phase() Phase
	Update(ctx context.Context, dt time.Duration) error
}
