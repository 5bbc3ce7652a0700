package ecs

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/l1jgo/worldcore/internal/core/block"
	"github.com/l1jgo/worldcore/internal/core/event"
	"github.com/l1jgo/worldcore/internal/core/handle"
	"github.com/l1jgo/worldcore/internal/core/system"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Config tunes a World. The zero value is usable.
type Config struct {
	Log              *zap.Logger
	InitialObjects   int
	ChunkSize        int // entries per block storage chunk
	MaxChunksPerKind int // 0 = unlimited
	// Debug turns structural misuse into a panic instead of a returned error.
	Debug bool
	// Scheduler runs per-kind updates. Default is a Pool with no limit.
	Scheduler system.Scheduler
}

// World is the top-level container for one simulation: it owns the object
// graph, one manager per component kind, the world modules and the
// read/write scope lock that guards all of them.
type World struct {
	cfg   Config
	log   *zap.Logger
	mu    sync.RWMutex
	sched system.Scheduler

	objects  *handle.SlotTable
	nodes    *block.Store[node]
	byStable map[uuid.UUID]handle.Handle
	dirty    []handle.Handle // tops of subtrees whose cached transforms are stale

	managers []manager // index is the kind id; nil until first use

	events   *event.Bus
	deferred *CommandBuffer
	modules  *moduleSet

	tick       atomic.Uint64
	simulating atomic.Bool
	closed     atomic.Bool
}

func New(cfg Config) *World {
	if cfg.Log == nil {
		cfg.Log = zap.NewNop()
	}
	if cfg.InitialObjects <= 0 {
		cfg.InitialObjects = 1024
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = block.DefaultChunkSize
	}
	if cfg.Scheduler == nil {
		cfg.Scheduler = system.NewPool(0)
	}
	return &World{
		cfg:      cfg,
		log:      cfg.Log,
		sched:    cfg.Scheduler,
		objects:  handle.NewSlotTable(handle.KindObject, cfg.InitialObjects),
		nodes:    block.New[node](block.FreeList, cfg.ChunkSize, nil),
		byStable: make(map[uuid.UUID]handle.Handle, cfg.InitialObjects),
		events:   event.NewBus(),
		deferred: NewCommandBuffer(),
		modules:  newModuleSet(),
	}
}

// Events is the bus structural changes are published on. Subscribers see
// events from tick N when tick N+1 starts.
func (w *World) Events() *event.Bus { return w.events }

// Defer returns the world-level command buffer. It is safe for concurrent
// use and is applied at the start of the next write scope.
func (w *World) Defer() *CommandBuffer { return w.deferred }

func (w *World) Log() *zap.Logger { return w.log }

// SetSimulating toggles kinds scheduled WhileSimulating.
func (w *World) SetSimulating(on bool) { w.simulating.Store(on) }
func (w *World) Simulating() bool      { return w.simulating.Load() }

// TickCount is the number of ticks started so far.
func (w *World) TickCount() uint64 { return w.tick.Load() }

// Close tears the World down: every module implementing io.Closer is closed,
// in no particular order, and all storage is released. Modules must not rely
// on each other during Close.
func (w *World) Close() error {
	if w.closed.Swap(true) {
		return nil
	}
	// Modules close before the lock is taken so they may still read the
	// World while shutting down.
	err := w.modules.closeAll()

	w.mu.Lock()
	defer w.mu.Unlock()
	for _, m := range w.managers {
		if m != nil {
			m.clear()
		}
	}
	w.managers = nil
	w.nodes.Clear()
	clear(w.byStable)
	w.log.Debug("world closed", zap.Error(err))
	return err
}

func (w *World) managerFor(id handle.Kind) manager {
	if int(id) >= len(w.managers) {
		return nil
	}
	return w.managers[id]
}

// ensureManager must run under the write scope.
func (w *World) ensureManager(info *kindInfo) manager {
	for int(info.id) >= len(w.managers) {
		w.managers = append(w.managers, nil)
	}
	if w.managers[info.id] == nil {
		w.managers[info.id] = info.newManager(w)
		w.log.Debug("component manager created",
			zap.String("kind", info.name),
			zap.Stringer("discipline", info.discipline),
			zap.Stringer("phase", info.schedule.Phase),
		)
	}
	return w.managers[info.id]
}

// misuse reports a programmer error: a panic under Config.Debug, a warning
// and the error otherwise.
func (w *World) misuse(op string, err error) error {
	if w.cfg.Debug {
		panic(fmt.Sprintf("ecs: %s: %v", op, err))
	}
	w.log.Warn("rejected world operation", zap.String("op", op), zap.Error(err))
	return err
}

// applyDeferred drains the world-level buffer. Runs under the write scope.
func (w *World) applyDeferred(ws *WriteScope) {
	if w.deferred.Len() == 0 {
		return
	}
	if err := ws.Apply(w.deferred); err != nil {
		w.log.Warn("deferred commands failed", zap.Errors("errors", multierr.Errors(err)))
	}
}
