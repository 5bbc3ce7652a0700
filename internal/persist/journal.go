package persist

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/l1jgo/worldcore/internal/core/ecs"
	"github.com/l1jgo/worldcore/internal/core/event"
	"go.uber.org/zap"
)

// JournalOp is the kind of structural change a journal entry records.
type JournalOp string

const (
	JournalCreated    JournalOp = "created"
	JournalDestroyed  JournalOp = "destroyed"
	JournalReparented JournalOp = "reparented"
)

// JournalEntry is one structural change, keyed by stable ID. Parent is
// uuid.Nil for roots and for destroys.
type JournalEntry struct {
	Tick   uint64
	Op     JournalOp
	Object uuid.UUID
	Parent uuid.UUID
}

// JournalRepo stores the structural changes made since the last snapshot.
type JournalRepo struct {
	db *DB
}

func NewJournalRepo(db *DB) *JournalRepo {
	return &JournalRepo{db: db}
}

// Write stores a batch of entries in a single transaction.
func (r *JournalRepo) Write(ctx context.Context, entries []JournalEntry) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("journal begin: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, e := range entries {
		var parent *uuid.UUID
		if e.Parent != uuid.Nil {
			parent = &e.Parent
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO world_journal (tick, op, object_id, parent_id) VALUES ($1, $2, $3, $4)`,
			int64(e.Tick), string(e.Op), e.Object, parent,
		); err != nil {
			return fmt.Errorf("journal insert: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// MarkProcessed marks every unprocessed entry up to and including tick as
// covered by a snapshot.
func (r *JournalRepo) MarkProcessed(ctx context.Context, tick uint64) (int64, error) {
	tag, err := r.db.Pool.Exec(ctx,
		`UPDATE world_journal SET processed = TRUE WHERE processed = FALSE AND tick <= $1`,
		int64(tick),
	)
	if err != nil {
		return 0, fmt.Errorf("journal mark processed: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Unprocessed returns the entries no snapshot covers yet, oldest first.
func (r *JournalRepo) Unprocessed(ctx context.Context) ([]JournalEntry, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT tick, op, object_id, parent_id FROM world_journal
		 WHERE processed = FALSE ORDER BY id`,
	)
	if err != nil {
		return nil, fmt.Errorf("journal query: %w", err)
	}
	defer rows.Close()

	var out []JournalEntry
	for rows.Next() {
		var (
			e      JournalEntry
			tick   int64
			op     string
			parent *uuid.UUID
		)
		if err := rows.Scan(&tick, &op, &e.Object, &parent); err != nil {
			return nil, fmt.Errorf("journal scan: %w", err)
		}
		e.Tick, e.Op = uint64(tick), JournalOp(op)
		if parent != nil {
			e.Parent = *parent
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// journalStore is the part of JournalRepo a Recorder flushes into.
type journalStore interface {
	Write(ctx context.Context, entries []JournalEntry) error
	MarkProcessed(ctx context.Context, tick uint64) (int64, error)
}

// Recorder turns a World's structural events into journal entries. Events
// arrive one tick late, so an entry's Tick is the tick the change was made in.
type Recorder struct {
	mu      sync.Mutex
	w       *ecs.World
	buf     []JournalEntry
	covered uint64 // snapshot tick waiting to be marked
	cover   bool
}

// NewRecorder subscribes to w's event bus.
func NewRecorder(w *ecs.World) *Recorder {
	r := &Recorder{w: w}
	bus := w.Events()
	event.Subscribe(bus, func(e event.ObjectCreated) {
		r.add(JournalEntry{Op: JournalCreated, Object: e.StableID, Parent: e.ParentID})
	})
	event.Subscribe(bus, func(e event.ObjectDestroyed) {
		r.add(JournalEntry{Op: JournalDestroyed, Object: e.StableID})
	})
	event.Subscribe(bus, func(e event.ParentChanged) {
		r.add(JournalEntry{Op: JournalReparented, Object: e.StableID, Parent: e.NewParentID})
	})
	return r
}

func (r *Recorder) add(e JournalEntry) {
	e.Tick = r.w.TickCount()
	r.mu.Lock()
	r.buf = append(r.buf, e)
	r.mu.Unlock()
}

// Pending is the number of entries not yet flushed.
func (r *Recorder) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buf)
}

// Take removes and returns the buffered entries.
func (r *Recorder) Take() []JournalEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.buf
	r.buf = nil
	return out
}

// Covered records that a snapshot captured the world at tick. The changes of
// that tick itself are only delivered on the next one, so the entries up to
// tick are marked processed by the first Flush after the world has moved on.
func (r *Recorder) Covered(tick uint64) {
	r.mu.Lock()
	if !r.cover || tick > r.covered {
		r.covered, r.cover = tick, true
	}
	r.mu.Unlock()
}

// Flush writes the buffered entries to repo, then marks a pending snapshot
// cutoff once every entry it covers has been written. On failure the entries
// are put back ahead of anything recorded meanwhile.
func (r *Recorder) Flush(ctx context.Context, repo journalStore) error {
	entries := r.Take()
	if err := repo.Write(ctx, entries); err != nil {
		r.mu.Lock()
		r.buf = append(entries, r.buf...)
		r.mu.Unlock()
		return err
	}
	log := r.w.Log()
	if len(entries) > 0 {
		log.Debug("journal flushed", zap.Int("entries", len(entries)))
	}

	r.mu.Lock()
	tick, ok := r.covered, r.cover && r.w.TickCount() > r.covered
	r.mu.Unlock()
	if !ok {
		return nil
	}
	n, err := repo.MarkProcessed(ctx, tick)
	if err != nil {
		return err
	}
	r.mu.Lock()
	if r.covered == tick {
		r.cover = false
	}
	r.mu.Unlock()
	if n > 0 {
		log.Debug("journal covered by snapshot", zap.Int64("entries", n), zap.Uint64("tick", tick))
	}
	return nil
}
