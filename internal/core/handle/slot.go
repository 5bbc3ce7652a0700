package handle

import (
	"errors"
	"math"
)

// MaxGeneration is the last generation a slot can reach. A slot released at
// this generation is retired for good so old handles can never match it again.
const MaxGeneration = math.MaxUint16

// ErrExhausted is returned when every index of the table is in use or retired.
var ErrExhausted = errors.New("handle: index space exhausted")

// Location is a storage coordinate owned by whoever binds it (usually a
// block.Ref).
type Location uint32

type slot struct {
	generation uint16
	occupied   bool
	retired    bool
	loc        Location
}

// SlotTable maps handle indices to storage locations with generational
// indices and a free list. Not safe for concurrent mutation; the owning World
// serializes writers.
type SlotTable struct {
	kind     Kind
	slots    []slot
	freeList []uint32
	live     int
	retired  int
	maxIndex uint32
}

func NewSlotTable(kind Kind, capacity int) *SlotTable {
	return &SlotTable{
		kind:     kind,
		slots:    make([]slot, 0, capacity),
		freeList: make([]uint32, 0, capacity/4),
		maxIndex: math.MaxUint32,
	}
}

// Allocate reserves an index, reusing a released one when possible. The
// returned handle resolves immediately; its location is zero until Bind.
func (t *SlotTable) Allocate() (Handle, error) {
	if n := len(t.freeList); n > 0 {
		idx := t.freeList[n-1]
		t.freeList = t.freeList[:n-1]
		s := &t.slots[idx]
		s.occupied = true
		s.loc = 0
		t.live++
		return New(idx, s.generation, t.kind), nil
	}
	if uint64(len(t.slots)) > uint64(t.maxIndex) {
		return Nil, ErrExhausted
	}
	idx := uint32(len(t.slots))
	t.slots = append(t.slots, slot{generation: 1, occupied: true})
	t.live++
	return New(idx, 1, t.kind), nil
}

// Bind records where the payload of a live handle lives.
func (t *SlotTable) Bind(h Handle, loc Location) bool {
	s := t.lookup(h)
	if s == nil {
		return false
	}
	s.loc = loc
	return true
}

// Resolve returns the location of h, or false when h is stale, out of range or
// of another kind.
func (t *SlotTable) Resolve(h Handle) (Location, bool) {
	s := t.lookup(h)
	if s == nil {
		return 0, false
	}
	return s.loc, true
}

func (t *SlotTable) Alive(h Handle) bool {
	return t.lookup(h) != nil
}

// Release invalidates h. Releasing a stale handle is a no-op and returns
// false.
func (t *SlotTable) Release(h Handle) bool {
	s := t.lookup(h)
	if s == nil {
		return false
	}
	s.occupied = false
	s.loc = 0
	t.live--
	if s.generation >= MaxGeneration-1 {
		s.generation = MaxGeneration
		s.retired = true
		t.retired++
		return true
	}
	s.generation++
	t.freeList = append(t.freeList, h.Index())
	return true
}

// Relocate rewrites the location stored at index. Storage calls this when it
// moves an entry, so the owner keeps resolving to the right place.
func (t *SlotTable) Relocate(index uint32, loc Location) {
	if int(index) >= len(t.slots) || !t.slots[index].occupied {
		return
	}
	t.slots[index].loc = loc
}

// HandleAt returns the live handle occupying index.
func (t *SlotTable) HandleAt(index uint32) (Handle, bool) {
	if int(index) >= len(t.slots) {
		return Nil, false
	}
	s := t.slots[index]
	if !s.occupied {
		return Nil, false
	}
	return New(index, s.generation, t.kind), true
}

func (t *SlotTable) Kind() Kind   { return t.kind }
func (t *SlotTable) Len() int     { return t.live }
func (t *SlotTable) Retired() int { return t.retired }

// Cap is the number of indices ever handed out, live or not.
func (t *SlotTable) Cap() int { return len(t.slots) }

func (t *SlotTable) lookup(h Handle) *slot {
	if h.Kind() != t.kind {
		return nil
	}
	idx := h.Index()
	if int(idx) >= len(t.slots) {
		return nil
	}
	s := &t.slots[idx]
	if !s.occupied || s.generation != h.Generation() {
		return nil
	}
	return s
}
