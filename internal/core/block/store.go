// Package block stores one component kind's payloads in fixed-size chunks of
// contiguous entries.
package block

import (
	"fmt"
	"iter"
)

// Discipline selects how a store treats removals.
type Discipline uint8

const (
	// FreeList keeps every entry at its index; removed slots become
	// tombstones that Insert reuses.
	FreeList Discipline = iota
	// Compacting moves the last live entry into a removed slot so the live
	// entries stay dense.
	Compacting
)

func (d Discipline) String() string {
	switch d {
	case FreeList:
		return "free-list"
	case Compacting:
		return "compacting"
	}
	return fmt.Sprintf("discipline(%d)", uint8(d))
}

// ParseDiscipline accepts the names produced by String.
func ParseDiscipline(s string) (Discipline, error) {
	switch s {
	case "free-list", "freelist", "":
		return FreeList, nil
	case "compacting":
		return Compacting, nil
	}
	return 0, fmt.Errorf("unknown storage discipline %q", s)
}

const DefaultChunkSize = 256

// Ref addresses one entry of a Store.
type Ref uint32

// RelocateFunc is told that the entry owned by owner moved from one ref to
// another. It runs inside Remove, before Remove returns.
type RelocateFunc func(owner uint32, from, to Ref)

type chunk[T any] struct {
	items  []T
	owners []uint32
	live   []bool
}

// Store is chunked storage for one payload type. Every entry records the
// index of its owning handle so relocations can be reported back.
type Store[T any] struct {
	discipline Discipline
	chunkSize  int
	alloc      Allocator[T]
	chunks     []*chunk[T]
	next       int // high-water mark of used refs
	count      int
	freeList   []Ref
	onRelocate RelocateFunc
}

// New builds an empty store. A nil allocator gets a private unlimited one.
func New[T any](d Discipline, chunkSize int, alloc Allocator[T]) *Store[T] {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if alloc == nil {
		alloc = NewPoolAllocator[T](0)
	}
	return &Store[T]{
		discipline: d,
		chunkSize:  chunkSize,
		alloc:      alloc,
	}
}

// OnRelocate installs the hook compacting removals report moves through.
func (s *Store[T]) OnRelocate(fn RelocateFunc) { s.onRelocate = fn }

func (s *Store[T]) Discipline() Discipline { return s.discipline }
func (s *Store[T]) Len() int               { return s.count }
func (s *Store[T]) Chunks() int            { return len(s.chunks) }
func (s *Store[T]) Cap() int               { return len(s.chunks) * s.chunkSize }

// Insert stores v for owner and returns where it went.
func (s *Store[T]) Insert(owner uint32, v T) (Ref, error) {
	var ref Ref
	switch {
	case s.discipline == FreeList && len(s.freeList) > 0:
		ref = s.freeList[len(s.freeList)-1]
		s.freeList = s.freeList[:len(s.freeList)-1]
	default:
		if err := s.ensure(s.next); err != nil {
			return 0, err
		}
		ref = Ref(s.next)
		s.next++
	}
	c, off := s.at(ref)
	c.items[off] = v
	c.owners[off] = owner
	c.live[off] = true
	s.count++
	return ref, nil
}

// Remove deletes the entry at ref and zeroes the vacated slot. Under
// Compacting the last entry is moved into ref and the relocate hook fires.
func (s *Store[T]) Remove(ref Ref) bool {
	if !s.valid(ref) {
		return false
	}
	c, off := s.at(ref)
	if s.discipline == FreeList {
		var zero T
		c.items[off] = zero
		c.owners[off] = 0
		c.live[off] = false
		s.freeList = append(s.freeList, ref)
		s.count--
		return true
	}

	last := Ref(s.next - 1)
	lc, loff := s.at(last)
	if last != ref {
		c.items[off] = lc.items[loff]
		c.owners[off] = lc.owners[loff]
		if s.onRelocate != nil {
			s.onRelocate(c.owners[off], last, ref)
		}
	}
	var zero T
	lc.items[loff] = zero
	lc.owners[loff] = 0
	lc.live[loff] = false
	s.next--
	s.count--
	s.shrink()
	return true
}

// Get returns a pointer into the chunk. The pointer is valid until the next
// structural change to the store.
func (s *Store[T]) Get(ref Ref) (*T, bool) {
	if !s.valid(ref) {
		return nil, false
	}
	c, off := s.at(ref)
	return &c.items[off], true
}

// Owner returns the owner index recorded for ref.
func (s *Store[T]) Owner(ref Ref) (uint32, bool) {
	if !s.valid(ref) {
		return 0, false
	}
	c, off := s.at(ref)
	return c.owners[off], true
}

// All yields live entries in ref order, skipping tombstones. Each call starts
// over. The bounds are re-read every step, so a structural change mid-loop
// cannot index past the end, though it may skip or repeat entries.
func (s *Store[T]) All() iter.Seq2[Ref, *T] {
	return func(yield func(Ref, *T) bool) {
		for i := 0; i < s.next; i++ {
			c, off := s.at(Ref(i))
			if !c.live[off] {
				continue
			}
			if !yield(Ref(i), &c.items[off]) {
				return
			}
		}
	}
}

// Clear drops every entry and hands the chunks back to the allocator.
func (s *Store[T]) Clear() {
	for _, c := range s.chunks {
		s.alloc.Free(c.items)
	}
	s.chunks = nil
	s.freeList = nil
	s.next = 0
	s.count = 0
}

func (s *Store[T]) valid(ref Ref) bool {
	if int(ref) >= s.next {
		return false
	}
	c, off := s.at(ref)
	return c.live[off]
}

func (s *Store[T]) at(ref Ref) (*chunk[T], int) {
	return s.chunks[int(ref)/s.chunkSize], int(ref) % s.chunkSize
}

func (s *Store[T]) ensure(i int) error {
	for i >= len(s.chunks)*s.chunkSize {
		items, err := s.alloc.Alloc(s.chunkSize)
		if err != nil {
			return fmt.Errorf("allocate chunk %d: %w", len(s.chunks), err)
		}
		s.chunks = append(s.chunks, &chunk[T]{
			items:  items,
			owners: make([]uint32, s.chunkSize),
			live:   make([]bool, s.chunkSize),
		})
	}
	return nil
}

// shrink returns trailing chunks to the allocator, keeping one spare so an
// insert/remove pair at a chunk boundary does not thrash.
func (s *Store[T]) shrink() {
	for len(s.chunks) > 1 && s.next <= (len(s.chunks)-2)*s.chunkSize {
		last := s.chunks[len(s.chunks)-1]
		s.chunks = s.chunks[:len(s.chunks)-1]
		s.alloc.Free(last.items)
	}
}
