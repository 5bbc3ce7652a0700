// Package handle implements generation-checked references and the slot table
// that resolves them to storage locations.
package handle

import "fmt"

// Kind tags a handle with what it refers to. KindObject is reserved for game
// objects; component kinds receive their ids from the kind registry.
type Kind uint16

const KindObject Kind = 0

// Handle packs a 32-bit index in the lower bits, a 16-bit generation above it
// and the kind tag in the top 16 bits. Handles are plain values: copy, compare
// and use them as map keys freely.
type Handle uint64

// Nil never resolves. Generations start at 1 so no live slot can match it.
const Nil Handle = 0

func New(index uint32, generation uint16, kind Kind) Handle {
	return Handle(uint64(kind)<<48 | uint64(generation)<<32 | uint64(index))
}

func (h Handle) Index() uint32      { return uint32(h) }
func (h Handle) Generation() uint16 { return uint16(h >> 32) }
func (h Handle) Kind() Kind         { return Kind(h >> 48) }
func (h Handle) IsZero() bool       { return h == Nil }

func (h Handle) String() string {
	if h.IsZero() {
		return "nil"
	}
	if h.Kind() == KindObject {
		return fmt.Sprintf("obj#%d.%d", h.Index(), h.Generation())
	}
	return fmt.Sprintf("k%d#%d.%d", h.Kind(), h.Index(), h.Generation())
}
