package bindless

import (
	"fmt"

	"github.com/spaghettifunk/anima-rhi/engine/renderer/metadata"
)

const (
	indexBits      = 32
	generationBits = 24
	typeBits       = 8

	generationShift = indexBits
	typeShift       = indexBits + generationBits

	maxGeneration = 1<<generationBits - 1
)

// Slot is an opaque handle to one allocated descriptor. It packs the
// per-type index, a generation counter and the descriptor type, so a handle
// that outlives its allocation no longer matches the set's bookkeeping.
// The zero Slot is never issued.
type Slot uint64

// InvalidSlot is the zero handle.
const InvalidSlot Slot = 0

func makeSlot(t metadata.DescriptorType, index, generation uint32) Slot {
	return Slot(uint64(index) |
		uint64(generation&maxGeneration)<<generationShift |
		uint64(t)<<typeShift)
}

func (s Slot) index() uint32 {
	return uint32(s)
}

func (s Slot) generation() uint32 {
	return uint32(s>>generationShift) & maxGeneration
}

// Type is the descriptor type the slot was allocated for.
func (s Slot) Type() metadata.DescriptorType {
	return metadata.DescriptorType(s >> typeShift)
}

func (s Slot) String() string {
	if s == InvalidSlot {
		return "Slot(invalid)"
	}
	return fmt.Sprintf("Slot(%s#%d@%d)", s.Type(), s.index(), s.generation())
}

// nextGeneration skips 0 so that no live slot ever encodes as InvalidSlot.
func nextGeneration(g uint32) uint32 {
	g = (g + 1) & maxGeneration
	if g == 0 {
		g = 1
	}
	return g
}
