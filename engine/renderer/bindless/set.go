package bindless

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/spaghettifunk/anima-rhi/engine/containers"
	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/metadata"
)

// Heap is the backend-native storage behind a Set: a Vulkan descriptor set
// with one binding per type, or a pair of D3D12 descriptor heaps.
type Heap interface {
	// ShaderIndex maps a per-type slot index to the index shaders use when
	// reading the native descriptor table.
	ShaderIndex(t metadata.DescriptorType, index uint32) uint32
	// Release is called once a slot is back on the free list.
	Release(t metadata.DescriptorType, index uint32)
	Destroy()
}

type options struct {
	name              string
	panicOnDoubleFree bool
	framesInFlight    uint32
}

type Option func(*options)

// WithName labels the set in log output.
func WithName(name string) Option {
	return func(o *options) {
		o.name = name
	}
}

// WithPanicOnDoubleFree makes Free panic on a double free instead of only
// returning ErrDoubleFree. Intended for debug builds.
func WithPanicOnDoubleFree(enabled bool) Option {
	return func(o *options) {
		o.panicOnDoubleFree = enabled
	}
}

// WithFramesInFlight sets how many AdvanceFrame calls a deferred free waits
// before its slot becomes allocatable again.
func WithFramesInFlight(n uint32) Option {
	return func(o *options) {
		o.framesInFlight = n
	}
}

type freeList struct {
	mu          sync.Mutex
	capacity    uint32
	free        []uint32
	generations []uint32
	live        []bool
}

func newFreeList(capacity uint32) freeList {
	fl := freeList{
		capacity:    capacity,
		free:        make([]uint32, capacity),
		generations: make([]uint32, capacity),
		live:        make([]bool, capacity),
	}
	// Stack top is the end of the slice; lowest indices come out first.
	for i := uint32(0); i < capacity; i++ {
		fl.free[i] = capacity - 1 - i
		fl.generations[i] = 1
	}
	return fl
}

// Set is a bindless descriptor set: per-type fixed-capacity tables of slots.
// Allocate and Free are safe for concurrent use; each descriptor type has its
// own lock so unrelated types never contend.
type Set struct {
	ID core.Identifier

	heap  Heap
	opts  options
	lists [metadata.DescriptorTypeCount]freeList

	retireMu sync.Mutex
	pending  []Slot
	retiring *containers.RingQueue[[]Slot]

	destroyed atomic.Bool
}

// NewSet creates a set with the requested capacity per type. It fails with
// ErrOutOfDescriptorSpace when a capacity exceeds the backend limit.
// A nil heap maps slot indices to shader indices one to one.
func NewSet(capacities, limits metadata.DescriptorCounts, heap Heap, opts ...Option) (*Set, error) {
	o := options{name: "bindless", framesInFlight: 2}
	for _, opt := range opts {
		opt(&o)
	}

	for _, t := range metadata.DescriptorTypes {
		if capacities[t] > limits[t] {
			return nil, fmt.Errorf("%s: %d %s descriptors requested, backend limit is %d: %w",
				o.name, capacities[t], t, limits[t], core.ErrOutOfDescriptorSpace)
		}
	}

	if heap == nil {
		heap = identityHeap{}
	}

	s := &Set{
		ID:       core.IdentifierAquireNewID(),
		heap:     heap,
		opts:     o,
		retiring: containers.NewRingQueue[[]Slot](int(o.framesInFlight) + 1),
	}
	for _, t := range metadata.DescriptorTypes {
		s.lists[t] = newFreeList(capacities[t])
	}

	core.LogDebug("%s: created set %s with capacities %v", o.name, s.ID, capacities)
	return s, nil
}

// Allocate pops a free slot of type t. It fails with ErrDescriptorPoolExhausted
// when none is left; callers may retry after frees.
func (s *Set) Allocate(t metadata.DescriptorType) (Slot, error) {
	if s.destroyed.Load() {
		return InvalidSlot, core.ErrBackendShutdown
	}
	if !t.Valid() {
		return InvalidSlot, fmt.Errorf("%s: allocate: unknown descriptor type %d", s.opts.name, uint8(t))
	}

	fl := &s.lists[t]
	fl.mu.Lock()
	defer fl.mu.Unlock()

	n := len(fl.free)
	if n == 0 {
		return InvalidSlot, fmt.Errorf("%s: %s table full (%d slots): %w",
			s.opts.name, t, fl.capacity, core.ErrDescriptorPoolExhausted)
	}
	idx := fl.free[n-1]
	fl.free = fl.free[:n-1]
	fl.live[idx] = true

	return makeSlot(t, idx, fl.generations[idx]), nil
}

// Free returns slot to its type's free list. Freeing a slot twice reports
// ErrDoubleFree; a slot this set never issued reports ErrInvalidSlot.
func (s *Set) Free(slot Slot) error {
	if err := s.retire(slot); err != nil {
		return err
	}
	s.release(slot.Type(), slot.index())
	return nil
}

// FreeDeferred kills slot immediately but keeps it off the free list until
// the configured number of frames has been advanced, so descriptors that
// in-flight GPU work may still read are not overwritten.
func (s *Set) FreeDeferred(slot Slot) error {
	if err := s.retire(slot); err != nil {
		return err
	}
	if s.opts.framesInFlight == 0 {
		s.release(slot.Type(), slot.index())
		return nil
	}

	s.retireMu.Lock()
	s.pending = append(s.pending, slot)
	s.retireMu.Unlock()
	return nil
}

// AdvanceFrame marks the start of a new frame and recycles slots whose
// deferred free is old enough.
func (s *Set) AdvanceFrame() {
	if s.opts.framesInFlight == 0 {
		return
	}

	s.retireMu.Lock()
	batch := s.pending
	s.pending = nil
	// Cannot fail: the queue holds framesInFlight+1 and is drained below.
	_ = s.retiring.Enqueue(batch)
	var ready []Slot
	for uint32(s.retiring.Len()) >= s.opts.framesInFlight {
		oldest, err := s.retiring.Dequeue()
		if err != nil {
			break
		}
		ready = append(ready, oldest...)
	}
	s.retireMu.Unlock()

	for _, slot := range ready {
		s.release(slot.Type(), slot.index())
	}
}

// IsValid reports whether slot is currently allocated from this set.
func (s *Set) IsValid(slot Slot) bool {
	t := slot.Type()
	if slot == InvalidSlot || !t.Valid() {
		return false
	}
	fl := &s.lists[t]
	idx := slot.index()
	fl.mu.Lock()
	defer fl.mu.Unlock()
	return idx < fl.capacity && fl.live[idx] && fl.generations[idx] == slot.generation()
}

// ShaderIndex returns the index shaders use to read slot from the native table.
func (s *Set) ShaderIndex(slot Slot) (uint32, error) {
	if !s.IsValid(slot) {
		return 0, fmt.Errorf("%s: shader index of %s: %w", s.opts.name, slot, core.ErrInvalidSlot)
	}
	return s.heap.ShaderIndex(slot.Type(), slot.index()), nil
}

// Capacity is the fixed number of slots of type t.
func (s *Set) Capacity(t metadata.DescriptorType) uint32 {
	if !t.Valid() {
		return 0
	}
	return s.lists[t].capacity
}

// Available is the number of slots of type t that Allocate can hand out now.
func (s *Set) Available(t metadata.DescriptorType) uint32 {
	if !t.Valid() {
		return 0
	}
	fl := &s.lists[t]
	fl.mu.Lock()
	defer fl.mu.Unlock()
	return uint32(len(fl.free))
}

// Destroy releases the native storage. Allocations fail afterwards.
func (s *Set) Destroy() {
	if s.destroyed.Swap(true) {
		return
	}
	s.heap.Destroy()
	core.LogDebug("%s: destroyed set %s", s.opts.name, s.ID)
}

// retire validates slot and marks it dead, bumping its generation so the
// handle can never be freed or used again.
func (s *Set) retire(slot Slot) error {
	t := slot.Type()
	if slot == InvalidSlot || !t.Valid() {
		return fmt.Errorf("%s: free %s: %w", s.opts.name, slot, core.ErrInvalidSlot)
	}

	fl := &s.lists[t]
	idx := slot.index()

	fl.mu.Lock()
	if idx >= fl.capacity {
		fl.mu.Unlock()
		return fmt.Errorf("%s: free %s: index out of range (capacity %d): %w",
			s.opts.name, slot, fl.capacity, core.ErrInvalidSlot)
	}
	gen := fl.generations[idx]
	live := fl.live[idx]
	if live && gen == slot.generation() {
		fl.live[idx] = false
		fl.generations[idx] = nextGeneration(gen)
		fl.mu.Unlock()
		return nil
	}
	fl.mu.Unlock()

	if !live && gen == slot.generation() {
		return fmt.Errorf("%s: free %s: slot was never allocated: %w", s.opts.name, slot, core.ErrInvalidSlot)
	}
	err := fmt.Errorf("%s: free %s: %w", s.opts.name, slot, core.ErrDoubleFree)
	core.LogError("%s", err.Error())
	if s.opts.panicOnDoubleFree {
		panic(err)
	}
	return err
}

func (s *Set) release(t metadata.DescriptorType, idx uint32) {
	s.heap.Release(t, idx)

	fl := &s.lists[t]
	fl.mu.Lock()
	fl.free = append(fl.free, idx)
	fl.mu.Unlock()
}

type identityHeap struct{}

func (identityHeap) ShaderIndex(_ metadata.DescriptorType, index uint32) uint32 { return index }
func (identityHeap) Release(metadata.DescriptorType, uint32) {}
func (identityHeap) Destroy() {}
