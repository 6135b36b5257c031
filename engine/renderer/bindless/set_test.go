package bindless

import (
	"sync"
	"testing"

	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/metadata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHeap struct {
	mu        sync.Mutex
	base      metadata.DescriptorCounts
	released  map[metadata.DescriptorType][]uint32
	destroyed int
}

func newFakeHeap(base metadata.DescriptorCounts) *fakeHeap {
	return &fakeHeap{base: base, released: map[metadata.DescriptorType][]uint32{}}
}

func (h *fakeHeap) ShaderIndex(t metadata.DescriptorType, index uint32) uint32 {
	return h.base[t] + index
}

func (h *fakeHeap) Release(t metadata.DescriptorType, index uint32) {
	h.mu.Lock()
	h.released[t] = append(h.released[t], index)
	h.mu.Unlock()
}

func (h *fakeHeap) Destroy() { h.destroyed++ }

func counts(n uint32) metadata.DescriptorCounts {
	var c metadata.DescriptorCounts
	for _, t := range metadata.DescriptorTypes {
		c[t] = n
	}
	return c
}

func newTestSet(t *testing.T, capacity uint32, opts ...Option) *Set {
	t.Helper()
	s, err := NewSet(counts(capacity), counts(1<<20), nil, opts...)
	require.NoError(t, err)
	return s
}

func TestSlotEncoding(t *testing.T) {
	s := makeSlot(metadata.DescriptorTypeRWBuffer, 42, 7)
	assert.Equal(t, metadata.DescriptorTypeRWBuffer, s.Type())
	assert.Equal(t, uint32(42), s.index())
	assert.Equal(t, uint32(7), s.generation())
	assert.NotEqual(t, InvalidSlot, makeSlot(metadata.DescriptorTypeSampler, 0, 1))

	assert.Equal(t, uint32(2), nextGeneration(1))
	assert.Equal(t, uint32(1), nextGeneration(maxGeneration))
}

func TestAllocateUniqueUntilExhausted(t *testing.T) {
	s := newTestSet(t, 8)

	seen := map[uint32]bool{}
	for i := 0; i < 8; i++ {
		slot, err := s.Allocate(metadata.DescriptorTypeTexture)
		require.NoError(t, err)
		assert.True(t, s.IsValid(slot))
		assert.False(t, seen[slot.index()], "index %d issued twice", slot.index())
		seen[slot.index()] = true
	}
	assert.Equal(t, uint32(0), s.Available(metadata.DescriptorTypeTexture))

	_, err := s.Allocate(metadata.DescriptorTypeTexture)
	assert.ErrorIs(t, err, core.ErrDescriptorPoolExhausted)
	assert.True(t, core.IsRecoverable(err))

	// other types are unaffected
	_, err = s.Allocate(metadata.DescriptorTypeBuffer)
	assert.NoError(t, err)
}

func TestFreeAllThenReallocate(t *testing.T) {
	const capacity = 16
	s := newTestSet(t, capacity)

	slots := make([]Slot, 0, capacity)
	for i := 0; i < capacity; i++ {
		slot, err := s.Allocate(metadata.DescriptorTypeSampler)
		require.NoError(t, err)
		slots = append(slots, slot)
	}
	for _, slot := range slots {
		require.NoError(t, s.Free(slot))
		assert.False(t, s.IsValid(slot))
	}
	assert.Equal(t, uint32(capacity), s.Available(metadata.DescriptorTypeSampler))

	for i := 0; i < capacity; i++ {
		slot, err := s.Allocate(metadata.DescriptorTypeSampler)
		require.NoError(t, err)
		assert.NotContains(t, slots, slot, "reissued handle must carry a new generation")
	}
}

func TestDoubleFree(t *testing.T) {
	s := newTestSet(t, 4)
	slot, err := s.Allocate(metadata.DescriptorTypeBuffer)
	require.NoError(t, err)

	require.NoError(t, s.Free(slot))
	err = s.Free(slot)
	assert.ErrorIs(t, err, core.ErrDoubleFree)
	assert.True(t, core.IsFatal(err))

	// the slot went back to the free list exactly once
	assert.Equal(t, uint32(4), s.Available(metadata.DescriptorTypeBuffer))
}

func TestDoubleFreePanicsWhenConfigured(t *testing.T) {
	s := newTestSet(t, 4, WithPanicOnDoubleFree(true))
	slot, err := s.Allocate(metadata.DescriptorTypeBuffer)
	require.NoError(t, err)
	require.NoError(t, s.Free(slot))
	assert.Panics(t, func() { _ = s.Free(slot) })
}

func TestFreeInvalidSlot(t *testing.T) {
	s := newTestSet(t, 4)

	assert.ErrorIs(t, s.Free(InvalidSlot), core.ErrInvalidSlot)
	assert.ErrorIs(t, s.Free(makeSlot(metadata.DescriptorTypeTexture, 100, 1)), core.ErrInvalidSlot)
	assert.ErrorIs(t, s.Free(makeSlot(metadata.DescriptorTypeTexture, 0, 1)), core.ErrInvalidSlot)
	assert.ErrorIs(t, s.Free(makeSlot(metadata.DescriptorTypeCount, 0, 1)), core.ErrInvalidSlot)
}

func TestNewSetOutOfSpace(t *testing.T) {
	limits := counts(100)
	capacities := counts(10)
	capacities[metadata.DescriptorTypeRWTexture] = 101

	_, err := NewSet(capacities, limits, nil)
	assert.ErrorIs(t, err, core.ErrOutOfDescriptorSpace)
}

func TestZeroCapacityType(t *testing.T) {
	capacities := counts(4)
	capacities[metadata.DescriptorTypeRWBuffer] = 0
	s, err := NewSet(capacities, counts(4), nil)
	require.NoError(t, err)

	_, err = s.Allocate(metadata.DescriptorTypeRWBuffer)
	assert.ErrorIs(t, err, core.ErrDescriptorPoolExhausted)
	assert.Equal(t, uint32(0), s.Capacity(metadata.DescriptorTypeRWBuffer))
}

func TestShaderIndexUsesHeap(t *testing.T) {
	base := metadata.DescriptorCounts{0, 10, 20, 30, 40}
	heap := newFakeHeap(base)
	s, err := NewSet(counts(4), counts(4), heap)
	require.NoError(t, err)

	slot, err := s.Allocate(metadata.DescriptorTypeRWTexture)
	require.NoError(t, err)
	idx, err := s.ShaderIndex(slot)
	require.NoError(t, err)
	assert.Equal(t, uint32(20), idx)

	require.NoError(t, s.Free(slot))
	_, err = s.ShaderIndex(slot)
	assert.ErrorIs(t, err, core.ErrInvalidSlot)
	assert.Equal(t, []uint32{0}, heap.released[metadata.DescriptorTypeRWTexture])

	s.Destroy()
	s.Destroy()
	assert.Equal(t, 1, heap.destroyed)
	_, err = s.Allocate(metadata.DescriptorTypeTexture)
	assert.ErrorIs(t, err, core.ErrBackendShutdown)
}

func TestFreeDeferred(t *testing.T) {
	s := newTestSet(t, 1, WithFramesInFlight(2))

	slot, err := s.Allocate(metadata.DescriptorTypeTexture)
	require.NoError(t, err)
	require.NoError(t, s.FreeDeferred(slot))
	assert.False(t, s.IsValid(slot))
	assert.ErrorIs(t, s.Free(slot), core.ErrDoubleFree)

	_, err = s.Allocate(metadata.DescriptorTypeTexture)
	assert.ErrorIs(t, err, core.ErrDescriptorPoolExhausted)

	s.AdvanceFrame()
	assert.Equal(t, uint32(0), s.Available(metadata.DescriptorTypeTexture))

	s.AdvanceFrame()
	assert.Equal(t, uint32(1), s.Available(metadata.DescriptorTypeTexture))

	reissued, err := s.Allocate(metadata.DescriptorTypeTexture)
	require.NoError(t, err)
	assert.NotEqual(t, slot, reissued)
}

func TestFreeDeferredWithoutFramesInFlight(t *testing.T) {
	s := newTestSet(t, 1, WithFramesInFlight(0))
	slot, err := s.Allocate(metadata.DescriptorTypeTexture)
	require.NoError(t, err)
	require.NoError(t, s.FreeDeferred(slot))
	assert.Equal(t, uint32(1), s.Available(metadata.DescriptorTypeTexture))
}

func TestConcurrentAllocateFree(t *testing.T) {
	const (
		workers  = 8
		rounds   = 200
		capacity = workers * 4
	)
	s := newTestSet(t, capacity)

	var (
		mu   sync.Mutex
		live = map[uint32]bool{}
		wg   sync.WaitGroup
	)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < rounds; i++ {
				slot, err := s.Allocate(metadata.DescriptorTypeBuffer)
				if !assert.NoError(t, err) {
					return
				}
				mu.Lock()
				assert.False(t, live[slot.index()], "index %d held twice", slot.index())
				live[slot.index()] = true
				mu.Unlock()

				mu.Lock()
				delete(live, slot.index())
				mu.Unlock()
				assert.NoError(t, s.Free(slot))
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, uint32(capacity), s.Available(metadata.DescriptorTypeBuffer))
}
