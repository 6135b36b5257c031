package metadata

import (
	"sync/atomic"

	"github.com/spaghettifunk/anima-rhi/engine/core"
)

type BufferUsage uint8

const (
	BufferUsageGeneric BufferUsage = iota
	BufferUsageUniform
	BufferUsageStorage
	BufferUsageVertex
	BufferUsageIndex
)

type BufferDescription struct {
	Name  string
	Usage BufferUsage
	// Size in bytes.
	Size uint64
	// Stride of one element for structured buffers, 0 for raw buffers.
	Stride uint32
}

/**
 * @brief Represents a buffer. Owned by its creator; bindings hold weak
 * references only.
 */
type Buffer struct {
	ID          core.Identifier
	Description BufferDescription

	destroyed atomic.Bool
}

func NewBuffer(desc BufferDescription) *Buffer {
	return &Buffer{
		ID:          core.IdentifierAquireNewID(),
		Description: desc,
	}
}

// Destroy invalidates every binding that still references this buffer.
func (b *Buffer) Destroy() {
	b.destroyed.Store(true)
}

func (b *Buffer) Alive() bool {
	return b != nil && !b.destroyed.Load()
}
