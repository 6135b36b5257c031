package metadata

import (
	"sync/atomic"

	"github.com/spaghettifunk/anima-rhi/engine/core"
)

/**
 * @brief Represents various types of textures.
 */
type TextureType int

const (
	/** @brief A standard two-dimensional texture. */
	TextureType2d TextureType = iota
	/** @brief A cube texture, used for cubemaps. */
	TextureTypeCube
	/** @brief A three-dimensional texture. */
	TextureType3d
)

/** @brief Describes a texture's shape. Backing memory is owned elsewhere. */
type TextureDescription struct {
	Name      string
	Type      TextureType
	Format    Format
	Width     uint32
	Height    uint32
	Depth     uint32
	MipLevels uint32
	// ArraySize is the layer count (6 per cube for cube textures).
	ArraySize uint32
}

/**
 * @brief Represents a texture. The texture is owned by its creator; bindings
 * only hold weak references and check Alive before use.
 */
type Texture struct {
	/** @brief The unique texture identifier. */
	ID          core.Identifier
	Description TextureDescription

	destroyed atomic.Bool
}

func NewTexture(desc TextureDescription) *Texture {
	if desc.MipLevels == 0 {
		desc.MipLevels = 1
	}
	if desc.ArraySize == 0 {
		desc.ArraySize = 1
	}
	if desc.Depth == 0 {
		desc.Depth = 1
	}
	return &Texture{
		ID:          core.IdentifierAquireNewID(),
		Description: desc,
	}
}

// SubresourceCount is the number of mip/array subresources.
func (t *Texture) SubresourceCount() uint32 {
	return t.Description.MipLevels * t.Description.ArraySize
}

// Destroy invalidates every binding that still references this texture.
func (t *Texture) Destroy() {
	t.destroyed.Store(true)
}

func (t *Texture) Alive() bool {
	return t != nil && !t.destroyed.Load()
}
