package binding

import (
	"fmt"
	"weak"

	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/metadata"
)

// Usage is the access mode a resource is bound with.
type Usage uint8

const (
	UsageRead Usage = iota
	UsageWrite
	UsageReadWrite
)

// Writes reports whether the GPU may write through a binding with this usage.
func (u Usage) Writes() bool {
	return u == UsageWrite || u == UsageReadWrite
}

func (u Usage) String() string {
	switch u {
	case UsageRead:
		return "read"
	case UsageWrite:
		return "write"
	case UsageReadWrite:
		return "readwrite"
	default:
		return fmt.Sprintf("Usage(%d)", uint8(u))
	}
}

type resourceKind uint8

const (
	kindNone resourceKind = iota
	kindTexture
	kindBuffer
)

// ResourceRef is a non-owning reference to a texture or buffer. It does not
// keep the resource alive; once the owner destroys or drops it the reference
// reports !Alive.
type ResourceRef struct {
	kind    resourceKind
	id      core.Identifier
	texture weak.Pointer[metadata.Texture]
	buffer  weak.Pointer[metadata.Buffer]
}

func TextureRef(t *metadata.Texture) ResourceRef {
	if t == nil {
		return ResourceRef{}
	}
	return ResourceRef{kind: kindTexture, id: t.ID, texture: weak.Make(t)}
}

func BufferRef(b *metadata.Buffer) ResourceRef {
	if b == nil {
		return ResourceRef{}
	}
	return ResourceRef{kind: kindBuffer, id: b.ID, buffer: weak.Make(b)}
}

// ID is the identifier of the referenced resource, stable after it is gone.
func (r ResourceRef) ID() core.Identifier {
	return r.id
}

func (r ResourceRef) IsZero() bool {
	return r.kind == kindNone
}

// Texture returns the referenced texture, or nil when r is not a texture or
// the texture is no longer reachable.
func (r ResourceRef) Texture() *metadata.Texture {
	if r.kind != kindTexture {
		return nil
	}
	return r.texture.Value()
}

// Buffer returns the referenced buffer, or nil when r is not a buffer or
// the buffer is no longer reachable.
func (r ResourceRef) Buffer() *metadata.Buffer {
	if r.kind != kindBuffer {
		return nil
	}
	return r.buffer.Value()
}

// Alive reports whether the resource is still reachable and not destroyed.
func (r ResourceRef) Alive() bool {
	switch r.kind {
	case kindTexture:
		return r.Texture().Alive()
	case kindBuffer:
		return r.Buffer().Alive()
	}
	return false
}

// extent is the size of the whole resource in range units: bytes for
// buffers, subresources for textures.
func (r ResourceRef) extent() uint64 {
	switch r.kind {
	case kindTexture:
		if t := r.Texture(); t != nil {
			return uint64(t.SubresourceCount())
		}
	case kindBuffer:
		if b := r.Buffer(); b != nil {
			return b.Description.Size
		}
	}
	return 0
}

func (r ResourceRef) String() string {
	switch r.kind {
	case kindTexture:
		return "texture " + r.id.String()
	case kindBuffer:
		return "buffer " + r.id.String()
	}
	return "none"
}

// ResourceBinding attaches a resource to a binding point for one
// draw or dispatch. It is a plain value; copying it is cheap.
type ResourceBinding struct {
	Point    uint32
	Usage    Usage
	Resource ResourceRef

	offset uint64
	length uint64
	ranged bool
}

// Bind builds a binding covering the whole resource. Ownership of the
// resource stays with the caller.
func Bind(point uint32, usage Usage, ref ResourceRef) ResourceBinding {
	return ResourceBinding{Point: point, Usage: usage, Resource: ref}
}

// WithRange restricts the binding to [offset, offset+length). Units are
// bytes for buffers and subresource indices for textures.
func (b ResourceBinding) WithRange(offset, length uint64) ResourceBinding {
	b.offset = offset
	b.length = length
	b.ranged = true
	return b
}

// Range returns the bound sub-range, or the whole resource when none was set.
func (b ResourceBinding) Range() (offset, length uint64) {
	if b.ranged {
		return b.offset, b.length
	}
	return 0, b.Resource.extent()
}

func (b ResourceBinding) String() string {
	offset, length := b.Range()
	return fmt.Sprintf("binding %d (%s %s [%d,+%d))", b.Point, b.Usage, b.Resource, offset, length)
}
