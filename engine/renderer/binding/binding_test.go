package binding

import (
	"runtime"
	"testing"

	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/metadata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBuffer(size uint64) *metadata.Buffer {
	return metadata.NewBuffer(metadata.BufferDescription{Name: "test", Usage: metadata.BufferUsageStorage, Size: size})
}

func newTexture() *metadata.Texture {
	return metadata.NewTexture(metadata.TextureDescription{
		Name:      "albedo",
		Format:    metadata.FormatRGBA8Unorm,
		Width:     256,
		Height:    256,
		MipLevels: 8,
	})
}

func TestBindDoesNotOwn(t *testing.T) {
	buf := newBuffer(1024)
	b := Bind(3, UsageRead, BufferRef(buf))

	assert.Equal(t, uint32(3), b.Point)
	assert.Same(t, buf, b.Resource.Buffer())
	assert.Nil(t, b.Resource.Texture())
	assert.Equal(t, buf.ID, b.Resource.ID())

	off, length := b.Range()
	assert.Equal(t, uint64(0), off)
	assert.Equal(t, uint64(1024), length)

	off, length = b.WithRange(128, 64).Range()
	assert.Equal(t, uint64(128), off)
	assert.Equal(t, uint64(64), length)

	tex := newTexture()
	_, length = Bind(0, UsageRead, TextureRef(tex)).Range()
	assert.Equal(t, uint64(8), length)
}

func TestValidateAcceptsDisjointSet(t *testing.T) {
	buf := newBuffer(1024)
	tex := newTexture()
	bindings := []ResourceBinding{
		Bind(0, UsageRead, TextureRef(tex)),
		Bind(1, UsageRead, TextureRef(tex)),
		Bind(2, UsageWrite, BufferRef(buf)).WithRange(0, 256),
		Bind(3, UsageRead, BufferRef(buf)).WithRange(512, 256),
	}
	assert.NoError(t, ValidateBindingSet(bindings))
	assert.NoError(t, ValidateBindingSet(nil))
}

func TestValidateDuplicateBinding(t *testing.T) {
	a, b := newBuffer(16), newBuffer(16)
	err := ValidateBindingSet([]ResourceBinding{
		Bind(4, UsageRead, BufferRef(a)),
		Bind(4, UsageRead, BufferRef(b)),
	})
	assert.ErrorIs(t, err, core.ErrDuplicateBinding)
	assert.True(t, core.IsRecoverable(err))
}

func TestValidateAliasing(t *testing.T) {
	buf := newBuffer(1024)

	err := ValidateBindingSet([]ResourceBinding{
		Bind(0, UsageRead, BufferRef(buf)).WithRange(0, 512),
		Bind(1, UsageWrite, BufferRef(buf)).WithRange(256, 512),
	})
	assert.ErrorIs(t, err, core.ErrAliasingViolation)

	// whole-resource read against a read-write sub-range
	err = ValidateBindingSet([]ResourceBinding{
		Bind(0, UsageRead, BufferRef(buf)),
		Bind(1, UsageReadWrite, BufferRef(buf)).WithRange(900, 4),
	})
	assert.ErrorIs(t, err, core.ErrAliasingViolation)

	// two writers conflict as well
	err = ValidateBindingSet([]ResourceBinding{
		Bind(0, UsageWrite, BufferRef(buf)),
		Bind(1, UsageWrite, BufferRef(buf)),
	})
	assert.ErrorIs(t, err, core.ErrAliasingViolation)
}

func TestValidateTouchingRanges(t *testing.T) {
	buf := newBuffer(1024)
	bindings := []ResourceBinding{
		Bind(0, UsageRead, BufferRef(buf)).WithRange(0, 256),
		Bind(1, UsageWrite, BufferRef(buf)).WithRange(256, 256),
	}
	assert.ErrorIs(t, ValidateBindingSet(bindings), core.ErrAliasingViolation)
	assert.NoError(t, NewValidator(WithStrictRanges()).Validate(bindings))
}

func TestValidateStaleResource(t *testing.T) {
	buf := newBuffer(64)
	b := Bind(0, UsageRead, BufferRef(buf))
	require.NoError(t, ValidateBindingSet([]ResourceBinding{b}))

	buf.Destroy()
	assert.False(t, b.Resource.Alive())
	assert.ErrorIs(t, ValidateBindingSet([]ResourceBinding{b}), core.ErrStaleResource)

	assert.ErrorIs(t, ValidateBindingSet([]ResourceBinding{Bind(1, UsageRead, ResourceRef{})}), core.ErrStaleResource)
	assert.True(t, BufferRef(nil).IsZero())
}

func collectedTextureRef() ResourceRef {
	return TextureRef(newTexture())
}

func TestValidateCollectedResource(t *testing.T) {
	ref := collectedTextureRef()
	runtime.GC()
	runtime.GC()

	assert.Nil(t, ref.Texture())
	assert.False(t, ref.Alive())
	err := ValidateBindingSet([]ResourceBinding{Bind(0, UsageRead, ref)})
	assert.ErrorIs(t, err, core.ErrStaleResource)
}

func TestValidateRangeOutsideResource(t *testing.T) {
	buf := newBuffer(16)

	for _, b := range []ResourceBinding{
		Bind(0, UsageRead, BufferRef(buf)).WithRange(100, 50),
		Bind(0, UsageRead, BufferRef(buf)).WithRange(8, 9),
		Bind(0, UsageRead, BufferRef(buf)).WithRange(16, 1),
		Bind(0, UsageRead, BufferRef(buf)).WithRange(4, 0),
		Bind(0, UsageRead, BufferRef(buf)).WithRange(1, ^uint64(0)),
	} {
		err := ValidateBindingSet([]ResourceBinding{b})
		assert.ErrorIs(t, err, core.ErrInvalidBindingRange, b.String())
		assert.True(t, core.IsRecoverable(err))
	}
	assert.NoError(t, ValidateBindingSet([]ResourceBinding{
		Bind(0, UsageWrite, BufferRef(buf)).WithRange(8, 8),
	}))

	// 8 mips in a single-layer texture
	tex := newTexture()
	assert.NoError(t, ValidateBindingSet([]ResourceBinding{Bind(0, UsageRead, TextureRef(tex)).WithRange(2, 6)}))
	assert.ErrorIs(t, ValidateBindingSet([]ResourceBinding{Bind(0, UsageRead, TextureRef(tex)).WithRange(8, 1)}),
		core.ErrInvalidBindingRange)
}

func TestValidateReportsFirstConflictInBindingOrder(t *testing.T) {
	first, second := newBuffer(64), newBuffer(64)
	bindings := []ResourceBinding{
		Bind(0, UsageWrite, BufferRef(first)),
		Bind(1, UsageWrite, BufferRef(second)),
		Bind(2, UsageRead, BufferRef(first)),
		Bind(3, UsageRead, BufferRef(second)),
	}

	want := ValidateBindingSet(bindings)
	require.ErrorIs(t, want, core.ErrAliasingViolation)
	assert.Contains(t, want.Error(), first.ID.String())
	for i := 0; i < 20; i++ {
		assert.Equal(t, want.Error(), ValidateBindingSet(bindings).Error())
	}
}
