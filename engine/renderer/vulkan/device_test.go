package vulkan

import (
	"errors"
	"testing"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/metadata"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/shader"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTable struct {
	destroyed bool
}

func (t *fakeTable) Destroy() { t.destroyed = true }

type fakeNative struct {
	props     DeviceProperties
	surface   metadata.PlatformWindow
	bindings  []TableBinding
	table     *fakeTable
	code      []byte
	destroyed bool
}

func (n *fakeNative) Properties() DeviceProperties { return n.props }

func (n *fakeNative) CreateSurface(w metadata.PlatformWindow) error {
	n.surface = w
	return nil
}

func (n *fakeNative) CreateDescriptorTable(bindings []TableBinding) (DescriptorTable, error) {
	n.bindings = bindings
	n.table = &fakeTable{}
	return n.table, nil
}

func (n *fakeNative) CreateShaderModule(code []byte) (NativeShaderModule, error) {
	if len(code) == 0 {
		return nil, errors.New("empty")
	}
	n.code = code
	return &fakeTable{}, nil
}

func (n *fakeNative) Destroy() { n.destroyed = true }

func props(version uint32, limit uint32) DeviceProperties {
	p := DeviceProperties{Name: "fake", APIVersion: version, DescriptorIndexing: true}
	for _, t := range metadata.DescriptorTypes {
		p.DescriptorLimits[t] = limit
	}
	return p
}

func TestDescriptorHeapLayout(t *testing.T) {
	native := &fakeNative{props: props(uint32(vk.MakeVersion(1, 3, 0)), 1024)}
	d := NewDevice(native)

	capacities := metadata.DescriptorCounts{16, 256, 64, 128, 32}
	h, err := d.CreateDescriptorHeap(capacities)
	require.NoError(t, err)

	require.Len(t, native.bindings, int(metadata.DescriptorTypeCount))
	for i, b := range native.bindings {
		assert.Equal(t, uint32(i), b.Binding)
		assert.Equal(t, capacities[i], b.Count)
		assert.True(t, b.PartiallyBound, "binding %d", i)
	}
	assert.Equal(t, vk.DescriptorTypeSampledImage, native.bindings[metadata.DescriptorTypeTexture].Type)
	assert.Equal(t, vk.DescriptorTypeStorageImage, native.bindings[metadata.DescriptorTypeRWTexture].Type)
	assert.Equal(t, vk.DescriptorTypeStorageBuffer, native.bindings[metadata.DescriptorTypeRWBuffer].Type)

	assert.Equal(t, uint32(7), h.ShaderIndex(metadata.DescriptorTypeTexture, 7))
	h.Destroy()
	assert.True(t, native.table.destroyed)
}

func TestDescriptorHeapSharedStorageLimit(t *testing.T) {
	native := &fakeNative{props: props(uint32(vk.MakeVersion(1, 2, 0)), 100)}
	d := NewDevice(native)

	capacities := metadata.DescriptorCounts{1, 1, 1, 60, 60}
	_, err := d.CreateDescriptorHeap(capacities)
	assert.ErrorIs(t, err, core.ErrOutOfDescriptorSpace)
	assert.Nil(t, native.table)
}

func TestFeatureChecker(t *testing.T) {
	p := props(uint32(vk.MakeVersion(1, 3, 0)), 1_000_000)
	p.DescriptorLimits[metadata.DescriptorTypeSampler] = 4096
	p.MeshShader = true
	f := NewDevice(&fakeNative{props: p}).FeatureChecker()

	assert.True(t, f.IsFeatureSupported(renderer.FeatureCompute))
	assert.True(t, f.IsFeatureSupported(renderer.FeatureMeshShader))
	assert.False(t, f.IsFeatureSupported(renderer.FeatureRayTracing))
	assert.Equal(t, renderer.FeatureLevel12_2, f.FeatureLevel())
	assert.Equal(t, renderer.ResourceBindingTier3, f.ResourceBindingTier())

	old := NewDevice(&fakeNative{props: props(uint32(vk.MakeVersion(1, 1, 0)), 512)}).FeatureChecker()
	assert.Equal(t, renderer.FeatureLevel12_1, old.FeatureLevel())
	assert.Equal(t, renderer.ResourceBindingTier1, old.ResourceBindingTier())
}

func TestModifyShaderEnvironment(t *testing.T) {
	d := NewDevice(&fakeNative{props: props(0, 1)})
	env := shader.Environment{Args: []string{"-O3"}}
	d.ModifyShaderEnvironment(&env)

	assert.Equal(t, []string{"-O3", "-spirv", "-fvk-bind-resource-heap", "0", "0"}, env.Args)
	assert.Contains(t, env.Defines, shader.Define{Name: "ANIMA_VULKAN", Value: "1"})
}

func TestInitWindowAndDestroy(t *testing.T) {
	native := &fakeNative{props: props(0, 1)}
	d := NewDevice(native)

	assert.Error(t, d.InitWindow(metadata.PlatformWindow{}))
	w := metadata.PlatformWindow{Handle: 42, Width: 800, Height: 600}
	require.NoError(t, d.InitWindow(w))
	assert.Equal(t, w, native.surface)

	_, err := d.CreateShaderModule(shader.Key{}, renderer.ShaderDescriptor{Name: "empty"})
	assert.Error(t, err)

	d.Destroy()
	assert.True(t, native.destroyed)
}

func TestNativeErrorCarriesResult(t *testing.T) {
	err := nativeError("vkCreateDescriptorPool", vk.ErrorOutOfPoolMemory)
	var ne *core.NativeError
	require.True(t, errors.As(err, &ne))
	assert.Equal(t, "vulkan", ne.API)
	assert.Equal(t, int64(vk.ErrorOutOfPoolMemory), ne.Code)
	assert.Contains(t, err.Error(), "VK_ERROR_OUT_OF_POOL_MEMORY")
}

func TestVulkanSafeString(t *testing.T) {
	assert.Equal(t, "\x00", VulkanSafeString(""))
	assert.Equal(t, "abc\x00", VulkanSafeString("abc"))
	assert.Equal(t, "abc\x00", VulkanSafeString("abc\x00"))
	assert.Equal(t, 3, FindFirstZeroInByteArray([]byte{'a', 'b', 'c', 0, 'd'}))
}

func TestDescriptorHeapNeedsDescriptorIndexing(t *testing.T) {
	p := props(uint32(vk.MakeVersion(1, 1, 0)), 1024)
	p.DescriptorIndexing = false
	native := &fakeNative{props: p}
	d := NewDevice(native)

	_, err := d.CreateDescriptorHeap(metadata.DescriptorCounts{1, 1, 1, 1, 1})
	assert.Error(t, err)
	assert.Nil(t, native.table, "no native table without partially bound bindings")
}
