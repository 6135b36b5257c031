package engine

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/bindless"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/metadata"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/shader"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFeatures struct{}

func (fakeFeatures) IsFeatureSupported(renderer.Feature) bool { return true }
func (fakeFeatures) FeatureLevel() renderer.FeatureLevel { return renderer.FeatureLevel12_2 }
func (fakeFeatures) ResourceBindingTier() renderer.ResourceBindingTier {
	return renderer.ResourceBindingTier3
}

func (fakeFeatures) DescriptorLimits() metadata.DescriptorCounts {
	var c metadata.DescriptorCounts
	for _, t := range metadata.DescriptorTypes {
		c[t] = 1 << 16
	}
	return c
}

type fakeHeap struct{}

func (fakeHeap) ShaderIndex(_ metadata.DescriptorType, index uint32) uint32 { return index }
func (fakeHeap) Release(metadata.DescriptorType, uint32) {}
func (fakeHeap) Destroy() {}

type fakeDevice struct {
	destroyed bool
}

func (d *fakeDevice) API() metadata.GraphicsAPI { return metadata.GraphicsAPIVulkan }
func (d *fakeDevice) InitWindow(metadata.PlatformWindow) error { return nil }
func (d *fakeDevice) FeatureChecker() renderer.FeatureChecker { return fakeFeatures{} }
func (d *fakeDevice) ModifyShaderEnvironment(*shader.Environment) {}
func (d *fakeDevice) Destroy() { d.destroyed = true }

func (d *fakeDevice) CreateDescriptorHeap(metadata.DescriptorCounts) (bindless.Heap, error) {
	return fakeHeap{}, nil
}

func (d *fakeDevice) CreateShaderModule(shader.Key, renderer.ShaderDescriptor) (renderer.ShaderModule, error) {
	return nil, nil
}

func headlessConfig(t *testing.T) *core.Config {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "cull.shadercfg"),
		[]byte("name = \"cull\"\nstage = \"compute\"\nsource = \"cull.hlsl\"\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "cull.hlsl"), []byte("[numthreads(64,1,1)] void main() {}"), 0o644))

	cfg := core.DefaultConfig()
	cfg.Application.Headless = true
	cfg.Shaders.Dir = dir
	cfg.Shaders.Watch = false
	cfg.Log.Level = "error"
	return cfg
}

func fakeRegistry(dev *fakeDevice) *renderer.Registry {
	reg := renderer.NewRegistry()
	reg.Register(metadata.GraphicsAPIVulkan, func(metadata.BackendDescription) (renderer.Device, error) {
		return dev, nil
	})
	return reg
}

func TestEngineLifecycle(t *testing.T) {
	dev := &fakeDevice{}
	frames := 0
	var slot bindless.Slot

	g := &Game{
		Config: headlessConfig(t),
		FnInitialize: func(e *Engine) error {
			var err error
			slot, err = e.BindlessSet().Allocate(metadata.DescriptorTypeTexture)
			if err != nil {
				return err
			}
			return e.BindlessSet().FreeDeferred(slot)
		},
		FnUpdate: func(e *Engine, _ float64) error {
			frames++
			if frames == 3 {
				e.Stop()
			}
			return nil
		},
	}
	e, err := New(g, WithRegistry(fakeRegistry(dev)))
	require.NoError(t, err)
	require.NoError(t, e.Initialize())
	assert.Equal(t, EngineStageInitialized, e.Stage())

	s, ok := e.ShaderSystem().Get("cull")
	require.True(t, ok)
	assert.Equal(t, shader.StageCompute, s.Stage)

	set := e.BindlessSet()
	require.NotNil(t, set)
	assert.Equal(t, uint32(1000), set.Capacity(metadata.DescriptorTypeTexture))
	assert.Equal(t, uint32(999), set.Available(metadata.DescriptorTypeTexture))

	require.NoError(t, e.Run())
	assert.Equal(t, 3, frames)
	// fewer frames than the rolling window, no average yet
	assert.Zero(t, e.Metrics().FrameTime())
	// two frames in flight have passed, the deferred free is back
	assert.Equal(t, uint32(1000), set.Available(metadata.DescriptorTypeTexture))

	require.NoError(t, e.Shutdown())
	require.NoError(t, e.Shutdown())
	assert.True(t, dev.destroyed)
	assert.Equal(t, EngineStageShutdown, e.Stage())
}

func TestEngineUnsupportedAPI(t *testing.T) {
	cfg := headlessConfig(t)
	cfg.Renderer.API = "metal"

	e, err := New(&Game{Config: cfg}, WithRegistry(renderer.NewRegistry()))
	require.NoError(t, err)
	err = e.Initialize()
	assert.ErrorIs(t, err, core.ErrUnsupportedAPI)
	assert.Equal(t, EngineStageShutdown, e.Stage())

	cfg = headlessConfig(t)
	cfg.Renderer.API = "dx12"
	e, err = New(&Game{Config: cfg}, WithRegistry(fakeRegistry(&fakeDevice{})))
	require.NoError(t, err)
	assert.ErrorIs(t, e.Initialize(), core.ErrUnsupportedAPI)
}

func TestEngineBindlessOverLimit(t *testing.T) {
	cfg := headlessConfig(t)
	cfg.Renderer.Bindless["texture"] = 1 << 20
	dev := &fakeDevice{}

	e, err := New(&Game{Config: cfg}, WithRegistry(fakeRegistry(dev)))
	require.NoError(t, err)
	assert.ErrorIs(t, e.Initialize(), core.ErrOutOfDescriptorSpace)
	assert.True(t, dev.destroyed, "backend is shut down after a failed boot")
}
