package systems

import (
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spaghettifunk/anima-rhi/engine/assets"
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
func (fakeFeatures) DescriptorLimits() metadata.DescriptorCounts { return metadata.DescriptorCounts{} }

type fakeModule struct {
	destroyed *atomic.Int32
}

func (m fakeModule) Destroy() { m.destroyed.Add(1) }

type fakeDevice struct {
	created   atomic.Int32
	destroyed atomic.Int32
}

func (d *fakeDevice) API() metadata.GraphicsAPI { return metadata.GraphicsAPIVulkan }
func (d *fakeDevice) InitWindow(metadata.PlatformWindow) error { return nil }
func (d *fakeDevice) FeatureChecker() renderer.FeatureChecker { return fakeFeatures{} }
func (d *fakeDevice) ModifyShaderEnvironment(*shader.Environment) {}
func (d *fakeDevice) Destroy() {}

func (d *fakeDevice) CreateDescriptorHeap(metadata.DescriptorCounts) (bindless.Heap, error) {
	return nil, errors.New("not used")
}

func (d *fakeDevice) CreateShaderModule(shader.Key, renderer.ShaderDescriptor) (renderer.ShaderModule, error) {
	d.created.Add(1)
	return fakeModule{destroyed: &d.destroyed}, nil
}

func newBackend(t *testing.T) (renderer.Backend, *fakeDevice) {
	t.Helper()
	dev := &fakeDevice{}
	reg := renderer.NewRegistry()
	reg.Register(metadata.GraphicsAPIVulkan, func(metadata.BackendDescription) (renderer.Device, error) {
		return dev, nil
	})
	b, err := reg.CreateGraphicsBackend(metadata.GraphicsAPIVulkan, metadata.BackendDescription{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Shutdown() })
	return b, dev
}

func writeShader(t *testing.T, dir, name, body string) {
	t.Helper()
	cfg := "name = \"" + name + "\"\nstage = \"compute\"\nsource = \"" + name + ".hlsl\"\n\n[binaries]\nvulkan = \"" + name + ".spv\"\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, name+".shadercfg"), []byte(cfg), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name+".hlsl"), []byte(body), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name+".spv"), []byte{0x03, 0x02, 0x23, 0x07}, 0o644))
}

func newAssets(t *testing.T, dir string, watch bool) *assets.AssetManager {
	t.Helper()
	am, err := assets.NewAssetManager()
	require.NoError(t, err)
	require.NoError(t, am.Initialize(dir, watch))
	t.Cleanup(func() { _ = am.Shutdown() })
	return am
}

func TestJobSystem(t *testing.T) {
	_, err := NewJobSystem(0, 1)
	assert.ErrorIs(t, err, ErrNoWorkers)
	_, err = NewJobSystem(1, -1)
	assert.ErrorIs(t, err, ErrNegativeChannelSize)

	js, err := NewJobSystem(4, 8)
	require.NoError(t, err)

	var ok, failed atomic.Int32
	for i := 0; i < 20; i++ {
		i := i
		js.Submit(Job{
			Name: "job",
			Run: func() error {
				if i%5 == 0 {
					return errors.New("boom")
				}
				return nil
			},
			OnComplete: func() { ok.Add(1) },
			OnFailure:  func(error) { failed.Add(1) },
		})
	}
	js.Wait()
	assert.Equal(t, int32(16), ok.Load())
	assert.Equal(t, int32(4), failed.Load())
	require.NoError(t, js.Shutdown())
}

func TestShaderSystemLoadAll(t *testing.T) {
	dir := t.TempDir()
	writeShader(t, dir, "cull", "[numthreads(64,1,1)] void main() {}")
	writeShader(t, dir, "blur", "[numthreads(8,8,1)] void main() {}")
	// same content as cull under another name
	writeShader(t, dir, "cull_copy", "[numthreads(64,1,1)] void main() {}")

	b, dev := newBackend(t)
	sm, err := NewSystemManager(SystemManagerConfig{MaxShaderCount: 16, Workers: 2}, newAssets(t, dir, false), b)
	require.NoError(t, err)
	require.NoError(t, sm.Initialize())

	ss := sm.ShaderSystem
	assert.ElementsMatch(t, []string{"cull", "blur", "cull_copy"}, ss.Names())
	assert.Equal(t, int32(2), dev.created.Load(), "identical shaders share one module")

	cull, err := ss.Acquire("cull")
	require.NoError(t, err)
	copied, ok := ss.Get("cull_copy")
	require.True(t, ok)
	assert.Same(t, cull, copied)
	assert.NotNil(t, cull.Module)

	assert.True(t, ss.Release("cull"))
	assert.False(t, ss.Release("cull"))
	assert.Equal(t, int32(0), dev.destroyed.Load(), "module still used by cull_copy")
	assert.True(t, ss.Release("cull_copy"))
	assert.Equal(t, int32(1), dev.destroyed.Load())

	require.NoError(t, sm.Shutdown())
	assert.Equal(t, int32(2), dev.destroyed.Load())
	assert.Empty(t, ss.Names())
}

func TestShaderSystemCapacity(t *testing.T) {
	dir := t.TempDir()
	writeShader(t, dir, "a", "void a() {}")
	writeShader(t, dir, "b", "void b() {}")

	b, dev := newBackend(t)
	js, err := NewJobSystem(1, 1)
	require.NoError(t, err)
	defer js.Shutdown()
	ss, err := NewShaderSystem(&ShaderSystemConfig{MaxShaderCount: 1}, newAssets(t, dir, false), b, js)
	require.NoError(t, err)

	_, err = ss.Acquire("a")
	require.NoError(t, err)
	_, err = ss.Acquire("b")
	assert.Error(t, err)
	assert.Equal(t, int32(1), dev.destroyed.Load(), "rejected shader is released")

	_, err = ss.Acquire("missing")
	assert.Error(t, err)

	_, err = NewShaderSystem(&ShaderSystemConfig{}, nil, b, js)
	assert.Error(t, err)
}

func TestShaderSystemHotReload(t *testing.T) {
	dir := t.TempDir()
	writeShader(t, dir, "cull", "[numthreads(64,1,1)] void main() {}")

	b, dev := newBackend(t)
	sm, err := NewSystemManager(SystemManagerConfig{MaxShaderCount: 4, HotReload: true, Workers: 1}, newAssets(t, dir, true), b)
	require.NoError(t, err)
	defer sm.Shutdown()
	require.NoError(t, sm.Initialize())

	before, ok := sm.ShaderSystem.Get("cull")
	require.True(t, ok)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "cull.hlsl"), []byte("[numthreads(32,1,1)] void main() {}"), 0o644))

	assert.Eventually(t, func() bool {
		s, ok := sm.ShaderSystem.Get("cull")
		return ok && s.Key != before.Key
	}, 5*time.Second, 10*time.Millisecond)

	assert.Eventually(t, func() bool { return dev.destroyed.Load() >= 1 }, 5*time.Second, 10*time.Millisecond,
		"old module is released after reload")
}
