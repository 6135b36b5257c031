package testbed

import (
	"fmt"

	"github.com/spaghettifunk/anima-rhi/engine"
	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/binding"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/bindless"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/metadata"
)

type TestGame struct {
	*engine.Game
}

type gameState struct {
	gbuffer  *metadata.Texture
	lights   *metadata.Buffer
	slots    []bindless.Slot
	frame    uint64
	validate *binding.Validator
}

func NewTestGame(cfg *core.Config) *TestGame {
	tg := &TestGame{
		Game: &engine.Game{
			Config: cfg,
			State:  &gameState{validate: binding.NewValidator()},
		},
	}
	tg.FnInitialize = tg.Initialize
	tg.FnUpdate = tg.Update
	tg.FnShutdown = tg.Shutdown
	return tg
}

func (g *TestGame) state() *gameState {
	return g.State.(*gameState)
}

func (g *TestGame) Initialize(e *engine.Engine) error {
	state := g.state()
	features := e.Backend().GetFeatureChecker()
	core.LogInfo("backend %s: feature level %s, binding tier %d, mesh shaders %t, ray tracing %t",
		e.Backend().API(), features.FeatureLevel(), features.ResourceBindingTier(),
		features.IsFeatureSupported(renderer.FeatureMeshShader),
		features.IsFeatureSupported(renderer.FeatureRayTracing))

	state.gbuffer = metadata.NewTexture(metadata.TextureDescription{
		Name:      "gbuffer",
		Width:     e.Config().Application.Width,
		Height:    e.Config().Application.Height,
		Depth:     1,
		MipLevels: 1,
		ArraySize: 3,
		Format:    metadata.FormatRGBA16Float,
	})
	state.lights = metadata.NewBuffer(metadata.BufferDescription{
		Name:   "lights",
		Size:   64 * 1024,
		Stride: 64,
	})

	set := e.BindlessSet()
	for _, t := range []metadata.DescriptorType{metadata.DescriptorTypeTexture, metadata.DescriptorTypeRWBuffer} {
		slot, err := set.Allocate(t)
		if err != nil {
			return err
		}
		state.slots = append(state.slots, slot)
		index, err := set.ShaderIndex(slot)
		if err != nil {
			return err
		}
		core.LogDebug("slot %s at shader index %d", slot, index)
	}
	return nil
}

// Update builds a small binding set per frame: the lighting pass reads the
// first gbuffer layer and appends to the light buffer.
func (g *TestGame) Update(e *engine.Engine, deltaTime float64) error {
	state := g.state()
	state.frame++

	bindings := []binding.ResourceBinding{
		binding.Bind(0, binding.UsageRead, binding.TextureRef(state.gbuffer)).WithRange(0, 1),
		binding.Bind(1, binding.UsageRead, binding.TextureRef(state.gbuffer)).WithRange(1, 2),
		binding.Bind(2, binding.UsageReadWrite, binding.BufferRef(state.lights)),
	}
	if err := state.validate.Validate(bindings); err != nil {
		return fmt.Errorf("frame %d: %w", state.frame, err)
	}
	return nil
}

func (g *TestGame) Shutdown(e *engine.Engine) error {
	state := g.state()
	if set := e.BindlessSet(); set != nil {
		for _, slot := range state.slots {
			if err := set.Free(slot); err != nil {
				core.LogWarn("free %s: %s", slot, err)
			}
		}
	}
	state.slots = nil
	if state.gbuffer != nil {
		state.gbuffer.Destroy()
	}
	if state.lights != nil {
		state.lights.Destroy()
	}
	return nil
}
