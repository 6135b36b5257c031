package engine

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spaghettifunk/anima-rhi/engine/assets"
	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/platform"
	"github.com/spaghettifunk/anima-rhi/engine/renderer"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/bindless"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/metadata"
	"github.com/spaghettifunk/anima-rhi/engine/systems"

	// graphics backends register themselves
	_ "github.com/spaghettifunk/anima-rhi/engine/renderer/dx12"
	_ "github.com/spaghettifunk/anima-rhi/engine/renderer/vulkan"
)

type Stage uint8

const (
	// Engine is in an uninitialized state
	EngineStageUninitialized Stage = iota
	// Engine is currently initializing
	EngineStageInitializing
	// Engine initialization is complete
	EngineStageInitialized
	// Engine is currently running
	EngineStageRunning
	// Engine is in the process of shutting down
	EngineStageShuttingDown
	// Engine released everything it created
	EngineStageShutdown
)

const targetFrameSeconds = 1.0 / 60.0

type Option func(*Engine)

// WithRegistry selects backends from reg instead of the process-wide registry.
func WithRegistry(reg *renderer.Registry) Option {
	return func(e *Engine) {
		e.registry = reg
	}
}

type Engine struct {
	mu           sync.Mutex
	currentStage Stage
	gameInstance *Game
	config       *core.Config
	registry     *renderer.Registry
	isRunning    atomic.Bool
	clock        *core.Clock
	metrics      *core.FrameMetrics

	platform      *platform.Platform
	backend       renderer.Backend
	assetManager  *assets.AssetManager
	systemManager *systems.SystemManager
}

func New(g *Game, opts ...Option) (*Engine, error) {
	if g == nil {
		return nil, errors.New("engine: nil game")
	}
	cfg := g.Config
	if cfg == nil {
		cfg = core.DefaultConfig()
	}

	p, err := platform.New()
	if err != nil {
		return nil, err
	}
	am, err := assets.NewAssetManager()
	if err != nil {
		core.LogError(err.Error())
		return nil, err
	}

	e := &Engine{
		currentStage: EngineStageUninitialized,
		gameInstance: g,
		config:       cfg,
		platform:     p,
		assetManager: am,
		clock:        core.NewClock(),
		metrics:      core.NewFrameMetrics(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Initialize boots the platform window, the graphics backend, its bindless
// set, the asset index and the systems, in that order. On failure whatever
// was created is shut down again.
func (e *Engine) Initialize() error {
	e.setStage(EngineStageInitializing)
	core.SetLogLevel(core.ParseLogLevel(e.config.Log.Level))

	if err := e.initialize(); err != nil {
		core.LogError("engine initialization failed: %s", err)
		_ = e.Shutdown()
		return err
	}
	e.setStage(EngineStageInitialized)
	return nil
}

func (e *Engine) initialize() error {
	app := e.config.Application
	if !app.Headless {
		if err := e.platform.Startup(app.Name, app.StartPosX, app.StartPosY, app.Width, app.Height); err != nil {
			return err
		}
	}

	api, err := metadata.ParseGraphicsAPI(e.config.Renderer.API)
	if err != nil {
		return fmt.Errorf("%w: %w", core.ErrUnsupportedAPI, err)
	}
	format, err := metadata.ParseFormat(e.config.Renderer.SwapChainFormat)
	if err != nil {
		return err
	}
	desc := metadata.BackendDescription{
		PlatformWindow:   e.platform.PlatformWindow(),
		SwapChainFormat:  format,
		EnableValidation: e.config.Renderer.Debug,
		FramesInFlight:   e.config.Renderer.FramesInFlight,
	}

	var backend renderer.Backend
	if e.registry != nil {
		backend, err = e.registry.CreateGraphicsBackend(api, desc)
	} else {
		backend, err = renderer.CreateGraphicsBackend(api, desc)
	}
	if err != nil {
		return err
	}
	e.backend = backend

	capacities, err := metadata.DescriptorCountsFromNames(e.config.Renderer.Bindless)
	if err != nil {
		return err
	}
	if _, err := backend.CreateBindlessSet(capacities); err != nil {
		return err
	}

	if err := e.assetManager.Initialize(e.config.Shaders.Dir, e.config.Shaders.Watch); err != nil {
		return err
	}

	sm, err := systems.NewSystemManager(systems.SystemManagerConfig{
		MaxShaderCount: 1024,
		HotReload:      e.config.Shaders.Watch,
	}, e.assetManager, backend)
	if err != nil {
		return err
	}
	e.systemManager = sm
	if err := sm.Initialize(); err != nil {
		return err
	}

	if e.gameInstance.FnInitialize != nil {
		if err := e.gameInstance.FnInitialize(e); err != nil {
			return err
		}
	}
	return nil
}

// Run drives the frame loop until Stop is called, the window closes or the
// game update fails.
func (e *Engine) Run() error {
	e.setStage(EngineStageRunning)
	e.isRunning.Store(true)

	set := e.backend.BindlessSet()
	e.clock.Start()
	e.clock.Update()
	last := e.clock.Elapsed()
	reported := last
	for e.isRunning.Load() {
		e.platform.PumpMessages()
		if e.platform.ShouldClose() {
			break
		}

		e.clock.Update()
		frameStart := e.clock.Elapsed()
		delta := (frameStart - last).Seconds()
		last = frameStart

		if e.gameInstance.FnUpdate != nil {
			if err := e.gameInstance.FnUpdate(e, delta); err != nil {
				core.LogError("Game update failed, shutting down: %s", err)
				e.isRunning.Store(false)
				return err
			}
		}

		// One frame retired; deferred descriptor frees age by one.
		set.AdvanceFrame()

		e.clock.Update()
		frameTime := (e.clock.Elapsed() - frameStart).Seconds()
		if remaining := targetFrameSeconds - frameTime; remaining > 0 {
			time.Sleep(time.Duration(remaining * float64(time.Second)))
		}
		e.clock.Update()
		e.metrics.Update((e.clock.Elapsed() - frameStart).Seconds())

		if e.clock.Elapsed()-reported >= 5*time.Second {
			reported = e.clock.Elapsed()
			core.LogDebug("%.0f fps, %.2f ms/frame, %d textures free",
				e.metrics.FPS(), e.metrics.FrameTime(), set.Available(metadata.DescriptorTypeTexture))
		}
	}
	e.clock.Stop()
	e.isRunning.Store(false)
	return nil
}

// Stop asks Run to return after the current frame.
func (e *Engine) Stop() {
	e.isRunning.Store(false)
}

// Shutdown releases everything in reverse boot order. Calling it again is a
// no-op.
func (e *Engine) Shutdown() error {
	e.mu.Lock()
	if e.currentStage == EngineStageShuttingDown || e.currentStage == EngineStageShutdown {
		e.mu.Unlock()
		return nil
	}
	e.currentStage = EngineStageShuttingDown
	e.mu.Unlock()
	e.isRunning.Store(false)

	var errs []error
	if e.gameInstance.FnShutdown != nil {
		errs = append(errs, e.gameInstance.FnShutdown(e))
	}
	if e.systemManager != nil {
		errs = append(errs, e.systemManager.Shutdown())
	}
	errs = append(errs, e.assetManager.Shutdown())
	if e.backend != nil {
		errs = append(errs, e.backend.Shutdown())
	}
	errs = append(errs, e.platform.Shutdown())

	e.setStage(EngineStageShutdown)
	core.LogInfo("engine shut down")
	return errors.Join(errs...)
}

func (e *Engine) setStage(s Stage) {
	e.mu.Lock()
	e.currentStage = s
	e.mu.Unlock()
}

func (e *Engine) Stage() Stage {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.currentStage
}

func (e *Engine) Config() *core.Config {
	return e.config
}

// Metrics reports frame timing of the running loop.
func (e *Engine) Metrics() *core.FrameMetrics {
	return e.metrics
}

func (e *Engine) Backend() renderer.Backend {
	return e.backend
}

func (e *Engine) BindlessSet() *bindless.Set {
	if e.backend == nil {
		return nil
	}
	return e.backend.BindlessSet()
}

func (e *Engine) ShaderSystem() *systems.ShaderSystem {
	if e.systemManager == nil {
		return nil
	}
	return e.systemManager.ShaderSystem
}
