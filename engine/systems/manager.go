package systems

import (
	"runtime"

	"github.com/spaghettifunk/anima-rhi/engine/assets"
	"github.com/spaghettifunk/anima-rhi/engine/renderer"
)

type SystemManagerConfig struct {
	MaxShaderCount uint16
	HotReload      bool
	// Workers used to load assets. Defaults to GOMAXPROCS.
	Workers int
}

type SystemManager struct {
	jobSystem    *JobSystem
	ShaderSystem *ShaderSystem
}

func NewSystemManager(config SystemManagerConfig, am *assets.AssetManager, backend renderer.Backend) (*SystemManager, error) {
	workers := config.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	js, err := NewJobSystem(workers, workers*4)
	if err != nil {
		return nil, err
	}

	ssys, err := NewShaderSystem(&ShaderSystemConfig{
		MaxShaderCount: config.MaxShaderCount,
		HotReload:      config.HotReload,
	}, am, backend, js)
	if err != nil {
		js.Shutdown()
		return nil, err
	}

	return &SystemManager{
		jobSystem:    js,
		ShaderSystem: ssys,
	}, nil
}

// Initialize loads every shader the asset manager indexed.
func (sm *SystemManager) Initialize() error {
	return sm.ShaderSystem.LoadAll()
}

func (sm *SystemManager) Shutdown() error {
	if err := sm.ShaderSystem.Shutdown(); err != nil {
		return err
	}
	if err := sm.jobSystem.Shutdown(); err != nil {
		return err
	}
	return nil
}
