package systems

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/spaghettifunk/anima-rhi/engine/assets"
	"github.com/spaghettifunk/anima-rhi/engine/assets/loaders"
	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/metadata"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/shader"
)

/** @brief Configuration for the shader system. */
type ShaderSystemConfig struct {
	/** @brief The maximum number of shaders held in the system. */
	MaxShaderCount uint16
	/** @brief Recreate shaders when their config or source file changes. */
	HotReload bool
}

type shaderEntry struct {
	shader     *renderer.Shader
	configPath string
	sourcePath string
}

type ShaderSystem struct {
	// This system's configuration.
	Config *ShaderSystemConfig

	mu sync.RWMutex
	// A lookup table for shader name->shader
	lookup map[string]*shaderEntry
	// Names sharing one backend shader. The backend object is released
	// when the last name goes.
	refs map[shader.Key]int

	assets  *assets.AssetManager
	backend renderer.Backend
	jobs    *JobSystem
}

func NewShaderSystem(config *ShaderSystemConfig, am *assets.AssetManager, backend renderer.Backend, js *JobSystem) (*ShaderSystem, error) {
	if config.MaxShaderCount == 0 {
		err := fmt.Errorf("NewShaderSystem - config.MaxShaderCount must be greater than 0")
		core.LogError("%s", err.Error())
		return nil, err
	}

	ss := &ShaderSystem{
		Config:  config,
		lookup:  make(map[string]*shaderEntry),
		refs:    make(map[shader.Key]int),
		assets:  am,
		backend: backend,
		jobs:    js,
	}
	if config.HotReload {
		am.Subscribe(ss.onAssetEvent)
	}
	return ss, nil
}

// LoadAll acquires every indexed shader config on the job system. It
// returns the first failure; the other shaders stay loaded.
func (ss *ShaderSystem) LoadAll() error {
	var (
		mu       sync.Mutex
		firstErr error
	)
	for _, path := range ss.assets.Assets(metadata.ResourceTypeShader) {
		path := path
		ss.jobs.Submit(Job{
			Name: "load shader " + path,
			Run: func() error {
				_, err := ss.acquirePath(path)
				return err
			},
			OnFailure: func(err error) {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
			},
		})
	}
	ss.jobs.Wait()
	return firstErr
}

// Acquire returns the named shader, loading it on first use.
func (ss *ShaderSystem) Acquire(name string) (*renderer.Shader, error) {
	if s, ok := ss.Get(name); ok {
		return s, nil
	}
	path, err := ss.assets.Resolve(name, metadata.ResourceTypeShader)
	if err != nil {
		return nil, err
	}
	return ss.acquirePath(path)
}

func (ss *ShaderSystem) Get(name string) (*renderer.Shader, bool) {
	ss.mu.RLock()
	defer ss.mu.RUnlock()
	e, ok := ss.lookup[name]
	if !ok {
		return nil, false
	}
	return e.shader, true
}

// Names returns the loaded shader names.
func (ss *ShaderSystem) Names() []string {
	ss.mu.RLock()
	defer ss.mu.RUnlock()
	out := make([]string, 0, len(ss.lookup))
	for name := range ss.lookup {
		out = append(out, name)
	}
	return out
}

func (ss *ShaderSystem) acquirePath(configPath string) (*renderer.Shader, error) {
	res, err := ss.assets.LoadAsset(configPath, metadata.ResourceTypeShader, nil)
	if err != nil {
		return nil, err
	}
	defer ss.assets.UnloadAsset(res)

	asset := res.Data.(*loaders.ShaderAsset)
	s, err := ss.backend.CreateShader(ss.descriptor(asset))
	if err != nil {
		return nil, err
	}

	ss.mu.Lock()
	defer ss.mu.Unlock()

	old, exists := ss.lookup[asset.Name]
	if exists && old.shader.Key == s.Key {
		return old.shader, nil
	}
	if !exists && len(ss.lookup) >= int(ss.Config.MaxShaderCount) {
		ss.refs[s.Key]++
		ss.releaseLocked(s.Key)
		return nil, fmt.Errorf("shader system is full (%d shaders)", ss.Config.MaxShaderCount)
	}

	ss.refs[s.Key]++
	ss.lookup[asset.Name] = &shaderEntry{
		shader:     s,
		configPath: configPath,
		sourcePath: asset.SourcePath,
	}
	if exists {
		ss.releaseLocked(old.shader.Key)
		core.LogInfo("shader '%s' reloaded (%s -> %s)", asset.Name, old.shader.Key, s.Key)
	} else {
		core.LogDebug("shader '%s' loaded with key %s", asset.Name, s.Key)
	}
	return s, nil
}

func (ss *ShaderSystem) descriptor(asset *loaders.ShaderAsset) renderer.ShaderDescriptor {
	return renderer.ShaderDescriptor{
		Name:        asset.Name,
		Source:      asset.Source,
		Environment: asset.Environment,
		Stage:       asset.Stage,
		EntryPoint:  asset.EntryPoint,
		Binary:      asset.Binaries[ss.backend.API().String()],
	}
}

// Release drops the named shader.
func (ss *ShaderSystem) Release(name string) bool {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	e, ok := ss.lookup[name]
	if !ok {
		return false
	}
	delete(ss.lookup, name)
	ss.releaseLocked(e.shader.Key)
	return true
}

func (ss *ShaderSystem) releaseLocked(key shader.Key) {
	ss.refs[key]--
	if ss.refs[key] > 0 {
		return
	}
	delete(ss.refs, key)
	ss.backend.ReleaseShader(key)
}

func (ss *ShaderSystem) onAssetEvent(e assets.AssetEvent) {
	switch e.Type {
	case metadata.ResourceTypeShader, metadata.ResourceTypeShaderSource:
	default:
		return
	}

	ss.mu.RLock()
	var stale []string
	for _, entry := range ss.lookup {
		if samePath(entry.configPath, e.Path) || samePath(entry.sourcePath, e.Path) {
			stale = append(stale, entry.configPath)
		}
	}
	ss.mu.RUnlock()

	if e.Removed {
		if len(stale) > 0 {
			core.LogWarn("shader file '%s' removed, keeping the loaded version", e.Path)
		}
		return
	}
	if len(stale) == 0 && e.Type == metadata.ResourceTypeShader {
		stale = append(stale, e.Path)
	}
	for _, path := range stale {
		if _, err := ss.acquirePath(path); err != nil {
			core.LogError("shader reload '%s': %s", path, err)
		}
	}
}

func samePath(a, b string) bool {
	return filepath.Clean(a) == filepath.Clean(b)
}

/**
 * @brief Shuts down the shader system, releasing every shader.
 */
func (ss *ShaderSystem) Shutdown() error {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	for name, e := range ss.lookup {
		delete(ss.lookup, name)
		ss.releaseLocked(e.shader.Key)
	}
	return nil
}
