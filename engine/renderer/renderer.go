package renderer

import (
	"fmt"
	"sync"

	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/bindless"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/metadata"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/shader"
)

// Factory opens the native device for a backend description.
type Factory func(desc metadata.BackendDescription) (Device, error)

// Registry maps graphics APIs to the factories compiled into the binary.
type Registry struct {
	mu        sync.Mutex
	factories map[metadata.GraphicsAPI]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[metadata.GraphicsAPI]Factory)}
}

// Register installs f for api, replacing any earlier registration.
func (r *Registry) Register(api metadata.GraphicsAPI, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.factories[api]; ok {
		core.LogWarn("backend '%s' replaced", api)
	}
	r.factories[api] = f
}

// Supported reports whether a backend for api was registered.
func (r *Registry) Supported(api metadata.GraphicsAPI) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.factories[api]
	return ok
}

// CreateGraphicsBackend opens the device for api and, when desc carries a
// window, initializes it. Nothing is created when api is not registered.
func (r *Registry) CreateGraphicsBackend(api metadata.GraphicsAPI, desc metadata.BackendDescription) (Backend, error) {
	r.mu.Lock()
	factory, ok := r.factories[api]
	r.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%s: %w", api, core.ErrUnsupportedAPI)
	}

	device, err := factory(desc)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", api, core.ErrDeviceInitFailed, err)
	}

	b := &backend{
		id:      core.IdentifierAquireNewID(),
		desc:    desc,
		device:  device,
		shaders: shader.NewCache[*Shader](),
	}
	if !desc.PlatformWindow.IsZero() {
		if err := b.InitWindow(desc.PlatformWindow); err != nil {
			device.Destroy()
			return nil, err
		}
	}

	core.LogInfo("%s backend %s created", api, b.id)
	return b, nil
}

// Backends registered from the backend packages' init functions.
var defaultRegistry = NewRegistry()

// Register installs f in the process-wide registry. Backend packages call
// it from init; import them for side effects to make an API available.
func Register(api metadata.GraphicsAPI, f Factory) {
	defaultRegistry.Register(api, f)
}

func Supported(api metadata.GraphicsAPI) bool {
	return defaultRegistry.Supported(api)
}

// CreateGraphicsBackend uses the process-wide registry.
// It fails with ErrUnsupportedAPI when api was not compiled in and with
// ErrDeviceInitFailed, wrapping the native error, when the device cannot
// be opened.
func CreateGraphicsBackend(api metadata.GraphicsAPI, desc metadata.BackendDescription) (Backend, error) {
	return defaultRegistry.CreateGraphicsBackend(api, desc)
}

type backend struct {
	id     core.Identifier
	desc   metadata.BackendDescription
	device Device

	// Held for reading by calls that reach the device, for writing by Shutdown.
	life sync.RWMutex

	mu       sync.Mutex
	set      *bindless.Set
	shutdown bool

	shaders *shader.Cache[*Shader]
}

func (b *backend) API() metadata.GraphicsAPI {
	return b.device.API()
}

func (b *backend) ID() core.Identifier {
	return b.id
}

func (b *backend) InitWindow(window metadata.PlatformWindow) error {
	b.life.RLock()
	defer b.life.RUnlock()
	if err := b.alive(); err != nil {
		return err
	}
	if err := b.device.InitWindow(window); err != nil {
		return fmt.Errorf("%s: init window: %w: %w", b.device.API(), core.ErrDeviceInitFailed, err)
	}
	return nil
}

func (b *backend) GetFeatureChecker() FeatureChecker {
	return b.device.FeatureChecker()
}

func (b *backend) CreateBindlessSet(capacities metadata.DescriptorCounts) (*bindless.Set, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.shutdown {
		return nil, core.ErrBackendShutdown
	}
	if b.set != nil {
		return nil, fmt.Errorf("%s: %w", b.device.API(), core.ErrBindlessSetExists)
	}

	// Reject before touching the native API.
	limits := b.device.FeatureChecker().DescriptorLimits()
	for _, t := range metadata.DescriptorTypes {
		if capacities[t] > limits[t] {
			return nil, fmt.Errorf("%s: %d %s descriptors requested, device limit is %d: %w",
				b.device.API(), capacities[t], t, limits[t], core.ErrOutOfDescriptorSpace)
		}
	}

	heap, err := b.device.CreateDescriptorHeap(capacities)
	if err != nil {
		return nil, fmt.Errorf("%s: create descriptor heap: %w", b.device.API(), err)
	}

	set, err := bindless.NewSet(capacities, limits, heap,
		bindless.WithName(b.device.API().String()+" bindless"),
		bindless.WithFramesInFlight(b.desc.FramesInFlight),
		bindless.WithPanicOnDoubleFree(b.desc.EnableValidation),
	)
	if err != nil {
		heap.Destroy()
		return nil, err
	}
	b.set = set
	return set, nil
}

func (b *backend) BindlessSet() *bindless.Set {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.set
}

func (b *backend) CreateShader(desc ShaderDescriptor) (*Shader, error) {
	b.life.RLock()
	defer b.life.RUnlock()
	if err := b.alive(); err != nil {
		return nil, err
	}

	env := shader.Environment{
		Args:    append([]string(nil), desc.Environment.Args...),
		Defines: append([]shader.Define(nil), desc.Environment.Defines...),
	}
	b.device.ModifyShaderEnvironment(&env)

	key, err := shader.ComputeShaderKey(desc.Source, env, desc.Stage, desc.EntryPoint)
	if err != nil {
		return nil, fmt.Errorf("shader %s: %w", desc.Name, err)
	}
	fingerprint, err := shader.Fingerprint(desc.Source, env, desc.Stage, desc.EntryPoint)
	if err != nil {
		return nil, fmt.Errorf("shader %s: %w", desc.Name, err)
	}

	return b.shaders.GetOrCreate(key, fingerprint, func() (*Shader, error) {
		s := &Shader{
			Key:        key,
			Name:       desc.Name,
			Stage:      desc.Stage,
			EntryPoint: desc.EntryPoint,
		}
		if len(desc.Binary) > 0 {
			module, err := b.device.CreateShaderModule(key, desc)
			if err != nil {
				return nil, fmt.Errorf("shader %s: %w", desc.Name, err)
			}
			s.Module = module
		}
		core.LogDebug("shader %s (%s) created with key %s", desc.Name, desc.Stage, key)
		return s, nil
	})
}

func (b *backend) ReleaseShader(key shader.Key) bool {
	b.life.RLock()
	defer b.life.RUnlock()
	s, ok := b.shaders.Remove(key)
	if ok && s.Module != nil {
		s.Module.Destroy()
	}
	return ok
}

// Shutdown destroys shaders, the bindless set and the device, in that order.
// Calling it again is a no-op.
func (b *backend) Shutdown() error {
	b.life.Lock()
	defer b.life.Unlock()

	b.mu.Lock()
	if b.shutdown {
		b.mu.Unlock()
		return nil
	}
	b.shutdown = true
	set := b.set
	b.set = nil
	b.mu.Unlock()

	for _, s := range b.shaders.Drain() {
		if s.Module != nil {
			s.Module.Destroy()
		}
	}
	if set != nil {
		set.Destroy()
	}
	b.device.Destroy()

	core.LogInfo("%s backend %s shut down", b.device.API(), b.id)
	return nil
}

func (b *backend) alive() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.shutdown {
		return core.ErrBackendShutdown
	}
	return nil
}
