package vulkan

import "sync"

// LockGroup names a family of Vulkan calls that must not run concurrently
// on the same device.
type LockGroup string

const (
	InstanceManagement   LockGroup = "instance_management"
	DeviceManagement     LockGroup = "device_management"
	SwapchainManagement  LockGroup = "swapchain_management"
	DescriptorManagement LockGroup = "descriptor_management"
	ShaderManagement     LockGroup = "shader_management"
)

// LockPool hands out one mutex per LockGroup, created on first use.
type LockPool struct {
	mu    sync.Mutex // protects locks
	locks map[LockGroup]*sync.Mutex
}

func NewLockPool() *LockPool {
	return &LockPool{
		locks: make(map[LockGroup]*sync.Mutex),
	}
}

func (p *LockPool) lock(group LockGroup) *sync.Mutex {
	p.mu.Lock()
	l, ok := p.locks[group]
	if !ok {
		l = &sync.Mutex{}
		p.locks[group] = l
	}
	p.mu.Unlock()

	l.Lock()
	return l
}

// SafeCall runs fn holding the group's mutex.
func (p *LockPool) SafeCall(group LockGroup, fn func() error) error {
	l := p.lock(group)
	defer l.Unlock()

	return fn()
}
