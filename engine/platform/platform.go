package platform

import (
	"fmt"
	"runtime"
	"sync"
	"unsafe"

	"github.com/go-gl/glfw/v3.3/glfw"
	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/metadata"
)

var startTime float64 = 0

// Swapped in tests; glfw needs a display.
var (
	initGLFW     = glfw.Init
	createWindow = glfw.CreateWindow
)

func init() {
	// GLFW event handling must run on the main OS thread
	runtime.LockOSThread()
}

type Platform struct {
	Window *glfw.Window

	mu            sync.Mutex
	width, height uint32
}

func New() (*Platform, error) {
	return &Platform{
		Window: nil,
	}, nil
}

func (p *Platform) Startup(applicationName string, x uint32, y uint32, width uint32, height uint32) error {
	if err := initGLFW(); err != nil {
		core.LogError("failed to initialize glfw: %s", err)
		return fmt.Errorf("platform startup: %w: %w", core.ErrDeviceInitFailed, err)
	}

	glfw.WindowHint(glfw.Visible, glfw.False)
	glfw.WindowHint(glfw.Resizable, glfw.True)
	glfw.WindowHint(glfw.ClientAPI, glfw.NoAPI) // no GL context, the RHI owns the surface

	window, err := createWindow(int(width), int(height), applicationName, nil, nil)
	if err != nil {
		core.LogError("failed to create window: %s", err)
		glfw.Terminate()
		return fmt.Errorf("platform startup: %w: %w", core.ErrDeviceInitFailed, err)
	}
	p.Window = window
	p.width, p.height = width, height

	p.Window.SetFramebufferSizeCallback(p.framebufferSizeCallback)
	p.Window.SetPos(int(x), int(y))
	p.Window.Show()

	startTime = glfw.GetTime()

	return nil
}

func (p *Platform) Shutdown() error {
	if p.Window != nil {
		p.Window.Destroy()
		p.Window = nil
		glfw.Terminate()
	}
	return nil
}

func (p *Platform) PumpMessages() {
	if p.Window != nil {
		glfw.PollEvents()
	}
}

func (p *Platform) ShouldClose() bool {
	return p.Window != nil && p.Window.ShouldClose()
}

// GetAbsoluteTime returns seconds since Startup.
func (p *Platform) GetAbsoluteTime() float64 {
	if p.Window == nil {
		return 0
	}
	return glfw.GetTime() - startTime
}

// PlatformWindow describes the window for backend creation. It is zero when
// the platform runs headless.
func (p *Platform) PlatformWindow() metadata.PlatformWindow {
	if p.Window == nil {
		return metadata.PlatformWindow{}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return metadata.PlatformWindow{
		Handle: nativeHandle(p.Window),
		Width:  p.width,
		Height: p.height,
		Native: p,
	}
}

// RequiredInstanceExtensions lists the Vulkan instance extensions GLFW
// needs to present to this window.
func (p *Platform) RequiredInstanceExtensions() []string {
	if p.Window == nil || !glfw.VulkanSupported() {
		return nil
	}
	return p.Window.GetRequiredInstanceExtensions()
}

// CreateWindowSurface creates a VkSurfaceKHR for instance.
func (p *Platform) CreateWindowSurface(instance interface{}, allocator unsafe.Pointer) (uintptr, error) {
	if p.Window == nil {
		return 0, fmt.Errorf("platform is headless")
	}
	return p.Window.CreateWindowSurface(instance, allocator)
}

// VulkanProcAddr returns the loader entry point GLFW resolved, or nil.
func (p *Platform) VulkanProcAddr() unsafe.Pointer {
	if p.Window == nil || !glfw.VulkanSupported() {
		return nil
	}
	return glfw.GetVulkanGetInstanceProcAddress()
}

func (p *Platform) framebufferSizeCallback(w *glfw.Window, width, height int) {
	p.mu.Lock()
	p.width, p.height = uint32(width), uint32(height)
	p.mu.Unlock()
	core.LogDebug("framebuffer resized to %dx%d", width, height)
}
