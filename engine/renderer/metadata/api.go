package metadata

import (
	"fmt"
	"strings"
)

/** @brief The native graphics API family a backend is built on. */
type GraphicsAPI uint8

const (
	GraphicsAPIDirectX12 GraphicsAPI = iota
	GraphicsAPIVulkan
)

func (api GraphicsAPI) String() string {
	switch api {
	case GraphicsAPIDirectX12:
		return "dx12"
	case GraphicsAPIVulkan:
		return "vulkan"
	default:
		return fmt.Sprintf("GraphicsAPI(%d)", uint8(api))
	}
}

// ParseGraphicsAPI accepts the names used in configuration files.
func ParseGraphicsAPI(s string) (GraphicsAPI, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "dx12", "d3d12", "directx12":
		return GraphicsAPIDirectX12, nil
	case "vulkan", "vk":
		return GraphicsAPIVulkan, nil
	}
	return 0, fmt.Errorf("unknown graphics api %q", s)
}

/**
 * @brief A window created by the platform layer. Handle is the OS window
 * handle (HWND on Windows, the GLFW window elsewhere). Native optionally
 * exposes platform hooks such as Vulkan surface creation.
 */
type PlatformWindow struct {
	Handle uintptr
	Width  uint32
	Height uint32
	Native interface{}
}

func (w PlatformWindow) IsZero() bool {
	return w.Handle == 0 && w.Native == nil
}

/** @brief Parameters used to construct a graphics backend. */
type BackendDescription struct {
	PlatformWindow  PlatformWindow
	SwapChainFormat Format
	// EnableValidation turns on native debug/validation layers when available.
	EnableValidation bool
	// FramesInFlight bounds how long deferred descriptor frees are held back.
	FramesInFlight uint32
}
