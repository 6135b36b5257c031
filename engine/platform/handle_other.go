//go:build !windows

package platform

import "github.com/go-gl/glfw/v3.3/glfw"

// nativeHandle returns the GLFWwindow pointer.
func nativeHandle(w *glfw.Window) uintptr {
	return uintptr(w.Handle())
}
