package vulkan

import (
	"github.com/spaghettifunk/anima-rhi/engine/renderer"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/metadata"
)

func init() {
	renderer.Register(metadata.GraphicsAPIVulkan, func(desc metadata.BackendDescription) (renderer.Device, error) {
		native, err := Open(desc)
		if err != nil {
			return nil, err
		}
		return NewDevice(native), nil
	})
}
