//go:build windows

package dx12

import (
	"github.com/spaghettifunk/anima-rhi/engine/renderer"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/metadata"
)

func init() {
	renderer.Register(metadata.GraphicsAPIDirectX12, func(desc metadata.BackendDescription) (renderer.Device, error) {
		native, err := Open(desc)
		if err != nil {
			return nil, err
		}
		return NewDevice(native), nil
	})
}
