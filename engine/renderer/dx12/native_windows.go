//go:build windows

package dx12

import (
	"fmt"
	"syscall"
	"unsafe"

	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/metadata"
	"golang.org/x/sys/windows"
)

var (
	d3d12                      = windows.NewLazySystemDLL("d3d12.dll")
	procD3D12CreateDevice      = d3d12.NewProc("D3D12CreateDevice")
	procD3D12GetDebugInterface = d3d12.NewProc("D3D12GetDebugInterface")

	iidDevice         = mustGUID("{189819f1-1db6-4b57-be54-1821339b85f7}")
	iidDescriptorHeap = mustGUID("{8efb471d-616c-4f49-90f7-127bb763fa51}")
	iidDebug          = mustGUID("{344488b7-6846-474b-b989-f027448245e0}")
)

func mustGUID(s string) windows.GUID {
	g, err := windows.GUIDFromString(s)
	if err != nil {
		panic(err)
	}
	return g
}

// vtable slots
const (
	methodRelease = 2

	debugEnableDebugLayer = 3

	deviceCheckFeatureSupport  = 13
	deviceCreateDescriptorHeap = 14
)

// D3D12_FEATURE values
const (
	featureOptions       = 0
	featureFeatureLevels = 2
	featureOptions5      = 27
	featureOptions7      = 32
)

// D3D_FEATURE_LEVEL values
const (
	d3dFeatureLevel11_0 = 0xb000
	d3dFeatureLevel11_1 = 0xb100
	d3dFeatureLevel12_0 = 0xc000
	d3dFeatureLevel12_1 = 0xc100
	d3dFeatureLevel12_2 = 0xc200
)

type comObject struct {
	vtbl *[64]uintptr
}

func (o *comObject) call(method int, args ...uintptr) int32 {
	all := append([]uintptr{uintptr(unsafe.Pointer(o))}, args...)
	r, _, _ := syscall.SyscallN(o.vtbl[method], all...)
	return int32(r)
}

func (o *comObject) release() {
	if o != nil {
		o.call(methodRelease)
	}
}

func failed(hr int32) bool {
	return hr < 0
}

func hresultError(op string, hr int32) error {
	return &core.NativeError{
		API:     "dx12",
		Op:      op,
		Code:    int64(hr),
		Message: fmt.Sprintf("HRESULT 0x%08X", uint32(hr)),
	}
}

type d3dNative struct {
	device *comObject
	hwnd   windows.HWND
	props  Properties
}

// Open creates a D3D12 device on the default adapter.
func Open(desc metadata.BackendDescription) (Native, error) {
	if err := d3d12.Load(); err != nil {
		return nil, &core.NativeError{API: "dx12", Op: "load d3d12.dll", Code: -1, Message: err.Error()}
	}

	if desc.EnableValidation {
		enableDebugLayer()
	}

	var device *comObject
	r, _, _ := procD3D12CreateDevice.Call(
		0,
		d3dFeatureLevel11_0,
		uintptr(unsafe.Pointer(&iidDevice)),
		uintptr(unsafe.Pointer(&device)),
	)
	if hr := int32(r); failed(hr) {
		return nil, hresultError("D3D12CreateDevice", hr)
	}

	n := &d3dNative{device: device}
	n.props = n.queryProperties()
	if n.props.FeatureLevel < renderer.FeatureLevel12_0 {
		n.Destroy()
		return nil, &core.NativeError{API: "dx12", Op: "D3D12CreateDevice", Code: -1,
			Message: fmt.Sprintf("feature level %s is below 12_0", n.props.FeatureLevel)}
	}
	return n, nil
}

func enableDebugLayer() {
	var debug *comObject
	r, _, _ := procD3D12GetDebugInterface.Call(
		uintptr(unsafe.Pointer(&iidDebug)),
		uintptr(unsafe.Pointer(&debug)),
	)
	if failed(int32(r)) || debug == nil {
		core.LogWarn("D3D12 debug layer is not available (HRESULT 0x%08X)", uint32(r))
		return
	}
	debug.call(debugEnableDebugLayer)
	debug.release()
	core.LogDebug("D3D12 debug layer enabled.")
}

func (n *d3dNative) checkFeature(feature uintptr, data unsafe.Pointer, size uintptr) bool {
	return !failed(n.device.call(deviceCheckFeatureSupport, feature, uintptr(data), size))
}

func (n *d3dNative) queryProperties() Properties {
	props := Properties{Adapter: "default adapter", FeatureLevel: renderer.FeatureLevel11_0, BindingTier: renderer.ResourceBindingTier1}

	requested := []uint32{d3dFeatureLevel12_2, d3dFeatureLevel12_1, d3dFeatureLevel12_0, d3dFeatureLevel11_1, d3dFeatureLevel11_0}
	levels := struct {
		NumFeatureLevels         uint32
		PFeatureLevelsRequested  *uint32
		MaxSupportedFeatureLevel uint32
	}{uint32(len(requested)), &requested[0], 0}
	if n.checkFeature(featureFeatureLevels, unsafe.Pointer(&levels), unsafe.Sizeof(levels)) {
		props.FeatureLevel = convertFeatureLevel(levels.MaxSupportedFeatureLevel)
	}

	// D3D12_FEATURE_DATA_D3D12_OPTIONS; ResourceBindingTier is the fifth field.
	var options [15]uint32
	if n.checkFeature(featureOptions, unsafe.Pointer(&options), unsafe.Sizeof(options)) {
		props.BindingTier = renderer.ResourceBindingTier(options[4])
	}

	// RaytracingTier is the third field of OPTIONS5, 10 means TIER_1_0.
	var options5 [3]uint32
	if n.checkFeature(featureOptions5, unsafe.Pointer(&options5), unsafe.Sizeof(options5)) {
		props.RayTracing = options5[2] >= 10
	}

	// MeshShaderTier is the first field of OPTIONS7.
	var options7 [2]uint32
	if n.checkFeature(featureOptions7, unsafe.Pointer(&options7), unsafe.Sizeof(options7)) {
		props.MeshShader = options7[0] >= 10
	}
	return props
}

func convertFeatureLevel(level uint32) renderer.FeatureLevel {
	switch {
	case level >= d3dFeatureLevel12_2:
		return renderer.FeatureLevel12_2
	case level >= d3dFeatureLevel12_1:
		return renderer.FeatureLevel12_1
	case level >= d3dFeatureLevel12_0:
		return renderer.FeatureLevel12_0
	case level >= d3dFeatureLevel11_1:
		return renderer.FeatureLevel11_1
	}
	return renderer.FeatureLevel11_0
}

func (n *d3dNative) Properties() Properties {
	return n.props
}

func (n *d3dNative) SetWindow(hwnd uintptr) error {
	if !windows.IsWindow(windows.HWND(hwnd)) {
		return fmt.Errorf("HWND %#x is not a window", hwnd)
	}
	n.hwnd = windows.HWND(hwnd)
	return nil
}

type descriptorHeap struct {
	heap *comObject
}

func (n *d3dNative) CreateDescriptorHeap(kind HeapKind, count uint32) (NativeHeap, error) {
	// D3D12_DESCRIPTOR_HEAP_DESC
	desc := struct {
		Type           int32
		NumDescriptors uint32
		Flags          int32
		NodeMask       uint32
	}{
		Type:           int32(kind), // CBV_SRV_UAV = 0, SAMPLER = 1
		NumDescriptors: count,
		Flags:          1, // SHADER_VISIBLE
	}
	var h *comObject
	hr := n.device.call(deviceCreateDescriptorHeap,
		uintptr(unsafe.Pointer(&desc)),
		uintptr(unsafe.Pointer(&iidDescriptorHeap)),
		uintptr(unsafe.Pointer(&h)),
	)
	if failed(hr) {
		return nil, hresultError("CreateDescriptorHeap("+kind.String()+")", hr)
	}
	return &descriptorHeap{heap: h}, nil
}

func (h *descriptorHeap) Destroy() {
	h.heap.release()
	h.heap = nil
}

func (n *d3dNative) Destroy() {
	if n.device != nil {
		core.LogDebug("Releasing D3D12 device...")
		n.device.release()
		n.device = nil
	}
}
