package dx12

import (
	"bytes"
	"fmt"

	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/bindless"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/metadata"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/shader"
)

// Descriptor heap budgets from the D3D12 resource binding tiers.
const (
	maxResourceDescriptors = 1_000_000
	maxSamplerDescriptors  = 2048
)

// Properties is what the device reports after creation.
type Properties struct {
	Adapter      string
	FeatureLevel renderer.FeatureLevel
	BindingTier  renderer.ResourceBindingTier
	MeshShader   bool
	RayTracing   bool
}

// HeapKind selects between the two shader-visible heaps.
type HeapKind uint8

const (
	HeapKindResources HeapKind = iota // CBV_SRV_UAV
	HeapKindSamplers
)

func (k HeapKind) String() string {
	if k == HeapKindSamplers {
		return "sampler"
	}
	return "cbv_srv_uav"
}

// NativeHeap wraps an ID3D12DescriptorHeap.
type NativeHeap interface {
	Destroy()
}

// Native is the slice of D3D12 the backend drives. The COM implementation
// only builds on Windows.
type Native interface {
	Properties() Properties
	SetWindow(hwnd uintptr) error
	CreateDescriptorHeap(kind HeapKind, count uint32) (NativeHeap, error)
	Destroy()
}

// Device implements renderer.Device on top of a Native.
type Device struct {
	native   Native
	props    Properties
	features *featureChecker
}

func NewDevice(native Native) *Device {
	props := native.Properties()
	core.LogInfo("D3D12 device '%s' (feature level %s, binding tier %d)", props.Adapter, props.FeatureLevel, props.BindingTier)
	return &Device{
		native:   native,
		props:    props,
		features: &featureChecker{props: props},
	}
}

func (d *Device) API() metadata.GraphicsAPI {
	return metadata.GraphicsAPIDirectX12
}

func (d *Device) InitWindow(window metadata.PlatformWindow) error {
	if window.IsZero() || window.Handle == 0 {
		return fmt.Errorf("init window: no HWND")
	}
	return d.native.SetWindow(window.Handle)
}

func (d *Device) FeatureChecker() renderer.FeatureChecker {
	return d.features
}

// CreateDescriptorHeap lays texture, rwtexture, buffer and rwbuffer out as
// consecutive ranges of one CBV_SRV_UAV heap. Samplers get their own heap.
func (d *Device) CreateDescriptorHeap(capacities metadata.DescriptorCounts) (bindless.Heap, error) {
	base, total := resourceLayout(capacities)
	if total > maxResourceDescriptors {
		return nil, fmt.Errorf("%d resource descriptors requested, heap limit is %d: %w",
			total, maxResourceDescriptors, core.ErrOutOfDescriptorSpace)
	}
	limits := limitsForTier(d.props.BindingTier)
	srv := uint64(capacities[metadata.DescriptorTypeTexture]) + uint64(capacities[metadata.DescriptorTypeBuffer])
	uav := uint64(capacities[metadata.DescriptorTypeRWTexture]) + uint64(capacities[metadata.DescriptorTypeRWBuffer])
	if srv > uint64(limits[metadata.DescriptorTypeTexture]) || uav > uint64(limits[metadata.DescriptorTypeRWTexture]) {
		return nil, fmt.Errorf("%d SRV and %d UAV descriptors exceed binding tier %d: %w",
			srv, uav, d.props.BindingTier, core.ErrOutOfDescriptorSpace)
	}

	h := &heap{base: base}
	if total > 0 {
		native, err := d.native.CreateDescriptorHeap(HeapKindResources, uint32(total))
		if err != nil {
			return nil, err
		}
		h.resources = native
	}
	if n := capacities[metadata.DescriptorTypeSampler]; n > 0 {
		native, err := d.native.CreateDescriptorHeap(HeapKindSamplers, n)
		if err != nil {
			h.Destroy()
			return nil, err
		}
		h.samplers = native
	}
	return h, nil
}

// resourceLayout returns the first heap index of each type's range and the
// total CBV_SRV_UAV descriptor count. Samplers always start at 0.
func resourceLayout(capacities metadata.DescriptorCounts) (metadata.DescriptorCounts, uint64) {
	var base metadata.DescriptorCounts
	var next uint64
	for _, t := range metadata.DescriptorTypes {
		if t == metadata.DescriptorTypeSampler {
			continue
		}
		base[t] = uint32(next)
		next += uint64(capacities[t])
	}
	return base, next
}

// dxbcMagic opens every DXBC and DXIL container.
var dxbcMagic = []byte("DXBC")

type bytecode struct {
	code []byte
}

func (b *bytecode) Destroy() {
	b.code = nil
}

// CreateShaderModule keeps the DXIL blob for pipeline creation. D3D12 has no
// module object.
func (d *Device) CreateShaderModule(key shader.Key, desc renderer.ShaderDescriptor) (renderer.ShaderModule, error) {
	if !bytes.HasPrefix(desc.Binary, dxbcMagic) {
		return nil, fmt.Errorf("shader module %s: bytecode is not a DXBC container", key)
	}
	return &bytecode{code: bytes.Clone(desc.Binary)}, nil
}

func (d *Device) ModifyShaderEnvironment(env *shader.Environment) {
	env.Defines = append(env.Defines, shader.Define{Name: "ANIMA_DX12", Value: "1"})
}

func (d *Device) Destroy() {
	d.native.Destroy()
}

type heap struct {
	base      metadata.DescriptorCounts
	resources NativeHeap
	samplers  NativeHeap
}

func (h *heap) ShaderIndex(t metadata.DescriptorType, index uint32) uint32 {
	return h.base[t] + index
}

// Release leaves the descriptor in place until the slot is written again.
func (h *heap) Release(metadata.DescriptorType, uint32) {}

func (h *heap) Destroy() {
	if h.resources != nil {
		h.resources.Destroy()
		h.resources = nil
	}
	if h.samplers != nil {
		h.samplers.Destroy()
		h.samplers = nil
	}
}

// limitsForTier returns the per-type descriptor limits of a binding tier.
// Texture and buffer share the SRV budget, rwtexture and rwbuffer the UAV one.
func limitsForTier(tier renderer.ResourceBindingTier) metadata.DescriptorCounts {
	var srv, uav, sampler uint32
	switch tier {
	case renderer.ResourceBindingTier3:
		srv, uav, sampler = maxResourceDescriptors, maxResourceDescriptors, maxSamplerDescriptors
	case renderer.ResourceBindingTier2:
		srv, uav, sampler = maxResourceDescriptors, 64, maxSamplerDescriptors
	default:
		srv, uav, sampler = 128, 64, 16
	}
	return metadata.DescriptorCounts{
		metadata.DescriptorTypeSampler:   sampler,
		metadata.DescriptorTypeTexture:   srv,
		metadata.DescriptorTypeRWTexture: uav,
		metadata.DescriptorTypeBuffer:    srv,
		metadata.DescriptorTypeRWBuffer:  uav,
	}
}

type featureChecker struct {
	props Properties
}

func (f *featureChecker) IsFeatureSupported(feature renderer.Feature) bool {
	switch feature {
	case renderer.FeatureCompute:
		return true
	case renderer.FeatureMeshShader:
		return f.props.MeshShader
	case renderer.FeatureRayTracing:
		return f.props.RayTracing
	}
	return false
}

func (f *featureChecker) FeatureLevel() renderer.FeatureLevel {
	return f.props.FeatureLevel
}

func (f *featureChecker) ResourceBindingTier() renderer.ResourceBindingTier {
	return f.props.BindingTier
}

func (f *featureChecker) DescriptorLimits() metadata.DescriptorCounts {
	return limitsForTier(f.props.BindingTier)
}
