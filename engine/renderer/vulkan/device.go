package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/bindless"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/metadata"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/shader"
)

// DeviceProperties is what the physical device selection reports back.
type DeviceProperties struct {
	Name       string
	APIVersion uint32
	// Per-set descriptor limits, indexed by descriptor type. Buffer and
	// RWBuffer share the storage buffer limit.
	DescriptorLimits metadata.DescriptorCounts
	MeshShader       bool
	RayTracing       bool
	// DescriptorIndexing is set when the device supports partially bound,
	// runtime-sized descriptor arrays. A bindless table needs both.
	DescriptorIndexing bool
}

// TableBinding is one binding of the bindless descriptor set layout.
type TableBinding struct {
	Binding uint32
	Type    vk.DescriptorType
	Count   uint32
	// PartiallyBound lets the binding hold unwritten descriptors as long as
	// shaders never read them.
	PartiallyBound bool
}

// DescriptorTable is the native pool, layout and set behind a bindless set.
type DescriptorTable interface {
	Destroy()
}

// NativeShaderModule wraps a VkShaderModule.
type NativeShaderModule interface {
	Destroy()
}

// Native is the slice of the Vulkan API the backend drives. The goki/vulkan
// implementation lives in native.go.
type Native interface {
	Properties() DeviceProperties
	CreateSurface(window metadata.PlatformWindow) error
	CreateDescriptorTable(bindings []TableBinding) (DescriptorTable, error)
	CreateShaderModule(code []byte) (NativeShaderModule, error)
	Destroy()
}

// descriptorBindings maps each descriptor type to its binding in the
// bindless set layout. Binding numbers follow DescriptorType order.
var descriptorBindings = [metadata.DescriptorTypeCount]vk.DescriptorType{
	metadata.DescriptorTypeSampler:   vk.DescriptorTypeSampler,
	metadata.DescriptorTypeTexture:   vk.DescriptorTypeSampledImage,
	metadata.DescriptorTypeRWTexture: vk.DescriptorTypeStorageImage,
	metadata.DescriptorTypeBuffer:    vk.DescriptorTypeStorageBuffer,
	metadata.DescriptorTypeRWBuffer:  vk.DescriptorTypeStorageBuffer,
}

// Device implements renderer.Device on top of a Native.
type Device struct {
	native   Native
	props    DeviceProperties
	features *featureChecker
}

func NewDevice(native Native) *Device {
	props := native.Properties()
	core.LogInfo("Vulkan device '%s' (API %d.%d.%d)", props.Name,
		vk.Version(props.APIVersion).Major(), vk.Version(props.APIVersion).Minor(), vk.Version(props.APIVersion).Patch())
	return &Device{
		native:   native,
		props:    props,
		features: &featureChecker{props: props},
	}
}

func (d *Device) API() metadata.GraphicsAPI {
	return metadata.GraphicsAPIVulkan
}

func (d *Device) InitWindow(window metadata.PlatformWindow) error {
	if window.IsZero() {
		return fmt.Errorf("init window: no platform window")
	}
	return d.native.CreateSurface(window)
}

func (d *Device) FeatureChecker() renderer.FeatureChecker {
	return d.features
}

func (d *Device) CreateDescriptorHeap(capacities metadata.DescriptorCounts) (bindless.Heap, error) {
	if !d.props.DescriptorIndexing {
		return nil, fmt.Errorf("device '%s' lacks partially bound runtime descriptor arrays", d.props.Name)
	}

	// Buffer and RWBuffer draw from the same storage buffer budget.
	storage := capacities[metadata.DescriptorTypeBuffer] + capacities[metadata.DescriptorTypeRWBuffer]
	if limit := d.props.DescriptorLimits[metadata.DescriptorTypeBuffer]; storage > limit {
		return nil, fmt.Errorf("%d storage buffer descriptors requested, device limit is %d: %w",
			storage, limit, core.ErrOutOfDescriptorSpace)
	}

	bindings := make([]TableBinding, 0, metadata.DescriptorTypeCount)
	for _, t := range metadata.DescriptorTypes {
		bindings = append(bindings, TableBinding{
			Binding:        uint32(t),
			Type:           descriptorBindings[t],
			Count:          capacities[t],
			PartiallyBound: true,
		})
	}
	table, err := d.native.CreateDescriptorTable(bindings)
	if err != nil {
		return nil, err
	}
	return &heap{table: table}, nil
}

func (d *Device) CreateShaderModule(key shader.Key, desc renderer.ShaderDescriptor) (renderer.ShaderModule, error) {
	module, err := d.native.CreateShaderModule(desc.Binary)
	if err != nil {
		return nil, fmt.Errorf("shader module %s: %w", key, err)
	}
	return module, nil
}

func (d *Device) ModifyShaderEnvironment(env *shader.Environment) {
	env.Args = append(env.Args, "-spirv", "-fvk-bind-resource-heap", "0", "0")
	env.Defines = append(env.Defines, shader.Define{Name: "ANIMA_VULKAN", Value: "1"})
}

func (d *Device) Destroy() {
	d.native.Destroy()
}

// heap is a single descriptor set with one binding per descriptor type,
// so a slot index is already the array element shaders read.
type heap struct {
	table DescriptorTable
}

func (h *heap) ShaderIndex(_ metadata.DescriptorType, index uint32) uint32 {
	return index
}

// Release leaves the descriptor in place. Every binding is created
// partially bound, and a dead slot is never indexed by shaders.
func (h *heap) Release(metadata.DescriptorType, uint32) {}

func (h *heap) Destroy() {
	h.table.Destroy()
}

type featureChecker struct {
	props DeviceProperties
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

// FeatureLevel maps Vulkan 1.3 to 12_2 and anything older to 12_1.
func (f *featureChecker) FeatureLevel() renderer.FeatureLevel {
	v := vk.Version(f.props.APIVersion)
	if v.Major() > 1 || (v.Major() == 1 && v.Minor() >= 3) {
		return renderer.FeatureLevel12_2
	}
	return renderer.FeatureLevel12_1
}

// ResourceBindingTier derives a D3D12-style tier from the set limits.
func (f *featureChecker) ResourceBindingTier() renderer.ResourceBindingTier {
	l := f.props.DescriptorLimits
	switch {
	case l[metadata.DescriptorTypeSampler] >= 2048 &&
		l[metadata.DescriptorTypeTexture] >= 1_000_000 &&
		l[metadata.DescriptorTypeRWTexture] >= 1_000_000 &&
		l[metadata.DescriptorTypeBuffer] >= 1_000_000:
		return renderer.ResourceBindingTier3
	case l[metadata.DescriptorTypeSampler] >= 2048 &&
		l[metadata.DescriptorTypeTexture] >= 1_000_000:
		return renderer.ResourceBindingTier2
	}
	return renderer.ResourceBindingTier1
}

func (f *featureChecker) DescriptorLimits() metadata.DescriptorCounts {
	return f.props.DescriptorLimits
}
