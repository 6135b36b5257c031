package renderer

import (
	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/bindless"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/metadata"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/shader"
)

type Feature uint8

const (
	FeatureCompute Feature = iota
	FeatureMeshShader
	FeatureRayTracing
)

func (f Feature) String() string {
	switch f {
	case FeatureCompute:
		return "compute"
	case FeatureMeshShader:
		return "mesh_shader"
	case FeatureRayTracing:
		return "ray_tracing"
	}
	return "unknown"
}

type FeatureLevel uint8

const (
	FeatureLevel11_0 FeatureLevel = iota
	FeatureLevel11_1
	FeatureLevel12_0
	FeatureLevel12_1
	FeatureLevel12_2
)

func (l FeatureLevel) String() string {
	switch l {
	case FeatureLevel11_0:
		return "11_0"
	case FeatureLevel11_1:
		return "11_1"
	case FeatureLevel12_0:
		return "12_0"
	case FeatureLevel12_1:
		return "12_1"
	case FeatureLevel12_2:
		return "12_2"
	}
	return "unknown"
}

type ResourceBindingTier uint8

const (
	ResourceBindingTier1 ResourceBindingTier = iota + 1
	ResourceBindingTier2
	ResourceBindingTier3
)

// FeatureChecker answers capability queries for the active device.
type FeatureChecker interface {
	IsFeatureSupported(feature Feature) bool
	FeatureLevel() FeatureLevel
	ResourceBindingTier() ResourceBindingTier
	// DescriptorLimits is the largest bindless capacity the device accepts
	// for each descriptor type.
	DescriptorLimits() metadata.DescriptorCounts
}

/** @brief Everything needed to identify and create a shader object. */
type ShaderDescriptor struct {
	Name        string
	Source      []byte
	Environment shader.Environment
	Stage       shader.Stage
	EntryPoint  string
	// Binary is precompiled bytecode (SPIR-V or DXIL) produced by an external
	// compiler. May be empty when only the shader identity is needed.
	Binary []byte
}

// ShaderModule is the backend-native half of a Shader.
type ShaderModule interface {
	Destroy()
}

/** @brief A shader object shared by every caller that asks for the same key. */
type Shader struct {
	Key        shader.Key
	Name       string
	Stage      shader.Stage
	EntryPoint string
	// Module is nil when the descriptor carried no bytecode.
	Module ShaderModule
}

// Device is implemented by each backend package and wrapped by the Backend
// returned from CreateGraphicsBackend. Callers never see it directly.
type Device interface {
	API() metadata.GraphicsAPI
	InitWindow(window metadata.PlatformWindow) error
	FeatureChecker() FeatureChecker
	// CreateDescriptorHeap allocates native storage for a bindless set.
	CreateDescriptorHeap(capacities metadata.DescriptorCounts) (bindless.Heap, error)
	CreateShaderModule(key shader.Key, desc ShaderDescriptor) (ShaderModule, error)
	// ModifyShaderEnvironment adds backend defines and compiler arguments
	// before a shader key is computed.
	ModifyShaderEnvironment(env *shader.Environment)
	Destroy()
}

// Backend is the uniform entry point to the active graphics API.
type Backend interface {
	API() metadata.GraphicsAPI
	ID() core.Identifier
	InitWindow(window metadata.PlatformWindow) error
	GetFeatureChecker() FeatureChecker
	// CreateBindlessSet creates the backend's single bindless descriptor set.
	CreateBindlessSet(capacities metadata.DescriptorCounts) (*bindless.Set, error)
	// BindlessSet returns the set created by CreateBindlessSet, or nil.
	BindlessSet() *bindless.Set
	CreateShader(desc ShaderDescriptor) (*Shader, error)
	// ReleaseShader drops the cached shader for key and destroys its module.
	ReleaseShader(key shader.Key) bool
	Shutdown() error
}
