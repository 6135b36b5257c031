package metadata

type ResourceType int

/** @brief Pre-defined resource types. */
const (
	/** @brief Not a recognised resource. */
	ResourceTypeNone ResourceType = iota
	/** @brief Shader configuration (.shadercfg). */
	ResourceTypeShader
	/** @brief Shader source text (.hlsl, .slang, .glsl). */
	ResourceTypeShaderSource
	/** @brief Precompiled shader bytecode (.spv, .dxil, .cso). */
	ResourceTypeShaderBinary
)

func (r ResourceType) String() string {
	switch r {
	case ResourceTypeShader:
		return "shader"
	case ResourceTypeShaderSource:
		return "shader_source"
	case ResourceTypeShaderBinary:
		return "shader_binary"
	default:
		return "none"
	}
}

/**
 * @brief A loaded asset.
 */
type Resource struct {
	/** @brief The name of the resource. */
	Name string
	/** @brief The full file path of the resource. */
	FullPath string
	Type     ResourceType
	/** @brief The size of the resource data in bytes. */
	DataSize uint64
	/** @brief The resource data. */
	Data interface{}
}
