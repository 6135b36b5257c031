package metadata

import "fmt"

/**
 * @brief The kind of a bindable resource view. Determines which native
 * descriptor heap (DX12) or descriptor binding (Vulkan) a slot is drawn from.
 * Adding a value is a breaking interface change.
 */
type DescriptorType uint8

const (
	DescriptorTypeSampler DescriptorType = iota
	DescriptorTypeTexture
	DescriptorTypeRWTexture
	DescriptorTypeBuffer
	DescriptorTypeRWBuffer

	/** @brief The number of descriptor types. Not a valid type. */
	DescriptorTypeCount
)

/** @brief All descriptor types, in declaration order. */
var DescriptorTypes = [DescriptorTypeCount]DescriptorType{
	DescriptorTypeSampler,
	DescriptorTypeTexture,
	DescriptorTypeRWTexture,
	DescriptorTypeBuffer,
	DescriptorTypeRWBuffer,
}

func (t DescriptorType) Valid() bool {
	return t < DescriptorTypeCount
}

func (t DescriptorType) String() string {
	switch t {
	case DescriptorTypeSampler:
		return "sampler"
	case DescriptorTypeTexture:
		return "texture"
	case DescriptorTypeRWTexture:
		return "rwtexture"
	case DescriptorTypeBuffer:
		return "buffer"
	case DescriptorTypeRWBuffer:
		return "rwbuffer"
	default:
		return fmt.Sprintf("DescriptorType(%d)", uint8(t))
	}
}

// ParseDescriptorType is the inverse of DescriptorType.String.
func ParseDescriptorType(s string) (DescriptorType, error) {
	for _, t := range DescriptorTypes {
		if t.String() == s {
			return t, nil
		}
	}
	return DescriptorTypeCount, fmt.Errorf("unknown descriptor type %q", s)
}

// DescriptorCounts holds one count per descriptor type. Used both for
// requested capacities and for backend-reported limits.
type DescriptorCounts [DescriptorTypeCount]uint32

// DescriptorCountsFromNames converts a config map keyed by type name.
func DescriptorCountsFromNames(m map[string]uint32) (DescriptorCounts, error) {
	var c DescriptorCounts
	for name, n := range m {
		t, err := ParseDescriptorType(name)
		if err != nil {
			return c, err
		}
		c[t] = n
	}
	return c, nil
}
