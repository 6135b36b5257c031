package metadata

import (
	"fmt"
	"strings"
)

/** @brief Pixel formats understood by the swap chain. Opaque to the descriptor core. */
type Format uint8

const (
	FormatUnknown Format = iota
	FormatRGBA8Unorm
	FormatRGBA8UnormSRGB
	FormatBGRA8Unorm
	FormatBGRA8UnormSRGB
	FormatRGB10A2Unorm
	FormatRGBA16Float
)

var formatNames = map[Format]string{
	FormatUnknown:        "unknown",
	FormatRGBA8Unorm:     "rgba8_unorm",
	FormatRGBA8UnormSRGB: "rgba8_unorm_srgb",
	FormatBGRA8Unorm:     "bgra8_unorm",
	FormatBGRA8UnormSRGB: "bgra8_unorm_srgb",
	FormatRGB10A2Unorm:   "rgb10a2_unorm",
	FormatRGBA16Float:    "rgba16_float",
}

func (f Format) String() string {
	if s, ok := formatNames[f]; ok {
		return s
	}
	return fmt.Sprintf("Format(%d)", uint8(f))
}

func ParseFormat(s string) (Format, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for f, name := range formatNames {
		if name == s && f != FormatUnknown {
			return f, nil
		}
	}
	return FormatUnknown, fmt.Errorf("unknown format %q", s)
}
