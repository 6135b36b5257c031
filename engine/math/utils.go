package math

import (
	"fmt"

	"golang.org/x/exp/constraints"
)

// DebugAssertions enables precondition checks on the alignment helpers.
// Release builds may turn it off to skip the checks.
var DebugAssertions = true

// Clamp returns the value `f` clamped to the range [low, high].
// It works for any numeric type (integers and floats).
func Clamp[T constraints.Ordered](f, low, high T) T {
	if f < low {
		return low
	}
	if f > high {
		return high
	}
	return f
}

// IsPowerOfTwo reports whether v is a positive power of two.
func IsPowerOfTwo[T constraints.Integer](v T) bool {
	return v > 0 && v&(v-1) == 0
}

// AlignUp returns the smallest multiple of alignment that is >= value.
// alignment must be a power of two and value must be non-negative; with
// DebugAssertions set a violation panics, otherwise the result is unspecified.
func AlignUp[T constraints.Integer](value, alignment T) T {
	if DebugAssertions {
		if !IsPowerOfTwo(alignment) {
			panic(fmt.Sprintf("AlignUp: alignment %d is not a power of two", alignment))
		}
		if value < 0 {
			panic(fmt.Sprintf("AlignUp: negative value %d", value))
		}
	}
	return (value + alignment - 1) &^ (alignment - 1)
}

// RangesOverlap reports whether [aStart, aStart+aLength) and [bStart, bStart+bLength)
// overlap. Ranges that only touch at an endpoint count as overlapping, and so
// does a range that contains the other.
func RangesOverlap[T constraints.Integer](aStart, aLength, bStart, bLength T) bool {
	if aStart > bStart {
		aStart, bStart = bStart, aStart
		aLength = bLength
	}
	// a starts first, so it reaches b iff the gap is no longer than a.
	// Comparing the gap avoids overflowing aStart+aLength.
	return bStart-aStart <= aLength
}

// RangesIntersect reports whether the two half-open ranges share at least one
// element. Touching ranges and empty ranges never intersect.
func RangesIntersect[T constraints.Integer](aStart, aLength, bStart, bLength T) bool {
	if aLength <= 0 || bLength <= 0 {
		return false
	}
	if aStart > bStart {
		aStart, bStart = bStart, aStart
		aLength = bLength
	}
	return bStart-aStart < aLength
}
