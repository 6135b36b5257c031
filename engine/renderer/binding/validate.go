package binding

import (
	"fmt"

	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/math"
)

// Validator checks a set of bindings before it is handed to command
// recording. The zero value uses the inclusive overlap policy.
type Validator struct {
	strictRanges bool
}

type ValidatorOption func(*Validator)

// WithStrictRanges makes only ranges that share an element conflict.
// By default ranges that merely touch are treated as aliasing too.
func WithStrictRanges() ValidatorOption {
	return func(v *Validator) {
		v.strictRanges = true
	}
}

func NewValidator(opts ...ValidatorOption) *Validator {
	v := &Validator{}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// ValidateBindingSet runs the default Validator over bindings.
func ValidateBindingSet(bindings []ResourceBinding) error {
	return NewValidator().Validate(bindings)
}

// Validate reports the first problem found, in order of: a binding point
// used twice (ErrDuplicateBinding), a destroyed or unreachable resource
// (ErrStaleResource), a sub-range outside the resource
// (ErrInvalidBindingRange), and two bindings of one resource over
// overlapping ranges where at least one of them writes
// (ErrAliasingViolation). Conflicts are reported in binding order.
func (v *Validator) Validate(bindings []ResourceBinding) error {
	points := make(map[uint32]int, len(bindings))
	for i, b := range bindings {
		if j, ok := points[b.Point]; ok {
			return fmt.Errorf("bindings #%d and #%d both use point %d: %w", j, i, b.Point, core.ErrDuplicateBinding)
		}
		points[b.Point] = i
	}

	var order []core.Identifier
	byResource := make(map[core.Identifier][]int, len(bindings))
	for i, b := range bindings {
		if !b.Resource.Alive() {
			return fmt.Errorf("%s: %w", b, core.ErrStaleResource)
		}
		if err := checkRange(b); err != nil {
			return err
		}
		id := b.Resource.ID()
		if _, seen := byResource[id]; !seen {
			order = append(order, id)
		}
		byResource[id] = append(byResource[id], i)
	}

	for _, id := range order {
		group := byResource[id]
		for x := 0; x < len(group); x++ {
			a := bindings[group[x]]
			for y := x + 1; y < len(group); y++ {
				b := bindings[group[y]]
				if !a.Usage.Writes() && !b.Usage.Writes() {
					continue
				}
				if v.overlap(a, b) {
					return fmt.Errorf("%s and %s: %w", a, b, core.ErrAliasingViolation)
				}
			}
		}
	}
	return nil
}

// checkRange rejects an explicit sub-range that is empty or does not fit
// inside the resource: bytes for buffers, subresources for textures.
func checkRange(b ResourceBinding) error {
	if !b.ranged {
		return nil
	}
	extent := b.Resource.extent()
	if b.length == 0 || b.offset >= extent || b.length > extent-b.offset {
		return fmt.Errorf("%s: resource extent is %d: %w", b, extent, core.ErrInvalidBindingRange)
	}
	return nil
}

func (v *Validator) overlap(a, b ResourceBinding) bool {
	aOff, aLen := a.Range()
	bOff, bLen := b.Range()
	if v.strictRanges {
		return math.RangesIntersect(aOff, aLen, bOff, bLen)
	}
	return math.RangesOverlap(aOff, aLen, bOff, bLen)
}
