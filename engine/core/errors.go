package core

import (
	"errors"
	"fmt"
)

var (
	// Validation failures. Recoverable, reported to the caller.
	ErrInvalidShaderDescriptor = errors.New("invalid shader descriptor")
	ErrDuplicateBinding        = errors.New("duplicate binding point")
	ErrAliasingViolation       = errors.New("resource aliasing violation")
	ErrStaleResource           = errors.New("binding references a destroyed resource")
	ErrInvalidBindingRange     = errors.New("binding range exceeds the resource")

	// Resource exhaustion. Recoverable.
	ErrDescriptorPoolExhausted = errors.New("descriptor pool exhausted")
	ErrOutOfDescriptorSpace    = errors.New("requested descriptor capacity exceeds backend limit")

	// Logic errors. Treated as fatal.
	ErrDoubleFree         = errors.New("descriptor slot freed twice")
	ErrInvalidSlot        = errors.New("descriptor slot was not allocated from this set")
	ErrShaderKeyCollision = errors.New("shader key collision")

	// Backend selection and lifetime.
	ErrUnsupportedAPI    = errors.New("graphics api not compiled into this binary")
	ErrDeviceInitFailed  = errors.New("native device initialization failed")
	ErrBindlessSetExists = errors.New("bindless descriptor set already created for this backend")
	ErrBackendShutdown   = errors.New("backend has been shut down")
)

// NativeError carries an error reported by a native graphics API verbatim.
type NativeError struct {
	API     string
	Op      string
	Code    int64
	Message string
}

func (e *NativeError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %s (code %d)", e.API, e.Message, e.Code)
	}
	return fmt.Sprintf("%s: %s: %s (code %d)", e.API, e.Op, e.Message, e.Code)
}

// IsRecoverable reports whether the caller may retry or handle err locally.
func IsRecoverable(err error) bool {
	switch {
	case err == nil:
		return true
	case errors.Is(err, ErrInvalidShaderDescriptor),
		errors.Is(err, ErrDuplicateBinding),
		errors.Is(err, ErrAliasingViolation),
		errors.Is(err, ErrStaleResource),
		errors.Is(err, ErrInvalidBindingRange),
		errors.Is(err, ErrDescriptorPoolExhausted),
		errors.Is(err, ErrOutOfDescriptorSpace),
		errors.Is(err, ErrUnsupportedAPI):
		return true
	}
	return false
}

// IsFatal reports whether err signals a programmer error or a lost device.
// Continuing after a fatal error risks corrupting allocator state.
func IsFatal(err error) bool {
	return errors.Is(err, ErrDoubleFree) ||
		errors.Is(err, ErrInvalidSlot) ||
		errors.Is(err, ErrShaderKeyCollision) ||
		errors.Is(err, ErrDeviceInitFailed)
}
