package core

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorClassification(t *testing.T) {
	wrapped := func(err error) error { return fmt.Errorf("context: %w", err) }

	for _, err := range []error{ErrDescriptorPoolExhausted, ErrAliasingViolation, ErrUnsupportedAPI} {
		assert.True(t, IsRecoverable(wrapped(err)), err.Error())
		assert.False(t, IsFatal(wrapped(err)), err.Error())
	}
	for _, err := range []error{ErrDoubleFree, ErrInvalidSlot, ErrShaderKeyCollision, ErrDeviceInitFailed} {
		assert.True(t, IsFatal(wrapped(err)), err.Error())
		assert.False(t, IsRecoverable(wrapped(err)), err.Error())
	}
	assert.True(t, IsRecoverable(nil))
}

func TestNativeErrorMessage(t *testing.T) {
	err := &NativeError{API: "dx12", Op: "D3D12CreateDevice", Code: -2005270524, Message: "DXGI_ERROR_UNSUPPORTED"}
	assert.Equal(t, "dx12: D3D12CreateDevice: DXGI_ERROR_UNSUPPORTED (code -2005270524)", err.Error())

	err.Op = ""
	assert.Equal(t, "dx12: DXGI_ERROR_UNSUPPORTED (code -2005270524)", err.Error())
}
