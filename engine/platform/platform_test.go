package platform

import (
	"errors"
	"testing"

	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeadlessPlatform(t *testing.T) {
	p, err := New()
	require.NoError(t, err)

	assert.True(t, p.PlatformWindow().IsZero())
	assert.Nil(t, p.RequiredInstanceExtensions())
	assert.Nil(t, p.VulkanProcAddr())
	assert.False(t, p.ShouldClose())
	assert.Zero(t, p.GetAbsoluteTime())

	_, err = p.CreateWindowSurface(nil, nil)
	assert.Error(t, err)

	p.PumpMessages()
	assert.NoError(t, p.Shutdown())
}

func TestStartupReturnsInitError(t *testing.T) {
	noDisplay := errors.New("X11: The DISPLAY environment variable is missing")
	prev := initGLFW
	initGLFW = func() error { return noDisplay }
	t.Cleanup(func() { initGLFW = prev })

	p, err := New()
	require.NoError(t, err)

	err = p.Startup("test", 0, 0, 640, 480)
	assert.ErrorIs(t, err, core.ErrDeviceInitFailed)
	assert.ErrorIs(t, err, noDisplay)
	assert.Nil(t, p.Window)
	assert.True(t, p.PlatformWindow().IsZero())
	assert.NoError(t, p.Shutdown())
}
