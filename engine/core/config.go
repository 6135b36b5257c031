package core

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

type ApplicationConfig struct {
	Name      string `toml:"name"`
	StartPosX uint32 `toml:"start_pos_x"`
	StartPosY uint32 `toml:"start_pos_y"`
	Width     uint32 `toml:"width"`
	Height    uint32 `toml:"height"`
	// Headless skips window creation; backends then run without a surface.
	Headless bool `toml:"headless"`
}

type RendererConfig struct {
	// API is "vulkan" or "dx12".
	API             string `toml:"api"`
	SwapChainFormat string `toml:"swapchain_format"`
	Debug           bool   `toml:"debug"`
	FramesInFlight  uint32 `toml:"frames_in_flight"`
	// Bindless capacities keyed by descriptor type name ("sampler", "texture", ...).
	Bindless map[string]uint32 `toml:"bindless"`
}

type ShaderConfig struct {
	Dir   string `toml:"dir"`
	Watch bool   `toml:"watch"`
}

type LogConfig struct {
	Level string `toml:"level"`
}

type Config struct {
	Application ApplicationConfig `toml:"application"`
	Renderer    RendererConfig    `toml:"renderer"`
	Shaders     ShaderConfig      `toml:"shaders"`
	Log         LogConfig         `toml:"log"`
}

// DefaultConfig returns the configuration used when no file is provided.
func DefaultConfig() *Config {
	return &Config{
		Application: ApplicationConfig{
			Name:      "Anima RHI",
			StartPosX: 100,
			StartPosY: 100,
			Width:     1280,
			Height:    720,
		},
		Renderer: RendererConfig{
			API:             "vulkan",
			SwapChainFormat: "bgra8_unorm",
			Debug:           true,
			FramesInFlight:  2,
			Bindless: map[string]uint32{
				"sampler":   256,
				"texture":   1000,
				"rwtexture": 1000,
				"buffer":    1000,
				"rwbuffer":  1000,
			},
		},
		Shaders: ShaderConfig{
			Dir:   "assets/shaders",
			Watch: true,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// LoadConfig reads a TOML file on top of DefaultConfig.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes TOML bytes on top of DefaultConfig.
func ParseConfig(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if cfg.Renderer.FramesInFlight == 0 {
		return nil, fmt.Errorf("decode config: renderer.frames_in_flight must be greater than 0")
	}
	return cfg, nil
}
