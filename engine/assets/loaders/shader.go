package loaders

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/metadata"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/shader"
)

// ShaderConfig is the content of a .shadercfg file. Source and binary paths
// are relative to the file.
//
//	name = "fullscreen"
//	stage = "pixel"
//	entry_point = "main"
//	source = "fullscreen.hlsl"
//
//	[binaries]
//	vulkan = "fullscreen.spv"
//
//	[environment]
//	args = ["-O3"]
//	defines = [{ name = "USE_FOG", value = "1" }]
type ShaderConfig struct {
	Name        string             `toml:"name"`
	Stage       string             `toml:"stage"`
	EntryPoint  string             `toml:"entry_point"`
	Source      string             `toml:"source"`
	Binaries    map[string]string  `toml:"binaries,omitempty"`
	Environment shader.Environment `toml:"environment"`
}

// ShaderAsset is a loaded ShaderConfig with its files read.
type ShaderAsset struct {
	Name        string
	Stage       shader.Stage
	EntryPoint  string
	Environment shader.Environment

	SourcePath string
	Source     []byte
	// Bytecode per graphics API name ("vulkan", "dx12").
	Binaries map[string][]byte
}

type ShaderLoader struct {
	files BinaryLoader
}

func (sl *ShaderLoader) Load(path string, assetType metadata.ResourceType, params interface{}) (*metadata.Resource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg ShaderConfig
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	asset, err := sl.resolve(filepath.Dir(path), &cfg)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return &metadata.Resource{
		Name:     asset.Name,
		FullPath: path,
		Type:     metadata.ResourceTypeShader,
		DataSize: uint64(len(asset.Source)),
		Data:     asset,
	}, nil
}

func (sl *ShaderLoader) resolve(dir string, cfg *ShaderConfig) (*ShaderAsset, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("shader config has no name")
	}
	stage, err := shader.ParseStage(cfg.Stage)
	if err != nil {
		return nil, err
	}
	if cfg.Source == "" {
		return nil, fmt.Errorf("shader '%s' has no source", cfg.Name)
	}

	asset := &ShaderAsset{
		Name:        cfg.Name,
		Stage:       stage,
		EntryPoint:  cfg.EntryPoint,
		Environment: cfg.Environment,
		SourcePath:  filepath.Join(dir, cfg.Source),
		Binaries:    make(map[string][]byte, len(cfg.Binaries)),
	}
	if asset.EntryPoint == "" {
		asset.EntryPoint = "main"
	}

	src, err := sl.files.Load(asset.SourcePath, metadata.ResourceTypeShaderSource, nil)
	if err != nil {
		return nil, err
	}
	asset.Source = src.Data.([]byte)

	for api, rel := range cfg.Binaries {
		bin, err := sl.files.Load(filepath.Join(dir, rel), metadata.ResourceTypeShaderBinary, nil)
		if err != nil {
			return nil, err
		}
		asset.Binaries[api] = bin.Data.([]byte)
	}
	return asset, nil
}

func (sl *ShaderLoader) Unload(res *metadata.Resource) error {
	res.Data = nil
	return nil
}
