//go:build mage

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/magefile/mage/mg"
	"github.com/pelletier/go-toml/v2"
	"github.com/spaghettifunk/anima-rhi/engine/assets/loaders"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/shader"
)

type Build mg.Namespace

const shaderDir = "assets/shaders"

var profiles = map[shader.Stage]string{
	shader.StageVertex:  "vs_6_6",
	shader.StagePixel:   "ps_6_6",
	shader.StageCompute: "cs_6_6",
}

// Builds every package.
func (Build) All() error {
	_, err := executeCmd("go", withArgs("build", "./..."), withStream())
	return err
}

// Compiles the shaders listed in assets/shaders/*.shadercfg to SPIR-V and DXIL with dxc.
func (Build) Shaders() error {
	configs, err := filepath.Glob(filepath.Join(shaderDir, "*.shadercfg"))
	if err != nil {
		return err
	}
	for _, path := range configs {
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		var cfg loaders.ShaderConfig
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		stage, err := shader.ParseStage(cfg.Stage)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		profile, ok := profiles[stage]
		if !ok {
			fmt.Printf("skipping %s: no dxc profile for stage %s\n", path, stage)
			continue
		}
		entry := cfg.EntryPoint
		if entry == "" {
			entry = "main"
		}

		base := strings.TrimSuffix(cfg.Source, filepath.Ext(cfg.Source))
		args := []string{"-T", profile, "-E", entry, cfg.Source}
		for _, d := range cfg.Environment.Defines {
			args = append(args, "-D", d.Name+"="+d.Value)
		}
		if _, err := executeCmd("dxc", withArgs(append(args, "-spirv", "-fvk-bind-resource-heap", "0", "0", "-D", "ANIMA_VULKAN=1", "-Fo", base+".spv")...), withDir(shaderDir), withStream()); err != nil {
			return err
		}
		if _, err := executeCmd("dxc", withArgs(append(args, "-D", "ANIMA_DX12=1", "-Fo", base+".dxil")...), withDir(shaderDir), withStream()); err != nil {
			return err
		}
	}
	return nil
}
