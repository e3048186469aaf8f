// Package config loads the optional YAML defaults file layered beneath the
// CLI flags cmd/vstack exposes (spec.md §6 parameter table). A config file
// only ever lowers the amount of typing; any flag the user actually passes
// on the command line wins.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Range mirrors vstack.Bounds in a form the YAML decoder can populate
// without importing internal/vstack, keeping this package dependency-free
// of the emulation core.
type Range struct {
	Min uint64  `yaml:"min"`
	Max *uint64 `yaml:"max"`
}

// File is the shape of a vstack.yaml config file.
type File struct {
	Wait       *uint64 `yaml:"wait"`
	CallsWait  *bool   `yaml:"calls_wait"`
	StackSize  *uint64 `yaml:"stack_size"`
	BlockSize  *uint64 `yaml:"block_size"`
	PatchRange *Range  `yaml:"patch_range"`
	WriteRange *Range  `yaml:"write_range"`
}

// Load reads and parses path. A missing file is not an error: Load returns
// a zero-value File, since every field is optional and defaults live with
// the CLI flags (spec.md §6).
func Load(path string) (File, error) {
	if path == "" {
		return File{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return File{}, nil
		}
		return File{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return File{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return f, nil
}
