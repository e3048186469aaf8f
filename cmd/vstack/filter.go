package main

import (
	"fmt"
	"os"

	"github.com/zboralski/vstack/internal/filter"
)

// filterHandle adapts internal/filter.Script to this package's call sites.
type filterHandle struct {
	script *filter.Script
}

func loadFilter(path string) (*filterHandle, error) {
	source, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read filter script %s: %w", path, err)
	}
	script, err := filter.Compile(string(source))
	if err != nil {
		return nil, err
	}
	return &filterHandle{script: script}, nil
}

func (f *filterHandle) Apply(region []byte) ([]byte, bool, error) {
	return f.script.Apply(region)
}
