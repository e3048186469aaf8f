// Package filter runs an optional user-supplied JavaScript post-processing
// stage over harvested stack-string regions, using goja so the CLI can
// ship this without shelling out to a real JS runtime.
package filter

import (
	"fmt"

	"github.com/dop251/goja"
)

// Script wraps a compiled filter program. The script may define either or
// both of:
//
//	function keep(bytes)      -> bool   // false drops the region entirely
//	function transform(bytes) -> bytes  // replaces the region's contents
//
// bytes is exposed to the script as a plain array of integers 0-255, and a
// transform result is read back the same way: goja's ExportTo yields an
// []int, which is then truncated element by element to a Go []byte.
type Script struct {
	vm        *goja.Runtime
	keepFn    goja.Callable
	transform goja.Callable
}

// Compile parses source and resolves its keep/transform entry points.
// Either may be absent: a missing keep always keeps, a missing transform
// never changes the bytes.
func Compile(source string) (*Script, error) {
	vm := goja.New()
	if _, err := vm.RunString(source); err != nil {
		return nil, fmt.Errorf("filter: compile: %w", err)
	}

	s := &Script{vm: vm}
	if fn, ok := goja.AssertFunction(vm.Get("keep")); ok {
		s.keepFn = fn
	}
	if fn, ok := goja.AssertFunction(vm.Get("transform")); ok {
		s.transform = fn
	}
	return s, nil
}

// Apply runs keep then transform over region, returning ok=false if keep
// rejected it.
func (s *Script) Apply(region []byte) (out []byte, ok bool, err error) {
	if s.keepFn != nil {
		v, err := s.keepFn(goja.Undefined(), s.vm.ToValue(toInts(region)))
		if err != nil {
			return nil, false, fmt.Errorf("filter: keep: %w", err)
		}
		if !v.ToBoolean() {
			return nil, false, nil
		}
	}

	if s.transform == nil {
		return region, true, nil
	}

	v, err := s.transform(goja.Undefined(), s.vm.ToValue(toInts(region)))
	if err != nil {
		return nil, false, fmt.Errorf("filter: transform: %w", err)
	}
	var ints []int
	if err := s.vm.ExportTo(v, &ints); err != nil {
		return nil, false, fmt.Errorf("filter: transform result: %w", err)
	}
	return fromInts(ints), true, nil
}

func toInts(b []byte) []int {
	out := make([]int, len(b))
	for i, v := range b {
		out[i] = int(v)
	}
	return out
}

func fromInts(ints []int) []byte {
	out := make([]byte, len(ints))
	for i, v := range ints {
		out[i] = byte(v)
	}
	return out
}
