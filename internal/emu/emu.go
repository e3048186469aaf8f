// Package emu provides the Unicorn Engine-backed implementation of
// vstack.Emulator, dispatching to whichever Unicorn arch/mode pair
// internal/archtab resolved for the target image's architecture.
package emu

import (
	"fmt"

	uc "github.com/unicorn-engine/unicorn/bindings/go/unicorn"

	"github.com/zboralski/vstack/internal/archtab"
	"github.com/zboralski/vstack/internal/vstack"
)

// Unicorn wraps a single Unicorn Engine instance configured for one
// archtab.Entry. It satisfies vstack.Emulator.
type Unicorn struct {
	mu uc.Unicorn
}

// New creates a fresh Unicorn instance for entry's architecture and mode.
// Unused by tests in internal/vstack, which exercise hooks.go against a
// scripted fake instead of linking Unicorn into the test binary.
func New(entry archtab.Entry) (vstack.Emulator, error) {
	mu, err := uc.NewUnicorn(entry.UCArch, entry.UCMode)
	if err != nil {
		return nil, fmt.Errorf("emu: create unicorn: %w", err)
	}
	return &Unicorn{mu: mu}, nil
}

// NewFunc adapts New to vstack.NewEmulatorFunc.
func NewFunc() vstack.NewEmulatorFunc {
	return New
}

func (u *Unicorn) Map(addr, size uint64) error {
	return u.mu.MemMap(addr, size)
}

func (u *Unicorn) Write(addr uint64, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	return u.mu.MemWrite(addr, data)
}

func (u *Unicorn) RegWrite(reg int, value uint64) error {
	return u.mu.RegWrite(reg, value)
}

func (u *Unicorn) RegRead(reg int) (uint64, error) {
	return u.mu.RegRead(reg)
}

func (u *Unicorn) MemRead(addr, size uint64) ([]byte, error) {
	return u.mu.MemRead(addr, size)
}

func (u *Unicorn) Start(begin, end uint64) error {
	return u.mu.Start(begin, end)
}

func (u *Unicorn) Stop() {
	_ = u.mu.Stop()
}

// Close releases the underlying Unicorn context. Callers that obtained
// this value through vstack.Emulator can reach it via an interface
// assertion to `interface{ Close() error }`, which driver.go's runOne
// does after every entry point.
func (u *Unicorn) Close() error {
	return u.mu.Close()
}

func (u *Unicorn) HookCode(fn vstack.CodeHookFunc) {
	_, _ = u.mu.HookAdd(uc.HOOK_CODE, func(mu uc.Unicorn, addr uint64, size uint32) {
		fn(u, addr, size)
	}, 1, 0)
}

func (u *Unicorn) HookMemWrite(fn vstack.MemWriteHookFunc) {
	_, _ = u.mu.HookAdd(uc.HOOK_MEM_WRITE, func(mu uc.Unicorn, access int, addr uint64, size int, value int64) {
		fn(u, addr, uint32(size), value)
	}, 1, 0)
}

func (u *Unicorn) HookInvalidInsn(fn vstack.InvalidInsnHookFunc) {
	_, _ = u.mu.HookAdd(uc.HOOK_INSN_INVALID, func(mu uc.Unicorn) bool {
		return fn(u)
	}, 1, 0)
}

func (u *Unicorn) HookInvalidMem(fn vstack.InvalidMemHookFunc) {
	_, _ = u.mu.HookAdd(uc.HOOK_MEM_INVALID, func(mu uc.Unicorn, access int, addr uint64, size int, value int64) bool {
		return fn(u, addr, uint32(size), value)
	}, 1, 0)
}
