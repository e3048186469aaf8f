package vstack

// Emulator is the CPU-emulator collaborator spec.md §6 specifies: map
// memory, write bytes and registers, run, and install the four hook
// classes. internal/emu supplies the Unicorn-backed implementation; tests
// in this package use a small scripted fake so the hook logic in hooks.go
// can be exercised without linking Unicorn into the test binary.
type Emulator interface {
	Map(addr, size uint64) error
	Write(addr uint64, data []byte) error
	RegWrite(reg int, value uint64) error
	RegRead(reg int) (uint64, error)
	MemRead(addr, size uint64) ([]byte, error)
	Start(begin, end uint64) error
	Stop()

	HookCode(fn CodeHookFunc)
	HookMemWrite(fn MemWriteHookFunc)
	HookInvalidInsn(fn InvalidInsnHookFunc)
	HookInvalidMem(fn InvalidMemHookFunc)
}

// CodeHookFunc runs before each instruction executes (spec.md §4.5).
type CodeHookFunc func(emu Emulator, addr uint64, size uint32)

// MemWriteHookFunc runs on every memory write (spec.md §4.6).
type MemWriteHookFunc func(emu Emulator, addr uint64, size uint32, value int64)

// InvalidInsnHookFunc runs when the CPU hits an undecodable/illegal
// instruction (spec.md §4.7). Returning false tells the emulator emulation
// should not continue.
type InvalidInsnHookFunc func(emu Emulator) bool

// InvalidMemHookFunc runs on an unmapped-memory access (spec.md §4.8).
// Returning true tells the emulator to retry the access.
type InvalidMemHookFunc func(emu Emulator, addr uint64, size uint32, value int64) bool
