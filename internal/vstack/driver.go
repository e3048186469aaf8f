// Package vstack implements the emulation driver of spec.md §2-§9: for
// each caller-supplied entry point it sets up a synthetic stack and
// register state, emulates instructions recording every memory write into
// a coalescing interval set, halts on a wait/call-depth heuristic or a
// caller-supplied stop address, and harvests the final bytes of every
// recorded region that passes a size filter.
package vstack

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/zboralski/vstack/internal/archtab"
	"github.com/zboralski/vstack/internal/disasm"
	"github.com/zboralski/vstack/internal/executable"
	glog "github.com/zboralski/vstack/internal/log"
	"github.com/zboralski/vstack/internal/trace"
)

// Options is the external parameter table of spec.md §6.
type Options struct {
	Addresses  []uint64
	Stop       *uint64
	Base       *uint64
	PatchRange Bounds
	WriteRange Bounds
	Wait       uint64
	CallsWait  bool
	StackSize  uint64
	BlockSize  uint64

	// OnEvent, if set, receives every trace event emitted across all
	// entry points (write/call/return/ceiling/halt/stop), tagged with
	// the run's session id (see Run's doc comment).
	OnEvent func(*trace.Event)
}

// DefaultOptions returns spec.md §6's documented defaults, with no
// addresses set (addresses are required and must be supplied by the
// caller).
func DefaultOptions() Options {
	return Options{
		PatchRange: DefaultPatchRange(),
		WriteRange: DefaultWriteRange(),
		Wait:       10,
		StackSize:  0x10000,
		BlockSize:  0x1000,
	}
}

// NewEmulatorFunc constructs a fresh, architecture-dispatched Emulator;
// internal/emu supplies the Unicorn-backed implementation used in
// production, and tests in this package supply a scripted fake.
type NewEmulatorFunc func(entry archtab.Entry) (Emulator, error)

// Run implements spec.md §4.4: for each entry point, in order, allocate a
// fresh emulator and EmuState, seed memory and registers, install the four
// hooks, run, and harvest the write tracker filtered by PatchRange. Entry
// points are processed strictly sequentially (spec.md §5); the emulator,
// its memory mappings, and the EmuState are single-use per entry point.
//
// Every call to Run is tagged with a fresh UUID session id, carried on the
// log lines Run and its hooks write via a category-scoped logger, and
// attached to Event.Session on every trace event delivered to
// Options.OnEvent, so that log aggregation can correlate events from
// concurrent CLI invocations. MapImage's segment warnings go through the
// global logger and do not carry the session id.
func Run(exe executable.Executable, opts Options, newEmulator NewEmulatorFunc) ([][]byte, error) {
	if len(opts.Addresses) == 0 {
		return nil, fmt.Errorf("vstack: at least one entry-point address is required")
	}

	sessionID := uuid.New().String()
	logger := glog.L
	if logger != nil {
		logger = logger.WithCategory("session").WithCategory(sessionID)
	}

	entry, err := archtab.Lookup(exe.Arch())
	if err != nil {
		return nil, err
	}
	decoder := disasm.New(entry.Disasm)
	width64 := exe.PointerSize() == 64

	space := exe.ImageDefinedAddressSpace()
	stackAddr, err := PlaceStack(opts.StackSize, space, exe.PointerSize())
	if err != nil {
		return nil, err
	}

	var out [][]byte

	for _, address := range opts.Addresses {
		regions, err := runOne(exe, opts, entry, decoder, width64, stackAddr, address, newEmulator, sessionID, logger)
		if err != nil {
			if logger != nil {
				logger.Warn("entry point aborted", glog.Ptr("addr", address))
			}
		}
		out = append(out, regions...)
	}

	return out, nil
}

func runOne(
	exe executable.Executable,
	opts Options,
	entry archtab.Entry,
	decoder disasm.Decoder,
	width64 bool,
	stackAddr, address uint64,
	newEmulator NewEmulatorFunc,
	sessionID string,
	logger *glog.Logger,
) ([][]byte, error) {
	emu, err := newEmulator(entry)
	if err != nil {
		return nil, err
	}
	defer func() {
		if c, ok := emu.(interface{ Close() error }); ok {
			_ = c.Close()
		}
	}()

	if err := emu.Map(stackAddr, 3*opts.StackSize); err != nil {
		return nil, fmt.Errorf("vstack: map stack: %w", err)
	}
	if entry.HasSP {
		if err := emu.RegWrite(entry.SPReg, stackAddr+2*opts.StackSize); err != nil {
			return nil, fmt.Errorf("vstack: set SP: %w", err)
		}
	}

	// x86-32/64 only: point every other GP register at mid-stack, so
	// scratch-register loads the compiler assumed were pre-initialized
	// don't fault (spec.md §4.4 step 4).
	seedGPRegisters(emu, exe.Arch(), stackAddr+opts.StackSize)

	if err := MapImage(emu, exe, opts.BlockSize, address); err != nil {
		return nil, err
	}

	state := NewEmuState(exe, address, opts.Stop, entry.SPReg, entry.HasSP)

	hooks := &hookSet{
		state:     state,
		opts:      opts,
		decoder:   decoder,
		width64:   width64,
		onEvent:   opts.OnEvent,
		sessionID: sessionID,
		logger:    logger,
	}
	emu.HookCode(hooks.codeHook)
	emu.HookMemWrite(hooks.memWriteHook)
	emu.HookInvalidInsn(hooks.invalidInsnHook)
	emu.HookInvalidMem(hooks.invalidMemHook)

	loc, ok := exe.LocationFromAddress(address)
	end := address + 1
	if ok {
		end = loc.Virtual.Upper
	}

	// Emulator runtime errors are swallowed (spec.md §7): whatever was
	// recorded so far is still harvested.
	_ = emu.Start(address, end)

	var regions [][]byte
	for _, r := range state.Writes.Regions() {
		if !opts.PatchRange.Contains(r.Size) {
			ev := trace.NewEvent(r.Begin, string(trace.Filtered), "", "")
			ev.Annotate("size", fmt.Sprintf("%d", r.Size))
			hooks.emit(ev)
			continue
		}
		data, err := emu.MemRead(r.Begin, r.Size)
		if err != nil {
			continue
		}
		regions = append(regions, data)
	}

	return regions, nil
}

func seedGPRegisters(emu Emulator, arch executable.Arch, value uint64) {
	var regs []int
	switch arch {
	case executable.ArchX86_32:
		regs = x86_32ScratchRegs()
	case executable.ArchX86_64:
		regs = x86_64ScratchRegs()
	default:
		return
	}
	for _, reg := range regs {
		_ = emu.RegWrite(reg, value)
	}
}
