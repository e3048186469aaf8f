package vstack

import (
	"fmt"

	"github.com/zboralski/vstack/internal/disasm"
	glog "github.com/zboralski/vstack/internal/log"
	"github.com/zboralski/vstack/internal/trace"
)

// hookSet closes over one EmuState and the run's Options, implementing the
// four hook classes of spec.md §4.5-§4.8.
type hookSet struct {
	state     *EmuState
	opts      Options
	decoder   disasm.Decoder
	width64   bool
	onEvent   func(*trace.Event)
	stopped   bool
	sessionID string
	logger    *glog.Logger
}

// codeHook runs before each instruction executes (spec.md §4.5).
func (h *hookSet) codeHook(emu Emulator, pc uint64, size uint32) {
	if h.stopped {
		return
	}
	s := h.state

	if s.Stop != nil && pc == *s.Stop {
		emu.Stop()
		h.stopped = true
		h.emit(trace.NewEvent(pc, string(trace.Stop), "", ""))
		return
	}

	s.PreviousAddress = s.Address

	if pc != s.Address {
		if top, ok := s.topCall(); ok && pc == top {
			s.popCall()
			if s.Depth() == 0 {
				s.StackCeiling = 0
			}
			h.emit(trace.NewEvent(pc, string(trace.Return), "", ""))
		}
		s.Address = pc
	} else if s.RetAddr != nil {
		// The previous instruction stored the fall-through address but
		// we did not branch: not a real call, commonly a "get current
		// IP" idiom (spec.md §4.5 step 3).
		s.popCall()
		s.RetAddr = nil
	}

	if s.Waiting > h.opts.Wait {
		emu.Stop()
		h.stopped = true
		h.emit(trace.NewEvent(pc, string(trace.Halt), "", "wait exceeded"))
		return
	}

	if s.Depth() == 0 || !h.opts.CallsWait {
		s.Waiting++
	}

	s.Address = pc + uint64(size)

	code, err := emu.MemRead(pc, uint64(size))
	if err != nil {
		emu.Stop()
		h.stopped = true
		return
	}
	if _, ok := h.decoder.DecodeOne(code, pc, h.width64); !ok {
		emu.Stop()
		h.stopped = true
		h.emit(trace.NewEvent(pc, string(trace.Halt), "", "undecodable instruction"))
	}
}

// memWriteHook runs on every memory write (spec.md §4.6).
func (h *hookSet) memWriteHook(emu Emulator, addr uint64, size uint32, value int64) {
	s := h.state
	mask := uint64(1)<<(8*uint(size)) - 1
	if size >= 8 {
		mask = ^uint64(0)
	}
	unsigned := uint64(value) & mask

	if unsigned == s.Address {
		if s.Depth() == 0 {
			if sp, err := emu.RegRead(s.SPRegister); err == nil {
				s.StackCeiling = sp
			}
		}
		ret := unsigned
		s.RetAddr = &ret
		s.pushCall(unsigned)
		h.emit(trace.NewEvent(addr, string(trace.Call), "", ""))
	} else {
		s.RetAddr = nil
	}

	if s.StackCeiling > 0 && addr >= s.StackCeiling-0x200 && addr < s.StackCeiling {
		h.emit(trace.NewEvent(addr, string(trace.Ceiling), "", ""))
		return
	}

	s.Waiting = 0

	if !h.opts.WriteRange.Contains(uint64(size)) {
		return
	}

	s.Writes.Add(addr, uint64(size))
	ev := trace.NewEvent(addr, string(trace.Write), "", "")
	ev.Annotate("size", fmt.Sprintf("%d", size))
	trace.DefaultEnricher(ev)
	h.emit(ev)
}

// invalidInsnHook runs on an undecodable/illegal instruction (spec.md §4.7).
func (h *hookSet) invalidInsnHook(emu Emulator) bool {
	logger := h.logger
	if logger == nil {
		logger = glog.L
	}
	if logger != nil {
		logger.Debug("invalid instruction, halting")
	}
	emu.Stop()
	h.stopped = true
	return false
}

// invalidMemHook does best-effort on-demand paging (spec.md §4.8).
func (h *hookSet) invalidMemHook(emu Emulator, addr uint64, _ uint32, _ int64) bool {
	bs := h.opts.BlockSize
	base := alignDown(bs, addr)
	if err := emu.Map(base, 2*bs); err != nil {
		return false
	}
	return true
}

func (h *hookSet) emit(e *trace.Event) {
	e.Session = h.sessionID
	if h.onEvent != nil {
		h.onEvent(e)
	}
}
