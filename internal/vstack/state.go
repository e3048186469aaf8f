package vstack

import "github.com/zboralski/vstack/internal/executable"

// EmuState is the per-entry-point bookkeeping spec.md §3 describes. One is
// created immediately before the emulator starts and discarded once its
// writes have been harvested (§3 "Lifecycle").
type EmuState struct {
	Executable executable.Executable
	Writes     *WriteTracker

	// Address is the address the driver expects to execute next (seeded
	// to the entry point); used to detect branches and the "pushed a
	// return address but fell through" idiom (§4.5, §4.6).
	Address uint64
	// PreviousAddress is the last address actually executed, kept only
	// for log formatting.
	PreviousAddress uint64
	// Waiting counts consecutive executed instructions that did not
	// issue a qualifying write; reset to zero by one.
	Waiting uint64
	// Callstack is the shadow stack of return-address values observed
	// being pushed.
	Callstack []uint64
	// RetAddr holds the most recent value written that equalled Address
	// at the time of the write (a probable return-address push), or is
	// nil if the previous write was not such a push.
	RetAddr *uint64
	// StackCeiling marks the top of the outermost tracked call's frame;
	// zero when not inside any tracked call.
	StackCeiling uint64
	// Stop is an optional halt address.
	Stop *uint64
	// SPRegister is the architecture-specific stack-pointer register id.
	SPRegister int
	// HasSPRegister is false for architectures spec.md §6 lists with "no
	// SP init" (PowerPC).
	HasSPRegister bool
}

// NewEmuState seeds a fresh state for one entry point.
func NewEmuState(exe executable.Executable, entry uint64, stop *uint64, spReg int, hasSP bool) *EmuState {
	return &EmuState{
		Executable:    exe,
		Writes:        NewWriteTracker(),
		Address:       entry,
		Stop:          stop,
		SPRegister:    spReg,
		HasSPRegister: hasSP,
	}
}

// Depth returns the current shadow call-stack depth.
func (s *EmuState) Depth() int {
	return len(s.Callstack)
}

func (s *EmuState) pushCall(addr uint64) {
	s.Callstack = append(s.Callstack, addr)
}

func (s *EmuState) popCall() (uint64, bool) {
	n := len(s.Callstack)
	if n == 0 {
		return 0, false
	}
	addr := s.Callstack[n-1]
	s.Callstack = s.Callstack[:n-1]
	return addr, true
}

func (s *EmuState) topCall() (uint64, bool) {
	n := len(s.Callstack)
	if n == 0 {
		return 0, false
	}
	return s.Callstack[n-1], true
}
