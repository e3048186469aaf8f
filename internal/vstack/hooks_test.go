package vstack

import (
	"testing"

	"github.com/zboralski/vstack/internal/archtab"
	"github.com/zboralski/vstack/internal/disasm"
	"github.com/zboralski/vstack/internal/trace"
)

// fakeEmulator is a minimal in-memory stand-in for vstack.Emulator, letting
// hooks.go's logic be exercised without linking Unicorn into the test
// binary. Only the operations the hooks actually call are implemented.
type fakeEmulator struct {
	mem     map[uint64]byte
	regs    map[int]uint64
	stopped bool
	mapped  []struct{ addr, size uint64 }
}

func newFakeEmulator() *fakeEmulator {
	return &fakeEmulator{mem: make(map[uint64]byte), regs: make(map[int]uint64)}
}

func (f *fakeEmulator) Map(addr, size uint64) error {
	f.mapped = append(f.mapped, struct{ addr, size uint64 }{addr, size})
	return nil
}

func (f *fakeEmulator) Write(addr uint64, data []byte) error {
	for i, b := range data {
		f.mem[addr+uint64(i)] = b
	}
	return nil
}

func (f *fakeEmulator) RegWrite(reg int, value uint64) error {
	f.regs[reg] = value
	return nil
}

func (f *fakeEmulator) RegRead(reg int) (uint64, error) {
	return f.regs[reg], nil
}

func (f *fakeEmulator) MemRead(addr, size uint64) ([]byte, error) {
	out := make([]byte, size)
	for i := range out {
		out[i] = f.mem[addr+uint64(i)]
	}
	return out, nil
}

func (f *fakeEmulator) Start(begin, end uint64) error { return nil }
func (f *fakeEmulator) Stop()                         { f.stopped = true }

func (f *fakeEmulator) HookCode(fn CodeHookFunc)               {}
func (f *fakeEmulator) HookMemWrite(fn MemWriteHookFunc)       {}
func (f *fakeEmulator) HookInvalidInsn(fn InvalidInsnHookFunc) {}
func (f *fakeEmulator) HookInvalidMem(fn InvalidMemHookFunc)   {}

const spReg = 100

func TestMemWriteHookRecordsWrite(t *testing.T) {
	state := NewEmuState(nil, 0x1000, nil, spReg, true)
	hs := &hookSet{
		state: state,
		opts:  Options{Wait: 10, WriteRange: DefaultWriteRange()},
	}
	emu := newFakeEmulator()

	hs.memWriteHook(emu, 0x2000, 4, 0x41424344)

	regions := state.Writes.Regions()
	if len(regions) != 1 {
		t.Fatalf("expected 1 recorded write, got %d", len(regions))
	}
	if regions[0].Begin != 0x2000 || regions[0].Size != 4 {
		t.Fatalf("expected {0x2000,4}, got %+v", regions[0])
	}
}

func TestMemWriteHookDetectsCall(t *testing.T) {
	state := NewEmuState(nil, 0x1000, nil, spReg, true)
	hs := &hookSet{
		state: state,
		opts:  Options{Wait: 10, WriteRange: DefaultWriteRange()},
	}
	emu := newFakeEmulator()
	emu.regs[spReg] = 0x7000

	// A write whose value equals the next expected address (state.Address)
	// looks like a return-address push: a call.
	hs.memWriteHook(emu, 0x6ffc, 8, int64(state.Address))

	if state.Depth() != 1 {
		t.Fatalf("expected call depth 1 after a detected call, got %d", state.Depth())
	}
	if state.StackCeiling != 0x7000 {
		t.Fatalf("expected stack ceiling captured from SP (0x7000), got 0x%x", state.StackCeiling)
	}
}

func TestMemWriteHookSuppressesWritesBelowCeiling(t *testing.T) {
	state := NewEmuState(nil, 0x1000, nil, spReg, true)
	state.StackCeiling = 0x7000
	state.pushCall(0x1234)
	hs := &hookSet{
		state: state,
		opts:  Options{Wait: 10, WriteRange: DefaultWriteRange()},
	}
	emu := newFakeEmulator()

	// A write just below the ceiling (within the 0x200 suppression window)
	// must not be recorded and must not reset the wait counter.
	state.Waiting = 5
	hs.memWriteHook(emu, 0x6f00, 4, 0)

	if regions := state.Writes.Regions(); len(regions) != 0 {
		t.Fatalf("expected the suppressed write not to be recorded, got %+v", regions)
	}
	if state.Waiting != 5 {
		t.Fatalf("expected Waiting to remain unchanged at 5, got %d", state.Waiting)
	}
}

func TestMemWriteHookFiltersBySize(t *testing.T) {
	state := NewEmuState(nil, 0x1000, nil, spReg, true)
	hs := &hookSet{
		state: state,
		opts:  Options{Wait: 10, WriteRange: Bounds{Min: 2}},
	}
	emu := newFakeEmulator()

	hs.memWriteHook(emu, 0x2000, 1, 0) // below write_range minimum

	if regions := state.Writes.Regions(); len(regions) != 0 {
		t.Fatalf("expected a 1-byte write to be filtered out, got %+v", regions)
	}
}

func TestInvalidInsnHookStops(t *testing.T) {
	state := NewEmuState(nil, 0x1000, nil, spReg, true)
	hs := &hookSet{state: state}
	emu := newFakeEmulator()

	if cont := hs.invalidInsnHook(emu); cont {
		t.Error("expected invalidInsnHook to return false")
	}
	if !emu.stopped {
		t.Error("expected emulation to be stopped")
	}
	if !hs.stopped {
		t.Error("expected hookSet.stopped to be set")
	}
}

func TestInvalidMemHookMapsMissingPage(t *testing.T) {
	state := NewEmuState(nil, 0x1000, nil, spReg, true)
	hs := &hookSet{state: state, opts: Options{BlockSize: 0x1000}}
	emu := newFakeEmulator()

	ok := hs.invalidMemHook(emu, 0x12345, 4, 0)
	if !ok {
		t.Fatal("expected invalidMemHook to report the page as now mapped")
	}
	if len(emu.mapped) != 1 {
		t.Fatalf("expected exactly one Map call, got %d", len(emu.mapped))
	}
	if emu.mapped[0].addr != 0x12000 {
		t.Errorf("expected the mapped base to be page-aligned down to 0x12000, got 0x%x", emu.mapped[0].addr)
	}
}

func TestEmitCallsOnEvent(t *testing.T) {
	state := NewEmuState(nil, 0x1000, nil, spReg, true)
	var got *trace.Event
	hs := &hookSet{
		state:   state,
		opts:    Options{Wait: 10, WriteRange: DefaultWriteRange()},
		onEvent: func(e *trace.Event) { got = e },
	}
	emu := newFakeEmulator()

	hs.memWriteHook(emu, 0x2000, 4, 0)

	if got == nil {
		t.Fatal("expected onEvent to be called for a recorded write")
	}
	if got.Tags.Primary() != trace.Write {
		t.Errorf("expected primary tag %q, got %q", trace.Write, got.Tags.Primary())
	}
}

func TestMemWriteHookEmitsCeilingEvent(t *testing.T) {
	state := NewEmuState(nil, 0x1000, nil, spReg, true)
	state.StackCeiling = 0x7000
	state.pushCall(0x1234)
	var events []*trace.Event
	hs := &hookSet{
		state:   state,
		opts:    Options{Wait: 10, WriteRange: DefaultWriteRange()},
		onEvent: func(e *trace.Event) { events = append(events, e) },
	}
	emu := newFakeEmulator()

	// A write inside the suppression window below the ceiling must still
	// surface as a #ceiling event even though it is not recorded as a write.
	hs.memWriteHook(emu, 0x6f00, 4, 0)

	if len(events) != 1 || events[0].Tags.Primary() != trace.Ceiling {
		t.Fatalf("expected a single #ceiling event, got %+v", events)
	}
}

func TestEmitAttachesSessionID(t *testing.T) {
	state := NewEmuState(nil, 0x1000, nil, spReg, true)
	var got *trace.Event
	hs := &hookSet{
		state:     state,
		sessionID: "abc-123",
		onEvent:   func(e *trace.Event) { got = e },
	}

	hs.emit(trace.NewEvent(0x1000, string(trace.Stop), "", ""))

	if got == nil || got.Session != "abc-123" {
		t.Fatalf("expected the emitted event to carry the session id, got %+v", got)
	}
}

// rawDecoderForTest returns a decoder that decodes any byte sequence
// successfully, so codeHook tests can drive the shadow-stack/wait/stop
// logic without needing real machine code in fakeEmulator's memory.
func rawDecoderForTest() disasm.Decoder {
	return disasm.New(archtab.DisasmRaw)
}

func TestCodeHookHaltsOnWaitExceeded(t *testing.T) {
	state := NewEmuState(nil, 0x1000, nil, spReg, true)
	var events []*trace.Event
	hs := &hookSet{
		state:   state,
		opts:    Options{Wait: 3, WriteRange: DefaultWriteRange()},
		decoder: rawDecoderForTest(),
		onEvent: func(e *trace.Event) { events = append(events, e) },
	}
	emu := newFakeEmulator()

	pc := state.Address
	for i := 0; i < 10 && !hs.stopped; i++ {
		hs.codeHook(emu, pc, 4)
		pc += 4
	}

	if !hs.stopped {
		t.Fatal("expected codeHook to halt once Waiting exceeds Options.Wait")
	}
	if !emu.stopped {
		t.Fatal("expected the emulator to be stopped")
	}
	var sawHalt bool
	for _, e := range events {
		if e.Tags.Primary() == trace.Halt {
			sawHalt = true
		}
	}
	if !sawHalt {
		t.Fatal("expected a #halt trace event")
	}
}

func TestCodeHookFreezesWaitingInsideTrackedCall(t *testing.T) {
	state := NewEmuState(nil, 0x1000, nil, spReg, true)
	state.pushCall(0x9999) // inside a tracked call: depth 1
	hs := &hookSet{
		state:   state,
		opts:    Options{Wait: 2, CallsWait: true, WriteRange: DefaultWriteRange()},
		decoder: rawDecoderForTest(),
	}
	emu := newFakeEmulator()

	pc := state.Address
	for i := 0; i < 10; i++ {
		hs.codeHook(emu, pc, 4)
		pc += 4
	}

	if state.Waiting != 0 {
		t.Fatalf("expected Waiting to stay frozen at 0 while calls_wait holds and depth>0, got %d", state.Waiting)
	}
	if hs.stopped {
		t.Fatal("expected codeHook not to halt while Waiting is frozen by calls_wait")
	}
}

func TestCodeHookPopsFalseCallOnFallThrough(t *testing.T) {
	state := NewEmuState(nil, 0x1000, nil, spReg, true)
	hs := &hookSet{
		state:   state,
		opts:    Options{Wait: 10, WriteRange: DefaultWriteRange()},
		decoder: rawDecoderForTest(),
	}
	emu := newFakeEmulator()
	emu.regs[spReg] = 0x7000

	// Simulate the "get current IP" idiom: a call-like write followed by
	// execution falling straight through instead of branching to it.
	hs.memWriteHook(emu, 0x6ffc, 8, int64(state.Address))
	if state.Depth() != 1 {
		t.Fatalf("expected the write to be recorded as a tentative call, got depth %d", state.Depth())
	}

	hs.codeHook(emu, state.Address, 4)

	if state.Depth() != 0 {
		t.Fatalf("expected the false call to be popped on fall-through, got depth %d", state.Depth())
	}
	if state.RetAddr != nil {
		t.Fatal("expected RetAddr to be cleared after the false-call pop")
	}
}

func TestCodeHookEmitsReturnOnShadowStackPop(t *testing.T) {
	state := NewEmuState(nil, 0x5000, nil, spReg, true)
	state.Address = 0x5000
	state.pushCall(0x4000) // the shadow stack's top is the expected return address
	var events []*trace.Event
	hs := &hookSet{
		state:   state,
		opts:    Options{Wait: 10, WriteRange: DefaultWriteRange()},
		decoder: rawDecoderForTest(),
		onEvent: func(e *trace.Event) { events = append(events, e) },
	}
	emu := newFakeEmulator()

	// pc differs from the expected next address and matches the shadow
	// stack top: a genuine return branch.
	hs.codeHook(emu, 0x4000, 4)

	if state.Depth() != 0 {
		t.Fatalf("expected the matched return to pop the shadow stack, got depth %d", state.Depth())
	}
	var sawReturn bool
	for _, e := range events {
		if e.Tags.Primary() == trace.Return {
			sawReturn = true
		}
	}
	if !sawReturn {
		t.Fatal("expected a #return trace event on shadow-stack pop")
	}
}

func TestCodeHookStopsAtStopAddress(t *testing.T) {
	stop := uint64(0x2000)
	state := NewEmuState(nil, 0x1000, &stop, spReg, true)
	var events []*trace.Event
	hs := &hookSet{
		state:   state,
		opts:    Options{Wait: 10, WriteRange: DefaultWriteRange()},
		decoder: rawDecoderForTest(),
		onEvent: func(e *trace.Event) { events = append(events, e) },
	}
	emu := newFakeEmulator()

	hs.codeHook(emu, 0x2000, 4)

	if !hs.stopped {
		t.Fatal("expected codeHook to stop at the configured stop address")
	}
	if !emu.stopped {
		t.Fatal("expected the emulator to be stopped")
	}
	if len(events) != 1 || events[0].Tags.Primary() != trace.Stop {
		t.Fatalf("expected a single #stop event, got %+v", events)
	}
}
