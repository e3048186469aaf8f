// Package disasm decodes a single instruction for debug logging. It is not
// on the correctness path: spec.md only uses the result to format a trace
// line and, for genuinely malformed encodings, to halt emulation (see
// rawDecoder's doc comment below).
package disasm

import (
	"fmt"

	"golang.org/x/arch/arm/armasm"
	"golang.org/x/arch/arm64/arm64asm"
	"golang.org/x/arch/ppc64/ppc64asm"
	"golang.org/x/arch/x86/x86asm"

	"github.com/zboralski/vstack/internal/archtab"
)

// Decoder decodes one instruction at addr from code, returning its
// formatted mnemonic+operands text, and ok=false if the bytes could not be
// decoded at all (spec.md §4.5 step 7: this is the one case that halts
// emulation outside of the wait/stop heuristics).
type Decoder interface {
	DecodeOne(code []byte, addr uint64, width64 bool) (text string, ok bool)
}

// New returns the decoder for the given dispatch kind from internal/archtab.
func New(kind archtab.DisasmKind) Decoder {
	switch kind {
	case archtab.DisasmX86:
		return x86Decoder{}
	case archtab.DisasmARM:
		return armDecoder{}
	case archtab.DisasmARM64:
		return arm64Decoder{}
	case archtab.DisasmPPC64:
		return ppc64Decoder{}
	default:
		return rawDecoder{}
	}
}

type x86Decoder struct{}

func (x86Decoder) DecodeOne(code []byte, addr uint64, width64 bool) (string, bool) {
	mode := 32
	if width64 {
		mode = 64
	}
	inst, err := x86asm.Decode(code, mode)
	if err != nil {
		return "", false
	}
	return x86asm.GNUSyntax(inst, addr, nil), true
}

type armDecoder struct{}

func (armDecoder) DecodeOne(code []byte, addr uint64, _ bool) (string, bool) {
	inst, err := armasm.Decode(code, armasm.ModeARM)
	if err != nil {
		return "", false
	}
	return inst.String(), true
}

type arm64Decoder struct{}

func (arm64Decoder) DecodeOne(code []byte, addr uint64, _ bool) (string, bool) {
	inst, err := arm64asm.Decode(code)
	if err != nil {
		return "", false
	}
	return inst.String(), true
}

type ppc64Decoder struct{}

func (ppc64Decoder) DecodeOne(code []byte, addr uint64, _ bool) (string, bool) {
	inst, err := ppc64asm.Decode(code, ppc64asm.ModePPC64)
	if err != nil {
		return "", false
	}
	return inst.String(), true
}

// rawDecoder backs MIPS-16/32/64 and SPARC-32/64: the example corpus'
// disassembly ecosystem (golang.org/x/arch) ships no decoder for either
// family. Returning ok=false here would make every single instruction on
// those five architectures look like an invalid encoding and halt
// emulation on the first instruction, which is an ecosystem gap standing
// in for a genuine invalid-instruction condition spec.md never intended.
// Instead this always succeeds with a raw hex placeholder; see DESIGN.md.
type rawDecoder struct{}

func (rawDecoder) DecodeOne(code []byte, _ uint64, _ bool) (string, bool) {
	n := len(code)
	if n > 4 {
		n = 4
	}
	return fmt.Sprintf("(data) % x", code[:n]), true
}
