// Package archtab maps a loader-reported architecture to the emulator and
// disassembler backend identifiers, and to the stack-pointer register. The
// tables are deliberately flat switches over executable.Arch rather than
// polymorphic types, because the entries are data (spec.md, Design Notes:
// "Architecture dispatch... implementations should keep this shape... data,
// not class hierarchies").
package archtab

import (
	"fmt"

	uc "github.com/unicorn-engine/unicorn/bindings/go/unicorn"

	"github.com/zboralski/vstack/internal/executable"
)

// Entry is the per-architecture dispatch row: which Unicorn arch/mode pair
// emulates it, which register is the stack pointer (hasSP is false for the
// architectures spec.md §6 lists with "no SP init"), and which disassembler
// backend (see internal/disasm) decodes it for logging.
type Entry struct {
	UCArch int
	UCMode int
	SPReg  int
	HasSP  bool
	Disasm DisasmKind
}

// DisasmKind names which per-architecture decoder internal/disasm should
// use; kept here rather than in internal/disasm so the whole dispatch table
// lives in one place.
type DisasmKind int

const (
	DisasmX86 DisasmKind = iota
	DisasmARM
	DisasmARM64
	DisasmPPC64
	DisasmRaw // no real decoder exists in the example corpus; see internal/disasm
)

// Lookup returns the dispatch row for arch. The ARM-64 entry deliberately
// dispatches to Unicorn's 32-bit ARM architecture in THUMB mode, matching
// the source tool this was translated from verbatim (spec.md §9, "Open
// question — ARM32 vs ARM64 modes"): its arch/mode table maps ARM64 to
// (UC_ARCH_ARM, UC_MODE_THUMB), not UC_ARCH_ARM64, almost certainly because
// THUMB is a 32-bit-only mode and whoever wrote the table reused the ARM32
// row. It is preserved here as observed behavior rather than silently
// "fixed" to UC_ARCH_ARM64, which Unicorn rejects when paired with THUMB.
//
// This is implemented as a function, not a map literal, which resolves
// spec.md's second open question ("duplicated ARM-32 entry"): a function
// has exactly one return value per input and cannot carry a dead second
// entry the way the original table's data structure could.
func Lookup(arch executable.Arch) (Entry, error) {
	switch arch {
	case executable.ArchX86_32:
		return Entry{UCArch: uc.ARCH_X86, UCMode: uc.MODE_32, SPReg: uc.X86_REG_ESP, HasSP: true, Disasm: DisasmX86}, nil
	case executable.ArchX86_64:
		return Entry{UCArch: uc.ARCH_X86, UCMode: uc.MODE_64, SPReg: uc.X86_REG_RSP, HasSP: true, Disasm: DisasmX86}, nil
	case executable.ArchARM32:
		return Entry{UCArch: uc.ARCH_ARM, UCMode: uc.MODE_ARM, SPReg: uc.ARM_REG_SP, HasSP: true, Disasm: DisasmARM}, nil
	case executable.ArchARM64:
		return Entry{UCArch: uc.ARCH_ARM, UCMode: uc.MODE_THUMB, SPReg: uc.ARM_REG_SP, HasSP: true, Disasm: DisasmARM64}, nil
	case executable.ArchMIPS16:
		return Entry{UCArch: uc.ARCH_MIPS, UCMode: uc.MODE_16, SPReg: uc.MIPS_REG_SP, HasSP: true, Disasm: DisasmRaw}, nil
	case executable.ArchMIPS32:
		return Entry{UCArch: uc.ARCH_MIPS, UCMode: uc.MODE_32, SPReg: uc.MIPS_REG_SP, HasSP: true, Disasm: DisasmRaw}, nil
	case executable.ArchMIPS64:
		return Entry{UCArch: uc.ARCH_MIPS, UCMode: uc.MODE_64, SPReg: uc.MIPS_REG_SP, HasSP: true, Disasm: DisasmRaw}, nil
	case executable.ArchPPC32:
		return Entry{UCArch: uc.ARCH_PPC, UCMode: uc.MODE_32, HasSP: false, Disasm: DisasmPPC64}, nil
	case executable.ArchPPC64:
		return Entry{UCArch: uc.ARCH_PPC, UCMode: uc.MODE_64, HasSP: false, Disasm: DisasmPPC64}, nil
	case executable.ArchSPARC32:
		return Entry{UCArch: uc.ARCH_SPARC, UCMode: uc.MODE_32, SPReg: uc.SPARC_REG_SP, HasSP: true, Disasm: DisasmRaw}, nil
	case executable.ArchSPARC64:
		return Entry{UCArch: uc.ARCH_SPARC, UCMode: uc.MODE_SPARC64, SPReg: uc.SPARC_REG_SP, HasSP: true, Disasm: DisasmRaw}, nil
	default:
		return Entry{}, fmt.Errorf("archtab: unsupported architecture %v", arch)
	}
}
