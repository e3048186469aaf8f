package executable

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"testing"
)

// buildELF64 assembles a minimal little-endian ELF64 executable: one
// PT_LOAD program header covering a small code blob, entry point at the
// start of that segment. It uses debug/elf's own wire-format structs so the
// byte layout matches exactly what elf.NewFile expects to decode.
func buildELF64(t *testing.T, vaddr uint64, code []byte) []byte {
	t.Helper()

	const ehsize = 64
	const phentsize = 56
	phoff := uint64(ehsize)
	dataOff := phoff + phentsize

	var buf bytes.Buffer

	var ident [16]byte
	ident[0], ident[1], ident[2], ident[3] = 0x7f, 'E', 'L', 'F'
	ident[elf.EI_CLASS] = byte(elf.ELFCLASS64)
	ident[elf.EI_DATA] = byte(elf.ELFDATA2LSB)
	ident[elf.EI_VERSION] = byte(elf.EV_CURRENT)

	hdr := elf.Header64{
		Ident:     ident,
		Type:      uint16(elf.ET_EXEC),
		Machine:   uint16(elf.EM_X86_64),
		Version:   uint32(elf.EV_CURRENT),
		Entry:     vaddr,
		Phoff:     phoff,
		Shoff:     0,
		Flags:     0,
		Ehsize:    ehsize,
		Phentsize: phentsize,
		Phnum:     1,
		Shentsize: 0,
		Shnum:     0,
		Shstrndx:  0,
	}
	if err := binary.Write(&buf, binary.LittleEndian, hdr); err != nil {
		t.Fatalf("writing ELF header: %v", err)
	}

	prog := elf.Prog64{
		Type:   uint32(elf.PT_LOAD),
		Flags:  uint32(elf.PF_R | elf.PF_X),
		Off:    dataOff,
		Vaddr:  vaddr,
		Paddr:  vaddr,
		Filesz: uint64(len(code)),
		Memsz:  uint64(len(code)),
		Align:  0x1000,
	}
	if err := binary.Write(&buf, binary.LittleEndian, prog); err != nil {
		t.Fatalf("writing program header: %v", err)
	}

	buf.Write(code)
	return buf.Bytes()
}

func TestLoadELFMapsSegmentAndArch(t *testing.T) {
	code := []byte{0x90, 0x90, 0xc3} // nop; nop; ret
	data := buildELF64(t, 0x400000, code)

	ex, err := Load(data, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if ex.Arch() != ArchX86_64 {
		t.Errorf("Arch() = %v, want ArchX86_64", ex.Arch())
	}
	if ex.PointerSize() != 64 {
		t.Errorf("PointerSize() = %d, want 64", ex.PointerSize())
	}

	segs := ex.Segments()
	if len(segs) != 1 {
		t.Fatalf("expected 1 segment, got %d", len(segs))
	}
	seg := segs[0]
	if seg.Virtual.Lower != 0x400000 {
		t.Errorf("segment lower = 0x%x, want 0x400000", seg.Virtual.Lower)
	}
	if seg.Flags&FlagExec == 0 || seg.Flags&FlagWrite != 0 {
		t.Errorf("expected R-X flags, got %x", seg.Flags)
	}
	if !bytes.Equal(seg.Data, code) {
		t.Errorf("segment data = %x, want %x", seg.Data, code)
	}

	loc, ok := ex.LocationFromAddress(0x400001)
	if !ok {
		t.Fatal("expected LocationFromAddress to resolve an in-segment address")
	}
	// The segment's bytes start at file offset 120 (64-byte ELF header plus
	// one 56-byte program header), so vaddr+1 resolves to offset 121.
	if loc.Physical.Position != 121 {
		t.Errorf("resolved physical position = %d, want 121", loc.Physical.Position)
	}
}

func TestLoadELFRebasesLowVaddr(t *testing.T) {
	// A PT_LOAD vaddr under 0x10000 triggers the loader's relocation
	// heuristic (mirrors position-independent / zero-based images).
	data := buildELF64(t, 0, []byte{0x90})

	ex, err := Load(data, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	segs := ex.Segments()
	if len(segs) != 1 {
		t.Fatalf("expected 1 segment, got %d", len(segs))
	}
	if segs[0].Virtual.Lower != 0x400000 {
		t.Errorf("expected rebased vaddr 0x400000, got 0x%x", segs[0].Virtual.Lower)
	}
}

func TestLoadELFHonorsExplicitBase(t *testing.T) {
	data := buildELF64(t, 0x1000, []byte{0x90})

	base := uint64(0x555000000000)
	ex, err := Load(data, &base)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := ex.Segments()[0].Virtual.Lower; got != base {
		t.Errorf("segment lower = 0x%x, want explicit base 0x%x", got, base)
	}
}

func TestElfArchUnsupportedMachine(t *testing.T) {
	if _, _, err := elfArch(elf.EM_S390, elf.ELFCLASS64); err == nil {
		t.Fatal("expected an error for an unsupported machine")
	}
}

func TestElfArchMIPSClassDistinguishes32From64(t *testing.T) {
	arch, bits, err := elfArch(elf.EM_MIPS, elf.ELFCLASS32)
	if err != nil || arch != ArchMIPS32 || bits != 32 {
		t.Errorf("EM_MIPS/ELFCLASS32 = (%v,%d,%v), want (ArchMIPS32,32,nil)", arch, bits, err)
	}
	arch, bits, err = elfArch(elf.EM_MIPS, elf.ELFCLASS64)
	if err != nil || arch != ArchMIPS64 || bits != 64 {
		t.Errorf("EM_MIPS/ELFCLASS64 = (%v,%d,%v), want (ArchMIPS64,64,nil)", arch, bits, err)
	}
}
