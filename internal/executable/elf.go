package executable

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"fmt"
)

// loadELF parses an ELF image, generalizing the teacher's ARM64-only
// segment-mapping walk (formerly internal/emulator/elf.go's LoadELFAt) to
// every architecture the driver's archtab knows about.
func loadELF(data []byte, base *uint64) (Executable, error) {
	f, err := elf.NewFile(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("executable: open ELF: %w", err)
	}

	arch, pointerSize, err := elfArch(f.Machine, f.Class)
	if err != nil {
		return nil, err
	}

	order := binary.ByteOrder(binary.LittleEndian)
	if f.Data == elf.ELFDATA2MSB {
		order = binary.BigEndian
	}

	fileBase := ^uint64(0)
	for _, prog := range f.Progs {
		if prog.Type != elf.PT_LOAD {
			continue
		}
		if prog.Vaddr < fileBase {
			fileBase = prog.Vaddr
		}
	}
	if fileBase == ^uint64(0) {
		return nil, fmt.Errorf("executable: ELF has no PT_LOAD segments")
	}

	var relocOffset uint64
	if base != nil {
		relocOffset = *base - fileBase
	} else if fileBase < 0x10000 {
		relocOffset = 0x400000 - fileBase
	}

	var segments []Segment
	for _, prog := range f.Progs {
		if prog.Type != elf.PT_LOAD {
			continue
		}
		vaddr := prog.Vaddr + relocOffset
		seg := Segment{
			Virtual:  Range{Lower: vaddr, Upper: vaddr + prog.Memsz},
			Physical: Range{Lower: prog.Off, Upper: prog.Off + prog.Filesz},
		}
		if prog.Flags&elf.PF_R != 0 {
			seg.Flags |= FlagRead
		}
		if prog.Flags&elf.PF_W != 0 {
			seg.Flags |= FlagWrite
		}
		if prog.Flags&elf.PF_X != 0 {
			seg.Flags |= FlagExec
		}
		buf := make([]byte, prog.Memsz)
		if prog.Off+prog.Filesz <= uint64(len(data)) {
			copy(buf, data[prog.Off:prog.Off+prog.Filesz])
		}
		seg.Data = buf
		segments = append(segments, seg)
	}

	ex := &baseExecutable{
		pointerSize: pointerSize,
		byteOrder:   order,
		arch:        arch,
		segments:    segments,
		data:        data,
	}
	ex.space = computeSpace(segments)
	return ex, nil
}

func elfArch(machine elf.Machine, class elf.Class) (Arch, int, error) {
	switch machine {
	case elf.EM_386:
		return ArchX86_32, 32, nil
	case elf.EM_X86_64:
		return ArchX86_64, 64, nil
	case elf.EM_ARM:
		return ArchARM32, 32, nil
	case elf.EM_AARCH64:
		return ArchARM64, 64, nil
	case elf.EM_MIPS:
		if class == elf.ELFCLASS64 {
			return ArchMIPS64, 64, nil
		}
		return ArchMIPS32, 32, nil
	case elf.EM_PPC:
		return ArchPPC32, 32, nil
	case elf.EM_PPC64:
		return ArchPPC64, 64, nil
	case elf.EM_SPARC, elf.EM_SPARC32PLUS:
		return ArchSPARC32, 32, nil
	case elf.EM_SPARCV9:
		return ArchSPARC64, 64, nil
	default:
		return ArchUnknown, 0, fmt.Errorf("%w: ELF machine %v", ErrUnsupportedArch, machine)
	}
}
