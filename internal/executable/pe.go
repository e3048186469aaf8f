package executable

import (
	"bytes"
	"debug/pe"
	"encoding/binary"
	"fmt"
)

// loadPE parses a PE image using the standard library's debug/pe reader,
// the same way the ELF loader uses debug/elf: sections map to Segments,
// machine field maps to Arch.
func loadPE(data []byte, base *uint64) (Executable, error) {
	f, err := pe.NewFile(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("executable: open PE: %w", err)
	}

	arch, pointerSize, err := peArch(f.Machine)
	if err != nil {
		return nil, err
	}

	imageBase, err := peImageBase(f)
	if err != nil {
		return nil, err
	}
	if base != nil {
		imageBase = *base
	}

	var segments []Segment
	for _, sec := range f.Sections {
		vaddr := imageBase + uint64(sec.VirtualAddress)
		memSize := uint64(sec.VirtualSize)
		if memSize == 0 {
			memSize = uint64(sec.Size)
		}
		seg := Segment{
			Virtual:  Range{Lower: vaddr, Upper: vaddr + memSize},
			Physical: Range{Lower: uint64(sec.Offset), Upper: uint64(sec.Offset) + uint64(sec.Size)},
		}
		const (
			imageSCNMemExecute = 0x20000000
			imageSCNMemRead    = 0x40000000
			imageSCNMemWrite   = 0x80000000
		)
		if sec.Characteristics&imageSCNMemRead != 0 {
			seg.Flags |= FlagRead
		}
		if sec.Characteristics&imageSCNMemWrite != 0 {
			seg.Flags |= FlagWrite
		}
		if sec.Characteristics&imageSCNMemExecute != 0 {
			seg.Flags |= FlagExec
		}
		buf := make([]byte, memSize)
		raw, err := sec.Data()
		if err == nil {
			copy(buf, raw)
		}
		seg.Data = buf
		segments = append(segments, seg)
	}

	ex := &baseExecutable{
		pointerSize: pointerSize,
		byteOrder:   binary.LittleEndian,
		arch:        arch,
		segments:    segments,
		data:        data,
	}
	ex.space = computeSpace(segments)
	return ex, nil
}

func peArch(machine uint16) (Arch, int, error) {
	switch machine {
	case pe.IMAGE_FILE_MACHINE_I386:
		return ArchX86_32, 32, nil
	case pe.IMAGE_FILE_MACHINE_AMD64:
		return ArchX86_64, 64, nil
	case pe.IMAGE_FILE_MACHINE_ARM, pe.IMAGE_FILE_MACHINE_ARMNT:
		return ArchARM32, 32, nil
	case pe.IMAGE_FILE_MACHINE_ARM64:
		return ArchARM64, 64, nil
	default:
		return ArchUnknown, 0, fmt.Errorf("%w: PE machine 0x%x", ErrUnsupportedArch, machine)
	}
}

// peImageBase reads OptionalHeader.ImageBase without needing the caller to
// know whether the file is PE32 or PE32+.
func peImageBase(f *pe.File) (uint64, error) {
	switch oh := f.OptionalHeader.(type) {
	case *pe.OptionalHeader32:
		return uint64(oh.ImageBase), nil
	case *pe.OptionalHeader64:
		return oh.ImageBase, nil
	default:
		return 0, fmt.Errorf("executable: PE file has no optional header")
	}
}
