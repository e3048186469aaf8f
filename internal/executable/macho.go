package executable

import (
	"bytes"
	"debug/macho"
	"encoding/binary"
	"fmt"
	"io"
)

// loadMachO parses a Mach-O image using debug/macho, mapping __TEXT/__DATA
// style segment load commands to Segments. Fat/universal binaries are not
// split here; the driver operates on a single architecture slice, so a fat
// binary is expected to have been thinned by the caller before Load is
// invoked (matching spec.md's "Executable loader" collaborator contract,
// which takes a single architecture image).
func loadMachO(data []byte, base *uint64) (Executable, error) {
	f, err := macho.NewFile(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("executable: open Mach-O: %w", err)
	}

	arch, pointerSize, err := machoArch(f.Cpu)
	if err != nil {
		return nil, err
	}

	order := binary.ByteOrder(binary.LittleEndian)
	if f.ByteOrder == binary.BigEndian {
		order = binary.BigEndian
	}

	var segments []Segment
	for _, load := range f.Loads {
		seg, ok := load.(*macho.Segment)
		if !ok {
			continue
		}
		vaddr := seg.Addr
		if base != nil {
			vaddr += *base
		}
		s := Segment{
			Virtual:  Range{Lower: vaddr, Upper: vaddr + seg.Memsz},
			Physical: Range{Lower: seg.Offset, Upper: seg.Offset + seg.Filesz},
		}
		const (
			vmProtRead    = 0x1
			vmProtWrite   = 0x2
			vmProtExecute = 0x4
		)
		if seg.Prot&vmProtRead != 0 {
			s.Flags |= FlagRead
		}
		if seg.Prot&vmProtWrite != 0 {
			s.Flags |= FlagWrite
		}
		if seg.Prot&vmProtExecute != 0 {
			s.Flags |= FlagExec
		}
		buf := make([]byte, seg.Memsz)
		raw := make([]byte, seg.Filesz)
		_, _ = io.ReadFull(seg.Open(), raw)
		copy(buf, raw)
		s.Data = buf
		segments = append(segments, s)
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

func machoArch(cpu macho.Cpu) (Arch, int, error) {
	switch cpu {
	case macho.Cpu386:
		return ArchX86_32, 32, nil
	case macho.CpuAmd64:
		return ArchX86_64, 64, nil
	case macho.CpuArm:
		return ArchARM32, 32, nil
	case macho.CpuArm64:
		return ArchARM64, 64, nil
	default:
		return ArchUnknown, 0, fmt.Errorf("%w: Mach-O cpu %v", ErrUnsupportedArch, cpu)
	}
}
