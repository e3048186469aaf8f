package vstack

import (
	"fmt"

	"github.com/zboralski/vstack/internal/executable"
	glog "github.com/zboralski/vstack/internal/log"
)

// MapImage implements spec.md §4.2: map each loadable segment into
// emulator memory and write its file bytes. A failure mapping or writing
// a segment is fatal only if the entry address lies inside that segment;
// otherwise it is logged and skipped, since overlapping or malformed
// auxiliary segments should not block emulation of the targeted one.
func MapImage(emu Emulator, exe executable.Executable, blockSize, entry uint64) error {
	for _, seg := range exe.Segments() {
		size := alignUp(blockSize, seg.Virtual.Len())
		err := emu.Map(seg.Virtual.Lower, size)
		if err == nil {
			err = emu.Write(seg.Virtual.Lower, seg.Data)
		}
		if err != nil {
			if seg.Virtual.Contains(entry) {
				return fmt.Errorf("vstack: map entry segment [0x%x-0x%x): %w", seg.Virtual.Lower, seg.Virtual.Upper, err)
			}
			if glog.L != nil {
				glog.L.Warn("segment map failed, skipping",
					glog.Ptr("lower", seg.Virtual.Lower),
					glog.Ptr("upper", seg.Virtual.Upper),
				)
			}
			continue
		}
	}
	return nil
}
