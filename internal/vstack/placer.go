package vstack

import (
	"fmt"

	"github.com/zboralski/vstack/internal/executable"
)

// alignUp rounds v up to the next multiple of n.
func alignUp(n, v uint64) uint64 {
	if n == 0 {
		return v
	}
	return ((v + n - 1) / n) * n
}

// alignDown rounds v down to the previous multiple of n.
func alignDown(n, v uint64) uint64 {
	if n == 0 {
		return v
	}
	return (v / n) * n
}

// PlaceStack implements spec.md §4.1's two-try placement policy, which
// follows the original tool's check literally rather than the "fixed"
// version one might expect: it only tests whether one stackSize fits above
// the image, even though the caller goes on to map 3*stackSize there. If
// that fails, it tries rounding down to a stackSize-aligned address below
// the image; if even that rounds to zero, placement fails.
func PlaceStack(stackSize uint64, space executable.Range, pointerBits int) (uint64, error) {
	memoryMax := uint64(1) << uint(pointerBits)
	if pointerBits >= 64 {
		memoryMax = 0 // overflowed to 2^64, treated as "no ceiling" below
	}

	aligned := alignUp(stackSize, space.Upper)
	if memoryMax == 0 || aligned+stackSize < memoryMax {
		return aligned, nil
	}

	if space.Lower >= stackSize {
		aligned = alignDown(stackSize, space.Lower-stackSize)
		if aligned > 0 {
			return aligned, nil
		}
	}

	return 0, fmt.Errorf("vstack: cannot place stack: image spans [0x%x, 0x%x), no %d-byte region fits", space.Lower, space.Upper, 3*stackSize)
}
