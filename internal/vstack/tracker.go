package vstack

import "sort"

// interval is a stored half-open range. Insertion always stores
// [addr, addr+size+1) — the "+1" is the trick spec.md §9 describes for
// making touching writes merge: two writes [0,4) and [4,8) do not overlap
// as half-open ranges, but [0,5) and [4,9) do, so padding every insert by
// one byte makes adjacency collapse into a single interval. The size
// reported to callers always undoes the padding (§4.3).
type interval struct {
	begin, end uint64
}

func (iv interval) overlapsOrTouches(other interval) bool {
	return iv.begin <= other.end && other.begin <= iv.end
}

// WriteTracker is the coalescing interval set of spec.md §3/§4.3: every
// instrumented store is added via Add, and on iteration adjacent or
// overlapping writes have merged into a single region.
type WriteTracker struct {
	intervals []interval
}

// NewWriteTracker returns an empty tracker.
func NewWriteTracker() *WriteTracker {
	return &WriteTracker{}
}

// Add records a write to [addr, addr+size), merging it with any interval
// it now overlaps or touches.
func (t *WriteTracker) Add(addr, size uint64) {
	next := interval{begin: addr, end: addr + size + 1}

	merged := next
	kept := t.intervals[:0]
	for _, iv := range t.intervals {
		if iv.overlapsOrTouches(merged) {
			if iv.begin < merged.begin {
				merged.begin = iv.begin
			}
			if iv.end > merged.end {
				merged.end = iv.end
			}
			continue
		}
		kept = append(kept, iv)
	}
	t.intervals = append(kept, merged)
}

// Region is one merged, harvested write region: its virtual-address span
// and the recovered byte length (e - b - 1, undoing the tracker's +1
// insertion padding).
type Region struct {
	Begin uint64
	Size  uint64
}

// Regions returns the merged intervals in ascending address order
// (spec.md §5: "recovered regions are emitted in the interval set's
// natural address order").
func (t *WriteTracker) Regions() []Region {
	out := make([]Region, len(t.intervals))
	for i, iv := range t.intervals {
		out[i] = Region{Begin: iv.begin, Size: iv.end - iv.begin - 1}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Begin < out[j].Begin })
	return out
}
