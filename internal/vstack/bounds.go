package vstack

// Bounds is a half-open size range [Min, Max) used for patch_range and
// write_range (spec.md §6). A nil Max means unbounded above, matching the
// defaults "[5, ∞)" and "[1, ∞)".
type Bounds struct {
	Min uint64
	Max *uint64 // nil means unbounded
}

// Contains reports whether size falls in the bound.
func (b Bounds) Contains(size uint64) bool {
	if size < b.Min {
		return false
	}
	if b.Max != nil && size >= *b.Max {
		return false
	}
	return true
}

// DefaultPatchRange is spec.md §6's default for patch_range: [5, ∞).
func DefaultPatchRange() Bounds { return Bounds{Min: 5} }

// DefaultWriteRange is spec.md §6's default for write_range: [1, ∞).
func DefaultWriteRange() Bounds { return Bounds{Min: 1} }
