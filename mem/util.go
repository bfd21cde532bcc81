// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package mem

import (
	"fmt"
)

// Range represents a contiguous physical or virtual address range.
type Range struct {
	Base uint64 `yaml:"base"`
	Size uint64 `yaml:"size"`
}

// End returns the first address past the range, callers must have verified
// that the range does not overflow.
func (r Range) End() uint64 {
	return r.Base + r.Size
}

// Contains reports whether [base, base+size) lies within the range.
func (r Range) Contains(base uint64, size uint64) bool {
	return Within(base, size, r.Base, r.Size)
}

// Overlaps reports whether the two ranges share at least one byte.
func (r Range) Overlaps(o Range) bool {
	return Overlap(r.Base, r.Size, o.Base, o.Size)
}

func (r Range) String() string {
	return fmt.Sprintf("[%#x-%#x)", r.Base, r.Base+r.Size)
}

// Overflows reports whether base+size wraps around the 64-bit address
// space.
func Overflows(base uint64, size uint64) bool {
	return base+size < base
}

// Overlap reports whether [a, a+aSize) and [b, b+bSize) share at least one
// byte, empty ranges never overlap.
func Overlap(a uint64, aSize uint64, b uint64, bSize uint64) bool {
	if aSize == 0 || bSize == 0 {
		return false
	}

	if Overflows(a, aSize) || Overflows(b, bSize) {
		return true
	}

	return a < b+bSize && b < a+aSize
}

// Within reports whether [base, base+size) is entirely contained in
// [outer, outer+outerSize).
func Within(base uint64, size uint64, outer uint64, outerSize uint64) bool {
	if Overflows(base, size) || Overflows(outer, outerSize) {
		return false
	}

	return base >= outer && base+size <= outer+outerSize
}

// IsAligned reports whether addr is a multiple of align (a power of two).
func IsAligned(addr uint64, align uint64) bool {
	return addr&(align-1) == 0
}

// AlignDown rounds addr down to a multiple of align (a power of two).
func AlignDown(addr uint64, align uint64) uint64 {
	return addr &^ (align - 1)
}

// AlignUp rounds addr up to a multiple of align (a power of two), ok is
// false when the result does not fit in 64 bits.
func AlignUp(addr uint64, align uint64) (res uint64, ok bool) {
	res = AlignDown(addr+align-1, align)
	return res, addr+align-1 >= addr
}

// Span returns the smallest align-granular range covering [base, base+size).
func Span(base uint64, size uint64, align uint64) (r Range, ok bool) {
	if Overflows(base, size) {
		return
	}

	end, ok := AlignUp(base+size, align)

	if !ok {
		return
	}

	start := AlignDown(base, align)

	return Range{Base: start, Size: end - start}, true
}
