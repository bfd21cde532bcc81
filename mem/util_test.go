// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package mem

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestOverflows(t *testing.T) {
	for _, test := range []struct {
		desc string
		base uint64
		size uint64
		want bool
	}{
		{desc: "empty", base: 0, size: 0},
		{desc: "top byte", base: math.MaxUint64, size: 0},
		{desc: "fits exactly", base: math.MaxUint64 - 0xf, size: 0xf},
		{desc: "wraps", base: math.MaxUint64 - 0xf, size: 0x11, want: true},
		{desc: "wraps from one", base: 1, size: math.MaxUint64, want: true},
	} {
		t.Run(test.desc, func(t *testing.T) {
			if got := Overflows(test.base, test.size); got != test.want {
				t.Errorf("Overflows(%#x, %#x) = %v, want %v", test.base, test.size, got, test.want)
			}
		})
	}
}

func TestOverlap(t *testing.T) {
	for _, test := range []struct {
		desc string
		a, b Range
		want bool
	}{
		{desc: "disjoint", a: Range{0x1000, 0x100}, b: Range{0x2000, 0x100}},
		{desc: "adjacent", a: Range{0x1000, 0x1000}, b: Range{0x2000, 0x100}},
		{desc: "nested", a: Range{0x1000, 0x1000}, b: Range{0x1800, 0x10}, want: true},
		{desc: "straddle", a: Range{0x1000, 0x1000}, b: Range{0x1ff0, 0x20}, want: true},
		{desc: "empty inside", a: Range{0x1000, 0x1000}, b: Range{0x1800, 0}},
		{desc: "overflowing operand", a: Range{math.MaxUint64, 2}, b: Range{0, 1}, want: true},
	} {
		t.Run(test.desc, func(t *testing.T) {
			if got := test.a.Overlaps(test.b); got != test.want {
				t.Errorf("%s.Overlaps(%s) = %v, want %v", test.a, test.b, got, test.want)
			}

			if got := test.b.Overlaps(test.a); got != test.want {
				t.Errorf("%s.Overlaps(%s) = %v, want %v", test.b, test.a, got, test.want)
			}
		})
	}
}

func TestWithin(t *testing.T) {
	outer := Range{Base: 0x1000, Size: 0x1000}

	for _, test := range []struct {
		desc string
		base uint64
		size uint64
		want bool
	}{
		{desc: "whole", base: 0x1000, size: 0x1000, want: true},
		{desc: "empty at end", base: 0x2000, size: 0, want: true},
		{desc: "past end", base: 0x1fff, size: 2},
		{desc: "before start", base: 0xfff, size: 2},
		{desc: "wrapping", base: 0x1800, size: math.MaxUint64},
	} {
		t.Run(test.desc, func(t *testing.T) {
			if got := outer.Contains(test.base, test.size); got != test.want {
				t.Errorf("Contains(%#x, %#x) = %v, want %v", test.base, test.size, got, test.want)
			}
		})
	}
}

func TestSpan(t *testing.T) {
	got, ok := Span(0x1ff8, 0x10, PageSize)

	if !ok {
		t.Fatal("Span failed")
	}

	if diff := cmp.Diff(Range{Base: 0x1000, Size: 0x2000}, got); diff != "" {
		t.Errorf("Span diff (-want +got):\n%s", diff)
	}

	if _, ok := Span(math.MaxUint64-0x10, 0x8, PageSize); ok {
		t.Errorf("Span of the last page did not report overflow")
	}
}

func TestAlign(t *testing.T) {
	if !IsAligned(0x3000, PageSize) || IsAligned(0x3008, PageSize) {
		t.Errorf("IsAligned misreports page alignment")
	}

	if got := AlignDown(0x3fff, PageSize); got != 0x3000 {
		t.Errorf("AlignDown = %#x, want 0x3000", got)
	}

	if got, ok := AlignUp(0x3001, PageSize); !ok || got != 0x4000 {
		t.Errorf("AlignUp = %#x, %v, want 0x4000, true", got, ok)
	}

	if _, ok := AlignUp(math.MaxUint64-1, PageSize); ok {
		t.Errorf("AlignUp did not report overflow")
	}
}
