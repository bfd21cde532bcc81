// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package mpu implements the memory protection unit support of the GPU
// RISC-V engine cores: region descriptions, attribute encoding and the
// register write sequence.
package mpu

import (
	"fmt"

	"github.com/usbarmory/tamago/bits"
)

// MPU region attribute bits
const (
	ATTR_UR = 0
	ATTR_UW = 1
	ATTR_UX = 2
	ATTR_SR = 3
	ATTR_SW = 4
	ATTR_SX = 5

	ATTR_CACHEABLE = 16
	ATTR_COHERENT  = 17
	ATTR_L1_EVICT  = 18
	ATTR_L2_EVICT  = 20

	// ATTR_WPR holds the declared WPR/GSC id of a region table entry,
	// it is moved to the physical-base register when applied.
	ATTR_WPR = 56

	evictMask = 0b11

	// WPRMask is the mask of the WPR/GSC id field
	WPRMask = 0xf
)

// Program header flags reserved (in the ELF OS-specific range) to describe
// automatically generated regions.
const (
	PF_X = 0
	PF_W = 1
	PF_R = 2

	PF_LWPU_UNCACHED = 20
	PF_LWPU_COHERENT = 21
	PF_LWPU_L1_EVICT = 22
	PF_LWPU_L2_EVICT = 24
	PF_LWPU_USER     = 26
)

// VA_VALID marks a virtual-base register as valid, virtual bases are
// granularity aligned so the bit is otherwise unused.
const VA_VALID = 1 << 0

// Region represents an MPU region.
type Region struct {
	// VA is the virtual base address
	VA uint64
	// PA is the physical base address
	PA uint64
	// Range is the region size
	Range uint64
	// Attr is the attribute word
	Attr uint64
	// WPR is the WPR/GSC id stamped on the physical base
	WPR uint64
}

func (r Region) String() string {
	return fmt.Sprintf("va:%#.16x pa:%#.16x range:%#x attr:%#x wpr:%d", r.VA, r.PA, r.Range, r.Attr, r.WPR)
}

// DeclaredWPR returns the WPR id carried by a region table attribute word.
func DeclaredWPR(attr uint64) uint64 {
	return bits.Get64(&attr, ATTR_WPR, WPRMask)
}

// FlagsAttr derives the attribute word of an automatically generated region
// from the ELF program header flags.
//
// Unset bits inherit defaults: a segment is cacheable unless marked
// uncached, incoherent unless marked coherent and supervisor only unless
// marked user.
func FlagsAttr(flags uint32) (attr uint64) {
	f := uint64(flags)
	user := bits.IsSet64(&f, PF_LWPU_USER)

	for _, p := range []struct {
		flag int
		s    int
		u    int
	}{
		{PF_R, ATTR_SR, ATTR_UR},
		{PF_W, ATTR_SW, ATTR_UW},
		{PF_X, ATTR_SX, ATTR_UX},
	} {
		if !bits.IsSet64(&f, p.flag) {
			continue
		}

		bits.Set64(&attr, p.s)

		if user {
			bits.Set64(&attr, p.u)
		}
	}

	if !bits.IsSet64(&f, PF_LWPU_UNCACHED) {
		bits.Set64(&attr, ATTR_CACHEABLE)
	}

	if bits.IsSet64(&f, PF_LWPU_COHERENT) {
		bits.Set64(&attr, ATTR_COHERENT)
	}

	bits.SetN64(&attr, ATTR_L1_EVICT, evictMask, bits.Get64(&f, PF_LWPU_L1_EVICT, evictMask))
	bits.SetN64(&attr, ATTR_L2_EVICT, evictMask, bits.Get64(&f, PF_LWPU_L2_EVICT, evictMask))

	return
}

// Writable reports whether the ELF program header flags grant write access.
func Writable(flags uint32) bool {
	return bits.IsSet(&flags, PF_W)
}
