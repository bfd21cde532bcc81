// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package mpu

import (
	"fmt"

	"github.com/usbarmory/tamago/bits"

	"github.com/usbarmory/riscv-bootloader/mem"
)

// Reserved is the number of regions, at the top of the table, owned by the
// bootloader for its own code, its stack and the boot arguments.
const Reserved = 3

// Registers represents the MPU register interface, a region is programmed
// by selecting its index and then writing its physical base, range,
// attribute word and virtual base (with VA_VALID set) in this order.
type Registers interface {
	// Regions returns the number of implemented regions.
	Regions() int
	// Select sets the index register.
	Select(i int)
	// WritePA writes the physical-base register of the selected region.
	WritePA(val uint64)
	// WriteRange writes the range register of the selected region.
	WriteRange(val uint64)
	// WriteAttr writes the attribute register of the selected region.
	WriteAttr(val uint64)
	// WriteVA writes the virtual-base register of the selected region.
	WriteVA(val uint64)
	// Clear invalidates all regions.
	Clear()
	// SetTranslation enables or disables address translation.
	SetTranslation(on bool)
}

// Unit represents an MPU instance.
type Unit struct {
	Registers
}

// LoaderIndex returns the region index reserved for the bootloader
// footprint.
func (u *Unit) LoaderIndex() int {
	return u.Regions() - 3
}

// StackIndex returns the region index reserved for the bootloader stack.
func (u *Unit) StackIndex() int {
	return u.Regions() - 2
}

// ArgsIndex returns the region index reserved for the boot arguments.
func (u *Unit) ArgsIndex() int {
	return u.Regions() - 1
}

// Available returns the number of regions available to the image.
func (u *Unit) Available() int {
	return u.Regions() - Reserved
}

// Write programs region i.
func (u *Unit) Write(i int, r Region) error {
	if i < 0 || i >= u.Regions() {
		return fmt.Errorf("invalid MPU index %d", i)
	}

	if r.WPR > WPRMask {
		return fmt.Errorf("invalid WPR id %d", r.WPR)
	}

	pa := r.PA & mem.AddressMask
	bits.SetN64(&pa, mem.AddressBits, WPRMask, r.WPR)

	attr := r.Attr
	bits.SetN64(&attr, ATTR_WPR, WPRMask, 0)

	u.Select(i)
	u.WritePA(pa)
	u.WriteRange(r.Range)
	u.WriteAttr(attr)
	u.WriteVA(r.VA | VA_VALID)

	return nil
}

// SetIdentityRegions programs a minimal identity map and enables
// translation, the first region covers the bootloader carve-out (tagged with
// the given WPR id) while the second one maps [0, limit) untagged.
//
// The carve-out must be granularity aligned, repeated invocations leave the
// MPU in the same state.
func (u *Unit) SetIdentityRegions(carveout mem.Range, wpr uint64, limit uint64) (err error) {
	rwx := uint64(1<<ATTR_SR | 1<<ATTR_SW | 1<<ATTR_SX)

	u.Clear()

	if err = u.Write(0, Region{
		VA:    carveout.Base,
		PA:    carveout.Base,
		Range: carveout.Size,
		Attr:  rwx | 1<<ATTR_CACHEABLE,
		WPR:   wpr,
	}); err != nil {
		return
	}

	if err = u.Write(1, Region{
		VA:    0,
		PA:    0,
		Range: limit,
		Attr:  rwx,
	}); err != nil {
		return
	}

	u.SetTranslation(true)

	return
}
