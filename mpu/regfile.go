// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package mpu

import (
	"github.com/usbarmory/riscv-bootloader/mem"
)

// Entry represents the raw register contents of a single region.
type Entry struct {
	PA    uint64
	Range uint64
	Attr  uint64
	VA    uint64
}

// Valid reports whether the region is enabled.
func (e Entry) Valid() bool {
	return e.VA&VA_VALID != 0
}

// RegisterFile implements Registers in memory, it is used to run the loader
// off-target and to inspect the resulting MPU state.
type RegisterFile struct {
	entries     []Entry
	index       int
	translation bool
}

// NewRegisterFile returns a cleared register file with n regions.
func NewRegisterFile(n int) *RegisterFile {
	return &RegisterFile{
		entries: make([]Entry, n),
	}
}

// Regions implements Registers.
func (f *RegisterFile) Regions() int {
	return len(f.entries)
}

// Select implements Registers.
func (f *RegisterFile) Select(i int) {
	f.index = i
}

func (f *RegisterFile) selected() *Entry {
	if f.index < 0 || f.index >= len(f.entries) {
		// writes to unimplemented indices are ignored, as on hardware
		return &Entry{}
	}

	return &f.entries[f.index]
}

// WritePA implements Registers.
func (f *RegisterFile) WritePA(val uint64) {
	f.selected().PA = val
}

// WriteRange implements Registers.
func (f *RegisterFile) WriteRange(val uint64) {
	f.selected().Range = val
}

// WriteAttr implements Registers.
func (f *RegisterFile) WriteAttr(val uint64) {
	f.selected().Attr = val
}

// WriteVA implements Registers.
func (f *RegisterFile) WriteVA(val uint64) {
	f.selected().VA = val
}

// Clear implements Registers.
func (f *RegisterFile) Clear() {
	clear(f.entries)
	f.index = 0
}

// SetTranslation implements Registers.
func (f *RegisterFile) SetTranslation(on bool) {
	f.translation = on
}

// Translation reports whether translation is enabled.
func (f *RegisterFile) Translation() bool {
	return f.translation
}

// Entry returns the raw contents of region i.
func (f *RegisterFile) Entry(i int) Entry {
	return f.entries[i]
}

// Snapshot returns a copy of all regions.
func (f *RegisterFile) Snapshot() []Entry {
	return append([]Entry(nil), f.entries...)
}

// Lookup returns the physical address a virtual address translates to,
// ok is false when no valid region matches.
func (f *RegisterFile) Lookup(va uint64) (pa uint64, wpr uint64, ok bool) {
	if !f.translation {
		return va, 0, true
	}

	for _, e := range f.entries {
		base := e.VA &^ VA_VALID

		if !e.Valid() || va < base || va-base >= e.Range {
			continue
		}

		return e.PA&mem.AddressMask + (va - base), e.PA >> mem.AddressBits, true
	}

	return
}
