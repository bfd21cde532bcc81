// Copyright (c) WithSecure Corporation
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package gotee

import (
	"github.com/usbarmory/riscv-bootloader/mem"
)

// Jumper implements loader.Jumper by transferring control to the loaded
// program in supervisor mode through a GoTEE execution context.
type Jumper struct {
	// Carveout is the bootloader footprint
	Carveout mem.Range
	// ELF is the payload image within the carveout, it remains accessible
	// to the loaded program for in place execution
	ELF mem.Range
	// Limit is the PMP top of memory, zero selects the full address space
	Limit uint64
	// Image is the loaded ELF, used to decode fault addresses
	Image []byte
}

// pmpEntry represents a PMP entry in TOR mode, it covers the addresses
// between the previous entry and addr.
type pmpEntry struct {
	addr uint64
	rwx  bool
}

func (j *Jumper) top() uint64 {
	if j.Limit != 0 {
		return j.Limit
	}

	return mem.AddressMask
}

// pmpLayout returns the TOR entries denying the loaded program the
// bootloader portions of the carveout:
//
//	[0, carveout)           RWX
//	[carveout, ELF)         none
//	[ELF, ELF end)          RWX
//	[ELF end, carveout end) none
//	[carveout end, top)     RWX
//
// Empty ranges yield entries which never match.
func (j *Jumper) pmpLayout() []pmpEntry {
	elf := j.ELF

	if elf.Size == 0 || !j.Carveout.Contains(elf.Base, elf.Size) {
		elf = mem.Range{Base: j.Carveout.Base}
	}

	return []pmpEntry{
		{addr: j.Carveout.Base, rwx: true},
		{addr: elf.Base, rwx: false},
		{addr: elf.End(), rwx: true},
		{addr: j.Carveout.End(), rwx: false},
		{addr: j.top(), rwx: true},
	}
}
