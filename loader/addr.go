// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package loader

import (
	"debug/elf"
	"fmt"

	"github.com/usbarmory/tamago/bits"

	"github.com/usbarmory/riscv-bootloader/mem"
)

// Physical addresses found in program headers, section headers, the MPU
// table and the entry point carry a tag in their top nibble. Tags below
// tagBase denote literal addresses, tag tagBase+i selects load base i.
const (
	tagShift   = 60
	tagMask    = 0xf
	tagBase    = 0x8
	offsetMask = 1<<tagShift - 1
)

// Load base indices
const (
	ReservedBase = iota
	RunInPlaceBase
	OdpCowBase
)

// Kind represents the addressing mode of a tagged address.
type Kind int

// Addressing modes
const (
	Literal Kind = iota
	Tagged
	RunInPlace
	OdpCow
)

func (k Kind) String() string {
	switch k {
	case Literal:
		return "literal"
	case Tagged:
		return "tagged"
	case RunInPlace:
		return "rip"
	case OdpCow:
		return "odp-cow"
	}

	return fmt.Sprintf("kind(%d)", int(k))
}

// InPlace reports whether the addressing mode maps onto the ELF image.
func (k Kind) InPlace() bool {
	return k == RunInPlace || k == OdpCow
}

// Addr represents a decoded physical address.
type Addr struct {
	Kind Kind
	// Index is the load base index of non-literal addresses
	Index int
	// Offset is the literal address or the offset from the load base
	Offset uint64
}

// DecodeAddr decodes a tagged physical address.
func DecodeAddr(addr uint64) Addr {
	tag := bits.Get64(&addr, tagShift, tagMask)

	if tag < tagBase {
		return Addr{Kind: Literal, Offset: addr}
	}

	a := Addr{
		Kind:   Tagged,
		Index:  int(tag - tagBase),
		Offset: addr & offsetMask,
	}

	switch a.Index {
	case RunInPlaceBase:
		a.Kind = RunInPlace
	case OdpCowBase:
		a.Kind = OdpCow
	}

	return a
}

// Encode returns the tagged representation of the address.
func (a Addr) Encode() uint64 {
	if a.Kind == Literal {
		return a.Offset
	}

	addr := a.Offset
	bits.SetN64(&addr, tagShift, tagMask, uint64(tagBase+a.Index))

	return addr
}

// TagAddr returns the address at offset off from load base index.
func TagAddr(index int, off uint64) uint64 {
	return Addr{Kind: Tagged, Index: index, Offset: off}.Encode()
}

// Validate reports whether addr can be resolved by this session: tagged
// addresses must select a populated load base while literal addresses are
// always accepted.
func (s *Session) Validate(addr uint64) bool {
	a := DecodeAddr(addr)

	if a.Kind == Literal {
		return true
	}

	return a.Index < len(s.bases)
}

// owner returns the PT_LOAD program header whose physical range holds addr.
func (s *Session) owner(addr uint64) (int, error) {
	for i, p := range s.phdrs {
		if elf.ProgType(p.Type) != elf.PT_LOAD || addr < p.Paddr {
			continue
		}

		if addr-p.Paddr < p.Memsz || addr == p.Paddr {
			return i, nil
		}
	}

	return -1, fmt.Errorf("no segment holds %#x", addr)
}

// Remap resolves a tagged physical address, owner is the program header the
// address belongs to (nil when unknown).
//
// In place addresses resolve to their file-backed location within the ELF
// image: ELF base + owner file offset + (addr - owner physical address).
func (s *Session) Remap(owner *elf.Prog64, addr uint64) (pa uint64, err error) {
	a := DecodeAddr(addr)

	if a.Kind == Literal {
		return a.Offset, nil
	}

	if a.Index >= len(s.bases) {
		return 0, fmt.Errorf("address %#x selects unpopulated load base %d", addr, a.Index)
	}

	base := s.bases[a.Index]

	if !a.Kind.InPlace() {
		if mem.Overflows(base, a.Offset) {
			return 0, fmt.Errorf("address %#x overflows load base %#x", addr, base)
		}

		return base + a.Offset, nil
	}

	if owner == nil {
		i, err := s.owner(addr)

		if err != nil {
			return 0, err
		}

		owner = &s.phdrs[i]
	}

	if addr < owner.Paddr {
		return 0, fmt.Errorf("address %#x precedes segment at %#x", addr, owner.Paddr)
	}

	off := owner.Off + (addr - owner.Paddr)

	if owner.Off > off || mem.Overflows(base, off) {
		return 0, fmt.Errorf("address %#x overflows ELF image", addr)
	}

	return base + off, nil
}
