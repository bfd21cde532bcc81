// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package loader

import (
	"debug/elf"

	"k8s.io/klog/v2"

	"github.com/usbarmory/riscv-bootloader/mem"
	"github.com/usbarmory/riscv-bootloader/mpu"
)

// aperture reports whether [pa, pa+size) lies within a permitted placement
// aperture, inPlace selects the ELF image instead of the TCMs and reserved
// region.
func (s *Session) aperture(pa uint64, size uint64, inPlace bool) bool {
	if inPlace {
		return s.params.ELF().Contains(pa, size)
	}

	for _, r := range append(s.cfg.Layout.Apertures(), s.params.Reserved()) {
		if r.Size != 0 && r.Contains(pa, size) {
			return true
		}
	}

	return false
}

func (s *Session) checkSegments() (err error) {
	loader := s.params.Loader()
	g := s.cfg.Layout.Granularity
	translated := s.mode != Flat

	for i := range s.phdrs {
		p := &s.phdrs[i]

		if elf.ProgType(p.Type) != elf.PT_LOAD {
			return fail(ErrBadElf, "program header %d has unsupported type %s", i, elf.ProgType(p.Type))
		}

		if p.Filesz > p.Memsz {
			return fail(ErrBadElf, "segment %d filesz %#x > memsz %#x", i, p.Filesz, p.Memsz)
		}

		if mem.Overflows(s.params.ELFBase, p.Off) || !loader.Contains(s.params.ELFBase+p.Off, p.Filesz) {
			return fail(ErrBadElf, "segment %d file data at %#x outside loader %s", i, p.Off, loader)
		}

		if !s.Validate(p.Paddr) {
			return fail(ErrLoadFailure, "segment %d address %#x has an invalid tag", i, p.Paddr)
		}

		seg := Segment{
			Prog64: *p,
			Index:  i,
			Kind:   DecodeAddr(p.Paddr).Kind,
		}

		if seg.PA, err = s.Remap(p, p.Paddr); err != nil {
			return fail(ErrLoadFailure, "segment %d, %v", i, err)
		}

		if mem.Overflows(seg.PA, p.Memsz) || (translated && mem.Overflows(p.Vaddr, p.Memsz)) {
			return fail(ErrLoadFailure, "segment %d overflows (pa:%#x va:%#x memsz:%#x)", i, seg.PA, p.Vaddr, p.Memsz)
		}

		if translated {
			if !mem.IsAligned(p.Vaddr, g) || !mem.IsAligned(seg.PA, g) {
				return fail(ErrLoadFailure, "segment %d misaligned (pa:%#x va:%#x)", i, seg.PA, p.Vaddr)
			}
		} else if p.Vaddr != seg.PA {
			return fail(ErrLoadFailure, "segment %d va %#x != pa %#x without MPU", i, p.Vaddr, seg.PA)
		}

		if seg.Kind.InPlace() {
			if err = s.checkInPlace(seg); err != nil {
				return
			}
		} else if mem.Overlap(seg.PA, p.Memsz, loader.Base, loader.Size) {
			return fail(ErrLoadFailure, "segment %d at %#x overlaps loader %s", i, seg.PA, loader)
		}

		for _, prev := range s.segments {
			if mem.Overlap(seg.PA, p.Memsz, prev.PA, prev.Memsz) {
				return fail(ErrLoadFailure, "segment %d at %#x overlaps segment %d at %#x", i, seg.PA, prev.Index, prev.PA)
			}

			if translated && mem.Overlap(p.Vaddr, p.Memsz, prev.Vaddr, prev.Memsz) {
				return fail(ErrLoadFailure, "segment %d va %#x overlaps segment %d va %#x", i, p.Vaddr, prev.Index, prev.Vaddr)
			}
		}

		if !s.aperture(seg.PA, p.Memsz, seg.Kind.InPlace()) {
			return fail(ErrLoadFailure, "segment %d at %#x outside permitted apertures", i, seg.PA)
		}

		klog.V(2).Infof("loader: segment %d %s pa:%#x va:%#x filesz:%#x memsz:%#x flags:%s",
			i, seg.Kind, seg.PA, p.Vaddr, p.Filesz, p.Memsz, elf.ProgFlag(p.Flags))

		s.segments = append(s.segments, seg)
	}

	if len(s.segments) == 0 {
		return fail(ErrBadElf, "no loadable segments")
	}

	return
}

func (s *Session) checkInPlace(seg Segment) error {
	if !s.params.ELF().Contains(seg.PA, seg.Memsz) {
		return fail(ErrLoadFailure, "in place segment %d at %#x outside ELF image %s", seg.Index, seg.PA, s.params.ELF())
	}

	if seg.Kind == RunInPlace && mpu.Writable(seg.Flags) {
		return fail(ErrLoadFailure, "run in place segment %d is writable", seg.Index)
	}

	if seg.Filesz != seg.Memsz {
		return fail(ErrLoadFailure, "in place segment %d requires zero-fill (%#x != %#x)", seg.Index, seg.Filesz, seg.Memsz)
	}

	// the tag must resolve back to this segment
	if i, err := s.owner(seg.Paddr); err != nil || i != seg.Index {
		return fail(ErrLoadFailure, "in place segment %d address %#x is ambiguous", seg.Index, seg.Paddr)
	}

	return nil
}
