// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package loader

import (
	"math"

	"k8s.io/klog/v2"

	"github.com/usbarmory/riscv-bootloader/mem"
	"github.com/usbarmory/riscv-bootloader/mpu"
)

// Attributes of the bootloader reserved regions
const (
	loaderAttr = 1<<mpu.ATTR_SR | 1<<mpu.ATTR_SX | 1<<mpu.ATTR_CACHEABLE
	stackAttr  = 1<<mpu.ATTR_SR | 1<<mpu.ATTR_SW | 1<<mpu.ATTR_CACHEABLE
	argsAttr   = 1<<mpu.ATTR_SR | 1<<mpu.ATTR_SW | 1<<mpu.ATTR_UR | 1<<mpu.ATTR_CACHEABLE
)

// trusted reports whether [pa, pa+size) references data this firmware is
// trusted to access, such regions carry the session WPR id.
func (s *Session) trusted(pa uint64, size uint64) bool {
	return s.params.ELF().Contains(pa, size) || s.params.Reserved().Contains(pa, size)
}

func (s *Session) span(name string, r mem.Range) (span mem.Range, err error) {
	span, ok := mem.Span(r.Base, r.Size, s.cfg.Layout.Granularity)

	if !ok {
		return span, fail(ErrLoadFailure, "%s %s overflows", name, r)
	}

	return
}

func (s *Session) track(va uint64, size uint64) {
	s.lowestVa = min(s.lowestVa, va)
	s.highestVa = max(s.highestVa, va+size)
}

// plan computes the MPU region table and the placement of the bootloader
// reserved regions.
func (s *Session) plan() (err error) {
	layout := s.cfg.Layout
	g := layout.Granularity

	loader, err := s.span("loader", s.params.Loader())

	if err != nil {
		return
	}

	stack, err := s.span("stack", layout.Stack)

	if err != nil {
		return
	}

	args, err := s.span("boot arguments", s.params.Args())

	if err != nil {
		return
	}

	s.loader = mpu.Region{VA: loader.Base, PA: loader.Base, Range: loader.Size, Attr: loaderAttr, WPR: s.params.WPRID}
	s.stack = mpu.Region{VA: stack.Base, PA: stack.Base, Range: stack.Size, Attr: stackAttr}
	s.args = mpu.Region{VA: args.Base, PA: args.Base, Range: args.Size, Attr: argsAttr}

	if s.mode == Flat {
		return
	}

	s.lowestVa = math.MaxUint64
	s.highestVa = 0

	for i, d := range s.declared {
		if !mem.IsAligned(d.VA, g) || !mem.IsAligned(d.PA, g) || !mem.IsAligned(d.Range, g) {
			return fail(ErrLoadFailure, "MPU region %d misaligned (%s)", i, d)
		}

		if mem.Overflows(d.VA, d.Range) {
			return fail(ErrLoadFailure, "MPU region %d va overflows (%s)", i, d)
		}

		if !s.Validate(d.PA) {
			return fail(ErrLoadFailure, "MPU region %d address %#x has an invalid tag", i, d.PA)
		}

		r := d
		r.WPR = mpu.DeclaredWPR(d.Attr)

		if r.PA, err = s.Remap(nil, d.PA); err != nil {
			return fail(ErrLoadFailure, "MPU region %d, %v", i, err)
		}

		if !mem.IsAligned(r.PA, g) || mem.Overflows(r.PA, r.Range) {
			return fail(ErrLoadFailure, "MPU region %d remapped to invalid pa %#x", i, r.PA)
		}

		s.regions = append(s.regions, r)
		s.track(r.VA, r.Range)
	}

	for _, seg := range s.segments {
		if seg.Memsz == 0 {
			continue
		}

		footprint, ok := mem.Span(seg.Vaddr, seg.Memsz, g)

		if !ok {
			return fail(ErrLoadFailure, "segment %d va footprint overflows", seg.Index)
		}

		s.track(footprint.Base, footprint.Size)

		if s.mode != Automatic {
			continue
		}

		s.regions = append(s.regions, mpu.Region{
			VA:    footprint.Base,
			PA:    seg.PA,
			Range: footprint.Size,
			Attr:  mpu.FlagsAttr(seg.Flags),
		})
	}

	if avail := layout.Regions - mpu.Reserved; len(s.regions) > avail {
		return fail(ErrLoadFailure, "%d MPU regions exceed the %d available", len(s.regions), avail)
	}

	for i := range s.regions {
		r := &s.regions[i]

		if mem.Overflows(r.PA, r.Range) {
			return fail(ErrLoadFailure, "MPU region %d overflows (%s)", i, r)
		}

		if s.trusted(r.PA, r.Range) {
			r.WPR = s.params.WPRID
		}
	}

	return s.placeReserved()
}

// placeReserved finds a free slice of virtual address space, below the
// lowest or above the highest used address, holding the bootloader image,
// its stack and the boot arguments separated by one guard granule.
func (s *Session) placeReserved() error {
	g := s.cfg.Layout.Granularity
	limit := s.cfg.Layout.VALimit

	var total uint64

	for _, size := range []uint64{s.loader.Range, g, s.stack.Range, g, s.args.Range} {
		if mem.Overflows(total, size) {
			return fail(ErrLoadFailure, "cannot keep bootloader in VA space, reserved regions overflow")
		}

		total += size
	}

	var start uint64
	found := false

	// below, page zero stays unmapped
	if s.lowestVa >= g && s.lowestVa-g >= g && s.lowestVa-g-g >= total && s.lowestVa-g <= limit {
		start = s.lowestVa - g - total
		found = true
	}

	// above
	if !found && !mem.Overflows(s.highestVa, g) {
		if base := s.highestVa + g; !mem.Overflows(base, total) && base+total <= limit {
			start = base
			found = true
		}
	}

	if !found {
		return fail(ErrLoadFailure, "cannot keep bootloader in VA space (va:%#x-%#x)", s.lowestVa, s.highestVa)
	}

	s.loader.VA = start
	s.stack.VA = s.loader.VA + s.loader.Range + g
	s.args.VA = s.stack.VA + s.stack.Range + g

	klog.V(1).Infof("loader: reserved va loader:%#x stack:%#x args:%#x", s.loader.VA, s.stack.VA, s.args.VA)

	return nil
}
