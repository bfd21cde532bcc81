// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package loader

import (
	"debug/elf"
	"encoding/binary"

	"k8s.io/klog/v2"

	"github.com/usbarmory/riscv-bootloader/mem"
	"github.com/usbarmory/riscv-bootloader/mpu"
)

const (
	ehdrSize = 64
	phdrSize = 56
	shdrSize = 64

	// MPUInfoSection is the name of the section carrying the optional
	// MPU table.
	MPUInfoSection = ".LWPU.mpu_info"

	mpuInfoHeader = 8
	mpuInfoRegion = 32
)

// Begin validates the ELF payload img against the boot geometry and the
// build configuration, computing the session state consumed by
// LoadAndJump. Nothing is copied nor programmed.
func Begin(cfg Config, img []byte, p Params) (s *Session, err error) {
	if err = cfg.Validate(); err != nil {
		return nil, fail(ErrLoadFailure, "invalid configuration, %v", err)
	}

	s = &Session{
		cfg:    cfg,
		params: p,
		image:  image(img),
	}

	if err = s.checkGeometry(); err != nil {
		return nil, err
	}

	s.bases = []uint64{p.ReservedBase}

	if cfg.RunInPlace {
		s.bases = append(s.bases, p.ELFBase)
	}

	if cfg.OdpCow {
		s.bases = append(s.bases, p.ELFBase)
	}

	if err = s.checkHeader(); err != nil {
		return nil, err
	}

	if err = s.checkSections(); err != nil {
		return nil, err
	}

	if err = s.checkSegments(); err != nil {
		return nil, err
	}

	if err = s.plan(); err != nil {
		return nil, err
	}

	s.measurement = Measure(img)

	klog.V(1).Infof("loader: validated %d segments, mode:%s entry:%#x sha3:%x", len(s.segments), s.mode, s.ehdr.Entry, s.measurement)

	return
}

// Check validates the boot geometry, it must succeed before the boot
// arguments or the ELF payload are accessed.
func (p *Params) Check() error {
	for _, v := range []uint64{p.LoaderBase, p.LoaderSize, p.ReservedBase, p.ReservedSize, p.ELFBase, p.ELFSize} {
		if !mem.IsAligned(v, mem.WordSize) {
			return fail(ErrLoadFailure, "misaligned geometry input %#x", v)
		}
	}

	if p.WPRID > mpu.WPRMask {
		return fail(ErrLoadFailure, "invalid WPR id %d", p.WPRID)
	}

	loader := p.Loader()
	reserved := p.Reserved()

	if mem.Overflows(loader.Base, loader.Size) || mem.Overflows(reserved.Base, reserved.Size) {
		return fail(ErrLoadFailure, "loader %s or reserved region %s overflows", loader, reserved)
	}

	if loader.Overlaps(reserved) {
		return fail(ErrLoadFailure, "reserved region %s overlaps loader %s", reserved, loader)
	}

	args := p.Args()

	switch {
	case args.Base == 0:
		return fail(ErrBadBootArgs, "missing boot arguments")
	case !mem.IsAligned(args.Base, mem.WordSize):
		return fail(ErrBadBootArgs, "misaligned boot arguments %#x", args.Base)
	case args.Size < bootArgsHeader:
		return fail(ErrBadBootArgs, "undersized boot arguments (%d)", args.Size)
	case mem.Overflows(args.Base, args.Size):
		return fail(ErrBadBootArgs, "boot arguments %s overflow", args)
	case args.Overlaps(reserved) || args.Overlaps(loader):
		return fail(ErrBadBootArgs, "boot arguments %s overlap loader %s or reserved region %s", args, loader, reserved)
	}

	if !loader.Contains(p.ELFBase, p.ELFSize) {
		return fail(ErrBadElf, "ELF %s outside loader %s", p.ELF(), loader)
	}

	return nil
}

func (s *Session) checkGeometry() (err error) {
	p := &s.params

	if err = p.Check(); err != nil {
		return
	}

	if uint64(len(s.image)) != p.ELFSize {
		return fail(ErrBadElf, "ELF size mismatch (%#x != %#x)", len(s.image), p.ELFSize)
	}

	return
}

func (s *Session) checkHeader() (err error) {
	h := &s.ehdr

	if err = s.image.decode(0, h); err != nil {
		return fail(ErrBadElf, "cannot read header, %v", err)
	}

	switch {
	case string(h.Ident[:elf.EI_CLASS]) != elf.ELFMAG:
		return fail(ErrBadElf, "invalid magic")
	case elf.Class(h.Ident[elf.EI_CLASS]) != elf.ELFCLASS64:
		return fail(ErrBadElf, "invalid class %d", h.Ident[elf.EI_CLASS])
	case elf.Data(h.Ident[elf.EI_DATA]) != elf.ELFDATA2LSB:
		return fail(ErrBadElf, "invalid data encoding %d", h.Ident[elf.EI_DATA])
	case elf.Version(h.Ident[elf.EI_VERSION]) != elf.EV_CURRENT || elf.Version(h.Version) != elf.EV_CURRENT:
		return fail(ErrBadElf, "invalid version %d", h.Version)
	case elf.Type(h.Type) != elf.ET_EXEC:
		return fail(ErrBadElf, "invalid type %s", elf.Type(h.Type))
	case elf.Machine(h.Machine) != elf.EM_RISCV:
		return fail(ErrBadElf, "invalid machine %s", elf.Machine(h.Machine))
	case h.Ehsize != ehdrSize || h.Phentsize != phdrSize || h.Shentsize != shdrSize:
		return fail(ErrBadElf, "invalid header sizes %d/%d/%d", h.Ehsize, h.Phentsize, h.Shentsize)
	case !mem.IsAligned(h.Phoff, mem.WordSize) || !mem.IsAligned(h.Shoff, mem.WordSize):
		return fail(ErrBadElf, "misaligned header tables %#x/%#x", h.Phoff, h.Shoff)
	}

	// the declared size must match exactly, ruling out truncated or padded
	// payloads, table sizes cannot overflow with 16-bit counts
	if size := h.Shoff + uint64(h.Shnum)*shdrSize; h.Shoff > size || size != s.params.ELFSize {
		return fail(ErrBadElf, "declared size %#x != %#x", h.Shoff+uint64(h.Shnum)*shdrSize, s.params.ELFSize)
	}

	s.phdrs = make([]elf.Prog64, h.Phnum)

	for i := range s.phdrs {
		if err = s.image.decode(h.Phoff+uint64(i)*phdrSize, &s.phdrs[i]); err != nil {
			return fail(ErrBadElf, "cannot read program header %d, %v", i, err)
		}
	}

	return
}

func (s *Session) checkSections() (err error) {
	h := &s.ehdr
	shdrs := make([]elf.Section64, h.Shnum)

	for i := range shdrs {
		if err = s.image.decode(h.Shoff+uint64(i)*shdrSize, &shdrs[i]); err != nil {
			return fail(ErrBadElf, "cannot read section header %d, %v", i, err)
		}
	}

	if h.Shstrndx == uint16(elf.SHN_UNDEF) || int(h.Shstrndx) >= len(shdrs) {
		return fail(ErrBadElf, "invalid string table index %d", h.Shstrndx)
	}

	strtab := shdrs[h.Shstrndx]

	if elf.SectionType(strtab.Type) != elf.SHT_STRTAB || strtab.Size == 0 {
		return fail(ErrBadElf, "invalid string table type:%s size:%d", elf.SectionType(strtab.Type), strtab.Size)
	}

	names, err := s.image.slice(strtab.Off, strtab.Size)

	if err != nil {
		return fail(ErrBadElf, "invalid string table, %v", err)
	}

	if names[len(names)-1] != 0 {
		return fail(ErrBadElf, "unterminated string table")
	}

	loader := s.params.Loader()
	found := false

	for i, sh := range shdrs {
		if uint64(sh.Name) >= uint64(len(names)) {
			return fail(ErrBadElf, "section %d name index %#x out of range", i, sh.Name)
		}

		sec := Section{Section64: sh, Name: cstring(names, sh.Name)}

		if elf.SectionType(sh.Type) != elf.SHT_NOBITS {
			if mem.Overflows(s.params.ELFBase, sh.Off) || !loader.Contains(s.params.ELFBase+sh.Off, sh.Size) {
				return fail(ErrBadElf, "section %d (%s) outside loader %s", i, sec.Name, loader)
			}
		}

		s.sections = append(s.sections, sec)

		if sec.Name != MPUInfoSection {
			continue
		}

		if found {
			return fail(ErrBadElf, "duplicate %s section", MPUInfoSection)
		}

		found = true

		if err = s.parseMPUInfo(sh); err != nil {
			return
		}
	}

	return
}

func (s *Session) parseMPUInfo(sh elf.Section64) (err error) {
	buf, err := s.image.slice(sh.Off, sh.Size)

	if err != nil {
		return fail(ErrBadElf, "invalid %s section, %v", MPUInfoSection, err)
	}

	size := uint64(len(buf))

	if size < mpuInfoHeader || (size-mpuInfoHeader)%mpuInfoRegion != 0 {
		return fail(ErrBadElf, "invalid %s size %#x", MPUInfoSection, size)
	}

	mode := Mode(binary.LittleEndian.Uint32(buf[0:]))
	count := binary.LittleEndian.Uint32(buf[4:])

	// compared by division, count*32 wraps in 32 bits
	if (size-mpuInfoHeader)/mpuInfoRegion != uint64(count) {
		return fail(ErrBadElf, "%s count %d does not match size %#x", MPUInfoSection, count, size)
	}

	switch mode {
	case Flat:
		if count != 0 {
			return fail(ErrBadElf, "flat %s declares %d regions", MPUInfoSection, count)
		}
	case Manual, Automatic:
	default:
		return fail(ErrBadElf, "invalid MPU mode %d", mode)
	}

	s.mode = mode

	for i := uint64(0); i < uint64(count); i++ {
		r := buf[mpuInfoHeader+i*mpuInfoRegion:]

		s.declared = append(s.declared, mpu.Region{
			VA:    binary.LittleEndian.Uint64(r[0:]),
			PA:    binary.LittleEndian.Uint64(r[8:]),
			Range: binary.LittleEndian.Uint64(r[16:]),
			Attr:  binary.LittleEndian.Uint64(r[24:]),
		})
	}

	return
}
