// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package elftest builds synthetic ELF64 RISC-V executables for tests.
package elftest

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"fmt"
)

const (
	ehdrSize = 64
	phdrSize = 56
	shdrSize = 64

	// MPUInfoSection is the name of the section carrying the MPU table.
	MPUInfoSection = ".LWPU.mpu_info"
)

// Segment describes a program header and its file contents.
type Segment struct {
	// Type defaults to PT_LOAD
	Type  elf.ProgType
	Flags elf.ProgFlag
	Vaddr uint64
	Paddr uint64
	Data  []byte
	// Memsz defaults to len(Data)
	Memsz uint64
	// FileAlign is the alignment of Data within the file, default 8
	FileAlign uint64
}

// Section describes a section header and its file contents.
type Section struct {
	Name  string
	Type  elf.SectionType
	Flags elf.SectionFlag
	Addr  uint64
	Data  []byte
	// Size is used for SHT_NOBITS sections
	Size uint64
}

// MPURegion mirrors one region table entry.
type MPURegion struct {
	VA    uint64
	PA    uint64
	Range uint64
	Attr  uint64
}

// MPUInfo describes the embedded MPU table.
type MPUInfo struct {
	Mode    uint32
	Regions []MPURegion
	// Count overrides the declared region count when non-zero
	Count uint32
}

// Bytes returns the section encoding of the table.
func (m *MPUInfo) Bytes() []byte {
	buf := new(bytes.Buffer)
	count := m.Count

	if count == 0 {
		count = uint32(len(m.Regions))
	}

	binary.Write(buf, binary.LittleEndian, m.Mode)
	binary.Write(buf, binary.LittleEndian, count)

	for _, r := range m.Regions {
		binary.Write(buf, binary.LittleEndian, r)
	}

	return buf.Bytes()
}

// Image describes an executable.
type Image struct {
	Entry    uint64
	Segments []Segment
	Sections []Section
	MPU      *MPUInfo
}

func pad(buf *bytes.Buffer, align uint64) {
	for uint64(buf.Len())%align != 0 {
		buf.WriteByte(0)
	}
}

// Build encodes the image, the section header table is placed last so that
// the file size matches e_shoff + e_shnum * e_shentsize.
func (img *Image) Build() []byte {
	sections := append([]Section{}, img.Sections...)

	if img.MPU != nil {
		sections = append(sections, Section{
			Name: MPUInfoSection,
			Type: elf.SHT_PROGBITS,
			Data: img.MPU.Bytes(),
		})
	}

	buf := new(bytes.Buffer)
	buf.Write(make([]byte, ehdrSize+phdrSize*len(img.Segments)))

	phdrs := make([]elf.Prog64, len(img.Segments))

	for i, s := range img.Segments {
		align := s.FileAlign

		if align == 0 {
			align = 8
		}

		pad(buf, align)

		memsz := s.Memsz

		if memsz == 0 {
			memsz = uint64(len(s.Data))
		}

		typ := s.Type

		if typ == elf.PT_NULL {
			typ = elf.PT_LOAD
		}

		phdrs[i] = elf.Prog64{
			Type:   uint32(typ),
			Flags:  uint32(s.Flags),
			Off:    uint64(buf.Len()),
			Vaddr:  s.Vaddr,
			Paddr:  s.Paddr,
			Filesz: uint64(len(s.Data)),
			Memsz:  memsz,
			Align:  align,
		}

		buf.Write(s.Data)
	}

	shstrtab := []byte{0}
	shdrs := []elf.Section64{{}}

	for _, s := range sections {
		pad(buf, 8)

		sh := elf.Section64{
			Name:      uint32(len(shstrtab)),
			Type:      uint32(s.Type),
			Flags:     uint64(s.Flags),
			Addr:      s.Addr,
			Off:       uint64(buf.Len()),
			Size:      uint64(len(s.Data)),
			Addralign: 8,
		}

		if s.Type == elf.SHT_NOBITS {
			sh.Size = s.Size
		} else {
			buf.Write(s.Data)
		}

		shstrtab = append(shstrtab, append([]byte(s.Name), 0)...)
		shdrs = append(shdrs, sh)
	}

	pad(buf, 8)

	shdrs = append(shdrs, elf.Section64{
		Name:      uint32(len(shstrtab)),
		Type:      uint32(elf.SHT_STRTAB),
		Off:       uint64(buf.Len()),
		Size:      uint64(len(shstrtab) + len(".shstrtab") + 1),
		Addralign: 1,
	})

	buf.Write(shstrtab)
	buf.WriteString(".shstrtab\x00")
	pad(buf, 8)

	shoff := uint64(buf.Len())

	for _, sh := range shdrs {
		binary.Write(buf, binary.LittleEndian, sh)
	}

	out := buf.Bytes()

	ehdr := elf.Header64{
		Type:      uint16(elf.ET_EXEC),
		Machine:   uint16(elf.EM_RISCV),
		Version:   uint32(elf.EV_CURRENT),
		Entry:     img.Entry,
		Phoff:     ehdrSize,
		Shoff:     shoff,
		Ehsize:    ehdrSize,
		Phentsize: phdrSize,
		Phnum:     uint16(len(phdrs)),
		Shentsize: shdrSize,
		Shnum:     uint16(len(shdrs)),
		Shstrndx:  uint16(len(shdrs) - 1),
	}

	copy(ehdr.Ident[:], elf.ELFMAG)
	ehdr.Ident[elf.EI_CLASS] = byte(elf.ELFCLASS64)
	ehdr.Ident[elf.EI_DATA] = byte(elf.ELFDATA2LSB)
	ehdr.Ident[elf.EI_VERSION] = byte(elf.EV_CURRENT)

	put(out, 0, &ehdr)

	for i := range phdrs {
		put(out, ehdrSize+uint64(i)*phdrSize, &phdrs[i])
	}

	return out
}

func put(buf []byte, off uint64, v any) {
	b := new(bytes.Buffer)

	if err := binary.Write(b, binary.LittleEndian, v); err != nil {
		panic(err)
	}

	copy(buf[off:], b.Bytes())
}

func get(buf []byte, off uint64, v any) {
	if err := binary.Read(bytes.NewReader(buf[off:]), binary.LittleEndian, v); err != nil {
		panic(fmt.Sprintf("elftest: %v", err))
	}
}

// Ehdr decodes the ELF header of buf.
func Ehdr(buf []byte) (h elf.Header64) {
	get(buf, 0, &h)
	return
}

// PatchEhdr rewrites the ELF header of buf.
func PatchEhdr(buf []byte, fn func(h *elf.Header64)) {
	h := Ehdr(buf)
	fn(&h)
	put(buf, 0, &h)
}

// Phdr decodes program header i of buf.
func Phdr(buf []byte, i int) (p elf.Prog64) {
	h := Ehdr(buf)
	get(buf, h.Phoff+uint64(i)*phdrSize, &p)
	return
}

// PatchPhdr rewrites program header i of buf.
func PatchPhdr(buf []byte, i int, fn func(p *elf.Prog64)) {
	h := Ehdr(buf)
	p := Phdr(buf, i)
	fn(&p)
	put(buf, h.Phoff+uint64(i)*phdrSize, &p)
}

// Shdr decodes section header i of buf.
func Shdr(buf []byte, i int) (s elf.Section64) {
	h := Ehdr(buf)
	get(buf, h.Shoff+uint64(i)*shdrSize, &s)
	return
}

// PatchShdr rewrites section header i of buf.
func PatchShdr(buf []byte, i int, fn func(s *elf.Section64)) {
	h := Ehdr(buf)
	s := Shdr(buf, i)
	fn(&s)
	put(buf, h.Shoff+uint64(i)*shdrSize, &s)
}
