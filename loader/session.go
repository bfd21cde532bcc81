// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package loader implements the first-stage bootloader core: validation of
// the embedded ELF payload against the engine memory layout, physical
// address remapping, MPU planning, segment loading and the final handoff.
//
// A Session is created by Begin, which performs every check without side
// effects, and consumed by LoadAndJump.
package loader

import (
	"debug/elf"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/usbarmory/riscv-bootloader/mpu"
)

// Mode represents the MPU setting requested by the payload.
type Mode uint32

// MPU modes
const (
	Flat Mode = iota
	Manual
	Automatic
)

func (m Mode) String() string {
	switch m {
	case Flat:
		return "flat"
	case Manual:
		return "manual"
	case Automatic:
		return "automatic"
	}

	return fmt.Sprintf("mode(%d)", uint32(m))
}

// Segment represents a validated PT_LOAD program header.
type Segment struct {
	elf.Prog64

	// Index is the program header index
	Index int
	// Kind is the addressing mode of the physical address
	Kind Kind
	// PA is the remapped physical address
	PA uint64
}

// Section represents a section header and its name.
type Section struct {
	elf.Section64

	Name string
}

// Session represents a single boot attempt.
type Session struct {
	cfg    Config
	params Params
	image  image

	ehdr     elf.Header64
	phdrs    []elf.Prog64
	sections []Section

	// load-base table
	bases []uint64

	mode     Mode
	declared []mpu.Region
	segments []Segment

	// computed MPU state
	regions   []mpu.Region
	lowestVa  uint64
	highestVa uint64
	loader    mpu.Region
	stack     mpu.Region
	args      mpu.Region

	measurement [32]byte
}

// Config returns the session build configuration.
func (s *Session) Config() Config {
	return s.cfg
}

// Params returns the session boot geometry.
func (s *Session) Params() Params {
	return s.params
}

// Mode returns the MPU mode.
func (s *Session) Mode() Mode {
	return s.mode
}

// Entry returns the ELF entry point, as found in the header.
func (s *Session) Entry() uint64 {
	return s.ehdr.Entry
}

// Segments returns the validated PT_LOAD segments.
func (s *Session) Segments() []Segment {
	return append([]Segment(nil), s.segments...)
}

// Sections returns the section headers.
func (s *Session) Sections() []Section {
	return append([]Section(nil), s.sections...)
}

// Bases returns the populated load-base table.
func (s *Session) Bases() []uint64 {
	return append([]uint64(nil), s.bases...)
}

// Regions returns the program MPU regions, manually declared and
// automatically generated, with their final WPR id.
func (s *Session) Regions() []mpu.Region {
	return append([]mpu.Region(nil), s.regions...)
}

// Reserved returns the bootloader image, stack and boot arguments regions.
func (s *Session) Reserved() (loader mpu.Region, stack mpu.Region, args mpu.Region) {
	return s.loader, s.stack, s.args
}

// Bounds returns the lowest and highest virtual addresses used by the
// program, only meaningful when the MPU is active.
func (s *Session) Bounds() (lowest uint64, highest uint64) {
	return s.lowestVa, s.highestVa
}

// Measurement returns the ELF payload measurement.
func (s *Session) Measurement() [32]byte {
	return s.measurement
}

// Summary returns a human readable description of the session.
func (s *Session) Summary() string {
	var b strings.Builder

	fmt.Fprintf(&b, "engine:%s elf:%#x-%#x (%s) entry:%#x mode:%s\n",
		s.cfg.Layout.Name, s.params.ELFBase, s.params.ELFBase+s.params.ELFSize,
		humanize.IBytes(s.params.ELFSize), s.ehdr.Entry, s.mode)
	fmt.Fprintf(&b, "loader:%s reserved:%s args:%s wpr:%d\n",
		s.params.Loader(), s.params.Reserved(), s.params.Args(), s.params.WPRID)
	fmt.Fprintf(&b, "segments:%d regions:%d bases:%d sha3:%x\n",
		len(s.segments), len(s.regions), len(s.bases), s.measurement)

	if s.mode != Flat {
		fmt.Fprintf(&b, "va:%#x-%#x\n", s.lowestVa, s.highestVa)
	}

	return b.String()
}
