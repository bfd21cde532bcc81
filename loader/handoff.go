// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package loader

import (
	"errors"
	"fmt"

	"k8s.io/klog/v2"

	"github.com/usbarmory/riscv-bootloader/dma"
	"github.com/usbarmory/riscv-bootloader/mem"
	"github.com/usbarmory/riscv-bootloader/mpu"
)

// ErrReturned reports an unexpected return from the loaded program.
var ErrReturned = errors.New("loaded program returned")

// Handoff represents the arguments passed to the loaded program.
type Handoff struct {
	Entry        uint64
	ArgsPA       uint64
	ArgsVA       uint64
	StackLo      uint64
	StackHi      uint64
	ELFPA        uint64
	ELFSize      uint64
	ReservedBase uint64
	WPRID        uint64
}

// Words returns the handoff in calling convention order, the entry point
// followed by the a0-a7 argument registers.
func (h Handoff) Words() [9]uint64 {
	return [9]uint64{h.Entry, h.ArgsPA, h.ArgsVA, h.StackLo, h.StackHi, h.ELFPA, h.ELFSize, h.ReservedBase, h.WPRID}
}

func (h Handoff) String() string {
	return fmt.Sprintf("entry:%#x args:%#x/%#x stack:%#x-%#x elf:%#x/%#x reserved:%#x wpr:%d",
		h.Entry, h.ArgsPA, h.ArgsVA, h.StackLo, h.StackHi, h.ELFPA, h.ELFSize, h.ReservedBase, h.WPRID)
}

// Jumper represents the architectural jump into the loaded program, it does
// not return on success.
type Jumper interface {
	Jump(h Handoff) error
}

// Recorder implements Jumper by recording the handoff, it is used
// off-target.
type Recorder struct {
	Handoff *Handoff
}

// Jump implements Jumper.
func (r *Recorder) Jump(h Handoff) error {
	r.Handoff = &h
	return ErrReturned
}

// Machine represents the collaborators driven by the handoff.
type Machine struct {
	// Memory provides physical memory access
	Memory mem.Physical
	// DMA is the optional DMA engine
	DMA dma.Engine
	// MPU is the engine MPU
	MPU *mpu.Unit
	// Sink is the diagnostic output, disabled before the jump
	Sink interface{ Disable() }
	// Jumper transfers control to the loaded program
	Jumper Jumper
	// Halt is invoked on any failure, on the target it never returns
	Halt func(err error)
	// Simulated reports a simulated platform
	Simulated bool
}

func (m *Machine) halt(err error) {
	if m.Halt != nil {
		m.Halt(err)
		return
	}

	klog.Errorf("loader: halt, %v", err)
}

// entry validates the entry point, in flat mode it must resolve to a
// permitted aperture while, with the MPU active, it must fall within the
// program virtual footprint (which does not prove it is executable).
func (s *Session) entry() (entry uint64, err error) {
	entry = s.ehdr.Entry

	if s.mode == Flat {
		if !s.Validate(entry) {
			return 0, fail(ErrLoadFailure, "entry %#x has an invalid tag", entry)
		}

		if entry, err = s.Remap(nil, entry); err != nil {
			return 0, fail(ErrLoadFailure, "entry %#x, %v", s.ehdr.Entry, err)
		}

		inPlace := s.cfg.RunInPlace && s.aperture(entry, mem.InstructionAlign, true)

		if !inPlace && !s.aperture(entry, mem.InstructionAlign, false) {
			return 0, fail(ErrLoadFailure, "entry %#x outside permitted apertures", entry)
		}
	} else if entry < s.lowestVa || entry >= s.highestVa {
		return 0, fail(ErrLoadFailure, "entry %#x outside va:%#x-%#x", entry, s.lowestVa, s.highestVa)
	}

	if !mem.IsAligned(entry, mem.InstructionAlign) || mem.Overflows(entry, mem.InstructionAlign) {
		return 0, fail(ErrLoadFailure, "invalid entry alignment %#x", entry)
	}

	return
}

// Handoff returns the arguments that will be passed to the loaded program.
func (s *Session) Handoff() (h Handoff, err error) {
	entry, err := s.entry()

	if err != nil {
		return
	}

	stackLo := s.stack.VA + (s.cfg.Layout.Stack.Base - s.stack.PA)

	return Handoff{
		Entry:        entry,
		ArgsPA:       s.params.ArgsBase,
		ArgsVA:       s.args.VA + (s.params.ArgsBase - s.args.PA),
		StackLo:      stackLo,
		StackHi:      stackLo + s.cfg.Layout.Stack.Size,
		ELFPA:        s.params.ELFBase,
		ELFSize:      s.params.ELFSize,
		ReservedBase: s.params.ReservedBase,
		WPRID:        s.params.WPRID,
	}, nil
}

func (s *Session) applyRegions(u *mpu.Unit) (err error) {
	for i, r := range s.regions {
		if err = u.Write(i, r); err != nil {
			return
		}
	}

	if err = u.Write(u.LoaderIndex(), s.loader); err != nil {
		return
	}

	return u.Write(u.StackIndex(), s.stack)
}

func (s *Session) loadAndJump(m *Machine) (err error) {
	h, err := s.Handoff()

	if err != nil {
		return
	}

	if m.MPU.Regions() != s.cfg.Layout.Regions {
		return fail(ErrLoadFailure, "MPU implements %d regions, expected %d", m.MPU.Regions(), s.cfg.Layout.Regions)
	}

	if s.cfg.IdentityBypass {
		if err = m.MPU.SetIdentityRegions(mem.Range{Base: s.loader.PA, Size: s.loader.Range}, s.params.WPRID, s.cfg.Layout.VALimit); err != nil {
			return fail(ErrLoadFailure, "identity regions, %v", err)
		}
	}

	if err = s.loadSegments(m); err != nil {
		return
	}

	m.MPU.Clear()

	if s.mode != Flat {
		if err = s.applyRegions(m.MPU); err != nil {
			return fail(ErrLoadFailure, "MPU setup, %v", err)
		}
	}

	klog.V(1).Infof("loader: jumping to %s", h)
	klog.Flush()

	if m.Sink != nil {
		m.Sink.Disable()
	}

	if err = m.MPU.Write(m.MPU.ArgsIndex(), s.args); err != nil {
		return fail(ErrLoadFailure, "boot arguments region, %v", err)
	}

	// the program inherits the stack, registers start clear in the
	// jump context
	if err = m.Memory.Zero(s.cfg.Layout.Stack.Base, s.cfg.Layout.Stack.Size); err != nil {
		return fail(ErrLoadFailure, "stack scrub, %v", err)
	}

	m.MPU.SetTranslation(s.mode != Flat)

	return m.Jumper.Jump(h)
}

// LoadAndJump loads the validated segments, programs the MPU and transfers
// control to the loaded program. It never returns on the target: failures,
// as well as an unexpected return from the jump, invoke the machine Halt
// function.
func (s *Session) LoadAndJump(m *Machine) {
	err := s.loadAndJump(m)

	if err == nil {
		err = ErrReturned
	}

	m.halt(err)
}
