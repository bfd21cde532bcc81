// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package platform

import (
	"encoding/binary"
	"errors"
	"fmt"

	"k8s.io/klog/v2"

	"github.com/usbarmory/riscv-bootloader/dma"
	"github.com/usbarmory/riscv-bootloader/loader"
	"github.com/usbarmory/riscv-bootloader/mem"
	"github.com/usbarmory/riscv-bootloader/mpu"
	"github.com/usbarmory/riscv-bootloader/util"
)

// Platform represents a simulated engine booting an ELF image.
type Platform struct {
	Profile *Profile
	Config  loader.Config
	Params  loader.Params

	// Image is the ELF payload
	Image []byte
	// Args is the boot arguments blob
	Args []byte

	// Memory, MPU and DMA are the simulated collaborators of the last
	// boot.
	Memory *mem.Sim
	MPU    *mpu.RegisterFile
	DMA    *dma.SimRegisters
	// Sink is the loader diagnostic output
	Sink *util.Sink
}

// DefaultArgs returns a minimal boot arguments blob of the given size.
func DefaultArgs(size uint64) []byte {
	buf := make([]byte, size)

	if size >= 8 {
		binary.LittleEndian.PutUint32(buf[0:], uint32(size))
		binary.LittleEndian.PutUint32(buf[4:], loader.BootArgsVersion)
	}

	return buf
}

// New returns a platform for the given profile and ELF image, a nil args
// blob is replaced with DefaultArgs.
func New(p *Profile, img []byte, args []byte) (pl *Platform, err error) {
	cfg, err := p.Config()

	if err != nil {
		return
	}

	params := p.Params(uint64(len(img)))

	if args == nil {
		args = DefaultArgs(params.ArgsSize)
	}

	if uint64(len(args)) > params.ArgsSize {
		return nil, fmt.Errorf("boot arguments exceed args_size (%d > %d)", len(args), params.ArgsSize)
	}

	pl = &Platform{
		Profile: p,
		Config:  cfg,
		Params:  params,
		Image:   img,
		Args:    args,
	}

	return pl, pl.Reset()
}

// Banks returns the simulated memory banks: the reserved region, the
// loader footprint, the boot arguments, the TCM apertures and any
// additional profile bank.
func (pl *Platform) Banks() (banks []mem.Range) {
	l := pl.Config.Layout
	args, _ := mem.Span(pl.Params.ArgsBase, pl.Params.ArgsSize, mem.WordSize)

	banks = append(banks,
		pl.Params.Reserved(),
		pl.Params.Loader(),
		args,
		l.IMEM,
	)

	if l.Stack.Base == l.DMEM.End() {
		banks = append(banks, mem.Range{Base: l.DMEM.Base, Size: l.DMEM.Size + l.Stack.Size})
	} else {
		banks = append(banks, l.DMEM, l.Stack)
	}

	if l.EMEM.Size != 0 {
		banks = append(banks, l.EMEM)
	}

	return append(banks, pl.Profile.Memory...)
}

// Reset recreates the simulated memory with the ELF image and the boot
// arguments in place, and clears the MPU and the diagnostic sink.
func (pl *Platform) Reset() (err error) {
	if pl.Memory, err = mem.NewSim(pl.Banks()...); err != nil {
		return fmt.Errorf("invalid platform memory, %v", err)
	}

	if err = pl.Memory.Write(pl.Params.ELFBase, pl.Image); err != nil {
		return fmt.Errorf("ELF image does not fit, %v", err)
	}

	if err = pl.Memory.Write(pl.Params.ArgsBase, pl.Args); err != nil {
		return fmt.Errorf("boot arguments do not fit, %v", err)
	}

	pl.MPU = mpu.NewRegisterFile(pl.Config.Layout.Regions)
	pl.Sink = &util.Sink{}
	pl.DMA = &dma.SimRegisters{Memory: pl.Memory, Latency: 1}

	return
}

// Begin applies the bootloader pre-load checks and validates the image.
func (pl *Platform) Begin() (s *loader.Session, err error) {
	fuses := loader.Fuses{
		DebugLocked: pl.Profile.Fuses.DebugLocked,
		Simulated:   pl.Profile.Fuses.Simulated,
	}

	if err = loader.CheckFusing(pl.Config, fuses); err != nil {
		return
	}

	if err = pl.Params.Check(); err != nil {
		return
	}

	raw, err := pl.Memory.Read(pl.Params.ArgsBase, pl.Params.ArgsSize)

	if err != nil {
		return nil, fmt.Errorf("%w: %v", loader.ErrBadBootArgs, err)
	}

	if err = loader.CheckBootArgs(raw); err != nil {
		return
	}

	return loader.Begin(pl.Config, pl.Image, pl.Params)
}

// Machine returns the simulated collaborators, halting records the error
// in halted.
func (pl *Platform) Machine(jumper loader.Jumper, halted *error) *loader.Machine {
	m := &loader.Machine{
		Memory: pl.Memory,
		MPU:    &mpu.Unit{Registers: pl.MPU},
		Sink:   pl.Sink,
		Jumper: jumper,
		Halt: func(err error) {
			*halted = err
		},
		Simulated: pl.Profile.Fuses.Simulated,
	}

	if pl.Config.DMA {
		l := pl.Config.Layout

		m.DMA = &dma.Controller{
			Registers: pl.DMA,
			Apertures: []mem.Range{l.FB, l.Sysmem},
		}
	}

	return m
}

// Boot resets the platform, validates the image and runs the load and
// handoff sequence, returning the recorded handoff.
func (pl *Platform) Boot() (s *loader.Session, h *loader.Handoff, err error) {
	if err = pl.Reset(); err != nil {
		return
	}

	if s, err = pl.Begin(); err != nil {
		return
	}

	rec := &loader.Recorder{}
	var halted error

	s.LoadAndJump(pl.Machine(rec, &halted))

	if rec.Handoff == nil || !errors.Is(halted, loader.ErrReturned) {
		return s, nil, halted
	}

	klog.V(1).Infof("platform: handoff %s", rec.Handoff)

	return s, rec.Handoff, nil
}
