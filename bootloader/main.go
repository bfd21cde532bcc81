// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

//go:build tamago && riscv64

package main

import (
	"flag"
	"fmt"
	"os"
	"runtime"
	"strconv"
	_ "unsafe"

	"k8s.io/klog/v2"

	"github.com/usbarmory/riscv-bootloader/bootloader/internal"
	"github.com/usbarmory/riscv-bootloader/dma"
	"github.com/usbarmory/riscv-bootloader/loader"
	"github.com/usbarmory/riscv-bootloader/mem"
	"github.com/usbarmory/riscv-bootloader/mpu"
	"github.com/usbarmory/riscv-bootloader/util"
)

// Boot geometry and build configuration, set with -ldflags "-X main.Name=value".
var (
	Engine    = "gsp"
	Verbosity = "1"

	LoaderBase   string
	LoaderSize   string
	ELFOffset    string
	ELFSize      string
	ReservedBase string
	ReservedSize string
	ArgsBase     string
	ArgsSize     string
	WPRID        = "0"

	Production           = "false"
	RunInPlace           = "false"
	OdpCow               = "false"
	DMA                  = "false"
	SkipZeroOnSimulation = "false"
	IdentityBypass       = "false"
	DebugLocked          = "false"
	Simulated            = "true"
)

//go:linkname ramStart runtime/goos.RamStart
var ramStart uint64 = 0x80000000

//go:linkname ramSize runtime/goos.RamSize
var ramSize uint64 = 0x10000000

var (
	cfg    loader.Config
	params loader.Params
	fuses  loader.Fuses
	sink   = &util.Sink{Output: os.Stdout}
)

func parseUint(name string, val string) uint64 {
	n, err := strconv.ParseUint(val, 0, 64)

	if err != nil {
		panic(fmt.Sprintf("invalid %s, %v\n", name, err))
	}

	return n
}

func parseBool(name string, val string) bool {
	b, err := strconv.ParseBool(val)

	if err != nil {
		panic(fmt.Sprintf("invalid %s, %v\n", name, err))
	}

	return b
}

func init() {
	fs := flag.NewFlagSet("klog", flag.ContinueOnError)
	klog.InitFlags(fs)

	_ = fs.Set("logtostderr", "false")
	_ = fs.Set("v", Verbosity)

	klog.SetOutput(sink)

	layout, err := mem.LayoutByName(Engine)

	if err != nil {
		panic(fmt.Sprintf("invalid engine, %v\n", err))
	}

	cfg = loader.Config{
		Layout:               layout,
		RunInPlace:           parseBool("RunInPlace", RunInPlace),
		OdpCow:               parseBool("OdpCow", OdpCow),
		DMA:                  parseBool("DMA", DMA),
		Production:           parseBool("Production", Production),
		SkipZeroOnSimulation: parseBool("SkipZeroOnSimulation", SkipZeroOnSimulation),
		IdentityBypass:       parseBool("IdentityBypass", IdentityBypass),
	}

	params = loader.Params{
		LoaderBase:   parseUint("LoaderBase", LoaderBase),
		LoaderSize:   parseUint("LoaderSize", LoaderSize),
		ELFSize:      parseUint("ELFSize", ELFSize),
		ReservedBase: parseUint("ReservedBase", ReservedBase),
		ReservedSize: parseUint("ReservedSize", ReservedSize),
		ArgsBase:     parseUint("ArgsBase", ArgsBase),
		ArgsSize:     parseUint("ArgsSize", ArgsSize),
		WPRID:        parseUint("WPRID", WPRID),
	}

	params.ELFBase = params.LoaderBase + parseUint("ELFOffset", ELFOffset)

	fuses = loader.Fuses{
		DebugLocked: parseBool("DebugLocked", DebugLocked),
		Simulated:   parseBool("Simulated", Simulated),
	}

	klog.Infof("%s/%s (%s) • %s bootloader", runtime.GOOS, runtime.GOARCH, runtime.Version(), layout.Name)
}

func machine(img []byte) *loader.Machine {
	m := &loader.Machine{
		Memory: &mem.Direct{},
		Sink:   sink,
		Jumper: &gotee.Jumper{
			Carveout: params.Loader(),
			ELF:      params.ELF(),
			Image:    img,
		},
		Halt:      util.Halt,
		Simulated: fuses.Simulated,
	}

	if base := cfg.Layout.MPUBase; base != 0 && !fuses.Simulated {
		m.MPU = &mpu.Unit{Registers: &mpu.MMIO{Base: uint(base)}}
	} else {
		m.MPU = &mpu.Unit{Registers: mpu.NewRegisterFile(cfg.Layout.Regions)}
	}

	if base := cfg.Layout.DMABase; base != 0 && cfg.DMA && !fuses.Simulated {
		m.DMA = &dma.Controller{
			Registers: &dma.MMIO{Base: uint(base)},
			Apertures: []mem.Range{cfg.Layout.FB, cfg.Layout.Sysmem},
		}
	}

	return m
}

func main() {
	memory := &mem.Direct{}

	if err := loader.CheckFusing(cfg, fuses); err != nil {
		util.Halt(err)
	}

	if err := params.Check(); err != nil {
		util.Halt(err)
	}

	raw, err := memory.Read(params.ArgsBase, params.ArgsSize)

	if err != nil {
		util.Halt(fmt.Errorf("%w: %v", loader.ErrBadBootArgs, err))
	}

	if err = loader.CheckBootArgs(raw); err != nil {
		util.Halt(err)
	}

	img, err := memory.Read(params.ELFBase, params.ELFSize)

	if err != nil {
		util.Halt(fmt.Errorf("%w: %v", loader.ErrBadElf, err))
	}

	s, err := loader.Begin(cfg, img, params)

	if err != nil {
		util.Halt(err)
	}

	klog.Infof("loading %s", s.Summary())

	s.LoadAndJump(machine(img))
}
