// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package mem

import (
	"errors"
	"fmt"
	"strings"
)

// Layout describes the physical memory map of a GPU RISC-V engine core as
// seen by the first-stage bootloader.
type Layout struct {
	// Name is the engine name (e.g. "gsp")
	Name string `yaml:"name"`

	// IMEM, DMEM and EMEM are the tightly coupled memory apertures
	// (fast instruction scratch, slow data scratch, auxiliary tier)
	// available for segment placement.
	IMEM Range `yaml:"imem"`
	DMEM Range `yaml:"dmem"`
	EMEM Range `yaml:"emem"`

	// Stack is the bootloader stack, carved out of the top of DMEM and
	// excluded from the DMEM aperture.
	Stack Range `yaml:"stack"`

	// FB and Sysmem are the external apertures serviced by the DMA
	// engine.
	FB     Range `yaml:"fb"`
	Sysmem Range `yaml:"sysmem"`

	// Granularity is the MPU region alignment quantum.
	Granularity uint64 `yaml:"granularity"`
	// Regions is the number of MPU regions implemented by the core.
	Regions int `yaml:"regions"`
	// VALimit is the first virtual address past the translated space.
	VALimit uint64 `yaml:"va_limit"`

	// MPUBase is the MMIO base of the MPU register block, zero when the
	// MPU is modelled in software.
	MPUBase uint64 `yaml:"mpu_base"`
	// DMABase is the MMIO base of the DMA engine, zero when absent.
	DMABase uint64 `yaml:"dma_base"`
}

// Apertures returns the TCM apertures permitted for segment placement.
func (l *Layout) Apertures() []Range {
	return []Range{l.IMEM, l.DMEM, l.EMEM}
}

// Validate checks the layout for internal consistency.
func (l *Layout) Validate() error {
	if l.Granularity == 0 || l.Granularity&(l.Granularity-1) != 0 {
		return fmt.Errorf("invalid granularity %#x", l.Granularity)
	}

	if l.Regions < 4 {
		return fmt.Errorf("invalid region count %d", l.Regions)
	}

	if l.VALimit == 0 {
		return errors.New("missing VA limit")
	}

	for _, r := range []Range{l.IMEM, l.DMEM, l.EMEM, l.Stack, l.FB, l.Sysmem} {
		if Overflows(r.Base, r.Size) {
			return fmt.Errorf("aperture %s overflows", r)
		}
	}

	if l.Stack.Size == 0 || !IsAligned(l.Stack.Base, WordSize) || !IsAligned(l.Stack.Size, WordSize) {
		return fmt.Errorf("invalid stack %s", l.Stack)
	}

	for _, r := range l.Apertures() {
		if r.Overlaps(l.Stack) {
			return fmt.Errorf("aperture %s overlaps stack %s", r, l.Stack)
		}
	}

	return nil
}

// The following presets describe the engines the bootloader is built for,
// every TCM is laid out at the same offsets while the DMEM stack carve-out
// and EMEM availability differ.
var (
	GSP = &Layout{
		Name:        "gsp",
		IMEM:        Range{Base: 0x00100000, Size: 0x00010000},
		DMEM:        Range{Base: 0x00180000, Size: 0x0000e000},
		Stack:       Range{Base: 0x0018e000, Size: 0x00002000},
		EMEM:        Range{Base: 0x01200000, Size: 0x00002000},
		FB:          Range{Base: 0x0000001000000000, Size: 0x0000001000000000},
		Sysmem:      Range{Base: 0x0000008000000000, Size: 0x0000008000000000},
		Granularity: PageSize,
		Regions:     DefaultRegions,
		VALimit:     DefaultVALimit,
		MPUBase:     0x00110000,
		DMABase:     0x00110400,
	}

	SEC2 = &Layout{
		Name:        "sec2",
		IMEM:        Range{Base: 0x00100000, Size: 0x00010000},
		DMEM:        Range{Base: 0x00180000, Size: 0x00007000},
		Stack:       Range{Base: 0x00187000, Size: 0x00001000},
		EMEM:        Range{Base: 0x01200000, Size: 0x00002000},
		FB:          Range{Base: 0x0000001000000000, Size: 0x0000001000000000},
		Sysmem:      Range{Base: 0x0000008000000000, Size: 0x0000008000000000},
		Granularity: PageSize,
		Regions:     DefaultRegions,
		VALimit:     DefaultVALimit,
		MPUBase:     0x00110000,
		DMABase:     0x00110400,
	}

	PMU = &Layout{
		Name:        "pmu",
		IMEM:        Range{Base: 0x00100000, Size: 0x00020000},
		DMEM:        Range{Base: 0x00180000, Size: 0x0001e000},
		Stack:       Range{Base: 0x0019e000, Size: 0x00002000},
		FB:          Range{Base: 0x0000001000000000, Size: 0x0000001000000000},
		Sysmem:      Range{Base: 0x0000008000000000, Size: 0x0000008000000000},
		Granularity: PageSize,
		Regions:     DefaultRegions,
		VALimit:     DefaultVALimit,
		MPUBase:     0x00110000,
	}
)

// LayoutByName returns the preset for the named engine.
func LayoutByName(name string) (*Layout, error) {
	for _, l := range []*Layout{GSP, SEC2, PMU} {
		if strings.EqualFold(l.Name, name) {
			return l, nil
		}
	}

	return nil, fmt.Errorf("unknown engine %q", name)
}
