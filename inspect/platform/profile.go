// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package platform describes a simulated boot platform: the engine layout,
// the build configuration, the fuse state and the boot geometry that the
// target bootloader receives at link time.
package platform

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v2"

	"github.com/usbarmory/riscv-bootloader/loader"
	"github.com/usbarmory/riscv-bootloader/mem"
)

// Geometry represents the boot geometry, the ELF image is placed at
// LoaderBase+ELFOffset.
type Geometry struct {
	LoaderBase   uint64 `yaml:"loader_base"`
	LoaderSize   uint64 `yaml:"loader_size"`
	ELFOffset    uint64 `yaml:"elf_offset"`
	ReservedBase uint64 `yaml:"reserved_base"`
	ReservedSize uint64 `yaml:"reserved_size"`
	ArgsBase     uint64 `yaml:"args_base"`
	ArgsSize     uint64 `yaml:"args_size"`
	WPRID        uint64 `yaml:"wpr_id"`
}

// Build represents the build configuration axes.
type Build struct {
	RunInPlace           bool `yaml:"run_in_place"`
	OdpCow               bool `yaml:"odp_cow"`
	DMA                  bool `yaml:"dma"`
	Production           bool `yaml:"production"`
	SkipZeroOnSimulation bool `yaml:"skip_zero_on_simulation"`
	IdentityBypass       bool `yaml:"identity_bypass"`
}

// Fuses represents the simulated fuse state.
type Fuses struct {
	DebugLocked bool `yaml:"debug_locked"`
	Simulated   bool `yaml:"simulated"`
}

// Profile represents a simulated boot platform.
type Profile struct {
	// Engine selects a preset layout, ignored when Layout is set
	Engine string `yaml:"engine"`
	// Layout is an optional custom engine layout
	Layout *mem.Layout `yaml:"layout"`

	Build    Build    `yaml:"build"`
	Fuses    Fuses    `yaml:"fuses"`
	Geometry Geometry `yaml:"geometry"`

	// Memory lists additional simulated banks, typically windows of the
	// external apertures.
	Memory []mem.Range `yaml:"memory"`
}

// Parse decodes and validates a YAML profile.
func Parse(buf []byte) (p *Profile, err error) {
	p = &Profile{}

	if err = yaml.UnmarshalStrict(buf, p); err != nil {
		return nil, fmt.Errorf("invalid profile, %v", err)
	}

	if err = p.Validate(); err != nil {
		return nil, err
	}

	return
}

// Load reads and parses a YAML profile file.
func Load(path string) (*Profile, error) {
	buf, err := os.ReadFile(path)

	if err != nil {
		return nil, err
	}

	return Parse(buf)
}

func (p *Profile) layout() (*mem.Layout, error) {
	if p.Layout != nil {
		return p.Layout, nil
	}

	return mem.LayoutByName(p.Engine)
}

// Validate checks the profile for completeness, the geometry itself is
// checked by the loader.
func (p *Profile) Validate() error {
	if p.Engine == "" && p.Layout == nil {
		return errors.New("missing field: engine")
	}

	if _, err := p.layout(); err != nil {
		return err
	}

	g := p.Geometry

	if g.LoaderSize == 0 {
		return errors.New("missing field: loader_size")
	}

	if g.ReservedSize == 0 {
		return errors.New("missing field: reserved_size")
	}

	if g.ArgsSize == 0 {
		return errors.New("missing field: args_size")
	}

	if g.ELFOffset >= g.LoaderSize {
		return fmt.Errorf("elf_offset %#x outside loader", g.ELFOffset)
	}

	for _, r := range p.Memory {
		if r.Size == 0 || mem.Overflows(r.Base, r.Size) {
			return fmt.Errorf("invalid memory bank %s", r)
		}
	}

	return nil
}

// Config returns the loader configuration.
func (p *Profile) Config() (cfg loader.Config, err error) {
	l, err := p.layout()

	if err != nil {
		return
	}

	return loader.Config{
		Layout:               l,
		RunInPlace:           p.Build.RunInPlace,
		OdpCow:               p.Build.OdpCow,
		DMA:                  p.Build.DMA,
		Production:           p.Build.Production,
		SkipZeroOnSimulation: p.Build.SkipZeroOnSimulation,
		IdentityBypass:       p.Build.IdentityBypass,
	}, nil
}

// Params returns the boot geometry for an ELF image of the given size.
func (p *Profile) Params(size uint64) loader.Params {
	g := p.Geometry

	return loader.Params{
		ELFBase:      g.LoaderBase + g.ELFOffset,
		ELFSize:      size,
		ArgsBase:     g.ArgsBase,
		ArgsSize:     g.ArgsSize,
		LoaderBase:   g.LoaderBase,
		LoaderSize:   g.LoaderSize,
		ReservedBase: g.ReservedBase,
		ReservedSize: g.ReservedSize,
		WPRID:        g.WPRID,
	}
}
