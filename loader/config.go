// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package loader

import (
	"errors"
	"fmt"

	"github.com/usbarmory/riscv-bootloader/mem"
)

// Config represents the build configuration of the bootloader.
type Config struct {
	// Layout is the engine memory layout
	Layout *mem.Layout

	// RunInPlace enables the run-in-place load base, segments tagged
	// with it are mapped directly onto the ELF image.
	RunInPlace bool
	// OdpCow enables the copy-on-write run-in-place load base, it
	// requires RunInPlace.
	OdpCow bool

	// DMA enables servicing copy and zero-fill through the DMA engine
	// when it can reach the source or target.
	DMA bool

	// Production marks production builds, which never skip zero-fill.
	Production bool
	// SkipZeroOnSimulation skips zero-fill on simulated platforms.
	SkipZeroOnSimulation bool

	// IdentityBypass installs identity MPU regions before loading, for
	// hardware where WPR/GSC restrictions would otherwise block access
	// to the bootloader image.
	IdentityBypass bool
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() (err error) {
	if c.Layout == nil {
		return errors.New("missing memory layout")
	}

	if err = c.Layout.Validate(); err != nil {
		return fmt.Errorf("invalid %s layout, %v", c.Layout.Name, err)
	}

	if c.OdpCow && !c.RunInPlace {
		return errors.New("copy-on-write in place requires run in place")
	}

	return
}

// Params represents the boot geometry handed to the bootloader.
type Params struct {
	// ELFBase and ELFSize locate the ELF payload.
	ELFBase uint64
	ELFSize uint64

	// ArgsBase and ArgsSize locate the boot arguments.
	ArgsBase uint64
	ArgsSize uint64

	// LoaderBase and LoaderSize locate the whole bootloader image
	// (bootloader, parameters, ELF payload and padding).
	LoaderBase uint64
	LoaderSize uint64

	// ReservedBase and ReservedSize locate the pre-reserved read/write
	// region.
	ReservedBase uint64
	ReservedSize uint64

	// WPRID is the WPR/GSC id this firmware booted from.
	WPRID uint64
}

// Loader returns the bootloader footprint.
func (p *Params) Loader() mem.Range {
	return mem.Range{Base: p.LoaderBase, Size: p.LoaderSize}
}

// Reserved returns the pre-reserved read/write region.
func (p *Params) Reserved() mem.Range {
	return mem.Range{Base: p.ReservedBase, Size: p.ReservedSize}
}

// ELF returns the ELF payload range.
func (p *Params) ELF() mem.Range {
	return mem.Range{Base: p.ELFBase, Size: p.ELFSize}
}

// Args returns the boot arguments range.
func (p *Params) Args() mem.Range {
	return mem.Range{Base: p.ArgsBase, Size: p.ArgsSize}
}
