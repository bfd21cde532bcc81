// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package mem

const (
	// WordSize is the natural alignment of the RV64 core, every geometry
	// input handed to the loader must honour it.
	WordSize = 8

	// PageSize is the default MPU granularity.
	PageSize = 0x1000

	// InstructionAlign is the minimum instruction length (RVC).
	InstructionAlign = 2

	// DefaultRegions is the number of MPU regions implemented by the
	// engine cores covered by the presets.
	DefaultRegions = 64

	// DefaultVALimit bounds the virtual address space searched for
	// free slices when translation is enabled.
	DefaultVALimit = 1 << 48

	// AddressBits is the width of a physical address as seen by the MPU
	// physical-base register, the bits above it carry the WPR id.
	AddressBits = 56
	AddressMask = 1<<AddressBits - 1
)
