// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package loader

import (
	"encoding/binary"

	"golang.org/x/crypto/sha3"
)

const (
	// BootArgsVersion is the only supported boot arguments version.
	BootArgsVersion = 1

	// the boot arguments start with {u32 size; u32 version}
	bootArgsHeader = 8

	measurementPrefix = "riscv-bootloader"
)

// CheckBootArgs validates the boot arguments header, the rest of the
// structure is opaque and forwarded to the loaded program.
func CheckBootArgs(raw []byte) error {
	if len(raw) < bootArgsHeader {
		return fail(ErrBadBootArgs, "undersized boot arguments (%d)", len(raw))
	}

	size := binary.LittleEndian.Uint32(raw[0:])
	version := binary.LittleEndian.Uint32(raw[4:])

	if version != BootArgsVersion {
		return fail(ErrBadBootArgs, "unsupported version %d", version)
	}

	if size < bootArgsHeader || uint64(size) > uint64(len(raw)) {
		return fail(ErrBadBootArgs, "invalid size %d (available %d)", size, len(raw))
	}

	return nil
}

// Fuses represents the hardware security fuse state.
type Fuses struct {
	// DebugLocked reports whether external debug access is fused off.
	DebugLocked bool
	// Simulated reports whether the platform is a simulator or emulator.
	Simulated bool
}

// CheckFusing verifies that production builds only run on hardware with
// debug access fused off.
func CheckFusing(cfg Config, f Fuses) error {
	if cfg.Production && !f.DebugLocked {
		return fail(ErrBadFusing, "production build on debug-unlocked hardware")
	}

	return nil
}

// Measure returns the SHA3-256 measurement of the ELF payload.
func Measure(img []byte) (sum [32]byte) {
	h := sha3.New256()
	h.Write([]byte(measurementPrefix))
	h.Write(img)
	copy(sum[:], h.Sum(nil))

	return
}
