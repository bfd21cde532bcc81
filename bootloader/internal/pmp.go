// Copyright (c) WithSecure Corporation
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

//go:build tamago && riscv64

package gotee

import (
	"github.com/usbarmory/tamago/riscv64"
	"github.com/usbarmory/tamago/soc/sifive/fu540"

	"github.com/usbarmory/GoTEE/monitor"
)

// configurePMP grants the loaded program access to the whole physical
// address space except the bootloader portions of the carveout.
func (j *Jumper) configurePMP(ctx *monitor.ExecCtx, i int) (err error) {
	// The emulated SoC has no engine MPU, the carveout is therefore
	// protected with PMP entries in TOR mode.

	if err = fu540.RV64.WritePMP(i, 0, false, false, false, riscv64.PMP_A_OFF, false); err != nil {
		return
	}
	i += 1

	for _, e := range j.pmpLayout() {
		if err = fu540.RV64.WritePMP(i, e.addr, e.rwx, e.rwx, e.rwx, riscv64.PMP_A_TOR, false); err != nil {
			return
		}
		i += 1
	}

	return
}
