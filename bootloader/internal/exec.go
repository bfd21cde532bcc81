// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

//go:build tamago && riscv64

package gotee

import (
	"fmt"

	_ "github.com/usbarmory/tamago/board/qemu/sifive_u"
	"github.com/usbarmory/tamago/dma"

	"github.com/usbarmory/GoTEE/monitor"
	"github.com/usbarmory/GoTEE/sbi"

	"k8s.io/klog/v2"

	"github.com/usbarmory/riscv-bootloader/loader"
	"github.com/usbarmory/riscv-bootloader/util"
)

func (j *Jumper) handler(ctx *monitor.ExecCtx) (err error) {
	// SBI v0.2 or higher calls are serviced, any other trap is fatal as
	// the loaded program must never return to the bootloader.
	if ctx.X17 != 0 {
		return sbi.Handler(ctx)
	}

	return fmt.Errorf("unexpected trap pc:%#x", ctx.PC)
}

// Jump implements loader.Jumper, on success it never returns.
func (j *Jumper) Jump(h loader.Handoff) (err error) {
	region, err := dma.NewRegion(uint(h.ELFPA), int(h.ELFSize), false)

	if err != nil {
		return fmt.Errorf("could not map ELF region, %v", err)
	}

	ctx, err := monitor.Load(uint(h.Entry), region, false)

	if err != nil {
		return fmt.Errorf("could not load program, %v", err)
	}

	w := h.Words()

	ctx.PC = w[0]
	ctx.X10 = w[1]
	ctx.X11 = w[2]
	ctx.X12 = w[3]
	ctx.X13 = w[4]
	ctx.X14 = w[5]
	ctx.X15 = w[6]
	ctx.X16 = w[7]
	ctx.X17 = w[8]

	// set stack pointer to the top of the program stack
	ctx.X2 = h.StackHi

	ctx.PMP = j.configurePMP
	ctx.Handler = j.handler

	err = ctx.Run()

	klog.Errorf("stopped sp:%#.8x ra:%#.8x pc:%#.8x err:%v", ctx.X2, ctx.X1, ctx.PC, err)

	if sym, e := util.SymbolAt(j.Image, ctx.PC); e == nil {
		klog.Errorf("stack trace:\n  %s", sym)
	}

	return fmt.Errorf("program returned pc:%#x, %v", ctx.PC, err)
}
