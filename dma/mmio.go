// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package dma

import (
	"errors"
	"sync/atomic"
	"unsafe"
)

// DMA registers
const (
	DMA_SRC    = 0x00
	DMA_DST    = 0x08
	DMA_SIZE   = 0x10
	DMA_CMD    = 0x18
	DMA_STATUS = 0x20

	STATUS_BUSY  = 0
	STATUS_FAULT = 1
)

// MMIO implements Registers over the memory mapped DMA register block.
type MMIO struct {
	// Base is the register block base address
	Base uint
}

func (m *MMIO) reg(off uint) *uint64 {
	return (*uint64)(unsafe.Pointer(uintptr(m.Base + off)))
}

// Start implements Registers.
func (m *MMIO) Start(cmd Command) {
	atomic.StoreUint64(m.reg(DMA_SRC), cmd.Src)
	atomic.StoreUint64(m.reg(DMA_DST), cmd.Dst)
	atomic.StoreUint64(m.reg(DMA_SIZE), cmd.Size)
	atomic.StoreUint64(m.reg(DMA_CMD), uint64(cmd.Op))
}

// Busy implements Registers.
func (m *MMIO) Busy() (bool, error) {
	status := atomic.LoadUint64(m.reg(DMA_STATUS))

	if status&(1<<STATUS_FAULT) != 0 {
		return false, errors.New("transfer fault")
	}

	return status&(1<<STATUS_BUSY) != 0, nil
}
