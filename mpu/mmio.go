// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package mpu

import (
	"sync/atomic"
	"unsafe"
)

// MPU registers
const (
	MPU_IDX   = 0x00
	MPU_PA    = 0x08
	MPU_RANGE = 0x10
	MPU_ATTR  = 0x18
	MPU_VA    = 0x20
	MPU_CTRL  = 0x28
	MPU_CFG   = 0x30

	CTRL_TRANSLATION = 0
	CTRL_CLEAR       = 1

	CFG_REGIONS = 0xff
)

// MMIO implements Registers over the memory mapped MPU register block.
type MMIO struct {
	// Base is the register block base address
	Base uint
}

func (m *MMIO) reg(off uint) *uint64 {
	return (*uint64)(unsafe.Pointer(uintptr(m.Base + off)))
}

func (m *MMIO) write(off uint, val uint64) {
	atomic.StoreUint64(m.reg(off), val)
}

// Regions implements Registers.
func (m *MMIO) Regions() int {
	return int(atomic.LoadUint64(m.reg(MPU_CFG)) & CFG_REGIONS)
}

// Select implements Registers.
func (m *MMIO) Select(i int) {
	m.write(MPU_IDX, uint64(i))
}

// WritePA implements Registers.
func (m *MMIO) WritePA(val uint64) {
	m.write(MPU_PA, val)
}

// WriteRange implements Registers.
func (m *MMIO) WriteRange(val uint64) {
	m.write(MPU_RANGE, val)
}

// WriteAttr implements Registers.
func (m *MMIO) WriteAttr(val uint64) {
	m.write(MPU_ATTR, val)
}

// WriteVA implements Registers.
func (m *MMIO) WriteVA(val uint64) {
	m.write(MPU_VA, val)
}

// Clear implements Registers.
func (m *MMIO) Clear() {
	ctrl := atomic.LoadUint64(m.reg(MPU_CTRL))
	m.write(MPU_CTRL, ctrl|1<<CTRL_CLEAR)
}

// SetTranslation implements Registers.
func (m *MMIO) SetTranslation(on bool) {
	ctrl := atomic.LoadUint64(m.reg(MPU_CTRL)) &^ (1 << CTRL_TRANSLATION)

	if on {
		ctrl |= 1 << CTRL_TRANSLATION
	}

	m.write(MPU_CTRL, ctrl)
}
