// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package dma implements support for the engine DMA controller, used to move
// segment data from and to the frame buffer and system memory apertures.
package dma

import (
	"errors"
	"fmt"

	"github.com/cenkalti/backoff/v4"
	"k8s.io/klog/v2"

	"github.com/usbarmory/riscv-bootloader/mem"
)

// DMA operations
const (
	OP_COPY = iota + 1
	OP_ZERO
)

const (
	// DefaultBlock is the largest transfer issued with a single command.
	DefaultBlock = 0x10000
	// DefaultPolls bounds the status polls performed for each command.
	DefaultPolls = 1 << 20
)

var errBusy = errors.New("busy")

// Engine represents a DMA engine able to service copy and zero-fill
// requests.
type Engine interface {
	// Covers reports whether the engine can reach [addr, addr+size).
	Covers(addr uint64, size uint64) bool
	// Copy moves size bytes from src to dst.
	Copy(dst uint64, src uint64, size uint64) error
	// Zero clears size bytes at dst.
	Zero(dst uint64, size uint64) error
}

// Command represents a single DMA transfer.
type Command struct {
	Op   int
	Dst  uint64
	Src  uint64
	Size uint64
}

// Registers represents the DMA controller register interface.
type Registers interface {
	// Start issues a command.
	Start(cmd Command)
	// Busy reports whether the last command is still in flight, a
	// non-nil error reports a transfer fault.
	Busy() (bool, error)
}

// Controller implements Engine over a DMA controller register interface.
type Controller struct {
	Registers

	// Apertures lists the ranges reachable by the engine.
	Apertures []mem.Range
	// Block is the maximum transfer size of a single command.
	Block uint64
	// Polls bounds the status polls performed for each command.
	Polls uint64
}

// Covers implements Engine.
func (c *Controller) Covers(addr uint64, size uint64) bool {
	for _, r := range c.Apertures {
		if r.Contains(addr, size) {
			return true
		}
	}

	return false
}

func (c *Controller) wait() error {
	polls := c.Polls

	if polls == 0 {
		polls = DefaultPolls
	}

	poll := func() error {
		busy, err := c.Busy()

		if err != nil {
			return backoff.Permanent(err)
		}

		if busy {
			return errBusy
		}

		return nil
	}

	return backoff.Retry(poll, backoff.WithMaxRetries(&backoff.ZeroBackOff{}, polls))
}

func (c *Controller) run(op int, dst uint64, src uint64, size uint64) (err error) {
	block := c.Block

	if block == 0 {
		block = DefaultBlock
	}

	if mem.Overflows(dst, size) || (op == OP_COPY && mem.Overflows(src, size)) {
		return fmt.Errorf("invalid DMA transfer of %#x bytes", size)
	}

	for off := uint64(0); off < size; off += block {
		cmd := Command{
			Op:   op,
			Dst:  dst + off,
			Src:  src + off,
			Size: min(block, size-off),
		}

		klog.V(2).Infof("dma: op:%d dst:%#x src:%#x size:%#x", cmd.Op, cmd.Dst, cmd.Src, cmd.Size)

		c.Start(cmd)

		if err = c.wait(); err != nil {
			return fmt.Errorf("DMA transfer to %#x failed, %w", cmd.Dst, err)
		}
	}

	return
}

// Copy implements Engine.
func (c *Controller) Copy(dst uint64, src uint64, size uint64) error {
	return c.run(OP_COPY, dst, src, size)
}

// Zero implements Engine.
func (c *Controller) Zero(dst uint64, size uint64) error {
	return c.run(OP_ZERO, dst, 0, size)
}
