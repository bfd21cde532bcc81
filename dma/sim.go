// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package dma

import (
	"fmt"

	"github.com/usbarmory/riscv-bootloader/mem"
)

// SimRegisters implements Registers over a Physical memory model, commands
// complete after Latency status polls.
type SimRegisters struct {
	Memory  mem.Physical
	Latency int

	// Commands records every issued command.
	Commands []Command

	pending int
	err     error
}

// Start implements Registers.
func (s *SimRegisters) Start(cmd Command) {
	s.Commands = append(s.Commands, cmd)
	s.pending = s.Latency

	switch cmd.Op {
	case OP_COPY:
		s.err = s.Memory.Copy(cmd.Dst, cmd.Src, cmd.Size)
	case OP_ZERO:
		s.err = s.Memory.Zero(cmd.Dst, cmd.Size)
	default:
		s.err = fmt.Errorf("invalid op %d", cmd.Op)
	}
}

// Busy implements Registers.
func (s *SimRegisters) Busy() (bool, error) {
	if s.pending > 0 {
		s.pending--
		return true, nil
	}

	return false, s.err
}
