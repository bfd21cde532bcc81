// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package cmd

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"regexp"

	"github.com/dustin/go-humanize"
	"golang.org/x/term"

	"github.com/usbarmory/riscv-bootloader/loader"
)

func init() {
	Add(Cmd{
		Name: "help",
		Help: "this help",
		Fn:   helpCmd,
	})

	Add(Cmd{
		Name:    "exit, quit",
		Args:    1,
		Pattern: regexp.MustCompile(`^(exit|quit)$`),
		Help:    "close session",
		Fn:      exitCmd,
	})

	Add(Cmd{
		Name: "args",
		Help: "boot arguments header",
		Fn:   argsCmd,
	})

	Add(Cmd{
		Name: "reset",
		Help: "restore the simulated memory and MPU",
		Fn:   resetCmd,
	})
}

func helpCmd(term *term.Terminal, _ []string) (string, error) {
	return Help(term), nil
}

func exitCmd(_ *term.Terminal, _ []string) (string, error) {
	return "logout", io.EOF
}

func argsCmd(_ *term.Terminal, _ []string) (res string, err error) {
	if Target == nil {
		return "", errors.New("no platform")
	}

	p := &Target.Params

	if err = p.Check(); err != nil {
		return
	}

	raw, err := Target.Memory.Read(p.ArgsBase, p.ArgsSize)

	if err != nil {
		return
	}

	status := "valid"

	if err = loader.CheckBootArgs(raw); err != nil {
		status = err.Error()
	}

	size := binary.LittleEndian.Uint32(raw[0:])
	version := binary.LittleEndian.Uint32(raw[4:])

	return fmt.Sprintf("pa:%#x buffer:%s size:%s version:%d (%s)",
		p.ArgsBase, humanize.IBytes(p.ArgsSize), humanize.IBytes(uint64(size)), version, status), nil
}

func resetCmd(_ *term.Terminal, _ []string) (res string, err error) {
	if Target == nil {
		return "", errors.New("no platform")
	}

	if err = Target.Reset(); err != nil {
		return
	}

	return fmt.Sprintf("%d banks restored", len(Target.Banks())), nil
}
