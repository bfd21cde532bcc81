// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package cmd

import (
	"bytes"
	"debug/elf"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"golang.org/x/term"

	"github.com/usbarmory/riscv-bootloader/inspect/platform"
	"github.com/usbarmory/riscv-bootloader/loader"
	"github.com/usbarmory/riscv-bootloader/mpu"
	"github.com/usbarmory/riscv-bootloader/util"
)

// Target is the inspected platform.
var Target *platform.Platform

func init() {
	Add(Cmd{
		Name: "info",
		Help: "validation summary and boot geometry",
		Fn:   infoCmd,
	})

	Add(Cmd{
		Name: "phdr",
		Help: "loadable segments",
		Fn:   phdrCmd,
	})

	Add(Cmd{
		Name: "shdr",
		Help: "section headers",
		Fn:   shdrCmd,
	})

	Add(Cmd{
		Name: "mpu",
		Help: "planned MPU regions",
		Fn:   mpuCmd,
	})

	Add(Cmd{
		Name: "measure",
		Help: "ELF payload measurement",
		Fn:   measureCmd,
	})

	Add(Cmd{
		Name:    "sym",
		Args:    1,
		Pattern: regexp.MustCompile(`^sym ([[:xdigit:]]+)$`),
		Syntax:  "<hex addr>",
		Help:    "ELF symbol lookup",
		Fn:      symCmd,
	})
}

func session() (*loader.Session, error) {
	if Target == nil {
		return nil, errors.New("no platform")
	}

	return Target.Begin()
}

func infoCmd(_ *term.Terminal, _ []string) (res string, err error) {
	s, err := session()

	if err != nil {
		return
	}

	var buf bytes.Buffer

	fmt.Fprint(&buf, s.Summary())

	for i, base := range s.Bases() {
		fmt.Fprintf(&buf, "base %d:%#x\n", i, base)
	}

	return buf.String(), nil
}

func phdrCmd(_ *term.Terminal, _ []string) (res string, err error) {
	s, err := session()

	if err != nil {
		return
	}

	var buf bytes.Buffer
	t := tabwriter.NewWriter(&buf, 0, 8, 1, ' ', 0)

	fmt.Fprintf(t, "idx\tkind\tflags\tvaddr\tpaddr\tpa\tfilesz\tmemsz\n")

	for _, seg := range s.Segments() {
		fmt.Fprintf(t, "%d\t%s\t%s\t%#x\t%#x\t%#x\t%s\t%s\n",
			seg.Index, seg.Kind, elf.ProgFlag(seg.Flags&uint32(elf.PF_R|elf.PF_W|elf.PF_X)),
			seg.Vaddr, seg.Paddr, seg.PA,
			humanize.IBytes(seg.Filesz), humanize.IBytes(seg.Memsz))
	}

	t.Flush()

	return buf.String(), nil
}

func shdrCmd(_ *term.Terminal, _ []string) (res string, err error) {
	s, err := session()

	if err != nil {
		return
	}

	var buf bytes.Buffer
	t := tabwriter.NewWriter(&buf, 0, 8, 1, ' ', 0)

	fmt.Fprintf(t, "idx\tname\ttype\taddr\toff\tsize\n")

	for i, sh := range s.Sections() {
		fmt.Fprintf(t, "%d\t%s\t%s\t%#x\t%#x\t%s\n",
			i, sh.Name, elf.SectionType(sh.Type), sh.Addr, sh.Off, humanize.IBytes(sh.Size))
	}

	t.Flush()

	return buf.String(), nil
}

func mpuCmd(_ *term.Terminal, _ []string) (res string, err error) {
	s, err := session()

	if err != nil {
		return
	}

	var buf bytes.Buffer

	fmt.Fprintf(&buf, "mode:%s\n", s.Mode())

	for i, r := range s.Regions() {
		fmt.Fprintf(&buf, "%2d %s\n", i, r)
	}

	n := s.Config().Layout.Regions
	u := &mpu.Unit{Registers: mpu.NewRegisterFile(n)}
	l, st, a := s.Reserved()

	fmt.Fprintf(&buf, "%2d %s (loader)\n", u.LoaderIndex(), l)
	fmt.Fprintf(&buf, "%2d %s (stack)\n", u.StackIndex(), st)
	fmt.Fprintf(&buf, "%2d %s (args)\n", u.ArgsIndex(), a)

	return buf.String(), nil
}

func measureCmd(_ *term.Terminal, _ []string) (res string, err error) {
	if Target == nil {
		return "", errors.New("no platform")
	}

	return fmt.Sprintf("sha3-256:%x", loader.Measure(Target.Image)), nil
}

func symCmd(_ *term.Terminal, arg []string) (res string, err error) {
	if Target == nil {
		return "", errors.New("no platform")
	}

	addr, err := strconv.ParseUint(arg[0], 16, 64)

	if err != nil {
		return "", fmt.Errorf("invalid address, %v", err)
	}

	if res, err = util.SymbolAt(Target.Image, addr); err != nil {
		return
	}

	if line, err := util.PCToLine(Target.Image, addr); err == nil {
		res += " " + line
	}

	return
}
