// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package cmd

import (
	"bytes"
	"debug/elf"
	"errors"
	"io"
	"strings"
	"testing"

	"golang.org/x/term"

	"github.com/usbarmory/riscv-bootloader/internal/elftest"
	"github.com/usbarmory/riscv-bootloader/inspect/platform"
	"github.com/usbarmory/riscv-bootloader/loader"
)

const testProfile = `
engine: gsp
fuses:
  simulated: true
geometry:
  loader_base: 0x10000
  loader_size: 0x10000
  elf_offset: 0x1000
  reserved_base: 0x1000
  reserved_size: 0x3000
  args_base: 0x40000
  args_size: 0x100
  wpr_id: 3
`

type output struct {
	bytes.Buffer
}

func (o *output) Read(_ []byte) (int, error) {
	return 0, io.EOF
}

func setup(t *testing.T) (*term.Terminal, *output) {
	t.Helper()

	p, err := platform.Parse([]byte(testProfile))

	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	img := (&elftest.Image{
		Entry: 0x1000,
		Segments: []elftest.Segment{
			{Flags: elf.PF_R | elf.PF_X, Paddr: 0x1000, Vaddr: 0x1000, Data: []byte("code"), Memsz: 0x80},
		},
		Sections: []elftest.Section{
			{Name: ".text", Type: elf.SHT_PROGBITS, Flags: elf.SHF_ALLOC | elf.SHF_EXECINSTR, Addr: 0x1000, Data: []byte("code")},
		},
		MPU: &elftest.MPUInfo{Mode: uint32(loader.Automatic)},
	}).Build()

	if Target, err = platform.New(p, img, nil); err != nil {
		t.Fatalf("New: %v", err)
	}

	out := &output{}

	return term.NewTerminal(out, ""), out
}

func TestCommands(t *testing.T) {
	for _, test := range []struct {
		line string
		want []string
	}{
		{"help", []string{"args", "boot", "peek", "reset", "sym", "# close session"}},
		{"args", []string{"pa:0x40000", "(valid)"}},
		{"reset", []string{"banks restored"}},
		{"info", []string{"engine:gsp", "mode:automatic", "base 0:0x1000"}},
		{"phdr", []string{"literal", "PF_X+PF_R", "128 B"}},
		{"shdr", []string{".text", "SHT_PROGBITS", ".shstrtab"}},
		{"mpu", []string{"mode:automatic", "va:0x0000000000001000 pa:0x0000000000001000 range:0x1000", "(loader)", "(args)"}},
		{"measure", []string{"sha3-256:"}},
		{"peek 11000 16", []string{"7f 45 4c 46"}},
		{"boot", []string{"pc 0x0000000000001000", "a0 0x0000000000040000", "translation:true"}},
	} {
		t.Run(test.line, func(t *testing.T) {
			term, out := setup(t)

			if err := Handle(term, test.line); err != nil {
				t.Fatalf("Handle(%q): %v", test.line, err)
			}

			for _, want := range test.want {
				if !strings.Contains(out.String(), want) {
					t.Errorf("Handle(%q) output does not contain %q:\n%s", test.line, want, out.String())
				}
			}
		})
	}
}

func TestHandleErrors(t *testing.T) {
	term, _ := setup(t)

	if err := Handle(term, "wibble"); err == nil {
		t.Errorf("Handle accepted an unknown command")
	}

	if err := Handle(term, "exit"); !errors.Is(err, io.EOF) {
		t.Errorf("Handle(exit) = %v, want io.EOF", err)
	}

	if err := Handle(term, "sym 1000"); err == nil {
		t.Errorf("sym succeeded without a symbol table")
	}

	if err := Handle(term, "peek 50000 16"); err == nil {
		t.Errorf("peek succeeded on unmapped memory")
	}

	Target.Params.ArgsBase = 0

	if err := Handle(term, "args"); !errors.Is(err, loader.ErrBadBootArgs) {
		t.Errorf("Handle(args) = %v, want %v", err, loader.ErrBadBootArgs)
	}
}

func TestBootFailure(t *testing.T) {
	term, _ := setup(t)
	Target.Profile.Build.Production = true
	Target.Config.Production = true

	if err := Handle(term, "boot"); !errors.Is(err, loader.ErrBadFusing) {
		t.Errorf("Handle(boot) = %v, want %v", err, loader.ErrBadFusing)
	}
}
