// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package loader

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/usbarmory/riscv-bootloader/dma"
	"github.com/usbarmory/riscv-bootloader/internal/elftest"
	"github.com/usbarmory/riscv-bootloader/mem"
	"github.com/usbarmory/riscv-bootloader/mpu"
)

const (
	reservedBase = 0x1000
	reservedSize = 0x3000
	loaderBase   = 0x10000
	loaderSize   = 0x10000
	elfOffset    = 0x1000
	argsBase     = 0x40000
	argsSize     = 0x100
	fbBase       = 0x1000000000
	wprID        = 3
)

func pattern(n int, seed byte) []byte {
	buf := make([]byte, n)

	for i := range buf {
		buf[i] = seed + byte(i%200) + 1
	}

	return buf
}

func testConfig() Config {
	return Config{Layout: mem.GSP}
}

func testParams(img []byte, base uint64) Params {
	return Params{
		ELFBase:      base + elfOffset,
		ELFSize:      uint64(len(img)),
		ArgsBase:     argsBase,
		ArgsSize:     argsSize,
		LoaderBase:   base,
		LoaderSize:   loaderSize,
		ReservedBase: reservedBase,
		ReservedSize: reservedSize,
		WPRID:        wprID,
	}
}

// flatImage returns a two segment image placed in the reserved region.
func flatImage() *elftest.Image {
	return &elftest.Image{
		Entry: 0x1000,
		Segments: []elftest.Segment{
			{Flags: elf.PF_R | elf.PF_X, Paddr: 0x1000, Vaddr: 0x1000, Data: pattern(0x100, 1), Memsz: 0x200},
			{Flags: elf.PF_R | elf.PF_W, Paddr: 0x2000, Vaddr: 0x2000, Data: pattern(0x50, 2)},
		},
		Sections: []elftest.Section{
			{Name: ".text", Type: elf.SHT_PROGBITS, Flags: elf.SHF_ALLOC | elf.SHF_EXECINSTR, Addr: 0x1000, Data: pattern(0x10, 1)},
			{Name: ".bss", Type: elf.SHT_NOBITS, Flags: elf.SHF_ALLOC | elf.SHF_WRITE, Addr: 0x1100, Size: 0x100},
		},
	}
}

type testSink struct {
	disabled bool
}

func (s *testSink) Disable() {
	s.disabled = true
}

type testMachine struct {
	*Machine

	sim    *mem.Sim
	regs   *mpu.RegisterFile
	dma    *dma.SimRegisters
	rec    *Recorder
	sink   *testSink
	halted error
}

func newMachine(t *testing.T, p Params, img []byte) *testMachine {
	t.Helper()

	sim, err := mem.NewSim(
		mem.Range{Base: reservedBase, Size: reservedSize},
		mem.Range{Base: loaderBase, Size: loaderSize},
		mem.Range{Base: fbBase, Size: loaderSize},
		mem.Range{Base: argsBase, Size: mem.PageSize},
		mem.GSP.IMEM,
		mem.Range{Base: mem.GSP.DMEM.Base, Size: mem.GSP.DMEM.Size + mem.GSP.Stack.Size},
	)

	if err != nil {
		t.Fatalf("NewSim: %v", err)
	}

	for _, r := range []mem.Range{{Base: reservedBase, Size: reservedSize}, mem.GSP.IMEM, mem.GSP.DMEM, mem.GSP.Stack} {
		if err := sim.Write(r.Base, bytes.Repeat([]byte{0xff}, int(r.Size))); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}

	if err := sim.Write(p.ELFBase, img); err != nil {
		t.Fatalf("Write: %v", err)
	}

	m := &testMachine{
		sim:  sim,
		regs: mpu.NewRegisterFile(mem.DefaultRegions),
		dma:  &dma.SimRegisters{Memory: sim, Latency: 2},
		rec:  &Recorder{},
		sink: &testSink{},
	}

	m.Machine = &Machine{
		Memory: sim,
		DMA: &dma.Controller{
			Registers: m.dma,
			Apertures: []mem.Range{mem.GSP.FB, mem.GSP.Sysmem},
		},
		MPU:    &mpu.Unit{Registers: m.regs},
		Sink:   m.sink,
		Jumper: m.rec,
		Halt: func(err error) {
			m.halted = err
		},
	}

	return m
}

func (m *testMachine) read(t *testing.T, addr uint64, size uint64) []byte {
	t.Helper()

	buf, err := m.sim.Read(addr, size)

	if err != nil {
		t.Fatalf("Read(%#x): %v", addr, err)
	}

	return buf
}

func begin(t *testing.T, cfg Config, img []byte, p Params) *Session {
	t.Helper()

	s, err := Begin(cfg, img, p)

	if err != nil {
		t.Fatalf("Begin: %v", err)
	}

	return s
}

func run(t *testing.T, s *Session, m *testMachine) {
	t.Helper()

	s.LoadAndJump(m.Machine)

	if !errors.Is(m.halted, ErrReturned) {
		t.Fatalf("LoadAndJump halted with %v", m.halted)
	}

	if m.rec.Handoff == nil {
		t.Fatalf("no handoff recorded")
	}

	if !m.sink.disabled {
		t.Errorf("diagnostic sink not disabled")
	}
}

func TestFlatScenario(t *testing.T) {
	img := flatImage().Build()
	p := testParams(img, loaderBase)
	s := begin(t, testConfig(), img, p)
	m := newMachine(t, p, img)

	if s.Mode() != Flat {
		t.Fatalf("Mode = %s, want flat", s.Mode())
	}

	run(t, s, m)

	want := append(pattern(0x100, 1), make([]byte, 0x100)...)

	if got := m.read(t, 0x1000, 0x200); !bytes.Equal(got, want) {
		t.Errorf("segment A = %x, want %x", got, want)
	}

	if got := m.read(t, 0x2000, 0x50); !bytes.Equal(got, pattern(0x50, 2)) {
		t.Errorf("segment B = %x", got)
	}

	if got := m.read(t, 0x2050, 1); got[0] != 0xff {
		t.Errorf("byte past segment B modified")
	}

	if got := m.read(t, mem.GSP.Stack.Base, mem.GSP.Stack.Size); !bytes.Equal(got, make([]byte, mem.GSP.Stack.Size)) {
		t.Errorf("stack not scrubbed")
	}

	wantHandoff := Handoff{
		Entry:        0x1000,
		ArgsPA:       argsBase,
		ArgsVA:       argsBase,
		StackLo:      mem.GSP.Stack.Base,
		StackHi:      mem.GSP.Stack.End(),
		ELFPA:        loaderBase + elfOffset,
		ELFSize:      uint64(len(img)),
		ReservedBase: reservedBase,
		WPRID:        wprID,
	}

	if diff := cmp.Diff(wantHandoff, *m.rec.Handoff); diff != "" {
		t.Errorf("Handoff diff (-want +got):\n%s", diff)
	}

	if m.regs.Translation() {
		t.Errorf("translation enabled in flat mode")
	}

	u := m.MPU

	for i := 0; i < u.Regions(); i++ {
		if valid := m.regs.Entry(i).Valid(); valid != (i == u.ArgsIndex()) {
			t.Errorf("region %d valid:%v", i, valid)
		}
	}

	if got := m.regs.Entry(u.ArgsIndex()); got.PA != argsBase || got.VA != argsBase|mpu.VA_VALID {
		t.Errorf("boot arguments region = %+v", got)
	}

	if words := m.rec.Handoff.Words(); words[0] != 0x1000 || words[8] != wprID {
		t.Errorf("Words = %x", words)
	}
}

func TestFlatModeAlignment(t *testing.T) {
	t.Run("unaligned identity accepted", func(t *testing.T) {
		i := flatImage()
		i.Segments[0].Vaddr = 0x1001
		i.Segments[0].Paddr = 0x1001
		img := i.Build()

		s := begin(t, testConfig(), img, testParams(img, loaderBase))

		if got := s.Segments()[0].PA; got != 0x1001 {
			t.Errorf("PA = %#x, want 0x1001", got)
		}
	})

	t.Run("vaddr differs from paddr", func(t *testing.T) {
		i := flatImage()
		i.Segments[0].Vaddr = 0x1001
		img := i.Build()

		if _, err := Begin(testConfig(), img, testParams(img, loaderBase)); !errors.Is(err, ErrLoadFailure) {
			t.Errorf("Begin = %v, want %v", err, ErrLoadFailure)
		}
	})

	t.Run("unaligned rejected with MPU", func(t *testing.T) {
		i := flatImage()
		i.Segments[0].Vaddr = 0x1001
		i.Segments[0].Paddr = 0x1001
		i.MPU = &elftest.MPUInfo{Mode: uint32(Automatic)}
		img := i.Build()

		if _, err := Begin(testConfig(), img, testParams(img, loaderBase)); !errors.Is(err, ErrLoadFailure) {
			t.Errorf("Begin = %v, want %v", err, ErrLoadFailure)
		}
	})
}

func TestManualScenario(t *testing.T) {
	i := flatImage()
	i.MPU = &elftest.MPUInfo{
		Mode: uint32(Manual),
		Regions: []elftest.MPURegion{
			{VA: 0x1000, PA: 0x1000, Range: 0x1000, Attr: 0},
		},
	}
	img := i.Build()
	p := testParams(img, loaderBase)
	s := begin(t, testConfig(), img, p)
	m := newMachine(t, p, img)

	if lo, hi := s.Bounds(); lo != 0x1000 || hi != 0x3000 {
		t.Errorf("Bounds = %#x-%#x, want 0x1000-0x3000", lo, hi)
	}

	run(t, s, m)

	u := m.MPU
	g := uint64(mem.PageSize)

	for _, test := range []struct {
		desc  string
		index int
		want  mpu.Entry
	}{
		{
			desc:  "declared region",
			index: 0,
			want:  mpu.Entry{PA: 0x1000 | wprID<<mem.AddressBits, Range: 0x1000, VA: 0x1000 | mpu.VA_VALID},
		},
		{
			desc:  "loader",
			index: u.LoaderIndex(),
			want:  mpu.Entry{PA: loaderBase | wprID<<mem.AddressBits, Range: loaderSize, Attr: loaderAttr, VA: 0x4000 | mpu.VA_VALID},
		},
		{
			desc:  "stack",
			index: u.StackIndex(),
			want:  mpu.Entry{PA: mem.GSP.Stack.Base, Range: mem.GSP.Stack.Size, Attr: stackAttr, VA: (0x4000 + loaderSize + g) | mpu.VA_VALID},
		},
		{
			desc:  "boot arguments",
			index: u.ArgsIndex(),
			want:  mpu.Entry{PA: argsBase, Range: g, Attr: argsAttr, VA: (0x4000 + loaderSize + g + mem.GSP.Stack.Size + g) | mpu.VA_VALID},
		},
	} {
		t.Run(test.desc, func(t *testing.T) {
			if diff := cmp.Diff(test.want, m.regs.Entry(test.index)); diff != "" {
				t.Errorf("region %d diff (-want +got):\n%s", test.index, diff)
			}
		})
	}

	if !m.regs.Translation() {
		t.Errorf("translation disabled")
	}

	if h := m.rec.Handoff; h.ArgsVA != 0x18000 || h.StackLo != 0x15000 || h.StackHi != 0x17000 {
		t.Errorf("Handoff = %s", h)
	}

	if pa, _, ok := m.regs.Lookup(0x4010); !ok || pa != loaderBase+0x10 {
		t.Errorf("Lookup(0x4010) = %#x, %v", pa, ok)
	}
}

func automaticImage() *elftest.Image {
	return &elftest.Image{
		Entry: 0x80000000,
		Segments: []elftest.Segment{
			{Flags: elf.PF_R | elf.PF_X, Paddr: 0x100000, Vaddr: 0x80000000, Data: pattern(0x234, 3)},
			{Flags: elf.PF_R | elf.PF_W, Paddr: 0x180000, Vaddr: 0x80010000, Data: pattern(0x30, 4), Memsz: 0x1800},
			{Flags: elf.PF_R | elf.PF_W | 1<<mpu.PF_LWPU_USER, Paddr: TagAddr(ReservedBase, 0x1000), Vaddr: 0x80020000, Data: pattern(0x10, 5), Memsz: 0x1000},
		},
		MPU: &elftest.MPUInfo{Mode: uint32(Automatic)},
	}
}

func TestRoundTripPlacement(t *testing.T) {
	cfg := testConfig()
	cfg.DMA = true

	img := automaticImage().Build()
	p := testParams(img, fbBase)
	s := begin(t, cfg, img, p)
	m := newMachine(t, p, img)

	run(t, s, m)

	for _, seg := range s.Segments() {
		if !mem.IsAligned(seg.Vaddr, mem.PageSize) || !mem.IsAligned(seg.PA, mem.PageSize) {
			t.Errorf("segment %d misaligned pa:%#x va:%#x", seg.Index, seg.PA, seg.Vaddr)
		}

		want := append(bytes.Clone(img[seg.Off:seg.Off+seg.Filesz]), make([]byte, seg.Memsz-seg.Filesz)...)

		if got := m.read(t, seg.PA, seg.Memsz); !bytes.Equal(got, want) {
			t.Errorf("segment %d at %#x not loaded", seg.Index, seg.PA)
		}
	}

	if got := s.Segments()[2].PA; got != reservedBase+0x1000 {
		t.Errorf("tagged segment PA = %#x, want %#x", got, reservedBase+0x1000)
	}

	if len(m.dma.Commands) == 0 {
		t.Errorf("DMA engine unused")
	}

	wantRegions := []mpu.Region{
		{VA: 0x80000000, PA: 0x100000, Range: 0x1000, Attr: mpu.FlagsAttr(uint32(elf.PF_R | elf.PF_X))},
		{VA: 0x80010000, PA: 0x180000, Range: 0x2000, Attr: mpu.FlagsAttr(uint32(elf.PF_R | elf.PF_W))},
		{VA: 0x80020000, PA: 0x2000, Range: 0x1000, Attr: mpu.FlagsAttr(uint32(elf.PF_R|elf.PF_W) | 1<<mpu.PF_LWPU_USER), WPR: wprID},
	}

	if diff := cmp.Diff(wantRegions, s.Regions()); diff != "" {
		t.Errorf("Regions diff (-want +got):\n%s", diff)
	}

	wantHandoff := Handoff{
		Entry:        0x80000000,
		ArgsPA:       argsBase,
		ArgsVA:       0x7fffe000,
		StackLo:      0x7fffb000,
		StackHi:      0x7fffd000,
		ELFPA:        fbBase + elfOffset,
		ELFSize:      uint64(len(img)),
		ReservedBase: reservedBase,
		WPRID:        wprID,
	}

	if diff := cmp.Diff(wantHandoff, *m.rec.Handoff); diff != "" {
		t.Errorf("Handoff diff (-want +got):\n%s", diff)
	}

	for _, test := range []struct {
		va uint64
		pa uint64
	}{
		{va: 0x80000010, pa: 0x100010},
		{va: 0x80010800, pa: 0x180800},
		{va: 0x80020000, pa: 0x2000},
		{va: 0x7ffea000, pa: fbBase},
	} {
		if pa, _, ok := m.regs.Lookup(test.va); !ok || pa != test.pa {
			t.Errorf("Lookup(%#x) = %#x, %v, want %#x", test.va, pa, ok, test.pa)
		}
	}
}

func TestZeroFill(t *testing.T) {
	for _, test := range []struct {
		desc       string
		production bool
		simulated  bool
		wantZero   bool
	}{
		{desc: "hardware", wantZero: true},
		{desc: "simulation", simulated: true},
		{desc: "production simulation", production: true, simulated: true, wantZero: true},
	} {
		t.Run(test.desc, func(t *testing.T) {
			cfg := testConfig()
			cfg.SkipZeroOnSimulation = true
			cfg.Production = test.production

			img := flatImage().Build()
			p := testParams(img, loaderBase)
			s := begin(t, cfg, img, p)
			m := newMachine(t, p, img)
			m.Simulated = test.simulated

			run(t, s, m)

			want := byte(0xff)

			if test.wantZero {
				want = 0
			}

			if got := m.read(t, 0x1100, 0x100); !bytes.Equal(got, bytes.Repeat([]byte{want}, 0x100)) {
				t.Errorf("zero-fill area = %x, want %#x", got[:8], want)
			}
		})
	}
}

func inPlaceImage() *elftest.Image {
	return &elftest.Image{
		Entry: 0x80000000,
		Segments: []elftest.Segment{
			{Flags: elf.PF_R | elf.PF_X, Paddr: TagAddr(RunInPlaceBase, 0), Vaddr: 0x80000000, Data: pattern(0x800, 6), FileAlign: mem.PageSize},
			{Flags: elf.PF_R | elf.PF_W, Paddr: TagAddr(OdpCowBase, 0), Vaddr: 0x80010000, Data: pattern(0x1000, 7), FileAlign: mem.PageSize},
			{Flags: elf.PF_R | elf.PF_W, Paddr: 0x180000, Vaddr: 0x80020000, Data: pattern(0x40, 8), Memsz: 0x100},
		},
		MPU: &elftest.MPUInfo{Mode: uint32(Automatic)},
	}
}

func TestRunInPlace(t *testing.T) {
	cfg := testConfig()
	cfg.RunInPlace = true
	cfg.OdpCow = true

	img := inPlaceImage().Build()
	p := testParams(img, loaderBase)
	s := begin(t, cfg, img, p)
	m := newMachine(t, p, img)

	segs := s.Segments()

	for i, kind := range []Kind{RunInPlace, OdpCow} {
		want := p.ELFBase + elftest.Phdr(img, i).Off

		if segs[i].Kind != kind || segs[i].PA != want {
			t.Errorf("segment %d = %s at %#x, want %s at %#x", i, segs[i].Kind, segs[i].PA, kind, want)
		}

		if r := s.Regions()[i]; r.PA != want || r.WPR != wprID {
			t.Errorf("region %d = %s", i, r)
		}
	}

	if pa, err := s.Remap(nil, TagAddr(RunInPlaceBase, 0x10)); err != nil || pa != segs[0].PA+0x10 {
		t.Errorf("Remap = %#x, %v, want %#x", pa, err, segs[0].PA+0x10)
	}

	run(t, s, m)

	if got := m.read(t, p.ELFBase, p.ELFSize); !bytes.Equal(got, img) {
		t.Errorf("ELF image modified by in place segments")
	}

	if got := m.read(t, 0x180000, 0x100); !bytes.Equal(got, append(pattern(0x40, 8), make([]byte, 0xc0)...)) {
		t.Errorf("copied segment not loaded")
	}

	for _, test := range []struct {
		desc   string
		mutate func(i *elftest.Image)
		cfg    func(c *Config)
	}{
		{
			desc:   "writable run in place",
			mutate: func(i *elftest.Image) { i.Segments[0].Flags |= elf.PF_W },
		},
		{
			desc:   "run in place zero-fill",
			mutate: func(i *elftest.Image) { i.Segments[0].Memsz = 0x1000 },
		},
		{
			desc: "run in place disabled",
			cfg:  func(c *Config) { c.RunInPlace, c.OdpCow = false, false },
		},
		{
			desc: "copy-on-write disabled",
			cfg:  func(c *Config) { c.OdpCow = false },
		},
		{
			desc:   "misaligned in place data",
			mutate: func(i *elftest.Image) { i.Segments[0].FileAlign = 8 },
		},
	} {
		t.Run(test.desc, func(t *testing.T) {
			i := inPlaceImage()
			c := cfg

			if test.mutate != nil {
				test.mutate(i)
			}

			if test.cfg != nil {
				test.cfg(&c)
			}

			img := i.Build()

			if _, err := Begin(c, img, testParams(img, loaderBase)); !errors.Is(err, ErrLoadFailure) {
				t.Errorf("Begin = %v, want %v", err, ErrLoadFailure)
			}
		})
	}
}

func TestEntryRejected(t *testing.T) {
	for _, test := range []struct {
		desc  string
		entry uint64
		mpu   *elftest.MPUInfo
	}{
		{desc: "misaligned", entry: 0x1001},
		{desc: "outside apertures", entry: 0x50000},
		{desc: "unpopulated tag", entry: TagAddr(RunInPlaceBase, 0)},
		{desc: "outside va bounds", entry: 0x5000, mpu: &elftest.MPUInfo{Mode: uint32(Automatic)}},
	} {
		t.Run(test.desc, func(t *testing.T) {
			i := flatImage()
			i.Entry = test.entry
			i.MPU = test.mpu
			img := i.Build()
			p := testParams(img, loaderBase)
			s := begin(t, testConfig(), img, p)
			m := newMachine(t, p, img)

			s.LoadAndJump(m.Machine)

			if !errors.Is(m.halted, ErrLoadFailure) {
				t.Errorf("halted with %v, want %v", m.halted, ErrLoadFailure)
			}

			if m.rec.Handoff != nil {
				t.Errorf("jumped despite invalid entry")
			}

			// nothing is mutated before the entry point is validated
			if got := m.read(t, 0x1000, 0x10); !bytes.Equal(got, bytes.Repeat([]byte{0xff}, 0x10)) {
				t.Errorf("segment loaded despite invalid entry")
			}
		})
	}
}

type tracingRegisters struct {
	*mpu.RegisterFile
	ops []string
}

func (r *tracingRegisters) Clear() {
	r.ops = append(r.ops, "clear")
	r.RegisterFile.Clear()
}

func (r *tracingRegisters) SetTranslation(on bool) {
	if on {
		r.ops = append(r.ops, "on")
	} else {
		r.ops = append(r.ops, "off")
	}

	r.RegisterFile.SetTranslation(on)
}

func TestIdentityBypass(t *testing.T) {
	cfg := testConfig()
	cfg.IdentityBypass = true

	img := flatImage().Build()
	p := testParams(img, loaderBase)
	s := begin(t, cfg, img, p)
	m := newMachine(t, p, img)

	regs := &tracingRegisters{RegisterFile: m.regs}
	m.MPU = &mpu.Unit{Registers: regs}

	run(t, s, m)

	if diff := cmp.Diff([]string{"clear", "on", "clear", "off"}, regs.ops); diff != "" {
		t.Errorf("MPU operations diff (-want +got):\n%s", diff)
	}

	// the identity regions do not survive the final clear
	if m.regs.Entry(0).Valid() || m.regs.Entry(1).Valid() {
		t.Errorf("identity regions left installed")
	}
}

func TestMPUMismatch(t *testing.T) {
	img := flatImage().Build()
	p := testParams(img, loaderBase)
	s := begin(t, testConfig(), img, p)
	m := newMachine(t, p, img)
	m.MPU = &mpu.Unit{Registers: mpu.NewRegisterFile(16)}

	s.LoadAndJump(m.Machine)

	if !errors.Is(m.halted, ErrLoadFailure) {
		t.Errorf("halted with %v, want %v", m.halted, ErrLoadFailure)
	}
}

func TestSummary(t *testing.T) {
	img := automaticImage().Build()
	s := begin(t, testConfig(), img, testParams(img, loaderBase))

	if !bytes.Contains([]byte(s.Summary()), []byte("mode:automatic")) {
		t.Errorf("Summary = %q", s.Summary())
	}

	if s.Measurement() != Measure(img) {
		t.Errorf("Measurement mismatch")
	}

	if got := binary.LittleEndian.Uint16(img[16:]); got != uint16(elf.ET_EXEC) {
		t.Errorf("unexpected image type %d", got)
	}
}
