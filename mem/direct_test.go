// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

//go:build tamago

package mem

import (
	"bytes"
	"testing"
	"unsafe"
)

func TestDirectUnaligned(t *testing.T) {
	buf := bytes.Repeat([]byte{0xff}, 0x200)
	base := uint64(uintptr(unsafe.Pointer(&buf[0])))

	d := &Direct{}

	// odd start and size, as for the zero fill after a segment filesz
	if err := d.Zero(base+0x51, 0xaf); err != nil {
		t.Fatalf("Zero: %v", err)
	}

	if err := d.Copy(base+0x101, base+0x50, 0x3); err != nil {
		t.Fatalf("Copy: %v", err)
	}

	got, err := d.Read(base+0x100, 5)

	if err != nil {
		t.Fatalf("Read: %v", err)
	}

	if want := []byte{0xff, 0xff, 0, 0, 0xff}; !bytes.Equal(got, want) {
		t.Errorf("Read = %x, want %x", got, want)
	}

	if buf[0x50] != 0xff || buf[0x51] != 0 || buf[0xff] != 0 || buf[0x100] != 0xff {
		t.Errorf("Zero touched bytes outside [%#x-%#x)", 0x51, 0x100)
	}
}
