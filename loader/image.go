// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package loader

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/usbarmory/riscv-bootloader/mem"
)

// image represents the untrusted ELF payload, every read goes through a
// bounds checked accessor.
type image []byte

func (img image) slice(off uint64, size uint64) ([]byte, error) {
	if mem.Overflows(off, size) || off+size > uint64(len(img)) {
		return nil, fmt.Errorf("read of %#x bytes at %#x exceeds image size %#x", size, off, len(img))
	}

	return img[off : off+size], nil
}

func (img image) decode(off uint64, v any) (err error) {
	buf, err := img.slice(off, uint64(binary.Size(v)))

	if err != nil {
		return
	}

	return binary.Read(bytes.NewReader(buf), binary.LittleEndian, v)
}

// cstring returns the NUL terminated string at off within tab.
func cstring(tab []byte, off uint32) string {
	s := tab[off:]

	if i := bytes.IndexByte(s, 0); i >= 0 {
		s = s[:i]
	}

	return string(s)
}
