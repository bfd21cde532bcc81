// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

//go:build tamago

package mem

import (
	"fmt"

	"github.com/usbarmory/tamago/dma"
)

// Direct implements Physical on the target by mapping the requested ranges
// as tamago DMA regions.
type Direct struct{}

func (d *Direct) region(addr uint64, size uint64) (r *dma.Region, start uint, buf []byte, err error) {
	if Overflows(addr, size) || size > uint64(^uint(0)>>1) {
		return nil, 0, nil, fmt.Errorf("invalid access [%#x-%#x)", addr, addr+size)
	}

	if r, err = dma.NewRegion(uint(addr), int(size), true); err != nil {
		return
	}

	// byte alignment, the region is a single block at addr and the
	// default alignment would pad unaligned ranges past its end
	start, buf = r.Reserve(int(size), 1)

	return
}

// Read implements Physical, the returned view is never released as it
// aliases memory outside of the Go heap.
func (d *Direct) Read(addr uint64, size uint64) (buf []byte, err error) {
	if size == 0 {
		return
	}

	_, _, buf, err = d.region(addr, size)

	return
}

// Copy implements Physical.
func (d *Direct) Copy(dst uint64, src uint64, size uint64) (err error) {
	if size == 0 {
		return
	}

	from, fromStart, fromBuf, err := d.region(src, size)

	if err != nil {
		return
	}
	defer from.Release(fromStart)

	to, toStart, toBuf, err := d.region(dst, size)

	if err != nil {
		return
	}
	defer to.Release(toStart)

	copy(toBuf, fromBuf)

	return
}

// Zero implements Physical.
func (d *Direct) Zero(dst uint64, size uint64) (err error) {
	if size == 0 {
		return
	}

	r, start, buf, err := d.region(dst, size)

	if err != nil {
		return
	}
	defer r.Release(start)

	clear(buf)

	return
}
