// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package mem

import (
	"fmt"
	"sort"
)

// Physical represents byte-wise access to physical memory.
type Physical interface {
	// Read returns a view of size bytes at addr.
	Read(addr uint64, size uint64) ([]byte, error)
	// Copy moves size bytes from src to dst.
	Copy(dst uint64, src uint64, size uint64) error
	// Zero clears size bytes at dst.
	Zero(dst uint64, size uint64) error
}

type bank struct {
	Range
	buf []byte
}

// Sim implements Physical over a sparse set of host-allocated banks, it is
// used to run the loader off-target.
type Sim struct {
	banks []*bank
}

// NewSim allocates one zeroed bank per range, ranges must not overlap.
func NewSim(ranges ...Range) (s *Sim, err error) {
	s = &Sim{}

	for _, r := range ranges {
		if err = s.Map(r); err != nil {
			return nil, err
		}
	}

	return
}

// Map adds a zeroed bank covering r.
func (s *Sim) Map(r Range) error {
	if r.Size == 0 || Overflows(r.Base, r.Size) {
		return fmt.Errorf("invalid bank %s", r)
	}

	for _, b := range s.banks {
		if b.Overlaps(r) {
			return fmt.Errorf("bank %s overlaps %s", r, b.Range)
		}
	}

	s.banks = append(s.banks, &bank{Range: r, buf: make([]byte, r.Size)})

	sort.Slice(s.banks, func(i, j int) bool {
		return s.banks[i].Base < s.banks[j].Base
	})

	return nil
}

func (s *Sim) view(addr uint64, size uint64) ([]byte, error) {
	for _, b := range s.banks {
		if b.Contains(addr, size) {
			off := addr - b.Base
			return b.buf[off : off+size], nil
		}
	}

	return nil, fmt.Errorf("unmapped access [%#x-%#x)", addr, addr+size)
}

// Read implements Physical.
func (s *Sim) Read(addr uint64, size uint64) ([]byte, error) {
	return s.view(addr, size)
}

// Write stores buf at addr.
func (s *Sim) Write(addr uint64, buf []byte) (err error) {
	dst, err := s.view(addr, uint64(len(buf)))

	if err != nil {
		return
	}

	copy(dst, buf)

	return
}

// Copy implements Physical.
func (s *Sim) Copy(dst uint64, src uint64, size uint64) (err error) {
	if size == 0 {
		return
	}

	from, err := s.view(src, size)

	if err != nil {
		return
	}

	to, err := s.view(dst, size)

	if err != nil {
		return
	}

	copy(to, from)

	return
}

// Zero implements Physical.
func (s *Sim) Zero(dst uint64, size uint64) (err error) {
	if size == 0 {
		return
	}

	buf, err := s.view(dst, size)

	if err != nil {
		return
	}

	clear(buf)

	return
}
