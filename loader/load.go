// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package loader

import (
	"k8s.io/klog/v2"
)

func (s *Session) viaDMA(m *Machine, dst uint64, src uint64, size uint64, fromSrc bool) bool {
	if !s.cfg.DMA || m.DMA == nil {
		return false
	}

	return m.DMA.Covers(dst, size) || (fromSrc && m.DMA.Covers(src, size))
}

func (s *Session) copy(m *Machine, dst uint64, src uint64, size uint64) error {
	if s.viaDMA(m, dst, src, size, true) {
		return m.DMA.Copy(dst, src, size)
	}

	return m.Memory.Copy(dst, src, size)
}

func (s *Session) zero(m *Machine, dst uint64, size uint64) error {
	if s.viaDMA(m, dst, 0, size, false) {
		return m.DMA.Zero(dst, size)
	}

	return m.Memory.Zero(dst, size)
}

// skipZero reports whether zero-fill can be skipped, which is never the case
// on production builds.
func (s *Session) skipZero(m *Machine) bool {
	return m.Simulated && s.cfg.SkipZeroOnSimulation && !s.cfg.Production
}

// loadSegments copies every segment file data to its physical target and
// zero-fills the remainder, in place segments are already resident.
func (s *Session) loadSegments(m *Machine) (err error) {
	for _, seg := range s.segments {
		if seg.Kind.InPlace() {
			klog.V(2).Infof("loader: segment %d in place at %#x", seg.Index, seg.PA)
			continue
		}

		if seg.Filesz > 0 {
			if err = s.copy(m, seg.PA, s.params.ELFBase+seg.Off, seg.Filesz); err != nil {
				return fail(ErrLoadFailure, "segment %d copy to %#x failed, %v", seg.Index, seg.PA, err)
			}
		}

		bss := seg.Memsz - seg.Filesz

		if bss == 0 || s.skipZero(m) {
			continue
		}

		if err = s.zero(m, seg.PA+seg.Filesz, bss); err != nil {
			return fail(ErrLoadFailure, "segment %d zero-fill at %#x failed, %v", seg.Index, seg.PA+seg.Filesz, err)
		}
	}

	return
}
