// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package util

import (
	"bytes"
	"io"
	"sync"

	"golang.org/x/term"
)

const (
	outputLimit = 1024
	flushChr    = 0x0a // \n

	// RingSize is the number of output bytes retained for post-mortem
	// reads.
	RingSize = 4096
)

// Sink represents the bootloader diagnostic output, it buffers bytes and
// forwards them to its writer on each newline, or when outputLimit is
// exceeded, retaining the most recent RingSize bytes.
//
// Output is best effort: write errors are discarded.
type Sink struct {
	mu sync.Mutex

	// Output is the forwarding destination, nil only retains
	Output io.Writer
	// Term optionally colors forwarded output
	Term *term.Terminal

	buf      bytes.Buffer
	ring     [RingSize]byte
	pos      int
	full     bool
	disabled bool
}

func (s *Sink) flush() {
	if s.buf.Len() == 0 {
		return
	}

	switch {
	case s.disabled:
	case s.Term != nil:
		s.Term.Write(s.Term.Escape.Green)
		s.Term.Write(s.buf.Bytes())
		s.Term.Write(s.Term.Escape.Reset)
	case s.Output != nil:
		s.Output.Write(s.buf.Bytes())
	}

	s.buf.Reset()
}

// WriteByte implements io.ByteWriter.
func (s *Sink) WriteByte(c byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.writeByte(c)

	return nil
}

func (s *Sink) writeByte(c byte) {
	s.ring[s.pos] = c
	s.pos = (s.pos + 1) % RingSize

	if s.pos == 0 {
		s.full = true
	}

	s.buf.WriteByte(c)

	if c == flushChr || s.buf.Len() > outputLimit {
		s.flush()
	}
}

// Write implements io.Writer, it is suitable for klog.SetOutput.
func (s *Sink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range p {
		s.writeByte(c)
	}

	return len(p), nil
}

// Flush forwards any pending partial line.
func (s *Sink) Flush() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.flush()
}

// Disable flushes pending output and stops any further forwarding, bytes
// written afterwards are only retained.
func (s *Sink) Disable() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.flush()
	s.disabled = true
}

// Disabled reports whether forwarding has been stopped.
func (s *Sink) Disabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.disabled
}

// Tail returns the retained output, oldest byte first.
func (s *Sink) Tail() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.full {
		return append([]byte(nil), s.ring[:s.pos]...)
	}

	return append(append([]byte(nil), s.ring[s.pos:]...), s.ring[:s.pos]...)
}
