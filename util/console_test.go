// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package util

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/term"
)

type session struct {
	in  io.Reader
	out bytes.Buffer
}

func (s *session) Read(p []byte) (int, error) {
	return s.in.Read(p)
}

func (s *session) Write(p []byte) (int, error) {
	return s.out.Write(p)
}

func TestConsoleServe(t *testing.T) {
	var got []string

	c := &Console{
		Banner: "banner",
		Handler: func(t *term.Terminal, cmd string) error {
			got = append(got, cmd)

			switch cmd {
			case "fail":
				return errors.New("boom")
			case "exit":
				return io.EOF
			}

			return nil
		},
	}

	rw := &session{in: strings.NewReader("info\rfail\rexit\rignored\r")}
	c.Serve(rw)

	if diff := cmp.Diff([]string{"info", "fail", "exit"}, got); diff != "" {
		t.Errorf("commands diff (-want +got):\n%s", diff)
	}

	out := rw.out.String()

	for _, want := range []string{"banner", "error: boom"} {
		if !strings.Contains(out, want) {
			t.Errorf("output %q does not contain %q", out, want)
		}
	}
}
