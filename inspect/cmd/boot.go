// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package cmd

import (
	"bytes"
	"errors"
	"fmt"

	"golang.org/x/term"
)

func init() {
	Add(Cmd{
		Name: "boot",
		Help: "load and hand off against the simulated platform",
		Fn:   bootCmd,
	})
}

func bootCmd(_ *term.Terminal, _ []string) (res string, err error) {
	if Target == nil {
		return "", errors.New("no platform")
	}

	_, h, err := Target.Boot()

	if err != nil {
		return "", fmt.Errorf("boot failed, %w", err)
	}

	var buf bytes.Buffer

	fmt.Fprintf(&buf, "handoff %s\n", h)

	for i, w := range h.Words() {
		if i == 0 {
			fmt.Fprintf(&buf, "pc %#.16x\n", w)
			continue
		}

		fmt.Fprintf(&buf, "a%d %#.16x\n", i-1, w)
	}

	fmt.Fprintf(&buf, "translation:%v\n", Target.MPU.Translation())

	for i, e := range Target.MPU.Snapshot() {
		if e.Valid() {
			fmt.Fprintf(&buf, "%2d va:%#.16x pa:%#.16x range:%#x attr:%#x\n", i, e.VA, e.PA, e.Range, e.Attr)
		}
	}

	return buf.String(), nil
}
