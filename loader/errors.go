// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package loader

import (
	"errors"
	"fmt"

	"k8s.io/klog/v2"
)

// Every failure returned by this package wraps exactly one of the following
// errors, all of them are fatal.
var (
	// ErrBadElf reports a malformed ELF header, section or program header
	// table.
	ErrBadElf = errors.New("bad ELF")
	// ErrLoadFailure reports a placement, overlap, aperture or address
	// space violation.
	ErrLoadFailure = errors.New("load failure")
	// ErrBadBootArgs reports invalid boot arguments.
	ErrBadBootArgs = errors.New("bad boot arguments")
	// ErrBadFusing reports unexpected security fuses on production
	// hardware.
	ErrBadFusing = errors.New("bad fusing")
)

func fail(kind error, format string, args ...any) error {
	err := fmt.Errorf("%w: %s", kind, fmt.Sprintf(format, args...))
	klog.ErrorDepth(1, err)
	return err
}
