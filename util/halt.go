// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package util

import (
	"k8s.io/klog/v2"
)

// Park is invoked by Halt once diagnostics are flushed, it must not return
// on the target.
var Park = park

// Halt reports a fatal boot error and parks the core.
func Halt(err error) {
	klog.Errorf("halt, %v", err)
	klog.Flush()

	Park()
}
