/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

//go:build !linux

package mhd

const hasSendfile = false

// doSendfile has no portable non-Linux implementation; hasSendfile
// being false means connection.go never calls it, falling back to
// writeBody's ReadAt-and-copy loop (response_write.go) instead.
func doSendfile(outFd uintptr, b fdBody) (int64, error) {
	return 0, nil
}
