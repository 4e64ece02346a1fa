/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package mhd

import (
	"io"
	"time"
)

// UpgradeHandle is the raw bidirectional stream handed to the
// application after a 101 response (spec.md §4.7), grounded in spirit
// on badu-http/conn.go's hijackLocked (which hands back the raw
// net.Conn plus any buffered bytes) but with explicit recv/send/close
// methods and timeout semantics instead of leaving everything to the
// caller, since an Upgrade handle must also work from a non-blocking
// worker (WouldBlock) as well as a dedicated ThreadPerConnection
// thread (ordinary blocking).
type UpgradeHandle struct {
	daemon *Daemon
	sock   Socket

	// pending holds bytes the Connection had already read off the
	// wire (e.g. pipelined WebSocket frames) before the 101 was sent.
	pending []byte

	closed bool
}

func newUpgradeHandle(d *Daemon, sock Socket, pending []byte) *UpgradeHandle {
	return &UpgradeHandle{daemon: d, sock: sock, pending: pending}
}

// Recv reads into buf, returning the bytes already pending from before
// the upgrade first, then falling through to the socket. A deadline
// of zero disables the timeout (blocks indefinitely, only valid on a
// ThreadPerConnection-owned thread). A negative deadline makes one
// non-blocking attempt via Socket.TryRead, which returns ErrWouldBlock
// when no data is ready; a non-blocking caller treats that as "try
// again later".
func (u *UpgradeHandle) Recv(buf []byte, deadline time.Duration) (n int, err error) {
	if len(u.pending) > 0 {
		n = copy(buf, u.pending)
		u.pending = u.pending[n:]
		return n, nil
	}
	if deadline < 0 {
		n, err = u.sock.TryRead(buf)
	} else {
		if deadline > 0 {
			u.sock.SetReadDeadline(time.Now().Add(deadline))
			defer u.sock.SetReadDeadline(time.Time{})
		}
		n, err = u.sock.Read(buf)
	}
	if err == io.EOF {
		return n, nil
	}
	return n, err
}

// Send writes buf to the socket. more hints to the transport that
// another Send call will follow shortly (TCP_CORK-style batching);
// mhd's plain net.Conn path has no corking knob to act on it, so it is
// accepted for interface symmetry with spec.md §4.7 and otherwise
// unused — the portable alternative (bufio batching) is already what
// Connection.drainWrite does for ordinary responses.
func (u *UpgradeHandle) Send(buf []byte, more bool) (n int, err error) {
	return u.sock.Write(buf)
}

// Close half-closes the write side (if supported) then fully closes
// the socket, decrementing the daemon's connection count (spec.md
// §4.7: an upgraded handle "counts against daemon limits until
// close").
func (u *UpgradeHandle) Close() error {
	if u.closed {
		return nil
	}
	u.closed = true
	type closeWriter interface{ CloseWrite() error }
	if cw, ok := u.sock.(closeWriter); ok {
		cw.CloseWrite()
	}
	err := u.sock.Close()
	if u.daemon != nil {
		u.daemon.retireUpgraded(u)
	}
	return err
}
