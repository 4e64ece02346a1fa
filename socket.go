/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package mhd

import (
	"errors"
	"net"
	"syscall"
	"time"
)

// ErrWouldBlock is returned by Socket.TryRead/TryWrite in cooperative
// scheduling modes when the underlying fd has no data/room ready,
// mirroring spec.md §4.5's WouldBlock poll-park contract.
var ErrWouldBlock = errors.New("mhd: would block")

// Socket is the transport abstraction a Connection drives. It is
// satisfied by both a plain TCP net.Conn and a *tls.Conn (TlsAdapter),
// following badu-http/conn.go's netConIface field but split out as its
// own interface so cooperative (non-blocking) and blocking scheduling
// modes can share one Connection implementation.
//
// Go's net.Conn has no non-blocking Read/Write of its own; TryRead and
// TryWrite approximate WouldBlock using a past-due deadline, the
// standard technique for polling a stdlib net.Conn from a cooperative
// loop without reaching for syscall.RawConn. A real (*net.TCPConn) or
// (*tls.Conn) socket can always be driven by this trick; it costs one
// extra SetDeadline syscall per non-blocking attempt, and that cost is
// paid often: fallbackPoller and Process hand every registered
// connection to TryRead on each pass, whether or not it is readable.
type Socket interface {
	net.Conn

	// TryRead attempts a single non-blocking read. Returns
	// ErrWouldBlock if no data is currently available.
	TryRead(buf []byte) (int, error)
	// TryWrite attempts a single non-blocking write. Returns
	// ErrWouldBlock if the send buffer is currently full.
	TryWrite(buf []byte) (int, error)
}

// netSocket adapts any net.Conn (including *tls.Conn) to Socket.
type netSocket struct {
	net.Conn
}

// NewSocket wraps c (plaintext TCP or TLS) as a Socket.
func NewSocket(c net.Conn) Socket { return netSocket{c} }

func (s netSocket) TryRead(buf []byte) (int, error) {
	if err := s.Conn.SetReadDeadline(time.Now()); err != nil {
		return 0, err
	}
	n, err := s.Conn.Read(buf)
	s.Conn.SetReadDeadline(time.Time{})
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return n, ErrWouldBlock
		}
		return n, err
	}
	return n, nil
}

func (s netSocket) TryWrite(buf []byte) (int, error) {
	if err := s.Conn.SetWriteDeadline(time.Now()); err != nil {
		return 0, err
	}
	n, err := s.Conn.Write(buf)
	s.Conn.SetWriteDeadline(time.Time{})
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return n, ErrWouldBlock
		}
		return n, err
	}
	return n, nil
}

// rawFd returns the platform file descriptor behind a Socket when it
// wraps a plain net.Conn exposing syscall.Conn (e.g. *net.TCPConn),
// for the sendfile(2) fast path in response_write.go. ok is false for
// TLS sockets (sendfile would bypass encryption, since a *tls.Conn
// does not expose SyscallConn) or non-TCP transports.
func rawFd(s Socket) (fd uintptr, ok bool) {
	sc, isSC := s.(syscall.Conn)
	if !isSC {
		return 0, false
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return 0, false
	}
	var out uintptr
	if err := raw.Control(func(f uintptr) { out = f }); err != nil {
		return 0, false
	}
	return out, true
}
