/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package mhd

import (
	"errors"
	"time"
)

// errNotPollable is returned by poller.Add when c's Socket has no raw
// fd a platform backend can register (e.g. a *tls.Conn: readiness on
// its underlying fd does not mean a full TLS record is available).
// worker.register falls back to fallbackPoller for these.
var errNotPollable = errors.New("mhd: connection has no pollable fd")

// poller is a worker's internal-polling backend (spec.md §4.5). Each
// WorkerThreads goroutine owns exactly one, registering the
// connections assigned to it and waiting for readiness instead of
// spinning a thread per connection.
type poller interface {
	Add(c *Connection) error
	Remove(c *Connection)
	Wait(timeout time.Duration) ([]*Connection, error)
	Close() error
}

// fallbackPoller is the portable poller: used on non-Linux platforms
// outright, and on every platform for connections a native backend
// could not register (TLS sockets). It has no real blocking wait —
// Wait sleeps for the requested tick then returns every registered
// connection for the caller to probe with Socket.TryRead — trading
// busy-polling for portability, acceptable since it only ever holds
// the subset of connections the fast backend rejected.
type fallbackPoller struct {
	conns map[*Connection]struct{}
}

func newFallbackPoller() poller {
	return &fallbackPoller{conns: make(map[*Connection]struct{})}
}

func (p *fallbackPoller) Add(c *Connection) error {
	p.conns[c] = struct{}{}
	return nil
}

func (p *fallbackPoller) Remove(c *Connection) {
	delete(p.conns, c)
}

func (p *fallbackPoller) Wait(timeout time.Duration) ([]*Connection, error) {
	if len(p.conns) == 0 {
		time.Sleep(timeout)
		return nil, nil
	}
	time.Sleep(timeout)
	out := make([]*Connection, 0, len(p.conns))
	for c := range p.conns {
		out = append(out, c)
	}
	return out, nil
}

func (p *fallbackPoller) Close() error { return nil }
