/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package mhd

import (
	"crypto/tls"
	"net"
	"time"
)

// keepAliveListener wraps a *net.TCPListener to enable TCP keep-alives
// on every accepted connection, a verbatim behavior adaptation of
// badu-http/tcp_keep_alive_listener.go.
type keepAliveListener struct {
	*net.TCPListener
}

func (l keepAliveListener) Accept() (net.Conn, error) {
	conn, err := l.AcceptTCP()
	if err != nil {
		return nil, err
	}
	conn.SetKeepAlive(true)
	conn.SetKeepAlivePeriod(3 * time.Minute)
	return conn, nil
}

// listen opens the daemon's listening socket, applying TLS if
// configured. SO_REUSEADDR is Go's default net.Listen behavior on
// Linux/BSD; TCP_FASTOPEN has no stdlib knob and is applied via
// setFastOpen (fastopen_linux.go) to every listener; no option turns
// it off.
func (o *Options) listen() (net.Listener, StatusCode) {
	ln, err := net.Listen("tcp", o.Addr)
	if err != nil {
		return nil, ErrBindFailed
	}
	tcpLn, ok := ln.(*net.TCPListener)
	if !ok {
		return nil, ErrListenFailed
	}
	setFastOpen(tcpLn)
	wrapped := net.Listener(keepAliveListener{tcpLn})
	if o.TLSConfig != nil {
		wrapped = tls.NewListener(wrapped, o.TLSConfig)
	}
	return wrapped, Ok
}
