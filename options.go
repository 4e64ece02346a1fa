/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package mhd

import (
	"crypto/tls"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SchedulingMode selects one of the daemon's four work modes (spec.md
// §4.5). It is chosen at daemon_start and immutable thereafter.
type SchedulingMode int

const (
	// ExternalPeriodic: no daemon-owned threads. The application calls
	// (*Daemon).Process(deadline) from its own loop.
	ExternalPeriodic SchedulingMode = iota
	// ExternalEvents: the application supplies fd readiness and drives
	// (*Daemon).Feed(conn, readable, writable, now).
	ExternalEvents
	// WorkerThreads(n): the daemon runs n goroutines, each owning a
	// disjoint subset of connections.
	WorkerThreads
	// ThreadPerConnection: one goroutine per accepted connection,
	// running a trivial blocking loop over its own socket.
	ThreadPerConnection
)

// Options is the flat configuration record accepted by NewDaemon,
// following badu-http's Server struct being a flat field bag rather
// than a builder chain.
type Options struct {
	Addr string

	Mode          SchedulingMode
	WorkerCount   int // only consulted when Mode == WorkerThreads
	DisableWakeup bool

	TLSConfig *tls.Config

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration

	ConnectionMemoryLimit int // per-connection MemoryPool size, 0 = pool.DefaultSize
	MaxHeaderBytes        int
	MaxConnections        int // 0 = unlimited
	MaxConnectionsPerIP   int // 0 = unlimited

	SuppressExpectContinue bool
	Permissive             bool // tolerate non-strict header field-name bytes (spec.md §9)

	// SuppressServer disables the automatic "Server" response header
	// (spec.md §4.4 lists it as automatic "unless suppressed").
	SuppressServer bool
	// ServerName overrides the automatic "Server" header's value.
	// Empty uses the default banner.
	ServerName string

	Handler RequestHandler

	// AcceptPolicy runs on the accept path before a Connection exists;
	// returning false refuses the socket outright (spec.md §4.5).
	// perIPCount is the number of connections already open from the
	// same remote host (before this one), so a policy can make its own
	// per-IP decisions instead of only relying on MaxConnectionsPerIP
	// (SPEC_FULL.md's "per-IP connection accounting surfaced to the
	// accept-policy callback").
	AcceptPolicy func(remoteAddr string, perIPCount int) bool

	TerminationCallback func(rc *RequestContext, reason TerminationReason)

	Logger          Logger
	MetricsRegistry prometheus.Registerer // nil disables metrics

	DigestAuth DigestAuthProvider
}

func (o *Options) logger() Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return nopLogger{}
}

func (o *Options) connPoolSize() int {
	if o.ConnectionMemoryLimit > 0 {
		return o.ConnectionMemoryLimit
	}
	return 32 << 10
}

func (o *Options) maxHeaderBytes() int {
	if o.MaxHeaderBytes > 0 {
		return o.MaxHeaderBytes
	}
	return 1 << 20
}

// defaultServerBanner is the automatic Server header value when
// ServerName is unset.
const defaultServerBanner = "mhd"

func (o *Options) serverBanner() string {
	if o.SuppressServer {
		return ""
	}
	if o.ServerName != "" {
		return o.ServerName
	}
	return defaultServerBanner
}

func (o *Options) workerCount() int {
	if o.WorkerCount > 0 {
		return o.WorkerCount
	}
	return 1
}

// validate mirrors badu-http's option-setting surface returning a
// single enumerated result instead of a generic error (spec.md §6).
func (o *Options) validate() StatusCode {
	if o.Addr == "" {
		return ErrOptionInvalidValue
	}
	switch o.Mode {
	case ExternalPeriodic, ExternalEvents, WorkerThreads, ThreadPerConnection:
	default:
		return ErrOptionUnknown
	}
	if o.Handler == nil {
		return ErrOptionInvalidValue
	}
	if o.TLSConfig != nil {
		if len(o.TLSConfig.Certificates) == 0 && o.TLSConfig.GetCertificate == nil {
			return ErrTLSCertInvalid
		}
	}
	return Ok
}
