/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

// Package mhd is an embeddable HTTP/1.1 server core: a long-lived
// Daemon accepting TCP/TLS connections, driving per-request
// application callbacks through a bounded-memory Connection state
// machine, and streaming responses back with keep-alive, chunked
// transfer, and protocol Upgrade support.
//
// It is a from-scratch Go rendition of libmicrohttpd's design,
// grounded file-by-file on badu-http (a from-scratch Go clone of
// net/http's server half) for the HTTP/1.1 machinery itself, enriched
// with the rest of the retrieval pack's production stack (prometheus
// metrics, hclog logging, x/sys/x/sync concurrency primitives) for
// everything the teacher's teaching-clone scope left out. See
// DESIGN.md for the full grounding ledger.
package mhd

import (
	"context"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Daemon is the top-level server object: it owns the listen socket,
// the connection registry, and (in WorkerThreads mode) the worker
// pool, mirroring badu-http/types_server.go's Server but generalized
// across the spec's four scheduling modes instead of Serve's single
// goroutine-per-connection loop (spec.md §2, §4.5).
type Daemon struct {
	opts Options

	ln net.Listener

	mu       sync.Mutex
	started  bool
	quiesced bool
	stopped  bool
	conns    map[*Connection]struct{}
	upgraded map[*UpgradeHandle]string // value: the per-IP bucket key to release on Close
	perIP    map[string]int

	metrics *Metrics
	wheel   *timerWheel
	sem     *semaphore.Weighted // nil when Options.MaxConnections <= 0

	workers    []*worker
	nextWorker int

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewDaemon constructs a Daemon from opts without binding anything yet
// (spec.md §6's daemon_create). Call Start to bind/listen and, for
// WorkerThreads/ThreadPerConnection, begin accepting.
func NewDaemon(opts Options) *Daemon {
	return &Daemon{
		opts:     opts,
		conns:    make(map[*Connection]struct{}),
		upgraded: make(map[*UpgradeHandle]string),
		perIP:    make(map[string]int),
		stopCh:   make(chan struct{}),
	}
}

// Start binds the listen socket and, depending on Options.Mode, spawns
// the daemon's worker threads or accept-thread-per-connection loop.
// After Start returns Ok, Options are frozen (spec.md §3 invariant).
func (d *Daemon) Start() StatusCode {
	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		return ErrAlreadyStarted
	}
	if code := d.opts.validate(); code != Ok {
		d.mu.Unlock()
		return code
	}
	ln, code := d.opts.listen()
	if code != Ok {
		d.mu.Unlock()
		return code
	}
	d.ln = ln
	d.wheel = newTimerWheel(d.opts.IdleTimeout)
	if d.opts.MetricsRegistry != nil {
		d.metrics = NewMetrics(d.opts.MetricsRegistry)
	}
	if d.opts.MaxConnections > 0 {
		d.sem = semaphore.NewWeighted(int64(d.opts.MaxConnections))
	}
	if d.opts.DigestAuth == nil {
		d.opts.DigestAuth = NewDefaultDigestAuth(0, 0)
	}

	if d.opts.Mode == WorkerThreads {
		n := d.opts.workerCount()
		d.workers = make([]*worker, n)
		for i := range d.workers {
			d.workers[i] = newWorker(d, i)
			d.wg.Add(1)
			go d.workers[i].run(&d.wg)
		}
	}
	d.started = true
	d.mu.Unlock()

	switch d.opts.Mode {
	case WorkerThreads, ThreadPerConnection:
		d.wg.Add(1)
		go d.acceptLoop()
	}
	return Ok
}

// acceptLoop runs on its own goroutine for WorkerThreads and
// ThreadPerConnection (spec.md §4.5: "Accept is performed by one
// thread"). ExternalPeriodic/ExternalEvents instead accept from
// within Process/Feed, driven by the application's own loop.
func (d *Daemon) acceptLoop() {
	defer d.wg.Done()
	for {
		nc, err := d.ln.Accept()
		if err != nil {
			select {
			case <-d.stopCh:
				return
			default:
			}
			if d.isQuiesced() {
				return
			}
			d.opts.logger().Warnf("mhd: accept: %v", err)
			continue
		}
		d.handleAccepted(nc)
	}
}

// handleAccepted applies the accept policy and per-daemon/per-IP
// limits to a freshly accepted socket (spec.md §4.5's accept-policy
// callback "runs on the accept thread before the Connection is
// created; if it denies, the socket is closed and the slot is
// freed"), then hands the new Connection to the scheduling mode's
// driver.
func (d *Daemon) handleAccepted(nc net.Conn) {
	remote := nc.RemoteAddr().String()
	host := ipOf(remote)

	if d.isQuiesced() {
		nc.Close()
		return
	}
	if d.sem != nil && !d.sem.TryAcquire(1) {
		d.metrics.rejected()
		nc.Close()
		return
	}

	d.mu.Lock()
	if d.opts.MaxConnectionsPerIP > 0 && d.perIP[host] >= d.opts.MaxConnectionsPerIP {
		d.mu.Unlock()
		if d.sem != nil {
			d.sem.Release(1)
		}
		d.metrics.rejected()
		nc.Close()
		return
	}
	d.mu.Unlock()

	d.mu.Lock()
	ipCount := d.perIP[host]
	d.mu.Unlock()
	if d.opts.AcceptPolicy != nil && !d.opts.AcceptPolicy(remote, ipCount) {
		if d.sem != nil {
			d.sem.Release(1)
		}
		nc.Close()
		return
	}

	sock := NewSocket(nc)
	c := newConnection(d, sock)

	d.mu.Lock()
	d.conns[c] = struct{}{}
	d.perIP[host]++
	d.mu.Unlock()
	d.metrics.connOpened()
	d.wheel.track(c)

	switch d.opts.Mode {
	case ThreadPerConnection:
		c.resumeCh = make(chan struct{}, 1)
		d.wg.Add(1)
		go d.runThreadPerConnection(c)
	case WorkerThreads:
		d.pickWorker().enqueue(c)
	}
}

func (d *Daemon) pickWorker() *worker {
	d.mu.Lock()
	w := d.workers[d.nextWorker%len(d.workers)]
	d.nextWorker++
	d.mu.Unlock()
	return w
}

// runThreadPerConnection is the spec.md §4.5 ThreadPerConnection mode:
// "accept thread spawns one thread per accepted connection, which
// runs a trivial local event loop over its single socket until
// close". Unlike the cooperative modes it performs ordinary blocking
// reads, so recv/send inside an Upgrade handler on this goroutine may
// also block (spec.md §4.7).
func (d *Daemon) runThreadPerConnection(c *Connection) {
	defer d.wg.Done()
	buf := make([]byte, 16*1024)
	for {
		res, stepErr := c.step(time.Now())
		switch res {
		case StepNeedRead, StepNeedWrite:
			if c.idleTimeout > 0 {
				c.sock.SetReadDeadline(time.Now().Add(c.idleTimeout))
			}
			n, err := c.sock.Read(buf)
			if n > 0 {
				c.feed(buf[:n])
				d.metrics.read(n)
				d.wheel.touch(c)
			}
			if err != nil {
				c.sock.Close()
				d.retire(c, classifyReadErr(err))
				return
			}
		case StepSuspended:
			select {
			case <-c.resumeCh:
			case <-d.stopCh:
				c.sock.Close()
				d.retire(c, TerminationDaemonShutdown)
				return
			}
		case StepUpgradedDone:
			d.onUpgraded(c)
			return
		case StepClosed:
			c.sock.Close()
			reason := TerminationCompleted
			if stepErr != nil {
				reason = classifyReadErr(stepErr)
			}
			d.retire(c, reason)
			return
		}
	}
}

// Process drives one iteration of ExternalPeriodic mode (spec.md
// §4.5): one accept pass, one pass over every registered connection,
// advancing each by a step. It returns the duration until the next
// interesting event (the earliest idle timeout) so the caller knows
// how long it may safely block before calling Process again.
func (d *Daemon) Process(deadline time.Duration) (time.Duration, error) {
	if d.opts.Mode != ExternalPeriodic {
		return 0, errWrongMode
	}
	d.acceptOnce()

	buf := make([]byte, 16*1024)
	d.mu.Lock()
	live := make([]*Connection, 0, len(d.conns))
	for c := range d.conns {
		live = append(live, c)
	}
	d.mu.Unlock()

	now := time.Now()
	for _, c := range live {
		if c.state == StateSuspended {
			continue
		}
		n, err := c.sock.TryRead(buf)
		if n > 0 {
			c.feed(buf[:n])
			d.metrics.read(n)
			d.wheel.touch(c)
		}
		if err != nil && err != ErrWouldBlock {
			c.sock.Close()
			d.retire(c, classifyReadErr(err))
			continue
		}
		res, stepErr := c.step(now)
		switch res {
		case StepUpgradedDone:
			d.onUpgraded(c)
		case StepClosed:
			c.sock.Close()
			reason := TerminationCompleted
			if stepErr != nil {
				reason = classifyReadErr(stepErr)
			}
			d.retire(c, reason)
		}
	}

	for _, c := range d.wheel.expired(now) {
		c.sock.Close()
		d.retire(c, TerminationTimeout)
	}

	if next, ok := d.wheel.nextDeadline(now); ok && next < deadline {
		return next, nil
	}
	return deadline, nil
}

// acceptOnce performs a single non-blocking accept pass, used by
// Process (ExternalPeriodic) and Feed (ExternalEvents). The listener
// itself is always operated in blocking mode by net.Listen, so a past
// deadline approximates TryAccept the same way Socket.TryRead
// approximates non-blocking reads.
func (d *Daemon) acceptOnce() {
	type deadliner interface {
		SetDeadline(time.Time) error
	}
	dl, ok := d.ln.(deadliner)
	if !ok {
		return
	}
	dl.SetDeadline(time.Now())
	defer dl.SetDeadline(time.Time{})
	for {
		nc, err := d.ln.Accept()
		if err != nil {
			return
		}
		d.handleAccepted(nc)
	}
}

// ExternalEvents mode surface (spec.md §4.5/§6): the application
// supplies fd readiness from its own poll/epoll/select loop.

// PollFD describes one fd the daemon wants polled and which
// direction(s) it is interested in, returned by Fds for ExternalEvents
// mode (spec.md §6's daemon_get_fdset).
type PollFD struct {
	FD         uintptr
	WantRead   bool
	WantWrite  bool
	Connection *Connection
}

// Fds returns the set of fds the daemon wants the application to poll
// (spec.md §6's daemon_get_fdset). Only plain (non-TLS) sockets expose
// a raw fd; TLS connections are omitted here and the application
// should simply call Feed for them once their underlying transport
// reports readiness via whatever mechanism it tracks them with
// (typically the same poll set, keyed by the same fd the kernel
// reports regardless of TLS).
func (d *Daemon) Fds() []PollFD {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]PollFD, 0, len(d.conns))
	for c := range d.conns {
		if c.state == StateSuspended {
			continue
		}
		if fd, ok := rawFd(c.sock); ok {
			out = append(out, PollFD{FD: fd, WantRead: true, Connection: c})
		}
	}
	return out
}

// Feed advances one Connection in ExternalEvents mode after the
// application's poll loop reports it ready (spec.md §6's
// daemon_run_from_fdset). Every call first runs one acceptOnce pass,
// so newly accepted connections show up in the next Fds result; a call
// with readable == false performs only that accept pass.
func (d *Daemon) Feed(c *Connection, readable, writable bool, now time.Time) {
	d.acceptOnce()
	if !readable {
		return
	}
	buf := make([]byte, 16*1024)
	n, err := c.sock.TryRead(buf)
	if n > 0 {
		c.feed(buf[:n])
		d.metrics.read(n)
		d.wheel.touch(c)
	}
	if err != nil && err != ErrWouldBlock {
		c.sock.Close()
		d.retire(c, classifyReadErr(err))
		return
	}
	res, stepErr := c.step(now)
	switch res {
	case StepUpgradedDone:
		d.onUpgraded(c)
	case StepClosed:
		c.sock.Close()
		reason := TerminationCompleted
		if stepErr != nil {
			reason = classifyReadErr(stepErr)
		}
		d.retire(c, reason)
	}
}

// Quiesce stops accepting new connections while existing ones
// continue to be served until their natural close (spec.md §3's
// "after quiesce no new accepts"). It returns the (now detached)
// listener so the caller may, for instance, hand it to a replacement
// process; mhd itself stops using it for further Accept calls.
func (d *Daemon) Quiesce() (net.Listener, StatusCode) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.started {
		return nil, ErrNotStarted
	}
	if d.quiesced {
		return nil, InfoAlreadyRunning
	}
	d.quiesced = true
	return d.ln, OpQuiesced
}

func (d *Daemon) isQuiesced() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.quiesced
}

// Stop requests an orderly shutdown: workers wake, in-progress
// responses are allowed to finish (bounded by grace), then every
// remaining connection is force-closed (spec.md §4.8's shutdown
// sequence). It does not close Upgrade handles — "the application
// must close it" (spec.md §5).
func (d *Daemon) Stop(grace time.Duration) StatusCode {
	d.mu.Lock()
	if !d.started {
		d.mu.Unlock()
		return ErrNotStarted
	}
	if d.stopped {
		d.mu.Unlock()
		return InfoAlreadyStopped
	}
	d.stopped = true
	d.mu.Unlock()

	d.stopOnce.Do(func() { close(d.stopCh) })
	if d.ln != nil {
		d.ln.Close()
	}
	for _, w := range d.workers {
		w.notify()
	}

	ctx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	g, _ := errgroup.WithContext(ctx)
	done := make(chan struct{})
	g.Go(func() error {
		d.wg.Wait()
		close(done)
		return nil
	})
	select {
	case <-done:
	case <-ctx.Done():
		d.forceCloseAll()
		<-done
	}
	return OpStopped
}

func (d *Daemon) forceCloseAll() {
	d.mu.Lock()
	live := make([]*Connection, 0, len(d.conns))
	for c := range d.conns {
		live = append(live, c)
	}
	d.mu.Unlock()
	for _, c := range live {
		c.sock.Close()
	}
}

// Destroy tears the daemon down, stopping it first (with zero grace)
// if Stop was never called. Per spec.md §3/§7: "destroy after stop is
// always safe" and "destroy... no callbacks fire" — Destroy itself
// never invokes the request/termination/accept-policy callbacks
// beyond whatever Stop's drain already triggered.
func (d *Daemon) Destroy() {
	d.mu.Lock()
	started, stopped := d.started, d.stopped
	d.mu.Unlock()
	if started && !stopped {
		d.Stop(0)
	}
}

// retire removes a finished Connection from the registry and releases
// its resources, invoking the optional request-termination callback
// exactly once (spec.md §8: "exactly one termination callback at end").
func (d *Daemon) retire(c *Connection, reason TerminationReason) {
	d.mu.Lock()
	_, present := d.conns[c]
	delete(d.conns, c)
	if present {
		host := ipOf(c.remoteAddr)
		if d.perIP[host] > 0 {
			d.perIP[host]--
			if d.perIP[host] == 0 {
				delete(d.perIP, host)
			}
		}
	}
	d.mu.Unlock()
	if !present {
		return
	}
	d.wheel.untrack(c)
	if d.sem != nil {
		d.sem.Release(1)
	}
	d.metrics.connClosed()
	if d.opts.TerminationCallback != nil && c.rc != nil {
		d.opts.TerminationCallback(c.rc, reason)
	}
}

// onUpgraded moves a Connection's bookkeeping from the regular
// registry to the upgraded set: it keeps counting against the
// daemon's connection limits (spec.md §4.7) but is no longer polled
// or idle-timeout-tracked as an ordinary Connection, since ownership
// of the socket has passed to its UpgradeHandle.
func (d *Daemon) onUpgraded(c *Connection) {
	d.mu.Lock()
	_, present := d.conns[c]
	delete(d.conns, c)
	if present && c.upgradeHandle != nil {
		d.upgraded[c.upgradeHandle] = ipOf(c.remoteAddr)
	}
	d.mu.Unlock()
	d.wheel.untrack(c)
	if d.opts.TerminationCallback != nil && c.rc != nil {
		d.opts.TerminationCallback(c.rc, TerminationUpgraded)
	}
}

// retireUpgraded releases the connection slot an UpgradeHandle was
// still holding, called from UpgradeHandle.Close.
func (d *Daemon) retireUpgraded(u *UpgradeHandle) {
	d.mu.Lock()
	host, ok := d.upgraded[u]
	if ok {
		delete(d.upgraded, u)
		if d.perIP[host] > 0 {
			d.perIP[host]--
			if d.perIP[host] == 0 {
				delete(d.perIP, host)
			}
		}
	}
	d.mu.Unlock()
	if !ok {
		return
	}
	if d.sem != nil {
		d.sem.Release(1)
	}
	d.metrics.connClosed()
}

// DaemonInfo is a snapshot of daemon-wide counters (spec.md §6's
// daemon_info: "listen fd, epoll fd, current connection count, bound
// port").
type DaemonInfo struct {
	BoundAddr        string
	ConnectionCount  int
	UpgradedCount    int
	PerIPCounts      map[string]int
	Mode             SchedulingMode
	Quiesced         bool
	Stopped          bool
}

// Info returns a point-in-time snapshot of the daemon's counters.
func (d *Daemon) Info() DaemonInfo {
	d.mu.Lock()
	defer d.mu.Unlock()
	perIP := make(map[string]int, len(d.perIP))
	for k, v := range d.perIP {
		perIP[k] = v
	}
	addr := ""
	if d.ln != nil {
		addr = d.ln.Addr().String()
	}
	return DaemonInfo{
		BoundAddr:       addr,
		ConnectionCount: len(d.conns),
		UpgradedCount:   len(d.upgraded),
		PerIPCounts:     perIP,
		Mode:            d.opts.Mode,
		Quiesced:        d.quiesced,
		Stopped:         d.stopped,
	}
}

func ipOf(hostport string) string {
	host, _, err := net.SplitHostPort(hostport)
	if err != nil {
		return hostport
	}
	return host
}

var errWrongMode = &statusModeError{"mhd: call only valid in ExternalPeriodic mode"}

type statusModeError struct{ msg string }

func (e *statusModeError) Error() string { return e.msg }
