/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package mhd

import (
	"bufio"
	"time"

	"github.com/badu/mhd/hdr"
	"github.com/badu/mhd/pool"
	"github.com/badu/mhd/post"
)

// ConnState is the Connection's position in the state machine from
// spec.md §3, generalized from badu-http/types_server.go's ConnState
// (which only tracks New/Active/Idle/Hijacked/Closed — a coarse
// application-visible view) into the full parse/dispatch/response
// lifecycle the daemon itself drives.
type ConnState int

const (
	StateInit ConnState = iota
	StateReadRequestLine
	StateReadHeaders
	StateDispatch
	StateReadBody
	StateWriteHeaders
	StateWriteBody
	StateClose
	StateSuspended
	StateUpgraded
)

func (s ConnState) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateReadRequestLine:
		return "READ_REQUEST_LINE"
	case StateReadHeaders:
		return "READ_HEADERS"
	case StateDispatch:
		return "DISPATCH"
	case StateReadBody:
		return "READ_BODY"
	case StateWriteHeaders:
		return "WRITE_HEADERS"
	case StateWriteBody:
		return "WRITE_BODY"
	case StateClose:
		return "CLOSE"
	case StateSuspended:
		return "SUSPENDED"
	case StateUpgraded:
		return "UPGRADED"
	default:
		return "UNKNOWN"
	}
}

// StepResult tells the owning worker what to do after driving a
// Connection one step: keep polling it for read/write readiness, it
// has gone quiet until Resume is called, or it is finished and should
// be torn down.
type StepResult int

const (
	StepNeedRead StepResult = iota
	StepNeedWrite
	StepSuspended
	StepUpgradedDone
	StepClosed
)

// Connection drives a single accepted Socket through the state
// machine. It is grounded on badu-http/conn.go's conn/readRequest/
// serve trio, restructured from a single blocking goroutine function
// into an explicit step(now) that cooperative scheduling modes can
// call repeatedly without ever blocking (spec.md §4.5's WouldBlock
// discipline), while ThreadPerConnection/WorkerThreads simply call
// step in a tight loop around a blocking TryRead-backed Socket — the
// same state machine serves every scheduling mode, only the driver
// loop differs (daemon.go).
type Connection struct {
	sock   Socket
	daemon *Daemon
	pool   *pool.Pool

	state ConnState

	raw []byte // unconsumed bytes read but not yet parsed

	reqLineState bool // true once the request line itself is parsed
	hdrState     headerParseState
	rc           *RequestContext

	bodyDec         *bodyDecoderState
	upload          UploadHandler
	postProc        post.Processor
	rawUpload       UploadChunkFunc
	rawPending      []byte
	uploadAborted   bool
	uploadSuspended bool

	// worker is set (WorkerThreads mode only) to the worker a
	// Connection is currently registered with, so Resume can
	// re-enqueue it (spec.md §4.5).
	worker *worker
	// resumeCh wakes a ThreadPerConnection-owned goroutine parked on
	// StepSuspended; unused by the cooperative modes, which simply
	// pick the new state up on their next poll/Process tick.
	resumeCh chan struct{}

	resp       *Response
	writePlan  writePlan
	bw         *bufio.Writer
	headerSent bool
	bodyOff    int64 // BodyBuffer/BodyFd/BodyIovec byte cursor for partial non-blocking writes

	lastActivity time.Time
	idleTimeout  time.Duration

	keepAlive bool

	upgradeHandle *UpgradeHandle

	remoteAddr string
}

func newConnection(d *Daemon, sock Socket) *Connection {
	return &Connection{
		sock:         sock,
		daemon:       d,
		pool:         pool.New(d.opts.connPoolSize()),
		state:        StateInit,
		lastActivity: time.Now(),
		idleTimeout:  d.opts.IdleTimeout,
		remoteAddr:   sock.RemoteAddr().String(),
	}
}

// feed appends newly-read bytes to the accumulator. Callers pull bytes
// from the socket (blocking or TryRead) and hand them here; step then
// parses as much as is available.
func (c *Connection) feed(b []byte) {
	c.raw = append(c.raw, b...)
	c.lastActivity = time.Now()
}

// step advances the state machine as far as the currently buffered
// data allows, touching the network only to write a pending response.
// It never calls sock.Read; the driver loop (daemon.go) is responsible
// for filling raw via feed before calling step again.
func (c *Connection) step(now time.Time) (StepResult, error) {
	for {
		switch c.state {
		case StateInit:
			c.state = StateReadRequestLine
			c.rc = &RequestContext{conn: c, Headers: hdr.NewMapping(16), ContentLength: -1}

		case StateReadRequestLine:
			line, n, ok, err := scanLine(c.raw, c.daemon.opts.maxHeaderBytes())
			if err != nil {
				return c.fail(400, err)
			}
			if !ok {
				return StepNeedRead, nil
			}
			c.raw = c.raw[n:]
			method, target, major, minor, pok := parseRequestLine(line)
			if !pok {
				return c.fail(400, badRequestError("malformed request line"))
			}
			c.rc.Method = method
			c.rc.Target = target
			c.rc.Path, c.rc.RawQuery = splitTarget(target)
			c.rc.ProtoMajor = major
			c.rc.ProtoMinor = minor
			c.state = StateReadHeaders

		case StateReadHeaders:
			for {
				line, n, ok, err := scanLine(c.raw, c.daemon.opts.maxHeaderBytes())
				if err != nil {
					return c.fail(431, err)
				}
				if !ok {
					return StepNeedRead, nil
				}
				c.raw = c.raw[n:]
				done, herr := c.hdrState.step(c.rc.Headers, line, c.daemon.opts.maxHeaderBytes(), c.daemon.opts.Permissive)
				if herr != nil {
					if herr == errTooLarge {
						return c.fail(431, herr)
					}
					return c.fail(400, herr)
				}
				if done {
					break
				}
			}
			c.rc.Host = c.hdrState.host
			if c.rc.ProtoAtLeast(1, 1) && c.rc.Host == "" && c.rc.Method != "CONNECT" {
				return c.fail(400, badRequestError("missing required Host header"))
			}
			parseQueryArgs(c.rc.Headers, c.rc.RawQuery)
			if err := c.applyTransferHeaders(); err != nil {
				return c.fail(501, err)
			}
			c.state = StateDispatch

		case StateDispatch:
			if c.rc.ExpectsContinue() && !c.daemon.opts.SuppressExpectContinue {
				c.queueContinue()
			}
			act := c.daemon.opts.Handler(c.rc)
			if err := c.applyAction(act); err != nil {
				return c.fail(500, err)
			}

		case StateReadBody:
			if c.bodyDec == nil {
				c.state = StateDispatch
				continue
			}
			data, consumed, done, needMore, err := c.bodyDec.decode(c.raw)
			if err != nil {
				return c.fail(400, err)
			}
			if consumed > 0 {
				c.raw = c.raw[consumed:]
			}
			if len(data) > 0 && c.rawUpload != nil {
				if step := c.feedRawUpload(data); step != nil {
					return *step, nil
				}
				if c.resp != nil {
					c.state = StateWriteHeaders
					continue
				}
			}
			if len(data) > 0 && c.postProc != nil {
				if _, perr := c.postProc.Feed(data); perr != nil {
					return c.fail(400, perr)
				}
				if c.uploadAborted {
					return StepClosed, nil
				}
				if c.uploadSuspended {
					c.state = StateSuspended
					return StepSuspended, nil
				}
				if c.resp != nil {
					c.state = StateWriteHeaders
					continue
				}
			}
			if done {
				if c.rawUpload != nil {
					// spec.md §4.3: the finalization call cb(nil, 0) occurs
					// exactly once and must return Respond or Abort.
					ua := c.rawUpload(nil)
					c.applyUploadAction(ua)
					if c.uploadAborted {
						return StepClosed, nil
					}
					if c.resp != nil {
						c.state = StateWriteHeaders
						continue
					}
				}
				if c.postProc != nil {
					c.postProc.Close()
					if c.uploadAborted {
						return StepClosed, nil
					}
					if c.resp != nil {
						c.state = StateWriteHeaders
						continue
					}
				}
				c.bodyDec = nil
				c.state = StateDispatch
				continue
			}
			if needMore {
				return StepNeedRead, nil
			}

		case StateWriteHeaders, StateWriteBody:
			return c.drainWrite()

		case StateSuspended:
			return StepSuspended, nil

		case StateUpgraded:
			return StepUpgradedDone, nil

		case StateClose:
			return StepClosed, nil
		}
	}
}

func splitTarget(target string) (path, rawQuery string) {
	for i := 0; i < len(target); i++ {
		if target[i] == '?' {
			return target[:i], target[i+1:]
		}
	}
	return target, ""
}

// applyTransferHeaders decides the request's body framing, following
// badu-http's fixupRequestForREAD / Transfer-Encoding handling.
func (c *Connection) applyTransferHeaders() error {
	te := c.rc.Headers.GetHeader(hdr.TransferEncoding)
	if equalFoldHeader(te, "chunked") {
		c.rc.TransferEncodingChunked = true
		c.rc.ContentLength = -1
		c.bodyDec = newChunkedDecoder()
		return nil
	}
	if te != "" && !equalFoldHeader(te, "identity") {
		// SPEC_FULL.md supplement #4: a Transfer-Encoding we don't
		// decode (anything but chunked/identity) gets 501 rather than
		// a best-effort guess that would silently corrupt the body.
		return badRequestError("unsupported Transfer-Encoding: " + te)
	}
	if cl := c.rc.Headers.GetHeader(hdr.ContentLength); cl != "" {
		if n, ok := parseContentLength(cl); ok {
			c.rc.ContentLength = n
			if n > 0 {
				c.bodyDec = newContentLengthDecoder(n)
			}
			return nil
		}
	}
	c.rc.ContentLength = 0
	return nil
}

func parseContentLength(s string) (int64, bool) {
	var n int64
	if s == "" {
		return 0, false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int64(c-'0')
	}
	return n, true
}

// newPostProcessor builds the post.Processor matching the request's
// Content-Type, wiring its Emit callback back into the application's
// UploadHandler (spec.md §4.6). A Content-Type the daemon doesn't
// recognize falls back to text/plain, the most permissive of the three.
func (c *Connection) newPostProcessor() post.Processor {
	ct := c.rc.Headers.GetHeader(hdr.ContentType)
	emit := func(f post.Field) bool {
		ua := c.upload.OnField(UploadField{
			Kind:             UploadFieldKind(f.Kind),
			Key:              f.Key,
			Filename:         f.Filename,
			ContentType:      f.ContentType,
			TransferEncoding: f.TransferEncoding,
			Data:             f.Data,
			Offset:           f.Offset,
			Size:             int64(len(f.Data)),
		})
		c.applyUploadAction(ua)
		if ua.Kind != UploadContinue {
			return false
		}
		return true
	}
	switch {
	case hasPrefixFold(ct, "multipart/form-data"):
		boundary := boundaryParam(ct)
		return post.NewMultipart(boundary, emit)
	case hasPrefixFold(ct, "application/x-www-form-urlencoded"):
		return post.NewURLEncoded(0, emit)
	default:
		return post.NewTextPlain(emit)
	}
}

// feedRawUpload drives the spec.md §4.3 ProcessUpload contract: cb is
// handed everything unconsumed from the previous call plus the newly
// decoded chunk, and reports back how many trailing bytes of that
// combined slice it has NOT yet processed — those are retained at the
// head of the next call, exactly as "size_out" does in the spec's
// cb(data, &size_out) description. Returns non-nil only when the
// connection must stop looping step (suspend/abort); nil means keep
// going (a response may still have been attached, checked by caller).
func (c *Connection) feedRawUpload(data []byte) *StepResult {
	full := data
	if len(c.rawPending) > 0 {
		full = make([]byte, 0, len(c.rawPending)+len(data))
		full = append(full, c.rawPending...)
		full = append(full, data...)
	}
	unconsumed, ua := c.rawUpload(full)
	if unconsumed < 0 || unconsumed > len(full) {
		unconsumed = 0
	}
	c.rawPending = append(c.rawPending[:0], full[len(full)-unconsumed:]...)
	c.applyUploadAction(ua)
	if c.uploadAborted {
		r := StepClosed
		return &r
	}
	if c.uploadSuspended {
		c.state = StateSuspended
		r := StepSuspended
		return &r
	}
	return nil
}

// applyUploadAction mirrors an UploadAction into the Connection's
// bookkeeping, shared by both the raw ProcessUpload path and the
// PostProcessor-backed ParsePost path (spec.md §4.3/§4.6: both
// algebras share the same {Continue, Suspend, Abort, Respond} vocabulary).
func (c *Connection) applyUploadAction(ua UploadAction) {
	switch ua.Kind {
	case UploadAbort:
		c.uploadAborted = true
	case UploadSuspend:
		c.uploadSuspended = true
	case UploadRespond:
		c.resp = ua.Response
	}
}

func hasPrefixFold(s, prefix string) bool {
	if len(s) < len(prefix) {
		return false
	}
	return equalFoldHeader(s[:len(prefix)], prefix)
}

func boundaryParam(contentType string) string {
	const key = "boundary="
	i := indexByte(contentType, ';')
	for i >= 0 {
		rest := hdr.TrimOWS(contentType[i+1:])
		if hasPrefixFold(rest, key) {
			v := rest[len(key):]
			if len(v) > 1 && v[0] == '"' {
				if end := indexByte(v[1:], '"'); end >= 0 {
					return v[1 : end+1]
				}
			}
			return v
		}
		contentType = rest
		i = indexByte(contentType, ';')
	}
	return ""
}

// queueContinue appends a "100 Continue" interim status line ahead of
// the eventual final response, per spec.md §6's Expect handling.
func (c *Connection) queueContinue() {
	if c.bw == nil {
		c.bw = bufio.NewWriter(c.sock)
	}
	c.bw.WriteString("HTTP/1.1 100 Continue\r\n\r\n")
	c.bw.Flush()
}

func (c *Connection) applyAction(act Action) error {
	switch act.Kind {
	case ActionContinue:
		return nil
	case ActionSuspend:
		c.state = StateSuspended
		return nil
	case ActionAbort:
		c.state = StateClose
		return nil
	case ActionRespond:
		c.resp = act.Response
		c.state = StateWriteHeaders
		return nil
	case ActionParsePost:
		c.upload = act.Upload
		c.postProc = c.newPostProcessor()
		if c.bodyDec == nil {
			c.bodyDec = newContentLengthDecoder(0)
		}
		c.state = StateReadBody
		return nil
	case ActionProcessUpload:
		c.rawUpload = act.RawUpload
		if c.bodyDec == nil {
			c.bodyDec = newContentLengthDecoder(0)
		}
		c.state = StateReadBody
		return nil
	case ActionUpgrade:
		return c.doUpgrade(act)
	default:
		return nil
	}
}

// resume reactivates a Connection parked by ActionSuspend or
// UploadSuspendAction, following spec.md §4.5's "SUSPENDED -> (when
// application resumes) -> prior state": the prior state is inferred
// from what the application arranged before calling Resume (a
// Response attached means WRITE_HEADERS, an in-progress upload with no
// response yet means READ_BODY, otherwise DISPATCH runs again).
func (c *Connection) resume() {
	switch {
	case c.resp != nil:
		c.state = StateWriteHeaders
	case c.bodyDec != nil && !c.bodyDec.finished():
		c.state = StateReadBody
	default:
		c.state = StateDispatch
	}
	c.uploadSuspended = false
	if c.worker != nil {
		c.worker.resume(c)
	}
	if c.resumeCh != nil {
		select {
		case c.resumeCh <- struct{}{}:
		default:
		}
	}
}

func (c *Connection) doUpgrade(act Action) error {
	resp := act.UpgradeHeaders
	if resp == nil {
		resp = NewResponse(101)
	}
	c.resp = resp
	c.writePlan = writePlan{contentLen: 0}
	if c.bw == nil {
		c.bw = bufio.NewWriter(c.sock)
	}
	if err := writeHeaders(c.bw, c.rc, resp, c.writePlan, c.daemon.opts.serverBanner()); err != nil {
		return err
	}
	if err := c.bw.Flush(); err != nil {
		return err
	}
	c.upgradeHandle = newUpgradeHandle(c.daemon, c.sock, c.raw)
	c.raw = nil
	c.state = StateUpgraded
	if act.UpgradeCallback != nil {
		act.UpgradeCallback(c.upgradeHandle)
	}
	return nil
}

// drainWrite writes (or continues writing) the current response.
// Because bufio.Writer has no partial-flush resumption, non-blocking
// scheduling modes rely on the underlying Socket.Write honoring
// short writes the normal io.Writer way; step is called again if a
// write returns (n < len(p)) without error, which bufio.Writer
// already retries internally against its own Write(net.Conn) call.
func (c *Connection) drainWrite() (StepResult, error) {
	if c.bw == nil {
		c.bw = bufio.NewWriter(c.sock)
	}
	if !c.headerSent {
		c.writePlan = planWrite(c.rc, c.resp)
		if err := writeHeaders(c.bw, c.rc, c.resp, c.writePlan, c.daemon.opts.serverBanner()); err != nil {
			return c.failNoReply(err)
		}
		c.headerSent = true
	}
	var sendfile func(fdBody) (int64, error)
	if hasSendfile {
		if fd, ok := rawFd(c.sock); ok {
			sendfile = func(b fdBody) (int64, error) { return doSendfile(fd, b) }
		}
	}
	if err := writeBody(c.bw, c.resp, c.writePlan, sendfile); err != nil {
		return c.failNoReply(err)
	}
	if err := c.bw.Flush(); err != nil {
		return c.failNoReply(err)
	}
	c.keepAlive = !c.writePlan.closeAfter
	if !c.keepAlive {
		c.state = StateClose
		return StepClosed, nil
	}
	c.resetForNextRequest()
	return StepNeedRead, nil
}

func (c *Connection) resetForNextRequest() {
	c.state = StateInit
	c.hdrState = headerParseState{}
	c.resp = nil
	c.headerSent = false
	c.bodyDec = nil
	c.upload = nil
	c.postProc = nil
	c.uploadAborted = false
	c.uploadSuspended = false
	c.pool.Reset()
}

func (c *Connection) fail(status int, err error) (StepResult, error) {
	resp := NewResponse(status)
	resp.MustClose = true
	var body string
	if br, ok := err.(badRequestError); ok {
		body = string(br)
	} else {
		body = err.Error()
	}
	resp.WithBuffer([]byte(body))
	resp.SetHeader(hdr.ContentType, "text/plain; charset=utf-8")
	c.resp = resp
	if c.rc == nil {
		c.rc = &RequestContext{ProtoMajor: 1, ProtoMinor: 1, Headers: hdr.NewMapping(0)}
	}
	c.state = StateWriteHeaders
	return c.drainWrite()
}

func (c *Connection) failNoReply(err error) (StepResult, error) {
	c.state = StateClose
	return StepClosed, err
}
