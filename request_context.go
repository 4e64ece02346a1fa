/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package mhd

import (
	"github.com/badu/mhd/hdr"
	"github.com/badu/mhd/urlutil"
)

// RequestContext is what a RequestHandler receives: the parsed request
// line plus the kinded HeaderMapping (headers, cookies, query
// arguments), generalized from badu-http/types_request.go's *Request
// struct into the spec's narrower read-only view (no io.Reader Body
// field here — uploads are driven via ProcessUpload/UploadHandler,
// spec.md §4.3).
type RequestContext struct {
	Method     string
	Target     string // raw request-line target, before path/query split
	Path       string
	RawQuery   string
	ProtoMajor int
	ProtoMinor int

	Headers *hdr.Mapping // KindHeader + KindCookie + KindGetArgument entries

	RemoteAddr string
	Host       string

	ContentLength           int64 // -1 if unknown and not chunked
	TransferEncodingChunked bool

	conn *Connection
}

// ProtoAtLeast reports whether the request's HTTP version is at least
// major.minor, mirroring badu-http/types_request.go's Request.ProtoAtLeast.
func (rc *RequestContext) ProtoAtLeast(major, minor int) bool {
	return rc.ProtoMajor > major || (rc.ProtoMajor == major && rc.ProtoMinor >= minor)
}

// ExpectsContinue reports whether the client sent "Expect: 100-continue".
func (rc *RequestContext) ExpectsContinue() bool {
	return equalFoldHeader(rc.Headers.GetHeader(hdr.Expect), "100-continue")
}

func equalFoldHeader(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}

// DigestAuth returns the daemon's configured digest-auth nonce
// provider (spec.md §6's "digest-auth nonce/hash primitives"
// collaborator), letting a handler issue or validate a nonce without
// threading Options through its own call chain.
func (rc *RequestContext) DigestAuth() DigestAuthProvider {
	return rc.conn.daemon.opts.DigestAuth
}

// Resume reactivates a Connection previously parked by Suspend/
// UploadSuspendAction (spec.md §6's request_resume). Call it only
// after arranging, by whatever out-of-band means woke the
// application up, for the connection to make forward progress —
// typically by attaching a Response to rc first.
func (rc *RequestContext) Resume() {
	rc.conn.resume()
}

// Suspended reports whether the underlying Connection is currently
// parked (request_info's "suspended" field, spec.md §6).
func (rc *RequestContext) Suspended() bool {
	return rc.conn.state == StateSuspended
}

// Header returns the first value for a request header name.
func (rc *RequestContext) Header(name string) string {
	return rc.Headers.GetHeader(name)
}

// Cookie returns the named cookie's value, following
// badu-http/cli/cookie.go's "name=value; " pair grammar, parsed
// eagerly into hdr.KindCookie entries while the request headers are
// read.
func (rc *RequestContext) Cookie(name string) (string, bool) {
	found := ""
	ok := false
	rc.Headers.Each(hdr.KindCookie, func(n, v string) bool {
		if n == name {
			found, ok = v, true
			return false
		}
		return true
	})
	return found, ok
}

// Query returns the decoded value of a GET query argument.
func (rc *RequestContext) Query(name string) (string, bool) {
	found := ""
	ok := false
	rc.Headers.Each(hdr.KindGetArgument, func(n, v string) bool {
		if n == name {
			found, ok = v, true
			return false
		}
		return true
	})
	return found, ok
}

// parseCookies splits a Cookie header value into name/value pairs and
// adds them as hdr.KindCookie entries, following
// badu-http/cli/cookie.go's readCookies grammar ("; " separated
// name=value pairs, optionally double-quoted values).
func parseCookies(h *hdr.Mapping, line string) {
	line = hdr.TrimOWS(line)
	for len(line) > 0 {
		var part string
		if i := indexByte(line, ';'); i >= 0 {
			part, line = line[:i], line[i+1:]
		} else {
			part, line = line, ""
		}
		part = hdr.TrimOWS(part)
		if part == "" {
			continue
		}
		name, value := part, ""
		if i := indexByte(part, '='); i >= 0 {
			name, value = part[:i], part[i+1:]
		}
		name = hdr.TrimOWS(name)
		if name == "" {
			continue
		}
		if len(value) > 1 && value[0] == '"' && value[len(value)-1] == '"' {
			value = value[1 : len(value)-1]
		}
		h.Add(hdr.KindCookie, name, value)
	}
}

func indexByte(s string, c byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == c {
			return i
		}
	}
	return -1
}

// parseQueryArgs decodes rawQuery into hdr.KindGetArgument entries.
func parseQueryArgs(h *hdr.Mapping, rawQuery string) {
	vals := urlutil.ParseQuery(rawQuery)
	for k, vs := range vals {
		for _, v := range vs {
			h.Add(hdr.KindGetArgument, k, v)
		}
	}
}
