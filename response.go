/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package mhd

import (
	"os"
	"strconv"
	"sync"

	"github.com/badu/mhd/hdr"
)

// BodySourceKind is the response body sum type from spec.md §3: a
// Response carries exactly one of these, chosen by which constructor
// built it.
type BodySourceKind int

const (
	BodyEmpty BodySourceKind = iota
	BodyBuffer
	BodyFd
	BodyIovec
	BodyCallback
	BodyUpgrade
)

// CallbackBodyFunc streams a response body lazily. It is called
// repeatedly with a caller-owned scratch buffer until it returns
// n == 0, err == io.EOF (or any other error, which aborts the write).
type CallbackBodyFunc func(buf []byte) (n int, err error)

// Response is a reply under construction or already attached to a
// Connection. It is grounded on badu-http/response.go's server-side
// Write/createWriter split but generalized from a single io.Reader
// Body into the spec's explicit body-source sum type so Fd bodies can
// take the sendfile(2) fast path and Iovec bodies can be supplied as
// several buffers (written one after another through the connection's
// buffered writer).
//
// Response objects are the one piece of state the spec allows to be
// shared across Connections (e.g. a cached canned error body reused
// by many requests), so refCount/mu guard the fields that mutate after
// construction.
type Response struct {
	mu       sync.Mutex
	refCount int

	StatusCode int
	Header     *hdr.Mapping // kind == hdr.KindHeader entries only; trailers live in Trailer
	Trailer    *hdr.Mapping

	bodyKind BodySourceKind
	buf      []byte
	fd       *os.File
	fdSize   int64
	fdOffset int64
	iov      [][]byte
	cb       CallbackBodyFunc

	// ContentLength, if >= 0, is sent as-is. The With* constructors set
	// it from the body they attach; it is never recomputed from the
	// body later. A negative value, for any body kind, means the length
	// is unknown: the body is sent chunked on HTTP/1.1 and
	// close-delimited on HTTP/1.0.
	ContentLength int64

	// MustClose forces "Connection: close" regardless of keep-alive
	// negotiation, e.g. for canned error responses (spec.md §4.8).
	MustClose bool
}

// NewResponse allocates a Response with the given status and an empty
// body, analogous to badu-http/public_response.go's NewResponse
// constructors but without an io.Reader requirement.
func NewResponse(status int) *Response {
	return &Response{
		StatusCode:    status,
		Header:        hdr.NewMapping(8),
		Trailer:       hdr.NewMapping(0),
		bodyKind:      BodyEmpty,
		ContentLength: 0,
		refCount:      1,
	}
}

// WithBuffer sets an in-memory body, the common case exercised by
// spec.md §8 scenario 1.
func (r *Response) WithBuffer(b []byte) *Response {
	r.bodyKind = BodyBuffer
	r.buf = b
	r.ContentLength = int64(len(b))
	return r
}

// WithFile sets a file-descriptor-backed body eligible for sendfile(2)
// (response_write.go), following badu-http/filetransport's range-math
// idiom for offset/size bookkeeping without importing its routing.
func (r *Response) WithFile(f *os.File, offset, size int64) *Response {
	r.bodyKind = BodyFd
	r.fd = f
	r.fdOffset = offset
	r.fdSize = size
	r.ContentLength = size
	return r
}

// WithIovec sets a scatter/gather body: bufs are written in order, one
// after another, through the connection's buffered writer.
func (r *Response) WithIovec(bufs [][]byte) *Response {
	r.bodyKind = BodyIovec
	r.iov = bufs
	var total int64
	for _, b := range bufs {
		total += int64(len(b))
	}
	r.ContentLength = total
	return r
}

// WithCallback sets a lazily-produced body; contentLength < 0 forces
// chunked encoding.
func (r *Response) WithCallback(cb CallbackBodyFunc, contentLength int64) *Response {
	r.bodyKind = BodyCallback
	r.cb = cb
	r.ContentLength = contentLength
	return r
}

func (r *Response) retain() {
	r.mu.Lock()
	r.refCount++
	r.mu.Unlock()
}

func (r *Response) release() {
	r.mu.Lock()
	r.refCount--
	r.mu.Unlock()
}

// SetHeader is a convenience wrapper over Header.SetHeader.
func (r *Response) SetHeader(name, value string) *Response {
	r.Header.SetHeader(name, value)
	return r
}

// canonicalStatusLine renders "HTTP/1.1 200 OK".
func canonicalStatusLine(major, minor, code int) []byte {
	text, ok := statusText[code]
	if !ok {
		text = "status code " + strconv.Itoa(code)
	}
	line := "HTTP/" + strconv.Itoa(major) + "." + strconv.Itoa(minor) + " " + strconv.Itoa(code) + " " + text + "\r\n"
	return []byte(line)
}

// statusText is the subset of RFC 7231/7235/... reason phrases the
// daemon's own canned responses need, kept minimal on purpose since
// reason phrases carry no protocol meaning beyond logging. A code not
// listed here gets the phrase "status code N"; Response has no field
// for a custom phrase.
var statusText = map[int]string{
	100: "Continue",
	101: "Switching Protocols",
	200: "OK",
	204: "No Content",
	206: "Partial Content",
	301: "Moved Permanently",
	302: "Found",
	304: "Not Modified",
	400: "Bad Request",
	401: "Unauthorized",
	403: "Forbidden",
	404: "Not Found",
	405: "Method Not Allowed",
	408: "Request Timeout",
	411: "Length Required",
	413: "Payload Too Large",
	417: "Expectation Failed",
	431: "Request Header Fields Too Large",
	500: "Internal Server Error",
	501: "Not Implemented",
	505: "HTTP Version Not Supported",
}

// bodyAllowedForStatus reports whether a response status line may be
// followed by a body, per RFC 7230 §3.3.
func bodyAllowedForStatus(status int) bool {
	switch {
	case status >= 100 && status <= 199:
		return false
	case status == 204:
		return false
	case status == 304:
		return false
	}
	return true
}
