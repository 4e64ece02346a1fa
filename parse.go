/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package mhd

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/badu/mhd/hdr"
	"github.com/badu/mhd/urlutil"
)

// parseRequestLine splits "METHOD target HTTP/x.y" following
// badu-http/types_request.go's ReadRequest method-line scan.
func parseRequestLine(line string) (method, target string, major, minor int, ok bool) {
	s1 := strings.IndexByte(line, ' ')
	s2 := strings.IndexByte(line[s1+1:], ' ')
	if s1 < 0 || s2 < 0 {
		return "", "", 0, 0, false
	}
	s2 += s1 + 1
	method = line[:s1]
	target = line[s1+1 : s2]
	proto := line[s2+1:]
	major, minor, ok = parseHTTPVersion(proto)
	return
}

// parseHTTPVersion parses "HTTP/1.1" into (1, 1, true), grounded on
// badu-http/types_http.go's ParseHTTPVersion.
func parseHTTPVersion(vers string) (major, minor int, ok bool) {
	const big = 1000000
	if !strings.HasPrefix(vers, "HTTP/") {
		return 0, 0, false
	}
	vers = vers[len("HTTP/"):]
	dot := strings.IndexByte(vers, '.')
	if dot < 0 {
		return 0, 0, false
	}
	major64, err := strconv.ParseUint(vers[:dot], 10, 0)
	if err != nil || major64 > big {
		return 0, 0, false
	}
	minor64, err := strconv.ParseUint(vers[dot+1:], 10, 0)
	if err != nil || minor64 > big {
		return 0, 0, false
	}
	return int(major64), int(minor64), true
}

// parseHeaderLine splits "Name: value" (RFC 7230 §3.2), tolerating a
// missing space after the colon the way badu-http's textproto-backed
// reader does. permissive relaxes ValidHeaderFieldName per spec.md
// §9's "accept any non-control, non-whitespace byte in a header name"
// resolution.
func parseHeaderLine(line string, permissive bool) (name, value string, ok bool) {
	i := strings.IndexByte(line, ':')
	if i < 0 {
		return "", "", false
	}
	name = line[:i]
	if !hdr.ValidHeaderFieldName(name, permissive) {
		return "", "", false
	}
	value = hdr.TrimOWS(line[i+1:])
	if !hdr.ValidHeaderFieldValue(value) {
		return "", "", false
	}
	return name, value, true
}

// scanLine looks for a '\n'-terminated line at the front of raw. It
// returns the line (CRLF/LF stripped), the number of raw bytes it
// occupies (including the terminator), and ok. This is the non-
// blocking analogue of badu-http/utils_chunks.go's readChunkLine: it
// never blocks for more input, so a Connection simply calls it again
// once more bytes have arrived.
func scanLine(raw []byte, maxLen int) (line string, consumed int, ok bool, err error) {
	i := bytes.IndexByte(raw, '\n')
	if i < 0 {
		if len(raw) > maxLen {
			return "", 0, false, errLineTooLong
		}
		return "", 0, false, nil
	}
	if i > maxLen {
		return "", 0, false, errLineTooLong
	}
	return hdr.TrimOWS(string(trimCRLF(raw[:i]))), i + 1, true, nil
}

// headerParseState accumulates header lines across repeated scanLine
// calls until a blank line ends the block, populating KindHeader
// entries, Host, and parsed Cookie entries. Mirrors
// badu-http/conn.go's readRequest host and header-name/value
// validation loop, restructured to be callable incrementally.
type headerParseState struct {
	total    int
	hostSeen bool
	host     string
	clSeen   bool
	clValue  string
}

// step consumes raw header lines (each already split by scanLine) one
// at a time. done is true once the terminating blank line is seen.
func (s *headerParseState) step(h *hdr.Mapping, line string, maxHeaderBytes int, permissive bool) (done bool, err error) {
	s.total += len(line) + 2
	if s.total > maxHeaderBytes {
		return false, errTooLarge
	}
	if line == "" {
		return true, nil
	}
	name, value, ok := parseHeaderLine(line, permissive)
	if !ok {
		return false, badRequestError("malformed header line")
	}
	canon := hdr.CanonicalHeaderKey(name)
	switch canon {
	case hdr.Host:
		if s.hostSeen {
			return false, badRequestError("too many Host headers")
		}
		s.hostSeen = true
		if !urlutil.ValidHostHeader(value) {
			return false, badRequestError("malformed Host header")
		}
		s.host = value
	case hdr.Cookie:
		parseCookies(h, value)
	case hdr.ContentLength:
		// spec.md §4.2: repeated Content-Length headers are only
		// tolerated when every occurrence carries the same value (RFC
		// 7230 §3.3.2); anything else is a request-smuggling smell.
		if s.clSeen && s.clValue != value {
			return false, badRequestError("conflicting Content-Length headers")
		}
		s.clSeen = true
		s.clValue = value
		h.Add(hdr.KindHeader, canon, value)
	default:
		h.Add(hdr.KindHeader, canon, value)
	}
	return false, nil
}

// badRequestError is a string-backed error mirroring
// badu-http/types_server.go's badRequestError. Connection.fail sends
// the bare reason string as the body of its canned error response,
// whatever status that response carries.
type badRequestError string

func (e badRequestError) Error() string { return "mhd: bad request: " + string(e) }
