/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package post

import (
	"bytes"
	"strings"
)

type multipartState int

const (
	mpSeekFirstBoundary multipartState = iota
	mpPartHeaders
	mpPartBody
	mpDone
)

// Multipart is a boundary-anchored push-based scanner, grounded on
// badu-http/mime/multipart_reader.go's IsBoundaryDelimiterLine/
// isFinalBoundary CRLF-tolerant matching, restructured from a
// bufio.Reader-backed NextPart()/Read() pull API into a Feed(data)
// state machine so it survives upload chunks that split a boundary
// line or a part's sub-headers across two socket reads.
type Multipart struct {
	emit Emit

	dashBoundary     []byte // "--boundary"
	dashBoundaryDash []byte // "--boundary--"

	state multipartState
	buf   []byte

	curKey      string
	curFilename string
	curCT       string
	curTE       string
	offset      int64
	closed      bool
}

func NewMultipart(boundary string, emit Emit) *Multipart {
	return &Multipart{
		emit:             emit,
		dashBoundary:     []byte("--" + boundary),
		dashBoundaryDash: []byte("--" + boundary + "--"),
	}
}

func (m *Multipart) Feed(data []byte) (int, error) {
	m.buf = append(m.buf, data...)
	for {
		switch m.state {
		case mpSeekFirstBoundary:
			i := bytes.IndexByte(m.buf, '\n')
			if i < 0 {
				return len(data), nil
			}
			line := trimCRLF(m.buf[:i])
			m.buf = m.buf[i+1:]
			if bytes.Equal(line, m.dashBoundary) {
				m.state = mpPartHeaders
			}
			// else: preamble line, keep scanning.
		case mpPartHeaders:
			i := bytes.IndexByte(m.buf, '\n')
			if i < 0 {
				return len(data), nil
			}
			line := trimCRLF(m.buf[:i])
			m.buf = m.buf[i+1:]
			if len(line) == 0 {
				m.state = mpPartBody
				m.offset = 0
				continue
			}
			m.applyHeaderLine(string(line))
		case mpPartBody:
			consumed, boundaryHit, final, cont := m.scanBody()
			if consumed == 0 && !boundaryHit {
				return len(data), nil
			}
			m.buf = m.buf[consumed:]
			if !cont {
				// The application responded, aborted, or suspended from
				// inside Emit; stop scanning this buffer immediately
				// rather than racing ahead through the rest of it.
				m.state = mpDone
				return len(data), nil
			}
			if boundaryHit {
				if final {
					m.state = mpDone
					return len(data), nil
				}
				m.state = mpPartHeaders
				m.curKey, m.curFilename, m.curCT, m.curTE = "", "", "", ""
			}
		case mpDone:
			return len(data), nil
		}
	}
}

func (m *Multipart) applyHeaderLine(line string) {
	i := strings.IndexByte(line, ':')
	if i < 0 {
		return
	}
	name := strings.TrimSpace(line[:i])
	value := strings.TrimSpace(line[i+1:])
	switch strings.ToLower(name) {
	case "content-disposition":
		m.curKey, m.curFilename = parseContentDisposition(value)
	case "content-type":
		m.curCT = value
	case "content-transfer-encoding":
		m.curTE = value
	}
}

func parseContentDisposition(v string) (name, filename string) {
	for _, part := range strings.Split(v, ";") {
		part = strings.TrimSpace(part)
		if kv := strings.SplitN(part, "=", 2); len(kv) == 2 {
			key := strings.ToLower(strings.TrimSpace(kv[0]))
			val := strings.Trim(strings.TrimSpace(kv[1]), `"`)
			switch key {
			case "name":
				name = val
			case "filename":
				filename = val
			}
		}
	}
	return
}

// scanBody looks for the next boundary line inside m.buf. If found,
// it emits the body bytes preceding it (minus the CRLF that precedes
// the boundary) as a Final field event, consumes through the boundary
// line, and reports whether it was the terminal "--boundary--" line.
// If no boundary is found yet, it emits the safely-known-not-to-be-
// boundary prefix (everything before the last possible partial match
// of CRLF plus dashBoundary) as a non-final field event, consumes that
// prefix, and keeps the tail so Feed waits for more data before
// re-scanning it. A boundary whose line terminator has not arrived yet
// is likewise left unconsumed and nothing is emitted for it. cont is
// false when Emit asked the processor to stop (abort/suspend/respond),
// mirroring URLEncoded.flushValue's return-value contract.
func (m *Multipart) scanBody() (consumed int, boundaryHit bool, final bool, cont bool) {
	idx := bytes.Index(m.buf, m.dashBoundary)
	if idx < 0 {
		// Keep back enough bytes (CRLF + dashBoundary) to re-check a
		// delimiter that might span the next Feed call.
		safe := len(m.buf) - len(m.dashBoundary) - 2
		if safe <= 0 {
			return 0, false, false, true
		}
		body := m.buf[:safe]
		if len(body) > 0 {
			ok := m.emit(Field{
				Kind: KindMultipart, Key: m.curKey, Filename: m.curFilename,
				ContentType: m.curCT, TransferEncoding: m.curTE,
				Data: body, Offset: m.offset,
			})
			m.offset += int64(len(body))
			if !ok {
				return safe, false, false, false
			}
		}
		return safe, false, false, true
	}
	rest := m.buf[idx:]
	nl := bytes.IndexByte(rest, '\n')
	if nl < 0 {
		return 0, false, false, true
	}
	body := bytes.TrimSuffix(m.buf[:idx], []byte("\r\n"))
	ok := m.emit(Field{
		Kind: KindMultipart, Key: m.curKey, Filename: m.curFilename,
		ContentType: m.curCT, TransferEncoding: m.curTE,
		Data: body, Offset: m.offset, Final: true,
	})
	if !ok {
		return idx, true, false, false
	}
	line := trimCRLF(rest[:nl])
	isFinal := bytes.Equal(line, m.dashBoundaryDash)
	return idx + nl + 1, true, isFinal, true
}

func trimCRLF(b []byte) []byte {
	for len(b) > 0 && (b[len(b)-1] == '\r' || b[len(b)-1] == '\n') {
		b = b[:len(b)-1]
	}
	return b
}

func (m *Multipart) Close() error {
	if m.closed {
		return nil
	}
	m.closed = true
	return nil
}
