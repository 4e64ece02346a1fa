/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package mhd

import (
	"bytes"
	"errors"
)

const maxChunkLineLength = 4096 // grounded on badu-http/utils_chunks.go's maxLineLength

var (
	errChunkLineTooLong = errors.New("mhd: chunk header line too long")
	errInvalidChunkSize = errors.New("mhd: invalid chunk size")
)

// bodyDecoderState is a push-based upload-body decoder: it consumes
// bytes already sitting in a Connection's read accumulator and
// produces decoded payload bytes, without ever blocking for more
// input. This is the non-blocking analogue of
// badu-http/utils_chunks.go's readChunkLine/parseHexUint (which read
// from a blocking bufio.Reader); here the state that would normally
// live on the Go call stack across blocking reads — "how much of the
// current chunk-size line have I seen so far" — is carried explicitly
// in the struct so decode can be called again once more bytes arrive,
// exactly like the PostProcessor's incremental scanner.
type bodyDecoderState struct {
	chunked bool

	// Content-Length framing.
	remaining int64

	// Chunked framing.
	chunkLeft    int64 // bytes left in the current chunk; -1 means "read a size line first"
	inTrailer    bool
	done         bool
}

func newContentLengthDecoder(length int64) *bodyDecoderState {
	return &bodyDecoderState{remaining: length}
}

func newChunkedDecoder() *bodyDecoderState {
	return &bodyDecoderState{chunked: true, chunkLeft: -1}
}

func (d *bodyDecoderState) finished() bool { return d.done }

// decode consumes a prefix of raw and returns the decoded payload
// slice (a view into raw — copy it out before raw is reused), how
// many bytes of raw were consumed, and whether the body has completed.
// needMore is true when decode could not make progress because raw
// doesn't yet contain a full line/chunk; the caller should wait for
// more bytes and call again with a longer raw.
func (d *bodyDecoderState) decode(raw []byte) (data []byte, consumed int, done bool, needMore bool, err error) {
	if d.done {
		return nil, 0, true, false, nil
	}
	if !d.chunked {
		if d.remaining <= 0 {
			d.done = true
			return nil, 0, true, false, nil
		}
		n := int64(len(raw))
		if n == 0 {
			return nil, 0, false, true, nil
		}
		if n > d.remaining {
			n = d.remaining
		}
		d.remaining -= n
		if d.remaining == 0 {
			d.done = true
		}
		return raw[:n], int(n), d.done, false, nil
	}
	return d.decodeChunked(raw)
}

func (d *bodyDecoderState) decodeChunked(raw []byte) (data []byte, consumed int, done bool, needMore bool, err error) {
	if d.inTrailer {
		i := bytes.IndexByte(raw, '\n')
		if i < 0 {
			if len(raw) > maxChunkLineLength {
				return nil, 0, false, false, errChunkLineTooLong
			}
			return nil, 0, false, true, nil
		}
		line := trimCRLF(raw[:i])
		if len(line) == 0 {
			d.done = true
		}
		return nil, i + 1, d.done, false, nil
	}
	if d.chunkLeft < 0 {
		i := bytes.IndexByte(raw, '\n')
		if i < 0 {
			if len(raw) > maxChunkLineLength {
				return nil, 0, false, false, errChunkLineTooLong
			}
			return nil, 0, false, true, nil
		}
		line := removeChunkExtension(trimCRLF(raw[:i]))
		size, perr := parseHexUint(line)
		if perr != nil {
			return nil, 0, false, false, errInvalidChunkSize
		}
		consumed = i + 1
		if size == 0 {
			d.inTrailer = true
			return nil, consumed, false, false, nil
		}
		d.chunkLeft = int64(size)
		raw = raw[consumed:]
	}
	if d.chunkLeft > 0 {
		if len(raw) == 0 {
			return nil, consumed, false, true, nil
		}
		n := int64(len(raw))
		if n > d.chunkLeft {
			n = d.chunkLeft
		}
		d.chunkLeft -= n
		return raw[:n], consumed + int(n), false, false, nil
	}
	// chunkLeft == 0: need the trailing CRLF before the next size line.
	if len(raw) < 2 {
		return nil, consumed, false, true, nil
	}
	d.chunkLeft = -1
	return nil, consumed + 2, false, false, nil
}

func trimCRLF(b []byte) []byte {
	for len(b) > 0 && (b[len(b)-1] == '\r' || b[len(b)-1] == '\n') {
		b = b[:len(b)-1]
	}
	return b
}

func removeChunkExtension(p []byte) []byte {
	if i := bytes.IndexByte(p, ';'); i >= 0 {
		return p[:i]
	}
	return p
}

// parseHexUint is a verbatim adaptation of badu-http/utils_chunks.go's
// parseHexUint.
func parseHexUint(v []byte) (uint64, error) {
	if len(v) == 0 {
		return 0, errors.New("mhd: empty chunk size")
	}
	var n uint64
	for i, c := range v {
		var b byte
		switch {
		case '0' <= c && c <= '9':
			b = c - '0'
		case 'a' <= c && c <= 'f':
			b = c - 'a' + 10
		case 'A' <= c && c <= 'F':
			b = c - 'A' + 10
		default:
			return 0, errors.New("mhd: invalid byte in chunk length")
		}
		if i == 16 {
			return 0, errors.New("mhd: chunk length too large")
		}
		n <<= 4
		n |= uint64(b)
	}
	return n, nil
}
