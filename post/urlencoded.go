/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package post

import "github.com/badu/mhd/urlutil"

// URLEncoded streams application/x-www-form-urlencoded bodies,
// ampersand-separated and percent-decoded, grounded on
// badu-http/url/url.go's QueryUnescape percent-decode contract (now
// implemented in urlutil) but restructured from a single
// ParseQuery(string) call into an incremental key/value scanner:
// spec.md §4.6 requires keys to be fully buffered before emission
// (bounded by keyBufSize, minimum 256) while values may stream across
// many Feed calls.
type URLEncoded struct {
	emit      Emit
	keyBufCap int

	key         []byte
	inValue     bool
	rawValue    []byte // accumulates percent-escapes spanning Feed boundaries
	valueOffset int64  // running offset of the current value, reset at '&'
	closed      bool
}

// NewURLEncoded builds a streaming decoder. keyBufSize < 256 is
// clamped up to 256 per spec.md §4.6.
func NewURLEncoded(keyBufSize int, emit Emit) *URLEncoded {
	if keyBufSize < defaultKeyBufferSize {
		keyBufSize = defaultKeyBufferSize
	}
	return &URLEncoded{emit: emit, keyBufCap: keyBufSize}
}

// valueChunkCap bounds how much of a value is buffered before it is
// decoded and emitted, so a single very long value still streams in
// several Field events instead of being held in full.
const valueChunkCap = 4096

func (u *URLEncoded) Feed(data []byte) (int, error) {
	consumed := 0
	for i := 0; i < len(data); i++ {
		c := data[i]
		switch {
		case c == '&':
			if !u.flushValue(true) {
				return consumed + i + 1, nil
			}
			u.key = u.key[:0]
			u.inValue = false
		case c == '=' && !u.inValue:
			u.inValue = true
		case u.inValue:
			u.rawValue = append(u.rawValue, c)
			if len(u.rawValue) >= valueChunkCap {
				if !u.flushValue(false) {
					return consumed + i + 1, nil
				}
			}
		default:
			if len(u.key) < u.keyBufCap {
				u.key = append(u.key, c)
			}
		}
	}
	consumed = len(data)
	return consumed, nil
}

// flushValue decodes and emits as much of the buffered raw value as
// can be safely unescaped, advancing valueOffset by the decoded byte
// count. When final is false this is a mid-value chunk: a trailing
// incomplete percent-escape is held back for the next call instead of
// being decoded early. When final is true, any remaining bytes are
// flushed and a terminal zero-size Field (Final: true) is emitted to
// mark end-of-value, per spec.md §4.6.
func (u *URLEncoded) flushValue(final bool) bool {
	safe := u.rawValue
	if !final {
		if n := trailingPartialEscape(u.rawValue); n > 0 {
			safe = u.rawValue[:len(u.rawValue)-n]
		}
	}
	if len(safe) > 0 {
		key, _ := urlutil.QueryUnescape(string(u.key))
		value, _ := urlutil.QueryUnescape(string(safe))
		if !u.emit(Field{Kind: KindURLEncoded, Key: key, Data: []byte(value), Offset: u.valueOffset}) {
			return false
		}
		u.valueOffset += int64(len(value))
		u.rawValue = append(u.rawValue[:0], u.rawValue[len(safe):]...)
	}
	if !final {
		return true
	}
	key, _ := urlutil.QueryUnescape(string(u.key))
	if !u.emit(Field{Kind: KindURLEncoded, Key: key, Offset: u.valueOffset, Final: true}) {
		return false
	}
	u.valueOffset = 0
	return true
}

// trailingPartialEscape reports how many trailing bytes of b form an
// incomplete percent-escape ("%" or "%X") that must wait for more
// data before it can be decoded.
func trailingPartialEscape(b []byte) int {
	n := len(b)
	if n >= 1 && b[n-1] == '%' {
		return 1
	}
	if n >= 2 && b[n-2] == '%' {
		return 2
	}
	return 0
}

func (u *URLEncoded) Close() error {
	if u.closed {
		return nil
	}
	u.closed = true
	if len(u.key) > 0 || len(u.rawValue) > 0 || u.valueOffset > 0 {
		u.flushValue(true)
	}
	return nil
}
