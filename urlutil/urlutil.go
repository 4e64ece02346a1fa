/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

// Package urlutil implements the small slice of URL grammar the daemon
// actually needs: splitting a request target into path and raw query,
// percent-decoding, and validating a Host header.
//
// badu-http/url is a near-complete net/url clone (URL.String,
// ResolveReference, Userinfo, MarshalBinary...) grounding a
// validHostByte table and a Values type, but the retrieval pack's copy
// is missing the escape.go-equivalent file backing unescape/escape — the
// pack simply does not contain that algorithm, and the rest of the
// generic URL-resolution surface (scheme/opaque/fragment handling) has
// no caller in an HTTP server core that only ever sees a request target,
// never resolves relative references. Rewritten minimal, purpose-built,
// and percent-decoding follows the standard %XX / '+' contract
// documented (but not implemented) in badu-http/url/public.go's
// QueryUnescape doc comment.
package urlutil

import (
	"errors"
	"strings"
)

// ErrInvalidEscape is returned by QueryUnescape/PathUnescape for
// malformed percent-encoding.
var ErrInvalidEscape = errors.New("urlutil: invalid URL escape")

// Values maps a string key to the list of values given for it, in
// insertion order — used for decoded query strings and
// x-www-form-urlencoded bodies.
type Values map[string][]string

func (v Values) Add(key, value string) {
	v[key] = append(v[key], value)
}

func (v Values) Get(key string) string {
	vs := v[key]
	if len(vs) == 0 {
		return ""
	}
	return vs[0]
}

// SplitTarget splits an HTTP request-line target into (path, rawQuery).
// "/a/b?x=1" -> ("/a/b", "x=1"); "/a/b" -> ("/a/b", "").
func SplitTarget(target string) (path, rawQuery string) {
	if i := strings.IndexByte(target, '?'); i >= 0 {
		return target[:i], target[i+1:]
	}
	return target, ""
}

// ParseQuery decodes a query string ("a=1&b=2&c") into Values. Malformed
// pairs are skipped rather than aborting the whole parse, matching
// net/url's ParseQuery tolerance (and hence badu-http/url's, per its
// doc comment: "silently discards malformed value pairs").
func ParseQuery(rawQuery string) Values {
	v := make(Values)
	for rawQuery != "" {
		var pair string
		if i := strings.IndexByte(rawQuery, '&'); i >= 0 {
			pair, rawQuery = rawQuery[:i], rawQuery[i+1:]
		} else {
			pair, rawQuery = rawQuery, ""
		}
		if pair == "" {
			continue
		}
		key := pair
		value := ""
		if i := strings.IndexByte(pair, '='); i >= 0 {
			key, value = pair[:i], pair[i+1:]
		}
		dk, err := QueryUnescape(key)
		if err != nil {
			continue
		}
		dv, err := QueryUnescape(value)
		if err != nil {
			continue
		}
		v.Add(dk, dv)
	}
	return v
}

// QueryUnescape percent-decodes s, also converting '+' to ' ', per the
// application/x-www-form-urlencoded convention.
func QueryUnescape(s string) (string, error) {
	return unescape(s, true)
}

// PathUnescape percent-decodes s without the '+' -> ' ' conversion.
func PathUnescape(s string) (string, error) {
	return unescape(s, false)
}

func unescape(s string, plusToSpace bool) (string, error) {
	// Count %-escapes to size the output exactly once.
	n := 0
	hasPlus := false
	for i := 0; i < len(s); {
		switch s[i] {
		case '%':
			n++
			if i+2 >= len(s) || !isHex(s[i+1]) || !isHex(s[i+2]) {
				return "", ErrInvalidEscape
			}
			i += 3
		case '+':
			hasPlus = hasPlus || plusToSpace
			i++
		default:
			i++
		}
	}
	if n == 0 && !hasPlus {
		return s, nil
	}
	var b strings.Builder
	b.Grow(len(s) - 2*n)
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '%':
			b.WriteByte(unhex(s[i+1])<<4 | unhex(s[i+2]))
			i += 2
		case '+':
			if plusToSpace {
				b.WriteByte(' ')
			} else {
				b.WriteByte('+')
			}
		default:
			b.WriteByte(s[i])
		}
	}
	return b.String(), nil
}

func isHex(c byte) bool {
	switch {
	case '0' <= c && c <= '9', 'a' <= c && c <= 'f', 'A' <= c && c <= 'F':
		return true
	}
	return false
}

func unhex(c byte) byte {
	switch {
	case '0' <= c && c <= '9':
		return c - '0'
	case 'a' <= c && c <= 'f':
		return c - 'a' + 10
	case 'A' <= c && c <= 'F':
		return c - 'A' + 10
	}
	return 0
}

// validHostByte is copied from badu-http/url/types.go's validHostByte
// table (RFC 3986's host/port grammar, permissive about IPv6 brackets
// and zones).
var validHostByte = [256]bool{
	'0': true, '1': true, '2': true, '3': true, '4': true, '5': true, '6': true, '7': true,
	'8': true, '9': true,

	'a': true, 'b': true, 'c': true, 'd': true, 'e': true, 'f': true, 'g': true, 'h': true,
	'i': true, 'j': true, 'k': true, 'l': true, 'm': true, 'n': true, 'o': true, 'p': true,
	'q': true, 'r': true, 's': true, 't': true, 'u': true, 'v': true, 'w': true, 'x': true,
	'y': true, 'z': true,

	'A': true, 'B': true, 'C': true, 'D': true, 'E': true, 'F': true, 'G': true, 'H': true,
	'I': true, 'J': true, 'K': true, 'L': true, 'M': true, 'N': true, 'O': true, 'P': true,
	'Q': true, 'R': true, 'S': true, 'T': true, 'U': true, 'V': true, 'W': true, 'X': true,
	'Y': true, 'Z': true,

	'!': true, '$': true, '%': true, '&': true, '(': true, ')': true, '*': true, '+': true,
	',': true, '-': true, '.': true, ':': true, ';': true, '=': true, '[': true, '\'': true,
	']': true, '_': true, '~': true,
}

// ValidHostHeader reports whether host looks like a syntactically valid
// Host header value (RFC 7230 §5.4).
func ValidHostHeader(host string) bool {
	if host == "" {
		return true
	}
	for i := 0; i < len(host); i++ {
		if !validHostByte[host[i]] {
			return false
		}
	}
	return true
}
