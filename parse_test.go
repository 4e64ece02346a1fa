/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package mhd

import (
	"testing"

	"github.com/badu/mhd/hdr"
)

func TestHeaderParseStateRejectsConflictingContentLength(t *testing.T) {
	var s headerParseState
	h := hdr.NewMapping(4)

	if _, err := s.step(h, "Content-Length: 5", 1<<20, false); err != nil {
		t.Fatalf("first Content-Length should be accepted: %v", err)
	}
	if _, err := s.step(h, "Content-Length: 10", 1<<20, false); err == nil {
		t.Fatalf("expected an error for a conflicting repeated Content-Length")
	}
}

func TestHeaderParseStateAllowsRepeatedIdenticalContentLength(t *testing.T) {
	var s headerParseState
	h := hdr.NewMapping(4)

	if _, err := s.step(h, "Content-Length: 5", 1<<20, false); err != nil {
		t.Fatalf("first Content-Length should be accepted: %v", err)
	}
	if _, err := s.step(h, "Content-Length: 5", 1<<20, false); err != nil {
		t.Fatalf("repeated identical Content-Length should be accepted: %v", err)
	}
}

func TestParseRequestLine(t *testing.T) {
	method, target, major, minor, ok := parseRequestLine("GET /foo?bar=1 HTTP/1.1")
	if !ok {
		t.Fatalf("expected a valid request line to parse")
	}
	if method != "GET" || target != "/foo?bar=1" || major != 1 || minor != 1 {
		t.Fatalf("got method=%q target=%q proto=%d.%d", method, target, major, minor)
	}
}

func TestParseRequestLineMalformed(t *testing.T) {
	if _, _, _, _, ok := parseRequestLine("GET"); ok {
		t.Fatalf("expected a single-token request line to be rejected")
	}
}

func TestScanLineTooLong(t *testing.T) {
	raw := make([]byte, 100)
	for i := range raw {
		raw[i] = 'a'
	}
	if _, _, _, err := scanLine(raw, 10); err != errLineTooLong {
		t.Fatalf("expected errLineTooLong, got %v", err)
	}
}

func TestScanLineNeedsMore(t *testing.T) {
	_, _, ok, err := scanLine([]byte("partial"), 100)
	if ok || err != nil {
		t.Fatalf("expected ok=false, err=nil for a line with no terminator yet, got ok=%v err=%v", ok, err)
	}
}
