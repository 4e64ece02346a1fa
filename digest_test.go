/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package mhd

import (
	"testing"
	"time"
)

func TestDefaultDigestAuthNonceLifecycle(t *testing.T) {
	p := NewDefaultDigestAuth(4, time.Minute)

	n1 := p.NewNonce()
	n2 := p.NewNonce()
	if n1 == n2 {
		t.Fatalf("expected distinct nonces, got two identical values %q", n1)
	}

	if valid, stale := p.CheckNonce(n1, 1); !valid || stale {
		t.Fatalf("first use of a fresh nonce should be valid and not stale, got valid=%v stale=%v", valid, stale)
	}
	if valid, _ := p.CheckNonce(n1, 1); valid {
		t.Fatalf("a non-increasing nonce-counter should be rejected as a replay")
	}
	if valid, _ := p.CheckNonce(n1, 2); !valid {
		t.Fatalf("a strictly increasing nonce-counter should be accepted")
	}
}

func TestDefaultDigestAuthUnknownNonce(t *testing.T) {
	p := NewDefaultDigestAuth(0, 0)
	if valid, stale := p.CheckNonce("does-not-exist", 1); valid || stale {
		t.Fatalf("unknown nonce should be neither valid nor stale, got valid=%v stale=%v", valid, stale)
	}
}

func TestDefaultDigestAuthStaleness(t *testing.T) {
	p := NewDefaultDigestAuth(0, time.Millisecond).(*defaultDigestAuth)
	n := p.NewNonce()
	time.Sleep(5 * time.Millisecond)
	valid, stale := p.CheckNonce(n, 1)
	if valid || !stale {
		t.Fatalf("expired nonce should be reported stale, got valid=%v stale=%v", valid, stale)
	}
	if _, ok := p.table[n]; ok {
		t.Fatalf("a stale nonce should be evicted from the table on check")
	}
}

func TestDefaultDigestAuthTableEviction(t *testing.T) {
	p := NewDefaultDigestAuth(2, time.Minute).(*defaultDigestAuth)
	n1 := p.NewNonce()
	_ = n1
	p.NewNonce()
	p.NewNonce() // should evict the oldest of the first two

	if len(p.table) > 2 {
		t.Fatalf("expected table size bounded at 2, got %d", len(p.table))
	}
}
