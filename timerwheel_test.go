/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package mhd

import (
	"testing"
	"time"
)

func TestTimerWheelExpired(t *testing.T) {
	w := newTimerWheel(time.Second)
	base := time.Unix(1_700_000_000, 0)

	stale := &Connection{lastActivity: base}
	fresh := &Connection{lastActivity: base.Add(900 * time.Millisecond)}

	w.track(stale)
	w.track(fresh)

	expired := w.expired(base.Add(2 * time.Second))
	if len(expired) != 2 {
		t.Fatalf("expected both connections expired after 2s with a 1s idle timeout, got %d", len(expired))
	}

	// Once swept, expired connections should not be returned again.
	if got := w.expired(base.Add(3 * time.Second)); len(got) != 0 {
		t.Fatalf("expected no connections left after sweep, got %d", len(got))
	}
}

func TestTimerWheelTouchExtendsDeadline(t *testing.T) {
	w := newTimerWheel(time.Second)
	base := time.Unix(1_700_000_000, 0)

	c := &Connection{lastActivity: base}
	w.track(c)

	c.lastActivity = base.Add(5 * time.Second)
	w.touch(c)

	if got := w.expired(base.Add(2 * time.Second)); len(got) != 0 {
		t.Fatalf("touch should have moved the connection out of the expired bucket, got %d expired", len(got))
	}
	if got := w.expired(base.Add(6 * time.Second)); len(got) != 1 {
		t.Fatalf("expected the touched connection to expire relative to its new activity time, got %d", len(got))
	}
}

func TestTimerWheelUntrack(t *testing.T) {
	w := newTimerWheel(time.Second)
	base := time.Unix(1_700_000_000, 0)

	c := &Connection{lastActivity: base}
	w.track(c)
	w.untrack(c)

	if got := w.expired(base.Add(10 * time.Second)); len(got) != 0 {
		t.Fatalf("expected untracked connection not to expire, got %d", len(got))
	}
}

func TestTimerWheelNilSafe(t *testing.T) {
	var w *timerWheel
	c := &Connection{}
	w.track(c)
	w.touch(c)
	w.untrack(c)
	if got := w.expired(time.Now()); got != nil {
		t.Fatalf("nil wheel should report no expired connections, got %v", got)
	}
	if _, ok := w.nextDeadline(time.Now()); ok {
		t.Fatalf("nil wheel should report no next deadline")
	}
}

func TestTimerWheelDisabledIdle(t *testing.T) {
	w := newTimerWheel(0)
	c := &Connection{lastActivity: time.Now()}
	w.track(c)
	if got := w.expired(time.Now().Add(time.Hour)); got != nil {
		t.Fatalf("idle=0 should disable expiry, got %v", got)
	}
	if _, ok := w.nextDeadline(time.Now()); ok {
		t.Fatalf("idle=0 should report no next deadline")
	}
}

func TestTimerWheelNextDeadline(t *testing.T) {
	w := newTimerWheel(time.Second)
	now := time.Unix(1_700_000_000, 0)
	c := &Connection{lastActivity: now}
	w.track(c)

	d, ok := w.nextDeadline(now)
	if !ok {
		t.Fatalf("expected a deadline once a connection is tracked")
	}
	if d <= 0 || d > time.Second {
		t.Fatalf("expected next deadline within (0, 1s], got %v", d)
	}
}
