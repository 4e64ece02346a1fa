/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package mhd

import "testing"

func TestOptionsValidate(t *testing.T) {
	noopHandler := func(rc *RequestContext) Action { return Continue() }

	cases := []struct {
		name string
		opts Options
		want StatusCode
	}{
		{"missing addr", Options{Handler: noopHandler}, ErrOptionInvalidValue},
		{"missing handler", Options{Addr: ":0"}, ErrOptionInvalidValue},
		{"unknown mode", Options{Addr: ":0", Handler: noopHandler, Mode: SchedulingMode(99)}, ErrOptionUnknown},
		{"valid", Options{Addr: ":0", Handler: noopHandler, Mode: WorkerThreads}, Ok},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := c.opts.validate(); got != c.want {
				t.Fatalf("validate() = %s, want %s", got, c.want)
			}
		})
	}
}

func TestOptionsDefaults(t *testing.T) {
	var o Options
	if got := o.workerCount(); got != 1 {
		t.Fatalf("default workerCount() = %d, want 1", got)
	}
	if got := o.maxHeaderBytes(); got != 1<<20 {
		t.Fatalf("default maxHeaderBytes() = %d, want %d", got, 1<<20)
	}
	if got := o.connPoolSize(); got != 32<<10 {
		t.Fatalf("default connPoolSize() = %d, want %d", got, 32<<10)
	}
	if _, ok := o.logger().(nopLogger); !ok {
		t.Fatalf("default logger() should be nopLogger")
	}
}
