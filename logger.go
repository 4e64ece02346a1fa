/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package mhd

// Logger is the ambient logging sink the daemon writes diagnostics to.
// It is deliberately narrow — level-tagged, printf-style — so
// any of the pack's logging libraries (or none) can back it. See
// mlog.New for the default github.com/hashicorp/go-hclog adapter.
type Logger interface {
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
}

// nopLogger discards everything; used when Options.Logger is nil so
// call sites never have to nil-check.
type nopLogger struct{}

func (nopLogger) Debugf(string, ...any) {}
func (nopLogger) Infof(string, ...any)  {}
func (nopLogger) Warnf(string, ...any)  {}
func (nopLogger) Errorf(string, ...any) {}
