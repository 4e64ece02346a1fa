/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

//go:build !linux

package mhd

import "net"

// setFastOpen is a no-op on platforms without Linux's TCP_FASTOPEN
// sockopt surface.
func setFastOpen(ln *net.TCPListener) {}
