/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package hdr

import "io"

var colonSpace = []byte(": ")

// WriteKind writes every entry of the given kind as "Name: value\r\n"
// lines, in insertion order. Grounded on badu-http/hdr/header.go's
// Header.Write / WriteSubset, simplified since the spec does not require
// sorted output (insertion order is the contract, spec.md §3).
func (m *Mapping) WriteKind(w io.Writer, kind Kind) error {
	for i := range m.entries {
		e := &m.entries[i]
		if e.Kind != kind {
			continue
		}
		if _, err := io.WriteString(w, e.Name); err != nil {
			return err
		}
		if _, err := w.Write(colonSpace); err != nil {
			return err
		}
		if _, err := io.WriteString(w, e.Value); err != nil {
			return err
		}
		if _, err := io.WriteString(w, "\r\n"); err != nil {
			return err
		}
	}
	return nil
}
