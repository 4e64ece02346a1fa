/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package post

import "bytes"

// TextPlain is a permissive linewise "key=value" per line parser for
// compatibility with simple HTML form submissions whose browser sent
// Content-Type: text/plain (spec.md §4.6).
type TextPlain struct {
	emit   Emit
	buf    []byte
	closed bool
}

func NewTextPlain(emit Emit) *TextPlain {
	return &TextPlain{emit: emit}
}

func (t *TextPlain) Feed(data []byte) (int, error) {
	t.buf = append(t.buf, data...)
	for {
		i := bytes.IndexByte(t.buf, '\n')
		if i < 0 {
			break
		}
		line := bytes.TrimRight(t.buf[:i], "\r")
		t.buf = t.buf[i+1:]
		if len(line) == 0 {
			continue
		}
		key, value := line, []byte(nil)
		if eq := bytes.IndexByte(line, '='); eq >= 0 {
			key, value = line[:eq], line[eq+1:]
		}
		if !t.emit(Field{Kind: KindTextPlain, Key: string(key), Data: append([]byte(nil), value...), Final: true}) {
			return len(data), nil
		}
	}
	return len(data), nil
}

func (t *TextPlain) Close() error {
	if t.closed {
		return nil
	}
	t.closed = true
	if len(t.buf) > 0 {
		line := bytes.TrimRight(t.buf, "\r")
		key, value := line, []byte(nil)
		if eq := bytes.IndexByte(line, '='); eq >= 0 {
			key, value = line[:eq], line[eq+1:]
		}
		t.emit(Field{Kind: KindTextPlain, Key: string(key), Data: value, Final: true})
	}
	return nil
}
