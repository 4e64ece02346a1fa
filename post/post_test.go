/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package post

import "testing"

// collectValues groups a flat Field stream into per-key reassembled
// values, mirroring the multipart tests' concat-then-check-Final
// idiom, since a value now streams as zero or more data chunks
// followed by a terminal zero-size Final event (spec.md §4.6).
func collectValues(got []Field) map[string]string {
	out := map[string]string{}
	var cur []byte
	for _, f := range got {
		cur = append(cur, f.Data...)
		if f.Final {
			out[f.Key] = string(cur)
			cur = nil
		}
	}
	return out
}

func TestURLEncodedSingleFeed(t *testing.T) {
	var got []Field
	u := NewURLEncoded(0, func(f Field) bool {
		got = append(got, f)
		return true
	})
	if _, err := u.Feed([]byte("a=1&b=hello%20world")); err != nil {
		t.Fatalf("Feed: %v", err)
	}
	if err := u.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	values := collectValues(got)
	if values["a"] != "1" || values["b"] != "hello world" {
		t.Fatalf("values = %+v, events = %+v", values, got)
	}
	if !got[len(got)-1].Final || len(got[len(got)-1].Data) != 0 {
		t.Fatalf("expected a terminal zero-size event, got %+v", got[len(got)-1])
	}
}

func TestURLEncodedSplitAcrossFeeds(t *testing.T) {
	var got []Field
	u := NewURLEncoded(0, func(f Field) bool {
		got = append(got, f)
		return true
	})
	raw := "name=foo%2Bbar&empty="
	for i := 0; i < len(raw); i++ {
		if _, err := u.Feed([]byte{raw[i]}); err != nil {
			t.Fatalf("Feed byte %d: %v", i, err)
		}
	}
	if err := u.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	values := collectValues(got)
	if values["name"] != "foo+bar" {
		t.Fatalf("name value = %q, events = %+v", values["name"], got)
	}
	if v, ok := values["empty"]; !ok || v != "" {
		t.Fatalf("empty value = %q, ok=%v, events = %+v", v, ok, got)
	}
}

func TestURLEncodedLongValueStreamsInChunks(t *testing.T) {
	var got []Field
	u := NewURLEncoded(0, func(f Field) bool {
		got = append(got, f)
		return true
	})
	long := make([]byte, valueChunkCap*2+10)
	for i := range long {
		long[i] = 'x'
	}
	if _, err := u.Feed([]byte("f=")); err != nil {
		t.Fatalf("Feed: %v", err)
	}
	if _, err := u.Feed(long); err != nil {
		t.Fatalf("Feed: %v", err)
	}
	if err := u.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	nonFinal := 0
	var offsets []int64
	for _, f := range got {
		if !f.Final {
			nonFinal++
			offsets = append(offsets, f.Offset)
		}
	}
	if nonFinal < 2 {
		t.Fatalf("expected a long value to stream across multiple chunks, got %d non-final events: %+v", nonFinal, offsets)
	}
	values := collectValues(got)
	if values["f"] != string(long) {
		t.Fatalf("reassembled value mismatch, len got=%d want=%d", len(values["f"]), len(long))
	}
	last := got[len(got)-1]
	if !last.Final || len(last.Data) != 0 {
		t.Fatalf("expected terminal zero-size event, got %+v", last)
	}
}

func TestURLEncodedKeyBufferClamp(t *testing.T) {
	u := NewURLEncoded(10, nil)
	if u.keyBufCap != defaultKeyBufferSize {
		t.Fatalf("expected keyBufCap clamped to %d, got %d", defaultKeyBufferSize, u.keyBufCap)
	}
}

func TestMultipartSingleField(t *testing.T) {
	const boundary = "X-BOUNDARY"
	body := "--" + boundary + "\r\n" +
		"Content-Disposition: form-data; name=\"field1\"\r\n\r\n" +
		"value1\r\n" +
		"--" + boundary + "--\r\n"

	var got []Field
	m := NewMultipart(boundary, func(f Field) bool {
		got = append(got, f)
		return true
	})
	if _, err := m.Feed([]byte(body)); err != nil {
		t.Fatalf("Feed: %v", err)
	}
	var data []byte
	for _, f := range got {
		data = append(data, f.Data...)
	}
	if string(data) != "value1" {
		t.Fatalf("expected body %q, got %q", "value1", data)
	}
	if got[len(got)-1].Key != "field1" || !got[len(got)-1].Final {
		t.Fatalf("expected a final field1 event, got %+v", got[len(got)-1])
	}
}

func TestMultipartSplitAcrossFeeds(t *testing.T) {
	const boundary = "BOUNDARY123"
	body := "--" + boundary + "\r\n" +
		"Content-Disposition: form-data; name=\"file\"; filename=\"a.txt\"\r\n" +
		"Content-Type: text/plain\r\n\r\n" +
		"line one\r\nline two" + "\r\n" +
		"--" + boundary + "--\r\n"

	var got []Field
	m := NewMultipart(boundary, func(f Field) bool {
		got = append(got, f)
		return true
	})
	raw := []byte(body)
	for i := 0; i < len(raw); i += 3 {
		end := i + 3
		if end > len(raw) {
			end = len(raw)
		}
		if _, err := m.Feed(raw[i:end]); err != nil {
			t.Fatalf("Feed chunk %d: %v", i, err)
		}
	}
	var data []byte
	for _, f := range got {
		data = append(data, f.Data...)
	}
	if string(data) != "line one\r\nline two" {
		t.Fatalf("expected reassembled body %q, got %q", "line one\r\nline two", data)
	}
	last := got[len(got)-1]
	if last.Key != "file" || last.Filename != "a.txt" || last.ContentType != "text/plain" || !last.Final {
		t.Fatalf("expected a final file field event, got %+v", last)
	}
}

func TestMultipartEmitFalseStopsFeeding(t *testing.T) {
	const boundary = "B"
	body := "--" + boundary + "\r\n" +
		"Content-Disposition: form-data; name=\"a\"\r\n\r\n" +
		"abc\r\n--" + boundary + "--\r\n"

	calls := 0
	m := NewMultipart(boundary, func(f Field) bool {
		calls++
		return false
	})
	if _, err := m.Feed([]byte(body)); err != nil {
		t.Fatalf("Feed: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected exactly 1 emit call before the processor honors the stop signal, got %d", calls)
	}
}
