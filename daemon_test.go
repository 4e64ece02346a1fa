/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package mhd

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"
)

// startTestDaemon boots a Daemon on an ephemeral loopback port and
// returns it already started, following badu-http/tests' pattern of a
// small per-test helper rather than a shared global fixture.
func startTestDaemon(t *testing.T, opts Options) (*Daemon, string) {
	t.Helper()
	opts.Addr = "127.0.0.1:0"
	d := NewDaemon(opts)
	if code := d.Start(); code != Ok {
		t.Fatalf("Start: %s", code)
	}
	t.Cleanup(func() { d.Stop(time.Second) })
	return d, d.Info().BoundAddr
}

func TestDaemonServesSimpleRequest(t *testing.T) {
	_, addr := startTestDaemon(t, Options{
		Mode:        WorkerThreads,
		WorkerCount: 1,
		Handler: func(rc *RequestContext) Action {
			if rc.Method != "GET" || rc.Path != "/" {
				return Respond(NewResponse(404))
			}
			resp := NewResponse(200).
				WithBuffer([]byte("hello")).
				SetHeader("Content-Type", "text/plain")
			return Respond(resp)
		},
	})

	conn, err := net.DialTimeout("tcp", addr, time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	conn.SetDeadline(time.Now().Add(2 * time.Second))
	fmt.Fprintf(conn, "GET / HTTP/1.1\r\nHost: example.com\r\nConnection: close\r\n\r\n")

	r := bufio.NewReader(conn)
	status, err := r.ReadString('\n')
	if err != nil {
		t.Fatalf("reading status line: %v", err)
	}
	if !strings.HasPrefix(status, "HTTP/1.1 200") {
		t.Fatalf("expected a 200 status line, got %q", status)
	}

	contentLength := -1
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("reading headers: %v", err)
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			break
		}
		if name, value, ok := strings.Cut(line, ":"); ok && strings.EqualFold(strings.TrimSpace(name), "Content-Length") {
			contentLength, _ = strconv.Atoi(strings.TrimSpace(value))
		}
	}
	if contentLength != 5 {
		t.Fatalf("expected Content-Length: 5, got %d", contentLength)
	}

	body := make([]byte, contentLength)
	if _, err := io.ReadFull(r, body); err != nil {
		t.Fatalf("reading body: %v", err)
	}
	if string(body) != "hello" {
		t.Fatalf("expected body %q, got %q", "hello", body)
	}
}

// TestDaemonRawUploadBody exercises spec.md §8 scenario 3: a PUT body
// delivered to a raw ProcessUpload callback (no form parsing), which
// must see exactly the declared Content-Length bytes across however
// many chunks arrive, followed by one finalization call with nil data.
func TestDaemonRawUploadBody(t *testing.T) {
	var got []byte
	var finalized bool
	_, addr := startTestDaemon(t, Options{
		Mode:        WorkerThreads,
		WorkerCount: 1,
		Handler: func(rc *RequestContext) Action {
			return ProcessUpload(func(data []byte) (int, UploadAction) {
				if data == nil {
					finalized = true
					return 0, UploadRespondAction(NewResponse(204))
				}
				got = append(got, data...)
				return 0, UploadContinueAction()
			})
		},
	})

	conn, err := net.DialTimeout("tcp", addr, time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(2 * time.Second))

	body := "simple-upload-value"
	fmt.Fprintf(conn, "PUT /u HTTP/1.1\r\nHost: x\r\nContent-Length: %d\r\nConnection: close\r\n\r\n%s", len(body), body)

	r := bufio.NewReader(conn)
	status, err := r.ReadString('\n')
	if err != nil {
		t.Fatalf("reading status line: %v", err)
	}
	if !strings.HasPrefix(status, "HTTP/1.1 204") {
		t.Fatalf("expected a 204 status line, got %q", status)
	}
	if string(got) != body {
		t.Fatalf("expected upload body %q, got %q", body, got)
	}
	if !finalized {
		t.Fatal("expected exactly one finalization call with nil data")
	}
}

func TestDaemonPerIPLimit(t *testing.T) {
	_, addr := startTestDaemon(t, Options{
		Mode:                WorkerThreads,
		WorkerCount:          1,
		MaxConnectionsPerIP:  1,
		Handler: func(rc *RequestContext) Action {
			return Respond(NewResponse(200))
		},
	})

	// Hold the first connection open so the second one is over the
	// per-IP limit and must be refused by the accept path.
	first, err := net.DialTimeout("tcp", addr, time.Second)
	if err != nil {
		t.Fatalf("dial 1: %v", err)
	}
	defer first.Close()

	time.Sleep(20 * time.Millisecond) // let the accept loop register the first connection

	second, err := net.DialTimeout("tcp", addr, time.Second)
	if err != nil {
		t.Fatalf("dial 2: %v", err)
	}
	defer second.Close()

	second.SetDeadline(time.Now().Add(500 * time.Millisecond))
	buf := make([]byte, 16)
	n, err := second.Read(buf)
	if n != 0 || err == nil {
		t.Fatalf("expected the second same-IP connection to be closed immediately, got n=%d err=%v", n, err)
	}
}

func TestDaemonDoubleStartRejected(t *testing.T) {
	d, _ := startTestDaemon(t, Options{
		Mode: WorkerThreads,
		Handler: func(rc *RequestContext) Action {
			return Respond(NewResponse(200))
		},
	})
	if code := d.Start(); code != ErrAlreadyStarted {
		t.Fatalf("expected ErrAlreadyStarted on a second Start, got %s", code)
	}
}

func TestDaemonStopIsIdempotent(t *testing.T) {
	d, _ := startTestDaemon(t, Options{
		Mode: WorkerThreads,
		Handler: func(rc *RequestContext) Action {
			return Respond(NewResponse(200))
		},
	})
	if code := d.Stop(time.Second); code != OpStopped {
		t.Fatalf("expected OpStopped, got %s", code)
	}
	if code := d.Stop(time.Second); code != InfoAlreadyStopped {
		t.Fatalf("expected InfoAlreadyStopped on a second Stop, got %s", code)
	}
}
