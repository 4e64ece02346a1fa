/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package mhd

import (
	"bufio"
	"io"
	"strconv"
	"time"

	"github.com/badu/mhd/hdr"
)

var crlf = []byte("\r\n")

// writePlan is the decision chunk_writer.go's writeHeader makes once
// per response: whether to chunk, whether to close after reply, and
// the Content-Length if known. Generalized from the teacher's
// single-TransferEncoding-string check to the explicit BodySourceKind
// sum type.
type writePlan struct {
	chunked    bool
	closeAfter bool
	contentLen int64 // -1 if unknown (forces chunked, or close for HTTP/1.0)
}

// planWrite mirrors badu-http/chunk_writer.go's writeHeader content-
// length/transfer-encoding/close decision, restricted to the five
// automatic headers spec.md §4.4 allows the daemon to set: Date,
// Server, Connection, Content-Length, Transfer-Encoding.
func planWrite(rc *RequestContext, resp *Response) writePlan {
	var plan writePlan
	plan.contentLen = resp.ContentLength

	isHEAD := rc.Method == "HEAD"
	allowsBody := bodyAllowedForStatus(resp.StatusCode) && !isHEAD

	if !allowsBody {
		plan.contentLen = 0
		return finalizeClose(rc, resp, plan)
	}

	if plan.contentLen < 0 {
		if rc.ProtoAtLeast(1, 1) {
			plan.chunked = true
		} else {
			plan.closeAfter = true
		}
	}
	return finalizeClose(rc, resp, plan)
}

func finalizeClose(rc *RequestContext, resp *Response, plan writePlan) writePlan {
	if resp.MustClose {
		plan.closeAfter = true
	}
	if !rc.ProtoAtLeast(1, 1) {
		plan.closeAfter = true
	}
	if equalFoldHeader(resp.Header.GetHeader(hdr.Connection), "close") {
		plan.closeAfter = true
	}
	if equalFoldHeader(rc.Headers.GetHeader(hdr.Connection), "close") {
		plan.closeAfter = true
	}
	return plan
}

// writeHeaders writes the status line and headers for resp to w,
// following badu-http/chunk_writer.go's writeHeader field order:
// status line, application headers, then the automatically-managed
// ones, then the terminating blank line.
func writeHeaders(w *bufio.Writer, rc *RequestContext, resp *Response, plan writePlan, serverBanner string) error {
	if _, err := w.Write(canonicalStatusLine(rc.ProtoMajor, rc.ProtoMinor, resp.StatusCode)); err != nil {
		return err
	}
	if err := resp.Header.WriteKind(w, hdr.KindHeader); err != nil {
		return err
	}
	if _, ok := dateAlreadySet(resp.Header); !ok {
		if _, err := w.WriteString("Date: " + time.Now().UTC().Format(http1Date) + "\r\n"); err != nil {
			return err
		}
	}
	if serverBanner != "" && resp.Header.GetHeader(hdr.Server) == "" {
		if _, err := w.WriteString("Server: " + serverBanner + "\r\n"); err != nil {
			return err
		}
	}
	if plan.chunked {
		if _, err := w.WriteString("Transfer-Encoding: chunked\r\n"); err != nil {
			return err
		}
	} else if bodyAllowedForStatus(resp.StatusCode) && resp.Header.GetHeader(hdr.ContentLength) == "" {
		if _, err := w.WriteString("Content-Length: " + strconv.FormatInt(plan.contentLen, 10) + "\r\n"); err != nil {
			return err
		}
	}
	if plan.closeAfter {
		if _, err := w.WriteString("Connection: close\r\n"); err != nil {
			return err
		}
	} else if !rc.ProtoAtLeast(1, 1) {
		if _, err := w.WriteString("Connection: keep-alive\r\n"); err != nil {
			return err
		}
	}
	_, err := w.Write(crlf)
	return err
}

func dateAlreadySet(h *hdr.Mapping) (string, bool) {
	v := h.GetHeader(hdr.Date)
	return v, v != ""
}

// http1Date is the RFC 7231 §7.1.1.1 IMF-fixdate layout, spec.md §9
// resolving "Date header precision" to per-request formatting (no
// shared once-a-second cache, since the daemon has no background
// ticker in ExternalPeriodic/ExternalEvents modes).
const http1Date = "Mon, 02 Jan 2006 15:04:05 GMT"

// writeBody streams resp's body to w according to plan, dispatching
// on BodySourceKind. Fd bodies go through the sendfile callback when
// the caller passes one (connection.go's drainWrite builds it around
// doSendfile when rawFd finds a socket fd); with a nil callback they
// are copied with ReadAt into w.
func writeBody(w *bufio.Writer, resp *Response, plan writePlan, sendfile func(f fdBody) (int64, error)) error {
	switch resp.bodyKind {
	case BodyEmpty:
		return finishChunked(w, resp, plan)
	case BodyBuffer:
		if err := writeChunk(w, resp.buf, plan.chunked); err != nil {
			return err
		}
		return finishChunked(w, resp, plan)
	case BodyIovec:
		for _, b := range resp.iov {
			if err := writeChunk(w, b, plan.chunked); err != nil {
				return err
			}
		}
		return finishChunked(w, resp, plan)
	case BodyFd:
		if sendfile != nil {
			if _, err := sendfile(fdBody{f: resp.fd, offset: resp.fdOffset, size: resp.fdSize}); err != nil {
				return err
			}
			return finishChunked(w, resp, plan)
		}
		buf := make([]byte, 32*1024)
		remaining := resp.fdSize
		off := resp.fdOffset
		for remaining > 0 {
			n := len(buf)
			if int64(n) > remaining {
				n = int(remaining)
			}
			rn, err := resp.fd.ReadAt(buf[:n], off)
			if rn > 0 {
				if werr := writeChunk(w, buf[:rn], plan.chunked); werr != nil {
					return werr
				}
				off += int64(rn)
				remaining -= int64(rn)
			}
			if err != nil {
				if err == io.EOF {
					break
				}
				return err
			}
		}
		return finishChunked(w, resp, plan)
	case BodyCallback:
		buf := make([]byte, 32*1024)
		for {
			n, err := resp.cb(buf)
			if n > 0 {
				if werr := writeChunk(w, buf[:n], plan.chunked); werr != nil {
					return werr
				}
			}
			if err != nil {
				if err == io.EOF {
					break
				}
				return err
			}
			if n == 0 {
				break
			}
		}
		return finishChunked(w, resp, plan)
	default:
		return nil
	}
}

// fdBody bundles the arguments connection.go's sendfile(2) path needs.
type fdBody struct {
	f      fdReaderAt
	offset int64
	size   int64
}

type fdReaderAt interface {
	io.ReaderAt
	Fd() uintptr
}

func writeChunk(w *bufio.Writer, p []byte, chunked bool) error {
	if len(p) == 0 {
		return nil
	}
	if chunked {
		if _, err := w.WriteString(strconv.FormatInt(int64(len(p)), 16) + "\r\n"); err != nil {
			return err
		}
	}
	if _, err := w.Write(p); err != nil {
		return err
	}
	if chunked {
		if _, err := w.Write(crlf); err != nil {
			return err
		}
	}
	return nil
}

// finishChunked writes the terminal zero-chunk and trailers, following
// badu-http/chunk_writer.go's close().
func finishChunked(w *bufio.Writer, resp *Response, plan writePlan) error {
	if !plan.chunked {
		return nil
	}
	if _, err := w.WriteString("0\r\n"); err != nil {
		return err
	}
	if resp.Trailer != nil {
		if err := resp.Trailer.WriteKind(w, hdr.KindFooter); err != nil {
			return err
		}
	}
	_, err := w.Write(crlf)
	return err
}
