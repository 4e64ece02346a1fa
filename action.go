/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package mhd

// ActionKind is the small sum type application callbacks return to
// tell the Connection state machine what to do next (spec.md §4.3,
// §6), modelled on badu-http's serverHandler/ResponseWriter split but
// made explicit since this library has no interface the application
// writes to directly — it hands back a value instead.
type ActionKind int

const (
	// ActionContinue asks for more of the upload body (or, outside an
	// upload, is a no-op meaning "not yet decided").
	ActionContinue ActionKind = iota
	// ActionSuspend parks the Connection out of its worker's poll set
	// until Resume is called.
	ActionSuspend
	// ActionAbort closes the connection immediately without a response.
	ActionAbort
	// ActionRespond attaches a Response and begins WRITE_HEADERS.
	ActionRespond
	// ActionProcessUpload hands raw upload-body chunks to a
	// UploadChunkFunc, matching spec.md §4.3/§6's
	// action_process_upload(cb, cls): no form parsing is performed,
	// the application sees the wire bytes directly.
	ActionProcessUpload
	// ActionParsePost hands the body to a PostProcessor (urlencoded,
	// multipart, or text/plain) which drives an UploadHandler with
	// decoded (kind, key, value) events, matching spec.md §4.3/§6's
	// action_parse_post(buffer_size, iter, cls).
	ActionParsePost
	// ActionUpgrade writes a 101 (by default) and hands off to an
	// UpgradeHandle.
	ActionUpgrade
)

// UploadChunkFunc is the raw-bytes upload callback for ProcessUpload
// (spec.md §4.3): it is invoked with each decoded body chunk (content-
// length or de-chunked) and must return how many trailing bytes of
// data it has NOT yet processed — those are retained and prepended to
// the next call's data, mirroring the spec's cb(data, &size_out)
// contract. When the upload stream ends, it is called exactly once
// more with data == nil (the finalization call) and must return
// UploadRespondAction or UploadAbortAction.
type UploadChunkFunc func(data []byte) (unconsumed int, action UploadAction)

// Action is the value returned from a request callback.
type Action struct {
	Kind     ActionKind
	Response *Response

	// Upload, set when Kind == ActionParsePost.
	Upload UploadHandler

	// RawUpload, set when Kind == ActionProcessUpload.
	RawUpload UploadChunkFunc

	// UpgradeCallback, set when Kind == ActionUpgrade.
	UpgradeCallback func(h *UpgradeHandle)
	UpgradeHeaders  *Response // optional extra headers to send with the 101
}

// Continue returns an Action requesting more data.
func Continue() Action { return Action{Kind: ActionContinue} }

// Suspend returns an Action parking the connection.
func Suspend() Action { return Action{Kind: ActionSuspend} }

// Abort returns an Action that closes the connection without a reply.
func Abort() Action { return Action{Kind: ActionAbort} }

// Respond returns an Action attaching resp as the connection's reply.
func Respond(resp *Response) Action {
	return Action{Kind: ActionRespond, Response: resp}
}

// ProcessUpload returns an Action streaming the raw upload body to cb,
// with no form parsing (spec.md §4.3's action_process_upload).
func ProcessUpload(cb UploadChunkFunc) Action {
	return Action{Kind: ActionProcessUpload, RawUpload: cb}
}

// ParsePost returns an Action handing the request body to a
// PostProcessor wired to up (spec.md §4.3's action_parse_post).
func ParsePost(up UploadHandler) Action {
	return Action{Kind: ActionParsePost, Upload: up}
}

// Upgrade returns an Action that completes the handshake and invokes cb
// with the raw bidirectional stream.
func Upgrade(cb func(h *UpgradeHandle)) Action {
	return Action{Kind: ActionUpgrade, UpgradeCallback: cb}
}

// UploadActionKind mirrors ActionKind for the narrower vocabulary the
// PostProcessor's per-field iterator callback may return (spec.md §4.6).
type UploadActionKind int

const (
	UploadContinue UploadActionKind = iota
	UploadSuspend
	UploadAbort
	UploadRespond
)

// UploadAction is returned from an UploadHandler's OnField callback.
type UploadAction struct {
	Kind     UploadActionKind
	Response *Response
}

func UploadContinueAction() UploadAction { return UploadAction{Kind: UploadContinue} }
func UploadSuspendAction() UploadAction  { return UploadAction{Kind: UploadSuspend} }
func UploadAbortAction() UploadAction    { return UploadAction{Kind: UploadAbort} }

func UploadRespondAction(resp *Response) UploadAction {
	return UploadAction{Kind: UploadRespond, Response: resp}
}

// RequestHandler is the application callback invoked once per request,
// after the request line and headers have been parsed (the DISPATCH
// state in spec.md §3).
type RequestHandler func(rc *RequestContext) Action

// UploadHandler receives PostProcessor field events (spec.md §4.6).
type UploadHandler interface {
	// OnField is called once per emitted (kind, key, ...) event. data
	// is only valid for the duration of the call — copy it if retained.
	OnField(field UploadField) UploadAction
}

// UploadFieldKind distinguishes the three PostProcessor content types.
type UploadFieldKind int

const (
	FieldURLEncoded UploadFieldKind = iota
	FieldMultipart
	FieldTextPlain
)

// UploadField is one incremental event emitted by a PostProcessor.
type UploadField struct {
	Kind             UploadFieldKind
	Key              string
	Filename         string
	ContentType      string
	TransferEncoding string
	Data             []byte
	Offset           int64
	Size             int64 // 0 with len(Data) == 0 signals end-of-value
}
