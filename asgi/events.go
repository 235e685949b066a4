// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package asgi

// StreamID identifies a stream within a single connection. For H1 it starts
// at 1 and advances by 2 per request on the connection; for H2 it is the
// odd-valued HTTP/2 stream identifier; for H3 it is the QUIC request stream
// ID.
type StreamID uint64

// Event is the tagged union of protocol events exchanged between a Protocol
// and a Stream. Exactly one of the concrete types below is ever held.
type Event interface {
	eventStreamID() StreamID
}

// Request is emitted by a Protocol when a request's headers (HTTP) or a
// handshake (WebSocket) have been fully parsed.
type Request struct {
	StreamID    StreamID
	Method      string // empty for websocket
	RawPath     []byte
	HTTPVersion string
	Headers     Headers
	// CloseAfter is set by an H1 Protocol when it has already decided this
	// connection closes once the response completes (HTTP/1.0 without
	// keep-alive, or an explicit `Connection: close`), so HTTPStream can
	// stamp a matching `connection: close` response header (§8 Scenario 1).
	// Multiplexed transports (H2/H3) never set it.
	CloseAfter bool
}

func (e Request) eventStreamID() StreamID { return e.StreamID }

// Body carries a chunk of request body (HTTP) bytes from the wire to the
// Stream.
type Body struct {
	StreamID StreamID
	Data     []byte
}

func (e Body) eventStreamID() StreamID { return e.StreamID }

// EndBody signals that no further Body events will arrive for StreamID.
type EndBody struct {
	StreamID StreamID
}

func (e EndBody) eventStreamID() StreamID { return e.StreamID }

// Data carries raw websocket wire bytes: inbound, the still-masked frame
// bytes a Protocol read off the connection, which WSStream parses and
// reassembles itself; outbound, the serialized frames a WSStream emits.
type Data struct {
	StreamID StreamID
	Data     []byte
}

func (e Data) eventStreamID() StreamID { return e.StreamID }

// EndData signals the end of the websocket conversation's inbound side.
type EndData struct {
	StreamID StreamID
}

func (e EndData) eventStreamID() StreamID { return e.StreamID }

// Response is emitted by a Stream toward its Protocol to request that the
// response status line/pseudo-headers and header block be written to the
// wire.
type Response struct {
	StreamID   StreamID
	StatusCode int
	Headers    Headers
}

func (e Response) eventStreamID() StreamID { return e.StreamID }

// StreamClosed is bidirectional: a Protocol emits it to a Stream to signal
// that the stream's wire side is gone (peer reset, connection teardown); a
// Stream emits it to its Protocol to request the wire-level stream be torn
// down (e.g. after a websocket close handshake completes).
type StreamClosed struct {
	StreamID StreamID
}

func (e StreamClosed) eventStreamID() StreamID { return e.StreamID }
