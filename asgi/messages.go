// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package asgi

// AppMessage is the tagged union of messages exchanged between a Stream and
// the goroutine running the application callable. Concrete types mirror the
// app contract's message dictionaries one-to-one.
type AppMessage interface {
	appMessageType() string
}

// HTTPRequest is sent to the app for each chunk of request body received
// (the first carries whatever arrived synchronously with the headers).
type HTTPRequest struct {
	Body     []byte
	MoreBody bool
}

func (HTTPRequest) appMessageType() string { return "http.request" }

// HTTPResponseStart is sent by the app exactly once per stream, before any
// HTTPResponseBody.
type HTTPResponseStart struct {
	Status  int
	Headers Headers
}

func (HTTPResponseStart) appMessageType() string { return "http.response.start" }

// HTTPResponseBody is sent by the app one or more times; only the last
// carries MoreBody == false.
type HTTPResponseBody struct {
	Body     []byte
	MoreBody bool
}

func (HTTPResponseBody) appMessageType() string { return "http.response.body" }

// HTTPDisconnect is the terminal message delivered to the app when the
// client disconnects or the stream is otherwise torn down.
type HTTPDisconnect struct{}

func (HTTPDisconnect) appMessageType() string { return "http.disconnect" }

// WebSocketConnect is the first message delivered to a websocket app after a
// valid handshake.
type WebSocketConnect struct{}

func (WebSocketConnect) appMessageType() string { return "websocket.connect" }

// WebSocketAccept completes the handshake.
type WebSocketAccept struct {
	Subprotocol string // empty if none selected
	Headers     Headers
}

func (WebSocketAccept) appMessageType() string { return "websocket.accept" }

// WebSocketReceive delivers one defragmented inbound message.
type WebSocketReceive struct {
	Bytes []byte // set when the frame was BINARY
	Text  string // set when the frame was TEXT
	IsText bool
}

func (WebSocketReceive) appMessageType() string { return "websocket.receive" }

// WebSocketSend is emitted by the app to send one outbound message.
type WebSocketSend struct {
	Bytes  []byte
	Text   string
	IsText bool
}

func (WebSocketSend) appMessageType() string { return "websocket.send" }

// WebSocketClose initiates or completes the close handshake.
type WebSocketClose struct {
	Code   int
	Reason string
}

func (WebSocketClose) appMessageType() string { return "websocket.close" }

// WebSocketDisconnect is the terminal message delivered to the app.
type WebSocketDisconnect struct {
	Code int
}

func (WebSocketDisconnect) appMessageType() string { return "websocket.disconnect" }

// WebSocketHTTPResponseStart lets the app reject a handshake with an
// arbitrary HTTP response instead of accepting or refusing with a bare 403.
type WebSocketHTTPResponseStart struct {
	Status  int
	Headers Headers
}

func (WebSocketHTTPResponseStart) appMessageType() string { return "websocket.http.response.start" }

// WebSocketHTTPResponseBody carries the rejection body.
type WebSocketHTTPResponseBody struct {
	Body     []byte
	MoreBody bool
}

func (WebSocketHTTPResponseBody) appMessageType() string { return "websocket.http.response.body" }

// Lifespan messages, dispatched once per worker process via RunLifespan.

type LifespanStartup struct{}

func (LifespanStartup) appMessageType() string { return "lifespan.startup" }

type LifespanStartupComplete struct{}

func (LifespanStartupComplete) appMessageType() string { return "lifespan.startup.complete" }

type LifespanStartupFailed struct{ Message string }

func (LifespanStartupFailed) appMessageType() string { return "lifespan.startup.failed" }

type LifespanShutdown struct{}

func (LifespanShutdown) appMessageType() string { return "lifespan.shutdown" }

type LifespanShutdownComplete struct{}

func (LifespanShutdownComplete) appMessageType() string { return "lifespan.shutdown.complete" }

type LifespanShutdownFailed struct{ Message string }

func (LifespanShutdownFailed) appMessageType() string { return "lifespan.shutdown.failed" }
