// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package asgi

import "time"

// SendEvent is the captured function a Stream uses to hand a wire-bound
// Event back to its owning Protocol. Per the design note in §9, the
// back-reference between Stream and Protocol — cyclic in the reference
// implementation — is replaced here by a plain function value: the
// Protocol owns the Stream, never the reverse.
type SendEvent func(Event)

// ResponseSummary is the minimal response description passed to
// access.Logger.Access once a stream completes.
type ResponseSummary struct {
	Status  int
	Headers Headers
}

// Logger is the injected access/error logging collaborator (§6). It is
// intentionally narrow: formatting and transport of log records are outside
// the core's scope.
type Logger interface {
	Access(scope *Scope, summary ResponseSummary, elapsed time.Duration)
	AppError(scope *Scope, class ErrorClass, err error)
}

// NopLogger discards everything. Useful in tests and as a zero value.
type NopLogger struct{}

func (NopLogger) Access(*Scope, ResponseSummary, time.Duration) {}
func (NopLogger) AppError(*Scope, ErrorClass, error)            {}

// Stream is the common interface HTTPStream and WSStream satisfy, so that a
// Protocol's stream table can hold either without a type switch on every
// dispatch.
type Stream interface {
	// Handle processes one inbound protocol event. It must only be called
	// by the owning Protocol's wire goroutine.
	Handle(event Event)
	// StreamSend processes one outbound app message. It is called from the
	// stream's own app goroutine.
	StreamSend(msg AppMessage)
	// ID returns the stream's identifier.
	ID() StreamID
}
