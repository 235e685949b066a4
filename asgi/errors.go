// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package asgi

import "errors"

// ErrorClass is the error taxonomy of §7: every error the core surfaces
// above the wire-parsing layer is classified into exactly one of these, so
// that Protocol implementations can map it to the right wire-level response
// without re-deriving the classification themselves.
type ErrorClass int

const (
	// ClassWireProtocol covers malformed parses, invalid frames, and bad
	// pseudo-headers. Always connection-terminal for H1; per-stream for
	// H2/H3 unless the frame is connection-level.
	ClassWireProtocol ErrorClass = iota
	// ClassResourceLimit covers incomplete-header overflow, body-too-large,
	// and oversized websocket messages. Always stream-terminal.
	ClassResourceLimit
	// ClassAppFault covers an app returning an error from its callable.
	ClassAppFault
	// ClassContractViolation covers a message sent in the wrong state, an
	// unrecognized message type, or a wrong payload type.
	ClassContractViolation
	// ClassTransport covers a reset connection or TLS failure. Always
	// connection-terminal.
	ClassTransport
)

func (c ErrorClass) String() string {
	switch c {
	case ClassWireProtocol:
		return "wire-protocol"
	case ClassResourceLimit:
		return "resource-limit"
	case ClassAppFault:
		return "app-fault"
	case ClassContractViolation:
		return "contract-violation"
	case ClassTransport:
		return "transport"
	default:
		return "unknown"
	}
}

// ClassifiedError pairs an error with its taxonomy class so that callers
// above the parsing layer can switch on Class without a type assertion
// chain.
type ClassifiedError struct {
	Class ErrorClass
	Err   error
}

func (e *ClassifiedError) Error() string { return e.Class.String() + ": " + e.Err.Error() }
func (e *ClassifiedError) Unwrap() error { return e.Err }

// Classify wraps err with class, or returns nil if err is nil.
func Classify(class ErrorClass, err error) error {
	if err == nil {
		return nil
	}
	return &ClassifiedError{Class: class, Err: err}
}

// ErrUnexpectedMessage is the contract-violation error raised when an app
// sends a message type that is not valid in the stream's current state.
var ErrUnexpectedMessage = errors.New("asgi: unexpected message for stream state")

// ErrStreamLimitExceeded is the resource-limit error raised when a body or
// websocket message exceeds its configured maximum size.
var ErrStreamLimitExceeded = errors.New("asgi: stream resource limit exceeded")
