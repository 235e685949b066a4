// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package wsframe

import "fmt"

// Message is one reassembled, decompressed websocket message.
type Message struct {
	Opcode  Opcode // OpText or OpBinary
	Payload []byte
}

// Assembler reassembles a sequence of frames into whole Messages, enforcing
// a maximum combined length the way hypercorn's WebsocketBuffer does:
// accumulate until FIN, rejecting once the running total exceeds maxLength.
type Assembler struct {
	maxLength int64

	inProgress bool
	opcode     Opcode
	compressed bool
	buf        []byte
}

// NewAssembler returns an Assembler that rejects messages longer than
// maxLength bytes (0 disables the check).
func NewAssembler(maxLength int64) *Assembler {
	return &Assembler{maxLength: maxLength}
}

// ErrTooLarge is returned by Feed when the accumulated message would exceed
// the configured maximum length; the caller must close the connection with
// status 1009 per §4.2.
type ErrTooLarge struct{}

func (ErrTooLarge) Error() string { return "wsframe: message exceeds configured maximum length" }

// Feed consumes one data frame (OpText, OpBinary, or OpContinuation). It
// returns a complete Message once fin is reached, or ok=false while more
// continuation frames are expected.
func (a *Assembler) Feed(f Frame) (msg Message, ok bool, err error) {
	if f.Opcode.IsControl() {
		return Message{}, false, fmt.Errorf("wsframe: control frame fed to assembler")
	}

	if f.Opcode == OpContinuation {
		if !a.inProgress {
			return Message{}, false, fmt.Errorf("wsframe: unexpected continuation frame")
		}
	} else {
		if a.inProgress {
			return Message{}, false, fmt.Errorf("wsframe: new message started before previous finished")
		}
		a.inProgress = true
		a.opcode = f.Opcode
		a.compressed = f.RSV1
		a.buf = a.buf[:0]
	}

	a.buf = append(a.buf, f.Payload...)
	if a.maxLength > 0 && int64(len(a.buf)) > a.maxLength {
		a.inProgress = false
		a.buf = nil
		return Message{}, false, ErrTooLarge{}
	}

	if !f.Fin {
		return Message{}, false, nil
	}

	payload := a.buf
	opcode := a.opcode
	compressed := a.compressed
	a.inProgress = false
	a.buf = nil

	if compressed {
		payload, err = inflate(payload)
		if err != nil {
			return Message{}, false, fmt.Errorf("wsframe: permessage-deflate inflate: %w", err)
		}
	}
	return Message{Opcode: opcode, Payload: payload}, true, nil
}
