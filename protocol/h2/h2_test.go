// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package h2

import (
	"bytes"
	"context"
	"testing"
	"time"

	"golang.org/x/net/http2"

	"github.com/wireproto/asgicore/asgi"
	"github.com/wireproto/asgicore/config"
)

// noopStream satisfies asgi.Stream without doing anything; the flow-control
// tests below only exercise Protocol's window bookkeeping, not event
// dispatch into a real stream.
type noopStream struct{ id asgi.StreamID }

func (noopStream) Handle(asgi.Event)          {}
func (noopStream) StreamSend(asgi.AppMessage) {}
func (s noopStream) ID() asgi.StreamID        { return s.id }

// TestWriteDataBlocksUntilWindowUpdate mirrors §4.4's flow-control
// requirement: a stream whose outbound window is smaller than the payload
// must have its DATA writes suspended until a WINDOW_UPDATE arrives, not
// exceed the peer's advertised window.
func TestWriteDataBlocksUntilWindowUpdate(t *testing.T) {
	var wire bytes.Buffer
	p := New(&wire, asgi.Env{Logger: asgi.NopLogger{}}, nil, config.Default())

	p.mu.Lock()
	p.streams[1] = &streamState{stream: noopStream{id: 1}, sendWindow: 4}
	p.connSendWindow = 100
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.writeData(1, []byte("hello world"), true) // 11 bytes > the 4-byte window
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("writeData returned before the stream's send window covered the payload")
	case <-time.After(50 * time.Millisecond):
	}

	p.dispatch(context.Background(), &http2.WindowUpdateFrame{
		FrameHeader: http2.FrameHeader{StreamID: 1},
		Increment:   20,
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("writeData did not unblock after a WINDOW_UPDATE grew the send window")
	}
}

// TestWriteDataUnblockedByConnectionWindowUpdate confirms a stream-ID-0
// WINDOW_UPDATE (a connection-level increment) also releases a blocked
// writer, since the effective window is the minimum of the two.
func TestWriteDataUnblockedByConnectionWindowUpdate(t *testing.T) {
	var wire bytes.Buffer
	p := New(&wire, asgi.Env{Logger: asgi.NopLogger{}}, nil, config.Default())

	p.mu.Lock()
	p.streams[1] = &streamState{stream: noopStream{id: 1}, sendWindow: 1000}
	p.connSendWindow = 2
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.writeData(1, []byte("hello"), true)
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("writeData returned before the connection-level window covered the payload")
	case <-time.After(50 * time.Millisecond):
	}

	p.dispatch(context.Background(), &http2.WindowUpdateFrame{
		FrameHeader: http2.FrameHeader{StreamID: 0},
		Increment:   10,
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("writeData did not unblock after a connection-level WINDOW_UPDATE")
	}
}

// TestWriteDataUnblocksOnTeardown confirms a writer blocked on an exhausted
// window doesn't hang forever once the stream is torn down (e.g. the peer
// reset it) — it must observe the stream's removal and return.
func TestWriteDataUnblocksOnTeardown(t *testing.T) {
	var wire bytes.Buffer
	p := New(&wire, asgi.Env{Logger: asgi.NopLogger{}}, nil, config.Default())

	p.mu.Lock()
	p.streams[1] = &streamState{stream: noopStream{id: 1}, sendWindow: 0}
	p.connSendWindow = 0
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.writeData(1, []byte("hello"), true)
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("writeData returned before teardown despite an exhausted window")
	case <-time.After(50 * time.Millisecond):
	}

	p.teardownAll()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("writeData did not unblock after the stream was torn down")
	}
}

// TestRunTeardownsStreamsOnContextCancel confirms Run's loop releases every
// active stream (delivering StreamClosed) when its context is cancelled, not
// only on a read error or GOAWAY.
func TestRunTeardownsStreamsOnContextCancel(t *testing.T) {
	var wire bytes.Buffer
	p := New(&wire, asgi.Env{Logger: asgi.NopLogger{}}, nil, config.Default())

	closed := make(chan asgi.StreamID, 1)
	p.mu.Lock()
	p.streams[1] = &streamState{stream: closeSignalStream{id: 1, closed: closed}}
	p.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := p.Run(ctx); err == nil {
		t.Fatal("Run should report the cancellation error")
	}

	select {
	case id := <-closed:
		if id != 1 {
			t.Fatalf("StreamClosed delivered for id %d, want 1", id)
		}
	default:
		t.Fatal("Run did not tear down the active stream on context cancellation")
	}
}

type closeSignalStream struct {
	id     asgi.StreamID
	closed chan asgi.StreamID
}

func (s closeSignalStream) Handle(e asgi.Event) {
	if _, ok := e.(asgi.StreamClosed); ok {
		s.closed <- s.id
	}
}
func (closeSignalStream) StreamSend(asgi.AppMessage) {}
func (s closeSignalStream) ID() asgi.StreamID        { return s.id }
