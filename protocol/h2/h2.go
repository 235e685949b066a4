// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package h2 implements the HTTP/2 Protocol driver of §4.4: a per-connection
// frame codec with concurrent streams, built on golang.org/x/net/http2's
// Framer for wire encode/decode and its hpack package for header
// (de)compression. This package owns stream lifecycle, flow control, and
// ASGI event translation; the Framer only turns bytes into typed frames and
// back.
package h2

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"sync"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/hpack"

	"github.com/wireproto/asgicore/asgi"
	"github.com/wireproto/asgicore/config"
)

// Protocol drives one HTTP/2 connection from the preface onward (the
// connection owner is responsible for consuming the client preface bytes
// before constructing Protocol).
type Protocol struct {
	framer *http2.Framer
	env    asgi.Env
	app    asgi.App
	cfg    config.Config

	wmu sync.Mutex
	enc *hpack.Encoder
	buf *prefixBuffer

	mu                  sync.Mutex
	streams             map[uint32]*streamState
	connSendWindow      int64
	initialStreamWindow int64
	windowCond          *sync.Cond
}

type streamState struct {
	stream     asgi.Stream
	httpStream *asgi.HTTPStream
	recvWindow int64
	// sendWindow is this stream's share of the peer's advertised receive
	// window (RFC 9113 §6.9): decremented as DATA is written, incremented by
	// WINDOW_UPDATE. writeData blocks on Protocol.windowCond while it is
	// exhausted rather than exceeding what the peer is willing to buffer.
	sendWindow int64
}

// defaultInitialWindow is the flow-control window RFC 9113 assigns a stream
// before any SETTINGS_INITIAL_WINDOW_SIZE negotiation.
const defaultInitialWindow = 65535

// New returns a Protocol that reads frames from r and writes frames to w.
func New(rw io.ReadWriter, env asgi.Env, app asgi.App, cfg config.Config) *Protocol {
	buf := &prefixBuffer{}
	p := &Protocol{
		framer:              http2.NewFramer(rw, rw),
		env:                 env,
		app:                 app,
		cfg:                 cfg,
		buf:                 buf,
		streams:             make(map[uint32]*streamState),
		connSendWindow:      defaultInitialWindow,
		initialStreamWindow: defaultInitialWindow,
	}
	p.windowCond = sync.NewCond(&p.mu)
	p.enc = hpack.NewEncoder(buf)
	p.framer.ReadMetaHeaders = hpack.NewDecoder(4096, nil)
	return p
}

// prefixBuffer is the scratch buffer hpack.Encoder writes compressed header
// blocks into before Protocol ships them as HEADERS frame payloads.
type prefixBuffer struct{ b []byte }

func (p *prefixBuffer) Write(b []byte) (int, error) {
	p.b = append(p.b, b...)
	return len(b), nil
}
func (p *prefixBuffer) reset() []byte {
	out := p.b
	p.b = nil
	return out
}

// Run advertises initial settings, disables server push, then loops reading
// and dispatching frames until the connection closes or ctx is cancelled.
func (p *Protocol) Run(ctx context.Context) error {
	p.wmu.Lock()
	err := p.framer.WriteSettings(
		http2.Setting{ID: http2.SettingEnablePush, Val: 0},
		http2.Setting{ID: http2.SettingMaxConcurrentStreams, Val: p.cfg.H2MaxConcurrentStreams},
		http2.Setting{ID: http2.SettingInitialWindowSize, Val: p.cfg.H2InitialWindowSize},
	)
	p.wmu.Unlock()
	if err != nil {
		return fmt.Errorf("h2: write initial settings: %w", err)
	}

	for {
		if ctx.Err() != nil {
			p.teardownAll()
			return ctx.Err()
		}
		fr, err := p.framer.ReadFrame()
		if err != nil {
			p.teardownAll()
			return err
		}
		if err := p.dispatch(ctx, fr); err != nil {
			return err
		}
	}
}

func (p *Protocol) dispatch(ctx context.Context, fr http2.Frame) error {
	switch f := fr.(type) {
	case *http2.MetaHeadersFrame:
		p.handleHeaders(ctx, f)
	case *http2.DataFrame:
		p.handleData(f)
	case *http2.RSTStreamFrame:
		p.handleRST(f)
	case *http2.WindowUpdateFrame:
		p.mu.Lock()
		if f.StreamID == 0 {
			p.connSendWindow += int64(f.Increment)
		} else if ss := p.streams[f.StreamID]; ss != nil {
			ss.sendWindow += int64(f.Increment)
		}
		p.windowCond.Broadcast()
		p.mu.Unlock()
	case *http2.SettingsFrame:
		if !f.IsAck() {
			if v, ok := f.Value(http2.SettingInitialWindowSize); ok {
				p.mu.Lock()
				delta := int64(v) - p.initialStreamWindow
				p.initialStreamWindow = int64(v)
				for _, ss := range p.streams {
					ss.sendWindow += delta
				}
				p.windowCond.Broadcast()
				p.mu.Unlock()
			}
			p.wmu.Lock()
			err := p.framer.WriteSettingsAck()
			p.wmu.Unlock()
			if err != nil {
				return fmt.Errorf("h2: ack settings: %w", err)
			}
		}
	case *http2.PingFrame:
		if !f.IsAck() {
			p.wmu.Lock()
			err := p.framer.WritePing(true, f.Data)
			p.wmu.Unlock()
			if err != nil {
				return fmt.Errorf("h2: ack ping: %w", err)
			}
		}
	case *http2.GoAwayFrame:
		p.teardownAll()
		return fmt.Errorf("h2: peer sent GOAWAY: %v", f.ErrCode)
	}
	return nil
}

func (p *Protocol) handleHeaders(ctx context.Context, f *http2.MetaHeadersFrame) {
	var method, path, scheme, authority, protocol string
	var headers asgi.Headers
	for _, hf := range f.Fields {
		switch hf.Name {
		case ":method":
			method = hf.Value
		case ":path":
			path = hf.Value
		case ":scheme":
			scheme = hf.Value
		case ":authority":
			authority = hf.Value
		case ":protocol":
			protocol = hf.Value
		default:
			headers = append(headers, asgi.Header{Name: []byte(hf.Name), Value: []byte(hf.Value)})
		}
	}
	if authority != "" {
		headers = append(headers, asgi.Header{Name: []byte("host"), Value: []byte(authority)})
	}
	_ = scheme

	id := f.StreamID
	req := asgi.Request{StreamID: asgi.StreamID(id), Method: method, RawPath: []byte(path), HTTPVersion: "2", Headers: headers}

	var st asgi.Stream
	var httpStream *asgi.HTTPStream
	if method == "CONNECT" && protocol == "websocket" {
		ws := asgi.NewWSStream(asgi.StreamID(id), p.sendFor(id), p.env)
		ws.Handle(req)
		if !ws.HandshakeValid() {
			// handleRequest already wrote the rejecting HEADERS frame and an
			// empty END_STREAM DATA frame synchronously and never started an app goroutine; don't
			// register a stream table entry or Start it.
			return
		}
		st = ws
		ws.Start(ctx, p.app)
	} else {
		hs := asgi.NewHTTPStream(asgi.StreamID(id), p.sendFor(id), p.env)
		st = hs
		httpStream = hs
		hs.Handle(req)
		hs.Start(ctx, p.app)
	}

	p.mu.Lock()
	p.streams[id] = &streamState{
		stream:     st,
		httpStream: httpStream,
		recvWindow: int64(p.cfg.H2InitialWindowSize),
		sendWindow: p.initialStreamWindow,
	}
	p.mu.Unlock()

	if f.StreamEnded() {
		st.Handle(asgi.EndBody{StreamID: asgi.StreamID(id)})
	}
}

func (p *Protocol) handleData(f *http2.DataFrame) {
	p.mu.Lock()
	ss := p.streams[f.StreamID]
	p.mu.Unlock()
	if ss == nil {
		return
	}
	data := f.Data()
	if len(data) > 0 {
		ss.stream.Handle(asgi.Body{StreamID: asgi.StreamID(f.StreamID), Data: data})
		p.wmu.Lock()
		p.framer.WriteWindowUpdate(f.StreamID, uint32(len(data)))
		p.framer.WriteWindowUpdate(0, uint32(len(data)))
		p.wmu.Unlock()
	}
	if f.StreamEnded() {
		ss.stream.Handle(asgi.EndBody{StreamID: asgi.StreamID(f.StreamID)})
	}
}

func (p *Protocol) handleRST(f *http2.RSTStreamFrame) {
	p.mu.Lock()
	ss := p.streams[f.StreamID]
	delete(p.streams, f.StreamID)
	p.windowCond.Broadcast()
	p.mu.Unlock()
	if ss != nil {
		ss.stream.Handle(asgi.StreamClosed{StreamID: asgi.StreamID(f.StreamID)})
	}
}

// Shutdown implements the graceful-shutdown behavior of §4.4: it emits
// GOAWAY naming the highest stream ID accepted so far, then tears down every
// still-active stream so its app goroutine observes disconnect.
func (p *Protocol) Shutdown() error {
	p.mu.Lock()
	last := uint32(0)
	for id := range p.streams {
		if id > last {
			last = id
		}
	}
	p.mu.Unlock()

	p.wmu.Lock()
	err := p.framer.WriteGoAway(last, http2.ErrCodeNo, nil)
	p.wmu.Unlock()
	p.teardownAll()
	return err
}

func (p *Protocol) teardownAll() {
	p.mu.Lock()
	all := p.streams
	p.streams = make(map[uint32]*streamState)
	p.windowCond.Broadcast()
	p.mu.Unlock()
	for id, ss := range all {
		ss.stream.Handle(asgi.StreamClosed{StreamID: asgi.StreamID(id)})
	}
}

// sendFor returns the SendEvent callback bound to one HTTP/2 stream ID.
func (p *Protocol) sendFor(id uint32) asgi.SendEvent {
	return func(event asgi.Event) {
		switch e := event.(type) {
		case asgi.Response:
			p.writeHeaders(id, e.StatusCode, e.Headers, false)
		case asgi.Body:
			p.writeData(id, e.Data, false)
		case asgi.Data:
			p.writeData(id, e.Data, false)
		case asgi.EndBody:
			p.writeData(id, nil, true)
		case asgi.EndData:
			p.writeData(id, nil, true)
		case asgi.StreamClosed:
			p.wmu.Lock()
			p.framer.WriteRSTStream(id, http2.ErrCodeNo)
			p.wmu.Unlock()
			p.mu.Lock()
			delete(p.streams, id)
			p.windowCond.Broadcast()
			p.mu.Unlock()
		}
	}
}

func (p *Protocol) writeHeaders(id uint32, status int, headers asgi.Headers, endStream bool) {
	headers = asgi.StripHopByHop(headers)

	p.wmu.Lock()
	defer p.wmu.Unlock()
	p.enc.WriteField(hpack.HeaderField{Name: ":status", Value: strconv.Itoa(status)})
	for _, h := range headers {
		p.enc.WriteField(hpack.HeaderField{Name: string(h.Name), Value: string(h.Value)})
	}
	block := p.buf.reset()
	p.framer.WriteHeaders(http2.HeadersFrameParam{
		StreamID:      id,
		BlockFragment: block,
		EndHeaders:    true,
		EndStream:     endStream,
	})
}

// writeData writes data as one or more DATA frames, blocking while this
// stream's flow-control window is exhausted until a WINDOW_UPDATE grows it
// (§4.4). A stream torn down while a write is blocked drops the remaining
// data rather than writing past the peer's advertised window.
func (p *Protocol) writeData(id uint32, data []byte, endStream bool) {
	if len(data) == 0 {
		p.wmu.Lock()
		p.framer.WriteData(id, endStream, nil)
		p.wmu.Unlock()
		return
	}
	for len(data) > 0 {
		n, ok := p.acquireSendWindow(id, len(data))
		if !ok {
			return
		}
		last := n == len(data)
		p.wmu.Lock()
		p.framer.WriteData(id, endStream && last, data[:n])
		p.wmu.Unlock()
		data = data[n:]
	}
}

// acquireSendWindow blocks until either the connection- and stream-level
// send windows both have room for at least one byte, or the stream is no
// longer tracked (closed/reset/torn down). It returns the number of bytes
// (<= want) the caller may now write, consuming that much from both
// windows, or ok=false if the stream is gone.
func (p *Protocol) acquireSendWindow(id uint32, want int) (n int, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for {
		ss := p.streams[id]
		if ss == nil {
			return 0, false
		}
		avail := p.connSendWindow
		if ss.sendWindow < avail {
			avail = ss.sendWindow
		}
		if avail > 0 {
			got := int64(want)
			if got > avail {
				got = avail
			}
			p.connSendWindow -= got
			ss.sendWindow -= got
			return int(got), true
		}
		p.windowCond.Wait()
	}
}
