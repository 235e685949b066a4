// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package h3 implements the optional HTTP/3 Protocol driver of §4.5:
// datagram-driven, built on quic-go for the QUIC transport and
// quic-go/qpack for header (de)compression in static-table-only mode (no
// dynamic table, so no blocked-stream/Section-Acknowledgement machinery is
// needed). A connection that never constructs a Protocol from this package
// simply never offers HTTP/3 — nothing else in the core depends on it.
package h3

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	"github.com/quic-go/qpack"
	"github.com/quic-go/quic-go"

	"github.com/wireproto/asgicore/asgi"
	"github.com/wireproto/asgicore/config"
)

// Frame types used by request streams, per RFC 9114 §7.2.
const (
	frameData    = 0x0
	frameHeaders = 0x1
	frameSettings = 0x4
)

// Protocol drives one HTTP/3 (QUIC) connection: every bidirectional stream
// the peer opens is a request; each is fed to its own goroutine decoding
// HTTP/3 frames and translating them into the same internal protocol event
// vocabulary h1 and h2 use.
type Protocol struct {
	conn quic.Connection
	env  asgi.Env
	app  asgi.App
	cfg  config.Config
}

// New returns a Protocol driving conn.
func New(conn quic.Connection, env asgi.Env, app asgi.App, cfg config.Config) *Protocol {
	return &Protocol{conn: conn, env: env, app: app, cfg: cfg}
}

// Run opens the control stream (advertising a QPACK dynamic table capacity
// of zero and zero blocked streams), then accepts request streams until the
// connection closes or ctx is cancelled.
func (p *Protocol) Run(ctx context.Context) error {
	control, err := p.conn.OpenUniStream()
	if err != nil {
		return fmt.Errorf("h3: open control stream: %w", err)
	}
	if err := writeControlStream(control); err != nil {
		return fmt.Errorf("h3: write control stream: %w", err)
	}

	for {
		stream, err := p.conn.AcceptStream(ctx)
		if err != nil {
			return err
		}
		go p.handleStream(ctx, stream)
	}
}

func writeControlStream(w io.Writer) error {
	var buf []byte
	buf = append(buf, 0x00) // control stream type = 0x00
	buf = appendVarint(buf, frameSettings)
	settingsPayload := []byte{}
	settingsPayload = appendVarint(settingsPayload, 0x07) // SETTINGS_QPACK_MAX_TABLE_CAPACITY
	settingsPayload = appendVarint(settingsPayload, 0)
	settingsPayload = appendVarint(settingsPayload, 0x08) // SETTINGS_QPACK_BLOCKED_STREAMS
	settingsPayload = appendVarint(settingsPayload, 0)
	buf = appendVarint(buf, uint64(len(settingsPayload)))
	buf = append(buf, settingsPayload...)
	_, err := w.Write(buf)
	return err
}

func (p *Protocol) handleStream(ctx context.Context, stream quic.Stream) {
	var st asgi.Stream
	var headersSent bool
	var wmu sync.Mutex
	id := asgi.StreamID(stream.StreamID())

	send := func(event asgi.Event) {
		wmu.Lock()
		defer wmu.Unlock()
		switch e := event.(type) {
		case asgi.Response:
			writeHeadersFrame(stream, e.StatusCode, asgi.StripHopByHop(e.Headers))
			headersSent = true
		case asgi.Body:
			writeDataFrame(stream, e.Data)
		case asgi.Data:
			writeDataFrame(stream, e.Data)
		case asgi.EndBody:
			stream.Close()
		case asgi.EndData:
			stream.Close()
		case asgi.StreamClosed:
			stream.CancelWrite(0)
		}
	}
	_ = headersSent

	method, path, protocol, headers, err := readHeadersFrame(stream)
	if err != nil {
		stream.CancelRead(0)
		return
	}
	req := asgi.Request{StreamID: id, Method: method, RawPath: []byte(path), HTTPVersion: "3", Headers: headers}

	if method == "CONNECT" && protocol == "websocket" {
		ws := asgi.NewWSStream(id, send, p.env)
		ws.Handle(req)
		if !ws.HandshakeValid() {
			// handleRequest already wrote the rejecting HEADERS frame and
			// closed the stream synchronously and never started an app
			// goroutine; there's nothing left to read or dispatch.
			return
		}
		st = ws
		ws.Start(ctx, p.app)
	} else {
		hs := asgi.NewHTTPStream(id, send, p.env)
		st = hs
		hs.Handle(req)
		hs.Start(ctx, p.app)
	}

	for {
		frameType, payload, err := readFrame(stream)
		if err != nil {
			if _, isHTTP := st.(*asgi.HTTPStream); isHTTP && err == io.EOF {
				// The peer finished the request stream cleanly.
				st.Handle(asgi.EndBody{StreamID: id})
				return
			}
			st.Handle(asgi.StreamClosed{StreamID: id})
			return
		}
		switch frameType {
		case frameData:
			st.Handle(asgi.Body{StreamID: id, Data: payload})
		default:
			// Unknown frame types on a request stream are ignored per RFC
			// 9114 §9's extensibility rule.
		}
	}
}

func readFrame(r io.Reader) (frameType uint64, payload []byte, err error) {
	frameType, err = readVarint(r)
	if err != nil {
		return 0, nil, err
	}
	length, err := readVarint(r)
	if err != nil {
		return 0, nil, err
	}
	payload = make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, nil, err
	}
	return frameType, payload, nil
}

func readHeadersFrame(r io.Reader) (method, path, protocol string, headers asgi.Headers, err error) {
	frameType, payload, err := readFrame(r)
	if err != nil {
		return "", "", "", nil, err
	}
	if frameType != frameHeaders {
		return "", "", "", nil, fmt.Errorf("h3: expected HEADERS frame, got type %d", frameType)
	}
	var fields []qpack.HeaderField
	decoder := qpack.NewDecoder(nil)
	fields, err = decoder.DecodeFull(payload)
	if err != nil {
		return "", "", "", nil, fmt.Errorf("h3: qpack decode: %w", err)
	}
	var authority string
	for _, f := range fields {
		switch f.Name {
		case ":method":
			method = f.Value
		case ":path":
			path = f.Value
		case ":protocol":
			protocol = f.Value
		case ":authority":
			authority = f.Value
		case ":scheme":
			// The scope's scheme comes from Env.Scheme; not surfaced as a
			// regular header here.
		default:
			headers = append(headers, asgi.Header{Name: []byte(f.Name), Value: []byte(f.Value)})
		}
	}
	if authority != "" {
		headers = append(headers, asgi.Header{Name: []byte("host"), Value: []byte(authority)})
	}
	return method, path, protocol, headers, nil
}

func writeHeadersFrame(w io.Writer, status int, headers asgi.Headers) error {
	var block prefixBuffer
	enc := qpack.NewEncoder(&block)
	enc.WriteField(qpack.HeaderField{Name: ":status", Value: itoa(status)})
	for _, h := range headers {
		enc.WriteField(qpack.HeaderField{Name: string(h.Name), Value: string(h.Value)})
	}
	enc.Close()

	var buf []byte
	buf = appendVarint(buf, frameHeaders)
	buf = appendVarint(buf, uint64(len(block.b)))
	buf = append(buf, block.b...)
	_, err := w.Write(buf)
	return err
}

func writeDataFrame(w io.Writer, data []byte) error {
	var buf []byte
	buf = appendVarint(buf, frameData)
	buf = appendVarint(buf, uint64(len(data)))
	buf = append(buf, data...)
	_, err := w.Write(buf)
	return err
}

type prefixBuffer struct{ b []byte }

func (p *prefixBuffer) Write(b []byte) (int, error) {
	p.b = append(p.b, b...)
	return len(b), nil
}

// appendVarint appends v encoded as a QUIC variable-length integer (RFC 9000
// §16), the encoding both HTTP/3 frame headers and this control-stream
// bootstrap use.
func appendVarint(buf []byte, v uint64) []byte {
	switch {
	case v <= 63:
		return append(buf, byte(v))
	case v <= 16383:
		var tmp [2]byte
		binary.BigEndian.PutUint16(tmp[:], uint16(v))
		tmp[0] |= 0x40
		return append(buf, tmp[:]...)
	case v <= 1073741823:
		var tmp [4]byte
		binary.BigEndian.PutUint32(tmp[:], uint32(v))
		tmp[0] |= 0x80
		return append(buf, tmp[:]...)
	default:
		var tmp [8]byte
		binary.BigEndian.PutUint64(tmp[:], v)
		tmp[0] |= 0xc0
		return append(buf, tmp[:]...)
	}
}

func readVarint(r io.Reader) (uint64, error) {
	var first [1]byte
	if _, err := io.ReadFull(r, first[:]); err != nil {
		return 0, err
	}
	prefix := first[0] >> 6
	first[0] &= 0x3f
	switch prefix {
	case 0:
		return uint64(first[0]), nil
	case 1:
		var rest [1]byte
		if _, err := io.ReadFull(r, rest[:]); err != nil {
			return 0, err
		}
		return uint64(first[0])<<8 | uint64(rest[0]), nil
	case 2:
		var rest [3]byte
		if _, err := io.ReadFull(r, rest[:]); err != nil {
			return 0, err
		}
		return uint64(first[0])<<24 | uint64(rest[0])<<16 | uint64(rest[1])<<8 | uint64(rest[2]), nil
	default:
		var rest [7]byte
		if _, err := io.ReadFull(r, rest[:]); err != nil {
			return 0, err
		}
		v := uint64(first[0])
		for _, b := range rest {
			v = v<<8 | uint64(b)
		}
		return v, nil
	}
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
