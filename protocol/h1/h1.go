// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package h1 implements the HTTP/1.1 Protocol driver of §4.3: an
// incremental request parser and response serializer maintaining one
// active stream at a time per connection, with keep-alive/pipelining,
// Expect: 100-continue, and upgrade detection for h2c and WebSocket.
package h1

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/wireproto/asgicore/asgi"
	"github.com/wireproto/asgicore/config"
)

// UpgradeKind distinguishes the two connection-rebind signals H1 can raise.
type UpgradeKind int

const (
	UpgradeNone UpgradeKind = iota
	// UpgradeH2C is raised on `Upgrade: h2c` with `HTTP2-Settings`.
	UpgradeH2C
	// UpgradePriorKnowledge is raised on the HTTP/2 prior-knowledge preface.
	UpgradePriorKnowledge
)

// Upgrade carries the leftover unparsed bytes (and, for h2c, the decoded
// settings payload) a connection must hand to protocol/h2 after a rebind.
type Upgrade struct {
	Kind     UpgradeKind
	Settings []byte // base64url HTTP2-Settings payload, UpgradeH2C only
	Leftover []byte
}

var priorKnowledgePreface = []byte("PRI * HTTP/2.0\r\n\r\nSM\r\n\r\n")

const maxRequestLine = 8192

// Protocol drives one HTTP/1.1 connection. Writes come both from the wire
// goroutine's Feed (the synthesized 100-continue line, error responses) and
// from stream app goroutines calling send; all writer access is serialized
// behind wmu so they never race.
type Protocol struct {
	w   io.Writer
	env asgi.Env
	app asgi.App
	cfg config.Config

	wmu sync.Mutex

	buf          []byte
	nextStreamID asgi.StreamID

	current      asgi.Stream
	currentHTTP  *asgi.HTTPStream
	method       string
	awaitingBody bool
	bodyMode     bodyMode
	bodyRemain   int64
	chunkRemain  int64
	closeAfter   bool
	upgrade      *Upgrade
}

type bodyMode int

const (
	bodyNone bodyMode = iota
	bodyContentLength
	bodyChunked
)

// New returns a Protocol writing responses to w and dispatching requests to
// app using env for per-stream construction.
func New(w io.Writer, env asgi.Env, app asgi.App, cfg config.Config) *Protocol {
	return &Protocol{w: w, env: env, app: app, cfg: cfg, nextStreamID: 1}
}

// Upgrade returns the pending rebind signal, if Feed raised one.
func (p *Protocol) Upgrade() *Upgrade { return p.upgrade }

// Idle reports whether no stream is active (no request body being read and
// no response pending), letting conn.Connection choose between ReadTimeout
// and KeepAliveTimeout for the next deadline (§5). It also reports true
// while the head of the next request is still arriving.
func (p *Protocol) Idle() bool {
	p.wmu.Lock()
	defer p.wmu.Unlock()
	return p.current == nil
}

// Close tears down the connection's active stream, if any, delivering
// StreamClosed so its AppChannel is closed and any app goroutine blocked in
// receive() unblocks with http.disconnect (§5 Cancellation). It is safe to
// call more than once and from a goroutine other than the one driving Feed.
func (p *Protocol) Close() {
	p.wmu.Lock()
	cur := p.current
	p.current = nil
	p.currentHTTP = nil
	p.wmu.Unlock()
	if cur != nil {
		cur.Handle(asgi.StreamClosed{StreamID: cur.ID()})
	}
}

// Feed consumes newly read wire bytes. It returns true once an upgrade
// signal is pending (available via Upgrade()) and the connection must stop
// calling Feed and rebind.
func (p *Protocol) Feed(ctx context.Context, data []byte) (bool, error) {
	if len(data) > 0 {
		p.buf = append(p.buf, data...)
	}

	for {
		if p.upgrade != nil {
			return true, nil
		}
		if p.current == nil {
			if len(p.buf) >= len(priorKnowledgePreface) && bytes.Equal(p.buf[:len(priorKnowledgePreface)], priorKnowledgePreface) {
				p.upgrade = &Upgrade{Kind: UpgradePriorKnowledge, Leftover: p.buf}
				p.buf = nil
				return true, nil
			}
			if !p.awaitingBody {
				ok, err := p.parseHead(ctx)
				if err != nil {
					return false, err
				}
				if !ok {
					return false, nil
				}
				if p.upgrade != nil {
					return true, nil
				}
				continue
			}
		}
		if p.awaitingBody {
			progressed, err := p.feedBody()
			if err != nil {
				return false, err
			}
			if !progressed {
				return false, nil
			}
			continue
		}
		if p.current != nil && p.currentHTTP == nil {
			// A WSStream owns the connection: every subsequent byte is wire
			// data for its frame parser, not a new request.
			if len(p.buf) > 0 {
				p.current.Handle(asgi.Data{StreamID: p.current.ID(), Data: p.buf})
				p.buf = nil
			}
		}
		return false, nil
	}
}

// parseHead attempts to parse one request line + header block from p.buf.
// ok is false when more bytes are needed.
func (p *Protocol) parseHead(ctx context.Context) (ok bool, err error) {
	idx := bytes.Index(p.buf, []byte("\r\n\r\n"))
	if idx < 0 {
		limit := p.cfg.H1MaxIncompleteSize
		if limit <= 0 {
			limit = maxRequestLine
		}
		if int64(len(p.buf)) > limit {
			p.writeErrorAndClose(400)
			return false, fmt.Errorf("h1: header block exceeds maximum size")
		}
		return false, nil
	}
	head := p.buf[:idx]
	rest := p.buf[idx+4:]

	lines := strings.Split(string(head), "\r\n")
	if len(lines) == 0 {
		p.writeErrorAndClose(400)
		return false, fmt.Errorf("h1: empty request")
	}
	reqLine := strings.SplitN(lines[0], " ", 3)
	if len(reqLine) != 3 {
		p.writeErrorAndClose(400)
		return false, fmt.Errorf("h1: malformed request line %q", lines[0])
	}
	method, target, version := reqLine[0], reqLine[1], reqLine[2]
	httpVersion := "1.1"
	if version == "HTTP/1.0" {
		httpVersion = "1.0"
	} else if version != "HTTP/1.1" {
		p.writeErrorAndClose(400)
		return false, fmt.Errorf("h1: unsupported version %q", version)
	}

	var headers asgi.Headers
	for _, line := range lines[1:] {
		if line == "" {
			continue
		}
		name, value, found := strings.Cut(line, ":")
		if !found {
			p.writeErrorAndClose(400)
			return false, fmt.Errorf("h1: malformed header %q", line)
		}
		name = strings.ToLower(strings.TrimSpace(name))
		value = strings.TrimSpace(value)
		if err := asgi.ValidateHeaderField([]byte(name), []byte(value)); err != nil {
			p.writeErrorAndClose(400)
			return false, err
		}
		headers = append(headers, asgi.Header{Name: []byte(name), Value: []byte(value)})
	}

	p.buf = rest

	if h2cUpgrade(headers) {
		settings, _ := headers.Get("http2-settings")
		p.upgrade = &Upgrade{Kind: UpgradeH2C, Settings: settings, Leftover: p.buf}
		p.buf = nil
		return true, nil
	}

	id := p.nextStreamID
	p.nextStreamID += 2

	p.method = method
	p.closeAfter = httpVersion == "1.0" && !asgi.HasConnectionToken(headers, "keep-alive") ||
		asgi.HasConnectionToken(headers, "close")
	req := asgi.Request{StreamID: id, Method: method, RawPath: []byte(target), HTTPVersion: httpVersion, Headers: headers, CloseAfter: p.closeAfter}

	if wsUpgrade(headers) {
		ws := asgi.NewWSStream(id, p.send, p.env)
		p.current = ws
		ws.Handle(req)
		if !ws.HandshakeValid() {
			// handleRequest already wrote the rejecting HTTP response
			// synchronously and never started an app goroutine; release the
			// connection slot so Feed parses the next request instead of
			// treating every further byte as wire data for a stream stuck
			// in HANDSHAKE forever.
			p.current = nil
			return true, nil
		}
		ws.Start(ctx, p.app)
	} else {
		stream := asgi.NewHTTPStream(id, p.send, p.env)
		p.current = stream
		p.currentHTTP = stream
		stream.Handle(req)

		respCtx, cancel := p.cfg.ResponseContext(ctx)
		go func() { <-stream.Done(); cancel() }()
		stream.Start(respCtx, p.app)

		if v, found := headers.Get("expect"); found && strings.EqualFold(string(v), "100-continue") {
			p.writeRaw("HTTP/1.1 100 Continue\r\n\r\n")
		}

		p.bodyMode, p.bodyRemain = bodyModeFor(headers)
		if p.bodyMode == bodyNone {
			stream.Handle(asgi.EndBody{StreamID: id})
			p.finishRequest()
		} else {
			p.awaitingBody = true
		}
	}

	return true, nil
}

func bodyModeFor(headers asgi.Headers) (bodyMode, int64) {
	if v, found := headers.Get("transfer-encoding"); found && strings.Contains(strings.ToLower(string(v)), "chunked") {
		return bodyChunked, 0
	}
	if n, ok := asgi.ContentLength(headers); ok && n > 0 {
		return bodyContentLength, n
	}
	return bodyNone, 0
}

func h2cUpgrade(headers asgi.Headers) bool {
	if !asgi.HasConnectionToken(headers, "upgrade") {
		return false
	}
	v, found := headers.Get("upgrade")
	if !found || !strings.EqualFold(string(v), "h2c") {
		return false
	}
	_, found = headers.Get("http2-settings")
	return found
}

func wsUpgrade(headers asgi.Headers) bool {
	if !asgi.HasConnectionToken(headers, "upgrade") {
		return false
	}
	v, found := headers.Get("upgrade")
	return found && strings.EqualFold(string(v), "websocket")
}

// feedBody consumes as much of p.buf as the active body-framing mode
// allows. progressed is false only when more bytes are required.
func (p *Protocol) feedBody() (progressed bool, err error) {
	id := p.current.ID()
	switch p.bodyMode {
	case bodyContentLength:
		if len(p.buf) == 0 && p.bodyRemain > 0 {
			return false, nil
		}
		n := int64(len(p.buf))
		if n > p.bodyRemain {
			n = p.bodyRemain
		}
		if n > 0 {
			p.current.Handle(asgi.Body{StreamID: id, Data: p.buf[:n]})
			p.buf = p.buf[n:]
			p.bodyRemain -= n
		}
		if p.bodyRemain == 0 {
			p.current.Handle(asgi.EndBody{StreamID: id})
			p.finishRequest()
		}
		return true, nil

	case bodyChunked:
		return p.feedChunked(id)

	default:
		p.awaitingBody = false
		return true, nil
	}
}

func (p *Protocol) feedChunked(id asgi.StreamID) (bool, error) {
	for {
		if p.chunkRemain > 0 {
			n := int64(len(p.buf))
			if n > p.chunkRemain {
				n = p.chunkRemain
			}
			if n == 0 {
				return false, nil
			}
			p.current.Handle(asgi.Body{StreamID: id, Data: p.buf[:n]})
			p.buf = p.buf[n:]
			p.chunkRemain -= n
			if p.chunkRemain > 0 {
				return true, nil
			}
			if len(p.buf) < 2 {
				return false, nil
			}
			p.buf = p.buf[2:] // trailing CRLF after chunk data
			continue
		}

		idx := bytes.Index(p.buf, []byte("\r\n"))
		if idx < 0 {
			if len(p.buf) > 32 {
				p.writeErrorAndClose(400)
				return false, fmt.Errorf("h1: malformed chunk size line")
			}
			return false, nil
		}
		sizeLine := string(p.buf[:idx])
		if semi := strings.IndexByte(sizeLine, ';'); semi >= 0 {
			sizeLine = sizeLine[:semi]
		}
		size, err := strconv.ParseInt(strings.TrimSpace(sizeLine), 16, 64)
		if err != nil {
			p.writeErrorAndClose(400)
			return false, fmt.Errorf("h1: malformed chunk size: %w", err)
		}
		rest := p.buf[idx+2:]
		if size == 0 {
			trailerEnd := bytes.Index(rest, []byte("\r\n"))
			if trailerEnd < 0 {
				// The size line stays in p.buf and is parsed again once the
				// terminating CRLF of the zero-size chunk's trailer arrives.
				return false, nil
			}
			p.buf = rest[trailerEnd+2:]
			p.current.Handle(asgi.EndBody{StreamID: id})
			p.finishRequest()
			return true, nil
		}
		p.buf = rest
		p.chunkRemain = size
	}
}

// finishRequest closes off the request side of the current stream and
// blocks until the stream reaches CLOSED before allowing the next pipelined
// request to be parsed — the "can read next" gate of §4.3, which preserves
// response order across pipelined requests. When the request asked for the
// connection to close, StreamClosed is then delivered to the stream.
func (p *Protocol) finishRequest() {
	p.awaitingBody = false
	p.bodyMode = bodyNone
	if http := p.currentHTTP; http != nil {
		<-http.Done()
	}
	if p.closeAfter {
		p.current.Handle(asgi.StreamClosed{StreamID: p.current.ID()})
	}
	p.current = nil
	p.currentHTTP = nil
}

// send is the SendEvent callback handed to each stream this Protocol owns.
// It serializes the wire-bound Event into bytes and writes them, holding wmu
// so a stream's app goroutine never races a synchronously-written 100
// Continue line or another stream's teardown write.
func (p *Protocol) send(event asgi.Event) {
	switch e := event.(type) {
	case asgi.Response:
		var b strings.Builder
		fmt.Fprintf(&b, "HTTP/1.1 %d %s\r\n", e.StatusCode, statusText(e.StatusCode))
		for _, h := range e.Headers {
			fmt.Fprintf(&b, "%s: %s\r\n", h.Name, h.Value)
		}
		b.WriteString("\r\n")
		p.writeRaw(b.String())
	case asgi.Body, asgi.Data:
		p.writeRawBytes(payloadOf(event))
	case asgi.EndBody, asgi.EndData:
		// No wire representation beyond what Content-Length/chunked framing
		// already implies; the connection-level gate advances in Feed.
	case asgi.StreamClosed:
		// Raised by a WSStream once its close handshake completes.
		p.wmu.Lock()
		if p.current != nil && p.current.ID() == e.StreamID {
			p.current = nil
		}
		p.wmu.Unlock()
	}
}

func payloadOf(event asgi.Event) []byte {
	switch e := event.(type) {
	case asgi.Body:
		return e.Data
	case asgi.Data:
		return e.Data
	}
	return nil
}

func (p *Protocol) writeRaw(s string) {
	p.wmu.Lock()
	defer p.wmu.Unlock()
	io.WriteString(p.w, s)
}

func (p *Protocol) writeRawBytes(b []byte) {
	if len(b) == 0 {
		return
	}
	p.wmu.Lock()
	defer p.wmu.Unlock()
	p.w.Write(b)
}

func (p *Protocol) writeErrorAndClose(status int) {
	p.writeRaw(fmt.Sprintf("HTTP/1.1 %d %s\r\nconnection: close\r\ncontent-length: 0\r\n\r\n", status, statusText(status)))
}

func statusText(code int) string {
	switch code {
	case 100:
		return "Continue"
	case 101:
		return "Switching Protocols"
	case 200:
		return "OK"
	case 204:
		return "No Content"
	case 304:
		return "Not Modified"
	case 400:
		return "Bad Request"
	case 403:
		return "Forbidden"
	case 413:
		return "Payload Too Large"
	case 500:
		return "Internal Server Error"
	default:
		return "Status"
	}
}
