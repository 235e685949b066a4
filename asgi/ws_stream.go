// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package asgi

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/wireproto/asgicore/internal/wsframe"
)

// wsState is the WSStream state machine of §4.2:
// HANDSHAKE -> {CONNECTED | RESPONSE | HTTPCLOSED} -> CLOSED.
type wsState int

const (
	wsStateHandshake wsState = iota
	wsStateConnected
	wsStateResponse
	wsStateHTTPClosed
	wsStateClosed
)

// WSStream implements the websocket handshake, per-connection message
// framing, and rejection-as-HTTP behaviors of §4.2.
type WSStream struct {
	id   StreamID
	send SendEvent
	env  Env

	mu        sync.Mutex
	state     wsState
	scope     *Scope
	appCh     *AppChannel
	startedAt time.Time

	handshake  wsHandshake
	compressed bool // permessage-deflate negotiated for this connection

	parser     *wsframe.StreamParser
	assembler  *wsframe.Assembler
	appStarted bool

	pendingResponse ResponseSummary
}

// NewWSStream constructs a websocket stream. send is the captured callback
// used to deliver outbound protocol events to the owning Protocol.
func NewWSStream(id StreamID, send SendEvent, env Env) *WSStream {
	return &WSStream{
		id:        id,
		send:      send,
		env:       env,
		appCh:     NewAppChannel(env.AppChannelCapacity),
		parser:    wsframe.NewStreamParser(env.WebSocketMaxMsg),
		assembler: wsframe.NewAssembler(env.WebSocketMaxMsg),
	}
}

func (s *WSStream) ID() StreamID { return s.id }

// HandshakeValid reports whether the Request event already delivered to
// Handle validated as a websocket upgrade. It must only be called after
// Handle has processed that Request and before Start: a caller must not
// Start the app goroutine when this returns false, since on the invalid
// path handleRequest already emitted the rejecting HTTP response
// synchronously and never Puts to appCh, so a Start'd app goroutine would
// block forever on its first receive (§4.2: "the app goroutine is never
// started").
func (s *WSStream) HandshakeValid() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appStarted
}

// Handle processes one inbound protocol event (§4.2).
func (s *WSStream) Handle(event Event) {
	switch e := event.(type) {
	case Request:
		s.handleRequest(e)
	case Data:
		s.handleWireData(e.Data)
	case Body:
		s.handleWireData(e.Data)
	case StreamClosed:
		s.handleStreamClosed()
	}
}

func (s *WSStream) handleRequest(e Request) {
	s.mu.Lock()
	if s.state != wsStateHandshake || s.scope != nil {
		s.mu.Unlock()
		return
	}
	s.handshake = parseHandshake(e.Headers, e.HTTPVersion)
	s.startedAt = s.env.clock().Now()

	rawPath, query, _ := bytes.Cut(e.RawPath, []byte("?"))
	decodedPath, err := url.PathUnescape(string(rawPath))
	if err != nil {
		decodedPath = string(rawPath)
	}

	s.scope = &Scope{
		Type:         ConnTypeWebSocket,
		SpecVersion:  SpecVersion,
		Scheme:       s.env.Scheme,
		HTTPVersion:  e.HTTPVersion,
		Path:         decodedPath,
		RawPath:      rawPath,
		Query:        query,
		RootPath:     s.env.RootPath,
		Headers:      e.Headers,
		Client:       s.env.Client,
		Server:       s.env.Server,
		Subprotocols: s.handshake.subprotocols,
		Extensions:   map[string]struct{}{"websocket.http.response": {}},
	}
	valid := s.handshake.isValid()
	s.mu.Unlock()

	if !valid {
		s.sendErrorResponse(400)
		return
	}
	s.mu.Lock()
	s.appStarted = true
	s.mu.Unlock()
	s.appCh.Put(WebSocketConnect{})
}

// Start spawns the goroutine running app over this stream's AppChannel. It
// must only be called once handleRequest has validated the handshake.
func (s *WSStream) Start(ctx context.Context, app App) {
	go func() {
		send := func(ctx context.Context, msg AppMessage) error {
			s.StreamSend(msg)
			return nil
		}
		err := app(ctx, s.scope, ReceiveFromChannel(s.appCh), send)

		s.mu.Lock()
		state := s.state
		scope := s.scope
		started := s.startedAt
		s.mu.Unlock()

		if err != nil {
			s.env.logger().AppError(scope, ClassAppFault, err)
			switch state {
			case wsStateHandshake:
				s.sendErrorResponse(500)
				s.env.logger().Access(scope, ResponseSummary{Status: 500}, s.env.clock().Now().Sub(started))
			case wsStateConnected:
				s.writeWireFrame(wsframe.CloseFrame(wsframe.CloseInternal, ""))
				s.send(StreamClosed{StreamID: s.id})
			}
		}
	}()
}

func (s *WSStream) handleWireData(data []byte) {
	s.mu.Lock()
	if s.state != wsStateConnected {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	if len(data) == 0 {
		// An empty frame signals the peer closed the underlying transport
		// without a close handshake.
		s.closeFromPeer(wsframe.CloseGoingAway, "")
		return
	}

	frames, err := s.parser.Feed(data)
	if err != nil {
		if err == wsframe.ErrFrameTooLarge {
			s.writeWireFrame(wsframe.CloseFrame(wsframe.CloseMessageTooBig, ""))
			s.closeFromPeer(wsframe.CloseMessageTooBig, "")
			return
		}
		s.writeWireFrame(wsframe.CloseFrame(wsframe.CloseProtocol, ""))
		s.closeFromPeer(wsframe.CloseProtocol, "")
		return
	}

	for _, f := range frames {
		switch f.Opcode {
		case wsframe.OpPing:
			s.writeWireFrame(wsframe.Frame{Fin: true, Opcode: wsframe.OpPong, Payload: f.Payload})
		case wsframe.OpPong:
			// No action required; pongs are not surfaced to the app.
		case wsframe.OpClose:
			code, reason, _ := wsframe.ParseClose(f.Payload)
			s.echoCloseAndDisconnect(code, reason)
			return
		default:
			msg, ok, err := s.assembler.Feed(f)
			if err != nil {
				if _, isTooLarge := err.(wsframe.ErrTooLarge); isTooLarge {
					s.writeWireFrame(wsframe.CloseFrame(wsframe.CloseMessageTooBig, ""))
					s.closeFromPeer(wsframe.CloseMessageTooBig, "")
					return
				}
				s.writeWireFrame(wsframe.CloseFrame(wsframe.CloseProtocol, ""))
				s.closeFromPeer(wsframe.CloseProtocol, "")
				return
			}
			if ok {
				recv := WebSocketReceive{IsText: msg.Opcode == wsframe.OpText}
				if recv.IsText {
					recv.Text = string(msg.Payload)
				} else {
					recv.Bytes = msg.Payload
				}
				s.appCh.Put(recv)
			}
		}
	}
}

// echoCloseAndDisconnect implements the peer-initiated close path of §4.2:
// "if peer-initiated, echo the close frame; always emit websocket.disconnect
// to the app and transition to CLOSED."
func (s *WSStream) echoCloseAndDisconnect(code int, reason string) {
	s.writeWireFrame(wsframe.CloseFrame(code, reason))
	s.closeFromPeer(code, reason)
}

func (s *WSStream) closeFromPeer(code int, _ string) {
	s.mu.Lock()
	if s.state == wsStateClosed {
		s.mu.Unlock()
		return
	}
	s.state = wsStateClosed
	scope, started := s.scope, s.startedAt
	s.mu.Unlock()

	s.appCh.Put(WebSocketDisconnect{Code: code})
	s.appCh.Close()
	s.send(StreamClosed{StreamID: s.id})
	s.env.logger().Access(scope, ResponseSummary{}, s.env.clock().Now().Sub(started))
}

func (s *WSStream) handleStreamClosed() {
	s.mu.Lock()
	if s.state == wsStateClosed {
		s.mu.Unlock()
		return
	}
	started := s.appStarted
	s.state = wsStateClosed
	s.mu.Unlock()

	if started {
		s.appCh.Put(WebSocketDisconnect{})
		s.appCh.Close()
	}
}

// StreamSend processes one outbound app message (§4.2).
func (s *WSStream) StreamSend(msg AppMessage) {
	switch m := msg.(type) {
	case WebSocketAccept:
		s.handleAccept(m)
	case WebSocketHTTPResponseStart:
		s.handleRejectStart(m)
	case WebSocketHTTPResponseBody:
		s.handleRejectBody(m)
	case WebSocketSend:
		s.handleSend(m)
	case WebSocketClose:
		s.handleClose(m)
	default:
		s.env.logger().AppError(s.scope, ClassContractViolation, fmt.Errorf("%w: %T in websocket stream", ErrUnexpectedMessage, msg))
	}
}

func (s *WSStream) handleAccept(m WebSocketAccept) {
	s.mu.Lock()
	if s.state != wsStateHandshake {
		s.mu.Unlock()
		return
	}
	if m.Subprotocol != "" && !s.handshake.hasSubprotocol(m.Subprotocol) {
		s.mu.Unlock()
		s.env.logger().AppError(s.scope, ClassContractViolation, fmt.Errorf("asgi: subprotocol %q not offered by client", m.Subprotocol))
		s.sendErrorResponse(500)
		return
	}

	headers := Headers{}
	if m.Subprotocol != "" {
		headers = append(headers, Header{Name: []byte("sec-websocket-protocol"), Value: []byte(m.Subprotocol)})
	}

	offerDeflate := s.env.PerMessageDeflate && containsExtension(s.handshake.extensions, "permessage-deflate")
	if offerDeflate {
		headers = append(headers, Header{Name: []byte("sec-websocket-extensions"), Value: []byte("permessage-deflate; client_no_context_takeover; server_no_context_takeover")})
	}

	status := 200
	if s.handshake.httpVersion == "1.1" || s.handshake.httpVersion == "1.0" {
		headers = append(headers,
			Header{Name: []byte("upgrade"), Value: []byte("websocket")},
			Header{Name: []byte("connection"), Value: []byte("Upgrade")},
		)
		status = 101
	}
	if s.handshake.key != "" {
		headers = append(headers, Header{Name: []byte("sec-websocket-accept"), Value: []byte(wsframe.AcceptToken(s.handshake.key))})
	}
	headers = append(headers, m.Headers...)

	s.compressed = offerDeflate
	s.state = wsStateConnected
	scope, started := s.scope, s.startedAt
	s.mu.Unlock()

	s.send(Response{StreamID: s.id, StatusCode: status, Headers: headers})
	s.env.logger().Access(scope, ResponseSummary{Status: status}, s.env.clock().Now().Sub(started))
}

func (s *WSStream) handleRejectStart(m WebSocketHTTPResponseStart) {
	s.mu.Lock()
	if s.state != wsStateHandshake {
		s.mu.Unlock()
		return
	}
	s.pendingResponse = ResponseSummary{Status: m.Status, Headers: m.Headers}
	s.mu.Unlock()
}

func (s *WSStream) handleRejectBody(m WebSocketHTTPResponseBody) {
	s.mu.Lock()
	if s.state != wsStateHandshake && s.state != wsStateResponse {
		s.mu.Unlock()
		return
	}
	first := s.state == wsStateHandshake
	response := s.pendingResponse
	if first {
		headers, err := BuildAndValidateHeaders(response.Headers)
		if err != nil {
			s.mu.Unlock()
			s.env.logger().AppError(s.scope, ClassContractViolation, err)
			s.sendErrorResponse(500)
			return
		}
		response.Headers = StampDateAndServer(headers, s.env.clock())
		s.pendingResponse = response
		s.state = wsStateResponse
	}
	suppressed := SuppressBody("GET", response.Status)
	last := !m.MoreBody
	if last {
		s.state = wsStateHTTPClosed
	}
	scope, started := s.scope, s.startedAt
	s.mu.Unlock()

	if first {
		s.send(Response{StreamID: s.id, StatusCode: response.Status, Headers: response.Headers})
	}
	if !suppressed && len(m.Body) > 0 {
		s.send(Body{StreamID: s.id, Data: m.Body})
	}
	if last {
		s.send(EndBody{StreamID: s.id})
		s.env.logger().Access(scope, response, s.env.clock().Now().Sub(started))
	}
}

func (s *WSStream) handleSend(m WebSocketSend) {
	s.mu.Lock()
	if s.state != wsStateConnected {
		s.mu.Unlock()
		return
	}
	compressed := s.compressed
	s.mu.Unlock()

	var opcode wsframe.Opcode
	var payload []byte
	if m.IsText {
		if !utf8.ValidString(m.Text) {
			s.env.logger().AppError(s.scope, ClassContractViolation, fmt.Errorf("asgi: websocket.send text is not valid UTF-8"))
			return
		}
		opcode = wsframe.OpText
		payload = []byte(m.Text)
	} else {
		opcode = wsframe.OpBinary
		payload = m.Bytes
	}

	frame := wsframe.Frame{Fin: true, Opcode: opcode, Payload: payload}
	s.writeWireFrame(frame, compressed)
}

func (s *WSStream) handleClose(m WebSocketClose) {
	s.mu.Lock()
	state := s.state
	s.mu.Unlock()

	if state == wsStateHandshake {
		s.sendErrorResponse(403)
		s.mu.Lock()
		s.state = wsStateHTTPClosed
		s.mu.Unlock()
		return
	}
	if state != wsStateConnected {
		return
	}
	code := m.Code
	if code == 0 {
		code = wsframe.CloseNormal
	}
	s.writeWireFrame(wsframe.CloseFrame(code, m.Reason))
	s.send(EndData{StreamID: s.id})
	s.mu.Lock()
	s.state = wsStateClosed
	s.mu.Unlock()
}

// writeWireFrame compresses (when requested and the frame carries a data
// opcode) and writes f, emitting the resulting bytes as a Data event.
func (s *WSStream) writeWireFrame(f wsframe.Frame, compress ...bool) {
	wantCompress := len(compress) > 0 && compress[0] && !f.Opcode.IsControl()
	if wantCompress {
		compressed, err := wsframe.CompressMessage(f.Payload)
		if err == nil {
			f.Payload = compressed
			f.RSV1 = true
		}
	}
	var buf bytes.Buffer
	if err := wsframe.WriteFrame(&buf, f); err != nil {
		return
	}
	s.send(Data{StreamID: s.id, Data: buf.Bytes()})
}

func (s *WSStream) sendErrorResponse(status int) {
	headers := StampDateAndServer(Headers{
		{Name: []byte("content-length"), Value: []byte("0")},
		{Name: []byte("connection"), Value: []byte("close")},
	}, s.env.clock())
	s.send(Response{StreamID: s.id, StatusCode: status, Headers: headers})
	s.send(EndBody{StreamID: s.id})
}

func containsExtension(exts []string, name string) bool {
	for _, e := range exts {
		if e == name {
			return true
		}
	}
	return false
}
