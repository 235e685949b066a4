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
)

// httpState is the HTTPStream state machine of §4.1: IDLE -> REQUEST ->
// RESPONSE -> CLOSED.
type httpState int

const (
	httpStateIdle httpState = iota
	httpStateRequest
	httpStateResponse
	httpStateClosed
)

// HTTPStream translates protocol Request/Body/EndBody events into app
// messages, and the app's http.response.* messages into protocol events,
// per §4.1.
type HTTPStream struct {
	id        StreamID
	send      SendEvent
	env       Env
	appCh     *AppChannel
	startedAt time.Time

	mu           sync.Mutex
	state        httpState
	scope        *Scope
	method       string
	closeAfter   bool
	bodyReceived int64
	response     ResponseSummary
	done         chan struct{} // closed exactly once, when state reaches CLOSED
	doneOnce     sync.Once
}

// NewHTTPStream constructs a stream for one request/response exchange. send
// is the captured callback used to deliver outbound protocol events to the
// owning Protocol.
func NewHTTPStream(id StreamID, send SendEvent, env Env) *HTTPStream {
	return &HTTPStream{
		id:    id,
		send:  send,
		env:   env,
		appCh: NewAppChannel(env.AppChannelCapacity),
		done:  make(chan struct{}),
	}
}

func (s *HTTPStream) ID() StreamID { return s.id }

// Done returns a channel closed once the stream reaches CLOSED, used by H1
// to gate pipelined requests (§4.3).
func (s *HTTPStream) Done() <-chan struct{} { return s.done }

func (s *HTTPStream) markDone() {
	s.doneOnce.Do(func() { close(s.done) })
}

// Start spawns the goroutine running app over this stream's AppChannel.
// Start must be called exactly once, after Handle has processed the initial
// Request event (so that Scope is populated).
func (s *HTTPStream) Start(ctx context.Context, app App) {
	go func() {
		send := func(ctx context.Context, msg AppMessage) error {
			s.StreamSend(msg)
			return nil
		}
		err := app(ctx, s.scope, ReceiveFromChannel(s.appCh), send)

		s.mu.Lock()
		state := s.state
		scope := s.scope
		s.mu.Unlock()

		if err != nil {
			s.env.logger().AppError(scope, ClassAppFault, err)
			if state != httpStateResponse && state != httpStateClosed {
				s.emitErrorResponse(500)
			}
		}
		s.closeFromApp()
	}()
}

// Handle processes one inbound protocol event (§4.1).
func (s *HTTPStream) Handle(event Event) {
	switch e := event.(type) {
	case Request:
		s.handleRequest(e)
	case Body:
		s.handleBody(e)
	case EndBody:
		s.handleEndBody(e)
	case StreamClosed:
		s.handleStreamClosed()
	default:
		// Ignore event kinds that don't apply to HTTP streams (e.g.
		// websocket Data arriving on a misrouted stream is a Protocol bug,
		// not a Stream concern).
	}
}

func (s *HTTPStream) handleRequest(e Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != httpStateIdle {
		return
	}
	s.method = e.Method
	s.closeAfter = e.CloseAfter
	s.startedAt = s.env.clock().Now()

	rawPath, query, _ := bytes.Cut(e.RawPath, []byte("?"))
	decodedPath, err := url.PathUnescape(string(rawPath))
	if err != nil {
		decodedPath = string(rawPath)
	}

	s.scope = &Scope{
		Type:        ConnTypeHTTP,
		SpecVersion: SpecVersion,
		Scheme:      s.env.Scheme,
		HTTPVersion: e.HTTPVersion,
		Method:      e.Method,
		Path:        decodedPath,
		RawPath:     rawPath,
		Query:       query,
		RootPath:    s.env.RootPath,
		Headers:     e.Headers,
		Client:      s.env.Client,
		Server:      s.env.Server,
	}
	s.state = httpStateRequest
}

func (s *HTTPStream) handleBody(e Body) {
	s.mu.Lock()
	if s.state != httpStateRequest {
		s.mu.Unlock()
		return
	}
	s.bodyReceived += int64(len(e.Data))
	exceeded := s.env.MaxBodyBytes > 0 && s.bodyReceived > s.env.MaxBodyBytes
	s.mu.Unlock()

	if exceeded {
		s.appCh.Put(HTTPDisconnect{})
		s.emitErrorResponse(413)
		return
	}
	s.appCh.Put(HTTPRequest{Body: e.Data, MoreBody: true})
}

func (s *HTTPStream) handleEndBody(EndBody) {
	s.mu.Lock()
	if s.state != httpStateRequest {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	s.appCh.Put(HTTPRequest{MoreBody: false})
}

func (s *HTTPStream) handleStreamClosed() {
	s.appCh.Put(HTTPDisconnect{})
	s.appCh.Close()
	s.mu.Lock()
	s.state = httpStateClosed
	s.mu.Unlock()
	s.markDone()
}

// StreamSend processes one outbound app message (§4.1). Idempotent after a
// terminal EndBody: further calls are dropped silently, per the contract
// that app code sending after completion must not corrupt the wire.
func (s *HTTPStream) StreamSend(msg AppMessage) {
	switch m := msg.(type) {
	case HTTPResponseStart:
		s.handleResponseStart(m)
	case HTTPResponseBody:
		s.handleResponseBody(m)
	default:
		s.env.logger().AppError(s.scope, ClassContractViolation, fmt.Errorf("%w: %T in http stream", ErrUnexpectedMessage, msg))
	}
}

func (s *HTTPStream) handleResponseStart(m HTTPResponseStart) {
	s.mu.Lock()
	if s.state != httpStateRequest {
		s.mu.Unlock()
		// Idempotence per §8: a second http.response.start is a no-op.
		return
	}
	headers, err := BuildAndValidateHeaders(m.Headers)
	if err != nil {
		s.mu.Unlock()
		s.env.logger().AppError(s.scope, ClassContractViolation, err)
		s.emitErrorResponse(500)
		return
	}
	headers = StampDateAndServer(headers, s.env.clock())
	headers = StampConnectionClose(headers, s.closeAfter)
	s.response = ResponseSummary{Status: m.Status, Headers: headers}
	s.state = httpStateResponse
	s.mu.Unlock()

	s.send(Response{StreamID: s.id, StatusCode: m.Status, Headers: headers})
}

func (s *HTTPStream) handleResponseBody(m HTTPResponseBody) {
	s.mu.Lock()
	if s.state != httpStateResponse {
		s.mu.Unlock()
		return
	}
	suppressed := SuppressBody(s.method, s.response.Status)
	last := !m.MoreBody
	if last {
		s.state = httpStateClosed
	}
	scope, response, started := s.scope, s.response, s.startedAt
	s.mu.Unlock()

	if !suppressed && len(m.Body) > 0 {
		s.send(Body{StreamID: s.id, Data: m.Body})
	}
	if last {
		s.send(EndBody{StreamID: s.id})
		s.env.logger().Access(scope, response, s.env.clock().Now().Sub(started))
		s.markDone()
	}
}

// emitErrorResponse synthesizes a response for class-3/4 failures (§7) that
// occur before the app has sent http.response.start.
func (s *HTTPStream) emitErrorResponse(status int) {
	s.mu.Lock()
	if s.state == httpStateResponse || s.state == httpStateClosed {
		s.mu.Unlock()
		return
	}
	headers := StampDateAndServer(Headers{
		{Name: []byte("content-length"), Value: []byte("0")},
		{Name: []byte("connection"), Value: []byte("close")},
	}, s.env.clock())
	s.response = ResponseSummary{Status: status, Headers: headers}
	s.state = httpStateClosed
	scope, started := s.scope, s.startedAt
	s.mu.Unlock()

	s.send(Response{StreamID: s.id, StatusCode: status, Headers: headers})
	s.send(EndBody{StreamID: s.id})
	s.env.logger().Access(scope, ResponseSummary{Status: status}, s.env.clock().Now().Sub(started))
	s.markDone()
}

// closeFromApp is invoked once the app goroutine returns, regardless of
// whether it finished the response normally.
func (s *HTTPStream) closeFromApp() {
	s.mu.Lock()
	already := s.state == httpStateClosed
	s.mu.Unlock()
	if !already {
		s.markDone()
	}
}
