// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package asgi

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func testEnv(t *testing.T, logger Logger) Env {
	t.Helper()
	if logger == nil {
		logger = NopLogger{}
	}
	return Env{
		Scheme:             "http",
		Clock:              FixedClock{At: time.Unix(5000, 0)},
		Logger:             logger,
		AppChannelCapacity: 4,
	}
}

// collectEvents returns a SendEvent that pushes onto a channel, plus a drain
// helper that waits (bounded by a generous timeout) for at least one event
// to arrive before returning everything buffered so far. Waiting on the
// channel rather than reading a plain slice immediately after Start avoids a
// race with the app goroutine, which runs concurrently.
func collectEvents(t *testing.T) (SendEvent, func() []Event) {
	t.Helper()
	ch := make(chan Event, 64)
	send := func(e Event) { ch <- e }
	drain := func() []Event {
		var events []Event
		select {
		case e := <-ch:
			events = append(events, e)
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for an event")
		}
		for {
			select {
			case e := <-ch:
				events = append(events, e)
			case <-time.After(20 * time.Millisecond):
				return events
			}
		}
	}
	return send, drain
}

func TestHTTPStreamEchoesResponse(t *testing.T) {
	send, drain := collectEvents(t)
	s := NewHTTPStream(1, send, testEnv(t, nil))

	s.Handle(Request{StreamID: 1, Method: "GET", RawPath: []byte("/hello?x=1"), HTTPVersion: "1.1"})
	if s.scope.Path != "/hello" || string(s.scope.Query) != "x=1" {
		t.Fatalf("unexpected scope: path=%q query=%q", s.scope.Path, s.scope.Query)
	}
	s.Handle(EndBody{StreamID: 1})

	app := func(ctx context.Context, scope *Scope, receive Receive, send Send) error {
		msg, err := receive(ctx)
		if err != nil {
			return err
		}
		req, ok := msg.(HTTPRequest)
		if !ok || req.MoreBody {
			t.Fatalf("expected terminal HTTPRequest, got %#v", msg)
		}
		if err := send(ctx, HTTPResponseStart{Status: 200, Headers: Headers{
			{Name: []byte("content-type"), Value: []byte("text/plain")},
		}}); err != nil {
			return err
		}
		return send(ctx, HTTPResponseBody{Body: []byte("hi")})
	}
	s.Start(context.Background(), app)

	<-s.Done()
	events := drain()

	var gotResponse *Response
	var gotBody []byte
	var sawEnd bool
	for _, e := range events {
		switch v := e.(type) {
		case Response:
			gotResponse = &v
		case Body:
			gotBody = append(gotBody, v.Data...)
		case EndBody:
			sawEnd = true
		}
	}
	if gotResponse == nil || gotResponse.StatusCode != 200 {
		t.Fatalf("missing or wrong Response event: %#v", gotResponse)
	}
	if string(gotBody) != "hi" {
		t.Fatalf("body = %q, want %q", gotBody, "hi")
	}
	if !sawEnd {
		t.Fatal("missing EndBody event")
	}
	if date, ok := gotResponse.Headers.Get("date"); !ok || string(date) != "Thu, 01 Jan 1970 01:23:20 GMT" {
		t.Fatalf("date header = %q", date)
	}
	if server, ok := gotResponse.Headers.Get("server"); !ok || string(server) != ServerName {
		t.Fatalf("server header = %q", server)
	}
}

func TestHTTPStreamBodyTooLargeEmits413(t *testing.T) {
	send, drain := collectEvents(t)
	env := testEnv(t, nil)
	env.MaxBodyBytes = 4
	s := NewHTTPStream(1, send, env)

	s.Handle(Request{StreamID: 1, Method: "POST", RawPath: []byte("/upload"), HTTPVersion: "1.1"})

	app := func(ctx context.Context, scope *Scope, receive Receive, send Send) error {
		for {
			if _, err := receive(ctx); err != nil {
				return nil
			}
		}
	}
	s.Start(context.Background(), app)

	s.Handle(Body{StreamID: 1, Data: []byte("way too much data")})
	<-s.Done()

	events := drain()
	var status int
	for _, e := range events {
		if r, ok := e.(Response); ok {
			status = r.StatusCode
		}
	}
	if status != 413 {
		t.Fatalf("status = %d, want 413", status)
	}
}

func TestHTTPStreamIdempotentResponseStart(t *testing.T) {
	send, drain := collectEvents(t)
	s := NewHTTPStream(1, send, testEnv(t, nil))
	s.Handle(Request{StreamID: 1, Method: "GET", RawPath: []byte("/"), HTTPVersion: "1.1"})
	s.Handle(EndBody{StreamID: 1})

	app := func(ctx context.Context, scope *Scope, receive Receive, send Send) error {
		receive(ctx)
		send(ctx, HTTPResponseStart{Status: 200})
		send(ctx, HTTPResponseStart{Status: 500}) // must be a no-op
		return send(ctx, HTTPResponseBody{})
	}
	s.Start(context.Background(), app)
	<-s.Done()

	var responses []Response
	for _, e := range drain() {
		if r, ok := e.(Response); ok {
			responses = append(responses, r)
		}
	}
	if len(responses) != 1 || responses[0].StatusCode != 200 {
		t.Fatalf("responses = %+v, want exactly one 200", responses)
	}
}

func TestHTTPStreamSuppressesBodyOnHEAD(t *testing.T) {
	send, drain := collectEvents(t)
	s := NewHTTPStream(1, send, testEnv(t, nil))
	s.Handle(Request{StreamID: 1, Method: "HEAD", RawPath: []byte("/"), HTTPVersion: "1.1"})
	s.Handle(EndBody{StreamID: 1})

	app := func(ctx context.Context, scope *Scope, receive Receive, send Send) error {
		receive(ctx)
		send(ctx, HTTPResponseStart{Status: 200})
		return send(ctx, HTTPResponseBody{Body: []byte("this must not reach the wire")})
	}
	s.Start(context.Background(), app)
	<-s.Done()

	for _, e := range drain() {
		if _, ok := e.(Body); ok {
			t.Fatal("HEAD response must not emit a Body event")
		}
	}
}

func TestBuildAndValidateHeadersRejectsInvalid(t *testing.T) {
	_, err := BuildAndValidateHeaders(Headers{{Name: []byte("bad header"), Value: []byte("x")}})
	if err == nil {
		t.Fatal("expected an error for an invalid header name")
	}
	if diff := cmp.Diff(ClassContractViolation, err.(*ClassifiedError).Class); diff != "" {
		t.Errorf("class mismatch (-want +got):\n%s", diff)
	}
}
