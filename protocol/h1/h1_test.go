// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package h1

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/wireproto/asgicore/asgi"
	"github.com/wireproto/asgicore/config"
)

func testEnv() asgi.Env {
	return asgi.Env{
		Scheme:             "http",
		Clock:              asgi.FixedClock{At: time.Unix(5000, 0)},
		Logger:             asgi.NopLogger{},
		AppChannelCapacity: 4,
	}
}

func echoApp(ctx context.Context, scope *asgi.Scope, receive asgi.Receive, send asgi.Send) error {
	for {
		msg, err := receive(ctx)
		if err != nil {
			return nil
		}
		req, ok := msg.(asgi.HTTPRequest)
		if !ok {
			continue
		}
		if req.MoreBody {
			continue
		}
		if err := send(ctx, asgi.HTTPResponseStart{Status: 200, Headers: asgi.Headers{
			{Name: []byte("content-type"), Value: []byte("text/plain")},
		}}); err != nil {
			return err
		}
		return send(ctx, asgi.HTTPResponseBody{Body: []byte("ok")})
	}
}

// TestSimpleGETEchoesResponse mirrors the first of the distilled end-to-end
// scenarios: a body-less GET must produce exactly one response, with the
// connection left ready for a pipelined follow-up.
func TestSimpleGETEchoesResponse(t *testing.T) {
	var out bytes.Buffer
	p := New(&out, testEnv(), echoApp, config.Default())

	_, err := p.Feed(context.Background(), []byte("GET /hello HTTP/1.1\r\nhost: example.com\r\n\r\n"))
	if err != nil {
		t.Fatalf("Feed: %v", err)
	}

	resp := out.String()
	if !strings.HasPrefix(resp, "HTTP/1.1 200 OK\r\n") {
		t.Fatalf("response = %q, want 200 status line", resp)
	}
	if !strings.Contains(resp, "date: Thu, 01 Jan 1970 01:23:20 GMT\r\n") {
		t.Fatalf("response missing pinned date header: %q", resp)
	}
	if !strings.HasSuffix(resp, "\r\n\r\nok") {
		t.Fatalf("response body = %q, want suffix \"ok\"", resp)
	}
	if p.current != nil {
		t.Fatal("stream should be cleared after a body-less request completes, blocking the pipelining gate on nothing")
	}
}

// TestConnectionCloseHeaderStamped mirrors §8 Scenario 1: a client sending
// `Connection: close` must see that exact header echoed on the response.
func TestConnectionCloseHeaderStamped(t *testing.T) {
	var out bytes.Buffer
	p := New(&out, testEnv(), echoApp, config.Default())

	req := "GET /hello HTTP/1.1\r\nhost: example.com\r\nconnection: close\r\n\r\n"
	if _, err := p.Feed(context.Background(), []byte(req)); err != nil {
		t.Fatalf("Feed: %v", err)
	}

	resp := out.String()
	if !strings.Contains(resp, "connection: close\r\n") {
		t.Fatalf("response missing connection: close header: %q", resp)
	}
}

// TestPipelinedRequestsRespondInOrder feeds two full GETs as a single burst
// of bytes (as a pipelining client would) and checks both responses land on
// the wire in request order.
func TestPipelinedRequestsRespondInOrder(t *testing.T) {
	var out bytes.Buffer
	var served []string
	app := func(ctx context.Context, scope *asgi.Scope, receive asgi.Receive, send asgi.Send) error {
		served = append(served, scope.Path)
		return echoApp(ctx, scope, receive, send)
	}
	p := New(&out, testEnv(), app, config.Default())

	both := "GET /one HTTP/1.1\r\nhost: example.com\r\n\r\n" +
		"GET /two HTTP/1.1\r\nhost: example.com\r\n\r\n"
	if _, err := p.Feed(context.Background(), []byte(both)); err != nil {
		t.Fatalf("Feed: %v", err)
	}

	got := out.String()
	count := strings.Count(got, "HTTP/1.1 200 OK")
	if count != 2 {
		t.Fatalf("got %d status lines, want 2: %q", count, got)
	}
	if strings.Count(got, "ok") != 2 {
		t.Fatalf("expected both bodies present in order: %q", got)
	}
	if len(served) != 2 || served[0] != "/one" || served[1] != "/two" {
		t.Fatalf("requests served in order %q, want [/one /two]", served)
	}
}

// TestContentLengthBodyDeliveredIncrementally mirrors feeding a request
// across two separate reads, confirming the chunk/content-length state
// machine resumes correctly.
func TestContentLengthBodyDeliveredIncrementally(t *testing.T) {
	var out bytes.Buffer
	var gotBody []byte
	app := func(ctx context.Context, scope *asgi.Scope, receive asgi.Receive, send asgi.Send) error {
		for {
			msg, err := receive(ctx)
			if err != nil {
				return nil
			}
			req, ok := msg.(asgi.HTTPRequest)
			if !ok {
				continue
			}
			gotBody = append(gotBody, req.Body...)
			if req.MoreBody {
				continue
			}
			if err := send(ctx, asgi.HTTPResponseStart{Status: 200}); err != nil {
				return err
			}
			return send(ctx, asgi.HTTPResponseBody{})
		}
	}
	p := New(&out, testEnv(), app, config.Default())

	head := "POST /upload HTTP/1.1\r\nhost: example.com\r\ncontent-length: 5\r\n\r\n"
	if _, err := p.Feed(context.Background(), []byte(head+"he")); err != nil {
		t.Fatalf("Feed head: %v", err)
	}
	if _, err := p.Feed(context.Background(), []byte("llo")); err != nil {
		t.Fatalf("Feed rest: %v", err)
	}
	if string(gotBody) != "hello" {
		t.Fatalf("body = %q, want %q", gotBody, "hello")
	}
	if !strings.Contains(out.String(), "HTTP/1.1 200 OK") {
		t.Fatalf("missing 200 response: %q", out.String())
	}
}

// TestChunkedBodyDecoded exercises the chunked transfer-encoding path.
func TestChunkedBodyDecoded(t *testing.T) {
	var out bytes.Buffer
	var gotBody []byte
	app := func(ctx context.Context, scope *asgi.Scope, receive asgi.Receive, send asgi.Send) error {
		for {
			msg, err := receive(ctx)
			if err != nil {
				return nil
			}
			req, ok := msg.(asgi.HTTPRequest)
			if !ok {
				continue
			}
			gotBody = append(gotBody, req.Body...)
			if req.MoreBody {
				continue
			}
			if err := send(ctx, asgi.HTTPResponseStart{Status: 200}); err != nil {
				return err
			}
			return send(ctx, asgi.HTTPResponseBody{})
		}
	}
	p := New(&out, testEnv(), app, config.Default())

	req := "POST /upload HTTP/1.1\r\nhost: example.com\r\ntransfer-encoding: chunked\r\n\r\n" +
		"5\r\nhello\r\n0\r\n\r\n"
	if _, err := p.Feed(context.Background(), []byte(req)); err != nil {
		t.Fatalf("Feed: %v", err)
	}
	if string(gotBody) != "hello" {
		t.Fatalf("body = %q, want %q", gotBody, "hello")
	}
}

// TestExpectContinueSendsInterimResponse checks the synthesized 100-continue
// line is written before the body is awaited.
func TestExpectContinueSendsInterimResponse(t *testing.T) {
	var out bytes.Buffer
	app := func(ctx context.Context, scope *asgi.Scope, receive asgi.Receive, send asgi.Send) error {
		for {
			msg, err := receive(ctx)
			if err != nil {
				return nil
			}
			if req, ok := msg.(asgi.HTTPRequest); ok && !req.MoreBody {
				send(ctx, asgi.HTTPResponseStart{Status: 200})
				return send(ctx, asgi.HTTPResponseBody{})
			}
		}
	}
	p := New(&out, testEnv(), app, config.Default())

	head := "POST /upload HTTP/1.1\r\nhost: example.com\r\ncontent-length: 2\r\nexpect: 100-continue\r\n\r\n"
	if _, err := p.Feed(context.Background(), []byte(head)); err != nil {
		t.Fatalf("Feed head: %v", err)
	}
	if !strings.HasPrefix(out.String(), "HTTP/1.1 100 Continue\r\n\r\n") {
		t.Fatalf("missing 100-continue interim response: %q", out.String())
	}
	if _, err := p.Feed(context.Background(), []byte("hi")); err != nil {
		t.Fatalf("Feed body: %v", err)
	}
	if !strings.Contains(out.String(), "HTTP/1.1 200 OK") {
		t.Fatalf("missing final response: %q", out.String())
	}
}

// TestRejectedWebSocketHandshakeReleasesConnection confirms a connection
// survives a bad WS upgrade: the 400 is written synchronously, no app
// goroutine is ever started, and the connection slot is released so the
// next pipelined request on the same connection is still served.
func TestRejectedWebSocketHandshakeReleasesConnection(t *testing.T) {
	var out bytes.Buffer
	p := New(&out, testEnv(), echoApp, config.Default())

	bad := "GET /chat HTTP/1.1\r\nhost: example.com\r\nconnection: Upgrade\r\nupgrade: websocket\r\n\r\n"
	if _, err := p.Feed(context.Background(), []byte(bad)); err != nil {
		t.Fatalf("Feed bad handshake: %v", err)
	}
	if !strings.Contains(out.String(), "400") {
		t.Fatalf("expected a 400 response, got %q", out.String())
	}
	if p.current != nil {
		t.Fatal("connection slot must be released after a rejected handshake")
	}

	out.Reset()
	if _, err := p.Feed(context.Background(), []byte("GET /hello HTTP/1.1\r\nhost: example.com\r\n\r\n")); err != nil {
		t.Fatalf("Feed follow-up request: %v", err)
	}
	if !strings.Contains(out.String(), "HTTP/1.1 200 OK") {
		t.Fatalf("expected the next pipelined request to be served, got %q", out.String())
	}
}

// TestCloseDeliversStreamClosedToActiveStream confirms Close() — the method
// conn.Connection invokes on a terminal read error or timeout — tears down
// whatever stream is mid-flight, unblocking its app goroutine with
// http.disconnect instead of leaking it.
func TestCloseDeliversStreamClosedToActiveStream(t *testing.T) {
	var out bytes.Buffer
	disconnected := make(chan struct{})
	app := func(ctx context.Context, scope *asgi.Scope, receive asgi.Receive, send asgi.Send) error {
		for {
			msg, err := receive(ctx)
			if err != nil {
				return nil
			}
			if _, ok := msg.(asgi.HTTPDisconnect); ok {
				close(disconnected)
				return nil
			}
		}
	}
	p := New(&out, testEnv(), app, config.Default())

	head := "POST /upload HTTP/1.1\r\nhost: example.com\r\ncontent-length: 5\r\n\r\n"
	if _, err := p.Feed(context.Background(), []byte(head)); err != nil {
		t.Fatalf("Feed head: %v", err)
	}
	if p.Idle() {
		t.Fatal("Idle() should report false while a request is mid-body")
	}

	p.Close()

	select {
	case <-disconnected:
	case <-time.After(time.Second):
		t.Fatal("app goroutine was not delivered http.disconnect after Close")
	}
	if !p.Idle() {
		t.Fatal("Idle() should report true once Close has released the stream")
	}
}

// TestIdleReportsFalseDuringRequestProcessing checks Idle() toggles around a
// full request/response exchange, which conn.Connection relies on to pick
// between ReadTimeout and KeepAliveTimeout.
func TestIdleReportsFalseDuringRequestProcessing(t *testing.T) {
	var out bytes.Buffer
	var p *Protocol
	idleDuring := make(chan bool, 1)
	app := func(ctx context.Context, scope *asgi.Scope, receive asgi.Receive, send asgi.Send) error {
		idleDuring <- p.Idle()
		return echoApp(ctx, scope, receive, send)
	}
	p = New(&out, testEnv(), app, config.Default())

	if !p.Idle() {
		t.Fatal("a fresh Protocol should report Idle")
	}
	if _, err := p.Feed(context.Background(), []byte("GET /hello HTTP/1.1\r\nhost: example.com\r\n\r\n")); err != nil {
		t.Fatalf("Feed: %v", err)
	}
	if <-idleDuring {
		t.Fatal("Protocol should not report Idle while the app is serving a request")
	}
	if !p.Idle() {
		t.Fatal("Protocol should be Idle again once the response completed")
	}
}

// TestBodyTooLargeEmits413 confirms the resource-limit path closes the
// connection with a 413 rather than hanging on an oversized body.
func TestBodyTooLargeEmits413(t *testing.T) {
	var out bytes.Buffer
	app := func(ctx context.Context, scope *asgi.Scope, receive asgi.Receive, send asgi.Send) error {
		for {
			if _, err := receive(ctx); err != nil {
				return nil
			}
		}
	}
	env := testEnv()
	env.MaxBodyBytes = 4
	p := New(&out, env, app, config.Default())

	req := "POST /upload HTTP/1.1\r\nhost: example.com\r\ncontent-length: 20\r\n\r\n" + strings.Repeat("x", 20)
	if _, err := p.Feed(context.Background(), []byte(req)); err != nil {
		t.Fatalf("Feed: %v", err)
	}
	if !strings.Contains(out.String(), "413") {
		t.Fatalf("response = %q, want a 413", out.String())
	}
}
