// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package asgi

import (
	"bytes"
	"fmt"
	"strconv"

	"golang.org/x/net/http/httpguts"
)

// ServerName is the value stamped into the `server` response header when the
// app does not supply one of its own.
const ServerName = "asgicore"

// hopByHopHeaders are stripped from app-supplied response headers on HTTP/2
// and HTTP/3, which have no wire representation for them (RFC 9113 §8.2.2).
var hopByHopHeaders = map[string]bool{
	"connection":        true,
	"keep-alive":        true,
	"proxy-connection":  true,
	"transfer-encoding": true,
	"upgrade":           true,
}

// StripHopByHop removes headers with no meaning on a multiplexed transport.
// The returned slice may share backing storage with headers.
func StripHopByHop(headers Headers) Headers {
	out := headers[:0:0]
	for _, h := range headers {
		if hopByHopHeaders[string(h.Name)] {
			continue
		}
		out = append(out, h)
	}
	return out
}

// ValidateHeaderField reports whether name/value form a legal HTTP header
// field, using the same validation net/http applies to outgoing headers.
func ValidateHeaderField(name, value []byte) error {
	if !httpguts.ValidHeaderFieldName(string(name)) {
		return fmt.Errorf("asgi: invalid header name %q", name)
	}
	if !httpguts.ValidHeaderFieldValue(string(value)) {
		return fmt.Errorf("asgi: invalid header value for %q", name)
	}
	return nil
}

// BuildAndValidateHeaders lower-cases header names and validates each field.
// It does not filter any header; an app-supplied `date` is dropped later by
// StampDateAndServer. It is the Go analogue of hypercorn's
// build_and_validate_headers helper.
func BuildAndValidateHeaders(headers Headers) (Headers, error) {
	out := make(Headers, 0, len(headers))
	for _, h := range headers {
		name := bytes.ToLower(h.Name)
		if err := ValidateHeaderField(name, h.Value); err != nil {
			return nil, Classify(ClassContractViolation, err)
		}
		out = append(out, Header{Name: name, Value: h.Value})
	}
	return out, nil
}

// StampDateAndServer injects `date` (always, from clock) and `server`
// (unless the app already supplied one) per the invariant in §3: "date and
// server headers are injected by the core; any duplicate supplied by the
// app is dropped."
func StampDateAndServer(headers Headers, clock Clock) Headers {
	out := make(Headers, 0, len(headers)+2)
	hasServer := false
	for _, h := range headers {
		if string(h.Name) == "date" {
			continue
		}
		if string(h.Name) == "server" {
			hasServer = true
		}
		out = append(out, h)
	}
	out = append(out, Header{Name: []byte("date"), Value: []byte(httpDate(clock.Now()))})
	if !hasServer {
		out = append(out, Header{Name: []byte("server"), Value: []byte(ServerName)})
	}
	return out
}

// StampConnectionClose appends a `connection: close` header when close is
// true and the app-supplied headers don't already carry a connection
// header of their own, so the wire response matches the decision an H1
// Protocol already made about ending the connection after this response.
func StampConnectionClose(headers Headers, close bool) Headers {
	if !close {
		return headers
	}
	if _, found := headers.Get("connection"); found {
		return headers
	}
	out := make(Headers, len(headers), len(headers)+1)
	copy(out, headers)
	return append(out, Header{Name: []byte("connection"), Value: []byte("close")})
}

// SuppressBody reports whether a response with the given method and status
// code must not carry a body on the wire: HEAD requests, 1xx informational
// responses, 204 No Content, and 304 Not Modified (RFC 7230 §3.3.3).
func SuppressBody(method string, status int) bool {
	if method == "HEAD" {
		return true
	}
	if status >= 100 && status < 200 {
		return true
	}
	return status == 204 || status == 304
}

// ContentLength parses the content-length header, returning ok=false if
// absent or malformed.
func ContentLength(headers Headers) (n int64, ok bool) {
	v, found := headers.Get("content-length")
	if !found {
		return 0, false
	}
	n, err := strconv.ParseInt(string(v), 10, 64)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// HasConnectionToken reports whether the connection header (possibly split
// across repeated header lines) contains token, case-insensitively.
func HasConnectionToken(headers Headers, token string) bool {
	for _, v := range headers.Values("connection") {
		if httpguts.HeaderValuesContainsToken([]string{string(v)}, token) {
			return true
		}
	}
	return false
}
