// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package config holds the tunables a deployed asgicore listener needs that
// the protocol core itself has no opinion on: timeouts, buffer sizes, TLS
// material, websocket limits, and accept-rate limiting.
package config

import (
	"context"
	"crypto/tls"
	"fmt"
	"os"
	"strconv"
	"time"

	"golang.org/x/time/rate"
)

// Config is a placeholder-free option struct in the teacher's style
// (mcp.StreamableHTTPOptions): a plain struct of fields, constructed with
// zero values meaning "use the default" wherever a default makes sense.
type Config struct {
	// RootPath is stamped into every Scope's RootPath field (§3).
	RootPath string

	// ReadTimeout bounds the time between bytes on an otherwise idle
	// connection (§5). Zero means no timeout.
	ReadTimeout time.Duration
	// KeepAliveTimeout bounds how long a connection stays open with no
	// in-flight request (§5). Zero means no timeout.
	KeepAliveTimeout time.Duration
	// ResponseTimeout is the deadline of the context an HTTP/1.1 app
	// goroutine runs under, counted from request dispatch (see
	// ResponseContext). Zero means no timeout.
	ResponseTimeout time.Duration
	// ShutdownTimeout is the grace period given to in-flight connections
	// after the worker receives a shutdown signal before their context is
	// cancelled (§5). It is not applied when a single connection closes.
	ShutdownTimeout time.Duration

	// H1MaxIncompleteSize bounds the buffered header block before a request
	// line/header parse is abandoned as malformed (§4.3, §7 class 2).
	H1MaxIncompleteSize int64
	// MaxBodyBytes bounds a single request body (0 = unlimited); response
	// bodies are not limited.
	MaxBodyBytes int64
	// WebSocketMaxMessageBytes bounds one reassembled websocket message
	// (0 = unlimited); exceeding it closes with status 1009 (§4.2).
	WebSocketMaxMessageBytes int64
	// AppChannelCapacity bounds the number of buffered app messages per
	// stream (§4.6).
	AppChannelCapacity int
	// PerMessageDeflate enables RFC 7692 negotiation for accepted websocket
	// connections when the client offers it.
	PerMessageDeflate bool

	// H2MaxConcurrentStreams caps simultaneously active HTTP/2 streams per
	// connection (§4.4).
	H2MaxConcurrentStreams uint32
	// H2InitialWindowSize is the per-stream flow-control window advertised
	// in the initial SETTINGS frame (§4.4).
	H2InitialWindowSize uint32

	// TLSConfig is used by cmd/asgiserved to wrap accepted connections, nil
	// to serve plaintext (h2c/H1 only — H3 requires TLS, per RFC 9114).
	TLSConfig *tls.Config

	// AcceptRateLimit caps new-connection accepts per second; zero disables
	// the limiter. Enforced at the listener in cmd/asgiserved via
	// golang.org/x/time/rate.
	AcceptRateLimit rate.Limit
	// AcceptBurst is the limiter's burst size (golang.org/x/time/rate).
	AcceptBurst int
}

// Default returns the configuration asgiserved falls back to when no
// environment overrides are present.
func Default() Config {
	return Config{
		ReadTimeout:              60 * time.Second,
		KeepAliveTimeout:         120 * time.Second,
		ResponseTimeout:          0,
		ShutdownTimeout:          5 * time.Second,
		H1MaxIncompleteSize:      16 * 1024,
		MaxBodyBytes:             16 * 1024 * 1024,
		WebSocketMaxMessageBytes: 16 * 1024 * 1024,
		AppChannelCapacity:       8,
		PerMessageDeflate:        true,
		H2MaxConcurrentStreams:   250,
		H2InitialWindowSize:      1 << 20,
		AcceptRateLimit:          rate.Inf,
		AcceptBurst:              1,
	}
}

// FromEnv overlays environment variable overrides onto base, in the style of
// a minimal loader — each recognized ASGICORE_* variable replaces the
// matching field if set and parseable; malformed values are reported rather
// than silently ignored.
func FromEnv(base Config) (Config, error) {
	cfg := base
	durations := []struct {
		name string
		dst  *time.Duration
	}{
		{"ASGICORE_READ_TIMEOUT", &cfg.ReadTimeout},
		{"ASGICORE_KEEPALIVE_TIMEOUT", &cfg.KeepAliveTimeout},
		{"ASGICORE_RESPONSE_TIMEOUT", &cfg.ResponseTimeout},
		{"ASGICORE_SHUTDOWN_TIMEOUT", &cfg.ShutdownTimeout},
	}
	for _, d := range durations {
		if v, ok := os.LookupEnv(d.name); ok {
			parsed, err := time.ParseDuration(v)
			if err != nil {
				return Config{}, fmt.Errorf("config: %s: %w", d.name, err)
			}
			*d.dst = parsed
		}
	}

	ints := []struct {
		name string
		dst  *int64
	}{
		{"ASGICORE_H1_MAX_INCOMPLETE_SIZE", &cfg.H1MaxIncompleteSize},
		{"ASGICORE_MAX_BODY_BYTES", &cfg.MaxBodyBytes},
		{"ASGICORE_WS_MAX_MESSAGE_BYTES", &cfg.WebSocketMaxMessageBytes},
	}
	for _, i := range ints {
		if v, ok := os.LookupEnv(i.name); ok {
			parsed, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return Config{}, fmt.Errorf("config: %s: %w", i.name, err)
			}
			*i.dst = parsed
		}
	}

	if v, ok := os.LookupEnv("ASGICORE_ROOT_PATH"); ok {
		cfg.RootPath = v
	}
	if v, ok := os.LookupEnv("ASGICORE_PERMESSAGE_DEFLATE"); ok {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("config: ASGICORE_PERMESSAGE_DEFLATE: %w", err)
		}
		cfg.PerMessageDeflate = parsed
	}
	if v, ok := os.LookupEnv("ASGICORE_ACCEPT_RATE_LIMIT"); ok {
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return Config{}, fmt.Errorf("config: ASGICORE_ACCEPT_RATE_LIMIT: %w", err)
		}
		cfg.AcceptRateLimit = rate.Limit(parsed)
	}

	return cfg, nil
}

// ResponseContext derives a context whose deadline is ResponseTimeout after
// the call. The deadline is not cleared when the app sends
// http.response.start, so it bounds the whole exchange; expiry only cancels
// the context, it does not send a response or close the connection. Only
// protocol/h1 applies it. If ResponseTimeout is zero, parent is returned
// unchanged with a no-op cancel; callers must still call the returned
// cancel once the stream completes to release the timer promptly.
func (c Config) ResponseContext(parent context.Context) (context.Context, context.CancelFunc) {
	if c.ResponseTimeout <= 0 {
		return parent, func() {}
	}
	return context.WithTimeout(parent, c.ResponseTimeout)
}

// AcceptLimiter builds the rate.Limiter a listener consults before Accept
// returns a connection to a worker, per §9's accept-rate-limiting wiring.
func (c Config) AcceptLimiter() *rate.Limiter {
	burst := c.AcceptBurst
	if burst <= 0 {
		burst = 1
	}
	limit := c.AcceptRateLimit
	if limit == 0 {
		limit = rate.Inf
	}
	return rate.NewLimiter(limit, burst)
}
