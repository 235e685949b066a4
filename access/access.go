// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package access implements the asgi.Logger contract: structured JSON
// access-log records for completed streams, and a distinct error-log path
// for app faults and contract violations (§7, §9).
package access

import (
	"io"
	"sync"
	"time"

	"github.com/segmentio/encoding/json"

	"github.com/wireproto/asgicore/asgi"
)

// Record is one access-log line, written as a single JSON object per
// completed stream.
type Record struct {
	Time       string `json:"time"`
	Type       string `json:"type"`
	Method     string `json:"method,omitempty"`
	Path       string `json:"path,omitempty"`
	HTTPVer    string `json:"http_version,omitempty"`
	Status     int    `json:"status,omitempty"`
	ElapsedSec float64 `json:"elapsed_seconds"`
	Client     string `json:"client,omitempty"`
}

// ErrorRecord is one error-log line for app faults and contract violations.
type ErrorRecord struct {
	Time  string `json:"time"`
	Class string `json:"class"`
	Path  string `json:"path,omitempty"`
	Error string `json:"error"`
}

// JSONLogger writes Record/ErrorRecord lines to w, one JSON object per line,
// serialized with segmentio/encoding/json (the teacher's fast-path encoder)
// since this runs on the hot per-request completion path.
type JSONLogger struct {
	mu sync.Mutex
	w  io.Writer
}

// NewJSONLogger returns a Logger writing newline-delimited JSON to w.
func NewJSONLogger(w io.Writer) *JSONLogger {
	return &JSONLogger{w: w}
}

var _ asgi.Logger = (*JSONLogger)(nil)

// Access implements asgi.Logger.
func (l *JSONLogger) Access(scope *asgi.Scope, summary asgi.ResponseSummary, elapsed time.Duration) {
	rec := Record{
		Time:       time.Now().UTC().Format(time.RFC3339Nano),
		Status:     summary.Status,
		ElapsedSec: elapsed.Seconds(),
	}
	if scope != nil {
		rec.Type = string(scope.Type)
		rec.Method = scope.Method
		rec.Path = scope.Path
		rec.HTTPVer = scope.HTTPVersion
		rec.Client = scope.Client.Host
	}
	l.write(rec)
}

// AppError implements asgi.Logger.
func (l *JSONLogger) AppError(scope *asgi.Scope, class asgi.ErrorClass, err error) {
	rec := ErrorRecord{
		Time:  time.Now().UTC().Format(time.RFC3339Nano),
		Class: class.String(),
		Error: err.Error(),
	}
	if scope != nil {
		rec.Path = scope.Path
	}
	l.write(rec)
}

func (l *JSONLogger) write(v any) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	b = append(b, '\n')
	l.mu.Lock()
	defer l.mu.Unlock()
	l.w.Write(b)
}
