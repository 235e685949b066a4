// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package asgi

import (
	"context"
	"io"
)

// Receive yields the next app message, or io.EOF once the stream's
// AppChannel is closed and drained.
type Receive func(ctx context.Context) (AppMessage, error)

// Send accepts one app message destined for the wire.
type Send func(ctx context.Context, msg AppMessage) error

// App is the app contract: a three-argument callable invoked once per
// stream (and once more, with a lifespan Scope, per worker process).
type App func(ctx context.Context, scope *Scope, receive Receive, send Send) error

// ReceiveFromChannel adapts an AppChannel into a Receive function, the shape
// every HTTPStream/WSStream hands to the app goroutine.
func ReceiveFromChannel(ch *AppChannel) Receive {
	return func(ctx context.Context) (AppMessage, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		msg, ok := ch.Get()
		if !ok {
			return nil, io.EOF
		}
		return msg, nil
	}
}

// LifespanScope is the degenerate Scope passed to App for the lifespan
// conversation: most fields are zero, since lifespan has no request to
// describe.
var LifespanScope = &Scope{Type: "lifespan", SpecVersion: SpecVersion}

// RunLifespan drives the lifespan half of the app contract once per worker
// process: it sends lifespan.startup, waits for startup.complete or
// startup.failed, then — when shutdown is requested by closing stopped —
// sends lifespan.shutdown and waits for the matching acknowledgement.
//
// RunLifespan returns once shutdown has been acknowledged (or the app
// returns early). If app does not implement the lifespan protocol — i.e. it
// returns immediately without reading any message — RunLifespan treats
// startup as trivially successful, matching the app contract's guidance
// that lifespan support is optional for the app.
func RunLifespan(ctx context.Context, app App, stopped <-chan struct{}) error {
	toApp := NewAppChannel(4)
	fromApp := make(chan AppMessage, 4)
	appErr := make(chan error, 1)

	go func() {
		send := func(_ context.Context, msg AppMessage) error {
			fromApp <- msg
			return nil
		}
		appErr <- app(ctx, LifespanScope, ReceiveFromChannel(toApp), send)
	}()

	toApp.Put(LifespanStartup{})

	select {
	case msg := <-fromApp:
		if f, ok := msg.(LifespanStartupFailed); ok {
			return classifyLifespanFailure("startup", f.Message)
		}
	case err := <-appErr:
		// App returned without acknowledging startup: treat as a no-op app.
		if err != nil {
			return err
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}

	<-stopped
	toApp.Put(LifespanShutdown{})

	select {
	case msg := <-fromApp:
		if f, ok := msg.(LifespanShutdownFailed); ok {
			return classifyLifespanFailure("shutdown", f.Message)
		}
	case err := <-appErr:
		return err
	}

	toApp.Close()
	return <-appErr
}

func classifyLifespanFailure(phase, message string) error {
	return Classify(ClassAppFault, &lifespanError{phase: phase, message: message})
}

type lifespanError struct {
	phase   string
	message string
}

func (e *lifespanError) Error() string {
	return "asgi: lifespan." + e.phase + " failed: " + e.message
}
