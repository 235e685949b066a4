// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package conn implements the per-connection lifecycle scheduler of §5: it
// owns the active protocol variant (starting on H1, optionally rebinding to
// H2 on an upgrade signal), the read/keep-alive timers, and graceful
// shutdown on a Closed event.
package conn

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"time"

	"github.com/wireproto/asgicore/asgi"
	"github.com/wireproto/asgicore/config"
	"github.com/wireproto/asgicore/protocol/h1"
	"github.com/wireproto/asgicore/protocol/h2"
)

// Connection drives one accepted net.Conn end to end: read loop, idle/read
// timeouts, and protocol upgrades. It handles TCP connections only:
// protocol/h3 is not driven from here, and cmd/asgiserved has no QUIC
// listener.
type Connection struct {
	nc  net.Conn
	env asgi.Env
	app asgi.App
	cfg config.Config
}

// New returns a Connection ready to Serve nc.
func New(nc net.Conn, env asgi.Env, app asgi.App, cfg config.Config) *Connection {
	return &Connection{nc: nc, env: env, app: app, cfg: cfg}
}

// Serve runs the connection's read loop until the peer disconnects, a
// timeout fires, or ctx is cancelled. It starts on H1 and rebinds in place
// to H2 if Feed raises an upgrade signal (§4.3).
func (c *Connection) Serve(ctx context.Context) error {
	proto := h1.New(c.nc, c.env, c.app, c.cfg)
	defer proto.Close()
	buf := make([]byte, 32*1024)

	for {
		timeout := c.cfg.ReadTimeout
		if proto.Idle() && c.cfg.KeepAliveTimeout > 0 {
			timeout = c.cfg.KeepAliveTimeout
		}
		if timeout > 0 {
			c.nc.SetReadDeadline(time.Now().Add(timeout))
		}
		n, err := c.nc.Read(buf)
		if n > 0 {
			upgraded, ferr := proto.Feed(ctx, buf[:n])
			if ferr != nil {
				return ferr
			}
			if upgraded {
				return c.runH2(ctx, proto.Upgrade())
			}
		}
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// runH2 rebinds the connection to protocol/h2, replaying any leftover bytes
// the H1 parser had already buffered (the remainder of the upgrade request,
// or the full prior-knowledge preface's trailing bytes).
func (c *Connection) runH2(ctx context.Context, up *h1.Upgrade) error {
	if up == nil {
		return fmt.Errorf("conn: upgrade signal missing payload")
	}
	leftover := up.Leftover
	if up.Kind == h1.UpgradePriorKnowledge {
		// protocol/h2 starts reading at the first frame, so the preface
		// itself is not replayed.
		leftover = bytes.TrimPrefix(leftover, []byte("PRI * HTTP/2.0\r\n\r\nSM\r\n\r\n"))
	}
	rw := &prefixedConn{Conn: c.nc, prefix: leftover}
	h2proto := h2.New(rw, c.env, c.app, c.cfg)
	return h2proto.Run(ctx)
}

// prefixedConn replays prefix before further reads are satisfied from the
// wrapped net.Conn, so a protocol driver that only knows how to read from
// an io.ReadWriter doesn't need to know about the bytes the prior protocol
// had already buffered.
type prefixedConn struct {
	net.Conn
	prefix []byte
}

func (p *prefixedConn) Read(b []byte) (int, error) {
	if len(p.prefix) > 0 {
		n := copy(b, p.prefix)
		p.prefix = p.prefix[n:]
		return n, nil
	}
	return p.Conn.Read(b)
}
