// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Command asgiserved is a minimal worker process binary: it accepts TCP
// connections, tunes each socket, runs the lifespan protocol once at
// startup/shutdown, and hands every connection to conn.Connection.
package main

import (
	"context"
	"crypto/tls"
	"flag"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/wireproto/asgicore/asgi"
	"github.com/wireproto/asgicore/access"
	"github.com/wireproto/asgicore/config"
	"github.com/wireproto/asgicore/conn"
	"github.com/wireproto/asgicore/internal/debugflag"
	"github.com/wireproto/asgicore/internal/util"
)

var (
	addr     = flag.String("addr", ":8000", "TCP address to listen on")
	certFile = flag.String("cert", "", "TLS certificate file (enables TLS/h2 when set)")
	keyFile  = flag.String("key", "", "TLS key file")
)

func main() {
	flag.Parse()

	cfg, err := config.FromEnv(config.Default())
	if err != nil {
		log.Fatalf("asgiserved: %v", err)
	}
	if *certFile != "" {
		cert, err := tls.LoadX509KeyPair(*certFile, *keyFile)
		if err != nil {
			log.Fatalf("asgiserved: load TLS certificate: %v", err)
		}
		cfg.TLSConfig = &tls.Config{Certificates: []tls.Certificate{cert}, NextProtos: []string{"h2", "http/1.1"}}
	}

	ln, err := net.Listen("tcp", *addr)
	if err != nil {
		log.Fatalf("asgiserved: listen: %v", err)
	}
	if cfg.TLSConfig != nil {
		ln = tls.NewListener(ln, cfg.TLSConfig)
	} else if !util.IsLoopback(*addr) {
		log.Printf("asgiserved: warning: serving plaintext HTTP on a non-loopback address %s", *addr)
	}
	log.Printf("asgiserved: listening on %s", *addr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// connCtx is deliberately not ctx itself: on shutdown, in-flight
	// connections get cfg.ShutdownTimeout to finish on their own before their
	// app goroutines are forcibly cancelled (§5).
	connCtx, cancelConns := context.WithCancel(context.Background())
	defer cancelConns()
	go func() {
		<-ctx.Done()
		if cfg.ShutdownTimeout <= 0 {
			cancelConns()
			return
		}
		time.AfterFunc(cfg.ShutdownTimeout, cancelConns)
	}()

	app := exampleApp
	stopped := make(chan struct{})
	go func() {
		if err := asgi.RunLifespan(ctx, app, stopped); err != nil {
			log.Printf("asgiserved: lifespan error: %v", err)
		}
	}()

	limiter := cfg.AcceptLimiter()
	logger := access.NewJSONLogger(os.Stdout)

	go func() {
		<-ctx.Done()
		close(stopped)
		ln.Close()
	}()

	for {
		nc, err := ln.Accept()
		if err != nil {
			break
		}
		if err := limiter.Wait(ctx); err != nil {
			nc.Close()
			continue
		}
		tuneSocket(nc)
		go serve(connCtx, nc, cfg, logger, app)
	}
}

func serve(ctx context.Context, nc net.Conn, cfg config.Config, logger asgi.Logger, app asgi.App) {
	defer nc.Close()
	if debugflag.Enabled("wiretrace") {
		log.Printf("asgiserved: accepted connection from %s", nc.RemoteAddr())
	}

	scheme := "http"
	if cfg.TLSConfig != nil {
		scheme = "https"
	}
	clientAddr, clientPort := splitHostPort(nc.RemoteAddr())
	serverAddr, serverPort := splitHostPort(nc.LocalAddr())

	env := asgi.Env{
		Scheme:             scheme,
		RootPath:           cfg.RootPath,
		Client:             asgi.Addr{Host: clientAddr, Port: clientPort},
		Server:             asgi.Addr{Host: serverAddr, Port: serverPort},
		Clock:              asgi.SystemClock{},
		Logger:             logger,
		AppChannelCapacity: cfg.AppChannelCapacity,
		MaxBodyBytes:       cfg.MaxBodyBytes,
		WebSocketMaxMsg:    cfg.WebSocketMaxMessageBytes,
		PerMessageDeflate:  cfg.PerMessageDeflate,
	}

	c := conn.New(nc, env, app, cfg)
	if err := c.Serve(ctx); err != nil {
		log.Printf("asgiserved: connection from %s: %v", nc.RemoteAddr(), err)
	}
}

// tuneSocket applies TCP_NODELAY using golang.org/x/sys/unix directly on the
// raw file descriptor. It only tunes a plain *net.TCPConn: a connection
// already wrapped by a tls.Conn (the TLS listener case) is left untouched.
func tuneSocket(nc net.Conn) {
	tcp, ok := nc.(*net.TCPConn)
	if !ok {
		return
	}
	raw, err := tcp.SyscallConn()
	if err != nil {
		return
	}
	raw.Control(func(fd uintptr) {
		unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
	})
}

func splitHostPort(addr net.Addr) (string, int) {
	host, portStr, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String(), 0
	}
	port := 0
	for _, c := range portStr {
		if c < '0' || c > '9' {
			port = 0
			break
		}
		port = port*10 + int(c-'0')
	}
	return host, port
}

// exampleApp is a trivial placeholder app: real deployments pass their own
// asgi.App into conn.New via serve. It answers every HTTP request with 200
// and echoes every websocket message it receives.
func exampleApp(ctx context.Context, scope *asgi.Scope, receive asgi.Receive, send asgi.Send) error {
	switch scope.Type {
	case asgi.ConnTypeWebSocket:
		if err := send(ctx, asgi.WebSocketAccept{}); err != nil {
			return err
		}
		for {
			msg, err := receive(ctx)
			if err != nil {
				return nil
			}
			switch m := msg.(type) {
			case asgi.WebSocketReceive:
				if err := send(ctx, asgi.WebSocketSend{IsText: m.IsText, Text: m.Text, Bytes: m.Bytes}); err != nil {
					return err
				}
			case asgi.WebSocketDisconnect:
				return nil
			}
		}
	case asgi.ConnTypeHTTP:
		if err := send(ctx, asgi.HTTPResponseStart{Status: 200, Headers: asgi.Headers{
			{Name: []byte("content-type"), Value: []byte("text/plain")},
		}}); err != nil {
			return err
		}
		return send(ctx, asgi.HTTPResponseBody{Body: []byte("ok")})
	default:
		return nil
	}
}
