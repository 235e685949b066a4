// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package asgi

import (
	"strings"

	"github.com/wireproto/asgicore/internal/wsframe"
)

// wsHandshake extracts and validates the upgrade request headers, mirroring
// hypercorn's Handshake helper (§4.2). On HTTP/2 and HTTP/3, httpVersion is
// "2" or "3" and the key is not required — the CONNECT pseudo-headers
// already carry the upgrade semantics (RFC 8441).
type wsHandshake struct {
	httpVersion  string
	connection   []string
	extensions   []string
	key          string
	subprotocols []string
	upgrade      string
	version      string
}

func parseHandshake(headers Headers, httpVersion string) wsHandshake {
	h := wsHandshake{httpVersion: httpVersion}
	for _, f := range headers {
		switch string(f.Name) {
		case "connection":
			h.connection = append(h.connection, splitComma(string(f.Value))...)
		case "sec-websocket-extensions":
			h.extensions = append(h.extensions, splitComma(string(f.Value))...)
		case "sec-websocket-key":
			h.key = string(f.Value)
		case "sec-websocket-protocol":
			h.subprotocols = append(h.subprotocols, splitComma(string(f.Value))...)
		case "sec-websocket-version":
			h.version = string(f.Value)
		case "upgrade":
			h.upgrade = string(f.Value)
		}
	}
	return h
}

func splitComma(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (h wsHandshake) isValid() bool {
	if h.httpVersion == "1.1" || h.httpVersion == "1.0" {
		if h.key == "" {
			return false
		}
		if !containsTokenFold(h.connection, "upgrade") {
			return false
		}
		if !strings.EqualFold(h.upgrade, "websocket") {
			return false
		}
	}
	return h.version == wsframe.SupportedVersion
}

func containsTokenFold(tokens []string, want string) bool {
	for _, t := range tokens {
		if strings.EqualFold(t, want) {
			return true
		}
	}
	return false
}

func (h wsHandshake) hasSubprotocol(name string) bool {
	for _, p := range h.subprotocols {
		if p == name {
			return true
		}
	}
	return false
}
