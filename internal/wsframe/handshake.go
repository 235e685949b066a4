// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package wsframe

import (
	"crypto/sha1"
	"encoding/base64"
)

// acceptGUID is the fixed magic string RFC 6455 §1.3 defines for computing
// Sec-WebSocket-Accept.
const acceptGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

// AcceptToken computes the Sec-WebSocket-Accept value for the given
// Sec-WebSocket-Key. The result is deterministic from the client key, so no
// random source is required (§6).
func AcceptToken(key string) string {
	h := sha1.New()
	h.Write([]byte(key))
	h.Write([]byte(acceptGUID))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// SupportedVersion is the only Sec-WebSocket-Version this core accepts.
const SupportedVersion = "13"
