// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package wsframe

import (
	"bytes"
	"compress/flate"
	"io"
)

// deflateTrailer is the fixed trailer RFC 7692 §7.2.1 requires every
// compressed message to end with (an empty deflate block, stripped before
// compression and re-appended before decompression for "no context
// takeover" mode, which is all this core negotiates).
var deflateTrailer = []byte{0x00, 0x00, 0xff, 0xff}

// CompressMessage compresses payload for a single permessage-deflate message
// with no context takeover: a fresh compressor per message, trailer
// stripped. Callers outside this package use this to produce the RSV1
// payload for an outbound data frame.
func CompressMessage(payload []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.DefaultCompression)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(payload); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	out := buf.Bytes()
	return bytes.TrimSuffix(out, deflateTrailer), nil
}

// inflate decompresses a single permessage-deflate message with no context
// takeover: a fresh decompressor per message, trailer re-appended.
func inflate(payload []byte) ([]byte, error) {
	r := flate.NewReader(io.MultiReader(bytes.NewReader(payload), bytes.NewReader(deflateTrailer)))
	defer r.Close()
	return io.ReadAll(r)
}
