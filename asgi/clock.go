// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package asgi

import "time"

// Clock is the injected wall-clock collaborator used to format the `date`
// response header. It is the only observable source of wall-clock
// nondeterminism in the core (§5); tests pin it to a fixed instant.
type Clock interface {
	Now() time.Time
}

// SystemClock is the default Clock, backed by time.Now.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// FixedClock is a Clock that always returns the same instant, used by tests
// that assert exact `date` header bytes.
type FixedClock struct{ At time.Time }

func (c FixedClock) Now() time.Time { return c.At }

// httpDate formats t the way RFC 7231 §7.1.1.1 requires for the `date`
// header: e.g. "Thu, 01 Jan 1970 01:23:20 GMT".
func httpDate(t time.Time) string {
	return t.UTC().Format(http1123)
}

// http1123 mirrors time.RFC1123 but with a literal "GMT" zone, since Go's
// RFC1123 constant emits the zone abbreviation of the Location, and UTC's
// abbreviation is already "UTC" not "GMT".
const http1123 = "Mon, 02 Jan 2006 15:04:05 GMT"
