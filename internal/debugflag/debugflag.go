// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package debugflag configures runtime compatibility/tracing parameters via
// the ASGICOREDEBUG environment variable.
//
// The value of ASGICOREDEBUG is a comma-separated list of key=value pairs.
// For example:
//
//	ASGICOREDEBUG=wiretrace=1,h3=0
package debugflag

import (
	"fmt"
	"os"
	"strings"
)

const envKey = "ASGICOREDEBUG"

var params map[string]string

func init() {
	var err error
	params, err = parse(os.Getenv(envKey))
	if err != nil {
		panic(err)
	}
}

// Value returns the value of the debug parameter with the given key, or the
// empty string if it is not set.
func Value(key string) string {
	return params[key]
}

// Enabled reports whether the named boolean flag is set to a truthy value
// ("1" or "true").
func Enabled(key string) bool {
	v := params[key]
	return v == "1" || v == "true"
}

func parse(envValue string) (map[string]string, error) {
	if envValue == "" {
		return nil, nil
	}
	out := make(map[string]string)
	for _, part := range strings.Split(envValue, ",") {
		k, v, ok := strings.Cut(part, "=")
		if !ok {
			return nil, fmt.Errorf("%s: invalid format: %q", envKey, part)
		}
		out[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return out, nil
}
