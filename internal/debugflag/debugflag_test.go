// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package debugflag

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParse_Success(t *testing.T) {
	tests := []struct {
		name   string
		envVal string
		want   map[string]string
	}{
		{
			name:   "Basic",
			envVal: "wiretrace=1,h3=0",
			want: map[string]string{
				"wiretrace": "1",
				"h3":        "0",
			},
		},
		{
			name:   "Empty",
			envVal: "",
			want:   nil,
		},
		{
			name:   "WithWhitespace",
			envVal: "  wiretrace = 1  \t,  h3  = 0  ",
			want: map[string]string{
				"wiretrace": "1",
				"h3":        "0",
			},
		},
		{
			name:   "WithEqualsSignInValue",
			envVal: "foo=bar=baz",
			want: map[string]string{
				"foo": "bar=baz",
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parse(tt.envVal)
			if err != nil {
				t.Fatalf("parse() failed: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("parse() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParse_Failure(t *testing.T) {
	tests := []struct {
		name   string
		envVal string
	}{
		{
			name:   "NoEqualsSign",
			envVal: "invalidformat",
		},
		{
			name:   "MixedValidAndInvalid",
			envVal: "foo=bar,baz",
		},
		{
			name:   "EmptyPart",
			envVal: "foo=bar,,baz=qux",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parse(tt.envVal)
			if err == nil {
				t.Error("parse() expected error, got nil")
			}
		})
	}
}

func TestEnabled(t *testing.T) {
	tests := []struct {
		name   string
		params map[string]string
		key    string
		want   bool
	}{
		{name: "Unset", params: nil, key: "wiretrace", want: false},
		{name: "SetToOne", params: map[string]string{"wiretrace": "1"}, key: "wiretrace", want: true},
		{name: "SetToTrue", params: map[string]string{"wiretrace": "true"}, key: "wiretrace", want: true},
		{name: "SetToZero", params: map[string]string{"wiretrace": "0"}, key: "wiretrace", want: false},
		{name: "DifferentKey", params: map[string]string{"h3": "1"}, key: "wiretrace", want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			old := params
			params = tt.params
			defer func() { params = old }()
			if got := Enabled(tt.key); got != tt.want {
				t.Errorf("Enabled(%q) = %v, want %v", tt.key, got, tt.want)
			}
		})
	}
}
