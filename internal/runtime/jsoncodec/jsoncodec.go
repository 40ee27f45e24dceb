// Package jsoncodec is the one place the broker picks its JSON engine. Events,
// audit records, admin API bodies and gateway payloads all go through it, so
// field names and escaping stay identical to encoding/json.
package jsoncodec

import (
	"io"

	"github.com/bytedance/sonic"
)

// std keeps encoding/json semantics (HTML escaping, sorted map keys).
var std = sonic.ConfigStd

// Marshal encodes v.
func Marshal(v any) ([]byte, error) { return std.Marshal(v) }

// Unmarshal decodes data into v.
func Unmarshal(data []byte, v any) error { return std.Unmarshal(data, v) }

// Encode writes v to w followed by a newline.
func Encode(w io.Writer, v any) error { return std.NewEncoder(w).Encode(v) }

// Decode reads a single JSON document from r into v.
func Decode(r io.Reader, v any) error { return std.NewDecoder(r).Decode(v) }
