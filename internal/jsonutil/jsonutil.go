// Package jsonutil centralizes JSON encode/decode behind goccy/go-json, a
// drop-in encoding/json replacement imported here as "gojson", so every
// upstream payload and the result document go through one fast
// decoder/encoder.
package jsonutil

import (
	"io"

	gojson "github.com/goccy/go-json"
)

// Decode reads a JSON document from r into v.
func Decode(r io.Reader, v interface{}) error {
	return gojson.NewDecoder(r).Decode(v)
}

// Marshal encodes v to JSON bytes.
func Marshal(v interface{}) ([]byte, error) {
	return gojson.Marshal(v)
}

// MarshalIndent encodes v to pretty-printed JSON bytes.
func MarshalIndent(v interface{}, prefix, indent string) ([]byte, error) {
	return gojson.MarshalIndent(v, prefix, indent)
}

// Unmarshal decodes JSON bytes into v.
func Unmarshal(data []byte, v interface{}) error {
	return gojson.Unmarshal(data, v)
}
