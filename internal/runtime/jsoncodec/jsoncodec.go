// Package jsoncodec is the single JSON entry point of the bus. Envelopes,
// handler arguments and results all go through it.
package jsoncodec

import (
	"encoding/json"
	"io"

	"github.com/bytedance/sonic"
)

// RawMessage is an undecoded JSON value.
type RawMessage = json.RawMessage

var defaultConfig = sonic.ConfigStd

func Marshal(v any) ([]byte, error) {
	return defaultConfig.Marshal(v)
}

func MarshalIndent(v any, prefix, indent string) ([]byte, error) {
	return defaultConfig.MarshalIndent(v, prefix, indent)
}

func Unmarshal(data []byte, v any) error {
	return defaultConfig.Unmarshal(data, v)
}

// Valid reports whether data is a well-formed JSON document.
func Valid(data []byte) bool {
	return defaultConfig.Valid(data)
}

// MarshalRaw encodes v into a RawMessage. A nil v becomes JSON null.
func MarshalRaw(v any) (RawMessage, error) {
	if raw, ok := v.(RawMessage); ok {
		return raw, nil
	}
	data, err := Marshal(v)
	if err != nil {
		return nil, err
	}
	return RawMessage(data), nil
}

func Encode(w io.Writer, v any) error {
	return defaultConfig.NewEncoder(w).Encode(v)
}

func Decode(r io.Reader, v any) error {
	return defaultConfig.NewDecoder(r).Decode(v)
}
