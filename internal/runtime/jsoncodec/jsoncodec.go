// Package jsoncodec is the single JSON entry point for envelopes and payloads.
package jsoncodec

import (
	"github.com/bytedance/sonic"
)

// ConfigStd keeps encoding/json semantics (sorted map keys, HTML escaping,
// json.RawMessage passthrough) so frames stay byte-compatible with any peer.
var defaultConfig = sonic.ConfigStd

func Marshal(v any) ([]byte, error) {
	return defaultConfig.Marshal(v)
}

func Unmarshal(data []byte, v any) error {
	return defaultConfig.Unmarshal(data, v)
}

// Valid reports whether data is a well-formed JSON document.
func Valid(data []byte) bool {
	return defaultConfig.Valid(data)
}
