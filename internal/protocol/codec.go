package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// EncodePayload serializes a payload for a script's stdin.
// Strings, byte slices and json.RawMessage are passed through unchanged, nil
// produces no input at all, and everything else is JSON-encoded.
func EncodePayload(payload any) ([]byte, error) {
	switch p := payload.(type) {
	case nil:
		return nil, nil
	case string:
		return []byte(p), nil
	case []byte:
		return p, nil
	case json.RawMessage:
		return p, nil
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}
	return data, nil
}

// DecodeOutput parses stdout as a single JSON value. It never fails: output that
// is not valid JSON degrades to {fallbackKey: trimmed text}.
func DecodeOutput(data []byte, fallbackKey string) Output {
	var v any
	if err := json.Unmarshal(data, &v); err == nil {
		return Output{Value: v, Parsed: true}
	}

	raw := string(bytes.TrimSpace(data))
	return Output{
		Value: Fallback(fallbackKey, raw),
		Raw:   raw,
	}
}
