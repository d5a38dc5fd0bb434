package protocol

// DefaultFallbackKey is the key under which trimmed stdout is exposed when a
// script exits cleanly but does not print JSON.
const DefaultFallbackKey = "output"

// Output is the decoded form of a script's stdout.
type Output struct {
	// Value holds the parsed JSON value, or {fallbackKey: Raw} when stdout was not JSON.
	Value any
	// Raw is the trimmed stdout text. Only set when Parsed is false.
	Raw string
	// Parsed reports whether stdout was a single valid JSON value.
	Parsed bool
}

// Fallback returns the raw-text object for a non-JSON output.
func Fallback(key, raw string) map[string]any {
	if key == "" {
		key = DefaultFallbackKey
	}
	return map[string]any{key: raw}
}
