// Package invoke runs one external interpreter process per request and turns its
// output into a result.
//
// The contract with the child process:
//   - The payload is serialized once (JSON unless it is already a string or raw
//     bytes), written to stdin, and stdin is closed.
//   - Stdout and stderr are accumulated separately. Stdout is bounded by
//     MaxOutputBytes; stderr is capped at 64KB and only used for diagnostics.
//   - The result is decided after the process exits and both pipes are drained.
//   - Exit code 0: stdout is parsed as JSON, falling back to {"output": trimmed text}.
//   - Any other exit code: *ExitError carrying the code and stderr (or stdout when
//     stderr is empty).
//
// Scripts run in one of two modes:
//   - ModeInline: interpreter -c <script> [args...]
//   - ModeScript: interpreter <path> [args...]
//
// Timeouts and context cancellation terminate the process with SIGTERM, then
// SIGKILL after a grace period. Launch failures, timeouts and oversized output
// each have their own error type so callers can tell them apart with errors.Is.
package invoke
