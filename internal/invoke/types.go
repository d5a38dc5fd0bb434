package invoke

import (
	"context"
	"time"
)

// Mode selects how the script source is handed to the interpreter.
type Mode string

const (
	// ModeInline passes the script text with -c.
	ModeInline Mode = "inline"
	// ModeScript treats the script as a path to a file.
	ModeScript Mode = "script"
)

// Request describes one invocation. It is not modified by the invoker.
type Request struct {
	// Script is inline source text or a path, depending on Mode.
	Script string
	Mode   Mode
	// Payload is written to stdin. See protocol.EncodePayload.
	Payload any
	// Args are appended after the script (positional arguments).
	Args    []string
	Options Options
	// Label names the caller in logs and the ledger (e.g. a capability name).
	Label string
}

// Options are per-request overrides of the invoker defaults.
type Options struct {
	// Dir is the working directory. Empty means the invoker default.
	Dir string
	// Env entries (KEY=VALUE) are appended to the invoker environment; later entries win.
	Env []string
	// Timeout overrides the invoker default. Zero keeps the default.
	Timeout time.Duration
	// MaxOutputBytes overrides the stdout limit. Zero keeps the default.
	MaxOutputBytes int64
	// FallbackKey names the key used for non-JSON output. Defaults to "output".
	FallbackKey string
}

// Result is the outcome of a successful (exit 0) invocation.
type Result struct {
	ID string
	// Value is the parsed JSON, or {FallbackKey: Raw} when stdout was not JSON.
	Value any
	// Raw is the trimmed stdout when it was not JSON.
	Raw          string
	Parsed       bool
	ExitCode     int
	Stderr       string
	Duration     time.Duration
	ScriptDigest string
}

// Status is the final state of an invocation as recorded in the ledger.
type Status string

const (
	StatusSucceeded      Status = "succeeded"
	StatusFailed         Status = "failed"
	StatusTimedOut       Status = "timed_out"
	StatusCanceled       Status = "canceled"
	StatusLaunchFailed   Status = "launch_failed"
	StatusOutputTooLarge Status = "output_too_large"
)

// Record is a single invocation as seen by a Recorder.
type Record struct {
	ID           string
	Label        string
	Mode         Mode
	ScriptDigest string
	Status       Status
	ExitCode     int
	Error        string
	Stderr       string
	StartedAt    time.Time
	CompletedAt  time.Time
}

// Duration is the wall time between start and completion.
func (r Record) Duration() time.Duration {
	return r.CompletedAt.Sub(r.StartedAt)
}

// Recorder persists invocation records.
type Recorder interface {
	Record(ctx context.Context, rec Record) error
}
