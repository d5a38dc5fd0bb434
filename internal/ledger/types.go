package ledger

import (
	"errors"
	"time"

	"github.com/mattjoyce/aibridge/internal/invoke"
)

// ErrNotFound is returned when no invocation has the requested ID.
var ErrNotFound = errors.New("invocation not found")

// Entry is a stored invocation.
type Entry struct {
	ID           string        `json:"id"`
	Label        string        `json:"label"`
	Mode         invoke.Mode   `json:"mode"`
	ScriptDigest string        `json:"script_digest"`
	Status       invoke.Status `json:"status"`
	ExitCode     int           `json:"exit_code"`
	DurationMS   int64         `json:"duration_ms"`
	Error        string        `json:"error,omitempty"`
	Stderr       string        `json:"stderr,omitempty"`
	StartedAt    time.Time     `json:"started_at"`
	CompletedAt  time.Time     `json:"completed_at"`
}

// Filter narrows List results. Zero values match everything.
type Filter struct {
	Label  string
	Status invoke.Status
	Limit  int
}
