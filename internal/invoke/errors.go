package invoke

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrLaunch indicates the process could not be started.
	ErrLaunch = errors.New("process launch failed")
	// ErrNonZeroExit indicates the process ran and exited with a non-zero status.
	ErrNonZeroExit = errors.New("process exited with non-zero status")
	// ErrTimedOut indicates the process was terminated after exceeding its timeout.
	ErrTimedOut = errors.New("process timed out")
	// ErrOutputTooLarge indicates stdout exceeded the configured limit.
	ErrOutputTooLarge = errors.New("process output too large")
	// ErrEmptyScript indicates a request without a script.
	ErrEmptyScript = errors.New("script is empty")
)

// LaunchError wraps the error returned by the OS when starting the process.
type LaunchError struct {
	Program string
	Err     error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("failed to start %s: %v", e.Program, e.Err)
}

func (e *LaunchError) Unwrap() error { return e.Err }

func (e *LaunchError) Is(target error) bool { return target == ErrLaunch }

// ExitError is returned when the process exits with a non-zero status.
type ExitError struct {
	Code   int
	Stderr string
	Stdout string
}

// Error embeds the exit code and the best available diagnostic: stderr, or
// stdout when stderr is empty.
func (e *ExitError) Error() string {
	diag := strings.TrimSpace(e.Stderr)
	if diag == "" {
		diag = strings.TrimSpace(e.Stdout)
	}
	return fmt.Sprintf("process exited with code %d: %s", e.Code, diag)
}

func (e *ExitError) Is(target error) bool { return target == ErrNonZeroExit }

// TimeoutError is returned when the process was killed for exceeding its timeout.
type TimeoutError struct {
	After  time.Duration
	Stderr string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("process timed out after %v", e.After)
}

func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimedOut || target == context.DeadlineExceeded
}

// OutputTooLargeError is returned when stdout exceeded the configured limit.
type OutputTooLargeError struct {
	Limit     int64
	Discarded int64
}

func (e *OutputTooLargeError) Error() string {
	return fmt.Sprintf("process output exceeded %d bytes (%d bytes discarded)", e.Limit, e.Discarded)
}

func (e *OutputTooLargeError) Is(target error) bool { return target == ErrOutputTooLarge }
