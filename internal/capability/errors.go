package capability

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupportedFileType is returned by ExtractTextFromFile before any process is spawned.
	ErrUnsupportedFileType = errors.New("unsupported file type")
	// ErrDisabled is returned when a capability is turned off in config.
	ErrDisabled = errors.New("capability is disabled")
	// ErrInvalidInput is returned by Run when the input document does not match the capability.
	ErrInvalidInput = errors.New("invalid input")
)

// Error is the failure of one capability call. Its message is the capability's
// fixed tag followed by the underlying error; Unwrap exposes that error so
// callers can still match invoke.ErrTimedOut and friends.
type Error struct {
	Capability Name
	Err        error
}

func (e *Error) Error() string {
	return e.Capability.Tag() + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

func wrap(name Name, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Capability: name, Err: err}
}

func unsupportedFileType(fileType string) error {
	return fmt.Errorf("%w: %s", ErrUnsupportedFileType, fileType)
}
