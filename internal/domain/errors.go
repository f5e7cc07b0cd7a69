package domain

import (
	"errors"
	"fmt"
)

// ErrNotAttached is returned by operations that need a live process.
var ErrNotAttached = errors.New("not attached to the target process")

// SetupError aborts a session before any trigger is installed.
type SetupError struct {
	Reason string
	Err    error
}

func (e *SetupError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}
	return e.Reason
}

func (e *SetupError) Unwrap() error { return e.Err }

// AttachMismatchError reports an attach notification from another run.
type AttachMismatchError struct {
	Expected string
	Got      string
}

func (e *AttachMismatchError) Error() string {
	return fmt.Sprintf("attach notification belongs to run %q, expected %q", e.Got, e.Expected)
}

// CaptureError wraps an I/O failure while fetching one artifact.
type CaptureError struct {
	Kind ArtifactKind
	Err  error
}

func (e *CaptureError) Error() string {
	return fmt.Sprintf("capture %s: %v", e.Kind, e.Err)
}

func (e *CaptureError) Unwrap() error { return e.Err }

// ConnectionLostError reports an unexpected detach from the target process.
type ConnectionLostError struct {
	Serial string
	Err    error
}

func (e *ConnectionLostError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("connection to %s lost: %v", e.Serial, e.Err)
	}
	return fmt.Sprintf("connection to %s lost", e.Serial)
}

func (e *ConnectionLostError) Unwrap() error { return e.Err }

// SerializationError reports a manifest or artifact write failure. The
// in-memory log is untouched so the save can be retried.
type SerializationError struct {
	Path string
	Err  error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("write %s: %v", e.Path, e.Err)
}

func (e *SerializationError) Unwrap() error { return e.Err }

// IsSetupError reports whether err is (or wraps) a SetupError.
func IsSetupError(err error) bool {
	var se *SetupError
	return errors.As(err, &se)
}
