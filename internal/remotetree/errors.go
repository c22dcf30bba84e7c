package remotetree

import (
	"errors"
	"fmt"

	"github.com/openmined/cardsync/internal/ghapi"
)

var (
	// ErrNotFound is an expected outcome: the path or subtree does not exist.
	ErrNotFound = errors.New("remotetree: not found")
	// ErrStaleReference means the remote object changed since it was last read.
	ErrStaleReference = errors.New("remotetree: stale reference")
	// ErrRemoteWriteFailed covers every other failed mutating call.
	ErrRemoteWriteFailed = errors.New("remotetree: remote write failed")
	// ErrPropagationTimeout means a path was still missing after the settle delay.
	ErrPropagationTimeout = errors.New("remotetree: path not visible after settle delay")
)

// RemoteError describes one failed remote operation. errors.Is matches it
// against the sentinel for its kind.
type RemoteError struct {
	Op      string
	Path    string
	Status  int
	Message string
	kind    error
	err     error
}

func (e *RemoteError) Error() string {
	msg := fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.kind)
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status %d)", e.Status)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}

func (e *RemoteError) Is(target error) bool {
	return target == e.kind
}

func (e *RemoteError) Unwrap() error {
	return e.err
}

func newRemoteError(op, path string, kind error, message string) *RemoteError {
	return &RemoteError{Op: op, Path: path, kind: kind, Message: message}
}

// writeError classifies a failed mutating call.
func writeError(op, path string, err error) error {
	re := &RemoteError{Op: op, Path: path, kind: ErrRemoteWriteFailed, err: err}

	var apiErr *ghapi.APIError
	if errors.As(err, &apiErr) {
		re.Status = apiErr.StatusCode
		re.Message = apiErr.Message
	} else {
		re.Message = err.Error()
	}

	switch {
	case errors.Is(err, ghapi.ErrConflict):
		re.kind = ErrStaleReference
	case errors.Is(err, ghapi.ErrNotFound) && op == opDelete:
		re.kind = ErrNotFound
	}
	return re
}
