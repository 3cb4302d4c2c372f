package relwatch

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hazyhaar/relwatch/relwatch/internal/state"
)

// ErrConflict is reported when another run committed first.
var ErrConflict = state.ErrConflict

// ErrArtifactWrite is reported when a raw or cleaned file cannot be written.
var ErrArtifactWrite = errors.New("relwatch: artifact write failed")

// ResolutionError: the publication page was unreachable or malformed.
type ResolutionError struct {
	Source string
	Err    error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("relwatch: resolve %s: %v", e.Source, e.Err)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// NetworkError: the release download exhausted its retries.
type NetworkError struct {
	URL        string
	Attempts   int
	StatusCode int
	Err        error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("relwatch: download %s failed after %d attempt(s): %v", e.URL, e.Attempts, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// FormatError: the downloaded file does not have the expected layout.
type FormatError struct {
	Err error
}

func (e *FormatError) Error() string { return "relwatch: format: " + e.Err.Error() }

func (e *FormatError) Unwrap() error { return e.Err }

// RejectedError: the table failed validation. Not fatal; the release is
// retried on the next run.
type RejectedError struct {
	Reasons []string
}

func (e *RejectedError) Error() string {
	return "relwatch: rejected: " + strings.Join(e.Reasons, "; ")
}

// StateError: the state record could not be read or written.
type StateError struct {
	Op  string // "load" or "commit"
	Err error
}

func (e *StateError) Error() string {
	return fmt.Sprintf("relwatch: state %s: %v", e.Op, e.Err)
}

func (e *StateError) Unwrap() error { return e.Err }

// ErrorKind classifies err for logs, metrics and the run log.
func ErrorKind(err error) string {
	var (
		re *ResolutionError
		ne *NetworkError
		fe *FormatError
		rj *RejectedError
		se *StateError
	)
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	case errors.As(err, &rj):
		return "rejected"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrArtifactWrite):
		return "artifact"
	case errors.As(err, &re):
		return "resolution"
	case errors.As(err, &ne):
		return "network"
	case errors.As(err, &fe):
		return "format"
	case errors.As(err, &se):
		return "state"
	default:
		return "unknown"
	}
}
