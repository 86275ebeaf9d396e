package stream

import (
	"errors"
	"fmt"
)

// StreamError is a transport failure talking to the upstream node. The runner
// treats it as transient and reconnects with backoff.
type StreamError struct {
	Op  string
	Err error
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("stream %s: %v", e.Op, e.Err)
}

func (e *StreamError) Unwrap() error {
	return e.Err
}

// NewStreamError wraps err as a StreamError for operation op.
func NewStreamError(op string, err error) error {
	return &StreamError{Op: op, Err: err}
}

// IsStreamError reports whether err is or wraps a StreamError.
func IsStreamError(err error) bool {
	var se *StreamError
	return errors.As(err, &se)
}
