package decoder

import (
	"errors"
	"fmt"
)

var (
	// ErrShortData means the event ran out of words before all fields were parsed.
	ErrShortData = errors.New("data too short")
	// ErrSelectorMismatch means the event's first key is not the schema's selector.
	ErrSelectorMismatch = errors.New("selector mismatch")
	// ErrOutOfRange means a word does not fit the declared integer width.
	ErrOutOfRange = errors.New("value out of range")
)

// DecodeError reports why a raw event could not be decoded. Decode errors are
// never fatal: the event is logged and skipped.
type DecodeError struct {
	Event  string
	Field  string
	Offset int
	Err    error
}

func (e *DecodeError) Error() string {
	switch {
	case e.Field != "":
		return fmt.Sprintf("decode %s: field %s at offset %d: %v", e.Event, e.Field, e.Offset, e.Err)
	case e.Event != "":
		return fmt.Sprintf("decode %s: %v", e.Event, e.Err)
	default:
		return fmt.Sprintf("decode: %v", e.Err)
	}
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

func shortData(offset, need, have int) error {
	return &DecodeError{
		Offset: offset,
		Err:    fmt.Errorf("%w: need %d words at offset %d, have %d", ErrShortData, need, offset, have),
	}
}
