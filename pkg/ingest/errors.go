package ingest

import (
	"errors"
	"fmt"
)

var (
	// ErrUnrecognized is returned for values that match no envelope shape:
	// scalars, multi-element arrays, non-transaction HDB_TRANSACTION payloads.
	ErrUnrecognized = errors.New("unrecognized envelope")
	// ErrUnsupportedOperation is returned when an envelope names a verb outside the
	// put/update/delete vocabulary.
	ErrUnsupportedOperation = errors.New("unsupported operation")
	ErrMissingTarget        = errors.New("missing target identifier")
	ErrEmptyPayload         = errors.New("empty payload")
)

// DecodeError reports bytes that could not be turned into a recognized envelope.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode: %v", e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

func decodeErrorf(format string, args ...any) error {
	return &DecodeError{Err: fmt.Errorf(format, args...)}
}
