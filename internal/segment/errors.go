package segment

import "errors"

var (
	// ErrNeedsRoll is returned in place of a normal put result when
	// the record would exceed max_file_size; the caller (the inker)
	// must seal this segment and open a new one.
	ErrNeedsRoll = errors.New("segment: needs roll")
	// ErrMissing is the strict "missing" outcome of get/key_check.
	ErrMissing = errors.New("segment: key missing")
	// ErrWrongState is returned when an operation is invoked from a
	// state that does not support it (e.g. put while rolling).
	ErrWrongState = errors.New("segment: wrong state for operation")
	// ErrClosed is returned by any operation submitted after the
	// segment actor has stopped.
	ErrClosed = errors.New("segment: closed")
)
