package dispatch

import "errors"

var (
	ErrInvalidInput = errors.New("dispatch: invalid input")
	ErrNotFound     = errors.New("dispatch: not found")
	ErrInvalidState = errors.New("dispatch: invalid state transition")
	ErrForbidden    = errors.New("dispatch: caller does not own this job")
)
