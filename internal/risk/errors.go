package risk

import "errors"

var (
	ErrInvalidInput = errors.New("risk: invalid input")
	ErrNotFound     = errors.New("risk: not found")
)
