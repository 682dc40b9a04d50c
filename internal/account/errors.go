package account

import "errors"

var (
	ErrInvalidInput = errors.New("account: invalid input")
	ErrNotFound     = errors.New("account: not found")
	ErrConflict     = errors.New("account: user already has an account")
)
