package agentreg

import "errors"

var (
	ErrInvalidInput = errors.New("agentreg: invalid input")
	ErrNotFound     = errors.New("agentreg: not found")
	ErrInvalidToken = errors.New("agentreg: invalid or expired token")
	ErrAccountOwner = errors.New("agentreg: account does not belong to user")
)
