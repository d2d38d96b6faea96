package domain

import "errors"

var (
	ErrNotFound          = errors.New("request not found")
	ErrForbidden         = errors.New("actor is not allowed to perform this action")
	ErrInvalidTransition = errors.New("request is not in the required state")
	ErrValidation        = errors.New("invalid request submission")
	ErrUnauthenticated   = errors.New("authentication required")
)
