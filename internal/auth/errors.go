package auth

import "errors"

var (
	ErrNotFound      = errors.New("auth: not found")
	ErrAlreadyExists = errors.New("auth: already exists")
	ErrInvalidInput  = errors.New("auth: invalid input")
	ErrUnauthorized  = errors.New("auth: unauthorized")

	// ErrForbidden means the actor lacks the required capability, or the
	// capability holds but the item is outside the actor's scope.
	ErrForbidden = errors.New("auth: forbidden")
)
