package services

import (
	"errors"
	"net/http"
)

// Error is an expected failure carrying a client-facing message.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// NewError constructs an operational error.
func NewError(status int, message string) *Error {
	return &Error{Status: status, Message: message}
}

var (
	ErrUnauthenticated = NewError(http.StatusUnauthorized, "You are not logged in, do so to get access")
	ErrForbidden       = NewError(http.StatusForbidden, "You do not have permission to do that")
)

// IsStatus reports whether err is an operational error with the given status.
func IsStatus(err error, status int) bool {
	var opErr *Error
	return errors.As(err, &opErr) && opErr.Status == status
}
