package service

import (
	"errors"
	"fmt"
)

// ErrNotFound signals a missing record the caller referenced by id or
// code. Handlers map it to 404.
var ErrNotFound = errors.New("not found")

// ValidationError is a business-rule rejection carrying a message safe
// to show the customer. Handlers map it to 422; it is never logged as
// an error.
type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string {
	return e.msg
}

// Invalidf builds a ValidationError
func Invalidf(format string, args ...interface{}) error {
	return &ValidationError{msg: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is a business-rule rejection
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
