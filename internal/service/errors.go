package service

import (
	"errors"
	"fmt"
)

// Code classifies an operation failure for the caller. The dashboard decides
// recovery from the code alone: VALIDATION_ERROR means fix the input,
// CONFLICT means refresh and retry, BOOKING_OVERLAP means pick another
// interval, NOT_FOUND is terminal for the request, INTERNAL_ERROR is logged
// and shown generically.
type Code string

const (
	CodeValidation Code = "VALIDATION_ERROR"
	CodeConflict   Code = "CONFLICT"
	CodeOverlap    Code = "BOOKING_OVERLAP"
	CodeNotFound   Code = "NOT_FOUND"
	CodeInternal   Code = "INTERNAL_ERROR"
)

// Error is the structured failure every operation returns. Message is safe
// to show; raw internal errors never ride in it.
type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func validationErr(format string, args ...any) *Error {
	return &Error{Code: CodeValidation, Message: fmt.Sprintf(format, args...)}
}

func conflictErr(format string, args ...any) *Error {
	return &Error{Code: CodeConflict, Message: fmt.Sprintf(format, args...)}
}

func overlapErr(message string, conflicts any) *Error {
	return &Error{Code: CodeOverlap, Message: message, Data: conflicts}
}

func notFoundErr(id string) *Error {
	return &Error{Code: CodeNotFound, Message: fmt.Sprintf("booking %s not found", id)}
}

func internalErr(err error) *Error {
	// The underlying error goes to the log at the call site, not to the user.
	return &Error{Code: CodeInternal, Message: "internal error, please try again later"}
}

// AsError extracts a structured *Error, or wraps err as internal.
func AsError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return internalErr(err)
}
