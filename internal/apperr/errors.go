package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

const (
	CodeValidation    = "ValidationError"
	CodeNotFound      = "NotFoundError"
	CodeStateConflict = "StateConflictError"
	CodeUnconfirmed   = "UnconfirmedSigningStatusError"
	CodeInternal      = "InternalServerError"
)

// InternalMessage is the only text a caller ever sees for an unanticipated fault.
const InternalMessage = "An unexpected service error occurred. Please contact the administrator."

// Detail describes a single invalid input field.
type Detail struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error is a domain-recognized failure that maps 1:1 to an HTTP response.
type Error struct {
	Status  int
	Code    string
	Message string
	Details []Detail
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Wrap attaches an internal cause that is logged but never shown to the caller.
func (e *Error) Wrap(cause error) *Error {
	e.cause = cause
	return e
}

func Validation(message string, details ...Detail) *Error {
	return &Error{Status: http.StatusBadRequest, Code: CodeValidation, Message: message, Details: details}
}

// FieldRequired is a shorthand for a single-field validation failure.
func FieldRequired(field string) *Error {
	return Validation("Request validation failed.", Detail{Field: field, Message: fmt.Sprintf("The %s field is required.", field)})
}

func NotFound(message string) *Error {
	return &Error{Status: http.StatusNotFound, Code: CodeNotFound, Message: message}
}

func StateConflict(message string) *Error {
	return &Error{Status: http.StatusBadRequest, Code: CodeStateConflict, Message: message}
}

// Unconfirmed reports that the end user has not finished the out-of-band action yet.
// The code differs per operation kind so callers can tell signing from issuance.
func Unconfirmed(code, message string) *Error {
	if code == "" {
		code = CodeUnconfirmed
	}
	return &Error{Status: http.StatusBadRequest, Code: code, Message: message}
}

func Internal(cause error) *Error {
	return &Error{Status: http.StatusInternalServerError, Code: CodeInternal, Message: InternalMessage, cause: cause}
}

// From converts any error into an *Error. Unrecognized errors become InternalServerError.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return Internal(err)
}

// Is reports whether err carries the given code.
func Is(err error, code string) bool {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}
