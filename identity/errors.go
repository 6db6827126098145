package identity

import (
	"errors"
	"net/http"
)

// Kind classifies identity failures.
type Kind string

const (
	KindValidation         Kind = "validation"
	KindInvalidCredentials Kind = "invalid_credentials"
	KindUnauthorized       Kind = "unauthorized"
	KindConflict           Kind = "conflict"
	KindRateLimited        Kind = "rate_limited"
	KindUnknown            Kind = "unknown"
)

const (
	msgInvalidEmail    = "Please enter a valid email address"
	msgShortPassword   = "Password must be at least 8 characters long"
	msgInvalidInput    = "Invalid input. Please check your information."
	msgBadCredentials  = "Invalid email or password"
	msgNoSession       = "Your session has expired. Please sign in again."
	msgAccountExists   = "An account with this email already exists"
	msgTooManyRequests = "Too many requests. Please try again later."
	msgUnexpected      = "An unexpected error occurred. Please try again."
)

// Error is a user-facing identity failure. Message is safe to show; Err
// keeps the underlying cause for logs.
type Error struct {
	Kind    Kind
	Message string
	Code    int
	Err     error
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, err error) *Error {
	switch kind {
	case KindInvalidCredentials:
		return &Error{Kind: kind, Message: msgBadCredentials, Code: http.StatusUnauthorized, Err: err}
	case KindUnauthorized:
		return &Error{Kind: kind, Message: msgNoSession, Code: http.StatusUnauthorized, Err: err}
	case KindConflict:
		return &Error{Kind: kind, Message: msgAccountExists, Code: http.StatusConflict, Err: err}
	case KindRateLimited:
		return &Error{Kind: kind, Message: msgTooManyRequests, Code: http.StatusTooManyRequests, Err: err}
	case KindValidation:
		return &Error{Kind: kind, Message: msgInvalidInput, Code: http.StatusBadRequest, Err: err}
	}
	return &Error{Kind: KindUnknown, Message: msgUnexpected, Code: http.StatusInternalServerError, Err: err}
}

func validationError(message string) *Error {
	return &Error{Kind: KindValidation, Message: message, Code: http.StatusBadRequest}
}

// KindOf returns the kind of an identity error, or KindUnknown.
func KindOf(err error) Kind {
	var ie *Error
	if errors.As(err, &ie) {
		return ie.Kind
	}
	return KindUnknown
}

// AsError converts any error into a user-facing identity error.
func AsError(err error) *Error {
	var ie *Error
	if errors.As(err, &ie) {
		return ie
	}
	return newError(KindUnknown, err)
}
