package domain

import (
	"errors"
	"fmt"
)

var (
	// Common domain errors
	ErrNotFound           = errors.New("entity not found")
	ErrAlreadyExists      = errors.New("entity already exists")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrInvalidExecContext = errors.New("invalid executor context")
	ErrReadDatabaseRow    = errors.New("failed to read database row")
	ErrWorkerBusy         = errors.New("worker already running")
	ErrCircuitOpen        = errors.New("provider circuit open")
)

// ErrorKind is the closed error taxonomy. Every error that crosses a
// component boundary is classified into exactly one kind; the kind decides
// the HTTP status, the caller-visible message, and retryability.
type ErrorKind string

const (
	KindValidation   ErrorKind = "VALIDATION_ERROR"
	KindNotFound     ErrorKind = "NOT_FOUND"
	KindUnauthorized ErrorKind = "UNAUTHORIZED"
	KindForbidden    ErrorKind = "FORBIDDEN"
	KindRateLimited  ErrorKind = "RATE_LIMITED"
	KindProvider     ErrorKind = "PROVIDER_ERROR"
	KindInternal     ErrorKind = "INTERNAL_ERROR"
)

// StatusCode returns the stable HTTP status for a kind.
func (k ErrorKind) StatusCode() int {
	switch k {
	case KindValidation:
		return 400
	case KindUnauthorized:
		return 401
	case KindForbidden:
		return 403
	case KindNotFound:
		return 404
	case KindRateLimited:
		return 429
	case KindProvider:
		return 502
	default:
		return 500
	}
}

// DefaultMessage is the caller-visible message when no specific one is set.
// Raw storage or provider error text never reaches users.
func (k ErrorKind) DefaultMessage() string {
	switch k {
	case KindValidation:
		return "request validation failed"
	case KindUnauthorized:
		return "authentication required"
	case KindForbidden:
		return "access denied"
	case KindNotFound:
		return "resource not found"
	case KindRateLimited:
		return "rate limit exceeded"
	case KindProvider:
		return "completion provider unavailable"
	default:
		return "internal error"
	}
}

// Retryable reports whether operations failing with this kind may be
// retried by the worker. Validation, not-found and auth failures fail fast.
func (k ErrorKind) Retryable() bool {
	return k == KindProvider || k == KindInternal
}

// AppError carries a kind plus an optional specific message and cause.
type AppError struct {
	Kind    ErrorKind
	Message string
	Details map[string]string
	Err     error
}

func (e *AppError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Kind.DefaultMessage()
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *AppError) Unwrap() error { return e.Err }

// E builds a new taxonomy error.
func E(kind ErrorKind, message string) *AppError {
	return &AppError{Kind: kind, Message: message}
}

// Wrap classifies an underlying error.
func Wrap(kind ErrorKind, message string, err error) *AppError {
	return &AppError{Kind: kind, Message: message, Err: err}
}

// KindOf classifies any error into the taxonomy. Sentinel domain errors map
// onto their kinds; everything unclassified is internal.
func KindOf(err error) ErrorKind {
	var app *AppError
	if errors.As(err, &app) {
		return app.Kind
	}
	switch {
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrInvalidArgument):
		return KindValidation
	case errors.Is(err, ErrCircuitOpen):
		return KindProvider
	default:
		return KindInternal
	}
}

// Retryable reports whether the worker should schedule a retry for err.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	return KindOf(err).Retryable()
}

// UserMessage returns the text safe to surface to callers for err.
func UserMessage(err error) string {
	var app *AppError
	if errors.As(err, &app) {
		k := app.Kind
		if k == KindInternal {
			return k.DefaultMessage()
		}
		if app.Message != "" {
			return app.Message
		}
		return k.DefaultMessage()
	}
	return KindOf(err).DefaultMessage()
}
