// Package apperr defines the error kinds that cross the HTTP boundary.
package apperr

import (
	"errors"
	"net/http"
	"time"
)

type Kind int

const (
	KindInternal Kind = iota
	KindAuth
	KindValidation
	KindRateLimit
	KindUpstream
	KindStore
)

func (k Kind) String() string {
	switch k {
	case KindAuth:
		return "auth"
	case KindValidation:
		return "validation"
	case KindRateLimit:
		return "rate_limit"
	case KindUpstream:
		return "upstream"
	case KindStore:
		return "store"
	default:
		return "internal"
	}
}

// HTTPStatus maps a kind to the response status used by the API.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindAuth:
		return http.StatusUnauthorized
	case KindValidation:
		return http.StatusBadRequest
	case KindRateLimit:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// Error is a classified failure. Message is safe to show to clients for
// auth, validation and rate-limit kinds; for the others it is replaced by a
// generic message at the boundary.
type Error struct {
	Kind    Kind
	Message string
	Fields  map[string]string
	ResetAt time.Time
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

// Validation builds a validation error carrying per-field messages.
func Validation(msg string, fields map[string]string) *Error {
	return &Error{Kind: KindValidation, Message: msg, Fields: fields}
}

// RateLimited builds a rate-limit denial that resets at resetAt.
func RateLimited(resetAt time.Time) *Error {
	return &Error{Kind: KindRateLimit, Message: "Rate limit exceeded", ResetAt: resetAt}
}

func Upstream(msg string, err error) *Error {
	return Wrap(KindUpstream, msg, err)
}

func Store(msg string, err error) *Error {
	return Wrap(KindStore, msg, err)
}

// KindOf returns the kind of the first *Error in err's chain, or
// KindInternal when there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
