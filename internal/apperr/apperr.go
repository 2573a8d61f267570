// Package apperr defines the error kinds shared by the submission boundary,
// the job runner and the API layer.
package apperr

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies an error for propagation and HTTP mapping.
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindRateLimit
	KindNotFound
	KindConfiguration
	KindUpstream
	KindExpired
	KindPersistence
)

var kindNames = map[Kind]string{
	KindUnknown:       "internal_error",
	KindValidation:    "validation_error",
	KindRateLimit:     "rate_limit_error",
	KindNotFound:      "not_found",
	KindConfiguration: "configuration_error",
	KindUpstream:      "upstream_error",
	KindExpired:       "expired",
	KindPersistence:   "persistence_error",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return kindNames[KindUnknown]
}

// Error is a classified error. RetryAfter is only meaningful for KindRateLimit.
type Error struct {
	Kind       Kind
	Msg        string
	Err        error
	RetryAfter time.Duration
}

func (e *Error) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return e.Msg + ": " + e.Err.Error()
	case e.Msg != "":
		return e.Msg
	case e.Err != nil:
		return e.Err.Error()
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error { return e.Err }

// New returns a classified error with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap classifies err. It returns nil when err is nil.
func Wrap(kind Kind, err error, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: msg, Err: err}
}

func Validation(format string, args ...any) *Error    { return New(KindValidation, format, args...) }
func NotFound(format string, args ...any) *Error      { return New(KindNotFound, format, args...) }
func Configuration(format string, args ...any) *Error { return New(KindConfiguration, format, args...) }
func Expired(format string, args ...any) *Error       { return New(KindExpired, format, args...) }

// RateLimited returns a rate-limit error carrying the retry-after hint.
func RateLimited(retryAfter time.Duration) *Error {
	return &Error{Kind: KindRateLimit, Msg: "too many requests", RetryAfter: retryAfter}
}

// Upstream wraps a failure of the embedding or completion service.
func Upstream(err error, msg string) error { return Wrap(KindUpstream, err, msg) }

// Persistence wraps a store failure.
func Persistence(err error, msg string) error { return Wrap(KindPersistence, err, msg) }

// KindOf returns the kind of the first classified error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Is reports whether err's chain carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// RetryAfter returns the retry-after hint of a rate-limit error, or zero.
func RetryAfter(err error) time.Duration {
	var e *Error
	if errors.As(err, &e) && e.Kind == KindRateLimit {
		return e.RetryAfter
	}
	return 0
}
