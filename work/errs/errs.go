package errs

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error into one of the fixed categories the HTTP layer
// knows how to translate. Every error that can reach a response writer before
// the first body byte carries a Kind; anything without one maps to a plain 500.
type Kind int

const (
	Unknown                  Kind = iota
	AccessDenied                  // authorization failure, never retried
	NotSatisfiableRange           // byte range outside the entity, client must correct
	InvalidParameter              // untrusted input rejected before any I/O or subprocess
	SourceUnavailable             // remote fetch or local stat failure
	SubprocessFailure             // transcoder spawn error or abnormal exit
	ConcurrencyLimitExceeded      // transcode ceiling reached, request not queued
)

// Error is a classified error with an optional wrapped cause.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a classified error with no underlying cause.
func New(kind Kind, format string, v ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, v...)}
}

// Wrap attaches a classification and message to an underlying error.
func Wrap(kind Kind, err error, format string, v ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, v...), Err: err}
}

// KindOf extracts the classification from an error chain,
// returning Unknown for unclassified errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unknown
}

// Is reports whether the error chain carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// HTTPStatus maps an error to the status code the public surface advertises
// for its category. Unclassified errors are treated as internal.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case AccessDenied:
		return http.StatusForbidden
	case NotSatisfiableRange:
		return http.StatusRequestedRangeNotSatisfiable
	case InvalidParameter:
		return http.StatusBadRequest
	case ConcurrencyLimitExceeded:
		return http.StatusServiceUnavailable
	case SourceUnavailable, SubprocessFailure:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
