// Package syncerr classifies the error taxonomy from spec §7 so that
// callers (the rate limiter's retry loop, the engine's recoverability
// decision) can branch on error kind instead of string matching, while
// every error still satisfies the normal error/Unwrap contract and wraps
// with fmt.Errorf("...: %w", err) the way the rest of this codebase does.
package syncerr

import (
	"errors"
	"fmt"
)

// Kind is one of the taxonomy members from spec §7.
type Kind string

const (
	KindRateLimited          Kind = "rate_limited"
	KindTransport            Kind = "transport"
	KindHTTP                 Kind = "http"
	KindDecode               Kind = "decode"
	KindMapping              Kind = "mapping"
	KindDatabaseRecoverable  Kind = "database_recoverable"
	KindDatabaseFatal        Kind = "database_fatal"
	KindCancelled            Kind = "cancelled"
)

// Error is a classified error. Status is only meaningful for Kind == KindHTTP.
type Error struct {
	Kind   Kind
	Status int
	err    error
}

func (e *Error) Error() string {
	if e.Kind == KindHTTP {
		return fmt.Sprintf("%s: status %d: %v", e.Kind, e.Status, e.err)
	}
	if e.err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.err)
}

func (e *Error) Unwrap() error { return e.err }

func RateLimited(err error) error {
	return &Error{Kind: KindRateLimited, err: err}
}

func Transport(err error) error {
	return &Error{Kind: KindTransport, err: err}
}

func HTTPStatus(status int, err error) error {
	return &Error{Kind: KindHTTP, Status: status, err: err}
}

func Decode(err error) error {
	return &Error{Kind: KindDecode, err: err}
}

func Mapping(format string, args ...any) error {
	return &Error{Kind: KindMapping, err: fmt.Errorf(format, args...)}
}

func DatabaseRecoverable(err error) error {
	return &Error{Kind: KindDatabaseRecoverable, err: err}
}

func DatabaseFatal(err error) error {
	return &Error{Kind: KindDatabaseFatal, err: err}
}

func Cancelled(err error) error {
	return &Error{Kind: KindCancelled, err: err}
}

// As extracts the classified *Error from err, if any, following the
// wrapping chain.
func As(err error) (*Error, bool) {
	var se *Error
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// KindOf returns the classified Kind of err, or "" if err is unclassified.
func KindOf(err error) Kind {
	if se, ok := As(err); ok {
		return se.Kind
	}
	return ""
}

// IsRateLimited reports whether err is (or wraps) a RateLimited error.
func IsRateLimited(err error) bool {
	return KindOf(err) == KindRateLimited
}

// IsChunkRecoverable reports whether err should mark a sync's progress as
// error_recoverable (resumable by the next incremental run) rather than
// failed outright — spec §7's Transport, DatabaseRecoverable, and
// Cancelled kinds.
func IsChunkRecoverable(err error) bool {
	switch KindOf(err) {
	case KindTransport, KindDatabaseRecoverable, KindCancelled:
		return true
	default:
		return false
	}
}
