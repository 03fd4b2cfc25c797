// Package apperr defines the error kinds surfaced by the reservation, penalty and
// clock operations, and how callers tell them apart.
package apperr

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies an application error.
type Kind string

const (
	InvalidArgument Kind = "invalid_argument"
	Overlap         Kind = "overlap"
	Banned          Kind = "banned"
	NotFound        Kind = "not_found"
	Forbidden       Kind = "forbidden"
	InvalidState    Kind = "invalid_state"
	Internal        Kind = "internal"
)

// Error is an application error with a kind and an optional cause.
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

func (e *Error) Unwrap() error { return e.Err }

// New creates an error of the given kind.
func New(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to an underlying error.
func Wrap(kind Kind, err error, msg string) error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// BannedError is returned when admission is refused because of penalties.
type BannedError struct {
	UserID    string
	Points    int
	Threshold int
	BanUntil  *time.Time
}

func (e *BannedError) Error() string {
	return fmt.Sprintf("user %s is banned (%d/%d points)", e.UserID, e.Points, e.Threshold)
}

// KindOf reports the kind of err. Unclassified errors are Internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var banned *BannedError
	if errors.As(err, &banned) {
		return Banned
	}
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return Internal
}

// Is reports whether err is of the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
