package service

import (
	"errors"
	"fmt"

	"github.com/Davronbekjonbek/planshet-back/internal/store"
)

// ErrorKind classifies failures a caller can act on
type ErrorKind string

const (
	KindNotFound           ErrorKind = "not_found"
	KindConflict           ErrorKind = "conflict"
	KindValidation         ErrorKind = "validation_error"
	KindPreconditionFailed ErrorKind = "precondition_failed"
)

// Error is a domain error. Field names the offending request field for
// validation errors; Key names the reference that failed to resolve.
type Error struct {
	Kind  ErrorKind
	Field string
	Key   string
	Err   error
}

func (e *Error) Error() string {
	switch {
	case e.Field != "":
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Field, e.Err)
	case e.Key != "":
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Key, e.Err)
	default:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NotFound reports that the reference named by key does not exist
func NotFound(key string) *Error {
	return &Error{Kind: KindNotFound, Key: key, Err: store.ErrNotFound}
}

// Conflict reports a uniqueness violation
func Conflict(msg string) *Error {
	return &Error{Kind: KindConflict, Err: errors.New(msg)}
}

// Invalid reports a malformed request field
func Invalid(field, msg string) *Error {
	return &Error{Kind: KindValidation, Field: field, Err: errors.New(msg)}
}

// PreconditionFailed reports a missing prerequisite such as an active period
func PreconditionFailed(msg string) *Error {
	return &Error{Kind: KindPreconditionFailed, Err: errors.New(msg)}
}

// KindOf returns the domain kind of err, or "" for infrastructure errors
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err is a domain error of the given kind
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}

// resolveErr maps a store lookup failure to a NotFound for key, passing other errors through
func resolveErr(err error, key string) error {
	if errors.Is(err, store.ErrNotFound) {
		return &Error{Kind: KindNotFound, Key: key, Err: err}
	}
	return err
}
