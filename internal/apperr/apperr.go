// Package apperr defines the error-kind taxonomy shared across the
// service, per the propagation policy: input errors are reported in full,
// external-service errors are surfaced as opaque unavailability, and
// internal errors are logged but never leak detail to the caller.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for the purposes of HTTP status mapping and
// logging verbosity. It is never used for control flow inside the core.
type Kind string

const (
	InvalidInput        Kind = "invalid_input"
	AuthRequired         Kind = "auth_required"
	AuthInvalid          Kind = "auth_invalid"
	Forbidden            Kind = "forbidden"
	NotFound             Kind = "not_found"
	Conflict             Kind = "conflict"
	ExternalUnavailable  Kind = "external_unavailable"
	Corrupted            Kind = "corrupted"
	Internal             Kind = "internal"
)

// Error wraps an underlying cause with a Kind and a stable machine-readable
// Code (e.g. "DailyLimitReached", "ChallengeExpired").
type Error struct {
	Kind Kind
	Code string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an Error with no wrapped cause.
func New(kind Kind, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Msg: msg}
}

// Wrap builds an Error around an existing cause.
func Wrap(kind Kind, code, msg string, err error) *Error {
	return &Error{Kind: kind, Code: code, Msg: msg, Err: err}
}

// KindOf extracts the Kind of err, defaulting to Internal when err does not
// carry one: an untyped error is a bug, logged but never detailed to the
// caller.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return Internal
}

// CodeOf extracts the machine-readable Code of err, or "" if untyped.
func CodeOf(err error) string {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code
	}
	return ""
}
