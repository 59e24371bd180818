// Package status defines the domain error taxonomy. Every failure crossing a
// subsystem boundary is a *status.Error; raw transport errors never reach
// callers.
package status

import (
	"errors"
	"fmt"
)

// Code is a canonical status code. The numbering mirrors the transport's RPC
// code space so wire errors map one to one.
type Code int

const (
	OK                 Code = 0
	Cancelled          Code = 1
	Unknown            Code = 2
	InvalidArgument    Code = 3
	DeadlineExceeded   Code = 4
	NotFound           Code = 5
	AlreadyExists      Code = 6
	PermissionDenied   Code = 7
	ResourceExhausted  Code = 8
	FailedPrecondition Code = 9
	Aborted            Code = 10
	OutOfRange         Code = 11
	Unimplemented      Code = 12
	Internal           Code = 13
	Unavailable        Code = 14
	DataLoss           Code = 15
	Unauthenticated    Code = 16
)

var codeNames = map[Code]string{
	OK:                 "ok",
	Cancelled:          "cancelled",
	Unknown:            "unknown",
	InvalidArgument:    "invalid-argument",
	DeadlineExceeded:   "deadline-exceeded",
	NotFound:           "not-found",
	AlreadyExists:      "already-exists",
	PermissionDenied:   "permission-denied",
	ResourceExhausted:  "resource-exhausted",
	FailedPrecondition: "failed-precondition",
	Aborted:            "aborted",
	OutOfRange:         "out-of-range",
	Unimplemented:      "unimplemented",
	Internal:           "internal",
	Unavailable:        "unavailable",
	DataLoss:           "data-loss",
	Unauthenticated:    "unauthenticated",
}

func (c Code) String() string {
	if n, ok := codeNames[c]; ok {
		return n
	}
	return fmt.Sprintf("code(%d)", int(c))
}

// Error is a domain error carrying a canonical code.
type Error struct {
	Code    Code
	Message string
	cause   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// Is matches any *Error with the same code.
func (e *Error) Is(target error) bool {
	var se *Error
	if errors.As(target, &se) {
		return se.Code == e.Code
	}
	return false
}

// Errorf builds a domain error.
func Errorf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds a domain error preserving the underlying cause for
// errors.Is/As chains.
func Wrap(code Code, cause error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), cause: cause}
}

// FromRPC maps a transport-level RPC status to a domain error. Codes outside
// the canonical space map to Unknown so no raw transport detail leaks.
func FromRPC(code int, message string) *Error {
	c := Code(code)
	if _, ok := codeNames[c]; !ok {
		c = Unknown
	}
	if c == OK {
		return nil
	}
	return &Error{Code: c, Message: message}
}

// CodeOf extracts the code of a domain error, or Unknown for anything else.
// A nil error is OK.
func CodeOf(err error) Code {
	if err == nil {
		return OK
	}
	var se *Error
	if errors.As(err, &se) {
		return se.Code
	}
	return Unknown
}

// IsRetryableTxn reports whether a transaction commit failure may be retried
// by the transaction runner. Only commit-time precondition conflicts qualify;
// transport failures and programming errors propagate to the caller.
func IsRetryableTxn(err error) bool {
	switch CodeOf(err) {
	case Aborted, FailedPrecondition:
		return true
	default:
		return false
	}
}

// Fatalf raises a programming error. Misuse of the core (reading outside a
// transaction, writing before reading) is not a recoverable condition and is
// never caught internally.
func Fatalf(format string, args ...any) {
	panic(Errorf(Internal, "assertion failed: "+format, args...))
}

// Assert raises a programming error unless cond holds.
func Assert(cond bool, format string, args ...any) {
	if !cond {
		Fatalf(format, args...)
	}
}
