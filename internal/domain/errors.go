package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies every failure the core surfaces to its callers.
type ErrorKind string

const (
	// KindConnection: channel or trust establishment failed, or the backend is
	// unreachable.
	KindConnection ErrorKind = "connection"
	// KindTimeout: a call or the handshake exceeded its bound.
	KindTimeout ErrorKind = "timeout"
	// KindNotAuthenticated: an operation needing a session ran without one.
	// Always raised locally.
	KindNotAuthenticated ErrorKind = "not_authenticated"
	// KindValidation: caller input failed a local precondition. Always raised
	// before any call is made.
	KindValidation ErrorKind = "validation"
	// KindRemoteRejected: the backend answered with an explicit err result.
	KindRemoteRejected ErrorKind = "remote_rejected"
)

// Error is the typed failure returned by the gateway and services. Message is
// human readable; for KindRemoteRejected it is the backend text verbatim.
// Callers can use errors.As to extract it:
//
//	var chatErr *domain.Error
//	if errors.As(err, &chatErr) && chatErr.Kind == domain.KindTimeout { ... }
type Error struct {
	Kind    ErrorKind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func NewError(kind ErrorKind, op, message string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Message: message, Err: cause}
}

func ValidationError(op, format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Op: op, Message: fmt.Sprintf(format, args...)}
}

func NotAuthenticated(op string) *Error {
	return &Error{Kind: KindNotAuthenticated, Op: op, Message: "no user logged in"}
}

func RemoteRejected(op, message string) *Error {
	return &Error{Kind: KindRemoteRejected, Op: op, Message: message}
}

// KindOf returns the kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) ErrorKind {
	var chatErr *Error
	if errors.As(err, &chatErr) {
		return chatErr.Kind
	}
	return ""
}

// IsKind checks whether err is an *Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}
