// Package apperr classifies failures from the REST and stream collaborators
// into the kinds the session, directory and reconciler react to.
package apperr

import (
	"context"
	"errors"
	"fmt"
	"net"
)

type Kind int

const (
	Unknown Kind = iota
	AuthExpired
	AuthInvalid
	Transient
	Validation
	NotFound
	Forbidden
)

func (k Kind) String() string {
	switch k {
	case AuthExpired:
		return "auth_expired"
	case AuthInvalid:
		return "auth_invalid"
	case Transient:
		return "transient"
	case Validation:
		return "validation"
	case NotFound:
		return "not_found"
	case Forbidden:
		return "forbidden"
	default:
		return "unknown"
	}
}

// IsAuth reports whether the kind is terminal for the session.
func (k Kind) IsAuth() bool {
	return k == AuthExpired || k == AuthInvalid
}

type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	case e.Message != "":
		return e.Message
	case e.Err != nil:
		return e.Err.Error()
	default:
		return e.Kind.String()
	}
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf classifies err. Network and timeout errors that were never wrapped
// are treated as transient.
func KindOf(err error) Kind {
	if err == nil {
		return Unknown
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Transient
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return Transient
	}
	return Unknown
}

// UserMessage derives the text shown to a user for err.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	switch KindOf(err) {
	case AuthExpired:
		return "Your session has expired. Please sign in again."
	case AuthInvalid:
		return "Authentication failed."
	case Transient:
		return "Unable to connect to the server. Please try again."
	case NotFound:
		return "Not found."
	case Forbidden:
		return "You are not allowed to do that."
	case Validation:
		return "Invalid input."
	default:
		return "Something went wrong. Please try again."
	}
}
