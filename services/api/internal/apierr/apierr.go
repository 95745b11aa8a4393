// Package apierr is the error taxonomy shared by the resolver layer and the
// GraphQL transport.
package apierr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure by who is at fault and how it is surfaced.
type Kind int

const (
	// Infrastructure is a store, blob or token service failure. Its cause is
	// logged and never shown to clients.
	Infrastructure Kind = iota
	Unauthenticated
	Forbidden
	NotFound
	InvalidArgument
	Conflict
	// NoProfile is returned by myProfile when the caller owns no profile.
	NoProfile
	RateLimited
)

// InternalMessage replaces the message of every Infrastructure error.
const InternalMessage = "Internal server error"

var kindNames = map[Kind]string{
	Infrastructure:  "INTERNAL",
	Unauthenticated: "UNAUTHENTICATED",
	Forbidden:       "FORBIDDEN",
	NotFound:        "NOT_FOUND",
	InvalidArgument: "INVALID_ARGUMENT",
	Conflict:        "CONFLICT",
	NoProfile:       "NO_PROFILE",
	RateLimited:     "RATE_LIMITED",
}

// Code returns the value placed in a GraphQL error's extensions.code.
func (k Kind) Code() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return kindNames[Infrastructure]
}

func (k Kind) String() string { return k.Code() }

// Expected reports whether the kind is a caller-facing outcome rather than a
// server fault.
func (k Kind) Expected() bool {
	return k != Infrastructure
}

// Error carries a Kind and a message safe to show to clients.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// New returns an error of kind with a client-visible message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Internal wraps an infrastructure failure. op names the failed step for logs.
func Internal(op string, err error) *Error {
	return &Error{Kind: Infrastructure, Message: op, Err: err}
}

func Unauthorized() *Error { return New(Unauthenticated, MsgUnauthenticated) }

func Invalid(message string) *Error { return New(InvalidArgument, message) }

func Missing(message string) *Error { return New(NotFound, message) }

func Denied(message string) *Error { return New(Forbidden, message) }

// KindOf classifies err. Errors that are not *Error count as Infrastructure.
func KindOf(err error) Kind {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return Infrastructure
}

// PublicMessage returns the message a client may see for err.
func PublicMessage(err error) string {
	var apiErr *Error
	if errors.As(err, &apiErr) && apiErr.Kind.Expected() {
		return apiErr.Message
	}
	return InternalMessage
}
