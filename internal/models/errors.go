package models

import (
	"errors"
	"fmt"
)

// Kind classifies a rejected command
type Kind string

const (
	KindNotFound        Kind = "not_found"
	KindNotOwner        Kind = "not_owner"
	KindNotApproved     Kind = "not_approved"
	KindOfferInactive   Kind = "offer_inactive"
	KindOfferStale      Kind = "offer_stale"
	KindUserLocked      Kind = "user_locked"
	KindCooldownActive  Kind = "cooldown_active"
	KindMaxOwnedReached Kind = "max_owned_reached"
	KindInvalidArgument Kind = "invalid_argument"
	KindInternal        Kind = "internal"
)

// Error is a typed engine failure
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying cause
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches any *Error of the same kind
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Kind == t.Kind
	}
	return false
}

// Sentinels for errors.Is comparisons
var (
	ErrNotFound        = &Error{Kind: KindNotFound, Message: "not found"}
	ErrNotOwner        = &Error{Kind: KindNotOwner, Message: "not owner"}
	ErrNotApproved     = &Error{Kind: KindNotApproved, Message: "not approved"}
	ErrOfferInactive   = &Error{Kind: KindOfferInactive, Message: "offer inactive"}
	ErrOfferStale      = &Error{Kind: KindOfferStale, Message: "offer stale"}
	ErrUserLocked      = &Error{Kind: KindUserLocked, Message: "user locked"}
	ErrCooldownActive  = &Error{Kind: KindCooldownActive, Message: "cooldown not finished"}
	ErrMaxOwnedReached = &Error{Kind: KindMaxOwnedReached, Message: "max owned reached"}
	ErrInvalidArgument = &Error{Kind: KindInvalidArgument, Message: "invalid argument"}
	ErrInternal        = &Error{Kind: KindInternal, Message: "internal error"}
)

// Fail creates an error of the given kind with a formatted message
func Fail(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an error of the given kind around a cause
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// KindOf returns the kind of err, KindInternal for untyped errors
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Account store errors, returned by every user store implementation
var (
	ErrUserExists   = errors.New("user already exists")
	ErrUserNotFound = errors.New("user not found")
)
