package entitlement

import (
	"errors"
	"fmt"
)

// Kind is the machine-readable category of an entitlement failure
type Kind string

const (
	KindUnauthenticated  Kind = "unauthenticated"
	KindUnauthorized     Kind = "unauthorized"
	KindNotFound         Kind = "not_found"
	KindInvalidInput     Kind = "invalid_input"
	KindSeatLimitReached Kind = "seat_limit_reached"
	KindNoAdminAvailable Kind = "no_admin_available"
	KindProviderError    Kind = "provider_error"
	KindInternal         Kind = "internal"
)

// Error is a structured failure returned by every entitlement operation
type Error struct {
	Kind    Kind
	Message string

	// Current and Limit are set for KindSeatLimitReached
	Current int
	Limit   int

	Err error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so errors.Is(err, ErrNotFound) works
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Message == ""
}

// Sentinels for errors.Is comparisons
var (
	ErrUnauthenticated  = &Error{Kind: KindUnauthenticated}
	ErrUnauthorized     = &Error{Kind: KindUnauthorized}
	ErrNotFound         = &Error{Kind: KindNotFound}
	ErrInvalidInput     = &Error{Kind: KindInvalidInput}
	ErrSeatLimitReached = &Error{Kind: KindSeatLimitReached}
	ErrNoAdminAvailable = &Error{Kind: KindNoAdminAvailable}
	ErrProvider         = &Error{Kind: KindProviderError}
)

// Unauthenticated reports a missing or invalid session
func Unauthenticated(message string) *Error {
	return &Error{Kind: KindUnauthenticated, Message: message}
}

// Unauthorized reports an authenticated caller without the required role
func Unauthorized(message string) *Error {
	return &Error{Kind: KindUnauthorized, Message: message}
}

// NotFound reports a missing entity
func NotFound(message string) *Error {
	return &Error{Kind: KindNotFound, Message: message}
}

// InvalidInput reports a malformed argument
func InvalidInput(message string) *Error {
	return &Error{Kind: KindInvalidInput, Message: message}
}

// SeatLimit reports that adding a member would exceed the purchased seats
func SeatLimit(current, limit int) *Error {
	return &Error{
		Kind:    KindSeatLimitReached,
		Message: fmt.Sprintf("Your Team plan supports up to %d members. Upgrade to add more seats.", limit),
		Current: current,
		Limit:   limit,
	}
}

// NoAdminAvailable reports that an owner cannot leave without an admin successor
func NoAdminAvailable() *Error {
	return &Error{
		Kind:    KindNoAdminAvailable,
		Message: "Promote another member to admin before leaving. Billing ownership transfers to the longest-serving admin.",
	}
}

// ProviderError wraps a payment provider failure
func ProviderError(err error) *Error {
	return &Error{
		Kind:    KindProviderError,
		Message: "The payment provider could not complete the request. Please try again.",
		Err:     err,
	}
}

// KindOf returns the kind of err, or KindInternal for errors outside the taxonomy
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// AsError extracts the *Error from err's chain
func AsError(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}
