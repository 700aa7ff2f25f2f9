package authn

import (
	dErrors "portal/pkg/domain-errors"
)

// Kind classifies an authentication failure.
type Kind string

const (
	KindNoToken            Kind = "no_token"
	KindInvalidFormat      Kind = "invalid_format"
	KindExpired            Kind = "expired"
	KindInvalidSignature   Kind = "invalid_signature"
	KindUserNotFound       Kind = "user_not_found"
	KindSessionInvalidated Kind = "session_invalidated"
	KindAccountSuspended   Kind = "account_suspended"
	KindAccountRejected    Kind = "account_rejected"
	KindUnavailable        Kind = "unavailable"
)

var messages = map[Kind]string{
	KindNoToken:            "No token provided",
	KindInvalidFormat:      "Invalid token format",
	KindExpired:            "Token expired",
	KindInvalidSignature:   "Invalid token",
	KindUserNotFound:       "User not found",
	KindSessionInvalidated: "Session invalidated",
	KindAccountSuspended:   "Account suspended",
	KindAccountRejected:    "Account rejected",
	KindUnavailable:        "Authentication temporarily unavailable",
}

// Error is an authentication failure. Err carries the underlying cause when
// there is one and is never shown to clients.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return string(e.Kind) + ": " + e.Err.Error()
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Message is the client-facing description.
func (e *Error) Message() string { return messages[e.Kind] }

// DomainError maps the failure onto the shared error codes: unavailable is an
// internal error, everything else is unauthorized.
func (e *Error) DomainError() error {
	if e.Kind == KindUnavailable {
		return dErrors.Wrap(e, dErrors.CodeInternal, e.Message())
	}
	return dErrors.Wrap(e, dErrors.CodeUnauthorized, e.Message())
}

func fail(kind Kind, cause error) Result {
	return Result{Err: &Error{Kind: kind, Err: cause}}
}
