// Package apperr defines the structured error taxonomy shared by the
// lifecycle controller, the token exchange engine and the repository
// layer. Every recoverable failure is reported as a (kind, detail)
// pair so handlers can translate kinds into HTTP responses without
// string matching, the same way the repository sentinel errors work
// elsewhere in this codebase.
package apperr

import "errors"

// Kind identifies a failure class. The string value is stable and is
// returned to API clients verbatim.
type Kind string

const (
	// Actor / environment preconditions.
	KindPermissionDenied  Kind = "permission_denied"
	KindNotLoggedIn       Kind = "not_logged_in"
	KindUserBlocked       Kind = "user_blocked"
	KindReadOnly          Kind = "readonly"
	KindEmailNotConfirmed Kind = "email_not_confirmed"
	KindEmailMismatched   Kind = "email_mismatched"

	// Record resolution.
	KindInvalidConsumerKey Kind = "invalid_consumer_key"
	KindBadConsumer        Kind = "bad_consumer"
	KindConsumerExists     Kind = "consumer_exists"

	// Stage-machine preconditions.
	KindNotProposed Kind = "not_proposed"
	KindNotApproved Kind = "not_approved"
	KindNotDisabled Kind = "not_disabled"

	// Optimistic concurrency.
	KindChangeConflict Kind = "change_conflict"

	// Protocol layer.
	KindIPRestricted          Kind = "ip_restricted"
	KindInvalidSignature      Kind = "invalid_signature"
	KindInvalidRequestToken   Kind = "invalid_request_token"
	KindInvalidVerifier       Kind = "invalid_verifier"
	KindTokenAlreadyExchanged Kind = "token_already_exchanged"
	KindExpiredToken          Kind = "expired_token"
	KindInvalidUser           Kind = "invalid_user"

	// Infrastructure. Retryable at the whole-operation level; the
	// compare-and-swap discipline makes retries safe everywhere except
	// token redemption, where token_already_exchanged must be treated
	// as success by the caller.
	KindStorage Kind = "storage_error"
)

// Error carries a failure kind plus a human-readable detail string.
// An optional cause is kept for logging and errors.Is chains.
type Error struct {
	Kind   Kind
	Detail string
	cause  error
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return string(e.Kind)
	}
	return string(e.Kind) + ": " + e.Detail
}

// Is makes errors.Is(err, apperr.E(kind, "")) match on kind alone.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// Unwrap exposes the wrapped cause, if any.
func (e *Error) Unwrap() error { return e.cause }

// E builds an Error.
func E(kind Kind, detail string) *Error {
	return &Error{Kind: kind, Detail: detail}
}

// Wrap builds an Error that keeps err as its cause.
func Wrap(kind Kind, detail string, err error) *Error {
	return &Error{Kind: kind, Detail: detail, cause: err}
}

// KindOf extracts the kind from err, or "" when err is not an
// apperr.Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Storage wraps a low-level storage failure so callers see a uniform
// retryable kind while the original error stays reachable via Unwrap.
func Storage(err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindStorage, Detail: err.Error(), cause: err}
}
