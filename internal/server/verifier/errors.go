package verifier

import "fmt"

// Kind categorises a verification failure.
type Kind string

const (
	KindBadSignature       Kind = "bad-signature"
	KindExpired            Kind = "expired"
	KindIssuerMismatch     Kind = "issuer-mismatch"
	KindAudienceMismatch   Kind = "audience-mismatch"
	KindChainingNotAllowed Kind = "chaining-not-allowed"
	KindUnverifiedEmail    Kind = "unverified-email"
	KindMalformedInput     Kind = "malformed-input"

	// Produced by the worker pool, never by the engine.
	KindTimeout     Kind = "timeout"
	KindUnavailable Kind = "unavailable"
)

// Error is a typed verification failure. Failures are final: the same input
// fails the same way, so callers must not retry.
type Error struct {
	Kind   Kind   `cbor:"kind" json:"kind"`
	Reason string `cbor:"reason" json:"reason"`
}

func (e *Error) Error() string {
	if e.Reason == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

// Is matches any *Error of the same kind, so the sentinels below work with
// errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

var (
	ErrBadSignature       = &Error{Kind: KindBadSignature}
	ErrExpired            = &Error{Kind: KindExpired}
	ErrIssuerMismatch     = &Error{Kind: KindIssuerMismatch}
	ErrAudienceMismatch   = &Error{Kind: KindAudienceMismatch}
	ErrChainingNotAllowed = &Error{Kind: KindChainingNotAllowed}
	ErrUnverifiedEmail    = &Error{Kind: KindUnverifiedEmail}
	ErrMalformedInput     = &Error{Kind: KindMalformedInput}
	ErrTimeout            = &Error{Kind: KindTimeout}
	ErrUnavailable        = &Error{Kind: KindUnavailable}
)

func fail(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Reason: fmt.Sprintf(format, args...)}
}

// Failure builds an *Error, for collaborators outside this package.
func Failure(kind Kind, format string, args ...any) *Error {
	return fail(kind, format, args...)
}
