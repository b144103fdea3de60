// Package common defines shared constants and sentinel errors used across
// the gophid server. Callers should use errors.Is to match these values.
package common

import "errors"

var (
	// Store errors.
	ErrNotReady           = errors.New("database not ready")
	ErrPermissionDenied   = errors.New("permission denied")
	ErrNotFound           = errors.New("not found")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrDataInconsistency  = errors.New("data inconsistency")
	ErrBackendUnavailable = errors.New("database unavailable")

	// Lifecycle errors.
	ErrUnauthorized       = errors.New("unauthorized")
	ErrThrottled          = errors.New("too many emails sent to that address, try again later")
	ErrPasswordNotAllowed = errors.New("a password may not be set at this time")
	ErrPasswordRequired   = errors.New("a password is required")
	ErrAccountLocked      = errors.New("too many failed authentication attempts")

	// Session errors.
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
	ErrStaleSession = errors.New("session predates last password reset")
)

// IsRetryable reports whether err is a transient backend condition. Every
// other error is terminal for the request.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrBackendUnavailable)
}
