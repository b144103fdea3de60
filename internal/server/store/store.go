// Package store defines the account and credential store contract shared by
// every backend, plus the write guard and driver selection used at startup.
//
// All lookups by address are exact except EmailInfo, which matches
// case-insensitively and reports the stored casing. Errors are the sentinels
// from internal/common, wrapped with context.
package store

import (
	"context"
	"time"

	"github.com/dmitrijs2005/gophid/internal/server/models"
)

// Reader is the read half of the contract.
type Reader interface {
	Ping(ctx context.Context) error

	EmailKnown(ctx context.Context, email string) (bool, error)
	// EmailType returns EmailTypeNone for unknown addresses.
	EmailType(ctx context.Context, email string) (models.EmailType, error)
	EmailIsVerified(ctx context.Context, email string) (bool, error)
	// EmailInfo returns nil, nil for unknown addresses.
	EmailInfo(ctx context.Context, email string) (*models.EmailInfo, error)
	EmailToUID(ctx context.Context, email string) (int64, error)
	EmailLastUsedAs(ctx context.Context, email string) (models.EmailType, error)
	UserKnown(ctx context.Context, uid int64) (known bool, hasPassword bool, err error)
	UserOwnsEmail(ctx context.Context, uid int64, email string) (bool, error)
	EmailsBelongToSameAccount(ctx context.Context, a, b string) (bool, error)

	IsStaged(ctx context.Context, email string) (bool, error)
	// LastStaged returns the zero time when nothing is staged for email.
	LastStaged(ctx context.Context, email string) (time.Time, error)
	// VerificationSecretForEmail returns "" when nothing is staged for email.
	VerificationSecretForEmail(ctx context.Context, email string) (string, error)
	HaveVerificationSecret(ctx context.Context, secret string) (bool, error)
	EmailForVerificationSecret(ctx context.Context, secret string) (*models.StagedInfo, error)
	AuthForVerificationSecret(ctx context.Context, secret string) (*models.StagedAuth, error)

	CheckAuth(ctx context.Context, uid int64) (*models.AuthInfo, error)
	LastPasswordReset(ctx context.Context, uid int64) (time.Time, error)
	ListEmails(ctx context.Context, uid int64) ([]string, error)
	// GetIDPLastSeen returns the zero time for domains never seen.
	GetIDPLastSeen(ctx context.Context, domain string) (time.Time, error)
}

// Writer is the mutating half of the contract. Every operation is applied
// atomically: a failure leaves no partial change behind.
type Writer interface {
	// StageUser stages a new_account secret, replacing any secret already
	// staged for the address.
	StageUser(ctx context.Context, req models.StageRequest) error
	// StageEmail stages any other kind for an existing user, replacing any
	// secret already staged for the address.
	StageEmail(ctx context.Context, req models.StageRequest) error

	CompleteCreateUser(ctx context.Context, secret string) (*models.Completion, error)
	CompleteConfirmEmail(ctx context.Context, secret string) (*models.Completion, error)
	CompletePasswordReset(ctx context.Context, secret, passwordHash string) (*models.Completion, error)

	AddPrimaryEmailToAccount(ctx context.Context, uid int64, email string) error
	CreateUserWithPrimaryEmail(ctx context.Context, email string) (*models.User, error)
	CreateUnverifiedUser(ctx context.Context, email, passwordHash, secret string) (int64, error)
	UpdateEmailLastUsedAs(ctx context.Context, email string, t models.EmailType) error

	IncAuthFailures(ctx context.Context, uid int64) error
	ClearAuthFailures(ctx context.Context, uid int64) error
	UpdatePassword(ctx context.Context, uid int64, passwordHash string, invalidateSessions bool) error

	RemoveEmail(ctx context.Context, uid int64, email string) error
	CancelAccount(ctx context.Context, uid int64) error

	UpdateIDPLastSeen(ctx context.Context, domain string) error
	ForgetIDP(ctx context.Context, domain string) error

	// PurgeStagedBefore deletes staged secrets created before cutoff.
	PurgeStagedBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// Store is a full backend. After Close every operation returns ErrNotReady.
type Store interface {
	Reader
	Writer
	Close() error
	// CloseAndRemove closes the store and destroys its data.
	CloseAndRemove(ctx context.Context) error
}
