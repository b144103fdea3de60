package models

import (
	"fmt"
	"time"

	"github.com/dmitrijs2005/gophid/internal/common"
)

// StagedKind names the flow a staged secret belongs to.
type StagedKind string

const (
	StagedNewAccount    StagedKind = "new_account"
	StagedAddEmail      StagedKind = "add_email"
	StagedPasswordReset StagedKind = "password_reset"
	StagedReverify      StagedKind = "reverify"
	StagedTransition    StagedKind = "transition"
)

func (k StagedKind) Valid() bool {
	switch k {
	case StagedNewAccount, StagedAddEmail, StagedPasswordReset, StagedReverify, StagedTransition:
		return true
	}
	return false
}

// StagedSecret is an in-flight verification. ExistingUser is zero for
// new_account rows.
type StagedSecret struct {
	Secret       string
	Kind         StagedKind
	Email        string
	ExistingUser int64
	PasswordHash string
	EmailType    EmailType
	CreatedAt    time.Time
}

// StageRequest describes a row to stage. Staging an address that already has
// a secret replaces that secret.
type StageRequest struct {
	Kind         StagedKind
	Email        string
	ExistingUser int64
	PasswordHash string
	EmailType    EmailType
	Secret       string
}

// Validate checks the shape of the request. New accounts carry no existing
// user; every other kind needs one.
func (r StageRequest) Validate() error {
	if !r.Kind.Valid() {
		return fmt.Errorf("%w: unknown staged kind %q", common.ErrInvalidArgument, r.Kind)
	}
	if r.Email == "" || r.Secret == "" {
		return fmt.Errorf("%w: email and secret are required", common.ErrInvalidArgument)
	}
	if r.EmailType != EmailTypePrimary && r.EmailType != EmailTypeSecondary {
		return fmt.Errorf("%w: invalid email type %q", common.ErrInvalidArgument, r.EmailType)
	}
	if r.Kind == StagedNewAccount && r.ExistingUser != 0 {
		return fmt.Errorf("%w: new account staged for existing user", common.ErrInvalidArgument)
	}
	if r.Kind != StagedNewAccount && r.ExistingUser == 0 {
		return fmt.Errorf("%w: %s requires an existing user", common.ErrInvalidArgument, r.Kind)
	}
	return nil
}

// Row builds the stored record for the request.
func (r StageRequest) Row(now time.Time) StagedSecret {
	return StagedSecret{
		Secret:       r.Secret,
		Kind:         r.Kind,
		Email:        r.Email,
		ExistingUser: r.ExistingUser,
		PasswordHash: r.PasswordHash,
		EmailType:    r.EmailType,
		CreatedAt:    now,
	}
}

// StagedInfo is what the redeeming side may learn about a secret.
type StagedInfo struct {
	Email        string
	Kind         StagedKind
	ExistingUser int64
	PasswordHash string
	CreatedAt    time.Time
}

// StagedAuth carries the hash a redemption proof is checked against. When the
// staged row had no password the owner's stored hash is used and
// HadExplicitPassword is false.
type StagedAuth struct {
	PasswordHash        string
	ExistingUser        int64
	HadExplicitPassword bool
}

// Completion is the outcome of redeeming a secret.
type Completion struct {
	Email string
	UID   int64
}
