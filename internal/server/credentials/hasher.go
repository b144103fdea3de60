// Package credentials hashes and checks account passwords with bcrypt.
package credentials

import (
	"errors"
	"fmt"

	"github.com/dmitrijs2005/gophid/internal/common"
	"golang.org/x/crypto/bcrypt"
)

// Password length limits. bcrypt ignores everything past 72 bytes.
const (
	MinPasswordLength = 8
	MaxPasswordLength = 72
)

// Hasher is the password collaborator used by the lifecycle engine.
type Hasher interface {
	Hash(password string) (string, error)
	// Compare reports whether password matches hash. A malformed hash is an
	// error, a mismatch is not.
	Compare(hash, password string) (bool, error)
	// NeedsRehash reports whether hash was made with a different cost.
	NeedsRehash(hash string) bool
}

// Bcrypt implements Hasher.
type Bcrypt struct {
	cost int
}

// NewBcrypt returns a hasher using cost, clamped to bcrypt's range.
func NewBcrypt(cost int) *Bcrypt {
	if cost < bcrypt.MinCost {
		cost = bcrypt.MinCost
	}
	if cost > bcrypt.MaxCost {
		cost = bcrypt.MaxCost
	}
	return &Bcrypt{cost: cost}
}

func (b *Bcrypt) Hash(password string) (string, error) {
	if err := CheckPassword(password); err != nil {
		return "", err
	}
	h, err := bcrypt.GenerateFromPassword([]byte(password), b.cost)
	if err != nil {
		return "", fmt.Errorf("bcrypt: %w", err)
	}
	return string(h), nil
}

func (b *Bcrypt) Compare(hash, password string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	default:
		return false, fmt.Errorf("bcrypt: %w", err)
	}
}

func (b *Bcrypt) NeedsRehash(hash string) bool {
	cost, err := bcrypt.Cost([]byte(hash))
	return err == nil && cost != b.cost
}

// CheckPassword enforces the length limits.
func CheckPassword(password string) error {
	if len(password) < MinPasswordLength || len(password) > MaxPasswordLength {
		return fmt.Errorf("%w: password must be %d to %d characters",
			common.ErrInvalidArgument, MinPasswordLength, MaxPasswordLength)
	}
	return nil
}
