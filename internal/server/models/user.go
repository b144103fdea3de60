// Package models defines the identity records shared by the store backends
// and the services built on top of them.
package models

import "time"

// User is an account. PasswordHash is empty for accounts that only ever
// authenticated through a primary IdP.
type User struct {
	ID                int64
	PasswordHash      string
	LastPasswordReset time.Time
	FailedAuthTries   int
}

// HasPassword reports whether the account holds a store-managed password.
func (u User) HasPassword() bool {
	return u.PasswordHash != ""
}

// AuthInfo is what password authentication needs to know about a user.
type AuthInfo struct {
	PasswordHash    string
	FailedAuthTries int
}
