package models

import (
	"fmt"
	"time"

	"github.com/dmitrijs2005/gophid/internal/common"
)

// EmailType says how an address was last proven: by a primary IdP
// certificate or by a password held by this service.
type EmailType string

const (
	EmailTypeNone      EmailType = ""
	EmailTypePrimary   EmailType = "primary"
	EmailTypeSecondary EmailType = "secondary"
)

// ParseEmailType accepts only "primary" and "secondary".
func ParseEmailType(s string) (EmailType, error) {
	switch t := EmailType(s); t {
	case EmailTypePrimary, EmailTypeSecondary:
		return t, nil
	}
	return EmailTypeNone, fmt.Errorf("%w: invalid email type %q", common.ErrInvalidArgument, s)
}

type Email struct {
	Address  string
	UserID   int64
	Type     EmailType
	Verified bool
}

// EmailInfo is the case-insensitive lookup result. NormalizedEmail carries
// the casing the address was stored with.
type EmailInfo struct {
	NormalizedEmail string
	LastUsedAs      EmailType
	Verified        bool
	HasPassword     bool
}

// IdPRecord is the last sighting of a primary identity provider.
type IdPRecord struct {
	Domain   string
	LastSeen time.Time
}
