package jsonstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/gophid/internal/common"
	"github.com/dmitrijs2005/gophid/internal/server/models"
	"github.com/dmitrijs2005/gophid/internal/timex"
)

func (s *Store) Ping(ctx context.Context) error {
	return s.read(ctx, func(*document) error { return nil })
}

func (s *Store) EmailKnown(ctx context.Context, email string) (bool, error) {
	var known bool
	err := s.read(ctx, func(d *document) error {
		_, known = d.email(email)
		return nil
	})
	return known, err
}

func (s *Store) EmailType(ctx context.Context, email string) (models.EmailType, error) {
	var t models.EmailType
	err := s.read(ctx, func(d *document) error {
		if e, ok := d.email(email); ok {
			t = e.Type
		}
		return nil
	})
	return t, err
}

func (s *Store) EmailIsVerified(ctx context.Context, email string) (bool, error) {
	var verified bool
	err := s.read(ctx, func(d *document) error {
		e, ok := d.email(email)
		if !ok {
			return fmt.Errorf("%w: no such email", common.ErrNotFound)
		}
		verified = e.Verified
		return nil
	})
	return verified, err
}

func (s *Store) EmailInfo(ctx context.Context, email string) (*models.EmailInfo, error) {
	var info *models.EmailInfo
	err := s.read(ctx, func(d *document) error {
		stored, ok := d.canonical(email)
		if !ok {
			return nil
		}
		u := d.owner(stored)
		e := u.Emails[stored]
		lastUsedAs := e.Type
		if lastUsedAs == models.EmailTypeNone {
			lastUsedAs = models.EmailTypeSecondary
		}
		info = &models.EmailInfo{
			NormalizedEmail: stored,
			LastUsedAs:      lastUsedAs,
			Verified:        e.Verified,
			HasPassword:     u.Password != "",
		}
		return nil
	})
	return info, err
}

func (s *Store) EmailToUID(ctx context.Context, email string) (int64, error) {
	var uid int64
	err := s.read(ctx, func(d *document) error {
		u := d.owner(email)
		if u == nil {
			return fmt.Errorf("%w: no such email", common.ErrNotFound)
		}
		uid = u.ID
		return nil
	})
	return uid, err
}

func (s *Store) EmailLastUsedAs(ctx context.Context, email string) (models.EmailType, error) {
	var t models.EmailType
	err := s.read(ctx, func(d *document) error {
		e, ok := d.email(email)
		if !ok {
			return fmt.Errorf("%w: no such email", common.ErrNotFound)
		}
		t = e.Type
		return nil
	})
	return t, err
}

func (s *Store) UserKnown(ctx context.Context, uid int64) (bool, bool, error) {
	var known, hasPassword bool
	err := s.read(ctx, func(d *document) error {
		if u := d.user(uid); u != nil {
			known = true
			hasPassword = u.Password != ""
		}
		return nil
	})
	return known, hasPassword, err
}

func (s *Store) UserOwnsEmail(ctx context.Context, uid int64, email string) (bool, error) {
	var owns bool
	err := s.read(ctx, func(d *document) error {
		u := d.owner(email)
		owns = u != nil && u.ID == uid
		return nil
	})
	return owns, err
}

func (s *Store) EmailsBelongToSameAccount(ctx context.Context, a, b string) (bool, error) {
	var same bool
	err := s.read(ctx, func(d *document) error {
		ua, ub := d.owner(a), d.owner(b)
		same = ua != nil && ub != nil && ua.ID == ub.ID
		return nil
	})
	return same, err
}

func (s *Store) IsStaged(ctx context.Context, email string) (bool, error) {
	var staged bool
	err := s.read(ctx, func(d *document) error {
		_, staged = d.StagedEmails[email]
		return nil
	})
	return staged, err
}

func (s *Store) LastStaged(ctx context.Context, email string) (time.Time, error) {
	var when time.Time
	err := s.read(ctx, func(d *document) error {
		if secret, ok := d.StagedEmails[email]; ok {
			when = timex.FromMillis(d.Staged[secret].When)
		}
		return nil
	})
	return when, err
}

func (s *Store) VerificationSecretForEmail(ctx context.Context, email string) (string, error) {
	var secret string
	err := s.read(ctx, func(d *document) error {
		secret = d.StagedEmails[email]
		return nil
	})
	return secret, err
}

func (s *Store) HaveVerificationSecret(ctx context.Context, secret string) (bool, error) {
	var have bool
	err := s.read(ctx, func(d *document) error {
		_, have = d.Staged[secret]
		return nil
	})
	return have, err
}

func (s *Store) EmailForVerificationSecret(ctx context.Context, secret string) (*models.StagedInfo, error) {
	var info *models.StagedInfo
	err := s.read(ctx, func(d *document) error {
		row, ok := d.Staged[secret]
		if !ok {
			return fmt.Errorf("%w: no such secret", common.ErrNotFound)
		}
		info = &models.StagedInfo{
			Email:        row.Email,
			Kind:         row.Kind,
			ExistingUser: row.ExistingUser,
			PasswordHash: row.Password,
			CreatedAt:    timex.FromMillis(row.When),
		}
		return nil
	})
	return info, err
}

func (s *Store) AuthForVerificationSecret(ctx context.Context, secret string) (*models.StagedAuth, error) {
	var auth *models.StagedAuth
	err := s.read(ctx, func(d *document) error {
		row, ok := d.Staged[secret]
		if !ok {
			return fmt.Errorf("%w: no such secret", common.ErrNotFound)
		}
		if row.Password != "" {
			auth = &models.StagedAuth{PasswordHash: row.Password, ExistingUser: row.ExistingUser, HadExplicitPassword: true}
			return nil
		}
		if row.ExistingUser == 0 {
			return fmt.Errorf("%w: staged secret carries no password and no user", common.ErrNotFound)
		}
		u := d.user(row.ExistingUser)
		if u == nil {
			return fmt.Errorf("%w: no such user", common.ErrNotFound)
		}
		auth = &models.StagedAuth{PasswordHash: u.Password, ExistingUser: u.ID}
		return nil
	})
	return auth, err
}

func (s *Store) CheckAuth(ctx context.Context, uid int64) (*models.AuthInfo, error) {
	var info *models.AuthInfo
	err := s.read(ctx, func(d *document) error {
		u := d.user(uid)
		if u == nil {
			return fmt.Errorf("%w: no such user", common.ErrNotFound)
		}
		info = &models.AuthInfo{PasswordHash: u.Password, FailedAuthTries: u.FailedAuthTries}
		return nil
	})
	return info, err
}

func (s *Store) LastPasswordReset(ctx context.Context, uid int64) (time.Time, error) {
	var when time.Time
	err := s.read(ctx, func(d *document) error {
		u := d.user(uid)
		if u == nil {
			return fmt.Errorf("%w: no such user", common.ErrNotFound)
		}
		when = timex.FromMillis(u.LastPasswordReset)
		return nil
	})
	return when, err
}

func (s *Store) ListEmails(ctx context.Context, uid int64) ([]string, error) {
	var emails []string
	err := s.read(ctx, func(d *document) error {
		u := d.user(uid)
		if u == nil {
			return fmt.Errorf("%w: no such user", common.ErrNotFound)
		}
		emails = u.addresses()
		return nil
	})
	return emails, err
}

func (s *Store) GetIDPLastSeen(ctx context.Context, domain string) (time.Time, error) {
	var when time.Time
	err := s.read(ctx, func(d *document) error {
		when = timex.FromMillis(d.IDP[strings.ToLower(domain)])
		return nil
	})
	return when, err
}
