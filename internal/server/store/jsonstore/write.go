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

func (s *Store) StageUser(ctx context.Context, req models.StageRequest) error {
	if req.Kind == "" {
		req.Kind = models.StagedNewAccount
	}
	if req.Kind != models.StagedNewAccount {
		return fmt.Errorf("%w: StageUser only stages new accounts", common.ErrInvalidArgument)
	}
	return s.stage(ctx, req)
}

func (s *Store) StageEmail(ctx context.Context, req models.StageRequest) error {
	if req.Kind == models.StagedNewAccount {
		return fmt.Errorf("%w: StageEmail cannot stage a new account", common.ErrInvalidArgument)
	}
	return s.stage(ctx, req)
}

func (s *Store) stage(ctx context.Context, req models.StageRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}
	return s.write(ctx, func(d *document) error {
		if req.ExistingUser != 0 && d.user(req.ExistingUser) == nil {
			return fmt.Errorf("%w: no such user", common.ErrNotFound)
		}
		if _, taken := d.Staged[req.Secret]; taken {
			return fmt.Errorf("%w: secret already in use", common.ErrInvalidArgument)
		}
		d.stage(req.Secret, jsonStaged{
			Kind:         req.Kind,
			Email:        req.Email,
			ExistingUser: req.ExistingUser,
			Password:     req.PasswordHash,
			EmailType:    req.EmailType,
			When:         s.nowMillis(),
		})
		return nil
	})
}

func stagedRow(d *document, secret string) (jsonStaged, error) {
	row, ok := d.Staged[secret]
	if !ok {
		return jsonStaged{}, fmt.Errorf("%w: no such secret", common.ErrNotFound)
	}
	return row, nil
}

func emailType(row jsonStaged) models.EmailType {
	if row.EmailType == models.EmailTypeNone {
		return models.EmailTypeSecondary
	}
	return row.EmailType
}

func (s *Store) CompleteCreateUser(ctx context.Context, secret string) (*models.Completion, error) {
	var out *models.Completion
	err := s.write(ctx, func(d *document) error {
		row, err := stagedRow(d, secret)
		if err != nil {
			return err
		}
		if row.Kind != models.StagedNewAccount {
			return fmt.Errorf("%w: secret is not for a new account", common.ErrInvalidArgument)
		}
		d.take(secret)
		d.detach(row.Email)
		uid := d.addUser(jsonUser{
			Password:          row.Password,
			LastPasswordReset: s.nowMillis(),
			Emails:            map[string]jsonEmail{row.Email: {Type: emailType(row), Verified: true}},
		})
		out = &models.Completion{Email: row.Email, UID: uid}
		return nil
	})
	return out, err
}

func (s *Store) CompleteConfirmEmail(ctx context.Context, secret string) (*models.Completion, error) {
	var out *models.Completion
	err := s.write(ctx, func(d *document) error {
		row, err := stagedRow(d, secret)
		if err != nil {
			return err
		}
		if row.Kind == models.StagedNewAccount || row.Kind == models.StagedPasswordReset {
			return fmt.Errorf("%w: secret of kind %s cannot confirm an email", common.ErrInvalidArgument, row.Kind)
		}
		u := d.user(row.ExistingUser)
		if u == nil {
			return fmt.Errorf("%w: staged email has no existing user", common.ErrDataInconsistency)
		}
		d.take(secret)
		d.detach(row.Email)
		u.Emails[row.Email] = jsonEmail{Type: emailType(row), Verified: true}
		if row.Password != "" {
			u.Password = row.Password
			u.FailedAuthTries = 0
		}
		out = &models.Completion{Email: row.Email, UID: u.ID}
		return nil
	})
	return out, err
}

func (s *Store) CompletePasswordReset(ctx context.Context, secret, passwordHash string) (*models.Completion, error) {
	var out *models.Completion
	err := s.write(ctx, func(d *document) error {
		row, err := stagedRow(d, secret)
		if err != nil {
			return err
		}
		if row.Kind != models.StagedPasswordReset && row.Kind != models.StagedReverify {
			return fmt.Errorf("%w: secret of kind %s cannot reset a password", common.ErrInvalidArgument, row.Kind)
		}
		if passwordHash == "" {
			passwordHash = row.Password
		}
		if passwordHash == "" || row.ExistingUser == 0 {
			return fmt.Errorf("%w: reset needs a password and an existing user", common.ErrInvalidArgument)
		}
		u := d.owner(row.Email)
		if u == nil || u.ID != row.ExistingUser {
			return fmt.Errorf("%w: cannot update password", common.ErrDataInconsistency)
		}

		d.take(secret)
		for addr, e := range u.Emails {
			switch {
			case addr == row.Email:
				e.Verified = true
			case e.Type == models.EmailTypeSecondary:
				e.Verified = false
			}
			u.Emails[addr] = e
		}
		u.Password = passwordHash
		u.FailedAuthTries = 0
		u.bumpReset(s.nowMillis())
		out = &models.Completion{Email: row.Email, UID: u.ID}
		return nil
	})
	return out, err
}

func (s *Store) AddPrimaryEmailToAccount(ctx context.Context, uid int64, email string) error {
	return s.write(ctx, func(d *document) error {
		u := d.user(uid)
		if u == nil {
			return fmt.Errorf("%w: no such user", common.ErrNotFound)
		}
		d.detach(email)
		u.Emails[email] = jsonEmail{Type: models.EmailTypePrimary, Verified: true}
		return nil
	})
}

func (s *Store) CreateUserWithPrimaryEmail(ctx context.Context, email string) (*models.User, error) {
	var out *models.User
	err := s.write(ctx, func(d *document) error {
		d.detach(email)
		now := s.nowMillis()
		uid := d.addUser(jsonUser{
			LastPasswordReset: now,
			Emails:            map[string]jsonEmail{email: {Type: models.EmailTypePrimary, Verified: true}},
		})
		out = &models.User{ID: uid, LastPasswordReset: timex.FromMillis(now)}
		return nil
	})
	return out, err
}

func (s *Store) CreateUnverifiedUser(ctx context.Context, email, passwordHash, secret string) (int64, error) {
	if email == "" || secret == "" {
		return 0, fmt.Errorf("%w: email and secret are required", common.ErrInvalidArgument)
	}
	var uid int64
	err := s.write(ctx, func(d *document) error {
		if d.owner(email) != nil {
			return fmt.Errorf("%w: email already registered", common.ErrInvalidArgument)
		}
		if _, taken := d.Staged[secret]; taken {
			return fmt.Errorf("%w: secret already in use", common.ErrInvalidArgument)
		}
		now := s.nowMillis()
		uid = d.addUser(jsonUser{
			Password:          passwordHash,
			LastPasswordReset: now,
			Emails:            map[string]jsonEmail{email: {Type: models.EmailTypeSecondary, Verified: false}},
		})
		d.stage(secret, jsonStaged{
			Kind:         models.StagedAddEmail,
			Email:        email,
			ExistingUser: uid,
			Password:     passwordHash,
			EmailType:    models.EmailTypeSecondary,
			When:         now,
		})
		return nil
	})
	return uid, err
}

func (s *Store) UpdateEmailLastUsedAs(ctx context.Context, email string, t models.EmailType) error {
	if _, err := models.ParseEmailType(string(t)); err != nil {
		return err
	}
	return s.write(ctx, func(d *document) error {
		u := d.owner(email)
		if u == nil {
			return fmt.Errorf("%w: no such email", common.ErrNotFound)
		}
		e := u.Emails[email]
		e.Type = t
		u.Emails[email] = e
		return nil
	})
}

func (s *Store) IncAuthFailures(ctx context.Context, uid int64) error {
	return s.updateUser(ctx, uid, func(u *jsonUser) { u.FailedAuthTries++ })
}

func (s *Store) ClearAuthFailures(ctx context.Context, uid int64) error {
	return s.updateUser(ctx, uid, func(u *jsonUser) { u.FailedAuthTries = 0 })
}

func (s *Store) UpdatePassword(ctx context.Context, uid int64, passwordHash string, invalidateSessions bool) error {
	return s.updateUser(ctx, uid, func(u *jsonUser) {
		u.Password = passwordHash
		u.FailedAuthTries = 0
		if invalidateSessions {
			u.bumpReset(s.nowMillis())
		}
	})
}

func (s *Store) updateUser(ctx context.Context, uid int64, fn func(u *jsonUser)) error {
	return s.write(ctx, func(d *document) error {
		u := d.user(uid)
		if u == nil {
			return fmt.Errorf("%w: no such user", common.ErrNotFound)
		}
		fn(u)
		return nil
	})
}

func (s *Store) RemoveEmail(ctx context.Context, uid int64, email string) error {
	return s.write(ctx, func(d *document) error {
		u := d.owner(email)
		if u == nil || u.ID != uid {
			return fmt.Errorf("%w: email not owned by user", common.ErrPermissionDenied)
		}
		delete(u.Emails, email)
		return nil
	})
}

func (s *Store) CancelAccount(ctx context.Context, uid int64) error {
	return s.write(ctx, func(d *document) error {
		if d.user(uid) == nil {
			return fmt.Errorf("%w: no such user", common.ErrNotFound)
		}
		for secret, row := range d.Staged {
			if row.ExistingUser == uid {
				d.take(secret)
			}
		}
		d.removeUser(uid)
		return nil
	})
}

func (s *Store) UpdateIDPLastSeen(ctx context.Context, domain string) error {
	if domain == "" {
		return fmt.Errorf("%w: empty domain", common.ErrInvalidArgument)
	}
	return s.write(ctx, func(d *document) error {
		d.IDP[strings.ToLower(domain)] = s.nowMillis()
		return nil
	})
}

func (s *Store) ForgetIDP(ctx context.Context, domain string) error {
	return s.write(ctx, func(d *document) error {
		delete(d.IDP, strings.ToLower(domain))
		return nil
	})
}

func (s *Store) PurgeStagedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	limit := timex.ToMillis(cutoff)
	var n int
	err := s.write(ctx, func(d *document) error {
		for secret, row := range d.Staged {
			if row.When < limit {
				d.take(secret)
				n++
			}
		}
		return nil
	})
	return n, err
}
