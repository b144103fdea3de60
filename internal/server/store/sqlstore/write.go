package sqlstore

import (
	"context"
	"errors"
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
	return s.tx(ctx, func(q queries) error {
		if req.ExistingUser != 0 {
			if _, err := q.user(ctx, req.ExistingUser); err != nil {
				return err
			}
		}
		if _, err := q.stagedBySecret(ctx, req.Secret); err == nil {
			return fmt.Errorf("%w: secret already in use", common.ErrInvalidArgument)
		} else if !errors.Is(err, common.ErrNotFound) {
			return err
		}
		if err := q.deleteStagedByEmail(ctx, req.Email); err != nil {
			return err
		}
		return q.insertStaged(ctx, req.Row(timex.FromMillis(s.nowMillis())))
	})
}

func stagedType(row *models.StagedSecret) models.EmailType {
	if row.EmailType == models.EmailTypeNone {
		return models.EmailTypeSecondary
	}
	return row.EmailType
}

func (s *Store) CompleteCreateUser(ctx context.Context, secret string) (*models.Completion, error) {
	var out *models.Completion
	err := s.tx(ctx, func(q queries) error {
		row, err := q.stagedBySecret(ctx, secret)
		if err != nil {
			return err
		}
		if row.Kind != models.StagedNewAccount {
			return fmt.Errorf("%w: secret is not for a new account", common.ErrInvalidArgument)
		}
		if err := q.deleteStagedBySecret(ctx, secret); err != nil {
			return err
		}
		if err := q.deleteEmail(ctx, row.Email); err != nil {
			return err
		}
		uid, err := q.insertUser(ctx, row.PasswordHash, s.nowMillis())
		if err != nil {
			return err
		}
		if err := q.insertEmail(ctx, uid, row.Email, stagedType(row), true); err != nil {
			return err
		}
		out = &models.Completion{Email: row.Email, UID: uid}
		return nil
	})
	return out, err
}

func (s *Store) CompleteConfirmEmail(ctx context.Context, secret string) (*models.Completion, error) {
	var out *models.Completion
	err := s.tx(ctx, func(q queries) error {
		row, err := q.stagedBySecret(ctx, secret)
		if err != nil {
			return err
		}
		if row.Kind == models.StagedNewAccount || row.Kind == models.StagedPasswordReset {
			return fmt.Errorf("%w: secret of kind %s cannot confirm an email", common.ErrInvalidArgument, row.Kind)
		}
		if row.ExistingUser == 0 {
			return fmt.Errorf("%w: staged email has no existing user", common.ErrDataInconsistency)
		}
		if _, err := q.user(ctx, row.ExistingUser); err != nil {
			if errors.Is(err, common.ErrNotFound) {
				return fmt.Errorf("%w: staged email has no existing user", common.ErrDataInconsistency)
			}
			return err
		}
		if err := q.deleteStagedBySecret(ctx, secret); err != nil {
			return err
		}
		if err := q.deleteEmail(ctx, row.Email); err != nil {
			return err
		}
		if err := q.insertEmail(ctx, row.ExistingUser, row.Email, stagedType(row), true); err != nil {
			return err
		}
		if row.PasswordHash != "" {
			if err := q.setPassword(ctx, row.ExistingUser, row.PasswordHash); err != nil {
				return err
			}
		}
		out = &models.Completion{Email: row.Email, UID: row.ExistingUser}
		return nil
	})
	return out, err
}

func (s *Store) CompletePasswordReset(ctx context.Context, secret, passwordHash string) (*models.Completion, error) {
	var out *models.Completion
	err := s.tx(ctx, func(q queries) error {
		row, err := q.stagedBySecret(ctx, secret)
		if err != nil {
			return err
		}
		if row.Kind != models.StagedPasswordReset && row.Kind != models.StagedReverify {
			return fmt.Errorf("%w: secret of kind %s cannot reset a password", common.ErrInvalidArgument, row.Kind)
		}
		if passwordHash == "" {
			passwordHash = row.PasswordHash
		}
		if passwordHash == "" || row.ExistingUser == 0 {
			return fmt.Errorf("%w: reset needs a password and an existing user", common.ErrInvalidArgument)
		}
		e, err := q.emailOrNil(ctx, row.Email)
		if err != nil {
			return err
		}
		if e == nil || e.UserID != row.ExistingUser {
			return fmt.Errorf("%w: cannot update password", common.ErrDataInconsistency)
		}

		if err := q.deleteStagedBySecret(ctx, secret); err != nil {
			return err
		}
		if err := q.revokeTrust(ctx, e.UserID, row.Email); err != nil {
			return err
		}
		if err := s.updatePassword(ctx, q, e.UserID, passwordHash, true); err != nil {
			return err
		}
		out = &models.Completion{Email: row.Email, UID: e.UserID}
		return nil
	})
	return out, err
}

// updatePassword sets the hash, clears failures and, when asked, moves
// lastPasswordReset strictly forward.
func (s *Store) updatePassword(ctx context.Context, q queries, uid int64, hash string, invalidate bool) error {
	u, err := q.user(ctx, uid)
	if err != nil {
		return err
	}
	if err := q.setPassword(ctx, uid, hash); err != nil {
		return err
	}
	if !invalidate {
		return nil
	}
	next := s.nowMillis()
	if prev := timex.ToMillis(u.LastPasswordReset); next <= prev {
		next = prev + 1
	}
	return q.setLastPasswordReset(ctx, uid, next)
}

func (s *Store) AddPrimaryEmailToAccount(ctx context.Context, uid int64, email string) error {
	return s.tx(ctx, func(q queries) error {
		if _, err := q.user(ctx, uid); err != nil {
			return err
		}
		if err := q.deleteEmail(ctx, email); err != nil {
			return err
		}
		return q.insertEmail(ctx, uid, email, models.EmailTypePrimary, true)
	})
}

func (s *Store) CreateUserWithPrimaryEmail(ctx context.Context, email string) (*models.User, error) {
	var out *models.User
	err := s.tx(ctx, func(q queries) error {
		if err := q.deleteEmail(ctx, email); err != nil {
			return err
		}
		now := s.nowMillis()
		uid, err := q.insertUser(ctx, "", now)
		if err != nil {
			return err
		}
		if err := q.insertEmail(ctx, uid, email, models.EmailTypePrimary, true); err != nil {
			return err
		}
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
	err := s.tx(ctx, func(q queries) error {
		existing, err := q.emailOrNil(ctx, email)
		if err != nil {
			return err
		}
		if existing != nil {
			return fmt.Errorf("%w: email already registered", common.ErrInvalidArgument)
		}
		if _, err := q.stagedBySecret(ctx, secret); err == nil {
			return fmt.Errorf("%w: secret already in use", common.ErrInvalidArgument)
		} else if !errors.Is(err, common.ErrNotFound) {
			return err
		}

		now := s.nowMillis()
		uid, err = q.insertUser(ctx, passwordHash, now)
		if err != nil {
			return err
		}
		if err := q.insertEmail(ctx, uid, email, models.EmailTypeSecondary, false); err != nil {
			return err
		}
		if err := q.deleteStagedByEmail(ctx, email); err != nil {
			return err
		}
		return q.insertStaged(ctx, models.StagedSecret{
			Secret:       secret,
			Kind:         models.StagedAddEmail,
			Email:        email,
			ExistingUser: uid,
			PasswordHash: passwordHash,
			EmailType:    models.EmailTypeSecondary,
			CreatedAt:    timex.FromMillis(now),
		})
	})
	return uid, err
}

func (s *Store) UpdateEmailLastUsedAs(ctx context.Context, email string, t models.EmailType) error {
	if _, err := models.ParseEmailType(string(t)); err != nil {
		return err
	}
	if err := s.ready(); err != nil {
		return err
	}
	return s.check(ctx, s.q().setEmailType(ctx, email, t))
}

func (s *Store) IncAuthFailures(ctx context.Context, uid int64) error {
	if err := s.ready(); err != nil {
		return err
	}
	return s.check(ctx, s.q().execOne(ctx, "user",
		`UPDATE users SET failed_auth_tries = failed_auth_tries + 1 WHERE id = ?`, uid))
}

func (s *Store) ClearAuthFailures(ctx context.Context, uid int64) error {
	if err := s.ready(); err != nil {
		return err
	}
	return s.check(ctx, s.q().execOne(ctx, "user",
		`UPDATE users SET failed_auth_tries = 0 WHERE id = ?`, uid))
}

func (s *Store) UpdatePassword(ctx context.Context, uid int64, passwordHash string, invalidateSessions bool) error {
	return s.tx(ctx, func(q queries) error {
		return s.updatePassword(ctx, q, uid, passwordHash, invalidateSessions)
	})
}

func (s *Store) RemoveEmail(ctx context.Context, uid int64, email string) error {
	return s.tx(ctx, func(q queries) error {
		e, err := q.emailOrNil(ctx, email)
		if err != nil {
			return err
		}
		if e == nil || e.UserID != uid {
			return fmt.Errorf("%w: email not owned by user", common.ErrPermissionDenied)
		}
		return q.deleteEmail(ctx, email)
	})
}

func (s *Store) CancelAccount(ctx context.Context, uid int64) error {
	return s.tx(ctx, func(q queries) error {
		if _, err := q.user(ctx, uid); err != nil {
			return err
		}
		if err := q.deleteEmailsOf(ctx, uid); err != nil {
			return err
		}
		if err := q.deleteStagedOf(ctx, uid); err != nil {
			return err
		}
		return q.deleteUser(ctx, uid)
	})
}

func (s *Store) UpdateIDPLastSeen(ctx context.Context, domain string) error {
	if domain == "" {
		return fmt.Errorf("%w: empty domain", common.ErrInvalidArgument)
	}
	if err := s.ready(); err != nil {
		return err
	}
	return s.check(ctx, s.q().upsertIDP(ctx, strings.ToLower(domain), s.nowMillis()))
}

func (s *Store) ForgetIDP(ctx context.Context, domain string) error {
	if err := s.ready(); err != nil {
		return err
	}
	return s.check(ctx, s.q().deleteIDP(ctx, strings.ToLower(domain)))
}

func (s *Store) PurgeStagedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}
	n, err := s.q().purgeStaged(ctx, timex.ToMillis(cutoff))
	return n, s.check(ctx, err)
}
