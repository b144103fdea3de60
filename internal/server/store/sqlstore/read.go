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

func (s *Store) Ping(ctx context.Context) error {
	if err := s.ready(); err != nil {
		return err
	}
	if err := s.db.PingContext(ctx); err != nil {
		return s.check(ctx, err)
	}
	return nil
}

func (s *Store) EmailKnown(ctx context.Context, email string) (bool, error) {
	if err := s.ready(); err != nil {
		return false, err
	}
	e, err := s.q().emailOrNil(ctx, email)
	return e != nil, s.check(ctx, err)
}

func (s *Store) EmailType(ctx context.Context, email string) (models.EmailType, error) {
	if err := s.ready(); err != nil {
		return models.EmailTypeNone, err
	}
	e, err := s.q().emailOrNil(ctx, email)
	if err != nil || e == nil {
		return models.EmailTypeNone, s.check(ctx, err)
	}
	return e.Type, nil
}

func (s *Store) EmailIsVerified(ctx context.Context, email string) (bool, error) {
	if err := s.ready(); err != nil {
		return false, err
	}
	e, err := s.q().email(ctx, email)
	if err != nil {
		return false, s.check(ctx, err)
	}
	return e.Verified, nil
}

func (s *Store) EmailInfo(ctx context.Context, email string) (*models.EmailInfo, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	info, err := s.q().emailInfo(ctx, email)
	return info, s.check(ctx, err)
}

func (s *Store) EmailToUID(ctx context.Context, email string) (int64, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}
	e, err := s.q().email(ctx, email)
	if err != nil {
		return 0, s.check(ctx, err)
	}
	return e.UserID, nil
}

func (s *Store) EmailLastUsedAs(ctx context.Context, email string) (models.EmailType, error) {
	if err := s.ready(); err != nil {
		return models.EmailTypeNone, err
	}
	e, err := s.q().email(ctx, email)
	if err != nil {
		return models.EmailTypeNone, s.check(ctx, err)
	}
	return e.Type, nil
}

func (s *Store) UserKnown(ctx context.Context, uid int64) (bool, bool, error) {
	if err := s.ready(); err != nil {
		return false, false, err
	}
	u, err := s.q().user(ctx, uid)
	if errors.Is(err, common.ErrNotFound) {
		return false, false, nil
	}
	if err != nil {
		return false, false, s.check(ctx, err)
	}
	return true, u.HasPassword(), nil
}

func (s *Store) UserOwnsEmail(ctx context.Context, uid int64, email string) (bool, error) {
	if err := s.ready(); err != nil {
		return false, err
	}
	e, err := s.q().emailOrNil(ctx, email)
	if err != nil {
		return false, s.check(ctx, err)
	}
	return e != nil && e.UserID == uid, nil
}

func (s *Store) EmailsBelongToSameAccount(ctx context.Context, a, b string) (bool, error) {
	if err := s.ready(); err != nil {
		return false, err
	}
	q := s.q()
	ea, err := q.emailOrNil(ctx, a)
	if err != nil {
		return false, s.check(ctx, err)
	}
	eb, err := q.emailOrNil(ctx, b)
	if err != nil {
		return false, s.check(ctx, err)
	}
	return ea != nil && eb != nil && ea.UserID == eb.UserID, nil
}

func (s *Store) stagedByEmail(ctx context.Context, email string) (*models.StagedSecret, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	row, err := s.q().stagedByEmail(ctx, email)
	if errors.Is(err, common.ErrNotFound) {
		return nil, nil
	}
	return row, s.check(ctx, err)
}

func (s *Store) IsStaged(ctx context.Context, email string) (bool, error) {
	row, err := s.stagedByEmail(ctx, email)
	return row != nil, err
}

func (s *Store) LastStaged(ctx context.Context, email string) (time.Time, error) {
	row, err := s.stagedByEmail(ctx, email)
	if err != nil || row == nil {
		return time.Time{}, err
	}
	return row.CreatedAt, nil
}

func (s *Store) VerificationSecretForEmail(ctx context.Context, email string) (string, error) {
	row, err := s.stagedByEmail(ctx, email)
	if err != nil || row == nil {
		return "", err
	}
	return row.Secret, nil
}

func (s *Store) HaveVerificationSecret(ctx context.Context, secret string) (bool, error) {
	if err := s.ready(); err != nil {
		return false, err
	}
	_, err := s.q().stagedBySecret(ctx, secret)
	if errors.Is(err, common.ErrNotFound) {
		return false, nil
	}
	return err == nil, s.check(ctx, err)
}

func (s *Store) EmailForVerificationSecret(ctx context.Context, secret string) (*models.StagedInfo, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	row, err := s.q().stagedBySecret(ctx, secret)
	if err != nil {
		return nil, s.check(ctx, err)
	}
	return &models.StagedInfo{
		Email:        row.Email,
		Kind:         row.Kind,
		ExistingUser: row.ExistingUser,
		PasswordHash: row.PasswordHash,
		CreatedAt:    row.CreatedAt,
	}, nil
}

func (s *Store) AuthForVerificationSecret(ctx context.Context, secret string) (*models.StagedAuth, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	q := s.q()
	row, err := q.stagedBySecret(ctx, secret)
	if err != nil {
		return nil, s.check(ctx, err)
	}
	if row.PasswordHash != "" {
		return &models.StagedAuth{PasswordHash: row.PasswordHash, ExistingUser: row.ExistingUser, HadExplicitPassword: true}, nil
	}
	if row.ExistingUser == 0 {
		return nil, fmt.Errorf("%w: staged secret carries no password and no user", common.ErrNotFound)
	}
	u, err := q.user(ctx, row.ExistingUser)
	if err != nil {
		return nil, s.check(ctx, err)
	}
	return &models.StagedAuth{PasswordHash: u.PasswordHash, ExistingUser: u.ID}, nil
}

func (s *Store) CheckAuth(ctx context.Context, uid int64) (*models.AuthInfo, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	u, err := s.q().user(ctx, uid)
	if err != nil {
		return nil, s.check(ctx, err)
	}
	return &models.AuthInfo{PasswordHash: u.PasswordHash, FailedAuthTries: u.FailedAuthTries}, nil
}

func (s *Store) LastPasswordReset(ctx context.Context, uid int64) (time.Time, error) {
	if err := s.ready(); err != nil {
		return time.Time{}, err
	}
	u, err := s.q().user(ctx, uid)
	if err != nil {
		return time.Time{}, s.check(ctx, err)
	}
	return u.LastPasswordReset, nil
}

func (s *Store) ListEmails(ctx context.Context, uid int64) ([]string, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	q := s.q()
	if _, err := q.user(ctx, uid); err != nil {
		return nil, s.check(ctx, err)
	}
	emails, err := q.listEmails(ctx, uid)
	return emails, s.check(ctx, err)
}

func (s *Store) GetIDPLastSeen(ctx context.Context, domain string) (time.Time, error) {
	if err := s.ready(); err != nil {
		return time.Time{}, err
	}
	ms, err := s.q().idpLastSeen(ctx, strings.ToLower(domain))
	if err != nil {
		return time.Time{}, s.check(ctx, err)
	}
	return timex.FromMillis(ms), nil
}
