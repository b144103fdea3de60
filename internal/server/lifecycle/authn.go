package lifecycle

import (
	"context"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/gophid/internal/common"
	"github.com/dmitrijs2005/gophid/internal/server/auth"
	"github.com/dmitrijs2005/gophid/internal/server/models"
	"github.com/dmitrijs2005/gophid/internal/server/verifier"
)

// AuthenticateUser signs in with an address and password. Unknown addresses
// and wrong passwords are indistinguishable to the caller.
func (s *Service) AuthenticateUser(ctx context.Context, email, password string) (sess *Session, err error) {
	defer func() { s.observe("authenticate_user", err) }()

	uid, err := s.store.EmailToUID(ctx, email)
	if isNotFound(err) {
		return nil, fmt.Errorf("%w: bad email or password", common.ErrUnauthorized)
	}
	if err != nil {
		return nil, err
	}

	a, err := s.store.CheckAuth(ctx, uid)
	if err != nil {
		return nil, err
	}
	if a.PasswordHash == "" {
		return nil, fmt.Errorf("%w: account has no password", common.ErrUnauthorized)
	}
	if a.FailedAuthTries >= s.maxFailedAuthTries {
		s.logger.Warn(ctx, "login attempt on locked account", "uid", uid)
		return nil, common.ErrAccountLocked
	}

	ok, err := s.hasher.Compare(a.PasswordHash, password)
	if err != nil {
		return nil, err
	}
	if !ok {
		if err := s.store.IncAuthFailures(ctx, uid); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: bad email or password", common.ErrUnauthorized)
	}

	if a.FailedAuthTries > 0 {
		if err := s.store.ClearAuthFailures(ctx, uid); err != nil {
			return nil, err
		}
	}
	if s.hasher.NeedsRehash(a.PasswordHash) {
		s.rehash(ctx, uid, password)
	}
	if err := s.store.UpdateEmailLastUsedAs(ctx, email, models.EmailTypeSecondary); err != nil {
		return nil, err
	}
	return s.issueSession(ctx, uid, email, auth.LevelPassword)
}

// rehash upgrades a hash made with an old cost. Failure only costs the
// upgrade.
func (s *Service) rehash(ctx context.Context, uid int64, password string) {
	hash, err := s.hasher.Hash(password)
	if err == nil {
		err = s.store.UpdatePassword(ctx, uid, hash, false)
	}
	if err != nil {
		s.logger.Warn(ctx, "failed to rehash password", "uid", uid, "error", err)
		return
	}
	s.logger.Debug(ctx, "password rehashed", "uid", uid)
}

// verifyPrimary runs an assertion through the verifier and accepts only
// certificates from a primary IdP.
func (s *Service) verifyPrimary(ctx context.Context, assertion, audience string) (*verifier.Result, string, error) {
	res, err := s.verifier.Verify(ctx, verifier.Request{Assertion: assertion, Audience: audience})
	if err != nil {
		return nil, "", err
	}
	if s.authority.IsFallback(res.Issuer) {
		return nil, "", verifier.Failure(verifier.KindIssuerMismatch, "certificate for %s was not issued by a primary", res.Email)
	}
	domain, err := checkEmail(res.Email)
	if err != nil {
		return nil, "", err
	}
	return res, domain, nil
}

// AuthWithAssertion signs in with a primary IdP assertion, creating the
// account on first use.
func (s *Service) AuthWithAssertion(ctx context.Context, assertion, audience string) (sess *Session, err error) {
	defer func() { s.observe("auth_with_assertion", err) }()

	res, domain, err := s.verifyPrimary(ctx, assertion, audience)
	if err != nil {
		return nil, err
	}

	uid, err := s.store.EmailToUID(ctx, res.Email)
	switch {
	case isNotFound(err):
		u, err := s.store.CreateUserWithPrimaryEmail(ctx, res.Email)
		if err != nil {
			return nil, err
		}
		uid = u.ID
		s.logger.Info(ctx, "user created from assertion", "uid", uid, "issuer", res.Issuer)
	case err != nil:
		return nil, err
	default:
		if err := s.store.UpdateEmailLastUsedAs(ctx, res.Email, models.EmailTypePrimary); err != nil {
			return nil, err
		}
	}

	if err := s.store.UpdateIDPLastSeen(ctx, domain); err != nil {
		return nil, err
	}
	return s.issueSession(ctx, uid, res.Email, auth.LevelAssertion)
}

// AddEmailWithAssertion attaches the asserted primary address to uid.
func (s *Service) AddEmailWithAssertion(ctx context.Context, uid int64, assertion, audience string) (email string, err error) {
	defer func() { s.observe("add_email_with_assertion", err) }()

	res, domain, err := s.verifyPrimary(ctx, assertion, audience)
	if err != nil {
		return "", err
	}
	if err := s.store.AddPrimaryEmailToAccount(ctx, uid, res.Email); err != nil {
		return "", err
	}
	if err := s.store.UpdateIDPLastSeen(ctx, domain); err != nil {
		return "", err
	}
	s.logger.Info(ctx, "primary email added", "uid", uid, "email", res.Email)
	return res.Email, nil
}

// SessionValid parses token and checks it was issued after the user's last
// password reset.
func (s *Service) SessionValid(ctx context.Context, token string) (sess *auth.Session, err error) {
	sess, err = auth.ParseToken(strings.TrimSpace(token), s.secretKey, s.now())
	if err != nil {
		return nil, err
	}
	known, _, err := s.store.UserKnown(ctx, sess.UserID)
	if err != nil {
		return nil, err
	}
	if !known {
		return nil, fmt.Errorf("%w: account is gone", common.ErrInvalidToken)
	}
	reset, err := s.store.LastPasswordReset(ctx, sess.UserID)
	if err != nil {
		return nil, err
	}
	if sess.Stale(reset) {
		return nil, common.ErrStaleSession
	}
	return sess, nil
}
