package lifecycle

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/gophid/internal/common"
	"github.com/dmitrijs2005/gophid/internal/server/auth"
	"github.com/dmitrijs2005/gophid/internal/server/mailer"
	"github.com/dmitrijs2005/gophid/internal/server/models"
)

// Staged is the outcome of a stage operation. Secret travels only by mail;
// PendingToken goes back to the client that asked, and later proves the
// redemption happens in the same session.
type Staged struct {
	Secret       string
	PendingToken string
}

// Proof accompanies a redemption. Either field suffices.
type Proof struct {
	PendingToken string
	Password     string
}

// throttle refuses to mail the same address twice within
// MinTimeBetweenEmails.
func (s *Service) throttle(ctx context.Context, email string) error {
	if s.minTimeBetweenEmails <= 0 {
		return nil
	}
	last, err := s.store.LastStaged(ctx, email)
	if err != nil {
		return err
	}
	if !last.IsZero() && s.now().Sub(last) < s.minTimeBetweenEmails {
		return fmt.Errorf("%w: an email was sent to %s recently", common.ErrThrottled, email)
	}
	return nil
}

func (s *Service) hashOptional(password string) (string, error) {
	if password == "" {
		return "", nil
	}
	return s.hasher.Hash(password)
}

// stage persists req and then mails the secret.
func (s *Service) stage(ctx context.Context, req models.StageRequest, site string, write func(context.Context, models.StageRequest) error) (*Staged, error) {
	secret, err := s.newSecret()
	if err != nil {
		return nil, fmt.Errorf("generate secret: %w", err)
	}
	req.Secret = secret

	if err := write(ctx, req); err != nil {
		return nil, err
	}

	pending, err := auth.GeneratePendingToken(secret, s.secretKey, s.now(), s.sessionValidity)
	if err != nil {
		return nil, fmt.Errorf("pending token: %w", err)
	}

	// The secret is already persisted, so a mail failure is reported but does
	// not undo the stage. The user may ask again once the throttle expires.
	msg := mailer.Message{Kind: req.Kind, To: req.Email, Secret: secret, Site: site}
	if err := s.mailer.Send(ctx, msg); err != nil {
		s.logger.Error(ctx, "failed to send verification email", "kind", req.Kind, "email", req.Email, "error", err)
	}

	s.logger.Info(ctx, "secret staged", "kind", req.Kind, "email", req.Email)
	return &Staged{Secret: secret, PendingToken: pending}, nil
}

// StageUser starts account creation for email.
func (s *Service) StageUser(ctx context.Context, email, password, site string) (st *Staged, err error) {
	defer func() { s.observe("stage_user", err) }()

	if _, err = checkEmail(email); err != nil {
		return nil, err
	}
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, err
	}
	if err = s.throttle(ctx, email); err != nil {
		return nil, err
	}
	return s.stage(ctx, models.StageRequest{
		Kind:         models.StagedNewAccount,
		Email:        email,
		PasswordHash: hash,
		EmailType:    models.EmailTypeSecondary,
	}, site, s.store.StageUser)
}

// StageUnverifiedUser creates the account for email right away, with the
// address unverified, and mails the secret that later verifies it. The user
// can sign in with the password in the meantime; relying parties only see
// the address when they accept unverified identities.
func (s *Service) StageUnverifiedUser(ctx context.Context, email, password, site string) (st *Staged, err error) {
	defer func() { s.observe("stage_unverified_user", err) }()

	if _, err = checkEmail(email); err != nil {
		return nil, err
	}
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, err
	}
	if err = s.throttle(ctx, email); err != nil {
		return nil, err
	}
	return s.stage(ctx, models.StageRequest{
		Kind:         models.StagedAddEmail,
		Email:        email,
		PasswordHash: hash,
		EmailType:    models.EmailTypeSecondary,
	}, site, func(ctx context.Context, req models.StageRequest) error {
		uid, err := s.store.CreateUnverifiedUser(ctx, req.Email, req.PasswordHash, req.Secret)
		if err == nil {
			s.logger.Info(ctx, "unverified user created", "uid", uid)
		}
		return err
	})
}

// StageEmail starts adding email to uid's account, or re-verifying it when
// uid already owns it. A password may be set here only by users that have
// none yet, and then it is required.
func (s *Service) StageEmail(ctx context.Context, uid int64, email, password, site string) (st *Staged, err error) {
	defer func() { s.observe("stage_email", err) }()

	if _, err = checkEmail(email); err != nil {
		return nil, err
	}
	known, hasPassword, err := s.store.UserKnown(ctx, uid)
	if err != nil {
		return nil, err
	}
	if !known {
		return nil, fmt.Errorf("%w: no such user", common.ErrNotFound)
	}
	switch {
	case hasPassword && password != "":
		return nil, common.ErrPasswordNotAllowed
	case !hasPassword && password == "":
		return nil, common.ErrPasswordRequired
	}
	hash, err := s.hashOptional(password)
	if err != nil {
		return nil, err
	}
	if err = s.throttle(ctx, email); err != nil {
		return nil, err
	}

	kind := models.StagedAddEmail
	owns, err := s.store.UserOwnsEmail(ctx, uid, email)
	if err != nil {
		return nil, err
	}
	if owns {
		kind = models.StagedReverify
	}

	return s.stage(ctx, models.StageRequest{
		Kind:         kind,
		Email:        email,
		ExistingUser: uid,
		PasswordHash: hash,
		EmailType:    models.EmailTypeSecondary,
	}, site, s.store.StageEmail)
}

// StageReset starts a password reset for the owner of email.
func (s *Service) StageReset(ctx context.Context, email, site string) (st *Staged, err error) {
	defer func() { s.observe("stage_reset", err) }()

	uid, err := s.store.EmailToUID(ctx, email)
	if err != nil {
		return nil, err
	}
	if err = s.throttle(ctx, email); err != nil {
		return nil, err
	}
	return s.stage(ctx, models.StageRequest{
		Kind:         models.StagedPasswordReset,
		Email:        email,
		ExistingUser: uid,
		EmailType:    models.EmailTypeSecondary,
	}, site, s.store.StageEmail)
}

// StageTransition moves a primary address whose IdP no longer answers over
// to a password held by this service.
func (s *Service) StageTransition(ctx context.Context, email, password, site string) (st *Staged, err error) {
	defer func() { s.observe("stage_transition", err) }()

	domain, err := checkEmail(email)
	if err != nil {
		return nil, err
	}
	info, err := s.store.EmailInfo(ctx, email)
	if err != nil {
		return nil, err
	}
	if info == nil {
		return nil, fmt.Errorf("%w: unknown address", common.ErrNotFound)
	}
	primary, err := s.authority.HasPrimary(ctx, domain)
	if err != nil {
		return nil, err
	}
	if info.LastUsedAs != models.EmailTypePrimary || primary {
		return nil, fmt.Errorf("%w: %s is not in transition", common.ErrInvalidArgument, email)
	}

	uid, err := s.store.EmailToUID(ctx, info.NormalizedEmail)
	if err != nil {
		return nil, err
	}
	switch {
	case info.HasPassword && password != "":
		return nil, common.ErrPasswordNotAllowed
	case !info.HasPassword && password == "":
		return nil, common.ErrPasswordRequired
	}
	hash, err := s.hashOptional(password)
	if err != nil {
		return nil, err
	}
	if err = s.throttle(ctx, info.NormalizedEmail); err != nil {
		return nil, err
	}
	return s.stage(ctx, models.StageRequest{
		Kind:         models.StagedTransition,
		Email:        info.NormalizedEmail,
		ExistingUser: uid,
		PasswordHash: hash,
		EmailType:    models.EmailTypeSecondary,
	}, site, s.store.StageEmail)
}

// redeemable checks that secret is live and that proof matches it. A failed
// check leaves the secret in place.
func (s *Service) redeemable(ctx context.Context, secret string, proof Proof) (*models.StagedInfo, error) {
	info, err := s.store.EmailForVerificationSecret(ctx, secret)
	if err != nil {
		return nil, err
	}
	if s.stagedSecretTTL > 0 && s.now().Sub(info.CreatedAt) > s.stagedSecretTTL {
		return nil, fmt.Errorf("%w: verification secret expired", common.ErrNotFound)
	}

	if proof.PendingToken != "" && auth.PendingMatches(proof.PendingToken, secret, s.secretKey, s.now()) {
		return info, nil
	}
	if proof.Password == "" {
		return nil, fmt.Errorf("%w: password required to complete from another session", common.ErrUnauthorized)
	}

	a, err := s.store.AuthForVerificationSecret(ctx, secret)
	if err != nil {
		return nil, err
	}
	if a.PasswordHash == "" {
		return nil, fmt.Errorf("%w: no password to check against", common.ErrUnauthorized)
	}
	ok, err := s.hasher.Compare(a.PasswordHash, proof.Password)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: password mismatch", common.ErrUnauthorized)
	}
	return info, nil
}

// CompleteUserCreation redeems a new_account secret and signs the new user in.
func (s *Service) CompleteUserCreation(ctx context.Context, secret string, proof Proof) (sess *Session, err error) {
	defer func() { s.observe("complete_user_creation", err) }()

	if _, err = s.redeemable(ctx, secret, proof); err != nil {
		return nil, err
	}
	c, err := s.store.CompleteCreateUser(ctx, secret)
	if err != nil {
		return nil, err
	}
	if err = s.store.UpdateEmailLastUsedAs(ctx, c.Email, models.EmailTypeSecondary); err != nil {
		return nil, err
	}
	s.logger.Info(ctx, "user created", "uid", c.UID, "email", c.Email)
	return s.issueSession(ctx, c.UID, c.Email, auth.LevelPassword)
}

// CompleteEmailConfirmation redeems an add_email, reverify or transition
// secret.
func (s *Service) CompleteEmailConfirmation(ctx context.Context, secret string, proof Proof) (c *models.Completion, err error) {
	defer func() { s.observe("complete_email_confirmation", err) }()

	if _, err = s.redeemable(ctx, secret, proof); err != nil {
		return nil, err
	}
	c, err = s.store.CompleteConfirmEmail(ctx, secret)
	if err != nil {
		return nil, err
	}
	s.logger.Info(ctx, "email confirmed", "uid", c.UID, "email", c.Email)
	return c, nil
}

// CompletePasswordReset redeems a password_reset secret, sets newPassword and
// signs the user in. Sessions issued before the reset stop being valid.
func (s *Service) CompletePasswordReset(ctx context.Context, secret string, proof Proof, newPassword string) (sess *Session, err error) {
	defer func() { s.observe("complete_password_reset", err) }()

	info, err := s.redeemable(ctx, secret, proof)
	if err != nil {
		return nil, err
	}
	if newPassword == "" && info.PasswordHash == "" {
		return nil, fmt.Errorf("%w: new password required", common.ErrInvalidArgument)
	}
	hash, err := s.hashOptional(newPassword)
	if err != nil {
		return nil, err
	}
	c, err := s.store.CompletePasswordReset(ctx, secret, hash)
	if err != nil {
		return nil, err
	}
	s.logger.Info(ctx, "password reset", "uid", c.UID)
	return s.issueSession(ctx, c.UID, c.Email, auth.LevelPassword)
}

func isNotFound(err error) bool {
	return errors.Is(err, common.ErrNotFound)
}
