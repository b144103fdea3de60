package lifecycle

import (
	"context"
	"time"

	"github.com/dmitrijs2005/gophid/internal/server/models"
)

// Address states reported by AddressInfo.
const (
	StateUnknown               = "unknown"
	StateKnown                 = "known"
	StateTransitionToPrimary   = "transition_to_primary"
	StateTransitionToSecondary = "transition_to_secondary"
	StateTransitionNoPassword  = "transition_no_password"
)

// AddressInfo tells a login page how to proceed with an address.
type AddressInfo struct {
	Type            models.EmailType
	State           string
	Issuer          string
	NormalizedEmail string
	Verified        bool
	HasPassword     bool
}

// AddressInfo reports whether email should authenticate with its primary IdP
// or a password, and whether it is switching between the two.
func (s *Service) AddressInfo(ctx context.Context, email string) (ai *AddressInfo, err error) {
	defer func() { s.observe("address_info", err) }()

	domain, err := checkEmail(email)
	if err != nil {
		return nil, err
	}
	primary, err := s.authority.HasPrimary(ctx, domain)
	if err != nil {
		return nil, err
	}
	info, err := s.store.EmailInfo(ctx, email)
	if err != nil {
		return nil, err
	}

	ai = &AddressInfo{NormalizedEmail: email, State: StateUnknown}
	if info != nil {
		ai.NormalizedEmail = info.NormalizedEmail
		ai.Verified = info.Verified
		ai.HasPassword = info.HasPassword
		ai.State = StateKnown
	}

	if primary {
		ai.Type = models.EmailTypePrimary
		ai.Issuer = domain
		if info != nil && info.LastUsedAs == models.EmailTypeSecondary {
			ai.State = StateTransitionToPrimary
		}
		return ai, nil
	}

	ai.Type = models.EmailTypeSecondary
	ai.Issuer = s.authority.Hostname()
	if info != nil && info.LastUsedAs == models.EmailTypePrimary {
		ai.State = StateTransitionNoPassword
		if info.HasPassword {
			ai.State = StateTransitionToSecondary
		}
	}
	return ai, nil
}

// ListEmails returns the addresses on uid's account.
func (s *Service) ListEmails(ctx context.Context, uid int64) ([]string, error) {
	return s.store.ListEmails(ctx, uid)
}

// RemoveEmail detaches email from uid's account.
func (s *Service) RemoveEmail(ctx context.Context, uid int64, email string) (err error) {
	defer func() { s.observe("remove_email", err) }()

	if err = s.store.RemoveEmail(ctx, uid, email); err != nil {
		return err
	}
	s.logger.Info(ctx, "email removed", "uid", uid, "email", email)
	return nil
}

// CancelAccount deletes uid with all its addresses and staged secrets.
func (s *Service) CancelAccount(ctx context.Context, uid int64) (err error) {
	defer func() { s.observe("cancel_account", err) }()

	if err = s.store.CancelAccount(ctx, uid); err != nil {
		return err
	}
	s.logger.Info(ctx, "account canceled", "uid", uid)
	return nil
}

// PurgeExpiredSecrets drops staged secrets older than the configured TTL. It
// does nothing when secrets never expire.
func (s *Service) PurgeExpiredSecrets(ctx context.Context) (n int, err error) {
	if s.stagedSecretTTL <= 0 {
		return 0, nil
	}
	defer func() { s.observe("purge_expired_secrets", err) }()

	n, err = s.store.PurgeStagedBefore(ctx, s.now().Add(-s.stagedSecretTTL))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info(ctx, "expired secrets purged", "count", n)
	}
	return n, nil
}

// RunPurger calls PurgeExpiredSecrets every interval until ctx is done.
func (s *Service) RunPurger(ctx context.Context, interval time.Duration) {
	if interval <= 0 || s.stagedSecretTTL <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.PurgeExpiredSecrets(ctx); err != nil {
				s.logger.Error(ctx, "purge failed", "error", err)
			}
		}
	}
}
