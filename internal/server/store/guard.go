package store

import (
	"context"
	"fmt"
	"time"

	"github.com/dmitrijs2005/gophid/internal/common"
	"github.com/dmitrijs2005/gophid/internal/server/models"
)

// Observer receives the outcome of every store call.
type Observer interface {
	ObserveStoreOp(op string, d time.Duration, err error)
}

type nopObserver struct{}

func (nopObserver) ObserveStoreOp(string, time.Duration, error) {}

// Guarded wraps a backend. When mayWrite is false every write fails with
// ErrPermissionDenied before the backend is touched.
type Guarded struct {
	backend  Store
	mayWrite bool
	obs      Observer
}

var _ Store = (*Guarded)(nil)

// NewGuarded wraps backend. obs may be nil.
func NewGuarded(backend Store, mayWrite bool, obs Observer) *Guarded {
	if obs == nil {
		obs = nopObserver{}
	}
	return &Guarded{backend: backend, mayWrite: mayWrite, obs: obs}
}

func (g *Guarded) observe(op string, start time.Time, err error) {
	g.obs.ObserveStoreOp(op, time.Since(start), err)
}

func (g *Guarded) writable(op string) error {
	if g.mayWrite {
		return nil
	}
	err := fmt.Errorf("%w: %s on read-only store", common.ErrPermissionDenied, op)
	g.obs.ObserveStoreOp(op, 0, err)
	return err
}

// Snapshotter is implemented by backends that can dump their whole dataset.
type Snapshotter interface {
	Snapshot(ctx context.Context) ([]byte, error)
}

// Snapshot dumps the backend when it supports it.
func (g *Guarded) Snapshot(ctx context.Context) ([]byte, error) {
	sn, ok := g.backend.(Snapshotter)
	if !ok {
		return nil, fmt.Errorf("%w: backend does not support snapshots", common.ErrInvalidArgument)
	}
	return sn.Snapshot(ctx)
}

// CanSnapshot reports whether Snapshot is supported.
func (g *Guarded) CanSnapshot() bool {
	_, ok := g.backend.(Snapshotter)
	return ok
}

func (g *Guarded) Close() error { return g.backend.Close() }

func (g *Guarded) CloseAndRemove(ctx context.Context) error {
	return g.backend.CloseAndRemove(ctx)
}

func (g *Guarded) Ping(ctx context.Context) (err error) {
	defer func(t time.Time) { g.observe("ping", t, err) }(time.Now())
	return g.backend.Ping(ctx)
}

func (g *Guarded) EmailKnown(ctx context.Context, email string) (known bool, err error) {
	defer func(t time.Time) { g.observe("email_known", t, err) }(time.Now())
	return g.backend.EmailKnown(ctx, email)
}

func (g *Guarded) EmailType(ctx context.Context, email string) (tp models.EmailType, err error) {
	defer func(t time.Time) { g.observe("email_type", t, err) }(time.Now())
	return g.backend.EmailType(ctx, email)
}

func (g *Guarded) EmailIsVerified(ctx context.Context, email string) (verified bool, err error) {
	defer func(t time.Time) { g.observe("email_is_verified", t, err) }(time.Now())
	return g.backend.EmailIsVerified(ctx, email)
}

func (g *Guarded) EmailInfo(ctx context.Context, email string) (info *models.EmailInfo, err error) {
	defer func(t time.Time) { g.observe("email_info", t, err) }(time.Now())
	return g.backend.EmailInfo(ctx, email)
}

func (g *Guarded) EmailToUID(ctx context.Context, email string) (uid int64, err error) {
	defer func(t time.Time) { g.observe("email_to_uid", t, err) }(time.Now())
	return g.backend.EmailToUID(ctx, email)
}

func (g *Guarded) EmailLastUsedAs(ctx context.Context, email string) (tp models.EmailType, err error) {
	defer func(t time.Time) { g.observe("email_last_used_as", t, err) }(time.Now())
	return g.backend.EmailLastUsedAs(ctx, email)
}

func (g *Guarded) UserKnown(ctx context.Context, uid int64) (known bool, hasPassword bool, err error) {
	defer func(t time.Time) { g.observe("user_known", t, err) }(time.Now())
	return g.backend.UserKnown(ctx, uid)
}

func (g *Guarded) UserOwnsEmail(ctx context.Context, uid int64, email string) (owns bool, err error) {
	defer func(t time.Time) { g.observe("user_owns_email", t, err) }(time.Now())
	return g.backend.UserOwnsEmail(ctx, uid, email)
}

func (g *Guarded) EmailsBelongToSameAccount(ctx context.Context, a, b string) (same bool, err error) {
	defer func(t time.Time) { g.observe("emails_belong_to_same_account", t, err) }(time.Now())
	return g.backend.EmailsBelongToSameAccount(ctx, a, b)
}

func (g *Guarded) IsStaged(ctx context.Context, email string) (staged bool, err error) {
	defer func(t time.Time) { g.observe("is_staged", t, err) }(time.Now())
	return g.backend.IsStaged(ctx, email)
}

func (g *Guarded) LastStaged(ctx context.Context, email string) (when time.Time, err error) {
	defer func(t time.Time) { g.observe("last_staged", t, err) }(time.Now())
	return g.backend.LastStaged(ctx, email)
}

func (g *Guarded) VerificationSecretForEmail(ctx context.Context, email string) (secret string, err error) {
	defer func(t time.Time) { g.observe("verification_secret_for_email", t, err) }(time.Now())
	return g.backend.VerificationSecretForEmail(ctx, email)
}

func (g *Guarded) HaveVerificationSecret(ctx context.Context, secret string) (have bool, err error) {
	defer func(t time.Time) { g.observe("have_verification_secret", t, err) }(time.Now())
	return g.backend.HaveVerificationSecret(ctx, secret)
}

func (g *Guarded) EmailForVerificationSecret(ctx context.Context, secret string) (info *models.StagedInfo, err error) {
	defer func(t time.Time) { g.observe("email_for_verification_secret", t, err) }(time.Now())
	return g.backend.EmailForVerificationSecret(ctx, secret)
}

func (g *Guarded) AuthForVerificationSecret(ctx context.Context, secret string) (auth *models.StagedAuth, err error) {
	defer func(t time.Time) { g.observe("auth_for_verification_secret", t, err) }(time.Now())
	return g.backend.AuthForVerificationSecret(ctx, secret)
}

func (g *Guarded) CheckAuth(ctx context.Context, uid int64) (auth *models.AuthInfo, err error) {
	defer func(t time.Time) { g.observe("check_auth", t, err) }(time.Now())
	return g.backend.CheckAuth(ctx, uid)
}

func (g *Guarded) LastPasswordReset(ctx context.Context, uid int64) (when time.Time, err error) {
	defer func(t time.Time) { g.observe("last_password_reset", t, err) }(time.Now())
	return g.backend.LastPasswordReset(ctx, uid)
}

func (g *Guarded) ListEmails(ctx context.Context, uid int64) (emails []string, err error) {
	defer func(t time.Time) { g.observe("list_emails", t, err) }(time.Now())
	return g.backend.ListEmails(ctx, uid)
}

func (g *Guarded) GetIDPLastSeen(ctx context.Context, domain string) (when time.Time, err error) {
	defer func(t time.Time) { g.observe("get_idp_last_seen", t, err) }(time.Now())
	return g.backend.GetIDPLastSeen(ctx, domain)
}

func (g *Guarded) StageUser(ctx context.Context, req models.StageRequest) (err error) {
	if err := g.writable("stage_user"); err != nil {
		return err
	}
	defer func(t time.Time) { g.observe("stage_user", t, err) }(time.Now())
	return g.backend.StageUser(ctx, req)
}

func (g *Guarded) StageEmail(ctx context.Context, req models.StageRequest) (err error) {
	if err := g.writable("stage_email"); err != nil {
		return err
	}
	defer func(t time.Time) { g.observe("stage_email", t, err) }(time.Now())
	return g.backend.StageEmail(ctx, req)
}

func (g *Guarded) CompleteCreateUser(ctx context.Context, secret string) (c *models.Completion, err error) {
	if err := g.writable("complete_create_user"); err != nil {
		return nil, err
	}
	defer func(t time.Time) { g.observe("complete_create_user", t, err) }(time.Now())
	return g.backend.CompleteCreateUser(ctx, secret)
}

func (g *Guarded) CompleteConfirmEmail(ctx context.Context, secret string) (c *models.Completion, err error) {
	if err := g.writable("complete_confirm_email"); err != nil {
		return nil, err
	}
	defer func(t time.Time) { g.observe("complete_confirm_email", t, err) }(time.Now())
	return g.backend.CompleteConfirmEmail(ctx, secret)
}

func (g *Guarded) CompletePasswordReset(ctx context.Context, secret, passwordHash string) (c *models.Completion, err error) {
	if err := g.writable("complete_password_reset"); err != nil {
		return nil, err
	}
	defer func(t time.Time) { g.observe("complete_password_reset", t, err) }(time.Now())
	return g.backend.CompletePasswordReset(ctx, secret, passwordHash)
}

func (g *Guarded) AddPrimaryEmailToAccount(ctx context.Context, uid int64, email string) (err error) {
	if err := g.writable("add_primary_email_to_account"); err != nil {
		return err
	}
	defer func(t time.Time) { g.observe("add_primary_email_to_account", t, err) }(time.Now())
	return g.backend.AddPrimaryEmailToAccount(ctx, uid, email)
}

func (g *Guarded) CreateUserWithPrimaryEmail(ctx context.Context, email string) (u *models.User, err error) {
	if err := g.writable("create_user_with_primary_email"); err != nil {
		return nil, err
	}
	defer func(t time.Time) { g.observe("create_user_with_primary_email", t, err) }(time.Now())
	return g.backend.CreateUserWithPrimaryEmail(ctx, email)
}

func (g *Guarded) CreateUnverifiedUser(ctx context.Context, email, passwordHash, secret string) (uid int64, err error) {
	if err := g.writable("create_unverified_user"); err != nil {
		return 0, err
	}
	defer func(t time.Time) { g.observe("create_unverified_user", t, err) }(time.Now())
	return g.backend.CreateUnverifiedUser(ctx, email, passwordHash, secret)
}

func (g *Guarded) UpdateEmailLastUsedAs(ctx context.Context, email string, tp models.EmailType) (err error) {
	if err := g.writable("update_email_last_used_as"); err != nil {
		return err
	}
	defer func(t time.Time) { g.observe("update_email_last_used_as", t, err) }(time.Now())
	return g.backend.UpdateEmailLastUsedAs(ctx, email, tp)
}

func (g *Guarded) IncAuthFailures(ctx context.Context, uid int64) (err error) {
	if err := g.writable("inc_auth_failures"); err != nil {
		return err
	}
	defer func(t time.Time) { g.observe("inc_auth_failures", t, err) }(time.Now())
	return g.backend.IncAuthFailures(ctx, uid)
}

func (g *Guarded) ClearAuthFailures(ctx context.Context, uid int64) (err error) {
	if err := g.writable("clear_auth_failures"); err != nil {
		return err
	}
	defer func(t time.Time) { g.observe("clear_auth_failures", t, err) }(time.Now())
	return g.backend.ClearAuthFailures(ctx, uid)
}

func (g *Guarded) UpdatePassword(ctx context.Context, uid int64, passwordHash string, invalidateSessions bool) (err error) {
	if err := g.writable("update_password"); err != nil {
		return err
	}
	defer func(t time.Time) { g.observe("update_password", t, err) }(time.Now())
	return g.backend.UpdatePassword(ctx, uid, passwordHash, invalidateSessions)
}

func (g *Guarded) RemoveEmail(ctx context.Context, uid int64, email string) (err error) {
	if err := g.writable("remove_email"); err != nil {
		return err
	}
	defer func(t time.Time) { g.observe("remove_email", t, err) }(time.Now())
	return g.backend.RemoveEmail(ctx, uid, email)
}

func (g *Guarded) CancelAccount(ctx context.Context, uid int64) (err error) {
	if err := g.writable("cancel_account"); err != nil {
		return err
	}
	defer func(t time.Time) { g.observe("cancel_account", t, err) }(time.Now())
	return g.backend.CancelAccount(ctx, uid)
}

func (g *Guarded) UpdateIDPLastSeen(ctx context.Context, domain string) (err error) {
	if err := g.writable("update_idp_last_seen"); err != nil {
		return err
	}
	defer func(t time.Time) { g.observe("update_idp_last_seen", t, err) }(time.Now())
	return g.backend.UpdateIDPLastSeen(ctx, domain)
}

func (g *Guarded) ForgetIDP(ctx context.Context, domain string) (err error) {
	if err := g.writable("forget_idp"); err != nil {
		return err
	}
	defer func(t time.Time) { g.observe("forget_idp", t, err) }(time.Now())
	return g.backend.ForgetIDP(ctx, domain)
}

func (g *Guarded) PurgeStagedBefore(ctx context.Context, cutoff time.Time) (n int, err error) {
	if err := g.writable("purge_staged_before"); err != nil {
		return 0, err
	}
	defer func(t time.Time) { g.observe("purge_staged_before", t, err) }(time.Now())
	return g.backend.PurgeStagedBefore(ctx, cutoff)
}
