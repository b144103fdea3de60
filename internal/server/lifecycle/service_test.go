package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/gophid/internal/common"
	"github.com/dmitrijs2005/gophid/internal/logging"
	"github.com/dmitrijs2005/gophid/internal/server/auth"
	"github.com/dmitrijs2005/gophid/internal/server/config"
	"github.com/dmitrijs2005/gophid/internal/server/credentials"
	"github.com/dmitrijs2005/gophid/internal/server/mailer"
	"github.com/dmitrijs2005/gophid/internal/server/models"
	"github.com/dmitrijs2005/gophid/internal/server/store/jsonstore"
	"github.com/dmitrijs2005/gophid/internal/server/verifier"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type outbox struct {
	mu   sync.Mutex
	msgs []mailer.Message
	err  error
}

func (o *outbox) Send(_ context.Context, msg mailer.Message) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.msgs = append(o.msgs, msg)
	return o.err
}

func (o *outbox) last(t *testing.T) mailer.Message {
	t.Helper()
	o.mu.Lock()
	defer o.mu.Unlock()
	require.NotEmpty(t, o.msgs, "no mail sent")
	return o.msgs[len(o.msgs)-1]
}

type fakeVerifier struct {
	res *verifier.Result
	err error
}

func (f *fakeVerifier) Verify(_ context.Context, req verifier.Request) (*verifier.Result, error) {
	if f.err != nil {
		return nil, f.err
	}
	r := *f.res
	r.Audience = req.Audience
	return &r, nil
}

type fakeAuthority struct {
	primaries map[string]bool
}

func (a *fakeAuthority) HasPrimary(_ context.Context, domain string) (bool, error) {
	return a.primaries[domain], nil
}

func (a *fakeAuthority) IsFallback(issuer string) bool {
	return strings.EqualFold(issuer, "login.test")
}

func (a *fakeAuthority) Hostname() string { return "login.test" }

type opRecorder struct {
	mu  sync.Mutex
	ops map[string][]error
}

func (r *opRecorder) ObserveLifecycle(op string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ops == nil {
		r.ops = map[string][]error{}
	}
	r.ops[op] = append(r.ops[op], err)
}

type env struct {
	svc       *Service
	store     *jsonstore.Store
	clock     *testClock
	mail      *outbox
	verifier  *fakeVerifier
	authority *fakeAuthority
	obs       *opRecorder
	cfg       *config.Config
}

const (
	alice    = "alice@example.com"
	alicePw  = "correct horse"
	password = "battery staple"
)

func newEnv(t *testing.T, tweak ...func(*config.Config)) *env {
	t.Helper()
	cfg := &config.Config{}
	cfg.LoadDefaults()
	cfg.SecretKey = "test-secret-key"
	cfg.MinTimeBetweenEmails = time.Minute
	cfg.MaxFailedAuthTries = 3
	cfg.BcryptCost = bcrypt.MinCost
	for _, fn := range tweak {
		fn(cfg)
	}

	e := &env{
		clock:     &testClock{t: time.UnixMilli(1_700_000_000_000).UTC()},
		mail:      &outbox{},
		verifier:  &fakeVerifier{},
		authority: &fakeAuthority{primaries: map[string]bool{"primary.test": true}},
		obs:       &opRecorder{},
		cfg:       cfg,
	}
	st, err := jsonstore.Open(context.Background(), filepath.Join(t.TempDir(), "db.json"),
		logging.Nop(), jsonstore.WithClock(e.clock.Now))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	e.store = st
	e.svc = e.service(credentials.NewBcrypt(cfg.BcryptCost))
	return e
}

func (e *env) service(h credentials.Hasher) *Service {
	n := 0
	var mu sync.Mutex
	return NewService(e.store, Deps{
		Hasher:    h,
		Mailer:    e.mail,
		Verifier:  e.verifier,
		Authority: e.authority,
		Observer:  e.obs,
		Logger:    logging.Nop(),
	}, e.cfg,
		WithClock(e.clock.Now),
		WithTokenGenerator(func() (string, error) {
			mu.Lock()
			defer mu.Unlock()
			n++
			return fmt.Sprintf("secret-%04d", n), nil
		}),
	)
}

// signUp creates a password account for email and returns its session.
func (e *env) signUp(t *testing.T, email, pw string) *Session {
	t.Helper()
	ctx := context.Background()
	st, err := e.svc.StageUser(ctx, email, pw, "https://rp.test")
	require.NoError(t, err)
	sess, err := e.svc.CompleteUserCreation(ctx, st.Secret, Proof{PendingToken: st.PendingToken})
	require.NoError(t, err)
	return sess
}

func TestStageUser_CompleteInSameSession(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	st, err := e.svc.StageUser(ctx, alice, alicePw, "https://rp.test")
	require.NoError(t, err)
	assert.NotEmpty(t, st.PendingToken)

	msg := e.mail.last(t)
	assert.Equal(t, models.StagedNewAccount, msg.Kind)
	assert.Equal(t, alice, msg.To)
	assert.Equal(t, st.Secret, msg.Secret)
	assert.Equal(t, "https://rp.test", msg.Site)

	sess, err := e.svc.CompleteUserCreation(ctx, st.Secret, Proof{PendingToken: st.PendingToken})
	require.NoError(t, err)
	assert.Equal(t, alice, sess.Email)
	assert.NotZero(t, sess.UserID)

	got, err := e.svc.SessionValid(ctx, sess.Token)
	require.NoError(t, err)
	assert.Equal(t, sess.UserID, got.UserID)

	emails, err := e.svc.ListEmails(ctx, sess.UserID)
	require.NoError(t, err)
	assert.Equal(t, []string{alice}, emails)

	lastUsed, err := e.store.EmailLastUsedAs(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, models.EmailTypeSecondary, lastUsed)

	_, err = e.svc.CompleteUserCreation(ctx, st.Secret, Proof{PendingToken: st.PendingToken})
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestCompleteUserCreation_FromAnotherSession(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	st, err := e.svc.StageUser(ctx, alice, alicePw, "")
	require.NoError(t, err)

	_, err = e.svc.CompleteUserCreation(ctx, st.Secret, Proof{})
	assert.ErrorIs(t, err, common.ErrUnauthorized)

	_, err = e.svc.CompleteUserCreation(ctx, st.Secret, Proof{Password: "wrong password"})
	assert.ErrorIs(t, err, common.ErrUnauthorized)

	// failed proofs leave the secret redeemable
	ok, err := e.store.HaveVerificationSecret(ctx, st.Secret)
	require.NoError(t, err)
	assert.True(t, ok)

	sess, err := e.svc.CompleteUserCreation(ctx, st.Secret, Proof{Password: alicePw})
	require.NoError(t, err)
	assert.Equal(t, alice, sess.Email)
}

func TestCompleteUserCreation_PendingTokenIsBoundToItsSecret(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	a, err := e.svc.StageUser(ctx, alice, alicePw, "")
	require.NoError(t, err)
	b, err := e.svc.StageUser(ctx, "bob@example.com", password, "")
	require.NoError(t, err)

	_, err = e.svc.CompleteUserCreation(ctx, b.Secret, Proof{PendingToken: a.PendingToken})
	assert.ErrorIs(t, err, common.ErrUnauthorized)

	_, err = e.svc.CompleteUserCreation(ctx, "no-such-secret", Proof{PendingToken: a.PendingToken})
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestStageUser_Validation(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	tests := []struct {
		name, email, pw string
	}{
		{"not an address", "alice", alicePw},
		{"display name", "Alice <alice@example.com>", alicePw},
		{"no dot in domain", "alice@example", alicePw},
		{"short password", alice, "short"},
		{"long password", alice, strings.Repeat("x", 73)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.svc.StageUser(ctx, tt.email, tt.pw, "")
			assert.ErrorIs(t, err, common.ErrInvalidArgument)
		})
	}
	assert.Empty(t, e.mail.msgs)
}

func TestStageUser_Throttled(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.svc.StageUser(ctx, alice, alicePw, "")
	require.NoError(t, err)

	e.clock.Advance(30 * time.Second)
	_, err = e.svc.StageUser(ctx, alice, alicePw, "")
	assert.ErrorIs(t, err, common.ErrThrottled)
	assert.Len(t, e.mail.msgs, 1)

	e.clock.Advance(time.Minute)
	st, err := e.svc.StageUser(ctx, alice, alicePw, "")
	require.NoError(t, err)

	secret, err := e.store.VerificationSecretForEmail(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, st.Secret, secret)
}

func TestStageUser_MailFailureKeepsSecret(t *testing.T) {
	e := newEnv(t)
	e.mail.err = errors.New("smtp down")

	st, err := e.svc.StageUser(context.Background(), alice, alicePw, "")
	require.NoError(t, err)

	ok, err := e.store.HaveVerificationSecret(context.Background(), st.Secret)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestStageUnverifiedUser(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	st, err := e.svc.StageUnverifiedUser(ctx, alice, alicePw, "https://rp.test")
	require.NoError(t, err)
	msg := e.mail.last(t)
	assert.Equal(t, models.StagedAddEmail, msg.Kind)
	assert.Equal(t, st.Secret, msg.Secret)

	verified, err := e.store.EmailIsVerified(ctx, alice)
	require.NoError(t, err)
	assert.False(t, verified)

	// the account exists before the address is confirmed
	sess, err := e.svc.AuthenticateUser(ctx, alice, alicePw)
	require.NoError(t, err)

	c, err := e.svc.CompleteEmailConfirmation(ctx, st.Secret, Proof{PendingToken: st.PendingToken})
	require.NoError(t, err)
	assert.Equal(t, sess.UserID, c.UID)
	verified, err = e.store.EmailIsVerified(ctx, alice)
	require.NoError(t, err)
	assert.True(t, verified)

	e.clock.Advance(2 * time.Minute)
	_, err = e.svc.StageUnverifiedUser(ctx, alice, alicePw, "")
	assert.ErrorIs(t, err, common.ErrInvalidArgument)
	_, err = e.svc.StageUnverifiedUser(ctx, "not-an-address", alicePw, "")
	assert.ErrorIs(t, err, common.ErrInvalidArgument)
}

func TestStageEmail(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	sess := e.signUp(t, alice, alicePw)

	_, err := e.svc.StageEmail(ctx, sess.UserID, "alice@work.example", password, "")
	assert.ErrorIs(t, err, common.ErrPasswordNotAllowed)

	_, err = e.svc.StageEmail(ctx, 999, "alice@work.example", "", "")
	assert.ErrorIs(t, err, common.ErrNotFound)

	st, err := e.svc.StageEmail(ctx, sess.UserID, "alice@work.example", "", "")
	require.NoError(t, err)
	assert.Equal(t, models.StagedAddEmail, e.mail.last(t).Kind)

	// the account's own password proves a cross-session redemption
	c, err := e.svc.CompleteEmailConfirmation(ctx, st.Secret, Proof{Password: alicePw})
	require.NoError(t, err)
	assert.Equal(t, sess.UserID, c.UID)

	emails, err := e.svc.ListEmails(ctx, sess.UserID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{alice, "alice@work.example"}, emails)

	_, err = e.svc.StageEmail(ctx, sess.UserID, alice, "", "")
	require.NoError(t, err)
	assert.Equal(t, models.StagedReverify, e.mail.last(t).Kind)
}

func TestStageEmail_PasswordRequiredWithoutOne(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.verifier.res = &verifier.Result{Email: "bob@primary.test", Issuer: "primary.test", Verified: true}

	sess, err := e.svc.AuthWithAssertion(ctx, "assertion", "https://rp.test")
	require.NoError(t, err)

	_, err = e.svc.StageEmail(ctx, sess.UserID, "bob@example.com", "", "")
	assert.ErrorIs(t, err, common.ErrPasswordRequired)

	st, err := e.svc.StageEmail(ctx, sess.UserID, "bob@example.com", password, "")
	require.NoError(t, err)
	_, err = e.svc.CompleteEmailConfirmation(ctx, st.Secret, Proof{PendingToken: st.PendingToken})
	require.NoError(t, err)

	// the staged password became the account password
	_, err = e.svc.AuthenticateUser(ctx, "bob@example.com", password)
	require.NoError(t, err)
}

func TestAuthenticateUser(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	created := e.signUp(t, alice, alicePw)

	sess, err := e.svc.AuthenticateUser(ctx, alice, alicePw)
	require.NoError(t, err)
	assert.Equal(t, created.UserID, sess.UserID)

	_, err = e.svc.AuthenticateUser(ctx, "nobody@example.com", alicePw)
	assert.ErrorIs(t, err, common.ErrUnauthorized)

	_, err = e.svc.AuthenticateUser(ctx, alice, "wrong password")
	assert.ErrorIs(t, err, common.ErrUnauthorized)
	a, err := e.store.CheckAuth(ctx, created.UserID)
	require.NoError(t, err)
	assert.Equal(t, 1, a.FailedAuthTries)

	_, err = e.svc.AuthenticateUser(ctx, alice, alicePw)
	require.NoError(t, err)
	a, err = e.store.CheckAuth(ctx, created.UserID)
	require.NoError(t, err)
	assert.Zero(t, a.FailedAuthTries)
}

func TestAuthenticateUser_Lockout(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.signUp(t, alice, alicePw)

	for i := 0; i < e.cfg.MaxFailedAuthTries; i++ {
		_, err := e.svc.AuthenticateUser(ctx, alice, "wrong password")
		require.ErrorIs(t, err, common.ErrUnauthorized)
	}
	_, err := e.svc.AuthenticateUser(ctx, alice, alicePw)
	assert.ErrorIs(t, err, common.ErrAccountLocked)
}

func TestAuthenticateUser_Rehash(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	sess := e.signUp(t, alice, alicePw)

	stronger := e.service(credentials.NewBcrypt(bcrypt.MinCost + 1))
	_, err := stronger.AuthenticateUser(ctx, alice, alicePw)
	require.NoError(t, err)

	a, err := e.store.CheckAuth(ctx, sess.UserID)
	require.NoError(t, err)
	cost, err := bcrypt.Cost([]byte(a.PasswordHash))
	require.NoError(t, err)
	assert.Equal(t, bcrypt.MinCost+1, cost)

	// a rehash keeps existing sessions
	_, err = stronger.SessionValid(ctx, sess.Token)
	assert.NoError(t, err)
}

func TestPasswordReset(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	old := e.signUp(t, alice, alicePw)

	_, err := e.svc.StageReset(ctx, "nobody@example.com", "")
	assert.ErrorIs(t, err, common.ErrNotFound)

	st, err := e.svc.StageReset(ctx, alice, "")
	require.NoError(t, err)
	assert.Equal(t, models.StagedPasswordReset, e.mail.last(t).Kind)

	_, err = e.svc.CompletePasswordReset(ctx, st.Secret, Proof{PendingToken: st.PendingToken}, "")
	assert.ErrorIs(t, err, common.ErrInvalidArgument)

	// same millisecond as the old session: the reset still wins
	sess, err := e.svc.CompletePasswordReset(ctx, st.Secret, Proof{PendingToken: st.PendingToken}, password)
	require.NoError(t, err)
	assert.Equal(t, old.UserID, sess.UserID)

	_, err = e.svc.SessionValid(ctx, old.Token)
	assert.ErrorIs(t, err, common.ErrStaleSession)
	_, err = e.svc.SessionValid(ctx, sess.Token)
	assert.NoError(t, err)

	_, err = e.svc.AuthenticateUser(ctx, alice, alicePw)
	assert.ErrorIs(t, err, common.ErrUnauthorized)
	_, err = e.svc.AuthenticateUser(ctx, alice, password)
	assert.NoError(t, err)
}

func TestPasswordReset_LoginInSameMillisecondIsStale(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.signUp(t, alice, alicePw)

	e.clock.Advance(2 * time.Minute)
	login, err := e.svc.AuthenticateUser(ctx, alice, alicePw)
	require.NoError(t, err)

	st, err := e.svc.StageReset(ctx, alice, "")
	require.NoError(t, err)
	sess, err := e.svc.CompletePasswordReset(ctx, st.Secret, Proof{PendingToken: st.PendingToken}, password)
	require.NoError(t, err)

	_, err = e.svc.SessionValid(ctx, login.Token)
	assert.ErrorIs(t, err, common.ErrStaleSession)
	_, err = e.svc.SessionValid(ctx, sess.Token)
	assert.NoError(t, err)

	// a login right after the reset, still in the same millisecond, is valid
	again, err := e.svc.AuthenticateUser(ctx, alice, password)
	require.NoError(t, err)
	_, err = e.svc.SessionValid(ctx, again.Token)
	assert.NoError(t, err)
}

func TestPasswordReset_ProofByCurrentPassword(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.signUp(t, alice, alicePw)

	st, err := e.svc.StageReset(ctx, alice, "")
	require.NoError(t, err)

	_, err = e.svc.CompletePasswordReset(ctx, st.Secret, Proof{Password: "not it at all"}, password)
	assert.ErrorIs(t, err, common.ErrUnauthorized)

	_, err = e.svc.CompletePasswordReset(ctx, st.Secret, Proof{Password: alicePw}, password)
	require.NoError(t, err)
}

func TestStagedSecretTTL(t *testing.T) {
	e := newEnv(t, func(c *config.Config) { c.StagedSecretTTL = time.Hour })
	ctx := context.Background()

	st, err := e.svc.StageUser(ctx, alice, alicePw, "")
	require.NoError(t, err)
	_, err = e.svc.StageUser(ctx, "bob@example.com", password, "")
	require.NoError(t, err)

	e.clock.Advance(2 * time.Hour)
	_, err = e.svc.CompleteUserCreation(ctx, st.Secret, Proof{Password: alicePw})
	assert.ErrorIs(t, err, common.ErrNotFound)

	n, err := e.svc.PurgeExpiredSecrets(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	ok, err := e.store.HaveVerificationSecret(ctx, st.Secret)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPurgeExpiredSecrets_NoTTL(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	st, err := e.svc.StageUser(ctx, alice, alicePw, "")
	require.NoError(t, err)
	e.clock.Advance(365 * 24 * time.Hour)

	n, err := e.svc.PurgeExpiredSecrets(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = e.svc.CompleteUserCreation(ctx, st.Secret, Proof{Password: alicePw})
	assert.NoError(t, err)
}

func TestAuthWithAssertion(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.verifier.res = &verifier.Result{Email: "bob@primary.test", Issuer: "primary.test", Verified: true}

	first, err := e.svc.AuthWithAssertion(ctx, "assertion", "https://rp.test")
	require.NoError(t, err)
	assert.Equal(t, "bob@primary.test", first.Email)

	e.clock.Advance(time.Minute)
	second, err := e.svc.AuthWithAssertion(ctx, "assertion", "https://rp.test")
	require.NoError(t, err)
	assert.Equal(t, first.UserID, second.UserID)

	s, err := e.svc.SessionValid(ctx, second.Token)
	require.NoError(t, err)
	assert.Equal(t, auth.LevelAssertion, s.AuthLevel)

	seen, err := e.store.GetIDPLastSeen(ctx, "primary.test")
	require.NoError(t, err)
	assert.True(t, seen.Equal(e.clock.Now()), "last seen %v", seen)
}

func TestAuthWithAssertion_SecondaryAddressSwitchesToPrimary(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	created := e.signUp(t, "carol@primary.test", password)

	e.verifier.res = &verifier.Result{Email: "carol@primary.test", Issuer: "primary.test", Verified: true}
	sess, err := e.svc.AuthWithAssertion(ctx, "assertion", "https://rp.test")
	require.NoError(t, err)
	assert.Equal(t, created.UserID, sess.UserID)

	lastUsed, err := e.store.EmailLastUsedAs(ctx, "carol@primary.test")
	require.NoError(t, err)
	assert.Equal(t, models.EmailTypePrimary, lastUsed)
}

func TestAuthWithAssertion_Rejections(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	e.verifier.res = &verifier.Result{Email: "bob@example.com", Issuer: "login.test", Verified: true}
	_, err := e.svc.AuthWithAssertion(ctx, "assertion", "https://rp.test")
	assert.ErrorIs(t, err, verifier.ErrIssuerMismatch)

	e.verifier.err = verifier.Failure(verifier.KindExpired, "assertion expired")
	_, err = e.svc.AuthWithAssertion(ctx, "assertion", "https://rp.test")
	assert.ErrorIs(t, err, verifier.ErrExpired)

	known, err := e.store.EmailKnown(ctx, "bob@example.com")
	require.NoError(t, err)
	assert.False(t, known)
}

func TestAddEmailWithAssertion(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	sess := e.signUp(t, alice, alicePw)

	e.verifier.res = &verifier.Result{Email: "alice@primary.test", Issuer: "primary.test", Verified: true}
	email, err := e.svc.AddEmailWithAssertion(ctx, sess.UserID, "assertion", "https://rp.test")
	require.NoError(t, err)
	assert.Equal(t, "alice@primary.test", email)

	same, err := e.store.EmailsBelongToSameAccount(ctx, alice, "alice@primary.test")
	require.NoError(t, err)
	assert.True(t, same)
}

func TestAddressInfo(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.signUp(t, alice, alicePw)
	e.signUp(t, "carol@primary.test", password)
	e.verifier.res = &verifier.Result{Email: "dave@gone.test", Issuer: "gone.test", Verified: true}
	e.authority.primaries["gone.test"] = true
	_, err := e.svc.AuthWithAssertion(ctx, "assertion", "https://rp.test")
	require.NoError(t, err)
	e.authority.primaries["gone.test"] = false

	tests := []struct {
		email  string
		typ    models.EmailType
		state  string
		issuer string
	}{
		{"nobody@example.com", models.EmailTypeSecondary, StateUnknown, "login.test"},
		{alice, models.EmailTypeSecondary, StateKnown, "login.test"},
		{"nobody@primary.test", models.EmailTypePrimary, StateUnknown, "primary.test"},
		{"carol@primary.test", models.EmailTypePrimary, StateTransitionToPrimary, "primary.test"},
		{"dave@gone.test", models.EmailTypeSecondary, StateTransitionNoPassword, "login.test"},
	}
	for _, tt := range tests {
		t.Run(tt.email, func(t *testing.T) {
			ai, err := e.svc.AddressInfo(ctx, tt.email)
			require.NoError(t, err)
			assert.Equal(t, tt.typ, ai.Type)
			assert.Equal(t, tt.state, ai.State)
			assert.Equal(t, tt.issuer, ai.Issuer)
		})
	}

	ai, err := e.svc.AddressInfo(ctx, "ALICE@example.com")
	require.NoError(t, err)
	assert.Equal(t, alice, ai.NormalizedEmail)
	assert.True(t, ai.HasPassword)
	assert.True(t, ai.Verified)
}

func TestStageTransition(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.authority.primaries["gone.test"] = true
	e.verifier.res = &verifier.Result{Email: "dave@gone.test", Issuer: "gone.test", Verified: true}
	_, err := e.svc.AuthWithAssertion(ctx, "assertion", "https://rp.test")
	require.NoError(t, err)

	_, err = e.svc.StageTransition(ctx, "dave@gone.test", password, "")
	assert.ErrorIs(t, err, common.ErrInvalidArgument, "IdP still answers")

	e.authority.primaries["gone.test"] = false
	_, err = e.svc.StageTransition(ctx, "dave@gone.test", "", "")
	assert.ErrorIs(t, err, common.ErrPasswordRequired)

	st, err := e.svc.StageTransition(ctx, "dave@gone.test", password, "")
	require.NoError(t, err)
	assert.Equal(t, models.StagedTransition, e.mail.last(t).Kind)

	_, err = e.svc.CompleteEmailConfirmation(ctx, st.Secret, Proof{PendingToken: st.PendingToken})
	require.NoError(t, err)

	_, err = e.svc.AuthenticateUser(ctx, "dave@gone.test", password)
	require.NoError(t, err)

	ai, err := e.svc.AddressInfo(ctx, "dave@gone.test")
	require.NoError(t, err)
	assert.Equal(t, StateKnown, ai.State)
}

func TestRemoveEmailAndCancel(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	sess := e.signUp(t, alice, alicePw)

	st, err := e.svc.StageEmail(ctx, sess.UserID, "alice@work.example", "", "")
	require.NoError(t, err)
	_, err = e.svc.CompleteEmailConfirmation(ctx, st.Secret, Proof{PendingToken: st.PendingToken})
	require.NoError(t, err)

	require.NoError(t, e.svc.RemoveEmail(ctx, sess.UserID, "alice@work.example"))
	emails, err := e.svc.ListEmails(ctx, sess.UserID)
	require.NoError(t, err)
	assert.Equal(t, []string{alice}, emails)

	require.NoError(t, e.svc.CancelAccount(ctx, sess.UserID))
	_, err = e.svc.SessionValid(ctx, sess.Token)
	assert.ErrorIs(t, err, common.ErrInvalidToken)

	_, err = e.svc.AuthenticateUser(ctx, alice, alicePw)
	assert.ErrorIs(t, err, common.ErrUnauthorized)
}

func TestSessionValid_Garbage(t *testing.T) {
	e := newEnv(t)
	_, err := e.svc.SessionValid(context.Background(), "not-a-token")
	assert.ErrorIs(t, err, common.ErrInvalidToken)
}

func TestObserverSeesOutcomes(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.signUp(t, alice, alicePw)
	_, _ = e.svc.AuthenticateUser(ctx, alice, "wrong password")

	e.obs.mu.Lock()
	defer e.obs.mu.Unlock()
	require.Len(t, e.obs.ops["stage_user"], 1)
	assert.NoError(t, e.obs.ops["stage_user"][0])
	require.Len(t, e.obs.ops["authenticate_user"], 1)
	assert.ErrorIs(t, e.obs.ops["authenticate_user"][0], common.ErrUnauthorized)
}
