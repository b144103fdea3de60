// Package lifecycle implements the account flows on top of the store: staging
// and redeeming verification secrets, password and assertion logins, and
// session checks.
//
// Every staged secret moves unstaged -> staged -> consumed. Redeeming one
// requires proof: either the pending token handed to the client that staged
// it, or the password chosen at staging time (for resets, the account's
// current password). Mail goes out only after the secret is persisted.
package lifecycle

import (
	"context"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/dmitrijs2005/gophid/internal/common"
	"github.com/dmitrijs2005/gophid/internal/logging"
	"github.com/dmitrijs2005/gophid/internal/server/auth"
	"github.com/dmitrijs2005/gophid/internal/server/config"
	"github.com/dmitrijs2005/gophid/internal/server/credentials"
	"github.com/dmitrijs2005/gophid/internal/server/mailer"
	"github.com/dmitrijs2005/gophid/internal/server/store"
	"github.com/dmitrijs2005/gophid/internal/server/verifier"
)

// Authority answers which domains run their own identity provider.
type Authority interface {
	HasPrimary(ctx context.Context, domain string) (bool, error)
	IsFallback(issuer string) bool
	Hostname() string
}

// Observer receives the outcome of every lifecycle operation.
type Observer interface {
	ObserveLifecycle(op string, err error)
}

type nopObserver struct{}

func (nopObserver) ObserveLifecycle(string, error) {}

// Deps are the collaborators of a Service.
type Deps struct {
	Hasher    credentials.Hasher
	Mailer    mailer.Mailer
	Verifier  verifier.Verifier
	Authority Authority
	Observer  Observer
	Logger    logging.Logger
}

// Service runs the account flows.
type Service struct {
	store     store.Store
	hasher    credentials.Hasher
	mailer    mailer.Mailer
	verifier  verifier.Verifier
	authority Authority
	obs       Observer
	logger    logging.Logger

	secretKey            []byte
	sessionValidity      time.Duration
	minTimeBetweenEmails time.Duration
	stagedSecretTTL      time.Duration
	maxFailedAuthTries   int

	now       func() time.Time
	newSecret func() (string, error)
}

// Option customises a Service.
type Option func(*Service)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithTokenGenerator replaces the random secret generator, for tests.
func WithTokenGenerator(fn func() (string, error)) Option {
	return func(s *Service) { s.newSecret = fn }
}

// NewService builds a Service from its collaborators and the server config.
func NewService(st store.Store, deps Deps, cfg *config.Config, opts ...Option) *Service {
	if deps.Observer == nil {
		deps.Observer = nopObserver{}
	}
	if deps.Logger == nil {
		deps.Logger = logging.Nop()
	}
	s := &Service{
		store:                st,
		hasher:               deps.Hasher,
		mailer:               deps.Mailer,
		verifier:             deps.Verifier,
		authority:            deps.Authority,
		obs:                  deps.Observer,
		logger:               deps.Logger.With("module", "lifecycle"),
		secretKey:            []byte(cfg.SecretKey),
		sessionValidity:      cfg.SessionValidityDuration,
		minTimeBetweenEmails: cfg.MinTimeBetweenEmails,
		stagedSecretTTL:      cfg.StagedSecretTTL,
		maxFailedAuthTries:   cfg.MaxFailedAuthTries,
		now:                  time.Now,
		newSecret:            common.NewSecret,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Service) observe(op string, err error) {
	s.obs.ObserveLifecycle(op, err)
}

// Session is an authenticated session handed back to the client.
type Session struct {
	UserID int64
	Email  string
	Token  string
}

// issueSession signs a session for uid. The issue time is kept strictly
// after the user's last password reset, so a session minted in the same
// millisecond as a reset is never mistaken for one that predates it.
func (s *Service) issueSession(ctx context.Context, uid int64, email string, level auth.Level) (*Session, error) {
	reset, err := s.store.LastPasswordReset(ctx, uid)
	if err != nil {
		return nil, err
	}
	issuedAt := s.now().Truncate(time.Millisecond)
	if !issuedAt.After(reset) {
		issuedAt = reset.Add(time.Millisecond)
	}
	tok, err := auth.GenerateToken(uid, level, s.secretKey, issuedAt, s.sessionValidity)
	if err != nil {
		return nil, fmt.Errorf("issue session: %w", err)
	}
	return &Session{UserID: uid, Email: email, Token: tok}, nil
}

// checkEmail accepts a bare addr-spec.
func checkEmail(email string) (string, error) {
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || addr.Name != "" {
		return "", fmt.Errorf("%w: %q is not an email address", common.ErrInvalidArgument, email)
	}
	at := strings.LastIndexByte(email, '@')
	domain := strings.ToLower(email[at+1:])
	if !strings.Contains(domain, ".") && domain != "localhost" {
		return "", fmt.Errorf("%w: %q is not an email address", common.ErrInvalidArgument, email)
	}
	return domain, nil
}
