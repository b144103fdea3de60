// Package verifier checks identity assertions.
//
// An assertion bundle is "cert~assertion" or a bare "assertion", each part a
// compact JWS. The certificate is signed by the issuer that is authoritative
// for the principal's email domain and binds the subject's public key; the
// assertion is signed with that subject key and scoped to one audience.
// Every failure is returned as a typed *Error.
package verifier

import (
	"context"
	"crypto"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Verifier is implemented by Engine and by the worker pool in front of it.
type Verifier interface {
	Verify(ctx context.Context, req Request) (*Result, error)
}

var signingMethods = []string{
	jwt.SigningMethodRS256.Alg(),
	jwt.SigningMethodES256.Alg(),
	jwt.SigningMethodEdDSA.Alg(),
}

type principal struct {
	Email           string `json:"email,omitempty"`
	UnverifiedEmail string `json:"unverified-email,omitempty"`
}

// CertClaims is the certificate payload.
type CertClaims struct {
	jwt.RegisteredClaims
	PublicKey string    `json:"public-key"`
	Principal principal `json:"principal"`
}

// NewCertClaims builds certificate claims for email, for issuers and tests.
func NewCertClaims(issuer, email string, verified bool, subjectKey string, issuedAt, expiresAt time.Time) CertClaims {
	c := CertClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		PublicKey: subjectKey,
	}
	if verified {
		c.Principal.Email = email
	} else {
		c.Principal.UnverifiedEmail = email
	}
	return c
}

// Engine runs the verification algorithm. It holds no per-request state and
// is safe for concurrent use.
type Engine struct {
	keys      KeyResolver
	authority *Authority
	now       func() time.Time
}

// Option customises an Engine.
type Option func(*Engine)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func NewEngine(keys KeyResolver, authority *Authority, opts ...Option) *Engine {
	e := &Engine{keys: keys, authority: authority, now: time.Now}
	for _, o := range opts {
		o(e)
	}
	return e
}

func (e *Engine) parser() *jwt.Parser {
	return jwt.NewParser(
		jwt.WithValidMethods(signingMethods),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(e.now),
	)
}

// Verify checks req and returns the asserted identity.
func (e *Engine) Verify(ctx context.Context, req Request) (*Result, error) {
	b, err := parseBundle(req.Assertion)
	if err != nil {
		return nil, err
	}
	if len(b.certs) > 1 {
		return nil, fail(KindChainingNotAllowed, "bundle carries %d certificates", len(b.certs))
	}
	audience, err := NormalizeAudience(req.Audience)
	if err != nil {
		return nil, err
	}

	var (
		subject  crypto.PublicKey
		email    string
		issuer   string
		verified bool
	)
	if len(b.certs) == 1 {
		cert, err := e.verifyCert(ctx, b.certs[0], req.ForceIssuer)
		if err != nil {
			return nil, err
		}
		if subject, err = ParsePublicKey(cert.PublicKey); err != nil {
			return nil, fail(KindMalformedInput, "certificate public-key: %v", err)
		}
		issuer = cert.Issuer
		email, verified = cert.Principal.Email, true
		if email == "" {
			email, verified = cert.Principal.UnverifiedEmail, false
		}
	} else {
		if req.SubjectKey == "" || req.SubjectEmail == "" {
			return nil, fail(KindMalformedInput, "no certificate and no declared subject key")
		}
		if subject, err = ParsePublicKey(req.SubjectKey); err != nil {
			return nil, fail(KindMalformedInput, "subject key: %v", err)
		}
		domain, err := emailDomain(req.SubjectEmail)
		if err != nil {
			return nil, err
		}
		authoritative, err := e.authority.Issuer(ctx, domain, req.ForceIssuer)
		if err != nil {
			return nil, err
		}
		if !e.authority.IsFallback(authoritative) {
			return nil, fail(KindIssuerMismatch, "%s has a primary identity provider", domain)
		}
		email, issuer, verified = req.SubjectEmail, authoritative, true
	}

	claims := &jwt.RegisteredClaims{}
	if _, err := e.parser().ParseWithClaims(b.assertion, claims, func(*jwt.Token) (any, error) {
		return subject, nil
	}); err != nil {
		return nil, classify("assertion", err)
	}
	if len(claims.Audience) != 1 {
		return nil, fail(KindMalformedInput, "assertion must name exactly one audience")
	}
	got, err := NormalizeAudience(claims.Audience[0])
	if err != nil {
		return nil, err
	}
	if got != audience {
		return nil, fail(KindAudienceMismatch, "assertion is for %s, expected %s", got, audience)
	}

	if !verified && !req.AllowUnverified {
		return nil, fail(KindUnverifiedEmail, "certificate principal is unverified")
	}

	return &Result{
		Email:     email,
		Audience:  claims.Audience[0],
		ExpiresAt: claims.ExpiresAt.Time.UTC(),
		Issuer:    issuer,
		Verified:  verified,
	}, nil
}

// verifyCert checks issuer authority before fetching any key, so a forged
// certificate never makes the service contact an arbitrary host.
func (e *Engine) verifyCert(ctx context.Context, raw, forceIssuer string) (*CertClaims, error) {
	p := e.parser()

	unverified := &CertClaims{}
	if _, _, err := p.ParseUnverified(raw, unverified); err != nil {
		return nil, fail(KindMalformedInput, "certificate: %v", err)
	}
	email := unverified.Principal.Email
	if email == "" {
		email = unverified.Principal.UnverifiedEmail
	}
	domain, err := emailDomain(email)
	if err != nil {
		return nil, err
	}
	authoritative, err := e.authority.Issuer(ctx, domain, forceIssuer)
	if err != nil {
		return nil, err
	}
	if !strings.EqualFold(unverified.Issuer, authoritative) {
		return nil, fail(KindIssuerMismatch, "%s may not speak for %s, expected %s", unverified.Issuer, domain, authoritative)
	}

	key, err := e.keys.IssuerKey(ctx, authoritative)
	if err != nil {
		if errors.Is(err, ErrNoKey) {
			return nil, fail(KindBadSignature, "no public key for issuer %s", authoritative)
		}
		return nil, fail(KindUnavailable, "issuer key: %v", err)
	}

	cert := &CertClaims{}
	if _, err := p.ParseWithClaims(raw, cert, func(*jwt.Token) (any, error) { return key, nil }); err != nil {
		return nil, classify("certificate", err)
	}
	return cert, nil
}

func classify(what string, err error) *Error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired), errors.Is(err, jwt.ErrTokenNotValidYet):
		return fail(KindExpired, "%s: %v", what, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return fail(KindBadSignature, "%s: %v", what, err)
	default:
		return fail(KindMalformedInput, "%s: %v", what, err)
	}
}

func emailDomain(email string) (string, error) {
	at := strings.LastIndexByte(email, '@')
	if at <= 0 || at == len(email)-1 {
		return "", fail(KindMalformedInput, "principal %q is not an email address", email)
	}
	return strings.ToLower(email[at+1:]), nil
}
