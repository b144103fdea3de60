package verifier

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type keyPair struct {
	private crypto.Signer
	method  jwt.SigningMethod
}

func newRSA(t *testing.T) keyPair {
	t.Helper()
	k, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return keyPair{private: k, method: jwt.SigningMethodRS256}
}

func newEC(t *testing.T) keyPair {
	t.Helper()
	k, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	return keyPair{private: k, method: jwt.SigningMethodES256}
}

func newEd(t *testing.T) keyPair {
	t.Helper()
	_, k, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	return keyPair{private: k, method: jwt.SigningMethodEdDSA}
}

func (k keyPair) public() crypto.PublicKey { return k.private.Public() }

func (k keyPair) encoded(t *testing.T) string {
	t.Helper()
	s, err := EncodePublicKey(k.public())
	require.NoError(t, err)
	return s
}

func (k keyPair) sign(t *testing.T, claims jwt.Claims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(k.method, claims).SignedString(k.private)
	require.NoError(t, err)
	return s
}

func (k keyPair) cert(t *testing.T, issuer, email string, verified bool, subject keyPair, exp time.Time) string {
	t.Helper()
	return k.sign(t, NewCertClaims(issuer, email, verified, subject.encoded(t), now.Add(-time.Minute), exp))
}

func assertion(t *testing.T, subject keyPair, audience string, exp time.Time) string {
	t.Helper()
	return subject.sign(t, jwt.RegisteredClaims{
		Audience:  jwt.ClaimStrings{audience},
		ExpiresAt: jwt.NewNumericDate(exp),
	})
}

type fixture struct {
	idp     keyPair
	proxy   keyPair
	self    keyPair
	user    keyPair
	engine  *Engine
	keys    StaticKeys
	proxies map[string]string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{idp: newRSA(t), proxy: newEC(t), self: newEd(t), user: newEC(t)}
	f.keys = StaticKeys{
		"idp.example":     f.idp.public(),
		"proxy.example":   f.proxy.public(),
		"login.localhost": f.self.public(),
	}
	f.proxies = map[string]string{"gmail.example": "proxy.example"}
	f.engine = NewEngine(f.keys, NewAuthority("login.localhost", f.proxies, f.keys), WithClock(func() time.Time { return now }))
	return f
}

func (f *fixture) bundle(t *testing.T, cert string, audience string) string {
	return cert + "~" + assertion(t, f.user, audience, now.Add(2*time.Minute))
}

func kindOf(err error) Kind {
	var verr *Error
	if errors.As(err, &verr) {
		return verr.Kind
	}
	return ""
}

func TestVerify_PrimaryCertificate(t *testing.T) {
	f := newFixture(t)
	cert := f.idp.cert(t, "idp.example", "u@idp.example", true, f.user, now.Add(time.Hour))

	res, err := f.engine.Verify(context.Background(), Request{
		Assertion: f.bundle(t, cert, "https://rp.example"),
		Audience:  "https://rp.example:443",
	})
	require.NoError(t, err)
	assert.Equal(t, "u@idp.example", res.Email)
	assert.Equal(t, "idp.example", res.Issuer)
	assert.Equal(t, "https://rp.example", res.Audience)
	assert.True(t, res.Verified)
	assert.True(t, res.ExpiresAt.Equal(now.Add(2*time.Minute)))
}

func TestVerify_AllAlgorithms(t *testing.T) {
	for name, subject := range map[string]keyPair{"RS256": newRSA(t), "ES256": newEC(t), "EdDSA": newEd(t)} {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			f.user = subject
			cert := f.idp.cert(t, "idp.example", "u@idp.example", true, subject, now.Add(time.Hour))
			_, err := f.engine.Verify(context.Background(), Request{
				Assertion: f.bundle(t, cert, "http://rp.example"),
				Audience:  "http://rp.example",
			})
			require.NoError(t, err)
		})
	}
}

func TestVerify_ProxyAndFallbackAuthority(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cert := f.proxy.cert(t, "proxy.example", "u@gmail.example", true, f.user, now.Add(time.Hour))
	res, err := f.engine.Verify(ctx, Request{Assertion: f.bundle(t, cert, "http://rp.example"), Audience: "http://rp.example"})
	require.NoError(t, err)
	assert.Equal(t, "proxy.example", res.Issuer)

	// the domain itself may not certify when a proxy is authoritative
	gmail := newRSA(t)
	f.keys["gmail.example"] = gmail.public()
	cert = gmail.cert(t, "gmail.example", "u@gmail.example", true, f.user, now.Add(time.Hour))
	_, err = f.engine.Verify(ctx, Request{Assertion: f.bundle(t, cert, "http://rp.example"), Audience: "http://rp.example"})
	assert.ErrorIs(t, err, ErrIssuerMismatch)

	// secondary domains are certified by this service
	cert = f.self.cert(t, "login.localhost", "u@nowhere.example", true, f.user, now.Add(time.Hour))
	res, err = f.engine.Verify(ctx, Request{Assertion: f.bundle(t, cert, "http://rp.example"), Audience: "http://rp.example"})
	require.NoError(t, err)
	assert.Equal(t, "login.localhost", res.Issuer)

	// but not for a domain with a primary
	cert = f.self.cert(t, "login.localhost", "u@idp.example", true, f.user, now.Add(time.Hour))
	_, err = f.engine.Verify(ctx, Request{Assertion: f.bundle(t, cert, "http://rp.example"), Audience: "http://rp.example"})
	assert.ErrorIs(t, err, ErrIssuerMismatch)
}

func TestVerify_ForceIssuer(t *testing.T) {
	f := newFixture(t)
	cert := f.proxy.cert(t, "proxy.example", "u@idp.example", true, f.user, now.Add(time.Hour))
	req := Request{Assertion: f.bundle(t, cert, "http://rp.example"), Audience: "http://rp.example"}

	_, err := f.engine.Verify(context.Background(), req)
	assert.ErrorIs(t, err, ErrIssuerMismatch)

	req.ForceIssuer = "proxy.example"
	res, err := f.engine.Verify(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "proxy.example", res.Issuer)
}

func TestVerify_Failures(t *testing.T) {
	f := newFixture(t)
	good := f.idp.cert(t, "idp.example", "u@idp.example", true, f.user, now.Add(time.Hour))
	forged := newRSA(t).cert(t, "idp.example", "u@idp.example", true, f.user, now.Add(time.Hour))
	expiredCert := f.idp.cert(t, "idp.example", "u@idp.example", true, f.user, now.Add(-time.Second))
	stranger := newEC(t)

	tests := []struct {
		name      string
		assertion string
		audience  string
		want      Kind
	}{
		{"empty", "", "http://rp.example", KindMalformedInput},
		{"garbage", "not-a-jws", "http://rp.example", KindMalformedInput},
		{"two certificates", good + "~" + good + "~" + assertion(t, f.user, "http://rp.example", now.Add(time.Minute)), "http://rp.example", KindChainingNotAllowed},
		{"forged certificate", f.bundle(t, forged, "http://rp.example"), "http://rp.example", KindBadSignature},
		{"expired certificate", f.bundle(t, expiredCert, "http://rp.example"), "http://rp.example", KindExpired},
		{"assertion by another key", good + "~" + assertion(t, stranger, "http://rp.example", now.Add(time.Minute)), "http://rp.example", KindBadSignature},
		{"expired assertion", good + "~" + assertion(t, f.user, "http://rp.example", now.Add(-time.Second)), "http://rp.example", KindExpired},
		{"other audience", f.bundle(t, good, "http://a.example"), "http://b.example", KindAudienceMismatch},
		{"other port", f.bundle(t, good, "http://a.example"), "http://a.example:8080", KindAudienceMismatch},
		{"bad audience", f.bundle(t, good, "http://a.example"), "a.example", KindMalformedInput},
		{"no certificate no key", assertion(t, f.user, "http://rp.example", now.Add(time.Minute)), "http://rp.example", KindMalformedInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.engine.Verify(context.Background(), Request{Assertion: tt.assertion, Audience: tt.audience})
			require.Error(t, err)
			assert.Equal(t, tt.want, kindOf(err), err.Error())
		})
	}
}

func TestVerify_ChainingRejectedBeforeSignatures(t *testing.T) {
	f := newFixture(t)
	forged := newRSA(t).cert(t, "idp.example", "u@idp.example", true, f.user, now.Add(time.Hour))

	_, err := f.engine.Verify(context.Background(), Request{
		Assertion: forged + "~" + forged + "~" + assertion(t, f.user, "http://rp.example", now.Add(time.Minute)),
		Audience:  "http://rp.example",
	})
	assert.ErrorIs(t, err, ErrChainingNotAllowed)
}

func TestVerify_AudienceMatch(t *testing.T) {
	f := newFixture(t)
	cert := f.idp.cert(t, "idp.example", "u@idp.example", true, f.user, now.Add(time.Hour))
	b := f.bundle(t, cert, "http://a.example")

	_, err := f.engine.Verify(context.Background(), Request{Assertion: b, Audience: "http://b.example"})
	assert.ErrorIs(t, err, ErrAudienceMismatch)

	_, err = f.engine.Verify(context.Background(), Request{Assertion: b, Audience: "http://a.example"})
	assert.NoError(t, err)
}

func TestVerify_UnverifiedEmail(t *testing.T) {
	f := newFixture(t)
	cert := f.self.cert(t, "login.localhost", "u@x.example", false, f.user, now.Add(time.Hour))
	req := Request{Assertion: f.bundle(t, cert, "http://rp.example"), Audience: "http://rp.example"}

	_, err := f.engine.Verify(context.Background(), req)
	assert.ErrorIs(t, err, ErrUnverifiedEmail)

	req.AllowUnverified = true
	res, err := f.engine.Verify(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "u@x.example", res.Email)
	assert.False(t, res.Verified)
}

func TestVerify_DeclaredSubjectKey(t *testing.T) {
	f := newFixture(t)
	req := Request{
		Assertion:    assertion(t, f.user, "http://rp.example", now.Add(time.Minute)),
		Audience:     "http://rp.example",
		SubjectKey:   f.user.encoded(t),
		SubjectEmail: "u@x.example",
	}

	res, err := f.engine.Verify(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "login.localhost", res.Issuer)
	assert.True(t, res.Verified)

	req.SubjectEmail = "u@idp.example"
	_, err = f.engine.Verify(context.Background(), req)
	assert.ErrorIs(t, err, ErrIssuerMismatch)
}

func TestError(t *testing.T) {
	err := fail(KindExpired, "cert %d", 1)
	assert.Equal(t, "expired: cert 1", err.Error())
	assert.ErrorIs(t, err, ErrExpired)
	assert.NotErrorIs(t, err, ErrBadSignature)
	assert.Equal(t, "timeout", ErrTimeout.Error())
}

func TestNormalizeAudience(t *testing.T) {
	tests := []struct {
		in, want string
		wantErr  bool
	}{
		{in: "http://a.example", want: "http://a.example:80"},
		{in: "https://A.example/path?q", want: "https://a.example:443"},
		{in: "https://a.example:8443", want: "https://a.example:8443"},
		{in: "app://a.example:1", want: "app://a.example:1"},
		{in: "app://a.example", wantErr: true},
		{in: "a.example", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := NormalizeAudience(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrMalformedInput)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
