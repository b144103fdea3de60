package storetest

import (
	"time"

	"github.com/dmitrijs2005/gophid/internal/common"
	"github.com/dmitrijs2005/gophid/internal/server/models"
	"github.com/dmitrijs2005/gophid/internal/server/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var cases = []struct {
	name string
	fn   func(e *env)
}{
	{"EmptyStore", emptyStore},
	{"NewAccount", newAccount},
	{"RestagingInvalidatesPreviousSecret", restaging},
	{"RedemptionIsSingleUse", singleUse},
	{"RedemptionKindIsChecked", kindChecked},
	{"CreateUserTransfersOwnership", createTransfersOwnership},
	{"ConfirmEmailTransfersOwnershipAndSetsPassword", confirmTransfers},
	{"PasswordResetRevokesTrust", resetRevokesTrust},
	{"PasswordResetDetectsOwnershipChange", resetInconsistency},
	{"AuthForVerificationSecretFallsBack", authFallback},
	{"AuthFailures", authFailures},
	{"UpdatePassword", updatePassword},
	{"EmailInfoIsCaseInsensitive", emailInfo},
	{"LastUsedAs", lastUsedAs},
	{"PrimaryEmails", primaryEmails},
	{"RemoveEmail", removeEmail},
	{"CancelAccount", cancelAccount},
	{"UnverifiedUser", unverifiedUser},
	{"IDPLastSeen", idpLastSeen},
	{"PurgeStagedBefore", purgeStaged},
	{"ReadOnlyRejectsWrites", readOnly},
	{"ClosedStoreIsNotReady", closedStore},
}

func emptyStore(e *env) {
	t, ctx, s := e.t, e.ctx, e.s

	require.NoError(t, s.Ping(ctx))

	known, err := s.EmailKnown(ctx, "nobody@example.com")
	require.NoError(t, err)
	assert.False(t, known)

	tp, err := s.EmailType(ctx, "nobody@example.com")
	require.NoError(t, err)
	assert.Equal(t, models.EmailTypeNone, tp)

	_, err = s.EmailIsVerified(ctx, "nobody@example.com")
	assert.ErrorIs(t, err, common.ErrNotFound)

	info, err := s.EmailInfo(ctx, "nobody@example.com")
	require.NoError(t, err)
	assert.Nil(t, info)

	_, err = s.EmailToUID(ctx, "nobody@example.com")
	assert.ErrorIs(t, err, common.ErrNotFound)

	_, err = s.EmailLastUsedAs(ctx, "nobody@example.com")
	assert.ErrorIs(t, err, common.ErrNotFound)

	known, hasPassword, err := s.UserKnown(ctx, 42)
	require.NoError(t, err)
	assert.False(t, known)
	assert.False(t, hasPassword)

	staged, err := s.IsStaged(ctx, "nobody@example.com")
	require.NoError(t, err)
	assert.False(t, staged)

	when, err := s.LastStaged(ctx, "nobody@example.com")
	require.NoError(t, err)
	assert.True(t, when.IsZero())

	secret, err := s.VerificationSecretForEmail(ctx, "nobody@example.com")
	require.NoError(t, err)
	assert.Empty(t, secret)

	have, err := s.HaveVerificationSecret(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, have)

	_, err = s.EmailForVerificationSecret(ctx, "missing")
	assert.ErrorIs(t, err, common.ErrNotFound)

	_, err = s.AuthForVerificationSecret(ctx, "missing")
	assert.ErrorIs(t, err, common.ErrNotFound)

	_, err = s.CheckAuth(ctx, 42)
	assert.ErrorIs(t, err, common.ErrNotFound)

	_, err = s.LastPasswordReset(ctx, 42)
	assert.ErrorIs(t, err, common.ErrNotFound)

	_, err = s.ListEmails(ctx, 42)
	assert.ErrorIs(t, err, common.ErrNotFound)

	seen, err := s.GetIDPLastSeen(ctx, "idp.example")
	require.NoError(t, err)
	assert.True(t, seen.IsZero())
}

func newAccount(e *env) {
	t, ctx, s := e.t, e.ctx, e.s

	secret := e.secret()
	require.NoError(t, s.StageUser(ctx, models.StageRequest{
		Email: "new@x.com", PasswordHash: "hash-P", EmailType: models.EmailTypeSecondary, Secret: secret,
	}))

	staged, err := s.IsStaged(ctx, "new@x.com")
	require.NoError(t, err)
	assert.True(t, staged)

	when, err := s.LastStaged(ctx, "new@x.com")
	require.NoError(t, err)
	assert.True(t, when.Equal(e.clock.Now()))

	got, err := s.VerificationSecretForEmail(ctx, "new@x.com")
	require.NoError(t, err)
	assert.Equal(t, secret, got)

	info, err := s.EmailForVerificationSecret(ctx, secret)
	require.NoError(t, err)
	assert.Equal(t, "new@x.com", info.Email)
	assert.Equal(t, models.StagedNewAccount, info.Kind)
	assert.Zero(t, info.ExistingUser)
	assert.Equal(t, "hash-P", info.PasswordHash)

	c, err := s.CompleteCreateUser(ctx, secret)
	require.NoError(t, err)
	assert.Equal(t, "new@x.com", c.Email)
	assert.NotZero(t, c.UID)

	known, err := s.EmailKnown(ctx, "new@x.com")
	require.NoError(t, err)
	assert.True(t, known)

	tp, err := s.EmailType(ctx, "new@x.com")
	require.NoError(t, err)
	assert.Equal(t, models.EmailTypeSecondary, tp)

	verified, err := s.EmailIsVerified(ctx, "new@x.com")
	require.NoError(t, err)
	assert.True(t, verified)

	auth, err := s.CheckAuth(ctx, c.UID)
	require.NoError(t, err)
	assert.Equal(t, "hash-P", auth.PasswordHash)
	assert.Zero(t, auth.FailedAuthTries)

	uid, err := s.EmailToUID(ctx, "new@x.com")
	require.NoError(t, err)
	assert.Equal(t, c.UID, uid)

	known, hasPassword, err := s.UserKnown(ctx, c.UID)
	require.NoError(t, err)
	assert.True(t, known)
	assert.True(t, hasPassword)

	staged, err = s.IsStaged(ctx, "new@x.com")
	require.NoError(t, err)
	assert.False(t, staged)

	other := e.newUser("other@x.com", "hash-Q")
	assert.NotEqual(t, c.UID, other)
}

func restaging(e *env) {
	t, ctx, s := e.t, e.ctx, e.s

	first, second := e.secret(), e.secret()
	req := models.StageRequest{Email: "twice@x.com", PasswordHash: "h", EmailType: models.EmailTypeSecondary}

	req.Secret = first
	require.NoError(t, s.StageUser(ctx, req))
	e.clock.Advance(time.Minute)
	req.Secret = second
	require.NoError(t, s.StageUser(ctx, req))

	have, err := s.HaveVerificationSecret(ctx, first)
	require.NoError(t, err)
	assert.False(t, have)

	when, err := s.LastStaged(ctx, "twice@x.com")
	require.NoError(t, err)
	assert.True(t, when.Equal(e.clock.Now()))

	_, err = s.CompleteCreateUser(ctx, first)
	assert.ErrorIs(t, err, common.ErrNotFound)

	c, err := s.CompleteCreateUser(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, "twice@x.com", c.Email)

	// reusing a live secret for another address is refused
	third := e.secret()
	require.NoError(t, s.StageUser(ctx, models.StageRequest{Email: "a@x.com", EmailType: models.EmailTypeSecondary, Secret: third}))
	err = s.StageUser(ctx, models.StageRequest{Email: "b@x.com", EmailType: models.EmailTypeSecondary, Secret: third})
	assert.ErrorIs(t, err, common.ErrInvalidArgument)
}

func singleUse(e *env) {
	t, ctx, s := e.t, e.ctx, e.s

	uid := e.newUser("one@x.com", "h")

	secret := e.secret()
	require.NoError(t, s.StageEmail(ctx, models.StageRequest{
		Kind: models.StagedAddEmail, Email: "two@x.com", ExistingUser: uid,
		EmailType: models.EmailTypeSecondary, Secret: secret,
	}))
	_, err := s.CompleteConfirmEmail(ctx, secret)
	require.NoError(t, err)
	_, err = s.CompleteConfirmEmail(ctx, secret)
	assert.ErrorIs(t, err, common.ErrNotFound)

	reset := e.stageReset(uid, "one@x.com")
	_, err = s.CompletePasswordReset(ctx, reset, "new-hash")
	require.NoError(t, err)
	_, err = s.CompletePasswordReset(ctx, reset, "newer-hash")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func kindChecked(e *env) {
	t, ctx, s := e.t, e.ctx, e.s

	uid := e.newUser("kind@x.com", "h")

	add := e.secret()
	require.NoError(t, s.StageEmail(ctx, models.StageRequest{
		Kind: models.StagedAddEmail, Email: "added@x.com", ExistingUser: uid,
		EmailType: models.EmailTypeSecondary, Secret: add,
	}))
	_, err := s.CompleteCreateUser(ctx, add)
	assert.ErrorIs(t, err, common.ErrInvalidArgument)
	_, err = s.CompletePasswordReset(ctx, add, "h2")
	assert.ErrorIs(t, err, common.ErrInvalidArgument)

	newAcct := e.secret()
	require.NoError(t, s.StageUser(ctx, models.StageRequest{Email: "fresh@x.com", EmailType: models.EmailTypeSecondary, Secret: newAcct}))
	_, err = s.CompleteConfirmEmail(ctx, newAcct)
	assert.ErrorIs(t, err, common.ErrInvalidArgument)

	reset := e.stageReset(uid, "kind@x.com")
	_, err = s.CompleteConfirmEmail(ctx, reset)
	assert.ErrorIs(t, err, common.ErrInvalidArgument)
	// no password anywhere
	_, err = s.CompletePasswordReset(ctx, reset, "")
	assert.ErrorIs(t, err, common.ErrInvalidArgument)

	// rejected redemptions do not consume the secret
	for _, secret := range []string{add, newAcct, reset} {
		have, err := s.HaveVerificationSecret(ctx, secret)
		require.NoError(t, err)
		assert.True(t, have, secret)
	}

	// wrong staging entry points
	err = s.StageUser(ctx, models.StageRequest{Kind: models.StagedAddEmail, Email: "z@x.com", ExistingUser: uid, EmailType: models.EmailTypeSecondary, Secret: e.secret()})
	assert.ErrorIs(t, err, common.ErrInvalidArgument)
	err = s.StageEmail(ctx, models.StageRequest{Kind: models.StagedNewAccount, Email: "z@x.com", EmailType: models.EmailTypeSecondary, Secret: e.secret()})
	assert.ErrorIs(t, err, common.ErrInvalidArgument)
	err = s.StageEmail(ctx, models.StageRequest{Kind: models.StagedAddEmail, Email: "z@x.com", ExistingUser: 9999, EmailType: models.EmailTypeSecondary, Secret: e.secret()})
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func createTransfersOwnership(e *env) {
	t, ctx, s := e.t, e.ctx, e.s

	original, err := s.CreateUserWithPrimaryEmail(ctx, "p@idp.com")
	require.NoError(t, err)

	secret := e.secret()
	require.NoError(t, s.StageUser(ctx, models.StageRequest{Email: "p@idp.com", PasswordHash: "h", EmailType: models.EmailTypeSecondary, Secret: secret}))
	c, err := s.CompleteCreateUser(ctx, secret)
	require.NoError(t, err)
	require.NotEqual(t, original.ID, c.UID)

	emails, err := s.ListEmails(ctx, original.ID)
	require.NoError(t, err)
	assert.Empty(t, emails)

	emails, err = s.ListEmails(ctx, c.UID)
	require.NoError(t, err)
	assert.Equal(t, []string{"p@idp.com"}, emails)

	owns, err := s.UserOwnsEmail(ctx, original.ID, "p@idp.com")
	require.NoError(t, err)
	assert.False(t, owns)
}

func confirmTransfers(e *env) {
	t, ctx, s := e.t, e.ctx, e.s

	a := e.newUser("a@x.com", "hash-a")
	e.addSecondary(a, "shared@x.com")

	b, err := s.CreateUserWithPrimaryEmail(ctx, "b@idp.com")
	require.NoError(t, err)

	secret := e.secret()
	require.NoError(t, s.StageEmail(ctx, models.StageRequest{
		Kind: models.StagedAddEmail, Email: "shared@x.com", ExistingUser: b.ID,
		PasswordHash: "hash-b", EmailType: models.EmailTypeSecondary, Secret: secret,
	}))
	c, err := s.CompleteConfirmEmail(ctx, secret)
	require.NoError(t, err)
	assert.Equal(t, b.ID, c.UID)

	same, err := s.EmailsBelongToSameAccount(ctx, "b@idp.com", "shared@x.com")
	require.NoError(t, err)
	assert.True(t, same)

	same, err = s.EmailsBelongToSameAccount(ctx, "a@x.com", "shared@x.com")
	require.NoError(t, err)
	assert.False(t, same)

	emails, err := s.ListEmails(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, []string{"a@x.com"}, emails)

	auth, err := s.CheckAuth(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, "hash-b", auth.PasswordHash)
}

func resetRevokesTrust(e *env) {
	t, ctx, s := e.t, e.ctx, e.s

	uid := e.newUser("main@x.com", "old")
	e.addSecondary(uid, "second@x.com")
	require.NoError(t, s.AddPrimaryEmailToAccount(ctx, uid, "p@idp.com"))

	before, err := s.LastPasswordReset(ctx, uid)
	require.NoError(t, err)

	// the clock does not move: the reset must still strictly advance
	secret := e.stageReset(uid, "main@x.com")
	c, err := s.CompletePasswordReset(ctx, secret, "new")
	require.NoError(t, err)
	assert.Equal(t, models.Completion{Email: "main@x.com", UID: uid}, *c)

	for email, want := range map[string]bool{"main@x.com": true, "second@x.com": false, "p@idp.com": true} {
		v, err := s.EmailIsVerified(ctx, email)
		require.NoError(t, err)
		assert.Equal(t, want, v, email)
	}

	after, err := s.LastPasswordReset(ctx, uid)
	require.NoError(t, err)
	assert.True(t, after.After(before))

	auth, err := s.CheckAuth(ctx, uid)
	require.NoError(t, err)
	assert.Equal(t, "new", auth.PasswordHash)

	// resetting through the unverified address re-trusts it
	secret = e.stageReset(uid, "second@x.com")
	_, err = s.CompletePasswordReset(ctx, secret, "newer")
	require.NoError(t, err)
	for email, want := range map[string]bool{"main@x.com": false, "second@x.com": true, "p@idp.com": true} {
		v, err := s.EmailIsVerified(ctx, email)
		require.NoError(t, err)
		assert.Equal(t, want, v, email)
	}
}

func resetInconsistency(e *env) {
	t, ctx, s := e.t, e.ctx, e.s

	a := e.newUser("moving@x.com", "h")
	secret := e.stageReset(a, "moving@x.com")

	b, err := s.CreateUserWithPrimaryEmail(ctx, "b@idp.com")
	require.NoError(t, err)
	require.NoError(t, s.AddPrimaryEmailToAccount(ctx, b.ID, "moving@x.com"))

	_, err = s.CompletePasswordReset(ctx, secret, "h2")
	assert.ErrorIs(t, err, common.ErrDataInconsistency)

	auth, err := s.CheckAuth(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, "h", auth.PasswordHash)
}

func authFallback(e *env) {
	t, ctx, s := e.t, e.ctx, e.s

	uid := e.newUser("fallback@x.com", "stored")

	explicit := e.secret()
	require.NoError(t, s.StageEmail(ctx, models.StageRequest{
		Kind: models.StagedAddEmail, Email: "with@x.com", ExistingUser: uid,
		PasswordHash: "staged", EmailType: models.EmailTypeSecondary, Secret: explicit,
	}))
	auth, err := s.AuthForVerificationSecret(ctx, explicit)
	require.NoError(t, err)
	assert.Equal(t, models.StagedAuth{PasswordHash: "staged", ExistingUser: uid, HadExplicitPassword: true}, *auth)

	implicit := e.secret()
	require.NoError(t, s.StageEmail(ctx, models.StageRequest{
		Kind: models.StagedAddEmail, Email: "without@x.com", ExistingUser: uid,
		EmailType: models.EmailTypeSecondary, Secret: implicit,
	}))
	auth, err = s.AuthForVerificationSecret(ctx, implicit)
	require.NoError(t, err)
	assert.Equal(t, models.StagedAuth{PasswordHash: "stored", ExistingUser: uid}, *auth)

	orphan := e.secret()
	require.NoError(t, s.StageUser(ctx, models.StageRequest{Email: "orphan@x.com", EmailType: models.EmailTypeSecondary, Secret: orphan}))
	_, err = s.AuthForVerificationSecret(ctx, orphan)
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func authFailures(e *env) {
	t, ctx, s := e.t, e.ctx, e.s

	uid := e.newUser("fail@x.com", "h")
	require.NoError(t, s.IncAuthFailures(ctx, uid))
	require.NoError(t, s.IncAuthFailures(ctx, uid))

	auth, err := s.CheckAuth(ctx, uid)
	require.NoError(t, err)
	assert.Equal(t, 2, auth.FailedAuthTries)

	require.NoError(t, s.ClearAuthFailures(ctx, uid))
	auth, err = s.CheckAuth(ctx, uid)
	require.NoError(t, err)
	assert.Zero(t, auth.FailedAuthTries)

	assert.ErrorIs(t, s.IncAuthFailures(ctx, 9999), common.ErrNotFound)
	assert.ErrorIs(t, s.ClearAuthFailures(ctx, 9999), common.ErrNotFound)
}

func updatePassword(e *env) {
	t, ctx, s := e.t, e.ctx, e.s

	uid := e.newUser("pw@x.com", "h1")
	require.NoError(t, s.IncAuthFailures(ctx, uid))
	before, err := s.LastPasswordReset(ctx, uid)
	require.NoError(t, err)

	require.NoError(t, s.UpdatePassword(ctx, uid, "h2", false))
	auth, err := s.CheckAuth(ctx, uid)
	require.NoError(t, err)
	assert.Equal(t, "h2", auth.PasswordHash)
	assert.Zero(t, auth.FailedAuthTries)
	same, err := s.LastPasswordReset(ctx, uid)
	require.NoError(t, err)
	assert.True(t, same.Equal(before))

	e.clock.Advance(time.Hour)
	require.NoError(t, s.UpdatePassword(ctx, uid, "h3", true))
	after, err := s.LastPasswordReset(ctx, uid)
	require.NoError(t, err)
	assert.True(t, after.Equal(e.clock.Now()))

	assert.ErrorIs(t, s.UpdatePassword(ctx, 9999, "h", true), common.ErrNotFound)
}

func emailInfo(e *env) {
	t, ctx, s := e.t, e.ctx, e.s

	e.newUser("Mixed.Case@X.com", "h")

	info, err := s.EmailInfo(ctx, "mixed.case@x.COM")
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, models.EmailInfo{
		NormalizedEmail: "Mixed.Case@X.com",
		LastUsedAs:      models.EmailTypeSecondary,
		Verified:        true,
		HasPassword:     true,
	}, *info)

	p, err := s.CreateUserWithPrimaryEmail(ctx, "only@idp.com")
	require.NoError(t, err)
	info, err = s.EmailInfo(ctx, "ONLY@idp.com")
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, models.EmailTypePrimary, info.LastUsedAs)
	assert.False(t, info.HasPassword)

	known, hasPassword, err := s.UserKnown(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, known)
	assert.False(t, hasPassword)

	// exact-match lookups stay exact
	known, err = s.EmailKnown(ctx, "mixed.case@x.com")
	require.NoError(t, err)
	assert.False(t, known)
}

func lastUsedAs(e *env) {
	t, ctx, s := e.t, e.ctx, e.s

	e.newUser("used@x.com", "h")
	require.NoError(t, s.UpdateEmailLastUsedAs(ctx, "used@x.com", models.EmailTypePrimary))

	tp, err := s.EmailLastUsedAs(ctx, "used@x.com")
	require.NoError(t, err)
	assert.Equal(t, models.EmailTypePrimary, tp)

	assert.ErrorIs(t, s.UpdateEmailLastUsedAs(ctx, "used@x.com", "tertiary"), common.ErrInvalidArgument)
	assert.ErrorIs(t, s.UpdateEmailLastUsedAs(ctx, "missing@x.com", models.EmailTypeSecondary), common.ErrNotFound)

	tp, err = s.EmailLastUsedAs(ctx, "used@x.com")
	require.NoError(t, err)
	assert.Equal(t, models.EmailTypePrimary, tp)
}

func primaryEmails(e *env) {
	t, ctx, s := e.t, e.ctx, e.s

	u, err := s.CreateUserWithPrimaryEmail(ctx, "first@idp.com")
	require.NoError(t, err)
	assert.True(t, u.LastPasswordReset.Equal(e.clock.Now()))
	assert.Empty(t, u.PasswordHash)

	require.NoError(t, s.AddPrimaryEmailToAccount(ctx, u.ID, "second@idp.com"))
	emails, err := s.ListEmails(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"first@idp.com", "second@idp.com"}, emails)

	tp, err := s.EmailType(ctx, "second@idp.com")
	require.NoError(t, err)
	assert.Equal(t, models.EmailTypePrimary, tp)

	other := e.newUser("other@x.com", "h")
	require.NoError(t, s.AddPrimaryEmailToAccount(ctx, other, "second@idp.com"))
	uid, err := s.EmailToUID(ctx, "second@idp.com")
	require.NoError(t, err)
	assert.Equal(t, other, uid)

	assert.ErrorIs(t, s.AddPrimaryEmailToAccount(ctx, 9999, "x@idp.com"), common.ErrNotFound)
}

func removeEmail(e *env) {
	t, ctx, s := e.t, e.ctx, e.s

	a := e.newUser("a@x.com", "h")
	e.addSecondary(a, "a2@x.com")
	b := e.newUser("b@x.com", "h")

	assert.ErrorIs(t, s.RemoveEmail(ctx, b, "a2@x.com"), common.ErrPermissionDenied)
	assert.ErrorIs(t, s.RemoveEmail(ctx, b, "missing@x.com"), common.ErrPermissionDenied)

	require.NoError(t, s.RemoveEmail(ctx, a, "a2@x.com"))
	emails, err := s.ListEmails(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, []string{"a@x.com"}, emails)
}

func cancelAccount(e *env) {
	t, ctx, s := e.t, e.ctx, e.s

	uid := e.newUser("gone@x.com", "h")
	e.addSecondary(uid, "gone2@x.com")
	pending := e.secret()
	require.NoError(t, s.StageEmail(ctx, models.StageRequest{
		Kind: models.StagedAddEmail, Email: "pending@x.com", ExistingUser: uid,
		EmailType: models.EmailTypeSecondary, Secret: pending,
	}))
	unrelated := e.secret()
	require.NoError(t, s.StageUser(ctx, models.StageRequest{Email: "unrelated@x.com", EmailType: models.EmailTypeSecondary, Secret: unrelated}))

	require.NoError(t, s.CancelAccount(ctx, uid))

	known, _, err := s.UserKnown(ctx, uid)
	require.NoError(t, err)
	assert.False(t, known)
	for _, email := range []string{"gone@x.com", "gone2@x.com"} {
		k, err := s.EmailKnown(ctx, email)
		require.NoError(t, err)
		assert.False(t, k, email)
	}
	have, err := s.HaveVerificationSecret(ctx, pending)
	require.NoError(t, err)
	assert.False(t, have)
	have, err = s.HaveVerificationSecret(ctx, unrelated)
	require.NoError(t, err)
	assert.True(t, have)

	assert.ErrorIs(t, s.CancelAccount(ctx, uid), common.ErrNotFound)

	// ids are never reused
	next := e.newUser("gone@x.com", "h")
	assert.Greater(t, next, uid)
}

func unverifiedUser(e *env) {
	t, ctx, s := e.t, e.ctx, e.s

	secret := e.secret()
	uid, err := s.CreateUnverifiedUser(ctx, "u@x.com", "h", secret)
	require.NoError(t, err)

	verified, err := s.EmailIsVerified(ctx, "u@x.com")
	require.NoError(t, err)
	assert.False(t, verified)

	got, err := s.VerificationSecretForEmail(ctx, "u@x.com")
	require.NoError(t, err)
	assert.Equal(t, secret, got)

	c, err := s.CompleteConfirmEmail(ctx, secret)
	require.NoError(t, err)
	assert.Equal(t, uid, c.UID)

	verified, err = s.EmailIsVerified(ctx, "u@x.com")
	require.NoError(t, err)
	assert.True(t, verified)

	_, err = s.CreateUnverifiedUser(ctx, "u@x.com", "h", e.secret())
	assert.ErrorIs(t, err, common.ErrInvalidArgument)
}

func idpLastSeen(e *env) {
	t, ctx, s := e.t, e.ctx, e.s

	require.NoError(t, s.UpdateIDPLastSeen(ctx, "IdP.example"))
	seen, err := s.GetIDPLastSeen(ctx, "idp.example")
	require.NoError(t, err)
	assert.True(t, seen.Equal(e.clock.Now()))

	e.clock.Advance(time.Hour)
	require.NoError(t, s.UpdateIDPLastSeen(ctx, "idp.example"))
	seen, err = s.GetIDPLastSeen(ctx, "idp.example")
	require.NoError(t, err)
	assert.True(t, seen.Equal(e.clock.Now()))

	require.NoError(t, s.ForgetIDP(ctx, "idp.example"))
	seen, err = s.GetIDPLastSeen(ctx, "idp.example")
	require.NoError(t, err)
	assert.True(t, seen.IsZero())

	require.NoError(t, s.ForgetIDP(ctx, "never.example"))
}

func purgeStaged(e *env) {
	t, ctx, s := e.t, e.ctx, e.s

	old := e.secret()
	require.NoError(t, s.StageUser(ctx, models.StageRequest{Email: "old@x.com", EmailType: models.EmailTypeSecondary, Secret: old}))
	e.clock.Advance(2 * time.Hour)
	fresh := e.secret()
	require.NoError(t, s.StageUser(ctx, models.StageRequest{Email: "fresh@x.com", EmailType: models.EmailTypeSecondary, Secret: fresh}))

	n, err := s.PurgeStagedBefore(ctx, e.clock.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	have, err := s.HaveVerificationSecret(ctx, old)
	require.NoError(t, err)
	assert.False(t, have)
	staged, err := s.IsStaged(ctx, "old@x.com")
	require.NoError(t, err)
	assert.False(t, staged)

	have, err = s.HaveVerificationSecret(ctx, fresh)
	require.NoError(t, err)
	assert.True(t, have)
}

func readOnly(e *env) {
	t, ctx := e.t, e.ctx

	uid := e.newUser("ro@x.com", "h")
	pending := e.secret()
	require.NoError(t, e.s.StageUser(ctx, models.StageRequest{Email: "pending@x.com", EmailType: models.EmailTypeSecondary, Secret: pending}))

	ro := store.NewGuarded(e.s, false, nil)
	req := models.StageRequest{Email: "w@x.com", EmailType: models.EmailTypeSecondary, Secret: e.secret()}

	writes := map[string]error{
		"StageUser": ro.StageUser(ctx, req),
		"StageEmail": ro.StageEmail(ctx, models.StageRequest{
			Kind: models.StagedAddEmail, Email: "w@x.com", ExistingUser: uid, EmailType: models.EmailTypeSecondary, Secret: e.secret(),
		}),
		"AddPrimaryEmailToAccount": ro.AddPrimaryEmailToAccount(ctx, uid, "p@idp.com"),
		"UpdateEmailLastUsedAs":    ro.UpdateEmailLastUsedAs(ctx, "ro@x.com", models.EmailTypePrimary),
		"IncAuthFailures":          ro.IncAuthFailures(ctx, uid),
		"ClearAuthFailures":        ro.ClearAuthFailures(ctx, uid),
		"UpdatePassword":           ro.UpdatePassword(ctx, uid, "h2", true),
		"RemoveEmail":              ro.RemoveEmail(ctx, uid, "ro@x.com"),
		"CancelAccount":            ro.CancelAccount(ctx, uid),
		"UpdateIDPLastSeen":        ro.UpdateIDPLastSeen(ctx, "idp.example"),
		"ForgetIDP":                ro.ForgetIDP(ctx, "idp.example"),
	}
	_, writes["CompleteCreateUser"] = ro.CompleteCreateUser(ctx, pending)
	_, writes["CompleteConfirmEmail"] = ro.CompleteConfirmEmail(ctx, pending)
	_, writes["CompletePasswordReset"] = ro.CompletePasswordReset(ctx, pending, "h")
	_, writes["CreateUserWithPrimaryEmail"] = ro.CreateUserWithPrimaryEmail(ctx, "p@idp.com")
	_, writes["CreateUnverifiedUser"] = ro.CreateUnverifiedUser(ctx, "u@x.com", "h", e.secret())
	_, writes["PurgeStagedBefore"] = ro.PurgeStagedBefore(ctx, e.clock.Now().Add(time.Hour))

	for name, err := range writes {
		assert.ErrorIs(t, err, common.ErrPermissionDenied, name)
	}

	// nothing changed
	have, err := ro.HaveVerificationSecret(ctx, pending)
	require.NoError(t, err)
	assert.True(t, have)
	emails, err := ro.ListEmails(ctx, uid)
	require.NoError(t, err)
	assert.Equal(t, []string{"ro@x.com"}, emails)
	auth, err := ro.CheckAuth(ctx, uid)
	require.NoError(t, err)
	assert.Equal(t, "h", auth.PasswordHash)
	assert.Zero(t, auth.FailedAuthTries)
	known, err := ro.EmailKnown(ctx, "p@idp.com")
	require.NoError(t, err)
	assert.False(t, known)
}

func closedStore(e *env) {
	t, ctx, s := e.t, e.ctx, e.s

	require.NoError(t, s.Close())

	assert.ErrorIs(t, s.Ping(ctx), common.ErrNotReady)
	_, err := s.EmailKnown(ctx, "a@x.com")
	assert.ErrorIs(t, err, common.ErrNotReady)
	err = s.StageUser(ctx, models.StageRequest{Email: "a@x.com", EmailType: models.EmailTypeSecondary, Secret: e.secret()})
	assert.ErrorIs(t, err, common.ErrNotReady)
	_, err = s.CompleteCreateUser(ctx, "x")
	assert.ErrorIs(t, err, common.ErrNotReady)
}
