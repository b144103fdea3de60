// Package storetest is a conformance suite every store backend must pass.
// Backends run it from their own tests so both behave identically.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/gophid/internal/server/models"
	"github.com/dmitrijs2005/gophid/internal/server/store"
	"github.com/stretchr/testify/require"
)

// Clock is a manually advanced time source.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func NewClock() *Clock {
	return &Clock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Factory opens an empty backend that reads time from clock. The factory
// owns cleanup through t.Cleanup.
type Factory func(t *testing.T, clock func() time.Time) store.Store

type env struct {
	t     *testing.T
	ctx   context.Context
	s     store.Store
	clock *Clock
	n     int
}

// Run executes every conformance case against fresh backends from factory.
func Run(t *testing.T, factory Factory) {
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			clock := NewClock()
			e := &env{t: t, ctx: context.Background(), s: factory(t, clock.Now), clock: clock}
			c.fn(e)
		})
	}
}

func (e *env) secret() string {
	e.n++
	return fmt.Sprintf("secret-%04d", e.n)
}

// newUser creates an account owning email as a verified secondary address.
func (e *env) newUser(email, hash string) int64 {
	e.t.Helper()
	secret := e.secret()
	require.NoError(e.t, e.s.StageUser(e.ctx, models.StageRequest{
		Kind: models.StagedNewAccount, Email: email, PasswordHash: hash,
		EmailType: models.EmailTypeSecondary, Secret: secret,
	}))
	c, err := e.s.CompleteCreateUser(e.ctx, secret)
	require.NoError(e.t, err)
	return c.UID
}

// addSecondary attaches email to uid through the add-email flow.
func (e *env) addSecondary(uid int64, email string) {
	e.t.Helper()
	secret := e.secret()
	require.NoError(e.t, e.s.StageEmail(e.ctx, models.StageRequest{
		Kind: models.StagedAddEmail, Email: email, ExistingUser: uid,
		EmailType: models.EmailTypeSecondary, Secret: secret,
	}))
	_, err := e.s.CompleteConfirmEmail(e.ctx, secret)
	require.NoError(e.t, err)
}

func (e *env) stageReset(uid int64, email string) string {
	e.t.Helper()
	secret := e.secret()
	require.NoError(e.t, e.s.StageEmail(e.ctx, models.StageRequest{
		Kind: models.StagedPasswordReset, Email: email, ExistingUser: uid,
		EmailType: models.EmailTypeSecondary, Secret: secret,
	}))
	return secret
}
