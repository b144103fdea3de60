package jsonstore

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dmitrijs2005/gophid/internal/common"
	"github.com/dmitrijs2005/gophid/internal/logging"
	"github.com/dmitrijs2005/gophid/internal/server/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTemp(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "db.json")
	s, err := Open(context.Background(), path, logging.Nop(),
		WithClock(func() time.Time { return time.UnixMilli(1_700_000_000_000).UTC() }))
	require.NoError(t, err)
	return s, path
}

func stageNew(t *testing.T, s *Store, email, secret string) int64 {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.StageUser(ctx, models.StageRequest{Email: email, PasswordHash: "h", EmailType: models.EmailTypeSecondary, Secret: secret}))
	c, err := s.CompleteCreateUser(ctx, secret)
	require.NoError(t, err)
	return c.UID
}

func TestOpen_MissingFileIsEmpty(t *testing.T) {
	s, path := openTemp(t)

	known, err := s.EmailKnown(context.Background(), "a@x.com")
	require.NoError(t, err)
	assert.False(t, known)

	// nothing is written until the first mutation
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestWrite_PersistsDocument(t *testing.T) {
	s, path := openTemp(t)
	uid := stageNew(t, s, "a@x.com", "s1")

	b, err := os.ReadFile(path)
	require.NoError(t, err)

	var d document
	require.NoError(t, json.Unmarshal(b, &d))
	require.Len(t, d.Users, 1)
	assert.Equal(t, uid, d.Users[0].ID)
	assert.Equal(t, jsonEmail{Type: models.EmailTypeSecondary, Verified: true}, d.Users[0].Emails["a@x.com"])
	assert.Empty(t, d.Staged)
	assert.Empty(t, d.StagedEmails)
	assert.Equal(t, uid+1, d.NextUserID)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestRead_SeesExternalChanges(t *testing.T) {
	s, path := openTemp(t)
	stageNew(t, s, "a@x.com", "s1")

	other, err := Open(context.Background(), path, logging.Nop())
	require.NoError(t, err)
	require.NoError(t, other.UpdateIDPLastSeen(context.Background(), "idp.example"))

	seen, err := s.GetIDPLastSeen(context.Background(), "idp.example")
	require.NoError(t, err)
	assert.False(t, seen.IsZero())
}

func TestLoad_CorruptFile(t *testing.T) {
	s, path := openTemp(t)
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	_, err := s.EmailKnown(context.Background(), "a@x.com")
	assert.ErrorIs(t, err, common.ErrBackendUnavailable)

	_, err = Open(context.Background(), path, logging.Nop())
	assert.ErrorIs(t, err, common.ErrBackendUnavailable)
}

func TestWrite_FailedPersistLeavesStateUnchanged(t *testing.T) {
	if os.Getuid() == 0 {
		t.Skip("permissions are not enforced for root")
	}
	s, path := openTemp(t)
	uid := stageNew(t, s, "a@x.com", "s1")

	dir := filepath.Dir(path)
	require.NoError(t, os.Chmod(dir, 0o500))
	t.Cleanup(func() { _ = os.Chmod(dir, 0o700) })

	err := s.IncAuthFailures(context.Background(), uid)
	assert.ErrorIs(t, err, common.ErrBackendUnavailable)

	require.NoError(t, os.Chmod(dir, 0o700))
	auth, err := s.CheckAuth(context.Background(), uid)
	require.NoError(t, err)
	assert.Zero(t, auth.FailedAuthTries)
}

func TestLoad_FillsMissingMaps(t *testing.T) {
	s, path := openTemp(t)
	raw := `{"users":[{"id":7,"password":"h","lastPasswordReset":1,"failedAuthTries":0}]}`
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o600))

	emails, err := s.ListEmails(context.Background(), 7)
	require.NoError(t, err)
	assert.Empty(t, emails)

	// new ids continue after the highest existing one
	uid := stageNew(t, s, "b@x.com", "s2")
	assert.Equal(t, int64(8), uid)
}

func TestSnapshot(t *testing.T) {
	s, _ := openTemp(t)
	stageNew(t, s, "a@x.com", "s1")

	b, err := s.Snapshot(context.Background())
	require.NoError(t, err)

	var d document
	require.NoError(t, json.Unmarshal(b, &d))
	assert.Len(t, d.Users, 1)
}

func TestCloseAndRemove(t *testing.T) {
	s, path := openTemp(t)
	stageNew(t, s, "a@x.com", "s1")

	require.NoError(t, s.CloseAndRemove(context.Background()))
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	assert.ErrorIs(t, s.Ping(context.Background()), common.ErrNotReady)
}

func TestCanceledContext(t *testing.T) {
	s, _ := openTemp(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.EmailKnown(ctx, "a@x.com")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBumpReset(t *testing.T) {
	u := &jsonUser{LastPasswordReset: 100}
	u.bumpReset(50)
	assert.Equal(t, int64(101), u.LastPasswordReset)
	u.bumpReset(200)
	assert.Equal(t, int64(200), u.LastPasswordReset)
}
