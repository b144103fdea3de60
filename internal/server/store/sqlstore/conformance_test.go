package sqlstore_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/dmitrijs2005/gophid/internal/dbx"
	"github.com/dmitrijs2005/gophid/internal/logging"
	"github.com/dmitrijs2005/gophid/internal/server/store"
	"github.com/dmitrijs2005/gophid/internal/server/store/sqlstore"
	"github.com/dmitrijs2005/gophid/internal/server/store/storetest"
	"github.com/stretchr/testify/require"
)

func TestConformance_SQLite(t *testing.T) {
	storetest.Run(t, func(t *testing.T, clock func() time.Time) store.Store {
		dsn := filepath.Join(t.TempDir(), "gophid.db")
		s, err := sqlstore.Open(context.Background(), dbx.SQLite, dsn, true, logging.Nop(), sqlstore.WithClock(clock))
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestOpen_SQLiteRemovesTables(t *testing.T) {
	ctx := context.Background()
	dsn := filepath.Join(t.TempDir(), "gophid.db")

	s, err := sqlstore.Open(ctx, dbx.SQLite, dsn, true, logging.Nop())
	require.NoError(t, err)
	require.NoError(t, s.UpdateIDPLastSeen(ctx, "idp.example"))
	require.NoError(t, s.CloseAndRemove(ctx))

	// reopening without schema creation finds no tables
	s, err = sqlstore.Open(ctx, dbx.SQLite, dsn, false, logging.Nop())
	require.NoError(t, err)
	defer s.Close()
	_, err = s.GetIDPLastSeen(ctx, "idp.example")
	require.Error(t, err)
}
