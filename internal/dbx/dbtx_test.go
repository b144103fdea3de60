package dbx_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/gophid/internal/dbx"
	"github.com/dmitrijs2005/gophid/internal/server/store/sqlstore"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

// openStoreDB returns an in-memory database carrying the store schema.
func openStoreDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", "file:"+t.Name()+"?mode=memory&cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, sqlstore.RunMigrations(context.Background(), db, dbx.SQLite))
	return db
}

func count(t *testing.T, db *sql.DB, table string) int {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM `+table).Scan(&n))
	return n
}

// addUser inserts a user together with its first address, the way account
// creation does.
func addUser(ctx context.Context, tx dbx.DBTX, email string) error {
	res, err := tx.ExecContext(ctx, `INSERT INTO users (passwd, last_password_reset) VALUES ('hash', 1)`)
	if err != nil {
		return err
	}
	uid, err := res.LastInsertId()
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO emails (user_id, address) VALUES (?, ?)`, uid, email)
	return err
}

func TestWithTx_CommitsUserAndEmail(t *testing.T) {
	db := openStoreDB(t)

	err := dbx.WithTx(context.Background(), db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		return addUser(ctx, tx, "a@example.com")
	})
	require.NoError(t, err)
	require.Equal(t, 1, count(t, db, "users"))
	require.Equal(t, 1, count(t, db, "emails"))
}

func TestWithTx_DuplicateAddressLeavesNoOrphanUser(t *testing.T) {
	db := openStoreDB(t)
	ctx := context.Background()

	require.NoError(t, dbx.WithTx(ctx, db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		return addUser(ctx, tx, "a@example.com")
	}))

	err := dbx.WithTx(ctx, db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		return addUser(ctx, tx, "a@example.com")
	})
	require.Error(t, err, "unique address must fail the second insert")
	require.Equal(t, 1, count(t, db, "users"), "user row of the failed creation must be rolled back")
	require.Equal(t, 1, count(t, db, "emails"))
}

func TestWithTx_RollbackOnPanic(t *testing.T) {
	db := openStoreDB(t)

	defer func() {
		if r := recover(); r == nil {
			t.Fatalf("expected panic to propagate")
		}
		require.Equal(t, 0, count(t, db, "users"), "must roll back on panic")
	}()

	_ = dbx.WithTx(context.Background(), db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		require.NoError(t, addUser(ctx, tx, "p@example.com"))
		panic("kaput")
	})
}

func TestWithTx_BeginError(t *testing.T) {
	db := openStoreDB(t)
	require.NoError(t, db.Close())

	err := dbx.WithTx(context.Background(), db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		t.Fatalf("fn must not run without a transaction")
		return nil
	})
	require.Error(t, err)
}

func TestWithTx_RollbackFailureIsReported(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	opErr := errors.New("insert failed")
	rbErr := errors.New("connection reset")
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO users").WillReturnError(opErr)
	mock.ExpectRollback().WillReturnError(rbErr)

	err = dbx.WithTx(context.Background(), db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO users (passwd) VALUES ('x')`)
		return err
	})
	require.ErrorIs(t, err, opErr)
	require.ErrorIs(t, err, rbErr)
	require.NoError(t, mock.ExpectationsWereMet())
}
