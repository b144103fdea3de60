// Package sqlstore is the relational backend. It runs on PostgreSQL through
// the pgx stdlib driver and on SQLite through modernc.org/sqlite; queries are
// written once with '?' placeholders and rebound per dialect. Every flow that
// touches more than one row runs inside a single transaction.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/dmitrijs2005/gophid/internal/common"
	"github.com/dmitrijs2005/gophid/internal/dbx"
	"github.com/dmitrijs2005/gophid/internal/logging"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// Store is the relational backend.
type Store struct {
	db      *sql.DB
	dialect dbx.Dialect
	closed  atomic.Bool
	now     func() time.Time
	logger  logging.Logger
}

// Option customises a Store.
type Option func(*Store)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New wraps an open database handle.
func New(db *sql.DB, dialect dbx.Dialect, logger logging.Logger, opts ...Option) *Store {
	if logger == nil {
		logger = logging.Nop()
	}
	s := &Store{
		db:      db,
		dialect: dialect,
		now:     time.Now,
		logger:  logger.With("module", "sqlstore", "dialect", string(dialect)),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Open connects to dsn, optionally applies migrations, and checks the
// connection.
func Open(ctx context.Context, dialect dbx.Dialect, dsn string, createSchema bool, logger logging.Logger, opts ...Option) (*Store, error) {
	if dialect == dbx.SQLite {
		dsn = sqlitePragmas(dsn)
	}
	db, err := sql.Open(dialect.DriverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: open: %w", common.ErrBackendUnavailable, err)
	}
	if dialect == dbx.SQLite {
		// one writer at a time; also keeps in-memory databases on one connection
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: ping: %w", common.ErrBackendUnavailable, err)
	}

	if createSchema {
		if err := RunMigrations(ctx, db, dialect); err != nil {
			db.Close()
			return nil, fmt.Errorf("%w: %w", common.ErrBackendUnavailable, err)
		}
	}

	s := New(db, dialect, logger, opts...)
	s.logger.Debug(ctx, "relational store opened", "create_schema", createSchema)
	return s, nil
}

func sqlitePragmas(dsn string) string {
	if strings.Contains(dsn, "_pragma=foreign_keys") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	if !strings.HasPrefix(dsn, "file:") {
		dsn = "file:" + dsn
	}
	return dsn + sep + "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
}

// DB exposes the handle, for tests and health checks.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.db.Close()
}

// CloseAndRemove drops every table, then closes the store.
func (s *Store) CloseAndRemove(ctx context.Context) error {
	if s.closed.Load() {
		return fmt.Errorf("%w: store is closed", common.ErrNotReady)
	}
	for _, table := range []string{"idp", "staged", "emails", "users", "goose_db_version"} {
		if _, err := s.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+table); err != nil {
			return s.check(ctx, err)
		}
	}
	return s.Close()
}

func (s *Store) q() queries {
	return queries{db: s.db, dialect: s.dialect}
}

func (s *Store) ready() error {
	if s.closed.Load() {
		return fmt.Errorf("%w: store is closed", common.ErrNotReady)
	}
	return nil
}

// tx runs fn in a transaction; any error rolls everything back.
func (s *Store) tx(ctx context.Context, fn func(q queries) error) error {
	if err := s.ready(); err != nil {
		return err
	}
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		return fn(queries{db: tx, dialect: s.dialect})
	})
	return s.check(ctx, err)
}

// check passes domain errors through and turns anything else into
// ErrBackendUnavailable, logging it.
func (s *Store) check(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	for _, known := range []error{
		common.ErrNotFound, common.ErrInvalidArgument, common.ErrPermissionDenied,
		common.ErrDataInconsistency, common.ErrNotReady, common.ErrBackendUnavailable,
		context.Canceled, context.DeadlineExceeded,
	} {
		if errors.Is(err, known) {
			return err
		}
	}
	s.logger.Warn(ctx, "unexpected database failure", "error", err)
	return fmt.Errorf("%w: db error: %w", common.ErrBackendUnavailable, err)
}

func (s *Store) nowMillis() int64 {
	return s.now().UTC().UnixMilli()
}
