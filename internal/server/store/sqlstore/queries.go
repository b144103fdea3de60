package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"github.com/dmitrijs2005/gophid/internal/common"
	"github.com/dmitrijs2005/gophid/internal/dbx"
	"github.com/dmitrijs2005/gophid/internal/server/models"
	"github.com/dmitrijs2005/gophid/internal/timex"
)

// queries runs single statements against either the pool or a transaction.
type queries struct {
	db      dbx.DBTX
	dialect dbx.Dialect
}

func (q queries) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return q.db.ExecContext(ctx, q.dialect.Rebind(query), args...)
}

func (q queries) row(ctx context.Context, query string, args ...any) *sql.Row {
	return q.db.QueryRowContext(ctx, q.dialect.Rebind(query), args...)
}

func (q queries) rows(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return q.db.QueryContext(ctx, q.dialect.Rebind(query), args...)
}

// execOne runs an update that must touch a row; missing means ErrNotFound.
func (q queries) execOne(ctx context.Context, what string, query string, args ...any) error {
	res, err := q.exec(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: no such %s", common.ErrNotFound, what)
	}
	return nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullInt(v int64) any {
	if v == 0 {
		return nil
	}
	return v
}

// users

func (q queries) user(ctx context.Context, uid int64) (*models.User, error) {
	var (
		u      models.User
		passwd sql.NullString
		reset  int64
	)
	err := q.row(ctx,
		`SELECT id, passwd, last_password_reset, failed_auth_tries FROM users WHERE id = ?`, uid).
		Scan(&u.ID, &passwd, &reset, &u.FailedAuthTries)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: no such user", common.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	u.PasswordHash = passwd.String
	u.LastPasswordReset = timex.FromMillis(reset)
	return &u, nil
}

func (q queries) insertUser(ctx context.Context, passwd string, lastReset int64) (int64, error) {
	var id int64
	err := q.row(ctx,
		`INSERT INTO users (passwd, last_password_reset, failed_auth_tries) VALUES (?, ?, 0) RETURNING id`,
		nullString(passwd), lastReset).Scan(&id)
	return id, err
}

func (q queries) setPassword(ctx context.Context, uid int64, passwd string) error {
	return q.execOne(ctx, "user",
		`UPDATE users SET passwd = ?, failed_auth_tries = 0 WHERE id = ?`, nullString(passwd), uid)
}

func (q queries) setLastPasswordReset(ctx context.Context, uid int64, ms int64) error {
	return q.execOne(ctx, "user",
		`UPDATE users SET last_password_reset = ? WHERE id = ?`, ms, uid)
}

func (q queries) deleteUser(ctx context.Context, uid int64) error {
	return q.execOne(ctx, "user", `DELETE FROM users WHERE id = ?`, uid)
}

// emails

func (q queries) email(ctx context.Context, address string) (*models.Email, error) {
	var e models.Email
	err := q.row(ctx,
		`SELECT user_id, address, type, verified FROM emails WHERE address = ?`, address).
		Scan(&e.UserID, &e.Address, &e.Type, &e.Verified)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: no such email", common.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// emailOrNil is email with a missing row reported as nil.
func (q queries) emailOrNil(ctx context.Context, address string) (*models.Email, error) {
	e, err := q.email(ctx, address)
	if errors.Is(err, common.ErrNotFound) {
		return nil, nil
	}
	return e, err
}

func (q queries) emailInfo(ctx context.Context, address string) (*models.EmailInfo, error) {
	var (
		info   models.EmailInfo
		passwd sql.NullString
	)
	err := q.row(ctx,
		`SELECT e.address, e.type, e.verified, u.passwd
		 FROM emails e JOIN users u ON u.id = e.user_id
		 WHERE LOWER(e.address) = LOWER(?)
		 ORDER BY e.id LIMIT 1`, address).
		Scan(&info.NormalizedEmail, &info.LastUsedAs, &info.Verified, &passwd)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	info.HasPassword = passwd.String != ""
	return &info, nil
}

func (q queries) listEmails(ctx context.Context, uid int64) ([]string, error) {
	rows, err := q.rows(ctx, `SELECT address FROM emails WHERE user_id = ?`, uid)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var a string
		if err := rows.Scan(&a); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.Strings(out)
	return out, nil
}

func (q queries) insertEmail(ctx context.Context, uid int64, address string, t models.EmailType, verified bool) error {
	_, err := q.exec(ctx,
		`INSERT INTO emails (user_id, address, type, verified) VALUES (?, ?, ?, ?)`,
		uid, address, string(t), verified)
	return err
}

func (q queries) deleteEmail(ctx context.Context, address string) error {
	_, err := q.exec(ctx, `DELETE FROM emails WHERE address = ?`, address)
	return err
}

func (q queries) deleteEmailsOf(ctx context.Context, uid int64) error {
	_, err := q.exec(ctx, `DELETE FROM emails WHERE user_id = ?`, uid)
	return err
}

func (q queries) setEmailType(ctx context.Context, address string, t models.EmailType) error {
	return q.execOne(ctx, "email", `UPDATE emails SET type = ? WHERE address = ?`, string(t), address)
}

// revokeTrust marks every secondary address of uid other than keep as
// unverified and keep itself as verified.
func (q queries) revokeTrust(ctx context.Context, uid int64, keep string) error {
	if _, err := q.exec(ctx,
		`UPDATE emails SET verified = ? WHERE user_id = ? AND address <> ? AND type = ?`,
		false, uid, keep, string(models.EmailTypeSecondary)); err != nil {
		return err
	}
	_, err := q.exec(ctx, `UPDATE emails SET verified = ? WHERE address = ?`, true, keep)
	return err
}

// staged

const stagedColumns = `secret, kind, email, existing_user, passwd, email_type, created_at`

func scanStaged(row *sql.Row) (*models.StagedSecret, error) {
	var (
		s        models.StagedSecret
		existing sql.NullInt64
		passwd   sql.NullString
		created  int64
	)
	err := row.Scan(&s.Secret, &s.Kind, &s.Email, &existing, &passwd, &s.EmailType, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: no such secret", common.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	s.ExistingUser = existing.Int64
	s.PasswordHash = passwd.String
	s.CreatedAt = timex.FromMillis(created)
	return &s, nil
}

func (q queries) stagedBySecret(ctx context.Context, secret string) (*models.StagedSecret, error) {
	return scanStaged(q.row(ctx, `SELECT `+stagedColumns+` FROM staged WHERE secret = ?`, secret))
}

func (q queries) stagedByEmail(ctx context.Context, email string) (*models.StagedSecret, error) {
	return scanStaged(q.row(ctx, `SELECT `+stagedColumns+` FROM staged WHERE email = ?`, email))
}

func (q queries) insertStaged(ctx context.Context, s models.StagedSecret) error {
	_, err := q.exec(ctx,
		`INSERT INTO staged (secret, kind, email, existing_user, passwd, email_type, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		s.Secret, string(s.Kind), s.Email, nullInt(s.ExistingUser), nullString(s.PasswordHash),
		string(s.EmailType), timex.ToMillis(s.CreatedAt))
	return err
}

func (q queries) deleteStagedBySecret(ctx context.Context, secret string) error {
	_, err := q.exec(ctx, `DELETE FROM staged WHERE secret = ?`, secret)
	return err
}

func (q queries) deleteStagedByEmail(ctx context.Context, email string) error {
	_, err := q.exec(ctx, `DELETE FROM staged WHERE email = ?`, email)
	return err
}

func (q queries) deleteStagedOf(ctx context.Context, uid int64) error {
	_, err := q.exec(ctx, `DELETE FROM staged WHERE existing_user = ?`, uid)
	return err
}

func (q queries) purgeStaged(ctx context.Context, beforeMillis int64) (int, error) {
	res, err := q.exec(ctx, `DELETE FROM staged WHERE created_at < ?`, beforeMillis)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// idp

func (q queries) idpLastSeen(ctx context.Context, domain string) (int64, error) {
	var ms int64
	err := q.row(ctx, `SELECT last_seen FROM idp WHERE domain = ?`, domain).Scan(&ms)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return ms, err
}

func (q queries) upsertIDP(ctx context.Context, domain string, ms int64) error {
	_, err := q.exec(ctx,
		`INSERT INTO idp (domain, last_seen) VALUES (?, ?)
		 ON CONFLICT (domain) DO UPDATE SET last_seen = excluded.last_seen`, domain, ms)
	return err
}

func (q queries) deleteIDP(ctx context.Context, domain string) error {
	_, err := q.exec(ctx, `DELETE FROM idp WHERE domain = ?`, domain)
	return err
}
