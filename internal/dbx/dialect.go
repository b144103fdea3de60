package dbx

import (
	"strconv"
	"strings"
)

// Dialect names a SQL flavour understood by the relational store. Queries
// are written once with '?' placeholders and rebound per dialect.
type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite"
)

// DriverName returns the database/sql driver registered for the dialect.
func (d Dialect) DriverName() string {
	switch d {
	case Postgres:
		return "pgx"
	default:
		return "sqlite"
	}
}

// GooseDialect returns the dialect name goose expects.
func (d Dialect) GooseDialect() string {
	switch d {
	case Postgres:
		return "postgres"
	default:
		return "sqlite3"
	}
}

// Rebind rewrites '?' placeholders into the dialect's native form. Question
// marks inside single-quoted literals are left alone.
func (d Dialect) Rebind(query string) string {
	if d != Postgres {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)

	n := 0
	inLiteral := false
	for i := 0; i < len(query); i++ {
		c := query[i]
		switch {
		case c == '\'':
			inLiteral = !inLiteral
			b.WriteByte(c)
		case c == '?' && !inLiteral:
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}
