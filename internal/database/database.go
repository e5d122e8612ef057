package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

var (
	ErrUserNotFound = errors.New("user not found")
	ErrPhoneTaken   = errors.New("phone already registered")
	ErrDuplicate    = errors.New("duplicate record")
)

const (
	dialectSQLite   = "sqlite"
	dialectPostgres = "postgres"
)

type Store struct {
	db     *sql.DB
	dbType string
}

// New opens postgres for a postgres DSN and sqlite otherwise. An empty DSN
// or a "sqlite:" prefix selects sqlite; "sqlite::memory:" keeps everything
// in memory.
func New(ctx context.Context, dsn string) (*Store, error) {
	var db *sql.DB
	var err error
	var dbType string

	if dsn == "" || strings.HasPrefix(dsn, "sqlite:") {
		dbType = dialectSQLite
		sqlitePath := "data.db"
		if strings.HasPrefix(dsn, "sqlite:") {
			sqlitePath = strings.TrimPrefix(dsn, "sqlite:")
		}
		db, err = sql.Open("sqlite", sqlitePath)
		if err != nil {
			return nil, fmt.Errorf("sqlite open: %w", err)
		}
		// sqlite allows one writer; a single connection also keeps
		// :memory: databases alive across queries.
		db.SetMaxOpenConns(1)
		if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
			db.Close()
			return nil, err
		}
	} else {
		dbType = dialectPostgres
		db, err = sql.Open("pgx", dsn)
		if err != nil {
			return nil, fmt.Errorf("postgres open: %w", err)
		}
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}

	store := &Store{db: db, dbType: dbType}
	if err := store.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return store, nil
}

func (s *Store) Close() {
	if s.db != nil {
		s.db.Close()
	}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Dialect() string {
	return s.dbType
}

func (s *Store) migrate(ctx context.Context) error {
	var schema string
	if s.dbType == dialectSQLite {
		schema = sqliteSchema
	} else {
		schema = postgresSchema
	}
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// ph returns the n-th bind placeholder for the active dialect.
func (s *Store) ph(n int) string {
	if s.dbType == dialectSQLite {
		return "?"
	}
	return "$" + strconv.Itoa(n)
}

// rebind rewrites ? placeholders for postgres.
func (s *Store) rebind(query string) string {
	if s.dbType == dialectSQLite {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString(s.ph(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// forUpdate locks the selected row on postgres; sqlite transactions are
// already serialized.
func (s *Store) forUpdate() string {
	if s.dbType == dialectSQLite {
		return ""
	}
	return " FOR UPDATE"
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE") || strings.Contains(msg, "duplicate") || strings.Contains(msg, "23505")
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS users (
    id TEXT PRIMARY KEY,
    phone TEXT UNIQUE NOT NULL,
    email TEXT,
    first_name TEXT NOT NULL,
    last_name TEXT NOT NULL,
    level TEXT NOT NULL DEFAULT 'basic',
    points INTEGER NOT NULL DEFAULT 0,
    completion INTEGER NOT NULL DEFAULT 0,
    monthly_limit INTEGER NOT NULL DEFAULT 0,
    used_this_month INTEGER NOT NULL DEFAULT 0,
    max_split_months INTEGER NOT NULL DEFAULT 0,
    interests TEXT NOT NULL DEFAULT '[]',
    referral_code TEXT UNIQUE NOT NULL,
    is_new_user INTEGER NOT NULL DEFAULT 1,
    spin_streak INTEGER NOT NULL DEFAULT 0,
    last_spin_at DATETIME,
    created_at DATETIME NOT NULL,
    updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS spin_records (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    spin_id TEXT NOT NULL,
    value INTEGER NOT NULL,
    angle REAL NOT NULL,
    streak INTEGER NOT NULL,
    created_at DATETIME NOT NULL,
    UNIQUE (user_id, spin_id)
);

CREATE TABLE IF NOT EXISTS points_transactions (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    kind TEXT NOT NULL,
    amount INTEGER NOT NULL,
    balance INTEGER NOT NULL,
    reference TEXT NOT NULL DEFAULT '',
    created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS config (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_spin_records_user ON spin_records(user_id, created_at);
CREATE INDEX IF NOT EXISTS idx_points_transactions_user ON points_transactions(user_id, created_at);
`

const postgresSchema = `
CREATE TABLE IF NOT EXISTS users (
    id TEXT PRIMARY KEY,
    phone TEXT UNIQUE NOT NULL,
    email TEXT,
    first_name TEXT NOT NULL,
    last_name TEXT NOT NULL,
    level TEXT NOT NULL DEFAULT 'basic',
    points BIGINT NOT NULL DEFAULT 0 CHECK (points >= 0),
    completion INTEGER NOT NULL DEFAULT 0,
    monthly_limit BIGINT NOT NULL DEFAULT 0,
    used_this_month BIGINT NOT NULL DEFAULT 0,
    max_split_months INTEGER NOT NULL DEFAULT 0,
    interests TEXT NOT NULL DEFAULT '[]',
    referral_code TEXT UNIQUE NOT NULL,
    is_new_user BOOLEAN NOT NULL DEFAULT TRUE,
    spin_streak INTEGER NOT NULL DEFAULT 0,
    last_spin_at TIMESTAMPTZ,
    created_at TIMESTAMPTZ NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS spin_records (
    id BIGSERIAL PRIMARY KEY,
    user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    spin_id TEXT NOT NULL,
    value BIGINT NOT NULL,
    angle DOUBLE PRECISION NOT NULL,
    streak INTEGER NOT NULL,
    created_at TIMESTAMPTZ NOT NULL,
    UNIQUE (user_id, spin_id)
);

CREATE TABLE IF NOT EXISTS points_transactions (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    kind TEXT NOT NULL,
    amount BIGINT NOT NULL,
    balance BIGINT NOT NULL,
    reference TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS config (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_spin_records_user ON spin_records(user_id, created_at);
CREATE INDEX IF NOT EXISTS idx_points_transactions_user ON points_transactions(user_id, created_at);
`
