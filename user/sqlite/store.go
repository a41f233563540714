// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package sqlite is a user.Repository backed by a SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/rplogin/user"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id             TEXT PRIMARY KEY,
	email          TEXT NOT NULL COLLATE NOCASE,
	name           TEXT NOT NULL,
	roles          TEXT NOT NULL,
	provider       TEXT NOT NULL,
	provider_id    TEXT NOT NULL,
	email_verified INTEGER NOT NULL DEFAULT 0,
	picture_url    TEXT NOT NULL DEFAULT '',
	password_hash  TEXT NOT NULL,
	created_at     INTEGER NOT NULL,
	updated_at     INTEGER NOT NULL,
	UNIQUE (provider, provider_id),
	UNIQUE (email)
);
`

const selectColumns = `id, email, name, roles, provider, provider_id, email_verified, picture_url, password_hash, created_at, updated_at`

// Store implements user.Repository over SQLite.
type Store struct {
	db *sql.DB
}

var _ user.Repository = (*Store)(nil)

// Open opens (creating if needed) the SQLite database at path and applies
// the schema.
func Open(path string) (*Store, error) {
	const op = "sqlite.Open"
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("%s: storage path is required: %w", op, user.ErrInvalidParameter)
	}

	dsn := filepath.Clean(path) + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("%s: open sqlite db: %w", op, err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%s: ping sqlite db: %w", op, err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%s: apply schema: %w", op, err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// FindByExternalIdentity returns the user bound to (provider, providerID).
func (s *Store) FindByExternalIdentity(ctx context.Context, provider, providerID string) (*user.User, error) {
	const op = "sqlite.(Store).FindByExternalIdentity"
	row := s.db.QueryRowContext(ctx,
		`SELECT `+selectColumns+` FROM users WHERE provider = ? AND provider_id = ?`,
		provider, providerID,
	)
	u, err := scanUser(row)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return u, nil
}

// FindByEmail returns the user with email, compared case-insensitively.
func (s *Store) FindByEmail(ctx context.Context, email string) (*user.User, error) {
	const op = "sqlite.(Store).FindByEmail"
	row := s.db.QueryRowContext(ctx,
		`SELECT `+selectColumns+` FROM users WHERE email = ?`,
		email,
	)
	u, err := scanUser(row)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return u, nil
}

// Create inserts u. A duplicate id, external identity or email is
// user.ErrAlreadyExists.
func (s *Store) Create(ctx context.Context, u *user.User) error {
	const op = "sqlite.(Store).Create"
	if u == nil {
		return fmt.Errorf("%s: user is nil: %w", op, user.ErrNilParameter)
	}
	if u.ID == "" || u.Provider == "" || u.ProviderID == "" || u.Email == "" {
		return fmt.Errorf("%s: id, provider, provider id and email are required: %w", op, user.ErrInvalidParameter)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (`+selectColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID,
		u.Email,
		u.Name,
		strings.Join(u.RoleNames(), ","),
		u.Provider,
		u.ProviderID,
		u.EmailVerified,
		u.PictureURL,
		u.PasswordHash,
		toMillis(u.CreatedAt),
		toMillis(u.UpdatedAt),
	)
	switch {
	case err == nil:
		return nil
	case isConstraintError(err):
		return fmt.Errorf("%s: %w", op, user.ErrAlreadyExists)
	default:
		return fmt.Errorf("%s: insert user: %w", op, err)
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*user.User, error) {
	var (
		u         user.User
		roles     string
		createdAt int64
		updatedAt int64
	)
	err := row.Scan(
		&u.ID,
		&u.Email,
		&u.Name,
		&roles,
		&u.Provider,
		&u.ProviderID,
		&u.EmailVerified,
		&u.PictureURL,
		&u.PasswordHash,
		&createdAt,
		&updatedAt,
	)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, user.ErrNotFound
	case err != nil:
		return nil, fmt.Errorf("scan user: %w", err)
	}
	for _, r := range strings.Split(roles, ",") {
		if r = strings.TrimSpace(r); r != "" {
			u.Roles = append(u.Roles, user.Role(r))
		}
	}
	u.CreatedAt = fromMillis(createdAt)
	u.UpdatedAt = fromMillis(updatedAt)
	return &u, nil
}

func isConstraintError(err error) bool {
	var sqliteErr *msqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	code := sqliteErr.Code()
	return code == sqlite3lib.SQLITE_CONSTRAINT || code == sqlite3lib.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY
}

// toMillis normalizes timestamps into millisecond precision for storage.
func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

// fromMillis restores millisecond precision and keeps UTC normalization.
func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}
