package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"golang.org/x/crypto/bcrypt"
	_ "modernc.org/sqlite"
)

type migration struct {
	version int
	sql     string
}

var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS users (
	username      TEXT PRIMARY KEY,
	password_hash TEXT NOT NULL,
	apop_secret   TEXT NOT NULL DEFAULT '',
	created_at    INTEGER NOT NULL,
	updated_at    INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL);
INSERT INTO schema_version (version) VALUES (1);`,
	},
}

// SQLiteProvider checks credentials against a local users table holding
// bcrypt password hashes and optional APOP secrets.
type SQLiteProvider struct {
	db *sqlx.DB
}

type userRow struct {
	Username     string `db:"username"`
	PasswordHash string `db:"password_hash"`
	APOPSecret   string `db:"apop_secret"`
}

// OpenSQLite opens (or creates) the user database at path, enables WAL
// mode, and runs any pending schema migrations.
func OpenSQLite(path string) (*SQLiteProvider, error) {
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}
	// One connection keeps ":memory:" databases coherent and avoids
	// SQLITE_BUSY between writers.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	p := &SQLiteProvider{db: db}
	if err := p.runMigrations(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return p, nil
}

// Close closes the underlying database.
func (p *SQLiteProvider) Close() error {
	return p.db.Close()
}

func (p *SQLiteProvider) runMigrations() error {
	current := 0

	var tableCount int
	err := p.db.Get(&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'")
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}
	if tableCount > 0 {
		if err := p.db.Get(&current, "SELECT COALESCE(MAX(version), 0) FROM schema_version"); err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if _, err := p.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}
	return nil
}

// Authenticate compares credential with the stored bcrypt hash.
// Unknown users and wrong passwords are both a plain reject.
func (p *SQLiteProvider) Authenticate(ctx context.Context, username, credential string) (bool, error) {
	row, found, err := p.lookup(ctx, username)
	if err != nil || !found {
		return false, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(row.PasswordHash), []byte(credential)); err != nil {
		return false, nil
	}
	return true, nil
}

// Secret returns the user's APOP secret.
func (p *SQLiteProvider) Secret(ctx context.Context, username string) (string, bool, error) {
	row, found, err := p.lookup(ctx, username)
	if err != nil || !found || row.APOPSecret == "" {
		return "", false, err
	}
	return row.APOPSecret, true, nil
}

// AddUser creates the user or replaces its password and APOP secret.
func (p *SQLiteProvider) AddUser(ctx context.Context, username, password, apopSecret string) error {
	username = normaliseUser(username)
	if username == "" {
		return errors.New("username is required")
	}
	if password == "" {
		return errors.New("password is required")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}

	now := time.Now().Unix()
	const query = `
		INSERT INTO users (username, password_hash, apop_secret, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(username) DO UPDATE SET
			password_hash = excluded.password_hash,
			apop_secret   = excluded.apop_secret,
			updated_at    = excluded.updated_at`
	if _, err := p.db.ExecContext(ctx, query, username, string(hash), apopSecret, now, now); err != nil {
		return fmt.Errorf("saving user %s: %w", username, err)
	}
	return nil
}

// DeleteUser removes a user. Removing an unknown user is not an error.
func (p *SQLiteProvider) DeleteUser(ctx context.Context, username string) error {
	_, err := p.db.ExecContext(ctx, "DELETE FROM users WHERE username = ?", normaliseUser(username))
	if err != nil {
		return fmt.Errorf("deleting user: %w", err)
	}
	return nil
}

func (p *SQLiteProvider) lookup(ctx context.Context, username string) (userRow, bool, error) {
	var row userRow
	err := p.db.GetContext(ctx, &row,
		"SELECT username, password_hash, apop_secret FROM users WHERE username = ?",
		normaliseUser(username))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return row, false, nil
		}
		return row, false, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return row, true, nil
}

func normaliseUser(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}
