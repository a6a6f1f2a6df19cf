package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
	"github.com/rs/zerolog"
)

// DB wraps sql.DB for the portal's local state.
type DB struct {
	*sql.DB
	logger *zerolog.Logger
}

// NewDB opens database at path and runs migrations.
func NewDB(path string, logger *zerolog.Logger) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	dsn := path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	if err := createTables(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	logger.Info().Str("path", path).Msg("database initialized")
	return &DB{DB: db, logger: logger}, nil
}

func createTables(db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS session_values (
			owner TEXT NOT NULL,
			key TEXT NOT NULL,
			value TEXT NOT NULL,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (owner, key)
		)`,
	}

	for _, q := range queries {
		if _, err := db.Exec(q); err != nil {
			return fmt.Errorf("exec migration %s: %w", trimSQL(q), err)
		}
	}
	return nil
}

func trimSQL(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 60 {
		return s[:60] + "..."
	}
	return s
}

// GetValues returns every stored key for owner.
func (db *DB) GetValues(ctx context.Context, owner string) (map[string]string, error) {
	rows, err := db.QueryContext(ctx,
		"SELECT key, value FROM session_values WHERE owner = ?", owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	values := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		values[k] = v
	}
	return values, rows.Err()
}

// SetValues upserts the given keys for owner in one transaction.
func (db *DB) SetValues(ctx context.Context, owner string, values map[string]string) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	now := time.Now()
	for k, v := range values {
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO session_values (owner, key, value, updated_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(owner, key) DO UPDATE SET
				value = excluded.value,
				updated_at = excluded.updated_at`,
			owner, k, v, now); err != nil {
			return fmt.Errorf("upsert %s: %w", k, err)
		}
	}
	return tx.Commit()
}

// DeleteValues removes the given keys for owner. Missing keys are not an error.
func (db *DB) DeleteValues(ctx context.Context, owner string, keys ...string) error {
	if len(keys) == 0 {
		return errors.New("no keys given")
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(keys)), ",")
	args := make([]any, 0, len(keys)+1)
	args = append(args, owner)
	for _, k := range keys {
		args = append(args, k)
	}
	_, err := db.ExecContext(ctx,
		"DELETE FROM session_values WHERE owner = ? AND key IN ("+placeholders+")", args...)
	return err
}

// Owners lists every owner with stored values.
func (db *DB) Owners(ctx context.Context) ([]string, error) {
	rows, err := db.QueryContext(ctx, "SELECT DISTINCT owner FROM session_values ORDER BY owner")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var owners []string
	for rows.Next() {
		var o string
		if err := rows.Scan(&o); err != nil {
			return nil, err
		}
		owners = append(owners, o)
	}
	return owners, rows.Err()
}
