package tokenstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore persists the token record in a local SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at dbPath and runs the
// schema migration.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS oauth_tokens (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		access_token TEXT NOT NULL,
		refresh_token TEXT NOT NULL DEFAULT '',
		expires_at TIMESTAMP NOT NULL,
		scope TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);`

	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) Get(ctx context.Context) (*TokenRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, access_token, refresh_token, expires_at, scope, created_at, updated_at
		FROM oauth_tokens ORDER BY id DESC LIMIT 1`)

	var rec TokenRecord
	err := row.Scan(&rec.ID, &rec.AccessToken, &rec.RefreshToken, &rec.ExpiresAt,
		&rec.Scope, &rec.CreatedAt, &rec.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read token record: %w", err)
	}
	return &rec, nil
}

func (s *SQLiteStore) Replace(ctx context.Context, rec *TokenRecord) (*TokenRecord, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM oauth_tokens`); err != nil {
		return nil, fmt.Errorf("failed to delete existing records: %w", err)
	}

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx, `
		INSERT INTO oauth_tokens (access_token, refresh_token, expires_at, scope, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		rec.AccessToken, rec.RefreshToken, rec.ExpiresAt.UTC(), rec.Scope, now, now)
	if err != nil {
		return nil, fmt.Errorf("failed to insert token record: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read inserted id: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	stored := *rec
	stored.ID = id
	stored.CreatedAt = now
	stored.UpdatedAt = now
	return &stored, nil
}

func (s *SQLiteStore) Update(ctx context.Context, rec *TokenRecord) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE oauth_tokens
		SET access_token = ?, refresh_token = ?, expires_at = ?, scope = ?, updated_at = ?
		WHERE id = ?`,
		rec.AccessToken, rec.RefreshToken, rec.ExpiresAt.UTC(), rec.Scope, time.Now().UTC(), rec.ID)
	if err != nil {
		return fmt.Errorf("failed to update token record: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("token record %d not found", rec.ID)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM oauth_tokens`); err != nil {
		return fmt.Errorf("failed to delete token records: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
