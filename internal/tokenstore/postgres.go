package tokenstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// PostgresStore persists the token record in PostgreSQL via the pgx
// database/sql driver.
type PostgresStore struct {
	db *sql.DB
}

// PostgresConfig holds PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string
	Port     string
	Database string
	User     string
	Password string
	SSLMode  string
}

// NewPostgresStore connects to PostgreSQL and runs the schema migration.
func NewPostgresStore(cfg PostgresConfig) (*PostgresStore, error) {
	dsn := fmt.Sprintf("host=%s port=%s dbname=%s user=%s password=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.Database, cfg.User, cfg.Password, cfg.SSLMode)

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &PostgresStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return s, nil
}

func (s *PostgresStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS oauth_tokens (
		id BIGSERIAL PRIMARY KEY,
		access_token TEXT NOT NULL,
		refresh_token TEXT NOT NULL DEFAULT '',
		expires_at TIMESTAMPTZ NOT NULL,
		scope TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);`

	_, err := s.db.Exec(schema)
	return err
}

func (s *PostgresStore) Get(ctx context.Context) (*TokenRecord, error) {
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

func (s *PostgresStore) Replace(ctx context.Context, rec *TokenRecord) (*TokenRecord, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM oauth_tokens`); err != nil {
		return nil, fmt.Errorf("failed to delete existing records: %w", err)
	}

	now := time.Now().UTC()
	var id int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO oauth_tokens (access_token, refresh_token, expires_at, scope, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		rec.AccessToken, rec.RefreshToken, rec.ExpiresAt.UTC(), rec.Scope, now, now).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("failed to insert token record: %w", err)
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

func (s *PostgresStore) Update(ctx context.Context, rec *TokenRecord) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE oauth_tokens
		SET access_token = $1, refresh_token = $2, expires_at = $3, scope = $4, updated_at = $5
		WHERE id = $6`,
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

func (s *PostgresStore) Delete(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM oauth_tokens`); err != nil {
		return fmt.Errorf("failed to delete token records: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}
