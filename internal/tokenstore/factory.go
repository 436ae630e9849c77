package tokenstore

import (
	"fmt"

	"apibridge/internal/config"
)

// NewStore creates a token store for the configured backend.
func NewStore(cfg *config.Config) (Store, error) {
	switch cfg.DatabaseType {
	case "memory":
		return NewMemoryStore(), nil
	case "sqlite":
		return NewSQLiteStore(cfg.DatabasePath)
	case "postgres", "postgresql":
		return NewPostgresStore(PostgresConfig{
			Host:     cfg.PostgresHost,
			Port:     cfg.PostgresPort,
			Database: cfg.PostgresDB,
			User:     cfg.PostgresUser,
			Password: cfg.PostgresPassword,
			SSLMode:  cfg.PostgresSSLMode,
		})
	default:
		return nil, fmt.Errorf("unsupported database type: %s", cfg.DatabaseType)
	}
}
