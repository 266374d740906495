package storage

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"

	apperrors "github.com/Murtadah-1984/ajz-api-foundation-sub000/internal/common/errors"
	"github.com/Murtadah-1984/ajz-api-foundation-sub000/internal/config"
)

// NewStore creates a config store backend based on configuration.
func NewStore(ctx context.Context, cfg *config.Config) (Store, error) {
	switch cfg.DatabaseType {
	case "sqlite":
		return NewSQLiteStore(ctx, cfg.DatabasePath)
	case "postgres", "postgresql":
		dsn := fmt.Sprintf("host=%s port=%s dbname=%s user=%s password=%s sslmode=%s",
			cfg.PostgresHost, cfg.PostgresPort, cfg.PostgresDB,
			cfg.PostgresUser, cfg.PostgresPassword, cfg.PostgresSSLMode)
		return NewPostgresStore(ctx, dsn)
	default:
		return nil, apperrors.ConfigError(fmt.Sprintf("unsupported database type: %s", cfg.DatabaseType))
	}
}

// NewSQLiteStore opens (and migrates) a SQLite-backed store.
func NewSQLiteStore(ctx context.Context, path string) (Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Serialized writes; the config store is read-mostly.
	db.SetMaxOpenConns(1)

	store := newSQLStore(db, dialectSQLite)
	if err := store.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// NewPostgresStore opens (and migrates) a PostgreSQL-backed store via the
// pgx stdlib driver.
func NewPostgresStore(ctx context.Context, dsn string) (Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := newSQLStore(db, dialectPostgres)
	if err := store.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}
