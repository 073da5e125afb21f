package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

// Migrate applies all pending goose migrations from dir. Goose drives a
// database/sql connection, so the pool config is adapted through pgx's
// stdlib bridge.
func (db *DB) Migrate(ctx context.Context, dir string) error {
	sqlDB := stdlib.OpenDB(*db.Pool.Config().ConnConfig)
	defer sqlDB.Close()

	if err := goose.UpContext(ctx, sqlDB, dir); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	return nil
}
