package persist

import (
	"context"
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrations embed.FS

// RunMigrations applies all pending migrations for the database's dialect.
func RunMigrations(ctx context.Context, db *DB) error {
	dialect, dir := "postgres", "migrations/postgres"
	if db.Dialect == DialectSQLite {
		dialect, dir = "sqlite3", "migrations/sqlite"
	}

	goose.SetLogger(goose.NopLogger())
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect(dialect); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db.SQL, dir); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}
