package pgstore

import (
	"context"
	"embed"
	"io/fs"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmitrymomot/courier/integration/database/pg"
)

// MigrationsTable tracks the versions of the breaker schema.
const MigrationsTable = "circuit_breaker_migrations"

//go:embed migrations/*.sql
var migrations embed.FS

// Migrate creates or upgrades the circuit_breaker_states table.
func Migrate(ctx context.Context, pool *pgxpool.Pool, log *slog.Logger) error {
	fsys, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return err
	}
	return pg.MigrateFS(ctx, pool, fsys, MigrationsTable, log)
}
