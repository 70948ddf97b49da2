package pg

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/pressly/goose/v3/database"

	"github.com/dmitrymomot/courier/core/logger"
)

// Migrate applies the SQL migrations found in cfg.MigrationsPath.
func Migrate(ctx context.Context, pool *pgxpool.Pool, cfg Config, log *slog.Logger) error {
	if cfg.MigrationsPath == "" {
		return ErrMigrationPathNotProvided
	}
	if info, err := os.Stat(cfg.MigrationsPath); err != nil || !info.IsDir() {
		return ErrMigrationsDirNotFound
	}
	return MigrateFS(ctx, pool, os.DirFS(cfg.MigrationsPath), cfg.MigrationsTable, log)
}

// MigrateFS applies the SQL migrations at the root of fsys, tracking versions
// in table. Packages that own their schema pass an embedded filesystem.
func MigrateFS(ctx context.Context, pool *pgxpool.Pool, fsys fs.FS, table string, log *slog.Logger) error {
	if log == nil {
		log = logger.Discard()
	}
	if table == "" {
		table = "schema_migrations"
	}

	// goose works on database/sql, so borrow a *sql.DB backed by the pool.
	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	store, err := database.NewStore(database.DialectPostgres, table)
	if err != nil {
		return errors.Join(ErrFailedToApplyMigrations, err)
	}

	provider, err := goose.NewProvider("", db, fsys, goose.WithStore(store))
	if err != nil {
		return errors.Join(ErrFailedToApplyMigrations, err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return errors.Join(ErrFailedToApplyMigrations, err)
	}

	for _, res := range results {
		log.InfoContext(ctx, "migration applied",
			logger.Component("pg"),
			slog.String("table", table),
			slog.Int64("version", res.Source.Version),
			logger.Duration(res.Duration),
		)
	}
	return nil
}
