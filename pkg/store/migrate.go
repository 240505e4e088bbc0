package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// MigrationDirection selects Migrate's action.
type MigrationDirection string

const (
	MigrateUp   MigrationDirection = "up"
	MigrateDown MigrationDirection = "down"
)

// Migrate applies (or rolls back one step of) the embedded schema.
func Migrate(ctx context.Context, databaseURL string, dir MigrationDirection, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	provider, db, err := newMigrationProvider(databaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	var results []*goose.MigrationResult
	switch dir {
	case MigrateUp, "":
		results, err = provider.Up(ctx)
	case MigrateDown:
		var res *goose.MigrationResult
		res, err = provider.Down(ctx)
		if res != nil {
			results = append(results, res)
		}
	default:
		return fmt.Errorf("unknown migration direction %q", dir)
	}
	for _, r := range results {
		if r == nil || r.Source == nil {
			continue
		}
		logger.Info("migration applied",
			"version", r.Source.Version,
			"path", r.Source.Path,
			"direction", r.Direction,
			"duration", r.Duration,
		)
	}
	if err != nil {
		return fmt.Errorf("migrate %s: %w", dir, err)
	}
	return nil
}

// MigrationStatus reports the applied state of every embedded migration.
func MigrationStatus(ctx context.Context, databaseURL string) ([]*goose.MigrationStatus, error) {
	provider, db, err := newMigrationProvider(databaseURL)
	if err != nil {
		return nil, err
	}
	defer db.Close()
	return provider.Status(ctx)
}

func newMigrationProvider(databaseURL string) (*goose.Provider, *sql.DB, error) {
	if databaseURL == "" {
		return nil, nil, fmt.Errorf("migrate: database url is required")
	}
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	sub, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	provider, err := goose.NewProvider(goose.DialectPostgres, db, sub)
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("goose provider: %w", err)
	}
	return provider, db, nil
}
