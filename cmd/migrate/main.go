package main

import (
	"CoverLedger/internal/config"
	"CoverLedger/internal/observability"
	"CoverLedger/internal/persistence"
	"CoverLedger/migrations"
	"context"
	"fmt"
	"io/fs"
	"os"
	"sort"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: migrate <up|down|status>")
		fmt.Println("  up     - apply all pending migrations")
		fmt.Println("  down   - roll back the last migration")
		fmt.Println("  status - list applied migration versions")
		fmt.Println()
		fmt.Println("Environment:")
		fmt.Println("  COVER_CONFIG          - YAML config file (default: coverledger.yaml, optional)")
		fmt.Println("  COVER_DB_DRIVER       - postgres or sqlite")
		fmt.Println("  COVER_DB_DSN          - connection string")
		fmt.Println("  COVER_MIGRATIONS_DIR  - migrations directory (default: embedded)")
		os.Exit(1)
	}

	logger := observability.NewLogger("migrate")

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("load config")
	}

	ctx := context.Background()
	db, err := persistence.Open(ctx, cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("open db")
	}
	defer db.Close()

	var files fs.FS = migrations.FS
	if cfg.Database.MigrationsDir != "" {
		files = os.DirFS(cfg.Database.MigrationsDir)
	}
	migrator := persistence.NewMigrator(db, files, logger)

	switch os.Args[1] {
	case "up":
		n, err := migrator.Up(ctx)
		if err != nil {
			logger.Fatal().Err(err).Msg("migrate up")
		}
		logger.Info().Int("applied", n).Msg("all migrations applied")

	case "down":
		rolled, err := migrator.Down(ctx)
		if err != nil {
			logger.Fatal().Err(err).Msg("migrate down")
		}
		if rolled {
			logger.Info().Msg("last migration rolled back")
		} else {
			logger.Info().Msg("nothing to roll back")
		}

	case "status":
		applied, err := migrator.AppliedVersions(ctx)
		if err != nil {
			logger.Fatal().Err(err).Msg("migrate status")
		}
		versions := make([]string, 0, len(applied))
		for v := range applied {
			versions = append(versions, v)
		}
		sort.Strings(versions)
		for _, v := range versions {
			fmt.Println(v)
		}

	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s (use 'up', 'down' or 'status')\n", os.Args[1])
		os.Exit(1)
	}
}
