package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mihaimyh/treemeter/internal/config"
	"github.com/mihaimyh/treemeter/storage/postgres"
	"github.com/mihaimyh/treemeter/storage/sqlite"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the PostgreSQL and SQLite schemas of the configured stores",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := initLogging(cfg.LogLevel, cfg.LogFormat, cmd.ErrOrStderr())

			migrated, err := migrate(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			if len(migrated) == 0 {
				logger.Info().Msg("no SQL store configured, nothing to migrate")
			}
			for _, name := range migrated {
				logger.Info().Str("store", name).Msg("schema applied")
			}
			return nil
		},
	}
}

// migrate applies the schema of every SQL backend in use, each once.
func migrate(ctx context.Context, cfg *config.Config) ([]string, error) {
	var migrated []string
	seen := map[string]bool{}
	for _, name := range []string{cfg.UserStore, cfg.LedgerStore, cfg.LedgerMirror} {
		if seen[name] {
			continue
		}
		seen[name] = true

		switch name {
		case config.BackendPostgres:
			pgConfig := postgres.DefaultConfig()
			pgConfig.ConnectionString = cfg.DatabaseURL
			pg, err := postgres.New(ctx, pgConfig)
			if err != nil {
				return migrated, fmt.Errorf("postgres: %w", err)
			}
			err = pg.Migrate(ctx)
			pg.Close()
			if err != nil {
				return migrated, fmt.Errorf("postgres: %w", err)
			}

		case config.BackendSQLite:
			// Opening a SQLite store applies its schema
			lite, err := sqlite.New(ctx, sqlite.Config{Path: cfg.SQLitePath})
			if err != nil {
				return migrated, fmt.Errorf("sqlite: %w", err)
			}
			if err := lite.Close(); err != nil {
				return migrated, fmt.Errorf("sqlite: %w", err)
			}

		default:
			continue
		}
		migrated = append(migrated, name)
	}
	return migrated, nil
}
