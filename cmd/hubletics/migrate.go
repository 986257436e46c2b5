package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hubleticsdev/hubletics-web-sub003/internal/app"
)

func migrateCmd() *cobra.Command {
	var down bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Long: `Apply pending goose migrations from MIGRATIONS_PATH.

Examples:
  hubletics migrate
  hubletics migrate --down`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(cmd.Context(), down)
		},
	}
	cmd.Flags().BoolVar(&down, "down", false, "roll back the latest migration instead")
	return cmd
}

func runMigrate(ctx context.Context, down bool) error {
	cfg, logger, err := bootstrap()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	pool, err := pgxpool.New(ctx, cfg.DBDSN)
	if err != nil {
		return fmt.Errorf("create pool: %w", err)
	}
	defer pool.Close()

	m, err := app.NewMigrator(pool, cfg.MigrationsPath, logger)
	if err != nil {
		return err
	}
	defer func() { _ = m.Close() }()

	if down {
		if err := m.Down(ctx); err != nil {
			return err
		}
	} else if err := m.Up(ctx); err != nil {
		return err
	}

	version, err := m.Version(ctx)
	if err != nil {
		return err
	}
	logger.Info("Database schema version", zap.Int64("version", version))
	return nil
}
