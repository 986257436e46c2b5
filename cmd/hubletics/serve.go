package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hubleticsdev/hubletics-web-sub003/internal/app"
	"github.com/hubleticsdev/hubletics-web-sub003/internal/controller/api"
)

const shutdownTimeout = 30 * time.Second

func serveCmd() *cobra.Command {
	var migrate bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the deadline scheduler and the notification workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(migrate)
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", false, "apply pending migrations before serving")
	return cmd
}

func runServe(migrate bool) error {
	cfg, logger, err := bootstrap()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	if migrate {
		m, err := app.NewMigrator(a.Pool, cfg.MigrationsPath, logger)
		if err != nil {
			return err
		}
		err = m.Up(ctx)
		_ = m.Close()
		if err != nil {
			return err
		}
	}

	a.StartWorkers(ctx)

	var scheduler *app.Scheduler
	if cfg.SchedulerEnabled {
		scheduler, err = app.NewScheduler(a.Deadlines, app.JobSchedules(cfg), logger)
		if err != nil {
			return err
		}
		scheduler.Start()
	}

	srv := api.NewServer(cfg.HTTPAddr, a.Router(), cfg.JobTimeout+time.Minute)
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", zap.String("addr", cfg.HTTPAddr), zap.String("env", cfg.Environment))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("Shutting down")
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if scheduler != nil {
		scheduler.Stop(shutdownCtx)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP server shutdown incomplete", zap.Error(err))
	}
	return nil
}
