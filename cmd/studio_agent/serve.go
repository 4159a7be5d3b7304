package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jonathan/video-studio/internal/config"
	"github.com/jonathan/video-studio/internal/db"
	"github.com/jonathan/video-studio/internal/server"
	"github.com/jonathan/video-studio/internal/server/ratelimit"
)

func newServeCmd(opts *globalOptions) *cobra.Command {
	var (
		port    int
		migrate bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the REST API server and workflow workers",
		Long:  `Start an HTTP server for videos and workflow triggers, plus the dispatcher that executes queued runs. Unfinished runs are resumed on start.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, opts, port, migrate)
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "Port to listen on (overrides config and PORT)")
	cmd.Flags().BoolVar(&migrate, "migrate", true, "Apply the database schema before serving")
	return cmd
}

func runServe(ctx context.Context, opts *globalOptions, port int, migrate bool) error {
	jwtConfig, err := config.NewJWTConfig()
	if err != nil {
		return fmt.Errorf("failed to create JWT config: %w", err)
	}

	a, err := newApp(ctx, opts, os.Stderr)
	if err != nil {
		return err
	}
	defer a.Close()

	if database, ok := a.store.(*db.DB); ok && migrate {
		if err := database.Migrate(ctx); err != nil {
			return err
		}
	}
	if port > 0 {
		a.cfg.Server.Port = port
	}

	limiter := ratelimit.NewLimiter(ratelimit.FromSettings(a.cfg.RateLimit))
	srv, err := server.New(server.Config{
		Port:            a.cfg.Server.Port,
		AllowedOrigins:  a.cfg.Server.AllowedOrigins,
		ShutdownTimeout: a.cfg.ShutdownTimeout(),
		MaxUploadBytes:  a.cfg.Server.MaxUploadBytes,
	}, server.Dependencies{
		Store:     a.store,
		Runs:      a.dispatcher,
		Workflows: a.registry,
		Ready:     a.deps.Ready,
		Uploader:  a.deps.Uploader,
		Tokens:    server.NewJWTService(jwtConfig).AsTokenValidator(),
		Limiter:   limiter,
		Metrics:   a.metrics,
		Logger:    a.logger,
	})
	if err != nil {
		limiter.Stop()
		return fmt.Errorf("failed to create server: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.dispatcher.Start(gctx) })
	g.Go(func() error { return srv.Start(gctx) })
	return g.Wait()
}
