package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/firsthand-ai/firsthand/internal/api"
	"github.com/firsthand-ai/firsthand/internal/observability"
)

// runServe starts the HTTP API server and blocks until SIGINT/SIGTERM.
func runServe(logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	if a.cfg.Tracing.Enabled {
		shutdown, err := observability.Setup(ctx, observability.Config{
			Endpoint:    a.cfg.Tracing.Endpoint,
			ServiceName: a.cfg.Tracing.ServiceName,
			Environment: a.cfg.Tracing.Environment,
		})
		if err != nil {
			return fmt.Errorf("setting up tracing: %w", err)
		}
		defer func() {
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(flushCtx); err != nil {
				logger.Warn("flushing traces failed", "error", err)
			}
		}()
	}

	server, err := api.NewServer(api.ServerConfig{
		Addr:              a.cfg.ListenAddr,
		Version:           AppVersion,
		Chat:              a.chatGW,
		Research:          a.research,
		Questions:         a.store,
		DB:                a.pool,
		ChatOptions:       a.generationOptions(),
		Logger:            logger.With("component", "api"),
		AllowedOrigins:    a.cfg.CORSOrigins,
		RequestsPerMinute: a.cfg.HTTPRequestsPerMinute,
		TrustProxy:        a.cfg.TrustProxy,
	})
	if err != nil {
		return fmt.Errorf("building server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down: %w", err)
	}
	return <-errCh
}
