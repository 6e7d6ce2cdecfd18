package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"sqlbridge/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP conversion service",
	Long: `Starts the HTTP API: POST /convert for conversions, GET /logs/stream
for SSE progress events, GET /runs for the archive. Shuts down gracefully
on SIGINT/SIGTERM.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	var checks []server.ReadinessCheck
	if a.store != nil {
		checks = append(checks, server.ReadinessCheck{
			Name: "store",
			Check: func(ctx context.Context) error {
				_, err := a.store.ListRuns(1)
				return err
			},
		})
	}
	if a.bq != nil {
		checks = append(checks, server.ReadinessCheck{
			Name: "bigquery",
			Check: func(ctx context.Context) error {
				out, err := a.bq.Validate(ctx, "SELECT 1")
				if err != nil {
					return err
				}
				if !out.OK {
					return fmt.Errorf("dry run rejected: %s", out.ErrorMessage)
				}
				return nil
			},
		})
	}

	var archive server.Archive
	if a.store != nil {
		archive = a.store
	}

	srv, err := server.New(a.cfg, a.engine, a.bus, archive, checks...)
	if err != nil {
		return err
	}

	logger.Info("starting server", zap.String("addr", a.cfg.Addr()))
	return srv.Run(ctx)
}
