package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Anteru/ava/internal/api"
	"github.com/Anteru/ava/internal/config"
	"github.com/Anteru/ava/internal/tracing"
)

// serveOptions defines flags for the status server.
type serveOptions struct {
	port    string
	journal string
}

func (o *serveOptions) addFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&o.port, "port", "p", "", "listen port")
	cmd.Flags().StringVar(&o.journal, "journal", "", "run journal backend: memory or redis")
}

func (o *serveOptions) run(ctx context.Context) error {
	cfg := config.Load()
	if o.port != "" {
		cfg.Port = o.port
	}
	if o.journal != "" {
		cfg.JournalType = o.journal
	}
	logger := newLogger(cfg)

	logger.Info("starting status server",
		slog.String("port", cfg.Port),
		slog.String("journal", cfg.JournalType),
	)

	tp, err := tracing.Init(ctx, &tracing.Config{
		ServiceName:    "ava-serve",
		ServiceVersion: version,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		SampleRate:     1.0,
	}, logger)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer tp.Shutdown(context.Background())

	store := newStore(cfg, logger)
	defer store.Close()

	handlers := api.NewHandlers(store, cfg, logger)
	server := api.NewServer(handlers)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      server.Router(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	logger.Info("server stopped")
	return nil
}

func newServeCmd() *cobra.Command {
	o := &serveOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the run status API",
		Long:  "Serves run metadata, task states, reports and live SSE event streams from the run journal. With a redis journal this observes renders started by other processes.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return o.run(ctx)
		},
	}

	o.addFlags(cmd)
	return cmd
}
