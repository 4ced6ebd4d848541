// Package main is the entry point for the ava command line tool.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/Anteru/ava/internal/config"
	"github.com/Anteru/ava/internal/runstore"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	cmd := newRootCmd()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "ava",
		Short:         "Lazy frame graph processor for video sequences",
		Long:          "ava materializes frames of a processing graph on demand, caching results as files and running transforms as subprocesses.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(newRenderCmd())
	cmd.AddCommand(newPlanCmd())
	cmd.AddCommand(newValidateCmd())
	cmd.AddCommand(newGraphCmd())
	cmd.AddCommand(newServeCmd())

	return cmd
}

// newLogger builds the process logger from configuration.
func newLogger(cfg *config.Config) *slog.Logger {
	logLevel := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})
	} else {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// newStore builds the run journal from configuration. A failed redis
// connection falls back to the in-memory journal.
func newStore(cfg *config.Config, logger *slog.Logger) runstore.RunStore {
	if cfg.JournalType == "redis" {
		redisCfg := &runstore.RedisConfig{
			URL:      cfg.RedisURL,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Prefix:   "ava",
			TTL:      cfg.JournalTTL,
		}
		store, err := runstore.NewRedisStore(redisCfg)
		if err != nil {
			logger.Error("failed to connect to redis, falling back to memory journal", "error", err)
		} else {
			logger.Info("using redis journal", slog.String("url", cfg.RedisURL))
			return store
		}
	}
	return runstore.NewMemoryStore(&runstore.Config{
		EventMaxLen: cfg.EventMaxLen,
		TTL:         cfg.JournalTTL,
	})
}
