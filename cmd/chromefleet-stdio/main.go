// Package main runs chromefleet over the stdio transport: one JSON-RPC
// connection on stdin/stdout, for callers that spawn the tool server as a
// subprocess rather than dialing a WebSocket.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/rs/zerolog"

	"github.com/corvidae-labs/chromefleet/internal/config"
	"github.com/corvidae-labs/chromefleet/internal/metrics"
	"github.com/corvidae-labs/chromefleet/internal/server"
	"github.com/corvidae-labs/chromefleet/internal/transport"
	"github.com/corvidae-labs/chromefleet/pkg/version"
)

var cli struct {
	Config  string `help:"Path to a YAML config file." type:"path"`
	Version bool   `help:"Print version and exit."`
}

func main() {
	kong.Parse(&cli, kong.Name("chromefleet-stdio"), kong.Description("chromefleet stdio tool server"))

	if cli.Version {
		fmt.Printf("chromefleet-stdio %s\n", version.Full())
		return
	}

	cfg, err := config.Load(cli.Config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	// Every log line goes to stderr: stdout is reserved for JSON-RPC wire
	// traffic, per spec.md §4.8's stdio transport.
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Timestamp().Logger()
	switch cfg.LogLevel {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, err := server.Build(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build server")
	}

	metrics.SetBuildInfo(version.Full(), version.GoVersion())
	logger.Info().Str("version", version.Full()).Msg("chromefleet-stdio ready")

	done := make(chan error, 1)
	go func() {
		done <- transport.RunStdio(ctx, deps.Handler, os.Stdin, os.Stdout, logger)
	}()

	select {
	case err := <-done:
		if err != nil {
			logger.Error().Err(err).Msg("stdio transport exited with error")
		}
	case <-ctx.Done():
		logger.Info().Msg("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := deps.Close(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("pool close error")
	}
}
