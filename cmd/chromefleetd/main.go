// Package main runs the chromefleet WebSocket daemon: a JSON-RPC tool
// server reachable over WebSocket, plus HTTP /health and /metrics.
package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/corvidae-labs/chromefleet/internal/assets"
	"github.com/corvidae-labs/chromefleet/internal/config"
	"github.com/corvidae-labs/chromefleet/internal/metrics"
	"github.com/corvidae-labs/chromefleet/internal/middleware"
	"github.com/corvidae-labs/chromefleet/internal/server"
	"github.com/corvidae-labs/chromefleet/internal/transport"
	"github.com/corvidae-labs/chromefleet/pkg/version"
)

// cli mirrors the teacher's --version/--config flag.Bool pair, parsed with
// kong. These flags have no environment-variable form; environment
// overrides apply to the loaded config inside config.Load.
var cli struct {
	Config  string `help:"Path to a YAML config file." type:"path"`
	Version bool   `help:"Print version and exit."`
}

func main() {
	kong.Parse(&cli, kong.Name("chromefleetd"), kong.Description("chromefleet WebSocket daemon"))

	if cli.Version {
		fmt.Printf("chromefleetd %s\n", version.Full())
		return
	}

	cfg, err := config.Load(cli.Config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := setupLogging(cfg)
	log.Logger = logger

	printBanner(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, err := server.Build(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build server")
	}

	metrics.SetBuildInfo(version.Full(), version.GoVersion())

	ws := transport.NewWebSocketServer(deps.Handler, logger)

	// /health and /metrics are short-lived request/response calls and get a
	// hard deadline; /ws is a long-lived upgraded connection and must not be
	// wrapped in the same way or every open session would be killed early.
	mux := http.NewServeMux()
	mux.Handle("/ws", ws)
	mux.Handle("/health", middleware.Timeout(10*time.Second)(healthHandler(deps, ws, logger)))
	mux.Handle("/metrics", middleware.Timeout(10*time.Second)(metrics.Handler()))

	handler := middleware.Chain(
		middleware.CORS(middleware.CORSConfig{}),
		middleware.SecurityHeaders,
		middleware.Logging,
		middleware.Recovery,
	)(http.Handler(mux))

	httpServer := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	stopMemCollector := make(chan struct{})
	go metrics.StartMemoryCollector(15*time.Second, stopMemCollector)
	go collectPoolMetrics(ctx, deps, ws)

	go func() {
		logger.Info().Str("addr", httpServer.Addr).Msg("chromefleetd listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	close(stopMemCollector)

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http server shutdown error")
	}
	if err := deps.Close(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("pool close error")
	}
	logger.Info().Msg("shutdown complete")
}

// collectPoolMetrics periodically snapshots pool/profile/session/connection
// counts into the gauges internal/metrics exposes, until ctx is cancelled.
func collectPoolMetrics(ctx context.Context, deps *server.Deps, ws *transport.WebSocketServer) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			metrics.UpdatePoolMetrics(deps.Pool.Size(), deps.Pool.Available())
			metrics.UpdateProfileMetrics(len(deps.Profiles.List()))
			metrics.UpdateSessionMetrics(len(deps.Sessions.List()))
			metrics.UpdateWebSocketConnections(ws.ConnectionCount())
		case <-ctx.Done():
			return
		}
	}
}

func healthHandler(deps *server.Deps, ws *transport.WebSocketServer, logger zerolog.Logger) http.HandlerFunc {
	start := time.Now()
	return func(w http.ResponseWriter, r *http.Request) {
		page, err := assets.RenderHealthPage(assets.HealthPageData{
			Version:     version.Full(),
			GoVersion:   version.GoVersion(),
			Uptime:      time.Since(start).Round(time.Second).String(),
			PoolSize:    deps.Pool.Size(),
			PoolInUse:   deps.Pool.Size() - deps.Pool.Available(),
			Profiles:    len(deps.Profiles.List()),
			Sessions:    len(deps.Sessions.List()),
			Connections: ws.ConnectionCount(),
		})
		if err != nil {
			logger.Error().Err(err).Msg("render health page")
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(page))
	}
}

// setupLogging builds the console+optional-rotating-file zerolog logger the
// teacher's setupLogging built for FlareSolverr's stdlib logger, generalized
// to zerolog and an optional lumberjack-rotated file sink.
func setupLogging(cfg *config.Config) zerolog.Logger {
	writers := []io.Writer{zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}}
	if cfg.LogFile != "" {
		writers = append(writers, &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    100,
			MaxBackups: 5,
			MaxAge:     30,
			Compress:   true,
		})
	}

	logger := zerolog.New(zerolog.MultiLevelWriter(writers...)).With().Timestamp().Logger()

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
	return logger
}

func printBanner(logger zerolog.Logger) {
	banner := `
  ____ _                            __ _             _
 / ___| |__  _ __ ___  _ __ ___   / _| | ___  ___| |_
| |   | '_ \| '__/ _ \| '_ ` + "`" + ` _ \ | |_| |/ _ \/ _ \ __|
| |___| | | | | | (_) | | | | | ||  _| |  __/  __/ |_
 \____|_| |_|_|  \___/|_| |_| |_||_| |_|\___|\___|\__|
                                              daemon
`
	fmt.Println(banner)
	logger.Info().
		Str("version", version.Full()).
		Str("go_version", version.GoVersion()).
		Msg("starting chromefleetd")
}
