package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/portfoliodash/payserver/internal/config"
	"github.com/portfoliodash/payserver/internal/logger"
	"github.com/portfoliodash/payserver/pkg/payserver"
)

func main() {
	configPath := flag.String("config", "", "optional path to config yaml")
	envFile := flag.String("env-file", ".env", "dotenv file loaded before reading the environment")
	flag.Parse()

	// A missing .env is normal in production.
	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Str("file", *envFile).Msg("server.env_file_unreadable")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("server.config_invalid")
	}

	appLogger := logger.New(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Service:     "payserver",
		Version:     payserver.Version,
		Environment: cfg.Logging.Environment,
	})
	log.Logger = appLogger

	app, err := payserver.NewApp(cfg, payserver.WithLogger(appLogger))
	if err != nil {
		appLogger.Fatal().Err(err).Msg("server.init_failed")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		appLogger.Info().
			Str("address", cfg.Server.Address).
			Str("route_prefix", cfg.Server.RoutePrefix).
			Str("storage", cfg.Storage.Backend).
			Msg("server.listening")
		serveErr <- app.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Error().Err(err).Msg("server.listen_failed")
			_ = app.Close()
			os.Exit(1)
		}
	case <-ctx.Done():
		appLogger.Info().Msg("server.shutting_down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration)
	defer cancel()
	if err := app.Shutdown(shutdownCtx); err != nil {
		appLogger.Error().Err(err).Msg("server.shutdown_failed")
		os.Exit(1)
	}
	appLogger.Info().Msg("server.stopped")
}
