package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"gabs/internal/api"
	"gabs/internal/booking"
	"gabs/internal/config"
	"gabs/internal/crypto"
	"gabs/internal/database"
	"gabs/internal/domain"
	"gabs/internal/export"
	"gabs/internal/logging"
	"gabs/internal/metrics"
	"gabs/internal/portal"
	"gabs/internal/repository"
	"gabs/internal/session"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	if closer != nil {
		defer closer.Close()
	}

	if !cfg.API.Enabled {
		logger.Warn().Msg("API is disabled in config, but starting API application. Check your config.")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.New(cfg.Database.Path, logger)
	if err != nil {
		return fmt.Errorf("init database: %w", err)
	}
	defer db.Close()

	cipher, err := crypto.New(cfg.Crypto.Passphrase, cfg.Crypto.Salt)
	if err != nil {
		return fmt.Errorf("init cipher: %w", err)
	}

	sessions := buildSessionProvider(cfg, db, cipher, logger)
	manual := booking.NewManualService(db, sessions, cfg.Booking.MatchThreshold, logger)
	exporter := export.NewExporter(db, cfg.Exports.Path, logger)

	metrics.Register()
	if cfg.Monitoring.PrometheusEnabled {
		go serveMetrics(cfg.Monitoring.PrometheusPort, logger)
	}

	server := api.NewHTTPServer(cfg.API, db, sessions, manual, exporter, logger)
	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func buildSessionProvider(cfg *config.Config, db *database.DB, cipher *crypto.Cipher, logger *zerolog.Logger) domain.SessionProvider {
	factory := func(username string) (domain.PortalClient, error) {
		return portal.NewClient(portal.Config{
			BaseURL:           cfg.Portal.BaseURL,
			UserAgent:         cfg.Portal.UserAgent,
			RequestTimeout:    cfg.Portal.RequestTimeout,
			RequestsPerSecond: cfg.Portal.RequestsPerSecond,
			RequestBurst:      cfg.Portal.RequestBurst,
		}, username, logger)
	}
	return session.NewProvider(db, buildSessionCache(cfg, logger), cipher, factory, cfg.Session, logger)
}

func buildSessionCache(cfg *config.Config, logger *zerolog.Logger) domain.SessionCache {
	memory := repository.NewMemorySessionCache(cfg.Session.CacheTTL)
	if !cfg.Redis.Enabled {
		return memory
	}
	client := repository.NewRedisClient(cfg.Redis)
	redis := repository.NewRedisSessionCache(client, cfg.Session.CacheTTL)
	return repository.NewFailoverSessionCache(redis, memory, logger)
}

func serveMetrics(port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	addr := fmt.Sprintf(":%d", port)
	logger.Info().Str("addr", addr).Msg("metrics listening")
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error().Err(err).Msg("metrics server stopped")
	}
}
