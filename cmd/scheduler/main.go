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

	"gabs/internal/booking"
	"gabs/internal/config"
	"gabs/internal/crypto"
	"gabs/internal/database"
	"gabs/internal/domain"
	"gabs/internal/events"
	"gabs/internal/logging"
	"gabs/internal/metrics"
	"gabs/internal/notify"
	"gabs/internal/portal"
	"gabs/internal/repository"
	"gabs/internal/scheduler"
	"gabs/internal/session"
	"gabs/internal/worker"
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
	loc := time.Local

	bus := events.NewEventBus()
	notifier := notify.NewLogNotifier(db, logger)

	sink := worker.NewDumpWriter(cfg.Diagnostics.Path, cfg.Diagnostics.QueueSize, worker.RetryPolicy{}, logger)
	go sink.Start(ctx)

	processor := booking.NewProcessor(db, sessions, sink, bus, notifier, cfg.Booking, loc, logger)
	reconciler := booking.NewReconciler(db, sessions, logger)
	reminders := notify.NewReminderService(db, notifier, bus, cfg.Reminders, loc, logger)

	metrics.Register()
	if cfg.Monitoring.PrometheusEnabled {
		go serveMetrics(cfg.Monitoring.PrometheusPort, logger)
	}

	sched := scheduler.New(cfg.Scheduler.PoolSize, logger)
	sched.Register("process-bookings", cfg.Scheduler.ProcessInterval, processor.Run)
	sched.Register("send-reminders", cfg.Scheduler.ReminderInterval, reminders.Run)
	sched.Register("reset-failed", cfg.Scheduler.ResetInterval, processor.ResetFailed)
	sched.Register("reconcile-bookings", cfg.Scheduler.RefreshInterval, reconciler.Run)

	sched.Start(ctx)
	logger.Info().Msg("scheduler exited")
	return nil
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
