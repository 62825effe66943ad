package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	_ "github.com/lib/pq"

	"github.com/example/ride-pooling/internal/booking"
	"github.com/example/ride-pooling/internal/config"
	"github.com/example/ride-pooling/internal/dispatch"
	"github.com/example/ride-pooling/internal/events"
	"github.com/example/ride-pooling/internal/geo"
	httpapi "github.com/example/ride-pooling/internal/http"
	"github.com/example/ride-pooling/internal/logging"
	"github.com/example/ride-pooling/internal/matcher"
	"github.com/example/ride-pooling/internal/payments"
	"github.com/example/ride-pooling/internal/pricing"
	"github.com/example/ride-pooling/internal/rides"
	"github.com/example/ride-pooling/internal/storage"
)

func main() {
	cfg, err := config.LoadServerConfig()
	logger := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	var store storage.Store
	if cfg.PGDSN != "" {
		if cfg.RunMigrations {
			if err := runMigrations(cfg.PGDSN); err != nil {
				logger.Error("migration failed", "error", err)
				os.Exit(1)
			}
			logger.Info("migrations applied")
		}
		ps, err := storage.NewPostgresStore(cfg.PGDSN)
		if err != nil {
			logger.Error("postgres unavailable", "error", err)
			os.Exit(1)
		}
		store = ps
	} else {
		logger.Warn("PG_DSN not set, using in-memory store")
		store = storage.NewMemoryStore()
	}

	var locator matcher.TripLocator
	if cfg.RedisAddr != "" {
		idx := geo.NewTripIndex(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisGeoKey)
		defer idx.Close()
		locator = idx
	}

	var publisher events.Publisher
	if len(cfg.KafkaBrokers) > 0 {
		kp := events.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer kp.Close()
		publisher = kp
	}

	var fareHolder rides.FareHolder
	if cfg.StripeAPIKey != "" {
		fareHolder = payments.NewStripeClient(cfg.StripeAPIKey)
	}

	wsreg := dispatch.NewWSRegistry()

	svc := &rides.Service{
		Store:    store,
		Finder:   matcher.NewFinder(store, locator, cfg.Matching),
		Booking:  booking.NewCoordinator(store),
		Pricing:  pricing.NewCalculator(cfg.Pricing),
		Events:   publisher,
		Notify:   wsreg,
		Payments: fareHolder,
		Cfg:      cfg.Matching,
		Logger:   logger,
	}

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      httpapi.NewServer(svc, wsreg, logger),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("ride-pooling listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server stopped", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
}

func runMigrations(dsn string) error {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return err
	}
	defer db.Close()
	b, err := os.ReadFile(filepath.Join("migrations", "001_create_schema.sql"))
	if err != nil {
		return err
	}
	return storage.Migrate(db, string(b))
}
