package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"ms-booking/internal/auth"
	"ms-booking/internal/booking"
	"ms-booking/internal/booking/booking_api"
	"ms-booking/internal/booking/checkin"
	bookingdb "ms-booking/internal/booking/db"
	holdstore "ms-booking/internal/booking/redis"
	"ms-booking/internal/config"
	"ms-booking/internal/database/migrations"
	"ms-booking/internal/kafka"
	"ms-booking/internal/logger"
	"ms-booking/internal/metrics"
	"ms-booking/internal/outbox"
	"ms-booking/internal/payment"
	"ms-booking/internal/payment/provider"
	"ms-booking/internal/registry"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
)

// openPostgres retries while the database container is still starting.
func openPostgres(cfg config.DatabaseConfig, logger *logger.Logger) (*sql.DB, error) {
	var sqldb *sql.DB
	var err error
	maxRetries := 5

	for i := 0; i < maxRetries; i++ {
		logger.Info("DATABASE", fmt.Sprintf("Attempting to connect to PostgreSQL (attempt %d/%d)", i+1, maxRetries))
		sqldb, err = sql.Open("postgres", cfg.DSN())
		if err == nil {
			err = sqldb.Ping()
			if err == nil {
				break
			}
			sqldb.Close()
		}
		logger.Error("DATABASE", fmt.Sprintf("Failed to connect to PostgreSQL: %v", err))
		if i < maxRetries-1 {
			time.Sleep(2 * time.Second)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("connect to PostgreSQL after %d attempts: %w", maxRetries, err)
	}
	return sqldb, nil
}

// migrate runs on its own connection because the migrate driver closes the
// sql.DB it is given.
func migrate(cfg config.DatabaseConfig, logger *logger.Logger) error {
	sqldb, err := openPostgres(cfg, logger)
	if err != nil {
		return err
	}
	runner := migrations.NewRunner(bun.NewDB(sqldb, pgdialect.New()),
		migrations.MigrateOptions{MigrationsDir: cfg.MigrationsDir}, logger)
	defer runner.Close()
	return runner.RunMigrations()
}

func newSink(cfg *config.Config, logger *logger.Logger) (outbox.Sink, error) {
	switch cfg.Outbox.Sink {
	case "kafka":
		if !cfg.Kafka.Enabled {
			logger.Warn("KAFKA", "KAFKA_ENABLED=false, outbound events go to the log")
			return outbox.LogSink{Log: logger}, nil
		}
		if err := kafka.CreateTopicIfNotExists(cfg.Kafka.Brokers, cfg.Kafka.Topic, logger); err != nil {
			logger.Warn("KAFKA", fmt.Sprintf("Topic creation might have failed: %v", err))
		}
		return kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic, logger), nil
	case "rabbitmq":
		return outbox.NewRabbitSink(cfg.RabbitMQ.URL, cfg.RabbitMQ.Exchange)
	case "log", "":
		return outbox.LogSink{Log: logger}, nil
	default:
		return nil, fmt.Errorf("unknown outbox sink %q", cfg.Outbox.Sink)
	}
}

func newProvider(cfg config.StripeConfig, logger *logger.Logger) (provider.Provider, error) {
	if !cfg.Enabled {
		logger.Warn("PAYMENT", "STRIPE_SECRET_KEY not set, using the in-memory payment provider")
		return provider.NewFake(), nil
	}
	return provider.NewStripe(cfg.SecretKey, logger)
}

func newVerifier(ctx context.Context, cfg config.AuthConfig, logger *logger.Logger) (auth.Verifier, error) {
	if cfg.OIDCIssuer == "" {
		logger.Warn("AUTH", "OIDC_ISSUER not set, bearer tokens are read without signature checks")
		return auth.UnverifiedVerifier{}, nil
	}
	return auth.NewOIDCVerifier(ctx, cfg.OIDCIssuer, cfg.OIDCClientID)
}

func main() {
	logger := logger.NewLogger()
	defer logger.Close()

	logger.Info("APP", "Starting Booking Service initialization")

	if err := godotenv.Load(); err != nil {
		logger.Warn("CONFIG", ".env file not found, using environment variables")
	} else {
		logger.Info("CONFIG", "Loaded environment variables from .env file")
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("CONFIG", err.Error())
	}
	active, err := booking.ParseActiveSet(cfg.Engine.ActiveStatuses)
	if err != nil {
		logger.Fatal("CONFIG", err.Error())
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Database.AutoMigrate {
		if err := migrate(cfg.Database, logger); err != nil {
			logger.Fatal("DATABASE", fmt.Sprintf("Migration failed: %v", err))
		}
	} else {
		logger.Info("DATABASE", "DB_AUTO_MIGRATE=false, skipping migrations")
	}

	sqldb, err := openPostgres(cfg.Database, logger)
	if err != nil {
		logger.Fatal("DATABASE", err.Error())
	}
	sqldb.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	sqldb.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	sqldb.SetConnMaxLifetime(cfg.Database.MaxLifetime)
	bunDB := bun.NewDB(sqldb, pgdialect.New())
	defer bunDB.Close()
	logger.Info("DATABASE", "✅ PostgreSQL connection successful")
	db := bookingdb.New(bunDB)

	redisClient, err := holdstore.Connect(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("REDIS", fmt.Sprintf("Redis connection error: %v", err))
	}
	defer redisClient.Close()

	m := metrics.New("booking")
	em := outbox.NewEmitter()

	sink, err := newSink(cfg, logger)
	if err != nil {
		logger.Fatal("OUTBOX", err.Error())
	}
	defer sink.Close()

	payProvider, err := newProvider(cfg.Stripe, logger)
	if err != nil {
		logger.Fatal("PAYMENT", err.Error())
	}
	verifier, err := newVerifier(ctx, cfg.Auth, logger)
	if err != nil {
		logger.Fatal("AUTH", err.Error())
	}
	qr, err := checkin.NewQRGenerator(cfg.QR.SecretKey)
	if err != nil {
		logger.Fatal("CONFIG", fmt.Sprintf("QR generator: %v", err))
	}

	reg := registry.New(db, redisClient, cfg.Engine.RegistryCacheTTL, em, logger)
	holds := holdstore.NewHolds(redisClient, cfg.Engine.HoldTTL, logger)
	payments := payment.NewService(db, payProvider, em, logger, m)
	bookings := booking.NewService(db, reg, payments, holds, em, active, logger, m)

	relay := outbox.NewRelay(db, sink, cfg.Outbox.BatchSize, cfg.Outbox.MaxAttempts, cfg.Outbox.PollInterval, logger, m)
	sweeper := outbox.NewSweeper(db, cfg.Engine.AuditRetentionDays, cfg.Engine.SweepInterval, logger, m)

	var workers sync.WaitGroup
	workers.Add(3)
	go func() { defer workers.Done(); relay.Run(ctx) }()
	go func() { defer workers.Done(); sweeper.Run(ctx) }()
	go func() {
		defer workers.Done()
		// Fees staged inside a booking transaction but not settled because
		// the process stopped are picked up here.
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n, err := payments.SettleStale(ctx, time.Minute, 100); err != nil {
					logger.Error("PAYMENT", fmt.Sprintf("settle stale fees: %v", err))
				} else if n > 0 {
					logger.Info("PAYMENT", fmt.Sprintf("settled %d stale fees", n))
				}
			}
		}
	}()

	handler := &booking_api.Handler{
		Bookings:    bookings,
		Payments:    payments,
		Registry:    reg,
		Holds:       holds,
		QRGenerator: qr,
		Outbox:      relay,
		Logger:      logger,
		Metrics:     m,

		DefaultCurrency: cfg.Engine.DefaultCurrency,
	}

	logger.Info("HTTP", "Setting up router and middleware")
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	// --- Public Routes ---
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := sqldb.PingContext(r.Context()); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", m.Handler())

	// --- Protected Routes ---
	r.Route("/api", func(r chi.Router) {
		r.Use(auth.Middleware(verifier, logger))
		handler.Routes(r)
	})
	logger.Info("ROUTER", "Booking routes registered under /api")

	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("HTTP", "🚀 Booking Service running on "+cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP", fmt.Sprintf("HTTP server error: %v", err))
		}
	}()

	logger.Info("APP", "Service started successfully, waiting for shutdown signal")
	<-ctx.Done()

	logger.Info("APP", "Shutdown signal received, initiating graceful shutdown")
	ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctxShutdown); err != nil {
		logger.Error("HTTP", fmt.Sprintf("Server Shutdown Failed: %v", err))
	}
	workers.Wait()
	logger.Info("HTTP", "✅ Booking Service shutdown complete")
}
