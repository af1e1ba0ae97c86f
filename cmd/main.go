package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vidora/stars-service/internal/api/handlers"
	"github.com/vidora/stars-service/internal/api/routes"
	"github.com/vidora/stars-service/internal/domain/services/ingest"
	"github.com/vidora/stars-service/internal/domain/services/ledger"
	"github.com/vidora/stars-service/internal/domain/services/match"
	"github.com/vidora/stars-service/internal/domain/services/notify"
	"github.com/vidora/stars-service/internal/infrastructure/adapters"
	"github.com/vidora/stars-service/internal/infrastructure/cache"
	"github.com/vidora/stars-service/internal/infrastructure/config"
	"github.com/vidora/stars-service/internal/infrastructure/database"
	"github.com/vidora/stars-service/internal/infrastructure/repositories"
	"github.com/vidora/stars-service/internal/workers/expiry"
	"github.com/vidora/stars-service/internal/workers/reconcile"
	"github.com/vidora/stars-service/pkg/logger"
	"github.com/vidora/stars-service/pkg/metrics"
	"github.com/vidora/stars-service/pkg/tracing"
)

const version = "1.0.0"

// @title Stars Service API
// @version 1.0
// @description Crypto deposit reconciliation and star ledger service

// @host localhost:8080
// @BasePath /api/v1

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and JWT token.

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	log := logger.New(cfg.LogLevel, cfg.Environment)
	defer log.Sync()

	// OpenTelemetry tracing
	tracingConfig := tracing.Config{
		Enabled:      cfg.Tracing.Enabled,
		CollectorURL: cfg.Tracing.CollectorURL,
		Environment:  cfg.Environment,
		SampleRate:   cfg.Tracing.SampleRate,
		Insecure:     cfg.Tracing.Insecure,
	}
	tracingShutdown, err := tracing.InitTracer(context.Background(), tracingConfig, log.Zap())
	if err != nil {
		log.Fatal("Failed to initialize tracing", "error", err)
	}
	defer tracingShutdown(context.Background())

	// Database
	db, err := database.NewConnection(cfg.Database)
	if err != nil {
		log.Fatal("Failed to connect to database", "error", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Warn("Failed to close database connection", "error", err)
		}
	}()

	if err := database.RunMigrations(cfg.Database.URL); err != nil {
		log.Fatal("Failed to run migrations", "error", err)
	}

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	// Redis is optional: without it balances are served from the
	// database and the notify fan-out skips cache purges.
	var redisCache cache.RedisClient
	if rc, err := cache.NewRedisClient(&cfg.Redis, log.Zap()); err != nil {
		log.Warn("Redis unavailable, continuing without cache", "error", err)
	} else {
		redisCache = rc
		defer redisCache.Close()
	}

	// Repositories
	depositRepo := repositories.NewDepositRepository(db, log)
	eventRepo := repositories.NewDepositEventRepository(db, log)
	ledgerRepo := repositories.NewLedgerRepository(db, log)
	jobRepo := repositories.NewReconcileJobRepository(db, log)
	deliveryRepo := repositories.NewWebhookDeliveryRepository(db, log)
	txRunner := &database.SQLTxRunner{DB: db}

	// Downstream adapters
	emailService, err := adapters.NewEmailService(cfg.Email, log)
	if err != nil {
		log.Fatal("Failed to create email service", "error", err)
	}
	cdnClient := adapters.NewCDNClient(cfg.CDN, log)

	dispatcher := notify.NewDispatcher(redisCache, cdnClient, emailService, ledgerRepo, log)

	// Domain services
	ledgerService := ledger.NewService(txRunner, depositRepo, eventRepo, ledgerRepo, dispatcher, cfg.Stars.PerUSD, log)
	ingestService := ingest.NewService(deliveryRepo, jobRepo, log)
	matcher := match.NewMatcher(int64(cfg.Stars.ToleranceBps))

	// Background workers
	processor, err := reconcile.NewProcessor(
		reconcile.ConfigFrom(cfg.Workers),
		jobRepo,
		depositRepo,
		deliveryRepo,
		ledgerService,
		matcher,
		log,
	)
	if err != nil {
		log.Fatal("Failed to create reconcile processor", "error", err)
	}
	if err := processor.Start(context.Background()); err != nil {
		log.Fatal("Failed to start reconcile processor", "error", err)
	}
	log.Info("Reconcile processor started", "workers", cfg.Workers.Count)

	expiryWorker := expiry.NewWorker(depositRepo, eventRepo, log)
	if err := expiryWorker.Start(); err != nil {
		log.Fatal("Failed to start expiry worker", "error", err)
	}
	log.Info("Deposit expiry worker started")

	// HTTP layer
	h := routes.Handlers{
		Health:   handlers.NewHealthHandlers(db, redisCache, version, log),
		Webhooks: handlers.NewWebhookHandlers(ingestService, cfg.Webhooks, log),
		Stars: handlers.NewStarsHandlers(
			depositRepo,
			eventRepo,
			jobRepo,
			ledgerService,
			ledgerRepo,
			redisCache,
			cfg.Stars.BalanceCacheTTL,
			log,
		),
		Admin: handlers.NewAdminHandlers(ledgerService, depositRepo, eventRepo, jobRepo, jobRepo, deliveryRepo, log),
	}
	router := routes.Setup(cfg, log, h)

	server := &http.Server{
		Addr:           fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:        router,
		ReadTimeout:    time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout:   time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20, // 1MB
	}

	go func() {
		log.Info("Starting server",
			"port", cfg.Server.Port,
			"environment", cfg.Environment,
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server", "error", err)
		}
	}()

	// Database pool metrics
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			stats := db.Stats()
			metrics.DatabaseConnectionsGauge.WithLabelValues("open").Set(float64(stats.OpenConnections))
			metrics.DatabaseConnectionsGauge.WithLabelValues("idle").Set(float64(stats.Idle))
			metrics.DatabaseConnectionsGauge.WithLabelValues("in_use").Set(float64(stats.InUse))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down...")

	// Stop taking requests first, then drain the workers so in-flight
	// credits commit before the process exits.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Warn("Server forced to shutdown", "error", err)
	}

	if err := processor.Shutdown(30 * time.Second); err != nil {
		log.Warn("Error stopping reconcile processor", "error", err)
	}
	expiryWorker.Stop()
	dispatcher.Wait()

	log.Info("Server exited gracefully")
}
