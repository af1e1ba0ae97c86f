package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/vidora/stars-service/internal/api/handlers"
	"github.com/vidora/stars-service/internal/api/middleware"
	"github.com/vidora/stars-service/internal/infrastructure/config"
	"github.com/vidora/stars-service/pkg/logger"
	"github.com/vidora/stars-service/pkg/tracing"
)

// Handlers bundles everything the router mounts
type Handlers struct {
	Health   *handlers.HealthHandlers
	Webhooks *handlers.WebhookHandlers
	Stars    *handlers.StarsHandlers
	Admin    *handlers.AdminHandlers
}

// Setup wires middleware and routes onto a fresh engine
func Setup(cfg *config.Config, log *logger.Logger, h Handlers) *gin.Engine {
	router := gin.New()

	router.Use(tracing.HTTPMiddleware())
	router.Use(middleware.RequestID())
	router.Use(middleware.Metrics())
	router.Use(middleware.RequestSizeLimit())
	router.Use(middleware.Logger(log))
	router.Use(middleware.Recovery(log))
	router.Use(middleware.CORS(cfg.Server.AllowedOrigins))
	router.Use(middleware.RateLimit(cfg.Server.RateLimitPerMin))
	router.Use(middleware.SecurityHeaders())

	router.GET("/health", h.Health.Health)
	router.GET("/ready", h.Health.Ready)
	router.GET("/live", h.Health.Live)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	if cfg.Environment != "production" {
		router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	v1 := router.Group("/api/v1")

	// Provider webhooks authenticate per request with a shared secret,
	// not a bearer token, so they sit outside the JWT middleware.
	webhooks := v1.Group("/webhooks")
	{
		webhooks.POST("/helius", h.Webhooks.HandleHelius)
		webhooks.POST("/trongrid", h.Webhooks.HandleTronGrid)
		webhooks.POST("/chain", h.Webhooks.HandleChain)
	}

	stars := v1.Group("/stars")
	stars.Use(middleware.Authentication(cfg, log))
	{
		stars.POST("/deposits", h.Stars.CreateDeposit)
		stars.GET("/deposits", h.Stars.ListDeposits)
		stars.POST("/deposits/:id/retry", h.Stars.RetryDeposit)
		stars.GET("/deposits/:id/events", h.Stars.DepositEvents)
		stars.GET("/balance", h.Stars.Balance)
		stars.GET("/transactions", h.Stars.Transactions)
	}

	admin := v1.Group("/admin/stars")
	admin.Use(middleware.Authentication(cfg, log))
	admin.Use(middleware.AdminAuth())
	{
		admin.POST("/deposits/:id/reconcile", h.Admin.ReconcileDeposit)
		admin.POST("/deposits/:id/refund", h.Admin.RefundDeposit)
		admin.POST("/adjust", h.Admin.AdjustBalance)
		admin.GET("/jobs/dlq", h.Admin.DeadLetterJobs)
		admin.GET("/jobs/metrics", h.Admin.QueueMetrics)
		admin.GET("/deliveries", h.Admin.Deliveries)
	}

	return router
}
