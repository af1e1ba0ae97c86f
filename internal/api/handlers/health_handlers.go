package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"

	"github.com/vidora/stars-service/internal/infrastructure/cache"
	"github.com/vidora/stars-service/internal/infrastructure/database"
	"github.com/vidora/stars-service/pkg/logger"
)

// HealthHandlers serves liveness and readiness probes
type HealthHandlers struct {
	db      *sqlx.DB
	cache   cache.RedisClient
	logger  *logger.Logger
	version string
	started time.Time
}

// NewHealthHandlers creates the health probe handlers
func NewHealthHandlers(db *sqlx.DB, redisCache cache.RedisClient, version string, logger *logger.Logger) *HealthHandlers {
	return &HealthHandlers{
		db:      db,
		cache:   redisCache,
		logger:  logger,
		version: version,
		started: time.Now(),
	}
}

// Health reports overall service status
// @Summary Service health
// @Tags health
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /health [get]
func (h *HealthHandlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "stars-service",
		"version": h.version,
		"uptime":  time.Since(h.started).String(),
	})
}

// Ready reports whether dependencies are reachable. A failing check
// returns 503 so load balancers stop routing here.
// @Summary Readiness probe
// @Tags health
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /ready [get]
func (h *HealthHandlers) Ready(c *gin.Context) {
	checks := gin.H{}
	healthy := true

	if err := database.HealthCheck(h.db); err != nil {
		h.logger.Error("Readiness check failed for database", "error", err)
		checks["database"] = "unhealthy"
		healthy = false
	} else {
		checks["database"] = "ok"
	}

	if h.cache != nil {
		if err := h.cache.Ping(c.Request.Context()); err != nil {
			h.logger.Error("Readiness check failed for redis", "error", err)
			checks["redis"] = "unhealthy"
			healthy = false
		} else {
			checks["redis"] = "ok"
		}
	}

	status := http.StatusOK
	overall := "ready"
	if !healthy {
		status = http.StatusServiceUnavailable
		overall = "not ready"
	}

	c.JSON(status, gin.H{"status": overall, "checks": checks})
}

// Live reports process liveness only
// @Summary Liveness probe
// @Tags health
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /live [get]
func (h *HealthHandlers) Live(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}
