// Package api is the HTTP surface: the export endpoint, health, and metrics.
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jonesrussell/castflow/internal/aggregator"
	"github.com/jonesrussell/castflow/internal/cache"
	"github.com/jonesrussell/castflow/internal/config"
	"github.com/jonesrussell/castflow/internal/gate"
	"github.com/jonesrussell/castflow/internal/logger"
	"github.com/jonesrussell/castflow/internal/resolver"
)

const (
	healthStatusHealthy  = "healthy"
	healthStatusDegraded = "degraded"
	serviceVersion       = "1.0.0"
)

// Router holds the API dependencies
type Router struct {
	cfg        *config.Config
	resolver   *resolver.Resolver
	aggregator *aggregator.Aggregator
	gate       *gate.Gate
	cache      *cache.Cache
	registry   *prometheus.Registry
	logger     logger.Logger
}

// NewRouter creates a new API router
func NewRouter(cfg *config.Config, res *resolver.Resolver, agg *aggregator.Aggregator,
	g *gate.Gate, c *cache.Cache, registry *prometheus.Registry, log logger.Logger) *Router {
	return &Router{
		cfg:        cfg,
		resolver:   res,
		aggregator: agg,
		gate:       g,
		cache:      c,
		registry:   registry,
		logger:     log,
	}
}

// SetupRoutes builds the gin engine with middleware and all routes.
func (r *Router) SetupRoutes() *gin.Engine {
	if !r.cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestIDMiddleware())
	router.Use(requestLoggerMiddleware(r.logger))

	router.GET("/health", r.healthCheck)
	router.GET("/metrics", gin.WrapH(
		promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})))

	v1 := router.Group("/api/v1")
	v1.GET("/export", r.export)

	return router
}

// healthCheck reports service status plus circuit and cache occupancy. Any
// open circuit degrades the reported status.
func (r *Router) healthCheck(c *gin.Context) {
	circuits := r.gate.CircuitStates()

	status := healthStatusHealthy
	for _, state := range circuits {
		if state == "open" {
			status = healthStatusDegraded
			break
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status":   status,
		"service":  "castflow",
		"version":  serviceVersion,
		"circuits": circuits,
		"cache":    r.cache.Stats(),
	})
}
