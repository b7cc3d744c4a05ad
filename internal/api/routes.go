package api

import (
	"github.com/gin-gonic/gin"

	"github.com/alekslucenko/planit-analytics/internal/handler"
)

// SetupRoutes configures health and dashboard API routes. The /api/v1
// group is JWT-protected; an empty secret (debug mode) leaves it open.
func SetupRoutes(
	router *gin.Engine,
	metrics *handler.MetricsHandler,
	health *handler.HealthHandler,
	jwtSecret string,
) {
	router.GET("/health", health.HealthCheck)
	router.GET("/health/ready", health.ReadyCheck)

	v1 := router.Group("/api/v1")
	v1.Use(JWTMiddleware(jwtSecret))

	m := v1.Group("/metrics")
	m.GET("/snapshot", metrics.GetSnapshot)
	m.GET("/buckets", metrics.GetBuckets)
	m.PUT("/timeframe", metrics.PutTimeframe)
	m.GET("/stream", metrics.Stream)
}
