// Package http serves point queries over the merged pollution grid.
package http

import (
	"os"
	"strconv"
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"go.ngs.io/ph-pollution/internal/metrics"
)

// SetupRouter creates and configures the Gin router.
func SetupRouter(queryUC Querier, source string) *gin.Engine {

	router := gin.Default()

	// Setup CORS middleware.
	corsConfig := cors.DefaultConfig()

	// Default to allow all origins if not specified.
	allowedOrigins := os.Getenv("CORS_ALLOWED_ORIGINS")
	if allowedOrigins != "" {
		corsConfig.AllowOrigins = strings.Split(allowedOrigins, ",")
	} else {
		corsConfig.AllowAllOrigins = true
	}

	router.Use(cors.New(corsConfig))
	router.Use(countRequests)

	handler := NewHandler(queryUC, source)

	// API v1 routes.
	v1 := router.Group("/v1")
	v1.GET("/variables", handler.GetVariables)
	v1.GET("/values", handler.GetValues)

	router.GET("/health", handler.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return router
}

func countRequests(c *gin.Context) {
	c.Next()
	endpoint := c.FullPath()
	if endpoint == "" || endpoint == "/metrics" {
		return
	}
	metrics.QueryRequests.WithLabelValues(endpoint, strconv.Itoa(c.Writer.Status())).Inc()
}
