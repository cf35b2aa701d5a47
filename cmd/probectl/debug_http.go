package main

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/danmuck/probectl/internal/observability"
)

// serveDebugHTTP exposes liveness and wire metrics while a command runs,
// mainly useful with long-lived sessions behind --debug-http.
func serveDebugHTTP(addr string) {
	observability.RegisterMetrics()
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	started := time.Now()
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"uptime":    time.Since(started).String(),
			"component": "probectl",
		})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	if err := router.Run(addr); err != nil {
		log.Error().Err(err).Str("addr", addr).Msg("debug http server stopped")
	}
}
