// Package httpserver exposes the station's read-only HTTP surface:
// health probes, metrics and the current view of the device chain.
// Commands never enter over HTTP; they go through the Redis queue.
package httpserver

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	cfgpkg "github.com/servinagrero/SRAMPlatform/internal/config"
	"github.com/servinagrero/SRAMPlatform/internal/health"
	"github.com/servinagrero/SRAMPlatform/internal/reader"
)

// Server wraps the Gin engine behind a plain http.Server.
type Server struct {
	srv *http.Server
}

// New configures the routes. metricsHandler and aggregator may be nil,
// in which case the corresponding routes are not registered.
func New(cfg cfgpkg.HTTPConfig, metricsPath string, metricsHandler http.Handler, aggregator *health.Aggregator, session *reader.Session) *Server {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})
	r.GET("/readyz", func(c *gin.Context) {
		if aggregator == nil || aggregator.Ready(c.Request.Context()) {
			c.String(http.StatusOK, "ready")
			return
		}
		c.String(http.StatusServiceUnavailable, "not-ready")
	})
	if aggregator != nil {
		r.GET("/health", func(c *gin.Context) {
			ctx := c.Request.Context()
			overall := aggregator.OverallStatus(ctx)
			code := http.StatusOK
			if overall == health.StatusUnhealthy {
				code = http.StatusServiceUnavailable
			}
			c.JSON(code, gin.H{
				"status": overall,
				"checks": aggregator.CheckAll(ctx),
			})
		})
	}

	if metricsPath == "" {
		metricsPath = "/metrics"
	}
	if metricsHandler != nil {
		r.GET(metricsPath, gin.WrapH(metricsHandler))
	}

	api := r.Group("/api/v1")
	api.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, session.Snapshot())
	})
	api.GET("/devices", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"devices": session.Devices()})
	})

	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return &Server{srv: srv}
}

// Start serves until Shutdown or a listener error.
func (s *Server) Start() error {
	return s.srv.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
