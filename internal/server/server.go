// Package server provides the HTTP server for the handsign service.
package server

import (
	"context"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/ayusman/handsign/internal/apierr"
	"github.com/ayusman/handsign/internal/gateway"
	"github.com/ayusman/handsign/internal/logger"
	"github.com/ayusman/handsign/internal/server/api"
	"github.com/ayusman/handsign/internal/store"
)

// Config holds the server configuration. Every collaborator is optional;
// routes are only mounted for the ones that are set.
type Config struct {
	StaticDir string
	Store     *store.Store
	API       *api.Handler
	Gateway   *gateway.Gateway

	// Preview serves an MJPEG stream at /api/stream.
	Preview FrameSource

	AllowedOrigins []string
	Production     bool
}

// Server represents the HTTP server for the handsign application.
type Server struct {
	config Config
	engine *gin.Engine
	start  time.Time
	http   *http.Server
}

// New creates a new Server with the given configuration.
func New(config Config) *Server {
	if config.Production {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		config: config,
		engine: gin.New(),
		start:  time.Now(),
	}
	s.engine.HandleMethodNotAllowed = true
	s.engine.Use(gin.Recovery(), requestLogger())
	if mw := s.cors(); mw != nil {
		s.engine.Use(mw)
	}
	s.setupRoutes()
	return s
}

// cors returns nil in production when no origins are configured, leaving
// the API same-origin only.
func (s *Server) cors() gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	switch {
	case len(s.config.AllowedOrigins) > 0:
		cfg.AllowOrigins = s.config.AllowedOrigins
	case s.config.Production:
		return nil
	default:
		cfg.AllowOriginFunc = func(string) bool { return true }
	}
	return cors.New(cfg)
}

// setupRoutes configures all HTTP routes for the server.
func (s *Server) setupRoutes() {
	apiGroup := s.engine.Group("/api")
	apiGroup.GET("/health", s.handleHealth)

	if s.config.API != nil {
		s.config.API.Register(apiGroup)
	}
	if s.config.Preview != nil {
		apiGroup.GET("/stream", gin.WrapH(NewStreamHandler(s.config.Preview)))
	}
	if s.config.Gateway != nil {
		s.engine.GET("/ws", s.config.Gateway.Handler())
	}

	s.engine.NoMethod(func(c *gin.Context) {
		c.JSON(http.StatusMethodNotAllowed, apierr.Response{Error: apierr.CodeBadRequest, Message: "method not allowed"})
	})
	s.engine.NoRoute(s.handleNoRoute)
}

// handleNoRoute serves static files when StaticDir is configured. Paths
// without an extension that match no file fall back to index.html so client
// side routes such as /reset/{token} load the app.
func (s *Server) handleNoRoute(c *gin.Context) {
	p := c.Request.URL.Path
	if s.config.StaticDir == "" || strings.HasPrefix(p, "/api/") || c.Request.Method != http.MethodGet {
		apierr.NotFound(c, "")
		return
	}

	clean := path.Clean("/" + p)
	if path.Ext(clean) == "" && clean != "/" {
		if _, err := os.Stat(filepath.Join(s.config.StaticDir, filepath.FromSlash(clean))); err != nil {
			index := filepath.Join(s.config.StaticDir, "index.html")
			if _, err := os.Stat(index); err == nil {
				c.File(index)
				return
			}
		}
	}
	http.FileServer(http.Dir(s.config.StaticDir)).ServeHTTP(c.Writer, c.Request)
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.engine.ServeHTTP(w, r)
}

type healthResponse struct {
	Status   string `json:"status"`
	Uptime   string `json:"uptime"`
	Sessions int64  `json:"sessions"`
	Database string `json:"database,omitempty"`
}

// handleHealth handles GET requests to /api/health.
func (s *Server) handleHealth(c *gin.Context) {
	resp := healthResponse{
		Status: "ok",
		Uptime: time.Since(s.start).Round(time.Second).String(),
	}
	if s.config.Gateway != nil {
		resp.Sessions = s.config.Gateway.Active()
	}

	code := http.StatusOK
	if s.config.Store != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		resp.Database = "ok"
		if err := s.config.Store.Ping(ctx); err != nil {
			logger.Warn("health check database ping failed", "error", err)
			resp.Status = "degraded"
			resp.Database = "unavailable"
			code = http.StatusServiceUnavailable
		}
	}
	c.JSON(code, resp)
}

// ListenAndServe starts the HTTP server on the given address.
func (s *Server) ListenAndServe(addr string) error {
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s.http.ListenAndServe()
}

// Shutdown stops accepting connections and waits for in-flight requests.
// Hijacked websocket connections are not tracked by net/http; they end when
// their clients disconnect or the process exits.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		p := c.Request.URL.Path
		if p == "/api/health" || p == "/api/stream" {
			return
		}
		status := c.Writer.Status()
		args := []any{
			"method", c.Request.Method,
			"path", p,
			"status", status,
			"duration", time.Since(start),
			"client_ip", c.ClientIP(),
		}
		switch {
		case status >= http.StatusInternalServerError:
			logger.Error("request failed", args...)
		case status >= http.StatusBadRequest:
			logger.Warn("request rejected", args...)
		default:
			logger.Debug("request", args...)
		}
	}
}
