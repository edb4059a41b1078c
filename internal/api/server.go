// Package api provides the HTTP API for observing a running simulation.
// GET endpoints are public and read-only; every read goes through the shared
// store's locked snapshot. POST endpoints require a bearer token.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/talgya/undercover/internal/engine"
	"github.com/talgya/undercover/internal/messaging"
	"github.com/talgya/undercover/internal/metrics"
	"github.com/talgya/undercover/internal/state"
)

// AdminKeyEnv names the environment variable holding the admin bearer token.
const AdminKeyEnv = "UNDERCOVER_ADMIN_KEY"

const maxStreams = 4

// Simulation is what the API observes. *engine.Coordinator satisfies it.
type Simulation interface {
	RunID() string
	StartedAt() time.Time
	Thresholds() state.Thresholds
	Store() *state.Store
	Channel() *messaging.Channel
	Shutdown() engine.Summary
}

// Server serves a simulation over HTTP.
type Server struct {
	Sim            Simulation
	Addr           string
	AdminKey       string        // Bearer token for POST endpoints. Empty = POST disabled.
	StreamInterval time.Duration // snapshot push period on /api/v1/stream

	limiter  *RateLimiter
	registry *prometheus.Registry
	metrics  *metrics.HTTP
	router   *gin.Engine
	srv      *http.Server
	streams  int32
}

// New builds a server with its router. Nothing listens until Start.
func New(sim Simulation, addr, adminKey string) *Server {
	s := &Server{
		Sim:            sim,
		Addr:           addr,
		AdminKey:       adminKey,
		StreamInterval: time.Second,
		limiter:        NewRateLimiter(20, 40),
	}
	s.registry, s.metrics = metrics.NewRegistry(sim.Store(), sim.Channel())
	s.router = s.routes()
	return s
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLog(), corsMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})))

	v1 := r.Group("/api/v1", s.limiter.Middleware(s.metrics.Limited))
	{
		// Public endpoints (GET, read-only).
		v1.GET("/status", s.handleStatus)
		v1.GET("/gangs", s.handleGangs)
		v1.GET("/gang/:id", s.handleGang)
		v1.GET("/informants", s.handleInformants)
		v1.GET("/events", s.handleEvents)
		v1.GET("/stream", s.handleStream)

		// Admin endpoints (POST, bearer token).
		v1.POST("/shutdown", s.adminOnly(), s.handleShutdown)
	}
	return r
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Start begins serving in a goroutine. The listener is bound before Start
// returns so a bad address fails here.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return err
	}
	s.srv = &http.Server{Handler: s.router, ReadHeaderTimeout: 5 * time.Second}
	slog.Info("HTTP API starting", "addr", ln.Addr().String(), "admin_auth", s.AdminKey != "")

	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", "error", err)
		}
	}()
	return nil
}

// Close stops the listener and waits for in-flight requests until ctx ends.
func (s *Server) Close(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

// requestLog counts every request and logs it at debug level.
func (s *Server) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		code := c.Writer.Status()
		s.metrics.Requests.WithLabelValues(route, strconv.Itoa(code)).Inc()
		slog.Debug("http request", "method", c.Request.Method, "route", route,
			"code", code, "elapsed", time.Since(start))
	}
}

// corsMiddleware adds CORS headers for allowed frontend origins.
// UNDERCOVER_CORS_ORIGINS holds a comma-separated allow list.
// Localhost dev servers are always allowed.
func corsMiddleware() gin.HandlerFunc {
	allowed := map[string]bool{
		"http://localhost:5173": true,
		"http://localhost:3000": true,
	}
	if env := os.Getenv("UNDERCOVER_CORS_ORIGINS"); env != "" {
		for _, origin := range strings.Split(env, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				allowed[origin] = true
			}
		}
	}
	return func(c *gin.Context) {
		if origin := c.GetHeader("Origin"); allowed[origin] {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func (s *Server) checkBearerToken(c *gin.Context) bool {
	auth := c.GetHeader("Authorization")
	return strings.HasPrefix(auth, "Bearer ") && strings.TrimPrefix(auth, "Bearer ") == s.AdminKey
}

// adminOnly requires the bearer admin key.
func (s *Server) adminOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.AdminKey == "" {
			c.AbortWithStatusJSON(http.StatusForbidden,
				gin.H{"error": "admin endpoints disabled (no " + AdminKeyEnv + " set)"})
			return
		}
		if !s.checkBearerToken(c) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

func (s *Server) acquireStream() bool {
	if atomic.AddInt32(&s.streams, 1) > maxStreams {
		atomic.AddInt32(&s.streams, -1)
		return false
	}
	return true
}

func (s *Server) releaseStream() { atomic.AddInt32(&s.streams, -1) }

// writeError maps store errors to status codes.
func writeError(c *gin.Context, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, state.ErrReleased):
		code = http.StatusServiceUnavailable
	case errors.Is(err, state.ErrUnknownGang):
		code = http.StatusNotFound
	}
	c.JSON(code, gin.H{"error": err.Error()})
}
