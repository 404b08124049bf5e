// Package api implements the local monitor API: live connections, stored
// captures, statistics and Prometheus metrics.
package api

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/bottled-honey/bottled-honey/internal/config"
	"github.com/bottled-honey/bottled-honey/internal/db"
	"github.com/bottled-honey/bottled-honey/internal/events"
	"github.com/bottled-honey/bottled-honey/internal/health"
	"github.com/bottled-honey/bottled-honey/internal/network"
	"github.com/bottled-honey/bottled-honey/internal/util"
)

// ConnectionSource exposes the live connections.
type ConnectionSource interface {
	List() []network.ConnectionInfo
	Count() int
	Get(id string) (*network.Connection, bool)
}

// CaptureSource exposes stored captures.
type CaptureSource interface {
	Query(ctx context.Context, filter db.CaptureFilter) ([]events.Event, error)
	Get(ctx context.Context, id string) (events.Event, bool, error)
	Stats(ctx context.Context, top int) (db.Stats, error)
	Prune(ctx context.Context, cutoff time.Time) (int64, error)
}

// HealthSource exposes the latest self-check results.
type HealthSource interface {
	Results() map[string]health.CheckResult
	Overall() health.Status
}

// Dependencies are the runtime components the API reads from. Captures,
// Health and Metrics may be nil when the matching feature is disabled.
type Dependencies struct {
	Config      *config.Config
	Connections ConnectionSource
	Captures    CaptureSource
	Health      HealthSource
	Metrics     http.Handler
}

// Server is the REST API server.
type Server struct {
	cfg         *config.Config
	connections ConnectionSource
	captures    CaptureSource
	health      HealthSource
	metrics     http.Handler
	startedAt   time.Time

	mu         sync.Mutex
	httpServer *http.Server
	router     *gin.Engine
}

// NewServer creates a new API server and builds its routes.
func NewServer(deps Dependencies) *Server {
	// Set Gin mode based on log level
	if zerolog.GlobalLevel() <= zerolog.DebugLevel {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		cfg:         deps.Config,
		connections: deps.Connections,
		captures:    deps.Captures,
		health:      deps.Health,
		metrics:     deps.Metrics,
		startedAt:   time.Now(),
	}
	s.router = s.buildRouter()
	return s
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on the configured address and serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	apiCfg := s.cfg.API

	httpServer := &http.Server{
		Addr:         apiCfg.Address,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	if apiCfg.TLSEnabled {
		if err := util.EnsureCertificate(apiCfg.TLSCertFile, apiCfg.TLSKeyFile); err != nil {
			return fmt.Errorf("failed to prepare API certificate: %w", err)
		}
		cert, err := tls.LoadX509KeyPair(apiCfg.TLSCertFile, apiCfg.TLSKeyFile)
		if err != nil {
			return fmt.Errorf("failed to load API certificate: %w", err)
		}
		httpServer.TLSConfig = &tls.Config{
			MinVersion:   tls.VersionTLS12,
			Certificates: []tls.Certificate{cert},
		}
	}

	// Create listener with SO_REUSEADDR for immediate rebinding after restart
	lc := network.ReuseAddrListenConfig()
	ln, err := lc.Listen(ctx, "tcp", apiCfg.Address)
	if err != nil {
		return &network.BindError{Addr: apiCfg.Address, Err: err}
	}

	s.mu.Lock()
	s.httpServer = httpServer
	s.mu.Unlock()

	log.Info().Str("addr", ln.Addr().String()).Bool("tls", apiCfg.TLSEnabled).Msg("monitor API starting")

	// Graceful shutdown
	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	if apiCfg.TLSEnabled {
		err = httpServer.Serve(tls.NewListener(ln, httpServer.TLSConfig))
	} else {
		err = httpServer.Serve(ln)
	}

	if err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("API server error: %w", err)
	}

	return nil
}

// buildRouter creates the Gin router with all routes and middleware.
func (s *Server) buildRouter() *gin.Engine {
	router := gin.New()

	// Global middleware
	router.Use(gin.Recovery())
	router.Use(RequestLogger())
	router.Use(SecurityHeaders())

	allowedOrigins := s.cfg.API.AllowedOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false, // Must be false when AllowOrigins is "*"
		MaxAge:           12 * time.Hour,
	}))

	rateLimiter := NewRateLimiter(s.cfg.API.RateLimitRPS)
	router.Use(rateLimiter.Middleware())

	public := router.Group("/api/public")
	{
		public.GET("/ping", s.handlePing)
		public.GET("/info", s.handleGetInfo)
	}

	monitor := router.Group("/api/monitor")
	{
		monitor.GET("/connections", s.handleGetConnections)
		monitor.GET("/captures", s.handleGetCaptures)
		monitor.GET("/captures/:id", s.handleGetCapture)
		monitor.GET("/stats", s.handleGetStats)
		monitor.GET("/health", s.handleGetHealth)
		monitor.GET("/logs", s.handleGetLogEntries)
		monitor.GET("/config", s.handleGetConfig)
	}

	control := router.Group("/api/control")
	{
		control.POST("/connections/:id/close", s.handleCloseConnection)
		control.POST("/prune", s.handlePrune)
	}

	if s.metrics != nil {
		router.GET("/metrics", gin.WrapH(s.metrics))
	}

	router.NoRoute(func(c *gin.Context) {
		if strings.HasPrefix(c.Request.URL.Path, "/api/") {
			c.JSON(http.StatusNotFound, gin.H{"error": "endpoint not found"})
			return
		}
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	})

	return router
}

// Stop gracefully stops the API server.
func (s *Server) Stop() error {
	s.mu.Lock()
	httpServer := s.httpServer
	s.mu.Unlock()

	if httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(ctx)
	}
	return nil
}
