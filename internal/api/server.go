// Package api is the HTTP ingress: TradingView-style alerts in, read-only
// views of the ledger out.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"binance-spot-executor/internal/position"
	"binance-spot-executor/internal/scoring"
	"binance-spot-executor/internal/trading"
)

// Decider is the position engine as seen by the alert handler
type Decider interface {
	DecideBuy(ctx context.Context, sig trading.Signal) (*position.Decision, error)
	DecideSell(ctx context.Context, sig trading.Signal) (*position.Decision, error)
}

// LotReader exposes the lot ledger
type LotReader interface {
	Lots(ctx context.Context, symbol string) ([]trading.Lot, error)
	AllLots(ctx context.Context) ([]trading.Lot, error)
}

// PendingReader exposes the pending-order set
type PendingReader interface {
	PendingOrders(ctx context.Context) ([]trading.PendingOrder, error)
}

// HealthCheck reports a dependency's health; nil means healthy
type HealthCheck func(ctx context.Context) error

// ServerConfig holds server configuration
type ServerConfig struct {
	Port           int
	Host           string
	ProductionMode bool
	AllowedOrigins []string
	// PassphraseHash is a bcrypt hash; empty disables the passphrase check
	PassphraseHash string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	// Shrink parameters for the k logged with each alert
	Shrink scoring.ShrinkParams
}

// Server represents the HTTP API server
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	config     ServerConfig
	engine     Decider
	lots       LotReader
	pending    PendingReader
	checks     map[string]HealthCheck
	logger     zerolog.Logger
}

// NewServer creates a new API server
func NewServer(config ServerConfig, engine Decider, lots LotReader, pending PendingReader, logger zerolog.Logger) *Server {
	if config.ProductionMode {
		gin.SetMode(gin.ReleaseMode)
	}
	if config.Shrink == (scoring.ShrinkParams{}) {
		config.Shrink = scoring.DefaultShrinkParams()
	}

	router := gin.New()
	logger = logger.With().Str("component", "API").Logger()

	router.Use(gin.Recovery())
	router.Use(traceMiddleware())
	router.Use(requestLogger(logger))

	corsConfig := cors.DefaultConfig()
	if len(config.AllowedOrigins) == 0 || (len(config.AllowedOrigins) == 1 && config.AllowedOrigins[0] == "*") {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = config.AllowedOrigins
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	corsConfig.ExposeHeaders = []string{"Content-Length", traceHeader}
	router.Use(cors.New(corsConfig))

	server := &Server{
		router:  router,
		config:  config,
		engine:  engine,
		lots:    lots,
		pending: pending,
		checks:  make(map[string]HealthCheck),
		logger:  logger,
	}
	server.setupRoutes()
	return server
}

// AddHealthCheck registers a dependency reported by /health
func (s *Server) AddHealthCheck(name string, check HealthCheck) {
	s.checks[name] = check
}

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := s.router.Group("/api")
	{
		api.POST("/alert", s.handleAlert)
		api.GET("/lots", s.handleGetLots)
		api.GET("/pending-orders", s.handleGetPendingOrders)
	}
}

// Handler returns the router for embedding and tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server and blocks until it stops
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info().Str("addr", addr).Msg("Starting HTTP server")

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("Shutting down HTTP server")
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

// errorResponse is a helper to send error responses
func errorResponse(c *gin.Context, statusCode int, message string) {
	c.JSON(statusCode, gin.H{
		"error":   true,
		"message": message,
	})
}

// successResponse is a helper to send success responses
func successResponse(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    data,
	})
}
