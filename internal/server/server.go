// Package server sets up the HTTP server exposing the gated gift actions.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/glowcast/giftgate/internal/actor"
	"github.com/glowcast/giftgate/internal/ban"
	"github.com/glowcast/giftgate/internal/config"
	"github.com/glowcast/giftgate/internal/envelope"
	"github.com/glowcast/giftgate/internal/fraud"
	"github.com/glowcast/giftgate/internal/gate"
	"github.com/glowcast/giftgate/internal/gift"
	"github.com/glowcast/giftgate/internal/idgen"
	"github.com/glowcast/giftgate/internal/kvstore"
	"github.com/glowcast/giftgate/internal/ledger"
	"github.com/glowcast/giftgate/internal/logging"
	"github.com/glowcast/giftgate/internal/metrics"
	"github.com/glowcast/giftgate/internal/ratelimit"
	"github.com/glowcast/giftgate/internal/sessiontoken"
)

// Server wraps the HTTP server and the security gate's dependencies.
type Server struct {
	cfg       *config.Config
	gate      *gate.Gate
	auth      actor.AuthContext
	requests  gift.Store
	balances  ledger.BalanceStore
	catalog   gift.Catalog
	directory gift.UserDirectory
	blocks    gift.BlockRelationship
	kv        *kvstore.MemoryStore
	db        *sql.DB // nil when using in-memory stores
	router    *gin.Engine
	httpSrv   *http.Server
	logger    *slog.Logger

	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server.
type Option func(*Server)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithCatalog wires the platform's gift catalog service.
func WithCatalog(c gift.Catalog) Option {
	return func(s *Server) {
		s.catalog = c
	}
}

// WithDirectory wires the platform's user directory service.
func WithDirectory(d gift.UserDirectory) Option {
	return func(s *Server) {
		s.directory = d
	}
}

// WithBlocks wires the platform's block-relationship service.
func WithBlocks(b gift.BlockRelationship) Option {
	return func(s *Server) {
		s.blocks = b
	}
}

// New creates a server instance and wires the gate.
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, cfg.LogFormat),
		auth:   contextAuth{},
	}

	for _, opt := range opts {
		opt(s)
	}

	// Counters, nonces, bans, and balance locks are node-local state.
	s.kv = kvstore.NewMemoryStore()

	// Gift requests and balances: Postgres if DATABASE_URL is set,
	// otherwise in-memory.
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
		if err := db.Ping(); err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		s.db = db
		s.requests = gift.NewPostgresStore(db)
		s.balances = ledger.NewPostgresBalanceStore(db)
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))
	} else {
		s.requests = gift.NewMemoryStore()
		s.balances = ledger.NewMemoryBalanceStore()
		s.logger.Info("using in-memory storage")
	}

	if s.catalog == nil {
		s.catalog = DefaultCatalog()
		s.logger.Warn("no catalog service wired, using built-in development catalog")
	}
	if s.directory == nil {
		s.directory = NewStaticDirectory()
		s.logger.Warn("no user directory wired, using empty static directory")
	}
	if s.blocks == nil {
		s.blocks = NoBlocks{}
	}

	s.gate = gate.New(gate.Deps{
		Tokens:  sessiontoken.New(cfg.SessionTokenSecret, cfg.WebAppKey),
		Limiter: ratelimit.NewLimiter(s.kv, ratelimit.Config{
			RequesterPerHour: cfg.RequesterPerHour,
			PairPerHour:      cfg.PairPerHour,
			BurstWindow:      time.Minute,
			BurstMax:         cfg.BurstMax,
		}),
		Bots:      ratelimit.NewBotDetector(s.kv),
		Fraud:     fraud.NewDetector(s.requests),
		Envelopes: envelope.NewEngine(cfg.EnvelopeSecret, envelope.NewNonceRegistry(s.kv)),
		Guard:     ledger.NewGuard(s.kv, s.balances),
		Bans:      ban.New(s.kv),
		Requests:  s.requests,
		Catalog:   s.catalog,
		Directory: s.directory,
		Blocks:    s.blocks,
		KV:        s.kv,
	}, gate.BanDurations{
		Burst:  cfg.BurstBanHours,
		Bot:    cfg.BotBanHours,
		Replay: cfg.ReplayBanHours,
		Tamper: cfg.TamperBanHours,
	})

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)
	return s, nil
}

// maskDSN hides the password in a connection string for logging.
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}

func (s *Server) setupMiddleware() {
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	s.router.Use(metrics.Middleware())
	s.router.Use(s.requestIDMiddleware())
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = idgen.Hex(16)
		}

		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

		c.Header("X-Request-ID", requestID)
		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()
		logger := logging.L(c.Request.Context())

		switch {
		case status >= 500:
			logger.Error("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
				"client_ip", c.ClientIP(),
			)
		case status >= 400:
			logger.Warn("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		default:
			logger.Info("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		}
	}
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	v1 := s.router.Group("/v1")
	v1.Use(s.actorMiddleware())

	v1.GET("/gifts/available", s.availableHandler)
	v1.GET("/gifts/pending", s.pendingHandler)
	v1.POST("/gifts/request", s.requestHandler)
	v1.POST("/gifts/:id/accept", s.acceptHandler)
	v1.POST("/gifts/:id/reject", s.rejectHandler)

	v1.POST("/admin/purge", s.purgeHandler)
}

// Run starts the HTTP server and blocks until shutdown.
func (s *Server) Run(ctx context.Context) error {
	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("starting server", "port", s.cfg.Port)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var firstErr error
	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			firstErr = err
		}
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.kv.Stop()

	s.logger.Info("shutdown complete")
	return firstErr
}

func (s *Server) healthHandler(c *gin.Context) {
	if !s.healthy.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

func (s *Server) livenessHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}
