// Package httpapi serves the consumer-facing HTTP API over the market
// coordinator: subscriptions, latest and historical data, insights, cache
// stats, health, and Prometheus metrics.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rickgao/marketstream/internal/cache"
	"github.com/rickgao/marketstream/internal/model"
)

// Service is the part of the market coordinator the API exposes.
type Service interface {
	SubscribeSymbol(symbol string) error
	UnsubscribeSymbol(symbol string) error
	Symbols() []string
	GetLatestData(symbol string) (model.Update, bool)
	GetHistoricalData(symbol string, limit int) []model.Update
	IsDataStale(symbol string, maxAge time.Duration) bool
	GetConnectionHealth() model.Health
	Insight(ctx context.Context, symbol string) (json.RawMessage, error)
	Watchlist(ctx context.Context, userID string) (model.UserData, error)
	SubscribeWatchlist(ctx context.Context, userID string) ([]string, error)
	AddToWatchlist(ctx context.Context, userID, symbol string) (bool, error)
	RemoveFromWatchlist(ctx context.Context, userID, symbol string) (bool, error)
	CacheStats() []cache.Stats
}

// Config controls the HTTP server.
type Config struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	DefaultMaxAge   time.Duration // Staleness threshold when max_age is omitted
}

// DefaultConfig returns sensible server defaults.
func DefaultConfig() Config {
	return Config{
		Addr:            ":8080",
		ReadTimeout:     10 * time.Second,
		WriteTimeout:    10 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		DefaultMaxAge:   30 * time.Second,
	}
}

// Option configures a Server.
type Option func(*Server)

// WithMetrics mounts h at path and instruments every route with mw.
func WithMetrics(path string, h http.Handler, mw gin.HandlerFunc) Option {
	return func(s *Server) {
		s.metricsPath = path
		s.metricsHandler = h
		s.metricsMiddleware = mw
	}
}

// WithVersion sets the build info reported by /health.
func WithVersion(v any) Option {
	return func(s *Server) {
		s.version = v
	}
}

// Server is the HTTP API server.
type Server struct {
	cfg    Config
	svc    Service
	logger *slog.Logger
	engine *gin.Engine
	srv    *http.Server

	metricsPath       string
	metricsHandler    http.Handler
	metricsMiddleware gin.HandlerFunc
	version           any

	errCh chan error
}

// New creates the server and its routes.
func New(cfg Config, svc Service, logger *slog.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.Addr == "" {
		cfg.Addr = def.Addr
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = def.ShutdownTimeout
	}
	if cfg.DefaultMaxAge <= 0 {
		cfg.DefaultMaxAge = def.DefaultMaxAge
	}

	s := &Server{
		cfg:    cfg,
		svc:    svc,
		logger: logger.With("component", "httpapi"),
		errCh:  make(chan error, 1),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.engine = gin.New()
	s.engine.Use(gin.Recovery(), s.requestLogger())
	if s.metricsMiddleware != nil {
		s.engine.Use(s.metricsMiddleware)
	}
	s.routes()
	return s
}

// Handler returns the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) routes() {
	s.engine.GET("/health", s.getHealth)
	if s.metricsHandler != nil {
		s.engine.GET(s.metricsPath, gin.WrapH(s.metricsHandler))
	}

	v1 := s.engine.Group("/v1")
	v1.GET("/symbols", s.listSymbols)
	v1.POST("/symbols/:symbol/subscription", s.subscribe)
	v1.DELETE("/symbols/:symbol/subscription", s.unsubscribe)
	v1.GET("/symbols/:symbol/latest", s.getLatest)
	v1.GET("/symbols/:symbol/history", s.getHistory)
	v1.GET("/symbols/:symbol/stale", s.getStale)
	v1.GET("/symbols/:symbol/insight", s.getInsight)
	v1.GET("/users/:user/watchlist", s.getWatchlist)
	v1.POST("/users/:user/watchlist/subscription", s.subscribeWatchlist)
	v1.PUT("/users/:user/watchlist/symbols/:symbol", s.addWatchlistSymbol)
	v1.DELETE("/users/:user/watchlist/symbols/:symbol", s.removeWatchlistSymbol)
	v1.GET("/cache/stats", s.getCacheStats)
}

// Start listens in the background. Listen errors are returned by Stop.
func (s *Server) Start(ctx context.Context) error {
	s.srv = &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.engine,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		BaseContext:  func(_ net.Listener) context.Context { return ctx },
	}

	go func() {
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server failed", "error", err)
			s.errCh <- err
		}
	}()

	s.logger.Info("http server started", "addr", s.cfg.Addr)
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()

	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	select {
	case err := <-s.errCh:
		return fmt.Errorf("http server: %w", err)
	default:
	}
	s.logger.Info("http server stopped")
	return nil
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		attrs := []any{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", status,
			"duration", time.Since(start),
		}
		if len(c.Errors) > 0 {
			attrs = append(attrs, "error", c.Errors.String())
		}
		if status >= http.StatusInternalServerError {
			s.logger.Warn("request failed", attrs...)
		} else {
			s.logger.Debug("request", attrs...)
		}
	}
}
