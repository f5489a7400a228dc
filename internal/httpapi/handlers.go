package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rickgao/marketstream/internal/cache"
	"github.com/rickgao/marketstream/internal/market"
	"github.com/rickgao/marketstream/internal/model"
)

type errorResponse struct {
	Error string `json:"error"`
}

type healthResponse struct {
	Status     string       `json:"status"`
	Connection model.Health `json:"connection"`
	Version    any          `json:"version,omitempty"`
}

type historyResponse struct {
	Symbol  string         `json:"symbol"`
	Count   int            `json:"count"`
	Updates []model.Update `json:"updates"`
}

type staleResponse struct {
	Symbol string `json:"symbol"`
	MaxAge string `json:"max_age"`
	Stale  bool   `json:"stale"`
}

func abort(c *gin.Context, status int, err error) {
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, errorResponse{Error: err.Error()})
}

// statusFor maps service errors onto HTTP status codes.
func statusFor(err error) int {
	var cfgErr *cache.ConfigurationError
	switch {
	case errors.Is(err, market.ErrInvalidSymbol):
		return http.StatusBadRequest
	case errors.Is(err, market.ErrNotSubscribed):
		return http.StatusNotFound
	case errors.Is(err, market.ErrNoInsights), errors.Is(err, market.ErrNoWatchlists):
		return http.StatusServiceUnavailable
	case errors.Is(err, market.ErrWatchlistReadOnly):
		return http.StatusNotImplemented
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.As(err, &cfgErr):
		return http.StatusInternalServerError
	case cache.IsComputeError(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) getHealth(c *gin.Context) {
	h := s.svc.GetConnectionHealth()
	resp := healthResponse{Status: "ok", Connection: h, Version: s.version}
	status := http.StatusOK
	if !h.IsConnected {
		resp.Status = "unavailable"
		status = http.StatusServiceUnavailable
	} else if h.State == model.StateDegraded {
		resp.Status = "degraded"
	}
	c.JSON(status, resp)
}

func (s *Server) listSymbols(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"symbols": s.svc.Symbols()})
}

func (s *Server) subscribe(c *gin.Context) {
	sym := market.NormalizeSymbol(c.Param("symbol"))
	if err := s.svc.SubscribeSymbol(sym); err != nil {
		abort(c, statusFor(err), err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"symbol": sym, "subscribed": true})
}

func (s *Server) unsubscribe(c *gin.Context) {
	sym := market.NormalizeSymbol(c.Param("symbol"))
	if err := s.svc.UnsubscribeSymbol(sym); err != nil {
		abort(c, statusFor(err), err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"symbol": sym, "subscribed": false})
}

func (s *Server) getLatest(c *gin.Context) {
	sym := market.NormalizeSymbol(c.Param("symbol"))
	u, ok := s.svc.GetLatestData(sym)
	if !ok {
		c.AbortWithStatusJSON(http.StatusNotFound, errorResponse{Error: "no data for " + sym})
		return
	}
	c.JSON(http.StatusOK, u)
}

func (s *Server) getHistory(c *gin.Context) {
	sym := market.NormalizeSymbol(c.Param("symbol"))
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.AbortWithStatusJSON(http.StatusBadRequest, errorResponse{Error: "limit must be a non-negative integer"})
			return
		}
		limit = n
	}
	updates := s.svc.GetHistoricalData(sym, limit)
	if updates == nil {
		updates = []model.Update{}
	}
	c.JSON(http.StatusOK, historyResponse{Symbol: sym, Count: len(updates), Updates: updates})
}

func (s *Server) getStale(c *gin.Context) {
	sym := market.NormalizeSymbol(c.Param("symbol"))
	maxAge := s.cfg.DefaultMaxAge
	if raw := c.Query("max_age"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			c.AbortWithStatusJSON(http.StatusBadRequest, errorResponse{Error: "max_age must be a positive duration such as 30s"})
			return
		}
		maxAge = d
	}
	c.JSON(http.StatusOK, staleResponse{Symbol: sym, MaxAge: maxAge.String(), Stale: s.svc.IsDataStale(sym, maxAge)})
}

func (s *Server) getInsight(c *gin.Context) {
	sym := market.NormalizeSymbol(c.Param("symbol"))
	raw, err := s.svc.Insight(c.Request.Context(), sym)
	if err != nil {
		abort(c, statusFor(err), err)
		return
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", raw)
}

func (s *Server) getWatchlist(c *gin.Context) {
	data, err := s.svc.Watchlist(c.Request.Context(), c.Param("user"))
	if err != nil {
		abort(c, statusFor(err), err)
		return
	}
	c.JSON(http.StatusOK, data)
}

func (s *Server) subscribeWatchlist(c *gin.Context) {
	user := c.Param("user")
	syms, err := s.svc.SubscribeWatchlist(c.Request.Context(), user)
	if err != nil {
		abort(c, statusFor(err), err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user_id": user, "subscribed": syms})
}

func (s *Server) addWatchlistSymbol(c *gin.Context) {
	user := c.Param("user")
	sym := market.NormalizeSymbol(c.Param("symbol"))
	added, err := s.svc.AddToWatchlist(c.Request.Context(), user, sym)
	if err != nil {
		abort(c, statusFor(err), err)
		return
	}
	status := http.StatusOK
	if added {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{"user_id": user, "symbol": sym, "added": added})
}

func (s *Server) removeWatchlistSymbol(c *gin.Context) {
	user := c.Param("user")
	sym := market.NormalizeSymbol(c.Param("symbol"))
	removed, err := s.svc.RemoveFromWatchlist(c.Request.Context(), user, sym)
	if err != nil {
		abort(c, statusFor(err), err)
		return
	}
	if !removed {
		c.AbortWithStatusJSON(http.StatusNotFound, errorResponse{Error: sym + " is not on the watchlist of " + user})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user_id": user, "symbol": sym, "removed": true})
}

func (s *Server) getCacheStats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"namespaces": s.svc.CacheStats()})
}
