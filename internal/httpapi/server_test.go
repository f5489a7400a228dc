package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/rickgao/marketstream/internal/cache"
	"github.com/rickgao/marketstream/internal/market"
	"github.com/rickgao/marketstream/internal/model"
)

type fakeService struct {
	subscribed   map[string]int
	latest       map[string]model.Update
	history      map[string][]model.Update
	health       model.Health
	insight      json.RawMessage
	insightErr   error
	watchlistErr error
	watched      map[string]bool
	lastLimit    int
	lastMaxAge   time.Duration
}

func newFakeService() *fakeService {
	return &fakeService{
		subscribed: make(map[string]int),
		latest:     make(map[string]model.Update),
		history:    make(map[string][]model.Update),
		health:     model.Health{IsConnected: true, State: model.StateConnected},
	}
}

func (f *fakeService) SubscribeSymbol(sym string) error {
	if sym == "" {
		return market.ErrInvalidSymbol
	}
	f.subscribed[sym]++
	return nil
}

func (f *fakeService) UnsubscribeSymbol(sym string) error {
	if f.subscribed[sym] == 0 {
		return fmt.Errorf("%w: %s", market.ErrNotSubscribed, sym)
	}
	f.subscribed[sym]--
	return nil
}

func (f *fakeService) Symbols() []string { return []string{"AAPL", "MSFT"} }

func (f *fakeService) GetLatestData(sym string) (model.Update, bool) {
	u, ok := f.latest[sym]
	return u, ok
}

func (f *fakeService) GetHistoricalData(sym string, limit int) []model.Update {
	f.lastLimit = limit
	return f.history[sym]
}

func (f *fakeService) IsDataStale(sym string, maxAge time.Duration) bool {
	f.lastMaxAge = maxAge
	_, ok := f.latest[sym]
	return !ok
}

func (f *fakeService) GetConnectionHealth() model.Health { return f.health }

func (f *fakeService) Insight(_ context.Context, sym string) (json.RawMessage, error) {
	if f.insightErr != nil {
		return nil, f.insightErr
	}
	return f.insight, nil
}

func (f *fakeService) Watchlist(_ context.Context, user string) (model.UserData, error) {
	if f.watchlistErr != nil {
		return model.UserData{}, f.watchlistErr
	}
	return model.UserData{UserID: user, Watchlist: []string{"AAPL"}}, nil
}

func (f *fakeService) SubscribeWatchlist(ctx context.Context, user string) ([]string, error) {
	data, err := f.Watchlist(ctx, user)
	if err != nil {
		return nil, err
	}
	for _, s := range data.Watchlist {
		f.subscribed[s]++
	}
	return data.Watchlist, nil
}

func (f *fakeService) AddToWatchlist(_ context.Context, user, sym string) (bool, error) {
	if f.watchlistErr != nil {
		return false, f.watchlistErr
	}
	if sym == "" {
		return false, market.ErrInvalidSymbol
	}
	if f.watched == nil {
		f.watched = make(map[string]bool)
	}
	if f.watched[user+"/"+sym] {
		return false, nil
	}
	f.watched[user+"/"+sym] = true
	return true, nil
}

func (f *fakeService) RemoveFromWatchlist(_ context.Context, user, sym string) (bool, error) {
	if f.watchlistErr != nil {
		return false, f.watchlistErr
	}
	if !f.watched[user+"/"+sym] {
		return false, nil
	}
	delete(f.watched, user+"/"+sym)
	return true, nil
}

func (f *fakeService) CacheStats() []cache.Stats {
	return []cache.Stats{{Namespace: cache.MarketData, Hits: 3, Size: 1, MaxSize: 1000}}
}

func newTestServer(svc Service, opts ...Option) http.Handler {
	gin.SetMode(gin.TestMode)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(DefaultConfig(), svc, logger, opts...).Handler()
}

func do(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(method, path, nil))
	return w
}

func TestSubscribeAndUnsubscribe(t *testing.T) {
	svc := newFakeService()
	h := newTestServer(svc)

	w := do(t, h, http.MethodPost, "/v1/symbols/aapl/subscription")
	if w.Code != http.StatusOK {
		t.Fatalf("POST status = %d, body %s", w.Code, w.Body.String())
	}
	if svc.subscribed["AAPL"] != 1 {
		t.Errorf("subscribed[AAPL] = %d, want 1 (symbol normalized)", svc.subscribed["AAPL"])
	}

	w = do(t, h, http.MethodDelete, "/v1/symbols/AAPL/subscription")
	if w.Code != http.StatusOK {
		t.Fatalf("DELETE status = %d", w.Code)
	}

	w = do(t, h, http.MethodDelete, "/v1/symbols/AAPL/subscription")
	if w.Code != http.StatusNotFound {
		t.Errorf("second DELETE status = %d, want 404", w.Code)
	}
}

func TestGetLatest(t *testing.T) {
	svc := newFakeService()
	svc.latest["MSFT"] = model.Update{
		Symbol: "MSFT",
		Tick:   model.Tick[model.Quote]{Topic: "MSFT", Payload: model.Quote{Symbol: "MSFT", Price: decimal.RequireFromString("312.5")}},
	}
	h := newTestServer(svc)

	w := do(t, h, http.MethodGet, "/v1/symbols/msft/latest")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var got model.Update
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !got.Tick.Payload.Price.Equal(decimal.RequireFromString("312.5")) {
		t.Errorf("price = %s, want 312.5", got.Tick.Payload.Price)
	}

	if w := do(t, h, http.MethodGet, "/v1/symbols/NONE/latest"); w.Code != http.StatusNotFound {
		t.Errorf("missing symbol status = %d, want 404", w.Code)
	}
}

func TestGetHistory(t *testing.T) {
	svc := newFakeService()
	svc.history["AAPL"] = []model.Update{{Symbol: "AAPL"}, {Symbol: "AAPL"}}
	h := newTestServer(svc)

	tests := []struct {
		name      string
		path      string
		wantCode  int
		wantLimit int
		wantCount int
	}{
		{name: "no limit", path: "/v1/symbols/AAPL/history", wantCode: 200, wantLimit: 0, wantCount: 2},
		{name: "limit", path: "/v1/symbols/AAPL/history?limit=5", wantCode: 200, wantLimit: 5, wantCount: 2},
		{name: "bad limit", path: "/v1/symbols/AAPL/history?limit=abc", wantCode: 400},
		{name: "negative limit", path: "/v1/symbols/AAPL/history?limit=-1", wantCode: 400},
		{name: "unknown symbol", path: "/v1/symbols/ZZZ/history", wantCode: 200, wantCount: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, h, http.MethodGet, tt.path)
			if w.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantCode)
			}
			if tt.wantCode != http.StatusOK {
				return
			}
			var resp historyResponse
			if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if resp.Count != tt.wantCount || len(resp.Updates) != tt.wantCount {
				t.Errorf("count = %d, want %d", resp.Count, tt.wantCount)
			}
			if svc.lastLimit != tt.wantLimit {
				t.Errorf("limit passed = %d, want %d", svc.lastLimit, tt.wantLimit)
			}
		})
	}
}

func TestGetStale(t *testing.T) {
	svc := newFakeService()
	svc.latest["AAPL"] = model.Update{Symbol: "AAPL"}
	h := newTestServer(svc)

	w := do(t, h, http.MethodGet, "/v1/symbols/AAPL/stale?max_age=5s")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp staleResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Stale || svc.lastMaxAge != 5*time.Second {
		t.Errorf("resp = %+v, maxAge = %v", resp, svc.lastMaxAge)
	}

	do(t, h, http.MethodGet, "/v1/symbols/TSLA/stale")
	if svc.lastMaxAge != DefaultConfig().DefaultMaxAge {
		t.Errorf("default max age = %v, want %v", svc.lastMaxAge, DefaultConfig().DefaultMaxAge)
	}

	if w := do(t, h, http.MethodGet, "/v1/symbols/AAPL/stale?max_age=soon"); w.Code != http.StatusBadRequest {
		t.Errorf("bad max_age status = %d, want 400", w.Code)
	}
}

func TestGetInsight(t *testing.T) {
	tests := []struct {
		name     string
		insight  json.RawMessage
		err      error
		wantCode int
	}{
		{name: "ok", insight: json.RawMessage(`{"summary":"up"}`), wantCode: http.StatusOK},
		{name: "not configured", err: market.ErrNoInsights, wantCode: http.StatusServiceUnavailable},
		{name: "compute failed", err: &cache.ComputeError{Namespace: cache.Analytics, Key: "insight:AAPL", Err: errors.New("502 from upstream")}, wantCode: http.StatusBadGateway},
		{name: "compute timeout", err: &cache.ComputeError{Namespace: cache.Analytics, Key: "insight:AAPL", Err: context.DeadlineExceeded}, wantCode: http.StatusGatewayTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newFakeService()
			svc.insight = tt.insight
			svc.insightErr = tt.err
			h := newTestServer(svc)

			w := do(t, h, http.MethodGet, "/v1/symbols/AAPL/insight")
			if w.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d (body %s)", w.Code, tt.wantCode, w.Body.String())
			}
			if tt.wantCode == http.StatusOK && w.Body.String() != string(tt.insight) {
				t.Errorf("body = %s, want %s", w.Body.String(), tt.insight)
			}
		})
	}
}

func TestWatchlistRoutes(t *testing.T) {
	svc := newFakeService()
	h := newTestServer(svc)

	if w := do(t, h, http.MethodGet, "/v1/users/u1/watchlist"); w.Code != http.StatusOK {
		t.Fatalf("GET watchlist status = %d", w.Code)
	}
	if w := do(t, h, http.MethodPost, "/v1/users/u1/watchlist/subscription"); w.Code != http.StatusOK {
		t.Fatalf("POST watchlist subscription status = %d", w.Code)
	}
	if svc.subscribed["AAPL"] != 1 {
		t.Errorf("AAPL refs = %d, want 1", svc.subscribed["AAPL"])
	}

	svc.watchlistErr = market.ErrNoWatchlists
	if w := do(t, h, http.MethodGet, "/v1/users/u1/watchlist"); w.Code != http.StatusServiceUnavailable {
		t.Errorf("unconfigured watchlist status = %d, want 503", w.Code)
	}
}

func TestEditWatchlistRoutes(t *testing.T) {
	svc := newFakeService()
	h := newTestServer(svc)

	tests := []struct {
		name     string
		method   string
		path     string
		wantCode int
	}{
		{name: "add", method: http.MethodPut, path: "/v1/users/u1/watchlist/symbols/aapl", wantCode: http.StatusCreated},
		{name: "add again", method: http.MethodPut, path: "/v1/users/u1/watchlist/symbols/AAPL", wantCode: http.StatusOK},
		{name: "remove", method: http.MethodDelete, path: "/v1/users/u1/watchlist/symbols/AAPL", wantCode: http.StatusOK},
		{name: "remove missing", method: http.MethodDelete, path: "/v1/users/u1/watchlist/symbols/AAPL", wantCode: http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := do(t, h, tt.method, tt.path); w.Code != tt.wantCode {
				t.Errorf("status = %d, want %d (body %s)", w.Code, tt.wantCode, w.Body.String())
			}
		})
	}

	svc.watchlistErr = market.ErrWatchlistReadOnly
	if w := do(t, h, http.MethodPut, "/v1/users/u1/watchlist/symbols/MSFT"); w.Code != http.StatusNotImplemented {
		t.Errorf("read-only status = %d, want 501", w.Code)
	}
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name       string
		health     model.Health
		wantCode   int
		wantStatus string
	}{
		{name: "connected", health: model.Health{IsConnected: true, State: model.StateConnected}, wantCode: 200, wantStatus: "ok"},
		{name: "degraded", health: model.Health{IsConnected: true, State: model.StateDegraded}, wantCode: 200, wantStatus: "degraded"},
		{name: "reconnecting", health: model.Health{State: model.StateReconnecting, ReconnectAttempts: 2}, wantCode: 503, wantStatus: "unavailable"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newFakeService()
			svc.health = tt.health
			h := newTestServer(svc, WithVersion(map[string]string{"version": "test"}))

			w := do(t, h, http.MethodGet, "/health")
			if w.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantCode)
			}
			var resp struct {
				Status     string            `json:"status"`
				Connection model.Health      `json:"connection"`
				Version    map[string]string `json:"version"`
			}
			if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if resp.Status != tt.wantStatus {
				t.Errorf("status field = %q, want %q", resp.Status, tt.wantStatus)
			}
			if resp.Connection.State != tt.health.State {
				t.Errorf("connection state = %s, want %s", resp.Connection.State, tt.health.State)
			}
			if resp.Version["version"] != "test" {
				t.Errorf("version = %v", resp.Version)
			}
		})
	}
}

func TestCacheStatsAndMetrics(t *testing.T) {
	svc := newFakeService()
	metricsHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "marketstream_ticks_total 1\n")
	})
	var instrumented int
	mw := func(c *gin.Context) {
		instrumented++
		c.Next()
	}
	h := newTestServer(svc, WithMetrics("/metrics", metricsHandler, mw))

	w := do(t, h, http.MethodGet, "/v1/cache/stats")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"namespace":"MARKET_DATA"`) {
		t.Errorf("cache stats = %d %s", w.Code, w.Body.String())
	}

	w = do(t, h, http.MethodGet, "/metrics")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "marketstream_ticks_total") {
		t.Errorf("metrics = %d %s", w.Code, w.Body.String())
	}
	if instrumented != 2 {
		t.Errorf("middleware ran %d times, want 2", instrumented)
	}
}

func TestStartStop(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cfg := DefaultConfig()
	cfg.Addr = "127.0.0.1:0"
	srv := New(cfg, newFakeService(), slog.New(slog.NewTextHandler(io.Discard, nil)))

	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := srv.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}
