// Package opsapi exposes the operator-facing diagnostics surface
// (SPEC_FULL.md DOMAIN STACK): health, metrics, and a manual-close escape
// hatch for the position monitor. It is deliberately narrow and distinct
// from the teacher's user-facing REST/auth controller layer
// (internal/api), which this module does not reuse: there is no
// multi-tenant trading API here, only a bearer-token-guarded ops surface,
// grounded on the teacher's gin.Engine/middleware shape
// (internal/api/handler.go, internal/api/middleware.go).
package opsapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"mt4core/internal/model"
	"mt4core/internal/monitor"
)

// Monitor is the subset of *monitor.Monitor the ops API depends on.
type Monitor interface {
	Snapshot() []model.MonitoredPosition
	ForceClose(ctx context.Context, tradeID, reason string) error
	AddPosition(tradeID, userID, agentID, symbol string, entryPrice decimal.Decimal, signal model.EntrySignalData, mt4Ticket int64)
	Metrics() *monitor.SystemMetrics
	RegistrySize() int
}

// PollerStats is the subset of *poller.Poller the /metrics snapshot reads.
type PollerStats interface {
	Running() int
}

// LRUStats is the subset of *cache.OrderLRU the /metrics snapshot reads.
type LRUStats interface {
	Stats() (size, capacity int)
}

// Server wires the ops HTTP endpoints around a Monitor.
type Server struct {
	Router  *gin.Engine
	monitor Monitor
	poller  PollerStats
	lru     LRUStats
	log     zerolog.Logger
}

// NewServer builds the ops API server. poller and lru are optional (nil is
// safe) diagnostics sources for /metrics; token, when non-empty, gates
// every route except /healthz behind a bearer-token check.
func NewServer(mon Monitor, poller PollerStats, lru LRUStats, token string, log zerolog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(log))

	s := &Server{Router: router, monitor: mon, poller: poller, lru: lru, log: log}

	router.GET("/healthz", s.healthz)

	guarded := router.Group("/")
	guarded.Use(bearerAuth(token))
	guarded.GET("/metrics", s.metrics)
	guarded.GET("/admin/positions", s.listPositions)
	guarded.POST("/admin/positions", s.addPosition)
	guarded.POST("/admin/positions/:tradeId/close", s.closePosition)

	return s
}

// requestLogger mirrors the teacher's RequestIDMiddleware shape but logs
// via zerolog instead of the stdlib logger, matching this module's
// ambient logging stack.
func requestLogger(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("opsapi: request")
	}
}

// bearerAuth rejects requests lacking "Authorization: Bearer <token>" when
// token is non-empty; an empty token disables auth, which is acceptable
// only for local/dev deployments (spec §6 operator diagnostics surface).
func bearerAuth(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token == "" {
			c.Next()
			return
		}
		got := c.GetHeader("Authorization")
		if got != "Bearer "+token {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

func (s *Server) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "time": time.Now().UTC()})
}

type metricsResponse struct {
	monitor.MetricsSnapshot
	RegistrySize  int `json:"registry_size"`
	PollersActive int `json:"pollers_active,omitempty"`
	LRUSize       int `json:"lru_size,omitempty"`
	LRUCapacity   int `json:"lru_capacity,omitempty"`
}

// metrics reports the monitor's tick/exit latency statistics and its
// positions-processed, exits, signals-evaluated and error counters,
// alongside the registry size, active poller count, and in-process order
// LRU occupancy.
func (s *Server) metrics(c *gin.Context) {
	resp := metricsResponse{
		MetricsSnapshot: s.monitor.Metrics().GetSnapshot(),
		RegistrySize:    s.monitor.RegistrySize(),
	}
	if s.poller != nil {
		resp.PollersActive = s.poller.Running()
	}
	if s.lru != nil {
		resp.LRUSize, resp.LRUCapacity = s.lru.Stats()
	}
	c.JSON(http.StatusOK, resp)
}

type positionView struct {
	TradeID      string  `json:"tradeId"`
	UserID       string  `json:"userId"`
	Symbol       string  `json:"symbol"`
	EntryPrice   float64 `json:"entryPrice"`
	CurrentPrice float64 `json:"currentPrice"`
	MT4Ticket    int64   `json:"mt4Ticket"`
}

func (s *Server) listPositions(c *gin.Context) {
	positions := s.monitor.Snapshot()
	out := make([]positionView, 0, len(positions))
	for _, p := range positions {
		out = append(out, positionView{
			TradeID:      p.TradeID,
			UserID:       p.UserID,
			Symbol:       p.Symbol,
			EntryPrice:   p.EntryPrice.InexactFloat64(),
			CurrentPrice: p.CurrentPrice.InexactFloat64(),
			MT4Ticket:    p.MT4Ticket,
		})
	}
	c.JSON(http.StatusOK, gin.H{"positions": out})
}

type addPositionRequest struct {
	TradeID    string  `json:"tradeId"`
	UserID     string  `json:"userId" binding:"required"`
	AgentID    string  `json:"agentId"`
	Symbol     string  `json:"symbol" binding:"required"`
	EntryPrice float64 `json:"entryPrice" binding:"required"`
	Category   string  `json:"category"`
	MT4Ticket  int64   `json:"mt4Ticket"`
}

// addPosition registers a position with the monitor's registry (spec
// §4.4 addPosition). When the caller omits tradeId, one is generated here
// rather than pushing id generation onto the out-of-scope entry/strategy
// layer (grounded on the teacher's uuid.New().String() idiom for
// connection/trade ids).
func (s *Server) addPosition(c *gin.Context) {
	var req addPositionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	tradeID := req.TradeID
	if tradeID == "" {
		tradeID = uuid.NewString()
	}
	s.monitor.AddPosition(
		tradeID, req.UserID, req.AgentID, req.Symbol,
		decimal.NewFromFloat(req.EntryPrice),
		model.EntrySignalData{Category: req.Category},
		req.MT4Ticket,
	)
	c.JSON(http.StatusCreated, gin.H{"tradeId": tradeID})
}

type closeRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) closePosition(c *gin.Context) {
	tradeID := c.Param("tradeId")
	var req closeRequest
	_ = c.ShouldBindJSON(&req)

	if err := s.monitor.ForceClose(c.Request.Context(), tradeID, req.Reason); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "closed", "tradeId": tradeID})
}
