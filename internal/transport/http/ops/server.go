// Package ops 提供运维 HTTP 面板：状态/持仓/权益查询与
// 熔断、恢复、人工平仓三个写操作。只读端点无副作用，写操作全部落流水。
package ops

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/tidwall/gjson"

	"strend/internal/gateway/database"
	"strend/internal/ledger"
	"strend/internal/logger"
)

// StatusView 是 /api/ops/status 的响应体。
type StatusView struct {
	Symbols       []string  `json:"symbols"`
	Interval      string    `json:"interval"`
	StartedAt     time.Time `json:"started_at"`
	LastTick      time.Time `json:"last_tick"`
	Equity        float64   `json:"equity"`
	HighMark      float64   `json:"high_mark"`
	Halted        bool      `json:"halted"`
	HaltReason    string    `json:"halt_reason,omitempty"`
	HaltedAt      time.Time `json:"halted_at,omitempty"`
	OpenPositions int       `json:"open_positions"`
	WSReconnects  int       `json:"ws_reconnects"`
	WSLastError   string    `json:"ws_last_error,omitempty"`
}

// Backend 由控制循环实现。
type Backend interface {
	Status() StatusView
	Positions() []ledger.Position
	EquityHistory(ctx context.Context, since time.Time, limit int) ([]database.EquitySnapshotRecord, error)
	Halt(reason string)
	Resume()
	ClosePosition(ctx context.Context, symbol, reason string) error
}

// ServerConfig 描述 ops HTTP 服务依赖。Journal/Trades 可为 nil，
// 对应端点返回 503。
type ServerConfig struct {
	Addr    string
	Backend Backend
	Journal database.Journal
	Trades  database.TradeStore
}

type Server struct {
	addr   string
	router *gin.Engine
}

func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Backend == nil {
		return nil, errors.New("ops http server requires backend")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":9991"
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	h := &handlers{backend: cfg.Backend, journal: cfg.Journal, trades: cfg.Trades}
	api := router.Group("/api/ops")
	api.GET("/status", h.handleStatus)
	api.GET("/positions", h.handlePositions)
	api.GET("/equity", h.handleEquity)
	api.GET("/events", h.handleEvents)
	api.GET("/trades", h.handleTrades)
	api.POST("/halt", h.handleHalt)
	api.POST("/resume", h.handleResume)
	api.POST("/close/:symbol", h.handleClose)

	return &Server{addr: cfg.Addr, router: router}, nil
}

// Addr 返回监听地址。
func (s *Server) Addr() string {
	if s == nil {
		return ""
	}
	return s.addr
}

// Start 启动 HTTP 服务，直到 ctx 取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	srv := &http.Server{Addr: s.addr, Handler: s.router}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shCtx)
		return nil
	case err := <-errCh:
		return err
	}
}

type handlers struct {
	backend Backend
	journal database.Journal
	trades  database.TradeStore
}

func (h *handlers) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.backend.Status())
}

func (h *handlers) handlePositions(c *gin.Context) {
	positions := h.backend.Positions()
	out := make([]gin.H, 0, len(positions))
	for _, p := range positions {
		out = append(out, gin.H{
			"id":            p.ID,
			"symbol":        p.Symbol,
			"side":          string(p.Side),
			"quantity":      p.Quantity,
			"entry_time":    p.EntryTime,
			"entry_price":   p.EntryPrice,
			"stop_loss":     p.StopLoss,
			"take_profit":   p.TakeProfit,
			"trailing_stop": p.TrailingStop,
			"strategy":      p.Strategy,
			"status":        p.Status.String(),
		})
	}
	c.JSON(http.StatusOK, gin.H{"positions": out, "count": len(out)})
}

func (h *handlers) handleEquity(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "200"))
	var since time.Time
	if raw := strings.TrimSpace(c.Query("since")); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "since 需为 RFC3339 时间"})
			return
		}
		since = ts
	}
	snaps, err := h.backend.EquityHistory(c.Request.Context(), since, limit)
	if err != nil {
		logger.Errorf("[api] equity history failed ip=%s err=%v", c.ClientIP(), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"snapshots": snaps, "count": len(snaps)})
}

func (h *handlers) handleEvents(c *gin.Context) {
	if h.journal == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "事件流水未启用"})
		return
	}
	symbol := strings.ToUpper(strings.TrimSpace(c.Query("symbol")))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	entries, err := h.journal.ListRecent(c.Request.Context(), symbol, limit)
	if err != nil {
		logger.Errorf("[api] events failed ip=%s err=%v", c.ClientIP(), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	out := make([]gin.H, 0, len(entries))
	for _, e := range entries {
		row := gin.H{
			"id":         e.ID,
			"kind":       e.Kind,
			"symbol":     e.Symbol,
			"created_at": e.CreatedAt,
		}
		if gjson.ValidBytes(e.Payload) {
			row["payload"] = gjson.ParseBytes(e.Payload).Value()
		}
		out = append(out, row)
	}
	c.JSON(http.StatusOK, gin.H{"events": out, "count": len(out)})
}

func (h *handlers) handleTrades(c *gin.Context) {
	if h.trades == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "交易审计未启用"})
		return
	}
	symbol := strings.ToUpper(strings.TrimSpace(c.Query("symbol")))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	trades, err := h.trades.ListRecentTrades(c.Request.Context(), symbol, limit)
	if err != nil {
		logger.Errorf("[api] trades failed ip=%s err=%v", c.ClientIP(), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"trades": trades, "count": len(trades)})
}

// handleHalt 人工熔断。body 可选 {"reason": "..."}，用 gjson 宽松解析。
func (h *handlers) handleHalt(c *gin.Context) {
	reason := "manual"
	if raw, err := c.GetRawData(); err == nil && len(raw) > 0 {
		if !gjson.ValidBytes(raw) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "body 需为 JSON"})
			return
		}
		if v := strings.TrimSpace(gjson.GetBytes(raw, "reason").String()); v != "" {
			reason = v
		}
	}
	logger.Infof("[api] halt ip=%s reason=%s", c.ClientIP(), reason)
	h.backend.Halt(reason)
	c.JSON(http.StatusOK, gin.H{"status": "halted", "reason": reason})
}

func (h *handlers) handleResume(c *gin.Context) {
	logger.Infof("[api] resume ip=%s", c.ClientIP())
	h.backend.Resume()
	c.JSON(http.StatusOK, gin.H{"status": "resumed"})
}

func (h *handlers) handleClose(c *gin.Context) {
	symbol := strings.ToUpper(strings.TrimSpace(c.Param("symbol")))
	if symbol == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol 不能为空"})
		return
	}
	reason := "manual"
	if raw, err := c.GetRawData(); err == nil && len(raw) > 0 && gjson.ValidBytes(raw) {
		if v := strings.TrimSpace(gjson.GetBytes(raw, "reason").String()); v != "" {
			reason = v
		}
	}
	logger.Infof("[api] manual close ip=%s symbol=%s reason=%s", c.ClientIP(), symbol, reason)
	if err := h.backend.ClosePosition(c.Request.Context(), symbol, reason); err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "该 symbol 没有持仓"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "closed", "symbol": symbol})
}

// requestLogger 记录运维接口调用，便于追踪人工操作。
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		method := c.Request.Method
		path := c.Request.URL.Path
		client := c.ClientIP()
		c.Next()
		logger.Debugf("HTTP %s %s status=%d ip=%s dur=%s",
			method, path, c.Writer.Status(), client, time.Since(start))
	}
}
