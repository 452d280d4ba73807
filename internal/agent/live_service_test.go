package agent

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"strend/internal/gateway/exchange"
	"strend/internal/ledger"
	"strend/internal/market"
	"strend/internal/risk"
	"strend/internal/strategy/exit"
	"strend/internal/strategy/profile"
	"strend/internal/trader"
)

type stubSource struct{}

func (stubSource) FetchHistory(ctx context.Context, symbol, interval string, limit int) ([]market.Candle, error) {
	return nil, nil
}

func (stubSource) Subscribe(ctx context.Context, symbols, intervals []string, opts market.SubscribeOptions) (<-chan market.CandleEvent, error) {
	ch := make(chan market.CandleEvent)
	close(ch)
	return ch, nil
}

func (stubSource) Stats() market.SourceStats { return market.SourceStats{} }
func (stubSource) ClearLastError()           {}
func (stubSource) Close() error              { return nil }

// stubExchange 只统计报价调用次数，足以观察 actor 是否被驱动评估。
type stubExchange struct {
	priceCalls atomic.Int64
}

func (s *stubExchange) Name() string { return "stub" }

func (s *stubExchange) FetchInstrument(ctx context.Context, symbol string) (exchange.Instrument, error) {
	return exchange.Instrument{}, nil
}

func (s *stubExchange) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	return nil
}

func (s *stubExchange) OpenPosition(ctx context.Context, req exchange.OpenRequest) (*exchange.OpenResult, error) {
	return &exchange.OpenResult{}, nil
}

func (s *stubExchange) ClosePosition(ctx context.Context, req exchange.CloseRequest) error {
	return nil
}

func (s *stubExchange) CancelAllOrders(ctx context.Context, symbol string) error { return nil }

func (s *stubExchange) ListOpenPositions(ctx context.Context) ([]exchange.Position, error) {
	return nil, nil
}

func (s *stubExchange) GetBalance(ctx context.Context) (exchange.Balance, error) {
	return exchange.Balance{Total: 10000, Available: 10000}, nil
}

func (s *stubExchange) GetPrice(ctx context.Context, symbol string) (exchange.PriceQuote, error) {
	s.priceCalls.Add(1)
	return exchange.PriceQuote{Symbol: symbol, Last: 100}, nil
}

func testProfiles(t *testing.T) *profile.Registry {
	t.Helper()
	path := filepath.Join(t.TempDir(), "strategies.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
strategies:
  trend_default:
    variant: trend_following
bindings:
  default:
    strategy: trend_default
`), 0o644))
	reg, err := profile.NewRegistry(path)
	require.NoError(t, err)
	return reg
}

func TestOnCandleCloseDrivesActor(t *testing.T) {
	ex := &stubExchange{}
	actor, err := trader.NewActor("BTCUSDT", trader.Settings{Interval: "15m"}, trader.Deps{
		Exchange:   ex,
		Ledger:     ledger.New(3, nil),
		Guard:      risk.NewEquityGuard(risk.GuardConfig{MaxDrawdownPct: 0.10}),
		Sizer:      risk.Sizer{},
		Supervisor: exit.NewSupervisor(15),
		Profiles:   testProfiles(t),
		Klines:     market.NewMemoryKlineStore(),
	})
	require.NoError(t, err)
	actor.Start()
	t.Cleanup(actor.Stop)

	svc, err := NewLiveService(Config{Symbols: []string{"BTCUSDT"}, Interval: "15m"}, Deps{
		Source:   stubSource{},
		Store:    market.NewMemoryKlineStore(),
		Exchange: ex,
		Ledger:   ledger.New(3, nil),
		Guard:    risk.NewEquityGuard(risk.GuardConfig{MaxDrawdownPct: 0.10}),
		Budget:   trader.NewCycleBudget(1),
		Actors:   map[string]*trader.Actor{"BTCUSDT": actor},
	})
	require.NoError(t, err)

	open := time.Date(2026, 8, 30, 9, 45, 0, 0, time.UTC)
	svc.onCandleClose(market.CandleEvent{
		Symbol:   "btcusdt", // WS 推送小写也要命中
		Interval: "15m",
		Candle: market.Candle{
			OpenTime:  open.UnixMilli(),
			CloseTime: open.Add(15 * time.Minute).UnixMilli(),
			Open:      100, High: 101, Low: 99, Close: 100, Volume: 1,
		},
	})
	assert.Eventually(t, func() bool { return ex.priceCalls.Load() > 0 },
		2*time.Second, 10*time.Millisecond, "收盘推送应驱动对应 actor 评估")

	// 高周期 bar 只进缓存；未知 symbol 忽略。
	before := ex.priceCalls.Load()
	svc.onCandleClose(market.CandleEvent{Symbol: "BTCUSDT", Interval: "1h"})
	svc.onCandleClose(market.CandleEvent{Symbol: "SOLUSDT", Interval: "15m"})
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, before, ex.priceCalls.Load())
}
