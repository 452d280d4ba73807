// Package agent 是实盘控制循环：一个对齐调度器驱动所有 symbol 的
// actor，每个周期按固定顺序执行 权益守卫 → 对帐 → 扇出评估。
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"strend/internal/gateway/database"
	"strend/internal/gateway/exchange"
	"strend/internal/gateway/notifier"
	"strend/internal/ledger"
	"strend/internal/logger"
	"strend/internal/market"
	"strend/internal/risk"
	"strend/internal/scheduler"
	"strend/internal/trader"
)

// Config 是控制循环的运行参数。
type Config struct {
	Symbols          []string
	Interval         string
	HigherInterval   string
	OffsetSeconds    int
	RunImmediately   bool
	MaxOpensPerCycle int
	FlattenOnHalt    bool
	MaxBars          int
	WarmupNeed       int
}

// Deps 注入控制循环的协作方。
type Deps struct {
	Source   market.Source
	Store    market.KlineStore
	Exchange exchange.Exchange
	Ledger   *ledger.Ledger
	Guard    *risk.EquityGuard
	Budget   *trader.CycleBudget
	Actors   map[string]*trader.Actor
	Equity   database.EquityStore
	Journal  database.Journal
	Notifier notifier.TextNotifier
}

// LiveService 把调度器、行情管线与 actor 扇出拼成完整的实盘循环。
type LiveService struct {
	cfg  Config
	deps Deps

	interval time.Duration

	mu            sync.Mutex
	haltNotified  bool
	lastTick      time.Time
	lastEquity    float64
	startedAt     time.Time
	flattenedHalt bool
}

func NewLiveService(cfg Config, deps Deps) (*LiveService, error) {
	if len(cfg.Symbols) == 0 {
		return nil, fmt.Errorf("agent: 至少需要一个 symbol")
	}
	if deps.Source == nil || deps.Store == nil || deps.Exchange == nil ||
		deps.Ledger == nil || deps.Guard == nil || deps.Budget == nil || len(deps.Actors) == 0 {
		return nil, fmt.Errorf("agent: 缺少必要依赖")
	}
	interval, err := market.ParseInterval(cfg.Interval)
	if err != nil {
		return nil, fmt.Errorf("agent: 非法周期 %q: %w", cfg.Interval, err)
	}
	if cfg.MaxOpensPerCycle <= 0 {
		cfg.MaxOpensPerCycle = 1
	}
	if cfg.MaxBars <= 0 {
		cfg.MaxBars = 500
	}
	return &LiveService{cfg: cfg, deps: deps, interval: interval}, nil
}

// Run 阻塞运行：预热 → 恢复 → 订阅 → 对齐调度，直到 ctx 取消。
func (s *LiveService) Run(ctx context.Context) error {
	s.mu.Lock()
	s.startedAt = time.Now()
	s.mu.Unlock()

	intervals := []string{s.cfg.Interval}
	if s.cfg.HigherInterval != "" && s.cfg.HigherInterval != s.cfg.Interval {
		intervals = append(intervals, s.cfg.HigherInterval)
	}

	// 1. 历史预热：首轮评估就要有完整 warm-up。
	needs := make(map[string]int, len(intervals))
	for _, iv := range intervals {
		needs[iv] = s.cfg.WarmupNeed
	}
	market.NewWarmer(s.deps.Store, s.deps.Source, s.cfg.MaxBars).
		Warmup(ctx, s.cfg.Symbols, needs)

	// 2. 崩溃恢复：先读持久化行，再以交易所为准修正。
	if err := s.deps.Ledger.Hydrate(ctx); err != nil {
		logger.Warnf("[agent] 账本恢复失败: %v", err)
	}
	s.reconcile(ctx)

	// 3. WS 订阅：收盘 bar 先进缓存，交易周期的 bar 再转成 actor 事件，
	// 让收盘后的再评估不用等下一个对齐 tick。
	updater := market.NewWSUpdater(s.deps.Store, s.cfg.MaxBars, s.deps.Source,
		market.WithWSCallbacks(
			func() {
				s.deps.Source.ClearLastError()
				logger.Infof("[agent] 行情 WS 已连接")
			},
			func(err error) { logger.Warnf("[agent] 行情 WS 断开: %v", err) },
		),
		market.WithWSEventHandler(s.onCandleClose))
	if err := updater.Start(ctx, s.cfg.Symbols, intervals); err != nil {
		return fmt.Errorf("agent: 行情订阅失败: %w", err)
	}

	// 4. 启动 actor 并运行调度循环。
	for _, actor := range s.deps.Actors {
		actor.Start()
	}
	defer func() {
		for _, actor := range s.deps.Actors {
			actor.Stop()
		}
		_ = s.deps.Source.Close()
	}()

	sched := scheduler.NewAlignedScheduler(ctx, s.interval,
		time.Duration(s.cfg.OffsetSeconds)*time.Second)
	sched.RunImmediately = s.cfg.RunImmediately
	sched.Start(func(t scheduler.Tick) { s.tick(ctx, t) })
	return ctx.Err()
}

// tick 是每个周期的固定序列：权益守卫先行，任何熔断在扇出之前生效。
func (s *LiveService) tick(ctx context.Context, t scheduler.Tick) {
	s.mu.Lock()
	s.lastTick = t.FiredAt
	s.mu.Unlock()

	s.deps.Budget.Reset(s.cfg.MaxOpensPerCycle)

	// 1. 权益检查。拉不到余额时跳过守卫更新，沿用上一次熔断状态。
	balance, err := s.deps.Exchange.GetBalance(ctx)
	if err != nil {
		logger.Errorf("[agent] 拉取余额失败: %v", err)
	} else {
		verdict := s.deps.Guard.Check(balance.Total, t.BarClose)
		s.mu.Lock()
		s.lastEquity = balance.Total
		s.mu.Unlock()
		s.persistEquity(ctx, balance, verdict)
		if verdict.Halt {
			s.onHalt(verdict)
		}
	}

	// 2. 对帐：交易所报告永远优先于本地账本。
	s.reconcile(ctx)

	// 3. 扇出收盘事件，errgroup 等待本轮全部 symbol 处理完。
	payload := trader.BarClosePayload{Seq: uint64(t.Seq), BarClose: t.BarClose, FiredAt: t.FiredAt}
	var g errgroup.Group
	for _, actor := range s.deps.Actors {
		actor := actor
		g.Go(func() error {
			return actor.SendSync(trader.EventEnvelope{
				Type:    trader.EventBarClose,
				Symbol:  actor.Symbol(),
				Payload: payload,
			}, s.interval)
		})
	}
	if err := g.Wait(); err != nil {
		logger.Warnf("[agent] 本轮评估存在失败: %v", err)
	}
}

// onCandleClose 把 WS 推送的收盘 bar 转成对应 actor 的收盘事件。
// 只转发交易周期，高周期 bar 只进缓存；投递失败（邮箱满）直接丢弃，
// 下一个对齐 tick 会兜底评估。
func (s *LiveService) onCandleClose(ev market.CandleEvent) {
	if ev.Interval != s.cfg.Interval {
		return
	}
	actor, ok := s.deps.Actors[strings.ToUpper(strings.TrimSpace(ev.Symbol))]
	if !ok {
		return
	}
	var barClose time.Time
	if ev.Candle.CloseTime > 0 {
		barClose = time.UnixMilli(ev.Candle.CloseTime)
	}
	if err := actor.Send(trader.EventEnvelope{
		Type:    trader.EventBarClose,
		Symbol:  actor.Symbol(),
		Payload: trader.BarClosePayload{BarClose: barClose, FiredAt: time.Now()},
	}); err != nil {
		logger.Debugf("[agent] WS 收盘事件投递失败 %s: %v", actor.Symbol(), err)
	}
}

// onHalt 处理熔断进入：通知一次，按配置扇出强平。
func (s *LiveService) onHalt(verdict risk.Verdict) {
	s.mu.Lock()
	already := s.haltNotified
	s.haltNotified = true
	needFlatten := s.cfg.FlattenOnHalt && !s.flattenedHalt
	if needFlatten {
		s.flattenedHalt = true
	}
	s.mu.Unlock()

	if !already {
		logger.Errorf("[agent] 权益熔断: %s (回撤 %.2f%%, 高水位 %.2f)",
			verdict.Reason, verdict.Drawdown*100, verdict.HighMark)
		s.notify(notifier.StructuredMessage{
			Icon:  "🛑",
			Title: "权益熔断",
			Sections: []notifier.MessageSection{{Lines: []string{
				fmt.Sprintf("原因: %s", verdict.Reason),
				fmt.Sprintf("回撤: %.2f%%", verdict.Drawdown*100),
				fmt.Sprintf("高水位: %.2f", verdict.HighMark),
			}}},
			Timestamp: time.Now(),
		})
		s.journal("halt", "", map[string]any{
			"reason":    verdict.Reason,
			"drawdown":  verdict.Drawdown,
			"high_mark": verdict.HighMark,
		})
	}
	if needFlatten {
		for _, actor := range s.deps.Actors {
			if err := actor.Send(trader.EventEnvelope{
				Type:   trader.EventFlatten,
				Symbol: actor.Symbol(),
			}); err != nil {
				logger.Warnf("[agent] 强平事件投递失败 %s: %v", actor.Symbol(), err)
			}
		}
	}
}

// reconcile 把账本对齐到交易所报告的持仓集合。
func (s *LiveService) reconcile(ctx context.Context) {
	positions, err := s.deps.Exchange.ListOpenPositions(ctx)
	if err != nil {
		logger.Warnf("[agent] 对帐拉取交易所持仓失败: %v", err)
		return
	}
	onExchange := make(map[string]struct{}, len(positions))
	for _, p := range positions {
		onExchange[strings.ToUpper(p.Symbol)] = struct{}{}
	}
	drifts := s.deps.Ledger.Reconcile(ctx, onExchange)
	for _, d := range drifts {
		logger.Warnf("[agent] 对帐修正 %s: %s", d.Symbol, d.Note)
		s.journal("reconcile", d.Symbol, map[string]any{"note": d.Note, "status": d.Status.String()})
	}
}

func (s *LiveService) persistEquity(ctx context.Context, balance exchange.Balance, verdict risk.Verdict) {
	if s.deps.Equity == nil {
		return
	}
	rec := database.EquitySnapshotRecord{
		Equity:    balance.Total,
		Balance:   balance.Available,
		Drawdown:  verdict.Drawdown,
		Halted:    verdict.Halt,
		Timestamp: time.Now(),
	}
	if err := s.deps.Equity.AppendEquitySnapshot(ctx, rec); err != nil {
		logger.Warnf("[agent] 写权益快照失败: %v", err)
	}
}

func (s *LiveService) journal(kind, symbol string, fields map[string]any) {
	if s.deps.Journal == nil {
		return
	}
	payload, _ := json.Marshal(fields)
	entry := database.JournalEntry{
		ID:        uuid.NewString(),
		Kind:      kind,
		Symbol:    symbol,
		Payload:   payload,
		CreatedAt: time.Now(),
	}
	if err := s.deps.Journal.Append(context.Background(), entry); err != nil {
		logger.Warnf("[agent] 写事件流水失败: %v", err)
	}
}

func (s *LiveService) notify(msg notifier.StructuredMessage) {
	if s.deps.Notifier == nil {
		return
	}
	if err := s.deps.Notifier.SendText(msg.RenderMarkdown()); err != nil {
		logger.Warnf("[agent] 通知发送失败: %v", err)
	}
}
