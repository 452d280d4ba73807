// Package trader 实现每个 symbol 一个的事件驱动 actor：单协程顺序消费
// 邮箱，串起 指标 → 出场监督 → 信号 → 风控 → 下单 → 账本 的完整管线。
// 同一 symbol 的所有状态迁移都发生在它自己的事件循环里，天然无竞态。
package trader

import (
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"strend/internal/analysis/indicator"
	"strend/internal/gateway/database"
	"strend/internal/gateway/exchange"
	"strend/internal/gateway/notifier"
	"strend/internal/ledger"
	"strend/internal/logger"
	"strend/internal/market"
	"strend/internal/risk"
	"strend/internal/strategy/exit"
	"strend/internal/strategy/profile"
)

// Settings 是 actor 的运行参数，来自配置。
type Settings struct {
	Interval       string
	HigherInterval string
	Indicators     indicator.Settings
	RiskPerTrade   float64
	MaxNotionalUSD float64
	Leverage       int
	CooldownSecs   int
	MailboxSize    int
}

func (s Settings) withDefaults() Settings {
	out := s
	if strings.TrimSpace(out.Interval) == "" {
		out.Interval = "15m"
	}
	if out.RiskPerTrade <= 0 {
		out.RiskPerTrade = 0.01
	}
	if out.Leverage <= 0 {
		out.Leverage = 1
	}
	if out.MailboxSize <= 0 {
		out.MailboxSize = 64
	}
	return out
}

// Deps 注入 actor 依赖的全部协作方。Trades/Journal/Notifier 可为 nil
// （降级为只记日志）。
type Deps struct {
	Exchange   exchange.Exchange
	Ledger     *ledger.Ledger
	Guard      *risk.EquityGuard
	Sizer      risk.Sizer
	Supervisor *exit.Supervisor
	Profiles   *profile.Registry
	Klines     market.KlineStore
	Trades     database.TradeStore
	Journal    database.Journal
	Notifier   notifier.TextNotifier
	Budget     *CycleBudget
}

// Actor 是单个 symbol 的交易执行体。
type Actor struct {
	symbol   string
	settings Settings
	deps     Deps

	msgCh  chan EventEnvelope
	stopCh chan struct{}
	wg     sync.WaitGroup

	// 以下字段只在事件循环协程内读写。
	lastExit    time.Time
	instrument  *exchange.Instrument
	leverageSet bool
}

func NewActor(symbol string, settings Settings, deps Deps) (*Actor, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return nil, fmt.Errorf("trader: symbol 不能为空")
	}
	if deps.Exchange == nil || deps.Ledger == nil || deps.Guard == nil ||
		deps.Supervisor == nil || deps.Profiles == nil || deps.Klines == nil {
		return nil, fmt.Errorf("trader: %s 缺少必要依赖", symbol)
	}
	settings = settings.withDefaults()
	return &Actor{
		symbol:   symbol,
		settings: settings,
		deps:     deps,
		msgCh:    make(chan EventEnvelope, settings.MailboxSize),
		stopCh:   make(chan struct{}),
	}, nil
}

func (a *Actor) Symbol() string { return a.symbol }

func (a *Actor) Start() {
	a.wg.Add(1)
	go a.runLoop()
}

func (a *Actor) Stop() {
	close(a.stopCh)
	a.wg.Wait()
}

// Send 非阻塞投递；邮箱满时丢弃并告警——bar 收盘事件宁可丢一拍，
// 也不能让慢 symbol 拖垮整个扇出。
func (a *Actor) Send(evt EventEnvelope) error {
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	if evt.CreatedAt.IsZero() {
		evt.CreatedAt = time.Now()
	}
	select {
	case <-a.stopCh:
		return fmt.Errorf("trader %s 已停止", a.symbol)
	default:
	}
	select {
	case a.msgCh <- evt:
		return nil
	default:
		logger.Warnf("[trader] %s 邮箱已满，丢弃事件 %s", a.symbol, evt.Type)
		return fmt.Errorf("trader %s 邮箱已满", a.symbol)
	}
}

// SendSync 投递并等待处理结果。
func (a *Actor) SendSync(evt EventEnvelope, timeout time.Duration) error {
	if evt.ReplyCh == nil {
		evt.ReplyCh = make(chan error, 1)
	}
	if err := a.Send(evt); err != nil {
		return err
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case err := <-evt.ReplyCh:
		return err
	case <-timer.C:
		return fmt.Errorf("trader %s 处理 %s 超时", a.symbol, evt.Type)
	case <-a.stopCh:
		return fmt.Errorf("trader %s 在处理期间停止", a.symbol)
	}
}

func (a *Actor) runLoop() {
	defer a.wg.Done()
	logger.Infof("[trader] %s actor started", a.symbol)
	for {
		select {
		case evt := <-a.msgCh:
			a.handleEvent(evt)
		case <-a.stopCh:
			logger.Infof("[trader] %s actor stopping", a.symbol)
			return
		}
	}
}

// handleEvent 统一兜底：panic 只打垮本次事件，不打垮 actor；
// 超过 2s 的处理记慢事件告警。
func (a *Actor) handleEvent(evt EventEnvelope) {
	var err error
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("[trader] %s panic handling %s: %v", a.symbol, evt.Type, r)
			debug.PrintStack()
			err = fmt.Errorf("panic: %v", r)
		}
		if evt.ReplyCh != nil {
			evt.ReplyCh <- err
			close(evt.ReplyCh)
		}
		if dur := time.Since(start); dur > 2*time.Second {
			logger.Warnf("[trader] %s slow event %s took %v", a.symbol, evt.Type, dur)
		}
	}()

	switch evt.Type {
	case EventBarClose:
		payload, _ := evt.Payload.(BarClosePayload)
		err = a.onBarClose(payload)
	case EventManualClose:
		payload, _ := evt.Payload.(ManualClosePayload)
		err = a.onManualClose(payload)
	case EventFlatten:
		err = a.onFlatten()
	default:
		logger.Warnf("[trader] %s 未知事件类型 %s", a.symbol, evt.Type)
	}
	if err != nil {
		logger.Errorf("[trader] %s 处理 %s 失败: %v", a.symbol, evt.Type, err)
	}
}
