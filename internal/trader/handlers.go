package trader

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"strend/internal/analysis/indicator"
	"strend/internal/gateway/database"
	"strend/internal/gateway/exchange"
	"strend/internal/gateway/notifier"
	"strend/internal/ledger"
	"strend/internal/logger"
	"strend/internal/risk"
	"strend/internal/strategy"
	"strend/internal/strategy/exit"
)

const handlerTimeout = 30 * time.Second

// onBarClose 是主管线：先出场、后入场，同一根K线内绝不对同一 symbol
// 先开新仓再平旧仓。
func (a *Actor) onBarClose(payload BarClosePayload) error {
	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	now := payload.BarClose
	if now.IsZero() {
		now = time.Now()
	}

	rep, err := a.computeReport(ctx, a.settings.Interval)
	if err != nil {
		a.journal(ctx, "indicator-error", map[string]any{"error": err.Error()})
		return err
	}
	price := a.currentPrice(ctx, rep)

	// 出场优先。
	if pos, ok := a.deps.Ledger.Get(a.symbol); ok {
		closed, err := a.superviseExit(ctx, pos, rep, price, now)
		if err != nil {
			return err
		}
		if closed {
			a.lastExit = now
		}
		// 有持仓（或刚平掉）的周期不再评估入场。
		return nil
	}

	return a.evaluateEntry(ctx, rep, price, now)
}

// superviseExit 评估并执行出场，返回是否发生了平仓。
func (a *Actor) superviseExit(ctx context.Context, pos ledger.Position, rep indicator.Report, price float64, now time.Time) (bool, error) {
	// Closing 态说明上一轮平仓指令没走完，直接重试。
	if pos.Status == ledger.StatusClosing {
		return a.executeClose(ctx, pos, "retry-close")
	}

	rules := a.rulesFor(pos)
	decision := a.deps.Supervisor.Evaluate(pos, rep, price, now, rules)

	// 移动止损收紧先落账本，即使本周期不平仓。
	if rules.TrailingExit && decision.Trailing > 0 && decision.Trailing != pos.TrailingStop {
		if _, err := a.deps.Ledger.UpdateTrailingStop(ctx, a.symbol, decision.Trailing); err != nil &&
			!errors.Is(err, ledger.ErrNotFound) {
			logger.Warnf("[trader] %s 更新移动止损失败: %v", a.symbol, err)
		}
	}

	if !decision.Close {
		return false, nil
	}
	a.journal(ctx, "exit-signal", map[string]any{
		"reason": decision.Reason,
		"price":  price,
		"side":   string(pos.Side),
	})
	if _, err := a.deps.Ledger.MarkClosing(ctx, a.symbol); err != nil {
		return false, fmt.Errorf("mark closing %s: %w", a.symbol, err)
	}
	pos.Status = ledger.StatusClosing
	return a.executeClose(ctx, pos, decision.Reason)
}

// executeClose 执行平仓序列：撤掉交易所侧保护单 → 市价对向平仓 →
// 账本移除 + 审计。任一步失败持仓停在 Closing，下个周期重试。
func (a *Actor) executeClose(ctx context.Context, pos ledger.Position, reason string) (bool, error) {
	if err := a.deps.Exchange.CancelAllOrders(ctx, a.symbol); err != nil {
		logger.Warnf("[trader] %s 撤单失败（继续平仓）: %v", a.symbol, err)
	}
	if err := a.deps.Exchange.ClosePosition(ctx, exchange.CloseRequest{
		Symbol:   a.symbol,
		Side:     pos.Side,
		Quantity: pos.Quantity,
		Reason:   reason,
	}); err != nil {
		a.journal(ctx, "close-error", map[string]any{"reason": reason, "error": err.Error()})
		return false, fmt.Errorf("close %s: %w", a.symbol, err)
	}

	exitPrice := 0.0
	if quote, err := a.deps.Exchange.GetPrice(ctx, a.symbol); err == nil {
		exitPrice = quote.Last
	}
	removed, err := a.deps.Ledger.Remove(ctx, a.symbol)
	if err != nil && !errors.Is(err, ledger.ErrNotFound) {
		logger.Warnf("[trader] %s 账本移除失败: %v", a.symbol, err)
	}
	if err == nil {
		pos = removed
	}

	a.recordTrade(ctx, pos, exitPrice, reason)
	a.journal(ctx, "close", map[string]any{
		"reason":     reason,
		"exit_price": exitPrice,
		"quantity":   pos.Quantity,
		"side":       string(pos.Side),
	})
	a.notify(notifier.StructuredMessage{
		Icon:  "📉",
		Title: a.symbol + " 平仓",
		Sections: []notifier.MessageSection{{Lines: []string{
			fmt.Sprintf("方向: %s", pos.Side),
			fmt.Sprintf("数量: %.6g", pos.Quantity),
			fmt.Sprintf("价格: %.6g", exitPrice),
			fmt.Sprintf("原因: %s", reason),
		}}},
		Footer:    pos.Strategy,
		Timestamp: time.Now(),
	})
	logger.Infof("[trader] %s closed %s qty=%f reason=%s", a.symbol, pos.Side, pos.Quantity, reason)
	return true, nil
}

// evaluateEntry 跑入场半程：冷却 → 熔断 → 策略信号 → 周期预算 →
// 头寸计算 → 下单 → 账本登记。
func (a *Actor) evaluateEntry(ctx context.Context, rep indicator.Report, price float64, now time.Time) error {
	if a.settings.CooldownSecs > 0 && !a.lastExit.IsZero() {
		if now.Sub(a.lastExit) < time.Duration(a.settings.CooldownSecs)*time.Second {
			return nil
		}
	}
	if a.deps.Guard.Halted() {
		return nil
	}
	if !rep.Usable {
		logger.Debugf("[trader] %s 指标历史不足 (%d/%d)，跳过入场", a.symbol, rep.Count, rep.MinBars)
		return nil
	}

	strat, err := a.deps.Profiles.Resolve(a.symbol)
	if err != nil {
		return fmt.Errorf("resolve strategy %s: %w", a.symbol, err)
	}

	evalCtx := strategy.EvalContext{
		Symbol: a.symbol,
		Report: rep,
		Price:  price,
		Now:    now,
	}
	if a.settings.HigherInterval != "" {
		if higher, err := a.computeReport(ctx, a.settings.HigherInterval); err == nil {
			evalCtx.Higher = &higher
		} else {
			logger.Warnf("[trader] %s 高周期指标计算失败: %v", a.symbol, err)
			empty := indicator.Report{}
			evalCtx.Higher = &empty
		}
	}

	sig := strat.Evaluate(evalCtx)
	if sig.Kind == strategy.KindNone {
		return nil
	}
	a.journal(ctx, "entry-signal", map[string]any{
		"kind":      string(sig.Kind),
		"strategy":  strat.Name(),
		"price":     price,
		"stop":      sig.StopLoss,
		"target":    sig.TakeProfit,
		"reasoning": sig.Reasoning,
	})

	if !a.deps.Budget.TryAcquire() {
		logger.Infof("[trader] %s 信号被周期开仓预算拦下", a.symbol)
		return nil
	}

	balance, err := a.deps.Exchange.GetBalance(ctx)
	if err != nil {
		return fmt.Errorf("balance: %w", err)
	}
	if verdict := a.deps.Guard.Check(balance.Total, now); verdict.Halt {
		logger.Warnf("[trader] %s 入场前权益检查触发熔断: %s", a.symbol, verdict.Reason)
		return nil
	}

	inst, err := a.fetchInstrument(ctx)
	if err != nil {
		return err
	}
	if err := a.ensureLeverage(ctx); err != nil {
		logger.Warnf("[trader] %s 设置杠杆失败: %v", a.symbol, err)
	}

	qty, err := a.deps.Sizer.Size(risk.SizeInput{
		Equity:       balance.Total,
		RiskFraction: a.settings.RiskPerTrade,
		RiskDistance: sig.RiskDistance,
		Price:        price,
		MaxNotional:  a.settings.MaxNotionalUSD,
		Instrument:   inst,
	})
	if err != nil {
		if errors.Is(err, risk.ErrNoOrder) {
			logger.Infof("[trader] %s 信号放弃: %v", a.symbol, err)
			return nil
		}
		return err
	}

	// 先在账本占坑（原子准入），下单失败再回滚。
	pos, err := a.deps.Ledger.TryOpen(ctx, a.symbol, ledger.Proposal{
		Side:       sig.Side(),
		Quantity:   qty,
		EntryPrice: price,
		StopLoss:   sig.StopLoss,
		TakeProfit: sig.TakeProfit,
		Strategy:   strat.Name(),
		EntryTime:  now,
	})
	if err != nil {
		if errors.Is(err, ledger.ErrDuplicatePosition) || errors.Is(err, ledger.ErrGlobalCap) {
			logger.Infof("[trader] %s 信号被账本拒绝: %v", a.symbol, err)
			return nil
		}
		return err
	}

	// 下单前最后一次熔断检查：同周期其他 symbol 可能刚触发 Halt。
	if a.deps.Guard.Halted() {
		if _, err := a.deps.Ledger.Remove(ctx, a.symbol); err != nil {
			logger.Warnf("[trader] %s 回滚占坑失败: %v", a.symbol, err)
		}
		logger.Warnf("[trader] %s 下单前熔断生效，放弃开仓", a.symbol)
		return nil
	}

	result, err := a.deps.Exchange.OpenPosition(ctx, exchange.OpenRequest{
		Symbol:     a.symbol,
		Side:       sig.Side(),
		Quantity:   qty,
		Type:       exchange.OrderMarket,
		Price:      price,
		StopLoss:   sig.StopLoss,
		TakeProfit: sig.TakeProfit,
		Tag:        strat.Name(),
	})
	if err != nil {
		if _, rmErr := a.deps.Ledger.Remove(ctx, a.symbol); rmErr != nil {
			logger.Warnf("[trader] %s 回滚占坑失败: %v", a.symbol, rmErr)
		}
		a.journal(ctx, "open-error", map[string]any{"error": err.Error()})
		return fmt.Errorf("open %s: %w", a.symbol, err)
	}

	a.journal(ctx, "open", map[string]any{
		"order_id":    result.OrderID,
		"side":        string(sig.Kind),
		"quantity":    result.Quantity,
		"entry_price": result.EntryPrice,
		"stop":        sig.StopLoss,
		"target":      sig.TakeProfit,
		"strategy":    strat.Name(),
	})
	a.notify(notifier.StructuredMessage{
		Icon:  "📈",
		Title: a.symbol + " 开仓",
		Sections: []notifier.MessageSection{{Lines: []string{
			fmt.Sprintf("方向: %s", sig.Kind),
			fmt.Sprintf("数量: %.6g @ %.6g", result.Quantity, result.EntryPrice),
			fmt.Sprintf("止损: %.6g  止盈: %.6g", sig.StopLoss, sig.TakeProfit),
		}}},
		Footer:    strat.Name(),
		Timestamp: time.Now(),
	})
	logger.Infof("[trader] %s opened %s qty=%f entry=%f strategy=%s id=%s",
		a.symbol, pos.Side, result.Quantity, result.EntryPrice, strat.Name(), pos.ID)
	return nil
}

// onManualClose 处理 ops API 的人工平仓。
func (a *Actor) onManualClose(payload ManualClosePayload) error {
	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	pos, ok := a.deps.Ledger.Get(a.symbol)
	if !ok {
		return ledger.ErrNotFound
	}
	reason := payload.Reason
	if reason == "" {
		reason = "manual"
	}
	if _, err := a.deps.Ledger.MarkClosing(ctx, a.symbol); err != nil {
		return err
	}
	pos.Status = ledger.StatusClosing
	closed, err := a.executeClose(ctx, pos, reason)
	if closed {
		a.lastExit = time.Now()
	}
	return err
}

// onFlatten 在熔断后强制平掉本 symbol 的持仓。
func (a *Actor) onFlatten() error {
	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	pos, ok := a.deps.Ledger.Get(a.symbol)
	if !ok {
		return nil
	}
	if _, err := a.deps.Ledger.MarkClosing(ctx, a.symbol); err != nil && !errors.Is(err, ledger.ErrNotFound) {
		return err
	}
	pos.Status = ledger.StatusClosing
	closed, err := a.executeClose(ctx, pos, "halt-flatten")
	if closed {
		a.lastExit = time.Now()
	}
	return err
}

// ---- helpers ----

func (a *Actor) computeReport(ctx context.Context, interval string) (indicator.Report, error) {
	candles, err := a.deps.Klines.Get(ctx, a.symbol, interval)
	if err != nil {
		return indicator.Report{}, err
	}
	cfg := a.settings.Indicators
	cfg.Symbol = a.symbol
	cfg.Interval = interval
	return indicator.ComputeAll(candles, cfg)
}

// currentPrice 优先用交易所现价，拉不到时退回最后收盘价。
func (a *Actor) currentPrice(ctx context.Context, rep indicator.Report) float64 {
	if quote, err := a.deps.Exchange.GetPrice(ctx, a.symbol); err == nil && quote.Last > 0 {
		return quote.Last
	}
	if n := len(rep.Frames); n > 0 {
		return rep.Frames[n-1].Close
	}
	return 0
}

// rulesFor 取持仓的出场规则集：档案当前绑定仍是开仓时的策略时，
// 用绑定的参数覆写（max_bars_held、RSI 阈值等对存量仓位生效）；
// 绑定已切到别的策略或解析失败时，回落到开仓时变体的缺省规则。
func (a *Actor) rulesFor(pos ledger.Position) exit.Rules {
	if strat, err := a.deps.Profiles.Resolve(a.symbol); err == nil && strat.Name() == pos.Strategy {
		return strat.ExitRules()
	}
	if strat, err := strategy.Build(pos.Strategy, nil); err == nil {
		return strat.ExitRules()
	}
	fallback, _ := strategy.Build("trend_following", nil)
	return fallback.ExitRules()
}

func (a *Actor) fetchInstrument(ctx context.Context) (exchange.Instrument, error) {
	if a.instrument != nil {
		return *a.instrument, nil
	}
	inst, err := a.deps.Exchange.FetchInstrument(ctx, a.symbol)
	if err != nil {
		return exchange.Instrument{}, fmt.Errorf("instrument %s: %w", a.symbol, err)
	}
	a.instrument = &inst
	return inst, nil
}

func (a *Actor) ensureLeverage(ctx context.Context) error {
	if a.leverageSet {
		return nil
	}
	if err := a.deps.Exchange.SetLeverage(ctx, a.symbol, a.settings.Leverage); err != nil {
		return err
	}
	a.leverageSet = true
	return nil
}

func (a *Actor) recordTrade(ctx context.Context, pos ledger.Position, exitPrice float64, reason string) {
	if a.deps.Trades == nil {
		return
	}
	rec := database.TradeRecord{
		PositionID: pos.ID,
		Symbol:     pos.Symbol,
		Side:       string(pos.Side),
		Quantity:   pos.Quantity,
		EntryTime:  pos.EntryTime,
		EntryPrice: pos.EntryPrice,
		ExitTime:   time.Now(),
		ExitPrice:  exitPrice,
		ExitReason: reason,
		Strategy:   pos.Strategy,
	}
	if err := a.deps.Trades.AppendTrade(ctx, rec); err != nil {
		logger.Warnf("[trader] %s 写交易审计失败: %v", a.symbol, err)
	}
}

func (a *Actor) journal(ctx context.Context, kind string, fields map[string]any) {
	if a.deps.Journal == nil {
		return
	}
	payload, _ := json.Marshal(fields)
	entry := database.JournalEntry{
		ID:        uuid.NewString(),
		Kind:      kind,
		Symbol:    a.symbol,
		Payload:   payload,
		CreatedAt: time.Now(),
	}
	if err := a.deps.Journal.Append(ctx, entry); err != nil {
		logger.Warnf("[trader] %s 写事件流水失败: %v", a.symbol, err)
	}
}

func (a *Actor) notify(msg notifier.StructuredMessage) {
	if a.deps.Notifier == nil {
		return
	}
	if err := a.deps.Notifier.SendText(msg.RenderMarkdown()); err != nil {
		logger.Warnf("[trader] %s 通知发送失败: %v", a.symbol, err)
	}
}
