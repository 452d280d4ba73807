package exit

import (
	"time"

	"strend/internal/analysis/indicator"
	"strend/internal/gateway/exchange"
	"strend/internal/ledger"
)

// 中文说明：
// ExitSupervisor 每个周期对每笔持仓做一次出场评估。规则按固定优先级
// 执行，命中即返回：移动止损 → 固定止损 → 止盈 → 反转 → 持仓超时。
// 移动止损候选值取自最新有效 frame 的慢轨道，且只允许朝持仓有利方向
// 更新（多头只升、空头只降）——账本的 UpdateTrailingStop 再做一次钳制，
// 盘中 WS 重估不可能放松止损。

type Supervisor struct {
	// IntervalMinutes 是持仓周期的分钟数，时间出场按完整K线数折算，
	// 不直接用墙钟秒数。
	IntervalMinutes int
}

func NewSupervisor(intervalMinutes int) *Supervisor {
	if intervalMinutes <= 0 {
		intervalMinutes = 15
	}
	return &Supervisor{IntervalMinutes: intervalMinutes}
}

// Evaluate 对单笔持仓评估出场。rep 允许不可用（数据不足时跳过
// 指标类规则，固定止损/止盈/超时仍然生效）。
func (s *Supervisor) Evaluate(pos ledger.Position, rep indicator.Report, price float64, now time.Time, rules Rules) Decision {
	rules = rules.withDefaults()
	if price <= 0 || pos.Quantity <= 0 {
		return Decision{}
	}
	long := pos.Side == exchange.SideLong

	// 1. 移动止损：候选值来自当前慢轨道，先单调钳制再判突破。
	trailing := pos.TrailingStop
	if rules.TrailingExit {
		if cur, _, ok := rep.LastTwo(); ok && cur.BandSlow > 0 {
			if shouldUpdateStop(long, cur.BandSlow, trailing) {
				trailing = cur.BandSlow
			}
		}
		if trailing > 0 && breached(long, price, trailing, rules.Tolerance) {
			return Decision{Close: true, Reason: ReasonTrailingStop, Trailing: trailing}
		}
	}

	// 2. 固定止损。
	if pos.StopLoss > 0 && breached(long, price, pos.StopLoss, rules.Tolerance) {
		return Decision{Close: true, Reason: ReasonStopLoss, Trailing: trailing}
	}

	// 3. 止盈（与止损对称，方向相反）。
	if pos.TakeProfit > 0 && breached(!long, price, pos.TakeProfit, rules.Tolerance) {
		return Decision{Close: true, Reason: ReasonTakeProfit, Trailing: trailing}
	}

	// 4. 反转出场：RSI 本根穿越中线且方向与持仓相反。
	if rules.ReversalExit {
		if cur, prev, ok := rep.LastTwo(); ok {
			flippedAgainstLong := long && prev.RSI >= rules.RSIMid && cur.RSI < rules.RSIMid
			flippedAgainstShort := !long && prev.RSI <= rules.RSIMid && cur.RSI > rules.RSIMid
			if flippedAgainstLong || flippedAgainstShort {
				return Decision{Close: true, Reason: ReasonReversal, Trailing: trailing}
			}
		}
	}

	// 5. 时间出场：持仓完整K线数 ≥ 上限。
	if rules.MaxBarsHeld > 0 {
		if BarsHeld(pos.EntryTime, now, s.IntervalMinutes) >= rules.MaxBarsHeld {
			return Decision{Close: true, Reason: ReasonTimeLimit, Trailing: trailing}
		}
	}

	return Decision{Trailing: trailing}
}

// BarsHeld 折算持仓经过的完整K线数。
func BarsHeld(entry, now time.Time, intervalMinutes int) int {
	if entry.IsZero() || intervalMinutes <= 0 || !now.After(entry) {
		return 0
	}
	elapsed := int(now.Sub(entry).Seconds())
	return elapsed / (intervalMinutes * 60)
}

// shouldUpdateStop：多头止损只升不降，空头只降不升。
func shouldUpdateStop(long bool, candidate, current float64) bool {
	if candidate <= 0 {
		return false
	}
	if current <= 0 {
		return true
	}
	if long {
		return candidate > current
	}
	return candidate < current
}

// breached 判定价格是否触及保护位：adverse=true（多头视角跌破）时
// price ≤ level×(1+tol)，反向对称。
func breached(adverse bool, price, level, tol float64) bool {
	if level <= 0 {
		return false
	}
	if adverse {
		return price <= level*(1+tol)
	}
	return price >= level*(1-tol)
}
