package risk

import (
	"sync"
	"time"
)

// 中文说明：
// EquityGuard 维护账户权益的历史高水位线，回撤超阈值时熔断新开仓。
// 熔断是闩锁：高水位线绝不自动重置，恢复交易只能通过 ops API 的
// Resume（显式人工操作）或重启进程——避免账户仍在下行时反复重新武装。
// 可选叠加按 UTC 日切的当日亏损熔断。

// Verdict 是一次权益检查的结论。
type Verdict struct {
	Halt     bool
	Reason   string
	Drawdown float64 // 相对高水位线的回撤比例
	DayLoss  float64 // 相对日初锚点的亏损比例
	HighMark float64
}

// GuardConfig 配置两条熔断线。DailyLossPct=0 关闭当日亏损熔断。
type GuardConfig struct {
	MaxDrawdownPct float64
	DailyLossPct   float64
}

type EquityGuard struct {
	mu  sync.Mutex
	cfg GuardConfig

	highMark   float64
	dayAnchor  float64
	dayAnchorT time.Time

	halted     bool
	haltReason string
	haltedAt   time.Time
}

func NewEquityGuard(cfg GuardConfig) *EquityGuard {
	if cfg.MaxDrawdownPct <= 0 {
		cfg.MaxDrawdownPct = 0.10
	}
	return &EquityGuard{cfg: cfg}
}

// Check 用当前权益更新高水位线并判定是否熔断。已熔断时直接返回
// Halt——不会因为权益回升自动恢复。
func (g *EquityGuard) Check(equity float64, now time.Time) Verdict {
	g.mu.Lock()
	defer g.mu.Unlock()

	if equity > 0 {
		if equity > g.highMark {
			g.highMark = equity
		}
		g.rollDayAnchor(equity, now)
	}

	v := Verdict{HighMark: g.highMark}
	if g.highMark > 0 && equity > 0 && equity < g.highMark {
		v.Drawdown = (g.highMark - equity) / g.highMark
	}
	if g.dayAnchor > 0 && equity > 0 && equity < g.dayAnchor {
		v.DayLoss = (g.dayAnchor - equity) / g.dayAnchor
	}

	if g.halted {
		v.Halt = true
		v.Reason = g.haltReason
		return v
	}

	switch {
	case v.Drawdown >= g.cfg.MaxDrawdownPct:
		g.halted = true
		g.haltReason = "max-drawdown"
		g.haltedAt = now
	case g.cfg.DailyLossPct > 0 && v.DayLoss >= g.cfg.DailyLossPct:
		g.halted = true
		g.haltReason = "daily-loss"
		g.haltedAt = now
	}
	v.Halt = g.halted
	v.Reason = g.haltReason
	return v
}

// Halted 供下单前最后一刻的快速检查：tick 中途触发的熔断必须在任何
// 新订单落地之前被观察到。
func (g *EquityGuard) Halted() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.halted
}

// Halt 人工熔断，由 ops API 触发。
func (g *EquityGuard) Halt(reason string) {
	if reason == "" {
		reason = "manual"
	}
	g.mu.Lock()
	g.halted = true
	g.haltReason = reason
	g.haltedAt = time.Now()
	g.mu.Unlock()
}

// Resume 解除熔断，仅由 ops API 触发。高水位线保持不变——这是刻意的，
// 解除后若继续回撤会立即再次熔断。
func (g *EquityGuard) Resume() {
	g.mu.Lock()
	g.halted = false
	g.haltReason = ""
	g.mu.Unlock()
}

// Snapshot 返回当前守卫状态，供 ops API 展示。
func (g *EquityGuard) Snapshot() (highMark float64, halted bool, reason string, haltedAt time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.highMark, g.halted, g.haltReason, g.haltedAt
}

// rollDayAnchor 在 UTC 日切时重置当日锚点。
func (g *EquityGuard) rollDayAnchor(equity float64, now time.Time) {
	day := now.UTC().Truncate(24 * time.Hour)
	if g.dayAnchor == 0 || day.After(g.dayAnchorT) {
		g.dayAnchor = equity
		g.dayAnchorT = day
	}
}
