// Package strategy 把富化后的指标序列变成方向性交易信号。
// 所有变体实现同一个 Strategy 接口：Evaluate 是纯函数，只看最后两个
// 有效 frame 与当前价，不做任何 I/O，不持有可变状态。
package strategy

import (
	"time"

	"strend/internal/analysis/indicator"
	"strend/internal/gateway/exchange"
	"strend/internal/strategy/exit"
)

// Kind 是信号方向。
type Kind string

const (
	KindBuy  Kind = "buy"
	KindSell Kind = "sell"
	KindNone Kind = "none"
)

// Signal 是一次评估的产物：每周期新建、绝不持久化，落地的只有它的
// 后果（订单、持仓）。Kind ≠ None 时 RiskDistance 恒为正。
type Signal struct {
	Kind         Kind    `json:"kind"`
	RiskDistance float64 `json:"risk_distance,omitempty"`
	StopLoss     float64 `json:"stop_loss,omitempty"`
	TakeProfit   float64 `json:"take_profit,omitempty"`
	Reasoning    string  `json:"reasoning,omitempty"`
}

// None 构造带原因的空信号。
func None(reason string) Signal {
	return Signal{Kind: KindNone, Reasoning: reason}
}

// Side 把信号方向映射到持仓方向。
func (s Signal) Side() exchange.Side {
	if s.Kind == KindSell {
		return exchange.SideShort
	}
	return exchange.SideLong
}

// EvalContext 承载一次评估所需的全部输入。
type EvalContext struct {
	Symbol string
	Report indicator.Report
	Price  float64
	// Higher 是可选的更高周期指标（高周期趋势确认只会收窄入场集合）。
	Higher *indicator.Report
	Now    time.Time
}

// Strategy 是变体能力接口：入场判定 + 变体自带的出场规则集。
type Strategy interface {
	Name() string
	Evaluate(ctx EvalContext) Signal
	ExitRules() exit.Rules
}

// finishSignal 统一收口：退化风险防护（止损在入场价错误一侧时降级为
// None，绝不带未定义风险下单）并按 RR 计算止盈。
func finishSignal(kind Kind, entry, stop, rewardRisk float64, reasoning string) Signal {
	if rewardRisk <= 0 {
		rewardRisk = 1.5
	}
	var risk float64
	if kind == KindBuy {
		risk = entry - stop
	} else {
		risk = stop - entry
	}
	if risk <= 0 {
		return None("degenerate risk: stop on wrong side of entry")
	}
	tp := entry + risk*rewardRisk
	if kind == KindSell {
		tp = entry - risk*rewardRisk
	}
	if tp <= 0 {
		return None("degenerate risk: take-profit not positive")
	}
	return Signal{
		Kind:         kind,
		RiskDistance: risk,
		StopLoss:     stop,
		TakeProfit:   tp,
		Reasoning:    reasoning,
	}
}

// higherTimeframeAgrees 在提供了高周期指标时要求趋势方向一致；
// 高周期数据缺失或不可用时视为不通过——可选确认只收窄、不放宽。
func higherTimeframeAgrees(higher *indicator.Report, long bool) bool {
	if higher == nil {
		return true
	}
	cur, _, ok := higher.LastTwo()
	if !ok {
		return false
	}
	if long {
		return cur.SlowUp && cur.Close > cur.EMATrend
	}
	return !cur.SlowUp && cur.Close < cur.EMATrend
}
