package risk

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"strend/internal/gateway/exchange"
)

// ErrNoOrder 表示按风险预算算不出可执行数量，调用方直接放弃本次下单。
var ErrNoOrder = errors.New("risk: no executable quantity")

// SizeInput 是一次头寸计算所需的全部输入。
type SizeInput struct {
	Equity       float64
	RiskFraction float64
	RiskDistance float64
	Price        float64
	MaxNotional  float64
	Instrument   exchange.Instrument
}

// Sizer 把权益 × 单笔风险比例 × 止损距离换算成交易所可接受的数量。
// 全程 decimal 运算，避免浮点截断把数量顶过风险或名义上限。
type Sizer struct{}

// Size 返回可下单数量。失败关闭：任何退化输入（riskDistance≤0、
// price≤0、步长非法）或算出的数量不满足交易所下限时返回 ErrNoOrder，
// 绝不返回零/负数量让上层误用。
//
// 舍入顺序采用 min-then-round：先用精确值比较风险数量与名义数量，
// 取小者后只做一次向下截断。单次向下截断只会缩小结果，两个上限
// 依然成立；先各自截断再取 min 会引入两次截断误差，在步长边界附近
// 可能颠倒大小关系。
func (Sizer) Size(in SizeInput) (float64, error) {
	if in.RiskDistance <= 0 {
		return 0, fmt.Errorf("%w: risk_distance=%f", ErrNoOrder, in.RiskDistance)
	}
	if in.Price <= 0 {
		return 0, fmt.Errorf("%w: price=%f", ErrNoOrder, in.Price)
	}
	if in.Equity <= 0 || in.RiskFraction <= 0 {
		return 0, fmt.Errorf("%w: equity=%f risk_fraction=%f", ErrNoOrder, in.Equity, in.RiskFraction)
	}
	step := decimal.NewFromFloat(in.Instrument.QtyStep)
	if step.Sign() <= 0 {
		return 0, fmt.Errorf("%w: qty_step=%f", ErrNoOrder, in.Instrument.QtyStep)
	}

	equity := decimal.NewFromFloat(in.Equity)
	riskFrac := decimal.NewFromFloat(in.RiskFraction)
	riskDist := decimal.NewFromFloat(in.RiskDistance)
	price := decimal.NewFromFloat(in.Price)

	riskQty := equity.Mul(riskFrac).Div(riskDist)
	qty := riskQty
	if in.MaxNotional > 0 {
		notionalQty := decimal.NewFromFloat(in.MaxNotional).Div(price)
		if notionalQty.LessThan(qty) {
			qty = notionalQty
		}
	}

	// 向下对齐到数量步长（唯一一次截断）。
	qty = qty.Div(step).Floor().Mul(step)
	if qty.Sign() <= 0 {
		return 0, fmt.Errorf("%w: 截断后数量为零", ErrNoOrder)
	}
	if in.Instrument.MinQty > 0 && qty.LessThan(decimal.NewFromFloat(in.Instrument.MinQty)) {
		return 0, fmt.Errorf("%w: 数量 %s 低于交易所下限 %f", ErrNoOrder, qty, in.Instrument.MinQty)
	}
	if in.Instrument.MinNotional > 0 {
		notional := qty.Mul(price)
		if notional.LessThan(decimal.NewFromFloat(in.Instrument.MinNotional)) {
			return 0, fmt.Errorf("%w: 名义价值 %s 低于交易所下限 %f", ErrNoOrder, notional, in.Instrument.MinNotional)
		}
	}
	out, _ := qty.Float64()
	return out, nil
}
