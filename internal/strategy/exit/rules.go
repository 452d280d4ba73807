package exit

// Rules 是一套出场规则参数，由 Strategy 变体提供。
type Rules struct {
	// Tolerance 是止损/止盈触发的相对容差，吸收浮点比较噪声。
	Tolerance float64 `json:"tolerance,omitempty"`
	// MaxBarsHeld 是最长持仓K线数，0 表示不启用时间出场。
	MaxBarsHeld int `json:"max_bars_held,omitempty"`
	// TrailingExit 启用慢轨道移动止损（只朝持仓有利方向收紧）。
	TrailingExit bool `json:"trailing_exit,omitempty"`
	// ReversalExit 启用 RSI 中线反转出场。
	ReversalExit bool `json:"reversal_exit,omitempty"`
	// RSIMid 是反转判定的中线，默认 50。
	RSIMid float64 `json:"rsi_mid,omitempty"`
}

func (r Rules) withDefaults() Rules {
	out := r
	if out.Tolerance <= 0 {
		out.Tolerance = 0.0005
	}
	if out.RSIMid <= 0 {
		out.RSIMid = 50
	}
	return out
}

// Reason 枚举出场原因，按优先级排列。
const (
	ReasonTrailingStop = "trailing-stop"
	ReasonStopLoss     = "stop-loss"
	ReasonTakeProfit   = "take-profit"
	ReasonReversal     = "reversal-flip"
	ReasonTimeLimit    = "time-limit"
)

// Decision 是一次出场评估的结论。Close=false 时 Trailing 仍可能携带
// 需要收紧的移动止损水平。
type Decision struct {
	Close    bool
	Reason   string
	Trailing float64
}
