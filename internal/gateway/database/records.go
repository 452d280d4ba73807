// Package database 定义核心与持久层之间的记录形状与存储接口。
// 具体实现见 store/gormstore（gorm+SQLite）与 store/journal（raw SQLite）。
package database

import "time"

// PositionRecord 是崩溃恢复所需的最小持仓行：每个 Open/Closing 持仓一行，
// Closed 时删除。
type PositionRecord struct {
	ID           string    `json:"id"`
	Symbol       string    `json:"symbol"`
	Side         string    `json:"side"`
	Quantity     float64   `json:"quantity"`
	EntryTime    time.Time `json:"entry_time"`
	EntryPrice   float64   `json:"entry_price"`
	StopLoss     float64   `json:"stop_loss"`
	TakeProfit   float64   `json:"take_profit"`
	TrailingStop float64   `json:"trailing_stop"`
	Strategy     string    `json:"strategy"`
	Status       int       `json:"status"`
}

// TradeRecord 是已平仓交易的审计行，只追加。
type TradeRecord struct {
	PositionID string    `json:"position_id"`
	Symbol     string    `json:"symbol"`
	Side       string    `json:"side"`
	Quantity   float64   `json:"quantity"`
	EntryTime  time.Time `json:"entry_time"`
	EntryPrice float64   `json:"entry_price"`
	ExitTime   time.Time `json:"exit_time"`
	ExitPrice  float64   `json:"exit_price"`
	ExitReason string    `json:"exit_reason"`
	Strategy   string    `json:"strategy"`
	Extra      map[string]any `json:"extra,omitempty"`
}

// EquitySnapshotRecord 记录每个周期观察到的账户权益，供 ops API 展示。
// 注意：这是遥测，不是 EquityGuard 的状态——高水位线只存在于内存。
type EquitySnapshotRecord struct {
	Equity    float64   `json:"equity"`
	Balance   float64   `json:"balance"`
	Drawdown  float64   `json:"drawdown"`
	Halted    bool      `json:"halted"`
	Timestamp time.Time `json:"timestamp"`
}

// JournalEntry 是引擎事件流水的一条记录（信号、下单、平仓、对帐、熔断）。
type JournalEntry struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Symbol    string    `json:"symbol"`
	Payload   []byte    `json:"payload"`
	CreatedAt time.Time `json:"created_at"`
}
