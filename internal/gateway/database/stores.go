package database

import (
	"context"
	"time"
)

// PositionStore 承载账本的持久化契约：开仓/调整 upsert 一行，
// 平仓删除一行。实现必须可重复执行（幂等 upsert）。
type PositionStore interface {
	UpsertPosition(ctx context.Context, rec PositionRecord) error
	DeletePosition(ctx context.Context, symbol string) error
	ListPositions(ctx context.Context) ([]PositionRecord, error)
}

// TradeStore 追加已平仓交易的审计行。
type TradeStore interface {
	AppendTrade(ctx context.Context, rec TradeRecord) error
	ListRecentTrades(ctx context.Context, symbol string, limit int) ([]TradeRecord, error)
}

// EquityStore 追加权益快照。
type EquityStore interface {
	AppendEquitySnapshot(ctx context.Context, rec EquitySnapshotRecord) error
	ListEquitySnapshots(ctx context.Context, since time.Time, limit int) ([]EquitySnapshotRecord, error)
}

// Journal 是引擎事件流水（append-only）。
type Journal interface {
	Append(ctx context.Context, entry JournalEntry) error
	ListRecent(ctx context.Context, symbol string, limit int) ([]JournalEntry, error)
	Close() error
}
