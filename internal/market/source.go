package market

import "context"

type CandleEvent struct {
	Symbol   string
	Interval string
	Candle   Candle
}

type SubscribeOptions struct {
	Buffer       int
	OnConnect    func()
	OnDisconnect func(error)
}

type SourceStats struct {
	Reconnects      int
	SubscribeErrors int
	DroppedEvents   int
	LastError       string
}

// Source 是行情采集边界：REST 历史 + WS 收盘推送。
// 实现方负责重连与限流，核心管线只消费已收盘的 bar。
type Source interface {
	FetchHistory(ctx context.Context, symbol, interval string, limit int) ([]Candle, error)

	Subscribe(ctx context.Context, symbols, intervals []string, opts SubscribeOptions) (<-chan CandleEvent, error)

	Stats() SourceStats

	// ClearLastError 在重连成功后清掉缓存的 WS 错误，避免状态面板
	// 一直报旧故障。
	ClearLastError()

	Close() error
}
