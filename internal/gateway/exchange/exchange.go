package exchange

import "context"

// Exchange 是核心依赖的撮合边界。实现负责重试与限流；
// 超时返回错误时核心按“未知状态，下轮重估”处理。
type Exchange interface {
	Name() string

	FetchInstrument(ctx context.Context, symbol string) (Instrument, error)

	SetLeverage(ctx context.Context, symbol string, leverage int) error

	OpenPosition(ctx context.Context, req OpenRequest) (*OpenResult, error)

	ClosePosition(ctx context.Context, req CloseRequest) error

	CancelAllOrders(ctx context.Context, symbol string) error

	ListOpenPositions(ctx context.Context) ([]Position, error)

	GetBalance(ctx context.Context) (Balance, error)

	GetPrice(ctx context.Context, symbol string) (PriceQuote, error)
}
