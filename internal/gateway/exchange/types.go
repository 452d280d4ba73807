// Package exchange defines the execution boundary the trading core depends on.
// Implementations own transport concerns (auth, rate limits, retries); the
// core treats every call here as blocking I/O with a context deadline.
package exchange

import (
	"strings"
	"time"
)

// Side is the direction of a position or order.
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// Opposite returns the closing direction.
func (s Side) Opposite() Side {
	if s == SideLong {
		return SideShort
	}
	return SideLong
}

func ParseSide(raw string) (Side, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "long", "buy":
		return SideLong, true
	case "short", "sell":
		return SideShort, true
	default:
		return "", false
	}
}

// OrderType mirrors the venue order types the core may request.
type OrderType string

const (
	OrderMarket      OrderType = "market"
	OrderLimit       OrderType = "limit"
	OrderConditional OrderType = "conditional"
)

// Position is the venue-side view of an open position.
type Position struct {
	Symbol     string    // e.g. "BTCUSDT"
	Side       Side      // long or short
	Quantity   float64   // base asset size, always positive
	EntryPrice float64   // average entry price
	MarkPrice  float64   // venue mark price at fetch time
	Leverage   float64   // applied leverage
	UnrealPnL  float64   // unrealized PnL in quote currency
	UpdatedAt  time.Time // fetch timestamp
}

// Balance is the account snapshot read fresh each cycle; never cached.
type Balance struct {
	Total     float64 // wallet balance + unrealized PnL (equity)
	Available float64 // free margin
	Used      float64 // margin in use
	Currency  string  // e.g. "USDT"
	UpdatedAt time.Time
}

// PriceQuote is the current market price for exit supervision.
type PriceQuote struct {
	Symbol    string
	Last      float64
	Mark      float64
	UpdatedAt time.Time
}

// Instrument carries the venue trading filters sizing must honor.
type Instrument struct {
	Symbol      string
	TickSize    float64 // price increment
	QtyStep     float64 // quantity increment (LOT_SIZE step)
	MinQty      float64 // smallest order quantity
	MinNotional float64 // smallest order value in quote currency
}

// OpenRequest opens a position at market, optionally installing venue-side
// protective orders in the same call.
type OpenRequest struct {
	Symbol     string
	Side       Side
	Quantity   float64
	Type       OrderType // market entries only in the current pipeline
	Price      float64   // limit price, 0 for market
	StopLoss   float64   // reduce-only STOP_MARKET trigger, 0 to skip
	TakeProfit float64   // reduce-only TAKE_PROFIT_MARKET trigger, 0 to skip
	Tag        string    // strategy tag for logging
}

// OpenResult reports the accepted entry.
type OpenResult struct {
	OrderID    string
	EntryPrice float64 // fill price when known, else request-time mark
	Quantity   float64
}

// CloseRequest closes a position at market.
type CloseRequest struct {
	Symbol   string
	Side     Side    // side of the position being closed
	Quantity float64 // 0 = close all
	Reason   string  // exit reason for logging
}
