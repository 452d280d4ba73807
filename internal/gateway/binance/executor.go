package binance

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"

	"strend/internal/gateway/exchange"
	"strend/internal/logger"
)

// Executor 基于 go-binance 的 USDT-M 合约接口实现 exchange.Exchange。
// 开仓 = 市价入场 + 同笔安装交易所侧 reduce-only 止损/止盈触发单；
// 账户快照每次现拉，绝不缓存。
type Executor struct {
	client *futures.Client
}

var _ exchange.Exchange = (*Executor)(nil)

// NewExecutor 复用 Source 的客户端（同一份代理与超时配置）。
func NewExecutor(src *Source) (*Executor, error) {
	if src == nil || src.Client() == nil {
		return nil, fmt.Errorf("binance executor: source 未初始化")
	}
	if src.cfg.APIKey == "" || src.cfg.SecretKey == "" {
		return nil, fmt.Errorf("binance executor: 缺少 API key/secret")
	}
	return &Executor{client: src.Client()}, nil
}

func (e *Executor) Name() string { return "binance-futures" }

func (e *Executor) FetchInstrument(ctx context.Context, symbol string) (exchange.Instrument, error) {
	symbol = normalizeSymbol(symbol)
	info, err := e.client.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return exchange.Instrument{}, fmt.Errorf("exchange info: %w", err)
	}
	for _, s := range info.Symbols {
		if s.Symbol != symbol {
			continue
		}
		inst := exchange.Instrument{Symbol: symbol}
		if f := s.PriceFilter(); f != nil {
			inst.TickSize = parseFloat(f.TickSize)
		}
		if f := s.LotSizeFilter(); f != nil {
			inst.QtyStep = parseFloat(f.StepSize)
			inst.MinQty = parseFloat(f.MinQuantity)
		}
		if f := s.MinNotionalFilter(); f != nil {
			inst.MinNotional = parseFloat(f.Notional)
		}
		if inst.QtyStep <= 0 {
			return exchange.Instrument{}, fmt.Errorf("instrument %s: 缺少 LOT_SIZE 过滤器", symbol)
		}
		return inst, nil
	}
	return exchange.Instrument{}, fmt.Errorf("instrument %s: 交易所未列出", symbol)
}

func (e *Executor) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	if leverage <= 0 {
		leverage = 1
	}
	_, err := e.client.NewChangeLeverageService().
		Symbol(normalizeSymbol(symbol)).
		Leverage(leverage).
		Do(ctx)
	return err
}

func (e *Executor) OpenPosition(ctx context.Context, req exchange.OpenRequest) (*exchange.OpenResult, error) {
	symbol := normalizeSymbol(req.Symbol)
	if symbol == "" {
		return nil, fmt.Errorf("open: symbol 不能为空")
	}
	if req.Quantity <= 0 {
		return nil, fmt.Errorf("open %s: 数量必须为正", symbol)
	}
	side := futures.SideTypeBuy
	if req.Side == exchange.SideShort {
		side = futures.SideTypeSell
	}
	qty := formatQty(req.Quantity)

	order, err := e.client.NewCreateOrderService().
		Symbol(symbol).
		Side(side).
		Type(futures.OrderTypeMarket).
		Quantity(qty).
		NewOrderResponseType(futures.NewOrderRespTypeRESULT).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("open %s %s: %w", symbol, req.Side, err)
	}

	result := &exchange.OpenResult{
		OrderID:  strconv.FormatInt(order.OrderID, 10),
		Quantity: parseFloat(order.ExecutedQuantity),
	}
	if result.Quantity <= 0 {
		result.Quantity = req.Quantity
	}
	result.EntryPrice = parseFloat(order.AvgPrice)
	if result.EntryPrice <= 0 {
		result.EntryPrice = req.Price
	}

	// 交易所侧保护单：进程崩溃时止损仍然生效。
	closeSide := futures.SideTypeSell
	if req.Side == exchange.SideShort {
		closeSide = futures.SideTypeBuy
	}
	if req.StopLoss > 0 {
		if err := e.placeTrigger(ctx, symbol, closeSide, futures.OrderTypeStopMarket, req.StopLoss); err != nil {
			logger.Errorf("[binance] %s 止损触发单失败: %v", symbol, err)
		}
	}
	if req.TakeProfit > 0 {
		if err := e.placeTrigger(ctx, symbol, closeSide, futures.OrderTypeTakeProfitMarket, req.TakeProfit); err != nil {
			logger.Warnf("[binance] %s 止盈触发单失败: %v", symbol, err)
		}
	}
	return result, nil
}

func (e *Executor) placeTrigger(ctx context.Context, symbol string, side futures.SideType, kind futures.OrderType, trigger float64) error {
	_, err := e.client.NewCreateOrderService().
		Symbol(symbol).
		Side(side).
		Type(kind).
		StopPrice(formatPrice(trigger)).
		ClosePosition(true).
		WorkingType(futures.WorkingTypeMarkPrice).
		Do(ctx)
	return err
}

func (e *Executor) ClosePosition(ctx context.Context, req exchange.CloseRequest) error {
	symbol := normalizeSymbol(req.Symbol)
	if symbol == "" {
		return fmt.Errorf("close: symbol 不能为空")
	}
	qty := req.Quantity
	if qty <= 0 {
		// 0 = 全平，按交易所当前仓位数量下单。
		positions, err := e.ListOpenPositions(ctx)
		if err != nil {
			return fmt.Errorf("close %s: 查询仓位失败: %w", symbol, err)
		}
		for _, p := range positions {
			if p.Symbol == symbol && p.Side == req.Side {
				qty = p.Quantity
				break
			}
		}
		if qty <= 0 {
			// 交易所已无该仓位，视作已平。
			return nil
		}
	}
	side := futures.SideTypeSell
	if req.Side == exchange.SideShort {
		side = futures.SideTypeBuy
	}
	_, err := e.client.NewCreateOrderService().
		Symbol(symbol).
		Side(side).
		Type(futures.OrderTypeMarket).
		Quantity(formatQty(qty)).
		ReduceOnly(true).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("close %s %s: %w", symbol, req.Side, err)
	}
	return nil
}

func (e *Executor) CancelAllOrders(ctx context.Context, symbol string) error {
	return e.client.NewCancelAllOpenOrdersService().
		Symbol(normalizeSymbol(symbol)).
		Do(ctx)
}

func (e *Executor) ListOpenPositions(ctx context.Context) ([]exchange.Position, error) {
	risks, err := e.client.NewGetPositionRiskService().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("position risk: %w", err)
	}
	now := time.Now()
	out := make([]exchange.Position, 0, len(risks))
	for _, r := range risks {
		if r == nil {
			continue
		}
		amt := parseFloat(r.PositionAmt)
		if amt == 0 {
			continue
		}
		side := exchange.SideLong
		if amt < 0 {
			side = exchange.SideShort
			amt = -amt
		}
		out = append(out, exchange.Position{
			Symbol:     strings.ToUpper(r.Symbol),
			Side:       side,
			Quantity:   amt,
			EntryPrice: parseFloat(r.EntryPrice),
			MarkPrice:  parseFloat(r.MarkPrice),
			Leverage:   parseFloat(r.Leverage),
			UnrealPnL:  parseFloat(r.UnRealizedProfit),
			UpdatedAt:  now,
		})
	}
	return out, nil
}

func (e *Executor) GetBalance(ctx context.Context) (exchange.Balance, error) {
	acct, err := e.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return exchange.Balance{}, fmt.Errorf("account: %w", err)
	}
	wallet := parseFloat(acct.TotalWalletBalance)
	unreal := parseFloat(acct.TotalUnrealizedProfit)
	return exchange.Balance{
		Total:     wallet + unreal,
		Available: parseFloat(acct.AvailableBalance),
		Used:      parseFloat(acct.TotalPositionInitialMargin),
		Currency:  "USDT",
		UpdatedAt: time.Now(),
	}, nil
}

func (e *Executor) GetPrice(ctx context.Context, symbol string) (exchange.PriceQuote, error) {
	symbol = normalizeSymbol(symbol)
	premiums, err := e.client.NewPremiumIndexService().Symbol(symbol).Do(ctx)
	if err != nil {
		return exchange.PriceQuote{}, fmt.Errorf("price %s: %w", symbol, err)
	}
	if len(premiums) == 0 || premiums[0] == nil {
		return exchange.PriceQuote{}, fmt.Errorf("price %s: 空响应", symbol)
	}
	mark := parseFloat(premiums[0].MarkPrice)
	quote := exchange.PriceQuote{
		Symbol:    symbol,
		Mark:      mark,
		Last:      mark,
		UpdatedAt: time.Now(),
	}
	if prices, err := e.client.NewListPricesService().Symbol(symbol).Do(ctx); err == nil && len(prices) > 0 && prices[0] != nil {
		if last := parseFloat(prices[0].Price); last > 0 {
			quote.Last = last
		}
	}
	if quote.Last <= 0 {
		return exchange.PriceQuote{}, fmt.Errorf("price %s: 非法价格", symbol)
	}
	return quote, nil
}

func formatQty(v float64) string {
	return decimal.NewFromFloat(v).String()
}

func formatPrice(v float64) string {
	return decimal.NewFromFloat(v).String()
}
