package exchange

import (
	"context"

	"github.com/liliangjiep/nofv/internal/decision"
	"github.com/liliangjiep/nofv/internal/market"
)

// Gateway 行情与账户数据面。所有调用都可能瞬时失败，调用方需容忍
// 单 symbol 的缺数据。
type Gateway interface {
	FetchKlines(ctx context.Context, symbol, interval string, limit int) ([]market.Candle, error)
	ListPositions(ctx context.Context) ([]Position, error)
	AccountBalance(ctx context.Context) (Balance, error)
	MarkPrice(ctx context.Context, symbol string) (float64, error)
	ListOpenOrders(ctx context.Context, symbol string) ([]Order, error)
	CancelOrder(ctx context.Context, symbol string, orderID int64) error
	FillHistory(ctx context.Context, symbol string, limit int) ([]Fill, error)
	IncomeHistory(ctx context.Context, symbol, incomeType string, limit int) ([]Income, error)
}

// Trader 把标准化后的决策动作翻译成交易所订单。
type Trader interface {
	Execute(ctx context.Context, act decision.Action) error
}
