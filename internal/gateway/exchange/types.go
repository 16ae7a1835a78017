// Package exchange 定义交易所网关的通用抽象，核心逻辑只依赖这里的接口，
// 不关心具体交易所后端。
package exchange

import "time"

// Position 交易所侧的一个持仓。Size 带符号：正=多，负=空。
type Position struct {
	Symbol        string
	Size          float64
	EntryPrice    float64
	MarkPrice     float64
	Leverage      int
	UnrealizedPnL float64
	UpdatedAt     time.Time
}

// Side 按 Size 符号返回 LONG/SHORT；Size==0 返回空串。
func (p Position) Side() string {
	if p.Size > 0 {
		return "LONG"
	}
	if p.Size < 0 {
		return "SHORT"
	}
	return ""
}

// Balance 账户余额（计价货币）。
type Balance struct {
	Asset     string
	Total     float64
	Available float64
	UpdatedAt time.Time
}

// Order 交易所侧的一张挂单。
type Order struct {
	Symbol       string
	OrderID      int64
	Side         string // BUY / SELL
	PositionSide string // LONG / SHORT
	Type         string // LIMIT / MARKET / STOP_MARKET / TAKE_PROFIT_MARKET
	Price        float64
	Quantity     float64
	Status       string
	CreatedAt    int64 // 毫秒时间戳
}

// Fill 一条成交记录。
type Fill struct {
	Symbol       string
	OrderID      int64
	Price        float64
	Quantity     float64
	Commission   float64
	Buyer        bool
	PositionSide string
	Time         int64 // 毫秒时间戳
}

// Income 一条资金流水（已实现盈亏等）。
type Income struct {
	Symbol     string
	IncomeType string
	Income     float64
	Time       int64 // 毫秒时间戳
}
