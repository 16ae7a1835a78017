// Package tracker 维护每个 (symbol, side) 的交易生命周期：开仓补录、
// 峰值/回撤追踪、自适应移动止盈、自动平仓对账。
package tracker

import (
	"context"
	"fmt"
	"time"
)

// 持仓状态
const (
	StatusClosed        = "CLOSED"
	StatusClosedAuto    = "CLOSED_AUTO"
	StatusClosedNoEntry = "CLOSED_NO_ENTRY"
)

// ActiveTrade 一条未平仓记录，key 为 SYMBOL:SIDE，支持双向持仓。
type ActiveTrade struct {
	TradeID    string  `json:"trade_id"`
	Symbol     string  `json:"symbol"`
	Side       string  `json:"side"`
	EntryPrice float64 `json:"entry_price"`
	EntryTime  int64   `json:"entry_time"` // 秒
	Quantity   float64 `json:"quantity"`
	OrderType  string  `json:"order_type"`
	EntryFee   float64 `json:"entry_fee"`
	Leverage   int     `json:"leverage"`

	// 高水位追踪
	PeakPnL     float64 `json:"peak_pnl"`
	PeakPrice   float64 `json:"peak_price"`
	MaxDrawdown float64 `json:"max_drawdown"`
	TroughPrice float64 `json:"trough_price"`

	// 限价单成交后等待补设止损止盈
	PendingStopSetup bool `json:"pending_tp_sl,omitempty"`
	NeedsStopSetup   bool `json:"needs_tp_sl_setup,omitempty"`

	// 交易所回报的已实现盈亏（对账兜底时填入）
	RealizedPnL *float64 `json:"realized_pnl_from_exchange,omitempty"`
}

// Key 返回活跃交易的存储键。
func (t ActiveTrade) Key() string { return t.Symbol + ":" + t.Side }

// CompletedTrade 平仓后的完整记录。
type CompletedTrade struct {
	TradeID    string  `json:"trade_id"`
	Symbol     string  `json:"symbol"`
	Side       string  `json:"side"`
	EntryPrice float64 `json:"entry_price"`
	EntryTime  int64   `json:"entry_time"`
	EntryType  string  `json:"entry_type"`
	ExitPrice  float64 `json:"exit_price"`
	ExitTime   int64   `json:"exit_time"`
	ExitType   string  `json:"exit_type"`
	Quantity   float64 `json:"quantity"`
	Leverage   int     `json:"leverage"`

	NetPnL      float64 `json:"net_pnl"`
	NetProfit   float64 `json:"net_profit"`
	PnLPct      float64 `json:"pnl_pct"`
	PeakPnL     float64 `json:"peak_pnl"`
	MaxDrawdown float64 `json:"max_drawdown"`

	EntryFee float64 `json:"entry_fee"`
	ExitFee  float64 `json:"exit_fee"`
	TotalFee float64 `json:"total_fee"`

	HoldSeconds int64 `json:"hold_seconds"`
	HoldMinutes int64 `json:"hold_minutes"`

	Status string `json:"status"`
}

// TradeStore 活跃/已完成交易的持久化。Get 未命中返回 (nil, nil)。
type TradeStore interface {
	GetActiveTrade(ctx context.Context, symbol, side string) (*ActiveTrade, error)
	PutActiveTrade(ctx context.Context, trade ActiveTrade) error
	RemoveActiveTrade(ctx context.Context, symbol, side string) error
	ListActiveTrades(ctx context.Context) ([]ActiveTrade, error)
	AppendCompletedTrade(ctx context.Context, trade CompletedTrade) error
	ListCompletedTrades(ctx context.Context, limit int) ([]CompletedTrade, error)
}

// ATRSource 提供币种的最新 ATR，不可用时返回错误或 0。
type ATRSource interface {
	ATR(ctx context.Context, symbol string) (float64, error)
}

// ExitSignal 移动止盈判定结果。
type ExitSignal struct {
	Triggered       bool    `json:"triggered"`
	Reason          string  `json:"reason"`
	ProfitPct       float64 `json:"profit_pct"`
	PeakPct         float64 `json:"peak_pnl_pct"`
	DrawdownPct     float64 `json:"drawdown_pct"`
	ATR             float64 `json:"atr,omitempty"`
	ATRMult         float64 `json:"atr_mult,omitempty"`
	AllowedDrawdown float64 `json:"allowed_drawdown,omitempty"`
}

// ATRTier 根据峰值盈利区间选择 ATR 倍数，盈利越高倍数越小。
type ATRTier struct {
	MinProfit float64 `mapstructure:"min_profit"`
	MaxProfit float64 `mapstructure:"max_profit"`
	ATRMult   float64 `mapstructure:"atr_mult"`
}

// PctTier ATR 不可用时的备用回撤阈值（占峰值盈利的百分比）。
type PctTier struct {
	MinProfit   float64 `mapstructure:"min_profit"`
	MaxProfit   float64 `mapstructure:"max_profit"`
	DrawdownPct float64 `mapstructure:"drawdown_pct"`
}

// TrailingConfig 移动止盈参数。
type TrailingConfig struct {
	Enabled        bool      `mapstructure:"enabled"`
	ActivatePct    float64   `mapstructure:"activate_pct"`
	ATREnabled     bool      `mapstructure:"atr_enabled"`
	ATRTiers       []ATRTier `mapstructure:"atr_tiers"`
	MaxDrawdownPct float64   `mapstructure:"max_drawdown_pct"`
	PctTiers       []PctTier `mapstructure:"pct_tiers"`
}

// DefaultTrailingConfig 缺省档位表。
func DefaultTrailingConfig() TrailingConfig {
	return TrailingConfig{
		Enabled:     true,
		ActivatePct: 2.0,
		ATREnabled:  true,
		ATRTiers: []ATRTier{
			{MinProfit: 1.0, MaxProfit: 2.0, ATRMult: 1.5},
			{MinProfit: 2.0, MaxProfit: 4.0, ATRMult: 1.2},
			{MinProfit: 4.0, MaxProfit: 6.0, ATRMult: 1.0},
			{MinProfit: 6.0, MaxProfit: 10.0, ATRMult: 0.8},
			{MinProfit: 10.0, MaxProfit: 999, ATRMult: 0.6},
		},
		MaxDrawdownPct: 2.0,
		PctTiers: []PctTier{
			{MinProfit: 2.0, MaxProfit: 4.0, DrawdownPct: 50},
			{MinProfit: 4.0, MaxProfit: 6.0, DrawdownPct: 40},
			{MinProfit: 6.0, MaxProfit: 10.0, DrawdownPct: 35},
			{MinProfit: 10.0, MaxProfit: 20.0, DrawdownPct: 30},
			{MinProfit: 20.0, MaxProfit: 999, DrawdownPct: 25},
		},
	}
}

func newTradeID(symbol, side string, at time.Time) string {
	return fmt.Sprintf("%s_%s_%d", symbol, side, at.UnixMilli())
}
