// Package oracle 对接 OpenAI 兼容的决策模型：组装行情快照、调用
// chat completions、把模型输出解析成标准动作列表。
package oracle

import (
	"context"
	"time"

	"github.com/liliangjiep/nofv/internal/decision"
	"github.com/liliangjiep/nofv/internal/gateway/exchange"
	"github.com/liliangjiep/nofv/internal/structure"
)

// Oracle 决策入口。实现方拿到完整快照，返回一批待过滤的动作。
type Oracle interface {
	ProposeActions(ctx context.Context, snap Snapshot) ([]decision.Action, error)
}

// SymbolReport 单个币种的分析材料，按周期给出结构快照与 ATR。
type SymbolReport struct {
	Symbol    string                        `json:"symbol"`
	Price     float64                       `json:"price"`
	Structure map[string]structure.Snapshot `json:"structure"`
	ATR       map[string]float64            `json:"atr,omitempty"`
}

// PositionReport 当前持仓摘要，供模型决定加减仓或离场。
type PositionReport struct {
	Symbol         string  `json:"symbol"`
	Side           string  `json:"side"`
	EntryPrice     float64 `json:"entry_price"`
	MarkPrice      float64 `json:"mark_price"`
	UnrealizedPnL  float64 `json:"unrealized_pnl"`
	PnLPct         float64 `json:"pnl_pct"`
	PeakPnLPct     float64 `json:"peak_pnl_pct"`
	HoldingMinutes float64 `json:"holding_minutes"`
	StopLoss       float64 `json:"stop_loss,omitempty"`
	TakeProfit     float64 `json:"take_profit,omitempty"`
}

// Snapshot 一个决策周期喂给模型的全部上下文。
type Snapshot struct {
	Time         time.Time        `json:"time"`
	Mode         string           `json:"mode"` // full / manage
	Balance      exchange.Balance `json:"balance"`
	MaxPositions int              `json:"max_positions"`
	Positions    []PositionReport `json:"positions"`
	Reports      []SymbolReport   `json:"reports"`
}
