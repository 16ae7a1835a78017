package tracker

import (
	"context"
	"time"

	"github.com/liliangjiep/nofv/internal/gateway/exchange"
	"github.com/liliangjiep/nofv/internal/logger"
)

// AccountHistory 对账所需的账户历史子集，由交易所网关实现。
type AccountHistory interface {
	FillHistory(ctx context.Context, symbol string, limit int) ([]exchange.Fill, error)
	IncomeHistory(ctx context.Context, symbol, incomeType string, limit int) ([]exchange.Income, error)
}

// Tracker 交易生命周期追踪器。
type Tracker struct {
	store   TradeStore
	history AccountHistory
	atr     ATRSource
	cfg     TrailingConfig

	now func() time.Time
}

func New(store TradeStore, history AccountHistory, atr ATRSource, cfg TrailingConfig) *Tracker {
	return &Tracker{
		store:   store,
		history: history,
		atr:     atr,
		cfg:     cfg,
		now:     time.Now,
	}
}

// Store 暴露底层交易账本，调度层直接读写个别字段时使用。
func (tr *Tracker) Store() TradeStore { return tr.store }

// RecordOpen 记录一笔新开仓并写入活跃交易。
func (tr *Tracker) RecordOpen(ctx context.Context, symbol, side string, entryPrice, quantity float64, orderType string, fee float64, leverage int) (ActiveTrade, error) {
	now := tr.now()
	trade := ActiveTrade{
		TradeID:     newTradeID(symbol, side, now),
		Symbol:      symbol,
		Side:        side,
		EntryPrice:  entryPrice,
		EntryTime:   now.Unix(),
		Quantity:    quantity,
		OrderType:   orderType,
		EntryFee:    fee,
		Leverage:    leverage,
		PeakPrice:   entryPrice,
		TroughPrice: entryPrice,
	}
	if err := tr.store.PutActiveTrade(ctx, trade); err != nil {
		return ActiveTrade{}, err
	}
	return trade, nil
}

// SyncPositions 把交易所持仓同步进活跃交易：
// 持仓存在但无记录（限价单成交等）时补记录并标记待设止损止盈；
// 已有记录带 pending 标记的转成 needs 标记。返回新补的记录。
func (tr *Tracker) SyncPositions(ctx context.Context, positions []exchange.Position) ([]ActiveTrade, error) {
	var added []ActiveTrade
	for _, p := range positions {
		if p.Size == 0 {
			continue
		}
		side := p.Side()
		existing, err := tr.store.GetActiveTrade(ctx, p.Symbol, side)
		if err != nil {
			return added, err
		}
		if existing != nil {
			if existing.PendingStopSetup {
				existing.PendingStopSetup = false
				existing.NeedsStopSetup = true
				if err := tr.store.PutActiveTrade(ctx, *existing); err != nil {
					return added, err
				}
			}
			continue
		}
		trade, err := tr.RecordOpen(ctx, p.Symbol, side, p.EntryPrice, absFloat(p.Size), "limit", 0, p.Leverage)
		if err != nil {
			return added, err
		}
		trade.NeedsStopSetup = true
		if err := tr.store.PutActiveTrade(ctx, trade); err != nil {
			return added, err
		}
		added = append(added, trade)
		logger.Infof("补记录活跃交易 | %s | %s | entry=%v", p.Symbol, side, p.EntryPrice)
	}
	return added, nil
}

// UpdateOnPrice 按最新价格推进峰值收益与最大回撤的高水位。
// 没有对应记录时静默返回。
func (tr *Tracker) UpdateOnPrice(ctx context.Context, symbol, side string, price float64) (*ActiveTrade, error) {
	trade, err := tr.store.GetActiveTrade(ctx, symbol, side)
	if err != nil || trade == nil {
		return nil, err
	}
	pnl := signedPnL(side, trade.EntryPrice, price, trade.Quantity)
	if pnl > trade.PeakPnL {
		trade.PeakPnL = pnl
		trade.PeakPrice = price
	}
	if dd := trade.PeakPnL - pnl; dd > trade.MaxDrawdown {
		trade.MaxDrawdown = dd
		trade.TroughPrice = price
	}
	if err := tr.store.PutActiveTrade(ctx, *trade); err != nil {
		return nil, err
	}
	return trade, nil
}

// RecordClose 平仓落账。找不到开仓记录时写一条 CLOSED_NO_ENTRY 的简化记录。
func (tr *Tracker) RecordClose(ctx context.Context, symbol, side string, exitPrice, exitQuantity float64, closeType string, fee float64) (CompletedTrade, error) {
	trade, err := tr.store.GetActiveTrade(ctx, symbol, side)
	if err != nil {
		return CompletedTrade{}, err
	}
	exitTime := tr.now().Unix()
	if trade == nil {
		completed := CompletedTrade{
			TradeID:   newTradeID(symbol, side, tr.now()),
			Symbol:    symbol,
			Side:      side,
			ExitPrice: exitPrice,
			ExitTime:  exitTime,
			ExitType:  closeType,
			Quantity:  exitQuantity,
			Leverage:  1,
			ExitFee:   fee,
			TotalFee:  fee,
			Status:    StatusClosedNoEntry,
		}
		return completed, tr.store.AppendCompletedTrade(ctx, completed)
	}

	netPnL := signedPnL(side, trade.EntryPrice, exitPrice, exitQuantity)
	completed := tr.settle(*trade, exitPrice, exitTime, closeType, netPnL, fee, StatusClosed)
	if err := tr.store.AppendCompletedTrade(ctx, completed); err != nil {
		return CompletedTrade{}, err
	}
	if err := tr.store.RemoveActiveTrade(ctx, symbol, side); err != nil {
		return CompletedTrade{}, err
	}
	return completed, nil
}

// settle 统一的平仓结算：峰值兜底、回撤复核、费率与时长。
func (tr *Tracker) settle(trade ActiveTrade, exitPrice float64, exitTime int64, closeType string, netPnL, exitFee float64, status string) CompletedTrade {
	peak := trade.PeakPnL
	if netPnL > peak {
		peak = netPnL
	}
	maxDD := trade.MaxDrawdown
	if peak > netPnL {
		if dd := peak - netPnL; dd > maxDD {
			maxDD = dd
		}
	}
	var holdSeconds int64
	if trade.EntryTime > 0 {
		holdSeconds = exitTime - trade.EntryTime
	}
	totalFee := trade.EntryFee + exitFee
	var pnlPct float64
	if v := trade.EntryPrice * trade.Quantity; v > 0 {
		pnlPct = netPnL / v * 100
	}
	return CompletedTrade{
		TradeID:     trade.TradeID,
		Symbol:      trade.Symbol,
		Side:        trade.Side,
		EntryPrice:  trade.EntryPrice,
		EntryTime:   trade.EntryTime,
		EntryType:   trade.OrderType,
		ExitPrice:   exitPrice,
		ExitTime:    exitTime,
		ExitType:    closeType,
		Quantity:    trade.Quantity,
		Leverage:    trade.Leverage,
		NetPnL:      round4(netPnL),
		NetProfit:   round4(netPnL - totalFee),
		PnLPct:      round2(pnlPct),
		PeakPnL:     round4(peak),
		MaxDrawdown: round4(maxDD),
		EntryFee:    trade.EntryFee,
		ExitFee:     exitFee,
		TotalFee:    round4(totalFee),
		HoldSeconds: holdSeconds,
		HoldMinutes: holdSeconds / 60,
		Status:      status,
	}
}

func signedPnL(side string, entry, price, quantity float64) float64 {
	if side == "SHORT" {
		return (entry - price) * quantity
	}
	return (price - entry) * quantity
}

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func round4(v float64) float64 { return roundTo(v, 1e4) }
func round2(v float64) float64 { return roundTo(v, 1e2) }

func roundTo(v, scale float64) float64 {
	if v >= 0 {
		return float64(int64(v*scale+0.5)) / scale
	}
	return float64(int64(v*scale-0.5)) / scale
}
